package utils

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"follow-harvester/internal/types"
)

// LoadCookies reads a cookie file. Both a bare JSON array of cookies and a
// browser storage state object ({"cookies": [...]}) are accepted.
func LoadCookies(path string) ([]types.Cookie, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read cookie file: %w", err)
	}
	return ParseCookieJSON(data)
}

// ParseCookieJSON decodes cookie JSON in either supported shape
func ParseCookieJSON(data []byte) ([]types.Cookie, error) {
	trimmed := strings.TrimSpace(string(data))

	var cookies []types.Cookie
	switch {
	case strings.HasPrefix(trimmed, "["):
		if err := json.Unmarshal([]byte(trimmed), &cookies); err != nil {
			return nil, fmt.Errorf("failed to parse cookie array: %w", err)
		}
	case strings.HasPrefix(trimmed, "{"):
		var state struct {
			Cookies []types.Cookie `json:"cookies"`
		}
		if err := json.Unmarshal([]byte(trimmed), &state); err != nil {
			return nil, fmt.Errorf("failed to parse storage state: %w", err)
		}
		cookies = state.Cookies
	default:
		return nil, fmt.Errorf("cookie file is neither a JSON array nor a storage state object")
	}

	valid := cookies[:0]
	for _, c := range cookies {
		if c.Name == "" {
			continue
		}
		if c.Path == "" {
			c.Path = "/"
		}
		valid = append(valid, c)
	}
	return valid, nil
}

// ParseCookieString converts a raw "name=value; name2=value2" header into cookies
// for domain. Session cookies are marked HTTP-only.
func ParseCookieString(raw, domain string) []types.Cookie {
	var cookies []types.Cookie
	for _, pair := range strings.Split(raw, ";") {
		name, value, ok := strings.Cut(strings.TrimSpace(pair), "=")
		if !ok {
			continue
		}
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		cookies = append(cookies, types.Cookie{
			Name:     name,
			Value:    strings.TrimSpace(value),
			Domain:   domain,
			Path:     "/",
			Secure:   true,
			HTTPOnly: name == "sessionid" || name == "csrftoken",
			SameSite: "None",
		})
	}
	return cookies
}

// CookieNames lists cookie names for diagnostics
func CookieNames(cookies []types.Cookie) []string {
	names := make([]string, 0, len(cookies))
	for _, c := range cookies {
		names = append(names, c.Name)
	}
	return names
}
