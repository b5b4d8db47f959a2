package adapters

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"follow-harvester/harvest"
	"follow-harvester/internal/types"

	"github.com/PuerkitoBio/goquery"
)

// Profile sources, recorded on types.Profile
const (
	SourceAPI    = "api"
	SourceLDJSON = "ld+json"
	SourceMeta   = "meta"
	SourceNone   = "none"
)

const privateMarker = "This Account is Private"

// webProfileInfoJS calls the profile endpoint from inside the page so the
// browser session cookies apply
const webProfileInfoJS = `async function(username) {
	try {
		const r = await fetch('/api/v1/users/web_profile_info/?username=' + encodeURIComponent(username), {credentials: 'same-origin'});
		if (!r.ok) return {ok: false, status: r.status};
		const j = await r.json();
		const user = j && j.data && j.data.user;
		if (!user) return {ok: false, status: r.status};
		return {ok: true, status: r.status, user: {username: user.username || '', biography: user.biography || '', is_private: !!user.is_private}};
	} catch (e) {
		return {ok: false, error: String(e)};
	}
}`

type webProfileInfo struct {
	OK     bool   `json:"ok"`
	Status int    `json:"status"`
	Error  string `json:"error"`
	User   *struct {
		Username  string `json:"username"`
		Biography string `json:"biography"`
		IsPrivate bool   `json:"is_private"`
	} `json:"user"`
}

// FetchProfile loads the profile page of username and reads its attributes,
// trying the profile API first, then the ld+json block, then the meta description.
func (a *InstagramAdapter) FetchProfile(ctx context.Context, page harvest.Driver, username string) (*types.Profile, error) {
	profileURL := a.ProfileURL(username)
	a.logger.Debugf("Fetching profile %s", profileURL)

	navCtx, cancel := context.WithTimeout(ctx, a.config.NavigationTimeout)
	err := page.Navigate(navCtx, profileURL)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("failed to load profile %s: %w", username, err)
	}

	if err := page.WaitFor(ctx, a.ReadySelector(), a.config.OpenTimeout); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		a.logger.Debugf("Profile page for %s not ready: %v", username, err)
	}

	var info webProfileInfo
	if err := page.Evaluate(ctx, webProfileInfoJS, &info, username); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		a.logger.Warnf("Profile API call for %s failed: %v", username, err)
	} else if info.OK && info.User != nil {
		name := info.User.Username
		if name == "" {
			name = username
		}
		return &types.Profile{
			Username:  name,
			Biography: info.User.Biography,
			IsPrivate: info.User.IsPrivate,
			Source:    SourceAPI,
		}, nil
	} else {
		a.logger.Debugf("Profile API unavailable for %s (status %d %s), falling back to page markup", username, info.Status, info.Error)
	}

	html, err := page.Content(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read profile page of %s: %w", username, err)
	}
	return a.ParseProfile(html, username)
}

// ParseProfile reads profile attributes from rendered profile markup
func (a *InstagramAdapter) ParseProfile(html, username string) (*types.Profile, error) {
	doc, err := a.ParseHTML(html)
	if err != nil {
		return nil, fmt.Errorf("failed to parse profile markup: %w", err)
	}

	profile := &types.Profile{
		Username:  username,
		IsPrivate: strings.Contains(doc.Find("body").Text(), privateMarker),
		Source:    SourceNone,
	}

	if ld, ok := linkedData(doc); ok {
		profile.Biography = ld.Description
		if profile.Biography == "" {
			profile.Biography = ld.Caption
		}
		if alt := strings.TrimPrefix(ld.AlternateName, "@"); alt != "" {
			profile.Username = alt
		}
		profile.Source = SourceLDJSON
		return profile, nil
	}

	if meta, err := a.ExtractAttribute(doc, `meta[name="description"]`, "content"); err == nil {
		profile.Biography = meta
		if strings.Contains(meta, privateMarker) {
			profile.IsPrivate = true
		}
		profile.Source = SourceMeta
	}

	return profile, nil
}

type profileLinkedData struct {
	Description   string `json:"description"`
	Caption       string `json:"caption"`
	AlternateName string `json:"alternateName"`
}

// linkedData returns the first ld+json object on the page. Array payloads use
// their first element.
func linkedData(doc *goquery.Document) (profileLinkedData, bool) {
	var (
		found profileLinkedData
		ok    bool
	)
	doc.Find(`script[type="application/ld+json"]`).EachWithBreak(func(i int, s *goquery.Selection) bool {
		raw := strings.TrimSpace(s.Text())
		if strings.HasPrefix(raw, "[") {
			var list []profileLinkedData
			if err := json.Unmarshal([]byte(raw), &list); err != nil || len(list) == 0 {
				return true
			}
			found, ok = list[0], true
			return false
		}
		var single profileLinkedData
		if err := json.Unmarshal([]byte(raw), &single); err != nil {
			return true
		}
		found, ok = single, true
		return false
	})
	return found, ok
}
