package adapters

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"follow-harvester/internal/types"
	"follow-harvester/utils"
)

// Verdict classifies a diagnosed session
type Verdict string

const (
	VerdictOK      Verdict = "ok"
	VerdictLogin   Verdict = "login-page"
	VerdictBlocked Verdict = "blocked"
)

// requiredCookies must be present for an authenticated session
var requiredCookies = []string{"sessionid", "ds_user_id", "csrftoken"}

var loginTitleMarkers = []string{"Log in", "Login", "Sign up"}

// Diagnosis is the outcome of a session check
type Diagnosis struct {
	URL            string   `json:"url"`
	StatusCode     int      `json:"status_code"`
	Title          string   `json:"title"`
	CookieNames    []string `json:"cookie_names"`
	MissingCookies []string `json:"missing_cookies,omitempty"`
	Verdict        Verdict  `json:"verdict"`
	HTML           string   `json:"-"`
}

// DiagnoseSession fetches the profile page of probe over plain HTTP with the
// adapter cookies and classifies the response. Only transport failures return an error.
func (a *InstagramAdapter) DiagnoseSession(ctx context.Context, cookies []types.Cookie, probe string) (*Diagnosis, error) {
	d := &Diagnosis{
		URL:            a.ProfileURL(probe),
		CookieNames:    utils.CookieNames(cookies),
		MissingCookies: missingCookies(cookies),
	}

	a.SetCookies(cookies)
	html, err := a.GetPageContent(ctx, d.URL)
	d.StatusCode = http.StatusOK
	if err != nil {
		var statusErr *utils.StatusError
		if !errors.As(err, &statusErr) {
			return nil, err
		}
		d.StatusCode = statusErr.Code
	}
	d.HTML = html

	if doc, err := a.ParseHTML(html); err == nil {
		d.Title = strings.TrimSpace(doc.Find("title").First().Text())
	}

	d.Verdict = classify(d.StatusCode, d.Title)
	a.logger.Infof("Session check for %s: status %d, title %q, verdict %s", d.URL, d.StatusCode, d.Title, d.Verdict)
	return d, nil
}

func classify(status int, title string) Verdict {
	if status == http.StatusForbidden || status == http.StatusTooManyRequests {
		return VerdictBlocked
	}
	for _, marker := range loginTitleMarkers {
		if strings.Contains(title, marker) {
			return VerdictLogin
		}
	}
	return VerdictOK
}

func missingCookies(cookies []types.Cookie) []string {
	present := make(map[string]bool, len(cookies))
	for _, c := range cookies {
		if c.Value != "" {
			present[c.Name] = true
		}
	}

	var missing []string
	for _, name := range requiredCookies {
		if !present[name] {
			missing = append(missing, name)
		}
	}
	return missing
}
