package adapters

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"follow-harvester/harvest"
	"follow-harvester/internal/types"

	"github.com/PuerkitoBio/goquery"
)

const (
	instagramBaseURL = "https://www.instagram.com"

	// CookieDomain is the domain session cookies are installed for
	CookieDomain = ".instagram.com"

	// readySelector appears once a profile page has rendered its shell
	readySelector = `header, main, article, [role="main"]`

	// itemSelector matches the rows of the connections list
	itemSelector = `div[style*="flex-direction"] > div`
	// anchorSelector matches profile links inside a row
	anchorSelector = `a[href^="/"]`

	// suggestionsMarker heads the recommendations shown after the last connection
	suggestionsMarker = "Suggested for you"

	maxUsernameLength = 30
)

const closeDialogJS = `(() => {
	const init = {key: 'Escape', code: 'Escape', keyCode: 27, which: 27, bubbles: true};
	const target = document.querySelector('div[role="dialog"]') || document.body;
	target.dispatchEvent(new KeyboardEvent('keydown', init));
	target.dispatchEvent(new KeyboardEvent('keyup', init));
	return true;
})()`

// reservedPaths are first path segments that never name a user
var reservedPaths = map[string]bool{
	"accounts": true, "explore": true, "direct": true, "reels": true, "reel": true,
	"p": true, "stories": true, "about": true, "legal": true, "developer": true,
	"web": true, "api": true, "challenge": true, "emails": true, "privacy": true,
}

// followLabels are button captions rendered next to every row
var followLabels = map[string]bool{
	"follow": true, "following": true, "followers": true, "follow back": true,
	"remove": true, "requested": true, "message": true, "verified": true,
}

var countPattern = regexp.MustCompile(`^[\d.,]+\s*[KkMm]?$`)

// MarkupSource returns the markup of a driver element
type MarkupSource interface {
	OuterHTML(ctx context.Context, h harvest.Handle) (string, error)
}

// InstagramAdapter knows the Instagram page structure: where the connection
// lists live, how rows are rendered and how profiles expose their attributes.
type InstagramAdapter struct {
	*BaseAdapter
	baseURL string
}

// NewInstagramAdapter creates a new Instagram adapter
func NewInstagramAdapter(config *types.Config, logger types.Logger) *InstagramAdapter {
	return &InstagramAdapter{
		BaseAdapter: NewBaseAdapter(config, logger),
		baseURL:     instagramBaseURL,
	}
}

// SetBaseURL points the adapter at another origin
func (a *InstagramAdapter) SetBaseURL(base string) {
	a.baseURL = strings.TrimRight(base, "/")
}

// GetSiteName returns the site name
func (a *InstagramAdapter) GetSiteName() string {
	return "instagram.com"
}

// HomeURL returns the site root
func (a *InstagramAdapter) HomeURL() string {
	return a.baseURL + "/"
}

// ProfileURL returns the profile page of subject
func (a *InstagramAdapter) ProfileURL(subject string) string {
	return a.baseURL + "/" + url.PathEscape(strings.TrimSpace(subject)) + "/"
}

// ReadySelector matches once a profile page has rendered
func (a *InstagramAdapter) ReadySelector() harvest.Selector {
	return harvest.CSS(readySelector)
}

// RegisterStrategies registers the ordered strategies for opening and locating
// the kind list. Exact profile links come first, text matches last.
func (a *InstagramAdapter) RegisterStrategies(r *harvest.Resolver, kind types.ListKind) {
	k := string(kind)

	r.Register(harvest.KindOpenButton,
		harvest.Strategy{Name: "href-exact", Selector: harvest.CSS(`a[href="/{subject}/` + k + `/"]`)},
		harvest.Strategy{Name: "href-contains", Selector: harvest.CSS(`a[href*="/{subject}/` + k + `"]`)},
		harvest.Strategy{Name: "href-suffix", Selector: harvest.CSS(`a[href$="/` + k + `/"]`)},
		harvest.Strategy{Name: "href-query", Selector: harvest.CSS(`a[href*="/` + k + `/?"]`)},
		harvest.Strategy{Name: "xpath-href", Selector: harvest.XPath(`//a[contains(@href, "/` + k + `")]`)},
		harvest.Strategy{Name: "xpath-text", Selector: harvest.XPath(`//a[contains(normalize-space(.), "` + k + `")]`)},
		harvest.Strategy{Name: "button-text", Selector: harvest.XPath(`//button[contains(normalize-space(.), "` + k + `")]`)},
		harvest.Strategy{Name: "role-button", Selector: harvest.CSS(`div[role="button"] a[href*="/` + k + `"]`)},
	)

	r.Register(harvest.KindListRoot,
		harvest.Strategy{Name: "dialog", Selector: harvest.CSS(`div[role="dialog"]`)},
		harvest.Strategy{Name: "presentation", Selector: harvest.CSS(`div[role="presentation"]`)},
		harvest.Strategy{Name: "list", Selector: harvest.CSS(`ul[role="list"]`)},
	)
}

// EntityExtractor reads the container markup from src on every call and parses
// the rows currently rendered in it.
func (a *InstagramAdapter) EntityExtractor(src MarkupSource) harvest.EntityExtractor {
	return harvest.ExtractorFunc(func(ctx context.Context, container harvest.Handle) (harvest.Batch, error) {
		html, err := src.OuterHTML(ctx, container)
		if err != nil {
			return harvest.Batch{}, err
		}
		return a.ParseEntities(html)
	})
}

// ParseEntities parses the rows of a rendered connections list. Everything from
// the suggestions section onward is ignored and marks the list as exhausted.
func (a *InstagramAdapter) ParseEntities(html string) (harvest.Batch, error) {
	var batch harvest.Batch
	if idx := strings.Index(html, suggestionsMarker); idx >= 0 {
		html = html[:idx]
		batch.Exhausted = true
	}

	doc, err := a.ParseHTML(html)
	if err != nil {
		return batch, fmt.Errorf("failed to parse list markup: %w", err)
	}

	var records []types.EntityRecord
	items := doc.Find(itemSelector)
	if items.Length() > 0 {
		items.Each(func(i int, item *goquery.Selection) {
			if rec, ok := a.parseItem(item, item.Find(anchorSelector).First()); ok {
				records = append(records, rec)
			}
		})
	} else {
		// Fall back to treating every profile link as a row
		doc.Find(anchorSelector).Each(func(i int, anchor *goquery.Selection) {
			if rec, ok := a.parseItem(anchor, anchor); ok {
				records = append(records, rec)
			}
		})
	}

	batch.Records = a.RemoveDuplicateEntities(records)
	return batch, nil
}

func (a *InstagramAdapter) parseItem(item, anchor *goquery.Selection) (types.EntityRecord, bool) {
	if anchor.Length() == 0 {
		return types.EntityRecord{}, false
	}
	href, _ := anchor.Attr("href")
	username, ok := UsernameFromHref(href)
	if !ok {
		return types.EntityRecord{}, false
	}

	return types.EntityRecord{
		ID:          username,
		DisplayName: displayName(item, username),
	}, true
}

// UsernameFromHref extracts the username from a relative profile link such as
// "/someone/". Nested paths, reserved paths and malformed names are rejected.
func UsernameFromHref(href string) (string, bool) {
	if i := strings.IndexAny(href, "?#"); i >= 0 {
		href = href[:i]
	}
	if !strings.HasPrefix(href, "/") {
		return "", false
	}

	username := strings.Trim(href, "/")
	switch {
	case username == "":
		return "", false
	case strings.Contains(username, "/"):
		return "", false
	case strings.ContainsAny(username, " \t\n\r"):
		return "", false
	case len(username) > maxUsernameLength:
		return "", false
	case reservedPaths[strings.ToLower(username)]:
		return "", false
	}
	return username, true
}

// displayName returns the first leaf span text in item that is neither the
// username nor a handle, count or button caption.
func displayName(item *goquery.Selection, username string) string {
	var name string
	item.Find("span").EachWithBreak(func(i int, s *goquery.Selection) bool {
		if s.Find("span").Length() > 0 {
			return true
		}
		text := strings.TrimSpace(s.Text())
		switch {
		case text == "", text == username, text == "·":
			return true
		case strings.HasPrefix(text, "@"):
			return true
		case countPattern.MatchString(text):
			return true
		case followLabels[strings.ToLower(text)]:
			return true
		}
		name = text
		return false
	})
	return name
}

// CloseDialog returns a cleanup that dismisses the open list with Escape
func (a *InstagramAdapter) CloseDialog(driver harvest.Driver) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		var ok bool
		if err := driver.Evaluate(ctx, closeDialogJS, &ok); err != nil {
			return fmt.Errorf("failed to close dialog: %w", err)
		}
		return nil
	}
}
