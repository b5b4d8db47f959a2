package adapters

import (
	"context"
	"fmt"
	"strings"

	"follow-harvester/internal/types"
	"follow-harvester/utils"

	"github.com/PuerkitoBio/goquery"
)

// BaseAdapter provides common functionality for site adapters: HTML parsing
// helpers shared by the list and profile parsers and a rate limited HTTP client
// for requests that do not need a browser.
type BaseAdapter struct {
	config     *types.Config     // Configuration settings (timeouts, retries, user agent)
	logger     types.Logger      // Structured logging interface
	httpClient *utils.HTTPClient // HTTP client for plain page requests
}

// NewBaseAdapter creates a new base adapter with an initialized HTTP client
func NewBaseAdapter(config *types.Config, logger types.Logger) *BaseAdapter {
	return &BaseAdapter{
		config:     config,
		logger:     logger,
		httpClient: utils.NewHTTPClient(config, logger),
	}
}

// SetCookies sets the cookies sent by the HTTP client
func (b *BaseAdapter) SetCookies(cookies []types.Cookie) {
	b.httpClient.SetCookies(cookies)
}

// GetPageContent retrieves a page over plain HTTP. Non-2xx responses still
// return the body together with a *utils.StatusError.
func (b *BaseAdapter) GetPageContent(ctx context.Context, url string) (string, error) {
	body, err := b.httpClient.Get(ctx, url)
	return string(body), err
}

// ParseHTML parses HTML content into a goquery document
func (b *BaseAdapter) ParseHTML(html string) (*goquery.Document, error) {
	return goquery.NewDocumentFromReader(strings.NewReader(html))
}

// ExtractText extracts text from an element using a CSS selector
func (b *BaseAdapter) ExtractText(doc *goquery.Document, selector string) (string, error) {
	element := doc.Find(selector)
	if element.Length() == 0 {
		return "", fmt.Errorf("element not found with selector: %s", selector)
	}

	return strings.TrimSpace(element.First().Text()), nil
}

// ExtractAttribute extracts an attribute value from the first matching element
func (b *BaseAdapter) ExtractAttribute(doc *goquery.Document, selector string, attribute string) (string, error) {
	element := doc.Find(selector)
	if element.Length() == 0 {
		return "", fmt.Errorf("element not found with selector: %s", selector)
	}

	value, exists := element.First().Attr(attribute)
	if !exists {
		return "", fmt.Errorf("attribute %s not found on element %s", attribute, selector)
	}

	return value, nil
}

// RemoveDuplicateEntities keeps the first record per ID. A later duplicate only
// contributes a display name the first one was missing.
func (b *BaseAdapter) RemoveDuplicateEntities(records []types.EntityRecord) []types.EntityRecord {
	index := make(map[string]int)
	var unique []types.EntityRecord

	for _, r := range records {
		if i, ok := index[r.ID]; ok {
			if unique[i].DisplayName == "" {
				unique[i].DisplayName = r.DisplayName
			}
			continue
		}
		index[r.ID] = len(unique)
		unique = append(unique, r)
	}

	return unique
}

// Close cleans up resources
func (b *BaseAdapter) Close() {
	if b.httpClient != nil {
		b.httpClient.Close()
	}
}

// Config returns the config field of the BaseAdapter
func (b *BaseAdapter) Config() *types.Config {
	return b.config
}
