package extractor

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"follow-harvester/harvest"
	"follow-harvester/internal/types"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func testConfig(t *testing.T) *types.Config {
	config := types.DefaultConfig()
	config.MaxRetries = 1
	config.RequestDelay = time.Millisecond
	config.Timeout = time.Second
	config.NavigationTimeout = time.Second
	config.OpenTimeout = 10 * time.Millisecond
	config.MinPause = time.Millisecond
	config.MaxPause = 2 * time.Millisecond
	config.NoGrowthThreshold = 3
	config.MaxIterations = 20
	config.DebugDir = t.TempDir()
	return config
}

func row(username, name string) string {
	return `<div><a href="/` + username + `/"></a><span>` + name + `</span></div>`
}

func list(rows ...string) string {
	return `<div role="dialog"><div style="flex-direction: column">` + strings.Join(rows, "") + `</div></div>`
}

// fakePage serves a profile whose list dialog returns markup[i] on the i-th read
type fakePage struct {
	mu sync.Mutex

	matches map[string]harvest.Handle
	markup  []string
	reads   int

	navigated []string
	navErr    map[string]error
	cookies   []types.Cookie
	evalRes   interface{}
	closed    bool
}

func newFakePage(markup ...string) *fakePage {
	return &fakePage{
		matches: map[string]harvest.Handle{
			`a[href="/alice/followers/"]`: "button",
			`div[role="dialog"]`:          "dialog",
		},
		markup: markup,
		navErr: map[string]error{},
	}
}

func (f *fakePage) Navigate(ctx context.Context, url string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.navigated = append(f.navigated, url)
	return f.navErr[url]
}

func (f *fakePage) Query(ctx context.Context, sel harvest.Selector, scope harvest.Handle) ([]harvest.Handle, error) {
	if h, ok := f.matches[sel.Value]; ok {
		return []harvest.Handle{h}, nil
	}
	return nil, nil
}

func (f *fakePage) Click(ctx context.Context, h harvest.Handle) error { return nil }

func (f *fakePage) Evaluate(ctx context.Context, script string, res interface{}, args ...interface{}) error {
	if f.evalRes == nil || res == nil {
		return nil
	}
	data, err := json.Marshal(f.evalRes)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, res)
}

func (f *fakePage) WaitFor(ctx context.Context, sel harvest.Selector, timeout time.Duration) error {
	return nil
}

func (f *fakePage) ScrollToBottom(ctx context.Context, h harvest.Handle) error       { return nil }
func (f *fakePage) ScrollBy(ctx context.Context, h harvest.Handle, delta int) error { return nil }

func (f *fakePage) Content(ctx context.Context) (string, error) {
	return `<html><head><meta name="description" content="from meta"></head><body></body></html>`, nil
}

func (f *fakePage) Screenshot(ctx context.Context) ([]byte, error) { return []byte("png"), nil }

func (f *fakePage) OuterHTML(ctx context.Context, h harvest.Handle) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.markup) == 0 {
		return "", errors.New("no markup")
	}
	i := f.reads
	if i >= len(f.markup) {
		i = len(f.markup) - 1
	}
	f.reads++
	return f.markup[i], nil
}

func (f *fakePage) SetCookies(ctx context.Context, cookies []types.Cookie) error {
	f.cookies = cookies
	return nil
}

func (f *fakePage) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
}

type fakeBrowser struct {
	mu      sync.Mutex
	newPage func() *fakePage
	pages   []*fakePage
	err     error
	closed  bool
}

func (b *fakeBrowser) NewPage() (Page, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return nil, b.err
	}
	p := b.newPage()
	b.pages = append(b.pages, p)
	return p, nil
}

func (b *fakeBrowser) Close() { b.closed = true }

func TestNewInstagramExtractor(t *testing.T) {
	config := types.DefaultConfig()
	logger := logrus.New()

	extractor := NewInstagramExtractor(config, logger)
	defer extractor.Close()

	assert.NotNil(t, extractor)
	assert.Equal(t, config, extractor.config)
	assert.Equal(t, logger, extractor.logger)
	assert.NotNil(t, extractor.Adapter())
	assert.NotNil(t, extractor.browser)
}

func TestHarvest_FollowsListToTheEnd(t *testing.T) {
	browser := &fakeBrowser{newPage: func() *fakePage {
		return newFakePage(
			list(row("bob", "Bob"), row("carol", "Carol")),
			list(row("bob", "Bob"), row("carol", "Carol"), row("dave", "Dave"), `<div><span>Suggested for you</span></div>`, row("eve", "Eve")),
		)
	}}
	extractor := NewInstagramExtractorWithBrowser(testConfig(t), testLogger(), browser)
	defer extractor.Close()
	extractor.SetCookies([]types.Cookie{{Name: "sessionid", Value: "abc"}})

	result := extractor.Harvest(context.Background(), types.Target{Subject: "alice", Kind: types.Followers})

	require.NotNil(t, result)
	assert.Equal(t, types.StatusSuccess, result.Status)
	assert.Equal(t, []types.EntityRecord{
		{ID: "bob", DisplayName: "Bob"},
		{ID: "carol", DisplayName: "Carol"},
		{ID: "dave", DisplayName: "Dave"},
	}, result.Entities)
	assert.Equal(t, 2, result.Iterations)
	assert.NoError(t, result.Err)

	require.Len(t, browser.pages, 1)
	page := browser.pages[0]
	assert.Equal(t, []string{"https://www.instagram.com/", "https://www.instagram.com/alice/"}, page.navigated)
	assert.Equal(t, "sessionid", page.cookies[0].Name)
	assert.True(t, page.closed)
}

func TestHarvest_RespectsLimit(t *testing.T) {
	browser := &fakeBrowser{newPage: func() *fakePage {
		return newFakePage(list(row("a1", "A"), row("a2", "B"), row("a3", "C")))
	}}
	extractor := NewInstagramExtractorWithBrowser(testConfig(t), testLogger(), browser)
	defer extractor.Close()

	result := extractor.Harvest(context.Background(), types.Target{Subject: "alice", Kind: types.Followers, Limit: 2})

	assert.Equal(t, types.StatusSuccess, result.Status)
	assert.Len(t, result.Entities, 2)
	assert.Equal(t, 1, result.Iterations)
}

func TestHarvest_MissingEntryPointStallsAndCaptures(t *testing.T) {
	config := testConfig(t)
	browser := &fakeBrowser{newPage: func() *fakePage {
		p := newFakePage(list())
		p.matches = map[string]harvest.Handle{}
		return p
	}}
	extractor := NewInstagramExtractorWithBrowser(config, testLogger(), browser)
	defer extractor.Close()

	result := extractor.Harvest(context.Background(), types.Target{Subject: "alice", Kind: types.Following})

	assert.Equal(t, types.StatusStalled, result.Status)
	assert.Empty(t, result.Entities)
	var failure *harvest.ResolutionFailure
	require.True(t, errors.As(result.Err, &failure))
	assert.Equal(t, harvest.KindOpenButton, failure.Kind)

	entries, err := os.ReadDir(config.DebugDir)
	require.NoError(t, err)
	var exts []string
	for _, e := range entries {
		exts = append(exts, filepath.Ext(e.Name()))
	}
	assert.ElementsMatch(t, []string{".html", ".png"}, exts)
}

func TestHarvest_HomePageFailureIsNotFatal(t *testing.T) {
	browser := &fakeBrowser{newPage: func() *fakePage {
		p := newFakePage(list(row("bob", "Bob"), `<span>Suggested for you</span>`))
		p.navErr["https://www.instagram.com/"] = errors.New("net::ERR_TIMED_OUT")
		return p
	}}
	extractor := NewInstagramExtractorWithBrowser(testConfig(t), testLogger(), browser)
	defer extractor.Close()

	result := extractor.Harvest(context.Background(), types.Target{Subject: "alice", Kind: types.Followers})

	assert.Equal(t, types.StatusSuccess, result.Status)
	// Two home attempts, then the profile
	assert.Len(t, browser.pages[0].navigated, 3)
}

func TestHarvest_InvalidTargetOpensNoPage(t *testing.T) {
	browser := &fakeBrowser{newPage: func() *fakePage { return newFakePage() }}
	extractor := NewInstagramExtractorWithBrowser(testConfig(t), testLogger(), browser)
	defer extractor.Close()

	result := extractor.Harvest(context.Background(), types.Target{Subject: " ", Kind: types.Followers})

	assert.Equal(t, types.StatusStalled, result.Status)
	assert.ErrorIs(t, result.Err, types.ErrInvalidTarget)
	assert.Empty(t, browser.pages)
}

func TestHarvest_BrowserFailure(t *testing.T) {
	browser := &fakeBrowser{err: errors.New("chrome not found")}
	extractor := NewInstagramExtractorWithBrowser(testConfig(t), testLogger(), browser)
	defer extractor.Close()

	result := extractor.Harvest(context.Background(), types.Target{Subject: "alice", Kind: types.Followers})

	assert.Equal(t, types.StatusStalled, result.Status)
	assert.NotNil(t, result.Entities)
	assert.Contains(t, result.Error, "chrome not found")
}

func TestHarvestAll_KeepsTargetOrder(t *testing.T) {
	config := testConfig(t)
	config.MaxConcurrentSessions = 2
	browser := &fakeBrowser{newPage: func() *fakePage {
		p := newFakePage(list(row("bob", "Bob"), `<span>Suggested for you</span>`))
		p.matches[`a[href="/zed/followers/"]`] = "button"
		return p
	}}
	extractor := NewInstagramExtractorWithBrowser(config, testLogger(), browser)
	defer extractor.Close()

	results := extractor.HarvestAll(context.Background(), []types.Target{
		{Subject: "alice", Kind: types.Followers},
		{Subject: "", Kind: types.Followers},
		{Subject: "zed", Kind: types.Followers},
	})

	require.Len(t, results, 3)
	assert.Equal(t, "alice", results[0].Subject)
	assert.Equal(t, types.StatusSuccess, results[0].Status)
	assert.Equal(t, types.StatusStalled, results[1].Status)
	assert.Equal(t, "zed", results[2].Subject)
	assert.Equal(t, types.StatusSuccess, results[2].Status)
	assert.Len(t, browser.pages, 2)
}

func TestHarvestAll_NonPositiveConcurrencyRunsSequentially(t *testing.T) {
	config := testConfig(t)
	config.MaxConcurrentSessions = 0
	browser := &fakeBrowser{newPage: func() *fakePage {
		p := newFakePage(list(row("bob", "Bob"), `<span>Suggested for you</span>`))
		p.matches[`a[href="/alice/following/"]`] = "button"
		return p
	}}
	extractor := NewInstagramExtractorWithBrowser(config, testLogger(), browser)
	defer extractor.Close()

	done := make(chan []*types.HarvestResult, 1)
	go func() {
		done <- extractor.HarvestAll(context.Background(), []types.Target{
			{Subject: "alice", Kind: types.Followers},
			{Subject: "alice", Kind: types.Following},
		})
	}()

	select {
	case results := <-done:
		require.Len(t, results, 2)
		assert.Equal(t, types.Followers, results[0].Kind)
		assert.Equal(t, types.StatusSuccess, results[0].Status)
		assert.Equal(t, types.Following, results[1].Kind)
		assert.Equal(t, types.StatusSuccess, results[1].Status)
	case <-time.After(10 * time.Second):
		t.Fatal("HarvestAll blocked")
	}
}

func TestFetchProfiles(t *testing.T) {
	browser := &fakeBrowser{newPage: func() *fakePage {
		p := newFakePage()
		p.evalRes = map[string]interface{}{
			"ok":   true,
			"user": map[string]interface{}{"username": "", "biography": "bio", "is_private": false},
		}
		p.navErr["https://www.instagram.com/broken/"] = errors.New("net::ERR_ABORTED")
		return p
	}}
	extractor := NewInstagramExtractorWithBrowser(testConfig(t), testLogger(), browser)
	defer extractor.Close()

	profiles, err := extractor.FetchProfiles(context.Background(), []string{"alice", "", "broken", " bob "})

	require.NoError(t, err)
	require.Len(t, profiles, 3)
	assert.Equal(t, types.Profile{Username: "alice", Biography: "bio", Source: "api"}, profiles[0])
	assert.Equal(t, "broken", profiles[1].Username)
	assert.NotEmpty(t, profiles[1].Error)
	assert.Equal(t, "bob", profiles[2].Username)
	assert.Len(t, browser.pages, 1)
}

func TestFetchProfiles_Cancelled(t *testing.T) {
	browser := &fakeBrowser{newPage: func() *fakePage { return newFakePage() }}
	config := testConfig(t)
	config.RequestDelay = time.Hour
	extractor := NewInstagramExtractorWithBrowser(config, testLogger(), browser)
	defer extractor.Close()

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)

	profiles, err := extractor.FetchProfiles(ctx, []string{"alice", "bob"})

	assert.ErrorIs(t, err, context.Canceled)
	require.Len(t, profiles, 1)
	assert.Equal(t, "from meta", profiles[0].Biography)
}

func TestClose(t *testing.T) {
	browser := &fakeBrowser{}
	extractor := NewInstagramExtractorWithBrowser(testConfig(t), testLogger(), browser)

	extractor.Close()

	assert.True(t, browser.closed)
}
