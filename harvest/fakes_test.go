package harvest

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"follow-harvester/internal/types"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func testConfig() *types.Config {
	config := types.DefaultConfig()
	config.MaxRetries = 1
	config.Timeout = time.Second
	config.NavigationTimeout = time.Second
	config.OpenTimeout = 10 * time.Millisecond
	config.MinPause = time.Millisecond
	config.MaxPause = 2 * time.Millisecond
	config.NoGrowthThreshold = 4
	config.MaxIterations = 50
	return config
}

// fakeDriver serves queries from a selector->handles map unless query is set
type fakeDriver struct {
	mu sync.Mutex

	matches map[string][]Handle
	query   func(sel Selector, scope Handle) ([]Handle, error)

	queries   []string
	navigated []string
	clicked   []Handle
	scrolls   int
	scrollBys int

	navErr      error
	clickErr    error
	scrollErr   error
	scrollPanic string
	content     string
	shot        []byte
}

func newFakeDriver() *fakeDriver {
	return &fakeDriver{
		matches: map[string][]Handle{
			"a.open":     {"button"},
			"div.dialog": {"dialog"},
		},
		content: "<html><body>page</body></html>",
		shot:    []byte{0x89, 'P', 'N', 'G'},
	}
}

func (d *fakeDriver) Navigate(ctx context.Context, url string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.navigated = append(d.navigated, url)
	return d.navErr
}

func (d *fakeDriver) Query(ctx context.Context, sel Selector, scope Handle) ([]Handle, error) {
	d.mu.Lock()
	d.queries = append(d.queries, sel.Value)
	query := d.query
	d.mu.Unlock()

	if query != nil {
		return query(sel, scope)
	}
	return d.matches[sel.Value], nil
}

func (d *fakeDriver) Click(ctx context.Context, h Handle) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.clicked = append(d.clicked, h)
	return d.clickErr
}

func (d *fakeDriver) Evaluate(ctx context.Context, script string, res interface{}, args ...interface{}) error {
	return nil
}

func (d *fakeDriver) WaitFor(ctx context.Context, sel Selector, timeout time.Duration) error {
	return nil
}

func (d *fakeDriver) ScrollToBottom(ctx context.Context, h Handle) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.scrolls++
	if d.scrollPanic != "" {
		panic(d.scrollPanic)
	}
	return d.scrollErr
}

func (d *fakeDriver) ScrollBy(ctx context.Context, h Handle, delta int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.scrollBys++
	return nil
}

func (d *fakeDriver) Content(ctx context.Context) (string, error) {
	if d.content == "" {
		return "", errors.New("no content")
	}
	return d.content, nil
}

func (d *fakeDriver) Screenshot(ctx context.Context) ([]byte, error) {
	return d.shot, nil
}

type countingCapture struct {
	subjects []string
}

func (c *countingCapture) Capture(ctx context.Context, subject string) {
	c.subjects = append(c.subjects, subject)
}

// scripted returns one step per call; the last step repeats once exhausted
type scripted struct {
	steps []func(ctx context.Context) (Batch, error)
	calls int
}

func (s *scripted) Extract(ctx context.Context, container Handle) (Batch, error) {
	i := s.calls
	s.calls++
	if i >= len(s.steps) {
		i = len(s.steps) - 1
	}
	return s.steps[i](ctx)
}

func ids(ids ...string) func(ctx context.Context) (Batch, error) {
	return func(ctx context.Context) (Batch, error) {
		return Batch{Records: records(ids...)}, nil
	}
}

func failing(err error) func(ctx context.Context) (Batch, error) {
	return func(ctx context.Context) (Batch, error) { return Batch{}, err }
}

func records(ids ...string) []types.EntityRecord {
	out := make([]types.EntityRecord, 0, len(ids))
	for _, id := range ids {
		out = append(out, types.EntityRecord{ID: id})
	}
	return out
}

func recordIDs(recs []types.EntityRecord) []string {
	out := make([]string, 0, len(recs))
	for _, r := range recs {
		out = append(out, r.ID)
	}
	return out
}

func newTestHarvester(config *types.Config, driver *fakeDriver, extractor EntityExtractor, capture Capturer) *Harvester {
	logger := testLogger()
	resolver := NewResolver(driver, config, logger)
	resolver.Register(KindOpenButton, Strategy{Name: "open-link", Selector: CSS("a.open")})
	resolver.Register(KindListRoot, Strategy{Name: "dialog", Selector: CSS("div.dialog")})

	return New(config, logger, Deps{
		Driver:    driver,
		Resolver:  resolver,
		Extractor: extractor,
		Capture:   capture,
		EntryURL:  func(subject string) string { return "https://example.test/" + subject + "/" },
	})
}
