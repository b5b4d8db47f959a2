package extractor

import (
	"context"
	"strings"
	"sync"
	"time"

	"follow-harvester/adapters"
	"follow-harvester/harvest"
	"follow-harvester/internal/types"
	"follow-harvester/utils"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Page is a browser tab driven by one session
type Page interface {
	harvest.Driver
	adapters.MarkupSource
	SetCookies(ctx context.Context, cookies []types.Cookie) error
	Close()
}

// Browser hands out pages
type Browser interface {
	NewPage() (Page, error)
	Close()
}

type chromeBrowser struct {
	client *utils.BrowserClient
}

func (c chromeBrowser) NewPage() (Page, error) {
	page, err := c.client.NewPage()
	if err != nil {
		return nil, err
	}
	return page, nil
}

func (c chromeBrowser) Close() {
	c.client.Close()
}

// InstagramExtractor harvests connection lists and profiles from Instagram
type InstagramExtractor struct {
	config  *types.Config
	logger  types.Logger
	adapter *adapters.InstagramAdapter
	browser Browser

	mu      sync.RWMutex
	cookies []types.Cookie
}

// NewInstagramExtractor creates a new Instagram extractor. The browser is
// launched with the first session.
func NewInstagramExtractor(config *types.Config, logger types.Logger) *InstagramExtractor {
	return NewInstagramExtractorWithBrowser(config, logger, chromeBrowser{client: utils.NewBrowserClient(config, logger)})
}

// NewInstagramExtractorWithBrowser creates an extractor on top of browser
func NewInstagramExtractorWithBrowser(config *types.Config, logger types.Logger, browser Browser) *InstagramExtractor {
	return &InstagramExtractor{
		config:  config,
		logger:  logger,
		adapter: adapters.NewInstagramAdapter(config, logger),
		browser: browser,
	}
}

// Adapter returns the site adapter
func (e *InstagramExtractor) Adapter() *adapters.InstagramAdapter {
	return e.adapter
}

// SetCookies sets the session cookies installed in every new page
func (e *InstagramExtractor) SetCookies(cookies []types.Cookie) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cookies = cookies
	e.adapter.SetCookies(cookies)
}

func (e *InstagramExtractor) sessionCookies() []types.Cookie {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.cookies
}

// Harvest runs one harvest session on its own page. It always returns a result.
func (e *InstagramExtractor) Harvest(ctx context.Context, target types.Target) *types.HarvestResult {
	logger := e.sessionLogger(target)

	if err := target.Validate(); err != nil {
		return harvest.New(e.config, logger, harvest.Deps{}).Run(ctx, target)
	}

	startTime := time.Now()
	logger.Infof("Starting %s harvest for %s at %v", target.Kind, target.Subject, startTime.Format("15:04:05.000"))

	page, err := e.browser.NewPage()
	if err != nil {
		logger.Errorf("Failed to open page: %v", err)
		return &types.HarvestResult{
			Subject:  target.Subject,
			Kind:     target.Kind,
			Status:   types.StatusStalled,
			Entities: []types.EntityRecord{},
			Elapsed:  time.Since(startTime),
			Error:    err.Error(),
			Err:      err,
		}
	}
	defer page.Close()

	e.prepare(ctx, page, logger)

	resolver := harvest.NewResolver(page, e.config, logger)
	e.adapter.RegisterStrategies(resolver, target.Kind)

	h := harvest.New(e.config, logger, harvest.Deps{
		Driver:    page,
		Resolver:  resolver,
		Extractor: e.adapter.EntityExtractor(page),
		Capture:   harvest.NewDirCapture(page, e.config.DebugDir, logger),
		EntryURL:  e.adapter.ProfileURL,
		Ready:     e.adapter.ReadySelector(),
		Cleanup:   e.adapter.CloseDialog(page),
	})
	return h.Run(ctx, target)
}

// HarvestAll runs the targets concurrently, at most MaxConcurrentSessions at a
// time. Results are returned in target order.
func (e *InstagramExtractor) HarvestAll(ctx context.Context, targets []types.Target) []*types.HarvestResult {
	results := make([]*types.HarvestResult, len(targets))

	var g errgroup.Group
	g.SetLimit(max(e.config.MaxConcurrentSessions, 1))
	for i, target := range targets {
		i, target := i, target
		g.Go(func() error {
			results[i] = e.Harvest(ctx, target)
			return nil
		})
	}
	g.Wait()

	return results
}

// FetchProfiles reads the profile of every username on one page, waiting
// RequestDelay between profiles. A failed profile is recorded with its error.
// On cancellation the profiles fetched so far are returned with ctx.Err().
func (e *InstagramExtractor) FetchProfiles(ctx context.Context, usernames []string) ([]types.Profile, error) {
	page, err := e.browser.NewPage()
	if err != nil {
		return nil, err
	}
	defer page.Close()

	e.prepare(ctx, page, e.logger)

	var profiles []types.Profile
	for i, username := range usernames {
		username = strings.TrimSpace(username)
		if username == "" {
			continue
		}

		if len(profiles) > 0 {
			if err := sleep(ctx, e.config.RequestDelay); err != nil {
				return profiles, err
			}
		}

		e.logger.Infof("Fetching profile %d/%d: %s", i+1, len(usernames), username)
		profile, err := e.adapter.FetchProfile(ctx, page, username)
		if err != nil {
			if ctx.Err() != nil {
				return profiles, ctx.Err()
			}
			e.logger.Warnf("Failed to fetch profile %s: %v", username, err)
			profiles = append(profiles, types.Profile{Username: username, Error: err.Error()})
			continue
		}
		profiles = append(profiles, *profile)
	}

	return profiles, nil
}

// Diagnose checks whether the session cookies still authenticate
func (e *InstagramExtractor) Diagnose(ctx context.Context, probe string) (*adapters.Diagnosis, error) {
	return e.adapter.DiagnoseSession(ctx, e.sessionCookies(), probe)
}

// prepare installs the session cookies and loads the site home so they apply.
// Failures are logged; the session goes on and fails later if it must.
func (e *InstagramExtractor) prepare(ctx context.Context, page Page, logger types.Logger) {
	if cookies := e.sessionCookies(); len(cookies) > 0 {
		if err := page.SetCookies(ctx, cookies); err != nil {
			logger.Warnf("Failed to install cookies: %v", err)
		}
	}

	home := e.adapter.HomeURL()
	for attempt := 0; attempt <= e.config.MaxRetries; attempt++ {
		navCtx, cancel := context.WithTimeout(ctx, e.config.NavigationTimeout)
		err := page.Navigate(navCtx, home)
		cancel()
		if err == nil {
			return
		}
		if ctx.Err() != nil {
			return
		}
		logger.Warnf("Failed to load %s (attempt %d/%d): %v", home, attempt+1, e.config.MaxRetries+1, err)
	}
}

func (e *InstagramExtractor) sessionLogger(target types.Target) types.Logger {
	fl, ok := e.logger.(logrus.FieldLogger)
	if !ok {
		return e.logger
	}
	return fl.WithFields(logrus.Fields{
		"session": uuid.NewString()[:8],
		"subject": target.Subject,
		"kind":    string(target.Kind),
	})
}

// Close cleans up resources
func (e *InstagramExtractor) Close() {
	if e.browser != nil {
		e.browser.Close()
	}
	if e.adapter != nil {
		e.adapter.Close()
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
