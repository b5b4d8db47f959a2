package utils

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/dom"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"

	"follow-harvester/harvest"
	"follow-harvester/internal/types"
)

// findScrollableJS picks the first scrollable descendant of this, else this itself
const findScrollableJS = `
	const canScroll = (el) => {
		const style = window.getComputedStyle(el);
		return /(auto|scroll)/.test(style.overflowY + style.overflow) && el.scrollHeight > el.clientHeight;
	};
	let target = null;
	for (const el of this.querySelectorAll('div')) {
		if (canScroll(el)) { target = el; break; }
	}
	if (!target) target = this;
`

const scrollToBottomJS = `function() {` + findScrollableJS + `
	target.scrollTop = target.scrollHeight;
	return target.scrollHeight;
}`

const scrollByJS = `function() {` + findScrollableJS + `
	target.scrollBy(0, %d);
	return target.scrollTop;
}`

// BrowserClient owns one headless Chrome process shared by all pages
type BrowserClient struct {
	config *types.Config
	logger types.Logger

	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc

	startOnce sync.Once
	startErr  error
}

// NewBrowserClient creates a browser client. Chrome is launched lazily on the first page.
func NewBrowserClient(config *types.Config, logger types.Logger) *BrowserClient {
	// Suppress chromedp debug logging
	log.SetOutput(io.Discard)

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", config.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.UserAgent(config.UserAgent),
		chromedp.WindowSize(1400, 900),
	)

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(func(string, ...interface{}) {}),
	)

	return &BrowserClient{
		config:        config,
		logger:        logger,
		allocCancel:   allocCancel,
		browserCtx:    browserCtx,
		browserCancel: browserCancel,
	}
}

func (b *BrowserClient) start() error {
	b.startOnce.Do(func() {
		b.logger.Debug("Launching browser")
		b.startErr = chromedp.Run(b.browserCtx)
	})
	return b.startErr
}

// NewPage opens a new tab. Each harvest session should own its own page.
func (b *BrowserClient) NewPage() (*Page, error) {
	if err := b.start(); err != nil {
		return nil, fmt.Errorf("failed to start browser: %w", err)
	}

	ctx, cancel := chromedp.NewContext(b.browserCtx)
	if err := chromedp.Run(ctx); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to open tab: %w", err)
	}

	return &Page{
		ctx:    ctx,
		cancel: cancel,
		config: b.config,
		logger: b.logger,
	}, nil
}

// GetPageContent retrieves the rendered HTML of a page in a throwaway tab
func (b *BrowserClient) GetPageContent(ctx context.Context, url string, cookies []types.Cookie) (string, error) {
	page, err := b.NewPage()
	if err != nil {
		return "", err
	}
	defer page.Close()

	if err := page.SetCookies(ctx, cookies); err != nil {
		return "", err
	}
	if err := page.Navigate(ctx, url); err != nil {
		return "", err
	}
	html, err := page.Content(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to get page content: %w", err)
	}

	b.logger.Debugf("Successfully retrieved page content from %s (%d bytes)", url, len(html))
	return html, nil
}

// Close shuts the browser down
func (b *BrowserClient) Close() {
	b.browserCancel()
	b.allocCancel()
}

// Page is one browser tab. It implements harvest.Driver.
type Page struct {
	ctx    context.Context
	cancel context.CancelFunc
	config *types.Config
	logger types.Logger
}

var _ harvest.Driver = (*Page)(nil)

// run executes actions on the tab, bounded by timeout and by ctx
func (p *Page) run(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithTimeout(p.ctx, timeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	return chromedp.Run(runCtx, actions...)
}

// Navigate loads url in the tab
func (p *Page) Navigate(ctx context.Context, url string) error {
	if err := p.run(ctx, p.config.NavigationTimeout, chromedp.Navigate(url)); err != nil {
		return fmt.Errorf("failed to navigate to %s: %w", url, err)
	}
	return nil
}

// Query returns matching nodes without waiting for them to appear.
// Scoping applies to CSS selectors only; XPath searches the whole document.
func (p *Page) Query(ctx context.Context, sel harvest.Selector, scope harvest.Handle) ([]harvest.Handle, error) {
	opts := []chromedp.QueryOption{chromedp.AtLeast(0)}
	switch sel.By {
	case harvest.ByXPath:
		opts = append(opts, chromedp.BySearch)
	default:
		opts = append(opts, chromedp.ByQueryAll)
		if scope != nil {
			parent, err := asNode(scope)
			if err != nil {
				return nil, err
			}
			opts = append(opts, chromedp.FromNode(parent))
		}
	}

	var nodes []*cdp.Node
	if err := p.run(ctx, p.config.Timeout, chromedp.Nodes(sel.Value, &nodes, opts...)); err != nil {
		return nil, fmt.Errorf("query %s %q: %w", sel.By, sel.Value, err)
	}

	handles := make([]harvest.Handle, 0, len(nodes))
	for _, n := range nodes {
		handles = append(handles, n)
	}
	return handles, nil
}

// Click clicks the node, scrolling it into view first
func (p *Page) Click(ctx context.Context, h harvest.Handle) error {
	n, err := asNode(h)
	if err != nil {
		return err
	}
	if err := p.run(ctx, p.config.Timeout, chromedp.MouseClickNode(n)); err != nil {
		return fmt.Errorf("failed to click %s: %w", n.NodeName, err)
	}
	return nil
}

// Evaluate runs script in the page, awaiting promises
func (p *Page) Evaluate(ctx context.Context, script string, res interface{}, args ...interface{}) error {
	expr := script
	if len(args) > 0 {
		encoded := make([]string, 0, len(args))
		for _, arg := range args {
			b, err := json.Marshal(arg)
			if err != nil {
				return fmt.Errorf("failed to encode script argument: %w", err)
			}
			encoded = append(encoded, string(b))
		}
		expr = fmt.Sprintf("(%s)(%s)", script, strings.Join(encoded, ", "))
	}

	awaitPromise := func(params *runtime.EvaluateParams) *runtime.EvaluateParams {
		return params.WithAwaitPromise(true)
	}
	if err := p.run(ctx, p.config.Timeout, chromedp.Evaluate(expr, res, awaitPromise)); err != nil {
		return fmt.Errorf("failed to execute JavaScript: %w", err)
	}
	return nil
}

// WaitFor waits up to timeout for sel to become visible
func (p *Page) WaitFor(ctx context.Context, sel harvest.Selector, timeout time.Duration) error {
	by := chromedp.ByQuery
	if sel.By == harvest.ByXPath {
		by = chromedp.BySearch
	}
	if err := p.run(ctx, timeout, chromedp.WaitVisible(sel.Value, by)); err != nil {
		return fmt.Errorf("failed to wait for element %s: %w", sel.Value, err)
	}
	return nil
}

// ScrollToBottom scrolls the scrollable part of the container to its end
func (p *Page) ScrollToBottom(ctx context.Context, h harvest.Handle) error {
	return p.callOnNode(ctx, h, scrollToBottomJS, nil)
}

// ScrollBy scrolls the scrollable part of the container by delta pixels
func (p *Page) ScrollBy(ctx context.Context, h harvest.Handle, delta int) error {
	return p.callOnNode(ctx, h, fmt.Sprintf(scrollByJS, delta), nil)
}

// OuterHTML returns the markup of the node and its subtree
func (p *Page) OuterHTML(ctx context.Context, h harvest.Handle) (string, error) {
	n, err := asNode(h)
	if err != nil {
		return "", err
	}

	var html string
	err = p.run(ctx, p.config.Timeout, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		html, err = dom.GetOuterHTML().WithBackendNodeID(n.BackendNodeID).Do(ctx)
		return err
	}))
	if err != nil {
		return "", fmt.Errorf("failed to read outer HTML: %w", err)
	}
	return html, nil
}

// Content returns the markup of the whole document
func (p *Page) Content(ctx context.Context) (string, error) {
	var html string
	if err := p.run(ctx, p.config.Timeout, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return "", fmt.Errorf("failed to get page content: %w", err)
	}
	return html, nil
}

// Screenshot captures the full page as PNG
func (p *Page) Screenshot(ctx context.Context) ([]byte, error) {
	var buf []byte
	if err := p.run(ctx, p.config.Timeout, chromedp.FullScreenshot(&buf, 100)); err != nil {
		return nil, fmt.Errorf("failed to capture screenshot: %w", err)
	}
	return buf, nil
}

// SetCookies installs cookies in the browser before navigation
func (p *Page) SetCookies(ctx context.Context, cookies []types.Cookie) error {
	if len(cookies) == 0 {
		return nil
	}

	err := p.run(ctx, p.config.Timeout, chromedp.ActionFunc(func(ctx context.Context) error {
		for _, c := range cookies {
			params := network.SetCookie(c.Name, c.Value).
				WithDomain(c.Domain).
				WithPath(c.Path).
				WithSecure(c.Secure).
				WithHTTPOnly(c.HTTPOnly)
			if c.Expires > 0 {
				expires := cdp.TimeSinceEpoch(time.Unix(int64(c.Expires), 0))
				params = params.WithExpires(&expires)
			}
			if same, ok := sameSite(c.SameSite); ok {
				params = params.WithSameSite(same)
			}
			if err := params.Do(ctx); err != nil {
				return fmt.Errorf("cookie %s: %w", c.Name, err)
			}
		}
		return nil
	}))
	if err != nil {
		return fmt.Errorf("failed to set cookies: %w", err)
	}

	p.logger.Debugf("Installed %d cookies", len(cookies))
	return nil
}

// sameSite maps an exported SameSite value, in any case, to the CDP enum.
// Browser extension exports use no_restriction for None.
func sameSite(v string) (network.CookieSameSite, bool) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "strict":
		return network.CookieSameSiteStrict, true
	case "lax":
		return network.CookieSameSiteLax, true
	case "none", "no_restriction":
		return network.CookieSameSiteNone, true
	}
	return "", false
}

// Close closes the tab
func (p *Page) Close() {
	p.cancel()
}

func (p *Page) callOnNode(ctx context.Context, h harvest.Handle, fn string, res interface{}) error {
	n, err := asNode(h)
	if err != nil {
		return err
	}

	return p.run(ctx, p.config.Timeout, chromedp.ActionFunc(func(ctx context.Context) error {
		obj, err := dom.ResolveNode().WithBackendNodeID(n.BackendNodeID).Do(ctx)
		if err != nil {
			return fmt.Errorf("failed to resolve node: %w", err)
		}
		defer runtime.ReleaseObject(obj.ObjectID).Do(ctx)

		out, exc, err := runtime.CallFunctionOn(fn).
			WithObjectID(obj.ObjectID).
			WithReturnByValue(true).
			Do(ctx)
		if err != nil {
			return err
		}
		if exc != nil {
			return exc
		}
		if res != nil && out != nil && len(out.Value) > 0 {
			return json.Unmarshal(out.Value, res)
		}
		return nil
	}))
}

func asNode(h harvest.Handle) (*cdp.Node, error) {
	n, ok := h.(*cdp.Node)
	if !ok || n == nil {
		return nil, fmt.Errorf("unexpected handle type %T", h)
	}
	return n, nil
}
