package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"follow-harvester/adapters"
	"follow-harvester/internal/types"
	"follow-harvester/utils"
)

// Exit codes
const (
	exitOK            = 0
	exitNoCookies     = 2
	exitRequestFailed = 3
	exitNotLoggedIn   = 4
)

// cookieFiles are searched in order when no -cookies flag is given
var cookieFiles = []string{
	"data/www.instagram.com.cookies.json",
	"www.instagram.com.cookies.json",
	"cookies/www.instagram.com.cookies.json",
}

func main() {
	os.Exit(run())
}

func run() int {
	// Load .env file if present
	_ = godotenv.Load()

	defaults := types.DefaultConfig()

	var (
		usernameFlag = flag.String("username", "instagram", "Profile to request as a probe")
		cookiesFlag  = flag.String("cookies", "", "Cookie JSON file (default: known paths, then COOKIES env)")
		debugDir     = flag.String("debug-dir", defaults.DebugDir, "Directory for the fetched HTML")
		render       = flag.Bool("render", false, "Also render the profile in the browser and save its markup")
		timeout      = flag.Duration("timeout", 30*time.Second, "Request timeout")
		verbose      = flag.Bool("verbose", false, "Enable verbose logging")
	)
	flag.Parse()

	// Setup logging
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05.000",
	})
	if levelStr := os.Getenv("LOG_LEVEL"); levelStr != "" {
		if level, err := logrus.ParseLevel(levelStr); err == nil {
			logger.SetLevel(level)
		}
	} else if *verbose {
		logger.SetLevel(logrus.DebugLevel)
	}

	cookies, source := findCookies(*cookiesFlag, logger)
	if len(cookies) == 0 {
		logger.Error("No cookies found; pass -cookies, place a cookie file in a known path or set COOKIES")
		return exitNoCookies
	}
	logger.Infof("Using %d cookies from %s", len(cookies), source)

	config := defaults
	config.Timeout = *timeout
	config.MaxRetries = 0
	config.DebugDir = *debugDir

	adapter := adapters.NewInstagramAdapter(config, logger)
	defer adapter.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*config.Timeout)
	defer cancel()

	d, err := adapter.DiagnoseSession(ctx, cookies, *usernameFlag)
	if err != nil {
		logger.Errorf("Request failed: %v", err)
		return exitRequestFailed
	}

	for _, name := range d.MissingCookies {
		logger.Warnf("Cookie %s is missing", name)
	}
	logger.Infof("HTTP status code: %d", d.StatusCode)
	logger.Infof("Page title: %q", d.Title)

	if err := utils.WriteJSON(filepath.Join(config.DebugDir, "debug_diagnose.json"), d); err != nil {
		logger.Warnf("Failed to save diagnosis: %v", err)
	}
	path := filepath.Join(config.DebugDir, "debug_diagnose.html")
	if err := os.WriteFile(path, []byte(d.HTML), 0644); err != nil {
		logger.Warnf("Failed to save %s: %v", path, err)
	} else {
		logger.Infof("Saved %s (size: %d bytes)", path, len(d.HTML))
	}

	if *render {
		saveRendered(ctx, config, logger, adapter.ProfileURL(*usernameFlag), cookies)
	}

	if d.Verdict != adapters.VerdictOK {
		logger.Errorf("Response looks like a %s page; the session is not usable", d.Verdict)
		return exitNotLoggedIn
	}

	logger.Info("Looks like a profile page (not a login page)")
	fmt.Println(snippet(d.HTML, 400))
	return exitOK
}

// findCookies tries the flag path, then the known cookie files, then COOKIES
func findCookies(path string, logger *logrus.Logger) ([]types.Cookie, string) {
	candidates := cookieFiles
	if path != "" {
		candidates = []string{path}
	}

	for _, p := range candidates {
		if _, err := os.Stat(p); err != nil {
			continue
		}
		cookies, err := utils.LoadCookies(p)
		if err != nil {
			logger.Warnf("Failed to parse cookie file %s: %v", p, err)
			continue
		}
		return cookies, p
	}

	if raw := os.Getenv("COOKIES"); raw != "" {
		return utils.ParseCookieString(raw, adapters.CookieDomain), "COOKIES"
	}
	return nil, ""
}

// saveRendered renders url in the browser and saves the resulting markup
func saveRendered(ctx context.Context, config *types.Config, logger types.Logger, url string, cookies []types.Cookie) {
	browser := utils.NewBrowserClient(config, logger)
	defer browser.Close()

	html, err := browser.GetPageContent(ctx, url, cookies)
	if err != nil {
		logger.Warnf("Failed to render %s: %v", url, err)
		return
	}

	path := filepath.Join(config.DebugDir, "debug_diagnose_rendered.html")
	if err := os.WriteFile(path, []byte(html), 0644); err != nil {
		logger.Warnf("Failed to save %s: %v", path, err)
		return
	}
	logger.Infof("Saved rendered page to %s", path)
}

func snippet(html string, n int) string {
	html = strings.ReplaceAll(html, "\n", " ")
	if len(html) > n {
		return html[:n]
	}
	return html
}
