package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"follow-harvester/adapters"
	"follow-harvester/extractor"
	"follow-harvester/internal/types"
	"follow-harvester/utils"
)

func main() {
	os.Exit(run())
}

func run() int {
	// Load .env file if present
	_ = godotenv.Load()

	defaults := types.DefaultConfig()

	// Parse command line flags
	var (
		targetFlag    = flag.String("target", "", "Comma-separated list of profiles to harvest")
		modeFlag      = flag.String("mode", "followers", "List to harvest (followers, following)")
		limitFlag     = flag.Int("limit", 0, "Maximum entries per profile (0 = unlimited)")
		outputFlag    = flag.String("output", "", "Output file path (default: <debug-dir>/<target>_<mode>.<format>)")
		formatFlag    = flag.String("format", utils.FormatCSV, "Output format (csv, jsonl, json)")
		profilesFlag  = flag.String("profiles", "", "File with one username per line; fetches profiles instead of lists")
		cookiesFlag   = flag.String("cookies", "", "Cookie JSON file (default: COOKIES env as a raw cookie string)")
		headless      = flag.Bool("headless", defaults.Headless, "Run the browser headless")
		requestDelay  = flag.Duration("delay", defaults.RequestDelay, "Delay between profile requests")
		maxRetries    = flag.Int("retries", defaults.MaxRetries, "Maximum retry attempts per browser operation")
		timeout       = flag.Duration("timeout", defaults.Timeout, "Timeout per browser operation")
		maxConcurrent = flag.Int("concurrent", defaults.MaxConcurrentSessions, "Maximum concurrent harvest sessions")
		maxIterations = flag.Int("max-iterations", defaults.MaxIterations, "Maximum scroll iterations per session")
		noGrowth      = flag.Int("no-growth", defaults.NoGrowthThreshold, "Stop after this many scrolls without new entries")
		debugDir      = flag.String("debug-dir", defaults.DebugDir, "Directory for outputs and debug artifacts")
		verbose       = flag.Bool("verbose", false, "Enable verbose logging")
	)
	flag.Parse()

	// Setup logging
	logger := logrus.New()

	// Set timestamp format with milliseconds
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05.000",
	})

	// Set log level from LOG_LEVEL env if present
	if levelStr := os.Getenv("LOG_LEVEL"); levelStr != "" {
		if level, err := logrus.ParseLevel(levelStr); err == nil {
			logger.SetLevel(level)
		}
	} else if *verbose {
		logger.SetLevel(logrus.DebugLevel)
	} else {
		logger.SetLevel(logrus.InfoLevel)
	}

	// Validate flags - either --target or --profiles must be provided
	if *targetFlag == "" && *profilesFlag == "" {
		logger.Error("Either --target or --profiles flag is required")
		return 2
	}
	if *targetFlag != "" && *profilesFlag != "" {
		logger.Error("Cannot use both --target and --profiles flags")
		return 2
	}

	// Create configuration
	config := defaults
	config.Headless = *headless
	config.RequestDelay = *requestDelay
	config.MaxRetries = *maxRetries
	config.Timeout = *timeout
	config.MaxConcurrentSessions = *maxConcurrent
	config.MaxIterations = *maxIterations
	config.NoGrowthThreshold = *noGrowth
	config.DebugDir = *debugDir
	if err := config.Validate(); err != nil {
		logger.Errorf("Invalid configuration: %v", err)
		return 2
	}
	if err := utils.ValidateFormat(*formatFlag); err != nil {
		logger.Errorf("Invalid -format: %v", err)
		return 2
	}

	cookies, err := loadCookies(*cookiesFlag)
	if err != nil {
		logger.Errorf("Failed to load cookies: %v", err)
		return 2
	}
	if len(cookies) == 0 {
		logger.Warn("No cookies configured; Instagram usually requires a logged-in session")
	} else {
		logger.Infof("Loaded %d cookies: %v", len(cookies), utils.CookieNames(cookies))
	}

	// Interrupts cancel the running sessions; gathered data is still written
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ext := extractor.NewInstagramExtractor(config, logger)
	defer ext.Close()
	ext.SetCookies(cookies)

	if *profilesFlag != "" {
		output := *outputFlag
		if output == "" {
			output = filepath.Join(config.DebugDir, "results.csv")
		}
		return runProfiles(ctx, ext, logger, *profilesFlag, output)
	}

	kind, err := types.ParseListKind(*modeFlag)
	if err != nil {
		logger.Error(err)
		return 2
	}

	var targets []types.Target
	for _, subject := range strings.Split(*targetFlag, ",") {
		targets = append(targets, types.Target{
			Subject: strings.TrimPrefix(strings.TrimSpace(subject), "@"),
			Kind:    kind,
			Limit:   *limitFlag,
		})
	}

	startTime := time.Now()
	logger.Infof("Starting %s harvest for: %v", kind, *targetFlag)

	results := ext.HarvestAll(ctx, targets)

	exitCode := 0
	for _, result := range results {
		entry := logger.WithFields(logrus.Fields{
			"subject": result.Subject,
			"kind":    string(result.Kind),
			"status":  string(result.Status),
		})

		if result.Status == types.StatusStalled {
			exitCode = 1
		}
		if result.Error != "" {
			entry.Warnf("Session ended with error: %s", result.Error)
		}
		if result.Subject == "" {
			continue
		}

		path := outputPath(*outputFlag, config.DebugDir, result.Subject, kind, *formatFlag, len(targets) > 1)
		written, err := utils.WriteResult(path, *formatFlag, result)
		if err != nil {
			entry.Errorf("Failed to write results: %v", err)
			exitCode = 1
			continue
		}
		entry.Infof("Saved %d entries to %s", len(result.Entities), written)
	}

	logger.Infof("Harvest completed in %v", time.Since(startTime))
	if ctx.Err() != nil {
		logger.Warn("Interrupted; partial results were saved")
	}
	return exitCode
}

func runProfiles(ctx context.Context, ext *extractor.InstagramExtractor, logger *logrus.Logger, usernamesFile, output string) int {
	usernames, err := readUsernames(usernamesFile)
	if err != nil {
		logger.Errorf("Failed to read usernames: %v", err)
		return 2
	}
	if len(usernames) == 0 {
		logger.Errorf("No usernames found in %s", usernamesFile)
		return 2
	}

	profiles, err := ext.FetchProfiles(ctx, usernames)
	exitCode := 0
	if err != nil {
		logger.Warnf("Profile fetching stopped early: %v", err)
		output = utils.PartialPath(output)
		exitCode = 1
	}

	if err := utils.WriteProfilesCSV(output, profiles); err != nil {
		logger.Errorf("Failed to write profiles: %v", err)
		return 1
	}
	logger.Infof("Saved %d profiles to %s", len(profiles), output)
	return exitCode
}

// loadCookies reads the cookie file when given, else the COOKIES env string
func loadCookies(path string) ([]types.Cookie, error) {
	if path != "" {
		return utils.LoadCookies(path)
	}
	return utils.ParseCookieString(os.Getenv("COOKIES"), adapters.CookieDomain), nil
}

func readUsernames(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var usernames []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" && !strings.HasPrefix(line, "#") {
			usernames = append(usernames, line)
		}
	}
	return usernames, scanner.Err()
}

// outputPath derives the file for one subject. With several targets the
// subject is appended to an explicit output name.
func outputPath(output, dir, subject string, kind types.ListKind, format string, multi bool) string {
	if output == "" {
		return filepath.Join(dir, fmt.Sprintf("%s_%s.%s", subject, kind, format))
	}
	if !multi {
		return output
	}
	ext := filepath.Ext(output)
	return strings.TrimSuffix(output, ext) + "_" + subject + ext
}
