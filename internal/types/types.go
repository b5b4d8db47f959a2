package types

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrInvalidTarget is returned when a harvest target fails validation
var ErrInvalidTarget = errors.New("invalid harvest target")

// ListKind selects which connection list of a profile is harvested
type ListKind string

const (
	Followers ListKind = "followers"
	Following ListKind = "following"
)

// ParseListKind converts user input into a ListKind
func ParseListKind(s string) (ListKind, error) {
	switch ListKind(strings.ToLower(strings.TrimSpace(s))) {
	case Followers:
		return Followers, nil
	case Following:
		return Following, nil
	}
	return "", fmt.Errorf("unknown list kind %q (want followers or following)", s)
}

// Target describes one harvest session. It must not change once harvesting starts.
type Target struct {
	Subject string   `json:"subject"`
	Kind    ListKind `json:"kind"`
	// Limit caps the number of harvested entities. Zero means unlimited.
	Limit int `json:"limit,omitempty"`
}

// Validate checks the target before any page interaction happens
func (t Target) Validate() error {
	if strings.TrimSpace(t.Subject) == "" {
		return fmt.Errorf("%w: empty subject", ErrInvalidTarget)
	}
	if t.Kind != Followers && t.Kind != Following {
		return fmt.Errorf("%w: unknown list kind %q", ErrInvalidTarget, t.Kind)
	}
	if t.Limit < 0 {
		return fmt.Errorf("%w: negative limit %d", ErrInvalidTarget, t.Limit)
	}
	return nil
}

// EntityRecord is one harvested connection, keyed by ID
type EntityRecord struct {
	ID          string            `json:"username"`
	DisplayName string            `json:"full_name,omitempty"`
	Extra       map[string]string `json:"extra,omitempty"`
}

// Status tags how a harvest session ended
type Status string

const (
	// StatusSuccess means the limit was reached or the list reported its end
	StatusSuccess Status = "success"
	// StatusPartial means harvesting stopped early but collected some data
	StatusPartial Status = "partial"
	// StatusStalled means no entity was ever collected
	StatusStalled Status = "stalled"
)

// HarvestResult is handed to the caller on every termination path
type HarvestResult struct {
	Subject    string         `json:"subject"`
	Kind       ListKind       `json:"kind"`
	Status     Status         `json:"status"`
	Entities   []EntityRecord `json:"entities"`
	Iterations int            `json:"iterations_run"`
	Elapsed    time.Duration  `json:"elapsed_ns"`
	Cancelled  bool           `json:"cancelled,omitempty"`
	Error      string         `json:"error,omitempty"`

	Err error `json:"-"`
}

// Profile holds per-profile attributes
type Profile struct {
	Username  string `json:"username"`
	Biography string `json:"biography"`
	IsPrivate bool   `json:"is_private"`
	Source    string `json:"source,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Cookie is a browser cookie loaded from a cookie file or raw cookie string
type Cookie struct {
	Name     string  `json:"name"`
	Value    string  `json:"value"`
	Domain   string  `json:"domain"`
	Path     string  `json:"path"`
	Expires  float64 `json:"expires,omitempty"`
	HTTPOnly bool    `json:"httpOnly"`
	Secure   bool    `json:"secure"`
	SameSite string  `json:"sameSite,omitempty"`
}

// Config holds the configuration for the harvester
type Config struct {
	RequestDelay          time.Duration
	MaxRetries            int
	Timeout               time.Duration
	NavigationTimeout     time.Duration
	OpenTimeout           time.Duration
	MaxConcurrentSessions int
	Headless              bool
	UserAgent             string

	NoGrowthThreshold int
	MaxIterations     int
	MinPause          time.Duration
	MaxPause          time.Duration
	ScrollDelta       int

	DebugDir string
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		RequestDelay:          1200 * time.Millisecond,
		MaxRetries:            3,
		Timeout:               15 * time.Second,
		NavigationTimeout:     60 * time.Second,
		OpenTimeout:           15 * time.Second,
		MaxConcurrentSessions: 2,
		Headless:              true,
		UserAgent:             "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
		NoGrowthThreshold:     6,
		MaxIterations:         10000,
		MinPause:              2 * time.Second,
		MaxPause:              4 * time.Second,
		ScrollDelta:           2000,
		DebugDir:              "data",
	}
}

// Validate reports the first invalid setting
func (c *Config) Validate() error {
	switch {
	case c.MaxRetries < 0:
		return fmt.Errorf("max retries must not be negative, got %d", c.MaxRetries)
	case c.Timeout <= 0:
		return fmt.Errorf("timeout must be positive, got %v", c.Timeout)
	case c.NoGrowthThreshold <= 0:
		return fmt.Errorf("no-growth threshold must be positive, got %d", c.NoGrowthThreshold)
	case c.MaxIterations <= 0:
		return fmt.Errorf("max iterations must be positive, got %d", c.MaxIterations)
	case c.MinPause < 0 || c.MaxPause < c.MinPause:
		return fmt.Errorf("pause bounds invalid: min %v, max %v", c.MinPause, c.MaxPause)
	case c.MaxConcurrentSessions <= 0:
		return fmt.Errorf("max concurrent sessions must be positive, got %d", c.MaxConcurrentSessions)
	}
	return nil
}

// Logger defines the logging interface
type Logger interface {
	Debug(args ...interface{})
	Info(args ...interface{})
	Warn(args ...interface{})
	Error(args ...interface{})
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}
