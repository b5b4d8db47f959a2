package harvest

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"follow-harvester/internal/types"
)

var unsafeName = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// DirCapture writes debug_<subject>_<unix>.html and .png into a directory
type DirCapture struct {
	driver Driver
	dir    string
	logger types.Logger
	now    func() time.Time
}

// NewDirCapture creates a capturer writing into dir
func NewDirCapture(driver Driver, dir string, logger types.Logger) *DirCapture {
	return &DirCapture{
		driver: driver,
		dir:    dir,
		logger: logger,
		now:    time.Now,
	}
}

// ArtifactBase returns the path prefix both artifacts share for subject at t
func (c *DirCapture) ArtifactBase(subject string, t time.Time) string {
	return filepath.Join(c.dir, fmt.Sprintf("debug_%s_%d", unsafeName.ReplaceAllString(subject, "_"), t.Unix()))
}

// Capture saves page markup and a screenshot. Failures are logged only.
func (c *DirCapture) Capture(ctx context.Context, subject string) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Errorf("Debug capture for %s panicked: %v", subject, r)
		}
	}()

	if err := os.MkdirAll(c.dir, 0755); err != nil {
		c.logger.Errorf("Failed to create debug directory %s: %v", c.dir, err)
		return
	}
	base := c.ArtifactBase(subject, c.now())

	if html, err := c.driver.Content(ctx); err != nil {
		c.logger.Warnf("Failed to capture page markup for %s: %v", subject, err)
	} else if err := os.WriteFile(base+".html", []byte(html), 0644); err != nil {
		c.logger.Warnf("Failed to write %s.html: %v", base, err)
	}

	if png, err := c.driver.Screenshot(ctx); err != nil {
		c.logger.Warnf("Failed to capture screenshot for %s: %v", subject, err)
	} else if err := os.WriteFile(base+".png", png, 0644); err != nil {
		c.logger.Warnf("Failed to write %s.png: %v", base, err)
	}

	c.logger.Infof("Saved debug artifacts: %s.html / .png", base)
}
