// Package harvest drives an infinitely scrolling connection list to completion.
//
// A Harvester opens the list through a Resolver, then repeats extract/merge/scroll
// cycles against a Driver until the limit is reached, the EntityExtractor reports
// the end of the list, growth plateaus, or the iteration ceiling is hit. Every path
// ends in a types.HarvestResult carrying whatever was collected.
package harvest

import (
	"context"
	"time"

	"follow-harvester/internal/types"
)

// Handle is an opaque reference to an element owned by a Driver
type Handle interface{}

// By selects how a Selector value is interpreted
type By int

const (
	ByCSS By = iota
	ByXPath
)

func (b By) String() string {
	if b == ByXPath {
		return "xpath"
	}
	return "css"
}

// Selector is a concrete query understood by a Driver
type Selector struct {
	Value string
	By    By
}

// CSS builds a CSS selector
func CSS(value string) Selector { return Selector{Value: value, By: ByCSS} }

// XPath builds an XPath selector
func XPath(value string) Selector { return Selector{Value: value, By: ByXPath} }

// Driver is the page capability the harvester needs. Implementations may fail any
// operation with a timeout or not-found condition; the harvester retries those.
type Driver interface {
	Navigate(ctx context.Context, url string) error
	// Query returns matches in DOM order, scoped under scope when it is non-nil.
	// No match is an empty slice, not an error.
	Query(ctx context.Context, sel Selector, scope Handle) ([]Handle, error)
	Click(ctx context.Context, h Handle) error
	// Evaluate runs script in the page. With args, script must be a function
	// expression and is invoked with the JSON-encoded args.
	Evaluate(ctx context.Context, script string, res interface{}, args ...interface{}) error
	WaitFor(ctx context.Context, sel Selector, timeout time.Duration) error
	ScrollToBottom(ctx context.Context, h Handle) error
	ScrollBy(ctx context.Context, h Handle, delta int) error
	Content(ctx context.Context) (string, error)
	Screenshot(ctx context.Context) ([]byte, error)
}

// Batch is what an EntityExtractor sees in the container on one call
type Batch struct {
	Records []types.EntityRecord
	// Exhausted is set when the page itself signals there is nothing more to load.
	Exhausted bool
}

// EntityExtractor pulls the currently rendered entities out of the container.
// It must be idempotent and free of side effects.
type EntityExtractor interface {
	Extract(ctx context.Context, container Handle) (Batch, error)
}

// ExtractorFunc adapts a function to EntityExtractor
type ExtractorFunc func(ctx context.Context, container Handle) (Batch, error)

func (f ExtractorFunc) Extract(ctx context.Context, container Handle) (Batch, error) {
	return f(ctx, container)
}

// Capturer snapshots page state after a terminal failure. It must not fail loudly.
type Capturer interface {
	Capture(ctx context.Context, subject string)
}
