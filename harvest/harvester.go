package harvest

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"follow-harvester/internal/types"
)

// KindEntryPage is reported when the page holding the entry point never loads
const KindEntryPage TargetKind = "entry-page"

const (
	awaitInterval  = 500 * time.Millisecond
	cleanupTimeout = 5 * time.Second
)

// State is a step of the harvest state machine
type State int

const (
	StateInit State = iota
	StateOpening
	StateOpened
	StateScrolling
	StateDone
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "INIT"
	case StateOpening:
		return "OPENING"
	case StateOpened:
		return "OPENED"
	case StateScrolling:
		return "SCROLLING"
	case StateDone:
		return "DONE"
	case StateClosed:
		return "CLOSED"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Deps are the collaborators of a Harvester. Driver, Resolver and Extractor are required.
type Deps struct {
	Driver    Driver
	Resolver  *Resolver
	Extractor EntityExtractor
	Capture   Capturer

	// EntryURL, when set, is navigated to before the entry point is resolved.
	EntryURL func(subject string) string
	// Ready is waited for after navigation; failure to appear is only logged.
	Ready Selector
	// Cleanup closes whatever the session opened. Errors are logged.
	Cleanup func(ctx context.Context) error
}

// Harvester runs harvest sessions. A Harvester owns one Driver page, so run
// concurrent sessions on separate Harvesters.
type Harvester struct {
	config *types.Config
	logger types.Logger
	deps   Deps
	policy Policy

	sleep   func(ctx context.Context, d time.Duration) error
	observe func(State)
}

// New creates a harvester
func New(config *types.Config, logger types.Logger, deps Deps) *Harvester {
	return &Harvester{
		config: config,
		logger: logger,
		deps:   deps,
		policy: PolicyFromConfig(config),
		sleep:  sleepCtx,
	}
}

type session struct {
	target     types.Target
	acc        *Accumulator
	container  Handle
	iterations int
	noGrowth   int
	lastSize   int
	pause      time.Duration
	rnd        *rand.Rand
}

// Run harvests target. It always returns a result holding the entities gathered
// so far, whatever the termination path.
func (h *Harvester) Run(ctx context.Context, target types.Target) *types.HarvestResult {
	start := time.Now()
	result := &types.HarvestResult{
		Subject:  target.Subject,
		Kind:     target.Kind,
		Entities: []types.EntityRecord{},
	}

	h.enter(target, StateInit)
	if err := target.Validate(); err != nil {
		h.logger.Errorf("Refusing to harvest: %v", err)
		h.finish(result, types.StatusStalled, nil, err, start)
		h.enter(target, StateClosed)
		return result
	}
	defer h.close(ctx, target)

	h.enter(target, StateOpening)
	container, err := h.open(ctx, target)
	if err != nil {
		if ctx.Err() != nil {
			h.finishCancelled(result, nil, start)
			return result
		}
		h.logger.Errorf("Failed to open %s list of %s: %v", target.Kind, target.Subject, err)
		h.finish(result, types.StatusStalled, nil, err, start)
		h.capture(ctx, target)
		return result
	}

	h.enter(target, StateOpened)
	s := &session{
		target:    target,
		acc:       NewAccumulator(target.Limit),
		container: container,
		pause:     h.policy.MinPause,
		rnd:       rand.New(rand.NewSource(time.Now().UnixNano())),
	}

	h.enter(target, StateScrolling)
	status, err := h.scroll(ctx, s)
	result.Iterations = s.iterations

	switch {
	case errors.Is(err, ErrCancelled):
		h.finishCancelled(result, s.acc, start)
	case err != nil:
		h.finish(result, status, s.acc, err, start)
		h.capture(ctx, target)
	default:
		h.finish(result, status, s.acc, nil, start)
		if status == types.StatusStalled {
			h.capture(ctx, target)
		}
	}
	return result
}

func (h *Harvester) open(ctx context.Context, target types.Target) (Handle, error) {
	driver := h.deps.Driver
	scope := Scope{Subject: target.Subject}

	if h.deps.EntryURL != nil {
		url := h.deps.EntryURL(target.Subject)
		h.logger.Infof("Navigating to %s", url)
		err := retry(ctx, "navigate", h.config.MaxRetries, h.config.NavigationTimeout, h.logger, func(opCtx context.Context) error {
			return driver.Navigate(opCtx, url)
		})
		if err != nil {
			return nil, &ResolutionFailure{Kind: KindEntryPage, Attempted: []string{url}, Last: err}
		}

		if h.deps.Ready.Value != "" {
			if err := driver.WaitFor(ctx, h.deps.Ready, h.config.OpenTimeout); err != nil {
				if ctx.Err() != nil {
					return nil, ctx.Err()
				}
				h.logger.Warnf("Page for %s not ready, continuing anyway: %v", target.Subject, err)
			}
		}
	}

	button, err := h.deps.Resolver.Resolve(ctx, KindOpenButton, scope)
	if err != nil {
		return nil, err
	}
	err = retry(ctx, "click entry point", h.config.MaxRetries, h.config.Timeout, h.logger, func(opCtx context.Context) error {
		return driver.Click(opCtx, button)
	})
	if err != nil {
		return nil, &ResolutionFailure{Kind: KindOpenButton, Attempted: []string{"click"}, Last: err}
	}

	h.logger.Infof("Waiting for %s list of %s to appear...", target.Kind, target.Subject)
	return h.deps.Resolver.Await(ctx, KindListRoot, scope, h.config.OpenTimeout, awaitInterval)
}

// scroll repeats iterations until a terminal status is reached. A non-nil error
// alongside a status means the session aborted; ErrCancelled means the context ended.
func (h *Harvester) scroll(ctx context.Context, s *session) (types.Status, error) {
	scope := Scope{Subject: s.target.Subject}

	for {
		if ctx.Err() != nil {
			return types.StatusPartial, ErrCancelled
		}
		s.iterations++

		if s.iterations > 1 {
			container, err := h.deps.Resolver.Resolve(ctx, KindListRoot, scope)
			if err != nil {
				if ctx.Err() != nil {
					return types.StatusPartial, ErrCancelled
				}
				var failure *ResolutionFailure
				if !errors.As(err, &failure) || !failure.TransportOnly() {
					return h.emptyOr(s, types.StatusPartial), fmt.Errorf("%w: %v", ErrContainerLost, err)
				}
				h.logger.Warnf("Could not re-query list container, keeping the previous one: %v", err)
			} else {
				s.container = container
			}
		}

		exhausted := false
		batch, err := h.extract(ctx, s)
		if err != nil {
			h.logger.Warnf("%v", err)
		} else {
			added := s.acc.Merge(batch.Records)
			exhausted = batch.Exhausted
			h.logger.Debugf("Iteration %d: %d visible, %d new, %d total", s.iterations, len(batch.Records), added, s.acc.Len())
		}

		if size := s.acc.Len(); size == s.lastSize {
			s.noGrowth++
		} else {
			s.noGrowth = 0
			s.lastSize = size
		}

		if ctx.Err() != nil {
			return types.StatusPartial, ErrCancelled
		}

		switch {
		case s.acc.Full():
			h.logger.Infof("Reached limit of %d for %s", s.target.Limit, s.target.Subject)
			return types.StatusSuccess, nil
		case exhausted:
			h.logger.Infof("List of %s reports no further entries", s.target.Subject)
			return types.StatusSuccess, nil
		case s.noGrowth >= h.policy.NoGrowthThreshold:
			h.logger.Infof("No new %s for %d iterations, stopping", s.target.Kind, s.noGrowth)
			return h.emptyOr(s, types.StatusPartial), nil
		case s.iterations >= h.policy.MaxIterations:
			h.logger.Warnf("Iteration ceiling %d reached for %s", h.policy.MaxIterations, s.target.Subject)
			return h.emptyOr(s, types.StatusPartial), nil
		}

		if s.iterations%10 == 0 {
			h.logger.Infof("Progress: %d %s loaded after %d iterations", s.acc.Len(), s.target.Kind, s.iterations)
		}

		h.advance(ctx, s)

		s.pause = h.policy.NextPause(s.pause, s.noGrowth)
		if err := h.sleep(ctx, h.policy.Jitter(s.pause, s.rnd)); err != nil {
			return types.StatusPartial, ErrCancelled
		}
	}
}

func (h *Harvester) extract(ctx context.Context, s *session) (batch Batch, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &ExtractionFailure{Iteration: s.iterations, Err: fmt.Errorf("panic: %v", r)}
		}
	}()

	opCtx, cancel := context.WithTimeout(ctx, h.config.Timeout)
	defer cancel()

	batch, err = h.deps.Extractor.Extract(opCtx, s.container)
	if err != nil {
		return Batch{}, &ExtractionFailure{Iteration: s.iterations, Err: err}
	}
	return batch, nil
}

// advance scrolls the container to its bottom, falling back to a fixed delta
func (h *Harvester) advance(ctx context.Context, s *session) {
	driver := h.deps.Driver

	err := retry(ctx, "scroll to bottom", 0, h.config.Timeout, h.logger, recovered(func(opCtx context.Context) error {
		return driver.ScrollToBottom(opCtx, s.container)
	}))
	if err == nil || ctx.Err() != nil {
		return
	}

	err = retry(ctx, "scroll by delta", 0, h.config.Timeout, h.logger, recovered(func(opCtx context.Context) error {
		return driver.ScrollBy(opCtx, s.container, h.policy.ScrollDelta)
	}))
	if err != nil && ctx.Err() == nil {
		h.logger.Warnf("Error while scrolling: %v", err)
	}
}

// recovered turns a panic in op into an error
func recovered(op func(ctx context.Context) error) func(ctx context.Context) error {
	return func(ctx context.Context) (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic: %v", r)
			}
		}()
		return op(ctx)
	}
}

func (h *Harvester) emptyOr(s *session, status types.Status) types.Status {
	if s.acc.Len() == 0 {
		return types.StatusStalled
	}
	return status
}

func (h *Harvester) finish(result *types.HarvestResult, status types.Status, acc *Accumulator, err error, start time.Time) {
	result.Status = status
	if acc != nil {
		result.Entities = acc.Records()
	}
	result.Elapsed = time.Since(start)
	if err != nil {
		result.Err = err
		result.Error = err.Error()
	}
	h.enter(types.Target{Subject: result.Subject, Kind: result.Kind}, StateDone)
	h.logger.Infof("Harvest of %s %s finished: %s with %d entities after %d iterations in %v",
		result.Subject, result.Kind, status, len(result.Entities), result.Iterations, result.Elapsed)
}

func (h *Harvester) finishCancelled(result *types.HarvestResult, acc *Accumulator, start time.Time) {
	result.Cancelled = true
	h.logger.Warnf("Harvest of %s cancelled, keeping collected data", result.Subject)
	h.finish(result, types.StatusPartial, acc, ErrCancelled, start)
}

func (h *Harvester) capture(ctx context.Context, target types.Target) {
	if h.deps.Capture == nil {
		return
	}
	captureCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), h.config.NavigationTimeout)
	defer cancel()
	h.deps.Capture.Capture(captureCtx, target.Subject)
}

func (h *Harvester) close(ctx context.Context, target types.Target) {
	if h.deps.Cleanup != nil {
		cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
		defer cancel()
		if err := h.deps.Cleanup(cleanupCtx); err != nil {
			h.logger.Debugf("Cleanup for %s failed: %v", target.Subject, err)
		}
	}
	h.enter(target, StateClosed)
}

func (h *Harvester) enter(target types.Target, state State) {
	h.logger.Debugf("Harvest %s/%s -> %s", target.Subject, target.Kind, state)
	if h.observe != nil {
		h.observe(state)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
