package harvest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"follow-harvester/internal/types"
)

// TargetKind names a logical element the harvester needs to find
type TargetKind string

const (
	KindOpenButton TargetKind = "open-connections-button"
	KindListRoot   TargetKind = "scrollable-list-root"
)

// Strategy is one concrete way of locating a target kind. Selector values may
// contain {subject}, replaced with the scope subject before querying.
type Strategy struct {
	Name     string
	Selector Selector
}

// Scope is the context a target is resolved in
type Scope struct {
	Subject  string
	Ancestor Handle
}

// Resolver tries ordered strategies per target kind and returns the first match
type Resolver struct {
	driver     Driver
	logger     types.Logger
	retries    int
	timeout    time.Duration
	strategies map[TargetKind][]Strategy
}

// NewResolver creates a resolver with no strategies registered
func NewResolver(driver Driver, config *types.Config, logger types.Logger) *Resolver {
	return &Resolver{
		driver:     driver,
		logger:     logger,
		retries:    config.MaxRetries,
		timeout:    config.Timeout,
		strategies: make(map[TargetKind][]Strategy),
	}
}

// Register appends strategies for kind. Earlier strategies are tried first.
func (r *Resolver) Register(kind TargetKind, strategies ...Strategy) {
	r.strategies[kind] = append(r.strategies[kind], strategies...)
}

// Strategies returns the registered strategies for kind in try order
func (r *Resolver) Strategies(kind TargetKind) []Strategy {
	return append([]Strategy(nil), r.strategies[kind]...)
}

// Resolve returns the first DOM-order match of the first strategy that matches.
// Exhausting every strategy yields a *ResolutionFailure.
func (r *Resolver) Resolve(ctx context.Context, kind TargetKind, scope Scope) (Handle, error) {
	failure := &ResolutionFailure{Kind: kind}

	for _, strategy := range r.strategies[kind] {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		sel := strategy.Selector
		sel.Value = strings.ReplaceAll(sel.Value, "{subject}", scope.Subject)
		failure.Attempted = append(failure.Attempted, strategy.Name)

		var matches []Handle
		err := retry(ctx, fmt.Sprintf("query %s", strategy.Name), r.retries, r.timeout, r.logger, func(opCtx context.Context) error {
			var qErr error
			matches, qErr = r.driver.Query(opCtx, sel, scope.Ancestor)
			return qErr
		})
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			r.logger.Warnf("Strategy %s for %s failed: %v", strategy.Name, kind, err)
			failure.Last = err
			continue
		}

		if len(matches) > 0 {
			r.logger.Debugf("Resolved %s with strategy %s (%d match(es))", kind, strategy.Name, len(matches))
			return matches[0], nil
		}
		r.logger.Debugf("Strategy %s for %s matched nothing", strategy.Name, kind)
		failure.misses++
	}

	return nil, failure
}

// Await keeps resolving kind until it succeeds or timeout elapses, sleeping
// interval between rounds. The last ResolutionFailure is returned on timeout.
func (r *Resolver) Await(ctx context.Context, kind TargetKind, scope Scope, timeout, interval time.Duration) (Handle, error) {
	deadline := time.Now().Add(timeout)

	for {
		h, err := r.Resolve(ctx, kind, scope)
		if err == nil {
			return h, nil
		}
		var failure *ResolutionFailure
		if !errors.As(err, &failure) || !time.Now().Add(interval).Before(deadline) {
			return nil, err
		}

		timer := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}
