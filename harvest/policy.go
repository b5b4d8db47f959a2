package harvest

import (
	"math/rand"
	"time"

	"follow-harvester/internal/types"
)

// Policy holds the termination and pacing limits of a session
type Policy struct {
	NoGrowthThreshold int
	MaxIterations     int
	MinPause          time.Duration
	MaxPause          time.Duration
	ScrollDelta       int
}

// PolicyFromConfig extracts the session policy from config
func PolicyFromConfig(config *types.Config) Policy {
	return Policy{
		NoGrowthThreshold: config.NoGrowthThreshold,
		MaxIterations:     config.MaxIterations,
		MinPause:          config.MinPause,
		MaxPause:          config.MaxPause,
		ScrollDelta:       config.ScrollDelta,
	}
}

// NextPause returns the wait before the next iteration. Growth resets it to
// MinPause; each further no-growth iteration multiplies the previous wait by 1.5,
// never leaving [MinPause, MaxPause].
func (p Policy) NextPause(prev time.Duration, noGrowth int) time.Duration {
	if noGrowth <= 0 || prev < p.MinPause {
		return p.MinPause
	}
	next := prev + prev/2
	if next == prev {
		next = prev + time.Millisecond
	}
	return p.clamp(next)
}

// Jitter spreads d by up to ±25% using rnd while staying within bounds
func (p Policy) Jitter(d time.Duration, rnd *rand.Rand) time.Duration {
	spread := int64(d / 4)
	if spread <= 0 || rnd == nil {
		return p.clamp(d)
	}
	return p.clamp(d + time.Duration(rnd.Int63n(2*spread+1)-spread))
}

func (p Policy) clamp(d time.Duration) time.Duration {
	if d < p.MinPause {
		return p.MinPause
	}
	if d > p.MaxPause {
		return p.MaxPause
	}
	return d
}
