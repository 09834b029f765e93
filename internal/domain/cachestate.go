package domain

import "fmt"

// CacheState is MovieCache's state machine. It loops back to
// idle from stopped, unlike WriterState's terminal finished/canceled pair,
// because a cache session is reusable: stop a recording, then start a new
// one against the same ring buffer.
type CacheState int

const (
	CacheStateUnknown CacheState = iota
	CacheStateIdle
	CacheStateCaching
	CacheStateWriting
	CacheStateStopped
)

func (s CacheState) String() string {
	switch s {
	case CacheStateUnknown:
		return "unknown"
	case CacheStateIdle:
		return "idle"
	case CacheStateCaching:
		return "caching"
	case CacheStateWriting:
		return "writing"
	case CacheStateStopped:
		return "stopped"
	default:
		return "invalid"
	}
}

// cacheTransitions enumerates every legal CacheState edge. Cancel (-> idle)
// is legal from every state; stopped also loops back to idle to start a
// fresh session.
var cacheTransitions = map[CacheState]map[CacheState]bool{
	CacheStateUnknown: {
		CacheStateIdle: true,
	},
	CacheStateIdle: {
		CacheStateCaching: true,
		CacheStateIdle:    true,
	},
	CacheStateCaching: {
		CacheStateWriting: true,
		CacheStateIdle:    true,
	},
	CacheStateWriting: {
		CacheStateStopped: true,
		CacheStateIdle:    true,
	},
	CacheStateStopped: {
		CacheStateIdle: true,
	},
}

// CanTransitionCache reports whether from->to is a legal CacheState edge.
func CanTransitionCache(from, to CacheState) bool {
	return cacheTransitions[from][to]
}

// ErrInvalidCacheTransition is returned by callers enforcing the cache
// state machine when an illegal edge is attempted.
type ErrInvalidCacheTransition struct {
	From, To CacheState
}

func (e *ErrInvalidCacheTransition) Error() string {
	return fmt.Sprintf("moviecache: invalid transition %s -> %s", e.From, e.To)
}
