package app

import "errors"

// Error kinds driving the coordinator's fallback policy. Every kind except
// ErrOriginFetch degrades to pass-through; origin failures become 502s.
var (
	ErrOriginFetch   = errors.New("origin fetch failed")
	ErrCueValidation = errors.New("cue validation failed")
	ErrCueWindow     = errors.New("cue PDT outside manifest window")
	ErrDecision      = errors.New("decision failed")
	ErrRewrite       = errors.New("rewrite failed")
	ErrStateConflict = errors.New("channel lock timeout")
)
