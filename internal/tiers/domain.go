package tiers

import "errors"

// ErrInvalidTier indicates a tier outside the closed set.
var ErrInvalidTier = errors.New("tiers: invalid tier")
