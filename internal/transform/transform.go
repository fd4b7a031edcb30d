// Package transform maps raw channel values to and from display scale.
//
// Scatter and time channels use linear (identity) scaling. Fluorescence
// channels use the logicle biexponential scale, which behaves like a log
// scale for large positive values, is linear around zero, and extends
// smoothly into negative territory (compensation can push fluorescence
// values below zero, which a pure log scale cannot represent).
package transform

import (
	"errors"
	"regexp"
)

// ErrParameter marks invalid or non-convergent transform parameters.
// Detected when a transform is constructed, never deferred to first use.
var ErrParameter = errors.New("invalid transform parameters")

// ErrChannelNotFound marks a reference to a channel that is not present in
// the data it is resolved against (the declared channel set at import time,
// or the event matrix at evaluation time). Always fatal for the run:
// silently skipping a channel would produce misleadingly smaller
// populations.
var ErrChannelNotFound = errors.New("channel not found")

// Role declares how a channel is scaled.
type Role int

const (
	ScatterLinear Role = iota
	TimeLinear
	FluorescenceLogicle
)

func (r Role) String() string {
	switch r {
	case ScatterLinear:
		return "scatter-linear"
	case TimeLinear:
		return "time-linear"
	case FluorescenceLogicle:
		return "fluorescence-logicle"
	default:
		return "unknown"
	}
}

// Channel couples a channel identifier with its declared scaling role.
// Immutable once loaded.
type Channel struct {
	Name string
	Role Role
}

var scatterRe = regexp.MustCompile(`(?i)(FSC|SSC|TIME)`)

// InferRole classifies a channel by name: FSC*/SSC* are scatter, Time is
// time, everything else is fluorescence. Matches the conventional FCS
// channel naming used by acquisition software.
func InferRole(name string) Role {
	m := scatterRe.FindString(name)
	if m == "" {
		return FluorescenceLogicle
	}
	if len(m) == 4 || m[0] == 'T' || m[0] == 't' {
		return TimeLinear
	}
	return ScatterLinear
}

// Transform converts between raw channel values and display-scale values.
// Both directions are total functions over the real line.
type Transform interface {
	// ToDisplay maps a raw channel value to display scale.
	ToDisplay(raw float64) float64
	// ToRaw maps a display-scale value back to a raw channel value.
	ToRaw(display float64) float64
}

// Linear is the identity transform used for scatter and time channels.
// Min/Max carry an optional fixed display range for axis scaling; they do
// not affect the mapping itself.
type Linear struct {
	Min, Max float64
}

func (Linear) ToDisplay(raw float64) float64 { return raw }
func (Linear) ToRaw(display float64) float64 { return display }

// Set maps channel identifiers to their solved transforms. Channels without
// an entry default to linear scaling (documented policy: absence of explicit
// fluorescence-transform metadata means scatter/time behavior).
type Set map[string]Transform

// For returns the transform for a channel, defaulting to Linear.
func (s Set) For(name string) Transform {
	if t, ok := s[name]; ok {
		return t
	}
	return Linear{}
}
