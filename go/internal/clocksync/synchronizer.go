// Package clocksync estimates the offset between the local clock and the
// server clock so server-issued deadlines can be compared against local time.
package clocksync

import (
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

const (
	// blendKeep/blendNew bias the estimate toward stability while staying
	// responsive to drift.
	blendKeep = 0.75
	blendNew  = 0.25

	// maxSamples caps the counter so blending never fully locks.
	maxSamples = 8
)

// Synchronizer maintains a smoothed local-minus-server offset in
// milliseconds. Single writer (the session loop), shared readers.
type Synchronizer struct {
	clock    clockwork.Clock
	offsetMs float64
	samples  int
}

// New returns a Synchronizer reading local time from clock.
func New(clock clockwork.Clock) *Synchronizer {
	return &Synchronizer{clock: clock}
}

// Observe folds one server-stamped "now" (epoch millis) into the offset
// estimate. The first sample after a reset is adopted exactly; later samples
// blend. Invalid samples are ignored, never an error.
func (s *Synchronizer) Observe(serverNowMs int64) {
	if serverNowMs <= 0 {
		return
	}
	measured := float64(s.clock.Now().UnixMilli() - serverNowMs)
	if s.samples == 0 {
		s.offsetMs = measured
	} else {
		s.offsetMs = s.offsetMs*blendKeep + measured*blendNew
	}
	if s.samples < maxSamples {
		s.samples++
	}
	log.Trace().
		Float64("offset_ms", s.offsetMs).
		Int("samples", s.samples).
		Msg("clock offset updated")
}

// ToLocal translates a server epoch-millis timestamp into local time.
// Returns ok=false for non-positive input.
func (s *Synchronizer) ToLocal(serverMs int64) (time.Time, bool) {
	if serverMs <= 0 {
		return time.Time{}, false
	}
	return time.UnixMilli(serverMs + int64(s.offsetMs)), true
}

// OffsetMs returns the current estimate and how many samples back it.
func (s *Synchronizer) OffsetMs() (float64, int) {
	return s.offsetMs, s.samples
}

// Reset discards the estimate. Called when a new session binds so the first
// sample of the new binding replaces rather than blends.
func (s *Synchronizer) Reset() {
	s.offsetMs = 0
	s.samples = 0
}
