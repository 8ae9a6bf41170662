// Package behavior inserts human-plausible pauses around platform
// actions. The delays are jittered so the action timeline never shows
// a fixed machine cadence.
package behavior

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"time"
)

// Simulator produces randomized delays. Scale shrinks every delay
// proportionally; tests run with a near-zero scale.
type Simulator struct {
	logger *slog.Logger
	scale  float64
	sleep  func(ctx context.Context, d time.Duration) error
}

func New(logger *slog.Logger) *Simulator {
	return &Simulator{logger: logger, scale: 1, sleep: sleepCtx}
}

// SetScale adjusts all delays by a factor. Values at or below zero
// disable sleeping entirely.
func (s *Simulator) SetScale(scale float64) {
	s.scale = scale
}

// ReadingPause simulates skimming a piece of content before reacting.
// Longer content earns a longer pause, capped at 20 seconds.
func (s *Simulator) ReadingPause(ctx context.Context, contentLen int) error {
	base := 2 * time.Second
	perRune := time.Duration(contentLen) * 30 * time.Millisecond
	if perRune > 18*time.Second {
		perRune = 18 * time.Second
	}
	return s.pause(ctx, "reading", base+perRune)
}

// TypingPause simulates composing text at a human pace.
func (s *Simulator) TypingPause(ctx context.Context, textLen int) error {
	base := time.Second
	perRune := time.Duration(textLen) * 250 * time.Millisecond
	if perRune > 60*time.Second {
		perRune = 60 * time.Second
	}
	return s.pause(ctx, "typing", base+perRune)
}

// PostActionPause is the idle gap after an action lands.
func (s *Simulator) PostActionPause(ctx context.Context) error {
	return s.pause(ctx, "post-action", 5*time.Second)
}

// pause sleeps for the base duration plus up to 50% jitter, adjusted
// by scale, honoring context cancellation.
func (s *Simulator) pause(ctx context.Context, kind string, base time.Duration) error {
	if s.scale <= 0 || base <= 0 {
		return ctx.Err()
	}
	jitter := time.Duration(rand.Int64N(int64(base / 2)))
	d := time.Duration(float64(base+jitter) * s.scale)
	s.logger.Debug("behavior pause", "kind", kind, "duration_ms", d.Milliseconds())
	return s.sleep(ctx, d)
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

// Jitter returns a duration uniformly drawn from [min, max]. Used by
// the scheduler for cycle sleeps so the loop period never repeats.
func Jitter(min, max time.Duration) time.Duration {
	if max <= min {
		return min
	}
	return min + time.Duration(rand.Int64N(int64(max-min)))
}
