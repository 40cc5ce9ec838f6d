package machine

import (
	"context"
	"math/rand/v2"
	"time"

	"machine/internal/tasks"
)

// Processor performs the manufacturing work for one piece. Returning an
// error fails the piece; returning because ctx is done leaves it WORKING.
type Processor interface {
	Process(ctx context.Context, task *tasks.Task) error
}

// ProcessorFunc adapts a function to Processor.
type ProcessorFunc func(ctx context.Context, task *tasks.Task) error

// Process calls f.
func (f ProcessorFunc) Process(ctx context.Context, task *tasks.Task) error {
	return f(ctx, task)
}

// SimulatedProcessor waits a uniformly drawn number of work units.
type SimulatedProcessor struct {
	unit     time.Duration
	minUnits int
	maxUnits int
}

// NewSimulatedProcessor draws between minUnits and maxUnits (inclusive)
// units of the given length per piece.
func NewSimulatedProcessor(unit time.Duration, minUnits, maxUnits int) *SimulatedProcessor {
	if minUnits < 0 {
		minUnits = 0
	}
	if maxUnits < minUnits {
		maxUnits = minUnits
	}
	return &SimulatedProcessor{unit: unit, minUnits: minUnits, maxUnits: maxUnits}
}

// Duration draws the next manufacturing time.
func (p *SimulatedProcessor) Duration() time.Duration {
	units := p.minUnits + rand.IntN(p.maxUnits-p.minUnits+1)
	return time.Duration(units) * p.unit
}

// Process sleeps for a drawn duration or until ctx is done.
func (p *SimulatedProcessor) Process(ctx context.Context, _ *tasks.Task) error {
	d := p.Duration()
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
