// Package pipeline runs an ordered chain of processors over each event
// before it reaches a writer, mirroring the teacher's engine.Evaluate
// single-decision model but generalized to a sequence of independent
// stages, each able to pass an event through unchanged, rewrite it, or
// drop it. A stage's own error never drops the event — see Processor.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/aspy-proxy/aspy/internal/event"
)

// Decision is what a single Processor did with one event.
type Decision int

const (
	// Continue means the event (possibly unchanged) should proceed to the
	// next processor, or to the writers if this was the last one.
	Continue Decision = iota
	// Drop means the event is discarded; no later processor sees it and
	// it is never written.
	Drop
)

// Result is a processor's verdict plus the (possibly rewritten) event.
type Result struct {
	Decision Decision
	Event    event.Event
}

// Processor is one pipeline stage. Returning a non-nil error does not
// abort the run: the error is logged against the processor's Name() and
// the event continues to the next stage carrying its pre-error value, so a
// single misbehaving processor never costs the rest of the chain an
// observation.
type Processor interface {
	Name() string
	Process(ctx context.Context, pctx event.Context, e event.Event) (Result, error)
	// Close releases any resources the processor holds (open file handles,
	// compiled rule sets). Called once during pipeline shutdown.
	Close() error
}

// Pipeline runs a fixed, ordered list of processors over each event.
type Pipeline struct {
	stages []Processor
}

// New builds a Pipeline from an ordered stage list. An empty list is valid
// and is the zero-allocation passthrough case: Run returns the input event
// unchanged without iterating anything.
func New(stages ...Processor) *Pipeline {
	return &Pipeline{stages: stages}
}

// Run passes one event through every stage in order, stopping early only on
// a Drop decision. A stage error is logged (tagged with the stage's Name())
// and swallowed — the event keeps flowing with its last good value, since a
// processor bug must never cost the rest of the chain an observation. The
// zero-stage pipeline returns (e, true) immediately and performs no
// allocation beyond the Result itself.
func (p *Pipeline) Run(ctx context.Context, pctx event.Context, e event.Event) (event.Event, bool) {
	if len(p.stages) == 0 {
		return e, true
	}

	current := e
	for _, stage := range p.stages {
		res, err := stage.Process(ctx, pctx, current)
		if err != nil {
			slog.Error("pipeline stage failed, continuing with pre-error event",
				"stage", stage.Name(), "session_key", pctx.SessionKey, "error", err)
			continue
		}
		if res.Decision == Drop {
			return event.Event{}, false
		}
		current = res.Event
	}
	return current, true
}

// Close shuts down every stage in reverse registration order, so a stage
// that depends on one registered before it (e.g. a processor that flushes
// through a shared resource another stage owns) still sees that resource
// alive during its own Close. The first error is recorded but every stage
// still gets a Close call.
func (p *Pipeline) Close() error {
	var first error
	for i := len(p.stages) - 1; i >= 0; i-- {
		if err := p.stages[i].Close(); err != nil && first == nil {
			first = fmt.Errorf("closing stage %s: %w", p.stages[i].Name(), err)
		}
	}
	return first
}
