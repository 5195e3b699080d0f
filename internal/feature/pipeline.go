package feature

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/docnexus/docnexus/internal/capability"
	"github.com/docnexus/docnexus/internal/ctxlog"
)

// DefaultStepTimeout bounds a single transform step. A step that
// overruns is treated the same as a step that errored: its output is
// discarded and the content passes through unchanged.
const DefaultStepTimeout = 10 * time.Second

// Step is one transform in a compiled pipeline.
type Step struct {
	Name      string
	Transform capability.TransformFunc
}

// Pipeline is an ordered, immutable-once-built sequence of transform
// steps. Pipelines are rebuilt per render request; never cache one
// across requests, since the active capability set can change between
// them.
type Pipeline struct {
	steps       []Step
	stepTimeout time.Duration
}

// Len returns the compiled step count.
func (p *Pipeline) Len() int {
	return len(p.steps)
}

// Names returns the step names in execution order.
func (p *Pipeline) Names() []string {
	names := make([]string, len(p.steps))
	for i, s := range p.steps {
		names[i] = s.Name
	}
	return names
}

// Run folds content through each step in order. A step that errors,
// panics, or exceeds the per-step timeout is logged and skipped:
// rendering degrades gracefully instead of failing the whole request
// because one transformation misbehaved.
func (p *Pipeline) Run(ctx context.Context, content string) string {
	logger := ctxlog.FromContext(ctx)

	for _, step := range p.steps {
		out, err := p.runStep(ctx, step, content)
		if err != nil {
			logger.Error("pipeline step failed, passing content through",
				"step", step.Name, "error", err)
			continue
		}
		content = out
	}
	return content
}

// runStep executes one step with panic recovery and a deadline.
func (p *Pipeline) runStep(ctx context.Context, step Step, content string) (string, error) {
	timeout := p.stepTimeout
	if timeout <= 0 {
		timeout = DefaultStepTimeout
	}
	stepCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		out string
		err error
	}
	done := make(chan result, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- result{err: fmt.Errorf("step panic: %v", r)}
			}
		}()
		out, err := step.Transform(stepCtx, content)
		done <- result{out: out, err: err}
	}()

	select {
	case <-stepCtx.Done():
		// The goroutine is abandoned; a handler that never returns
		// stalls only later calls into the same extension state.
		slog.Debug("pipeline step deadline exceeded", "step", step.Name)
		return "", stepCtx.Err()
	case r := <-done:
		return r.out, r.err
	}
}
