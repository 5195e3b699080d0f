package feature

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestPipelineRunFoldsInOrder(t *testing.T) {
	p := &Pipeline{steps: []Step{
		{Name: "prefix", Transform: func(_ context.Context, s string) (string, error) {
			return "[" + s, nil
		}},
		{Name: "suffix", Transform: func(_ context.Context, s string) (string, error) {
			return s + "]", nil
		}},
	}}

	if got := p.Run(context.Background(), "doc"); got != "[doc]" {
		t.Errorf("Run = %q, want %q", got, "[doc]")
	}
	if got := p.Names(); len(got) != 2 || got[0] != "prefix" {
		t.Errorf("Names = %v", got)
	}
}

func TestPipelineDegradesOnFailingStep(t *testing.T) {
	p := &Pipeline{steps: []Step{
		{Name: "identity", Transform: func(_ context.Context, s string) (string, error) {
			return s, nil
		}},
		{Name: "raises", Transform: func(_ context.Context, s string) (string, error) {
			return "", errors.New("boom")
		}},
		{Name: "uppercase", Transform: func(_ context.Context, s string) (string, error) {
			return strings.ToUpper(s), nil
		}},
	}}

	// The failing middle step passes content through unchanged.
	if got := p.Run(context.Background(), "a"); got != "A" {
		t.Errorf("Run = %q, want %q", got, "A")
	}
}

func TestPipelineRecoversFromPanic(t *testing.T) {
	p := &Pipeline{steps: []Step{
		{Name: "panics", Transform: func(_ context.Context, s string) (string, error) {
			panic("unexpected")
		}},
		{Name: "suffix", Transform: func(_ context.Context, s string) (string, error) {
			return s + "!", nil
		}},
	}}

	if got := p.Run(context.Background(), "x"); got != "x!" {
		t.Errorf("Run = %q, want %q", got, "x!")
	}
}

func TestPipelineStepTimeout(t *testing.T) {
	p := &Pipeline{
		stepTimeout: 20 * time.Millisecond,
		steps: []Step{
			{Name: "hangs", Transform: func(ctx context.Context, s string) (string, error) {
				<-ctx.Done()
				time.Sleep(time.Second)
				return "never", nil
			}},
		},
	}

	start := time.Now()
	if got := p.Run(context.Background(), "orig"); got != "orig" {
		t.Errorf("Run = %q, want pass-through", got)
	}
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Errorf("timed-out step blocked for %v", elapsed)
	}
}

func TestEmptyPipeline(t *testing.T) {
	p := &Pipeline{}
	if p.Len() != 0 {
		t.Errorf("Len = %d", p.Len())
	}
	if got := p.Run(context.Background(), "untouched"); got != "untouched" {
		t.Errorf("Run = %q", got)
	}
}
