package operation

import (
	"context"
	"fmt"
	"log/slog"
)

// Func adapts a function to a Task. A non-nil value returned without error
// is published as the result "result".
type Func func(ctx context.Context, r Reporter) (any, error)

func (f Func) Run(ctx context.Context, r Reporter) error {
	v, err := f(ctx, r)
	if err != nil {
		return err
	}
	if v != nil {
		r.AddResult("result", v)
	}
	return nil
}

type capable struct {
	Task
	pause, cancel bool
}

func (c capable) CanPause() bool  { return c.pause }
func (c capable) CanCancel() bool { return c.cancel }

// WithCapabilities declares whether t may be paused or cancelled.
func WithCapabilities(t Task, canPause, canCancel bool) Task {
	return capable{Task: t, pause: canPause, cancel: canCancel}
}

// Step is one task of a Sequence.
type Step struct {
	Title string
	Task  Task

	// Weight is the share of the sequence's progress covered by this step.
	// Steps without a weight split whatever the weighted steps leave.
	Weight float64
}

// Sequence runs steps in order on the same worker.
type Sequence struct {
	Steps []Step

	// StopOnError ends the sequence at the first failing step. Otherwise the
	// failure is recorded as an error message, which still fails the
	// operation once all steps ran.
	StopOnError bool
}

func (s *Sequence) Run(ctx context.Context, r Reporter) error {
	weights := s.weights()
	base := 0.0
	for i, step := range s.Steps {
		if err := r.Checkpoint(); err != nil {
			return err
		}
		r.SetProgressText(step.Title)

		err := step.Task.Run(ctx, &stepReporter{Reporter: r, title: step.Title, base: base, weight: weights[i]})
		if err != nil {
			if isCancellation(err) || s.StopOnError {
				return fmt.Errorf("%s: %w", step.Title, err)
			}
			r.AddMessage(slog.LevelError, fmt.Sprintf("%s: %v", step.Title, err))
		}
		base += weights[i]
		r.SetProgress(base)
	}
	return nil
}

// weights normalizes step weights so they sum to 1.
func (s *Sequence) weights() []float64 {
	w := make([]float64, len(s.Steps))
	if len(w) == 0 {
		return w
	}
	var explicit float64
	unweighted := 0
	for _, step := range s.Steps {
		if step.Weight > 0 {
			explicit += step.Weight
		} else {
			unweighted++
		}
	}
	share := 0.0
	if unweighted > 0 {
		share = max(1-explicit, 0) / float64(unweighted)
		if share == 0 {
			share = explicit / float64(len(w))
		}
	}
	var total float64
	for i, step := range s.Steps {
		w[i] = step.Weight
		if w[i] <= 0 {
			w[i] = share
		}
		total += w[i]
	}
	if total > 0 {
		for i := range w {
			w[i] /= total
		}
	}
	return w
}

// stepReporter maps a step's progress into its slice of the sequence.
type stepReporter struct {
	Reporter
	title        string
	base, weight float64
}

func (r *stepReporter) SetProgress(p float64) {
	if p < 0 {
		return
	}
	r.Reporter.SetProgress(r.base + min(p, 1)*r.weight)
}

func (r *stepReporter) SetProgressText(text string) {
	r.Reporter.SetProgressText(r.title + ": " + text)
}
