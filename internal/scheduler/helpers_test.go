package scheduler

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// fakeCapability counts calls and returns a fixed response after an optional delay.
type fakeCapability struct {
	content string
	err     error
	delay   time.Duration
	calls   atomic.Int32

	mu     sync.Mutex
	inputs []map[string]string
}

func (f *fakeCapability) Produce(ctx context.Context, inputs map[string]string) (string, error) {
	f.calls.Add(1)

	f.mu.Lock()
	cp := make(map[string]string, len(inputs))
	for k, v := range inputs {
		cp[k] = v
	}
	f.inputs = append(f.inputs, cp)
	f.mu.Unlock()

	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if f.err != nil {
		return "", f.err
	}
	return f.content, nil
}

func (f *fakeCapability) lastInputs() map[string]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.inputs) == 0 {
		return nil
	}
	return f.inputs[len(f.inputs)-1]
}

// scriptedScorer returns scores keyed by content. Unknown content scores 0.
type scriptedScorer struct {
	scores map[string]float64
	err    error
	calls  atomic.Int32
}

func (s *scriptedScorer) Score(_ context.Context, content, kind string) (Assessment, error) {
	s.calls.Add(1)
	if s.err != nil {
		return Assessment{}, s.err
	}
	return Assessment{
		Score:    s.scores[content],
		Feedback: Feedback{Summary: fmt.Sprintf("%s scored", kind), Issues: []string{"needs more detail"}},
	}, nil
}

// constantScorer gives every draft the same score.
type constantScorer struct {
	score float64
	calls atomic.Int32
}

func (s *constantScorer) Score(context.Context, string, string) (Assessment, error) {
	s.calls.Add(1)
	return Assessment{Score: s.score}, nil
}

// suffixImprover appends "+" to the draft, or fails when err is set.
type suffixImprover struct {
	err   error
	calls atomic.Int32

	mu       sync.Mutex
	feedback []Assessment
}

func (i *suffixImprover) Improve(_ context.Context, _ string, content string, a Assessment) (string, error) {
	i.calls.Add(1)
	i.mu.Lock()
	i.feedback = append(i.feedback, a)
	i.mu.Unlock()
	if i.err != nil {
		return "", i.err
	}
	return content + "+", nil
}

// recorder is a Listener that keeps an ordered log of callbacks.
type recorder struct {
	mu  sync.Mutex
	log []string
}

func (r *recorder) TaskStarted(task *Task) { r.add("start " + task.ID) }
func (r *recorder) TaskScored(task *Task, a Assessment) {
	r.add(fmt.Sprintf("score %s %d %.0f", task.ID, a.Attempt, a.Score))
}
func (r *recorder) TaskFinished(task *Task, res TaskResult) {
	r.add(fmt.Sprintf("finish %s %s", task.ID, res.Status))
}

func (r *recorder) add(s string) {
	r.mu.Lock()
	r.log = append(r.log, s)
	r.mu.Unlock()
}

func (r *recorder) index(entry string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, e := range r.log {
		if e == entry {
			return i
		}
	}
	return -1
}

func (r *recorder) entries() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.log...)
}
