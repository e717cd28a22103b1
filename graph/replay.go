package graph

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"
)

// RecordedCall captures one delegate exchange so a run can be replayed
// without calling the workers again.
type RecordedCall struct {
	Step      string `json:"step"`
	Iteration int    `json:"iteration"`

	// Hash is "sha256:<hex>" of the request with its run ID cleared, so
	// replays under a new run ID still match.
	Hash string `json:"hash"`

	Response Response `json:"response"`

	// Error is the delegate's error text when the call failed.
	Error string `json:"error,omitempty"`

	Duration time.Duration `json:"duration"`
}

// Recorder wraps a Delegate and captures every exchange it forwards.
//
//	rec := graph.NewRecorder(remote.NewClient(url))
//	... run the workflow with rec as the delegate ...
//	data, _ := json.Marshal(rec.Calls())
type Recorder struct {
	delegate Delegate

	mu    sync.Mutex
	calls []RecordedCall
}

// NewRecorder returns a Recorder forwarding to d.
func NewRecorder(d Delegate) *Recorder {
	return &Recorder{delegate: d}
}

func (r *Recorder) Invoke(ctx context.Context, req Request) (Response, error) {
	start := time.Now()
	resp, err := r.delegate.Invoke(ctx, req)

	call := RecordedCall{
		Step:      req.Step,
		Iteration: req.Iteration,
		Hash:      requestHash(req),
		Response:  resp,
		Duration:  time.Since(start),
	}
	if err != nil {
		call.Error = err.Error()
	}

	r.mu.Lock()
	r.calls = append(r.calls, call)
	r.mu.Unlock()
	return resp, err
}

// Calls returns the recorded exchanges in call order.
func (r *Recorder) Calls() []RecordedCall {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]RecordedCall(nil), r.calls...)
}

// Replayer answers delegate calls from recordings.
//
// A call is matched to the first unused recording with the same step and
// loop iteration. In strict mode the request hash must match too, which
// catches a workflow that now sends different state than when recorded.
// Unmatched calls fail with ErrReplayMismatch.
type Replayer struct {
	strict bool

	mu    sync.Mutex
	calls []RecordedCall
	used  []bool
}

// NewReplayer returns a Replayer over calls.
func NewReplayer(calls []RecordedCall, strict bool) *Replayer {
	return &Replayer{
		strict: strict,
		calls:  append([]RecordedCall(nil), calls...),
		used:   make([]bool, len(calls)),
	}
}

func (p *Replayer) Invoke(ctx context.Context, req Request) (Response, error) {
	if err := ctx.Err(); err != nil {
		return Response{}, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	for i, call := range p.calls {
		if p.used[i] || call.Step != req.Step || call.Iteration != req.Iteration {
			continue
		}
		if p.strict {
			if got := requestHash(req); got != call.Hash {
				return Response{}, fmt.Errorf("%w: step %s iteration %d: request %s, recorded %s",
					ErrReplayMismatch, req.Step, req.Iteration, got, call.Hash)
			}
		}
		p.used[i] = true
		if call.Error != "" {
			return Response{}, errors.New(call.Error)
		}
		return call.Response, nil
	}
	return Response{}, fmt.Errorf("%w: no recording for step %s iteration %d", ErrReplayMismatch, req.Step, req.Iteration)
}

// Remaining returns how many recordings have not been replayed.
func (p *Replayer) Remaining() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, u := range p.used {
		if !u {
			n++
		}
	}
	return n
}

func requestHash(req Request) string {
	req.RunID = ""
	// Request holds only JSON-safe values; map keys are encoded sorted.
	data, _ := json.Marshal(req)
	sum := sha256.Sum256(data)
	return "sha256:" + hex.EncodeToString(sum[:])
}
