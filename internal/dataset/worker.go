package dataset

import (
	"context"
	"fmt"

	"github.com/apex/log"

	"github.com/jengzang/hexmap-backend-go/internal/hexgrid"
)

// MessageType tags worker messages.
type MessageType string

const (
	MsgProgress MessageType = "progress"
	MsgDone     MessageType = "done"
	MsgError    MessageType = "error"
)

// Options tune one preparation run.
type Options struct {
	Schema Schema
	Policy ExpandPolicy
	Smooth SmoothOptions
}

// Request is the single message sent to a worker. Payload, when set, is
// used as already decoded and Buf is ignored.
type Request struct {
	Buf     []byte
	Payload *Payload
	Options Options
}

// ResultMeta travels with the prepared table.
type ResultMeta struct {
	UpdatedAt string `json:"weather_datetime,omitempty"`
	MaxRes    int    `json:"MAX_RES"`
}

// Result is the prepared dataset.
type Result struct {
	Meta    ResultMeta
	Payload Meta
	Base    *Base
	Build   BuildStats
	Smooth  SmoothStats
	Skipped int
}

// Message is one worker response. Exactly one terminal message (done or
// error) is sent per request; progress messages carry no data.
type Message struct {
	Type   MessageType
	Msg    string
	Result *Result
	Err    error
}

// Prepare decodes, expands and optionally smooths a payload on the calling
// goroutine. It is the body of the worker and the synchronous fallback.
func Prepare(ctx context.Context, oracle hexgrid.Oracle, req Request, progress func(string)) (*Result, error) {
	if progress == nil {
		progress = func(string) {}
	}

	payload := req.Payload
	if payload == nil {
		progress("Parsing payload")
		decoded, err := Decode(req.Buf, req.Options.Schema)
		if err != nil {
			return nil, err
		}
		payload = decoded
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	progress("Expanding to base resolution")
	base, build := BuildBase(oracle, payload.Rows, req.Options.Policy, progress)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	base, smooth := Smooth(oracle, base, req.Options.Smooth, progress)

	return &Result{
		Meta:    ResultMeta{UpdatedAt: payload.Meta.UpdatedAt, MaxRes: base.MaxRes},
		Payload: payload.Meta,
		Base:    base,
		Build:   build,
		Smooth:  smooth,
		Skipped: payload.Skipped,
	}, nil
}

// Worker runs Prepare on its own goroutine and reports over a channel.
type Worker struct {
	oracle hexgrid.Oracle
	name   string
}

// NewWorker creates a worker preparing data for the named layer.
func NewWorker(name string, oracle hexgrid.Oracle) *Worker {
	return &Worker{oracle: oracle, name: name}
}

// Start launches preparation of req. Progress messages are dropped when the
// reader falls behind; the terminal message is always delivered unless ctx
// is cancelled first. The channel is closed after the terminal message.
func (w *Worker) Start(ctx context.Context, req Request) <-chan Message {
	ch := make(chan Message, 16)
	go func() {
		defer close(ch)
		res, err := w.run(ctx, req, ch)
		msg := Message{Type: MsgDone, Result: res}
		if err != nil {
			msg = Message{Type: MsgError, Err: err, Msg: err.Error()}
		}
		select {
		case ch <- msg:
		case <-ctx.Done():
		}
	}()
	return ch
}

func (w *Worker) run(ctx context.Context, req Request, ch chan<- Message) (res *Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			log.WithField("layer", w.name).Errorf("[Worker] panic: %v", r)
			res, err = nil, fmt.Errorf("%w: %v", ErrWorker, r)
		}
	}()
	progress := func(msg string) {
		select {
		case ch <- Message{Type: MsgProgress, Msg: msg}:
		default:
		}
	}
	return Prepare(ctx, w.oracle, req, progress)
}

// Await reads messages until the terminal one, passing progress text to
// onProgress.
func Await(ctx context.Context, ch <-chan Message, onProgress func(string)) (*Result, error) {
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil, fmt.Errorf("%w: worker exited without a result", ErrWorker)
			}
			switch msg.Type {
			case MsgProgress:
				if onProgress != nil {
					onProgress(msg.Msg)
				}
			case MsgDone:
				return msg.Result, nil
			case MsgError:
				return nil, msg.Err
			}
		}
	}
}
