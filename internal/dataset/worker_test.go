package dataset

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jengzang/hexmap-backend-go/internal/hexgrid/hexgridtest"
)

type panickyOracle struct {
	*hexgridtest.Fake
}

func (panickyOracle) ResolutionOf(string) (int, bool) {
	panic("boom")
}

func riskRequest(buf []byte) Request {
	return Request{Buf: buf, Options: Options{Schema: RiskSchema, Policy: ExpandDuplicate, Smooth: DefaultSmoothOptions}}
}

func TestWorkerDone(t *testing.T) {
	buf := gz(t, `{"data":[["a1",0.2],["a10",0.6]],"meta":{"weather_datetime":"2025-05-05 12:00"}}`)
	w := NewWorker("risk", hexgridtest.New())

	var progress []string
	res, err := Await(context.Background(), w.Start(context.Background(), riskRequest(buf)), func(m string) {
		progress = append(progress, m)
	})
	require.NoError(t, err)

	assert.Equal(t, 2, res.Meta.MaxRes)
	assert.Equal(t, "2025-05-05 12:00", res.Meta.UpdatedAt)
	assert.Equal(t, 8, res.Base.Len())
	assert.False(t, res.Smooth.Applied)
	assert.NotEmpty(t, progress)
}

func TestWorkerProcessingErrorIsTerminal(t *testing.T) {
	w := NewWorker("risk", hexgridtest.New())
	ch := w.Start(context.Background(), riskRequest([]byte("<html>")))

	var terminal []Message
	for msg := range ch {
		if msg.Type != MsgProgress {
			terminal = append(terminal, msg)
		}
	}
	require.Len(t, terminal, 1)
	assert.Equal(t, MsgError, terminal[0].Type)
	assert.True(t, errors.Is(terminal[0].Err, ErrParse))
}

func TestWorkerRecoversPanics(t *testing.T) {
	w := NewWorker("risk", panickyOracle{hexgridtest.New()})
	_, err := Await(context.Background(), w.Start(context.Background(), riskRequest([]byte(`[["a1",1]]`))), nil)
	assert.True(t, errors.Is(err, ErrWorker))
}

func TestAwaitHonoursContext(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := Await(ctx, make(chan Message), nil)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestPrepareSynchronous(t *testing.T) {
	res, err := Prepare(context.Background(), hexgridtest.New(), riskRequest([]byte(`[["b12",0.3]]`)), nil)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Base.MaxRes)
	assert.Equal(t, 1, res.Base.Len())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = Prepare(ctx, hexgridtest.New(), riskRequest([]byte(`[["b12",0.3]]`)), nil)
	assert.ErrorIs(t, err, context.Canceled)
}
