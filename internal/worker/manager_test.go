package worker

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeWorker struct {
	name     string
	startErr error
	started  bool
	stopped  bool
	stopLog  *[]string
}

func (w *fakeWorker) Start(ctx context.Context) error {
	if w.startErr != nil {
		return w.startErr
	}
	w.started = true
	return nil
}

func (w *fakeWorker) Stop() {
	w.stopped = true
	if w.stopLog != nil {
		*w.stopLog = append(*w.stopLog, w.name)
	}
}

func (w *fakeWorker) Name() string { return w.name }

func TestManagerStartAll(t *testing.T) {
	m := NewManager(zap.NewNop())

	a := &fakeWorker{name: "a"}
	b := &fakeWorker{name: "b"}
	m.Register(a)
	m.Register(b)

	require.NoError(t, m.StartAll(context.Background()))
	assert.True(t, a.started)
	assert.True(t, b.started)
}

func TestManagerStartAllStopsOnError(t *testing.T) {
	m := NewManager(zap.NewNop())

	a := &fakeWorker{name: "a"}
	broken := &fakeWorker{name: "broken", startErr: errors.New("boom")}
	c := &fakeWorker{name: "c"}
	m.Register(a)
	m.Register(broken)
	m.Register(c)

	err := m.StartAll(context.Background())
	require.Error(t, err)
	assert.True(t, a.started)
	assert.False(t, c.started, "workers after the failure are not started")
}

func TestManagerStopAllReverseOrder(t *testing.T) {
	m := NewManager(zap.NewNop())

	var log []string
	a := &fakeWorker{name: "a", stopLog: &log}
	b := &fakeWorker{name: "b", stopLog: &log}
	m.Register(a)
	m.Register(b)

	require.NoError(t, m.StartAll(context.Background()))
	m.StopAll()

	assert.True(t, a.stopped)
	assert.True(t, b.stopped)
	assert.Equal(t, []string{"b", "a"}, log)
}
