package session

import (
	"errors"
	"os"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingFlusher struct {
	calls int
	err   error
}

func (f *countingFlusher) Flush() error {
	f.calls++
	return f.err
}

func TestHandleSignalsFlushesThenExits(t *testing.T) {
	for _, tc := range []struct {
		sig  os.Signal
		code int
	}{
		{sig: os.Interrupt, code: 130},
		{sig: syscall.SIGTERM, code: 143},
	} {
		flusher := &countingFlusher{}
		signals := make(chan os.Signal, 1)
		exited := make(chan int, 1)
		signals <- tc.sig
		handleSignals(signals, make(chan struct{}), flusher, nil, func(code int) { exited <- code })
		assert.Equal(t, 1, flusher.calls)
		assert.Equal(t, tc.code, <-exited)
	}
}

func TestHandleSignalsExitsEvenWhenFlushFails(t *testing.T) {
	flusher := &countingFlusher{err: errors.New("disk full")}
	signals := make(chan os.Signal, 1)
	signals <- os.Interrupt
	var code int
	handleSignals(signals, make(chan struct{}), flusher, nil, func(c int) { code = c })
	assert.Equal(t, 130, code)
}

func TestInstallExitHandlersUninstall(t *testing.T) {
	flusher := &countingFlusher{}
	stop := InstallExitHandlers(flusher, nil, func(int) { t.Error("exit must not be called") })
	stop()
	time.Sleep(10 * time.Millisecond)
	assert.Zero(t, flusher.calls)
}

func TestFlushOnPanicFlushesAndRepanics(t *testing.T) {
	flusher := &countingFlusher{}
	require.PanicsWithValue(t, "boom", func() {
		defer FlushOnPanic(flusher, nil)
		panic("boom")
	})
	assert.Equal(t, 1, flusher.calls)
}

func TestFlushOnPanicNoopWithoutPanic(t *testing.T) {
	flusher := &countingFlusher{}
	func() {
		defer FlushOnPanic(flusher, nil)
	}()
	assert.Zero(t, flusher.calls)
}

func TestManagerFlushWritesRecoverableState(t *testing.T) {
	m, dir := newTestManager(t, 2)
	sess, err := m.Start("goal", "")
	require.NoError(t, err)
	require.NoError(t, m.SetContext("plan", "keep me"))
	flushQuietly(m, nil, "test", "manual")

	next := NewManager()
	require.NoError(t, next.Initialize(Config{SessionDir: dir, MaxRetries: 2, AutoSave: true, DebounceDelay: testDebounce}))
	t.Cleanup(func() { _ = next.Close() })
	current := next.Current()
	require.NotNil(t, current)
	assert.Equal(t, sess.ID, current.ID)
	assert.Equal(t, "keep me", current.Context["plan"])
}
