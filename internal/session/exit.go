package session

import (
	"log/slog"
	"os"
	"os/signal"
	"syscall"
)

// Flusher writes pending state synchronously.
type Flusher interface {
	Flush() error
}

// InstallExitHandlers flushes f when the process receives SIGINT or SIGTERM
// and then calls exit with the conventional 128+signal code. Flush errors are
// logged and never prevent exit. The returned function uninstalls the handler.
func InstallExitHandlers(f Flusher, logger *slog.Logger, exit func(int)) func() {
	if exit == nil {
		exit = os.Exit
	}
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, os.Interrupt, syscall.SIGTERM)
	done := make(chan struct{})
	go handleSignals(signals, done, f, logger, exit)
	return func() {
		signal.Stop(signals)
		close(done)
	}
}

func handleSignals(signals <-chan os.Signal, done <-chan struct{}, f Flusher, logger *slog.Logger, exit func(int)) {
	select {
	case <-done:
		return
	case sig := <-signals:
		code := 130
		if sig == syscall.SIGTERM {
			code = 143
		}
		flushQuietly(f, logger, "signal", sig.String())
		exit(code)
	}
}

// FlushOnPanic must be deferred directly. It flushes f when the goroutine is
// panicking and then re-panics with the original value.
func FlushOnPanic(f Flusher, logger *slog.Logger) {
	if r := recover(); r != nil {
		flushQuietly(f, logger, "panic", r)
		panic(r)
	}
}

func flushQuietly(f Flusher, logger *slog.Logger, cause string, detail any) {
	if logger == nil {
		logger = slog.Default()
	}
	if f == nil {
		return
	}
	if err := f.Flush(); err != nil {
		logger.Error("session: final flush failed", "cause", cause, "detail", detail, "error", err)
		return
	}
	logger.Info("session: final flush", "cause", cause, "detail", detail)
}
