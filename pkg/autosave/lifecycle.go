package autosave

import (
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/rs/zerolog"
)

// handlers is the registry shared by the Lifecycle implementations.
type handlers struct {
	mu   sync.Mutex
	list []TeardownHandler
}

func (h *handlers) RegisterTeardownHandler(th TeardownHandler) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, x := range h.list {
		if x == th {
			return
		}
	}
	h.list = append(h.list, th)
}

func (h *handlers) UnregisterTeardownHandler(th TeardownHandler) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i, x := range h.list {
		if x == th {
			h.list = append(h.list[:i], h.list[i+1:]...)
			return
		}
	}
}

// run calls every handler, most recently registered first.  A panicking
// handler does not stop the others.
func (h *handlers) run(log zerolog.Logger) {
	h.mu.Lock()
	list := make([]TeardownHandler, len(h.list))
	copy(list, h.list)
	h.mu.Unlock()

	for i := len(list) - 1; i >= 0; i-- {
		func() {
			defer func() {
				if r := recover(); r != nil {
					log.Error().Interface("panic", r).Msg("teardown handler panicked")
				}
			}()
			list[i].Teardown()
		}()
	}
}

// ManualLifecycle tears down when told to.
type ManualLifecycle struct {
	handlers
}

// Registered returns the number of registered handlers.
func (m *ManualLifecycle) Registered() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.list)
}

// Teardown runs every registered handler synchronously.
func (m *ManualLifecycle) Teardown() {
	m.run(zerolog.Nop())
}

// SignalLifecycle tears down when the process receives SIGINT or SIGTERM.
type SignalLifecycle struct {
	handlers
	log  zerolog.Logger
	sigs chan os.Signal
	stop chan struct{}
	done chan struct{}
	once sync.Once
}

// NewSignalLifecycle starts listening for termination signals.
func NewSignalLifecycle(log zerolog.Logger) *SignalLifecycle {
	l := &SignalLifecycle{
		log:  log,
		sigs: make(chan os.Signal, 1),
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	signal.Notify(l.sigs, os.Interrupt, syscall.SIGTERM)
	go l.wait()
	return l
}

func (l *SignalLifecycle) wait() {
	select {
	case sig := <-l.sigs:
		l.log.Info().Str("signal", sig.String()).Msg("tearing down")
		l.run(l.log)
	case <-l.stop:
	}
	signal.Stop(l.sigs)
	close(l.done)
}

// Done is closed once teardown handlers have run, or Stop was called.
func (l *SignalLifecycle) Done() <-chan struct{} { return l.done }

// Stop listening for signals without running any handlers.
func (l *SignalLifecycle) Stop() {
	l.once.Do(func() { close(l.stop) })
}
