// Package supervisor implements the process lifecycle: ordered graceful
// shutdown on SIGTERM/SIGINT/SIGHUP, a bounded drain window, and
// emergency shutdown on panics recovered at the top of main. Teardown
// order is explicit; components register steps with a priority instead
// of relying on defer chains in main.
package supervisor

import (
	"context"
	"os"
	"os/signal"
	"sort"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/reviewharvest/pipeline/internal/obs"
)

// Handler is one ordered shutdown step. It should honor ctx's deadline
// and return promptly.
type Handler func(ctx context.Context) error

type registeredHandler struct {
	name     string
	priority int
	fn       Handler
}

// Supervisor owns the process's signal handling and ordered shutdown
// sequence: stop health monitor, stop new reservations, drain in-flight
// work, close broker, close DB pool, flush logs. Handlers are
// registered with a priority; lower priorities run first.
type Supervisor struct {
	mu              sync.Mutex
	handlers        []registeredHandler
	shutdownTimeout time.Duration
	log             *zap.Logger
}

// New constructs a Supervisor. shutdownTimeout bounds the entire
// ordered shutdown sequence (default 30s); if exceeded the process
// force-exits with status 1.
func New(log *zap.Logger, shutdownTimeout time.Duration) *Supervisor {
	if shutdownTimeout <= 0 {
		shutdownTimeout = 30 * time.Second
	}
	return &Supervisor{shutdownTimeout: shutdownTimeout, log: log}
}

// Register adds a named shutdown step at priority. Steps run in
// ascending priority order, sequentially, each given the remaining time
// budget.
func (s *Supervisor) Register(name string, priority int, fn Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers = append(s.handlers, registeredHandler{name: name, priority: priority, fn: fn})
}

// Run blocks until ctx is cancelled or a SIGTERM/SIGINT/SIGHUP arrives,
// then executes the ordered shutdown sequence. It returns once shutdown
// completes or the shutdown timeout forces an exit.
func (s *Supervisor) Run(ctx context.Context) {
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigCh)

	select {
	case sig := <-sigCh:
		s.log.Info("supervisor.signal_received", obs.String("signal", sig.String()))
	case <-ctx.Done():
		s.log.Info("supervisor.context_cancelled")
	}

	done := make(chan struct{})
	go func() {
		s.shutdown()
		close(done)
	}()

	select {
	case <-done:
		s.log.Info("supervisor.shutdown_complete")
	case <-time.After(s.shutdownTimeout):
		s.log.Error("supervisor.shutdown_timeout_forced_exit", obs.String("timeout", s.shutdownTimeout.String()))
		os.Exit(1)
	case sig := <-sigCh:
		s.log.Warn("supervisor.second_signal_forced_exit", obs.String("signal", sig.String()))
		os.Exit(1)
	}
}

func (s *Supervisor) shutdown() {
	s.mu.Lock()
	handlers := make([]registeredHandler, len(s.handlers))
	copy(handlers, s.handlers)
	s.mu.Unlock()

	sort.SliceStable(handlers, func(i, j int) bool { return handlers[i].priority < handlers[j].priority })

	deadline := time.Now().Add(s.shutdownTimeout)
	for _, h := range handlers {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			remaining = time.Second
		}
		ctx, cancel := context.WithTimeout(context.Background(), remaining)
		if err := h.fn(ctx); err != nil {
			s.log.Warn("supervisor.handler_failed", obs.String("handler", h.name), obs.Err(err))
		} else {
			s.log.Info("supervisor.handler_completed", obs.String("handler", h.name))
		}
		cancel()
	}
}

// EmergencyShutdown is invoked from a recover() at the top of main on
// an uncaught panic: best-effort close of closers, then force-exit
// within 1s regardless of whether the closes finish.
func EmergencyShutdown(log *zap.Logger, closers ...func() error) {
	log.Error("supervisor.emergency_shutdown")
	done := make(chan struct{})
	go func() {
		for _, c := range closers {
			_ = c()
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
	}
	_ = log.Sync()
	os.Exit(1)
}

// Priorities for the standard shutdown steps; callers assign their
// registrations relative to these.
const (
	PriorityHealthMonitor = 10
	PriorityStopReserving = 20
	PriorityDrainWorkers  = 30
	PriorityCloseHTTP     = 35
	PriorityCloseBroker   = 40
	PriorityCloseDB       = 50
	PriorityFlushLogs     = 60
)
