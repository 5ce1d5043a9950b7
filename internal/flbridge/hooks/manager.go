package hooks

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Manager manages hook registration and asynchronous execution.
type Manager struct {
	hooks     map[EventType][]Hook
	stdioHook *StdioHook
	mu        sync.RWMutex
	pool      *executionPool
	logger    *zap.SugaredLogger
	config    Config
}

// NewManager creates a new hook manager.
func NewManager(config Config, logger *zap.SugaredLogger) *Manager {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	if _, err := time.ParseDuration(config.Timeout); err != nil {
		logger.Warnw("invalid hook timeout, using default", "timeout", config.Timeout, "error", err)
	}

	m := &Manager{
		hooks:  make(map[EventType][]Hook),
		logger: logger,
		config: config,
		pool:   newExecutionPool(config.Concurrency, logger),
	}

	if config.StdioFormat != "" {
		_ = m.EnableStdioOutput(config.StdioFormat)
	}
	return m
}

// RegisterHook registers a hook for the specified event type.
func (m *Manager) RegisterHook(eventType EventType, hook Hook) error {
	if hook == nil {
		return fmt.Errorf("cannot register nil hook")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.hooks[eventType] = append(m.hooks[eventType], hook)
	m.logger.Infow("hook registered", "event_type", eventType, "hook_type", hook.Type(), "hook_id", hook.ID())
	return nil
}

// UnregisterHook removes a hook by ID from the specified event type.
func (m *Manager) UnregisterHook(eventType EventType, hookID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	hs := m.hooks[eventType]
	for i, h := range hs {
		if h.ID() == hookID {
			m.hooks[eventType] = append(hs[:i], hs[i+1:]...)
			m.logger.Infow("hook unregistered", "event_type", eventType, "hook_id", hookID)
			return true
		}
	}
	return false
}

// TriggerEvent executes all registered hooks for the given event
// asynchronously. Hook failures are logged and never propagated.
func (m *Manager) TriggerEvent(ctx context.Context, event Event) {
	if m == nil {
		return
	}
	m.mu.RLock()
	hs := make([]Hook, len(m.hooks[event.Type]))
	copy(hs, m.hooks[event.Type])
	stdio := m.stdioHook
	m.mu.RUnlock()

	if stdio != nil {
		hs = append(hs, stdio)
	}
	if len(hs) == 0 {
		return
	}

	timeout, err := time.ParseDuration(m.config.Timeout)
	if err != nil || timeout <= 0 {
		timeout = 30 * time.Second
	}

	m.logger.Debugw("triggering event", "event_type", event.Type, "hook_count", len(hs), "event", event.String())
	for _, h := range hs {
		m.pool.execute(ctx, h, event, timeout)
	}
}

// EnableStdioOutput enables structured event output to stdio.
func (m *Manager) EnableStdioOutput(format string) error {
	if format != "json" && format != "env" {
		return fmt.Errorf("unsupported stdio format: %s", format)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stdioHook = NewStdioHook("stdio", format)
	m.logger.Infow("stdio output enabled", "format", format)
	return nil
}

// DisableStdioOutput disables structured event output to stdio.
func (m *Manager) DisableStdioOutput() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stdioHook = nil
	m.logger.Infow("stdio output disabled")
}

// Stats reports registered hook counts, keyed for operator visibility.
func (m *Manager) Stats() map[string]interface{} {
	m.mu.RLock()
	defer m.mu.RUnlock()

	byType := make(map[string]int)
	total := 0
	for et, hs := range m.hooks {
		byType[string(et)] = len(hs)
		total += len(hs)
	}
	return map[string]interface{}{
		"event_types":   len(m.hooks),
		"total_hooks":   total,
		"hooks_by_type": byType,
		"stdio_enabled": m.stdioHook != nil,
		"pool_size":     m.pool.size,
		"pool_active":   m.pool.active,
	}
}

// Close shuts down the manager, waiting for in-flight hook executions.
func (m *Manager) Close() error {
	if m.pool != nil {
		m.pool.close()
	}
	m.logger.Infow("hook manager closed")
	return nil
}

// executionPool bounds concurrent hook execution with a fixed worker slot count.
type executionPool struct {
	workers chan struct{}
	size    int
	active  int
	mu      sync.Mutex
	logger  *zap.SugaredLogger
}

func newExecutionPool(size int, logger *zap.SugaredLogger) *executionPool {
	if size <= 0 {
		size = 10
	}
	return &executionPool{workers: make(chan struct{}, size), size: size, logger: logger}
}

func (p *executionPool) execute(ctx context.Context, hook Hook, event Event, timeout time.Duration) {
	go func() {
		p.workers <- struct{}{}
		defer func() { <-p.workers }()

		p.mu.Lock()
		p.active++
		p.mu.Unlock()
		defer func() {
			p.mu.Lock()
			p.active--
			p.mu.Unlock()
		}()

		hookCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		start := time.Now()
		err := hook.Execute(hookCtx, event)
		dur := time.Since(start)

		if err != nil {
			p.logger.Errorw("hook execution failed",
				"hook_type", hook.Type(), "hook_id", hook.ID(),
				"event_type", event.Type, "duration_ms", dur.Milliseconds(), "error", err)
		} else {
			p.logger.Debugw("hook executed",
				"hook_type", hook.Type(), "hook_id", hook.ID(),
				"event_type", event.Type, "duration_ms", dur.Milliseconds())
		}
	}()
}

func (p *executionPool) close() {
	for i := 0; i < cap(p.workers); i++ {
		p.workers <- struct{}{}
	}
}
