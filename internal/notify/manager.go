package notify

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

type breakerState struct {
	consecutiveFailures int
	openUntil           time.Time
}

type Manager struct {
	cfg      Config
	adapters map[string]Adapter

	dispatchCh chan job
	retryQ     *retryQueue
	done       chan struct{}
	closeOnce  sync.Once

	mu           sync.Mutex
	started      bool
	breakerByKey map[string]breakerState
}

func NewManager(cfg Config, adapters ...Adapter) *Manager {
	if cfg.DispatchBuffer <= 0 {
		cfg.DispatchBuffer = 1024
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = 500 * time.Millisecond
	}
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 3
	}
	if cfg.CircuitOpenDuration <= 0 {
		cfg.CircuitOpenDuration = 30 * time.Second
	}
	m := &Manager{
		cfg:          cfg,
		adapters:     map[string]Adapter{},
		dispatchCh:   make(chan job, cfg.DispatchBuffer),
		done:         make(chan struct{}),
		breakerByKey: map[string]breakerState{},
	}
	for _, a := range adapters {
		if a != nil {
			m.adapters[a.Name()] = a
		}
	}
	m.retryQ = newRetryQueue(m.dispatchCh, m.done)
	return m
}

// Start launches the workers. They exit when ctx is cancelled or Close is
// called.
func (m *Manager) Start(ctx context.Context) error {
	if !m.cfg.Enabled {
		return nil
	}
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return nil
	}
	m.started = true
	m.mu.Unlock()

	for i := 0; i < m.cfg.Workers; i++ {
		go m.worker(ctx)
	}
	go func() {
		select {
		case <-ctx.Done():
			m.Close()
		case <-m.done:
		}
	}()
	return nil
}

func (m *Manager) Close() {
	m.closeOnce.Do(func() { close(m.done) })
}

// Notify queues n for every adapter. It never blocks; a full queue drops
// the notification.
func (m *Manager) Notify(_ context.Context, n Notification) {
	if !m.cfg.Enabled {
		return
	}
	if n.Event == "" {
		n.Event = EventMatchEnded
	}
	for name := range m.adapters {
		if !m.enqueue(job{Adapter: name, Payload: n}) {
			metricNotifyDroppedTotal.Add(1)
			log.Warn().Str("session_id", n.SessionID).Str("adapter", name).Msg("notify queue full, dropping")
		}
	}
}

func (m *Manager) enqueue(j job) bool {
	select {
	case <-m.done:
		return false
	default:
	}
	select {
	case m.dispatchCh <- j:
		metricNotifyQueuedTotal.Add(1)
		metricNotifyQueueLen.Set(int64(len(m.dispatchCh)))
		return true
	default:
		return false
	}
}
