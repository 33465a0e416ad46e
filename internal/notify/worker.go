package notify

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"
)

var errCircuitOpen = errors.New("circuit_open")

const sendTimeout = 5 * time.Second

func (m *Manager) worker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-m.done:
			return
		case j := <-m.dispatchCh:
			metricNotifyQueueLen.Set(int64(len(m.dispatchCh)))
			m.processJob(ctx, j)
		}
	}
}

func (m *Manager) processJob(ctx context.Context, j job) {
	adapter := m.adapters[j.Adapter]
	if adapter == nil {
		metricNotifyDroppedTotal.Add(1)
		return
	}

	if err := m.beforeSend(j.Adapter, time.Now()); err != nil {
		metricNotifyCircuitOpenTotal.Add(1)
		m.retryOrDrop(j, err)
		return
	}

	sendCtx, cancel := context.WithTimeout(ctx, sendTimeout)
	err := adapter.Send(sendCtx, j.Payload)
	cancel()
	if err != nil {
		metricNotifyFailedTotal.Add(1)
		m.afterFailure(j.Adapter, time.Now())
		m.retryOrDrop(j, err)
		return
	}

	metricNotifySentTotal.Add(1)
	m.afterSuccess(j.Adapter)
}

func (m *Manager) retryOrDrop(j job, err error) bool {
	if j.Attempt >= m.cfg.RetryMax {
		metricNotifyRetryDroppedTotal.Add(1)
		log.Error().Err(err).
			Str("session_id", j.Payload.SessionID).
			Str("adapter", j.Adapter).
			Int("attempts", j.Attempt+1).
			Msg("notification dropped")
		return false
	}
	j.Attempt++
	metricNotifyRetryTotal.Add(1)
	delay := m.cfg.RetryBase * time.Duration(1<<(j.Attempt-1))
	m.retryQ.Enqueue(j, delay)
	return true
}

func (m *Manager) beforeSend(key string, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	state := m.breakerByKey[key]
	if !state.openUntil.IsZero() && now.Before(state.openUntil) {
		return errCircuitOpen
	}
	return nil
}

func (m *Manager) afterFailure(key string, now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	state := m.breakerByKey[key]
	state.consecutiveFailures++
	if state.consecutiveFailures >= m.cfg.FailureThreshold {
		state.openUntil = now.Add(m.cfg.CircuitOpenDuration)
		state.consecutiveFailures = 0
	}
	m.breakerByKey[key] = state
}

func (m *Manager) afterSuccess(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.breakerByKey[key] = breakerState{}
}
