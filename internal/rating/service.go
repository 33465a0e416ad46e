package rating

import (
	"context"
	"fmt"
	"time"

	"staked-arena/internal/session"
	"staked-arena/internal/store"
)

type Queue interface {
	EnqueueRatedGame(ctx context.Context, g store.RatedGame) error
}

// Service is the live half of rating: it queues finished games for the
// weekly batch.
type Service struct {
	queue Queue
	now   func() time.Time
}

func NewService(q Queue) *Service {
	return &Service{queue: q, now: time.Now}
}

func (s *Service) RecordResult(ctx context.Context, sess *session.Session, result session.Result) error {
	if sess == nil || !result.Rated() {
		return nil
	}
	white, okW := sess.PlayerOn(session.White)
	black, okB := sess.PlayerOn(session.Black)
	if !okW || !okB {
		return fmt.Errorf("session %s: missing participant side", sess.ID)
	}
	endedAt := s.now().UTC()
	if sess.EndedAt != nil {
		endedAt = sess.EndedAt.UTC()
	}
	return s.queue.EnqueueRatedGame(ctx, store.RatedGame{
		SessionID: sess.ID,
		WhiteID:   white,
		BlackID:   black,
		Score:     result.Score(),
		EndedAt:   endedAt,
	})
}
