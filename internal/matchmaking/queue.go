// Package matchmaking pairs queued players FIFO within buckets of
// (mode, option, stake tier).
package matchmaking

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"staked-arena/internal/events"
	"staked-arena/internal/session"

	"github.com/rs/zerolog/log"
)

type Queue struct {
	factory SessionFactory
	pub     Broadcaster
	tcs     TimeControlLookup
	tiers   []int64
	now     func() time.Time

	mu      sync.Mutex
	buckets map[BucketKey][]Entry
	where   map[string]BucketKey
	pairing map[BucketKey]bool
}

// New builds a queue. tiers are ascending stake lower bounds; a stake
// belongs to the highest tier it reaches, and stakes below the first tier
// are rejected.
func New(factory SessionFactory, pub Broadcaster, tcs TimeControlLookup, tiers []int64) *Queue {
	sorted := append([]int64(nil), tiers...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	if len(sorted) == 0 {
		sorted = []int64{0}
	}
	return &Queue{
		factory: factory,
		pub:     pub,
		tcs:     tcs,
		tiers:   sorted,
		now:     time.Now,
		buckets: map[BucketKey][]Entry{},
		where:   map[string]BucketKey{},
		pairing: map[BucketKey]bool{},
	}
}

// KeyFor resolves the bucket an entry with these parameters joins.
func (q *Queue) KeyFor(mode, option string, stake int64) (BucketKey, error) {
	mode = strings.ToUpper(strings.TrimSpace(mode))
	option = strings.ToUpper(strings.TrimSpace(option))
	if _, err := q.tcs.Lookup(mode, option); err != nil {
		return BucketKey{}, err
	}
	tier := -1
	for i, floor := range q.tiers {
		if stake >= floor {
			tier = i
		}
	}
	if tier < 0 {
		return BucketKey{}, fmt.Errorf("%w: minimum is %d", ErrStakeTooLow, q.tiers[0])
	}
	return BucketKey{Mode: mode, Option: option, StakeTier: tier}, nil
}

// Join queues e and runs a pairing pass on its bucket. A player already in
// the same bucket keeps their place and only the transport is updated; a
// player queued elsewhere is moved.
func (q *Queue) Join(ctx context.Context, e Entry) (JoinResult, error) {
	if strings.TrimSpace(e.PlayerID) == "" {
		return JoinResult{}, fmt.Errorf("%w: player id required", ErrInvalidEntry)
	}
	key, err := q.KeyFor(e.Mode, e.Option, e.Stake)
	if err != nil {
		return JoinResult{}, err
	}
	e.Mode, e.Option = key.Mode, key.Option
	if e.JoinedAt.IsZero() {
		e.JoinedAt = q.now()
	}

	q.mu.Lock()
	res := JoinResult{Key: key}
	var movedFrom *BucketKey
	if prev, ok := q.where[e.PlayerID]; ok {
		if prev == key {
			bucket := q.buckets[key]
			for i := range bucket {
				if bucket[i].PlayerID == e.PlayerID {
					bucket[i].Transport = e.Transport
					bucket[i].Stake = e.Stake
					res.Position = i + 1
				}
			}
			res.Rejoined = true
		} else {
			q.removeLocked(e.PlayerID)
			movedFrom = &prev
		}
	}
	if !res.Rejoined {
		q.buckets[key] = append(q.buckets[key], e)
		q.where[e.PlayerID] = key
		res.Position = len(q.buckets[key])
	}
	res.Status = q.statusLocked(key)
	var (
		prevPeers  []Entry
		prevStatus QueueStatus
	)
	if movedFrom != nil {
		prevPeers = append(prevPeers, q.buckets[*movedFrom]...)
		prevStatus = q.statusLocked(*movedFrom)
	}
	peers := append([]Entry(nil), q.buckets[key]...)
	q.mu.Unlock()

	metricQueueJoins.Add(1)
	q.pub.PublishPlayer(e.PlayerID, events.QueueJoined, queueEventPayload{
		Key:                  key,
		Position:             res.Position,
		Depth:                res.Status.Depth,
		EstimatedWaitSeconds: res.Status.EstimatedWaitSeconds,
	})
	q.publishStatus(key, res.Status, peers, e.PlayerID)
	if movedFrom != nil {
		q.publishStatus(*movedFrom, prevStatus, prevPeers, "")
	}
	log.Debug().Str("player_id", e.PlayerID).Str("bucket", key.String()).Int("position", res.Position).Msg("queue join")

	q.pair(ctx, key)
	return res, nil
}

// Leave removes playerID from whichever bucket holds them.
func (q *Queue) Leave(playerID string) bool {
	q.mu.Lock()
	key, ok := q.where[playerID]
	if ok {
		q.removeLocked(playerID)
	}
	status := q.statusLocked(key)
	peers := append([]Entry(nil), q.buckets[key]...)
	q.mu.Unlock()
	if !ok {
		return false
	}
	q.afterLeave(playerID, key, status, peers)
	return true
}

// LeaveByTransport removes every entry queued through transport.
func (q *Queue) LeaveByTransport(transport string) bool {
	if transport == "" {
		return false
	}
	type left struct {
		playerID string
		key      BucketKey
		status   QueueStatus
		peers    []Entry
	}
	q.mu.Lock()
	var gone []left
	for key, bucket := range q.buckets {
		for _, e := range bucket {
			if e.Transport == transport {
				gone = append(gone, left{playerID: e.PlayerID, key: key})
			}
		}
	}
	for _, l := range gone {
		q.removeLocked(l.playerID)
	}
	for i := range gone {
		gone[i].status = q.statusLocked(gone[i].key)
		gone[i].peers = append([]Entry(nil), q.buckets[gone[i].key]...)
	}
	q.mu.Unlock()

	for _, l := range gone {
		q.afterLeave(l.playerID, l.key, l.status, l.peers)
	}
	return len(gone) > 0
}

func (q *Queue) afterLeave(playerID string, key BucketKey, status QueueStatus, peers []Entry) {
	metricQueueLeaves.Add(1)
	q.pub.PublishPlayer(playerID, events.QueueLeft, queueEventPayload{
		Key:                  key,
		Depth:                status.Depth,
		EstimatedWaitSeconds: status.EstimatedWaitSeconds,
	})
	q.publishStatus(key, status, peers, "")
}

// Queued reports the bucket holding playerID.
func (q *Queue) Queued(playerID string) (BucketKey, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	key, ok := q.where[playerID]
	return key, ok
}

func (q *Queue) Status(key BucketKey) QueueStatus {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.statusLocked(key)
}

// Depths lists every non-empty bucket.
func (q *Queue) Depths() []QueueStatus {
	q.mu.Lock()
	out := make([]QueueStatus, 0, len(q.buckets))
	for key, bucket := range q.buckets {
		if len(bucket) == 0 {
			continue
		}
		out = append(out, q.statusLocked(key))
	}
	q.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].BucketKey.String() < out[j].BucketKey.String() })
	return out
}

func (q *Queue) statusLocked(key BucketKey) QueueStatus {
	depth := len(q.buckets[key])
	wait := emptyBucketWaitSeconds
	if depth > 0 {
		wait = busyBucketWaitSeconds
	}
	var minStake int64
	if key.StakeTier >= 0 && key.StakeTier < len(q.tiers) {
		minStake = q.tiers[key.StakeTier]
	}
	return QueueStatus{BucketKey: key, MinStake: minStake, Depth: depth, EstimatedWaitSeconds: wait}
}

func (q *Queue) removeLocked(playerID string) {
	key, ok := q.where[playerID]
	if !ok {
		return
	}
	delete(q.where, playerID)
	bucket := q.buckets[key]
	kept := bucket[:0]
	for _, e := range bucket {
		if e.PlayerID != playerID {
			kept = append(kept, e)
		}
	}
	if len(kept) == 0 {
		delete(q.buckets, key)
		return
	}
	q.buckets[key] = kept
}

// removeMatchedLocked drops both players from every bucket, by id and by
// transport, in case either was re-added while the session was created.
func (q *Queue) removeMatchedLocked(pair [2]Entry) {
	for key, bucket := range q.buckets {
		kept := bucket[:0]
		for _, e := range bucket {
			if matchesAny(e, pair) {
				delete(q.where, e.PlayerID)
				continue
			}
			kept = append(kept, e)
		}
		if len(kept) == 0 {
			delete(q.buckets, key)
		} else {
			q.buckets[key] = kept
		}
	}
	for _, e := range pair {
		delete(q.where, e.PlayerID)
	}
}

func matchesAny(e Entry, pair [2]Entry) bool {
	for _, p := range pair {
		if e.PlayerID == p.PlayerID {
			return true
		}
		if p.Transport != "" && e.Transport == p.Transport {
			return true
		}
	}
	return false
}

func (q *Queue) publishStatus(key BucketKey, status QueueStatus, peers []Entry, skip string) {
	for i, e := range peers {
		if e.PlayerID == skip {
			continue
		}
		q.pub.PublishPlayer(e.PlayerID, events.QueueStatusUpdate, queueEventPayload{
			Key:                  key,
			Position:             i + 1,
			Depth:                status.Depth,
			EstimatedWaitSeconds: status.EstimatedWaitSeconds,
		})
	}
}

// pair runs one pass over key. Only one pass per bucket runs at a time; a
// join that arrives mid-pass is picked up by the running pass. A pair whose
// match could not be created goes back to the head of the bucket and the
// pass carries on with the entries behind it, so nobody who joined during
// the failed attempt waits for the next join.
func (q *Queue) pair(ctx context.Context, key BucketKey) {
	q.mu.Lock()
	if q.pairing[key] {
		q.mu.Unlock()
		return
	}
	q.pairing[key] = true
	q.mu.Unlock()

	skip := 0
	for {
		q.mu.Lock()
		bucket := q.buckets[key]
		if len(bucket)-skip < 2 {
			delete(q.pairing, key)
			q.mu.Unlock()
			return
		}
		pair := [2]Entry{bucket[skip], bucket[skip+1]}
		rest := make([]Entry, 0, len(bucket)-2)
		rest = append(rest, bucket[:skip]...)
		rest = append(rest, bucket[skip+2:]...)
		if len(rest) == 0 {
			delete(q.buckets, key)
		} else {
			q.buckets[key] = rest
		}
		delete(q.where, pair[0].PlayerID)
		delete(q.where, pair[1].PlayerID)
		q.mu.Unlock()

		stake := min(pair[0].Stake, pair[1].Stake)
		match, err := q.factory.CreateMatch(ctx, pair[0], pair[1], stake)
		if err != nil {
			q.requeueFront(key, pair)
			skip += 2
			metricQueueMatchFailures.Add(1)
			log.Error().Err(err).
				Str("bucket", key.String()).
				Str("first", pair[0].PlayerID).
				Str("second", pair[1].PlayerID).
				Msg("create match failed")
			for _, e := range pair {
				q.pub.PublishPlayer(e.PlayerID, events.Error, events.ErrorPayload{
					Code:    codeMatchFailed,
					Message: "could not start the match, you are back in the queue",
				})
			}
			continue
		}

		q.mu.Lock()
		q.removeMatchedLocked(pair)
		status := q.statusLocked(key)
		peers := append([]Entry(nil), q.buckets[key]...)
		q.mu.Unlock()

		metricQueueMatches.Add(1)
		q.notifyMatched(match, pair)
		q.publishStatus(key, status, peers, "")
	}
}

// requeueFront puts a failed pair back at the head of the bucket, first
// ahead of second. A player who re-joined meanwhile keeps the newer
// transport but takes the original place.
func (q *Queue) requeueFront(key BucketKey, pair [2]Entry) {
	q.mu.Lock()
	defer q.mu.Unlock()
	restored := make([]Entry, 0, len(q.buckets[key])+2)
	for _, p := range pair {
		if cur, ok := q.where[p.PlayerID]; ok {
			for _, e := range q.buckets[cur] {
				if e.PlayerID == p.PlayerID && e.Transport != "" {
					p.Transport = e.Transport
				}
			}
			q.removeLocked(p.PlayerID)
		}
		restored = append(restored, p)
	}
	restored = append(restored, q.buckets[key]...)
	q.buckets[key] = restored
	for _, p := range pair {
		q.where[p.PlayerID] = key
	}
}

func (q *Queue) notifyMatched(m Match, pair [2]Entry) {
	white, black := m.White, m.Black
	if white == "" {
		white = pair[0].PlayerID
	}
	if black == "" {
		black = pair[1].PlayerID
	}
	base := MatchFoundPayload{SessionID: m.SessionID, Stake: m.Stake, Mode: m.Mode, Option: m.Option}
	w := base
	w.Side, w.OpponentID = session.White, black
	b := base
	b.Side, b.OpponentID = session.Black, white
	q.pub.PublishPlayer(white, events.MatchFound, w)
	q.pub.PublishPlayer(black, events.MatchFound, b)
	log.Info().Str("session_id", m.SessionID).Str("white", white).Str("black", black).Int64("stake", m.Stake).Msg("match found")
}
