package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/simage-ai/convoengine/internal/telemetry"
)

// snapshotField is the single Redis hash field the JSON-encoded State is
// stored under (see events.go's State doc comment for why it is not
// exploded into per-field hash entries).
const snapshotField = "snapshot"

func jobKey(jobID string) string      { return "job:" + jobID + ":state" }
func jobChannel(jobID string) string  { return "job:" + jobID + ":stream" }
func projectChannel(p string) string  { return "project:" + p + ":jobs" }
func globalChannel() string           { return "jobs" }

// RedisBus is the production Bus implementation, grounded line-for-line on
// original_source/api/tasks/__init__.py's publish_job_event / get_job_state
// / clear_job_state.
type RedisBus struct {
	rdb     *redis.Client
	ttl     time.Duration
	log     zerolog.Logger
	metrics *telemetry.Metrics
	now     Clock

	mu   sync.Mutex
	ids  map[string]int // per-job monotonic counter for activity entry ids
}

// NewRedisBus constructs a RedisBus. ttl is the snapshot TTL refreshed on
// every publish (default 3600s per SPEC_FULL §4.1).
func NewRedisBus(rdb *redis.Client, ttl time.Duration, log zerolog.Logger, metrics *telemetry.Metrics) *RedisBus {
	return &RedisBus{rdb: rdb, ttl: ttl, log: log, metrics: metrics, now: time.Now, ids: map[string]int{}}
}

func (b *RedisBus) nextActivityID(jobID string) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.ids[jobID]++
	return fmt.Sprintf("%s-a%d", jobID, b.ids[jobID])
}

// Publish applies e's state mutation and publishes it on the job channel in
// one Redis pipeline (HSET+EXPIRE+PUBLISH), adding a project-channel and a
// global-channel PUBLISH to the same pipeline for status, done and error
// events, satisfying the "single batched write" atomicity requirement of
// §4.1 step 2.
func (b *RedisBus) Publish(ctx context.Context, projectID, jobID string, e Event) error {
	start := b.now()
	defer func() {
		if b.metrics != nil {
			b.metrics.BusPublishSeconds.Observe(time.Since(start).Seconds())
		}
	}()

	state, _, err := b.Snapshot(ctx, jobID)
	if err != nil {
		return fmt.Errorf("bus: load snapshot for publish: %w", err)
	}
	state.Apply(e, start, func() string { return b.nextActivityID(jobID) })

	stateJSON, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("bus: marshal state: %w", err)
	}
	eventJSON, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("bus: marshal event: %w", err)
	}

	pipe := b.rdb.Pipeline()
	key := jobKey(jobID)
	pipe.HSet(ctx, key, snapshotField, stateJSON)
	pipe.Expire(ctx, key, b.ttl)
	pipe.Publish(ctx, jobChannel(jobID), eventJSON)

	if e.Kind == EventKindStatus || e.Kind == EventKindDone || e.Kind == EventKindError {
		status := state.Status
		pu, _ := json.Marshal(ProjectUpdate{JobID: jobID, Status: status})
		pipe.Publish(ctx, projectChannel(projectID), pu)
		gu, _ := json.Marshal(GlobalUpdate{ProjectID: projectID, JobID: jobID, Status: status})
		pipe.Publish(ctx, globalChannel(), gu)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		b.log.Error().Err(err).Str("job_id", jobID).Msg("bus publish failed")
		return fmt.Errorf("bus: exec pipeline: %w", err)
	}
	return nil
}

// Snapshot returns the current State for jobID.
func (b *RedisBus) Snapshot(ctx context.Context, jobID string) (State, bool, error) {
	raw, err := b.rdb.HGet(ctx, jobKey(jobID), snapshotField).Result()
	if err == redis.Nil {
		return State{}, false, nil
	}
	if err != nil {
		return State{}, false, fmt.Errorf("bus: read snapshot: %w", err)
	}
	var s State
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		return State{}, false, fmt.Errorf("bus: decode snapshot: %w", err)
	}
	return s, true, nil
}

// Clear deletes a job's durable state key.
func (b *RedisBus) Clear(ctx context.Context, jobID string) error {
	return b.rdb.Del(ctx, jobKey(jobID)).Err()
}

// redisSubscription adapts *redis.PubSub to the Subscription interface,
// prepending a synthetic snapshot event on first Next().
type redisSubscription struct {
	ps       *redis.PubSub
	ch       <-chan *redis.Message
	first    *Event
	done     bool
}

// Subscribe attaches to jobID's stream. The first Next() call returns the
// attach-time snapshot wrapped as a status event; subsequent calls read the
// live pub/sub channel. The iterator ends after the first terminal event.
//
// The Redis SUBSCRIBE happens before the snapshot read, not after: reading
// the snapshot first would leave a gap between that read and the channel
// registration in which a concurrent Publish's event is in neither the
// snapshot nor the live channel, permanently dropping it. Subscribing first
// means the snapshot can now lag behind an event already queued on the
// channel, so Next() may replay one event twice — duplicates are explicitly
// tolerated (§4.1/§5), drops are not.
func (b *RedisBus) Subscribe(ctx context.Context, jobID string) (Subscription, error) {
	ps := b.rdb.Subscribe(ctx, jobChannel(jobID))

	state, ok, err := b.Snapshot(ctx, jobID)
	if err != nil {
		_ = ps.Close()
		return nil, err
	}
	var first *Event
	if ok {
		first = &Event{Kind: EventKindStatus, Status: state.Status, Content: state.Content}
	} else {
		e := Event{Kind: EventKindStatus, Status: "unknown"}
		first = &e
	}
	return &redisSubscription{ps: ps, ch: ps.Channel(), first: first}, nil
}

func (s *redisSubscription) Next(ctx context.Context) (Event, bool) {
	if s.done {
		return Event{}, false
	}
	if s.first != nil {
		e := *s.first
		s.first = nil
		return e, true
	}
	for {
		select {
		case <-ctx.Done():
			return Event{}, false
		case msg, ok := <-s.ch:
			if !ok {
				s.done = true
				return Event{}, false
			}
			var e Event
			if err := json.Unmarshal([]byte(msg.Payload), &e); err != nil {
				continue // skip malformed payloads and wait for the next message
			}
			if e.IsTerminal() {
				s.done = true
			}
			return e, true
		}
	}
}

func (s *redisSubscription) Close() { _ = s.ps.Close() }

// SubscribeProject attaches to a project's job_update broadcast. The
// returned cancel func must be called to release the subscription.
func (b *RedisBus) SubscribeProject(ctx context.Context, projectID string) (<-chan ProjectUpdate, func(), error) {
	ps := b.rdb.Subscribe(ctx, projectChannel(projectID))
	out := make(chan ProjectUpdate, 64)
	go func() {
		defer close(out)
		for msg := range ps.Channel() {
			var u ProjectUpdate
			if json.Unmarshal([]byte(msg.Payload), &u) == nil {
				select {
				case out <- u:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, func() { _ = ps.Close() }, nil
}
