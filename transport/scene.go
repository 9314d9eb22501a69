package transport

import (
	"context"
	stderrors "errors"
	"time"

	"golang.org/x/time/rate"

	"github.com/c360/scenesync/errors"
	"github.com/c360/scenesync/message"
)

// SceneCacheBucket is the KV bucket holding the most recent published scene,
// keyed by subject, so late-joining subscribers reconcile without waiting
// for the next change.
const SceneCacheBucket = "scenesync-scene-cache"

// ErrPublishSuppressed is returned when the rate limiter defers a publish.
// The caller keeps its changed flag set and retries on the next flush tick.
var ErrPublishSuppressed = stderrors.New("scene publish suppressed by rate limit")

// ScenePublisher is the publish half of the scene broadcast channel. Every
// accepted snapshot goes to all subscribers (no filtering) and into the KV
// last-scene cache.
type ScenePublisher struct {
	bus     Bus
	subject string
	limiter *rate.Limiter
	logger  Logger
}

// NewScenePublisher creates a publisher for the given subject. maxRate caps
// broadcasts per second; zero or negative disables the cap.
func NewScenePublisher(bus Bus, subject string, maxRate float64) *ScenePublisher {
	var limiter *rate.Limiter
	if maxRate > 0 {
		limiter = rate.NewLimiter(rate.Limit(maxRate), 1)
	}
	return &ScenePublisher{
		bus:     bus,
		subject: subject,
		limiter: limiter,
		logger:  &defaultLogger{},
	}
}

// SetLogger overrides the publisher logger.
func (sp *ScenePublisher) SetLogger(l Logger) {
	if l != nil {
		sp.logger = l
	}
}

// Publish broadcasts a snapshot. Returns ErrPublishSuppressed when rate
// limited; the snapshot is then neither sent nor cached and the caller's
// changed state stays pending. Publish never blocks on the limiter: it runs
// on the host flush tick.
func (sp *ScenePublisher) Publish(ctx context.Context, snapshot message.SceneSnapshot) error {
	if sp.limiter != nil && !sp.limiter.Allow() {
		return ErrPublishSuppressed
	}

	data, err := message.MarshalScene(snapshot)
	if err != nil {
		return errors.Wrap(err, "ScenePublisher", "Publish", "marshal scene")
	}

	if err := sp.bus.Publish(ctx, sp.subject, data); err != nil {
		return errors.WrapTransient(err, "ScenePublisher", "Publish", "broadcast scene")
	}

	// Cache failures don't fail the broadcast: the cache only accelerates
	// late joins, the live feed is authoritative.
	if err := sp.bus.KVPut(ctx, SceneCacheBucket, sp.subject, data); err != nil {
		sp.logger.Debugf("ScenePublisher: cache write failed: %v", err)
	}

	return nil
}

// SceneHandler consumes one decoded scene snapshot.
type SceneHandler func(snapshot message.SceneSnapshot)

// SceneSubscriber is the subscribe half of the scene broadcast channel. On
// Start it first delivers the cached last scene, if any, then receives the
// live feed. Reconnection is the subscriber's own responsibility: a stopped
// subscriber is never reused, a fresh one is created per connection
// lifetime.
type SceneSubscriber struct {
	bus     Bus
	subject string
	logger  Logger

	cancel func()
}

// NewSceneSubscriber creates a subscriber for the given subject.
func NewSceneSubscriber(bus Bus, subject string) *SceneSubscriber {
	return &SceneSubscriber{
		bus:     bus,
		subject: subject,
		logger:  &defaultLogger{},
	}
}

// SetLogger overrides the subscriber logger.
func (ss *SceneSubscriber) SetLogger(l Logger) {
	if l != nil {
		ss.logger = l
	}
}

// Start subscribes to the live feed and then replays the cached last scene.
// Subscribing first means no snapshot can fall between cache read and
// subscription start; the handler tolerates one duplicate instead.
func (ss *SceneSubscriber) Start(ctx context.Context, handler SceneHandler) error {
	cancel, err := ss.bus.Subscribe(ctx, ss.subject, func(_ context.Context, data []byte) {
		snapshot, err := message.UnmarshalScene(data)
		if err != nil {
			ss.logger.Errorf("SceneSubscriber: drop payload: %v", err)
			return
		}
		handler(snapshot)
	})
	if err != nil {
		return errors.Wrap(err, "SceneSubscriber", "Start", "subscribe")
	}
	ss.cancel = cancel

	// Late-join reconciliation: replay the last published scene.
	cacheCtx, cacheCancel := context.WithTimeout(ctx, 2*time.Second)
	defer cacheCancel()
	if data, err := ss.bus.KVGet(cacheCtx, SceneCacheBucket, ss.subject); err == nil {
		if snapshot, err := message.UnmarshalScene(data); err == nil {
			handler(snapshot)
		} else {
			ss.logger.Errorf("SceneSubscriber: drop cached payload: %v", err)
		}
	}

	return nil
}

// Stop cancels the subscription. Idempotent and safe from teardown.
func (ss *SceneSubscriber) Stop() {
	if ss.cancel != nil {
		ss.cancel()
	}
}
