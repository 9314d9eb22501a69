package store

import (
	"sync"
	"time"

	"github.com/c360/scenesync/connection"
	"github.com/c360/scenesync/message"
	"github.com/c360/scenesync/transport"
)

// ElementKey identifies a programme element slot by the interchange-document
// identifiers it was imported under, before any live connection id exists.
type ElementKey struct {
	ObjectID string
	TrackUID string
}

// PendingStore reconciles a freshly imported interchange document against
// inputs as they connect. It holds the assembled programme tree plus a
// multimap from element keys to the object-element slots still awaiting a
// live id; when the last slot resolves, the assembled tree is committed to
// the live store atomically, exactly once.
type PendingStore struct {
	mu        sync.Mutex
	store     *Store
	assembled *ProgrammeStore
	slots     map[ElementKey][]*ObjectElement
	committed bool
}

// NewPendingStore builds the slot map from the assembled tree's unresolved
// object elements. A document with nothing pending commits immediately.
func NewPendingStore(s *Store, assembled *ProgrammeStore) *PendingStore {
	p := &PendingStore{
		store:     s,
		assembled: assembled.Clone(),
		slots:     make(map[ElementKey][]*ObjectElement),
	}
	for i := range p.assembled.Programmes {
		walkElements(p.assembled.Programmes[i].Elements, func(e ProgrammeElement) {
			obj, ok := e.(*ObjectElement)
			if !ok || obj.ID.Valid() {
				return
			}
			key := ElementKey{ObjectID: obj.ObjectID, TrackUID: obj.TrackUID}
			p.slots[key] = append(p.slots[key], obj)
		})
	}

	p.mu.Lock()
	commit := p.maybeCommitLocked()
	p.mu.Unlock()
	if commit != nil {
		commit()
	}
	return p
}

// Pending returns the number of element slots still awaiting an input.
func (p *PendingStore) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, slots := range p.slots {
		n += len(slots)
	}
	return n
}

// Done reports whether the assembled store has been committed.
func (p *PendingStore) Done() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.committed
}

// InputArrived resolves every slot keyed by (objectID, trackUID) to the
// given live id and erases the key. Returns true when the arrival matched a
// pending slot. The arrival that empties the map triggers the commit.
func (p *PendingStore) InputArrived(id connection.ID, objectID, trackUID string) bool {
	p.mu.Lock()
	if p.committed {
		p.mu.Unlock()
		return false
	}
	key := ElementKey{ObjectID: objectID, TrackUID: trackUID}
	slots, ok := p.slots[key]
	if !ok {
		p.mu.Unlock()
		return false
	}
	for _, slot := range slots {
		slot.ID = id
	}
	delete(p.slots, key)
	commit := p.maybeCommitLocked()
	p.mu.Unlock()
	if commit != nil {
		commit()
	}
	return true
}

// maybeCommitLocked arms the commit when the slot map is empty. The
// returned closure performs the store reset and must be called after the
// pending mutex is released.
func (p *PendingStore) maybeCommitLocked() func() {
	if p.committed || len(p.slots) > 0 {
		return nil
	}
	p.committed = true
	assembled := p.assembled
	p.assembled = nil
	return func() { p.store.Reset(assembled) }
}

// DefaultRestoredTimeout bounds how long a restored store waits for
// referenced inputs to reconnect before the partial-commit policy applies.
const DefaultRestoredTimeout = 5 * time.Second

// RestoredOption configures a RestoredPendingStore.
type RestoredOption func(*RestoredPendingStore)

// WithRestoredTimeout overrides the reconnection wait bound.
func WithRestoredTimeout(d time.Duration) RestoredOption {
	return func(r *RestoredPendingStore) { r.timeout = d }
}

// WithCommitPartial chooses between committing whatever resolved when the
// timeout fires (true, the default) and abandoning the restore (false).
func WithCommitPartial(commit bool) RestoredOption {
	return func(r *RestoredPendingStore) { r.commitPartial = commit }
}

// WithRestoredLogger sets the reconciliation logger.
func WithRestoredLogger(l transport.Logger) RestoredOption {
	return func(r *RestoredPendingStore) {
		if l != nil {
			r.logger = l
		}
	}
}

// RestoredPendingStore reconciles a previously serialized programme tree,
// whose object elements already carry live-format connection ids, against
// the current item set. It tracks the referenced ids still missing, erases
// them as their inputs announce metadata, and commits when the set empties.
// A timeout bounds the wait; whether it commits partially or abandons is
// explicit policy. One-shot: after commit or abandon it unsubscribes and is
// inert.
type RestoredPendingStore struct {
	BaseListener

	store    *Store
	restored *ProgrammeStore
	logger   transport.Logger

	timeout       time.Duration
	commitPartial bool

	mu        sync.Mutex
	missing   map[connection.ID]struct{}
	sub       *Subscription
	timer     *time.Timer
	committed bool
	abandoned bool
}

// NewRestoredPendingStore computes the missing-id set and begins listening.
// A restore with nothing missing commits immediately.
func NewRestoredPendingStore(s *Store, restored *ProgrammeStore, opts ...RestoredOption) *RestoredPendingStore {
	r := &RestoredPendingStore{
		store:         s,
		restored:      restored.Clone(),
		logger:        storeNoopLogger{},
		timeout:       DefaultRestoredTimeout,
		commitPartial: true,
		missing:       make(map[connection.ID]struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}

	for id := range r.restored.ReferencedIDs() {
		if !s.HasItem(id) {
			r.missing[id] = struct{}{}
		}
	}
	if len(r.missing) == 0 {
		r.commitLocked()()
		return r
	}

	r.sub = s.AddBackendListener(r)
	r.timer = time.AfterFunc(r.timeout, r.timedOut)
	return r
}

// Missing returns the number of referenced ids still absent.
func (r *RestoredPendingStore) Missing() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.missing)
}

// Done reports whether the restore has finished, by commit or abandonment.
func (r *RestoredPendingStore) Done() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.committed || r.abandoned
}

// InputAdded erases the id from the missing set.
func (r *RestoredPendingStore) InputAdded(item message.InputItem) {
	r.resolve(item.ID)
}

// InputUpdated erases the id from the missing set.
func (r *RestoredPendingStore) InputUpdated(item message.InputItem) {
	r.resolve(item.ID)
}

func (r *RestoredPendingStore) resolve(id connection.ID) {
	r.mu.Lock()
	if r.committed || r.abandoned {
		r.mu.Unlock()
		return
	}
	delete(r.missing, id)
	var commit func()
	if len(r.missing) == 0 {
		commit = r.commitLocked()
	}
	r.mu.Unlock()
	if commit != nil {
		commit()
	}
}

// timedOut applies the bounded-wait policy.
func (r *RestoredPendingStore) timedOut() {
	r.mu.Lock()
	if r.committed || r.abandoned {
		r.mu.Unlock()
		return
	}
	if !r.commitPartial {
		r.abandoned = true
		teardown := r.teardownLocked()
		missing := len(r.missing)
		r.mu.Unlock()
		teardown()
		r.logger.Printf("RestoredPendingStore: abandoned with %d inputs still missing", missing)
		return
	}
	r.logger.Printf("RestoredPendingStore: timeout with %d inputs still missing, committing partially",
		len(r.missing))
	commit := r.commitLocked()
	r.mu.Unlock()
	commit()
}

// commitLocked marks the restore committed and returns the closure that
// resets the store and tears down the subscription and timer. Call it with
// the mutex held; run the closure after unlock.
func (r *RestoredPendingStore) commitLocked() func() {
	r.committed = true
	teardown := r.teardownLocked()
	restored := r.restored
	r.restored = nil
	return func() {
		teardown()
		r.store.Reset(restored)
	}
}

func (r *RestoredPendingStore) teardownLocked() func() {
	sub, timer := r.sub, r.timer
	r.sub, r.timer = nil, nil
	return func() {
		if timer != nil {
			timer.Stop()
		}
		if sub != nil {
			sub.Cancel()
		}
	}
}
