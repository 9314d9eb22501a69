package store

import (
	"sort"
	"sync"

	"github.com/c360/scenesync/connection"
	"github.com/c360/scenesync/errors"
	"github.com/c360/scenesync/message"
	"github.com/c360/scenesync/metric"
	"github.com/c360/scenesync/transport"
)

// CollisionCallback fires when the set of interchange-id collisions in the
// rebuilt scene differs from the previous build. The slice is sorted and
// owned by the callee.
type CollisionCallback func(collisions []string)

// Store is the central metadata aggregate: the single synchronization point
// for item and programme state. Every public mutating call holds one mutex
// for its full duration; the critical section is pure data manipulation plus
// argument copying, and listener dispatch happens strictly after unlock
// through the per-group dispatchers.
type Store struct {
	mu         sync.Mutex
	items      *ItemStore
	programmes *ProgrammeStore
	scene      sceneState

	ui      listenerGroup
	backend listenerGroup
	nextSub int

	uiDispatcher      Dispatcher
	backendDispatcher Dispatcher

	onCollisions CollisionCallback

	logger  transport.Logger
	metrics *metric.Metrics
}

type listenerGroup struct {
	order     []int
	listeners map[int]Listener
}

func (g *listenerGroup) add(id int, l Listener) {
	if g.listeners == nil {
		g.listeners = make(map[int]Listener)
	}
	g.listeners[id] = l
	g.order = append(g.order, id)
}

func (g *listenerGroup) remove(id int) {
	delete(g.listeners, id)
	for i, o := range g.order {
		if o == id {
			g.order = append(g.order[:i], g.order[i+1:]...)
			return
		}
	}
}

func (g *listenerGroup) snapshot() []Listener {
	out := make([]Listener, 0, len(g.order))
	for _, id := range g.order {
		out = append(out, g.listeners[id])
	}
	return out
}

// sceneState is the derived scene view plus its transmission gate.
type sceneState struct {
	snapshot   message.SceneSnapshot
	collisions []string
	changed    bool
	exporting  bool
	suppressed bool
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithUIDispatcher sets the UI listener group's dispatcher.
func WithUIDispatcher(d Dispatcher) StoreOption {
	return func(s *Store) { s.uiDispatcher = d }
}

// WithBackendDispatcher sets the backend listener group's dispatcher.
func WithBackendDispatcher(d Dispatcher) StoreOption {
	return func(s *Store) { s.backendDispatcher = d }
}

// WithStoreLogger sets the store logger.
func WithStoreLogger(l transport.Logger) StoreOption {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithStoreMetrics attaches store event counters.
func WithStoreMetrics(m *metric.Metrics) StoreOption {
	return func(s *Store) { s.metrics = m }
}

// NewStore creates a store with the default programme tree (one default
// programme, auto mode on). Both dispatchers default to inline.
func NewStore(opts ...StoreOption) *Store {
	s := &Store{
		items:             NewItemStore(),
		programmes:        NewProgrammeStore(),
		uiDispatcher:      InlineDispatcher{},
		backendDispatcher: InlineDispatcher{},
		logger:            storeNoopLogger{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Close shuts down both dispatchers, draining queued notifications.
func (s *Store) Close() {
	s.uiDispatcher.Close()
	s.backendDispatcher.Close()
}

// SetCollisionCallback registers the collision-changed hook.
func (s *Store) SetCollisionCallback(cb CollisionCallback) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onCollisions = cb
}

// AddUIListener subscribes a listener to the UI group. Cancel the returned
// subscription to unsubscribe.
func (s *Store) AddUIListener(l Listener) *Subscription {
	return s.addListener(&s.ui, l)
}

// AddBackendListener subscribes a listener to the backend group.
func (s *Store) AddBackendListener(l Listener) *Subscription {
	return s.addListener(&s.backend, l)
}

func (s *Store) addListener(group *listenerGroup, l Listener) *Subscription {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextSub++
	id := s.nextSub
	group.add(id, l)
	return &Subscription{cancel: func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		group.remove(id)
	}}
}

// pendingEvent is one notification captured under the lock.
type pendingEvent struct {
	name string
	fire func(Listener)
}

// flushLocked snapshots the listener groups and builds the closure that
// delivers the events after the mutex is released. Must be called with the
// lock held; the returned closure must be called after unlock.
func (s *Store) flushLocked(events []pendingEvent, collisions []string) func() {
	if len(events) == 0 && collisions == nil {
		return func() {}
	}
	for _, e := range events {
		s.metrics.RecordStoreEvent(e.name)
	}
	ui := s.ui.snapshot()
	backend := s.backend.snapshot()
	uiDisp, backendDisp := s.uiDispatcher, s.backendDispatcher
	onCollisions := s.onCollisions

	return func() {
		if len(events) > 0 {
			uiDisp.Dispatch(func() {
				for _, e := range events {
					for _, l := range ui {
						e.fire(l)
					}
				}
			})
			backendDisp.Dispatch(func() {
				for _, e := range events {
					for _, l := range backend {
						e.fire(l)
					}
				}
			})
		}
		if collisions != nil && onCollisions != nil {
			onCollisions(collisions)
		}
	}
}

// SetInputItemMetadata upserts one input's metadata. Equal payloads (by
// value, ignoring the dirty flag) fire nothing; a new id fires input added;
// a changed payload fires input updated plus a programme item update for
// every selected-programme element referencing the id.
func (s *Store) SetInputItemMetadata(id connection.ID, item message.InputItem) {
	item.ID = id

	s.mu.Lock()
	existing, known := s.items.Get(id)
	if known && existing.EqualIgnoringChanged(item) {
		s.mu.Unlock()
		return
	}
	s.items.Set(item)

	var events []pendingEvent
	copied := item
	if known {
		events = append(events, pendingEvent{"input_updated", func(l Listener) { l.InputUpdated(copied) }})
		if selected, ok := s.programmes.SelectedProgramme(); ok {
			selIdx := s.programmes.Selected
			walkElements(selected.Elements, func(e ProgrammeElement) {
				if obj, isObj := e.(*ObjectElement); isObj && obj.ID.Compare(id) == 0 {
					elem := obj.clone()
					events = append(events, pendingEvent{"programme_item_updated",
						func(l Listener) { l.ProgrammeItemUpdated(selIdx, elem) }})
				}
			})
		}
	} else {
		events = append(events, pendingEvent{"input_added", func(l Listener) { l.InputAdded(copied) }})
	}

	collisions := s.rebuildSceneLocked()
	flush := s.flushLocked(events, collisions)
	s.mu.Unlock()
	flush()
}

// RemoveInput removes an input, stripping its id from every programme, and
// fires input removed. Idempotent.
func (s *Store) RemoveInput(id connection.ID) {
	s.mu.Lock()
	if !s.items.Remove(id) {
		s.mu.Unlock()
		return
	}
	s.programmes.stripID(id)

	events := []pendingEvent{{"input_removed", func(l Listener) { l.InputRemoved(id) }}}
	collisions := s.rebuildSceneLocked()
	flush := s.flushLocked(events, collisions)
	s.mu.Unlock()
	flush()
}

// AddProgramme appends a programme and returns its index.
func (s *Store) AddProgramme(name, language string) int {
	s.mu.Lock()
	s.programmes.Programmes = append(s.programmes.Programmes, Programme{Name: name, Language: language})
	index := len(s.programmes.Programmes) - 1
	copied := s.programmes.Programmes[index].Clone()

	events := []pendingEvent{{"programme_added", func(l Listener) { l.ProgrammeAdded(index, copied) }}}
	flush := s.flushLocked(events, nil)
	s.mu.Unlock()
	flush()
	return index
}

// RemoveProgramme removes the programme at index. The selection follows the
// surviving programmes; removing the selected programme selects its
// predecessor.
func (s *Store) RemoveProgramme(index int) error {
	s.mu.Lock()
	if index < 0 || index >= len(s.programmes.Programmes) {
		s.mu.Unlock()
		return errors.WrapInvalid(errors.ErrIndexOutOfRange, "Store", "RemoveProgramme", "bounds check")
	}
	s.programmes.Programmes = append(
		s.programmes.Programmes[:index], s.programmes.Programmes[index+1:]...)
	if s.programmes.Selected >= index && s.programmes.Selected > 0 {
		s.programmes.Selected--
	}

	events := []pendingEvent{{"programme_removed", func(l Listener) { l.ProgrammeRemoved(index) }}}
	collisions := s.rebuildSceneLocked()
	flush := s.flushLocked(events, collisions)
	s.mu.Unlock()
	flush()
	return nil
}

// SelectProgramme changes the selected programme and rebuilds the scene.
func (s *Store) SelectProgramme(index int) error {
	s.mu.Lock()
	if index < 0 || index >= len(s.programmes.Programmes) {
		s.mu.Unlock()
		return errors.WrapInvalid(errors.ErrIndexOutOfRange, "Store", "SelectProgramme", "bounds check")
	}
	s.programmes.Selected = index
	copied := s.programmes.Programmes[index].Clone()

	events := []pendingEvent{{"programme_selected", func(l Listener) { l.ProgrammeSelected(index, copied) }}}
	collisions := s.rebuildSceneLocked()
	flush := s.flushLocked(events, collisions)
	s.mu.Unlock()
	flush()
	return nil
}

// MoveProgramme reorders programmes. The selection follows the moved
// programme if it was selected.
func (s *Store) MoveProgramme(from, to int) error {
	s.mu.Lock()
	n := len(s.programmes.Programmes)
	if from < 0 || from >= n || to < 0 || to >= n {
		s.mu.Unlock()
		return errors.WrapInvalid(errors.ErrIndexOutOfRange, "Store", "MoveProgramme", "bounds check")
	}
	if from != to {
		moved := s.programmes.Programmes[from]
		rest := append(s.programmes.Programmes[:from], s.programmes.Programmes[from+1:]...)
		s.programmes.Programmes = append(rest[:to], append([]Programme{moved}, rest[to:]...)...)

		switch sel := s.programmes.Selected; {
		case sel == from:
			s.programmes.Selected = to
		case from < sel && to >= sel:
			s.programmes.Selected--
		case from > sel && to <= sel:
			s.programmes.Selected++
		}
	}

	events := []pendingEvent{{"programme_moved", func(l Listener) { l.ProgrammeMoved(from, to) }}}
	flush := s.flushLocked(events, nil)
	s.mu.Unlock()
	flush()
	return nil
}

// SetProgrammeName renames a programme.
func (s *Store) SetProgrammeName(index int, name string) error {
	return s.updateProgramme(index, "SetProgrammeName", func(p *Programme) { p.Name = name })
}

// SetProgrammeLanguage sets a programme's language tag.
func (s *Store) SetProgrammeLanguage(index int, language string) error {
	return s.updateProgramme(index, "SetProgrammeLanguage", func(p *Programme) { p.Language = language })
}

func (s *Store) updateProgramme(index int, method string, mutate func(*Programme)) error {
	s.mu.Lock()
	if index < 0 || index >= len(s.programmes.Programmes) {
		s.mu.Unlock()
		return errors.WrapInvalid(errors.ErrIndexOutOfRange, "Store", method, "bounds check")
	}
	mutate(&s.programmes.Programmes[index])
	copied := s.programmes.Programmes[index].Clone()

	events := []pendingEvent{{"programme_updated", func(l Listener) { l.ProgrammeUpdated(index, copied) }}}
	flush := s.flushLocked(events, nil)
	s.mu.Unlock()
	flush()
	return nil
}

// AddElement appends an element to a programme's element list.
func (s *Store) AddElement(programmeIndex int, element ProgrammeElement) error {
	s.mu.Lock()
	if programmeIndex < 0 || programmeIndex >= len(s.programmes.Programmes) {
		s.mu.Unlock()
		return errors.WrapInvalid(errors.ErrIndexOutOfRange, "Store", "AddElement", "bounds check")
	}
	p := &s.programmes.Programmes[programmeIndex]
	p.Elements = append(p.Elements, element.clone())
	copied := element.clone()

	events := []pendingEvent{{"programme_item_added",
		func(l Listener) { l.ProgrammeItemAdded(programmeIndex, copied) }}}
	var collisions []string
	if programmeIndex == s.programmes.Selected {
		collisions = s.rebuildSceneLocked()
	}
	flush := s.flushLocked(events, collisions)
	s.mu.Unlock()
	flush()
	return nil
}

// RemoveElement removes the element at elementIndex from a programme.
func (s *Store) RemoveElement(programmeIndex, elementIndex int) error {
	s.mu.Lock()
	if programmeIndex < 0 || programmeIndex >= len(s.programmes.Programmes) {
		s.mu.Unlock()
		return errors.WrapInvalid(errors.ErrIndexOutOfRange, "Store", "RemoveElement", "bounds check")
	}
	p := &s.programmes.Programmes[programmeIndex]
	if elementIndex < 0 || elementIndex >= len(p.Elements) {
		s.mu.Unlock()
		return errors.WrapInvalid(errors.ErrIndexOutOfRange, "Store", "RemoveElement", "bounds check")
	}
	removedID := connection.Nil
	if obj, ok := p.Elements[elementIndex].(*ObjectElement); ok {
		removedID = obj.ID
	}
	p.Elements = append(p.Elements[:elementIndex], p.Elements[elementIndex+1:]...)

	events := []pendingEvent{{"programme_item_removed",
		func(l Listener) { l.ProgrammeItemRemoved(programmeIndex, removedID) }}}
	var collisions []string
	if programmeIndex == s.programmes.Selected {
		collisions = s.rebuildSceneLocked()
	}
	flush := s.flushLocked(events, collisions)
	s.mu.Unlock()
	flush()
	return nil
}

// MoveElement reorders a programme's element list.
func (s *Store) MoveElement(programmeIndex, from, to int) error {
	s.mu.Lock()
	if programmeIndex < 0 || programmeIndex >= len(s.programmes.Programmes) {
		s.mu.Unlock()
		return errors.WrapInvalid(errors.ErrIndexOutOfRange, "Store", "MoveElement", "bounds check")
	}
	p := &s.programmes.Programmes[programmeIndex]
	n := len(p.Elements)
	if from < 0 || from >= n || to < 0 || to >= n {
		s.mu.Unlock()
		return errors.WrapInvalid(errors.ErrIndexOutOfRange, "Store", "MoveElement", "bounds check")
	}
	if from != to {
		moved := p.Elements[from]
		rest := append(p.Elements[:from], p.Elements[from+1:]...)
		p.Elements = append(rest[:to], append([]ProgrammeElement{moved}, rest[to:]...)...)
	}

	events := []pendingEvent{{"programme_item_moved",
		func(l Listener) { l.ProgrammeItemMoved(programmeIndex, from, to) }}}
	var collisions []string
	if programmeIndex == s.programmes.Selected {
		collisions = s.rebuildSceneLocked()
	}
	flush := s.flushLocked(events, collisions)
	s.mu.Unlock()
	flush()
	return nil
}

// SetAutoMode toggles auto mode. No-op when already in the requested mode.
func (s *Store) SetAutoMode(enabled bool) {
	s.mu.Lock()
	if s.programmes.AutoMode == enabled {
		s.mu.Unlock()
		return
	}
	s.programmes.AutoMode = enabled

	events := []pendingEvent{{"auto_mode_changed", func(l Listener) { l.AutoModeChanged(enabled) }}}
	flush := s.flushLocked(events, nil)
	s.mu.Unlock()
	flush()
}

// SetAutoOrder replaces the default programme's element list with object
// elements bound to ids, in the given order. Existing elements for a kept id
// retain their interchange identifiers. Only meaningful while auto mode is
// on; the auto-mode controller is the sole caller during live operation.
func (s *Store) SetAutoOrder(ids []connection.ID) {
	s.mu.Lock()
	if !s.programmes.AutoMode || len(s.programmes.Programmes) == 0 {
		s.mu.Unlock()
		return
	}
	p := &s.programmes.Programmes[0]

	previous := make(map[connection.ID]*ObjectElement)
	for _, e := range p.Elements {
		if obj, ok := e.(*ObjectElement); ok && obj.ID.Valid() {
			previous[obj.ID] = obj
		}
	}

	rebuilt := make([]ProgrammeElement, 0, len(ids))
	sameOrder := len(ids) == len(p.Elements)
	for i, id := range ids {
		if existing, ok := previous[id]; ok {
			rebuilt = append(rebuilt, existing)
		} else {
			rebuilt = append(rebuilt, &ObjectElement{ID: id})
		}
		if sameOrder {
			obj, ok := p.Elements[i].(*ObjectElement)
			sameOrder = ok && obj.ID.Compare(id) == 0
		}
	}
	if sameOrder {
		s.mu.Unlock()
		return
	}
	p.Elements = rebuilt
	index := 0
	copied := p.Clone()

	events := []pendingEvent{{"programme_updated", func(l Listener) { l.ProgrammeUpdated(index, copied) }}}
	var collisions []string
	if s.programmes.Selected == 0 {
		collisions = s.rebuildSceneLocked()
	}
	flush := s.flushLocked(events, collisions)
	s.mu.Unlock()
	flush()
}

// Reset atomically replaces the programme tree, keeping the live items.
// Reconciliation commits restored or imported stores through it.
func (s *Store) Reset(programmes *ProgrammeStore) {
	s.mu.Lock()
	s.programmes = programmes.Clone()
	s.logger.Debugf("Store: reset with %d programmes", len(s.programmes.Programmes))
	resetCopy := s.programmes.Clone()
	itemsCopy := s.items.All()

	events := []pendingEvent{{"store_reset", func(l Listener) { l.StoreReset(resetCopy, itemsCopy) }}}
	collisions := s.rebuildSceneLocked()
	flush := s.flushLocked(events, collisions)
	s.mu.Unlock()
	flush()
}

// Items returns every available item in arrival order.
func (s *Store) Items() []message.InputItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.items.All()
}

// Item returns one item by id.
func (s *Store) Item(id connection.ID) (message.InputItem, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.items.Get(id)
}

// HasItem reports whether id is an available item.
func (s *Store) HasItem(id connection.ID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.items.Has(id)
}

// RouteMap returns the routing-channel to connection-id multimap.
func (s *Store) RouteMap() map[int][]connection.ID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.items.RouteMap()
}

// Programmes returns a deep copy of the programme tree.
func (s *Store) Programmes() *ProgrammeStore {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.programmes.Clone()
}

// AutoMode reports whether auto mode is on.
func (s *Store) AutoMode() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.programmes.AutoMode
}

// rebuildSceneLocked recomputes the derived scene. Returns the new sorted
// collision set when it differs from the previous build, nil otherwise.
// Must be called with the lock held.
func (s *Store) rebuildSceneLocked() []string {
	snap := message.SceneSnapshot{Available: s.items.IDs()}

	if selected, ok := s.programmes.SelectedProgramme(); ok {
		walkElements(selected.Elements, func(e ProgrammeElement) {
			obj, isObj := e.(*ObjectElement)
			if !isObj {
				return
			}
			// Unresolved references are late or missing inputs;
			// reconciliation handles them, the scene skips them.
			if item, found := s.items.Get(obj.ID); found {
				snap.Items = append(snap.Items, item)
			}
		})
	}

	seen := make(map[string]int)
	for _, item := range snap.Items {
		if item.InterchangeID != "" {
			seen[item.InterchangeID]++
		}
	}
	collisions := make([]string, 0)
	for id, count := range seen {
		if count > 1 {
			collisions = append(collisions, id)
		}
	}
	sort.Strings(collisions)
	snap.Collisions = collisions

	var changedCollisions []string
	if !equalStrings(collisions, s.scene.collisions) {
		changedCollisions = collisions
	}

	s.scene.snapshot = snap
	s.scene.collisions = collisions
	s.scene.changed = true
	return changedCollisions
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// FlushScene returns the current snapshot when it is due for transmission:
// the scene changed since the last flush and the export latch is not
// suppressing automatic pushes. One successful flush clears the changed
// flag; while exporting, it also arms the latch so no further automatic
// push happens until export ends.
func (s *Store) FlushScene() (message.SceneSnapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.scene.changed || s.scene.suppressed {
		return message.SceneSnapshot{}, false
	}
	s.scene.changed = false
	if s.scene.exporting {
		s.scene.suppressed = true
	}
	return copySnapshot(s.scene.snapshot), true
}

// MarkSceneChanged re-arms the transmission gate. A publisher whose push
// failed after a flush calls this so the next tick retries.
func (s *Store) MarkSceneChanged() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scene.changed = true
}

// Scene returns the current snapshot without touching the transmission
// gate.
func (s *Store) Scene() message.SceneSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return copySnapshot(s.scene.snapshot)
}

// SetExporting toggles export mode. Leaving export mode releases the push
// suppression latch.
func (s *Store) SetExporting(exporting bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scene.exporting = exporting
	if !exporting {
		s.scene.suppressed = false
	}
}

func copySnapshot(snap message.SceneSnapshot) message.SceneSnapshot {
	out := message.SceneSnapshot{}
	out.Items = append(out.Items, snap.Items...)
	out.Available = append(out.Available, snap.Available...)
	out.Collisions = append(out.Collisions, snap.Collisions...)
	return out
}

type storeNoopLogger struct{}

func (storeNoopLogger) Printf(string, ...any) {}
func (storeNoopLogger) Errorf(string, ...any) {}
func (storeNoopLogger) Debugf(string, ...any) {}
