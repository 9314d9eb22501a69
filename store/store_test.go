package store

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/scenesync/connection"
	"github.com/c360/scenesync/message"
)

// recordingListener appends one string per notification, in delivery order.
type recordingListener struct {
	BaseListener
	mu     sync.Mutex
	events []string
}

func (r *recordingListener) record(format string, args ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, fmt.Sprintf(format, args...))
}

func (r *recordingListener) Events() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	copy(out, r.events)
	return out
}

func (r *recordingListener) StoreReset(ps *ProgrammeStore, items []message.InputItem) {
	r.record("reset(%d,%d)", len(ps.Programmes), len(items))
}
func (r *recordingListener) ProgrammeAdded(i int, p Programme) { r.record("prog_added(%d,%s)", i, p.Name) }
func (r *recordingListener) ProgrammeRemoved(i int)            { r.record("prog_removed(%d)", i) }
func (r *recordingListener) ProgrammeUpdated(i int, p Programme) {
	r.record("prog_updated(%d,%s)", i, p.Name)
}
func (r *recordingListener) ProgrammeSelected(i int, p Programme) {
	r.record("prog_selected(%d,%s)", i, p.Name)
}
func (r *recordingListener) ProgrammeMoved(from, to int) { r.record("prog_moved(%d,%d)", from, to) }
func (r *recordingListener) ProgrammeItemAdded(i int, e ProgrammeElement) {
	r.record("item_added(%d,%s)", i, e.ElementKind())
}
func (r *recordingListener) ProgrammeItemRemoved(i int, id connection.ID) {
	r.record("item_removed(%d)", i)
}
func (r *recordingListener) ProgrammeItemUpdated(i int, e ProgrammeElement) {
	r.record("item_updated(%d,%s)", i, e.ElementKind())
}
func (r *recordingListener) ProgrammeItemMoved(i, from, to int) {
	r.record("item_moved(%d,%d,%d)", i, from, to)
}
func (r *recordingListener) AutoModeChanged(on bool)           { r.record("auto_mode(%v)", on) }
func (r *recordingListener) InputAdded(it message.InputItem)   { r.record("input_added(%s)", it.Name) }
func (r *recordingListener) InputRemoved(id connection.ID)     { r.record("input_removed") }
func (r *recordingListener) InputUpdated(it message.InputItem) { r.record("input_updated(%s)", it.Name) }

func objectItem(name string, routing int) message.InputItem {
	return message.InputItem{
		ID:      connection.NewID(),
		Name:    name,
		Routing: routing,
		Metadata: &message.ObjectMetadata{
			Azimuth: 10, Distance: 1, Gain: 1,
		},
	}
}

func TestDiffSuppression(t *testing.T) {
	s := NewStore()
	defer s.Close()
	s.SetAutoMode(false)

	rec := &recordingListener{}
	s.AddUIListener(rec)

	item := objectItem("vocals", 0)
	s.SetInputItemMetadata(item.ID, item)

	// Same payload modulo the dirty flag: nothing fires.
	again := item
	again.Changed = true
	s.SetInputItemMetadata(item.ID, again)

	assert.Equal(t, []string{"input_added(vocals)"}, rec.Events())

	// A real change fires input_updated once.
	item.Name = "lead vocals"
	s.SetInputItemMetadata(item.ID, item)
	assert.Equal(t, []string{"input_added(vocals)", "input_updated(lead vocals)"}, rec.Events())
}

func TestSelectedProgrammeItemUpdates(t *testing.T) {
	s := NewStore()
	defer s.Close()
	s.SetAutoMode(false)

	item := objectItem("drums", 2)
	s.SetInputItemMetadata(item.ID, item)

	// Programme A (selected) does not reference the item; programme B does.
	a := s.AddProgramme("A", "")
	b := s.AddProgramme("B", "")
	require.NoError(t, s.AddElement(b, &ObjectElement{ID: item.ID}))
	require.NoError(t, s.SelectProgramme(a))

	rec := &recordingListener{}
	s.AddUIListener(rec)

	item.Routing = 4
	s.SetInputItemMetadata(item.ID, item)
	assert.Equal(t, []string{"input_updated(drums)"}, rec.Events())

	// With B selected the same edit also fires a programme item update.
	require.NoError(t, s.SelectProgramme(b))
	rec2 := &recordingListener{}
	s.AddUIListener(rec2)

	item.Routing = 6
	s.SetInputItemMetadata(item.ID, item)
	assert.Equal(t, []string{"input_updated(drums)", "item_updated(2,object)"}, rec2.Events())
}

func TestRemoveInputStripsProgrammes(t *testing.T) {
	s := NewStore()
	defer s.Close()
	s.SetAutoMode(false)

	item := objectItem("bass", 1)
	s.SetInputItemMetadata(item.ID, item)

	p := s.AddProgramme("Main", "en")
	require.NoError(t, s.AddElement(p, &GroupElement{
		Name:     "stems",
		Elements: []ProgrammeElement{&ObjectElement{ID: item.ID}},
	}))

	rec := &recordingListener{}
	s.AddBackendListener(rec)

	s.RemoveInput(item.ID)
	assert.Equal(t, []string{"input_removed"}, rec.Events())
	assert.False(t, s.HasItem(item.ID))

	progs := s.Programmes()
	group := progs.Programmes[p].Elements[0].(*GroupElement)
	assert.Empty(t, group.Elements)

	// Removing again is a no-op.
	s.RemoveInput(item.ID)
	assert.Equal(t, []string{"input_removed"}, rec.Events())
}

func TestProgrammeMutationsFireOneEventEach(t *testing.T) {
	s := NewStore()
	defer s.Close()
	s.SetAutoMode(false)

	rec := &recordingListener{}
	s.AddUIListener(rec)

	idx := s.AddProgramme("Commentary", "en")
	require.NoError(t, s.SetProgrammeName(idx, "Commentary FR"))
	require.NoError(t, s.SetProgrammeLanguage(idx, "fr"))
	require.NoError(t, s.SelectProgramme(idx))
	require.NoError(t, s.AddElement(idx, &BinauralElement{}))
	require.NoError(t, s.AddElement(idx, &HOAElement{Order: 3}))
	require.NoError(t, s.MoveElement(idx, 1, 0))
	require.NoError(t, s.RemoveElement(idx, 0))
	require.NoError(t, s.MoveProgramme(idx, 0))
	require.NoError(t, s.RemoveProgramme(0))

	assert.Equal(t, []string{
		"prog_added(1,Commentary)",
		"prog_updated(1,Commentary FR)",
		"prog_updated(1,Commentary FR)",
		"prog_selected(1,Commentary FR)",
		"item_added(1,binaural)",
		"item_added(1,hoa)",
		"item_moved(1,1,0)",
		"item_removed(1)",
		"prog_moved(1,0)",
		"prog_removed(0)",
	}, rec.Events())
}

func TestProgrammeBoundsErrors(t *testing.T) {
	s := NewStore()
	defer s.Close()

	assert.Error(t, s.RemoveProgramme(5))
	assert.Error(t, s.SelectProgramme(-1))
	assert.Error(t, s.MoveProgramme(0, 3))
	assert.Error(t, s.AddElement(9, &BinauralElement{}))
	assert.Error(t, s.RemoveElement(0, 0))
	assert.Error(t, s.MoveElement(0, 0, 1))
	assert.Error(t, s.SetProgrammeName(2, "x"))
}

func TestSubscriptionCancel(t *testing.T) {
	s := NewStore()
	defer s.Close()
	s.SetAutoMode(false)

	rec := &recordingListener{}
	sub := s.AddUIListener(rec)

	item := objectItem("keys", 3)
	s.SetInputItemMetadata(item.ID, item)
	require.Len(t, rec.Events(), 1)

	sub.Cancel()
	sub.Cancel()

	item.Name = "keys 2"
	s.SetInputItemMetadata(item.ID, item)
	assert.Len(t, rec.Events(), 1)
}

func TestListenerGroupsSeeSameOrder(t *testing.T) {
	s := NewStore(WithBackendDispatcher(NewQueueDispatcher()))
	s.SetAutoMode(false)

	ui := &recordingListener{}
	backend := &recordingListener{}
	s.AddUIListener(ui)
	s.AddBackendListener(backend)

	for i := 0; i < 5; i++ {
		item := objectItem(fmt.Sprintf("item-%d", i), i)
		s.SetInputItemMetadata(item.ID, item)
	}

	// Close drains the queued dispatcher before we compare.
	s.Close()
	assert.Equal(t, ui.Events(), backend.Events())
	assert.Len(t, ui.Events(), 5)
}

func TestFlushSceneGating(t *testing.T) {
	s := NewStore()
	defer s.Close()
	s.SetAutoMode(false)

	item := objectItem("fx", 7)
	s.SetInputItemMetadata(item.ID, item)

	p := s.AddProgramme("Main", "")
	require.NoError(t, s.AddElement(p, &ObjectElement{ID: item.ID}))
	require.NoError(t, s.SelectProgramme(p))

	snap, ok := s.FlushScene()
	require.True(t, ok)
	require.Len(t, snap.Items, 1)
	assert.Equal(t, "fx", snap.Items[0].Name)
	assert.Len(t, snap.Available, 1)

	// Nothing changed since the flush.
	_, ok = s.FlushScene()
	assert.False(t, ok)

	item.Routing = 9
	s.SetInputItemMetadata(item.ID, item)
	_, ok = s.FlushScene()
	assert.True(t, ok)
}

func TestExportLatchSuppressesPushes(t *testing.T) {
	s := NewStore()
	defer s.Close()
	s.SetAutoMode(false)

	item := objectItem("export", 0)
	s.SetInputItemMetadata(item.ID, item)

	s.SetExporting(true)
	_, ok := s.FlushScene()
	require.True(t, ok)

	// The one export push arms the latch.
	item.Routing = 3
	s.SetInputItemMetadata(item.ID, item)
	_, ok = s.FlushScene()
	assert.False(t, ok)

	// Export ends, the pending change flows again.
	s.SetExporting(false)
	_, ok = s.FlushScene()
	assert.True(t, ok)
}

func TestUnresolvedElementsSkipped(t *testing.T) {
	s := NewStore()
	defer s.Close()
	s.SetAutoMode(false)

	p := s.AddProgramme("Main", "")
	require.NoError(t, s.AddElement(p, &ObjectElement{ID: connection.NewID()}))
	require.NoError(t, s.SelectProgramme(p))

	snap := s.Scene()
	assert.Empty(t, snap.Items)
}

func TestCollisionCallback(t *testing.T) {
	s := NewStore()
	defer s.Close()
	s.SetAutoMode(false)

	var collisions [][]string
	s.SetCollisionCallback(func(c []string) { collisions = append(collisions, c) })

	a := objectItem("a", 0)
	a.InterchangeID = "AO_1001"
	b := objectItem("b", 1)
	b.InterchangeID = "AO_1001"
	s.SetInputItemMetadata(a.ID, a)
	s.SetInputItemMetadata(b.ID, b)

	p := s.AddProgramme("Main", "")
	require.NoError(t, s.AddElement(p, &ObjectElement{ID: a.ID}))
	require.NoError(t, s.AddElement(p, &ObjectElement{ID: b.ID}))
	require.NoError(t, s.SelectProgramme(p))

	require.Len(t, collisions, 1)
	assert.Equal(t, []string{"AO_1001"}, collisions[0])

	// Removing one side clears the collision set, firing once more.
	s.RemoveInput(b.ID)
	require.Len(t, collisions, 2)
	assert.Empty(t, collisions[1])
}

func TestRouteMap(t *testing.T) {
	s := NewStore()
	defer s.Close()
	s.SetAutoMode(false)

	a := objectItem("a", 0)
	b := objectItem("b", 0)
	c := objectItem("c", 2)
	for _, it := range []message.InputItem{a, b, c} {
		s.SetInputItemMetadata(it.ID, it)
	}

	routes := s.RouteMap()
	require.Len(t, routes[0], 2)
	assert.Equal(t, a.ID, routes[0][0])
	assert.Equal(t, b.ID, routes[0][1])
	require.Len(t, routes[2], 1)
	assert.Equal(t, c.ID, routes[2][0])
}
