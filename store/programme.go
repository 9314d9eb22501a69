// Package store holds the central metadata store: the authoritative item and
// programme state shared by every connected plugin instance, the derived
// scene view, listener fan-out to UI and backend consumers, auto-mode
// ordering, and the reconciliation flows that rebuild state after a project
// load.
package store

import (
	"github.com/c360/scenesync/connection"
)

// ElementKind discriminates programme element variants.
type ElementKind uint8

// Programme element variants
const (
	ElementObject ElementKind = iota + 1
	ElementGroup
	ElementToggle
	ElementDirectSpeakers
	ElementHOA
	ElementMatrix
	ElementBinaural
)

// String returns the string representation of ElementKind
func (k ElementKind) String() string {
	switch k {
	case ElementObject:
		return "object"
	case ElementGroup:
		return "group"
	case ElementToggle:
		return "toggle"
	case ElementDirectSpeakers:
		return "direct_speakers"
	case ElementHOA:
		return "hoa"
	case ElementMatrix:
		return "matrix"
	case ElementBinaural:
		return "binaural"
	default:
		return "unknown"
	}
}

// ProgrammeElement is one entry in a programme's ordered element list. The
// variant set is closed; decode and dispatch sites switch exhaustively.
type ProgrammeElement interface {
	ElementKind() ElementKind
	clone() ProgrammeElement
	isElement()
}

// ObjectElement references a single input item by connection id. ObjectID
// and TrackUID are the interchange-document identifiers the element was
// imported under; they key pending reconciliation when ID is still nil.
type ObjectElement struct {
	ID       connection.ID
	ObjectID string
	TrackUID string
}

// ElementKind returns ElementObject.
func (*ObjectElement) ElementKind() ElementKind { return ElementObject }

func (e *ObjectElement) clone() ProgrammeElement {
	c := *e
	return &c
}

// GroupElement is a named ordered collection of nested elements.
type GroupElement struct {
	Name     string
	Elements []ProgrammeElement
}

// ElementKind returns ElementGroup.
func (*GroupElement) ElementKind() ElementKind { return ElementGroup }

func (e *GroupElement) clone() ProgrammeElement {
	c := GroupElement{Name: e.Name, Elements: cloneElements(e.Elements)}
	return &c
}

// ToggleElement is a named set of alternatives with one active selection.
type ToggleElement struct {
	Name     string
	Elements []ProgrammeElement
	Selected int
}

// ElementKind returns ElementToggle.
func (*ToggleElement) ElementKind() ElementKind { return ElementToggle }

func (e *ToggleElement) clone() ProgrammeElement {
	c := ToggleElement{Name: e.Name, Elements: cloneElements(e.Elements), Selected: e.Selected}
	return &c
}

// DirectSpeakersElement carries a speaker-bed layout.
type DirectSpeakersElement struct {
	Layout string
}

// ElementKind returns ElementDirectSpeakers.
func (*DirectSpeakersElement) ElementKind() ElementKind { return ElementDirectSpeakers }

func (e *DirectSpeakersElement) clone() ProgrammeElement {
	c := *e
	return &c
}

// HOAElement carries a higher-order ambisonics order.
type HOAElement struct {
	Order int
}

// ElementKind returns ElementHOA.
func (*HOAElement) ElementKind() ElementKind { return ElementHOA }

func (e *HOAElement) clone() ProgrammeElement {
	c := *e
	return &c
}

// MatrixElement carries a matrix channel count.
type MatrixElement struct {
	Channels int
}

// ElementKind returns ElementMatrix.
func (*MatrixElement) ElementKind() ElementKind { return ElementMatrix }

func (e *MatrixElement) clone() ProgrammeElement {
	c := *e
	return &c
}

// BinauralElement marks a binaural rendering entry.
type BinauralElement struct{}

// ElementKind returns ElementBinaural.
func (*BinauralElement) ElementKind() ElementKind { return ElementBinaural }

func (e *BinauralElement) clone() ProgrammeElement {
	c := *e
	return &c
}

func (*ObjectElement) isElement()         {}
func (*GroupElement) isElement()          {}
func (*ToggleElement) isElement()         {}
func (*DirectSpeakersElement) isElement() {}
func (*HOAElement) isElement()            {}
func (*MatrixElement) isElement()         {}
func (*BinauralElement) isElement()       {}

func cloneElements(elements []ProgrammeElement) []ProgrammeElement {
	if elements == nil {
		return nil
	}
	out := make([]ProgrammeElement, len(elements))
	for i, e := range elements {
		out[i] = e.clone()
	}
	return out
}

// Programme is a named ordered element list. Element order is significant
// and is preserved across move/insert/remove.
type Programme struct {
	Name     string
	Language string
	Elements []ProgrammeElement
}

// Clone deep-copies the programme.
func (p Programme) Clone() Programme {
	return Programme{Name: p.Name, Language: p.Language, Elements: cloneElements(p.Elements)}
}

// ReferencedIDs collects every valid connection id referenced by the
// programme's object elements, nested groups and toggles included.
func (p Programme) ReferencedIDs() []connection.ID {
	var ids []connection.ID
	walkElements(p.Elements, func(e ProgrammeElement) {
		if obj, ok := e.(*ObjectElement); ok && obj.ID.Valid() {
			ids = append(ids, obj.ID)
		}
	})
	return ids
}

// References reports whether the programme has an object element bound to
// the given id.
func (p Programme) References(id connection.ID) bool {
	found := false
	walkElements(p.Elements, func(e ProgrammeElement) {
		if obj, ok := e.(*ObjectElement); ok && obj.ID.Compare(id) == 0 {
			found = true
		}
	})
	return found
}

func walkElements(elements []ProgrammeElement, fn func(ProgrammeElement)) {
	for _, e := range elements {
		fn(e)
		switch v := e.(type) {
		case *GroupElement:
			walkElements(v.Elements, fn)
		case *ToggleElement:
			walkElements(v.Elements, fn)
		}
	}
}

// DefaultProgrammeName names the programme auto mode derives.
const DefaultProgrammeName = "Default"

// ProgrammeStore is the ordered programme tree plus selection and the auto
// mode flag. It is pure data: the central Store owns the only live instance
// and is responsible for locking and notification.
type ProgrammeStore struct {
	Programmes []Programme
	Selected   int
	AutoMode   bool
}

// NewProgrammeStore returns the default store: one empty default programme,
// selected, with auto mode on.
func NewProgrammeStore() *ProgrammeStore {
	return &ProgrammeStore{
		Programmes: []Programme{{Name: DefaultProgrammeName}},
		Selected:   0,
		AutoMode:   true,
	}
}

// Clone deep-copies the store.
func (ps *ProgrammeStore) Clone() *ProgrammeStore {
	out := &ProgrammeStore{
		Programmes: make([]Programme, len(ps.Programmes)),
		Selected:   ps.Selected,
		AutoMode:   ps.AutoMode,
	}
	for i, p := range ps.Programmes {
		out.Programmes[i] = p.Clone()
	}
	return out
}

// SelectedProgramme returns the selected programme, or false when the store
// has none.
func (ps *ProgrammeStore) SelectedProgramme() (Programme, bool) {
	if ps.Selected < 0 || ps.Selected >= len(ps.Programmes) {
		return Programme{}, false
	}
	return ps.Programmes[ps.Selected], true
}

// ReferencedIDs collects every valid connection id referenced anywhere in
// the store.
func (ps *ProgrammeStore) ReferencedIDs() map[connection.ID]struct{} {
	ids := make(map[connection.ID]struct{})
	for _, p := range ps.Programmes {
		for _, id := range p.ReferencedIDs() {
			ids[id] = struct{}{}
		}
	}
	return ids
}

// stripID removes every object element bound to id from all programmes,
// descending into groups and toggles. Returns the indices of programmes
// that changed.
func (ps *ProgrammeStore) stripID(id connection.ID) []int {
	var changed []int
	for i := range ps.Programmes {
		if stripFromElements(&ps.Programmes[i].Elements, id) {
			changed = append(changed, i)
		}
	}
	return changed
}

func stripFromElements(elements *[]ProgrammeElement, id connection.ID) bool {
	changed := false
	kept := (*elements)[:0]
	for _, e := range *elements {
		if obj, ok := e.(*ObjectElement); ok && obj.ID.Compare(id) == 0 {
			changed = true
			continue
		}
		switch v := e.(type) {
		case *GroupElement:
			if stripFromElements(&v.Elements, id) {
				changed = true
			}
		case *ToggleElement:
			if stripFromElements(&v.Elements, id) {
				changed = true
			}
		}
		kept = append(kept, e)
	}
	*elements = kept
	return changed
}
