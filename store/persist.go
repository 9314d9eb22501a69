package store

import (
	"encoding/json"

	"github.com/c360/scenesync/connection"
	"github.com/c360/scenesync/errors"
)

// persistVersion is bumped on incompatible schema changes. Decoders accept
// any version they recognize and ignore unknown fields, so additive changes
// stay backward compatible.
const persistVersion = 1

type programmesJSON struct {
	Version    int             `json:"version"`
	Programmes []programmeJSON `json:"programmes"`
	Selected   int             `json:"selected"`
	AutoMode   bool            `json:"auto_mode"`
}

type programmeJSON struct {
	Name     string        `json:"name"`
	Language string        `json:"language,omitempty"`
	Elements []elementJSON `json:"elements,omitempty"`
}

type elementJSON struct {
	Kind string `json:"kind"`

	ID       connection.ID `json:"id,omitempty"`
	ObjectID string        `json:"object_id,omitempty"`
	TrackUID string        `json:"track_uid,omitempty"`

	Name     string        `json:"name,omitempty"`
	Elements []elementJSON `json:"nested,omitempty"`
	Selected int           `json:"selected,omitempty"`

	Layout   string `json:"layout,omitempty"`
	Order    int    `json:"order,omitempty"`
	Channels int    `json:"channels,omitempty"`
}

// MarshalProgrammes serializes the programme tree as the project save blob.
func MarshalProgrammes(ps *ProgrammeStore) ([]byte, error) {
	out := programmesJSON{
		Version:    persistVersion,
		Programmes: make([]programmeJSON, len(ps.Programmes)),
		Selected:   ps.Selected,
		AutoMode:   ps.AutoMode,
	}
	for i, p := range ps.Programmes {
		out.Programmes[i] = programmeJSON{
			Name:     p.Name,
			Language: p.Language,
			Elements: encodeElements(p.Elements),
		}
	}
	data, err := json.Marshal(out)
	if err != nil {
		return nil, errors.Wrap(err, "Store", "MarshalProgrammes", "marshal programmes")
	}
	return data, nil
}

func encodeElements(elements []ProgrammeElement) []elementJSON {
	if len(elements) == 0 {
		return nil
	}
	out := make([]elementJSON, len(elements))
	for i, e := range elements {
		switch v := e.(type) {
		case *ObjectElement:
			out[i] = elementJSON{Kind: v.ElementKind().String(),
				ID: v.ID, ObjectID: v.ObjectID, TrackUID: v.TrackUID}
		case *GroupElement:
			out[i] = elementJSON{Kind: v.ElementKind().String(),
				Name: v.Name, Elements: encodeElements(v.Elements)}
		case *ToggleElement:
			out[i] = elementJSON{Kind: v.ElementKind().String(),
				Name: v.Name, Elements: encodeElements(v.Elements), Selected: v.Selected}
		case *DirectSpeakersElement:
			out[i] = elementJSON{Kind: v.ElementKind().String(), Layout: v.Layout}
		case *HOAElement:
			out[i] = elementJSON{Kind: v.ElementKind().String(), Order: v.Order}
		case *MatrixElement:
			out[i] = elementJSON{Kind: v.ElementKind().String(), Channels: v.Channels}
		case *BinauralElement:
			out[i] = elementJSON{Kind: v.ElementKind().String()}
		}
	}
	return out
}

// UnmarshalProgrammes decodes a project save blob. Decode failure degrades
// to the default store rather than surfacing an error to the host: a stale
// or truncated blob costs the saved programmes, never the session.
func UnmarshalProgrammes(data []byte) *ProgrammeStore {
	var in programmesJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return NewProgrammeStore()
	}
	if in.Version <= 0 || in.Version > persistVersion {
		return NewProgrammeStore()
	}

	ps := &ProgrammeStore{
		Programmes: make([]Programme, len(in.Programmes)),
		Selected:   in.Selected,
		AutoMode:   in.AutoMode,
	}
	for i, p := range in.Programmes {
		ps.Programmes[i] = Programme{
			Name:     p.Name,
			Language: p.Language,
			Elements: decodeElements(p.Elements),
		}
	}
	if len(ps.Programmes) == 0 {
		return NewProgrammeStore()
	}
	if ps.Selected < 0 || ps.Selected >= len(ps.Programmes) {
		ps.Selected = 0
	}
	return ps
}

func decodeElements(elements []elementJSON) []ProgrammeElement {
	if len(elements) == 0 {
		return nil
	}
	out := make([]ProgrammeElement, 0, len(elements))
	for _, e := range elements {
		switch e.Kind {
		case ElementObject.String():
			out = append(out, &ObjectElement{ID: e.ID, ObjectID: e.ObjectID, TrackUID: e.TrackUID})
		case ElementGroup.String():
			out = append(out, &GroupElement{Name: e.Name, Elements: decodeElements(e.Elements)})
		case ElementToggle.String():
			out = append(out, &ToggleElement{
				Name: e.Name, Elements: decodeElements(e.Elements), Selected: e.Selected})
		case ElementDirectSpeakers.String():
			out = append(out, &DirectSpeakersElement{Layout: e.Layout})
		case ElementHOA.String():
			out = append(out, &HOAElement{Order: e.Order})
		case ElementMatrix.String():
			out = append(out, &MatrixElement{Channels: e.Channels})
		case ElementBinaural.String():
			out = append(out, &BinauralElement{})
		default:
			// Unknown kinds from a newer writer are skipped, not fatal.
		}
	}
	return out
}
