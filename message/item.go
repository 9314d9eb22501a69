package message

import (
	"encoding/json"
	"fmt"

	"github.com/c360/scenesync/connection"
	"github.com/c360/scenesync/errors"
)

// MetadataType discriminates the closed TypedMetadata variant set.
type MetadataType uint8

// Metadata variants
const (
	MetadataObject MetadataType = iota + 1
	MetadataDirectSpeakers
	MetadataHOA
	MetadataMatrix
	MetadataBinaural
)

// String returns the string representation of MetadataType
func (mt MetadataType) String() string {
	switch mt {
	case MetadataObject:
		return "object"
	case MetadataDirectSpeakers:
		return "direct_speakers"
	case MetadataHOA:
		return "hoa"
	case MetadataMatrix:
		return "matrix"
	case MetadataBinaural:
		return "binaural"
	default:
		return "unknown"
	}
}

// TypedMetadata is the sealed variant over the spatial payload an input
// contributes.
type TypedMetadata interface {
	MetadataType() MetadataType
	isMetadata()
}

// ObjectMetadata positions a single audio object in space.
type ObjectMetadata struct {
	Azimuth   float64 `json:"azimuth"`
	Elevation float64 `json:"elevation"`
	Distance  float64 `json:"distance"`
	Gain      float64 `json:"gain"`
	Width     float64 `json:"width,omitempty"`
	Height    float64 `json:"height,omitempty"`
	Depth     float64 `json:"depth,omitempty"`
}

// MetadataType implements TypedMetadata
func (*ObjectMetadata) MetadataType() MetadataType { return MetadataObject }

// DirectSpeakersMetadata carries a named speaker layout.
type DirectSpeakersMetadata struct {
	Layout string `json:"layout"`
}

// MetadataType implements TypedMetadata
func (*DirectSpeakersMetadata) MetadataType() MetadataType { return MetadataDirectSpeakers }

// HOAMetadata carries the ambisonic order of a higher-order-ambisonics bed.
type HOAMetadata struct {
	Order int `json:"order"`
}

// MetadataType implements TypedMetadata
func (*HOAMetadata) MetadataType() MetadataType { return MetadataHOA }

// MatrixMetadata carries the channel count of a matrix-encoded item.
type MatrixMetadata struct {
	Channels int `json:"channels"`
}

// MetadataType implements TypedMetadata
func (*MatrixMetadata) MetadataType() MetadataType { return MetadataMatrix }

// BinauralMetadata marks a binaurally pre-rendered item. It has no
// parameters of its own.
type BinauralMetadata struct{}

// MetadataType implements TypedMetadata
func (*BinauralMetadata) MetadataType() MetadataType { return MetadataBinaural }

func (*ObjectMetadata) isMetadata()         {}
func (*DirectSpeakersMetadata) isMetadata() {}
func (*HOAMetadata) isMetadata()            {}
func (*MatrixMetadata) isMetadata()         {}
func (*BinauralMetadata) isMetadata()       {}

// InputItem is one input instance's contributed metadata fragment. Routing is
// the first audio channel the item occupies on the shared bus. Changed is a
// dirty flag cleared only by the subsystem that just consumed the item.
type InputItem struct {
	ID            connection.ID
	Name          string
	Colour        uint32
	Routing       int
	InterchangeID string
	Changed       bool
	Metadata      TypedMetadata
}

// EqualIgnoringChanged compares two items by value, ignoring the dirty flag.
// The central store uses this to suppress no-op upsert events.
func (it InputItem) EqualIgnoringChanged(other InputItem) bool {
	a, b := it, other
	a.Changed, b.Changed = false, false
	if a.ID != b.ID || a.Name != b.Name || a.Colour != b.Colour ||
		a.Routing != b.Routing || a.InterchangeID != b.InterchangeID {
		return false
	}
	return metadataEqual(a.Metadata, b.Metadata)
}

func metadataEqual(a, b TypedMetadata) bool {
	if a == nil || b == nil {
		return a == b
	}
	if a.MetadataType() != b.MetadataType() {
		return false
	}
	switch am := a.(type) {
	case *ObjectMetadata:
		return *am == *b.(*ObjectMetadata)
	case *DirectSpeakersMetadata:
		return *am == *b.(*DirectSpeakersMetadata)
	case *HOAMetadata:
		return *am == *b.(*HOAMetadata)
	case *MatrixMetadata:
		return *am == *b.(*MatrixMetadata)
	case *BinauralMetadata:
		return true
	default:
		return false
	}
}

// Validate checks the item for structural correctness.
func (it InputItem) Validate() error {
	if !it.ID.Valid() {
		return errors.WrapInvalid(errors.ErrInvalidData, "InputItem", "Validate", "id presence check")
	}
	if it.Routing < 0 {
		return errors.WrapInvalid(errors.ErrInvalidData, "InputItem", "Validate", "routing range check")
	}
	if it.Metadata == nil {
		return errors.WrapInvalid(errors.ErrInvalidData, "InputItem", "Validate", "metadata presence check")
	}
	return nil
}

type itemJSON struct {
	ID            connection.ID   `json:"id"`
	Name          string          `json:"name,omitempty"`
	Colour        uint32          `json:"colour,omitempty"`
	Routing       int             `json:"routing"`
	InterchangeID string          `json:"interchange_id,omitempty"`
	Changed       bool            `json:"changed,omitempty"`
	Type          MetadataType    `json:"type"`
	Metadata      json.RawMessage `json:"metadata,omitempty"`
}

// MarshalJSON implements json.Marshaler
func (it InputItem) MarshalJSON() ([]byte, error) {
	j := itemJSON{
		ID:            it.ID,
		Name:          it.Name,
		Colour:        it.Colour,
		Routing:       it.Routing,
		InterchangeID: it.InterchangeID,
		Changed:       it.Changed,
	}
	if it.Metadata != nil {
		j.Type = it.Metadata.MetadataType()
		body, err := json.Marshal(it.Metadata)
		if err != nil {
			return nil, err
		}
		j.Metadata = body
	}
	return json.Marshal(j)
}

// UnmarshalJSON implements json.Unmarshaler
func (it *InputItem) UnmarshalJSON(data []byte) error {
	var j itemJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return err
	}

	decoded := InputItem{
		ID:            j.ID,
		Name:          j.Name,
		Colour:        j.Colour,
		Routing:       j.Routing,
		InterchangeID: j.InterchangeID,
		Changed:       j.Changed,
	}

	if j.Type != 0 {
		md, err := unmarshalMetadata(j.Type, j.Metadata)
		if err != nil {
			return err
		}
		decoded.Metadata = md
	}

	// Only assign once the whole item decoded
	*it = decoded
	return nil
}

func unmarshalMetadata(mt MetadataType, body json.RawMessage) (TypedMetadata, error) {
	var target TypedMetadata
	switch mt {
	case MetadataObject:
		target = &ObjectMetadata{}
	case MetadataDirectSpeakers:
		target = &DirectSpeakersMetadata{}
	case MetadataHOA:
		target = &HOAMetadata{}
	case MetadataMatrix:
		target = &MatrixMetadata{}
	case MetadataBinaural:
		target = &BinauralMetadata{}
	default:
		return nil, errors.Malformed(fmt.Sprintf("unknown metadata type %d", mt))
	}
	if len(body) > 0 {
		if err := json.Unmarshal(body, target); err != nil {
			return nil, errors.Malformed("metadata body: " + err.Error())
		}
	}
	return target, nil
}

// MarshalItem serializes an item for the metadata upload channel.
func MarshalItem(it InputItem) ([]byte, error) {
	data, err := json.Marshal(it)
	if err != nil {
		return nil, errors.Wrap(err, "Codec", "MarshalItem", "marshal item")
	}
	return data, nil
}

// UnmarshalItem deserializes a metadata channel payload. Failures are
// malformed-kind errors; the item is never partially filled.
func UnmarshalItem(data []byte) (InputItem, error) {
	var it InputItem
	if err := json.Unmarshal(data, &it); err != nil {
		return InputItem{}, errors.Malformed("item payload: " + err.Error())
	}
	return it, nil
}

// SceneSnapshot is a full consolidated scene: the materialized items of the
// selected programme in element order, the ids of every currently available
// item, and any interchange-id collisions.
type SceneSnapshot struct {
	Items      []InputItem     `json:"items"`
	Available  []connection.ID `json:"available,omitempty"`
	Collisions []string        `json:"collisions,omitempty"`
}

// MarshalScene serializes a snapshot for the scene broadcast channel.
func MarshalScene(s SceneSnapshot) ([]byte, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return nil, errors.Wrap(err, "Codec", "MarshalScene", "marshal scene")
	}
	return data, nil
}

// UnmarshalScene deserializes a scene broadcast payload.
func UnmarshalScene(data []byte) (SceneSnapshot, error) {
	var s SceneSnapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return SceneSnapshot{}, errors.Malformed("scene payload: " + err.Error())
	}
	return s, nil
}
