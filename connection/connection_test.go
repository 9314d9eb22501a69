package connection

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewID_Unique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := NewID()
		require.True(t, id.Valid())
		require.False(t, seen[id.String()], "duplicate id generated")
		seen[id.String()] = true
	}
}

func TestNilID(t *testing.T) {
	assert.False(t, Nil.Valid())

	var zero ID
	assert.Equal(t, Nil, zero, "zero value must be Nil")
	assert.Equal(t, 0, Nil.Compare(zero))
}

func TestID_RoundTripString(t *testing.T) {
	id := NewID()
	parsed, err := ParseID(id.String())
	require.NoError(t, err)
	assert.Equal(t, id, parsed)
}

func TestID_RoundTripBytes(t *testing.T) {
	id := NewID()
	b := id.Bytes()
	require.Len(t, b, 16)

	got, err := IDFromBytes(b)
	require.NoError(t, err)
	assert.Equal(t, id, got)
}

func TestParseID_Invalid(t *testing.T) {
	_, err := ParseID("not-a-uuid")
	assert.Error(t, err)

	_, err = IDFromBytes([]byte{1, 2, 3})
	assert.Error(t, err)
}

func TestID_Compare(t *testing.T) {
	a := NewID()
	b := NewID()

	assert.Equal(t, 0, a.Compare(a))
	assert.Equal(t, -a.Compare(b), b.Compare(a), "compare must be antisymmetric")

	// Nil sorts before any assigned id
	assert.Equal(t, -1, Nil.Compare(a))
}

func TestID_TextMarshal(t *testing.T) {
	id := NewID()
	text, err := id.MarshalText()
	require.NoError(t, err)

	var decoded ID
	require.NoError(t, decoded.UnmarshalText(text))
	assert.Equal(t, id, decoded)

	var bad ID
	assert.Error(t, bad.UnmarshalText([]byte("nope")))
}

func TestType_String(t *testing.T) {
	assert.Equal(t, "input", TypeInput.String())
	assert.Equal(t, "monitoring", TypeMonitoring.String())
	assert.Equal(t, "unknown", Type(9).String())
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "new", StateNew.String())
	assert.Equal(t, "active", StateActive.String())
	assert.Equal(t, "unknown", State(9).String())
}
