package glproto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisteredLayoutsAreValid(t *testing.T) {
	for _, name := range LayoutNames() {
		l, err := LayoutByName(name)
		require.NoError(t, err)
		assert.NoError(t, l.Validate(), name)
	}
}

func TestLayoutByName(t *testing.T) {
	l, err := LayoutByName("")
	require.NoError(t, err)
	assert.Same(t, DefaultLayout, l)
	assert.Equal(t, 10, l.RecordSize)

	l, err = LayoutByName("V3")
	require.NoError(t, err)
	assert.Equal(t, 11, l.RecordSize)

	_, err = LayoutByName("v9")
	assert.Error(t, err)
}

func TestLayoutValidate_Rejects(t *testing.T) {
	overlap := &Layout{Name: "bad", RecordSize: 2, Fields: []Field{
		{Kind: FieldModuleID, Offset: 0, Width: 8},
		{Kind: FieldAltitude, Offset: 4, Width: 8},
	}}
	assert.ErrorContains(t, overlap.Validate(), "overlaps")

	tooWide := &Layout{Name: "bad", RecordSize: 1, Fields: []Field{
		{Kind: FieldModuleID, Offset: 0, Width: 9},
	}}
	assert.ErrorContains(t, tooWide.Validate(), "exceeds")

	noModule := &Layout{Name: "bad", RecordSize: 1, Fields: []Field{
		{Kind: FieldAltitude, Offset: 0, Width: 8},
	}}
	assert.ErrorContains(t, noModule.Validate(), "moduleId")
}

func TestBits(t *testing.T) {
	b := make([]byte, 3)
	writeBits(b, 5, 10, 0x2AB)
	assert.Equal(t, uint64(0x2AB), readBits(b, 5, 10))
	assert.Equal(t, uint64(0), readBits(b, 0, 5))
	assert.Equal(t, uint64(0), readBits(b, 15, 9))

	assert.Equal(t, int64(-1), signExtend(0x3FFFFF, 22))
	assert.Equal(t, int64(-2097152), signExtend(0x200000, 22))
	assert.Equal(t, int64(2097151), signExtend(0x1FFFFF, 22))
}

func TestParseMagic(t *testing.T) {
	m, err := ParseMagic("GV")
	require.NoError(t, err)
	assert.Equal(t, Magic{'G', 'V'}, m)

	_, err = ParseMagic("GLX")
	assert.Error(t, err)
}
