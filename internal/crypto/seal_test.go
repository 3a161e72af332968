package crypto

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testKey() []byte {
	return bytes.Repeat([]byte{7}, 32)
}

func TestSealOpen(t *testing.T) {
	s, err := NewSealer(testKey())
	require.NoError(t, err)

	sealed, err := s.Seal("EAAG-whatsapp-token")
	require.NoError(t, err)
	assert.NotContains(t, sealed, "EAAG")

	pt, err := s.Open(sealed)
	require.NoError(t, err)
	assert.Equal(t, "EAAG-whatsapp-token", pt)
}

func TestSealIsRandomized(t *testing.T) {
	s, _ := NewSealer(testKey())

	a, _ := s.Seal("same")
	b, _ := s.Seal("same")
	assert.NotEqual(t, a, b)
}

func TestOpenWrongKey(t *testing.T) {
	s, _ := NewSealer(testKey())
	other, _ := NewSealer(bytes.Repeat([]byte{9}, 32))

	sealed, _ := s.Seal("secret")
	_, err := other.Open(sealed)
	assert.ErrorIs(t, err, ErrInvalidSealed)
}

func TestOpenGarbage(t *testing.T) {
	s, _ := NewSealer(testKey())

	_, err := s.Open("not base64!")
	assert.ErrorIs(t, err, ErrInvalidSealed)

	_, err = s.Open("c2hvcnQ=")
	assert.ErrorIs(t, err, ErrInvalidSealed)
}

func TestNewSealerKeySize(t *testing.T) {
	_, err := NewSealer([]byte("short"))
	assert.ErrorIs(t, err, ErrInvalidKey)
}
