package security

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignAndVerify(t *testing.T) {
	s, err := NewSigner(true, time.Hour)
	require.NoError(t, err)

	payload := map[string]interface{}{
		"ticker":        "AAPL",
		"current_price": 189.50,
	}

	signed, err := s.Sign(payload)
	require.NoError(t, err)
	require.Contains(t, signed, "_signature")

	ok, err := s.Verify(signed)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestVerify_TamperedPayload(t *testing.T) {
	s, err := NewSigner(true, time.Hour)
	require.NoError(t, err)

	signed, err := s.Sign(map[string]interface{}{"current_price": 189.50})
	require.NoError(t, err)

	signed["current_price"] = 1.0

	ok, err := s.Verify(signed)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestVerify_MissingMetadata(t *testing.T) {
	s, err := NewSigner(true, time.Hour)
	require.NoError(t, err)

	_, err = s.Verify(map[string]interface{}{"current_price": 189.50})
	assert.Error(t, err)
}

func TestSign_DisabledPassesThrough(t *testing.T) {
	s, err := NewSigner(false, time.Hour)
	require.NoError(t, err)

	payload := map[string]interface{}{"current_price": 189.50}
	signed, err := s.Sign(payload)
	require.NoError(t, err)

	assert.NotContains(t, signed, "_signature")

	ok, err := s.Verify(signed)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestPublicKey(t *testing.T) {
	s, err := NewSigner(true, time.Hour)
	require.NoError(t, err)
	assert.Regexp(t, "^0x04[0-9a-f]+$", s.PublicKey())
}
