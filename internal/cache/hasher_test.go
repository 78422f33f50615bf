package cache

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestXXHasherProducesValidKeys(t *testing.T) {
	h := XXHasher{}
	key := h.Hash("https://example.com/pkg/v1.0.0.tgz")
	assert.Len(t, key, 16)
	assert.NoError(t, ValidateKey(key))
	assert.Equal(t, key, h.Hash("https://example.com/pkg/v1.0.0.tgz"))
	assert.NotEqual(t, key, h.Hash("https://example.com/pkg/v1.0.1.tgz"))

	empty := h.Hash("")
	assert.NoError(t, ValidateKey(empty), "leading zeros must be kept")
}

func TestDigestHasher(t *testing.T) {
	h := DigestHasher{}
	assert.Equal(t, "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855", h.Hash(""))
	assert.NoError(t, ValidateKey(h.Hash("anything")))
}

func TestNewHasher(t *testing.T) {
	h, err := NewHasher("")
	require.NoError(t, err)
	assert.IsType(t, XXHasher{}, h)

	h, err = NewHasher("SHA256")
	require.NoError(t, err)
	assert.IsType(t, DigestHasher{}, h)

	_, err = NewHasher("md5")
	assert.Error(t, err)
}
