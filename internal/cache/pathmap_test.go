package cache

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPathMapperLayout(t *testing.T) {
	root := t.TempDir()
	testCases := []struct {
		name  string
		depth int
		hash  string
		want  string
	}{
		{"default depth", 3, "0123abcd", filepath.Join(root, "0", "1", "2", "0123abcd")},
		{"flat", 0, "0123abcd", filepath.Join(root, "0123abcd")},
		{"single level", 1, "f00dcafe", filepath.Join(root, "f", "f00dcafe")},
		{"max depth", MinKeyLength, "deadbeef", filepath.Join(root, "d", "e", "a", "d", "b", "e", "e", "f", "deadbeef")},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			m, err := NewPathMapper(root, tc.depth, nil)
			require.NoError(t, err)
			got, err := m.Path(tc.hash)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)

			again, err := m.Path(tc.hash)
			require.NoError(t, err)
			assert.Equal(t, got, again)
		})
	}
}

func TestPathMapperPathHasNoSideEffects(t *testing.T) {
	root := t.TempDir()
	m, err := NewPathMapper(root, 3, nil)
	require.NoError(t, err)

	_, err = m.Path("abcdef01")
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(root, "a"))
	assert.True(t, os.IsNotExist(err))
}

func TestPathMapperEnsureCreatesDirs(t *testing.T) {
	root := t.TempDir()
	m, err := NewPathMapper(root, 3, nil)
	require.NoError(t, err)

	path, err := m.Ensure("abcdef01")
	require.NoError(t, err)

	info, err := os.Stat(filepath.Dir(path))
	require.NoError(t, err)
	assert.True(t, info.IsDir())

	// idempotent
	_, err = m.Ensure("abcdef01")
	require.NoError(t, err)
}

func TestPathMapperRejectsDepthOutOfRange(t *testing.T) {
	_, err := NewPathMapper(t.TempDir(), -1, nil)
	require.ErrorIs(t, err, ErrInvalidConfiguration)
	_, err = NewPathMapper(t.TempDir(), MinKeyLength+1, nil)
	require.ErrorIs(t, err, ErrInvalidConfiguration)
}

func TestValidateKey(t *testing.T) {
	valid := []string{"00000000", "0123456789abcdef", "deadbeefdeadbeefdeadbeef"}
	for _, key := range valid {
		assert.NoError(t, ValidateKey(key), key)
	}

	invalid := []string{"", "abc", "1234567", "DEADBEEF", "deadbeeg", "../../../etc", "dead/beef", "dead beef"}
	for _, key := range invalid {
		assert.ErrorIs(t, ValidateKey(key), ErrInvalidKey, key)
	}
}

func TestPathMapperRejectsInvalidKey(t *testing.T) {
	m, err := NewPathMapper(t.TempDir(), 3, nil)
	require.NoError(t, err)

	_, err = m.Path("../../x")
	require.ErrorIs(t, err, ErrInvalidKey)
	_, err = m.Ensure("ABCDEF01")
	require.ErrorIs(t, err, ErrInvalidKey)
}
