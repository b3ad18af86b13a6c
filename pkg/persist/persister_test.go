package persist

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// persisterState is a struct for persister round-trip testing.
type persisterState struct {
	Label string `json:"label"`
	Value int    `json:"value"`
}

func TestPersister_SaveLoad(t *testing.T) {
	t.Parallel()

	for _, codec := range []Codec{NewJSONCodec(), NewGobCodec(), NewLZ4Codec()} {
		t.Run(codec.Extension(), func(t *testing.T) {
			t.Parallel()

			p := NewPersister[persisterState](filepath.Join(t.TempDir(), "nested"), codec, 0)

			require.NoError(t, p.Save("link-1", &persisterState{Label: "hello", Value: 42}))

			restored, err := p.Load("link-1")
			require.NoError(t, err)
			assert.Equal(t, persisterState{Label: "hello", Value: 42}, *restored)

			_, err = os.Stat(filepath.Join(p.Dir(), "link-1"+codec.Extension()))
			require.NoError(t, err)
		})
	}
}

func TestPersister_SaveOverwrites(t *testing.T) {
	t.Parallel()

	p := NewPersister[persisterState](t.TempDir(), NewJSONCodec(), 0)

	require.NoError(t, p.Save("k", &persisterState{Value: 1}))
	require.NoError(t, p.Save("k", &persisterState{Value: 2}))

	restored, err := p.Load("k")
	require.NoError(t, err)
	assert.Equal(t, 2, restored.Value)

	keys, err := p.Keys()
	require.NoError(t, err)
	assert.Equal(t, []string{"k"}, keys)
}

func TestPersister_LoadMissing(t *testing.T) {
	t.Parallel()

	p := NewPersister[persisterState](t.TempDir(), NewJSONCodec(), 0)

	_, err := p.Load("missing")
	require.ErrorIs(t, err, ErrNotFound)

	require.ErrorIs(t, p.Delete("missing"), ErrNotFound)
}

func TestPersister_Delete(t *testing.T) {
	t.Parallel()

	p := NewPersister[persisterState](t.TempDir(), NewJSONCodec(), 0)

	require.NoError(t, p.Save("gone", &persisterState{Label: "x"}))
	require.NoError(t, p.Delete("gone"))

	_, err := p.Load("gone")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestPersister_RejectsEscapingKeys(t *testing.T) {
	t.Parallel()

	p := NewPersister[persisterState](t.TempDir(), NewJSONCodec(), 0)

	for _, key := range []string{"", ".", "..", "../evil", "a/b"} {
		require.ErrorIs(t, p.Save(key, &persisterState{}), ErrInvalidKey, key)
	}
}

func TestPersister_MaxSize(t *testing.T) {
	t.Parallel()

	p := NewPersister[persisterState](t.TempDir(), NewJSONCodec(), 32)

	require.NoError(t, p.Save("big", &persisterState{Label: strings.Repeat("x", 64)}))

	_, err := p.Load("big")
	require.ErrorIs(t, err, ErrTooLarge)
}

func TestPersister_KeysSkipsForeignFiles(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	p := NewPersister[persisterState](dir, NewJSONCodec(), 0)

	require.NoError(t, p.Save("a", &persisterState{}))
	require.NoError(t, p.Save("b", &persisterState{}))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".tmp.json"), []byte("{}"), 0o600))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub.json"), 0o750))

	keys, err := p.Keys()
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a", "b"}, keys)
}

func TestPersister_KeysMissingDir(t *testing.T) {
	t.Parallel()

	p := NewPersister[persisterState](filepath.Join(t.TempDir(), "absent"), NewJSONCodec(), 0)

	keys, err := p.Keys()
	require.NoError(t, err)
	assert.Empty(t, keys)
}
