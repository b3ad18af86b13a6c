package persist

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

const (
	dirPerm  = 0o750
	filePerm = 0o600
)

var (
	// ErrNotFound indicates no state file exists for the key.
	ErrNotFound = errors.New("persist: not found")
	// ErrTooLarge indicates a state file larger than the persister allows.
	ErrTooLarge = errors.New("persist: file too large")
	// ErrInvalidKey indicates a key that would escape the directory.
	ErrInvalidKey = errors.New("persist: invalid key")
)

// Persister stores values of one type as files named key+extension in a directory.
// Writes go through a temp file and rename, so readers never see partial state.
type Persister[T any] struct {
	dir     string
	codec   Codec
	maxSize int64
}

// NewPersister creates a persister rooted at dir. A maxSize of zero means unlimited.
func NewPersister[T any](dir string, codec Codec, maxSize int64) *Persister[T] {
	return &Persister[T]{
		dir:     dir,
		codec:   codec,
		maxSize: maxSize,
	}
}

// Dir returns the storage directory.
func (p *Persister[T]) Dir() string {
	return p.dir
}

func (p *Persister[T]) path(key string) (string, error) {
	if key == "" || key != filepath.Base(key) || key == "." || key == ".." {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}

	return filepath.Join(p.dir, key+p.codec.Extension()), nil
}

// Save writes state under key, creating the directory when needed.
func (p *Persister[T]) Save(key string, state *T) error {
	path, err := p.path(key)
	if err != nil {
		return err
	}

	err = os.MkdirAll(p.dir, dirPerm)
	if err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}

	tmp, err := os.CreateTemp(p.dir, "."+key+".*")
	if err != nil {
		return fmt.Errorf("create state file: %w", err)
	}

	defer os.Remove(tmp.Name())

	err = p.codec.Encode(tmp, state)
	if err != nil {
		_ = tmp.Close()

		return fmt.Errorf("encode state: %w", err)
	}

	err = tmp.Close()
	if err != nil {
		return fmt.Errorf("close state file: %w", err)
	}

	err = os.Chmod(tmp.Name(), filePerm)
	if err != nil {
		return fmt.Errorf("chmod state file: %w", err)
	}

	err = os.Rename(tmp.Name(), path)
	if err != nil {
		return fmt.Errorf("rename state file: %w", err)
	}

	return nil
}

// Load reads the state stored under key.
func (p *Persister[T]) Load(key string) (*T, error) {
	path, err := p.path(key)
	if err != nil {
		return nil, err
	}

	file, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}

	if err != nil {
		return nil, fmt.Errorf("open state file: %w", err)
	}
	defer file.Close()

	var r io.Reader = file

	if p.maxSize > 0 {
		info, statErr := file.Stat()
		if statErr != nil {
			return nil, fmt.Errorf("stat state file: %w", statErr)
		}

		if info.Size() > p.maxSize {
			return nil, fmt.Errorf("%w: %s is %d bytes", ErrTooLarge, key, info.Size())
		}

		r = io.LimitReader(file, p.maxSize)
	}

	var state T

	err = p.codec.Decode(r, &state)
	if err != nil {
		return nil, fmt.Errorf("decode state: %w", err)
	}

	return &state, nil
}

// Delete removes the state stored under key.
func (p *Persister[T]) Delete(key string) error {
	path, err := p.path(key)
	if err != nil {
		return err
	}

	err = os.Remove(path)
	if errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%w: %s", ErrNotFound, key)
	}

	if err != nil {
		return fmt.Errorf("remove state file: %w", err)
	}

	return nil
}

// Keys lists stored keys in directory order. A missing directory yields none.
func (p *Persister[T]) Keys() ([]string, error) {
	entries, err := os.ReadDir(p.dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}

	if err != nil {
		return nil, fmt.Errorf("list state dir: %w", err)
	}

	ext := p.codec.Extension()

	var keys []string

	for _, entry := range entries {
		key, ok := strings.CutSuffix(entry.Name(), ext)
		if entry.IsDir() || !ok || key == "" || strings.HasPrefix(key, ".") {
			continue
		}

		keys = append(keys, key)
	}

	return keys, nil
}
