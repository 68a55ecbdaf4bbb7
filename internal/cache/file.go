package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/v0xg/stepflow/internal/instruction"
)

const fileExt = ".json"

// FileStore keeps one indented JSON array per key under a directory so
// entries can be inspected and corrected with a text editor.
type FileStore struct {
	dir string
}

// NewFileStore creates dir if needed
func NewFileStore(dir string) (*FileStore, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, fmt.Errorf("cache dir cannot be empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create cache dir: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

// Dir returns the cache directory
func (s *FileStore) Dir() string { return s.dir }

// Path returns the file that holds key
func (s *FileStore) Path(key string) string {
	return filepath.Join(s.dir, key+fileExt)
}

func checkKey(key string) error {
	if key == "" {
		return fmt.Errorf("empty cache key")
	}
	if strings.ContainsAny(key, `/\.`) {
		return fmt.Errorf("invalid cache key %q", key)
	}
	return nil
}

func (s *FileStore) Get(_ context.Context, key string) ([]instruction.Instruction, bool, error) {
	if err := checkKey(key); err != nil {
		return nil, false, err
	}
	data, err := os.ReadFile(s.Path(key))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read cache entry: %w", err)
	}
	list, err := instruction.Parse(data)
	if err != nil {
		return nil, false, fmt.Errorf("failed to parse cache entry %s: %w", key, err)
	}
	return list, true, nil
}

// Put writes through a temp file and a rename so readers never see a
// partial entry and identical concurrent writes leave the same content.
func (s *FileStore) Put(_ context.Context, key string, list []instruction.Instruction) error {
	if err := checkKey(key); err != nil {
		return err
	}
	if list == nil {
		list = []instruction.Instruction{}
	}
	data, err := json.MarshalIndent(list, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode cache entry: %w", err)
	}
	data = append(data, '\n')

	tmp, err := os.CreateTemp(s.dir, key+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write cache entry: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to write cache entry: %w", err)
	}
	if err := os.Rename(tmpName, s.Path(key)); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to commit cache entry: %w", err)
	}
	return nil
}

// List returns the entries sorted by key. Entries that no longer parse are
// listed with Steps set to -1 so they can still be removed.
func (s *FileStore) List(_ context.Context) ([]Entry, error) {
	dirEntries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read cache dir: %w", err)
	}

	var out []Entry
	for _, de := range dirEntries {
		name := de.Name()
		if de.IsDir() || !strings.HasSuffix(name, fileExt) {
			continue
		}
		info, err := de.Info()
		if err != nil {
			continue
		}
		e := Entry{Key: strings.TrimSuffix(name, fileExt), UpdatedAt: info.ModTime(), Steps: -1}
		if data, err := os.ReadFile(filepath.Join(s.dir, name)); err == nil {
			if list, err := instruction.Parse(data); err == nil {
				e.Steps = len(list)
			}
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (s *FileStore) Delete(_ context.Context, key string) error {
	if err := checkKey(key); err != nil {
		return err
	}
	err := os.Remove(s.Path(key))
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return err
}
