// Package cache persists planned instruction streams keyed by the prompt
// that produced them. Entries never expire; a stored stream can be edited
// by hand and is reused verbatim on the next run of the same prompt.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/v0xg/stepflow/internal/instruction"
)

// Backend names
const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"
	BackendMemory = "memory"
)

// ErrNotFound is returned by Delete and Lookup for unknown keys
var ErrNotFound = errors.New("cache: entry not found")

// Key returns the cache key of a prompt: the hex SHA-256 of the prompt
// with surrounding whitespace removed.
func Key(prompt string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(prompt)))
	return hex.EncodeToString(sum[:])
}

// Store is a keyed instruction stream store
type Store interface {
	Get(ctx context.Context, key string) ([]instruction.Instruction, bool, error)
	Put(ctx context.Context, key string, list []instruction.Instruction) error
}

// Entry describes a stored stream
type Entry struct {
	Key       string
	Prompt    string // empty when the backend does not keep prompts
	Steps     int
	UpdatedAt time.Time
}

// Lister is implemented by stores that can enumerate and remove entries
type Lister interface {
	List(ctx context.Context) ([]Entry, error)
	Delete(ctx context.Context, key string) error
}

// PromptStore is implemented by stores that also keep the originating prompt
type PromptStore interface {
	PutPrompt(ctx context.Context, key, prompt string, list []instruction.Instruction) error
}

// Save stores list under key, keeping prompt when the store supports it
func Save(ctx context.Context, s Store, key, prompt string, list []instruction.Instruction) error {
	if ps, ok := s.(PromptStore); ok {
		return ps.PutPrompt(ctx, key, prompt, list)
	}
	return s.Put(ctx, key, list)
}

// Lookup expands a key prefix to the single stored key it identifies
func Lookup(ctx context.Context, l Lister, prefix string) (string, error) {
	prefix = strings.ToLower(strings.TrimSpace(prefix))
	if prefix == "" {
		return "", fmt.Errorf("empty key")
	}
	entries, err := l.List(ctx)
	if err != nil {
		return "", err
	}
	var matches []string
	for _, e := range entries {
		if e.Key == prefix {
			return e.Key, nil
		}
		if strings.HasPrefix(e.Key, prefix) {
			matches = append(matches, e.Key)
		}
	}
	switch len(matches) {
	case 0:
		return "", fmt.Errorf("%w: %s", ErrNotFound, prefix)
	case 1:
		return matches[0], nil
	default:
		return "", fmt.Errorf("key prefix %q is ambiguous (%d entries)", prefix, len(matches))
	}
}

// Open creates the store for a backend. dir is used by the file backend and
// path by the sqlite backend.
func Open(backend, dir, path string) (Store, error) {
	switch backend {
	case BackendFile, "":
		return NewFileStore(dir)
	case BackendSQLite:
		return OpenSQLite(path)
	case BackendMemory:
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown cache backend: %s", backend)
	}
}

// MemoryStore keeps streams for the lifetime of the process
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
}

type memoryEntry struct {
	prompt  string
	list    []instruction.Instruction
	updated time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: map[string]memoryEntry{}}
}

func (m *MemoryStore) Get(_ context.Context, key string) ([]instruction.Instruction, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[key]
	if !ok {
		return nil, false, nil
	}
	return instruction.Clone(e.list), true, nil
}

func (m *MemoryStore) Put(ctx context.Context, key string, list []instruction.Instruction) error {
	return m.PutPrompt(ctx, key, "", list)
}

func (m *MemoryStore) PutPrompt(_ context.Context, key, prompt string, list []instruction.Instruction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = memoryEntry{prompt: prompt, list: instruction.Clone(list), updated: time.Now()}
	return nil
}

func (m *MemoryStore) List(context.Context) ([]Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Entry, 0, len(m.entries))
	for k, e := range m.entries {
		out = append(out, Entry{Key: k, Prompt: e.prompt, Steps: len(e.list), UpdatedAt: e.updated})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (m *MemoryStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.entries[key]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	delete(m.entries, key)
	return nil
}
