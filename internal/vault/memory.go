package vault

import (
	"context"
	"fmt"
	"path"
	"sort"
	"sync"
)

// Memory is an in-process vault. The zero value is not usable; call NewMemory.
type Memory struct {
	mu      sync.RWMutex
	files   map[string]string
	folders map[string]struct{}
}

func NewMemory() *Memory {
	return &Memory{
		files:   make(map[string]string),
		folders: map[string]struct{}{".": {}},
	}
}

func (m *Memory) CreateFile(ctx context.Context, p, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c, err := Clean(p)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.existsLocked(c) {
		return fmt.Errorf("%w: %s", ErrExists, p)
	}
	m.mkdirLocked(path.Dir(c))
	m.files[c] = text
	return nil
}

func (m *Memory) ReadFile(ctx context.Context, p string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	c, err := Clean(p)
	if err != nil {
		return "", err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	text, ok := m.files[c]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrNotExist, p)
	}
	return text, nil
}

func (m *Memory) ModifyFile(ctx context.Context, e Entry, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if e.Kind != KindFile {
		return fmt.Errorf("%w: %s", ErrNotFile, e.Path)
	}
	c, err := Clean(e.Path)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.files[c]; !ok {
		return fmt.Errorf("%w: %s", ErrNotExist, e.Path)
	}
	m.files[c] = text
	return nil
}

func (m *Memory) ListChildren(ctx context.Context, folder string) ([]Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c, err := Clean(folder)
	if err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, ok := m.folders[c]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotExist, folder)
	}
	var entries []Entry
	for p := range m.files {
		if path.Dir(p) == c {
			entries = append(entries, Entry{Path: p, Name: path.Base(p), Kind: KindFile})
		}
	}
	for p := range m.folders {
		if p != "." && path.Dir(p) == c {
			entries = append(entries, Entry{Path: p, Name: path.Base(p), Kind: KindFolder})
		}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	return entries, nil
}

func (m *Memory) CreateFolder(ctx context.Context, p string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c, err := Clean(p)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.files[c]; ok {
		return fmt.Errorf("%w: %s is a file", ErrExists, p)
	}
	m.mkdirLocked(c)
	return nil
}

func (m *Memory) Resolve(ctx context.Context, p string) (Entry, error) {
	if err := ctx.Err(); err != nil {
		return Entry{}, err
	}
	c, err := Clean(p)
	if err != nil {
		return Entry{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	e := Entry{Path: c, Name: path.Base(c)}
	if _, ok := m.files[c]; ok {
		e.Kind = KindFile
	} else if _, ok := m.folders[c]; ok {
		e.Kind = KindFolder
	}
	return e, nil
}

// Files returns a snapshot of every file in the vault keyed by path.
func (m *Memory) Files() map[string]string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]string, len(m.files))
	for k, v := range m.files {
		out[k] = v
	}
	return out
}

func (m *Memory) existsLocked(c string) bool {
	if _, ok := m.files[c]; ok {
		return true
	}
	_, ok := m.folders[c]
	return ok
}

func (m *Memory) mkdirLocked(c string) {
	for c != "." && c != "/" {
		m.folders[c] = struct{}{}
		c = path.Dir(c)
	}
}
