package backup

import (
	"errors"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

var (
	// ErrQuotaExceeded is returned by a Storage that is out of room.
	ErrQuotaExceeded = errors.New("backup storage quota exceeded")
	// ErrNoItem is returned by GetItem for keys that aren't stored.
	ErrNoItem = errors.New("no such item")
)

// Storage is a synchronous string key/value store.  Every call completes
// before it returns, so it is safe to use from teardown handlers.
type Storage interface {
	GetItem(key string) (string, error)
	SetItem(key, value string) error
	RemoveItem(key string) error
	Keys() ([]string, error)
}

// MemoryStorage is a Storage held in memory, with an optional byte quota.
type MemoryStorage struct {
	mu    sync.Mutex
	items map[string]string
	quota int64
}

// NewMemoryStorage returns an empty storage holding at most quota bytes of
// keys and values.  A quota of 0 is unlimited.
func NewMemoryStorage(quota int64) *MemoryStorage {
	return &MemoryStorage{items: map[string]string{}, quota: quota}
}

func (m *MemoryStorage) GetItem(key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.items[key]
	if !ok {
		return "", ErrNoItem
	}
	return v, nil
}

func (m *MemoryStorage) SetItem(key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.quota > 0 {
		used := int64(0)
		for k, v := range m.items {
			if k != key {
				used += int64(len(k) + len(v))
			}
		}
		if used+int64(len(key)+len(value)) > m.quota {
			return ErrQuotaExceeded
		}
	}
	m.items[key] = value
	return nil
}

func (m *MemoryStorage) RemoveItem(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.items, key)
	return nil
}

func (m *MemoryStorage) Keys() ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := make([]string, 0, len(m.items))
	for k := range m.items {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

// FileStorage is a Storage keeping one file per key in a directory.  Writes
// go to a temp file that is renamed into place.
type FileStorage struct {
	mu    sync.Mutex
	dir   string
	quota int64
}

const fileExt = ".json"

// NewFileStorage returns a storage in dir, creating it if needed.  A quota
// of 0 is unlimited.
func NewFileStorage(dir string, quota int64) (*FileStorage, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, err
	}
	return &FileStorage{dir: dir, quota: quota}, nil
}

// Dir is the directory the storage writes to.
func (f *FileStorage) Dir() string { return f.dir }

func (f *FileStorage) path(key string) string {
	return filepath.Join(f.dir, url.PathEscape(key)+fileExt)
}

func (f *FileStorage) GetItem(key string) (string, error) {
	b, err := os.ReadFile(f.path(key))
	if errors.Is(err, os.ErrNotExist) {
		return "", ErrNoItem
	}
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// used returns the bytes stored under every key other than except.
func (f *FileStorage) used(except string) (int64, error) {
	entries, err := os.ReadDir(f.dir)
	if err != nil {
		return 0, err
	}
	var n int64
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), fileExt) || filepath.Join(f.dir, e.Name()) == except {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		n += info.Size()
	}
	return n, nil
}

func (f *FileStorage) SetItem(key, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	path := f.path(key)
	if f.quota > 0 {
		used, err := f.used(path)
		if err != nil {
			return err
		}
		if used+int64(len(value)) > f.quota {
			return ErrQuotaExceeded
		}
	}

	tmp, err := os.CreateTemp(f.dir, ".tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	if _, err := tmp.WriteString(value); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	return os.Rename(tmpPath, path)
}

func (f *FileStorage) RemoveItem(key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	err := os.Remove(f.path(key))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

func (f *FileStorage) Keys() ([]string, error) {
	entries, err := os.ReadDir(f.dir)
	if err != nil {
		return nil, err
	}
	var keys []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, ".") || !strings.HasSuffix(name, fileExt) {
			continue
		}
		key, err := url.PathUnescape(strings.TrimSuffix(name, fileExt))
		if err != nil {
			continue
		}
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys, nil
}
