package kv

import (
	"encoding/json"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

type persistedFile struct {
	Version int               `json:"version"`
	Values  map[string]string `json:"values"`
	SavedAt int64             `json:"savedAt"`
}

// File is a Store backed by a single JSON file. Writes go through a temp
// file and rename so a crash never leaves a half-written state file. A
// file that cannot be read or parsed is treated as empty. The disk write
// happens under the same lock as the mutation, so the file on disk
// always reflects the latest completed mutation.
type File struct {
	mu     sync.RWMutex
	path   string
	values map[string]string
}

func NewFile(path string) (*File, error) {
	f := &File{path: path, values: make(map[string]string)}
	if err := f.load(); err != nil {
		return nil, err
	}
	return f, nil
}

func (f *File) load() error {
	data, err := os.ReadFile(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if len(data) == 0 {
		return nil
	}

	var file persistedFile
	if err := json.Unmarshal(data, &file); err != nil {
		log.Printf("kv: state file unreadable (%s), starting empty: %v", f.path, err)
		return nil
	}
	if file.Version != 1 {
		log.Printf("kv: unsupported state file version %d, starting empty", file.Version)
		return nil
	}
	for k, v := range file.Values {
		f.values[k] = v
	}
	return nil
}

func (f *File) persistLocked() {
	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		log.Printf("kv: mkdir failed (%s): %v", dir, err)
		return
	}

	file := persistedFile{Version: 1, Values: f.values, SavedAt: time.Now().UnixMilli()}
	data, err := json.MarshalIndent(file, "", "  ")
	if err != nil {
		log.Printf("kv: marshal failed: %v", err)
		return
	}
	data = append(data, '\n')

	tmp, err := os.CreateTemp(dir, filepath.Base(f.path)+".tmp-*")
	if err != nil {
		log.Printf("kv: create temp failed: %v", err)
		return
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if err := tmp.Chmod(0o600); err != nil {
		_ = tmp.Close()
		log.Printf("kv: chmod temp failed: %v", err)
		return
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		log.Printf("kv: write temp failed: %v", err)
		return
	}
	if err := tmp.Close(); err != nil {
		log.Printf("kv: close temp failed: %v", err)
		return
	}
	if err := os.Rename(tmpName, f.path); err != nil {
		log.Printf("kv: rename failed: %v", err)
	}
}

func (f *File) Get(key string) (string, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	v, ok := f.values[key]
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}

func (f *File) Set(key, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.values[key] = value
	f.persistLocked()
	return nil
}

func (f *File) Delete(key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.values, key)
	f.persistLocked()
	return nil
}

func (f *File) Keys(prefix string) ([]string, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	result := make([]string, 0, len(f.values))
	for k := range f.values {
		if strings.HasPrefix(k, prefix) {
			result = append(result, k)
		}
	}
	sort.Strings(result)
	return result, nil
}
