// Package store holds the filesystem helpers shared by config bootstrap, the simulator, and the console.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

var (
	pathLocksMu sync.Mutex
	pathLocks   = map[string]*sync.Mutex{}
)

// ReadJSON decodes the JSON document at path into v.
func ReadJSON(path string, v any) error {
	p, err := cleanPath(path)
	if err != nil {
		return err
	}
	raw, err := os.ReadFile(p)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("decode %q: %w", p, err)
	}
	return nil
}

// WriteJSONIfMissing creates path with the indented JSON encoding of v unless it already exists.
// It reports whether the file was written.
func WriteJSONIfMissing(path string, v any) (bool, error) {
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return false, fmt.Errorf("encode %q: %w", path, err)
	}
	return WriteFileIfMissing(path, append(raw, '\n'))
}

// WriteFile atomically replaces a file's contents through a temp file and rename.
func WriteFile(path string, data []byte) error {
	p, err := cleanPath(path)
	if err != nil {
		return err
	}
	return withPathLock(p, func() error {
		dir, err := ensureDir(p)
		if err != nil {
			return err
		}
		tmp, err := os.CreateTemp(dir, filepath.Base(p)+".tmp-*")
		if err != nil {
			return fmt.Errorf("create temp file for %q: %w", p, err)
		}
		tmpPath := tmp.Name()
		defer os.Remove(tmpPath)

		if _, err := tmp.Write(data); err != nil {
			tmp.Close()
			return fmt.Errorf("write temp file for %q: %w", p, err)
		}
		if err := tmp.Chmod(0o644); err != nil {
			tmp.Close()
			return fmt.Errorf("chmod temp file for %q: %w", p, err)
		}
		if err := tmp.Close(); err != nil {
			return fmt.Errorf("close temp file for %q: %w", p, err)
		}
		if err := os.Rename(tmpPath, p); err != nil {
			return fmt.Errorf("replace file %q: %w", p, err)
		}
		return nil
	})
}

// WriteFileIfMissing creates path with data unless it already exists.
// It reports whether the file was written.
func WriteFileIfMissing(path string, data []byte) (bool, error) {
	p, err := cleanPath(path)
	if err != nil {
		return false, err
	}
	if _, err := os.Stat(p); err == nil {
		return false, nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return false, fmt.Errorf("stat %q: %w", p, err)
	}
	if err := WriteFile(p, data); err != nil {
		return false, err
	}
	return true, nil
}

// AppendJSONLine appends the compact JSON encoding of v plus a newline.
func AppendJSONLine(path string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode line for %q: %w", path, err)
	}
	return AppendFile(path, append(raw, '\n'))
}

// AppendFile appends bytes to a file, creating it if missing.
func AppendFile(path string, data []byte) error {
	p, err := cleanPath(path)
	if err != nil {
		return err
	}
	return withPathLock(p, func() error {
		if _, err := ensureDir(p); err != nil {
			return err
		}
		f, err := os.OpenFile(p, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return fmt.Errorf("open file %q for append: %w", p, err)
		}
		defer f.Close()

		if _, err := f.Write(data); err != nil {
			return fmt.Errorf("append file %q: %w", p, err)
		}
		return nil
	})
}

func withPathLock(path string, fn func() error) error {
	pathLocksMu.Lock()
	lock, ok := pathLocks[path]
	if !ok {
		lock = &sync.Mutex{}
		pathLocks[path] = lock
	}
	pathLocksMu.Unlock()

	lock.Lock()
	defer lock.Unlock()
	return fn()
}

func ensureDir(path string) (string, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create directory %q: %w", dir, err)
	}
	return dir, nil
}

func cleanPath(path string) (string, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return "", errors.New("path is required")
	}
	return filepath.Clean(trimmed), nil
}
