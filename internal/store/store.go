package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/gofrs/flock"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("record not found")

const lockRetryDelay = 100 * time.Millisecond

// Store owns every file under the data directory. Writes are atomic
// (write-to-temp, fsync, rename) and serialized by a per-file advisory lock
// with a bounded acquisition timeout.
type Store struct {
	dataDir     string
	backupDir   string
	lockTimeout time.Duration
	logger      *slog.Logger

	// Invoked after every mutating change to the birthdays file. Set once
	// during wiring, before any writer runs.
	OnBirthdaysChanged func(reason string)
}

func New(dataDir, backupDir string, lockTimeout time.Duration, logger *slog.Logger) (*Store, error) {
	for _, dir := range []string{dataDir, backupDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create store dir %s: %w", dir, err)
		}
	}

	return &Store{
		dataDir:     dataDir,
		backupDir:   backupDir,
		lockTimeout: lockTimeout,
		logger:      logger,
	}, nil
}

func (s *Store) path(name string) string {
	return filepath.Join(s.dataDir, name)
}

// withLock runs fn while holding the advisory lock for the named file.
// Acquisition blocks up to the configured timeout.
func (s *Store) withLock(ctx context.Context, name string, fn func() error) error {
	lockCtx, cancel := context.WithTimeout(ctx, s.lockTimeout)
	defer cancel()

	fl := flock.New(s.path(name) + ".lock")
	locked, err := fl.TryLockContext(lockCtx, lockRetryDelay)
	if err != nil {
		return fmt.Errorf("acquire lock for %s: %w", name, err)
	}
	if !locked {
		return fmt.Errorf("acquire lock for %s: timed out after %s", name, s.lockTimeout)
	}
	defer func() {
		if err := fl.Unlock(); err != nil {
			s.logger.Warn("release file lock failed", slog.String("file", name), slog.String("error", err.Error()))
		}
	}()

	return fn()
}

// ReadJSON decodes the named file into out. A missing file returns
// ErrNotFound so callers can start from zero values.
func (s *Store) ReadJSON(name string, out any) error {
	data, err := os.ReadFile(s.path(name))
	if err != nil {
		if os.IsNotExist(err) {
			return ErrNotFound
		}
		return fmt.Errorf("read %s: %w", name, err)
	}

	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode %s: %w", name, err)
	}
	return nil
}

// WriteJSON atomically replaces the named file with the encoding of v.
func (s *Store) WriteJSON(name string, v any) error {
	return AtomicWriteJSON(s.path(name), v)
}

// AtomicWriteJSON writes v as indented JSON via a temp file, fsync, and
// rename, so readers never observe a partial file.
func AtomicWriteJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", filepath.Base(path), err)
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp for %s: %w", filepath.Base(path), err)
	}
	tmpName := tmp.Name()

	// Temp file is removed on every failure path below.
	cleanup := func() {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
	}

	if _, err := tmp.Write(data); err != nil {
		cleanup()
		return fmt.Errorf("write temp for %s: %w", filepath.Base(path), err)
	}
	if err := tmp.Sync(); err != nil {
		cleanup()
		return fmt.Errorf("sync temp for %s: %w", filepath.Base(path), err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close temp for %s: %w", filepath.Base(path), err)
	}

	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("replace %s: %w", filepath.Base(path), err)
	}
	return nil
}

// FileAge returns how old the named file is, or ErrNotFound.
func (s *Store) FileAge(name string, now time.Time) (time.Duration, error) {
	info, err := os.Stat(s.path(name))
	if err != nil {
		if os.IsNotExist(err) {
			return 0, ErrNotFound
		}
		return 0, fmt.Errorf("stat %s: %w", name, err)
	}
	return now.Sub(info.ModTime()), nil
}

// DataDir exposes the directory for ops reporting.
func (s *Store) DataDir() string { return s.dataDir }

// DataFileInfo describes one persisted file for the ops report.
type DataFileInfo struct {
	Name     string    `json:"name"`
	Bytes    int64     `json:"bytes"`
	Modified time.Time `json:"modified"`
}

// DataFiles lists the JSON files under the data directory, sorted by name.
func (s *Store) DataFiles() ([]DataFileInfo, error) {
	entries, err := os.ReadDir(s.dataDir)
	if err != nil {
		return nil, fmt.Errorf("list data dir: %w", err)
	}

	var files []DataFileInfo
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		files = append(files, DataFileInfo{
			Name:     entry.Name(),
			Bytes:    info.Size(),
			Modified: info.ModTime(),
		})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Name < files[j].Name })
	return files, nil
}
