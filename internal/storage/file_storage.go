package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/systmms/kvrotate/pkg/rotation"
)

const stampLayout = "20060102-150405"

// FileStorage implements Storage using the filesystem:
//
//	<base>/summaries/<stamp>-<run>.json
//	<base>/history/<certificate>/<stamp>-<run>.json
type FileStorage struct {
	baseDir string
	mu      sync.RWMutex
	now     func() time.Time
}

// NewFileStorage creates a new file-based storage
func NewFileStorage(baseDir string) *FileStorage {
	return &FileStorage{
		baseDir: baseDir,
		now:     time.Now,
	}
}

// BaseDir returns the storage root.
func (fs *FileStorage) BaseDir() string {
	return fs.baseDir
}

// SaveSummary saves the audit record of one run
func (fs *FileStorage) SaveSummary(summary *rotation.Summary) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	dir := filepath.Join(fs.baseDir, "summaries")
	return writeJSON(dir, entryFilename(summary.Timestamp, summary.RunID), summary)
}

// ListSummaries returns the newest summaries first
func (fs *FileStorage) ListSummaries(limit int) ([]rotation.Summary, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	var summaries []rotation.Summary
	err := readNewestFirst(filepath.Join(fs.baseDir, "summaries"), limit, func(data []byte) bool {
		var s rotation.Summary
		if err := json.Unmarshal(data, &s); err != nil {
			return false
		}
		summaries = append(summaries, s)
		return true
	})
	if summaries == nil {
		summaries = []rotation.Summary{}
	}
	return summaries, err
}

// SaveHistory saves a per-certificate history entry
func (fs *FileStorage) SaveHistory(entry *HistoryEntry) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if entry.Timestamp.IsZero() {
		entry.Timestamp = fs.now().UTC()
	}
	if entry.ID == "" {
		entry.ID = fmt.Sprintf("%d-%s", entry.Timestamp.UnixNano(), entry.Certificate)
	}

	dir := filepath.Join(fs.baseDir, "history", sanitizeFilename(entry.Certificate))
	return writeJSON(dir, entryFilename(entry.Timestamp, entry.RunID), entry)
}

// GetHistory retrieves history for one certificate, newest first
func (fs *FileStorage) GetHistory(certificate string, limit int) ([]HistoryEntry, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	return fs.getHistory(certificate, limit)
}

func (fs *FileStorage) getHistory(certificate string, limit int) ([]HistoryEntry, error) {
	entries := []HistoryEntry{}
	err := readNewestFirst(filepath.Join(fs.baseDir, "history", sanitizeFilename(certificate)), limit, func(data []byte) bool {
		var entry HistoryEntry
		if err := json.Unmarshal(data, &entry); err != nil {
			return false
		}
		entries = append(entries, entry)
		return true
	})
	return entries, err
}

// GetAllHistory retrieves history for all certificates, newest first
func (fs *FileStorage) GetAllHistory(limit int) ([]HistoryEntry, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	historyDir := filepath.Join(fs.baseDir, "history")
	if _, err := os.Stat(historyDir); os.IsNotExist(err) {
		return []HistoryEntry{}, nil
	}

	certDirs, err := os.ReadDir(historyDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read history directory: %w", err)
	}

	allEntries := []HistoryEntry{}
	for _, certDir := range certDirs {
		if !certDir.IsDir() {
			continue
		}
		entries, err := fs.getHistory(certDir.Name(), -1)
		if err != nil {
			continue // Skip certificates with errors
		}
		allEntries = append(allEntries, entries...)
	}

	sort.SliceStable(allEntries, func(i, j int) bool {
		return allEntries[i].Timestamp.After(allEntries[j].Timestamp)
	})

	if limit > 0 && len(allEntries) > limit {
		allEntries = allEntries[:limit]
	}
	return allEntries, nil
}

// CleanupOldEntries removes summaries and history older than olderThan.
// Files are dated by the timestamp in their name.
func (fs *FileStorage) CleanupOldEntries(olderThan time.Duration) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	cutoff := fs.now().UTC().Add(-olderThan)
	var removeErrs []string

	for _, sub := range []string{"summaries", "history"} {
		root := filepath.Join(fs.baseDir, sub)
		if _, err := os.Stat(root); os.IsNotExist(err) {
			continue
		}

		err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
			if err != nil || d.IsDir() || filepath.Ext(path) != ".json" {
				return nil
			}
			name := filepath.Base(path)
			if len(name) < len(stampLayout) {
				return nil
			}
			stamp, err := time.Parse(stampLayout, name[:len(stampLayout)])
			if err != nil || !stamp.Before(cutoff) {
				return nil
			}
			if err := os.Remove(path); err != nil {
				removeErrs = append(removeErrs, err.Error())
			}
			return nil
		})
		if err != nil {
			return fmt.Errorf("failed to walk %s: %w", root, err)
		}
	}

	if len(removeErrs) > 0 {
		return fmt.Errorf("failed to remove %d old entries: %s", len(removeErrs), strings.Join(removeErrs, "; "))
	}
	return nil
}

func entryFilename(ts time.Time, runID string) string {
	suffix := runID
	if len(suffix) > 8 {
		suffix = suffix[:8]
	}
	if suffix == "" {
		suffix = fmt.Sprintf("%09d", ts.Nanosecond())
	}
	return fmt.Sprintf("%s-%s.json", ts.UTC().Format(stampLayout), sanitizeFilename(suffix))
}

func writeJSON(dir, name string, v interface{}) error {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", name, err)
	}

	if err := os.WriteFile(filepath.Join(dir, name), data, 0600); err != nil {
		return fmt.Errorf("failed to write %s: %w", name, err)
	}
	return nil
}

// readNewestFirst feeds JSON files in dir to decode, newest name first,
// until limit files decoded successfully. Unreadable files are skipped.
func readNewestFirst(dir string, limit int, decode func([]byte) bool) error {
	files, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read directory %s: %w", dir, err)
	}

	sort.Slice(files, func(i, j int) bool {
		return files[i].Name() > files[j].Name()
	})

	count := 0
	for _, file := range files {
		if file.IsDir() || filepath.Ext(file.Name()) != ".json" {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, file.Name()))
		if err != nil {
			continue
		}
		if !decode(data) {
			continue
		}
		count++
		if limit > 0 && count >= limit {
			break
		}
	}
	return nil
}

// sanitizeFilename replaces characters that might be problematic in filenames
func sanitizeFilename(name string) string {
	replacer := strings.NewReplacer(
		"/", "-",
		"\\", "-",
		":", "-",
		"*", "-",
		"?", "-",
		"\"", "-",
		"<", "-",
		">", "-",
		"|", "-",
		" ", "_",
		"..", "_",
	)
	return replacer.Replace(name)
}
