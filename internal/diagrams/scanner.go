package diagrams

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"archagent/internal/logging"
)

// cacheTTL bounds how often All rescans the directory. Repeated calls
// within the window reuse the previous scan.
const cacheTTL = 5 * time.Second

// Scanner scans a directory for diagram images and answers freshness
// queries over them. Scans are read-only; the only mutation is the
// retention sweep in Cleanup, where a concurrently removed file is not an
// error.
type Scanner struct {
	mu sync.Mutex

	dir      string
	cached   []Info
	scanTime time.Time
}

// NewScanner creates a Scanner for dir, creating the directory if needed.
func NewScanner(dir string) (*Scanner, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create diagrams directory %s: %w", dir, err)
	}
	logging.Get(logging.CategoryDiagrams).Info("scanner initialized for %s", dir)
	return &Scanner{dir: dir}, nil
}

// Dir returns the watched directory.
func (s *Scanner) Dir() string { return s.dir }

// Latest returns the most recently modified diagram, or nil if the
// directory holds no candidates.
func (s *Scanner) Latest() (*Info, error) {
	all, err := s.All(false)
	if err != nil {
		return nil, err
	}
	if len(all) == 0 {
		return nil, nil
	}

	latest := all[0]
	for _, d := range all[1:] {
		if d.ModTime.After(latest.ModTime) {
			latest = d
		}
	}
	return &latest, nil
}

// All returns every diagram candidate in the directory. Results are cached
// briefly to avoid hammering the filesystem from the UI refresh cycle;
// forceRefresh bypasses the cache.
func (s *Scanner) All(forceRefresh bool) ([]Info, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !forceRefresh && time.Since(s.scanTime) < cacheTTL && s.cached != nil {
		out := make([]Info, len(s.cached))
		copy(out, s.cached)
		return out, nil
	}

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			// Directory vanished; recreate and report empty.
			if mkErr := os.MkdirAll(s.dir, 0755); mkErr != nil {
				logging.Get(logging.CategoryDiagrams).Warn("cannot recreate %s: %v", s.dir, mkErr)
			}
			return nil, nil
		}
		return nil, fmt.Errorf("failed to scan diagrams directory %s: %w", s.dir, err)
	}

	found := make([]Info, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !IsSupportedImage(entry.Name()) {
			continue
		}
		fi, err := entry.Info()
		if err != nil {
			// File removed between ReadDir and Stat; skip it.
			logging.Get(logging.CategoryDiagrams).Debug("stat %s: %v", entry.Name(), err)
			continue
		}
		found = append(found, Info{
			Path:     filepath.Join(s.dir, entry.Name()),
			Filename: entry.Name(),
			Title:    TitleFromFilename(entry.Name()),
			ModTime:  fi.ModTime(),
			Size:     fi.Size(),
		})
	}

	s.cached = found
	s.scanTime = time.Now()

	out := make([]Info, len(found))
	copy(out, found)
	return out, nil
}

// NewSince returns the diagrams modified strictly after t, freshest first.
func (s *Scanner) NewSince(t time.Time) ([]Info, error) {
	all, err := s.All(true)
	if err != nil {
		return nil, err
	}

	var fresh []Info
	for _, d := range all {
		if d.ModTime.After(t) {
			fresh = append(fresh, d)
		}
	}
	sort.Slice(fresh, func(i, j int) bool { return fresh[i].ModTime.After(fresh[j].ModTime) })
	return fresh, nil
}

// ByFilename returns the diagram with the given filename, or nil.
func (s *Scanner) ByFilename(name string) (*Info, error) {
	all, err := s.All(false)
	if err != nil {
		return nil, err
	}
	for _, d := range all {
		if d.Filename == name {
			return &d, nil
		}
	}
	return nil, nil
}

// Cleanup deletes diagrams older than maxAge, then trims the remainder to
// maxCount keeping the newest. Files younger than maxAge are never removed
// by the age pass. Deletion failures are logged and skipped; a file already
// gone counts as removed. Returns the number of files deleted.
func (s *Scanner) Cleanup(maxAge time.Duration, maxCount int) (int, error) {
	all, err := s.All(true)
	if err != nil {
		return 0, err
	}
	if len(all) == 0 {
		return 0, nil
	}

	sort.Slice(all, func(i, j int) bool { return all[i].ModTime.Before(all[j].ModTime) })

	deleted := 0
	cutoff := time.Now().Add(-maxAge)
	remaining := all[:0]
	for _, d := range all {
		if d.ModTime.Before(cutoff) {
			if s.remove(d) {
				deleted++
				continue
			}
		}
		remaining = append(remaining, d)
	}

	if maxCount > 0 && len(remaining) > maxCount {
		excess := len(remaining) - maxCount
		for _, d := range remaining[:excess] {
			if s.remove(d) {
				deleted++
			}
		}
	}

	if deleted > 0 {
		s.mu.Lock()
		s.cached = nil
		s.scanTime = time.Time{}
		s.mu.Unlock()
		logging.Get(logging.CategoryDiagrams).Info("retention sweep removed %d diagrams", deleted)
	}
	return deleted, nil
}

// remove deletes a diagram file. A missing file is treated as removed.
func (s *Scanner) remove(d Info) bool {
	err := os.Remove(d.Path)
	if err == nil || os.IsNotExist(err) {
		logging.Get(logging.CategoryDiagrams).Debug("deleted %s", d.Filename)
		return true
	}
	logging.Get(logging.CategoryDiagrams).Warn("cannot delete %s: %v", d.Path, err)
	return false
}

// FolderInfo summarizes the state of the diagrams directory.
type FolderInfo struct {
	Path          string `json:"path"`
	Exists        bool   `json:"exists"`
	Writable      bool   `json:"writable"`
	TotalDiagrams int    `json:"total_diagrams"`
	TotalSize     int64  `json:"total_size_bytes"`
	TotalSizeText string `json:"total_size"`
}

// Folder returns information about the watched directory, including a
// writability probe.
func (s *Scanner) Folder() FolderInfo {
	info := FolderInfo{Path: s.dir}

	st, err := os.Stat(s.dir)
	if err != nil || !st.IsDir() {
		return info
	}
	info.Exists = true

	probe := filepath.Join(s.dir, ".write_test")
	if f, err := os.Create(probe); err == nil {
		f.Close()
		os.Remove(probe)
		info.Writable = true
	}

	if all, err := s.All(false); err == nil {
		info.TotalDiagrams = len(all)
		for _, d := range all {
			info.TotalSize += d.Size
		}
	}
	info.TotalSizeText = FormatSize(info.TotalSize)
	return info
}
