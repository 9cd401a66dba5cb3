// Package diagrams discovers and manages the image files the agent's
// diagram tools drop into the generated-diagrams directory.
package diagrams

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"
	"unicode"
)

// Info describes one diagram file found in the watched directory.
type Info struct {
	Path     string    `json:"path"`
	Filename string    `json:"filename"`
	Title    string    `json:"title"`
	ModTime  time.Time `json:"mod_time"`
	Size     int64     `json:"size"`
}

// supportedExtensions are the image formats considered diagram candidates.
var supportedExtensions = map[string]bool{
	".png":  true,
	".jpg":  true,
	".jpeg": true,
	".gif":  true,
	".bmp":  true,
	".svg":  true,
	".webp": true,
}

// IsSupportedImage reports whether the file has a recognized image extension.
func IsSupportedImage(path string) bool {
	return supportedExtensions[strings.ToLower(filepath.Ext(path))]
}

// SupportedExtensions returns the recognized extensions, for status output.
func SupportedExtensions() []string {
	exts := make([]string, 0, len(supportedExtensions))
	for ext := range supportedExtensions {
		exts = append(exts, ext)
	}
	return exts
}

// TitleFromFilename derives a human-readable title from a diagram filename:
// underscores and hyphens become spaces, words are capitalized, and
// "Diagram" is appended unless the name already says diagram/architecture.
func TitleFromFilename(filename string) string {
	name := strings.TrimSuffix(filename, filepath.Ext(filename))
	name = strings.NewReplacer("_", " ", "-", " ").Replace(name)

	words := strings.Fields(name)
	for i, w := range words {
		r := []rune(w)
		r[0] = unicode.ToUpper(r[0])
		words[i] = string(r)
	}
	title := strings.Join(words, " ")

	lower := strings.ToLower(title)
	if title != "" && !strings.Contains(lower, "diagram") && !strings.Contains(lower, "architecture") {
		title += " Diagram"
	}
	return title
}

// FormatSize renders a byte count in human-readable form.
func FormatSize(size int64) string {
	switch {
	case size < 1024:
		return fmt.Sprintf("%d B", size)
	case size < 1024*1024:
		return fmt.Sprintf("%.1f KB", float64(size)/1024)
	default:
		return fmt.Sprintf("%.1f MB", float64(size)/(1024*1024))
	}
}
