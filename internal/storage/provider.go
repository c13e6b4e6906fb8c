// Package storage persists shape records: the line-delimited task file and
// the brief documents. Files are the source of truth; the index package
// only mirrors them.
package storage

import "time"

// FileInfo describes one stored document.
type FileInfo struct {
	Path      string    `json:"path"`
	Checksum  string    `json:"checksum"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Provider is the interface for document file operations. Paths are
// relative to the provider root.
type Provider interface {
	// List returns metadata for every file under dir ending in ext.
	List(dir, ext string) ([]FileInfo, error)
	// Read returns the raw bytes of the file at path.
	Read(path string) ([]byte, error)
	// Write atomically writes content to path.
	Write(path string, content []byte) error
	// Delete removes the file at path.
	Delete(path string) error
}
