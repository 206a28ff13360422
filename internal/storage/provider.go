// Package storage provides the file-system primitives used by the registry,
// the training ledger and the converter: rooted atomic writes with staged
// backups, and timestamp-preserving copies.
package storage

// Store is the interface the persistent documents are written through.
type Store interface {
	// Exists reports whether a regular file exists at path (relative to root).
	Exists(path string) bool
	// Read returns the raw bytes of the file at path (relative to root).
	Read(path string) ([]byte, error)
	// Write atomically writes content to path (relative to root).
	Write(path string, content []byte) error
	// WriteWithBackup atomically writes content and keeps the previous
	// version at backupPath (both relative to root).
	WriteWithBackup(path, backupPath string, content []byte) (bool, error)
}

// Verify *FS satisfies Store at compile time.
var _ Store = (*FS)(nil)
