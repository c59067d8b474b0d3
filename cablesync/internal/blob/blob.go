// Package blob keeps the raw uploaded spreadsheets on disk, addressed by
// their SHA-256, so every import run can be traced back to its source file.
package blob

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/hazyhaar/cablesync/horosafe"
)

// PutResult describes a stored blob.
type PutResult struct {
	SHA256       string `json:"sha256"`
	SizeBytes    int64  `json:"size_bytes"`
	Path         string `json:"path"`
	Deduplicated bool   `json:"deduplicated"`
}

// FSStore stores blobs under Dir as <sha[:2]>/<sha><ext>.
type FSStore struct {
	Dir string
}

// NewFSStore creates Dir if needed.
func NewFSStore(dir string) (*FSStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("blob: mkdir: %w", err)
	}
	return &FSStore{Dir: dir}, nil
}

// Sum returns the hash Put stores data under.
func Sum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Ext returns the extension Put keeps for a file name.
func Ext(name string) string {
	return strings.ToLower(filepath.Ext(horosafe.SanitizeFileName(name)))
}

// Put writes data under its hash. The extension is taken from the sanitized
// file name. Storing the same content twice only reports Deduplicated.
func (s *FSStore) Put(name string, data []byte) (*PutResult, error) {
	hash := Sum(data)
	ext := Ext(name)

	path, err := horosafe.SafePath(s.Dir, filepath.Join(hash[:2], hash+ext))
	if err != nil {
		return nil, err
	}
	res := &PutResult{SHA256: hash, SizeBytes: int64(len(data)), Path: path}

	if _, err := os.Stat(path); err == nil {
		res.Deduplicated = true
		return res, nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("blob: stat: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("blob: prepare dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), "incoming-*")
	if err != nil {
		return nil, fmt.Errorf("blob: create temp: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return nil, fmt.Errorf("blob: write: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return nil, fmt.Errorf("blob: close: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return nil, fmt.Errorf("blob: rename: %w", err)
	}
	return res, nil
}

// Open returns a reader for the blob with the given hash and extension.
func (s *FSStore) Open(hash, ext string) (io.ReadCloser, error) {
	if err := horosafe.ValidateIdentifier(hash); err != nil || len(hash) != sha256.Size*2 {
		return nil, fmt.Errorf("blob: invalid hash %q", hash)
	}
	path, err := horosafe.SafePath(s.Dir, filepath.Join(hash[:2], hash+strings.ToLower(ext)))
	if err != nil {
		return nil, err
	}
	return os.Open(path)
}
