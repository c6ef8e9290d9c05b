package manifest

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/roach88/rotd/internal/fault"
	"github.com/roach88/rotd/internal/fsx"
)

// Encode renders m as indented JSON with a trailing newline. The on-disk
// layout is for humans; the tag never depends on it.
func Encode(m *Manifest) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(m); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Parse decodes manifest bytes without checking the tag.
func Parse(raw []byte) (*Manifest, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	var m Manifest
	if err := dec.Decode(&m); err != nil {
		return nil, err
	}
	return &m, nil
}

// ReadFile loads raw manifest bytes. A missing file is a MissingResource
// fault.
func ReadFile(path string) ([]byte, error) {
	raw, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fault.New(fault.KindMissing, "read manifest", path, err)
	}
	return raw, err
}

// Load reads and verifies the manifest at path.
// A missing or unreadable file yields an invalid Verdict.
func Load(path string, key []byte) Verdict {
	raw, err := ReadFile(path)
	if err != nil {
		return invalid("read: %v", err)
	}
	return Verify(raw, key)
}

// Save writes m to path with write-to-temp, fsync and rename, so a reader
// never observes a half-written manifest. m must already be signed.
func Save(path string, m *Manifest) error {
	if m.HMAC == "" {
		return fmt.Errorf("save manifest: unsigned")
	}
	data, err := Encode(m)
	if err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}
	return fsx.WriteFileAtomic(path, data, 0o644)
}
