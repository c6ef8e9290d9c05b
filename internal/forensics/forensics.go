// Package forensics captures evidence of integrity failures before they are
// repaired. Each capture is a zstd-compressed tar archive holding the
// offending content and a meta.json record, plus a .sha256 sidecar.
package forensics

import (
	"archive/tar"
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"

	"github.com/roach88/rotd/internal/fsx"
)

const (
	metaName    = "meta.json"
	contentName = "content"
	timeLayout  = "20060102T150405Z"
)

// Meta describes one capture.
type Meta struct {
	ID         string    `json:"id"`
	Path       string    `json:"path"`
	Reason     string    `json:"reason"`
	Expected   string    `json:"expected_sha512,omitempty"`
	Observed   string    `json:"observed_sha512,omitempty"`
	Present    bool      `json:"present"`
	Size       int64     `json:"size"`
	CapturedAt time.Time `json:"captured_at"`
}

// Archiver writes captures into Dir.
type Archiver struct {
	Dir string
	Now func() time.Time
}

// Capture archives the current content of path. A missing file is recorded
// with Present=false and an empty content member. It returns the archive path.
func (a *Archiver) Capture(path, reason, expected string) (string, error) {
	now := time.Now
	if a.Now != nil {
		now = a.Now
	}

	meta := Meta{
		ID:         uuid.NewString(),
		Path:       path,
		Reason:     reason,
		Expected:   expected,
		CapturedAt: now().UTC(),
	}

	content, err := os.ReadFile(path)
	switch {
	case err == nil:
		meta.Present = true
		meta.Size = int64(len(content))
		meta.Observed = fsx.HashBytes(content)
	case errors.Is(err, fs.ErrNotExist):
	default:
		return "", fmt.Errorf("read evidence %s: %w", path, err)
	}

	archive, err := pack(meta, content)
	if err != nil {
		return "", err
	}

	if err := os.MkdirAll(a.Dir, 0o755); err != nil {
		return "", fmt.Errorf("create forensics dir: %w", err)
	}
	name := fmt.Sprintf("%s_%s_%s.tar.zst", sanitize(filepath.Base(path)),
		meta.CapturedAt.Format(timeLayout), meta.ID[:8])
	out := filepath.Join(a.Dir, name)

	if err := fsx.WriteFileAtomic(out, archive, 0o600); err != nil {
		return "", fmt.Errorf("write archive: %w", err)
	}
	sum := sha256.Sum256(archive)
	sidecar := hex.EncodeToString(sum[:]) + "  " + name + "\n"
	if err := fsx.WriteFileAtomic(out+".sha256", []byte(sidecar), 0o600); err != nil {
		return "", fmt.Errorf("write checksum: %w", err)
	}
	return out, nil
}

func pack(meta Meta, content []byte) ([]byte, error) {
	metaJSON, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode meta: %w", err)
	}

	var buf bytes.Buffer
	zw, err := zstd.NewWriter(&buf)
	if err != nil {
		return nil, fmt.Errorf("zstd writer: %w", err)
	}
	tw := tar.NewWriter(zw)

	members := []struct {
		name string
		data []byte
	}{
		{metaName, metaJSON},
		{contentName, content},
	}
	for _, m := range members {
		hdr := &tar.Header{
			Name:    m.name,
			Mode:    0o600,
			Size:    int64(len(m.data)),
			ModTime: meta.CapturedAt,
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return nil, fmt.Errorf("tar header %s: %w", m.name, err)
		}
		if _, err := tw.Write(m.data); err != nil {
			return nil, fmt.Errorf("tar write %s: %w", m.name, err)
		}
	}
	if err := tw.Close(); err != nil {
		return nil, fmt.Errorf("close tar: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("close zstd: %w", err)
	}
	return buf.Bytes(), nil
}

// Open reads a capture back, checking it against its sidecar when present.
func Open(path string) (Meta, []byte, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Meta{}, nil, err
	}

	if sidecar, err := os.ReadFile(path + ".sha256"); err == nil {
		want, _, _ := strings.Cut(string(sidecar), " ")
		sum := sha256.Sum256(raw)
		if hex.EncodeToString(sum[:]) != want {
			return Meta{}, nil, fmt.Errorf("archive %s does not match its checksum", path)
		}
	}

	zr, err := zstd.NewReader(bytes.NewReader(raw))
	if err != nil {
		return Meta{}, nil, fmt.Errorf("zstd reader: %w", err)
	}
	defer zr.Close()

	var (
		meta    Meta
		content []byte
	)
	tr := tar.NewReader(zr)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return Meta{}, nil, fmt.Errorf("read tar: %w", err)
		}
		data, err := io.ReadAll(tr)
		if err != nil {
			return Meta{}, nil, fmt.Errorf("read %s: %w", hdr.Name, err)
		}
		switch hdr.Name {
		case metaName:
			if err := json.Unmarshal(data, &meta); err != nil {
				return Meta{}, nil, fmt.Errorf("decode meta: %w", err)
			}
		case contentName:
			content = data
		}
	}
	return meta, content, nil
}

func sanitize(name string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, name)
}
