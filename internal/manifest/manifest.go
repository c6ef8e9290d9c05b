// Package manifest defines the signed per-cycle rotation record and its
// codec: RFC 8785 canonical serialization, the HMAC-SHA512 tag, and
// verification that reports a Verdict instead of failing the caller.
//
// The tag covers every field of the manifest object except "hmac" itself.
// Verification re-canonicalizes the raw file as a generic JSON object, so a
// field injected into the file after signing invalidates the tag even if the
// typed Manifest has no slot for it.
package manifest

import (
	"fmt"
	"regexp"
	"slices"
	"sort"

	"github.com/roach88/rotd/internal/transform"
)

// Version is the manifest schema version written by this build.
const Version = 1

// FileName is the manifest's fixed name inside the rotated tree.
const FileName = "manifest.json"

// Entry records one source file's rotation outcome.
// A failure marker has Error set and carries no rotated path or hash.
type Entry struct {
	Rotated string         `json:"rotated"`
	SHA512  string         `json:"sha512"`
	Kind    transform.Kind `json:"kind"`
	Error   string         `json:"error,omitempty"`
}

// Failed reports whether e is a failure marker.
func (e Entry) Failed() bool { return e.Error != "" }

// Manifest is the signed record of one rotation cycle.
type Manifest struct {
	Version   int              `json:"version"`
	Timestamp int64            `json:"timestamp"`
	Seed      string           `json:"seed"`
	Mode      transform.Mode   `json:"mode"`
	Param     int              `json:"param"`
	Entries   map[string]Entry `json:"entries"`
	HMAC      string           `json:"hmac,omitempty"`
}

// Params returns the transform parameters the manifest was produced with.
func (m *Manifest) Params() transform.Params {
	return transform.Params{Mode: m.Mode, Param: m.Param, Seed: m.Seed}
}

// Paths returns entry keys in sorted order.
func (m *Manifest) Paths() []string {
	paths := make([]string, 0, len(m.Entries))
	for p := range m.Entries {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// Failures returns the sorted paths of failure markers.
func (m *Manifest) Failures() []string {
	var out []string
	for _, p := range m.Paths() {
		if m.Entries[p].Failed() {
			out = append(out, p)
		}
	}
	return out
}

// object is the generic form of m with the tag excluded. It must mirror the
// JSON encoding of Manifest field for field, since Verify canonicalizes the
// decoded file and Sign canonicalizes this value.
func (m *Manifest) object() map[string]any {
	entries := make(map[string]any, len(m.Entries))
	for path, e := range m.Entries {
		obj := map[string]any{
			"rotated": e.Rotated,
			"sha512":  e.SHA512,
			"kind":    string(e.Kind),
		}
		if e.Error != "" {
			obj["error"] = e.Error
		}
		entries[path] = obj
	}
	return map[string]any{
		"version":   int64(m.Version),
		"timestamp": m.Timestamp,
		"seed":      m.Seed,
		"mode":      string(m.Mode),
		"param":     int64(m.Param),
		"entries":   entries,
	}
}

var hexDigest = regexp.MustCompile(`^[0-9a-f]{128}$`)

// Validate checks structural invariants that hold for every manifest this
// package writes.
func (m *Manifest) Validate() error {
	if m.Version != Version {
		return fmt.Errorf("unsupported manifest version %d", m.Version)
	}
	if _, err := transform.ParseMode(string(m.Mode)); err != nil {
		return err
	}
	if m.Entries == nil {
		return fmt.Errorf("manifest has no entries object")
	}
	rotated := make([]string, 0, len(m.Entries))
	for path, e := range m.Entries {
		if path == "" {
			return fmt.Errorf("entry with empty path")
		}
		if e.Failed() {
			continue
		}
		if _, err := transform.ParseKind(string(e.Kind)); err != nil {
			return fmt.Errorf("entry %q: %w", path, err)
		}
		if !hexDigest.MatchString(e.SHA512) {
			return fmt.Errorf("entry %q: malformed sha512", path)
		}
		if e.Rotated == "" {
			return fmt.Errorf("entry %q: empty rotated path", path)
		}
		rotated = append(rotated, e.Rotated)
	}
	slices.Sort(rotated)
	if i := firstDup(rotated); i >= 0 {
		return fmt.Errorf("rotated path %q used by more than one entry", rotated[i])
	}
	return nil
}

func firstDup(sorted []string) int {
	for i := 1; i < len(sorted); i++ {
		if sorted[i] == sorted[i-1] {
			return i
		}
	}
	return -1
}
