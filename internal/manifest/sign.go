package manifest

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/roach88/rotd/internal/fault"
)

// TagDomain prefixes the signed bytes so a manifest tag can never be
// confused with a MAC computed by the same key over other data.
const TagDomain = "rotd/manifest/v1"

// Sign computes the HMAC-SHA512 tag over canonical bytes.
// Format: HMAC(key, domain + 0x00 + canonical), lower-case hex.
func Sign(canonical, key []byte) string {
	return hex.EncodeToString(mac(canonical, key))
}

func mac(canonical, key []byte) []byte {
	h := hmac.New(sha512.New, key)
	h.Write([]byte(TagDomain))
	h.Write([]byte{0x00})
	h.Write(canonical)
	return h.Sum(nil)
}

// Canonicalize returns the bytes the tag is computed over.
func Canonicalize(m *Manifest) ([]byte, error) {
	return MarshalCanonical(m.object())
}

// SignManifest sets m.HMAC. It must be called only after every entry is
// final.
func SignManifest(m *Manifest, key []byte) error {
	canonical, err := Canonicalize(m)
	if err != nil {
		return fmt.Errorf("canonicalize manifest: %w", err)
	}
	m.HMAC = Sign(canonical, key)
	return nil
}

// Verdict is the outcome of Verify. Manifest is set only when Valid.
type Verdict struct {
	Valid    bool
	Reason   string
	Manifest *Manifest
}

// Err returns nil for a valid verdict and an integrity fault otherwise.
func (v Verdict) Err() error {
	if v.Valid {
		return nil
	}
	return fault.Newf(fault.KindIntegrity, "verify manifest", "%s", v.Reason)
}

func invalid(format string, args ...any) Verdict {
	return Verdict{Reason: fmt.Sprintf(format, args...)}
}

// Verify checks raw manifest bytes against key. It never returns an error:
// parse failures, a missing tag and a mismatch all yield an invalid Verdict.
func Verify(raw, key []byte) Verdict {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var obj map[string]any
	if err := dec.Decode(&obj); err != nil {
		return invalid("parse: %v", err)
	}
	if obj == nil {
		return invalid("parse: manifest is not an object")
	}
	if dec.More() {
		return invalid("parse: trailing data after manifest object")
	}

	rawTag, present := obj["hmac"]
	if !present {
		return invalid("missing hmac")
	}
	tag, ok := rawTag.(string)
	if !ok || !hexDigest.MatchString(tag) {
		return invalid("malformed hmac")
	}
	delete(obj, "hmac")

	canonical, err := MarshalCanonical(obj)
	if err != nil {
		return invalid("canonicalize: %v", err)
	}

	got, _ := hex.DecodeString(tag)
	if !hmac.Equal(got, mac(canonical, key)) {
		return invalid("hmac mismatch")
	}

	m, err := Parse(raw)
	if err != nil {
		return invalid("decode: %v", err)
	}
	if err := m.Validate(); err != nil {
		return invalid("invalid manifest: %v", err)
	}
	return Verdict{Valid: true, Manifest: m}
}
