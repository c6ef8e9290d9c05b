package transform

import (
	"fmt"
	"unicode/utf8"
)

// Kind records whether content was treated as text or binary at rotation time.
type Kind string

const (
	KindText   Kind = "text"
	KindBinary Kind = "binary"
)

// Classify probes content for UTF-8 decodability.
func Classify(data []byte) Kind {
	if utf8.Valid(data) {
		return KindText
	}
	return KindBinary
}

// ParseKind validates a kind read from a manifest.
func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case KindText, KindBinary:
		return Kind(s), nil
	}
	return "", fmt.Errorf("unknown kind %q", s)
}
