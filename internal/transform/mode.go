package transform

import (
	"errors"
	"fmt"
	"slices"
	"unicode/utf8"
)

// Mode is the wire name of a rotation mode.
type Mode string

const (
	ModeRight       Mode = "right"
	ModeLeft        Mode = "left"
	ModeUp          Mode = "up"
	ModeDown        Mode = "down"
	ModeMatrixCW    Mode = "matrix_cw"
	ModeMatrixCCW   Mode = "matrix_ccw"
	ModeBinaryLeft  Mode = "binary_left"
	ModeBinaryRight Mode = "binary_right"
	ModeShuffle     Mode = "shuffle"
)

var (
	// ErrUnknownMode is returned for a mode name outside the supported set.
	ErrUnknownMode = errors.New("unknown transform mode")

	// ErrNotText is returned when text-kind content is not valid UTF-8.
	ErrNotText = errors.New("content is not valid UTF-8")

	// ErrSeedRequired is returned when shuffle is used without a seed.
	ErrSeedRequired = errors.New("shuffle mode requires a seed")
)

var allModes = []Mode{
	ModeRight, ModeLeft, ModeUp, ModeDown,
	ModeMatrixCW, ModeMatrixCCW,
	ModeBinaryLeft, ModeBinaryRight,
	ModeShuffle,
}

// Modes returns every supported mode in a stable order.
func Modes() []Mode {
	return slices.Clone(allModes)
}

// ParseMode validates a mode name.
func ParseMode(s string) (Mode, error) {
	m := Mode(s)
	if !slices.Contains(allModes, m) {
		return "", fmt.Errorf("%w: %q", ErrUnknownMode, s)
	}
	return m, nil
}

// ByteMode reports whether m operates on raw bytes and so applies to binary
// content as well as text.
func (m Mode) ByteMode() bool {
	return m == ModeBinaryLeft || m == ModeBinaryRight
}

// Lossy reports whether round-tripping through m can lose information.
func (m Mode) Lossy() bool {
	return m == ModeMatrixCW || m == ModeMatrixCCW
}

// Params selects a mode and its parameters. Charset defaults to
// DefaultCharset when nil.
type Params struct {
	Mode    Mode
	Param   int
	Seed    string
	Charset *Charset
}

func (p Params) charset() *Charset {
	if p.Charset != nil {
		return p.Charset
	}
	return DefaultCharset
}

// Validate checks that p names a supported mode with the inputs it needs.
func (p Params) Validate() error {
	if _, err := ParseMode(string(p.Mode)); err != nil {
		return err
	}
	if p.Mode == ModeShuffle && p.Seed == "" {
		return ErrSeedRequired
	}
	return nil
}

// Apply transforms data under p. Binary content under a text mode is
// returned as an unmodified copy.
func Apply(p Params, kind Kind, data []byte) ([]byte, error) {
	return run(p, kind, data, false)
}

// Invert reverses Apply for the same p and kind.
func Invert(p Params, kind Kind, data []byte) ([]byte, error) {
	return run(p, kind, data, true)
}

func run(p Params, kind Kind, data []byte, inverse bool) ([]byte, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}

	if p.Mode.ByteMode() {
		k := p.Param
		if p.Mode == ModeBinaryRight {
			k = -k
		}
		if inverse {
			k = -k
		}
		return rotateBytes(data, k), nil
	}

	if kind == KindBinary {
		return slices.Clone(data), nil
	}
	if !utf8.Valid(data) {
		return nil, ErrNotText
	}

	s := string(data)
	var out string
	switch p.Mode {
	case ModeRight, ModeLeft:
		offset := p.Param
		if p.Mode == ModeLeft {
			offset = -offset
		}
		if inverse {
			offset = -offset
		}
		out = p.charset().shiftPermutation(offset).mapString(s)
	case ModeUp, ModeDown:
		count := p.Param
		if p.Mode == ModeDown {
			count = -count
		}
		if inverse {
			count = -count
		}
		out = rotateLines(s, count)
	case ModeMatrixCW, ModeMatrixCCW:
		clockwise := p.Mode == ModeMatrixCW
		if inverse {
			clockwise = !clockwise
		}
		out = rotateMatrix(s, clockwise)
	case ModeShuffle:
		perm := p.charset().seedPermutation(p.Seed)
		if inverse {
			perm = perm.inverse()
		}
		out = perm.mapString(s)
	}
	return []byte(out), nil
}
