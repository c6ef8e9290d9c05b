package transform

import "strings"

const (
	asciiLetters = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"
	asciiDigits  = "0123456789"
	asciiPunct   = "!\"#$%&'()*+,-./:;<=>?@[\\]^_`{|}~"
	whitespace   = " \n\t"
)

// defaultEmoji is the fixed emoji set appended after the ASCII symbols.
var defaultEmoji = []string{
	"😀", "😁", "😂", "😃", "😄", "😅", "😆", "😉", "😊", "🤖", "🔥", "✨", "🌐", "🔒",
}

// DefaultCharset is the charset used by rotation and restoration.
// Changing its content or order invalidates every existing rotated tree.
var DefaultCharset = NewCharsetString(
	asciiLetters + asciiDigits + asciiPunct + whitespace + strings.Join(defaultEmoji, ""),
)

// Charset is an ordered, de-duplicated sequence of symbols.
// It is immutable after construction and safe for concurrent use.
type Charset struct {
	symbols []rune
	index   map[rune]int
}

// NewCharset builds a charset from symbols, dropping duplicates while
// keeping first-occurrence order.
func NewCharset(symbols ...rune) *Charset {
	cs := &Charset{
		symbols: make([]rune, 0, len(symbols)),
		index:   make(map[rune]int, len(symbols)),
	}
	for _, r := range symbols {
		if _, dup := cs.index[r]; dup {
			continue
		}
		cs.index[r] = len(cs.symbols)
		cs.symbols = append(cs.symbols, r)
	}
	return cs
}

// NewCharsetString builds a charset from the runes of s.
func NewCharsetString(s string) *Charset {
	return NewCharset([]rune(s)...)
}

// Len returns the number of symbols.
func (c *Charset) Len() int { return len(c.symbols) }

// Index returns the position of r, or false if r is not a member.
func (c *Charset) Index(r rune) (int, bool) {
	i, ok := c.index[r]
	return i, ok
}

// At returns the symbol at position i.
func (c *Charset) At(i int) rune { return c.symbols[i] }

// Symbols returns a copy of the ordered symbol list.
func (c *Charset) Symbols() []rune {
	out := make([]rune, len(c.symbols))
	copy(out, c.symbols)
	return out
}

// permutation maps charset position i to position image[i].
type permutation struct {
	cs    *Charset
	image []int
}

// shiftPermutation is the cyclic shift by offset mod |charset|.
func (c *Charset) shiftPermutation(offset int) permutation {
	n := len(c.symbols)
	image := make([]int, n)
	if n == 0 {
		return permutation{cs: c, image: image}
	}
	k := mod(offset, n)
	for i := range image {
		image[i] = (i + k) % n
	}
	return permutation{cs: c, image: image}
}

func (p permutation) inverse() permutation {
	inv := make([]int, len(p.image))
	for i, j := range p.image {
		inv[j] = i
	}
	return permutation{cs: p.cs, image: inv}
}

// mapString replaces each member symbol with its image; other runes pass through.
func (p permutation) mapString(s string) string {
	return strings.Map(func(r rune) rune {
		i, ok := p.cs.index[r]
		if !ok {
			return r
		}
		return p.cs.symbols[p.image[i]]
	}, s)
}

// mod returns a mod n in [0, n).
func mod(a, n int) int {
	m := a % n
	if m < 0 {
		m += n
	}
	return m
}
