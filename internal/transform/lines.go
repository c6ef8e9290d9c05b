package transform

import "strings"

// rotateLines rotates line bodies left by count. Terminators stay where they
// are, so a final line without "\n" keeps that property after rotation and
// the operation is an exact bijection for any count.
func rotateLines(s string, count int) string {
	bodies, terms := splitLines(s)
	n := len(bodies)
	if n <= 1 {
		return s
	}
	k := mod(count, n)
	if k == 0 {
		return s
	}

	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < n; i++ {
		b.WriteString(bodies[(i+k)%n])
		b.WriteString(terms[i])
	}
	return b.String()
}

// splitLines splits after each "\n". A trailing segment without a newline is
// a line with an empty terminator; an empty trailing segment is dropped.
func splitLines(s string) (bodies, terms []string) {
	for len(s) > 0 {
		j := strings.IndexByte(s, '\n')
		if j < 0 {
			bodies = append(bodies, s)
			terms = append(terms, "")
			break
		}
		bodies = append(bodies, s[:j])
		terms = append(terms, "\n")
		s = s[j+1:]
	}
	return bodies, terms
}
