package transform

import (
	"strings"
	"unicode"
)

// rotateMatrix treats s as a rune grid padded with spaces to the widest line
// and rotates it 90 degrees. Trailing whitespace is stripped from every
// output row and the result always ends with "\n".
func rotateMatrix(s string, clockwise bool) string {
	if s == "" {
		return s
	}

	lines := strings.Split(s, "\n")
	if lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}

	rows := make([][]rune, len(lines))
	width := 0
	for i, line := range lines {
		rows[i] = []rune(line)
		if len(rows[i]) > width {
			width = len(rows[i])
		}
	}
	for i := range rows {
		for len(rows[i]) < width {
			rows[i] = append(rows[i], ' ')
		}
	}

	h := len(rows)
	out := make([]string, width)
	row := make([]rune, h)
	for j := 0; j < width; j++ {
		for i := 0; i < h; i++ {
			if clockwise {
				row[i] = rows[h-1-i][j]
			} else {
				row[i] = rows[i][width-1-j]
			}
		}
		out[j] = strings.TrimRightFunc(string(row), unicode.IsSpace)
	}
	return strings.Join(out, "\n") + "\n"
}
