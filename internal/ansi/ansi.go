// Package ansi translates lightweight @-color markup into ANSI escape
// sequences and strips either notation from a line. Markup syntax:
// "@k".."@w" normal colors, "@K".."@W" bright colors, "@x<n>" 256-color
// foreground, "@!" reset, "@@" a literal '@'.
package ansi

import (
	"strconv"
	"strings"
)

const (
	reset = "\x1b[0m"
	csi   = "\x1b["
)

var colorCodes = map[byte]string{
	'k': "\x1b[30m",
	'r': "\x1b[31m",
	'g': "\x1b[32m",
	'y': "\x1b[33m",
	'b': "\x1b[34m",
	'm': "\x1b[35m",
	'c': "\x1b[36m",
	'w': "\x1b[37m",
	'K': "\x1b[1;30m",
	'R': "\x1b[1;31m",
	'G': "\x1b[1;32m",
	'Y': "\x1b[1;33m",
	'B': "\x1b[1;34m",
	'M': "\x1b[1;35m",
	'C': "\x1b[1;36m",
	'W': "\x1b[1;37m",
}

// Encode translates markup tokens to ANSI escapes. Unknown tokens pass
// through untouched. Text already containing ANSI escapes is unaffected.
func Encode(s string) string {
	if !strings.ContainsRune(s, '@') {
		return s
	}
	var b strings.Builder
	b.Grow(len(s) + 16)
	walkMarkup(s, func(literal string) {
		b.WriteString(literal)
	}, func(token string) {
		b.WriteString(encodeToken(token))
	})
	return b.String()
}

// Strip removes markup tokens, keeping literal text ("@@" becomes "@").
func Strip(s string) string {
	if !strings.ContainsRune(s, '@') {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	walkMarkup(s, func(literal string) {
		b.WriteString(literal)
	}, func(token string) {
		if token == "@@" {
			b.WriteByte('@')
		}
	})
	return b.String()
}

// StripANSI removes ANSI CSI escape sequences from a line.
func StripANSI(s string) string {
	if !strings.Contains(s, "\x1b") {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); {
		if s[i] == 0x1b && i+1 < len(s) && s[i+1] == '[' {
			j := i + 2
			for j < len(s) && !isCSIFinal(s[j]) {
				j++
			}
			if j < len(s) {
				j++
			}
			i = j
			continue
		}
		b.WriteByte(s[i])
		i++
	}
	return b.String()
}

// isCSIFinal reports whether b terminates a CSI sequence.
func isCSIFinal(b byte) bool {
	return b >= 0x40 && b <= 0x7e
}

// HasMarkup reports whether the line contains any markup token.
func HasMarkup(s string) bool {
	found := false
	walkMarkup(s, func(string) {}, func(string) { found = true })
	return found
}

func encodeToken(token string) string {
	switch {
	case token == "@@":
		return "@"
	case token == "@!":
		return reset
	case len(token) > 2 && token[1] == 'x':
		n, err := strconv.Atoi(token[2:])
		if err != nil || n < 0 || n > 255 {
			return token
		}
		return csi + "38;5;" + strconv.Itoa(n) + "m"
	default:
		if code, ok := colorCodes[token[1]]; ok {
			return code
		}
		return token
	}
}

// walkMarkup scans s, calling literal for plain runs and token for each
// recognized markup token (including "@@").
func walkMarkup(s string, literal func(string), token func(string)) {
	start := 0
	for i := 0; i < len(s); {
		if s[i] != '@' || i+1 >= len(s) {
			i++
			continue
		}
		next := s[i+1]
		var end int
		switch {
		case next == '@' || next == '!':
			end = i + 2
		case next == 'x':
			j := i + 2
			for j < len(s) && j < i+5 && s[j] >= '0' && s[j] <= '9' {
				j++
			}
			if j == i+2 {
				i += 2
				continue
			}
			end = j
		default:
			if _, ok := colorCodes[next]; !ok {
				i += 2
				continue
			}
			end = i + 2
		}
		if start < i {
			literal(s[start:i])
		}
		token(s[i:end])
		start = end
		i = end
	}
	if start < len(s) {
		literal(s[start:])
	}
}
