package patients

import (
	"fmt"
	"strconv"
	"strings"
)

// ParseListLiteral decodes the list encoding used by the patient table, e.g.
// ['Aspirin', "Tylenol"] or [401.9, '250.00']. Strings may be single or double quoted
// with backslash escapes; bare numbers are kept as written. An empty cell is an
// empty list.
func ParseListLiteral(s string) ([]string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return []string{}, nil
	}
	if len(s) < 2 || s[0] != '[' || s[len(s)-1] != ']' {
		return nil, fmt.Errorf("not a list literal: %q", s)
	}

	l := &listLexer{src: s[1 : len(s)-1]}
	items := []string{}
	for {
		l.skipSpace()
		if l.done() {
			return items, nil
		}

		item, err := l.item()
		if err != nil {
			return nil, err
		}
		items = append(items, item)

		l.skipSpace()
		if l.done() {
			return items, nil
		}
		if l.src[l.pos] != ',' {
			return nil, fmt.Errorf("expected ',' at offset %d in %q", l.pos+1, s)
		}
		l.pos++
	}
}

type listLexer struct {
	src string
	pos int
}

func (l *listLexer) done() bool { return l.pos >= len(l.src) }

func (l *listLexer) skipSpace() {
	for !l.done() && (l.src[l.pos] == ' ' || l.src[l.pos] == '\t' || l.src[l.pos] == '\n' || l.src[l.pos] == '\r') {
		l.pos++
	}
}

func (l *listLexer) item() (string, error) {
	switch c := l.src[l.pos]; c {
	case '\'', '"':
		return l.quoted(c)
	default:
		return l.bare()
	}
}

func (l *listLexer) quoted(quote byte) (string, error) {
	start := l.pos
	l.pos++
	var b strings.Builder
	for !l.done() {
		c := l.src[l.pos]
		switch {
		case c == '\\' && l.pos+1 < len(l.src):
			b.WriteByte(unescape(l.src[l.pos+1]))
			l.pos += 2
		case c == quote:
			l.pos++
			return b.String(), nil
		default:
			b.WriteByte(c)
			l.pos++
		}
	}
	return "", fmt.Errorf("unterminated string starting at offset %d", start+1)
}

func (l *listLexer) bare() (string, error) {
	start := l.pos
	for !l.done() && l.src[l.pos] != ',' {
		l.pos++
	}
	tok := strings.TrimSpace(l.src[start:l.pos])
	if _, err := strconv.ParseFloat(tok, 64); err != nil {
		return "", fmt.Errorf("unquoted list item %q is not a number", tok)
	}
	return tok, nil
}

func unescape(c byte) byte {
	switch c {
	case 'n':
		return '\n'
	case 't':
		return '\t'
	case 'r':
		return '\r'
	default:
		return c
	}
}
