package depextract

import (
	"fmt"
	"unicode"
)

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokIdent
	tokNumber
	tokString
	tokNewline
	tokPunct // operators and delimiters, literal text in val
	tokKeyword
)

type token struct {
	kind tokenKind
	val  string
	// pos is the rune offset of the token's first character in the source,
	// used to slice out function/class body text without re-parsing it.
	pos int
}

var keywords = map[string]bool{
	"def": true, "class": true, "import": true, "from": true, "as": true,
	"lambda": true, "or": true, "and": true, "not": true,
}

type lexer struct {
	src []rune
	pos int
}

func newLexer(src string) *lexer {
	return &lexer{src: []rune(src)}
}

func (l *lexer) peekRune() rune {
	if l.pos >= len(l.src) {
		return 0
	}
	return l.src[l.pos]
}

func (l *lexer) tokens() ([]token, error) {
	var out []token
	for {
		t, err := l.next()
		if err != nil {
			return nil, err
		}
		out = append(out, t)
		if t.kind == tokEOF {
			return out, nil
		}
	}
}

func (l *lexer) next() (token, error) {
	l.skipSpacesAndComments()
	start := l.pos
	t, err := l.rawNext()
	if err != nil {
		return t, err
	}
	t.pos = start
	return t, nil
}

func (l *lexer) rawNext() (token, error) {
	if l.pos >= len(l.src) {
		return token{kind: tokEOF}, nil
	}
	c := l.src[l.pos]

	if c == '\n' || c == ';' {
		l.pos++
		return token{kind: tokNewline, val: string(c)}, nil
	}

	if unicode.IsLetter(c) || c == '_' {
		start := l.pos
		for l.pos < len(l.src) && (unicode.IsLetter(l.src[l.pos]) || unicode.IsDigit(l.src[l.pos]) || l.src[l.pos] == '_') {
			l.pos++
		}
		word := string(l.src[start:l.pos])
		if keywords[word] {
			return token{kind: tokKeyword, val: word}, nil
		}
		return token{kind: tokIdent, val: word}, nil
	}

	if unicode.IsDigit(c) {
		start := l.pos
		for l.pos < len(l.src) && (unicode.IsDigit(l.src[l.pos]) || l.src[l.pos] == '.') {
			l.pos++
		}
		return token{kind: tokNumber, val: string(l.src[start:l.pos])}, nil
	}

	if c == '"' || c == '\'' {
		quote := c
		l.pos++
		start := l.pos
		for l.pos < len(l.src) && l.src[l.pos] != quote {
			if l.src[l.pos] == '\\' {
				l.pos++
			}
			l.pos++
		}
		if l.pos >= len(l.src) {
			return token{}, fmt.Errorf("unterminated string literal")
		}
		str := string(l.src[start:l.pos])
		l.pos++
		return token{kind: tokString, val: str}, nil
	}

	// two-character operators
	if l.pos+1 < len(l.src) {
		two := string(l.src[l.pos : l.pos+2])
		switch two {
		case "==", "!=", "<=", ">=", "+=", "-=", "*=", "/=", "%=":
			l.pos += 2
			return token{kind: tokPunct, val: two}, nil
		}
	}

	l.pos++
	switch c {
	case '(', ')', '[', ']', '{', '}', ',', ':', '.', '=', '+', '-', '*', '/', '%', '<', '>':
		return token{kind: tokPunct, val: string(c)}, nil
	}

	return token{}, fmt.Errorf("unexpected character %q", c)
}

func (l *lexer) skipSpacesAndComments() {
	for l.pos < len(l.src) {
		c := l.src[l.pos]
		if c == ' ' || c == '\t' || c == '\r' {
			l.pos++
			continue
		}
		if c == '#' {
			for l.pos < len(l.src) && l.src[l.pos] != '\n' {
				l.pos++
			}
			continue
		}
		break
	}
}
