package saveformat

import (
	"bufio"
	"io"
	"strings"
)

type tokenType int

// tokWord covers bare identifiers, numbers, and dates; tokString is
// quoted text.
const (
	tokEOF tokenType = iota
	tokWord
	tokString
	tokEq
	tokOpen
	tokClose
)

type token struct {
	typ  tokenType
	text string
	line int
}

// tokenizer reads the save text in one pass. Saves run to tens of
// megabytes, so there is no lookahead beyond a single buffered token.
type tokenizer struct {
	r    *bufio.Reader
	line int

	peeked bool
	peek   token
	err    error
}

func newTokenizer(r io.Reader) *tokenizer {
	return &tokenizer{r: bufio.NewReaderSize(r, 256*1024), line: 1}
}

func (t *tokenizer) next() (token, error) {
	if t.peeked {
		t.peeked = false
		return t.peek, t.err
	}
	return t.scan()
}

func (t *tokenizer) peekTok() (token, error) {
	if !t.peeked {
		t.peek, t.err = t.scan()
		t.peeked = true
	}
	return t.peek, t.err
}

func (t *tokenizer) scan() (token, error) {
	for {
		b, err := t.r.ReadByte()
		if err != nil {
			if err == io.EOF {
				return token{typ: tokEOF, line: t.line}, nil
			}
			return token{}, err
		}
		switch b {
		case ' ', '\t', '\r':
			continue
		case '\n':
			t.line++
			continue
		case '#':
			// Comment to end of line.
			if _, err := t.r.ReadString('\n'); err != nil && err != io.EOF {
				return token{}, err
			}
			t.line++
			continue
		case '=':
			return token{typ: tokEq, line: t.line}, nil
		case '{':
			return token{typ: tokOpen, line: t.line}, nil
		case '}':
			return token{typ: tokClose, line: t.line}, nil
		case '"':
			return t.scanString()
		default:
			return t.scanWord(b)
		}
	}
}

func (t *tokenizer) scanString() (token, error) {
	var sb strings.Builder
	line := t.line
	for {
		b, err := t.r.ReadByte()
		if err != nil {
			if err == io.EOF {
				// Unterminated string: the file was cut off mid-write.
				return token{}, ErrMalformed
			}
			return token{}, err
		}
		switch b {
		case '"':
			return token{typ: tokString, text: sb.String(), line: line}, nil
		case '\\':
			nb, err := t.r.ReadByte()
			if err != nil {
				return token{}, ErrMalformed
			}
			sb.WriteByte(nb)
		case '\n':
			t.line++
			sb.WriteByte(b)
		default:
			sb.WriteByte(b)
		}
	}
}

func (t *tokenizer) scanWord(first byte) (token, error) {
	var sb strings.Builder
	sb.WriteByte(first)
	line := t.line
	for {
		b, err := t.r.ReadByte()
		if err != nil {
			if err == io.EOF {
				return token{typ: tokWord, text: sb.String(), line: line}, nil
			}
			return token{}, err
		}
		switch b {
		case ' ', '\t', '\r', '\n', '=', '{', '}', '"', '#':
			if err := t.r.UnreadByte(); err != nil {
				return token{}, err
			}
			return token{typ: tokWord, text: sb.String(), line: line}, nil
		default:
			sb.WriteByte(b)
		}
	}
}
