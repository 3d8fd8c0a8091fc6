package saveformat

import (
	"errors"
	"fmt"
	"io"
	"regexp"
	"strconv"
)

// ErrMalformed marks input that cannot be recovered from: the token stream
// is truncated or its braces do not balance. Typically the game is still
// writing the file. Everything milder is a per-subtree Warning.
var ErrMalformed = errors.New("saveformat: malformed input")

// Warning records a subtree that was skipped instead of parsed. Ingestion
// continues; the warning surfaces in the ingest log.
type Warning struct {
	Path string `json:"path"`
	Line int    `json:"line"`
	Msg  string `json:"msg"`
}

func (w Warning) String() string {
	return fmt.Sprintf("%s (line %d): %s", w.Path, w.Line, w.Msg)
}

// Result is a fully parsed save text member.
type Result struct {
	Root     *Object
	Warnings []Warning
}

// Parse consumes the whole reader and returns the generic tree.
func Parse(r io.Reader) (*Result, error) {
	p := &parser{tz: newTokenizer(r)}
	root, err := p.parseObjectBody("", true)
	if err != nil {
		return nil, err
	}
	return &Result{Root: root, Warnings: p.warnings}, nil
}

type parser struct {
	tz       *tokenizer
	warnings []Warning
}

func (p *parser) warn(path string, line int, format string, args ...any) {
	p.warnings = append(p.warnings, Warning{
		Path: path,
		Line: line,
		Msg:  fmt.Sprintf(format, args...),
	})
}

// parseObjectBody parses entries until the matching close brace (or EOF at
// top level). Blocks may hold key=value pairs, bare values, or a mix; bare
// values inside a keyed block get the empty key and surface through the
// block's list reading.
func (p *parser) parseObjectBody(path string, topLevel bool) (*Object, error) {
	obj := &Object{}
	for {
		tok, err := p.tz.next()
		if err != nil {
			return nil, err
		}
		switch tok.typ {
		case tokEOF:
			if !topLevel {
				return nil, fmt.Errorf("%w: unexpected end of input at line %d", ErrMalformed, tok.line)
			}
			return obj, nil
		case tokClose:
			if topLevel {
				return nil, fmt.Errorf("%w: unbalanced '}' at line %d", ErrMalformed, tok.line)
			}
			return obj, nil
		case tokWord, tokString:
			nxt, err := p.tz.peekTok()
			if err != nil {
				return nil, err
			}
			if nxt.typ == tokEq {
				if _, err := p.tz.next(); err != nil {
					return nil, err
				}
				val, err := p.parseValue(childPath(path, tok.text))
				if err != nil {
					return nil, err
				}
				obj.Entries = append(obj.Entries, Entry{Key: tok.text, Value: val})
				continue
			}
			// Bare element of a list-like block.
			obj.Entries = append(obj.Entries, Entry{Value: classify(tok)})
		case tokOpen:
			// Anonymous nested block, e.g. war participant lists.
			inner, err := p.parseObjectBody(childPath(path, "{}"), false)
			if err != nil {
				return nil, err
			}
			obj.Entries = append(obj.Entries, Entry{Value: blockValue(inner)})
		case tokEq:
			// A '=' with no key: structurally unexpected, but local. Skip
			// the value that follows and keep going.
			p.warn(path, tok.line, "stray '=' without key")
			if err := p.skipValue(); err != nil {
				return nil, err
			}
		default:
			p.warn(path, tok.line, "unexpected token")
		}
	}
}

func (p *parser) parseValue(path string) (Value, error) {
	tok, err := p.tz.next()
	if err != nil {
		return Value{}, err
	}
	switch tok.typ {
	case tokWord, tokString:
		return classify(tok), nil
	case tokOpen:
		inner, err := p.parseObjectBody(path, false)
		if err != nil {
			return Value{}, err
		}
		return blockValue(inner), nil
	case tokEOF:
		return Value{}, fmt.Errorf("%w: value cut off at line %d", ErrMalformed, tok.line)
	case tokClose:
		return Value{}, fmt.Errorf("%w: unbalanced '}' at line %d", ErrMalformed, tok.line)
	default:
		// e.g. "a = = b". Treat the whole entry as noise for this key only.
		p.warn(path, tok.line, "unexpected token in value position")
		return Value{Kind: KindIdent}, nil
	}
}

// skipValue consumes one value without building a tree, skipping to the
// balancing brace for blocks. Truncation inside the skip is still fatal.
func (p *parser) skipValue() error {
	tok, err := p.tz.next()
	if err != nil {
		return err
	}
	switch tok.typ {
	case tokWord, tokString:
		return nil
	case tokOpen:
		depth := 1
		for depth > 0 {
			tok, err := p.tz.next()
			if err != nil {
				return err
			}
			switch tok.typ {
			case tokOpen:
				depth++
			case tokClose:
				depth--
			case tokEOF:
				return fmt.Errorf("%w: unexpected end of input at line %d", ErrMalformed, tok.line)
			}
		}
		return nil
	case tokEOF:
		return fmt.Errorf("%w: unexpected end of input at line %d", ErrMalformed, tok.line)
	default:
		return nil
	}
}

// blockValue decides whether a brace block is a mapping or a sequence. A
// block with only bare elements is a list; anything keyed is an object.
func blockValue(obj *Object) Value {
	if len(obj.Entries) == 0 {
		return Value{Kind: KindObject, Obj: obj}
	}
	for _, e := range obj.Entries {
		if e.Key != "" {
			return Value{Kind: KindObject, Obj: obj}
		}
	}
	list := make([]Value, len(obj.Entries))
	for i, e := range obj.Entries {
		list[i] = e.Value
	}
	return Value{Kind: KindList, List: list}
}

var dateRe = regexp.MustCompile(`^\d{1,4}\.\d{1,2}\.\d{1,2}$`)

func classify(tok token) Value {
	if tok.typ == tokString {
		return Value{Kind: KindString, Str: tok.text}
	}
	s := tok.text
	switch s {
	case "yes":
		return Value{Kind: KindBool, Bool: true}
	case "no":
		return Value{Kind: KindBool, Bool: false}
	}
	if dateRe.MatchString(s) {
		return Value{Kind: KindDate, Str: s}
	}
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return Value{Kind: KindInt, Int: i}
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return Value{Kind: KindFloat, Float: f}
	}
	return Value{Kind: KindIdent, Str: s}
}

func childPath(parent, key string) string {
	if parent == "" {
		return key
	}
	return parent + "." + key
}
