package mrf

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// EventKind enumerates the token kinds C2 surfaces.
type EventKind int

const (
	StartMap EventKind = iota
	EndMap
	StartArray
	EndArray
	MapKey
	Null
	Boolean
	Integer
	Number
	String
)

// Event is one (path, event, value) triple. Path is dot-delimited with
// ".item" segments standing in for array elements, matching the JSON
// pointer convention described in SPEC_FULL.md/spec.md §4.2.
type Event struct {
	Path  string
	Kind  EventKind
	Value interface{}
}

// Parser is a thin shim over encoding/json.Decoder that emits a lazy
// sequence of Events and supports fast-forwarding to an exact triple.
type Parser struct {
	dec  *json.Decoder
	path []string // stack of path segments; array frames use "item"
	// expectKey is true when the next map token should be interpreted as a
	// field name (map_key) rather than a value.
	expectKey []bool
}

// NewParser wraps r in a streaming JSON decoder.
func NewParser(r io.Reader) *Parser {
	dec := json.NewDecoder(r)
	dec.UseNumber()
	return &Parser{dec: dec}
}

func (p *Parser) currentPath() string {
	return strings.Join(p.path, ".")
}

// Next returns the next Event, or io.EOF when the stream is exhausted.
func (p *Parser) Next() (Event, error) {
	tok, err := p.dec.Token()
	if err != nil {
		return Event{}, err
	}
	return p.tokenToEvent(tok)
}

func (p *Parser) tokenToEvent(tok json.Token) (Event, error) {
	// If we're inside a map awaiting a key (and this token isn't a closing
	// delimiter), it's a map_key event regardless of its syntactic type.
	inMapAwaitingKey := len(p.expectKey) > 0 && p.expectKey[len(p.expectKey)-1]

	switch v := tok.(type) {
	case json.Delim:
		switch v {
		case '{':
			path := p.currentPath()
			p.expectKey = append(p.expectKey, true)
			return Event{Path: path, Kind: StartMap}, nil
		case '}':
			p.expectKey = p.expectKey[:len(p.expectKey)-1]
			ev := Event{Path: p.currentPath(), Kind: EndMap}
			p.afterValue()
			return ev, nil
		case '[':
			path := p.currentPath()
			p.expectKey = append(p.expectKey, false)
			p.path = append(p.path, "item")
			return Event{Path: path, Kind: StartArray}, nil
		case ']':
			p.expectKey = p.expectKey[:len(p.expectKey)-1]
			if len(p.path) > 0 {
				p.path = p.path[:len(p.path)-1] // this array's own "item" marker
			}
			ev := Event{Path: p.currentPath(), Kind: EndArray}
			p.afterValue()
			return ev, nil
		}
		return Event{}, fmt.Errorf("unexpected delimiter %v", v)
	case string:
		if inMapAwaitingKey {
			p.expectKey[len(p.expectKey)-1] = false
			p.path = append(p.path, v)
			return Event{Path: p.currentPath(), Kind: MapKey, Value: v}, nil
		}
		ev := Event{Path: p.currentPath(), Kind: String, Value: v}
		p.afterValue()
		return ev, nil
	case json.Number:
		ev := p.numberEvent(v)
		p.afterValue()
		return ev, nil
	case bool:
		ev := Event{Path: p.currentPath(), Kind: Boolean, Value: v}
		p.afterValue()
		return ev, nil
	case nil:
		ev := Event{Path: p.currentPath(), Kind: Null}
		p.afterValue()
		return ev, nil
	}
	return Event{}, fmt.Errorf("unexpected token %T", tok)
}

func (p *Parser) numberEvent(n json.Number) Event {
	path := p.currentPath()
	if i, err := n.Int64(); err == nil && !strings.ContainsAny(n.String(), ".eE") {
		return Event{Path: path, Kind: Integer, Value: i}
	}
	f, _ := n.Float64()
	return Event{Path: path, Kind: Number, Value: f}
}

// afterValue runs once a value has fully completed, whether that value
// was a scalar or a map/array that just closed. A value assigned to an
// object field occupies that field's key segment on the path stack; pop
// it and flip the enclosing map frame back to awaiting a key. A value
// that is an array element leaves the array's shared "item" marker on
// the stack until the array itself closes, and an array frame never
// awaits a key, so it is left untouched.
func (p *Parser) afterValue() {
	if len(p.path) == 0 || p.path[len(p.path)-1] == "item" {
		return
	}
	p.path = p.path[:len(p.path)-1]
	if len(p.expectKey) > 0 {
		p.expectKey[len(p.expectKey)-1] = true
	}
}

// More reports whether there is another element/field in the current
// container, mirroring json.Decoder.More.
func (p *Parser) More() bool {
	return p.dec.More()
}

// FastForwardTo consumes and discards events until the exact triple is
// seen (value compared only when non-nil), then returns, having consumed
// that triple. Returns io.EOF if the stream ends first.
func (p *Parser) FastForwardTo(path string, kind EventKind, value interface{}) error {
	for {
		ev, err := p.Next()
		if err != nil {
			return err
		}
		if ev.Path == path && ev.Kind == kind && (value == nil || ev.Value == value) {
			return nil
		}
	}
}

// SkipValue consumes and discards one full value (scalar, or a balanced
// object/array) assuming the opening token has already been read via Next
// for start_map/start_array, or does nothing further for a scalar.
func (p *Parser) SkipValue(startKind EventKind) error {
	depth := 1
	if startKind != StartMap && startKind != StartArray {
		return nil
	}
	for depth > 0 {
		ev, err := p.Next()
		if err != nil {
			return err
		}
		switch ev.Kind {
		case StartMap, StartArray:
			depth++
		case EndMap, EndArray:
			depth--
		}
	}
	return nil
}

// parseIntLoose mirrors service_code's int-coercion-with-string-fallback
// policy described in §4.3/§4.6: a string value is coerced to integer where
// it is a valid decimal, else kept as a string.
func parseIntLoose(s string) (int64, bool) {
	i, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, false
	}
	return i, true
}
