package mrf

import (
	"encoding/json"
	"fmt"
	"io"
)

// buildValue implements C3: accumulate an Event stream into an in-memory
// value for one bounded subtree, given that the opening token (if any) has
// already been read via Next. It is the building block C5 and C6 use
// whenever a filter predicate requires materializing a whole subtree
// before deciding to keep or drop it.
func buildValue(p *Parser, first Event) (interface{}, error) {
	switch first.Kind {
	case StartMap:
		obj := make(map[string]interface{})
		for {
			ev, err := p.Next()
			if err != nil {
				return nil, err
			}
			if ev.Kind == EndMap {
				return obj, nil
			}
			if ev.Kind != MapKey {
				return nil, fmt.Errorf("expected map key, got kind %d", ev.Kind)
			}
			key, _ := ev.Value.(string)
			valEv, err := p.Next()
			if err != nil {
				return nil, err
			}
			val, err := buildValue(p, valEv)
			if err != nil {
				return nil, err
			}
			obj[key] = val
		}
	case StartArray:
		var arr []interface{}
		for {
			ev, err := p.Next()
			if err != nil {
				return nil, err
			}
			if ev.Kind == EndArray {
				if arr == nil {
					arr = []interface{}{}
				}
				return arr, nil
			}
			val, err := buildValue(p, ev)
			if err != nil {
				return nil, err
			}
			arr = append(arr, val)
		}
	case Null:
		return nil, nil
	case Boolean, Integer, Number, String:
		return first.Value, nil
	default:
		return nil, fmt.Errorf("unexpected event kind %d at start of value", first.Kind)
	}
}

// decodeRawValue reads one complete JSON value (the caller has already
// entered the enclosing array/object) and re-serializes it to raw JSON
// bytes, for handoff to stdlib/simdjson decoding of a single element.
func decodeRawValue(p *Parser) (json.RawMessage, error) {
	first, err := p.Next()
	if err != nil {
		return nil, err
	}
	v, err := buildValue(p, first)
	if err != nil {
		return nil, err
	}
	return json.Marshal(v)
}

// readAllBounded reads the full stream into memory. Remote provider
// references are individual small files, not the multi-gigabyte MRF
// itself, so whole-file buffering here does not violate the bounded-memory
// invariant over the MRF as a whole (§5).
func readAllBounded(r io.Reader) ([]byte, error) {
	return io.ReadAll(r)
}
