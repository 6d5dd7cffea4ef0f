// Package response extracts structured classification results from free-form
// model output.
package response

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"regexp"
	"strings"
)

// Kind identifies which shape a parsed Value holds
type Kind int

const (
	KindObject Kind = iota + 1 // label -> index list
	KindArray                  // ordered list of names
)

func (k Kind) String() string {
	switch k {
	case KindObject:
		return "object"
	case KindArray:
		return "array"
	default:
		return "unknown"
	}
}

// Group is one label of an object response with the batch indices assigned to it
type Group struct {
	Label   string
	Indices []int
}

// Value is the validated result of parsing a model response. Exactly one of
// Groups or Items is meaningful, selected by Kind.
type Value struct {
	Kind   Kind
	Groups []Group  // KindObject, in response order
	Items  []string // KindArray
}

// ParseError reports a response that does not contain a usable value
type ParseError struct {
	Reason string
	Err    error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("parse response: %s: %v", e.Reason, e.Err)
	}
	return "parse response: " + e.Reason
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

var fencePattern = regexp.MustCompile("(?s)```(?i:json)?\\s*(.*?)```")

// Extract returns the JSON candidate embedded in raw: the body of a fenced
// block if present, narrowed to the span between the earliest opening brace
// or bracket and the last matching closer.
func Extract(raw string) (string, bool) {
	text := raw
	if m := fencePattern.FindStringSubmatch(raw); m != nil {
		text = m[1]
	}

	obj := strings.IndexByte(text, '{')
	arr := strings.IndexByte(text, '[')

	start, closer := obj, byte('}')
	if obj < 0 || (arr >= 0 && arr < obj) {
		start, closer = arr, ']'
	}
	if start < 0 {
		return "", false
	}

	end := strings.LastIndexByte(text, closer)
	if end < start {
		return "", false
	}
	return text[start : end+1], true
}

// Parse extracts and validates the value in raw. Trailing commas directly
// before a closing brace or bracket are tolerated; nothing else is repaired.
func Parse(raw string) (Value, error) {
	candidate, ok := Extract(raw)
	if !ok {
		return Value{}, &ParseError{Reason: "no JSON object or array found"}
	}

	data := stripTrailingCommas(candidate)
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return Value{}, &ParseError{Reason: "invalid JSON", Err: err}
	}

	var v Value
	switch tok {
	case json.Delim('{'):
		v, err = decodeObject(dec)
	case json.Delim('['):
		v, err = decodeArray(dec)
	default:
		return Value{}, &ParseError{Reason: "unexpected top-level value"}
	}
	if err != nil {
		return Value{}, err
	}

	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return Value{}, &ParseError{Reason: "unexpected data after value"}
	}
	return v, nil
}

func decodeObject(dec *json.Decoder) (Value, error) {
	v := Value{Kind: KindObject}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return Value{}, &ParseError{Reason: "invalid JSON", Err: err}
		}
		label, ok := tok.(string)
		if !ok {
			return Value{}, &ParseError{Reason: "invalid object key"}
		}

		var members []any
		if err := dec.Decode(&members); err != nil {
			return Value{}, &ParseError{Reason: fmt.Sprintf("value of %q is not an index list", label), Err: err}
		}
		v.Groups = append(v.Groups, Group{Label: label, Indices: indices(members)})
	}
	if _, err := dec.Token(); err != nil {
		return Value{}, &ParseError{Reason: "invalid JSON", Err: err}
	}
	return v, nil
}

func decodeArray(dec *json.Decoder) (Value, error) {
	v := Value{Kind: KindArray, Items: []string{}}
	for dec.More() {
		var item any
		if err := dec.Decode(&item); err != nil {
			return Value{}, &ParseError{Reason: "invalid JSON", Err: err}
		}
		s, ok := item.(string)
		if !ok {
			return Value{}, &ParseError{Reason: "array members must be strings"}
		}
		v.Items = append(v.Items, s)
	}
	if _, err := dec.Token(); err != nil {
		return Value{}, &ParseError{Reason: "invalid JSON", Err: err}
	}
	return v, nil
}

// indices keeps the non-negative integral members and drops everything else
func indices(members []any) []int {
	out := make([]int, 0, len(members))
	for _, m := range members {
		n, ok := m.(json.Number)
		if !ok {
			continue
		}
		if i, err := n.Int64(); err == nil {
			if i >= 0 {
				out = append(out, int(i))
			}
			continue
		}
		f, err := n.Float64()
		if err != nil || f < 0 || f != math.Trunc(f) || f > math.MaxInt32 {
			continue
		}
		out = append(out, int(f))
	}
	return out
}

// stripTrailingCommas removes commas that are followed only by whitespace and
// a closing brace or bracket, ignoring string contents.
func stripTrailingCommas(s string) []byte {
	out := make([]byte, 0, len(s))
	inString, escaped := false, false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			out = append(out, c)
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		if c == '"' {
			inString = true
		}
		if c == ',' {
			j := i + 1
			for j < len(s) && isSpace(s[j]) {
				j++
			}
			if j < len(s) && (s[j] == '}' || s[j] == ']') && followsValue(out) {
				continue
			}
		}
		out = append(out, c)
	}
	return out
}

// followsValue reports whether the last non-space byte written closes a value,
// so that "[,]" and "[1,,]" stay invalid.
func followsValue(out []byte) bool {
	for i := len(out) - 1; i >= 0; i-- {
		if isSpace(out[i]) {
			continue
		}
		switch out[i] {
		case '[', '{', ',', ':':
			return false
		}
		return true
	}
	return false
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}
