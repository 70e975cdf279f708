package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// AnswerKind tags the shape carried by an Answer.
type AnswerKind int

const (
	// AnswerNone is an absent or null answer.
	AnswerNone AnswerKind = iota
	// AnswerScalar is a single string value.
	AnswerScalar
	// AnswerMulti is a list of string values (multi-select).
	AnswerMulti
)

func (k AnswerKind) String() string {
	switch k {
	case AnswerScalar:
		return "scalar"
	case AnswerMulti:
		return "multi"
	default:
		return "none"
	}
}

// Answer is either nothing, one string, or a list of strings. It is used for
// both answer keys and student submissions.
type Answer struct {
	Kind   AnswerKind
	Value  string
	Values []string
}

// Scalar returns a single-valued answer.
func Scalar(v string) Answer {
	return Answer{Kind: AnswerScalar, Value: v}
}

// Multi returns a list-valued answer.
func Multi(vs ...string) Answer {
	out := make([]string, len(vs))
	copy(out, vs)
	return Answer{Kind: AnswerMulti, Values: out}
}

// IsEmpty reports whether the answer is null, an empty string or an empty list.
func (a Answer) IsEmpty() bool {
	switch a.Kind {
	case AnswerScalar:
		return a.Value == ""
	case AnswerMulti:
		return len(a.Values) == 0
	default:
		return true
	}
}

// String renders a scalar as-is and a list as its JSON array text.
func (a Answer) String() string {
	switch a.Kind {
	case AnswerScalar:
		return a.Value
	case AnswerMulti:
		b, _ := json.Marshal(a.list())
		return string(b)
	default:
		return ""
	}
}

func (a Answer) list() []string {
	if a.Values == nil {
		return []string{}
	}
	return a.Values
}

// MarshalJSON encodes None as null, Scalar as a string and Multi as an array.
func (a Answer) MarshalJSON() ([]byte, error) {
	switch a.Kind {
	case AnswerScalar:
		return json.Marshal(a.Value)
	case AnswerMulti:
		return json.Marshal(a.list())
	default:
		return []byte("null"), nil
	}
}

// UnmarshalJSON accepts any well-formed JSON value. Strings become scalars,
// arrays become lists, null becomes None and any other value is kept as a
// scalar holding its JSON text. Non-string list elements are stringified the
// same way.
func (a *Answer) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*a = Answer{}
		return nil
	}
	switch data[0] {
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return fmt.Errorf("decode answer string: %w", err)
		}
		*a = Scalar(s)
	case '[':
		var raw []json.RawMessage
		if err := json.Unmarshal(data, &raw); err != nil {
			return fmt.Errorf("decode answer list: %w", err)
		}
		vals := make([]string, 0, len(raw))
		for _, r := range raw {
			vals = append(vals, rawText(r))
		}
		*a = Answer{Kind: AnswerMulti, Values: vals}
	default:
		if !json.Valid(data) {
			return fmt.Errorf("decode answer: invalid JSON %q", data)
		}
		*a = Scalar(string(data))
	}
	return nil
}

// rawText returns the string content of a JSON string, or the trimmed JSON
// text of any other value.
func rawText(r json.RawMessage) string {
	var s string
	if err := json.Unmarshal(r, &s); err == nil {
		return s
	}
	return strings.TrimSpace(string(r))
}
