package grading

import (
	"encoding/json"
	"slices"
	"strconv"
	"strings"

	"github.com/pavelanni/examshield/internal/model"
)

// listSeparator joins multi-select values in legacy form submissions.
const listSeparator = "||"

// normalize trims whitespace and lowercases a value for matching.
// No Unicode normalization is applied.
func normalize(v string) string {
	return strings.ToLower(strings.TrimSpace(v))
}

// decodeList turns a student answer into a list of values. A scalar is tried
// as a JSON array, then as a "||"-separated string, and finally taken as a
// one-element list.
func decodeList(ans model.Answer) []string {
	switch ans.Kind {
	case model.AnswerMulti:
		return ans.Values
	case model.AnswerScalar:
		if vals, ok := decodeJSONList(ans.Value); ok {
			return vals
		}
		if strings.Contains(ans.Value, listSeparator) {
			var vals []string
			for _, part := range strings.Split(ans.Value, listSeparator) {
				if strings.TrimSpace(part) != "" {
					vals = append(vals, part)
				}
			}
			return vals
		}
		return []string{ans.Value}
	default:
		return nil
	}
}

func decodeJSONList(s string) ([]string, bool) {
	trimmed := strings.TrimSpace(s)
	if !strings.HasPrefix(trimmed, "[") {
		return nil, false
	}
	var a model.Answer
	if err := json.Unmarshal([]byte(trimmed), &a); err != nil || a.Kind != model.AnswerMulti {
		return nil, false
	}
	return a.Values, true
}

// sameSet compares two value lists as multisets after normalization.
func sameSet(want, got []string) bool {
	if len(want) != len(got) {
		return false
	}
	return slices.Equal(sortedNormalized(want), sortedNormalized(got))
}

func sortedNormalized(vals []string) []string {
	out := make([]string, len(vals))
	for i, v := range vals {
		out[i] = normalize(v)
	}
	slices.Sort(out)
	return out
}

// scalarOf extracts the single value of an answer. A list is only usable as
// a scalar when it holds exactly one element.
func scalarOf(ans model.Answer) (string, bool) {
	switch ans.Kind {
	case model.AnswerScalar:
		return ans.Value, true
	case model.AnswerMulti:
		if len(ans.Values) == 1 {
			return ans.Values[0], true
		}
	}
	return "", false
}

// numericEqual parses both values as decimal float64. A value that does not
// parse makes the answer wrong; there is no fallback to text comparison.
func numericEqual(want, got string) bool {
	w, ok := parseDecimal(want)
	if !ok {
		return false
	}
	g, ok := parseDecimal(got)
	if !ok {
		return false
	}
	return w == g
}

// parseDecimal is strconv.ParseFloat without the hexadecimal form.
func parseDecimal(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	digits := strings.TrimLeft(s, "+-")
	if len(digits) > 1 && digits[0] == '0' && (digits[1] == 'x' || digits[1] == 'X') {
		return 0, false
	}
	f, err := strconv.ParseFloat(s, 64)
	return f, err == nil
}
