package documents

import (
	"strings"
	"unicode"
)

// Filter is a Qdrant payload filter.
type Filter struct {
	Must    []Condition `json:"must,omitempty"`
	Should  []Condition `json:"should,omitempty"`
	MustNot []Condition `json:"must_not,omitempty"`
}

// Condition matches a payload key either exactly (Value) or by full text
// (Text).
type Condition struct {
	Key   string `json:"key"`
	Match Match  `json:"match"`
}

// Match is the match clause of a condition.
type Match struct {
	Value any    `json:"value,omitempty"`
	Text  string `json:"text,omitempty"`
}

// Empty reports whether the filter has no conditions.
func (f *Filter) Empty() bool {
	return f == nil || len(f.Must)+len(f.Should)+len(f.MustNot) == 0
}

// ParseQuery turns search text into a filter over textField.
//
// In simple mode every term (or quoted phrase) is a full-text condition. In
// complex mode the text uses a small subset of the Lucene syntax: field:value
// and field:"value" match a payload key exactly, a leading + requires a term,
// a leading - excludes it, and the AND/OR keywords are accepted and ignored.
// With matchAll the unprefixed terms are all required, otherwise any of them
// may match. Empty text and "*" match everything and yield nil.
func ParseQuery(text, textField string, complex, matchAll bool) *Filter {
	text = strings.TrimSpace(text)
	if text == "" || text == "*" {
		return nil
	}

	f := &Filter{}
	for _, tok := range tokenize(text) {
		if complex && (tok == "AND" || tok == "OR" || tok == "&&" || tok == "||") {
			continue
		}

		var prefix byte
		if complex && len(tok) > 1 && (tok[0] == '+' || tok[0] == '-') {
			prefix, tok = tok[0], tok[1:]
		}

		cond, ok := condition(tok, textField, complex)
		if !ok {
			continue
		}

		switch {
		case prefix == '-':
			f.MustNot = append(f.MustNot, cond)
		case prefix == '+' || matchAll:
			f.Must = append(f.Must, cond)
		default:
			f.Should = append(f.Should, cond)
		}
	}
	if f.Empty() {
		return nil
	}
	return f
}

func condition(tok, textField string, complex bool) (Condition, bool) {
	if complex {
		if field, value, found := strings.Cut(tok, ":"); found && field != "" && !strings.HasPrefix(field, `"`) {
			value = unquote(value)
			if value == "" {
				return Condition{}, false
			}
			return Condition{Key: field, Match: Match{Value: value}}, true
		}
	}
	tok = unquote(tok)
	if tok == "" {
		return Condition{}, false
	}
	return Condition{Key: textField, Match: Match{Text: tok}}, true
}

func unquote(s string) string {
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		return s[1 : len(s)-1]
	}
	return strings.Trim(s, `"`)
}

// tokenize splits on whitespace outside double quotes.
func tokenize(s string) []string {
	var (
		tokens  []string
		current strings.Builder
		quoted  bool
	)
	flush := func() {
		if current.Len() > 0 {
			tokens = append(tokens, current.String())
			current.Reset()
		}
	}
	for _, r := range s {
		switch {
		case r == '"':
			quoted = !quoted
			current.WriteRune(r)
		case unicode.IsSpace(r) && !quoted:
			flush()
		default:
			current.WriteRune(r)
		}
	}
	flush()
	return tokens
}
