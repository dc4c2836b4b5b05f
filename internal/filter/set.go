package filter

import "strings"

// Set is an insertion-ordered set of filter labels. The zero value is empty and
// ready to use. It is not safe for concurrent use.
type Set struct {
	labels []string
}

// NewSet returns a set holding labels, dropping duplicates.
func NewSet(labels ...string) *Set {
	s := &Set{}
	for _, l := range labels {
		s.Add(l)
	}
	return s
}

// Add inserts label if absent.
func (s *Set) Add(label string) {
	if label == "" || s.Has(label) {
		return
	}
	s.labels = append(s.labels, label)
}

// Remove deletes label; removing a non-member is a no-op.
func (s *Set) Remove(label string) {
	for i, l := range s.labels {
		if l == label {
			s.labels = append(s.labels[:i], s.labels[i+1:]...)
			return
		}
	}
}

// Toggle adds label when on and removes it otherwise.
func (s *Set) Toggle(label string, on bool) {
	if on {
		s.Add(label)
	} else {
		s.Remove(label)
	}
}

func (s *Set) Has(label string) bool {
	for _, l := range s.labels {
		if l == label {
			return true
		}
	}
	return false
}

func (s *Set) Len() int { return len(s.labels) }

// Labels returns the members in insertion order.
func (s *Set) Labels() []string {
	return append([]string{}, s.labels...)
}

// Equal reports whether both sets hold the same members, in any order.
func (s *Set) Equal(o *Set) bool {
	if s.Len() != o.Len() {
		return false
	}
	for _, l := range s.labels {
		if !o.Has(l) {
			return false
		}
	}
	return true
}

// String renders the labels as a Python list literal, e.g. ['Vegan', 'Parking'].
func (s *Set) String() string {
	parts := make([]string, len(s.labels))
	for i, l := range s.labels {
		parts[i] = pyQuote(l)
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

// ComposeTurn appends the active filters to the question, separated by a space.
// With no filters the question is sent as is rather than followed by "[]".
func ComposeTurn(question string, filters *Set) string {
	question = strings.TrimSpace(question)
	if filters == nil || filters.Len() == 0 {
		return question
	}
	return question + " " + filters.String()
}

// pyQuote quotes s the way Python's repr does for str.
func pyQuote(s string) string {
	quote := byte('\'')
	if strings.Contains(s, "'") && !strings.Contains(s, `"`) {
		quote = '"'
	}
	var b strings.Builder
	b.WriteByte(quote)
	for _, r := range s {
		switch {
		case r == '\\':
			b.WriteString(`\\`)
		case r == '\n':
			b.WriteString(`\n`)
		case r == '\r':
			b.WriteString(`\r`)
		case r == '\t':
			b.WriteString(`\t`)
		case r == rune(quote):
			b.WriteByte('\\')
			b.WriteRune(r)
		default:
			b.WriteRune(r)
		}
	}
	b.WriteByte(quote)
	return b.String()
}
