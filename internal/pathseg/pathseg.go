// Package pathseg iterates the components of a slash-separated path
// string one at a time: leading separator runs are skipped, and a
// single trailing separator run is consumed along with the component
// it follows.
package pathseg

import "strings"

const separator = '/'

// Cursor walks a path string component by component. The zero value is
// not usable; construct one with NewCursor.
type Cursor struct {
	remainder string
	done      bool
}

// NewCursor returns a cursor positioned at the start of path.
func NewCursor(path string) *Cursor {
	return &Cursor{remainder: path}
}

// Next consumes any leading run of separators, then the next component
// up to (but not including) the following separator or end of string.
// It returns the component and true, or ("", false) once the cursor has
// reached its terminal "no more segments" state.
//
// An input of only separators (or the empty string) yields exactly one
// call returning ("", true) followed by ("", false) forever after: a
// name that is empty or all separators produces one empty component.
func (c *Cursor) Next() (segment string, ok bool) {
	if c.done {
		return "", false
	}

	s := c.remainder
	i := 0
	for i < len(s) && s[i] == separator {
		i++
	}
	s = s[i:]

	slash := strings.IndexByte(s, separator)
	if slash < 0 {
		c.remainder = ""
		c.done = true
		return s, true
	}

	segment = s[:slash]
	rest := s[slash+1:]
	j := 0
	for j < len(rest) && rest[j] == separator {
		j++
	}
	rest = rest[j:]

	if rest == "" {
		c.done = true
	}
	c.remainder = rest
	return segment, true
}

// Segments splits path into its non-empty components, discarding empty
// leading and trailing components produced by separator runs — the
// same result as iterating Next but collected into a slice, useful for
// tests and for callers that don't need incremental consumption.
func Segments(path string) []string {
	c := NewCursor(path)
	var out []string
	for {
		seg, ok := c.Next()
		if !ok {
			break
		}
		if seg != "" {
			out = append(out, seg)
		}
	}
	return out
}
