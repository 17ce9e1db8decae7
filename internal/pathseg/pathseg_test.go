package pathseg

import (
	"reflect"
	"strings"
	"testing"
)

func TestSegmentsUsrBinEnv(t *testing.T) {
	got := Segments("/usr/bin//env")
	want := []string{"usr", "bin", "env"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Segments() = %v, want %v", got, want)
	}
}

func TestCursorTerminal(t *testing.T) {
	c := NewCursor("/usr/bin//env")
	var got []string
	for {
		seg, ok := c.Next()
		if !ok {
			break
		}
		got = append(got, seg)
	}
	want := []string{"usr", "bin", "env"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("cursor produced %v, want %v", got, want)
	}
	if _, ok := c.Next(); ok {
		t.Fatal("expected terminal cursor to keep returning ok=false")
	}
}

func TestEmptyPath(t *testing.T) {
	for _, p := range []string{"", "/", "///"} {
		c := NewCursor(p)
		seg, ok := c.Next()
		if !ok || seg != "" {
			t.Fatalf("NewCursor(%q).Next() = (%q, %v), want (\"\", true)", p, seg, ok)
		}
		if _, ok := c.Next(); ok {
			t.Fatalf("NewCursor(%q) did not terminate", p)
		}
	}
}

func TestRoundTrip(t *testing.T) {
	cases := []string{"a/b/c", "/a//b///c/", "a", "/a", "a/"}
	for _, p := range cases {
		segs := Segments(p)
		rejoined := strings.Join(segs, "/")
		if !reflect.DeepEqual(Segments(rejoined), segs) {
			t.Fatalf("round trip broke for %q: segs=%v rejoined=%q resegmented=%v",
				p, segs, rejoined, Segments(rejoined))
		}
	}
}
