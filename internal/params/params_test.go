package params

import (
	"reflect"
	"testing"
)

func TestApplyExamples(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		desired Set
		want    string
	}{
		{"replace foreign key", "https://example.com/?foo=1", NewSet("nocache"), "https://example.com/?nocache="},
		{"empty set strips query", "https://example.com/?foo=1", NewSet(), "https://example.com/"},
		{"sorted keys", "https://example.com/page", NewSet("perfmattersoff", "nocache"), "https://example.com/page?nocache=&perfmattersoff="},
		{"empty path gets slash", "https://example.com", NewSet("nocache"), "https://example.com/?nocache="},
		{"fragment kept", "https://example.com/a?x=1#top", NewSet("nocache"), "https://example.com/a?nocache=#top"},
		{"existing value cleared", "https://example.com/?nocache=1", NewSet("nocache"), "https://example.com/?nocache="},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Apply(tt.in, tt.desired)
			if got != tt.want {
				t.Errorf("Apply(%q): got %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestApplyMalformedReturnsInput(t *testing.T) {
	for _, raw := range []string{"", "not a url", "http://[::1", "https://example.com/?a=%zz"} {
		if got := Apply(raw, NewSet("nocache")); got != raw {
			t.Errorf("Apply(%q): got %q, want input unchanged", raw, got)
		}
	}
}

func TestFromURL(t *testing.T) {
	got := FromURL("https://example.com/?nocache=&perfmattersoff=&nocache=2")
	want := []string{"nocache", "perfmattersoff"}
	if !reflect.DeepEqual(got.Sorted(), want) {
		t.Errorf("FromURL: got %v, want %v", got.Sorted(), want)
	}
}

func TestFromURLLenientQuery(t *testing.T) {
	cases := map[string][]string{
		"https://example.com/?a=1;b=2&nocache=": {"a", "nocache"},
		"https://example.com/?q=%zz":            {"q"},
		"https://example.com/?%zz=&nocache=":    {"%zz", "nocache"},
		"https://example.com/?&&nocache=":       {"nocache"},
	}
	for raw, want := range cases {
		if got := FromURL(raw).Sorted(); !reflect.DeepEqual(got, want) {
			t.Errorf("FromURL(%q): got %v, want %v", raw, got, want)
		}
	}
	next, changed := NeedsUpdate("https://example.com/?q=%zz", NewSet("nocache"))
	if !changed || next != "https://example.com/?nocache=" {
		t.Errorf("NeedsUpdate bad escape: got %q %v", next, changed)
	}
}

func TestFromURLMalformed(t *testing.T) {
	for _, raw := range []string{"", "::::", "relative/path?x=1", "https://exa mple.com/?a=1"} {
		got := FromURL(raw)
		if got == nil {
			t.Fatalf("FromURL(%q): got nil, want empty set", raw)
		}
		if got.Len() != 0 {
			t.Errorf("FromURL(%q): got %v, want empty", raw, got.Sorted())
		}
	}
}

func TestRoundTripAndIdempotence(t *testing.T) {
	urls := []string{
		"https://example.com/?foo=1",
		"https://example.com",
		"http://localhost:8080/wp/?p=12&preview=true#x",
		"https://example.com/a/b/?nocache=",
		"https://example.com/?a=1;b=2",
		"https://example.com/?q=%zz",
		"https://example.com/?a=1;b=2&q=%zz&nocache=",
	}
	sets := []Set{
		NewSet(),
		NewSet("nocache"),
		NewSet("perfmattersoff", "perfmatterscssoff", "perfmattersjsoff", "nocache"),
	}
	for _, u := range urls {
		for _, s := range sets {
			once := Apply(u, s)
			if got := FromURL(once); !got.Equal(s) {
				t.Errorf("round trip %q %v: got %v", u, s.Sorted(), got.Sorted())
			}
			if twice := Apply(once, s); twice != once {
				t.Errorf("idempotence %q %v: got %q, want %q", u, s.Sorted(), twice, once)
			}
		}
	}
}

func TestNeedsUpdateComparesSets(t *testing.T) {
	// Same names in a different order must not trigger a reload.
	if _, changed := NeedsUpdate("https://example.com/?perfmattersoff=&nocache=", NewSet("nocache", "perfmattersoff")); changed {
		t.Error("reordered keys: got changed, want unchanged")
	}
	next, changed := NeedsUpdate("https://example.com/?nocache=", NewSet("nocache", "perfmattersoff"))
	if !changed {
		t.Fatal("added key: got unchanged")
	}
	if want := "https://example.com/?nocache=&perfmattersoff="; next != want {
		t.Errorf("added key: got %q, want %q", next, want)
	}
	// Keys outside the desired set count as a difference.
	next, changed = NeedsUpdate("https://example.com/?p=1&nocache=", NewSet("nocache"))
	if !changed || next != "https://example.com/?nocache=" {
		t.Errorf("extra key: got %q %v", next, changed)
	}
	if _, changed := NeedsUpdate("https://example.com/?p=1", NewSet()); !changed {
		t.Error("extra key, empty set: got unchanged")
	}
	if _, changed := NeedsUpdate("garbage", NewSet("nocache")); changed {
		t.Error("malformed: got changed, want unchanged")
	}
}

func TestMergeOnNavigate(t *testing.T) {
	sticky := NewSet("nocache")

	next, changed := MergeOnNavigate("https://example.com/other?page=2", sticky)
	if !changed {
		t.Fatal("missing sticky: got unchanged")
	}
	if want := "https://example.com/other?nocache=&page=2"; next != want {
		t.Errorf("merge: got %q, want %q", next, want)
	}

	if _, changed := MergeOnNavigate("https://example.com/?nocache=", sticky); changed {
		t.Error("already present: got changed")
	}
	if _, changed := MergeOnNavigate("https://example.com/", NewSet()); changed {
		t.Error("no sticky params: got changed")
	}
}

func TestSetOperations(t *testing.T) {
	s := NewSet()
	if !s.Add("a") {
		t.Error("first Add: got false")
	}
	if s.Add("a") {
		t.Error("second Add: got true")
	}
	if s.Len() != 1 {
		t.Errorf("Len: got %d, want 1", s.Len())
	}
	c := s.Clone()
	c.Add("b")
	if s.Has("b") {
		t.Error("Clone shares storage with original")
	}
	if !s.Remove("a") || s.Remove("a") {
		t.Error("Remove: want true then false")
	}
	u := NewSet("a").Union(NewSet("b"))
	if !u.Equal(NewSet("b", "a")) {
		t.Errorf("Union: got %v", u.Sorted())
	}
}
