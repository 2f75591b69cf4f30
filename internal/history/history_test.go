package history

import (
	"database/sql"
	"path/filepath"
	"strings"
	"testing"

	"github.com/lotas/perfdebug/internal/storage"
	"github.com/lotas/perfdebug/internal/types"
)

func testDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := storage.OpenDB(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("OpenDB: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

const (
	payloadA = `{"headers":{"x-bigscoots-cache-status":"MISS"},"cls":{"value":0.3,"rating":"poor"},"images":[{"url":"https://example.com/a.jpg","type":"preload"}]}`
	payloadB = `{"headers":{"x-bigscoots-cache-status":"HIT"},"cls":{"value":0.05,"rating":"good"},"images":[{"url":"https://example.com/b.webp","type":"preload"}]}`
)

func TestPageKey(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"https://example.com/post?nocache=&perfmattersoff=", "https://example.com/post"},
		{"https://example.com/post?page=2&nocache=#top", "https://example.com/post?page=2"},
		{"https://example.com", "https://example.com/"},
	}
	for _, tt := range tests {
		if got := PageKey(tt.in); got != tt.want {
			t.Errorf("PageKey(%q): got %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestLabelFor(t *testing.T) {
	if got := LabelFor("https://example.com/?perfmattersoff=&utm=x&nocache="); got != "nocache,perfmattersoff" {
		t.Errorf("got %q", got)
	}
	if got := LabelFor("https://example.com/"); got != "" {
		t.Errorf("got %q, want empty", got)
	}
}

func TestRecordSkipsUnchanged(t *testing.T) {
	db := testDB(t)
	url := "https://example.com/post?nocache="

	rev, created, diff, err := Record(db, url, 7, []byte(payloadA))
	if err != nil {
		t.Fatalf("Record: %v", err)
	}
	if rev != 1 || !created || diff != nil {
		t.Errorf("first record: rev=%d created=%v diff=%v", rev, created, diff)
	}

	rev, created, _, err = Record(db, url, 7, []byte(payloadA))
	if err != nil {
		t.Fatalf("Record: %v", err)
	}
	if rev != 1 || created {
		t.Errorf("unchanged: rev=%d created=%v, want 1 false", rev, created)
	}

	rev, created, diff, err = Record(db, "https://example.com/post", 7, []byte(payloadB))
	if err != nil {
		t.Fatalf("Record: %v", err)
	}
	if rev != 2 || !created {
		t.Fatalf("changed: rev=%d created=%v", rev, created)
	}
	if diff == nil || diff.RevFrom != 1 || diff.RevTo != 2 {
		t.Fatalf("diff: got %+v", diff)
	}

	list, err := storage.ListAnalyses(db, "https://example.com/post")
	if err != nil {
		t.Fatalf("ListAnalyses: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("expected 2 revisions, got %d", len(list))
	}
	if list[1].Label != "nocache" || list[0].Label != "" {
		t.Errorf("labels: got %q and %q", list[1].Label, list[0].Label)
	}
}

func TestDiff(t *testing.T) {
	a, _ := types.DecodeAnalysis([]byte(payloadA))
	b, _ := types.DecodeAnalysis([]byte(payloadB))

	d := Diff(a, b)

	if len(d.Metrics) != 1 || d.Metrics[0].Name != "CLS" {
		t.Fatalf("metrics: got %+v", d.Metrics)
	}
	if d.Metrics[0].From != "0.300 (Poor)" || d.Metrics[0].To != "0.050 (Good)" {
		t.Errorf("CLS change: got %+v", d.Metrics[0])
	}
	if len(d.Headers) != 1 || d.Headers[0].From != "MISS" || d.Headers[0].To != "HIT" {
		t.Errorf("headers: got %+v", d.Headers)
	}
	if len(d.Added) != 1 || d.Added[0] != "https://example.com/b.webp" {
		t.Errorf("added: got %v", d.Added)
	}
	if len(d.Removed) != 1 || d.Removed[0] != "https://example.com/a.jpg" {
		t.Errorf("removed: got %v", d.Removed)
	}

	if !Diff(a, a).Empty() {
		t.Error("self diff should be empty")
	}
}

func TestDiffRevisions(t *testing.T) {
	db := testDB(t)
	url := "https://example.com/"
	Record(db, url, 1, []byte(payloadA))
	Record(db, url, 1, []byte(payloadB))

	d, err := DiffRevisions(db, url, 0, 0)
	if err != nil {
		t.Fatalf("DiffRevisions: %v", err)
	}
	if d.RevFrom != 1 || d.RevTo != 2 {
		t.Errorf("revs: got %d -> %d", d.RevFrom, d.RevTo)
	}

	out := FormatDiff(d)
	for _, want := range []string{"rev 1 -> 2", "x-bigscoots-cache-status: MISS -> HIT", "+ https://example.com/b.webp", "- https://example.com/a.jpg"} {
		if !strings.Contains(out, want) {
			t.Errorf("FormatDiff missing %q:\n%s", want, out)
		}
	}

	if _, err := DiffRevisions(db, url, 0, 1); err == nil {
		t.Error("expected error diffing before first revision")
	}
	if _, err := DiffRevisions(db, "https://nothing.example/", 0, 0); err == nil {
		t.Error("expected error for empty history")
	}
}

func TestFormatDiffNoChanges(t *testing.T) {
	out := FormatDiff(&DiffResult{URL: "https://example.com/", RevFrom: 1, RevTo: 2})
	if !strings.Contains(out, "No changes.") {
		t.Errorf("got:\n%s", out)
	}
}

func TestLoad(t *testing.T) {
	db := testDB(t)
	if _, _, err := Load(db, "https://example.com/", 0); err == nil {
		t.Error("expected error for empty history")
	}
	Record(db, "https://example.com/?nocache=", 3, []byte(payloadB))
	r, a, err := Load(db, "https://example.com/", 0)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if r.Rev != 1 || r.TabID != 3 {
		t.Errorf("rev: got %+v", r.AnalysisSummary)
	}
	if a.Headers["x-bigscoots-cache-status"] != "HIT" {
		t.Errorf("analysis: got %+v", a.Headers)
	}
}
