package tabstate

import (
	"encoding/json"
	"sync"
	"testing"

	"github.com/lotas/perfdebug/internal/params"
	"github.com/lotas/perfdebug/internal/types"
)

func TestParametersAfterClearTab(t *testing.T) {
	s := New()
	s.AddParameter(7, "nocache")
	s.StoreAnalysis(7, json.RawMessage(`{"url":"https://example.com/"}`))
	s.ClearTab(7)

	got := s.Parameters(7)
	if got == nil {
		t.Fatal("Parameters: got nil, want empty set")
	}
	if got.Len() != 0 {
		t.Errorf("Parameters after ClearTab: got %v, want empty", got.Sorted())
	}
	if _, ok := s.Analysis(7); ok {
		t.Error("Analysis after ClearTab: still present")
	}
}

func TestAddParameterIdempotent(t *testing.T) {
	s := New()
	if !s.AddParameter(1, "nocache") {
		t.Error("first add: got false, want true")
	}
	if s.AddParameter(1, "nocache") {
		t.Error("second add: got true, want false")
	}
	if n := s.Parameters(1).Len(); n != 1 {
		t.Errorf("set size: got %d, want 1", n)
	}
}

func TestRemoveParameter(t *testing.T) {
	s := New()
	if s.RemoveParameter(1, "nocache") {
		t.Error("remove from missing tab: got true")
	}
	s.AddParameter(1, "nocache")
	if !s.RemoveParameter(1, "nocache") {
		t.Error("remove present: got false")
	}
	if s.RemoveParameter(1, "nocache") {
		t.Error("remove again: got true")
	}
}

func TestParametersReturnsCopy(t *testing.T) {
	s := New()
	s.StoreParameters(3, params.NewSet("a"))
	got := s.Parameters(3)
	got.Add("b")
	if s.Parameters(3).Has("b") {
		t.Error("mutating returned set changed the store")
	}
}

func TestAnalysisOverwrite(t *testing.T) {
	s := New()
	s.StoreAnalysis(2, json.RawMessage(`{"a":1}`))
	s.StoreAnalysis(2, json.RawMessage(`not json at all`))
	got, ok := s.Analysis(2)
	if !ok || string(got) != "not json at all" {
		t.Errorf("Analysis: got %q %v", got, ok)
	}
}

func TestTabsSorted(t *testing.T) {
	s := New()
	for _, id := range []types.TabID{9, 2, 5} {
		s.StoreAnalysis(id, json.RawMessage(`{}`))
	}
	got := s.Tabs()
	want := []types.TabID{2, 5, 9}
	if len(got) != len(want) {
		t.Fatalf("Tabs: got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Tabs[%d]: got %d, want %d", i, got[i], want[i])
		}
	}
}

func TestConcurrentTabsIndependent(t *testing.T) {
	s := New()
	var wg sync.WaitGroup
	for i := 1; i <= 20; i++ {
		wg.Add(1)
		go func(tab types.TabID) {
			defer wg.Done()
			s.AddParameter(tab, "nocache")
			s.StoreAnalysis(tab, json.RawMessage(`{}`))
		}(types.TabID(i))
	}
	wg.Wait()
	if n := len(s.Tabs()); n != 20 {
		t.Errorf("Tabs: got %d, want 20", n)
	}
}
