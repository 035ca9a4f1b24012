package notify

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func sampleState() State {
	return State{
		Rain:        Record{Sent: true, Timestamp: 1760788800000, City: "Paris"},
		Temperature: Record{Sent: true, Timestamp: 1760788800000, City: "Paris", MaxTemp: ptr(14.5)},
	}
}

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	st, err := s.Load(ctx)
	if err != nil || st.Rain.Sent {
		t.Fatalf("Load() on empty store = (%+v, %v)", st, err)
	}
	in := sampleState()
	if err := s.Save(ctx, in); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	*in.Temperature.MaxTemp = 99
	got, _ := s.Load(ctx)
	if *got.Temperature.MaxTemp != 14.5 {
		t.Errorf("stored maxTemp aliased caller value: %v", *got.Temperature.MaxTemp)
	}
	if err := s.Clear(ctx); err != nil {
		t.Fatalf("Clear() error = %v", err)
	}
	if got, _ := s.Load(ctx); got.Rain.Sent || got.Temperature.Sent {
		t.Error("Clear() left records")
	}
}

// TestFileStore_RoundTripLayout verifies persistence and the on-disk JSON layout.
func TestFileStore_RoundTripLayout(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "notifications.json")
	s := NewFileStore(path)

	if st, err := s.Load(ctx); err != nil || st.Rain.Sent {
		t.Fatalf("Load() of missing file = (%+v, %v), want empty state", st, err)
	}
	if err := s.Save(ctx, sampleState()); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	var layout map[string]map[string]any
	if err := json.Unmarshal(raw, &layout); err != nil {
		t.Fatalf("state file is not JSON: %v", err)
	}
	for _, k := range []string{"sent", "timestamp", "city"} {
		if _, ok := layout["rain"][k]; !ok {
			t.Errorf("rain record missing %q: %s", k, raw)
		}
	}
	if _, ok := layout["rain"]["maxTemp"]; ok {
		t.Errorf("rain record has maxTemp: %s", raw)
	}
	if layout["temperature"]["maxTemp"] != 14.5 {
		t.Errorf("temperature maxTemp = %v", layout["temperature"]["maxTemp"])
	}

	got, err := s.Load(ctx)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got.Rain.City != "Paris" || got.Temperature.MaxTemp == nil || *got.Temperature.MaxTemp != 14.5 {
		t.Errorf("Load() = %+v", got)
	}

	entries, _ := os.ReadDir(filepath.Dir(path))
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".tmp") {
			t.Errorf("temp file left behind: %s", e.Name())
		}
	}
}

// TestFileStore_CorruptFile verifies that corrupt state loads as empty with an error.
func TestFileStore_CorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "notifications.json")
	if err := os.WriteFile(path, []byte("{\"rain\": tru"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	st, err := NewFileStore(path).Load(context.Background())
	if err == nil {
		t.Error("Load() of corrupt file error = nil")
	}
	if st.Rain.Sent || st.Temperature.Sent {
		t.Errorf("Load() of corrupt file = %+v, want empty", st)
	}
}

func TestFileStore_Clear(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "notifications.json")
	s := NewFileStore(path)

	if err := s.Clear(ctx); err != nil {
		t.Fatalf("Clear() of missing file error = %v", err)
	}
	_ = s.Save(ctx, sampleState())
	if err := s.Clear(ctx); err != nil {
		t.Fatalf("Clear() error = %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("state file still exists: %v", err)
	}
}

func TestParseAddrs(t *testing.T) {
	got := parseAddrs(" a:1 ,, b:2 ")
	if len(got) != 2 || got[0] != "a:1" || got[1] != "b:2" {
		t.Errorf("parseAddrs() = %v", got)
	}
}
