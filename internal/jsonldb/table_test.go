package jsonldb

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"slices"
	"testing"
)

type testRow struct {
	ID   int      `json:"id" jsonschema:"description=Row identifier"`
	Name string   `json:"name,omitempty"`
	Tags []string `json:"tags,omitempty"`
}

func (r testRow) Clone() testRow {
	r.Tags = slices.Clone(r.Tags)
	return r
}

func TestTable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "test.jsonl")

	table, err := NewTable[testRow](path)
	if err != nil {
		t.Fatalf("NewTable failed: %v", err)
	}
	if table.Len() != 0 {
		t.Fatalf("expected empty table, got %d rows", table.Len())
	}

	for _, r := range []testRow{{ID: 1, Name: "One"}, {ID: 2, Name: "Two", Tags: []string{"a"}}} {
		if err := table.Append(r); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}
	if table.Len() != 2 {
		t.Errorf("expected 2 rows, got %d", table.Len())
	}
	for r := range table.All() {
		if r.ID == 2 {
			r.Tags[0] = "mutated"
		}
	}
	for r := range table.All() {
		if r.ID == 2 && r.Tags[0] != "a" {
			t.Error("All() returned a shared slice")
		}
	}

	table2, err := NewTable[testRow](path)
	if err != nil {
		t.Fatalf("re-loading table failed: %v", err)
	}
	var names []string
	for r := range table2.All() {
		names = append(names, r.Name)
	}
	if !slices.Equal(names, []string{"One", "Two"}) {
		t.Errorf("re-loaded data mismatch: %v", names)
	}

	if err := table.Replace([]testRow{{ID: 3, Name: "Three"}}); err != nil {
		t.Fatalf("Replace failed: %v", err)
	}
	table3, err := NewTable[testRow](path)
	if err != nil {
		t.Fatalf("re-loading table after replace failed: %v", err)
	}
	var ids []int
	for r := range table3.All() {
		ids = append(ids, r.ID)
	}
	if table3.Len() != 1 || !slices.Equal(ids, []int{3}) {
		t.Errorf("Replace not persisted: len=%d ids=%v", table3.Len(), ids)
	}

	entries, err := os.ReadDir(filepath.Dir(path))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Errorf("temporary files left behind: %v", entries)
	}
}

func TestSchemaHeader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "h.jsonl")
	table, err := NewTable[testRow](path)
	if err != nil {
		t.Fatal(err)
	}
	if err := table.Append(testRow{ID: 1}); err != nil {
		t.Fatal(err)
	}
	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = f.Close() }()
	s := bufio.NewScanner(f)
	if !s.Scan() {
		t.Fatal("missing header line")
	}
	var h schemaHeader
	if err := json.Unmarshal(s.Bytes(), &h); err != nil {
		t.Fatal(err)
	}
	if h.Version != currentVersion {
		t.Errorf("version = %q", h.Version)
	}
	want := []column{
		{Name: "id", Type: columnTypeNumber, Required: true, Description: "Row identifier"},
		{Name: "name", Type: columnTypeText},
		{Name: "tags", Type: columnTypeJSONB},
	}
	if !slices.Equal(h.Columns, want) {
		t.Errorf("columns = %+v, want %+v", h.Columns, want)
	}
}

func TestBadHeader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.jsonl")
	if err := os.WriteFile(path, []byte(`{"columns":[]}`+"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := NewTable[testRow](path); err == nil {
		t.Fatal("expected error for header without version")
	}
}
