package jsonldb

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/maruel/ksid"
)

type testRow struct {
	ID    ksid.ID `json:"id"`
	Name  string  `json:"name"`
	Count int     `json:"count"`
}

func (r *testRow) Clone() *testRow {
	c := *r
	return &c
}

func (r *testRow) GetID() ksid.ID {
	return r.ID
}

func newTestTable(t *testing.T) *Table[*testRow] {
	t.Helper()
	table, err := NewTable[*testRow](filepath.Join(t.TempDir(), "rows.jsonl"))
	if err != nil {
		t.Fatal(err)
	}
	return table
}

func TestTable_AppendGet(t *testing.T) {
	table := newTestTable(t)

	row := &testRow{ID: ksid.NewID(), Name: "alpha"}
	if err := table.Append(row); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	got := table.Get(row.ID)
	if got == nil {
		t.Fatal("Get returned nil for existing row")
	}
	if got.Name != "alpha" {
		t.Errorf("Expected name alpha, got %s", got.Name)
	}

	// Get returns a clone; mutating it must not affect the table.
	got.Name = "mutated"
	if table.Get(row.ID).Name != "alpha" {
		t.Error("Get did not return a clone")
	}

	if table.Get(ksid.NewID()) != nil {
		t.Error("Get returned a row for an unknown ID")
	}
}

func TestTable_AppendDuplicateID(t *testing.T) {
	table := newTestTable(t)

	row := &testRow{ID: ksid.NewID(), Name: "alpha"}
	if err := table.Append(row); err != nil {
		t.Fatal(err)
	}
	if err := table.Append(row); err == nil {
		t.Error("Expected error when appending duplicate ID")
	}
}

func TestTable_Persistence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rows.jsonl")
	table, err := NewTable[*testRow](path)
	if err != nil {
		t.Fatal(err)
	}

	rows := []*testRow{
		{ID: ksid.NewID(), Name: "one"},
		{ID: ksid.NewID(), Name: "two"},
		{ID: ksid.NewID(), Name: "three"},
	}
	for _, r := range rows {
		if err := table.Append(r); err != nil {
			t.Fatal(err)
		}
	}

	// Reload from disk.
	reloaded, err := NewTable[*testRow](path)
	if err != nil {
		t.Fatal(err)
	}
	if reloaded.Len() != 3 {
		t.Fatalf("Expected 3 rows after reload, got %d", reloaded.Len())
	}
	for _, r := range rows {
		got := reloaded.Get(r.ID)
		if got == nil || got.Name != r.Name {
			t.Errorf("Row %s not restored correctly", r.ID)
		}
	}
}

func TestTable_LoadMissingFile(t *testing.T) {
	table, err := NewTable[*testRow](filepath.Join(t.TempDir(), "missing.jsonl"))
	if err != nil {
		t.Fatal(err)
	}
	if table.Len() != 0 {
		t.Errorf("Expected empty table, got %d rows", table.Len())
	}
}

func TestTable_Modify(t *testing.T) {
	table := newTestTable(t)

	row := &testRow{ID: ksid.NewID(), Name: "alpha"}
	if err := table.Append(row); err != nil {
		t.Fatal(err)
	}

	updated, err := table.Modify(row.ID, func(r *testRow) error {
		r.Count = 42
		return nil
	})
	if err != nil {
		t.Fatalf("Modify failed: %v", err)
	}
	if updated.Count != 42 {
		t.Errorf("Expected count 42, got %d", updated.Count)
	}
	if table.Get(row.ID).Count != 42 {
		t.Error("Modify did not persist in cache")
	}

	if _, err := table.Modify(ksid.NewID(), func(r *testRow) error { return nil }); err == nil {
		t.Error("Expected error modifying unknown ID")
	}
}

func TestTable_Delete(t *testing.T) {
	table := newTestTable(t)

	a := &testRow{ID: ksid.NewID(), Name: "a"}
	b := &testRow{ID: ksid.NewID(), Name: "b"}
	for _, r := range []*testRow{a, b} {
		if err := table.Append(r); err != nil {
			t.Fatal(err)
		}
	}

	removed, err := table.Delete(a.ID)
	if err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if removed.Name != "a" {
		t.Errorf("Expected removed row a, got %s", removed.Name)
	}
	if table.Get(a.ID) != nil {
		t.Error("Deleted row still retrievable")
	}
	if table.Get(b.ID) == nil {
		t.Error("Remaining row lost after delete")
	}

	if _, err := table.Delete(a.ID); err == nil {
		t.Error("Expected error deleting twice")
	}
}

func TestTable_Iter(t *testing.T) {
	table := newTestTable(t)

	var ids []ksid.ID
	for range 5 {
		r := &testRow{ID: ksid.NewID()}
		ids = append(ids, r.ID)
		if err := table.Append(r); err != nil {
			t.Fatal(err)
		}
	}

	// Iterate from after the second ID.
	var got []ksid.ID
	for r := range table.Iter(ids[1]) {
		got = append(got, r.ID)
	}
	if len(got) != 3 {
		t.Fatalf("Expected 3 rows after ids[1], got %d", len(got))
	}
	for i, id := range got {
		if id != ids[i+2] {
			t.Errorf("Iter order wrong at %d", i)
		}
	}
}

func TestTable_SortsOnLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rows.jsonl")

	a := &testRow{ID: ksid.NewID(), Name: "older"}
	b := &testRow{ID: ksid.NewID(), Name: "newer"}

	// Write newer first to simulate a manually edited file.
	table, err := NewTable[*testRow](path)
	if err != nil {
		t.Fatal(err)
	}
	if err := table.Replace([]*testRow{b, a}); err != nil {
		t.Fatal(err)
	}

	reloaded, err := NewTable[*testRow](path)
	if err != nil {
		t.Fatal(err)
	}
	var names []string
	for r := range reloaded.All() {
		names = append(names, r.Name)
	}
	if len(names) != 2 || names[0] != "older" || names[1] != "newer" {
		t.Errorf("Rows not sorted by ID on load: %v", names)
	}
}

func TestTable_EmptyLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rows.jsonl")
	id := ksid.NewID()
	content := "\n" + `{"id":"` + id.String() + `","name":"x","count":0}` + "\n\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	table, err := NewTable[*testRow](path)
	if err != nil {
		t.Fatal(err)
	}
	if table.Len() != 1 {
		t.Errorf("Expected 1 row, got %d", table.Len())
	}
}
