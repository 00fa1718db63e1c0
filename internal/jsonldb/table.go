package jsonldb

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/maruel/ksid"
)

// ErrNotFound is returned when a row with the requested ID does not exist.
var ErrNotFound = errors.New("row not found")

// Cloner is implemented by types that can clone themselves.
type Cloner[T any] interface {
	Clone() T
}

// Row is the constraint for types stored in a Table: a cloneable row with a
// stable, time-sortable ID.
type Row[T any] interface {
	Cloner[T]
	GetID() ksid.ID
}

// TableObserver receives notifications about table mutations.
// Observers are invoked synchronously while the table write lock is held,
// so indexes never observe a stale table state.
type TableObserver[T Row[T]] interface {
	OnAppend(row T)
	OnUpdate(prev, curr T)
	OnDelete(row T)
}

// Table handles storage and in-memory caching for a single table in JSONL format.
type Table[T Row[T]] struct {
	path string
	mu   sync.RWMutex

	rows      []T
	byID      map[ksid.ID]int
	observers []TableObserver[T]
}

// NewTable creates a new Table and loads all data from the file.
func NewTable[T Row[T]](path string) (*Table[T], error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create directory for %s: %w", path, err)
	}

	table := &Table[T]{path: path}
	if err := table.load(); err != nil {
		return nil, err
	}
	return table, nil
}

func (t *Table[T]) load() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	f, err := os.Open(t.path)
	if err != nil {
		if os.IsNotExist(err) {
			t.rows = []T{}
			t.byID = map[ksid.ID]int{}
			return nil
		}
		return fmt.Errorf("failed to open table file %s: %w", t.path, err)
	}
	defer func() {
		_ = f.Close()
	}()

	var rows []T
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var row T
		if err := json.Unmarshal(line, &row); err != nil {
			return fmt.Errorf("failed to unmarshal row in %s: %w", t.path, err)
		}
		rows = append(rows, row)
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to read table file %s: %w", t.path, err)
	}

	// Sort by ID on load if out of order (handles clock drift, manual edits).
	if !sort.SliceIsSorted(rows, func(i, j int) bool { return rows[i].GetID() < rows[j].GetID() }) {
		sort.Slice(rows, func(i, j int) bool { return rows[i].GetID() < rows[j].GetID() })
	}

	t.rows = rows
	t.byID = make(map[ksid.ID]int, len(rows))
	for i, row := range rows {
		t.byID[row.GetID()] = i
	}
	return nil
}

// AddObserver registers an observer for table mutations.
// Must be called before the table is shared between goroutines.
func (t *Table[T]) AddObserver(o TableObserver[T]) {
	t.mu.Lock()
	t.observers = append(t.observers, o)
	for _, row := range t.rows {
		o.OnAppend(row)
	}
	t.mu.Unlock()
}

// Len returns the number of rows.
func (t *Table[T]) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.rows)
}

// Last returns a clone of the last row, or false if empty.
func (t *Table[T]) Last() (T, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if len(t.rows) == 0 {
		var zero T
		return zero, false
	}
	return t.rows[len(t.rows)-1].Clone(), true
}

// Get returns a clone of the row with the given ID, or the zero value if not found.
func (t *Table[T]) Get(id ksid.ID) T {
	t.mu.RLock()
	defer t.mu.RUnlock()
	i, ok := t.byID[id]
	if !ok {
		var zero T
		return zero
	}
	return t.rows[i].Clone()
}

// All returns an iterator over clones of all rows.
func (t *Table[T]) All() iter.Seq[T] {
	return func(yield func(T) bool) {
		t.mu.RLock()
		defer t.mu.RUnlock()
		for _, row := range t.rows {
			if !yield(row.Clone()) {
				return
			}
		}
	}
}

// Iter returns an iterator over clones of rows with ID greater than startID.
// Pass 0 to iterate from the beginning.
func (t *Table[T]) Iter(startID ksid.ID) iter.Seq[T] {
	return func(yield func(T) bool) {
		t.mu.RLock()
		defer t.mu.RUnlock()
		i := sort.Search(len(t.rows), func(i int) bool { return t.rows[i].GetID() > startID })
		for ; i < len(t.rows); i++ {
			if !yield(t.rows[i].Clone()) {
				return
			}
		}
	}
}

// Append adds a new row to the table and persists it.
func (t *Table[T]) Append(row T) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	id := row.GetID()
	if _, ok := t.byID[id]; ok {
		return fmt.Errorf("duplicate row ID %s", id)
	}

	data, err := json.Marshal(row)
	if err != nil {
		return fmt.Errorf("failed to marshal row: %w", err)
	}

	f, err := os.OpenFile(t.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open table file for append: %w", err)
	}
	defer func() {
		_ = f.Close()
	}()

	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("failed to write row: %w", err)
	}
	if _, err := f.WriteString("\n"); err != nil {
		return fmt.Errorf("failed to write newline: %w", err)
	}

	clone := row.Clone()
	t.byID[id] = len(t.rows)
	t.rows = append(t.rows, clone)
	for _, o := range t.observers {
		o.OnAppend(clone)
	}
	return nil
}

// Update replaces the row with the same ID and persists the table.
// Returns a clone of the stored row.
func (t *Table[T]) Update(row T) (T, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	var zero T
	i, ok := t.byID[row.GetID()]
	if !ok {
		return zero, ErrNotFound
	}
	prev := t.rows[i]
	clone := row.Clone()
	t.rows[i] = clone
	if err := t.persistLocked(); err != nil {
		t.rows[i] = prev
		return zero, err
	}
	for _, o := range t.observers {
		o.OnUpdate(prev, clone)
	}
	return clone.Clone(), nil
}

// Modify atomically applies fn to the row with the given ID and persists the
// result. The write lock is held for the whole read-modify-write cycle.
func (t *Table[T]) Modify(id ksid.ID, fn func(row T) error) (T, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	var zero T
	i, ok := t.byID[id]
	if !ok {
		return zero, ErrNotFound
	}
	prev := t.rows[i]
	curr := prev.Clone()
	if err := fn(curr); err != nil {
		return zero, err
	}
	if curr.GetID() != id {
		return zero, errors.New("modify must not change the row ID")
	}
	t.rows[i] = curr
	if err := t.persistLocked(); err != nil {
		t.rows[i] = prev
		return zero, err
	}
	for _, o := range t.observers {
		o.OnUpdate(prev, curr)
	}
	return curr.Clone(), nil
}

// Delete removes the row with the given ID and persists the table.
// Returns a clone of the removed row.
func (t *Table[T]) Delete(id ksid.ID) (T, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	var zero T
	i, ok := t.byID[id]
	if !ok {
		return zero, ErrNotFound
	}
	removed := t.rows[i]
	t.rows = append(t.rows[:i], t.rows[i+1:]...)
	delete(t.byID, id)
	for j := i; j < len(t.rows); j++ {
		t.byID[t.rows[j].GetID()] = j
	}
	if err := t.persistLocked(); err != nil {
		return zero, err
	}
	for _, o := range t.observers {
		o.OnDelete(removed)
	}
	return removed.Clone(), nil
}

// Replace replaces all rows with the provided slice and persists it.
// Observers are not notified; do not use Replace on indexed tables.
func (t *Table[T]) Replace(rows []T) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	prev := t.rows
	prevByID := t.byID
	t.rows = rows
	t.byID = make(map[ksid.ID]int, len(rows))
	for i, row := range rows {
		t.byID[row.GetID()] = i
	}
	if err := t.persistLocked(); err != nil {
		t.rows = prev
		t.byID = prevByID
		return err
	}
	return nil
}

// persistLocked rewrites the whole file. Caller must hold the write lock.
func (t *Table[T]) persistLocked() error {
	f, err := os.Create(t.path)
	if err != nil {
		return fmt.Errorf("failed to create table file: %w", err)
	}
	defer func() {
		_ = f.Close()
	}()

	writer := bufio.NewWriter(f)
	for _, row := range t.rows {
		data, err := json.Marshal(row)
		if err != nil {
			return fmt.Errorf("failed to marshal row: %w", err)
		}
		if _, err := writer.Write(data); err != nil {
			return fmt.Errorf("failed to write row: %w", err)
		}
		if err := writer.WriteByte('\n'); err != nil {
			return fmt.Errorf("failed to write newline: %w", err)
		}
	}
	if err := writer.Flush(); err != nil {
		return fmt.Errorf("failed to flush writer: %w", err)
	}
	return nil
}
