package tablestore_test

import (
	"context"
	"errors"
	"testing"

	"github.com/nexusmemory/corestore/internal/tablestore"
)

func newStore() *tablestore.TableStore {
	n := 0
	idFunc := func() string {
		n++
		return "rec-" + string(rune('a'+n-1))
	}
	return tablestore.New(tablestore.NewMemoryStoreForTest(), idFunc, nil)
}

func TestInsert_AutoCreatesRegistryOnFirstWrite(t *testing.T) {
	ctx := context.Background()
	ts := newStore()

	if _, err := ts.Insert(ctx, "workouts", map[string]any{"reps": float64(10), "note": "legs"}, "meta-1"); err != nil {
		t.Fatal(err)
	}

	reg, err := ts.GetRegistry(ctx, "workouts")
	if err != nil {
		t.Fatal(err)
	}
	if reg.RecordCount != 1 {
		t.Errorf("expected record_count=1, got %d", reg.RecordCount)
	}
	if reg.InferredSchema["reps"] != tablestore.ColumnInteger {
		t.Errorf("expected reps inferred as integer, got %s", reg.InferredSchema["reps"])
	}
	if reg.InferredSchema["note"] != tablestore.ColumnText {
		t.Errorf("expected note inferred as text, got %s", reg.InferredSchema["note"])
	}
}

func TestInsert_RejectsInvalidTableName(t *testing.T) {
	ctx := context.Background()
	ts := newStore()

	_, err := ts.Insert(ctx, "Workouts!", map[string]any{"x": float64(1)}, "")
	if !errors.Is(err, tablestore.ErrInvalidTableName) {
		t.Fatalf("expected ErrInvalidTableName, got %v", err)
	}
}

func TestInsert_WidensIntegerToRealNeverNarrows(t *testing.T) {
	ctx := context.Background()
	ts := newStore()

	if _, err := ts.Insert(ctx, "workouts", map[string]any{"reps": float64(10)}, ""); err != nil {
		t.Fatal(err)
	}
	if _, err := ts.Insert(ctx, "workouts", map[string]any{"reps": float64(10.5)}, ""); err != nil {
		t.Fatal(err)
	}

	reg, err := ts.GetRegistry(ctx, "workouts")
	if err != nil {
		t.Fatal(err)
	}
	if reg.InferredSchema["reps"] != tablestore.ColumnReal {
		t.Errorf("expected reps widened to real, got %s", reg.InferredSchema["reps"])
	}

	// A subsequent integer-shaped value must not narrow the column back.
	if _, err := ts.Insert(ctx, "workouts", map[string]any{"reps": float64(12)}, ""); err != nil {
		t.Fatal(err)
	}
	reg, err = ts.GetRegistry(ctx, "workouts")
	if err != nil {
		t.Fatal(err)
	}
	if reg.InferredSchema["reps"] != tablestore.ColumnReal {
		t.Errorf("column narrowed back to integer: %s", reg.InferredSchema["reps"])
	}
}

func TestInsert_TypeConflictWidensToText(t *testing.T) {
	ctx := context.Background()
	ts := newStore()

	if _, err := ts.Insert(ctx, "workouts", map[string]any{"note": true}, ""); err != nil {
		t.Fatal(err)
	}
	if _, err := ts.Insert(ctx, "workouts", map[string]any{"note": "felt great"}, ""); err != nil {
		t.Fatal(err)
	}

	reg, err := ts.GetRegistry(ctx, "workouts")
	if err != nil {
		t.Fatal(err)
	}
	if reg.InferredSchema["note"] != tablestore.ColumnText {
		t.Errorf("expected boolean/text conflict to widen to text, got %s", reg.InferredSchema["note"])
	}
}

func TestListRecords_HidesSoftDeleted(t *testing.T) {
	ctx := context.Background()
	ts := newStore()

	rec, err := ts.Insert(ctx, "workouts", map[string]any{"reps": float64(1)}, "")
	if err != nil {
		t.Fatal(err)
	}
	if err := ts.DeleteRecord(ctx, "workouts", rec.ID); err != nil {
		t.Fatal(err)
	}

	records, err := ts.ListRecords(ctx, "workouts", 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 0 {
		t.Errorf("expected soft-deleted record hidden from listing, got %d", len(records))
	}
}

func TestGetRegistry_UnknownTableIsNotFound(t *testing.T) {
	ctx := context.Background()
	ts := newStore()
	if _, err := ts.GetRegistry(ctx, "nonexistent"); !errors.Is(err, tablestore.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
