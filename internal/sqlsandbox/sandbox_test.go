package sqlsandbox_test

import (
	"errors"
	"strings"
	"testing"

	"github.com/nexusmemory/corestore/internal/sqlsandbox"
)

func TestValidate_AllowsPlainSelect(t *testing.T) {
	if err := sqlsandbox.Validate("SELECT * FROM workouts"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidate_AllowsSelectWithAliasJoin(t *testing.T) {
	sql := `SELECT w.id, s.reps FROM workouts w JOIN sets s ON s.workout_id = w.id WHERE w.id = 1`
	if err := sqlsandbox.Validate(sql); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidate_AllowsWithCTETerminatingInSelect(t *testing.T) {
	sql := `WITH recent AS (SELECT id FROM workouts) SELECT * FROM recent`
	if err := sqlsandbox.Validate(sql); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidate_RejectsDropTable(t *testing.T) {
	assertRejected(t, "DROP TABLE workouts")
}

func TestValidate_RejectsDeleteFrom(t *testing.T) {
	assertRejected(t, "DELETE FROM workouts")
}

func TestValidate_RejectsInsert(t *testing.T) {
	assertRejected(t, "INSERT INTO workouts (id) VALUES (1)")
}

func TestValidate_RejectsUpdate(t *testing.T) {
	assertRejected(t, "UPDATE workouts SET id = 1")
}

func TestValidate_RejectsSystemCatalogBareReference(t *testing.T) {
	assertRejected(t, "SELECT * FROM pg_tables")
}

func TestValidate_RejectsInformationSchema(t *testing.T) {
	assertRejected(t, "SELECT * FROM information_schema.tables")
}

func TestValidate_RejectsCrossSchemaQualifiedReference(t *testing.T) {
	assertRejected(t, "SELECT * FROM user_xxx.profile")
}

func TestValidate_RejectsMultipleStatements(t *testing.T) {
	assertRejected(t, "SELECT * FROM workouts; SELECT * FROM sets")
}

func TestValidate_RejectsTrailingSecondStatementAfterSemicolon(t *testing.T) {
	assertRejected(t, "SELECT 1; DROP TABLE workouts")
}

func TestValidate_AllowsSingleStatementWithTrailingSemicolon(t *testing.T) {
	if err := sqlsandbox.Validate("SELECT * FROM workouts;"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidate_RejectsEmptyStatement(t *testing.T) {
	assertRejected(t, "")
}

func TestValidate_RejectsOverlengthStatement(t *testing.T) {
	sql := "SELECT * FROM workouts WHERE id IN (" + strings.Repeat("1,", 5000) + "1)"
	assertRejected(t, sql)
}

func TestValidate_RejectsNonSelectLeadingKeyword(t *testing.T) {
	assertRejected(t, "EXPLAIN SELECT * FROM workouts")
}

func TestValidate_AllowsSemicolonInsideStringLiteralAsSingleStatement(t *testing.T) {
	// A semicolon inside a string literal must not be treated as a statement
	// separator — this exercises the quote-aware splitter, not a rejection.
	if err := sqlsandbox.Validate(`SELECT * FROM workouts WHERE note = 'a;b'`); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func assertRejected(t *testing.T, sql string) {
	t.Helper()
	err := sqlsandbox.Validate(sql)
	if err == nil {
		t.Fatalf("expected rejection for %q, got nil", sql)
	}
	if !errors.Is(err, sqlsandbox.Error) {
		t.Fatalf("expected error to wrap sqlsandbox.Error, got %v", err)
	}
}
