package postgres

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
)

func TestSQLStateClassification(t *testing.T) {
	serialization := &pgconn.PgError{Code: "40001"}
	if !isSerializationFailure(serialization) {
		t.Fatal("40001 should classify as a serialization failure")
	}
	if !isSerializationFailure(fmt.Errorf("commit: %w", serialization)) {
		t.Fatal("wrapped 40001 should still classify as a serialization failure")
	}
	if isSerializationFailure(errors.New("connection reset")) {
		t.Fatal("plain errors must not classify as serialization failures")
	}

	unique := &pgconn.PgError{Code: "23505"}
	if !isUniqueViolation(unique) {
		t.Fatal("23505 should classify as a unique violation")
	}
	if isUniqueViolation(serialization) {
		t.Fatal("40001 must not classify as a unique violation")
	}
}
