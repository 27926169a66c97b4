package sql

import (
	"errors"
	"testing"

	"github.com/lib/pq"
)

func TestPostgresDialectDetectsUniqueViolation(t *testing.T) {
	err := &pq.Error{Code: "23505"}
	if !postgresDialect.isUniqueViolation(err) {
		t.Errorf("isUniqueViolation(%v) = false, want true", err)
	}
}

func TestPostgresDialectIgnoresOtherPQErrors(t *testing.T) {
	err := &pq.Error{Code: "42601"}
	if postgresDialect.isUniqueViolation(err) {
		t.Errorf("isUniqueViolation(%v) = true, want false", err)
	}
}

func TestPostgresDialectIgnoresNonPQErrors(t *testing.T) {
	if postgresDialect.isUniqueViolation(errors.New("boom")) {
		t.Errorf("isUniqueViolation() = true for a non-*pq.Error, want false")
	}
}
