package shared

import (
	"errors"
	"fmt"
	"testing"

	"github.com/lib/pq"
)

func TestIsUniqueViolation(t *testing.T) {
	err := fmt.Errorf("insert conversation: %w", &pq.Error{Code: "23505"})
	if !IsUniqueViolation(err) {
		t.Fatal("expected wrapped 23505 to be a unique violation")
	}
	if IsUniqueViolation(errors.New("duplicate key")) {
		t.Fatal("plain errors must not be classified")
	}
	if IsUniqueViolation(nil) {
		t.Fatal("nil must not be classified")
	}
}

func TestConflictAndUnavailable(t *testing.T) {
	cases := []struct {
		code        pq.ErrorCode
		conflict    bool
		unavailable bool
	}{
		{"40001", true, false},
		{"40P01", true, false},
		{"53300", false, true},
		{"57P01", false, true},
		{"57P03", false, true},
		{"23505", false, false},
	}
	for _, tc := range cases {
		err := &pq.Error{Code: tc.code}
		if got := IsPgConflictError(err); got != tc.conflict {
			t.Errorf("IsPgConflictError(%s) = %v, want %v", tc.code, got, tc.conflict)
		}
		if got := IsPgUnavailableError(err); got != tc.unavailable {
			t.Errorf("IsPgUnavailableError(%s) = %v, want %v", tc.code, got, tc.unavailable)
		}
	}
	if !IsTooManyConnections(&pq.Error{Code: "53300"}) {
		t.Error("expected 53300 to be too many connections")
	}
}
