// Package testutil provides testing utilities and helpers.
package testutil

import (
	"errors"
	"strings"
	"testing"

	"github.com/google/uuid"
)

// AssertEqual compares two values and fails the test if they're not equal.
func AssertEqual(t *testing.T, expected, actual interface{}, msg string) {
	t.Helper()
	if expected != actual {
		t.Errorf("%s: expected %v, got %v", msg, expected, actual)
	}
}

// AssertNotEqual compares two values and fails the test if they're equal.
func AssertNotEqual(t *testing.T, notExpected, actual interface{}, msg string) {
	t.Helper()
	if notExpected == actual {
		t.Errorf("%s: expected value to not equal %v", msg, notExpected)
	}
}

// AssertTrue fails the test if the value is not true.
func AssertTrue(t *testing.T, value bool, msg string) {
	t.Helper()
	if !value {
		t.Errorf("%s: expected true", msg)
	}
}

// AssertFalse fails the test if the value is not false.
func AssertFalse(t *testing.T, value bool, msg string) {
	t.Helper()
	if value {
		t.Errorf("%s: expected false", msg)
	}
}

// AssertNoError fails the test immediately if err is not nil.
func AssertNoError(t *testing.T, err error, msg string) {
	t.Helper()
	if err != nil {
		t.Fatalf("%s: unexpected error: %v", msg, err)
	}
}

// AssertErrorIs fails the test if err does not match target.
func AssertErrorIs(t *testing.T, err, target error, msg string) {
	t.Helper()
	if !errors.Is(err, target) {
		t.Fatalf("%s: expected error matching %v, got %v", msg, target, err)
	}
}

// AssertContains fails the test if s does not contain substr.
func AssertContains(t *testing.T, s, substr, msg string) {
	t.Helper()
	if !strings.Contains(s, substr) {
		t.Errorf("%s: expected %q to contain %q", msg, s, substr)
	}
}

// AssertIDs fails the test if got and want differ in length or order.
func AssertIDs(t *testing.T, want, got []int64, msg string) {
	t.Helper()
	if len(want) != len(got) {
		t.Fatalf("%s: expected ids %v, got %v", msg, want, got)
	}
	for i := range want {
		if want[i] != got[i] {
			t.Fatalf("%s: expected ids %v, got %v", msg, want, got)
		}
	}
}

// RandomEmail generates a random email for testing.
func RandomEmail() string {
	return uuid.New().String()[:8] + "@test.com"
}
