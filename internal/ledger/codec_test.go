package ledger

import (
	"errors"
	"reflect"
	"testing"
)

func TestEncode(t *testing.T) {
	tests := []struct {
		name string
		ids  []int64
		want string
	}{
		{name: "nil", ids: nil, want: ""},
		{name: "empty", ids: []int64{}, want: ""},
		{name: "single", ids: []int64{7}, want: "7"},
		{name: "ordered", ids: []int64{3, 1, 20}, want: "3;1;20"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Encode(tt.ids); got != tt.want {
				t.Fatalf("expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestDecode(t *testing.T) {
	tests := []struct {
		name  string
		value string
		want  []int64
	}{
		{name: "empty", value: "", want: []int64{}},
		{name: "only separators", value: ";;", want: []int64{}},
		{name: "single", value: "42", want: []int64{42}},
		{name: "keeps order", value: "5;2;9", want: []int64{5, 2, 9}},
		{name: "skips empty tokens", value: ";5;;2;", want: []int64{5, 2}},
		{name: "collapses duplicates", value: "5;2;5", want: []int64{5, 2}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Decode(tt.value)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestDecode_RejectsBadTokens(t *testing.T) {
	for _, value := range []string{"1;x;3", "1; 2", "-4", "0", "+5", "1;2.5", "99999999999999999999"} {
		t.Run(value, func(t *testing.T) {
			_, err := Decode(value)
			var formatErr *FormatError
			if !errors.As(err, &formatErr) {
				t.Fatalf("expected FormatError, got %v", err)
			}
			if formatErr.Value != value {
				t.Fatalf("expected value %q in error, got %q", value, formatErr.Value)
			}
		})
	}
}

func TestEncodeDecode_RoundTrip(t *testing.T) {
	inputs := [][]int64{
		{1},
		{1, 2, 3},
		{900, 12, 7, 100000},
		{9223372036854775807},
	}
	for _, ids := range inputs {
		got, err := Decode(Encode(ids))
		if err != nil {
			t.Fatalf("unexpected error for %v: %v", ids, err)
		}
		if !reflect.DeepEqual(got, ids) {
			t.Fatalf("round trip mismatch: expected %v, got %v", ids, got)
		}
	}
}

func TestSet_AddRemove(t *testing.T) {
	s := NewSet(4, 4, -1, 2)
	if got := s.String(); got != "4;2" {
		t.Fatalf("expected 4;2, got %q", got)
	}
	if !s.Add(9) {
		t.Fatal("expected first add to change the set")
	}
	if s.Add(9) {
		t.Fatal("expected second add to be a no-op")
	}
	if !s.Remove(4) {
		t.Fatal("expected remove to change the set")
	}
	if s.Remove(4) {
		t.Fatal("expected second remove to be a no-op")
	}
	if !reflect.DeepEqual(s.IDs(), []int64{2, 9}) {
		t.Fatalf("unexpected ids %v", s.IDs())
	}
	if s.Len() != 2 {
		t.Fatalf("expected len 2, got %d", s.Len())
	}
}

func TestSet_ZeroValue(t *testing.T) {
	var s Set
	if s.Contains(1) || s.Remove(1) {
		t.Fatal("zero set should be empty")
	}
	if s.String() != "" {
		t.Fatalf("expected empty encoding, got %q", s.String())
	}
	s.Add(1)
	if s.String() != "1" {
		t.Fatalf("expected 1, got %q", s.String())
	}
}
