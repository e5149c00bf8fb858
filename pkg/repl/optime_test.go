package repl

import "testing"

func TestOpTimeIsNull(t *testing.T) {
	if !NullOpTime.IsNull() {
		t.Fatal("NullOpTime must be null")
	}
	if (OpTime{Term: 1}).IsNull() {
		t.Fatal("a non-zero term must not be null")
	}
}

func TestOpTimeLess(t *testing.T) {
	cases := []struct {
		a, b OpTime
		want bool
	}{
		{OpTime{1, 1}, OpTime{1, 2}, true},
		{OpTime{1, 2}, OpTime{1, 1}, false},
		{OpTime{1, 5}, OpTime{2, 0}, true},
		{OpTime{2, 0}, OpTime{1, 5}, false},
		{OpTime{1, 1}, OpTime{1, 1}, false},
		{NullOpTime, OpTime{1, 1}, true},
	}
	for _, c := range cases {
		if got := c.a.Less(c.b); got != c.want {
			t.Errorf("%v.Less(%v) = %v, want %v", c.a, c.b, got, c.want)
		}
	}
}

func TestOpTimeGreaterOrEqual(t *testing.T) {
	if !(OpTime{1, 2}).GreaterOrEqual(OpTime{1, 2}) {
		t.Fatal("equal positions must be GreaterOrEqual")
	}
	if (OpTime{1, 1}).GreaterOrEqual(OpTime{1, 2}) {
		t.Fatal("lesser position must not be GreaterOrEqual")
	}
}

func TestOpTimeString(t *testing.T) {
	if got := NullOpTime.String(); got != "null" {
		t.Errorf("NullOpTime.String() = %q, want null", got)
	}
	if got := (OpTime{3, 7}).String(); got != "(3,7)" {
		t.Errorf("OpTime{3,7}.String() = %q, want (3,7)", got)
	}
}
