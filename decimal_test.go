package woolfarm

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestParseDecimal(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"0", "0"},
		{"42", "42"},
		{"-3.5", "-3.5"},
		{"1.100", "1.1"},
		{"0.25", "0.25"},
		{"1.2e3", "1200"},
		{"  7 ", "7"},
	}
	for _, tc := range cases {
		d, err := ParseDecimal(tc.in)
		if err != nil {
			t.Fatalf("ParseDecimal(%q): %v", tc.in, err)
		}
		if got := d.String(); got != tc.want {
			t.Errorf("ParseDecimal(%q).String() = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestParseDecimalRejects(t *testing.T) {
	for _, in := range []string{"", "abc", "1/3", "1.2.3"} {
		if _, err := ParseDecimal(in); err == nil {
			t.Errorf("ParseDecimal(%q): expected error", in)
		}
	}
}

func TestDecimalZeroValue(t *testing.T) {
	var d Decimal
	if !d.IsZero() {
		t.Error("zero value should be zero")
	}
	if got := d.Add(MustDecimal("5")).String(); got != "5" {
		t.Errorf("zero + 5 = %s, want 5", got)
	}
}

func TestDecimalArithmetic(t *testing.T) {
	a := MustDecimal("1.1")
	b := MustDecimal("0.1")

	if got := a.Add(b).String(); got != "1.2" {
		t.Errorf("1.1 + 0.1 = %s, want 1.2", got)
	}
	if got := a.Sub(b).String(); got != "1" {
		t.Errorf("1.1 - 0.1 = %s, want 1", got)
	}
	if got := a.Mul(a).String(); got != "1.21" {
		t.Errorf("1.1 * 1.1 = %s, want 1.21", got)
	}
	if got := MustDecimal("1").Quo(MustDecimal("4")).String(); got != "0.25" {
		t.Errorf("1/4 = %s, want 0.25", got)
	}
	if got := a.Quo(Decimal{}); !got.IsZero() {
		t.Errorf("division by zero = %s, want 0", got)
	}
	if got := MustDecimal("3").MulInt64(4).String(); got != "12" {
		t.Errorf("3 * 4 = %s, want 12", got)
	}
}

func TestDecimalPow(t *testing.T) {
	if got := MustDecimal("1.1").Pow(2).String(); got != "1.21" {
		t.Errorf("1.1^2 = %s, want 1.21", got)
	}
	if got := MustDecimal("2").Pow(10).String(); got != "1024" {
		t.Errorf("2^10 = %s, want 1024", got)
	}
	if got := MustDecimal("5").Pow(0).String(); got != "1" {
		t.Errorf("5^0 = %s, want 1", got)
	}
}

func TestDecimalHugeMagnitudes(t *testing.T) {
	// Late-game amounts exceed float64 range; arithmetic must stay exact.
	huge := MustDecimal("1e300").Mul(MustDecimal("1e300"))
	want := "1" + strings.Repeat("0", 600)
	if got := huge.String(); got != want {
		t.Errorf("1e300 * 1e300 rendered wrong: %d digits", len(got))
	}
	if got := huge.Add(MustDecimal("1")).Sub(huge).String(); got != "1" {
		t.Errorf("huge+1-huge = %s, want 1", got)
	}
}

func TestDecimalCmp(t *testing.T) {
	if MustDecimal("2").Cmp(MustDecimal("3")) != -1 {
		t.Error("2 < 3 expected")
	}
	if MustDecimal("2").Cmp(MustDecimal("2.0")) != 0 {
		t.Error("2 == 2.0 expected")
	}
	if got := MaxDecimal(MustDecimal("2"), MustDecimal("3")).String(); got != "3" {
		t.Errorf("MaxDecimal = %s, want 3", got)
	}
	if !MustDecimal("-1").IsNegative() {
		t.Error("-1 should be negative")
	}
}

func TestDecimalNonTerminatingString(t *testing.T) {
	got := MustDecimal("1").Quo(MustDecimal("3")).String()
	if got != "0.333333333333" {
		t.Errorf("1/3 = %q, want 12 rounded digits", got)
	}
}

func TestDecimalJSON(t *testing.T) {
	d := MustDecimal("123.456")
	data, err := json.Marshal(d)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(data) != `"123.456"` {
		t.Errorf("marshal = %s, want \"123.456\"", data)
	}

	var back Decimal
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if back.Cmp(d) != 0 {
		t.Errorf("roundtrip mismatch: %s", back)
	}

	// Bare JSON numbers are accepted for client compatibility.
	if err := json.Unmarshal([]byte("42.5"), &back); err != nil {
		t.Fatalf("unmarshal bare number: %v", err)
	}
	if back.String() != "42.5" {
		t.Errorf("bare number = %s, want 42.5", back)
	}
}
