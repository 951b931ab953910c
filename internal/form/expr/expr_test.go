package expr_test

import (
	"testing"

	"github.com/marvin-wtt/camp-registration-api/internal/form/expr"
)

func mustParse(t *testing.T, src string) expr.Node {
	t.Helper()

	n, err := expr.Parse(src)
	if err != nil {
		t.Fatalf("parse %q: %v", src, err)
	}
	return n
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name string
		src  string
	}{
		{"unterminated reference", "{first_name"},
		{"empty reference", "{} = 1"},
		{"unterminated string", "{x} = 'abc"},
		{"unknown function", "isAstronaut({date_of_birth})"},
		{"bare identifier", "first_name = 'a'"},
		{"dangling operator", "{a} ="},
		{"unbalanced paren", "({a} = 1"},
		{"garbage", "{a} = 1 ???"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := expr.Parse(tt.src)
			if err == nil {
				t.Fatalf("expected parse error for %q", tt.src)
			}
		})
	}
}

func TestEvalComparisons(t *testing.T) {
	binds := expr.Bindings{
		"age":     "17",
		"count":   float64(5),
		"country": "de",
		"agree":   true,
	}

	tests := []struct {
		src  string
		want bool
	}{
		// numeric coercion: '17' parses on both sides
		{"{age} < 18", true},
		{"{age} >= 18", false},
		{"{age} = 17", true},
		{"{age} <> 17", false},
		{"{count} + 1 = 6", true},
		{"{count} - 5 = 0", true},
		// strict equality when one side is not numeric
		{"{country} = 'de'", true},
		{"{country} = 'fr'", false},
		{"{country} <> 'fr'", true},
		{"{agree} = true", true},
		// booleans
		{"{age} < 18 and {country} = 'de'", true},
		{"{age} > 18 or {country} = 'de'", true},
		{"not ({country} = 'de')", false},
		{"!({country} = 'fr')", true},
		// undefined operands collapse to false rather than raising
		{"{missing} = 'x'", false},
		{"{missing} <> 'x'", false},
		{"{missing} < 5", false},
		{"{missing} = 'x' or {country} = 'de'", true},
	}

	for _, tt := range tests {
		t.Run(tt.src, func(t *testing.T) {
			got := expr.EvalBool(mustParse(t, tt.src), binds)
			if got != tt.want {
				t.Fatalf("%q = %v, want %v", tt.src, got, tt.want)
			}
		})
	}
}

func TestEvalOperatorAliases(t *testing.T) {
	binds := expr.Bindings{"n": float64(3)}

	if !expr.EvalBool(mustParse(t, "{n} == 3"), binds) {
		t.Fatal("== should behave like =")
	}
	if !expr.EvalBool(mustParse(t, "{n} != 4"), binds) {
		t.Fatal("!= should behave like <>")
	}
}

func TestBuiltinAgeFunctions(t *testing.T) {
	binds := expr.Bindings{
		"date_of_birth": "2010-06-15",
		"camp.startAt":  "2026-07-01",
	}

	tests := []struct {
		src  string
		want bool
	}{
		{"isMinor({date_of_birth}, {camp.startAt})", true},
		{"isAdult({date_of_birth}, {camp.startAt})", false},
		{"age({date_of_birth}, {camp.startAt}) = 16", true},
		// day before the 16th birthday
		{"age({date_of_birth}, '2026-06-14') = 15", true},
		// garbage date does not blow up, it is just not an adult check anymore
		{"isAdult('not-a-date', {camp.startAt})", false},
	}

	for _, tt := range tests {
		t.Run(tt.src, func(t *testing.T) {
			got := expr.EvalBool(mustParse(t, tt.src), binds)
			if got != tt.want {
				t.Fatalf("%q = %v, want %v", tt.src, got, tt.want)
			}
		})
	}
}

func TestBuiltinIsWaitingList(t *testing.T) {
	tests := []struct {
		name  string
		binds expr.Bindings
		src   string
		want  bool
	}{
		{
			"scalar with places left",
			expr.Bindings{"camp.freePlaces": float64(3)},
			"isWaitingList({camp.freePlaces})",
			false,
		},
		{
			"scalar exhausted",
			expr.Bindings{"camp.freePlaces": float64(0)},
			"isWaitingList({camp.freePlaces})",
			true,
		},
		{
			"per-country exhausted bucket",
			expr.Bindings{"camp.freePlaces": map[string]any{"de": float64(0), "fr": float64(2)}, "country": "de"},
			"isWaitingList({camp.freePlaces}, {country})",
			true,
		},
		{
			"per-country open bucket",
			expr.Bindings{"camp.freePlaces": map[string]any{"de": float64(0), "fr": float64(2)}, "country": "fr"},
			"isWaitingList({camp.freePlaces}, {country})",
			false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := expr.EvalBool(mustParse(t, tt.src), tt.binds)
			if got != tt.want {
				t.Fatalf("%q = %v, want %v", tt.src, got, tt.want)
			}
		})
	}
}

func TestEvalValue(t *testing.T) {
	binds := expr.Bindings{"a": float64(2), "b": float64(40)}

	got := expr.Eval(mustParse(t, "{a} + {b}"), binds)
	if got != float64(42) {
		t.Fatalf("got %v, want 42", got)
	}

	// value of a missing reference is nil
	if v := expr.Eval(mustParse(t, "{nope}"), binds); v != nil {
		t.Fatalf("got %v, want nil", v)
	}
}
