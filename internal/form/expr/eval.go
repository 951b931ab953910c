package expr

import (
	"strconv"
	"strings"
	"time"
)

// Bindings resolves references during evaluation. Keys are the literal
// field or alias names (plus camp attributes under "camp."). A missing key
// resolves to nil, which makes boolean expressions false rather than
// raising.
type Bindings map[string]any

// Eval evaluates a compiled node. Evaluation never fails at runtime: type
// mismatches and missing values flow through as nil/false, matching how
// conditionally hidden fields behave in a half-filled form.
func Eval(n Node, b Bindings) any {
	if n == nil {
		return nil
	}
	return n.eval(b)
}

// EvalBool is Eval with the truthiness rule applied.
func EvalBool(n Node, b Bindings) bool {
	return Truthy(Eval(n, b))
}

func (n *identNode) eval(b Bindings) any {
	v, ok := b[n.name]
	if !ok {
		return nil
	}
	return v
}

func (n *literalNode) eval(Bindings) any {
	return n.val
}

func (n *unaryNode) eval(b Bindings) any {
	v := n.x.eval(b)

	switch n.op {
	case "not":
		return !Truthy(v)
	case "-":
		f, ok := toNumber(v)
		if !ok {
			return nil
		}
		return -f
	default:
		return nil
	}
}

func (n *binaryNode) eval(b Bindings) any {
	switch n.op {
	case "and":
		return Truthy(n.left.eval(b)) && Truthy(n.right.eval(b))
	case "or":
		return Truthy(n.left.eval(b)) || Truthy(n.right.eval(b))
	}

	l := n.left.eval(b)
	r := n.right.eval(b)

	switch n.op {
	case "=":
		return looseEqual(l, r)
	case "<>":
		if l == nil || r == nil {
			// undefined operands make comparisons false, both ways
			return false
		}
		return !looseEqual(l, r)
	case "<", "<=", ">", ">=":
		lf, lok := toNumber(l)
		rf, rok := toNumber(r)
		if !lok || !rok {
			return false
		}
		switch n.op {
		case "<":
			return lf < rf
		case "<=":
			return lf <= rf
		case ">":
			return lf > rf
		default:
			return lf >= rf
		}
	case "+":
		lf, lok := toNumber(l)
		rf, rok := toNumber(r)
		if lok && rok {
			return lf + rf
		}
		ls, lsok := l.(string)
		rs, rsok := r.(string)
		if lsok && rsok {
			return ls + rs
		}
		return nil
	case "-":
		lf, lok := toNumber(l)
		rf, rok := toNumber(r)
		if !lok || !rok {
			return nil
		}
		return lf - rf
	default:
		return nil
	}
}

func (n *callNode) eval(b Bindings) any {
	args := make([]any, len(n.args))
	for i, arg := range n.args {
		args[i] = arg.eval(b)
	}

	fn, ok := builtins[n.name]
	if !ok {
		// Parse rejects unknown names, this is unreachable in compiled forms.
		return nil
	}

	return fn(args)
}

// Truthy mirrors the form language's boolean coercion: false, nil, zero and
// the empty string are false, everything else is true.
func Truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	case float64:
		return t != 0
	case int:
		return t != 0
	case int64:
		return t != 0
	default:
		return true
	}
}

func looseEqual(l, r any) bool {
	if l == nil || r == nil {
		return false
	}

	if lf, ok := toNumber(l); ok {
		if rf, ok := toNumber(r); ok {
			return lf == rf
		}
	}

	lb, lok := l.(bool)
	rb, rok := r.(bool)
	if lok && rok {
		return lb == rb
	}

	return stringify(l) == stringify(r)
}

// toNumber coerces numbers and numeric strings, so '18' = 18 holds the way
// camp authors expect from loosely typed form values.
func toNumber(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return 0, false
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

func stringify(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case bool:
		if t {
			return "true"
		}
		return "false"
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return ""
	}
}

// --- builtin functions ---

type builtinFunc func(args []any) any

var builtins = map[string]builtinFunc{
	"age":           builtinAge,
	"isAdult":       builtinIsAdult,
	"isMinor":       builtinIsMinor,
	"isWaitingList": builtinIsWaitingList,
}

const adulthoodAge = 18

func builtinAge(args []any) any {
	if len(args) < 1 {
		return nil
	}

	dob, ok := toDate(args[0])
	if !ok {
		return nil
	}

	ref := time.Now().UTC()
	if len(args) >= 2 {
		if r, ok := toDate(args[1]); ok {
			ref = r
		}
	}

	return float64(yearsBetween(dob, ref))
}

func builtinIsAdult(args []any) any {
	a := builtinAge(args)
	if a == nil {
		return nil
	}
	return a.(float64) >= adulthoodAge
}

func builtinIsMinor(args []any) any {
	a := builtinAge(args)
	if a == nil {
		return nil
	}
	return a.(float64) < adulthoodAge
}

// isWaitingList(freePlaces, country) reports whether a new participant
// claim for the given country would land on the waiting list. freePlaces is
// either a number (national camps) or a country map.
func builtinIsWaitingList(args []any) any {
	if len(args) < 1 {
		return nil
	}

	switch free := args[0].(type) {
	case float64:
		return free <= 0
	case int:
		return free <= 0
	case map[string]any:
		if len(args) < 2 {
			return nil
		}
		country, ok := args[1].(string)
		if !ok {
			return nil
		}
		n, ok := toNumber(free[country])
		if !ok {
			return nil
		}
		return n <= 0
	case map[string]int:
		if len(args) < 2 {
			return nil
		}
		country, ok := args[1].(string)
		if !ok {
			return nil
		}
		return free[country] <= 0
	default:
		if n, ok := toNumber(args[0]); ok {
			return n <= 0
		}
		return nil
	}
}

func toDate(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case string:
		for _, layout := range []string{"2006-01-02", time.RFC3339} {
			if d, err := time.Parse(layout, t); err == nil {
				return d, true
			}
		}
		return time.Time{}, false
	default:
		return time.Time{}, false
	}
}

func yearsBetween(from, to time.Time) int {
	years := to.Year() - from.Year()

	// birthday not yet reached this year
	if to.Month() < from.Month() || (to.Month() == from.Month() && to.Day() < from.Day()) {
		years--
	}

	return years
}
