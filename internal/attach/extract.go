package attach

import "github.com/HerbHall/rebootguard/internal/classify"

// NoArg marks an ArgRef that reads a constant instead of an argument.
const NoArg = -1

// ArgRef locates one request attribute in the raw call arguments.
type ArgRef struct {
	// Index is the argument position, or NoArg to use Const.
	Index int
	// Const is the value used when Index is NoArg.
	Const any
	// Match, when set, turns the referenced value into a bool that is true
	// only if the value equals Match. Used for mode integers such as a
	// halt mode where 1 means reboot.
	Match any
}

// Arg references the argument at position i.
func Arg(i int) ArgRef { return ArgRef{Index: i} }

// ArgEquals references the argument at position i and compares it to v.
func ArgEquals(i int, v any) ArgRef { return ArgRef{Index: i, Match: v} }

// Const references a fixed value.
func Const(v any) ArgRef { return ArgRef{Index: NoArg, Const: v} }

// unset reports whether r reads nothing: no argument and no constant.
func (r ArgRef) unset() bool { return r.Index == NoArg && r.Const == nil }

func (r ArgRef) value(args []any) any {
	if r.Index == NoArg {
		return r.Const
	}
	if r.Index < 0 || r.Index >= len(args) {
		return nil
	}
	return args[r.Index]
}

func (r ArgRef) boolValue(args []any) bool {
	v := r.value(args)
	if r.Match != nil {
		return equalScalar(v, r.Match)
	}
	b, ok := v.(bool)
	return ok && b
}

func (r ArgRef) stringValue(args []any) *string {
	switch s := r.value(args).(type) {
	case string:
		return &s
	case *string:
		if s == nil {
			return nil
		}
		c := *s
		return &c
	default:
		return nil
	}
}

// equalScalar compares comparable scalars, treating all integer kinds
// as one so configuration values decoded as int match host int32 args.
func equalScalar(a, b any) bool {
	ai, aok := toInt64(a)
	bi, bok := toInt64(b)
	if aok && bok {
		return ai == bi
	}
	switch av := a.(type) {
	case string:
		bv, ok := b.(string)
		return ok && av == bv
	case bool:
		bv, ok := b.(bool)
		return ok && av == bv
	}
	return false
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int8:
		return int64(n), true
	case int16:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case uint8:
		return int64(n), true
	case uint16:
		return int64(n), true
	case uint32:
		return int64(n), true
	}
	return 0, false
}

// ArgMap is a data-driven Extractor. Missing or mistyped arguments
// produce zero values, which classify as pass-through.
type ArgMap struct {
	Reboot  ArgRef
	Reason  ArgRef
	Confirm ArgRef
}

// Extract implements Extractor.
func (m ArgMap) Extract(args []any) classify.Request {
	return classify.Request{
		IsReboot: m.Reboot.boolValue(args),
		Reason:   m.Reason.stringValue(args),
		Confirm:  m.Confirm.boolValue(args),
	}
}

// ExtractorFunc adapts a function to the Extractor interface.
type ExtractorFunc func(args []any) classify.Request

// Extract calls f(args).
func (f ExtractorFunc) Extract(args []any) classify.Request { return f(args) }
