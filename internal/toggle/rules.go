package toggle

import (
	"time"

	"github.com/lotas/perfdebug/internal/params"
	"github.com/lotas/perfdebug/internal/types"
)

// States maps each debug parameter to whether it is enabled.
type States map[string]bool

// StatesFrom reads the toggle states out of a parameter set.
func StatesFrom(set params.Set) States {
	s := make(States, len(types.DebugParameters))
	for _, p := range types.DebugParameters {
		s[p] = set.Has(p)
	}
	return s
}

// Resolve applies the dependencies between toggles: perfmattersoff forces
// the CSS and JS toggles off and locks them, and nocache is locked off
// while any perfmatters toggle is on. It returns the effective states and
// the locked toggles.
func Resolve(in States) (States, map[string]bool) {
	out := make(States, len(in))
	for k, v := range in {
		out[k] = v
	}
	disabled := make(map[string]bool)

	if out[types.ParamPerfmattersOff] {
		for _, p := range []string{types.ParamPerfmattersCSSOff, types.ParamPerfmattersJSOff} {
			out[p] = false
			disabled[p] = true
		}
	}
	if out[types.ParamPerfmattersOff] || out[types.ParamPerfmattersCSSOff] || out[types.ParamPerfmattersJSOff] {
		out[types.ParamNoCache] = false
		disabled[types.ParamNoCache] = true
	}
	return out, disabled
}

// Flip toggles name and resolves the dependencies. A locked toggle is
// left unchanged.
func Flip(in States, name string) States {
	_, disabled := Resolve(in)
	if disabled[name] {
		out, _ := Resolve(in)
		return out
	}
	next := make(States, len(in)+1)
	for k, v := range in {
		next[k] = v
	}
	next[name] = !next[name]
	out, _ := Resolve(next)
	return out
}

// Diff returns one operation per toggle that differs between before and
// after, in display order.
func Diff(before, after States, tab types.TabID, now time.Time) []Operation {
	var ops []Operation
	for _, p := range types.DebugParameters {
		if before[p] != after[p] {
			ops = append(ops, Operation{Parameter: p, Enabled: after[p], Tab: tab, EnqueuedAt: now})
		}
	}
	return ops
}
