// Package filters compiles the scoped property filter accepted by graphrt's
// stop operation (spec §4.6 "stop (optionally scoped by a property
// filter)") into a reusable boolean expression, evaluated once per
// candidate subgraph.
package filters

import (
	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/acdbrt/acdbrt/pkg/acdberr"
)

const component = "FILTERS"

// Property is the per-subgraph environment a compiled filter evaluates
// against: its id, owning module/instance, and any tag the caller wants to
// scope on.
type Property struct {
	SgID     uint32
	ModuleID uint32
	IID      uint32
	Tags     map[string]any
}

func (p Property) env() map[string]any {
	env := map[string]any{
		"sgId":     p.SgID,
		"moduleId": p.ModuleID,
		"iid":      p.IID,
	}
	for k, v := range p.Tags {
		env[k] = v
	}
	return env
}

// Filter is a compiled scoped-stop expression.
type Filter struct {
	prog *vm.Program
}

// Compile parses and compiles src as a boolean expression over a
// Property's fields (spec §4.6's stop-scope filter), grounded on the
// teacher's rule-expression compilation for job classification.
func Compile(src string) (*Filter, error) {
	prog, err := expr.Compile(src, expr.AsBool())
	if err != nil {
		return nil, acdberr.Wrap(component, acdberr.EBADPARAM, err)
	}
	return &Filter{prog: prog}, nil
}

// Match reports whether p satisfies the compiled filter.
func (f *Filter) Match(p Property) (bool, error) {
	out, err := expr.Run(f.prog, p.env())
	if err != nil {
		return false, acdberr.Wrap(component, acdberr.EFAILED, err)
	}
	return out.(bool), nil
}

// Select returns the subset of props that match f.
func (f *Filter) Select(props []Property) ([]Property, error) {
	out := make([]Property, 0, len(props))
	for _, p := range props {
		ok, err := f.Match(p)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, p)
		}
	}
	return out, nil
}
