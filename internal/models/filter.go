package models

import "time"

const (
	OpEq  = "="
	OpGte = ">="
	OpGt  = ">"
	OpLte = "<="
	OpLt  = "<"
)

// Condition is a single predicate on a remote column.
type Condition struct {
	Field string `json:"field"`
	Op    string `json:"op"`
	Value any    `json:"value"`
}

// Filter is a conjunction of conditions. An empty filter matches everything.
type Filter struct {
	Conditions []Condition `json:"conditions,omitempty"`
}

// WindowFilter selects records whose change field falls inside w.
func WindowFilter(field string, w Window) Filter {
	return Filter{Conditions: []Condition{
		{Field: field, Op: OpGte, Value: w.Start},
		{Field: field, Op: OpLt, Value: w.End},
	}}
}

func EqualsFilter(field string, value any) Filter {
	return Filter{Conditions: []Condition{{Field: field, Op: OpEq, Value: value}}}
}

func (f Filter) IsEmpty() bool {
	return len(f.Conditions) == 0
}

// Window returns the range encoded by a WindowFilter, if f is one.
func (f Filter) Window() (Window, bool) {
	if len(f.Conditions) != 2 {
		return Window{}, false
	}
	start, ok1 := f.Conditions[0].Value.(time.Time)
	end, ok2 := f.Conditions[1].Value.(time.Time)
	if !ok1 || !ok2 || f.Conditions[0].Op != OpGte || f.Conditions[1].Op != OpLt {
		return Window{}, false
	}
	return Window{Start: start, End: end}, true
}
