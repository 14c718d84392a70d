package alerts

// LegacyPlaceholder is the single input name used by bound-derived
// expressions such as "input1 >= 10 && input1 <= 20".
const LegacyPlaceholder = "input1"

// Binding is one named input value.
type Binding struct {
	Name  string
	Value float64
}

// Bindings is an ordered set of named input values. It is passed by value;
// With returns a new set and never mutates the receiver.
type Bindings []Binding

// Get returns the value bound to name.
func (b Bindings) Get(name string) (float64, bool) {
	for _, kv := range b {
		if kv.Name == name {
			return kv.Value, true
		}
	}
	return 0, false
}

// Has reports whether name is bound.
func (b Bindings) Has(name string) bool {
	_, ok := b.Get(name)
	return ok
}

// With returns a copy of b with name bound to value, replacing any existing
// binding of the same name in place.
func (b Bindings) With(name string, value float64) Bindings {
	out := make(Bindings, len(b), len(b)+1)
	copy(out, b)
	for i := range out {
		if out[i].Name == name {
			out[i].Value = value
			return out
		}
	}
	return append(out, Binding{Name: name, Value: value})
}

// Names returns the bound names in binding order.
func (b Bindings) Names() []string {
	names := make([]string, len(b))
	for i, kv := range b {
		names[i] = kv.Name
	}
	return names
}

// Bind produces the inputs a predicate needs from a single parameter value.
//
// The value is bound under the parameter's own name when the expression
// requires it, otherwise under LegacyPlaceholder. When neither name is
// required the value is still bound under LegacyPlaceholder. Required names
// left unbound are returned as missing, in the order they were required.
func Bind(required []string, parameterName string, value float64) (Bindings, []string) {
	name := LegacyPlaceholder
	if parameterName != "" && contains(required, parameterName) {
		name = parameterName
	}
	bindings := Bindings{{Name: name, Value: value}}

	var missing []string
	for _, name := range required {
		if !bindings.Has(name) {
			missing = append(missing, name)
		}
	}

	return bindings, missing
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
