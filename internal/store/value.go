package store

// ValueKind discriminates the attribute shapes the portal persists.
// The managed store is attribute-typed; the three kinds below are the
// only shapes the user and attendance records need.
type ValueKind int

const (
	KindString ValueKind = iota
	KindNumber
	KindStringList
)

// Value is a single typed attribute.
type Value struct {
	Kind ValueKind `json:"k"`
	Str  string    `json:"s,omitempty"`
	List []string  `json:"l,omitempty"`
}

// String builds a scalar string attribute.
func String(s string) Value {
	return Value{Kind: KindString, Str: s}
}

// Number builds a numeric attribute, kept as its decimal string form.
func Number(s string) Value {
	return Value{Kind: KindNumber, Str: s}
}

// StringList builds a list-of-strings attribute.
func StringList(ss []string) Value {
	return Value{Kind: KindStringList, List: ss}
}

// Item is one stored record: attribute name to typed value.
type Item map[string]Value

// Scalar returns the scalar form of an attribute. Numeric attributes
// come back as their decimal string; absent or list attributes as "".
func (i Item) Scalar(name string) string {
	v, ok := i[name]
	if !ok || v.Kind == KindStringList {
		return ""
	}
	return v.Str
}

// StringList returns a list attribute, nil when absent or scalar.
func (i Item) StringList(name string) []string {
	v, ok := i[name]
	if !ok || v.Kind != KindStringList {
		return nil
	}
	return v.List
}

// Clone deep-copies an item so callers never alias stored state.
func (i Item) Clone() Item {
	if i == nil {
		return nil
	}
	out := make(Item, len(i))
	for k, v := range i {
		if v.List != nil {
			cp := make([]string, len(v.List))
			copy(cp, v.List)
			v.List = cp
		}
		out[k] = v
	}
	return out
}
