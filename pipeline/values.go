package pipeline

// Values is an insertion-ordered key/value store. Middleware and guards
// put what they learn here (an authenticated user, a tenant) and later
// stages read it back through the typed accessors.
type Values struct {
	keys []string
	m    map[string]any
}

// NewValues returns an empty store.
func NewValues() *Values {
	return &Values{m: make(map[string]any)}
}

// Set stores v under key. Overwriting keeps the key's original position.
func (v *Values) Set(key string, val any) {
	if v.m == nil {
		v.m = make(map[string]any)
	}
	if _, ok := v.m[key]; !ok {
		v.keys = append(v.keys, key)
	}
	v.m[key] = val
}

// Get returns the raw value stored under key.
func (v *Values) Get(key string) (any, bool) {
	if v == nil || v.m == nil {
		return nil, false
	}
	val, ok := v.m[key]
	return val, ok
}

// Has reports whether key is present.
func (v *Values) Has(key string) bool {
	_, ok := v.Get(key)
	return ok
}

// Delete removes key.
func (v *Values) Delete(key string) {
	if v == nil || v.m == nil {
		return
	}
	if _, ok := v.m[key]; !ok {
		return
	}
	delete(v.m, key)
	for i, k := range v.keys {
		if k == key {
			v.keys = append(v.keys[:i], v.keys[i+1:]...)
			break
		}
	}
}

// Keys returns the keys in insertion order.
func (v *Values) Keys() []string {
	if v == nil {
		return nil
	}
	out := make([]string, len(v.keys))
	copy(out, v.keys)
	return out
}

// Len returns the number of stored keys.
func (v *Values) Len() int {
	if v == nil {
		return 0
	}
	return len(v.keys)
}

// Merge copies every entry of other into v, in other's order.
func (v *Values) Merge(other *Values) {
	if other == nil {
		return
	}
	for _, k := range other.keys {
		v.Set(k, other.m[k])
	}
}

// Lookup returns the value stored under key as T. The second result is
// false when the key is missing or holds a different type.
func Lookup[T any](v *Values, key string) (T, bool) {
	var zero T
	raw, ok := v.Get(key)
	if !ok {
		return zero, false
	}
	t, ok := raw.(T)
	if !ok {
		return zero, false
	}
	return t, true
}
