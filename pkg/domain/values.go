package domain

// Values is a string-keyed map used for session context, stage instance
// context and deliverables.
type Values map[string]any

// Clone returns a shallow copy. A nil receiver yields an empty map.
func (v Values) Clone() Values {
	out := make(Values, len(v))
	for k, val := range v {
		out[k] = val
	}
	return out
}

// Merge returns a new map holding v overlaid with partial.
// The merge is shallow and last-writer-wins per key; nested maps are replaced,
// not merged. Merging the same partial twice yields the same result.
func (v Values) Merge(partial Values) Values {
	out := v.Clone()
	for k, val := range partial {
		out[k] = val
	}
	return out
}

// appendUnique appends id to list unless already present.
// It reports whether the list changed.
func appendUnique(list []string, id string) ([]string, bool) {
	for _, existing := range list {
		if existing == id {
			return list, false
		}
	}
	return append(list, id), true
}

// Contains reports whether list holds id.
func Contains(list []string, id string) bool {
	for _, existing := range list {
		if existing == id {
			return true
		}
	}
	return false
}
