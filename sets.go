package chatwire

// stringSet is an unsynchronized set of identifiers. Every instance lives
// inside coordinator state and is guarded by the coordinator mutex.
type stringSet map[string]struct{}

func newStringSet() stringSet {
	return make(stringSet)
}

func (s stringSet) add(v string) {
	s[v] = struct{}{}
}

func (s stringSet) remove(v string) {
	delete(s, v)
}

func (s stringSet) has(v string) bool {
	_, ok := s[v]
	return ok
}

func (s stringSet) values() []string {
	result := make([]string, 0, len(s))
	for v := range s {
		result = append(result, v)
	}
	return result
}
