package metrics

// Snapshot returns a copy of all counters keyed by name.
func (r *Registry) Snapshot() map[string]int64 {
	if r == nil {
		return map[string]int64{}
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]int64, len(r.counters))
	for key, c := range r.counters {
		out[string(key)] = c.Load()
	}
	return out
}
