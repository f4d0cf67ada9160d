package docsync

// Stats is a read-only snapshot of the Store's runtime counters, handy
// for a host application's status display.
type Stats struct {
	CacheEntries int
}

// Stats reports the current state of the Store's internal caches.
func (s *Store) Stats() Stats {
	return Stats{CacheEntries: s.cache.Len()}
}
