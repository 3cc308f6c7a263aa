package cache

// IndexStats aggregates the entries of one logical index.
type IndexStats struct {
	GraphCount       int     `json:"graph_count"`
	WeightKB         int64   `json:"weight_kb"`
	WeightPercentage float64 `json:"weight_percentage"`
}

// Stats is a point-in-time view of the cache.
type Stats struct {
	LimitKB          int64                 `json:"limit_kb"`
	WeightKB         int64                 `json:"weight_kb"`
	WeightPercentage float64               `json:"weight_percentage"`
	CapacityReached  bool                  `json:"capacity_reached"`
	GraphCount       int                   `json:"graph_count"`
	PendingFrees     int                   `json:"pending_frees"`
	Indices          map[string]IndexStats `json:"indices"`
}

// WeightInKB returns the total weight of resident graphs.
func (m *Manager) WeightInKB() int64 {
	return m.cur.Load().weight()
}

// IndexWeightInKB returns the weight of the graphs belonging to indexName.
func (m *Manager) IndexWeightInKB(indexName string) int64 {
	var total int64
	for _, e := range m.cur.Load().snapshot() {
		if e.indexName == indexName {
			total += e.sizeKB
		}
	}
	return total
}

// IndexGraphCount returns the number of resident graphs of indexName.
func (m *Manager) IndexGraphCount(indexName string) int {
	n := 0
	for _, e := range m.cur.Load().snapshot() {
		if e.indexName == indexName {
			n++
		}
	}
	return n
}

// WeightAsPercentage returns the total weight relative to the limit.
// It is zero when no limit is configured.
func (m *Manager) WeightAsPercentage() float64 {
	c := m.cur.Load()
	return percentOf(c.weight(), c.settings.LimitKB)
}

// IndexWeightAsPercentage returns the weight of indexName relative to the limit.
func (m *Manager) IndexWeightAsPercentage(indexName string) float64 {
	return percentOf(m.IndexWeightInKB(indexName), m.cur.Load().settings.LimitKB)
}

// Stats walks the current cache contents.
func (m *Manager) Stats() Stats {
	c := m.cur.Load()
	entries := c.snapshot()

	s := Stats{
		LimitKB:         c.settings.LimitKB,
		CapacityReached: m.IsCapacityReached(),
		GraphCount:      len(entries),
		PendingFrees:    m.PendingFrees(),
		Indices:         make(map[string]IndexStats),
	}
	for _, e := range entries {
		s.WeightKB += e.sizeKB
		is := s.Indices[e.indexName]
		is.GraphCount++
		is.WeightKB += e.sizeKB
		s.Indices[e.indexName] = is
	}
	s.WeightPercentage = percentOf(s.WeightKB, s.LimitKB)
	for name, is := range s.Indices {
		is.WeightPercentage = percentOf(is.WeightKB, s.LimitKB)
		s.Indices[name] = is
	}
	return s
}

func percentOf(kb, limitKB int64) float64 {
	if limitKB <= 0 {
		return 0
	}
	return float64(kb) * 100 / float64(limitKB)
}
