package scheduler

import "time"

func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	enabled := s.cfg.Enabled
	tz := s.cfg.Timezone
	c := s.c
	loc := s.loc
	jobs := make([]JobInfo, 0, len(s.defs))
	for _, d := range s.defs {
		it := JobInfo{Name: d.name, Spec: d.raw, Timeout: d.timeout, Running: d.state.isRunning()}
		if c != nil && d.entryID != 0 {
			e := c.Entry(d.entryID)
			it.Next = e.Next
			it.Prev = e.Prev
		}
		jobs = append(jobs, it)
	}
	s.mu.Unlock()

	if loc == nil {
		loc = time.Local
	}
	if tz == "" {
		tz = loc.String()
	}

	s.hmu.Lock()
	hist := make([]HistoryItem, len(s.history))
	copy(hist, s.history)
	s.hmu.Unlock()

	return Snapshot{
		Enabled:  enabled,
		Running:  c != nil,
		Timezone: tz,
		Jobs:     jobs,
		History:  hist,
	}
}
