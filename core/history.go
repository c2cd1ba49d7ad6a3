package core

// recordHistory is the bounded ring of recently delivered or suppressed
// records, kept for operator diagnostics.
type recordHistory struct {
	entries []*Record
	max     int
}

func newRecordHistory(max int) *recordHistory {
	if max <= 0 {
		max = 1
	}
	return &recordHistory{max: max}
}

func (h *recordHistory) Append(rec *Record) {
	if h == nil || rec == nil {
		return
	}
	h.entries = append(h.entries, rec)
	if len(h.entries) > h.max {
		h.entries = h.entries[len(h.entries)-h.max:]
	}
}

func (h *recordHistory) Recent() []*Record {
	if h == nil {
		return nil
	}
	return append([]*Record(nil), h.entries...)
}
