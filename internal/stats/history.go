package stats

import "time"

// EntryType labels a history row.
type EntryType string

const (
	EntryFight   EntryType = "fight"
	EntryNormal  EntryType = "normal"
	EntryCleared EntryType = "cleared" // placeholder left by a log clear
)

// Entry is one row of the detection log.
type Entry struct {
	Time        time.Time `json:"time"`
	Type        EntryType `json:"type"`
	Confidence  int       `json:"confidence"`
	PeopleCount int       `json:"people_count"`
}

// History is a bounded most-recent-first log. Not safe for concurrent use.
type History struct {
	entries []Entry
	size    int
}

// NewHistory creates a history holding at most size entries.
func NewHistory(size int) *History {
	if size <= 0 {
		size = DefaultHistorySize
	}
	return &History{size: size, entries: make([]Entry, 0, size)}
}

// Add prepends e, dropping the oldest entry when full. A lone clear
// placeholder is replaced rather than kept.
func (h *History) Add(e Entry) {
	if len(h.entries) == 1 && h.entries[0].Type == EntryCleared {
		h.entries = h.entries[:0]
	}
	if len(h.entries) < h.size {
		h.entries = append(h.entries, Entry{})
	}
	copy(h.entries[1:], h.entries[:len(h.entries)-1])
	h.entries[0] = e
}

// Clear empties the log and leaves a single placeholder entry.
func (h *History) Clear(now time.Time) {
	h.entries = append(h.entries[:0], Entry{Time: now, Type: EntryCleared})
}

// Entries returns a copy, most recent first.
func (h *History) Entries() []Entry {
	out := make([]Entry, len(h.entries))
	copy(out, h.entries)
	return out
}

// Len returns the number of stored entries.
func (h *History) Len() int {
	return len(h.entries)
}
