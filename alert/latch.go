package alert

import "sync"

// Latch deduplicates a condition: Trip reports true only on the
// transition into the condition. While the condition persists the latch
// stays set; it re-arms once the condition clears or Reset is called.
type Latch struct {
	mu      sync.Mutex
	tripped bool
}

func (l *Latch) Trip(condition bool) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !condition {
		l.tripped = false
		return false
	}
	if l.tripped {
		return false
	}
	l.tripped = true
	return true
}

func (l *Latch) Tripped() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.tripped
}

func (l *Latch) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.tripped = false
}
