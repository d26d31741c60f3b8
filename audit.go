package permit

import (
	"context"
	"sort"
	"sync"
	"time"
)

// AuditEntry records a decision worth keeping: every super-admin bypass, and
// every decision when decision auditing is enabled.
type AuditEntry struct {
	ID          string    `json:"id"`
	TraceID     string    `json:"trace_id,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
	PrincipalID int64     `json:"principal_id"`
	Capability  string    `json:"capability"`
	Allowed     bool      `json:"allowed"`
	Bypassed    bool      `json:"bypassed"`
	MatchedBy   string    `json:"matched_by,omitempty"`
	Reason      string    `json:"reason,omitempty"`
}

// AuditFilter for querying audit logs
type AuditFilter struct {
	PrincipalID  int64
	Capability   string
	BypassedOnly bool
	StartTime    time.Time
	EndTime      time.Time
	Limit        int
}

// AuditStore persists audit entries.
type AuditStore interface {
	LogDecision(ctx context.Context, entry *AuditEntry) error
	GetAccessLog(ctx context.Context, filter AuditFilter) ([]*AuditEntry, error)
}

// Matches reports whether e passes filter f (Limit is ignored).
func (f AuditFilter) Matches(e *AuditEntry) bool {
	if f.PrincipalID != 0 && e.PrincipalID != f.PrincipalID {
		return false
	}
	if f.Capability != "" && e.Capability != f.Capability {
		return false
	}
	if f.BypassedOnly && !e.Bypassed {
		return false
	}
	if !f.StartTime.IsZero() && e.Timestamp.Before(f.StartTime) {
		return false
	}
	if !f.EndTime.IsZero() && e.Timestamp.After(f.EndTime) {
		return false
	}
	return true
}

type MemoryAuditStore struct {
	mu      sync.RWMutex
	entries []*AuditEntry
}

func NewMemoryAuditStore() *MemoryAuditStore {
	return &MemoryAuditStore{entries: make([]*AuditEntry, 0)}
}

func (s *MemoryAuditStore) LogDecision(ctx context.Context, entry *AuditEntry) error {
	dup := *entry
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, &dup)
	return nil
}

func (s *MemoryAuditStore) GetAccessLog(ctx context.Context, filter AuditFilter) ([]*AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]*AuditEntry, 0)
	for _, e := range s.entries {
		if !filter.Matches(e) {
			continue
		}
		dup := *e
		result = append(result, &dup)
	}
	sort.SliceStable(result, func(i, j int) bool { return result[i].Timestamp.Before(result[j].Timestamp) })
	if filter.Limit > 0 && len(result) > filter.Limit {
		result = result[:filter.Limit]
	}
	return result, nil
}
