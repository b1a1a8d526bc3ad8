package ledger

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// AUDIT LOG - Tracks who did what when, in the same write-set as the change
// =============================================================================

const auditKind = "audit"

// AuditAction names the transaction function that produced an entry.
type AuditAction string

// AuditEntry records who did what when.
type AuditEntry struct {
	ID      string            `json:"id"`
	At      time.Time         `json:"at"`
	Actor   string            `json:"actor"`
	Action  AuditAction       `json:"action"`
	Subject string            `json:"subject"`
	Detail  map[string]string `json:"detail,omitempty"`
}

// AuditFilter narrows QueryAudit. Zero fields match everything.
type AuditFilter struct {
	Actor   string
	Actions []AuditAction
	Since   time.Time
	// Limit keeps only the newest Limit entries when positive.
	Limit int
}

func (f AuditFilter) matches(e AuditEntry) bool {
	if f.Actor != "" && e.Actor != f.Actor {
		return false
	}
	if len(f.Actions) > 0 && !slices.Contains(f.Actions, e.Action) {
		return false
	}
	if !f.Since.IsZero() && e.At.Before(f.Since) {
		return false
	}
	return true
}

// AppendAudit writes entry through s, assigning an id when it has none.
// Entries are keyed by time, then by arrival among entries sharing a
// timestamp, so a scan returns them oldest first.
func AppendAudit(ctx context.Context, s Store, entry AuditEntry) (AuditEntry, error) {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	value, err := Marshal(entry)
	if err != nil {
		return AuditEntry{}, err
	}
	at := fmt.Sprintf("%020d", entry.At.UnixNano())
	same, err := s.Scan(ctx, CompositeKey(auditKind, at))
	if err != nil {
		return AuditEntry{}, fmt.Errorf("ledger.AppendAudit: %w", err)
	}
	key := CompositeKey(auditKind, at, fmt.Sprintf("%06d", len(same)), entry.ID)
	if err := s.Put(ctx, key, value); err != nil {
		return AuditEntry{}, fmt.Errorf("ledger.AppendAudit: %w", err)
	}
	return entry, nil
}

// QueryAudit returns matching entries, oldest first.
func QueryAudit(ctx context.Context, s Store, filter AuditFilter) ([]AuditEntry, error) {
	kvs, err := s.Scan(ctx, CompositeKey(auditKind))
	if err != nil {
		return nil, fmt.Errorf("ledger.QueryAudit: %w", err)
	}
	entries := make([]AuditEntry, 0, len(kvs))
	for _, kv := range kvs {
		var e AuditEntry
		if err := Unmarshal(kv.Value, &e); err != nil {
			return nil, err
		}
		if filter.matches(e) {
			entries = append(entries, e)
		}
	}
	if filter.Limit > 0 && len(entries) > filter.Limit {
		entries = entries[len(entries)-filter.Limit:]
	}
	return entries, nil
}
