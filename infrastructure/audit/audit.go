package audit

import (
	"context"
	"encoding/json"
	"strconv"

	"github.com/uptrace/bun"

	"curetrack/models"
)

// Entry describes one audited change. BatchID groups entries into a batch
// timeline and survives deletion of the batch itself.
type Entry struct {
	UserID     int64
	Action     string
	EntityType string
	EntityID   int64
	BatchID    int64
	Before     any
	After      any
}

// Service writes audit records inside the caller transaction.
type Service struct{}

func NewService() *Service {
	return &Service{}
}

// Write inserts e using tx, so the record commits or rolls back with the change.
func (s *Service) Write(ctx context.Context, tx bun.Tx, e Entry) error {
	if s == nil {
		return nil
	}
	beforeJSON, err := marshal(e.Before)
	if err != nil {
		return err
	}
	afterJSON, err := marshal(e.After)
	if err != nil {
		return err
	}
	row := &models.AuditLog{
		UserID:     e.UserID,
		Action:     e.Action,
		EntityType: e.EntityType,
		EntityID:   strconv.FormatInt(e.EntityID, 10),
		BeforeJSON: beforeJSON,
		AfterJSON:  afterJSON,
	}
	if e.BatchID > 0 {
		batchID := e.BatchID
		row.BatchID = &batchID
	}
	_, err = tx.NewInsert().Model(row).Exec(ctx)
	return err
}

// Event is an audit row rendered for a batch timeline.
type Event struct {
	ID         int64  `bun:"id" json:"id"`
	UserID     int64  `bun:"user_id" json:"userId"`
	Username   string `bun:"username" json:"username"`
	Action     string `bun:"action" json:"action"`
	EntityType string `bun:"entity_type" json:"entityType"`
	EntityID   string `bun:"entity_id" json:"entityId"`
	CreatedAt  string `bun:"created_at" json:"createdAt"`
}

// BatchEvents lists the audit trail of batchID oldest first.
func BatchEvents(ctx context.Context, tx bun.Tx, batchID int64) ([]Event, error) {
	events := make([]Event, 0)
	err := tx.NewRaw(`
SELECT al.id, al.user_id, COALESCE(u.username, '') AS username, al.action, al.entity_type, al.entity_id,
       strftime('%Y-%m-%dT%H:%M:%SZ', al.created_at) AS created_at
FROM audit_logs al
LEFT JOIN users u ON u.id = al.user_id
WHERE al.batch_id = ?
ORDER BY al.id ASC`, batchID).Scan(ctx, &events)
	return events, err
}

func marshal(v any) (string, error) {
	if v == nil {
		return "", nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
