package audit

import (
	"context"
	"time"

	"omnicrm-backend/internal/database"
	"omnicrm-backend/internal/model"

	"github.com/google/uuid"
)

type DynamoRecorder struct {
	db  *database.Database
	now func() time.Time
}

func NewDynamoRecorder(db *database.Database) *DynamoRecorder {
	return &DynamoRecorder{db: db, now: time.Now}
}

func (r *DynamoRecorder) Record(ctx context.Context, event Event) error {
	if event.EventID == "" {
		event.EventID = uuid.NewString()
	}
	if event.At.IsZero() {
		event.At = r.now().UTC()
	}
	event.PK = model.TenantScopedPK(event.TenantID, event.EventID)
	return r.db.Client.PutItem(ctx, model.AuditEventsTable, event)
}
