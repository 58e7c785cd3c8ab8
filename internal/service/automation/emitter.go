package automation

import (
	"context"
	"log"
	"time"

	"omnicrm-backend/internal/queue"
)

// AsyncEmitter runs automation triggering on the shared worker pool, detached
// from whatever request produced the event. Ingestion hands events here so
// the provider-facing response never waits on, or fails because of, webhook
// dispatch.
type AsyncEmitter struct {
	service *Service
	queue   *queue.RequestQueueManager
	timeout time.Duration
}

func NewAsyncEmitter(service *Service, q *queue.RequestQueueManager) *AsyncEmitter {
	return &AsyncEmitter{
		service: service,
		queue:   q,
		timeout: 60 * time.Second,
	}
}

func (e *AsyncEmitter) Emit(tenantID, triggerEvent string, payload map[string]interface{}) {
	e.queue.EnqueueJob(queue.Job{
		Fn: func() error {
			ctx, cancel := context.WithTimeout(context.Background(), e.timeout)
			defer cancel()

			summary, err := e.service.Trigger(ctx, tenantID, triggerEvent, payload)
			if err != nil {
				log.Printf("automation: async trigger %s for tenant %s failed: %v", triggerEvent, tenantID, err)
				return nil
			}
			if summary.Failed > 0 {
				log.Printf("automation: %s for tenant %s: %d/%d dispatches failed", triggerEvent, tenantID, summary.Failed, summary.Total)
			}
			return nil
		},
	})
}
