package worker

import (
	"github.com/spec-kit/ticket-relay/internal/events"
	"github.com/spec-kit/ticket-relay/internal/service"
)

// StartEventPipeline registers event subscribers and starts the queue consumer.
// Subscribers must be registered before the consumer starts.
func StartEventPipeline(queue *events.QueuedDispatcher, notificationService *service.NotificationService) {
	if notificationService != nil {
		notificationService.RegisterHandlers()
	}
	if queue != nil {
		queue.Start()
	}
}
