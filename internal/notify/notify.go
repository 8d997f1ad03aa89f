package notify

import (
	"context"
	"log"

	"upkeep/internal/domain"
)

// Sender delivers scheduling notifications. Concrete providers (email, SMS)
// live outside this repo; the engine only depends on this interface.
type Sender interface {
	ExecutionScheduled(ctx context.Context, rwo domain.RecurringWorkOrder, ex domain.Execution) error
	WorkOrderCreated(ctx context.Context, wo domain.WorkOrder) error
}

// LogSender writes notifications to the process log. It is the default
// sender and the stand-in used by tests.
type LogSender struct {
	Logger *log.Logger
}

func (s LogSender) logger() *log.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return log.Default()
}

func (s LogSender) ExecutionScheduled(_ context.Context, rwo domain.RecurringWorkOrder, ex domain.Execution) error {
	s.logger().Printf("notify: execution #%d of %s scheduled for %s (client %s)", ex.ExecutionNumber, rwo.Number, ex.ScheduledDay, rwo.ClientID)
	return nil
}

func (s LogSender) WorkOrderCreated(_ context.Context, wo domain.WorkOrder) error {
	s.logger().Printf("notify: work order %s created with status %s (client %s)", wo.Number, wo.Status, wo.ClientID)
	return nil
}

// Discard drops all notifications.
type Discard struct{}

func (Discard) ExecutionScheduled(context.Context, domain.RecurringWorkOrder, domain.Execution) error {
	return nil
}

func (Discard) WorkOrderCreated(context.Context, domain.WorkOrder) error {
	return nil
}
