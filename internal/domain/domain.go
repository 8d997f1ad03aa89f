package domain

// RecurringWorkOrder is a template for scheduled maintenance work. Service
// dates are precomputed and stored as an ordered JSON array of RFC3339
// timestamps; next_service_at holds the earliest upcoming date and is
// advanced past each day the cron sweep processes, so the due query stays
// indexable.
type RecurringWorkOrder struct {
	ID                string   `json:"id"`
	Number            string   `json:"number"`
	ClientID          string   `json:"clientId"`
	ClientName        string   `json:"clientName,omitempty"`
	LocationID        string   `json:"locationId"`
	LocationName      string   `json:"locationName,omitempty"`
	Title             string   `json:"title"`
	Description       string   `json:"description,omitempty"`
	Category          string   `json:"category"`
	Priority          string   `json:"priority" enum:"low,medium,high,urgent"`
	Budget            *float64 `json:"budget,omitempty"`
	SubcontractorID   *string  `json:"subcontractorId,omitempty"`
	SubcontractorName *string  `json:"subcontractorName,omitempty"`
	Status            string   `json:"status" enum:"active,paused,archived"`
	ServiceDatesJSON  string   `json:"-"`
	NextServiceAt     *string  `json:"nextServiceAt,omitempty" format:"date-time"`
	CreatedAt         string   `json:"createdAt" format:"date-time"`
	UpdatedAt         string   `json:"updatedAt" format:"date-time"`
}

// Execution is one scheduled occurrence of a recurring work order. At most
// one execution exists per (recurring_id, scheduled_day); scheduled_day is
// the calendar-date dedup key in the configured time zone.
type Execution struct {
	ID              string  `json:"id"`
	RecurringID     string  `json:"recurringWorkOrderId"`
	ExecutionNumber int     `json:"executionNumber"`
	ScheduledAt     string  `json:"scheduledAt" format:"date-time"`
	ScheduledDay    string  `json:"scheduledDay"`
	Status          string  `json:"status" enum:"pending,materialized"`
	EmailSent       bool    `json:"emailSent"`
	WorkOrderID     *string `json:"workOrderId,omitempty"`
	WorkOrderNumber *string `json:"workOrderNumber,omitempty"`
	CreatedAt       string  `json:"createdAt" format:"date-time"`
	UpdatedAt       string  `json:"updatedAt" format:"date-time"`
}

// WorkOrder is a concrete dispatchable job materialized from exactly one
// execution. Template fields are copied from the recurring definition at
// generation time.
type WorkOrder struct {
	ID             string   `json:"id"`
	Number         string   `json:"number"`
	ClientID       string   `json:"clientId"`
	ClientName     string   `json:"clientName,omitempty"`
	LocationID     string   `json:"locationId"`
	LocationName   string   `json:"locationName,omitempty"`
	Title          string   `json:"title"`
	Description    string   `json:"description,omitempty"`
	Category       string   `json:"category"`
	Priority       string   `json:"priority" enum:"low,medium,high,urgent"`
	Budget         *float64 `json:"budget,omitempty"`
	Status         string   `json:"status" enum:"approved,assigned"`
	AssignedTo     *string  `json:"assignedTo,omitempty"`
	AssignedToName *string  `json:"assignedToName,omitempty"`
	AssignedAt     *string  `json:"assignedAt,omitempty" format:"date-time"`
	RecurringID    string   `json:"recurringWorkOrderId"`
	ExecutionID    string   `json:"executionId"`
	CreatedAt      string   `json:"createdAt" format:"date-time"`
	UpdatedAt      string   `json:"updatedAt" format:"date-time"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	EntityKind string `json:"entityKind"`
	EntityID   string `json:"entityId,omitempty"`
	ActorID    string `json:"actorId"`
	Payload    string `json:"payloadJson"`
}
