package server

import (
	"encoding/json"

	"upkeep/internal/domain"
	"upkeep/internal/engine"
)

// Request payloads

type CreateRecurringRequest struct {
	ID                *string  `json:"id,omitempty"`
	ClientID          string   `json:"clientId"`
	ClientName        *string  `json:"clientName,omitempty"`
	LocationID        string   `json:"locationId"`
	LocationName      *string  `json:"locationName,omitempty"`
	Title             string   `json:"title"`
	Description       *string  `json:"description,omitempty"`
	Category          string   `json:"category"`
	Priority          string   `json:"priority,omitempty" enum:"low,medium,high,urgent"`
	Budget            *float64 `json:"budget,omitempty"`
	SubcontractorID   *string  `json:"subcontractorId,omitempty"`
	SubcontractorName *string  `json:"subcontractorName,omitempty"`
	ServiceDates      []string `json:"serviceDates"`
}

type SetRecurringStatusRequest struct {
	Status string `json:"status" enum:"active,paused,archived"`
}

type AppendServiceDatesRequest struct {
	ServiceDates []string `json:"serviceDates"`
}

type CreateExecutionsRequest struct {
	RecurringWorkOrderID string `json:"recurringWorkOrderId"`
}

type GenerateWorkOrderRequest struct {
	ExecutionID string `json:"executionId"`
}

// Response payloads

type RecurringResponse struct {
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
	ServiceDates      []string `json:"serviceDates"`
	NextServiceAt     *string  `json:"nextServiceAt,omitempty" format:"date-time"`
	CreatedAt         string   `json:"createdAt" format:"date-time"`
	UpdatedAt         string   `json:"updatedAt" format:"date-time"`
}

type ExecutionResponse struct {
	ID                   string  `json:"id"`
	RecurringWorkOrderID string  `json:"recurringWorkOrderId"`
	ExecutionNumber      int     `json:"executionNumber"`
	ScheduledAt          string  `json:"scheduledAt" format:"date-time"`
	ScheduledDay         string  `json:"scheduledDay"`
	Status               string  `json:"status" enum:"pending,materialized"`
	EmailSent            bool    `json:"emailSent"`
	WorkOrderID          *string `json:"workOrderId,omitempty"`
	WorkOrderNumber      *string `json:"workOrderNumber,omitempty"`
	CreatedAt            string  `json:"createdAt" format:"date-time"`
	UpdatedAt            string  `json:"updatedAt" format:"date-time"`
}

type WorkOrderResponse struct {
	ID                   string   `json:"id"`
	Number               string   `json:"number"`
	ClientID             string   `json:"clientId"`
	ClientName           string   `json:"clientName,omitempty"`
	LocationID           string   `json:"locationId"`
	LocationName         string   `json:"locationName,omitempty"`
	Title                string   `json:"title"`
	Description          string   `json:"description,omitempty"`
	Category             string   `json:"category"`
	Priority             string   `json:"priority" enum:"low,medium,high,urgent"`
	Budget               *float64 `json:"budget,omitempty"`
	Status               string   `json:"status" enum:"approved,assigned"`
	AssignedTo           *string  `json:"assignedTo,omitempty"`
	AssignedToName       *string  `json:"assignedToName,omitempty"`
	AssignedAt           *string  `json:"assignedAt,omitempty" format:"date-time"`
	RecurringWorkOrderID string   `json:"recurringWorkOrderId"`
	ExecutionID          string   `json:"executionId"`
	CreatedAt            string   `json:"createdAt" format:"date-time"`
	UpdatedAt            string   `json:"updatedAt" format:"date-time"`
}

type BatchErrorResponse struct {
	Index int    `json:"index"`
	Error string `json:"error"`
}

type BatchResults struct {
	Total   int                  `json:"total"`
	Created int                  `json:"created"`
	Skipped int                  `json:"skipped"`
	Errors  []BatchErrorResponse `json:"errors"`
}

type CreateExecutionsResponse struct {
	Success bool         `json:"success"`
	Message string       `json:"message"`
	Results BatchResults `json:"results"`
}

type GenerateWorkOrderResponse struct {
	Success         bool   `json:"success"`
	Message         string `json:"message"`
	WorkOrderID     string `json:"workOrderId"`
	WorkOrderNumber string `json:"workOrderNumber"`
}

type CronItemResponse struct {
	RecurringWorkOrderID string `json:"recurringWorkOrderId"`
	Status               string `json:"status" enum:"ok,error"`
	Message              string `json:"message"`
}

type CronResponse struct {
	Message string             `json:"message"`
	Results []CronItemResponse `json:"results"`
}

// Conversion helpers

func recurringResponse(r domain.RecurringWorkOrder) RecurringResponse {
	return RecurringResponse{
		ID:                r.ID,
		Number:            r.Number,
		ClientID:          r.ClientID,
		ClientName:        r.ClientName,
		LocationID:        r.LocationID,
		LocationName:      r.LocationName,
		Title:             r.Title,
		Description:       r.Description,
		Category:          r.Category,
		Priority:          r.Priority,
		Budget:            r.Budget,
		SubcontractorID:   r.SubcontractorID,
		SubcontractorName: r.SubcontractorName,
		Status:            r.Status,
		ServiceDates:      decodeStringSlice(r.ServiceDatesJSON),
		NextServiceAt:     r.NextServiceAt,
		CreatedAt:         r.CreatedAt,
		UpdatedAt:         r.UpdatedAt,
	}
}

func executionResponse(ex domain.Execution) ExecutionResponse {
	return ExecutionResponse{
		ID:                   ex.ID,
		RecurringWorkOrderID: ex.RecurringID,
		ExecutionNumber:      ex.ExecutionNumber,
		ScheduledAt:          ex.ScheduledAt,
		ScheduledDay:         ex.ScheduledDay,
		Status:               ex.Status,
		EmailSent:            ex.EmailSent,
		WorkOrderID:          ex.WorkOrderID,
		WorkOrderNumber:      ex.WorkOrderNumber,
		CreatedAt:            ex.CreatedAt,
		UpdatedAt:            ex.UpdatedAt,
	}
}

func workOrderResponse(w domain.WorkOrder) WorkOrderResponse {
	return WorkOrderResponse{
		ID:                   w.ID,
		Number:               w.Number,
		ClientID:             w.ClientID,
		ClientName:           w.ClientName,
		LocationID:           w.LocationID,
		LocationName:         w.LocationName,
		Title:                w.Title,
		Description:          w.Description,
		Category:             w.Category,
		Priority:             w.Priority,
		Budget:               w.Budget,
		Status:               w.Status,
		AssignedTo:           w.AssignedTo,
		AssignedToName:       w.AssignedToName,
		AssignedAt:           w.AssignedAt,
		RecurringWorkOrderID: w.RecurringID,
		ExecutionID:          w.ExecutionID,
		CreatedAt:            w.CreatedAt,
		UpdatedAt:            w.UpdatedAt,
	}
}

func batchResults(r engine.ExecutionBatchResult) BatchResults {
	errs := make([]BatchErrorResponse, 0, len(r.Errors))
	for _, e := range r.Errors {
		errs = append(errs, BatchErrorResponse(e))
	}
	return BatchResults{
		Total:   r.Total,
		Created: r.Created,
		Skipped: r.Skipped,
		Errors:  errs,
	}
}

func mapRecurring(items []domain.RecurringWorkOrder) []RecurringResponse {
	res := make([]RecurringResponse, 0, len(items))
	for _, it := range items {
		res = append(res, recurringResponse(it))
	}
	return res
}

func mapExecutions(items []domain.Execution) []ExecutionResponse {
	res := make([]ExecutionResponse, 0, len(items))
	for _, it := range items {
		res = append(res, executionResponse(it))
	}
	return res
}

func mapWorkOrders(items []domain.WorkOrder) []WorkOrderResponse {
	res := make([]WorkOrderResponse, 0, len(items))
	for _, it := range items {
		res = append(res, workOrderResponse(it))
	}
	return res
}

// JSON helpers

func decodeStringSlice(raw string) []string {
	if raw == "" {
		return []string{}
	}
	var arr []string
	if err := json.Unmarshal([]byte(raw), &arr); err != nil {
		return []string{}
	}
	return arr
}

func stringOrEmpty(in *string) string {
	if in == nil {
		return ""
	}
	return *in
}
