package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"upkeep/internal/engine"
	"upkeep/internal/repo"
)

func registerRecurring(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-recurring-work-order",
		Method:        http.MethodPost,
		Path:          "/recurring-work-orders",
		Summary:       "Create recurring work order",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnauthorized,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body CreateRecurringRequest `json:"body"`
	}) (*struct {
		Body RecurringResponse `json:"body"`
	}, error) {
		if input.Body.Title == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "title is required", nil)
		}
		if input.Body.ClientID == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "clientId is required", nil)
		}
		opts := engine.RecurringCreateOptions{
			ClientID:     input.Body.ClientID,
			ClientName:   stringOrEmpty(input.Body.ClientName),
			LocationID:   input.Body.LocationID,
			LocationName: stringOrEmpty(input.Body.LocationName),
			Title:        input.Body.Title,
			Description:  stringOrEmpty(input.Body.Description),
			Category:     input.Body.Category,
			Priority:     input.Body.Priority,
			Budget:       input.Body.Budget,
			ServiceDates: input.Body.ServiceDates,
			ActorID:      actorFromContext(ctx),
		}
		if input.Body.ID != nil {
			opts.ID = *input.Body.ID
		}
		if input.Body.SubcontractorID != nil {
			opts.SubcontractorID = *input.Body.SubcontractorID
		}
		if input.Body.SubcontractorName != nil {
			opts.SubcontractorName = *input.Body.SubcontractorName
		}
		rwo, err := e.CreateRecurringWorkOrder(ctx, opts)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body RecurringResponse `json:"body"`
		}{Body: recurringResponse(rwo)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-recurring-work-orders",
		Method:      http.MethodGet,
		Path:        "/recurring-work-orders",
		Summary:     "List recurring work orders",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		Status   string `query:"status" enum:"active,paused,archived" required:"false"`
		ClientID string `query:"clientId" required:"false"`
		Limit    int    `query:"limit" required:"false"`
	}) (*struct {
		Body []RecurringResponse `json:"body"`
	}, error) {
		items, err := e.Repo.ListRecurringWorkOrders(ctx, repo.RecurringFilters{
			Status:   input.Status,
			ClientID: input.ClientID,
			Limit:    input.Limit,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []RecurringResponse `json:"body"`
		}{Body: mapRecurring(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-recurring-work-order",
		Method:      http.MethodGet,
		Path:        "/recurring-work-orders/{id}",
		Summary:     "Get recurring work order",
		Errors:      []int{http.StatusNotFound, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body RecurringResponse `json:"body"`
	}, error) {
		rwo, err := e.Repo.GetRecurringWorkOrder(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body RecurringResponse `json:"body"`
		}{Body: recurringResponse(rwo)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-recurring-work-order-status",
		Method:      http.MethodPatch,
		Path:        "/recurring-work-orders/{id}/status",
		Summary:     "Pause, resume or archive a recurring work order",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusUnauthorized,
		},
	}, func(ctx context.Context, input *struct {
		ID   string                    `path:"id"`
		Body SetRecurringStatusRequest `json:"body"`
	}) (*struct {
		Body RecurringResponse `json:"body"`
	}, error) {
		rwo, err := e.SetRecurringStatus(ctx, input.ID, input.Body.Status, actorFromContext(ctx))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body RecurringResponse `json:"body"`
		}{Body: recurringResponse(rwo)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "append-service-dates",
		Method:      http.MethodPost,
		Path:        "/recurring-work-orders/{id}/service-dates",
		Summary:     "Append future service dates",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusUnauthorized,
		},
	}, func(ctx context.Context, input *struct {
		ID   string                    `path:"id"`
		Body AppendServiceDatesRequest `json:"body"`
	}) (*struct {
		Body RecurringResponse `json:"body"`
	}, error) {
		rwo, err := e.AppendServiceDates(ctx, input.ID, input.Body.ServiceDates, actorFromContext(ctx))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body RecurringResponse `json:"body"`
		}{Body: recurringResponse(rwo)}, nil
	})
}

func registerExecutions(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "create-executions",
		Method:      http.MethodPost,
		Path:        "/recurring-work-orders/create-executions",
		Summary:     "Create pending executions for a recurring work order",
		Description: "Creates one pending execution per not-yet-covered service date. Safe to re-run: dates already covered by an execution are skipped.",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusUnauthorized,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body CreateExecutionsRequest `json:"body"`
	}) (*struct {
		Body CreateExecutionsResponse `json:"body"`
	}, error) {
		if input.Body.RecurringWorkOrderID == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "recurringWorkOrderId is required", nil)
		}
		result, err := e.CreateExecutions(ctx, input.Body.RecurringWorkOrderID, actorFromContext(ctx))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body CreateExecutionsResponse `json:"body"`
		}{Body: CreateExecutionsResponse{
			Success: true,
			Message: "executions processed",
			Results: batchResults(result),
		}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-executions",
		Method:      http.MethodGet,
		Path:        "/recurring-work-orders/{id}/executions",
		Summary:     "List executions of a recurring work order",
		Errors:      []int{http.StatusNotFound, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body []ExecutionResponse `json:"body"`
	}, error) {
		if _, err := e.Repo.GetRecurringWorkOrder(ctx, input.ID); err != nil {
			return nil, handleError(err)
		}
		items, err := e.Repo.ListExecutionsByRecurring(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []ExecutionResponse `json:"body"`
		}{Body: mapExecutions(items)}, nil
	})
}

func registerWorkOrders(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "generate-execution-work-order",
		Method:      http.MethodPost,
		Path:        "/recurring-work-orders/generate-execution-work-order",
		Summary:     "Materialize a pending execution into a work order",
		Description: "Converts exactly one pending execution into one work order. Calling it again for the same execution is rejected.",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusUnauthorized,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body GenerateWorkOrderRequest `json:"body"`
	}) (*struct {
		Body GenerateWorkOrderResponse `json:"body"`
	}, error) {
		if input.Body.ExecutionID == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "executionId is required", nil)
		}
		wo, err := e.GenerateExecutionWorkOrder(ctx, input.Body.ExecutionID, actorFromContext(ctx))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body GenerateWorkOrderResponse `json:"body"`
		}{Body: GenerateWorkOrderResponse{
			Success:         true,
			Message:         "work order generated",
			WorkOrderID:     wo.ID,
			WorkOrderNumber: wo.Number,
		}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-work-orders",
		Method:      http.MethodGet,
		Path:        "/work-orders",
		Summary:     "List work orders",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		RecurringID string `query:"recurringWorkOrderId" required:"false"`
		Status      string `query:"status" enum:"approved,assigned" required:"false"`
		Limit       int    `query:"limit" required:"false"`
	}) (*struct {
		Body []WorkOrderResponse `json:"body"`
	}, error) {
		items, err := e.Repo.ListWorkOrders(ctx, repo.WorkOrderFilters{
			RecurringID: input.RecurringID,
			Status:      input.Status,
			Limit:       input.Limit,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []WorkOrderResponse `json:"body"`
		}{Body: mapWorkOrders(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-work-order",
		Method:      http.MethodGet,
		Path:        "/work-orders/{id}",
		Summary:     "Get work order",
		Errors:      []int{http.StatusNotFound, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body WorkOrderResponse `json:"body"`
	}, error) {
		wo, err := e.Repo.GetWorkOrder(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body WorkOrderResponse `json:"body"`
		}{Body: workOrderResponse(wo)}, nil
	})
}

func registerCron(api huma.API, e engine.Engine) {
	handler := func(ctx context.Context, _ *struct{}) (*struct {
		Body CronResponse `json:"body"`
	}, error) {
		results, err := e.RunDueRecurrences(ctx, actorFromContext(ctx))
		if err != nil {
			return nil, handleError(err)
		}
		items := make([]CronItemResponse, 0, len(results))
		for _, r := range results {
			items = append(items, CronItemResponse(r))
		}
		return &struct {
			Body CronResponse `json:"body"`
		}{Body: CronResponse{
			Message: "cron completed",
			Results: items,
		}}, nil
	}
	huma.Register(api, huma.Operation{
		OperationID: "run-cron",
		Method:      http.MethodPost,
		Path:        "/recurring-work-orders/cron",
		Summary:     "Process all recurring work orders due today",
		Errors:      []int{http.StatusUnauthorized, http.StatusInternalServerError},
	}, handler)
	huma.Register(api, huma.Operation{
		OperationID: "run-cron-get",
		Method:      http.MethodGet,
		Path:        "/recurring-work-orders/cron",
		Summary:     "Process all recurring work orders due today",
		Errors:      []int{http.StatusUnauthorized, http.StatusInternalServerError},
	}, handler)
}
