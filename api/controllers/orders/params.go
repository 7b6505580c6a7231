package orders

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/angelmondragon/orderflow-backend/api/middleware"
	"github.com/angelmondragon/orderflow-backend/api/validators"
	internalorders "github.com/angelmondragon/orderflow-backend/internal/orders"
	"github.com/angelmondragon/orderflow-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/orderflow-backend/pkg/errors"
)

const maxNotesLength = 500

func parseOrderID(r *http.Request) (uint64, error) {
	raw := strings.TrimSpace(chi.URLParam(r, "orderId"))
	if raw == "" {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, "order id is required")
	}
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || id == 0 {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, "invalid order id").WithDetails(map[string]any{"field": "orderId"})
	}
	return id, nil
}

func actorFromRequest(r *http.Request) (internalorders.Actor, error) {
	id, role, ok := middleware.ActorFromContext(r.Context())
	if !ok {
		return internalorders.Actor{}, pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing")
	}
	return internalorders.Actor{ID: id, Role: role}, nil
}

// notesRequest is the optional body accepted by transitions that take notes.
type notesRequest struct {
	Notes *string `json:"notes,omitempty" validate:"omitempty,max=500"`
}

// decodeNotes accepts an empty body.
func decodeNotes(r *http.Request) (*string, error) {
	var req notesRequest
	if _, err := validators.DecodeOptionalJSONBody(r, &req); err != nil {
		return nil, err
	}
	return sanitizeNotes(req.Notes), nil
}

func sanitizeNotes(notes *string) *string {
	if notes == nil {
		return nil
	}
	cleaned := validators.SanitizeString(*notes, maxNotesLength)
	if cleaned == "" {
		return nil
	}
	return &cleaned
}

func parseAggregateFilter(r *http.Request) (internalorders.AggregateFilter, error) {
	var filter internalorders.AggregateFilter
	query := r.URL.Query()

	from, err := validators.ParseQueryTime(r, "from")
	if err != nil {
		return filter, err
	}
	to, err := validators.ParseQueryTime(r, "to")
	if err != nil {
		return filter, err
	}
	if from != nil && to != nil && !from.Before(*to) {
		return filter, pkgerrors.New(pkgerrors.CodeValidation, "from must be before to")
	}
	filter.From, filter.To = from, to

	if raw := strings.TrimSpace(query.Get("customer_id")); raw != "" {
		customerID, err := uuid.Parse(raw)
		if err != nil {
			return filter, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid customer id").WithDetails(map[string]any{"field": "customer_id"})
		}
		filter.CustomerID = &customerID
	}

	for _, raw := range query["status"] {
		for _, part := range strings.Split(raw, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			status, err := enums.ParseOrderStatus(part)
			if err != nil {
				return filter, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid status filter").WithDetails(map[string]any{"field": "status"})
			}
			filter.Statuses = append(filter.Statuses, status)
		}
	}
	return filter, nil
}
