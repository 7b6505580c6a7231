package square

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	sq "github.com/square/square-go-sdk"
	sqcore "github.com/square/square-go-sdk/core"

	pkgerrors "github.com/angelmondragon/orderflow-backend/pkg/errors"
)

// mapError turns an SDK failure into a typed error. Transport failures and
// 5xx responses stay retryable; Square's error body refines 4xx responses.
func mapError(op string, err error) error {
	if err == nil {
		return nil
	}
	msg := "square " + op + " failed"

	var apiErr *sqcore.APIError
	if !errors.As(err, &apiErr) {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, msg)
	}

	code := codeForStatus(apiErr.StatusCode)
	details := map[string]any{"http_status": apiErr.StatusCode}
	for _, sqErr := range squareErrors(apiErr) {
		if refined, ok := codeForSquareError(sqErr); ok {
			code = refined
			details["square_code"] = string(sqErr.Code)
			details["square_category"] = string(sqErr.Category)
			break
		}
	}
	return pkgerrors.Wrap(code, err, msg).WithDetails(details)
}

func codeForSquareError(e *sq.Error) (pkgerrors.Code, bool) {
	if e == nil {
		return "", false
	}
	if e.Code == sq.ErrorCodeIdempotencyKeyReused {
		return pkgerrors.CodeIdempotency, true
	}
	switch e.Category {
	case sq.ErrorCategoryAuthenticationError:
		return pkgerrors.CodeUnauthorized, true
	case sq.ErrorCategoryRateLimitError:
		return pkgerrors.CodeRateLimit, true
	case sq.ErrorCategoryRefundError, sq.ErrorCategoryPaymentMethodError:
		return pkgerrors.CodeStateConflict, true
	}
	return "", false
}

// squareErrors decodes the `errors` array Square returns with 4xx bodies.
func squareErrors(apiErr *sqcore.APIError) []*sq.Error {
	if apiErr == nil || apiErr.Unwrap() == nil {
		return nil
	}
	raw := strings.TrimSpace(apiErr.Unwrap().Error())
	if raw == "" {
		return nil
	}
	var body struct {
		Errors []*sq.Error `json:"errors"`
	}
	if json.Unmarshal([]byte(raw), &body) != nil {
		return nil
	}
	return body.Errors
}

func codeForStatus(status int) pkgerrors.Code {
	switch {
	case status == http.StatusUnauthorized:
		return pkgerrors.CodeUnauthorized
	case status == http.StatusForbidden:
		return pkgerrors.CodeForbidden
	case status == http.StatusNotFound:
		return pkgerrors.CodeNotFound
	case status == http.StatusConflict:
		return pkgerrors.CodeConflict
	case status == http.StatusTooManyRequests:
		return pkgerrors.CodeRateLimit
	case status == http.StatusUnprocessableEntity:
		return pkgerrors.CodeStateConflict
	case status >= 400 && status < 500:
		return pkgerrors.CodeValidation
	default:
		return pkgerrors.CodeDependency
	}
}
