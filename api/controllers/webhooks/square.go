package webhooks

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"io"
	"net/http"
	"strings"

	"github.com/angelmondragon/orderflow-backend/api/responses"
	squarewebhook "github.com/angelmondragon/orderflow-backend/internal/webhooks/square"
	pkgerrors "github.com/angelmondragon/orderflow-backend/pkg/errors"
	"github.com/angelmondragon/orderflow-backend/pkg/logger"
)

const (
	squareSignatureHeader = "x-square-hmacsha256-signature"
	maxWebhookBodyBytes   = 1 << 20
)

type SquareWebhookService interface {
	Handle(ctx context.Context, raw []byte) (squarewebhook.Outcome, error)
}

// SquareSignature holds what is needed to verify a Square notification. The
// signature covers the notification URL followed by the raw body.
type SquareSignature struct {
	Secret          string
	NotificationURL string
	// Skip disables verification for local replay tooling.
	Skip bool
}

// Verify reports whether header is the base64 HMAC-SHA256 of the payload.
func (s SquareSignature) Verify(payload []byte, header string) bool {
	if s.Skip {
		return true
	}
	header = strings.TrimSpace(header)
	if header == "" || s.Secret == "" {
		return false
	}
	expected := signSquarePayload(s.Secret, s.NotificationURL, payload)
	return hmac.Equal([]byte(expected), []byte(header))
}

func signSquarePayload(secret, notificationURL string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(notificationURL))
	mac.Write(payload)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// SquareWebhook receives Square payment notifications. Anything the
// reconciler audited is acknowledged with 200, including duplicates and
// notifications that matched no order.
func SquareWebhook(svc SquareWebhookService, signature SquareSignature, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "webhook service unavailable"))
			return
		}

		payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBodyBytes))
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "read request body"))
			return
		}
		if len(payload) == 0 {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "empty webhook payload"))
			return
		}

		if !signature.Verify(payload, r.Header.Get(squareSignatureHeader)) {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "invalid square signature"))
			return
		}

		outcome, err := svc.Handle(ctx, payload)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		responses.WriteSuccess(w, map[string]string{"outcome": string(outcome)})
	}
}
