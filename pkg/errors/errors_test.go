package errors

import (
	stdErrors "errors"
	"fmt"
	"net/http"
	"testing"
)

func TestMetadataForKnownCodes(t *testing.T) {
	tests := []struct {
		code      Code
		status    int
		publicMsg string
		retryable bool
		detailsOK bool
	}{
		{code: CodeValidation, status: http.StatusBadRequest, publicMsg: "validation failed", detailsOK: true},
		{code: CodeUnauthorized, status: http.StatusUnauthorized, publicMsg: "authentication required"},
		{code: CodeForbidden, status: http.StatusForbidden, publicMsg: "access denied", detailsOK: true},
		{code: CodeNotFound, status: http.StatusNotFound, publicMsg: "resource not found"},
		{code: CodeConflict, status: http.StatusConflict, publicMsg: "conflict detected"},
		{code: CodeStateConflict, status: http.StatusUnprocessableEntity, publicMsg: "state transition disallowed", detailsOK: true},
		{code: CodeInternal, status: http.StatusInternalServerError, publicMsg: "internal server error", retryable: true},
		{code: CodeDependency, status: http.StatusServiceUnavailable, publicMsg: "dependency unavailable", retryable: true, detailsOK: true},
	}

	for _, tt := range tests {
		meta := MetadataFor(tt.code)
		if meta.HTTPStatus != tt.status {
			t.Fatalf("code %s expected status %d got %d", tt.code, tt.status, meta.HTTPStatus)
		}
		if meta.PublicMessage != tt.publicMsg {
			t.Fatalf("code %s expected public message %q got %q", tt.code, tt.publicMsg, meta.PublicMessage)
		}
		if meta.Retryable != tt.retryable {
			t.Fatalf("code %s expected retryable %v got %v", tt.code, tt.retryable, meta.Retryable)
		}
		if meta.DetailsAllowed != tt.detailsOK {
			t.Fatalf("code %s expected details allowed %v got %v", tt.code, tt.detailsOK, meta.DetailsAllowed)
		}
	}
}

func TestMetadataForUnknownCodeDefaultsToInternal(t *testing.T) {
	meta := MetadataFor("SOMETHING_UNKNOWN")
	if meta.HTTPStatus != http.StatusInternalServerError {
		t.Fatalf("expected internal status, got %d", meta.HTTPStatus)
	}
}

func TestErrorConstructors(t *testing.T) {
	base := New(CodeValidation, "cart is empty")
	if base.Code() != CodeValidation {
		t.Fatalf("expected validation code, got %s", base.Code())
	}
	if base.Message() != "cart is empty" {
		t.Fatalf("unexpected message %q", base.Message())
	}
	if base.Details() != nil {
		t.Fatalf("details should be nil by default")
	}

	base.WithDetails(map[string]any{"line": 2})
	if base.Details() == nil {
		t.Fatalf("details should be preserved")
	}

	cause := stdErrors.New("connection reset")
	wrapped := Wrap(CodeDependency, cause, "reserve inventory")
	if !stdErrors.Is(wrapped, cause) {
		t.Fatalf("Wrap did not preserve cause")
	}
	if !wrapped.Retryable() {
		t.Fatalf("dependency errors should be retryable")
	}
}

func TestIsCodeWalksChain(t *testing.T) {
	err := fmt.Errorf("ship order: %w", New(CodeStateConflict, "invalid transition"))
	if !IsCode(err, CodeStateConflict) {
		t.Fatalf("expected state conflict in chain")
	}
	if IsCode(err, CodeNotFound) {
		t.Fatalf("unexpected not found match")
	}
	if !IsClientError(err) {
		t.Fatalf("state conflict should be a client error")
	}
	if IsClientError(stdErrors.New("plain")) {
		t.Fatalf("untyped errors are not client errors")
	}
}

func TestAsReturnsTypedError(t *testing.T) {
	err := New(CodeForbidden, "no entry")
	if got := As(err); got == nil || got.Code() != CodeForbidden {
		t.Fatalf("As failed to return typed error")
	}
	if As(nil) != nil {
		t.Fatalf("As(nil) should return nil")
	}
}

func TestIsCodeUsesOutermostCode(t *testing.T) {
	err := Wrap(CodeDependency, New(CodeNotFound, "payment link missing"), "square lookup")
	if IsCode(err, CodeNotFound) {
		t.Fatalf("wrapped not-found must not read as not-found")
	}
	if !IsCode(err, CodeDependency) {
		t.Fatalf("expected dependency code")
	}
}

func TestClassOf(t *testing.T) {
	tests := []struct {
		err  error
		want Class
	}{
		{New(CodeValidation, "cart is empty"), ClassRejected},
		{New(CodeStateConflict, "cannot ship"), ClassRejected},
		{fmt.Errorf("expire: %w", New(CodeNotFound, "order gone")), ClassConflict},
		{New(CodeConflict, "already terminal"), ClassConflict},
		{Wrap(CodeDependency, stdErrors.New("timeout"), "gateway"), ClassTransient},
		{stdErrors.New("plain"), ClassTransient},
		{New("UNKNOWN", "x"), ClassTransient},
	}
	for _, tt := range tests {
		if got := ClassOf(tt.err); got != tt.want {
			t.Fatalf("ClassOf(%v) = %s, want %s", tt.err, got, tt.want)
		}
	}
}

func TestNewf(t *testing.T) {
	err := Newf(CodeValidation, "unknown order action %q", "teleport")
	if err.Message() != `unknown order action "teleport"` {
		t.Fatalf("unexpected message %q", err.Message())
	}
	if err.Error() != `VALIDATION_ERROR: unknown order action "teleport"` {
		t.Fatalf("unexpected error string %q", err.Error())
	}
}
