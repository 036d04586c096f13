package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

func TestKindStatus(t *testing.T) {
	cases := map[Kind]int{
		KindUnauthorized: http.StatusUnauthorized,
		KindForbidden:    http.StatusForbidden,
		KindValidation:   http.StatusBadRequest,
		KindNotFound:     http.StatusNotFound,
		KindConflict:     http.StatusConflict,
		KindInternal:     http.StatusInternalServerError,
	}
	for kind, want := range cases {
		if got := kind.httpStatus(); got != want {
			t.Errorf("kind %d: expected %d, got %d", kind, want, got)
		}
	}
}

func TestForbiddenIsGeneric(t *testing.T) {
	err := Forbidden()
	if err.Message != "access denied" {
		t.Errorf("forbidden message must not leak detail, got %q", err.Message)
	}
}

func TestIsKind(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", Conflict("finalized notes are immutable"))
	if !IsKind(err, KindConflict) {
		t.Error("expected conflict kind through wrapping")
	}
	if IsKind(err, KindNotFound) {
		t.Error("did not expect not-found kind")
	}
	if IsKind(errors.New("plain"), KindConflict) {
		t.Error("plain error should not match")
	}
}

func TestInternalUnwrap(t *testing.T) {
	cause := errors.New("pg down")
	err := Internal(cause)
	if !errors.Is(err, cause) {
		t.Error("expected cause to unwrap")
	}
	if !strings.Contains(err.Error(), "pg down") {
		t.Errorf("expected cause in Error(), got %q", err.Error())
	}
}

func TestHTTPErrorHandler_AppError(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	h := HTTPErrorHandler(zerolog.Nop())
	h(Validation("dosage is invalid", FieldIssue{Field: "dosage", Message: "expected number + mg/mcg"}), c)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "dosage") {
		t.Errorf("expected field issue in body, got %s", rec.Body.String())
	}
}

func TestHTTPErrorHandler_InternalOpaque(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	h := HTTPErrorHandler(zerolog.Nop())
	h(Internal(errors.New("connection refused to 10.0.0.5")), c)

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("expected 500, got %d", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "10.0.0.5") {
		t.Error("internal detail leaked to caller")
	}
}

func TestHTTPErrorHandler_EchoError(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	h := HTTPErrorHandler(zerolog.Nop())
	h(echo.NewHTTPError(http.StatusTeapot, "short and stout"), c)

	if rec.Code != http.StatusTeapot {
		t.Errorf("expected 418, got %d", rec.Code)
	}
}
