package httpx

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/fechamento/internal/shared"
)

func TestRespondErrorStatusMapping(t *testing.T) {
	verr := &shared.ValidationError{}
	verr.Add("date", "required")

	cases := []struct {
		err    error
		status int
	}{
		{verr, http.StatusUnprocessableEntity},
		{fmt.Errorf("decode: %w", shared.ErrValidation), http.StatusUnprocessableEntity},
		{fmt.Errorf("closing: %w", shared.ErrNotFound), http.StatusNotFound},
		{fmt.Errorf("dup: %w", shared.ErrConflict), http.StatusConflict},
		{fmt.Errorf("window: %w", shared.ErrAccessDenied), http.StatusForbidden},
		{shared.ErrCSRFTokenMismatch, http.StatusForbidden},
		{shared.ErrUnauthenticated, http.StatusUnauthorized},
		{shared.Unavailable("op", errors.New("dial")), http.StatusServiceUnavailable},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		rec := httptest.NewRecorder()
		RespondError(rec, tc.err)
		require.Equal(t, tc.status, rec.Code, tc.err.Error())
		require.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))
	}
}

func TestRespondErrorCarriesFieldErrors(t *testing.T) {
	verr := &shared.ValidationError{}
	verr.Add("new_receivables[0].plate", "required")
	rec := httptest.NewRecorder()
	RespondError(rec, verr)

	var body ProblemDetail
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Errors, 1)
	require.Equal(t, "new_receivables[0].plate", body.Errors[0].Field)
}

func TestUnavailableSetsRetryAfter(t *testing.T) {
	rec := httptest.NewRecorder()
	RespondError(rec, shared.Unavailable("op", errors.New("dial")))
	require.Equal(t, "5", rec.Header().Get("Retry-After"))
	require.NotContains(t, rec.Body.String(), "dial")
}

func TestDecodeJSONRejectsUnknownFields(t *testing.T) {
	var target struct {
		Date string `json:"date"`
	}
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"date":"2024-03-01","extra":1}`))
	require.ErrorIs(t, DecodeJSON(req, &target), shared.ErrValidation)

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(``))
	require.ErrorIs(t, DecodeJSON(req, &target), shared.ErrValidation)

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"date":"2024-03-01"}`))
	require.NoError(t, DecodeJSON(req, &target))
	require.Equal(t, "2024-03-01", target.Date)
}
