package httputil

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteJSON(t *testing.T) {
	w := httptest.NewRecorder()

	err := WriteJSON(w, http.StatusOK, map[string]string{"message": "success"})

	assert.NoError(t, err)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"message":"success"}`, w.Body.String())
}

func TestWriteError(t *testing.T) {
	w := httptest.NewRecorder()

	WriteError(w, http.StatusConflict, "test error")

	assert.Equal(t, http.StatusConflict, w.Code)
	assert.JSONEq(t, `{"error":"test error","status":409}`, w.Body.String())
}

func TestWriteError_CarriesRequestID(t *testing.T) {
	handler := RequestIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		WriteNotFound(w, "record not found")
	}))

	r := httptest.NewRequest(http.MethodGet, "/plugins/ghost", nil)
	r.Header.Set(RequestIDHeader, "req-42")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, r)

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.JSONEq(t, `{"error":"record not found","status":404,"request_id":"req-42"}`, w.Body.String())
}

func TestWriteMappedError(t *testing.T) {
	errUnknown := errors.New("unknown record")
	rules := []ErrorStatus{
		{Err: errUnknown, Status: http.StatusNotFound},
		{Err: context.Canceled, Status: http.StatusServiceUnavailable},
	}

	tests := []struct {
		name string
		err  error
		want int
	}{
		{name: "sentinel", err: errUnknown, want: http.StatusNotFound},
		{name: "wrapped", err: fmt.Errorf("enable radar: %w", errUnknown), want: http.StatusNotFound},
		{name: "second rule", err: context.Canceled, want: http.StatusServiceUnavailable},
		{name: "unmapped", err: errors.New("disk full"), want: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			WriteMappedError(w, tt.err, rules...)

			assert.Equal(t, tt.want, w.Code)
			var body ErrorResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			assert.Equal(t, tt.err.Error(), body.Error)
			assert.Equal(t, tt.want, body.Status)
			assert.Empty(t, body.RequestID)
		})
	}
}

func TestWriteNoContent(t *testing.T) {
	w := httptest.NewRecorder()

	WriteNoContent(w)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Empty(t, w.Body.String())
}

func TestPathVar(t *testing.T) {
	router := mux.NewRouter()
	var got string
	router.HandleFunc("/plugins/{id}", func(w http.ResponseWriter, r *http.Request) {
		id, ok := PathVar(w, r, "id")
		if ok {
			got = id
		}
	})

	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/plugins/radar", nil))
	assert.Equal(t, "radar", got)

	w := httptest.NewRecorder()
	_, ok := PathVar(w, httptest.NewRequest(http.MethodGet, "/plugins/", nil), "id")
	assert.False(t, ok)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "missing path parameter: id")
}

func TestQueryBool(t *testing.T) {
	tests := []struct {
		query  string
		want   bool
		wantOK bool
	}{
		{query: "", want: true, wantOK: true},
		{query: "force=false", want: false, wantOK: true},
		{query: "force=1", want: true, wantOK: true},
		{query: "force=maybe", wantOK: false},
	}

	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			w := httptest.NewRecorder()
			r := httptest.NewRequest(http.MethodPost, "/refresh?"+tt.query, nil)

			got, ok := QueryBool(w, r, "force", true)

			require.Equal(t, tt.wantOK, ok)
			if !ok {
				assert.Equal(t, http.StatusBadRequest, w.Code)
				assert.Contains(t, w.Body.String(), `not a boolean: \"maybe\"`)
				return
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRequestIDMiddleware(t *testing.T) {
	handler := RequestIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.NotEmpty(t, w.Header().Get(RequestIDHeader))

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set(RequestIDHeader, "abc")
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, r)
	assert.Equal(t, "abc", w.Header().Get(RequestIDHeader))
}

func TestRecoveryAndLogging(t *testing.T) {
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)

	handler := Chain(
		RequestIDMiddleware,
		LoggingMiddleware(logger),
		RecoveryMiddleware(logger),
	)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/explode", nil))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	require.Len(t, hook.AllEntries(), 2)
	assert.Equal(t, "Panic in HTTP handler", hook.AllEntries()[0].Message)

	last := hook.LastEntry()
	assert.Equal(t, "Handled request", last.Message)
	assert.Equal(t, http.StatusInternalServerError, last.Data["status"])
	assert.Equal(t, "/explode", last.Data["path"])
	assert.NotEmpty(t, last.Data["request_id"])
}
