package response

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"
)

func decodeError(t *testing.T, w *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode error response: %v", err)
	}
	return resp
}

func TestJSON(t *testing.T) {
	w := httptest.NewRecorder()
	JSON(w, http.StatusOK, map[string]uint64{"log_id": 3, "lsn": 42})

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("Content-Type = %q, want application/json", ct)
	}
	var got map[string]uint64
	if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got["log_id"] != 3 || got["lsn"] != 42 {
		t.Fatalf("body = %v", got)
	}
}

func TestJSON_NoBody(t *testing.T) {
	w := httptest.NewRecorder()
	JSON(w, http.StatusNoContent, nil)

	if w.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", w.Code)
	}
	if w.Body.Len() != 0 {
		t.Fatalf("body = %q, want empty", w.Body.String())
	}
}

func TestJSON_EncodeFailure(t *testing.T) {
	w := httptest.NewRecorder()
	JSON(w, http.StatusOK, map[string]float64{"bad": math.Inf(1)})

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", w.Code)
	}
	if got := decodeError(t, w); got.Error.Code != ErrCodeInternalServer {
		t.Fatalf("code = %q, want %q", got.Error.Code, ErrCodeInternalServer)
	}
}

func TestErrorWithDetails(t *testing.T) {
	w := httptest.NewRecorder()
	ErrorWithDetails(w, http.StatusConflict, ErrCodeUnsafeTrim, "trim beyond safe point",
		map[string]interface{}{"requested": 9, "safe_trim_point": 4}, "req-1")

	if w.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", w.Code)
	}
	got := decodeError(t, w)
	if got.Error.Code != ErrCodeUnsafeTrim || got.Error.RequestID != "req-1" {
		t.Fatalf("error = %+v", got.Error)
	}
	if got.Error.Details["safe_trim_point"] != float64(4) {
		t.Fatalf("details = %v", got.Error.Details)
	}
}

func TestError_OmitsEmptyDetails(t *testing.T) {
	w := httptest.NewRecorder()
	Error(w, http.StatusNotFound, ErrCodeNotFound, "unknown log 7", "req-2")

	var raw map[string]map[string]any
	if err := json.NewDecoder(w.Body).Decode(&raw); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if _, ok := raw["error"]["details"]; ok {
		t.Fatal("details should be omitted when empty")
	}
}

func TestHandleError(t *testing.T) {
	tests := []struct {
		err        error
		wantStatus int
		wantCode   string
	}{
		{errors.New("boom"), http.StatusInternalServerError, ErrCodeInternalServer},
		{fmt.Errorf("trim: %w", context.DeadlineExceeded), http.StatusGatewayTimeout, ErrCodeGatewayTimeout},
		{context.Canceled, http.StatusServiceUnavailable, ErrCodeServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			w := httptest.NewRecorder()
			HandleError(w, tt.err, "req-3")

			if w.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if got := decodeError(t, w); got.Error.Code != tt.wantCode {
				t.Fatalf("code = %q, want %q", got.Error.Code, tt.wantCode)
			}
		})
	}
}

func TestErrorCodeFromStatus(t *testing.T) {
	if got := ErrorCodeFromStatus(http.StatusConflict); got != ErrCodeConflict {
		t.Errorf("409 -> %q, want %q", got, ErrCodeConflict)
	}
	if got := ErrorCodeFromStatus(http.StatusTeapot); got != ErrCodeInternalServer {
		t.Errorf("418 -> %q, want %q", got, ErrCodeInternalServer)
	}
}
