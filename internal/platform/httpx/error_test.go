package httpx

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hanko-field/webshop/internal/platform/requestctx"
)

func TestWriteErrorEnvelope(t *testing.T) {
	ctx := requestctx.WithTrace(context.Background(), requestctx.TraceInfo{TraceID: "abc123"})
	rec := httptest.NewRecorder()

	WriteError(ctx, rec, NewError("cart_conflict", "cart changed\nplease retry", http.StatusConflict).
		WithDetails(map[string]any{"cart_id": "cart-1"}))

	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "application/json; charset=utf-8", rec.Header().Get("Content-Type"))
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "cart_conflict", body["error"])
	assert.Equal(t, "cart changed please retry", body["message"])
	assert.Equal(t, float64(409), body["status"])
	assert.Equal(t, "abc123", body["trace_id"])
	assert.Equal(t, "cart-1", body["cart_id"])
	assert.NotContains(t, body, "request_id")
}

func TestNewErrorDefaultsStatus(t *testing.T) {
	err := NewError("boom", "failed", 0)
	assert.Equal(t, http.StatusInternalServerError, err.Status)
	assert.Equal(t, "boom: failed", err.Error())
}
