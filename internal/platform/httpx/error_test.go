package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/hanko-field/checkout/internal/platform/requestctx"
)

func TestWriteErrorEnvelope(t *testing.T) {
	ctx := requestctx.WithTrace(context.Background(), requestctx.TraceInfo{TraceID: "trace-1"})
	rec := httptest.NewRecorder()
	WriteError(ctx, rec, NewError("invalid_transition", "order is already paid\n", http.StatusBadRequest).WithDetails(map[string]any{"from": "paid"}))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	var payload map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if payload["error"] != "invalid_transition" || payload["message"] != "order is already paid" {
		t.Fatalf("unexpected payload %v", payload)
	}
	if payload["trace_id"] != "trace-1" || payload["from"] != "paid" {
		t.Fatalf("expected trace id and details, got %v", payload)
	}
}

func TestReadLimitedBody(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader("0123456789"))
	if _, err := ReadLimitedBody(req, 5); !errors.Is(err, ErrBodyTooLarge) {
		t.Fatalf("expected ErrBodyTooLarge, got %v", err)
	}
	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader("01234"))
	body, err := ReadLimitedBody(req, 5)
	if err != nil || string(body) != "01234" {
		t.Fatalf("unexpected body %q err=%v", body, err)
	}
}

func TestDecodeJSONBody(t *testing.T) {
	var dst struct{ Status string }
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"status":"shipped"}`))
	if err := DecodeJSONBody(req, 1024, &dst); err != nil || dst.Status != "shipped" {
		t.Fatalf("unexpected decode result %+v err=%v", dst, err)
	}
	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(""))
	if err := DecodeJSONBody(req, 1024, &dst); err == nil {
		t.Fatalf("expected empty body error")
	}
	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader("{"))
	if err := DecodeJSONBody(req, 1024, &dst); err == nil {
		t.Fatalf("expected invalid json error")
	}
}
