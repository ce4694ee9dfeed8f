package pdfrender

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-resty/resty/v2"
)

func TestNewHTTPRendererValidation(t *testing.T) {
	t.Parallel()

	if _, err := NewHTTPRenderer(""); err == nil {
		t.Fatal("empty base url should be rejected")
	}
	if _, err := NewHTTPRenderer("not a url"); err == nil {
		t.Fatal("malformed base url should be rejected")
	}
	if _, err := NewHTTPRendererWithClient("http://render.local", nil); err == nil {
		t.Fatal("nil client should be rejected")
	}
}

func TestRenderPurchaseOrder(t *testing.T) {
	t.Parallel()

	pdfBytes := []byte("%PDF-1.7 fake document")

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/purchase-orders/42/pdf" {
			t.Errorf("unexpected path %s", r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/pdf")
		_, _ = w.Write(pdfBytes)
	}))
	defer server.Close()

	renderer, err := NewHTTPRendererWithClient(server.URL, resty.New())
	if err != nil {
		t.Fatalf("NewHTTPRendererWithClient() error = %v", err)
	}

	got, err := renderer.RenderPurchaseOrder(context.Background(), 42)
	if err != nil {
		t.Fatalf("RenderPurchaseOrder() error = %v", err)
	}
	if string(got) != string(pdfBytes) {
		t.Fatalf("document = %q, want %q", got, pdfBytes)
	}
}

func TestRenderPurchaseOrderInvalidID(t *testing.T) {
	t.Parallel()

	renderer, err := NewHTTPRenderer("http://render.local")
	if err != nil {
		t.Fatalf("NewHTTPRenderer() error = %v", err)
	}

	if _, err := renderer.RenderPurchaseOrder(context.Background(), 0); err == nil {
		t.Fatal("non-positive id should be rejected")
	}
}

func TestRenderPurchaseOrderErrorStatus(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	renderer, err := NewHTTPRendererWithClient(server.URL, resty.New())
	if err != nil {
		t.Fatalf("NewHTTPRendererWithClient() error = %v", err)
	}

	if _, err := renderer.RenderPurchaseOrder(context.Background(), 7); err == nil {
		t.Fatal("5xx responses should surface as errors")
	}
}

func TestRenderPurchaseOrderEmptyBody(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	renderer, err := NewHTTPRendererWithClient(server.URL, resty.New())
	if err != nil {
		t.Fatalf("NewHTTPRendererWithClient() error = %v", err)
	}

	if _, err := renderer.RenderPurchaseOrder(context.Background(), 7); err == nil {
		t.Fatal("empty document should surface as an error")
	}
}
