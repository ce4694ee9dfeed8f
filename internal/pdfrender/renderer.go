// Package pdfrender fetches rendered purchase order PDFs from the document
// service.
package pdfrender

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

const defaultRenderTimeout = 30 * time.Second

// Renderer produces the PDF attachment for a purchase order approval email.
type Renderer interface {
	RenderPurchaseOrder(ctx context.Context, poID int64) ([]byte, error)
}

// HTTPRenderer asks an HTTP document service to render the PDF. The service
// exposes GET <base>/purchase-orders/<id>/pdf and answers with the raw bytes.
type HTTPRenderer struct {
	client  *resty.Client
	baseURL string
}

var _ Renderer = (*HTTPRenderer)(nil)

func NewHTTPRenderer(baseURL string) (*HTTPRenderer, error) {
	client := resty.New()
	client.SetTimeout(defaultRenderTimeout)
	client.SetRetryCount(0)

	return NewHTTPRendererWithClient(baseURL, client)
}

func NewHTTPRendererWithClient(baseURL string, client *resty.Client) (*HTTPRenderer, error) {
	trimmedURL := strings.TrimSpace(strings.TrimSuffix(baseURL, "/"))
	if trimmedURL == "" {
		return nil, fmt.Errorf("render service url is required")
	}
	if _, err := url.ParseRequestURI(trimmedURL); err != nil {
		return nil, fmt.Errorf("invalid render service url: %w", err)
	}
	if client == nil {
		return nil, fmt.Errorf("resty client is required")
	}

	if client.GetClient().Timeout == 0 {
		client.SetTimeout(defaultRenderTimeout)
	}
	client.SetRetryCount(0)

	return &HTTPRenderer{
		client:  client,
		baseURL: trimmedURL,
	}, nil
}

func (r *HTTPRenderer) RenderPurchaseOrder(ctx context.Context, poID int64) ([]byte, error) {
	if r == nil || r.client == nil {
		return nil, fmt.Errorf("renderer is not initialized")
	}
	if poID <= 0 {
		return nil, fmt.Errorf("purchase order id must be positive, got %d", poID)
	}

	response, err := r.client.R().
		SetContext(ctx).
		SetHeader("Accept", "application/pdf").
		Get(fmt.Sprintf("%s/purchase-orders/%d/pdf", r.baseURL, poID))
	if err != nil {
		return nil, fmt.Errorf("render request failed: %w", err)
	}
	if response == nil {
		return nil, fmt.Errorf("render service returned empty response")
	}

	statusCode := response.StatusCode()
	if statusCode != http.StatusOK {
		return nil, fmt.Errorf("render service returned status %d", statusCode)
	}

	body := response.Body()
	if len(body) == 0 {
		return nil, fmt.Errorf("render service returned empty document")
	}

	return body, nil
}
