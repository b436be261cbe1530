// Package apiclient calls the external infrastructure-provisioning API.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"mailbridge/internal/request"
	"mailbridge/pkg/circuitbreaker"
	"mailbridge/pkg/metrics"
	"mailbridge/pkg/trace"
)

const userAgent = "mailbridge/1.0"

// RequestResult is the API's answer to a create-request call. Raw
// carries the full decoded response for audit metadata.
type RequestResult struct {
	ID        string
	Status    string
	CreatedAt string
	Raw       map[string]any
}

type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	cb         *circuitbreaker.CircuitBreaker
}

func NewClient(baseURL, apiKey string) *Client {
	cbConfig := circuitbreaker.Config{
		FailureThreshold:    3,
		SuccessThreshold:    2,
		Timeout:             30 * time.Second,
		HalfOpenMaxRequests: 2,
	}

	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		cb: circuitbreaker.NewCircuitBreaker(cbConfig),
	}
}

// CreateRequest submits an infrastructure request on behalf of the
// requestor. Failures, including breaker-open rejections and timeouts,
// surface as ordinary errors; retry policy belongs to the caller's MTA,
// not to this client.
func (c *Client) CreateRequest(ctx context.Context, req *request.InfraRequest) (*RequestResult, error) {
	var result *RequestResult

	err := c.cb.Execute(func() error {
		start := time.Now()

		payload := map[string]any{
			"title":       req.Title,
			"description": req.Description,
			"environment": req.Environment,
			"priority":    req.Priority,
			"requestor":   req.RequestorEmail,
			"source":      "email",
			"metadata":    req.Metadata,
		}

		b, marshalErr := json.Marshal(payload)
		if marshalErr != nil {
			return marshalErr
		}

		httpReq, reqErr := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/generate", bytes.NewReader(b))
		if reqErr != nil {
			return reqErr
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("X-API-Key", c.apiKey)
		httpReq.Header.Set("User-Agent", userAgent)
		if traceID := trace.FromContext(ctx); traceID != "" {
			httpReq.Header.Set(trace.HeaderName(), traceID)
		}

		resp, doErr := c.httpClient.Do(httpReq)
		latency := time.Since(start)

		if doErr != nil {
			metrics.RecordInfraAPICall("error", latency)
			return fmt.Errorf("failed to call infrastructure API: %w", doErr)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
			metrics.RecordInfraAPICall(fmt.Sprintf("%d", resp.StatusCode), latency)
			return fmt.Errorf("infrastructure API returned status %d", resp.StatusCode)
		}

		metrics.RecordInfraAPICall("success", latency)

		var decodeErr error
		result, decodeErr = decodeResult(resp)
		return decodeErr
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

func decodeResult(resp *http.Response) (*RequestResult, error) {
	var raw map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("failed to decode API response: %w", err)
	}

	result := &RequestResult{Raw: raw}
	if id, ok := raw["id"].(string); ok {
		result.ID = id
	}
	if status, ok := raw["status"].(string); ok {
		result.Status = status
	}
	if createdAt, ok := raw["created_at"].(string); ok {
		result.CreatedAt = createdAt
	}

	return result, nil
}
