package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
)

// TestContext holds state between test steps
type TestContext struct {
	BaseURL          string
	HTTPClient       *http.Client
	LastResponse     *http.Response
	LastResponseBody []byte

	TenantID   string
	OwnerID    string
	EnvelopeID string
	// Signer IDs keyed by party email, captured from the create response.
	Signers map[string]string
}

// NewTestContext creates a new test context
func NewTestContext() *TestContext {
	baseURL := os.Getenv("BASE_URL")
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}

	return &TestContext{
		BaseURL: baseURL,
		HTTPClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		TenantID: uuid.NewString(),
		OwnerID:  uuid.NewString(),
		Signers:  map[string]string{},
	}
}

// POST makes a POST request with tenant and actor headers and stores the response
func (tc *TestContext) POST(path string, body interface{}) error {
	return tc.POSTWithHeaders(path, body, nil)
}

// POSTWithHeaders makes a POST request with optional extra headers
func (tc *TestContext) POSTWithHeaders(path string, body interface{}, headers map[string]string) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(context.Background(), "POST", tc.BaseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Tenant-ID", tc.TenantID)
	req.Header.Set("X-Actor-ID", tc.OwnerID)
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	return tc.send(req)
}

// GET makes a GET request and stores the response
func (tc *TestContext) GET(path string) error {
	req, err := http.NewRequestWithContext(context.Background(), "GET", tc.BaseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("X-Tenant-ID", tc.TenantID)
	req.Header.Set("X-Actor-ID", tc.OwnerID)

	return tc.send(req)
}

func (tc *TestContext) send(req *http.Request) error {
	resp, err := tc.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to make request: %w", err)
	}

	tc.LastResponse = resp
	tc.LastResponseBody, err = io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	return nil
}

// GetResponseField extracts a field from the JSON response
func (tc *TestContext) GetResponseField(field string) (interface{}, error) {
	var data map[string]interface{}
	if err := json.Unmarshal(tc.LastResponseBody, &data); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}

	value, ok := data[field]
	if !ok {
		return nil, fmt.Errorf("field %s not found in response", field)
	}

	return value, nil
}

// ResponseContains checks if the response body contains a field or text
func (tc *TestContext) ResponseContains(text string) bool {
	if strings.Contains(string(tc.LastResponseBody), text) {
		return true
	}

	var data map[string]interface{}
	if err := json.Unmarshal(tc.LastResponseBody, &data); err == nil {
		if _, ok := data[text]; ok {
			return true
		}
	}

	return false
}

// rememberEnvelope captures envelope and signer IDs from a create response.
func (tc *TestContext) rememberEnvelope() error {
	var resp struct {
		ID      string `json:"id"`
		Signers []struct {
			ID    string `json:"id"`
			Email string `json:"email"`
		} `json:"signers"`
	}
	if err := json.Unmarshal(tc.LastResponseBody, &resp); err != nil {
		return fmt.Errorf("failed to unmarshal envelope response: %w", err)
	}
	if resp.ID == "" {
		return fmt.Errorf("create response has no envelope ID: %s", string(tc.LastResponseBody))
	}
	tc.EnvelopeID = resp.ID
	for _, signer := range resp.Signers {
		tc.Signers[signer.Email] = signer.ID
	}
	return nil
}

func (tc *TestContext) signerID(email string) (string, error) {
	id, ok := tc.Signers[email]
	if !ok {
		return "", fmt.Errorf("no known signer for %q", email)
	}
	return id, nil
}
