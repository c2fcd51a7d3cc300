package imagegen

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"
)

type Client struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
}

func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		BaseURL: baseURL,
		APIKey:  apiKey,
		HTTPClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// Submit uploads an image for stylization. The generation id ties the
// asynchronous callback back to the request; callbackURL may be empty when no
// webhook is exposed. A non-2xx status is an error and the caller must not
// consume a point for it.
func (c *Client) Submit(generationID string, image []byte, callbackURL string) (*SubmitResponse, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	if err := writer.WriteField("id_gen", generationID); err != nil {
		return nil, fmt.Errorf("failed to build request form: %w", err)
	}
	if callbackURL != "" {
		if err := writer.WriteField("webhook", callbackURL); err != nil {
			return nil, fmt.Errorf("failed to build request form: %w", err)
		}
	}
	part, err := writer.CreateFormFile("image", "input.jpg")
	if err != nil {
		return nil, fmt.Errorf("failed to build request form: %w", err)
	}
	if _, err := part.Write(image); err != nil {
		return nil, fmt.Errorf("failed to build request form: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to build request form: %w", err)
	}

	req, err := http.NewRequest(http.MethodPost, c.BaseURL, &buf)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", c.APIKey))

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("api error: %s (status: %d)", string(respBody), resp.StatusCode)
	}

	var result SubmitResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	if result.Status == "" {
		// Some deployments omit the status on synchronous results
		if result.ResultURL != "" {
			result.Status = StatusDone
		} else {
			result.Status = StatusProcessing
		}
	}

	return &result, nil
}
