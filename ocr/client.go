package ocr

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/runtime"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/streaming"
	"github.com/bytedance/sonic"

	"task-sync/domain"
)

const (
	moduleName    = "task-sync/ocr"
	moduleVersion = "v1.0.0"
	apiKeyHeader  = "X-Api-Key"
)

// ErrEmptyImage is returned when there is nothing to recognize.
var ErrEmptyImage = errors.New("empty image")

type extractResponse struct {
	Blocks []domain.TextBlock `json:"blocks"`
}

// Client calls a text recognition endpoint that accepts raw image bytes and
// answers with the recognized text blocks.
type Client struct {
	endpoint string
	apiKey   string
	pipeline runtime.Pipeline
}

// Options configures a Client.
type Options struct {
	// APIKey is sent on every request when set.
	APIKey string
	// Retry overrides the default retry policy.
	Retry *policy.RetryOptions
	// Transport replaces the HTTP transport.
	Transport policy.Transporter
}

// NewClient returns a Client posting to endpoint.
func NewClient(endpoint string, opts *Options) (*Client, error) {
	if endpoint == "" {
		return nil, errors.New("ocr endpoint not configured")
	}
	if opts == nil {
		opts = &Options{}
	}
	clientOpts := policy.ClientOptions{
		Retry: policy.RetryOptions{
			MaxRetries:    2,
			TryTimeout:    time.Second * 30,
			RetryDelay:    time.Millisecond * 500,
			MaxRetryDelay: time.Second * 5,
			StatusCodes:   []int{408, 429, 500, 502, 503, 504},
		},
		Transport: opts.Transport,
	}
	if opts.Retry != nil {
		clientOpts.Retry = *opts.Retry
	}
	return &Client{
		endpoint: endpoint,
		apiKey:   opts.APIKey,
		pipeline: runtime.NewPipeline(moduleName, moduleVersion, runtime.PipelineOptions{}, &clientOpts),
	}, nil
}

// Extract posts image and returns the recognized blocks in reading order.
func (c *Client) Extract(ctx context.Context, image []byte) ([]domain.TextBlock, error) {
	if len(image) == 0 {
		return nil, ErrEmptyImage
	}
	req, err := runtime.NewRequest(ctx, http.MethodPost, c.endpoint)
	if err != nil {
		return nil, err
	}
	req.Raw().Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Raw().Header.Set(apiKeyHeader, c.apiKey)
	}
	if err := req.SetBody(streaming.NopCloser(bytes.NewReader(image)), "application/octet-stream"); err != nil {
		return nil, err
	}

	resp, err := c.pipeline.Do(req)
	if err != nil {
		return nil, err
	}
	if !runtime.HasStatusCode(resp, http.StatusOK) {
		return nil, runtime.NewResponseError(resp)
	}
	body, err := runtime.Payload(resp)
	if err != nil {
		return nil, err
	}
	var out extractResponse
	if err := sonic.Unmarshal(body, &out); err != nil {
		return nil, err
	}
	return out.Blocks, nil
}
