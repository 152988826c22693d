// Package verifier talks to the verification service: user registration,
// receipt verification with retries, and subscription status.
package verifier

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"purchase-sync/pkg/logging"
	"purchase-sync/pkg/sdk/intent"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

// Result is the verification service's verdict for a receipt.
type Result struct {
	RemoteTransactionID string `json:"id"`
	Active              bool   `json:"active"`
	TransactionStatus   string `json:"status,omitempty"`
}

// Status is the server-side subscription state of a user.
type Status struct {
	Active    bool   `json:"active"`
	Status    string `json:"status"`
	ProductID string `json:"product_id,omitempty"`
	ExpiresAt string `json:"expires_at,omitempty"`
}

// Device is sent once when registering the user identity.
type Device struct {
	DeviceID   string `json:"device_id"`
	Platform   string `json:"platform"`
	AppVersion string `json:"app_version,omitempty"`
	OSVersion  string `json:"os_version,omitempty"`
	Locale     string `json:"locale,omitempty"`
}

// Options configures a Client.
type Options struct {
	BaseURL    string
	ProjectID  string
	APIKey     string
	Timeout    time.Duration
	RetryDelay time.Duration
	// Transport overrides the HTTP transport, mostly for tests.
	Transport http.RoundTripper
}

// Client is the verification service client.
type Client struct {
	http       *resty.Client
	retryDelay time.Duration
}

// New creates a client.
func New(opts Options) *Client {
	c := resty.New().
		SetBaseURL(strings.TrimRight(opts.BaseURL, "/")).
		SetHeader("X-Project-ID", opts.ProjectID).
		SetHeader("X-API-Key", opts.APIKey)
	if opts.Timeout > 0 {
		c.SetTimeout(opts.Timeout)
	}
	if opts.Transport != nil {
		c.SetTransport(opts.Transport)
	}
	return &Client{http: c, retryDelay: opts.RetryDelay}
}

type errorBody struct {
	Message string `json:"message"`
}

type registerResponse struct {
	ID string `json:"id"`
}

// Register creates the server-side user and returns its id.
func (c *Client) Register(ctx context.Context, device Device) (string, error) {
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(device).
		Post("/v1/users")
	if err != nil {
		return "", &TransportError{Err: err}
	}
	if err := checkStatus(resp); err != nil {
		return "", err
	}

	var out registerResponse
	if err := json.Unmarshal(resp.Body(), &out); err != nil {
		return "", &DecodeError{Err: err, Body: string(resp.Body())}
	}
	if out.ID == "" {
		return "", &DecodeError{Err: fmt.Errorf("response has no id"), Body: string(resp.Body())}
	}
	return out.ID, nil
}

// Verify submits receipt for userID. Transient failures are retried up to
// maxRetries more times, re-sending the whole request; the last error is
// returned as is. An inactive result is not an error.
func (c *Client) Verify(ctx context.Context, userID string, receipt []byte, source *intent.Source, maxRetries int) (*Result, error) {
	if len(receipt) == 0 {
		return nil, ErrMissingReceipt
	}
	if userID == "" {
		return nil, fmt.Errorf("user id is required for verification")
	}

	encoded := base64.StdEncoding.EncodeToString(receipt)
	for attempt := 0; ; attempt++ {
		result, err := c.verifyOnce(ctx, userID, encoded, source)
		if err == nil {
			return result, nil
		}
		if !IsTransient(err) || attempt >= maxRetries {
			if attempt > 0 {
				logging.Errorf("Verification failed after %d attempts - user: %s, error: %v", attempt+1, userID, err)
			}
			return nil, err
		}

		logging.Warnf("Verification attempt %d failed, retrying - user: %s, error: %v", attempt+1, userID, err)
		if sleepErr := sleep(ctx, c.retryDelay); sleepErr != nil {
			return nil, err
		}
	}
}

func (c *Client) verifyOnce(ctx context.Context, userID, encoded string, source *intent.Source) (*Result, error) {
	req := c.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", "text/plain").
		SetBody(encoded)
	if source != nil && source.ScreenID != "" {
		req.SetQueryParam("screen_id", source.ScreenID)
	}

	resp, err := req.Post("/v1/itunes/verify/" + url.PathEscape(userID))
	if err != nil {
		return nil, &TransportError{Err: err}
	}
	if err := checkStatus(resp); err != nil {
		return nil, err
	}

	var result Result
	if err := json.Unmarshal(resp.Body(), &result); err != nil {
		return nil, &DecodeError{Err: err, Body: string(resp.Body())}
	}
	return &result, nil
}

// Status fetches the user's current subscription state.
func (c *Client) Status(ctx context.Context, userID string) (*Status, error) {
	resp, err := c.http.R().
		SetContext(ctx).
		Get("/v1/subscriptions/" + url.PathEscape(userID))
	if err != nil {
		return nil, &TransportError{Err: err}
	}
	if err := checkStatus(resp); err != nil {
		return nil, err
	}

	var status Status
	if err := json.Unmarshal(resp.Body(), &status); err != nil {
		return nil, &DecodeError{Err: err, Body: string(resp.Body())}
	}
	return &status, nil
}

func checkStatus(resp *resty.Response) error {
	if resp.StatusCode() >= 200 && resp.StatusCode() < 300 {
		return nil
	}
	var body errorBody
	_ = json.Unmarshal(resp.Body(), &body)
	return &ServerError{StatusCode: resp.StatusCode(), Message: body.Message}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
