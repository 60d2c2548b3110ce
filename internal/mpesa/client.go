// Package mpesa is the thin client for the M-Pesa STK push API. The
// platform collects payment by pushing a payment prompt to the client's
// phone; the gateway reports the outcome asynchronously via callback.
package mpesa

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/sony/gobreaker/v2"
)

var ErrGatewayUnavailable = errors.New("payment gateway unavailable")

type STKPushRequest struct {
	PaymentID string  `json:"payment_id"`
	Phone     string  `json:"phone"`
	Amount    float64 `json:"amount"`
	Reference string  `json:"reference"`
}

type STKPushResponse struct {
	CheckoutRequestID string `json:"checkout_request_id"`
	ResponseCode      string `json:"response_code"`
	Description       string `json:"response_description"`
}

// Accepted reports whether the gateway accepted the push request. The actual
// payment outcome arrives later on the callback.
func (r *STKPushResponse) Accepted() bool {
	return r.ResponseCode == "0"
}

type Client struct {
	httpClient *http.Client
	baseURL    string
	shortcode  string
	cb         *gobreaker.CircuitBreaker[*STKPushResponse]
}

func NewClient(baseURL, shortcode string, timeout time.Duration) *Client {
	settings := gobreaker.Settings{
		Name:    "mpesa-stk-push",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    baseURL,
		shortcode:  shortcode,
		cb:         gobreaker.NewCircuitBreaker[*STKPushResponse](settings),
	}
}

// Push initiates an STK push. When the breaker is open the gateway is not
// called at all and ErrGatewayUnavailable is returned.
func (c *Client) Push(ctx context.Context, req *STKPushRequest) (*STKPushResponse, error) {
	resp, err := c.cb.Execute(func() (*STKPushResponse, error) {
		return c.push(ctx, req)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, ErrGatewayUnavailable
	}
	return resp, err
}

func (c *Client) push(ctx context.Context, req *STKPushRequest) (*STKPushResponse, error) {
	body, err := json.Marshal(map[string]any{
		"BusinessShortCode": c.shortcode,
		"PhoneNumber":       req.Phone,
		"Amount":            req.Amount,
		"AccountReference":  req.Reference,
		"TransactionDesc":   fmt.Sprintf("Therapy session payment %s", req.PaymentID),
	})
	if err != nil {
		return nil, fmt.Errorf("marshal stk push request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/mpesa/stkpush/v1/processrequest", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build stk push request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("stk push request failed: %w", err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode >= 500 {
		return nil, fmt.Errorf("gateway error: status %d", httpResp.StatusCode)
	}

	var resp STKPushResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return nil, fmt.Errorf("decode stk push response: %w", err)
	}
	return &resp, nil
}
