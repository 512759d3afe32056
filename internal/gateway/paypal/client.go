// Package paypal talks to the PayPal Orders v2 REST API.  An order is the
// payment intent; its id is the payment reference used for capture.
package paypal

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/iliyamo/raffle-tickets/internal/catalog"
	"github.com/iliyamo/raffle-tickets/internal/model"
)

// APIError is a PayPal response the client could not turn into a result.
type APIError struct {
	StatusCode int
	Response   ErrorResponse
}

func (e *APIError) Error() string {
	msg := fmt.Sprintf("paypal: http %d %s", e.StatusCode, e.Response.Name)
	if issue := e.Issue(); issue != "" {
		msg += " (" + issue + ")"
	}
	if e.Response.DebugID != "" {
		msg += " debug_id=" + e.Response.DebugID
	}
	return msg
}

// Issue returns the first issue code in the response, if any.
func (e *APIError) Issue() string {
	if len(e.Response.Details) > 0 {
		return e.Response.Details[0].Issue
	}
	return ""
}

// Client implements the engine's payment gateway.
type Client struct {
	baseURL string
	logger  *logrus.Logger
	hc      *http.Client
}

// NewClient returns a Client that authenticates with the OAuth2 client
// credentials grant.  Tokens are cached and refreshed by the oauth2 transport.
func NewClient(baseURL, clientID, clientSecret string, timeout time.Duration, logger *logrus.Logger) *Client {
	baseURL = strings.TrimRight(baseURL, "/")
	cc := clientcredentials.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		TokenURL:     baseURL + "/v1/oauth2/token",
		AuthStyle:    oauth2.AuthStyleInHeader,
	}
	base := &http.Client{Timeout: timeout}
	ctx := context.WithValue(context.Background(), oauth2.HTTPClient, base)
	hc := cc.Client(ctx)
	hc.Timeout = timeout
	return &Client{baseURL: baseURL, logger: logger, hc: hc}
}

// CreateIntent creates a CAPTURE order and returns its id.
func (c *Client) CreateIntent(ctx context.Context, req model.IntentRequest) (string, error) {
	body := CreateOrderRequest{
		Intent: IntentCapture,
		PurchaseUnits: []PurchaseUnitRequest{{
			ReferenceID: req.CorrelationID,
			CustomID:    req.CorrelationID,
			Description: req.Description,
			Amount: Amount{
				CurrencyCode: req.Currency,
				Value:        catalog.FormatCents(req.AmountCents),
			},
		}},
	}
	var order Order
	status, err := c.do(ctx, http.MethodPost, "/v2/checkout/orders", body, nil, &order)
	if err != nil {
		return "", err
	}
	if order.ID == "" {
		return "", fmt.Errorf("paypal: create order returned http %d without id", status)
	}
	c.logger.WithFields(logrus.Fields{"order_id": order.ID, "amount": body.PurchaseUnits[0].Amount.Value}).Debug("paypal order created")
	return order.ID, nil
}

// Capture captures the order.  A definitive refusal from PayPal yields a
// FAILURE result; transport problems, throttling and server errors are
// returned as errors so the caller may retry.
func (c *Client) Capture(ctx context.Context, orderID string) (model.CaptureResult, error) {
	path := "/v2/checkout/orders/" + orderID + "/capture"
	headers := map[string]string{
		"PayPal-Request-Id": "capture-" + orderID,
		"Prefer":            "return=representation",
	}
	var order Order
	_, err := c.do(ctx, http.MethodPost, path, struct{}{}, headers, &order)
	if err == nil {
		return resultFor(order)
	}

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return model.CaptureResult{}, err
	}
	switch {
	case apiErr.Issue() == IssueOrderAlreadyCaptured:
		c.logger.WithField("order_id", orderID).Info("order already captured, reading it back")
		return c.lookup(ctx, orderID)
	case retryableStatus(apiErr.StatusCode):
		return model.CaptureResult{}, apiErr
	default:
		detail := apiErr.Issue()
		if detail == "" {
			detail = apiErr.Response.Name
		}
		return model.CaptureResult{Status: model.CaptureFailure, Detail: detail}, nil
	}
}

func (c *Client) lookup(ctx context.Context, orderID string) (model.CaptureResult, error) {
	var order Order
	if _, err := c.do(ctx, http.MethodGet, "/v2/checkout/orders/"+orderID, nil, nil, &order); err != nil {
		return model.CaptureResult{}, err
	}
	return resultFor(order)
}

func resultFor(order Order) (model.CaptureResult, error) {
	var unit PurchaseUnit
	var capture Capture
	if len(order.PurchaseUnits) > 0 {
		unit = order.PurchaseUnits[0]
		if len(unit.Payments.Captures) > 0 {
			capture = unit.Payments.Captures[0]
		}
	}
	switch capture.Status {
	case StatusCompleted:
		// The captured amount is what moved; the unit amount is only the
		// order's ask and is used when the capture omits it.
		paid := capture.Amount
		if paid.Value == "" {
			paid = unit.Amount
		}
		cents, err := catalog.ParsePriceCents(paid.Value)
		if err != nil {
			return model.CaptureResult{}, fmt.Errorf("paypal: capture %s amount: %w", capture.ID, err)
		}
		correlation := unit.CustomID
		if correlation == "" {
			correlation = capture.CustomID
		}
		return model.CaptureResult{
			Status:    model.CaptureSuccess,
			CaptureID: capture.ID,
			Payer: model.Payer{
				Name:  strings.TrimSpace(order.Payer.Name.GivenName + " " + order.Payer.Name.Surname),
				Email: order.Payer.EmailAddress,
			},
			AmountCents:   cents,
			Currency:      paid.CurrencyCode,
			CorrelationID: correlation,
		}, nil
	case StatusDeclined, StatusFailed:
		return model.CaptureResult{Status: model.CaptureFailure, CaptureID: capture.ID, Detail: "capture " + strings.ToLower(capture.Status)}, nil
	case StatusPending:
		return model.CaptureResult{}, fmt.Errorf("paypal: capture %s for order %s is pending", capture.ID, order.ID)
	default:
		return model.CaptureResult{}, fmt.Errorf("paypal: order %s has status %q and no completed capture", order.ID, order.Status)
	}
}

func retryableStatus(code int) bool {
	return code == http.StatusUnauthorized || code == http.StatusTooManyRequests || code >= 500
}

func (c *Client) do(ctx context.Context, method, path string, in any, headers map[string]string, out any) (int, error) {
	var body io.Reader
	if in != nil {
		buf, err := json.Marshal(in)
		if err != nil {
			return 0, fmt.Errorf("paypal: encode request: %w", err)
		}
		body = bytes.NewReader(buf)
	}

	hr, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return 0, fmt.Errorf("paypal: build request: %w", err)
	}
	hr.Header.Set("Accept", "application/json")
	if body != nil {
		hr.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		hr.Header.Set(k, v)
	}

	resp, err := c.hc.Do(hr)
	if err != nil {
		c.logger.WithContext(ctx).WithError(err).WithField("path", path).Error("paypal request failed")
		return 0, fmt.Errorf("paypal: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return resp.StatusCode, fmt.Errorf("paypal: read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		_ = json.Unmarshal(raw, &apiErr.Response)
		c.logger.WithContext(ctx).WithFields(logrus.Fields{
			"path":     path,
			"status":   resp.StatusCode,
			"issue":    apiErr.Issue(),
			"debug_id": apiErr.Response.DebugID,
		}).Warn("paypal returned an error")
		return resp.StatusCode, apiErr
	}

	if out != nil && len(raw) > 0 {
		if err := json.Unmarshal(raw, out); err != nil {
			return resp.StatusCode, fmt.Errorf("paypal: decode response: %w", err)
		}
	}
	return resp.StatusCode, nil
}
