// Package paymentprovider — REST-клиент платёжного провайдера: создание
// сессии оплаты, отмена и возобновление подписки.
package paymentprovider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/magabrotheeeer/genbilling/internal/config"
)

// ErrUnexpectedStatus — провайдер ответил кодом, отличным от 2xx.
var ErrUnexpectedStatus = errors.New("unexpected provider status")

// Client — клиент API провайдера.
type Client struct {
	apiKey     string
	apiURL     string
	successURL string
	httpClient *http.Client
}

// NewClient создаёт клиент по настройкам провайдера.
func NewClient(cfg config.Provider) *Client {
	return &Client{
		apiKey:     cfg.APIKey,
		apiURL:     strings.TrimRight(cfg.APIURL, "/"),
		successURL: cfg.SuccessURL,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
}

func (c *Client) newRequest(ctx context.Context, method, path string, body any) (*http.Request, error) {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return nil, err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, c.apiURL+path, &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("x-api-key", c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	return req, nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		var e errorResponse
		msg := strings.TrimSpace(string(raw))
		if json.Unmarshal(raw, &e) == nil && e.Message != nil {
			msg = fmt.Sprint(e.Message)
		}
		return fmt.Errorf("%w: %s: %s", ErrUnexpectedStatus, resp.Status, msg)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// CreateCheckout создаёт сессию оплаты продукта и возвращает её адрес.
func (c *Client) CreateCheckout(ctx context.Context, reqParams CreateCheckoutRequest) (*CreateCheckoutResponse, error) {
	const op = "paymentprovider.CreateCheckout"

	if reqParams.SuccessURL == "" {
		reqParams.SuccessURL = c.successURL
	}
	req, err := c.newRequest(ctx, http.MethodPost, "/v1/checkouts", reqParams)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	var checkout CreateCheckoutResponse
	if err := c.do(req, &checkout); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if checkout.CheckoutURL == "" {
		return nil, fmt.Errorf("%s: empty checkout url", op)
	}
	return &checkout, nil
}

// CancelSubscription отменяет подписку у провайдера.
func (c *Client) CancelSubscription(ctx context.Context, subscriptionID string) (*SubscriptionResponse, error) {
	const op = "paymentprovider.CancelSubscription"
	return c.subscriptionAction(ctx, op, subscriptionID, "cancel")
}

// ResumeSubscription возобновляет приостановленную или отменённую подписку.
func (c *Client) ResumeSubscription(ctx context.Context, subscriptionID string) (*SubscriptionResponse, error) {
	const op = "paymentprovider.ResumeSubscription"
	return c.subscriptionAction(ctx, op, subscriptionID, "resume")
}

func (c *Client) subscriptionAction(ctx context.Context, op, subscriptionID, action string) (*SubscriptionResponse, error) {
	path := "/v1/subscriptions/" + url.PathEscape(subscriptionID) + "/" + action
	req, err := c.newRequest(ctx, http.MethodPost, path, nil)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	var sub SubscriptionResponse
	if err := c.do(req, &sub); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &sub, nil
}
