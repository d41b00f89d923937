// Package client talks to the fleetdesk HTTP API. It implements the
// identity and tenant boundaries the session package resolves against.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/aryan0dhankhar/fleetdesk/internal/domain"
)

// TenantHeader selects a tenant other than the credential's home tenant.
const TenantHeader = "X-Tenant-ID"

// Client is a thin typed wrapper over the HTTP API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New creates a client. A nil httpClient gets a 30s timeout.
func New(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), httpClient: httpClient}
}

// Credentials authenticate a tenant-scoped call.
type Credentials struct {
	Token    string
	TenantID string
}

// TokenResponse is returned by register, login and refresh.
type TokenResponse struct {
	IdentityID string         `json:"identityId"`
	Email      string         `json:"email"`
	Token      string         `json:"token"`
	TokenType  string         `json:"tokenType"`
	ExpiresAt  time.Time      `json:"expiresAt"`
	Claims     *domain.Claims `json:"claims,omitempty"`
}

// Order is an order as served by the API, timeline newest first.
type Order struct {
	domain.Order
	Next []domain.OrderStatus `json:"next"`
}

// OrderInput is the body of an order creation.
type OrderInput struct {
	ClientID      string `json:"clientId,omitempty"`
	DriverID      string `json:"driverId,omitempty"`
	VehicleID     string `json:"vehicleId,omitempty"`
	OriginID      string `json:"originId,omitempty"`
	DestinationID string `json:"destinationId,omitempty"`
	Description   string `json:"description,omitempty"`
}

// APIError is a non-2xx response. It unwraps to the matching domain error.
type APIError struct {
	StatusCode int
	Message    string
	kind       error
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error %d: %s", e.StatusCode, e.Message)
}

func (e *APIError) Unwrap() error { return e.kind }

func kindFor(status int) error {
	switch status {
	case http.StatusUnauthorized:
		return domain.ErrUnauthorized
	case http.StatusForbidden:
		return domain.ErrForbidden
	case http.StatusNotFound:
		return domain.ErrNotFound
	case http.StatusConflict:
		return domain.ErrConflict
	case http.StatusBadRequest:
		return domain.ErrInvalidClaims
	default:
		return nil
	}
}

// Register creates an identity.
func (c *Client) Register(ctx context.Context, email, displayName, password string) (*TokenResponse, error) {
	body := map[string]string{"email": email, "displayName": displayName, "password": password}
	var out TokenResponse
	if err := c.do(ctx, http.MethodPost, "/api/auth/register", Credentials{}, body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Login exchanges a password for a token.
func (c *Client) Login(ctx context.Context, email, password string) (*TokenResponse, error) {
	body := map[string]string{"email": email, "password": password}
	var out TokenResponse
	if err := c.do(ctx, http.MethodPost, "/api/auth/login", Credentials{}, body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Verify asks the server to verify raw and returns the decoded token.
func (c *Client) Verify(ctx context.Context, raw string) (*domain.VerifiedToken, error) {
	var out domain.VerifiedToken
	if err := c.do(ctx, http.MethodGet, "/api/auth/me", Credentials{Token: raw}, nil, &out); err != nil {
		if errors.Is(err, domain.ErrUnauthorized) {
			return nil, fmt.Errorf("%w: %w", domain.ErrInvalidToken, err)
		}
		return nil, err
	}
	return &out, nil
}

// Provision assigns the identity behind raw to a tenant.
func (c *Client) Provision(ctx context.Context, raw string) (domain.Claims, error) {
	var out domain.Claims
	err := c.do(ctx, http.MethodPost, "/provision", Credentials{Token: raw}, nil, &out)
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case http.StatusBadRequest:
			apiErr.kind = domain.ErrAssignmentUnavailable
		case http.StatusInternalServerError:
			apiErr.kind = domain.ErrProvisioningFailed
		}
	}
	return out, err
}

// ForceRefresh re-issues a token carrying the claims currently stored for
// the identity behind raw.
func (c *Client) ForceRefresh(ctx context.Context, raw string) (string, error) {
	var out TokenResponse
	if err := c.do(ctx, http.MethodPost, "/api/auth/refresh", Credentials{Token: raw}, nil, &out); err != nil {
		return "", err
	}
	return out.Token, nil
}

// SetClaims rewrites the caller's own claims.
func (c *Client) SetClaims(ctx context.Context, raw string, claims domain.Claims) (domain.Claims, error) {
	body := map[string]any{"claims": map[string]string{"tenantId": claims.TenantID, "role": string(claims.Role)}}
	var out domain.Claims
	err := c.do(ctx, http.MethodPost, "/set-claims", Credentials{Token: raw}, body, &out)
	return out, err
}

// Entitlements lists the tenants the identity behind raw belongs to.
func (c *Client) Entitlements(ctx context.Context, raw string) ([]domain.Entitlement, error) {
	var out struct {
		Tenants []domain.Entitlement `json:"tenants"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/tenants", Credentials{Token: raw}, nil, &out); err != nil {
		return nil, err
	}
	return out.Tenants, nil
}

// CreateOrder creates a PENDENTE order.
func (c *Client) CreateOrder(ctx context.Context, cred Credentials, in OrderInput) (*Order, error) {
	var out Order
	if err := c.do(ctx, http.MethodPost, "/api/orders", cred, in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListOrders lists the tenant's orders, optionally filtered by status.
func (c *Client) ListOrders(ctx context.Context, cred Credentials, status string, limit int) ([]Order, error) {
	q := url.Values{}
	if status != "" {
		q.Set("status", status)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	path := "/api/orders"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var out struct {
		Orders []Order `json:"orders"`
	}
	if err := c.do(ctx, http.MethodGet, path, cred, nil, &out); err != nil {
		return nil, err
	}
	return out.Orders, nil
}

// GetOrder fetches one order.
func (c *Client) GetOrder(ctx context.Context, cred Credentials, id string) (*Order, error) {
	var out Order
	if err := c.do(ctx, http.MethodGet, "/api/orders/"+url.PathEscape(id), cred, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// TransitionOrder moves an order to status. Refused edges unwrap to
// domain.ErrIllegalTransition.
func (c *Client) TransitionOrder(ctx context.Context, cred Credentials, id, status string) (*Order, error) {
	var out Order
	err := c.do(ctx, http.MethodPost, "/api/orders/"+url.PathEscape(id)+"/transitions", cred, map[string]string{"status": status}, &out)
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case http.StatusConflict:
			apiErr.kind = domain.ErrIllegalTransition
		case http.StatusBadRequest:
			apiErr.kind = domain.ErrInvalidStatus
		}
	}
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) do(ctx context.Context, method, path string, cred Credentials, body, out any) error {
	var rdr io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		rdr = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rdr)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if cred.Token != "" {
		req.Header.Set("Authorization", "Bearer "+cred.Token)
	}
	if cred.TenantID != "" {
		req.Header.Set(TenantHeader, cred.TenantID)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var e struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(io.LimitReader(resp.Body, 1<<16)).Decode(&e)
		if e.Error == "" {
			e.Error = http.StatusText(resp.StatusCode)
		}
		return &APIError{StatusCode: resp.StatusCode, Message: e.Error, kind: kindFor(resp.StatusCode)}
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
