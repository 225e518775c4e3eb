package smarther

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Platform endpoints.
const (
	// DefaultBaseURL is the Smarther v2 API root.
	DefaultBaseURL = "https://api.developer.legrand.com/smarther/v2.0"

	// DefaultTokenURL is the Eliot OAuth token endpoint.
	DefaultTokenURL = "https://partners-login.eliotbylegrand.com/token"
)

// defaultRequestTimeout bounds every cloud API call.
const defaultRequestTimeout = 30 * time.Second

// Client talks to the Smarther cloud platform.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
type Client struct {
	baseURL  string
	tokenURL string
	http     *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL overrides the API root. Used by tests.
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = strings.TrimRight(u, "/") }
}

// WithTokenURL overrides the OAuth token endpoint. Used by tests.
func WithTokenURL(u string) Option {
	return func(c *Client) { c.tokenURL = u }
}

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// New creates a cloud API client with the default endpoints.
func New(opts ...Option) *Client {
	c := &Client{
		baseURL:  DefaultBaseURL,
		tokenURL: DefaultTokenURL,
		http:     &http.Client{Timeout: defaultRequestTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// tokenResponse is the OAuth token endpoint's answer. expires_on arrives as
// a unix timestamp in string form.
type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresOn    string `json:"expires_on"`
}

// RefreshToken exchanges the refresh token for a new credential pair.
//
// The returned AuthorizationInfo carries over client id/secret/subkey from
// the input so it remains a complete snapshot.
func (c *Client) RefreshToken(ctx context.Context, auth AuthorizationInfo) (AuthorizationInfo, error) {
	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", auth.RefreshToken)
	form.Set("client_id", auth.ClientID)
	form.Set("client_secret", auth.ClientSecret)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return AuthorizationInfo{}, fmt.Errorf("building refresh request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.http.Do(req)
	if err != nil {
		return AuthorizationInfo{}, fmt.Errorf("refreshing token: %w", err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return AuthorizationInfo{}, fmt.Errorf("refreshing token: %w", err)
	}

	var tr tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return AuthorizationInfo{}, fmt.Errorf("decoding token response: %w", err)
	}

	refreshed := AuthorizationInfo{
		ClientID:     auth.ClientID,
		ClientSecret: auth.ClientSecret,
		Subkey:       auth.Subkey,
		AccessToken:  tr.AccessToken,
		RefreshToken: tr.RefreshToken,
		ExpiresOn:    parseExpiresOn(tr.ExpiresOn),
	}
	refreshed.NormalizeExpiry()
	return refreshed, nil
}

// parseExpiresOn handles the token endpoint's epoch-seconds string. A zero
// time is returned for anything unparseable; NormalizeExpiry then falls
// back to the JWT exp claim.
func parseExpiresOn(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	if secs, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(secs, 0).UTC()
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t
	}
	return time.Time{}
}

// Plants lists the plants the credential has access to.
func (c *Client) Plants(ctx context.Context, auth AuthorizationInfo) (Plants, error) {
	var out Plants
	if err := c.get(ctx, auth, "/plants", &out); err != nil {
		return Plants{}, err
	}
	return out, nil
}

// Topology fetches the module topology of one plant.
func (c *Client) Topology(ctx context.Context, auth AuthorizationInfo, plantID string) (PlantDetail, error) {
	var out struct {
		Plant PlantDetail `json:"plant"`
	}
	path := fmt.Sprintf("/plants/%s/topology", url.PathEscape(plantID))
	if err := c.get(ctx, auth, path, &out); err != nil {
		return PlantDetail{}, err
	}
	return out.Plant, nil
}

// DeviceStatus fetches the current status of one thermostat module.
func (c *Client) DeviceStatus(ctx context.Context, auth AuthorizationInfo, plantID, moduleID string) (ModuleStatus, error) {
	var out ModuleStatus
	path := fmt.Sprintf("/chronothermostat/thermoregulation/addressLocation/plants/%s/modules/parameter/id/value/%s",
		url.PathEscape(plantID), url.PathEscape(moduleID))
	if err := c.get(ctx, auth, path, &out); err != nil {
		return ModuleStatus{}, err
	}
	return out, nil
}

// setStatusBody is the wire form of a status-change call.
type setStatusBody struct {
	Function string       `json:"function"`
	Mode     string       `json:"mode"`
	SetPoint *Measurement `json:"setPoint,omitempty"`
	Programs []programRef `json:"programs,omitempty"`
}

type programRef struct {
	Number int `json:"number"`
}

// SetDeviceStatus issues a status-change command for one thermostat.
//
// The request is validated before any network I/O; an invalid request
// returns ErrInvalidRequest without touching the platform.
func (c *Client) SetDeviceStatus(ctx context.Context, auth AuthorizationInfo, plantID, moduleID string, req SetStatusRequest) error {
	if err := req.Validate(); err != nil {
		return err
	}

	body := setStatusBody{
		Function: FunctionHeating,
		Mode:     req.Type,
	}
	switch req.Type {
	case ModeManual:
		unit := req.Unit
		if unit == "" {
			unit = "C"
		}
		body.SetPoint = &Measurement{
			Value: strconv.FormatFloat(req.Value, 'f', -1, 64),
			Unit:  unit,
		}
	case ModeBoost:
		body.Programs = []programRef{{Number: int(req.Value)}}
	case ModeAutomatic:
		body.Programs = []programRef{{Number: 0}}
	}

	path := fmt.Sprintf("/chronothermostat/thermoregulation/plants/%s/modules/parameter/id/value/%s",
		url.PathEscape(plantID), url.PathEscape(moduleID))
	return c.send(ctx, auth, http.MethodPost, path, body, nil)
}

// Webhooks lists every subscription registered for the credential.
func (c *Client) Webhooks(ctx context.Context, auth AuthorizationInfo) ([]SubscriptionInfo, error) {
	var out []SubscriptionInfo
	if err := c.get(ctx, auth, "/subscription", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// RegisterWebhook creates a push-notification subscription for a plant,
// delivered to endpointURL. The returned SubscriptionInfo has PlantID set.
func (c *Client) RegisterWebhook(ctx context.Context, auth AuthorizationInfo, plantID, endpointURL string) (SubscriptionInfo, error) {
	body := map[string]string{"EndPointUrl": endpointURL}
	var out SubscriptionInfo
	path := fmt.Sprintf("/plants/%s/subscription", url.PathEscape(plantID))
	if err := c.send(ctx, auth, http.MethodPost, path, body, &out); err != nil {
		return SubscriptionInfo{}, err
	}
	out.PlantID = plantID
	out.EndpointURL = endpointURL
	return out, nil
}

// UnregisterWebhook deletes a subscription.
func (c *Client) UnregisterWebhook(ctx context.Context, auth AuthorizationInfo, plantID, subscriptionID string) error {
	path := fmt.Sprintf("/plants/%s/subscription/%s", url.PathEscape(plantID), url.PathEscape(subscriptionID))
	return c.send(ctx, auth, http.MethodDelete, path, nil, nil)
}

// get issues an authorized GET and decodes the JSON response into out.
func (c *Client) get(ctx context.Context, auth AuthorizationInfo, path string, out any) error {
	return c.send(ctx, auth, http.MethodGet, path, nil, out)
}

// send issues an authorized request with an optional JSON body and decodes
// the response into out when non-nil.
func (c *Client) send(ctx context.Context, auth AuthorizationInfo, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request body: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+auth.AccessToken)
	req.Header.Set("Ocp-Apim-Subscription-Key", auth.Subkey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decoding response for %s: %w", path, err)
		}
	}
	return nil
}

// checkStatus maps HTTP status codes onto the package's sentinel errors.
func checkStatus(resp *http.Response) error {
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%w: status %d", ErrUnauthorized, resp.StatusCode)
	default:
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return fmt.Errorf("%w: status %d: %s", ErrRequestFailed, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
}
