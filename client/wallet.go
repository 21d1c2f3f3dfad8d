package client

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Aaronyf/beam/service/events"
	"github.com/Aaronyf/beam/service/wallet"
)

// ErrStreamClosed is returned by Await when the server ends the event stream
// before a matching event arrives.
var ErrStreamClosed = errors.New("event stream closed")

// Snapshot is the wallet view served by GET /api/v1/status.
type Snapshot struct {
	Status          wallet.Status       `json:"status"`
	NodeConnected   bool                `json:"node_connected"`
	NodeError       string              `json:"node_error,omitempty"`
	Sync            events.SyncProgress `json:"sync"`
	Change          *wallet.Amount      `json:"change,omitempty"`
	CurrentSender   *wallet.WalletID    `json:"current_sender,omitempty"`
	CurrentReceiver *wallet.WalletID    `json:"current_receiver,omitempty"`
	LastGenerated   *wallet.WalletID    `json:"last_generated,omitempty"`
	LastError       *events.Error       `json:"last_error,omitempty"`
	UpdatedAt       time.Time           `json:"updated_at"`
}

// SendRequest describes a transfer. Amounts are decimal coin strings such
// as "1.25". An empty Sender uses the wallet's current sender ID.
type SendRequest struct {
	Sender   string `json:"sender,omitempty"`
	Receiver string `json:"receiver"`
	Amount   string `json:"amount"`
	Fee      string `json:"fee,omitempty"`
	Comment  string `json:"comment,omitempty"`
}

// AddressRequest creates or updates an address book entry.
type AddressRequest struct {
	WalletID string        `json:"wallet_id"`
	Label    string        `json:"label"`
	Own      bool          `json:"own"`
	Duration time.Duration `json:"-"` // zero never expires
}

// Client is the HTTP client for the beam wallet daemon. Commands return once
// the daemon has queued them; results arrive on the event stream.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a new wallet daemon client.
func NewClient(baseURL string, httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		logger:     logger,
	}
}

// Send queues a transfer.
func (c *Client) Send(ctx context.Context, req SendRequest) error {
	return c.command(ctx, http.MethodPost, "/api/v1/send", req)
}

// Sync asks the wallet to resynchronise with its node.
func (c *Client) Sync(ctx context.Context) error {
	return c.command(ctx, http.MethodPost, "/api/v1/sync", nil)
}

// CalcChange asks for the change a transfer of amount would produce.
func (c *Client) CalcChange(ctx context.Context, amount string) error {
	return c.command(ctx, http.MethodPost, "/api/v1/change", map[string]string{"amount": amount})
}

// RefreshStatus asks the wallet to re-emit its status.
func (c *Client) RefreshStatus(ctx context.Context) error {
	return c.command(ctx, http.MethodPost, "/api/v1/status/refresh", nil)
}

// RefreshUTXOs asks the wallet to re-emit its coin set.
func (c *Client) RefreshUTXOs(ctx context.Context) error {
	return c.command(ctx, http.MethodPost, "/api/v1/utxos/refresh", nil)
}

// RefreshAddresses asks the wallet to re-emit its own or foreign addresses.
func (c *Client) RefreshAddresses(ctx context.Context, own bool) error {
	return c.command(ctx, http.MethodPost, "/api/v1/addresses/refresh?own="+strconv.FormatBool(own), nil)
}

// CancelTx cancels a pending transaction.
func (c *Client) CancelTx(ctx context.Context, id string) error {
	return c.command(ctx, http.MethodPost, "/api/v1/transactions/"+url.PathEscape(id)+"/cancel", nil)
}

// DeleteTx removes a finished transaction from history.
func (c *Client) DeleteTx(ctx context.Context, id string) error {
	return c.command(ctx, http.MethodDelete, "/api/v1/transactions/"+url.PathEscape(id), nil)
}

// CreateAddress saves an address book entry.
func (c *Client) CreateAddress(ctx context.Context, req AddressRequest) error {
	body := struct {
		AddressRequest
		Duration string `json:"duration,omitempty"`
	}{AddressRequest: req}
	if req.Duration > 0 {
		body.Duration = req.Duration.String()
	}
	return c.command(ctx, http.MethodPost, "/api/v1/addresses", body)
}

// GenerateAddress asks the wallet for a new own address.
func (c *Client) GenerateAddress(ctx context.Context) error {
	return c.command(ctx, http.MethodPost, "/api/v1/addresses/generate", nil)
}

// DeleteAddress removes an own or foreign address.
func (c *Client) DeleteAddress(ctx context.Context, id string, own bool) error {
	return c.command(ctx, http.MethodDelete, "/api/v1/addresses/"+url.PathEscape(id)+"?own="+strconv.FormatBool(own), nil)
}

// SetCurrentIDs changes the default sender and receiver.
func (c *Client) SetCurrentIDs(ctx context.Context, sender, receiver string) error {
	return c.command(ctx, http.MethodPut, "/api/v1/current-ids", map[string]string{"sender": sender, "receiver": receiver})
}

// SetNodeAddress switches the wallet to another node.
func (c *Client) SetNodeAddress(ctx context.Context, addr string) error {
	return c.command(ctx, http.MethodPut, "/api/v1/node", map[string]string{"address": addr})
}

// ChangePassword changes the wallet password.
func (c *Client) ChangePassword(ctx context.Context, password string) error {
	return c.command(ctx, http.MethodPut, "/api/v1/password", map[string]string{"password": password})
}

// CheckReceiver asks the wallet whether addr can receive funds.
func (c *Client) CheckReceiver(ctx context.Context, addr string) error {
	return c.command(ctx, http.MethodPost, "/api/v1/receiver-check", map[string]string{"address": addr})
}

// Status returns the daemon's latest wallet view.
func (c *Client) Status(ctx context.Context) (*Snapshot, error) {
	var snap Snapshot
	if err := c.get(ctx, "/api/v1/status", &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

// UTXOs returns the last reported coin set.
func (c *Client) UTXOs(ctx context.Context) ([]wallet.Coin, error) {
	var resp struct {
		Coins []wallet.Coin `json:"coins"`
	}
	if err := c.get(ctx, "/api/v1/utxos", &resp); err != nil {
		return nil, err
	}
	return resp.Coins, nil
}

// Transactions returns the transaction history.
func (c *Client) Transactions(ctx context.Context) ([]wallet.TxDescription, error) {
	var resp struct {
		Transactions []wallet.TxDescription `json:"transactions"`
	}
	if err := c.get(ctx, "/api/v1/transactions", &resp); err != nil {
		return nil, err
	}
	return resp.Transactions, nil
}

// Peers returns known counterparties.
func (c *Client) Peers(ctx context.Context) ([]wallet.TxPeer, error) {
	var resp struct {
		Peers []wallet.TxPeer `json:"peers"`
	}
	if err := c.get(ctx, "/api/v1/peers", &resp); err != nil {
		return nil, err
	}
	return resp.Peers, nil
}

// Addresses returns own or foreign addresses.
func (c *Client) Addresses(ctx context.Context, own bool) ([]wallet.WalletAddress, error) {
	var resp struct {
		Addresses []wallet.WalletAddress `json:"addresses"`
	}
	if err := c.get(ctx, "/api/v1/addresses?own="+strconv.FormatBool(own), &resp); err != nil {
		return nil, err
	}
	return resp.Addresses, nil
}

// ReceiverCheck returns the last check result for addr. checked is false
// when the wallet has not answered yet.
func (c *Client) ReceiverCheck(ctx context.Context, addr string) (valid, checked bool, err error) {
	var resp struct {
		Valid   bool `json:"valid"`
		Checked bool `json:"checked"`
	}
	if err := c.get(ctx, "/api/v1/receiver-check?address="+url.QueryEscape(addr), &resp); err != nil {
		return false, false, err
	}
	return resp.Valid, resp.Checked, nil
}

// Health reports whether the daemon is serving.
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check failed with status %d", resp.StatusCode)
	}
	return nil
}

// Stream connects to the event stream and calls fn for every envelope until
// ctx ends, the server closes the stream or fn returns an error. Kinds
// restricts the stream; empty means every kind. A nil return means the
// server ended the stream.
func (c *Client) Stream(ctx context.Context, kinds []string, fn func(events.Envelope) error) error {
	u := c.baseURL + "/api/v1/stream"
	if len(kinds) > 0 {
		u += "?kinds=" + url.QueryEscape(strings.Join(kinds, ","))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")

	// The stream is long-lived: drop the client timeout, keep its transport.
	streamClient := *c.httpClient
	streamClient.Timeout = 0
	resp, err := streamClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to connect to event stream: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return c.parseErrorResponse(resp)
	}
	c.logger.Debug("event stream connected", "kinds", kinds)

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	var currentEvent, currentData string
	for scanner.Scan() {
		line := scanner.Text()

		// Empty line indicates end of event
		if line == "" {
			if currentEvent != "" && currentEvent != "connected" && currentData != "" {
				var env events.Envelope
				if err := json.Unmarshal([]byte(currentData), &env); err != nil {
					c.logger.Warn("failed to decode event", "event", currentEvent, "error", err)
				} else if err := fn(env); err != nil {
					return err
				}
			}
			currentEvent, currentData = "", ""
			continue
		}

		if strings.HasPrefix(line, "event:") {
			currentEvent = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		} else if strings.HasPrefix(line, "data:") {
			currentData = strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		}
	}
	if err := scanner.Err(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("error reading event stream: %w", err)
	}
	return nil
}

var errMatched = errors.New("matched")

// Await blocks until an event on the stream satisfies match, and returns it.
// Envelopes of unknown kinds are skipped.
func (c *Client) Await(ctx context.Context, kinds []string, match func(events.Event) bool) (events.Event, error) {
	var found events.Event
	err := c.Stream(ctx, kinds, func(env events.Envelope) error {
		ev, err := env.Decode()
		if err != nil {
			c.logger.Warn("skipping undecodable event", "kind", env.Kind, "error", err)
			return nil
		}
		if match(ev) {
			found = ev
			return errMatched
		}
		return nil
	})
	switch {
	case errors.Is(err, errMatched):
		return found, nil
	case err != nil:
		return nil, err
	default:
		return nil, ErrStreamClosed
	}
}

// command sends a request and expects 202 Accepted.
func (c *Client) command(ctx context.Context, method, path string, payload any) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		return c.parseErrorResponse(resp)
	}

	c.logger.Debug("command accepted", "method", method, "path", path)
	return nil
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return c.parseErrorResponse(resp)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// parseErrorResponse attempts to parse an error response from the server.
func (c *Client) parseErrorResponse(resp *http.Response) error {
	var errResp struct {
		Error string `json:"error"`
	}

	body, _ := io.ReadAll(resp.Body)
	if err := json.Unmarshal(body, &errResp); err != nil || errResp.Error == "" {
		return fmt.Errorf("request failed with status %d: %s", resp.StatusCode, string(body))
	}

	return fmt.Errorf("request failed: %s", errResp.Error)
}
