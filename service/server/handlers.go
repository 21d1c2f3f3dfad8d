package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/Aaronyf/beam/service/bridge"
	"github.com/Aaronyf/beam/service/wallet"
	"github.com/gagliardetto/solana-go"
	"github.com/google/uuid"
)

const (
	maxRequestBodySize = 1 << 16
	maxAddressLength   = 64
	maxCommentLength   = 1024
	maxLabelLength     = 128
)

var (
	// Valid address characters: base58 (no 0, O, I, l)
	validAddressRegex = regexp.MustCompile(`^[1-9A-HJ-NP-Za-km-z]+$`)
)

// Wallet is the command surface the HTTP API drives. *actor.Async
// implements it.
type Wallet interface {
	SendMoney(sender, receiver wallet.WalletID, amount, fee wallet.Amount) error
	SendMoneyWithComment(receiver wallet.WalletID, comment string, amount, fee wallet.Amount) error
	SyncWithNode() error
	CalcChange(amount wallet.Amount) error
	GetWalletStatus() error
	GetUTXOsStatus() error
	GetAddresses(own bool) error
	CancelTx(id wallet.TxID) error
	DeleteTx(id wallet.TxID) error
	CreateNewAddress(addr wallet.WalletAddress) error
	ChangeCurrentWalletIDs(sender, receiver wallet.WalletID) error
	GenerateNewWalletID() error
	DeleteAddress(id wallet.WalletID) error
	DeleteOwnAddress(id wallet.WalletID) error
	SetNodeAddress(addr string) error
	ChangeWalletPassword(secret []byte) error
	CheckReceiverAddress(addr string) error
}

// acceptedResponse acknowledges a queued command. Results arrive on the
// event stream.
type acceptedResponse struct {
	Status  string `json:"status"`
	Command string `json:"command"`
}

// accept writes 202 for a queued command, or the submit error.
func accept(w http.ResponseWriter, logger *slog.Logger, command string, err error) {
	if err != nil {
		if errors.Is(err, bridge.ErrClosed) {
			writeError(w, "wallet is shutting down", http.StatusServiceUnavailable)
			return
		}
		logger.Error("failed to submit command", "command", command, "error", err)
		writeError(w, "internal server error", http.StatusInternalServerError)
		return
	}
	logger.Debug("command queued", "command", command)
	writeJSON(w, acceptedResponse{Status: "accepted", Command: command}, http.StatusAccepted)
}

type sendRequest struct {
	Sender   string `json:"sender,omitempty"`
	Receiver string `json:"receiver"`
	Amount   string `json:"amount"`
	Fee      string `json:"fee,omitempty"`
	Comment  string `json:"comment,omitempty"`
}

// handleSendMoney queues a transfer. With a comment the wallet sends from a
// freshly generated own address.
// POST /api/v1/send
func handleSendMoney(wal Wallet, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req sendRequest
		if !decodeBody(w, r, &req) {
			return
		}

		receiver, err := parseWalletID("receiver", req.Receiver)
		if err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}
		amount, err := parseAmount("amount", req.Amount, true)
		if err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}
		fee, err := parseAmount("fee", req.Fee, false)
		if err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}
		if len(req.Comment) > maxCommentLength {
			writeError(w, fmt.Sprintf("comment too long: maximum length is %d characters", maxCommentLength), http.StatusBadRequest)
			return
		}

		if req.Comment != "" {
			accept(w, logger, "send_money_with_comment", wal.SendMoneyWithComment(receiver, req.Comment, amount, fee))
			return
		}

		var sender wallet.WalletID
		if req.Sender != "" {
			if sender, err = parseWalletID("sender", req.Sender); err != nil {
				writeError(w, err.Error(), http.StatusBadRequest)
				return
			}
		}
		accept(w, logger, "send_money", wal.SendMoney(sender, receiver, amount, fee))
	})
}

// POST /api/v1/sync
func handleSync(wal Wallet, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		accept(w, logger, "sync_with_node", wal.SyncWithNode())
	})
}

// POST /api/v1/change
func handleCalcChange(wal Wallet, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Amount string `json:"amount"`
		}
		if !decodeBody(w, r, &req) {
			return
		}
		amount, err := parseAmount("amount", req.Amount, true)
		if err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}
		accept(w, logger, "calc_change", wal.CalcChange(amount))
	})
}

// GET /api/v1/status
func handleGetStatus(cache *Cache) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, cache.Snapshot(), http.StatusOK)
	})
}

// POST /api/v1/status/refresh
func handleRefreshStatus(wal Wallet, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		accept(w, logger, "get_wallet_status", wal.GetWalletStatus())
	})
}

// GET /api/v1/utxos
func handleListUTXOs(cache *Cache) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"coins": cache.Coins()}, http.StatusOK)
	})
}

// POST /api/v1/utxos/refresh
func handleRefreshUTXOs(wal Wallet, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		accept(w, logger, "get_utxos_status", wal.GetUTXOsStatus())
	})
}

// GET /api/v1/transactions
func handleListTransactions(cache *Cache) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		txs := cache.Transactions()
		writeJSON(w, map[string]any{"transactions": txs, "count": len(txs)}, http.StatusOK)
	})
}

// POST /api/v1/transactions/{id}/cancel
func handleCancelTx(wal Wallet, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := parseTxID(r.PathValue("id"))
		if err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}
		accept(w, logger, "cancel_tx", wal.CancelTx(id))
	})
}

// DELETE /api/v1/transactions/{id}
func handleDeleteTx(wal Wallet, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := parseTxID(r.PathValue("id"))
		if err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}
		accept(w, logger, "delete_tx", wal.DeleteTx(id))
	})
}

// GET /api/v1/peers
func handleListPeers(cache *Cache) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"peers": cache.Peers()}, http.StatusOK)
	})
}

// GET /api/v1/addresses?own=true
func handleListAddresses(cache *Cache) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		own, err := parseBoolQuery(r, "own")
		if err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}
		writeJSON(w, map[string]any{"own": own, "addresses": cache.Addresses(own)}, http.StatusOK)
	})
}

// POST /api/v1/addresses/refresh?own=true
func handleRefreshAddresses(wal Wallet, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		own, err := parseBoolQuery(r, "own")
		if err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}
		accept(w, logger, "get_addresses", wal.GetAddresses(own))
	})
}

type createAddressRequest struct {
	WalletID string `json:"wallet_id"`
	Label    string `json:"label"`
	Own      bool   `json:"own"`
	Duration string `json:"duration,omitempty"` // empty never expires
}

// POST /api/v1/addresses
func handleCreateAddress(wal Wallet, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req createAddressRequest
		if !decodeBody(w, r, &req) {
			return
		}
		id, err := parseWalletID("wallet_id", req.WalletID)
		if err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}
		if len(req.Label) > maxLabelLength {
			writeError(w, fmt.Sprintf("label too long: maximum length is %d characters", maxLabelLength), http.StatusBadRequest)
			return
		}
		var duration time.Duration
		if req.Duration != "" {
			duration, err = time.ParseDuration(req.Duration)
			if err != nil || duration < 0 {
				writeError(w, "invalid duration format (use Go duration format like '24h')", http.StatusBadRequest)
				return
			}
		}
		accept(w, logger, "create_new_address", wal.CreateNewAddress(wallet.WalletAddress{
			WalletID: id,
			Label:    req.Label,
			Own:      req.Own,
			Duration: duration,
		}))
	})
}

// POST /api/v1/addresses/generate
func handleGenerateAddress(wal Wallet, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		accept(w, logger, "generate_new_wallet_id", wal.GenerateNewWalletID())
	})
}

// DELETE /api/v1/addresses/{id}?own=true
func handleDeleteAddress(wal Wallet, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := parseWalletID("address", r.PathValue("id"))
		if err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}
		own, err := parseBoolQuery(r, "own")
		if err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}
		if own {
			accept(w, logger, "delete_own_address", wal.DeleteOwnAddress(id))
			return
		}
		accept(w, logger, "delete_address", wal.DeleteAddress(id))
	})
}

// PUT /api/v1/current-ids
func handleSetCurrentIDs(wal Wallet, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Sender   string `json:"sender"`
			Receiver string `json:"receiver"`
		}
		if !decodeBody(w, r, &req) {
			return
		}
		sender, err := parseWalletID("sender", req.Sender)
		if err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}
		receiver, err := parseWalletID("receiver", req.Receiver)
		if err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}
		accept(w, logger, "change_current_wallet_ids", wal.ChangeCurrentWalletIDs(sender, receiver))
	})
}

// PUT /api/v1/node
func handleSetNodeAddress(wal Wallet, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Address string `json:"address"`
		}
		if !decodeBody(w, r, &req) {
			return
		}
		addr := strings.TrimSpace(req.Address)
		if addr == "" {
			writeError(w, "address is required", http.StatusBadRequest)
			return
		}
		// Resolution happens on the wallet; failures arrive as events.
		accept(w, logger, "set_node_address", wal.SetNodeAddress(addr))
	})
}

// PUT /api/v1/password
func handleChangePassword(wal Wallet, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Password string `json:"password"`
		}
		if !decodeBody(w, r, &req) {
			return
		}
		if req.Password == "" {
			writeError(w, "password is required", http.StatusBadRequest)
			return
		}
		accept(w, logger, "change_wallet_password", wal.ChangeWalletPassword([]byte(req.Password)))
	})
}

// POST /api/v1/receiver-check
func handleCheckReceiver(wal Wallet, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Address string `json:"address"`
		}
		if !decodeBody(w, r, &req) {
			return
		}
		accept(w, logger, "check_receiver_address", wal.CheckReceiverAddress(req.Address))
	})
}

// GET /api/v1/receiver-check?address=...
func handleGetReceiverCheck(cache *Cache) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		addr := r.URL.Query().Get("address")
		valid, checked := cache.ReceiverCheck(addr)
		writeJSON(w, map[string]any{"address": addr, "valid": valid, "checked": checked}, http.StatusOK)
	})
}

// decodeBody decodes a size-limited JSON body into v, writing the error
// response itself when it fails.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, "request body too large", http.StatusBadRequest)
			return false
		}
		writeError(w, "invalid request body", http.StatusBadRequest)
		return false
	}
	return true
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, data any, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(map[string]string{
		"error": message,
	})
}

// validateAddress validates a wallet address for format before decoding.
func validateAddress(field, address string) error {
	if address == "" {
		return errorf("%s is required", field)
	}

	if len(address) > maxAddressLength {
		return errorf("%s too long: maximum length is %d characters", field, maxAddressLength)
	}

	for _, r := range address {
		if r == 0 || unicode.IsControl(r) {
			return errorf("invalid characters in %s: control characters not allowed", field)
		}
	}

	if !validAddressRegex.MatchString(address) {
		return errorf("invalid %s format: must contain only valid base58 characters", field)
	}

	return nil
}

func parseWalletID(field, s string) (wallet.WalletID, error) {
	if err := validateAddress(field, s); err != nil {
		return wallet.WalletID{}, err
	}
	id, err := solana.PublicKeyFromBase58(s)
	if err != nil {
		return wallet.WalletID{}, errorf("invalid %s: %v", field, err)
	}
	return id, nil
}

func parseTxID(s string) (wallet.TxID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return wallet.TxID{}, errorf("invalid transaction id %q", s)
	}
	return id, nil
}

// parseAmount parses a decimal coin value. Optional amounts default to zero.
func parseAmount(field, s string, required bool) (wallet.Amount, error) {
	if s == "" {
		if required {
			return 0, errorf("%s is required", field)
		}
		return 0, nil
	}
	a, err := wallet.ParseAmount(s)
	if err != nil {
		return 0, errorf("invalid %s: %v", field, err)
	}
	if required && a == 0 {
		return 0, errorf("%s must be positive", field)
	}
	return a, nil
}

func parseBoolQuery(r *http.Request, key string) (bool, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return false, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, errorf("invalid %s: must be true or false", key)
	}
	return v, nil
}

// errorf is a helper to format error strings.
func errorf(format string, args ...any) error {
	return &validationError{msg: strings.TrimSpace(fmt.Sprintf(format, args...))}
}

type validationError struct {
	msg string
}

func (e *validationError) Error() string {
	return e.msg
}
