package ledger

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"
)

// RPCClient implements Client against an Ethereum-compatible JSON-RPC
// endpoint (ganache, geth dev chains). Accounts are node-managed:
// submissions go through eth_sendTransaction on an unlocked account.
type RPCClient struct {
	url       string
	client    *http.Client
	logger    *slog.Logger
	pollEvery time.Duration
	nextID    atomic.Uint64
}

// RPCConfig configures the JSON-RPC connection.
type RPCConfig struct {
	URL          string
	Timeout      time.Duration
	PollInterval time.Duration
}

// NewRPCClient builds a JSON-RPC ledger client.
func NewRPCClient(cfg RPCConfig, logger *slog.Logger) *RPCClient {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	poll := cfg.PollInterval
	if poll == 0 {
		poll = time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RPCClient{
		url:       cfg.URL,
		client:    &http.Client{Timeout: timeout},
		logger:    logger,
		pollEvery: poll,
	}
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      uint64 `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

func (c *RPCClient) call(ctx context.Context, method string, params ...any) (json.RawMessage, error) {
	if params == nil {
		params = []any{}
	}
	reqBody, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      c.nextID.Add(1),
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(reqBody))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ledger: %s: %w", method, err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("ledger: %s: read response: %w", method, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("ledger: %s: HTTP %d", method, resp.StatusCode)
	}

	var rpcResp rpcResponse
	if err := json.Unmarshal(raw, &rpcResp); err != nil {
		return nil, fmt.Errorf("ledger: %s: decode: %w", method, err)
	}
	if rpcResp.Error != nil {
		return nil, fmt.Errorf("ledger: %s: %w", method, rpcResp.Error)
	}
	return rpcResp.Result, nil
}

func (c *RPCClient) callUint(ctx context.Context, method string, params ...any) (uint64, error) {
	res, err := c.call(ctx, method, params...)
	if err != nil {
		return 0, err
	}
	var hexVal string
	if err := json.Unmarshal(res, &hexVal); err != nil {
		return 0, fmt.Errorf("ledger: %s: unexpected result %s", method, res)
	}
	return parseHexUint(hexVal)
}

func (c *RPCClient) ChainID(ctx context.Context) (uint64, error) {
	return c.callUint(ctx, "eth_chainId")
}

func (c *RPCClient) PendingNonce(ctx context.Context, account string) (uint64, error) {
	return c.callUint(ctx, "eth_getTransactionCount", account, "pending")
}

func (c *RPCClient) GasPrice(ctx context.Context) (uint64, error) {
	return c.callUint(ctx, "eth_gasPrice")
}

func (c *RPCClient) Submit(ctx context.Context, tx Transaction) (string, error) {
	param := map[string]string{
		"from":     tx.From,
		"to":       tx.To,
		"value":    encodeHexUint(tx.Value),
		"gas":      encodeHexUint(tx.Gas),
		"gasPrice": encodeHexUint(tx.GasPrice),
		"nonce":    encodeHexUint(tx.Nonce),
		"data":     encodeHexBytes(tx.Data),
	}
	res, err := c.call(ctx, "eth_sendTransaction", param)
	if err != nil {
		return "", err
	}
	var txID string
	if err := json.Unmarshal(res, &txID); err != nil {
		return "", fmt.Errorf("ledger: eth_sendTransaction: unexpected result %s", res)
	}
	return txID, nil
}

type rpcTransaction struct {
	Hash        string `json:"hash"`
	Input       string `json:"input"`
	BlockNumber string `json:"blockNumber"`
}

func (c *RPCClient) GetTransaction(ctx context.Context, txID string) (*TxRecord, error) {
	res, err := c.call(ctx, "eth_getTransactionByHash", txID)
	if err != nil {
		return nil, err
	}
	if isNull(res) {
		return nil, fmt.Errorf("ledger: transaction %s not found", txID)
	}
	var tx rpcTransaction
	if err := json.Unmarshal(res, &tx); err != nil {
		return nil, fmt.Errorf("ledger: decode transaction: %w", err)
	}
	data, err := decodeHexBytes(tx.Input)
	if err != nil {
		return nil, fmt.Errorf("ledger: decode transaction data: %w", err)
	}
	record := &TxRecord{TxID: tx.Hash, Data: data}
	if tx.BlockNumber != "" {
		if block, err := parseHexUint(tx.BlockNumber); err == nil {
			record.BlockNumber = block
		}
	}
	return record, nil
}

type rpcReceipt struct {
	TransactionHash string `json:"transactionHash"`
	BlockNumber     string `json:"blockNumber"`
	GasUsed         string `json:"gasUsed"`
	Status          string `json:"status"`
}

func (c *RPCClient) WaitForReceipt(ctx context.Context, txID string, timeout time.Duration) (*TxReceipt, error) {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(c.pollEvery)
	defer ticker.Stop()

	for {
		res, err := c.call(ctx, "eth_getTransactionReceipt", txID)
		if err == nil && !isNull(res) {
			var r rpcReceipt
			if err := json.Unmarshal(res, &r); err != nil {
				return nil, fmt.Errorf("ledger: decode receipt: %w", err)
			}
			block, _ := parseHexUint(r.BlockNumber)
			gas, _ := parseHexUint(r.GasUsed)
			status, _ := parseHexUint(r.Status)
			return &TxReceipt{
				TxID:        r.TransactionHash,
				BlockNumber: block,
				GasUsed:     gas,
				Succeeded:   status == 1,
			}, nil
		}
		if err != nil {
			c.logger.Debug("receipt poll failed", "tx", txID, "err", err)
		}

		if time.Now().After(deadline) {
			return nil, fmt.Errorf("ledger: no receipt for %s within %s", txID, timeout)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (c *RPCClient) Ping(ctx context.Context) error {
	_, err := c.call(ctx, "net_version")
	return err
}

func isNull(raw json.RawMessage) bool {
	return len(raw) == 0 || string(raw) == "null"
}

func encodeHexUint(v uint64) string {
	return "0x" + strconv.FormatUint(v, 16)
}

func parseHexUint(s string) (uint64, error) {
	s = strings.TrimPrefix(s, "0x")
	if s == "" {
		return 0, fmt.Errorf("empty hex quantity")
	}
	return strconv.ParseUint(s, 16, 64)
}

func encodeHexBytes(b []byte) string {
	return "0x" + hex.EncodeToString(b)
}

func decodeHexBytes(s string) ([]byte, error) {
	return hex.DecodeString(strings.TrimPrefix(s, "0x"))
}
