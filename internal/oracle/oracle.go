// ABOUTME: Token balance oracle backed by Solana JSON-RPC getTokenAccountsByOwner
// ABOUTME: Resolves a wallet's holdings of one SPL mint to a UI-denominated amount

package oracle

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"time"

	"github.com/tidwall/gjson"
)

// ErrRPC is returned when the RPC node answers with an error object.
var ErrRPC = errors.New("rpc error")

// BalanceOracle resolves a wallet's holdings of a fungible token.
type BalanceOracle interface {
	Balance(ctx context.Context, wallet, mint string) (float64, error)
}

// SolanaOracle queries a Solana RPC node.
type SolanaOracle struct {
	endpoint   string
	httpClient *http.Client
}

// NewSolanaOracle creates an oracle for the given RPC endpoint.
func NewSolanaOracle(endpoint string, httpClient *http.Client) *SolanaOracle {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &SolanaOracle{endpoint: endpoint, httpClient: httpClient}
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int    `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

// Balance sums the uiAmount of every token account wallet holds for mint.
// A wallet with no token account has a balance of 0.
func (o *SolanaOracle) Balance(ctx context.Context, wallet, mint string) (float64, error) {
	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      1,
		Method:  "getTokenAccountsByOwner",
		Params: []any{
			wallet,
			map[string]string{"mint": mint},
			map[string]string{"encoding": "jsonParsed"},
		},
	})
	if err != nil {
		return 0, fmt.Errorf("encoding rpc request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.endpoint, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("creating rpc request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("calling rpc: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return 0, fmt.Errorf("reading rpc response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("%w: http status %d", ErrRPC, resp.StatusCode)
	}
	if !gjson.ValidBytes(data) {
		return 0, fmt.Errorf("%w: malformed response", ErrRPC)
	}

	if rpcErr := gjson.GetBytes(data, "error"); rpcErr.Exists() {
		return 0, fmt.Errorf("%w: %s", ErrRPC, rpcErr.Get("message").String())
	}

	accounts := gjson.GetBytes(data, "result.value")
	if !accounts.IsArray() {
		return 0, fmt.Errorf("%w: missing result.value", ErrRPC)
	}

	var total float64
	accounts.ForEach(func(_, acct gjson.Result) bool {
		total += acct.Get("account.data.parsed.info.tokenAmount.uiAmount").Float()
		return true
	})
	if math.IsNaN(total) || math.IsInf(total, 0) {
		return 0, fmt.Errorf("%w: balance out of range", ErrRPC)
	}
	return total, nil
}

// timeoutOracle bounds every query of the wrapped oracle.
type timeoutOracle struct {
	next    BalanceOracle
	timeout time.Duration
}

// WithTimeout wraps o so every Balance call is bounded by d.
func WithTimeout(o BalanceOracle, d time.Duration) BalanceOracle {
	if d <= 0 {
		return o
	}
	return &timeoutOracle{next: o, timeout: d}
}

func (t *timeoutOracle) Balance(ctx context.Context, wallet, mint string) (float64, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	return t.next.Balance(ctx, wallet, mint)
}

// Static is a fixed-balance oracle keyed by wallet. Unknown wallets hold 0.
type Static map[string]float64

// Balance implements BalanceOracle.
func (s Static) Balance(_ context.Context, wallet, _ string) (float64, error) {
	return s[wallet], nil
}
