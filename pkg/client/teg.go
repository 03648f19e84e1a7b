package client

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/shopspring/decimal"
)

// LedgerProfile is an agent's token-economy account.
type LedgerProfile struct {
	AgentDID        string          `json:"agent_did"`
	Balance         decimal.Decimal `json:"balance"`
	StakedTotal     decimal.Decimal `json:"staked_total"`
	ReputationScore int             `json:"reputation_score"`
	Status          string          `json:"status"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// Transaction is a ledger transaction record.
type Transaction struct {
	TxID             string          `json:"tx_id"`
	IdempotencyKey   *string         `json:"idempotency_key,omitempty"`
	SenderDID        string          `json:"sender_did"`
	ReceiverDID      string          `json:"receiver_did"`
	Amount           decimal.Decimal `json:"amount"`
	FeeAmount        decimal.Decimal `json:"fee_amount"`
	Type             string          `json:"type"`
	Status           string          `json:"status"`
	Timestamp        time.Time       `json:"timestamp"`
	Message          string          `json:"attached_message,omitempty"`
	ReputationSignal int             `json:"reputation_signal"`
	SignalApplied    bool            `json:"signal_applied"`
}

// TransferRequest moves tokens to another agent. Supplying an
// IdempotencyKey makes the call safely retryable: a retry returns the
// original transaction instead of spending twice.
type TransferRequest struct {
	ReceiverDID    string
	Amount         decimal.Decimal
	Message        string
	IdempotencyKey string
}

// TransferResult is the outcome of a Transfer. Replayed reports that the
// idempotency key matched an earlier completed transfer.
type TransferResult struct {
	Transaction Transaction `json:"transaction"`
	Replayed    bool        `json:"replayed"`
}

// Stake is a staked token position.
type Stake struct {
	StakeID            string          `json:"stake_id"`
	AgentDID           string          `json:"agent_did"`
	Amount             decimal.Decimal `json:"amount"`
	StakedAt           time.Time       `json:"staked_at"`
	Status             string          `json:"status"`
	UnstakeAvailableAt *time.Time      `json:"unstake_available_at,omitempty"`
}

// ReputationSummary is the public reputation lookup result.
type ReputationSummary struct {
	AgentDID        string `json:"agent_did"`
	ReputationScore int    `json:"reputation_score"`
}

// Balance returns the caller's ledger profile. A fresh agent sees zero
// balances rather than an error.
func (c *Client) Balance(ctx context.Context) (*LedgerProfile, error) {
	var p LedgerProfile
	if err := c.call(ctx, http.MethodGet, "/api/v1/token/balance", nil, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// Transfer sends tokens from the caller to another agent.
func (c *Client) Transfer(ctx context.Context, req TransferRequest) (*TransferResult, error) {
	payload := map[string]string{
		"receiver_did": req.ReceiverDID,
		"amount":       req.Amount.String(),
	}
	if req.Message != "" {
		payload["message"] = req.Message
	}

	var headers http.Header
	if req.IdempotencyKey != "" {
		headers = http.Header{"Idempotency-Key": []string{req.IdempotencyKey}}
	}
	var out TransferResult
	if err := c.callWithHeaders(ctx, http.MethodPost, "/api/v1/token/transfer", headers, payload, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Transactions returns the caller's transaction history, newest first.
func (c *Client) Transactions(ctx context.Context, limit, offset int) ([]Transaction, error) {
	var out struct {
		Transactions []Transaction `json:"transactions"`
	}
	path := fmt.Sprintf("/api/v1/token/transactions?limit=%d&offset=%d", limit, offset)
	if err := c.call(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Transactions, nil
}

// SendReputationSignal applies a one-time -1 or +1 signal to the receiver
// of a completed transfer the caller sent.
func (c *Client) SendReputationSignal(ctx context.Context, txID string, signal int) (*Transaction, error) {
	var tx Transaction
	path := "/api/v1/token/" + url.PathEscape(txID) + "/reputation-signal"
	if err := c.call(ctx, http.MethodPost, path, map[string]int{"signal": signal}, &tx); err != nil {
		return nil, err
	}
	return &tx, nil
}

// Reputation looks up the public reputation score of any agent by DID.
func (c *Client) Reputation(ctx context.Context, agentDID string) (*ReputationSummary, error) {
	var out ReputationSummary
	path := "/api/v1/reputation/" + url.PathEscape(agentDID)
	if err := c.call(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// StakeTokens locks amount from the caller's spendable balance into a new
// stake position.
func (c *Client) StakeTokens(ctx context.Context, amount decimal.Decimal) (*Stake, error) {
	var st Stake
	payload := map[string]string{"amount": amount.String()}
	if err := c.call(ctx, http.MethodPost, "/api/v1/agent/stake", payload, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// UnstakeTokens starts the unstake notice period for a stake position. The
// returned stake carries the time at which funds release.
func (c *Client) UnstakeTokens(ctx context.Context, stakeID string) (*Stake, error) {
	var st Stake
	payload := map[string]string{"stake_id": stakeID}
	if err := c.call(ctx, http.MethodPost, "/api/v1/agent/unstake", payload, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// Stakes lists the caller's stake positions.
func (c *Client) Stakes(ctx context.Context) ([]Stake, error) {
	var out struct {
		Stakes []Stake `json:"stakes"`
	}
	if err := c.call(ctx, http.MethodGet, "/api/v1/agent/stakes", nil, &out); err != nil {
		return nil, err
	}
	return out.Stakes, nil
}
