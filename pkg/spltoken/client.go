// Package spltoken provides typed wrappers over the token-related
// Solana JSON-RPC methods, executed through the request governor. It
// knows how to walk the largest token accounts, resolve their owners,
// and produce the raw holder records the snapshot pipeline consumes.
package spltoken

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"go.uber.org/zap"

	"github.com/solwatch/mintwatch/internal/types"
	"github.com/solwatch/mintwatch/pkg/governor"
)

// TokenProgramID is the SPL token program address.
const TokenProgramID = "TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA"

// tokenAccountSize is the serialized size of an SPL token account,
// used as a getProgramAccounts filter.
const tokenAccountSize = 165

// Package errors.
var (
	// ErrAccountNotFound is returned when an account does not exist.
	ErrAccountNotFound = errors.New("account not found")

	// ErrNoHolders is returned when no holders with a positive balance
	// could be collected.
	ErrNoHolders = errors.New("no token holders found")
)

// Client fetches token data for a single mint. Each monitored mint
// gets its own Client and Governor pair.
type Client struct {
	gov        *governor.Governor
	mint       string
	commitment string
	logger     *zap.Logger
}

// NewClient creates a client for the given mint address.
func NewClient(gov *governor.Governor, mint string, logger *zap.Logger) (*Client, error) {
	if err := types.ValidateAddress(mint); err != nil {
		return nil, fmt.Errorf("token mint: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		gov:        gov,
		mint:       mint,
		commitment: "confirmed",
		logger:     logger,
	}, nil
}

// Mint returns the mint address this client monitors.
func (c *Client) Mint() string {
	return c.mint
}

// LargestAccount is one entry from getTokenLargestAccounts.
type LargestAccount struct {
	Address  string
	Amount   uint64
	Decimals uint8
}

// tokenAmount is the amount object in parsed token account data.
type tokenAmount struct {
	Amount   string `json:"amount"`
	Decimals uint8  `json:"decimals"`
}

// largestAccountsValue is one value entry of getTokenLargestAccounts.
type largestAccountsValue struct {
	Address  string `json:"address"`
	Amount   string `json:"amount"`
	Decimals uint8  `json:"decimals"`
}

// parsedAccountData is the jsonParsed data envelope of a token account.
type parsedAccountData struct {
	Parsed struct {
		Info struct {
			Owner       string      `json:"owner"`
			TokenAmount tokenAmount `json:"tokenAmount"`
		} `json:"info"`
		Type string `json:"type"`
	} `json:"parsed"`
	Program string `json:"program"`
}

// GetTokenLargestAccounts fetches the largest token accounts for the
// mint, sorted by the remote side in descending balance order.
func (c *Client) GetTokenLargestAccounts(ctx context.Context) ([]LargestAccount, error) {
	params := []interface{}{
		c.mint,
		map[string]interface{}{"commitment": c.commitment},
	}

	raw, err := c.gov.Execute(ctx, "getTokenLargestAccounts", params)
	if err != nil {
		return nil, err
	}

	var result struct {
		Value []largestAccountsValue `json:"value"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("unmarshal largest accounts: %w", err)
	}

	accounts := make([]LargestAccount, 0, len(result.Value))
	for _, v := range result.Value {
		amount, err := strconv.ParseUint(v.Amount, 10, 64)
		if err != nil {
			c.logger.Debug("skipping unparseable account amount",
				zap.String("address", v.Address),
				zap.String("amount", v.Amount))
			continue
		}
		accounts = append(accounts, LargestAccount{
			Address:  v.Address,
			Amount:   amount,
			Decimals: v.Decimals,
		})
	}
	return accounts, nil
}

// AccountInfo is the parsed owner and balance of one token account.
type AccountInfo struct {
	Owner  string
	Amount uint64
}

// GetAccountInfo fetches and parses a single token account.
func (c *Client) GetAccountInfo(ctx context.Context, address string) (*AccountInfo, error) {
	params := []interface{}{
		address,
		map[string]interface{}{
			"encoding":   "jsonParsed",
			"commitment": c.commitment,
		},
	}

	raw, err := c.gov.Execute(ctx, "getAccountInfo", params)
	if err != nil {
		return nil, err
	}

	var result struct {
		Value *struct {
			Data parsedAccountData `json:"data"`
		} `json:"value"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("unmarshal account info: %w", err)
	}
	if result.Value == nil {
		return nil, ErrAccountNotFound
	}

	info := result.Value.Data.Parsed.Info
	amount, err := strconv.ParseUint(info.TokenAmount.Amount, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("parse token amount %q: %w", info.TokenAmount.Amount, err)
	}
	if info.Owner == "" {
		return nil, fmt.Errorf("account %s has no owner in parsed data", address)
	}

	return &AccountInfo{
		Owner:  info.Owner,
		Amount: amount,
	}, nil
}

// GetProgramAccounts fetches every token account of the mint in one
// call via getProgramAccounts, filtered by account size and mint.
// Heavier than the largest-accounts walk but complete.
func (c *Client) GetProgramAccounts(ctx context.Context) ([]types.Holder, error) {
	params := []interface{}{
		TokenProgramID,
		map[string]interface{}{
			"encoding":   "jsonParsed",
			"commitment": c.commitment,
			"filters": []interface{}{
				map[string]interface{}{"dataSize": tokenAccountSize},
				map[string]interface{}{
					"memcmp": map[string]interface{}{
						"offset": 0,
						"bytes":  c.mint,
					},
				},
			},
		},
	}

	raw, err := c.gov.Execute(ctx, "getProgramAccounts", params)
	if err != nil {
		return nil, err
	}

	var result []struct {
		Pubkey  string `json:"pubkey"`
		Account struct {
			Data parsedAccountData `json:"data"`
		} `json:"account"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("unmarshal program accounts: %w", err)
	}

	holders := make([]types.Holder, 0, len(result))
	for _, entry := range result {
		info := entry.Account.Data.Parsed.Info
		amount, err := strconv.ParseUint(info.TokenAmount.Amount, 10, 64)
		if err != nil || info.Owner == "" {
			c.logger.Debug("skipping unparseable token account",
				zap.String("pubkey", entry.Pubkey))
			continue
		}
		if amount == 0 {
			continue
		}
		holders = append(holders, types.Holder{
			Address: info.Owner,
			Balance: amount,
		})
	}
	return holders, nil
}

// CollectHolders gathers the raw holder records for the mint. It
// prefers the complete getProgramAccounts scan and falls back to
// walking the largest accounts one by one when the scan fails or is
// unavailable on the endpoint.
func (c *Client) CollectHolders(ctx context.Context) ([]types.Holder, error) {
	holders, err := c.GetProgramAccounts(ctx)
	if err == nil && len(holders) > 0 {
		c.logger.Debug("collected holders via program accounts scan",
			zap.Int("count", len(holders)))
		return holders, nil
	}
	if err != nil {
		c.logger.Warn("program accounts scan failed, falling back to largest accounts",
			zap.Error(err))
	}

	largest, err := c.GetTokenLargestAccounts(ctx)
	if err != nil {
		return nil, fmt.Errorf("largest accounts: %w", err)
	}

	holders = holders[:0]
	for _, account := range largest {
		if account.Amount == 0 {
			continue
		}
		info, err := c.GetAccountInfo(ctx, account.Address)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			c.logger.Warn("failed to resolve token account owner",
				zap.String("address", account.Address),
				zap.Error(err))
			continue
		}
		if info.Amount == 0 {
			continue
		}
		holders = append(holders, types.Holder{
			Address: info.Owner,
			Balance: info.Amount,
		})
	}

	if len(holders) == 0 {
		return nil, ErrNoHolders
	}
	return holders, nil
}
