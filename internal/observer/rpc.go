package observer

import (
	"context"
	"encoding/json"
	"fmt"

	"dropmint/internal/rpcpool"
)

// ledgerClient wraps the RPC pool with the handful of JSON-RPC methods
// the two scanners need, decoding results into typed shapes.
type ledgerClient struct {
	pool *rpcpool.Pool
}

type blockOutput struct {
	Value        float64  `json:"value"`
	ScriptPubKey struct {
		Addresses []string `json:"addresses"`
	} `json:"scriptPubKey"`
}

type blockTx struct {
	TxID string        `json:"txid"`
	Vout []blockOutput `json:"vout"`
}

type block struct {
	Tx []blockTx `json:"tx"`
}

func (c *ledgerClient) tipHeight(ctx context.Context) (int64, bool) {
	result, err := c.pool.Call(ctx, "getblockcount", nil, 1)
	if err != nil || result == nil {
		return 0, false
	}
	var height int64
	if err := json.Unmarshal(result, &height); err != nil {
		return 0, false
	}
	return height, true
}

func (c *ledgerClient) blockAt(ctx context.Context, height int64) (*block, bool) {
	hashResult, err := c.pool.Call(ctx, "getblockhash", []any{height}, 1)
	if err != nil || hashResult == nil {
		return nil, false
	}
	var hash string
	if err := json.Unmarshal(hashResult, &hash); err != nil {
		return nil, false
	}

	blockResult, err := c.pool.Call(ctx, "getblock", []any{hash, 2}, 10)
	if err != nil || blockResult == nil {
		return nil, false
	}
	var b block
	if err := json.Unmarshal(blockResult, &b); err != nil {
		return nil, false
	}
	return &b, true
}

func (c *ledgerClient) rawMempool(ctx context.Context) ([]string, bool) {
	result, err := c.pool.Call(ctx, "getrawmempool", []any{}, 5)
	if err != nil || result == nil {
		return nil, false
	}
	var txids []string
	if err := json.Unmarshal(result, &txids); err != nil {
		return nil, false
	}
	return txids, true
}

func (c *ledgerClient) transaction(ctx context.Context, txid string) (*blockTx, bool) {
	result, err := c.pool.Call(ctx, "getrawtransaction", []any{txid, 1}, 2)
	if err != nil || result == nil {
		return nil, false
	}
	var tx blockTx
	if err := json.Unmarshal(result, &tx); err != nil {
		return nil, false
	}
	tx.TxID = txid
	return &tx, true
}

// matchOutputs scans every output of tx paid to address, returning an
// amount string at 8-decimal precision for each match. A transaction
// can carry more than one output to address (a batched spend, or two
// buyers' payments coalesced by a wallet), so every match must be
// returned, not just the first.
func matchOutputs(tx blockTx, address string) []string {
	var amountKeys []string
	for _, out := range tx.Vout {
		for _, a := range out.ScriptPubKey.Addresses {
			if a == address {
				amountKeys = append(amountKeys, formatAmount(out.Value))
				break
			}
		}
	}
	return amountKeys
}

func formatAmount(value float64) string {
	return fmt.Sprintf("%.8f", value)
}
