// Package rpcpool is the multi-backend RPC pool (C2): a fair,
// capacity-aware JSON-RPC v2 client that spreads calls across several
// rate-limited upstream providers, with failover and daily-quota
// accounting.
package rpcpool

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"
)

// Endpoint describes one upstream the pool may route calls to.
type Endpoint struct {
	Name       string
	URL        string
	DailyLimit int64

	mu        sync.Mutex
	usedToday int64
	resetDate string // YYYY-MM-DD, the day usedToday was last zeroed
	enabled   bool
	failCount int
}

// NewEndpoint constructs an enabled endpoint with zeroed counters.
func NewEndpoint(name, url string, dailyLimit int64) *Endpoint {
	return &Endpoint{Name: name, URL: url, DailyLimit: dailyLimit, enabled: true}
}

// Pool fans calls out across its endpoints per the selection algorithm
// in spec §4.2: most-remaining-capacity wins, three failures disable,
// a new day resets everything.
type Pool struct {
	endpoints []*Endpoint
	client    *http.Client
	now       func() time.Time
}

// DefaultDailyLimit matches the five-endpoints-at-50k default.
const DefaultDailyLimit = 50_000

// New builds a pool over the given endpoints.
func New(endpoints []*Endpoint) *Pool {
	return &Pool{
		endpoints: endpoints,
		client:    &http.Client{Timeout: 10 * time.Second},
		now:       time.Now,
	}
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int    `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// Call selects an endpoint, issues a JSON-RPC v2 POST, and accounts
// cost units against that endpoint's daily quota. It returns (nil, nil)
// — not an error — when no endpoint currently has capacity, matching
// the "return null" contract observers are written against.
func (p *Pool) Call(ctx context.Context, method string, params any, cost int64) (json.RawMessage, error) {
	p.rolloverDay()

	attempted := make(map[string]bool)
	for attempt := 0; attempt < len(p.endpoints); attempt++ {
		ep := p.selectCandidate(attempted)
		if ep == nil {
			return nil, nil
		}
		attempted[ep.Name] = true

		result, err := p.callEndpoint(ctx, ep, method, params)
		if err != nil {
			ep.recordFailure()
			log.Printf("[rpcpool] %s failed (%v), fail_count=%d", ep.Name, err, ep.failCountSnapshot())
			continue
		}
		ep.recordSuccess(cost)
		return result, nil
	}
	return nil, nil
}

func (p *Pool) callEndpoint(ctx context.Context, ep *Endpoint, method string, params any) (json.RawMessage, error) {
	body, err := json.Marshal(rpcRequest{JSONRPC: "2.0", ID: 1, Method: method, Params: params})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ep.URL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("transport: %w", err)
	}
	defer resp.Body.Close()

	var rpcResp rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if rpcResp.Error != nil {
		return nil, fmt.Errorf("rpc error %d: %s", rpcResp.Error.Code, rpcResp.Error.Message)
	}
	return rpcResp.Result, nil
}

// selectCandidate picks the eligible endpoint with the most remaining
// capacity, skipping names already attempted this call.
func (p *Pool) selectCandidate(attempted map[string]bool) *Endpoint {
	var best *Endpoint
	var bestRemaining int64 = -1

	for _, ep := range p.endpoints {
		if attempted[ep.Name] {
			continue
		}
		remaining, eligible := ep.eligible()
		if !eligible {
			continue
		}
		if remaining > bestRemaining {
			best = ep
			bestRemaining = remaining
		}
	}
	return best
}

// rolloverDay zeroes any endpoint whose reset_date has fallen behind today.
func (p *Pool) rolloverDay() {
	today := p.now().Format("2006-01-02")
	for _, ep := range p.endpoints {
		ep.rolloverIfStale(today)
	}
}

// Capacity reports (total_remaining, enabled_count) for adaptive scheduling.
func (p *Pool) Capacity() (totalRemaining int64, enabledCount int) {
	p.rolloverDay()
	for _, ep := range p.endpoints {
		remaining, enabled := ep.capacitySnapshot()
		if enabled {
			enabledCount++
			totalRemaining += remaining
		}
	}
	return totalRemaining, enabledCount
}

func (e *Endpoint) eligible() (remaining int64, ok bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	remaining = e.DailyLimit - e.usedToday
	ok = e.enabled && e.usedToday < int64(0.9*float64(e.DailyLimit)) && e.failCount < 3
	return remaining, ok
}

func (e *Endpoint) capacitySnapshot() (remaining int64, enabled bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.DailyLimit - e.usedToday, e.enabled
}

func (e *Endpoint) recordSuccess(cost int64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.usedToday += cost
	e.failCount = 0
}

func (e *Endpoint) recordFailure() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.failCount++
	if e.failCount >= 3 {
		e.enabled = false
	}
}

func (e *Endpoint) failCountSnapshot() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.failCount
}

func (e *Endpoint) rolloverIfStale(today string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.resetDate == today {
		return
	}
	if e.resetDate == "" {
		// A new endpoint starts with zeroed counters; stamp it with
		// today's date without clearing state set since construction.
		e.resetDate = today
		return
	}
	e.usedToday = 0
	e.failCount = 0
	e.enabled = true
	e.resetDate = today
}
