package rpcpool

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func okServer(t *testing.T, result string) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, err := w.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":` + result + `}`))
		require.NoError(t, err)
	}))
}

func failServer() *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
}

func TestCallSucceedsAndCreditsUsage(t *testing.T) {
	srv := okServer(t, `123`)
	defer srv.Close()

	ep := NewEndpoint("a", srv.URL, 50_000)
	pool := New([]*Endpoint{ep})

	result, err := pool.Call(context.Background(), "getblockcount", nil, 1)
	require.NoError(t, err)

	var got int
	require.NoError(t, json.Unmarshal(result, &got))
	assert.Equal(t, 123, got)

	remaining, enabled := ep.capacitySnapshot()
	assert.Equal(t, int64(49_999), remaining)
	assert.True(t, enabled)
}

func TestCallFailsOverAfterThreeFailures(t *testing.T) {
	bad := failServer()
	defer bad.Close()
	good := okServer(t, `"hash123"`)
	defer good.Close()

	a := NewEndpoint("a", bad.URL, 50_000)
	b := NewEndpoint("b", good.URL, 50_000)
	pool := New([]*Endpoint{a, b})

	for i := 0; i < 3; i++ {
		_, _ = pool.Call(context.Background(), "getblockhash", nil, 1)
	}

	_, enabled := a.capacitySnapshot()
	assert.False(t, enabled, "endpoint a should be disabled after 3 failures")

	result, err := pool.Call(context.Background(), "getblockhash", nil, 1)
	require.NoError(t, err)
	assert.Equal(t, `"hash123"`, string(result))
}

func TestCallReturnsNilWhenNoCapacity(t *testing.T) {
	srv := okServer(t, `1`)
	defer srv.Close()

	ep := NewEndpoint("a", srv.URL, 10)
	ep.usedToday = 9 // above the 90% safety threshold of a limit of 10
	pool := New([]*Endpoint{ep})

	result, err := pool.Call(context.Background(), "getblockcount", nil, 1)
	require.NoError(t, err)
	assert.Nil(t, result)
}

func TestSelectCandidatePrefersMostRemainingCapacity(t *testing.T) {
	a := NewEndpoint("a", "http://a.invalid", 50_000)
	a.usedToday = 40_000
	b := NewEndpoint("b", "http://b.invalid", 50_000)
	b.usedToday = 10_000

	pool := New([]*Endpoint{a, b})
	chosen := pool.selectCandidate(map[string]bool{})
	assert.Equal(t, "b", chosen.Name)
}

func TestCapacityReportsEnabledTotals(t *testing.T) {
	a := NewEndpoint("a", "http://a.invalid", 50_000)
	a.usedToday = 10_000
	b := NewEndpoint("b", "http://b.invalid", 50_000)
	b.enabled = false

	pool := New([]*Endpoint{a, b})
	remaining, enabledCount := pool.Capacity()
	assert.Equal(t, int64(40_000), remaining)
	assert.Equal(t, 1, enabledCount)
}
