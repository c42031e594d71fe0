package observer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCadenceAdjustThresholds(t *testing.T) {
	c := newCadence()

	c.adjust(5_000, 5, 50_000) // remaining 5000 of 250000 -> u=0.98
	assert.Equal(t, 300*time.Second, c.current())

	c.adjust(50_000, 5, 50_000) // u=0.8
	assert.Equal(t, 180*time.Second, c.current())

	c.adjust(125_000, 5, 50_000) // u=0.5
	assert.Equal(t, 120*time.Second, c.current())

	c.adjust(200_000, 5, 50_000) // u=0.2
	assert.Equal(t, 60*time.Second, c.current())
}

func TestCadenceNoEnabledEndpointsBacksOffMaximally(t *testing.T) {
	c := newCadence()
	c.adjust(0, 0, 50_000)
	assert.Equal(t, 300*time.Second, c.current())
}

func TestMatchOutputsFindsPaymentAddress(t *testing.T) {
	tx := blockTx{
		TxID: "abc123",
		Vout: []blockOutput{
			{Value: 0.01, ScriptPubKey: struct {
				Addresses []string `json:"addresses"`
			}{Addresses: []string{"bc1qother"}}},
			{Value: 0.005, ScriptPubKey: struct {
				Addresses []string `json:"addresses"`
			}{Addresses: []string{"bc1qtarget"}}},
		},
	}

	keys := matchOutputs(tx, "bc1qtarget")
	assert.Equal(t, []string{"0.00500000"}, keys)
}

func TestMatchOutputsFindsEveryMatchingOutput(t *testing.T) {
	tx := blockTx{
		TxID: "abc123",
		Vout: []blockOutput{
			{Value: 0.005, ScriptPubKey: struct {
				Addresses []string `json:"addresses"`
			}{Addresses: []string{"bc1qtarget"}}},
			{Value: 0.01, ScriptPubKey: struct {
				Addresses []string `json:"addresses"`
			}{Addresses: []string{"bc1qother"}}},
			{Value: 0.02345, ScriptPubKey: struct {
				Addresses []string `json:"addresses"`
			}{Addresses: []string{"bc1qtarget"}}},
		},
	}

	keys := matchOutputs(tx, "bc1qtarget")
	assert.Equal(t, []string{"0.00500000", "0.02345000"}, keys)
}

func TestMatchOutputsNoMatch(t *testing.T) {
	tx := blockTx{Vout: []blockOutput{
		{Value: 0.01, ScriptPubKey: struct {
			Addresses []string `json:"addresses"`
		}{Addresses: []string{"bc1qother"}}},
	}}

	assert.Empty(t, matchOutputs(tx, "bc1qtarget"))
}
