package broker

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNew_CredentialPrecedence(t *testing.T) {
	b := New(Config{AlpacaAPIKey: "k", AlpacaAPISecret: "s"})
	assert.Equal(t, "alpaca", b.Name())

	b = New(Config{IBGatewayURL: "https://localhost:5000/v1/api", IBAccountID: "DU000001"})
	assert.Equal(t, "ibkr", b.Name())

	// alpaca wins when both are configured
	b = New(Config{
		AlpacaAPIKey:    "k",
		AlpacaAPISecret: "s",
		IBGatewayURL:    "https://localhost:5000/v1/api",
		IBAccountID:     "DU000001",
	})
	assert.Equal(t, "alpaca", b.Name())
}

func TestNew_PaperFallback(t *testing.T) {
	b := New(Config{})
	assert.Equal(t, "paper", b.Name())

	// partial credentials do not count
	b = New(Config{AlpacaAPIKey: "key-only"})
	assert.Equal(t, "paper", b.Name())

	b = New(Config{IBGatewayURL: "https://localhost:5000/v1/api"})
	assert.Equal(t, "paper", b.Name())
}
