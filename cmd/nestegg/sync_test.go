package main

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/nestegg-fi/nestegg/internal/model"
)

func TestAccountLine(t *testing.T) {
	acct := model.Account{
		ID:             "chk-1",
		UserID:         "user-1",
		Institution:    "First National",
		Type:           model.AccountTypeDepository,
		Status:         model.StatusConnected,
		DisplayBalance: model.NetWorthFromDecimal(decimal.RequireFromString("2400.00")),
	}

	line := accountLine(acct)
	assert.Contains(t, line, "First National")
	assert.Contains(t, line, "chk-1")
	assert.Contains(t, line, "2400.00")
	assert.Contains(t, line, "connected")
}
