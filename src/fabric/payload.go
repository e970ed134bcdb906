package fabric

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Payload encoding between nodes is plain delimited text, fields joined by
// ";", in a conversation-defined field order. Parsers return an error on a
// wrong field count or a malformed decimal; callers drop such messages after
// logging.

const payloadSep = ";"

// AmountPayload is the "accountId;amount" form shared by DEPOSIT, WITHDRAW,
// SYNC_ACCOUNT and SET_LOW_BALANCE_THRESHOLD.
type AmountPayload struct {
	AccountID string
	Amount    decimal.Decimal
}

// Encode ...
func (p AmountPayload) Encode() string {
	return p.AccountID + payloadSep + p.Amount.String()
}

// ParseAmountPayload ...
func ParseAmountPayload(content string) (AmountPayload, error) {
	parts := strings.Split(content, payloadSep)
	if len(parts) != 2 {
		return AmountPayload{}, fmt.Errorf("expected 2 fields, got %d", len(parts))
	}

	amount, err := decimal.NewFromString(parts[1])
	if err != nil {
		return AmountPayload{}, err
	}

	return AmountPayload{AccountID: parts[0], Amount: amount}, nil
}

// TransactionPayload is the TRANSACTION_COMPLETE form:
// "accountId;type;amount;oldBalance;newBalance".
type TransactionPayload struct {
	AccountID  string
	Type       string
	Amount     decimal.Decimal
	OldBalance decimal.Decimal
	NewBalance decimal.Decimal
}

// Encode ...
func (p TransactionPayload) Encode() string {
	return strings.Join([]string{
		p.AccountID,
		p.Type,
		p.Amount.String(),
		p.OldBalance.String(),
		p.NewBalance.String(),
	}, payloadSep)
}

// ParseTransactionPayload ...
func ParseTransactionPayload(content string) (TransactionPayload, error) {
	parts := strings.Split(content, payloadSep)
	if len(parts) != 5 {
		return TransactionPayload{}, fmt.Errorf("expected 5 fields, got %d", len(parts))
	}

	amount, err := decimal.NewFromString(parts[2])
	if err != nil {
		return TransactionPayload{}, err
	}
	oldBalance, err := decimal.NewFromString(parts[3])
	if err != nil {
		return TransactionPayload{}, err
	}
	newBalance, err := decimal.NewFromString(parts[4])
	if err != nil {
		return TransactionPayload{}, err
	}

	return TransactionPayload{
		AccountID:  parts[0],
		Type:       parts[1],
		Amount:     amount,
		OldBalance: oldBalance,
		NewBalance: newBalance,
	}, nil
}
