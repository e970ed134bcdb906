package fabric

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestAmountPayload(t *testing.T) {
	payload, err := ParseAmountPayload("john;150.50")
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if payload.AccountID != "john" {
		t.Fatalf("AccountID should be john, not %s", payload.AccountID)
	}
	if !payload.Amount.Equal(decimal.NewFromFloat(150.50)) {
		t.Fatalf("Amount should be 150.5, not %s", payload.Amount)
	}

	if payload.Encode() != "john;150.5" {
		t.Fatalf("bad encoding: %s", payload.Encode())
	}
}

func TestParseAmountPayloadErrors(t *testing.T) {
	if _, err := ParseAmountPayload("john"); err == nil {
		t.Fatal("expected an error on a missing field")
	}
	if _, err := ParseAmountPayload("john;150;extra"); err == nil {
		t.Fatal("expected an error on an extra field")
	}
	if _, err := ParseAmountPayload("john;abc"); err == nil {
		t.Fatal("expected an error on a malformed decimal")
	}
}

func TestTransactionPayload(t *testing.T) {
	payload := TransactionPayload{
		AccountID:  "john",
		Type:       "DEPOSIT",
		Amount:     decimal.NewFromInt(50),
		OldBalance: decimal.NewFromInt(100),
		NewBalance: decimal.NewFromInt(150),
	}

	encoded := payload.Encode()
	if encoded != "john;DEPOSIT;50;100;150" {
		t.Fatalf("bad encoding: %s", encoded)
	}

	decoded, err := ParseTransactionPayload(encoded)
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if decoded.Type != "DEPOSIT" {
		t.Fatalf("Type should be DEPOSIT, not %s", decoded.Type)
	}
	if !decoded.NewBalance.Equal(payload.NewBalance) {
		t.Fatalf("NewBalance should be 150, not %s", decoded.NewBalance)
	}
}

func TestParseTransactionPayloadErrors(t *testing.T) {
	if _, err := ParseTransactionPayload("john;DEPOSIT;50;100"); err == nil {
		t.Fatal("expected an error on a missing field")
	}
	if _, err := ParseTransactionPayload("john;DEPOSIT;x;100;150"); err == nil {
		t.Fatal("expected an error on a malformed decimal")
	}
}
