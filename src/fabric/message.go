package fabric

import (
	"bytes"

	"github.com/ugorji/go/codec"
)

// Conversation identifiers. The conversation identifies the message kind; a
// reply is only correlated to its request via ReplyWith/InReplyTo, never via
// arrival order.
const (
	ConvOpenAccount      = "OPEN_ACCOUNT"
	ConvDeposit          = "DEPOSIT"
	ConvWithdraw         = "WITHDRAW"
	ConvSyncAccount      = "SYNC_ACCOUNT"
	ConvTransactionDone  = "TRANSACTION_COMPLETE"
	ConvAccountOpened    = "ACCOUNT_OPENED"
	ConvSetThreshold     = "SET_LOW_BALANCE_THRESHOLD"
	ConvGetNotifications = "GET_NOTIFICATIONS"
	ConvNotificationList = "NOTIFICATIONS_LIST"
	ConvNotificationInfo = "NOTIFICATION_INFO"
	ConvClearNotifs      = "CLEAR_NOTIFICATIONS"
	ConvGetRates         = "GET_EXCHANGE_RATES"
	ConvRatesUpdate      = "EXCHANGE_RATES_UPDATE"
	ConvAlert            = "NOTIFICATION_ALERT"
)

// Message is the unit of exchange on the fabric. It is immutable once sent.
// Content carries a plain ;-delimited payload whose field order is defined by
// the conversation (see payload.go).
type Message struct {
	Sender         string
	Receivers      []string
	ConversationID string

	// ReplyWith is an optional correlation tag chosen by the requester.
	// InReplyTo echoes it back on the reply.
	ReplyWith string
	InReplyTo string

	Content string
}

// NewMessage returns a message from sender to a single receiver.
func NewMessage(sender, receiver, conversationID, content string) Message {
	return Message{
		Sender:         sender,
		Receivers:      []string{receiver},
		ConversationID: conversationID,
		Content:        content,
	}
}

// CreateReply returns a reply addressed to the message's sender, carrying the
// same conversation and echoing the correlation tag if one was present.
func (m Message) CreateReply(sender, content string) Message {
	return Message{
		Sender:         sender,
		Receivers:      []string{m.Sender},
		ConversationID: m.ConversationID,
		InReplyTo:      m.ReplyWith,
		Content:        content,
	}
}

//Marshal - json encoding of Message
func (m *Message) Marshal() ([]byte, error) {
	b := new(bytes.Buffer)
	jh := new(codec.JsonHandle)
	jh.Canonical = true
	enc := codec.NewEncoder(b, jh)

	if err := enc.Encode(m); err != nil {
		return nil, err
	}

	return b.Bytes(), nil
}

// Unmarshal ...
func (m *Message) Unmarshal(data []byte) error {
	b := bytes.NewBuffer(data)
	jh := new(codec.JsonHandle)
	jh.Canonical = true
	dec := codec.NewDecoder(b, jh)

	return dec.Decode(m)
}
