// Package notification implements the observer node that aggregates
// replication and transaction traffic from all branches, evaluates per-account
// low-balance thresholds, and answers correlated notification queries.
package notification

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/bancanet/banca/src/directory"
	"github.com/bancanet/banca/src/fabric"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// CapabilityName is the service name the engine advertises in the directory.
const CapabilityName = "bt-notification-service"

// HistoryLimit caps the stored records per account; the oldest entry is
// evicted first.
const HistoryLimit = 10

// DefaultLowBalanceThreshold applies to accounts with no explicit setting.
var DefaultLowBalanceThreshold = decimal.NewFromInt(100)

// Record is one stored notification.
type Record struct {
	AccountID string
	Timestamp time.Time
	Text      string
}

// Engine is the notification node. Threshold and record maps are mutated only
// by the engine's own handling loop; the lock exists for read snapshots taken
// from outside it.
type Engine struct {
	moniker string

	thresholds map[string]decimal.Decimal
	records    map[string][]Record
	lock       sync.RWMutex

	dir      *directory.Directory
	exchange *fabric.Exchange
	mailbox  *fabric.Mailbox

	logger *logrus.Entry

	shutdownCh   chan struct{}
	shutdownOnce sync.Once
}

// NewEngine registers a notification engine with the directory and the
// fabric.
func NewEngine(
	moniker string,
	dir *directory.Directory,
	exchange *fabric.Exchange,
	logger *logrus.Entry,
) *Engine {
	engine := &Engine{
		moniker:    moniker,
		thresholds: make(map[string]decimal.Decimal),
		records:    make(map[string][]Record),
		dir:        dir,
		exchange:   exchange,
		mailbox:    exchange.Register(moniker),
		logger:     logger.WithField("notification", moniker),
		shutdownCh: make(chan struct{}),
	}

	dir.Register(moniker, directory.CapabilityNotification, CapabilityName)

	return engine
}

// Moniker returns the engine's identity on the fabric.
func (e *Engine) Moniker() string {
	return e.moniker
}

// RunAsync calls Run on a separate goroutine.
func (e *Engine) RunAsync() {
	go e.Run()
}

// Run invokes the main loop of the engine.
func (e *Engine) Run() {
	for {
		msg, ok := e.mailbox.ReceiveBlocking(nil, time.Second)
		if !ok {
			select {
			case <-e.shutdownCh:
				return
			default:
				continue
			}
		}

		e.handleMessage(msg)
	}
}

// Shutdown stops the engine's handling loop.
func (e *Engine) Shutdown() {
	e.shutdownOnce.Do(func() {
		e.logger.Debug("Shutdown")
		close(e.shutdownCh)
		e.mailbox.Close()
	})
}

func (e *Engine) handleMessage(msg fabric.Message) {
	switch msg.ConversationID {
	case fabric.ConvSyncAccount:
		payload, err := fabric.ParseAmountPayload(msg.Content)
		if err != nil {
			e.logger.WithError(err).Debug("Dropping malformed SYNC_ACCOUNT payload")
			return
		}
		e.checkAndNotify(payload.AccountID, payload.Amount)

	case fabric.ConvTransactionDone:
		// best-effort parse: fall back to "system" when the account field is
		// unusable
		accountID := "system"
		parts := strings.SplitN(msg.Content, ";", 2)
		if len(parts) >= 1 && strings.TrimSpace(parts[0]) != "" {
			accountID = parts[0]
		}
		e.storeNotification(accountID, fmt.Sprintf("Transaction completed: %s", msg.Content))

	case fabric.ConvAccountOpened:
		accountID := msg.Content
		e.storeNotification(accountID, fmt.Sprintf("Account %s opened successfully", accountID))

	case fabric.ConvSetThreshold:
		payload, err := fabric.ParseAmountPayload(msg.Content)
		if err != nil {
			e.logger.WithError(err).Debug("Dropping malformed SET_LOW_BALANCE_THRESHOLD payload")
			return
		}
		e.setThreshold(msg, payload)

	case fabric.ConvGetNotifications:
		e.listNotifications(msg)

	case fabric.ConvClearNotifs:
		accountID := msg.Content
		e.lock.Lock()
		delete(e.records, accountID)
		e.lock.Unlock()

		reply := msg.CreateReply(e.moniker, fmt.Sprintf("Cleared notifications for account %s", accountID))
		reply.ConversationID = fabric.ConvNotificationInfo
		e.exchange.Send(reply)

	default:
		e.logger.WithField("conversation", msg.ConversationID).Debug("Ignoring message")
	}
}

// checkAndNotify evaluates the account's threshold on a sync event. An alert
// fires iff balance < threshold; a zero-balance alert additionally fires iff
// balance == 0. Both can fire together.
func (e *Engine) checkAndNotify(accountID string, balance decimal.Decimal) {
	threshold := e.Threshold(accountID)

	if balance.LessThan(threshold) {
		text := fmt.Sprintf("Low balance alert for account %s: %s (threshold: %s)",
			accountID, balance.StringFixed(2), threshold)
		e.storeNotification(accountID, text)
		e.forwardToObserver(text)
	}

	if balance.IsZero() {
		text := fmt.Sprintf("Account %s has zero balance", accountID)
		e.storeNotification(accountID, text)
		e.forwardToObserver(text)
	}
}

func (e *Engine) setThreshold(msg fabric.Message, payload fabric.AmountPayload) {
	e.lock.Lock()
	e.thresholds[payload.AccountID] = payload.Amount
	e.lock.Unlock()

	confirmation := fmt.Sprintf("Set low balance threshold for %s: %s",
		payload.AccountID, payload.Amount)
	e.storeNotification(payload.AccountID, confirmation)

	reply := msg.CreateReply(e.moniker, confirmation)
	reply.ConversationID = fabric.ConvNotificationInfo
	e.exchange.Send(reply)
}

// listNotifications answers GET_NOTIFICATIONS on the NOTIFICATIONS_LIST
// conversation. The reply carries back the requester's correlation tag if one
// was present.
func (e *Engine) listNotifications(msg fabric.Message) {
	accountID := msg.Content
	records := e.Notifications(accountID)

	var content string
	if len(records) == 0 {
		content = fmt.Sprintf("No notifications for account %s", accountID)
	} else {
		var sb strings.Builder
		fmt.Fprintf(&sb, "Notifications for %s:\n", accountID)
		for _, rec := range records {
			fmt.Fprintf(&sb, "- %s: %s\n", rec.Timestamp.Format(time.RFC1123), rec.Text)
		}
		content = sb.String()
	}

	reply := msg.CreateReply(e.moniker, content)
	reply.ConversationID = fabric.ConvNotificationList
	e.exchange.Send(reply)
}

// forwardToObserver pushes an alert to the first discovered observer, if any
// is registered yet.
func (e *Engine) forwardToObserver(text string) {
	observers := e.dir.Find(directory.CapabilityObserver)
	if len(observers) == 0 {
		return
	}

	e.exchange.Send(fabric.NewMessage(e.moniker, observers[0].Identity, fabric.ConvAlert, text))
}

func (e *Engine) storeNotification(accountID, text string) {
	e.lock.Lock()
	records := append(e.records[accountID], Record{
		AccountID: accountID,
		Timestamp: time.Now(),
		Text:      text,
	})

	if len(records) > HistoryLimit {
		records = records[1:]
	}

	e.records[accountID] = records
	e.lock.Unlock()

	e.logger.WithField("account", accountID).Info(text)
}

// Threshold returns the account's low-balance threshold, or the default when
// none is set.
func (e *Engine) Threshold(accountID string) decimal.Decimal {
	e.lock.RLock()
	defer e.lock.RUnlock()

	if threshold, ok := e.thresholds[accountID]; ok {
		return threshold
	}
	return DefaultLowBalanceThreshold
}

// Notifications returns a snapshot of the account's stored records, oldest
// first.
func (e *Engine) Notifications(accountID string) []Record {
	e.lock.RLock()
	defer e.lock.RUnlock()

	records := e.records[accountID]
	res := make([]Record, len(records))
	copy(res, records)

	return res
}
