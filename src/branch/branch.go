// Package branch implements a bank branch node. Each branch owns a partition
// of accounts and exposes OPEN/DEPOSIT/WITHDRAW operations over the fabric.
// Every successful mutation is replicated to all discovered peer branches and
// to the notification service, then the caller gets its reply. Replication is
// last-writer-wins with no ordering metadata: two concurrent writes to the
// same account on different branches can be applied out of order and a stale
// value can persist. This is a documented consistency gap, not a bug to fix
// here.
package branch

import (
	"fmt"
	"sync"
	"time"

	"github.com/bancanet/banca/src/common"
	"github.com/bancanet/banca/src/directory"
	"github.com/bancanet/banca/src/fabric"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// CapabilityName is the service name branches advertise in the directory.
const CapabilityName = "bt-bank-branch-service"

// Node is a branch node. The account map is mutated only by the node's own
// handling loop; accountsLock exists for read snapshots taken by the HTTP
// service from outside that loop.
type Node struct {
	moniker      string
	accounts     map[string]decimal.Decimal
	accountsLock sync.RWMutex

	dir      *directory.Directory
	exchange *fabric.Exchange
	mailbox  *fabric.Mailbox

	logger *logrus.Entry

	shutdownCh   chan struct{}
	shutdownOnce sync.Once
}

// NewNode registers a branch with the directory and the fabric.
func NewNode(
	moniker string,
	dir *directory.Directory,
	exchange *fabric.Exchange,
	logger *logrus.Entry,
) *Node {
	node := &Node{
		moniker:    moniker,
		accounts:   make(map[string]decimal.Decimal),
		dir:        dir,
		exchange:   exchange,
		mailbox:    exchange.Register(moniker),
		logger:     logger.WithField("branch", moniker),
		shutdownCh: make(chan struct{}),
	}

	dir.Register(moniker, directory.CapabilityBranch, CapabilityName)

	return node
}

// Moniker returns the node's identity on the fabric.
func (n *Node) Moniker() string {
	return n.moniker
}

// RunAsync calls Run on a separate goroutine.
func (n *Node) RunAsync() {
	go n.Run()
}

// Run invokes the main loop of the node. One logical owner task handles every
// inbound message; it is the only writer of the account map.
func (n *Node) Run() {
	for {
		msg, ok := n.mailbox.ReceiveBlocking(nil, time.Second)
		if !ok {
			select {
			case <-n.shutdownCh:
				return
			default:
				continue
			}
		}

		n.handleMessage(msg)
	}
}

// Shutdown stops the node's handling loop.
func (n *Node) Shutdown() {
	n.shutdownOnce.Do(func() {
		n.logger.Debug("Shutdown")
		close(n.shutdownCh)
		n.mailbox.Close()
	})
}

func (n *Node) handleMessage(msg fabric.Message) {
	n.logger.WithFields(logrus.Fields{
		"conversation": msg.ConversationID,
		"from":         msg.Sender,
	}).Debug("Processing message")

	switch msg.ConversationID {
	case fabric.ConvOpenAccount:
		accountID := msg.Content
		if err := n.OpenAccount(accountID); err != nil {
			n.reply(msg, fmt.Sprintf("Account %s already exists", accountID))
			return
		}
		n.reply(msg, fmt.Sprintf("Account %s opened with balance 0", accountID))

	case fabric.ConvDeposit:
		payload, err := fabric.ParseAmountPayload(msg.Content)
		if err != nil {
			n.logger.WithError(err).Debug("Dropping malformed DEPOSIT payload")
			return
		}
		newBalance, err := n.Deposit(payload.AccountID, payload.Amount)
		if err != nil {
			n.reply(msg, depositErrorText(payload, err))
			return
		}
		n.reply(msg, fmt.Sprintf("Deposit successful. New balance: %s", newBalance))

	case fabric.ConvWithdraw:
		payload, err := fabric.ParseAmountPayload(msg.Content)
		if err != nil {
			n.logger.WithError(err).Debug("Dropping malformed WITHDRAW payload")
			return
		}
		newBalance, err := n.Withdraw(payload.AccountID, payload.Amount)
		if err != nil {
			n.reply(msg, n.withdrawErrorText(payload, err))
			return
		}
		n.reply(msg, fmt.Sprintf("Withdraw successful. New balance: %s", newBalance))

	case fabric.ConvSyncAccount:
		payload, err := fabric.ParseAmountPayload(msg.Content)
		if err != nil {
			n.logger.WithError(err).Debug("Dropping malformed SYNC_ACCOUNT payload")
			return
		}
		n.ApplySync(payload.AccountID, payload.Amount)

	default:
		n.logger.WithField("conversation", msg.ConversationID).Debug("Ignoring message")
	}
}

func depositErrorText(payload fabric.AmountPayload, err error) string {
	if common.IsBank(err, common.NotFound) {
		return fmt.Sprintf("Account %s doesn't exist. Open account first.", payload.AccountID)
	}
	return "Deposit amount must be positive"
}

func (n *Node) withdrawErrorText(payload fabric.AmountPayload, err error) string {
	switch {
	case common.IsBank(err, common.NotFound):
		return fmt.Sprintf("Account %s doesn't exist. Open account first.", payload.AccountID)
	case common.IsBank(err, common.InsufficientFunds):
		balance, _ := n.Balance(payload.AccountID)
		return fmt.Sprintf("Insufficient funds. Balance: %s", balance)
	default:
		return "Withdraw amount must be positive"
	}
}

// OpenAccount creates an account with a zero balance. It fails with
// AlreadyExists if the id is already present on this branch.
func (n *Node) OpenAccount(accountID string) error {
	n.accountsLock.Lock()
	if _, ok := n.accounts[accountID]; ok {
		n.accountsLock.Unlock()
		return common.NewBankErr(n.moniker, common.AlreadyExists, accountID)
	}
	n.accounts[accountID] = decimal.Zero
	n.accountsLock.Unlock()
	n.syncAccount(accountID, decimal.Zero)
	n.sendAccountOpenedNotification(accountID)

	return nil
}

// Deposit adds a positive amount to an account's balance and returns the new
// balance.
func (n *Node) Deposit(accountID string, amount decimal.Decimal) (decimal.Decimal, error) {
	n.accountsLock.Lock()
	balance, ok := n.accounts[accountID]
	if !ok {
		n.accountsLock.Unlock()
		return decimal.Zero, common.NewBankErr(n.moniker, common.NotFound, accountID)
	}

	if amount.Sign() <= 0 {
		n.accountsLock.Unlock()
		return decimal.Zero, common.NewBankErr(n.moniker, common.InvalidAmount, accountID)
	}

	newBalance := balance.Add(amount)
	n.accounts[accountID] = newBalance
	n.accountsLock.Unlock()
	n.syncAccount(accountID, newBalance)
	n.sendTransactionNotification(accountID, "DEPOSIT", amount, balance, newBalance)

	return newBalance, nil
}

// Withdraw subtracts a positive amount from an account's balance and returns
// the new balance. A withdrawal that would make the balance negative is
// rejected before any mutation.
func (n *Node) Withdraw(accountID string, amount decimal.Decimal) (decimal.Decimal, error) {
	n.accountsLock.Lock()
	balance, ok := n.accounts[accountID]
	if !ok {
		n.accountsLock.Unlock()
		return decimal.Zero, common.NewBankErr(n.moniker, common.NotFound, accountID)
	}

	if amount.Sign() <= 0 {
		n.accountsLock.Unlock()
		return decimal.Zero, common.NewBankErr(n.moniker, common.InvalidAmount, accountID)
	}

	if balance.LessThan(amount) {
		n.accountsLock.Unlock()
		return decimal.Zero, common.NewBankErr(n.moniker, common.InsufficientFunds, accountID)
	}

	newBalance := balance.Sub(amount)
	n.accounts[accountID] = newBalance
	n.accountsLock.Unlock()
	n.syncAccount(accountID, newBalance)
	n.sendTransactionNotification(accountID, "WITHDRAW", amount, balance, newBalance)

	return newBalance, nil
}

// ApplySync unconditionally overwrites the local balance for an account,
// creating the entry if absent. It is inbound only, never client-initiated,
// and idempotent per (account, balance) pair.
func (n *Node) ApplySync(accountID string, balance decimal.Decimal) {
	n.accountsLock.Lock()
	n.accounts[accountID] = balance
	n.accountsLock.Unlock()

	n.logger.WithFields(logrus.Fields{
		"account": accountID,
		"balance": balance,
	}).Debug("Synced account")
}

// Balance returns an account's balance.
func (n *Node) Balance(accountID string) (decimal.Decimal, bool) {
	n.accountsLock.RLock()
	defer n.accountsLock.RUnlock()

	balance, ok := n.accounts[accountID]
	return balance, ok
}

// Accounts returns a snapshot of the branch's account partition.
func (n *Node) Accounts() map[string]string {
	n.accountsLock.RLock()
	defer n.accountsLock.RUnlock()

	res := make(map[string]string, len(n.accounts))
	for id, balance := range n.accounts {
		res[id] = balance.String()
	}
	return res
}

// syncAccount replicates an account's new state to every peer branch and to
// the notification service. Discovery happens fresh on every broadcast, which
// tolerates peers joining after this node started at the cost of redundant
// lookups. A branch that finds no peers simply proceeds without replication;
// this never blocks or fails the primary operation.
func (n *Node) syncAccount(accountID string, balance decimal.Decimal) {
	receivers := []string{}

	for _, rec := range n.dir.FindOthers(directory.CapabilityBranch, n.moniker) {
		receivers = append(receivers, rec.Identity)
	}
	for _, rec := range n.dir.Find(directory.CapabilityNotification) {
		receivers = append(receivers, rec.Identity)
	}

	if len(receivers) == 0 {
		return
	}

	payload := fabric.AmountPayload{AccountID: accountID, Amount: balance}
	n.exchange.Send(fabric.Message{
		Sender:         n.moniker,
		Receivers:      receivers,
		ConversationID: fabric.ConvSyncAccount,
		Content:        payload.Encode(),
	})
}

func (n *Node) sendTransactionNotification(
	accountID string,
	transactionType string,
	amount decimal.Decimal,
	oldBalance decimal.Decimal,
	newBalance decimal.Decimal,
) {
	receivers := []string{}
	for _, rec := range n.dir.Find(directory.CapabilityNotification) {
		receivers = append(receivers, rec.Identity)
	}

	if len(receivers) == 0 {
		return
	}

	payload := fabric.TransactionPayload{
		AccountID:  accountID,
		Type:       transactionType,
		Amount:     amount,
		OldBalance: oldBalance,
		NewBalance: newBalance,
	}

	n.exchange.Send(fabric.Message{
		Sender:         n.moniker,
		Receivers:      receivers,
		ConversationID: fabric.ConvTransactionDone,
		Content:        payload.Encode(),
	})
}

func (n *Node) sendAccountOpenedNotification(accountID string) {
	for _, rec := range n.dir.Find(directory.CapabilityNotification) {
		n.exchange.Send(fabric.NewMessage(
			n.moniker,
			rec.Identity,
			fabric.ConvAccountOpened,
			accountID,
		))
	}
}

func (n *Node) reply(msg fabric.Message, text string) {
	n.exchange.Send(msg.CreateReply(n.moniker, text))
}
