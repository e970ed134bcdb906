// Package client implements the node through which an operator drives the
// banking network: it discovers branches and the exchange service, submits
// account operations, and fetches notifications and rate snapshots through
// correlated request/reply exchanges with bounded waiting.
package client

import (
	"fmt"
	"sync"
	"time"

	"github.com/bancanet/banca/src/common"
	"github.com/bancanet/banca/src/directory"
	"github.com/bancanet/banca/src/discovery"
	"github.com/bancanet/banca/src/fabric"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// CapabilityName is the service name the client advertises in the directory.
const CapabilityName = "bt-gui-service"

// Config carries the client's timing parameters.
type Config struct {
	// RequestTimeout bounds every correlated request/reply wait.
	RequestTimeout time.Duration

	// DiscoveryInterval is the backoff between directory lookup attempts.
	DiscoveryInterval time.Duration

	// DiscoveryAttempts is the maximum number of directory lookup attempts.
	DiscoveryAttempts int
}

// Client is the operator-facing node.
type Client struct {
	moniker string
	conf    Config

	dir        *directory.Directory
	exchange   *fabric.Exchange
	mailbox    *fabric.Mailbox
	correlator *Correlator
	observer   Observer

	stateLock       sync.Mutex
	branches        []string
	exchangeAgent   string
	requestingRates bool

	logger *logrus.Entry

	shutdownCh   chan struct{}
	shutdownOnce sync.Once
}

// NewClient registers a client with the directory and the fabric.
func NewClient(
	moniker string,
	conf Config,
	dir *directory.Directory,
	exchange *fabric.Exchange,
	observer Observer,
	logger *logrus.Entry,
) *Client {
	client := &Client{
		moniker:    moniker,
		conf:       conf,
		dir:        dir,
		exchange:   exchange,
		mailbox:    exchange.Register(moniker),
		correlator: NewCorrelator(),
		observer:   observer,
		logger:     logger.WithField("client", moniker),
		shutdownCh: make(chan struct{}),
	}

	dir.Register(moniker, directory.CapabilityObserver, CapabilityName)

	return client
}

// Moniker returns the client's identity on the fabric.
func (c *Client) Moniker() string {
	return c.moniker
}

// RunAsync calls Run on a separate goroutine and kicks off initial discovery.
func (c *Client) RunAsync() {
	go c.Run()
	c.DiscoverBranches()
	c.DiscoverExchangeAgent()
}

// Run invokes the dispatch loop of the client. Replies carrying a correlation
// tag complete their pending request; everything else is pushed straight to
// the observer.
func (c *Client) Run() {
	for {
		msg, ok := c.mailbox.ReceiveBlocking(nil, time.Second)
		if !ok {
			select {
			case <-c.shutdownCh:
				return
			default:
				continue
			}
		}

		c.dispatch(msg)
	}
}

// Shutdown stops the client's dispatch loop.
func (c *Client) Shutdown() {
	c.shutdownOnce.Do(func() {
		c.logger.Debug("Shutdown")
		close(c.shutdownCh)
		c.mailbox.Close()
	})
}

func (c *Client) dispatch(msg fabric.Message) {
	if msg.InReplyTo != "" {
		if !c.correlator.Resolve(msg) {
			c.logger.WithFields(logrus.Fields{
				"conversation": msg.ConversationID,
				"in_reply_to":  msg.InReplyTo,
			}).Debug("Dropping stale correlated reply")
		}
		return
	}

	switch msg.ConversationID {
	case fabric.ConvSyncAccount:
		// replication chatter is not for the operator

	case fabric.ConvAlert:
		c.observer.ShowAlert(msg.Content)

	case fabric.ConvRatesUpdate:
		c.observer.UpdateRates(msg.Content)

	default:
		c.observer.AppendLog(fmt.Sprintf("[%s] %s", msg.Sender, msg.Content))
	}
}

/*******************************************************************************
* Discovery
*******************************************************************************/

// DiscoverBranches polls the directory for branch nodes and pushes the found
// list to the observer. Exhaustion reaches the operator's log, on the initial
// lookup as on explicit refreshes.
func (c *Client) DiscoverBranches() {
	lookup := func() []directory.ServiceRecord {
		return c.dir.Find(directory.CapabilityBranch)
	}

	onSuccess := func(records []directory.ServiceRecord) {
		found := make([]string, 0, len(records))
		for _, rec := range records {
			found = append(found, rec.Identity)
		}

		c.stateLock.Lock()
		c.branches = found
		c.stateLock.Unlock()

		c.logger.WithField("branches", found).Debug("Found branches")
		c.observer.UpdatePeerList(found)
	}

	onExhausted := func() {
		c.observer.AppendLog("No branches found")
	}

	discovery.NewPoller(
		lookup,
		c.conf.DiscoveryInterval,
		c.conf.DiscoveryAttempts,
		onSuccess,
		onExhausted,
		c.logger,
	).Start()
}

// RefreshBranches re-runs branch discovery on operator demand.
func (c *Client) RefreshBranches() {
	c.DiscoverBranches()
}

// DiscoverExchangeAgent polls the directory for the currency-exchange node
// and requests a first snapshot once it is found.
func (c *Client) DiscoverExchangeAgent() {
	lookup := func() []directory.ServiceRecord {
		return c.dir.Find(directory.CapabilityExchange)
	}

	onSuccess := func(records []directory.ServiceRecord) {
		c.stateLock.Lock()
		c.exchangeAgent = records[0].Identity
		c.stateLock.Unlock()

		c.logger.WithField("exchange_agent", records[0].Identity).Debug("Found exchange agent")

		go c.RequestRates()
	}

	onExhausted := func() {
		c.observer.UpdateRates("Exchange agent not found")
	}

	discovery.NewPoller(
		lookup,
		c.conf.DiscoveryInterval,
		c.conf.DiscoveryAttempts,
		onSuccess,
		onExhausted,
		c.logger,
	).Start()
}

// Branches returns the last discovered branch list.
func (c *Client) Branches() []string {
	c.stateLock.Lock()
	defer c.stateLock.Unlock()

	res := make([]string, len(c.branches))
	copy(res, c.branches)

	return res
}

/*******************************************************************************
* Branch operations
*******************************************************************************/

// SendRequest submits an operation to a branch. The branch's free-text reply
// comes back asynchronously through the dispatch loop.
func (c *Client) SendRequest(branch, conversationID, content string) {
	c.exchange.Send(fabric.NewMessage(c.moniker, branch, conversationID, content))
}

// OpenAccount asks a branch to open an account.
func (c *Client) OpenAccount(branch, accountID string) {
	c.SendRequest(branch, fabric.ConvOpenAccount, accountID)
}

// Deposit asks a branch to deposit into an account.
func (c *Client) Deposit(branch, accountID string, amount decimal.Decimal) {
	payload := fabric.AmountPayload{AccountID: accountID, Amount: amount}
	c.SendRequest(branch, fabric.ConvDeposit, payload.Encode())
}

// Withdraw asks a branch to withdraw from an account.
func (c *Client) Withdraw(branch, accountID string, amount decimal.Decimal) {
	payload := fabric.AmountPayload{AccountID: accountID, Amount: amount}
	c.SendRequest(branch, fabric.ConvWithdraw, payload.Encode())
}

/*******************************************************************************
* Notification service
*******************************************************************************/

// findNotificationAgent looks up the notification service, fresh on every
// call.
func (c *Client) findNotificationAgent() (string, error) {
	lookup := func() []directory.ServiceRecord {
		return c.dir.Find(directory.CapabilityNotification)
	}

	records, err := discovery.Wait(lookup, c.conf.DiscoveryInterval, 1)
	if err != nil {
		return "", common.NewBankErr(c.moniker, common.TransientLookup, directory.CapabilityNotification)
	}

	return records[0].Identity, nil
}

// RequestNotifications fetches the stored notification records for an
// account. The query carries a unique correlation tag and blocks only on the
// matching NOTIFICATIONS_LIST reply, so concurrent unrelated traffic cannot
// be mistaken for the answer. The outcome, including a timeout, is pushed to
// the observer's notification pane and returned.
func (c *Client) RequestNotifications(accountID string) (string, error) {
	agent, err := c.findNotificationAgent()
	if err != nil {
		c.observer.ShowAlert("Notification agent not found")
		return "", err
	}

	tag := NewTag(fabric.ConvGetNotifications, accountID)
	ch := c.correlator.Register(tag)

	msg := fabric.NewMessage(c.moniker, agent, fabric.ConvGetNotifications, accountID)
	msg.ReplyWith = tag
	c.exchange.Send(msg)

	reply, err := c.correlator.Await(tag, ch, c.conf.RequestTimeout)
	if err != nil {
		text := fmt.Sprintf("Timed out loading notifications for %s. Please try again.", accountID)
		c.observer.SetNotificationPane(text)
		return "", err
	}

	c.observer.SetNotificationPane(reply.Content)

	return reply.Content, nil
}

// SetLowBalanceThreshold overwrites the account's low-balance threshold. The
// confirmation comes back asynchronously on NOTIFICATION_INFO.
func (c *Client) SetLowBalanceThreshold(accountID string, threshold decimal.Decimal) error {
	agent, err := c.findNotificationAgent()
	if err != nil {
		return err
	}

	payload := fabric.AmountPayload{AccountID: accountID, Amount: threshold}
	c.exchange.Send(fabric.NewMessage(c.moniker, agent, fabric.ConvSetThreshold, payload.Encode()))

	return nil
}

// ClearNotifications drops all stored records for an account.
func (c *Client) ClearNotifications(accountID string) error {
	agent, err := c.findNotificationAgent()
	if err != nil {
		return err
	}

	c.exchange.Send(fabric.NewMessage(c.moniker, agent, fabric.ConvClearNotifs, accountID))

	return nil
}

/*******************************************************************************
* Exchange rates
*******************************************************************************/

// RequestRates fetches a rate snapshot from the exchange node. Only one rate
// request is in flight at a time; the snapshot or a timeout notice is pushed
// to the observer and returned.
func (c *Client) RequestRates() (string, error) {
	c.stateLock.Lock()
	agent := c.exchangeAgent
	if agent == "" {
		c.stateLock.Unlock()
		c.observer.UpdateRates("Exchange agent not found. Searching...")
		c.DiscoverExchangeAgent()
		return "", common.NewBankErr(c.moniker, common.TransientLookup, directory.CapabilityExchange)
	}
	if c.requestingRates {
		c.stateLock.Unlock()
		c.observer.UpdateRates("Already requesting rates...")
		return "", common.NewBankErr(c.moniker, common.TransientLookup, fabric.ConvGetRates)
	}
	c.requestingRates = true
	c.stateLock.Unlock()

	defer func() {
		c.stateLock.Lock()
		c.requestingRates = false
		c.stateLock.Unlock()
	}()

	tag := NewTag(fabric.ConvGetRates, agent)
	ch := c.correlator.Register(tag)

	msg := fabric.NewMessage(c.moniker, agent, fabric.ConvGetRates, "")
	msg.ReplyWith = tag
	c.exchange.Send(msg)

	reply, err := c.correlator.Await(tag, ch, c.conf.RequestTimeout)
	if err != nil {
		c.observer.UpdateRates("Rate request timed out")
		return "", err
	}

	c.observer.UpdateRates(reply.Content)

	return reply.Content, nil
}
