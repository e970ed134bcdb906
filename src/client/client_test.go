package client

import (
	"strings"
	"testing"
	"time"

	"github.com/bancanet/banca/src/common"
	"github.com/bancanet/banca/src/directory"
	"github.com/bancanet/banca/src/fabric"
	"github.com/shopspring/decimal"
)

// recordingObserver funnels every observer callback into channels the tests
// can block on.
type recordingObserver struct {
	peerLists chan []string
	rates     chan string
	logs      chan string
	alerts    chan string
	pane      chan string
}

func newRecordingObserver() *recordingObserver {
	return &recordingObserver{
		peerLists: make(chan []string, 10),
		rates:     make(chan string, 10),
		logs:      make(chan string, 10),
		alerts:    make(chan string, 10),
		pane:      make(chan string, 10),
	}
}

func (o *recordingObserver) UpdatePeerList(branches []string) { o.peerLists <- branches }
func (o *recordingObserver) UpdateRates(text string)          { o.rates <- text }
func (o *recordingObserver) AppendLog(text string)            { o.logs <- text }
func (o *recordingObserver) ShowAlert(text string)            { o.alerts <- text }
func (o *recordingObserver) SetNotificationPane(text string)  { o.pane <- text }

func await(t *testing.T, ch chan string, what string) string {
	select {
	case text := <-ch:
		return text
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
		return ""
	}
}

func testConfig() Config {
	return Config{
		RequestTimeout:    200 * time.Millisecond,
		DiscoveryInterval: 10 * time.Millisecond,
		DiscoveryAttempts: 5,
	}
}

func newTestClient(t *testing.T) (*Client, *recordingObserver, *directory.Directory, *fabric.Exchange) {
	logger := common.NewTestEntry(t)

	dir := directory.New(logger)
	exchange := fabric.NewExchange(logger)
	observer := newRecordingObserver()

	client := NewClient("client", testConfig(), dir, exchange, observer, logger)
	t.Cleanup(client.Shutdown)

	return client, observer, dir, exchange
}

func TestDiscoverBranches(t *testing.T) {
	client, observer, dir, _ := newTestClient(t)

	// the branch registers after the client started looking
	go func() {
		time.Sleep(30 * time.Millisecond)
		dir.Register("branch-1", directory.CapabilityBranch, "bt-bank-branch-service")
	}()

	client.DiscoverBranches()

	select {
	case branches := <-observer.peerLists:
		if len(branches) != 1 || branches[0] != "branch-1" {
			t.Fatalf("bad branch list: %v", branches)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for the peer list")
	}

	if branches := client.Branches(); len(branches) != 1 {
		t.Fatalf("bad cached branch list: %v", branches)
	}
}

func TestDiscoverBranchesExhaustion(t *testing.T) {
	client, observer, _, _ := newTestClient(t)

	// nobody registered: the initial lookup reports the failure too
	client.DiscoverBranches()

	if text := await(t, observer.logs, "exhaustion notice"); text != "No branches found" {
		t.Fatalf("bad notice: %q", text)
	}
}

func TestRefreshBranchesExhaustion(t *testing.T) {
	client, observer, _, _ := newTestClient(t)

	// an explicit refresh reports the failure to the operator
	client.RefreshBranches()

	if text := await(t, observer.logs, "exhaustion notice"); text != "No branches found" {
		t.Fatalf("bad notice: %q", text)
	}
}

func TestBranchRequestReply(t *testing.T) {
	client, observer, _, exchange := newTestClient(t)
	client.RunAsync()

	branchMb := exchange.Register("branch-1")

	client.OpenAccount("branch-1", "john")

	request, ok := branchMb.ReceiveBlocking(nil, 2*time.Second)
	if !ok {
		t.Fatal("the branch should have received the request")
	}
	if request.ConversationID != fabric.ConvOpenAccount {
		t.Fatalf("bad conversation: %s", request.ConversationID)
	}

	// the free-text reply lands in the transaction log
	exchange.Send(request.CreateReply("branch-1", "Account john opened with balance 0"))

	if text := await(t, observer.logs, "branch reply"); text != "[branch-1] Account john opened with balance 0" {
		t.Fatalf("bad log line: %q", text)
	}
}

func TestRequestNotifications(t *testing.T) {
	client, observer, dir, exchange := newTestClient(t)
	client.RunAsync()

	notifMb := exchange.Register("notification")
	dir.Register("notification", directory.CapabilityNotification, "bt-notification-service")

	// answer the query like the notification engine would
	go func() {
		msg, ok := notifMb.ReceiveBlocking(nil, 2*time.Second)
		if !ok {
			return
		}
		reply := msg.CreateReply("notification", "No notifications for account john")
		reply.ConversationID = fabric.ConvNotificationList
		exchange.Send(reply)
	}()

	content, err := client.RequestNotifications("john")
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if content != "No notifications for account john" {
		t.Fatalf("bad content: %q", content)
	}
	if text := await(t, observer.pane, "notification pane"); text != content {
		t.Fatalf("bad pane: %q", text)
	}
}

func TestRequestNotificationsTimeout(t *testing.T) {
	client, observer, dir, exchange := newTestClient(t)
	client.RunAsync()

	// the agent exists but never answers
	exchange.Register("notification")
	dir.Register("notification", directory.CapabilityNotification, "bt-notification-service")

	_, err := client.RequestNotifications("john")
	if !common.IsBank(err, common.RequestTimedOut) {
		t.Fatalf("err should be RequestTimedOut, not %v", err)
	}

	text := await(t, observer.pane, "timeout notice")
	if text != "Timed out loading notifications for john. Please try again." {
		t.Fatalf("bad notice: %q", text)
	}
}

func TestRequestNotificationsNoAgent(t *testing.T) {
	client, observer, _, _ := newTestClient(t)

	_, err := client.RequestNotifications("john")
	if !common.IsBank(err, common.TransientLookup) {
		t.Fatalf("err should be TransientLookup, not %v", err)
	}
	if text := await(t, observer.alerts, "alert"); text != "Notification agent not found" {
		t.Fatalf("bad alert: %q", text)
	}
}

func TestSetLowBalanceThreshold(t *testing.T) {
	client, _, dir, exchange := newTestClient(t)

	notifMb := exchange.Register("notification")
	dir.Register("notification", directory.CapabilityNotification, "bt-notification-service")

	if err := client.SetLowBalanceThreshold("john", decimal.NewFromInt(50)); err != nil {
		t.Fatalf("err: %v", err)
	}

	msg, ok := notifMb.ReceiveBlocking(nil, 2*time.Second)
	if !ok {
		t.Fatal("the agent should have received the request")
	}
	if msg.ConversationID != fabric.ConvSetThreshold {
		t.Fatalf("bad conversation: %s", msg.ConversationID)
	}
	if msg.Content != "john;50" {
		t.Fatalf("bad payload: %q", msg.Content)
	}
}

func TestRequestRatesNoAgent(t *testing.T) {
	client, observer, _, _ := newTestClient(t)
	client.RunAsync()

	_, err := client.RequestRates()
	if !common.IsBank(err, common.TransientLookup) {
		t.Fatalf("err should be TransientLookup, not %v", err)
	}
	if text := await(t, observer.rates, "rates notice"); !strings.HasPrefix(text, "Exchange agent not found") {
		t.Fatalf("bad notice: %q", text)
	}
}

func TestStaleReplyDropped(t *testing.T) {
	client, observer, dir, exchange := newTestClient(t)
	client.RunAsync()

	notifMb := exchange.Register("notification")
	dir.Register("notification", directory.CapabilityNotification, "bt-notification-service")

	// let the first request time out, then answer it late
	_, err := client.RequestNotifications("john")
	if !common.IsBank(err, common.RequestTimedOut) {
		t.Fatalf("err should be RequestTimedOut, not %v", err)
	}
	await(t, observer.pane, "timeout notice")

	request, ok := notifMb.Receive(nil)
	if !ok {
		t.Fatal("the agent should hold the first request")
	}

	late := request.CreateReply("notification", "stale answer")
	late.ConversationID = fabric.ConvNotificationList
	exchange.Send(late)

	// the stale reply must not reach the notification pane
	select {
	case text := <-observer.pane:
		t.Fatalf("stale reply leaked to the pane: %q", text)
	case <-time.After(100 * time.Millisecond):
	}
}
