package banca

import (
	"strings"
	"testing"
	"time"

	"github.com/bancanet/banca/src/config"
	"github.com/shopspring/decimal"
)

// chanObserver funnels observer callbacks into channels.
type chanObserver struct {
	peerLists chan []string
	rates     chan string
	logs      chan string
	alerts    chan string
	pane      chan string
}

func newChanObserver() *chanObserver {
	return &chanObserver{
		peerLists: make(chan []string, 10),
		rates:     make(chan string, 10),
		logs:      make(chan string, 100),
		alerts:    make(chan string, 100),
		pane:      make(chan string, 10),
	}
}

func (o *chanObserver) UpdatePeerList(branches []string) { o.peerLists <- branches }
func (o *chanObserver) UpdateRates(text string)          { o.rates <- text }
func (o *chanObserver) AppendLog(text string)            { o.logs <- text }
func (o *chanObserver) ShowAlert(text string)            { o.alerts <- text }
func (o *chanObserver) SetNotificationPane(text string)  { o.pane <- text }

func await(t *testing.T, ch chan string, what string) string {
	select {
	case text := <-ch:
		return text
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
		return ""
	}
}

func newTestEngine(t *testing.T) (*Banca, *chanObserver) {
	conf := config.NewTestConfig(t)
	conf.NoService = true

	observer := newChanObserver()

	engine := NewBanca(conf).WithObserver(observer)
	if err := engine.Init(); err != nil {
		t.Fatal(err)
	}

	engine.Run()
	t.Cleanup(engine.Shutdown)

	return engine, observer
}

func TestProcessGroupLifecycle(t *testing.T) {
	engine, observer := newTestEngine(t)

	if len(engine.Branches) != config.DefaultBranches {
		t.Fatalf("expected %d branches, got %d", config.DefaultBranches, len(engine.Branches))
	}

	// the client discovers all branches
	select {
	case branches := <-observer.peerLists:
		if len(branches) != config.DefaultBranches {
			t.Fatalf("bad branch list: %v", branches)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for branch discovery")
	}

	// and pulls a first rate snapshot from the exchange node
	text := await(t, observer.rates, "rate snapshot")
	if !strings.HasPrefix(text, "Exchange Rates:\n") {
		t.Fatalf("bad snapshot: %q", text)
	}
}

func TestAccountRoundTrip(t *testing.T) {
	engine, observer := newTestEngine(t)

	branch := engine.Branches[0].Moniker()

	engine.Client.OpenAccount(branch, "john")
	if text := await(t, observer.logs, "open reply"); !strings.Contains(text, "Account john opened with balance 0") {
		t.Fatalf("bad reply: %q", text)
	}

	// a zero balance on open triggers both the low balance alert and the
	// zero balance alert
	if text := await(t, observer.alerts, "low balance alert"); !strings.Contains(text, "Low balance alert") {
		t.Fatalf("bad alert: %q", text)
	}
	if text := await(t, observer.alerts, "zero balance alert"); !strings.Contains(text, "zero balance") {
		t.Fatalf("bad alert: %q", text)
	}

	engine.Client.Deposit(branch, "john", decimal.NewFromInt(150))
	if text := await(t, observer.logs, "deposit reply"); !strings.Contains(text, "Deposit successful. New balance: 150") {
		t.Fatalf("bad reply: %q", text)
	}

	// the new balance is replicated to every other branch
	deadline := time.Now().Add(5 * time.Second)
	for _, node := range engine.Branches[1:] {
		for {
			if balance, ok := node.Balance("john"); ok && balance.Equal(decimal.NewFromInt(150)) {
				break
			}
			if time.Now().After(deadline) {
				t.Fatalf("john was not replicated to %s", node.Moniker())
			}
			time.Sleep(time.Millisecond)
		}
	}

	// notification history is queryable through the client
	content, err := engine.Client.RequestNotifications("john")
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if !strings.HasPrefix(content, "Notifications for john:\n") {
		t.Fatalf("bad notifications: %q", content)
	}
}

func TestLowBalanceAlertRoundTrip(t *testing.T) {
	engine, observer := newTestEngine(t)

	branch := engine.Branches[0].Moniker()

	engine.Client.OpenAccount(branch, "jane")
	await(t, observer.logs, "open reply")
	await(t, observer.alerts, "low balance alert")
	await(t, observer.alerts, "zero balance alert")

	// below the default threshold of 100: low balance alert on deposit
	engine.Client.Deposit(branch, "jane", decimal.NewFromInt(40))
	await(t, observer.logs, "deposit reply")

	text := await(t, observer.alerts, "low balance alert")
	if !strings.Contains(text, "Low balance alert for account jane") {
		t.Fatalf("bad alert: %q", text)
	}
}

func TestRatesRoundTrip(t *testing.T) {
	engine, observer := newTestEngine(t)

	// drain the snapshot requested right after discovery
	await(t, observer.rates, "initial snapshot")

	// the initial request may still be flagged in flight for an instant
	var content string
	var err error
	deadline := time.Now().Add(5 * time.Second)
	for {
		content, err = engine.Client.RequestRates()
		if err == nil || time.Now().After(deadline) {
			break
		}
		time.Sleep(time.Millisecond)
	}
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if !strings.HasPrefix(content, "Exchange Rates:\n") {
		t.Fatalf("bad snapshot: %q", content)
	}

	if len(engine.Rates.Rates()) != 6 {
		t.Fatalf("expected 6 rate pairs, got %d", len(engine.Rates.Rates()))
	}
}
