package discovery

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/bancanet/banca/src/common"
	"github.com/bancanet/banca/src/directory"
)

func TestPollerSuccess(t *testing.T) {
	var calls int32

	// empty twice, then one record
	lookup := func() []directory.ServiceRecord {
		if atomic.AddInt32(&calls, 1) < 3 {
			return nil
		}
		return []directory.ServiceRecord{{Identity: "branch-1"}}
	}

	foundCh := make(chan []directory.ServiceRecord, 1)

	poller := NewPoller(
		lookup,
		time.Millisecond,
		10,
		func(records []directory.ServiceRecord) { foundCh <- records },
		func() { t.Error("onExhausted should not fire") },
		common.NewTestEntry(t),
	)
	poller.Start()
	defer poller.Stop()

	select {
	case records := <-foundCh:
		if len(records) != 1 || records[0].Identity != "branch-1" {
			t.Fatalf("bad records: %v", records)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for onSuccess")
	}

	if c := atomic.LoadInt32(&calls); c != 3 {
		t.Fatalf("expected 3 lookups, got %d", c)
	}
}

func TestPollerExhaustion(t *testing.T) {
	var calls int32
	lookup := func() []directory.ServiceRecord {
		atomic.AddInt32(&calls, 1)
		return nil
	}

	exhaustedCh := make(chan struct{})

	poller := NewPoller(
		lookup,
		time.Millisecond,
		5,
		func([]directory.ServiceRecord) { t.Error("onSuccess should not fire") },
		func() { close(exhaustedCh) },
		common.NewTestEntry(t),
	)
	poller.Start()

	select {
	case <-exhaustedCh:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for onExhausted")
	}

	if c := atomic.LoadInt32(&calls); c != 5 {
		t.Fatalf("expected exactly 5 lookups, got %d", c)
	}
}

func TestPollerStop(t *testing.T) {
	lookup := func() []directory.ServiceRecord { return nil }

	poller := NewPoller(
		lookup,
		time.Hour,
		10,
		func([]directory.ServiceRecord) {},
		func() { t.Error("onExhausted should not fire after Stop") },
		common.NewTestEntry(t),
	)
	poller.Start()
	poller.Stop()
	poller.Stop() // idempotent

	time.Sleep(10 * time.Millisecond)
}

func TestWaitExhaustion(t *testing.T) {
	_, err := Wait(func() []directory.ServiceRecord { return nil }, time.Millisecond, 3)
	if !common.IsBank(err, common.DiscoveryExhausted) {
		t.Fatalf("err should be DiscoveryExhausted, not %v", err)
	}
}

func TestWaitSingleAttempt(t *testing.T) {
	// with one attempt there is nothing to wait for; the interval must not be
	// slept after the last lookup
	start := time.Now()
	_, err := Wait(func() []directory.ServiceRecord { return nil }, time.Hour, 1)
	if !common.IsBank(err, common.DiscoveryExhausted) {
		t.Fatalf("err should be DiscoveryExhausted, not %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("Wait slept after the final attempt: %v", elapsed)
	}
}

func TestWaitSuccess(t *testing.T) {
	records, err := Wait(func() []directory.ServiceRecord {
		return []directory.ServiceRecord{{Identity: "x"}}
	}, time.Millisecond, 3)
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(records))
	}
}
