// Package rates implements the currency-exchange node. It holds six directed
// rate pairs across three currencies, perturbs them periodically with a
// bounded random walk, and answers synchronous snapshot queries.
package rates

import (
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/bancanet/banca/src/directory"
	"github.com/bancanet/banca/src/fabric"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// CapabilityName is the service name the engine advertises in the directory.
const CapabilityName = "bt-currency-exchange-service"

// Rate pair keys.
const (
	RonEur = "RON_EUR"
	RonUsd = "RON_USD"
	EurUsd = "EUR_USD"
	EurRon = "EUR_RON"
	UsdRon = "USD_RON"
	UsdEur = "USD_EUR"
)

var (
	lowerBound = decimal.NewFromFloat(0.01)
	upperBound = decimal.NewFromInt(100)
	one        = decimal.NewFromInt(1)
)

// Engine is the currency-exchange node.
type Engine struct {
	moniker string

	rates map[string]decimal.Decimal
	lock  sync.RWMutex
	rng   *rand.Rand

	dir      *directory.Directory
	exchange *fabric.Exchange
	mailbox  *fabric.Mailbox

	tick   time.Duration
	logger *logrus.Entry

	shutdownCh   chan struct{}
	shutdownOnce sync.Once
}

// NewEngine registers a currency-exchange engine with the directory and the
// fabric, seeded with the base rates.
func NewEngine(
	moniker string,
	tick time.Duration,
	dir *directory.Directory,
	exchange *fabric.Exchange,
	logger *logrus.Entry,
) *Engine {
	engine := &Engine{
		moniker: moniker,
		rates: map[string]decimal.Decimal{
			RonEur: decimal.NewFromFloat(0.20),
			RonUsd: decimal.NewFromFloat(0.22),
			EurUsd: decimal.NewFromFloat(1.10),
			EurRon: decimal.NewFromFloat(5.00),
			UsdRon: decimal.NewFromFloat(4.55),
			UsdEur: decimal.NewFromFloat(0.91),
		},
		rng:        rand.New(rand.NewSource(time.Now().UnixNano())),
		dir:        dir,
		exchange:   exchange,
		mailbox:    exchange.Register(moniker),
		tick:       tick,
		logger:     logger.WithField("rates", moniker),
		shutdownCh: make(chan struct{}),
	}

	dir.Register(moniker, directory.CapabilityExchange, CapabilityName)

	return engine
}

// Moniker returns the engine's identity on the fabric.
func (e *Engine) Moniker() string {
	return e.moniker
}

// RunAsync starts the ticker and the message loop on separate goroutines.
func (e *Engine) RunAsync() {
	go e.tickLoop()
	go e.Run()
}

// Run invokes the message loop of the engine.
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

		if msg.ConversationID != fabric.ConvGetRates {
			e.logger.WithField("conversation", msg.ConversationID).Debug("Ignoring message")
			continue
		}

		// the snapshot reply rides its own conversation and echoes the
		// requester's correlation tag
		reply := msg.CreateReply(e.moniker, e.Snapshot())
		reply.ConversationID = fabric.ConvRatesUpdate
		e.exchange.Send(reply)
	}
}

func (e *Engine) tickLoop() {
	ticker := time.NewTicker(e.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			e.UpdateRates()
		case <-e.shutdownCh:
			return
		}
	}
}

// Shutdown stops the engine's loops.
func (e *Engine) Shutdown() {
	e.shutdownOnce.Do(func() {
		e.logger.Debug("Shutdown")
		close(e.shutdownCh)
		e.mailbox.Close()
	})
}

// UpdateRates multiplies each rate by a uniform random factor in
// [0.98, 1.02], skipping any result outside (0.01, 100), then forces the
// three inverse pairs to be the reciprocal of their counterpart so
// forward/inverse pairs stay mutually consistent.
func (e *Engine) UpdateRates() {
	e.lock.Lock()
	defer e.lock.Unlock()

	for key, rate := range e.rates {
		change := decimal.NewFromFloat(1 + (e.rng.Float64()*0.04 - 0.02))
		newRate := rate.Mul(change)

		// keep reasonable bounds
		if newRate.GreaterThan(lowerBound) && newRate.LessThan(upperBound) {
			e.rates[key] = newRate.Round(4)
		}
	}

	e.rates[EurRon] = one.Div(e.rates[RonEur]).Round(2)
	e.rates[UsdRon] = one.Div(e.rates[RonUsd]).Round(2)
	e.rates[UsdEur] = one.Div(e.rates[EurUsd]).Round(2)

	e.logger.Debug("Updated exchange rates")
}

// Snapshot returns the formatted multi-line view of all six rate pairs.
func (e *Engine) Snapshot() string {
	e.lock.RLock()
	defer e.lock.RUnlock()

	return fmt.Sprintf(
		"Exchange Rates:\n"+
			"1 RON = %s EUR | 1 RON = %s USD\n"+
			"1 EUR = %s USD | 1 EUR = %s RON\n"+
			"1 USD = %s RON | 1 USD = %s EUR",
		e.rates[RonEur].StringFixed(4), e.rates[RonUsd].StringFixed(4),
		e.rates[EurUsd].StringFixed(4), e.rates[EurRon].StringFixed(2),
		e.rates[UsdRon].StringFixed(2), e.rates[UsdEur].StringFixed(4))
}

// Rates returns a copy of the current rate table.
func (e *Engine) Rates() map[string]decimal.Decimal {
	e.lock.RLock()
	defer e.lock.RUnlock()

	res := make(map[string]decimal.Decimal, len(e.rates))
	for k, v := range e.rates {
		res[k] = v
	}

	return res
}
