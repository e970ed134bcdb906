// Package banca assembles a process group of banking nodes: the shared
// directory, the message fabric, a set of branch nodes, the notification
// engine, the currency-exchange engine and the operator client.
package banca

import (
	"fmt"

	"github.com/bancanet/banca/src/branch"
	"github.com/bancanet/banca/src/client"
	"github.com/bancanet/banca/src/config"
	"github.com/bancanet/banca/src/directory"
	"github.com/bancanet/banca/src/fabric"
	"github.com/bancanet/banca/src/notification"
	"github.com/bancanet/banca/src/rates"
	"github.com/bancanet/banca/src/service"
)

// Banca is the process-group engine.
type Banca struct {
	Config *config.Config

	Directory *directory.Directory
	Exchange  *fabric.Exchange
	Relay     *fabric.Relay

	Branches     []*branch.Node
	Notification *notification.Engine
	Rates        *rates.Engine
	Client       *client.Client

	Service *service.Service

	observer client.Observer
}

// NewBanca ...
func NewBanca(conf *config.Config) *Banca {
	return &Banca{
		Config: conf,
	}
}

// WithObserver attaches a presentation layer. Without one, the client logs
// everything it would have displayed.
func (b *Banca) WithObserver(observer client.Observer) *Banca {
	b.observer = observer
	return b
}

// Init creates and registers every node of the process group.
func (b *Banca) Init() error {
	logger := b.Config.Logger()

	if b.Config.Moniker == "" {
		b.Config.Moniker = fabric.NewAddr()
	}

	b.Directory = directory.New(logger)
	b.Exchange = fabric.NewExchange(logger)

	if err := b.initRelay(); err != nil {
		return err
	}

	for i := 0; i < b.Config.Branches; i++ {
		moniker := fmt.Sprintf("%s-branch-%d", b.Config.Moniker, i+1)
		b.Branches = append(b.Branches, branch.NewNode(moniker, b.Directory, b.Exchange, logger))
	}

	b.Notification = notification.NewEngine(
		fmt.Sprintf("%s-notification", b.Config.Moniker),
		b.Directory,
		b.Exchange,
		logger,
	)

	b.Rates = rates.NewEngine(
		fmt.Sprintf("%s-exchange", b.Config.Moniker),
		b.Config.RateTick,
		b.Directory,
		b.Exchange,
		logger,
	)

	observer := b.observer
	if observer == nil {
		observer = client.NewLogObserver(logger)
	}

	b.Client = client.NewClient(
		fmt.Sprintf("%s-client", b.Config.Moniker),
		client.Config{
			RequestTimeout:    b.Config.RequestTimeout,
			DiscoveryInterval: b.Config.DiscoveryInterval,
			DiscoveryAttempts: b.Config.DiscoveryAttempts,
		},
		b.Directory,
		b.Exchange,
		observer,
		logger,
	)

	if !b.Config.NoService {
		b.Service = service.NewService(
			b.Config.ServiceAddr,
			b.Directory,
			b.Branches,
			b.Notification,
			b.Rates,
			logger,
		)
	}

	return nil
}

// initRelay binds the TCP relay when an address is configured. Without one,
// the fabric stays purely in-process.
func (b *Banca) initRelay() error {
	if b.Config.RelayBindAddr == "" {
		return nil
	}

	stream, err := fabric.NewTCPStreamLayer(b.Config.RelayBindAddr, b.Config.RelayAdvertiseAddr)
	if err != nil {
		return err
	}

	b.Relay = fabric.NewRelay(
		b.Exchange,
		stream,
		b.Config.MaxPool,
		b.Config.RelayTimeout,
		b.Config.Logger(),
	)

	b.Relay.SetPeers(b.Config.RelayPeers)
	b.Exchange.SetForwarder(b.Relay.Broadcast)

	go b.Relay.Listen()

	return nil
}

// Run starts every node loop. This is a blocking call when the HTTP service
// is enabled.
func (b *Banca) Run() {
	for _, node := range b.Branches {
		node.RunAsync()
	}

	b.Notification.RunAsync()
	b.Rates.RunAsync()
	b.Client.RunAsync()

	if b.Service != nil {
		b.Service.Serve()
	}
}

// Shutdown stops every node loop and closes the fabric.
func (b *Banca) Shutdown() {
	b.Client.Shutdown()
	b.Rates.Shutdown()
	b.Notification.Shutdown()

	for _, node := range b.Branches {
		node.Shutdown()
	}

	if b.Relay != nil {
		b.Relay.Close()
	}

	b.Exchange.Close()
}
