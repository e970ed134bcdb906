package fabric

import (
	"bufio"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/ugorji/go/codec"
)

const relayBufSize = 65535

var (
	// ErrRelayShutdown is returned when operations on a relay are invoked
	// after it's been terminated.
	ErrRelayShutdown = errors.New("relay shutdown")
)

// Relay forwards fabric messages between process-local exchanges over a
// stream layer. Each frame is one canonical-JSON encoded Message. Inbound
// messages are deposited into the local exchange; outbound messages are
// forwarded to the remote relay responsible for their receivers. Delivery
// remains best-effort: a dead remote only costs the forwarded copy.
type Relay struct {
	logger *logrus.Entry

	exchange *Exchange
	stream   StreamLayer

	connPool     map[string][]*relayConn
	connPoolLock sync.Mutex
	maxPool      int

	peers     []string
	peersLock sync.RWMutex

	timeout time.Duration

	shutdown     bool
	shutdownCh   chan struct{}
	shutdownLock sync.Mutex
}

type relayConn struct {
	target string
	conn   net.Conn
	w      *bufio.Writer
	enc    *codec.Encoder
}

// Release closes the underlying connection
func (r *relayConn) Release() error {
	return r.conn.Close()
}

// NewRelay creates a relay bound to an exchange. The maxPool controls how many
// connections are pooled per target. The timeout applies I/O deadlines.
func NewRelay(
	exchange *Exchange,
	stream StreamLayer,
	maxPool int,
	timeout time.Duration,
	logger *logrus.Entry,
) *Relay {
	if logger == nil {
		log := logrus.New()
		log.Level = logrus.DebugLevel
		logger = logrus.NewEntry(log)
	}

	return &Relay{
		logger:     logger.WithField("component", "relay"),
		exchange:   exchange,
		stream:     stream,
		connPool:   make(map[string][]*relayConn),
		maxPool:    maxPool,
		timeout:    timeout,
		shutdownCh: make(chan struct{}),
	}
}

// LocalAddr returns the address the relay listens on.
func (r *Relay) LocalAddr() string {
	addr := r.stream.Addr()

	if addr != nil {
		return addr.String()
	}

	return ""
}

// AdvertiseAddr returns the publicly-reachable address of the relay.
func (r *Relay) AdvertiseAddr() string {
	return r.stream.AdvertiseAddr()
}

// IsShutdown is used to check if the relay is shutdown.
func (r *Relay) IsShutdown() bool {
	select {
	case <-r.shutdownCh:
		return true
	default:
		return false
	}
}

// Close is used to stop the relay.
func (r *Relay) Close() error {
	r.shutdownLock.Lock()
	defer r.shutdownLock.Unlock()

	if !r.shutdown {
		close(r.shutdownCh)
		r.stream.Close()
		r.shutdown = true
	}
	return nil
}

// Listen accepts incoming connections and decodes messages into the local
// exchange. This is a blocking call.
func (r *Relay) Listen() {
	for {
		conn, err := r.stream.Accept()
		if err != nil {
			if r.IsShutdown() {
				return
			}
			r.logger.WithError(err).Error("Failed to accept connection")
			continue
		}

		r.logger.WithField("node", conn.RemoteAddr()).Debug("Inbound relay connection accepted")

		go r.handleConn(conn)
	}
}

// handleConn decodes a stream of messages from a single inbound connection.
func (r *Relay) handleConn(conn net.Conn) {
	defer conn.Close()

	jh := new(codec.JsonHandle)
	jh.Canonical = true
	dec := codec.NewDecoder(bufio.NewReaderSize(conn, relayBufSize), jh)

	for {
		var msg Message
		if err := dec.Decode(&msg); err != nil {
			if !r.IsShutdown() {
				r.logger.WithError(err).Debug("Relay connection closed")
			}
			return
		}

		r.exchange.Deliver(msg)
	}
}

// SetPeers installs the relay addresses of the other process groups.
func (r *Relay) SetPeers(peers []string) {
	r.peersLock.Lock()
	defer r.peersLock.Unlock()

	r.peers = peers
}

// Broadcast forwards a message to every configured peer relay. Delivery is
// best-effort; a dead peer only costs its copy.
func (r *Relay) Broadcast(msg Message) {
	r.peersLock.RLock()
	peers := append([]string{}, r.peers...)
	r.peersLock.RUnlock()

	for _, peer := range peers {
		if err := r.Forward(peer, msg); err != nil {
			r.logger.WithError(err).WithField("peer", peer).Error("Failed to forward message")
		}
	}
}

// Forward sends a message to the relay at target.
func (r *Relay) Forward(target string, msg Message) error {
	if r.IsShutdown() {
		return ErrRelayShutdown
	}

	conn, err := r.getConn(target)
	if err != nil {
		return err
	}

	if r.timeout > 0 {
		conn.conn.SetWriteDeadline(time.Now().Add(r.timeout))
	}

	if err := conn.enc.Encode(&msg); err != nil {
		conn.Release()
		return err
	}

	if err := conn.w.Flush(); err != nil {
		conn.Release()
		return err
	}

	r.returnConn(conn)

	return nil
}

// getPooledConn is used to grab a pooled connection.
func (r *Relay) getPooledConn(target string) *relayConn {
	r.connPoolLock.Lock()
	defer r.connPoolLock.Unlock()

	conns, ok := r.connPool[target]
	if !ok || len(conns) == 0 {
		return nil
	}

	var conn *relayConn
	num := len(conns)
	conn, conns[num-1] = conns[num-1], nil
	r.connPool[target] = conns[:num-1]
	return conn
}

// getConn is used to get a connection from the pool, dialing if necessary.
func (r *Relay) getConn(target string) (*relayConn, error) {
	if conn := r.getPooledConn(target); conn != nil {
		return conn, nil
	}

	conn, err := r.stream.Dial(target, r.timeout)
	if err != nil {
		return nil, err
	}

	w := bufio.NewWriterSize(conn, relayBufSize)

	jh := new(codec.JsonHandle)
	jh.Canonical = true

	return &relayConn{
		target: target,
		conn:   conn,
		w:      w,
		enc:    codec.NewEncoder(w, jh),
	}, nil
}

// returnConn returns a connection back to the pool.
func (r *Relay) returnConn(conn *relayConn) {
	r.connPoolLock.Lock()
	defer r.connPoolLock.Unlock()

	key := conn.target
	conns := r.connPool[key]

	if !r.IsShutdown() && len(conns) < r.maxPool {
		r.connPool[key] = append(conns, conn)
	} else {
		conn.Release()
	}
}
