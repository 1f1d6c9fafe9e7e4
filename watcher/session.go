package watcher

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/log"

	"github.com/openpay-labs/payment-monitor/config"
	"github.com/openpay-labs/payment-monitor/electrum"
)

// SessionState tracks the connection state machine of the indexer
// session.
type SessionState int32

const (
	StateDisconnected SessionState = iota
	StateConnecting
	StateConnected
	StateReconnectScheduled
)

var ErrNotConnected = errors.New("indexer session not connected")

// ChainClient is the slice of the electrum client the session manages.
type ChainClient interface {
	SubscribeAddress(ctx context.Context, address string) (string, error)
	GetHistory(ctx context.Context, address string) ([]electrum.HistoryItem, error)
	GetTransaction(ctx context.Context, txHash string) (*electrum.Transaction, error)
	TipHeight() int64
	Notifications() <-chan electrum.AddressNotification
	Close() error
}

// DialFunc opens a fresh connection. onError must be invoked at most
// once when the resulting connection later fails.
type DialFunc func(ctx context.Context, onError func(err error)) (ChainClient, error)

// Session owns the persistent indexer connection: connect, reconnect
// with a single pending timer, and re-subscription of every registry
// entry after recovery. Inbound pushes from all connections are piped
// onto one stable channel so consumers survive reconnects.
type Session struct {
	cfg      config.IndexerConfig
	dial     DialFunc
	registry *Registry

	mu             sync.Mutex
	state          SessionState
	client         ChainClient
	reconnectTimer *time.Timer
	closed         bool

	notifs    chan electrum.AddressNotification
	forwarder sync.WaitGroup
}

func NewSession(cfg config.IndexerConfig, dial DialFunc, registry *Registry) *Session {
	return &Session{
		cfg:      cfg,
		dial:     dial,
		registry: registry,
		state:    StateDisconnected,
		notifs:   make(chan electrum.AddressNotification, 256),
	}
}

// Connect performs the initial connection attempt. Failure is not
// fatal: it is logged and a reconnect is scheduled, so the error never
// reaches the caller.
func (s *Session) Connect(ctx context.Context) {
	s.mu.Lock()
	if s.closed || s.state == StateConnected || s.state == StateConnecting {
		s.mu.Unlock()
		return
	}
	s.state = StateConnecting
	s.mu.Unlock()
	s.connect(ctx)
}

// connect runs with state already set to Connecting. The dial and the
// re-subscription pass are network calls and must not hold the mutex,
// or State, Disconnect and every read would stall behind them.
func (s *Session) connect(ctx context.Context) {
	client, err := s.dial(ctx, s.handleDisconnect)
	if err != nil {
		log.Error("indexer connect fail", "endpoint", s.cfg.Endpoint, "err", err)
		s.mu.Lock()
		s.scheduleReconnectLocked()
		s.mu.Unlock()
		return
	}

	// Re-subscribe existing coverage before the session is handed out,
	// so a reconnect never silently drops addresses.
	for _, meta := range s.registry.Snapshot() {
		if _, err := client.SubscribeAddress(ctx, meta.Address); err != nil {
			log.Error("re-subscribe fail", "address", meta.Address, "err", err)
			client.Close()
			s.mu.Lock()
			s.scheduleReconnectLocked()
			s.mu.Unlock()
			return
		}
	}

	s.mu.Lock()
	if s.closed || s.reconnectTimer != nil {
		// Disconnected while dialing, or the transport already reported
		// a failure; the fresh client must not be installed.
		s.mu.Unlock()
		client.Close()
		return
	}
	s.client = client
	s.state = StateConnected
	s.forwarder.Add(1)
	s.mu.Unlock()

	go s.forward(client)
	log.Info("indexer session connected", "endpoint", s.cfg.Endpoint, "watched", s.registry.Len())
}

// forward pipes one connection's pushes onto the stable channel until
// that connection dies.
func (s *Session) forward(client ChainClient) {
	defer s.forwarder.Done()
	for notification := range client.Notifications() {
		select {
		case s.notifs <- notification:
		default:
			// Bounded queue: a stalled consumer loses pushes, the poll
			// sweep reconverges on anything missed.
			log.Warn("push queue full, dropping notification", "address", notification.Address)
		}
	}
}

// handleDisconnect is invoked by the transport when the connection
// fails. Re-entrant calls while a reconnect timer is already pending
// are no-ops.
func (s *Session) handleDisconnect(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	log.Warn("indexer session dropped", "err", err)
	if s.client != nil {
		// Releases the dead transport and ends its forwarder. Close is
		// idempotent, the transport may already be gone.
		s.client.Close()
		s.client = nil
	}
	s.scheduleReconnectLocked()
}

func (s *Session) scheduleReconnectLocked() {
	if s.reconnectTimer != nil {
		return
	}
	s.state = StateReconnectScheduled
	s.reconnectTimer = time.AfterFunc(s.cfg.ReconnectDelay, func() {
		s.mu.Lock()
		s.reconnectTimer = nil
		if s.closed || s.state == StateConnected || s.state == StateConnecting {
			s.mu.Unlock()
			return
		}
		s.state = StateConnecting
		s.mu.Unlock()
		s.connect(context.Background())
	})
}

// Subscribe registers the address with the live connection. Without a
// connection this is a no-op: the reconnect pass re-subscribes every
// registry entry, and the poll sweep covers the gap.
func (s *Session) Subscribe(ctx context.Context, address string) {
	s.mu.Lock()
	client := s.client
	s.mu.Unlock()
	if client == nil {
		return
	}
	if _, err := client.SubscribeAddress(ctx, address); err != nil {
		log.Warn("subscribe fail", "address", address, "err", err)
	}
}

// Notifications returns the stable push channel. It is closed only by
// Disconnect.
func (s *Session) Notifications() <-chan electrum.AddressNotification {
	return s.notifs
}

func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Disconnect cancels any pending reconnect, releases the transport and
// closes the push channel. Idempotent.
func (s *Session) Disconnect() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	if s.reconnectTimer != nil {
		s.reconnectTimer.Stop()
		s.reconnectTimer = nil
	}
	client := s.client
	s.client = nil
	s.state = StateDisconnected
	s.mu.Unlock()

	if client != nil {
		client.Close()
	}
	s.forwarder.Wait()
	close(s.notifs)
	log.Info("indexer session closed")
}

// GetHistory implements ChainReader against the current connection.
func (s *Session) GetHistory(ctx context.Context, address string) ([]electrum.HistoryItem, error) {
	client, err := s.currentClient()
	if err != nil {
		return nil, err
	}
	return client.GetHistory(ctx, address)
}

func (s *Session) GetTransaction(ctx context.Context, txHash string) (*electrum.Transaction, error) {
	client, err := s.currentClient()
	if err != nil {
		return nil, err
	}
	return client.GetTransaction(ctx, txHash)
}

func (s *Session) TipHeight() int64 {
	client, err := s.currentClient()
	if err != nil {
		return 0
	}
	return client.TipHeight()
}

func (s *Session) currentClient() (ChainClient, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client == nil {
		return nil, ErrNotConnected
	}
	return s.client, nil
}
