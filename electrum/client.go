package electrum

import (
	"bufio"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/log"
)

const (
	clientName      = "payment-monitor"
	protocolVersion = "1.4"

	dialTimeout = 10 * time.Second

	// Size of the inbound notification buffer. If the consumer falls
	// behind, further pushes are dropped; the poll sweep reconverges on
	// anything missed.
	notificationBufferSize = 256

	// Electrum responses are single JSON lines; verbose transactions can
	// get large.
	maxLineBytes = 1 << 22
)

var ErrClientClosed = errors.New("electrum client closed")

// Client is a single persistent connection to an Electrum-style
// indexer: JSON-RPC 2.0 calls correlated by id, plus server-initiated
// address and header notifications delivered on a channel. A Client is
// one connection; after a transport failure it is dead and the caller
// dials a fresh one.
type Client struct {
	conn net.Conn

	writeMu sync.Mutex

	pendingMu sync.Mutex
	pending   map[uint64]chan *response
	nextId    atomic.Uint64

	notifications chan AddressNotification
	tipHeight     atomic.Int64

	closeOnce sync.Once
	closed    chan struct{}

	// onError is invoked at most once, from the read loop, when the
	// connection fails for any reason other than an explicit Close.
	onError func(err error)
}

// Dial connects, handshakes server.version and subscribes to headers
// so the client tracks the chain tip. onError may be nil.
func Dial(ctx context.Context, endpoint string, enableTLS bool, onError func(err error)) (*Client, error) {
	dialer := &net.Dialer{Timeout: dialTimeout}
	var conn net.Conn
	var err error
	if enableTLS {
		conn, err = tls.DialWithDialer(dialer, "tcp", endpoint, &tls.Config{})
	} else {
		conn, err = dialer.DialContext(ctx, "tcp", endpoint)
	}
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", endpoint, err)
	}

	client := &Client{
		conn:          conn,
		pending:       make(map[uint64]chan *response),
		notifications: make(chan AddressNotification, notificationBufferSize),
		closed:        make(chan struct{}),
		onError:       onError,
	}
	go client.readLoop()

	var versionReply []string
	if err := client.call(ctx, MethodServerVersion, []interface{}{clientName, protocolVersion}, &versionReply); err != nil {
		client.Close()
		return nil, fmt.Errorf("server.version handshake: %w", err)
	}

	var tip Header
	if err := client.call(ctx, MethodHeadersSubscribe, nil, &tip); err != nil {
		client.Close()
		return nil, fmt.Errorf("headers subscribe: %w", err)
	}
	client.tipHeight.Store(tip.Height)

	log.Info("electrum session established", "endpoint", endpoint, "tip", tip.Height)
	return client, nil
}

// Notifications returns the channel carrying address status pushes.
// The channel is closed when the connection dies.
func (c *Client) Notifications() <-chan AddressNotification {
	return c.notifications
}

// TipHeight returns the last chain tip height reported by the server,
// 0 if unknown.
func (c *Client) TipHeight() int64 {
	return c.tipHeight.Load()
}

// SubscribeAddress registers for status pushes on the address and
// returns its current status hash (empty if the server knows nothing).
func (c *Client) SubscribeAddress(ctx context.Context, address string) (string, error) {
	var status *string
	if err := c.call(ctx, MethodAddressSubscribe, []interface{}{address}, &status); err != nil {
		return "", err
	}
	if status == nil {
		return "", nil
	}
	return *status, nil
}

// GetHistory returns the ordered confirmed-then-unconfirmed history of
// an address.
func (c *Client) GetHistory(ctx context.Context, address string) ([]HistoryItem, error) {
	var history []HistoryItem
	if err := c.call(ctx, MethodGetHistory, []interface{}{address}, &history); err != nil {
		return nil, err
	}
	return history, nil
}

// GetTransaction fetches a transaction in verbose form.
func (c *Client) GetTransaction(ctx context.Context, txHash string) (*Transaction, error) {
	var tx Transaction
	if err := c.call(ctx, MethodGetTransaction, []interface{}{txHash, true}, &tx); err != nil {
		return nil, err
	}
	return &tx, nil
}

// Close shuts the connection down. Idempotent; pending calls fail with
// ErrClientClosed and the notification channel is closed.
func (c *Client) Close() error {
	c.shutdown(nil)
	return nil
}

func (c *Client) call(ctx context.Context, method string, params []interface{}, result interface{}) error {
	if params == nil {
		params = []interface{}{}
	}
	id := c.nextId.Add(1)
	req := request{JsonRpc: "2.0", Id: id, Method: method, Params: params}
	payload, err := json.Marshal(req)
	if err != nil {
		return err
	}
	payload = append(payload, '\n')

	replyCh := make(chan *response, 1)
	c.pendingMu.Lock()
	c.pending[id] = replyCh
	c.pendingMu.Unlock()
	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, id)
		c.pendingMu.Unlock()
	}()

	c.writeMu.Lock()
	_, err = c.conn.Write(payload)
	c.writeMu.Unlock()
	if err != nil {
		return fmt.Errorf("write %s: %w", method, err)
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-c.closed:
		return ErrClientClosed
	case reply := <-replyCh:
		if reply.Error != nil {
			return reply.Error
		}
		if result == nil {
			return nil
		}
		return json.Unmarshal(reply.Result, result)
	}
}

func (c *Client) readLoop() {
	// The read loop is the sole sender on the notification channel, so
	// it is also the one to close it.
	defer close(c.notifications)

	scanner := bufio.NewScanner(c.conn)
	scanner.Buffer(make([]byte, 4096), maxLineBytes)
	for scanner.Scan() {
		line := scanner.Bytes()
		var reply response
		if err := json.Unmarshal(line, &reply); err != nil {
			log.Warn("discarding malformed electrum message", "err", err)
			continue
		}
		if reply.Id != nil {
			c.pendingMu.Lock()
			replyCh, ok := c.pending[*reply.Id]
			c.pendingMu.Unlock()
			if ok {
				replyCh <- &reply
			}
			continue
		}
		c.handleNotification(&reply)
	}
	err := scanner.Err()
	select {
	case <-c.closed:
		// Explicit Close unblocked the scanner; not a failure.
		return
	default:
	}
	if err == nil {
		err = errors.New("connection closed by server")
	}
	c.shutdown(err)
}

func (c *Client) handleNotification(reply *response) {
	switch reply.Method {
	case MethodAddressSubscribe:
		var params []string
		if err := json.Unmarshal(reply.Params, &params); err != nil || len(params) < 2 {
			log.Warn("malformed address notification", "err", err)
			return
		}
		select {
		case c.notifications <- AddressNotification{Address: params[0], Status: params[1]}:
		default:
			log.Warn("notification buffer full, dropping push", "address", params[0])
		}
	case MethodHeadersSubscribe:
		var params []Header
		if err := json.Unmarshal(reply.Params, &params); err != nil || len(params) < 1 {
			log.Warn("malformed header notification", "err", err)
			return
		}
		c.tipHeight.Store(params[0].Height)
	default:
		log.Debug("ignoring notification", "method", reply.Method)
	}
}

// shutdown tears the connection down once. err is nil on explicit
// Close, non-nil when the transport failed.
func (c *Client) shutdown(err error) {
	var first bool
	c.closeOnce.Do(func() {
		first = true
		close(c.closed)
		_ = c.conn.Close()
	})
	if !first || err == nil {
		return
	}
	log.Error("electrum session lost", "err", err)
	// Invoked after the once block returns, so the callback is free to
	// call Close on this client without deadlocking on the Once.
	if c.onError != nil {
		c.onError(err)
	}
}
