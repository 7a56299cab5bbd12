// Copyright 2026 The Downlink Authors
// SPDX-License-Identifier: Apache-2.0

package telemetry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/downlink-systems/downlink/lib/clock"
)

// Status is the connection status signal exposed to observers. While
// the status is anything other than StatusConnected, the projection
// may be stale; the rendering layer is expected to mark it so.
type Status string

const (
	StatusDisconnected Status = "disconnected"
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusError        Status = "error"
)

// Reconnect backoff bounds. Delay doubles per scheduled attempt,
// capped at the maximum, and the attempt counter resets to zero on
// every successful open.
const (
	defaultBaseDelay = 1 * time.Second
	defaultMaxDelay  = 30 * time.Second
)

// defaultDialTimeout bounds a single dial attempt.
const defaultDialTimeout = 10 * time.Second

// writeTimeout bounds a single control-frame write or heartbeat ping.
const writeTimeout = 10 * time.Second

// Options configures a Client. Credentials and Endpoint are
// required; everything else has production defaults.
type Options struct {
	// Credentials supplies the bearer token. Token presence drives
	// connection attempts; a credential change notification with no
	// token present tears the client down.
	Credentials CredentialSource

	// Endpoint builds the stream URL for a token. See
	// [ServerEndpoint].
	Endpoint Endpoint

	// Dialer opens transports. Nil means a WebSocketDialer.
	Dialer Dialer

	// Clock schedules reconnect timers and heartbeats. Nil means the
	// real clock.
	Clock clock.Clock

	// Logger receives connection lifecycle and decode diagnostics.
	// Nil means slog.Default().
	Logger *slog.Logger

	// BaseDelay and MaxDelay bound the reconnect backoff. Zero means
	// the defaults (1s, 30s).
	BaseDelay time.Duration
	MaxDelay  time.Duration

	// DialTimeout bounds a single dial attempt. Zero means 10s.
	DialTimeout time.Duration

	// HeartbeatInterval enables a periodic liveness ping on the open
	// transport. Zero disables the heartbeat (the server pings on
	// its own schedule regardless).
	HeartbeatInterval time.Duration

	// Events, if set, is called from the reconcile goroutine with
	// every decoded event, including the informational ones that do
	// not mutate the projection. It must not block.
	Events func(Event)
}

// Client maintains the live download projection for one logical
// session. Construct with [New]; there is no shared package state,
// so multiple independent clients can coexist in one process.
//
// Connect, Disconnect, and SetFilter are fire-and-forget: they post
// to the reconcile loop and return immediately. Results surface
// through Status, Active, and Changed.
type Client struct {
	credentials       CredentialSource
	endpoint          Endpoint
	dialer            Dialer
	clock             clock.Clock
	logger            *slog.Logger
	baseDelay         time.Duration
	maxDelay          time.Duration
	dialTimeout       time.Duration
	heartbeatInterval time.Duration
	events            func(Event)

	store *Store

	inbox     chan clientMsg
	done      chan struct{}
	closeOnce sync.Once

	status  atomic.Value // Status
	changed chan struct{}

	unsubscribe func()

	// Everything below is owned by the reconcile goroutine. No other
	// goroutine touches these fields.
	sub            subscription
	transport      Transport
	connGen        int
	connCancel     context.CancelFunc
	dialing        bool
	dialCancel     context.CancelFunc
	attempt        int
	reconnectTimer *clock.Timer
	timerGen       int
}

// Messages consumed by the reconcile loop. Helper goroutines (dial,
// read, timer callbacks) communicate exclusively through these, which
// is what makes the loop single-writer.
type clientMsg interface{ isClientMsg() }

type connectMsg struct{}
type disconnectMsg struct{}
type closeMsg struct{}
type setFilterMsg struct{ streamerID string }
type credentialChangedMsg struct{}
type dialDoneMsg struct {
	gen       int
	transport Transport
	err       error
}
type frameMsg struct {
	gen  int
	data []byte
}
type readClosedMsg struct {
	gen int
	err error
}
type reconnectDueMsg struct{ gen int }

func (connectMsg) isClientMsg()           {}
func (disconnectMsg) isClientMsg()        {}
func (closeMsg) isClientMsg()             {}
func (setFilterMsg) isClientMsg()         {}
func (credentialChangedMsg) isClientMsg() {}
func (dialDoneMsg) isClientMsg()          {}
func (frameMsg) isClientMsg()             {}
func (readClosedMsg) isClientMsg()        {}
func (reconnectDueMsg) isClientMsg()      {}

// New constructs a Client, starts its reconcile loop, and evaluates
// the current credential: if a token is already present the client
// begins connecting immediately.
func New(options Options) (*Client, error) {
	if options.Credentials == nil {
		return nil, errors.New("telemetry: Options.Credentials is required")
	}
	if options.Endpoint == nil {
		return nil, errors.New("telemetry: Options.Endpoint is required")
	}

	c := &Client{
		credentials:       options.Credentials,
		endpoint:          options.Endpoint,
		dialer:            options.Dialer,
		clock:             options.Clock,
		logger:            options.Logger,
		baseDelay:         options.BaseDelay,
		maxDelay:          options.MaxDelay,
		dialTimeout:       options.DialTimeout,
		heartbeatInterval: options.HeartbeatInterval,
		events:            options.Events,
		store:             NewStore(),
		inbox:             make(chan clientMsg, 128),
		done:              make(chan struct{}),
		changed:           make(chan struct{}, 1),
	}
	if c.dialer == nil {
		c.dialer = &WebSocketDialer{}
	}
	if c.clock == nil {
		c.clock = clock.Real()
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	if c.baseDelay <= 0 {
		c.baseDelay = defaultBaseDelay
	}
	if c.maxDelay <= 0 {
		c.maxDelay = defaultMaxDelay
	}
	if c.dialTimeout <= 0 {
		c.dialTimeout = defaultDialTimeout
	}
	c.status.Store(StatusDisconnected)

	c.unsubscribe = c.credentials.Subscribe(func() {
		c.post(credentialChangedMsg{})
	})

	go c.run()
	c.post(credentialChangedMsg{})
	return c, nil
}

// post delivers a message to the reconcile loop, dropping it if the
// client has been closed.
func (c *Client) post(msg clientMsg) {
	select {
	case c.inbox <- msg:
	case <-c.done:
	}
}

// Connect requests a connection. No-op when a dial is already in
// flight, when already connected, or when no credential is present.
func (c *Client) Connect() { c.post(connectMsg{}) }

// Disconnect tears the connection down deliberately: any pending
// reconnect timer is cancelled first, the transport is closed, and
// the projection is cleared. Idempotent. The client can connect
// again later via Connect or a credential change.
func (c *Client) Disconnect() { c.post(disconnectMsg{}) }

// SetFilter updates the desired server-side delivery scope. An empty
// streamerID means "all downloads". If connected, the corresponding
// control frame is emitted immediately.
func (c *Client) SetFilter(streamerID string) {
	c.post(setFilterMsg{streamerID: streamerID})
}

// Close tears the client down and stops the reconcile loop. The
// client cannot be reused afterwards. Blocks until the loop exits.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		c.unsubscribe()
		c.inbox <- closeMsg{}
	})
	<-c.done
}

// Status returns the current connection status.
func (c *Client) Status() Status {
	return c.status.Load().(Status)
}

// Active returns the projection in insertion order.
func (c *Client) Active() []Download { return c.store.Active() }

// Get returns the projected entry for a download ID.
func (c *Client) Get(id string) (Download, bool) { return c.store.Get(id) }

// Len reports the number of downloads in the projection.
func (c *Client) Len() int { return c.store.Len() }

// Changed returns a channel that receives after every status or
// projection change. Notifications coalesce: a slow consumer sees at
// least one notification for any burst of changes.
func (c *Client) Changed() <-chan struct{} { return c.changed }

func (c *Client) notifyChanged() {
	select {
	case c.changed <- struct{}{}:
	default:
	}
}

func (c *Client) setStatus(status Status) {
	if c.Status() == status {
		return
	}
	c.status.Store(status)
	c.notifyChanged()
}

// run is the reconcile loop: the single goroutine that owns all
// connection state and applies events to the store in arrival order.
func (c *Client) run() {
	defer close(c.done)
	for msg := range c.inbox {
		switch msg := msg.(type) {
		case connectMsg:
			c.handleConnect()
		case disconnectMsg:
			c.teardown()
		case closeMsg:
			c.teardown()
			return
		case setFilterMsg:
			c.handleSetFilter(msg.streamerID)
		case credentialChangedMsg:
			c.handleCredentialChanged()
		case dialDoneMsg:
			c.handleDialDone(msg)
		case frameMsg:
			c.handleFrame(msg)
		case readClosedMsg:
			c.handleReadClosed(msg)
		case reconnectDueMsg:
			c.handleReconnectDue(msg.gen)
		}
	}
}

// handleConnect starts a dial attempt unless one is already in
// flight, a connection is already open, or no credential exists.
func (c *Client) handleConnect() {
	if c.dialing || c.transport != nil {
		return
	}
	token, ok := c.credentials.Token()
	if !ok {
		return
	}
	url, err := c.endpoint(token)
	if err != nil {
		c.logger.Error("stream endpoint construction failed", "error", err)
		c.setStatus(StatusError)
		return
	}

	c.connGen++
	gen := c.connGen
	c.dialing = true
	c.setStatus(StatusConnecting)

	ctx, cancel := context.WithTimeout(context.Background(), c.dialTimeout)
	c.dialCancel = cancel
	go func() {
		transport, err := c.dialer.Dial(ctx, url)
		c.post(dialDoneMsg{gen: gen, transport: transport, err: err})
	}()
}

func (c *Client) handleDialDone(msg dialDoneMsg) {
	if msg.gen != c.connGen {
		// A teardown invalidated this attempt while the dial was in
		// flight. Release the connection if one was established.
		if msg.transport != nil {
			msg.transport.Close()
		}
		return
	}
	c.dialing = false
	if c.dialCancel != nil {
		c.dialCancel()
		c.dialCancel = nil
	}

	if msg.err != nil {
		c.logger.Warn("stream connect failed", "error", msg.err, "attempt", c.attempt)
		c.setStatus(StatusError)
		if _, ok := c.credentials.Token(); ok {
			c.scheduleReconnect()
		}
		return
	}

	c.transport = msg.transport
	c.attempt = 0
	c.cancelReconnectTimer()
	c.setStatus(StatusConnected)
	c.logger.Info("stream connected")

	// Re-assert the delivery filter before anything else: the server
	// never remembers a subscription across connections.
	if !c.writeControl() {
		return
	}

	readCtx, cancel := context.WithCancel(context.Background())
	c.connCancel = cancel
	go c.readLoop(readCtx, c.connGen, c.transport)
	if c.heartbeatInterval > 0 {
		go c.heartbeat(readCtx, c.transport)
	}
}

// writeControl emits the current filter as a control frame. Returns
// false if the write failed and the transport was dropped.
func (c *Client) writeControl() bool {
	frame, err := c.sub.frame()
	if err != nil {
		c.logger.Error("filter frame encoding failed", "error", err)
		return true
	}
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	if err := c.transport.Write(ctx, frame); err != nil {
		c.logger.Warn("filter frame write failed", "error", err)
		c.dropTransport(fmt.Errorf("write filter frame: %w", err))
		return false
	}
	return true
}

func (c *Client) handleFrame(msg frameMsg) {
	if msg.gen != c.connGen {
		return
	}
	event, err := DecodeEvent(msg.data)
	if err != nil {
		// A malformed frame never tears the connection down.
		c.logger.Warn("dropping undecodable frame", "error", err)
		return
	}
	c.apply(event)
}

// apply folds one decoded event into the projection.
func (c *Client) apply(event Event) {
	switch event := event.(type) {
	case SnapshotEvent:
		c.store.ApplySnapshot(event.Downloads)
		c.notifyChanged()
	case StartedEvent:
		c.store.ApplyStarted(event.Download)
		c.notifyChanged()
	case ProgressEvent:
		if c.store.ApplyProgress(event.DownloadID, event.Metrics) {
			c.notifyChanged()
		} else {
			c.logger.Debug("progress for unknown download discarded",
				"download_id", event.DownloadID)
		}
	case CompletedEvent:
		if c.store.ApplyTerminal(event.DownloadID) {
			c.notifyChanged()
		}
	case FailedEvent:
		if c.store.ApplyTerminal(event.DownloadID) {
			c.notifyChanged()
		}
	case CancelledEvent:
		if c.store.ApplyTerminal(event.DownloadID) {
			c.notifyChanged()
		}
	case SegmentEvent, RejectedEvent, ErrorEvent:
		// Informational only.
	}
	if c.events != nil {
		c.events(event)
	}
}

func (c *Client) handleReadClosed(msg readClosedMsg) {
	if msg.gen != c.connGen {
		return
	}
	c.logger.Warn("stream closed", "error", msg.err)
	c.dropTransport(msg.err)
}

// dropTransport releases a transport after an unexpected loss and
// schedules a reconnect while a credential remains. The projection
// is NOT cleared: across a transient drop the last known state stays
// visible, marked stale by the status signal. Only deliberate
// teardown clears it.
func (c *Client) dropTransport(err error) {
	if c.connCancel != nil {
		c.connCancel()
		c.connCancel = nil
	}
	if c.transport != nil {
		c.transport.Close()
		c.transport = nil
	}
	c.connGen++
	c.setStatus(StatusDisconnected)
	if _, ok := c.credentials.Token(); ok {
		c.scheduleReconnect()
	}
}

// scheduleReconnect arms the backoff timer. At most one timer is
// outstanding at any moment; the generation counter makes a timer
// that fires after cancellation inert.
func (c *Client) scheduleReconnect() {
	if c.reconnectTimer != nil {
		return
	}
	delay := c.backoffDelay()
	c.attempt++
	c.timerGen++
	gen := c.timerGen
	c.logger.Info("reconnect scheduled", "delay", delay, "attempt", c.attempt)
	c.reconnectTimer = c.clock.AfterFunc(delay, func() {
		c.post(reconnectDueMsg{gen: gen})
	})
}

// backoffDelay computes min(baseDelay << attempt, maxDelay).
func (c *Client) backoffDelay() time.Duration {
	shift := c.attempt
	if shift > 30 {
		shift = 30
	}
	delay := c.baseDelay << shift
	if delay <= 0 || delay > c.maxDelay {
		return c.maxDelay
	}
	return delay
}

func (c *Client) handleReconnectDue(gen int) {
	if gen != c.timerGen {
		// Cancelled or superseded after firing. Ignore: a deliberate
		// disconnect must never be resurrected by a late timer.
		return
	}
	c.reconnectTimer = nil
	c.handleConnect()
}

func (c *Client) cancelReconnectTimer() {
	if c.reconnectTimer == nil {
		return
	}
	c.reconnectTimer.Stop()
	c.reconnectTimer = nil
	// Invalidate a firing that already posted its message.
	c.timerGen++
}

func (c *Client) handleSetFilter(streamerID string) {
	c.sub.set(streamerID)
	if c.transport != nil {
		c.writeControl()
	}
}

// handleCredentialChanged couples the client to the credential
// lifecycle: presence connects, absence tears down.
func (c *Client) handleCredentialChanged() {
	if _, ok := c.credentials.Token(); ok {
		c.handleConnect()
		return
	}
	if c.transport == nil && !c.dialing && c.reconnectTimer == nil {
		// Nothing to tear down; the client was never connected.
		return
	}
	c.logger.Info("credential gone, tearing down")
	c.teardown()
}

// teardown is the deliberate shutdown path: manual Disconnect,
// credential revocation, or Close. Ordering matters — the reconnect
// timer is cancelled before anything else so it cannot fire into a
// half-torn-down client, and the projection is cleared because stale
// job state must not outlive the session.
func (c *Client) teardown() {
	c.cancelReconnectTimer()
	if c.dialCancel != nil {
		c.dialCancel()
		c.dialCancel = nil
	}
	c.dialing = false
	c.connGen++
	if c.connCancel != nil {
		c.connCancel()
		c.connCancel = nil
	}
	if c.transport != nil {
		c.transport.Close()
		c.transport = nil
	}
	c.attempt = 0
	c.store.Clear()
	c.setStatus(StatusDisconnected)
	c.notifyChanged()
}

// readLoop pumps frames from the transport into the reconcile loop
// until the transport fails or is closed.
func (c *Client) readLoop(ctx context.Context, gen int, transport Transport) {
	for {
		data, err := transport.Read(ctx)
		if err != nil {
			c.post(readClosedMsg{gen: gen, err: err})
			return
		}
		c.post(frameMsg{gen: gen, data: data})
	}
}

// heartbeat pings the transport periodically. On failure it closes
// the transport; the read loop observes the close and reports it, so
// loss detection funnels through one path.
func (c *Client) heartbeat(ctx context.Context, transport Transport) {
	ticker := c.clock.NewTicker(c.heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := transport.Ping(pingCtx)
			cancel()
			if err != nil {
				c.logger.Warn("heartbeat ping failed", "error", err)
				transport.Close()
				return
			}
		}
	}
}
