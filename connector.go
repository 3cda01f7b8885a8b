package mauzr

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

// State is the connection state of a Connector.
type State int32

// Connection states.
const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "unknown"
	}
}

// errShutdown is the disconnect reason of a graceful shutdown.
var errShutdown = errors.New("shutdown")

// Connector keeps one MQTT 3.1.1 session with a broker alive, persists
// QoS > 0 traffic in a Ledger and routes incoming messages to Handles.
//
// All network reads, connects and timers run on the goroutine of the
// Scheduler. Publish, Subscribe and the Handle methods may be called from
// any goroutine.
type Connector struct {
	cfg      Config
	logger   Logger
	metrics  *connectorMetrics
	sched    Scheduler
	loop     *LoopScheduler
	ledger   *Ledger
	dialer   Dialer
	resolver ServerResolver
	servers  []string

	serverIndex atomic.Uint32

	connectTask Task
	timeoutTask Task
	pingTask    Task
	syncTask    Task

	// mu guards the connection state and serializes writes.
	mu     sync.Mutex
	state  State
	conn   net.Conn
	reader *bufio.Reader
	closed bool

	handlesMu sync.Mutex
	handles   map[string]*Handle

	listenersMu sync.Mutex
	listeners   []func(bool)
}

// NewConnector creates a Connector. Call Start to begin connecting.
func NewConnector(cfg Config, opts ...Option) (*Connector, error) {
	o := applyOptions(opts...)

	if len(o.servers) > 0 {
		cfg.Servers = o.servers
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	c := &Connector{
		cfg:      cfg,
		logger:   o.logger,
		sched:    o.scheduler,
		dialer:   o.dialer,
		resolver: o.resolver,
		servers:  cfg.Servers,
		handles:  make(map[string]*Handle),
	}

	if c.logger == nil {
		c.logger = NewNoOpLogger()
	}
	c.logger = c.logger.WithFields(LogFields{LogFieldClient: cfg.Name})
	c.metrics = newConnectorMetrics(o.metrics)

	if c.resolver == nil && len(c.servers) == 0 && cfg.Server != "" {
		c.resolver = SRVResolver(cfg.Server, nil)
	}
	if c.resolver == nil && len(c.servers) == 0 {
		return nil, fmt.Errorf("%w: set server or servers", ErrNoEndpoints)
	}

	if c.dialer == nil {
		tlsConfig := o.tlsConfig
		if tlsConfig == nil && (cfg.CA != "" || cfg.Cert != "") {
			var err error
			if tlsConfig, err = LoadTLSConfig(cfg); err != nil {
				return nil, err
			}
		}
		c.dialer = &urlDialer{tlsConfig: tlsConfig, proxy: o.proxy}
	}

	if c.sched == nil {
		c.loop = NewLoopScheduler(cfg.MaxSleep, c.logger)
		c.sched = c.loop
	}

	store := o.store
	if store == nil {
		store = NewMemoryStore()
	}
	c.ledger = NewLedger(store, c.logger)

	c.connectTask = c.sched.Every(cfg.Backoff, c.connect)
	c.timeoutTask = c.sched.After(cfg.Keepalive, c.onTimeout)
	c.pingTask = c.sched.Every(cfg.Keepalive*2/3, c.ping)
	c.syncTask = c.sched.Every(cfg.SyncInterval, c.sync)

	return c, nil
}

// Start opens the ledger and schedules the first connection attempt.
func (c *Connector) Start() error {
	if err := c.ledger.Open(); err != nil {
		return err
	}
	c.metrics.pending(c.ledger.Len())

	c.syncTask.Enable(false)
	c.connectTask.Enable(true)
	return nil
}

// Run serves the connector's own LoopScheduler until ctx is done or
// Shutdown completes. It fails when a scheduler was passed WithScheduler.
func (c *Connector) Run(ctx context.Context) error {
	if c.loop == nil {
		return errors.New("connector uses an external scheduler")
	}
	return c.loop.Run(ctx)
}

// Scheduler returns the scheduler driving the connector.
func (c *Connector) Scheduler() Scheduler {
	return c.sched
}

// Ledger returns the ledger of pending QoS > 0 exchanges.
func (c *Connector) Ledger() *Ledger {
	return c.ledger
}

// Shutdown waits up to DrainTimeout for pending messages to be acknowledged,
// disconnects gracefully and closes the ledger. A scheduler created by the
// connector is stopped as well.
func (c *Connector) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	if c.cfg.DrainTimeout > 0 {
		drainCtx, cancel := context.WithTimeout(ctx, c.cfg.DrainTimeout)
		if err := c.ledger.WaitDrained(drainCtx); err != nil {
			c.logger.Warn("shutting down with pending messages", LogFields{LogFieldPending: c.ledger.Len()})
		}
		cancel()
	}

	var writeErr error
	c.mu.Lock()
	c.closed = true
	conn := c.conn
	if conn != nil && c.state == StateConnected {
		data, err := EncodePacket(&DisconnectPacket{Will: c.will()})
		if err == nil {
			err = c.writeLocked(PacketDISCONNECT, data)
		}
		if err != nil {
			writeErr = fmt.Errorf("disconnecting gracefully: %w", err)
		}
	}
	c.mu.Unlock()

	c.connectTask.Disable()
	c.timeoutTask.Disable()
	c.pingTask.Disable()
	c.syncTask.Disable()

	c.disconnectConn(conn, errShutdown)
	closeErr := c.ledger.Close()

	if c.loop != nil {
		c.loop.Shutdown()
	}
	return errors.Join(writeErr, closeErr)
}

// State returns the connection state.
func (c *Connector) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// IsConnected reports whether a session is established.
func (c *Connector) IsConnected() bool {
	return c.State() == StateConnected
}

// AddConnectionListener registers fn to be called with true after every
// completed handshake and with false after every disconnect. Listeners run
// synchronously on the goroutine that noticed the change.
func (c *Connector) AddConnectionListener(fn func(connected bool)) {
	c.listenersMu.Lock()
	defer c.listenersMu.Unlock()
	c.listeners = append(c.listeners, fn)
}

func (c *Connector) notify(connected bool) {
	c.listenersMu.Lock()
	listeners := make([]func(bool), len(c.listeners))
	copy(listeners, c.listeners)
	c.listenersMu.Unlock()

	for _, fn := range listeners {
		fn(connected)
	}
}

func (c *Connector) will() *Will {
	return &Will{Topic: c.cfg.PresenceTopic(), Payload: []byte{0x00}, Retain: true}
}

func (c *Connector) connectPacket() *ConnectPacket {
	p := &ConnectPacket{
		ClientID:  c.cfg.Name,
		KeepAlive: uint16(c.cfg.Keepalive / time.Second),
		Will:      c.will(),
	}
	if c.cfg.Password != "" {
		p.Username = c.cfg.Name
		p.Password = []byte(c.cfg.Password)
	}
	return p
}

// nextServer returns the next broker URL, round robin over the resolved or
// static list.
func (c *Connector) nextServer(ctx context.Context) (string, error) {
	var servers []string

	if c.resolver != nil {
		resolved, err := c.resolver(ctx)
		if err != nil {
			c.logger.Debug("server resolver failed", LogFields{LogFieldError: err.Error()})
		}
		servers = resolved
	}
	if len(servers) == 0 {
		servers = c.servers
	}
	if len(servers) == 0 {
		return "", ErrNoEndpoints
	}

	index := c.serverIndex.Add(1) - 1
	return servers[index%uint32(len(servers))], nil
}

// connect is the connect task. It runs the handshake and brings the session
// up: presence, ledger replay, handle notification.
func (c *Connector) connect() {
	c.mu.Lock()
	if c.closed || c.state != StateDisconnected {
		c.mu.Unlock()
		return
	}
	c.state = StateConnecting
	c.mu.Unlock()

	start := time.Now()
	endpoint, conn, sessionPresent, err := c.handshake()
	if err != nil {
		c.setState(StateDisconnected)
		c.metrics.connectFailed()
		c.logger.Warn("connection failed", LogFields{LogFieldEndpoint: endpoint, LogFieldError: err.Error()})
		return
	}
	logger := c.logger.WithFields(LogFields{LogFieldEndpoint: endpoint})
	logger = logBrokerIdentity(logger, conn, start)

	if !sessionPresent {
		if err := c.ledger.Clear(); err != nil {
			logger.Warn("clearing ledger failed", LogFields{LogFieldError: err.Error()})
		}
	}

	c.mu.Lock()
	if c.closed {
		c.state = StateDisconnected
		c.mu.Unlock()
		_ = conn.Close()
		return
	}
	c.conn = conn
	c.reader = bufio.NewReader(conn)
	replayed, err := c.announceLocked()
	if err != nil {
		c.conn, c.reader = nil, nil
		c.state = StateDisconnected
		c.mu.Unlock()

		_ = conn.Close()
		c.metrics.connectFailed()
		logger.Warn("connection failed", LogFields{LogFieldError: err.Error()})
		return
	}
	c.state = StateConnected

	// Toggled under c.mu so a concurrent disconnectConn undoes them.
	c.connectTask.Disable()
	c.timeoutTask.Enable(false)
	c.pingTask.Enable(false)
	c.sched.Idle(c.read)
	c.mu.Unlock()

	c.metrics.connected(time.Since(start))
	logger.Info("connected", LogFields{
		LogFieldSessionPresent: sessionPresent,
		LogFieldPending:        replayed,
	})

	for _, h := range c.handleList() {
		h.onConnect(sessionPresent)
	}

	// A failed write in onConnect may already have dropped conn and told
	// the listeners.
	if !c.current(conn) {
		return
	}
	c.notify(true)
}

// current reports whether conn is still the established connection.
func (c *Connector) current(conn net.Conn) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn == conn && c.state == StateConnected
}

// handshake dials the next endpoint and exchanges CONNECT and CONNACK
// within ConnectTimeout.
func (c *Connector) handshake() (string, net.Conn, bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.ConnectTimeout)
	defer cancel()

	endpoint, err := c.nextServer(ctx)
	if err != nil {
		return "", nil, false, err
	}

	c.logger.Debug("connecting", LogFields{LogFieldEndpoint: endpoint})
	conn, err := c.dialer.Dial(ctx, endpoint)
	if err != nil {
		return endpoint, nil, false, fmt.Errorf("dialing: %w", err)
	}

	sessionPresent, err := c.exchangeConnect(ctx, conn)
	if err != nil {
		_ = conn.Close()
		return endpoint, nil, false, err
	}
	return endpoint, conn, sessionPresent, nil
}

func (c *Connector) exchangeConnect(ctx context.Context, conn net.Conn) (bool, error) {
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	if _, err := WritePacket(conn, c.connectPacket()); err != nil {
		return false, fmt.Errorf("sending CONNECT: %w", err)
	}
	c.metrics.packetSent(PacketCONNECT)

	packet, _, err := ReadPacket(conn)
	if err != nil {
		return false, fmt.Errorf("reading CONNACK: %w", err)
	}
	c.metrics.packetReceived(packet.Type())

	connack, ok := packet.(*ConnackPacket)
	if !ok {
		return false, NewProtocolError(packet.Type(), errors.New("expected CONNACK"))
	}
	if connack.ReturnCode != ConnectAccepted {
		return false, NewConnectRefusedError(connack.ReturnCode)
	}

	_ = conn.SetDeadline(time.Time{})
	return connack.SessionPresent, nil
}

// announceLocked publishes the presence marker and replays the ledger.
// c.mu must be held so no application traffic overtakes the replay.
func (c *Connector) announceLocked() (int, error) {
	presence, err := EncodePacket(&PublishPacket{
		Topic:   c.cfg.PresenceTopic(),
		Payload: []byte{0x01},
		Retain:  true,
	})
	if err != nil {
		return 0, err
	}
	if err := c.writeLocked(PacketPUBLISH, presence); err != nil {
		return 0, fmt.Errorf("publishing presence: %w", err)
	}

	entries, err := c.ledger.Replay()
	if err != nil {
		return 0, err
	}
	for _, e := range entries {
		c.logger.Debug("replaying ledger entry", LogFields{LogFieldPacketID: e.PacketID})
		if err := c.writeLocked(PacketType(e.Data[0]>>4), e.Data); err != nil {
			return 0, fmt.Errorf("replaying packet %d: %w", e.PacketID, err)
		}
	}
	return len(entries), nil
}

func (c *Connector) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// disconnect drops the current connection. Without one it only makes sure
// a reconnect is scheduled.
func (c *Connector) disconnect(reason error) {
	c.mu.Lock()
	conn, closed := c.conn, c.closed
	idle := conn == nil && c.state == StateDisconnected
	c.mu.Unlock()

	if idle {
		c.pingTask.Disable()
		c.timeoutTask.Disable()
		c.sched.Idle(nil)
		if !closed {
			c.connectTask.Enable(false)
		}
		return
	}
	c.disconnectConn(conn, reason)
}

// disconnectConn drops conn if it is still the current connection. Calling
// it again for the same conn does nothing.
func (c *Connector) disconnectConn(conn net.Conn, reason error) {
	c.mu.Lock()
	if conn == nil || c.conn != conn {
		c.mu.Unlock()
		return
	}
	c.conn, c.reader = nil, nil
	c.state = StateDisconnected
	closed := c.closed
	c.mu.Unlock()

	_ = conn.Close()

	c.pingTask.Disable()
	c.timeoutTask.Disable()
	c.sched.Idle(nil)
	if !closed {
		c.connectTask.Enable(false)
	}

	c.metrics.disconnected()
	if errors.Is(reason, errShutdown) {
		c.logger.Info("disconnected", nil)
	} else {
		c.logger.Warn("disconnected", LogFields{LogFieldError: reason.Error()})
	}
	c.notify(false)
}

// writeLocked writes an encoded packet with WriteTimeout. c.mu must be held.
func (c *Connector) writeLocked(t PacketType, data []byte) error {
	if c.conn == nil {
		return ErrOffline
	}

	_ = c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	_, err := c.conn.Write(data)
	_ = c.conn.SetWriteDeadline(time.Time{})
	if err != nil {
		return err
	}

	c.metrics.packetSent(t)
	return nil
}

// send encodes and writes p on the established session. A write failure
// drops the connection and is reported as ErrOffline.
func (c *Connector) send(p Packet) error {
	data, err := EncodePacket(p)
	if err != nil {
		return err
	}
	return c.sendRaw(p.Type(), data)
}

func (c *Connector) sendRaw(t PacketType, data []byte) error {
	c.mu.Lock()
	if c.state != StateConnected {
		c.mu.Unlock()
		return ErrOffline
	}
	conn := c.conn
	err := c.writeLocked(t, data)
	c.mu.Unlock()

	if err != nil {
		c.disconnectConn(conn, fmt.Errorf("writing %s: %w", t, err))
		return fmt.Errorf("%w: %w", ErrOffline, err)
	}
	return nil
}

// Publish sends payload to topic.
//
// QoS 0 messages are sent if connected and dropped with an *OfflineError
// otherwise. QoS 1 and 2 messages are stored in the ledger before they are
// sent; if the connector is offline or the write fails, the returned
// *OfflineError carries the packet id and the message is replayed after the
// next connect.
func (c *Connector) Publish(topic string, payload []byte, qos byte, retain bool) error {
	if qos > 2 {
		return ErrInvalidQoS
	}
	if err := ValidateTopicName(topic); err != nil {
		return err
	}

	p := &PublishPacket{Topic: topic, Payload: payload, QoS: qos, Retain: retain}
	if qos == 0 {
		err := c.send(p)
		if errors.Is(err, ErrOffline) {
			return NewOfflineError(topic, 0)
		}
		if err == nil {
			c.metrics.messageSent(qos)
		}
		return err
	}

	c.mu.Lock()
	id, err := c.ledger.Allocate()
	if err != nil {
		c.mu.Unlock()
		return err
	}
	p.PacketID = id

	data, err := EncodePacket(p)
	if err == nil {
		err = c.ledger.Store(id, data)
	}
	if err != nil {
		c.mu.Unlock()
		return err
	}
	c.metrics.pending(c.ledger.Len())

	if c.state != StateConnected {
		c.mu.Unlock()
		c.logger.Debug("publish kept for replay", LogFields{LogFieldTopic: topic, LogFieldPacketID: id})
		return NewOfflineError(topic, id)
	}
	conn := c.conn
	err = c.writeLocked(PacketPUBLISH, data)
	c.mu.Unlock()

	if err != nil {
		c.disconnectConn(conn, fmt.Errorf("writing PUBLISH: %w", err))
		return NewOfflineError(topic, id)
	}

	c.metrics.messageSent(qos)
	return nil
}

// Subscribe sends a SUBSCRIBE for the topic and QoS of h and returns its
// packet id. It fails with ErrOffline while disconnected.
func (c *Connector) Subscribe(h *Handle) (uint16, error) {
	return c.request(func(id uint16) Packet {
		return &SubscribePacket{PacketID: id, Topic: h.topic, QoS: h.qos}
	})
}

// Unsubscribe sends an UNSUBSCRIBE for the topic of h and returns its
// packet id. It fails with ErrOffline while disconnected.
func (c *Connector) Unsubscribe(h *Handle) (uint16, error) {
	return c.request(func(id uint16) Packet {
		return &UnsubscribePacket{PacketID: id, Topic: h.topic}
	})
}

func (c *Connector) request(build func(id uint16) Packet) (uint16, error) {
	c.mu.Lock()
	if c.state != StateConnected {
		c.mu.Unlock()
		return 0, ErrOffline
	}

	id, err := c.ledger.Allocate()
	if err != nil {
		c.mu.Unlock()
		return 0, err
	}

	p := build(id)
	data, err := EncodePacket(p)
	if err != nil {
		c.mu.Unlock()
		return 0, err
	}

	conn := c.conn
	err = c.writeLocked(p.Type(), data)
	c.mu.Unlock()

	if err != nil {
		c.disconnectConn(conn, fmt.Errorf("writing %s: %w", p.Type(), err))
		return 0, fmt.Errorf("%w: %w", ErrOffline, err)
	}
	return id, nil
}

func (c *Connector) ping() {
	c.logger.Debug("pinging", nil)
	if err := c.send(&PingreqPacket{}); err != nil && !errors.Is(err, ErrOffline) {
		c.logger.Warn("ping failed", LogFields{LogFieldError: err.Error()})
	}
}

func (c *Connector) onTimeout() {
	c.disconnect(ErrKeepAliveTimeout)
}

func (c *Connector) sync() {
	if err := c.ledger.Sync(); err != nil {
		c.logger.Warn("ledger sync failed", LogFields{LogFieldError: err.Error()})
	}
	c.metrics.pending(c.ledger.Len())
}

// read is the idle activity while connected. It waits up to timeout for a
// packet and dispatches it.
func (c *Connector) read(timeout time.Duration) {
	c.mu.Lock()
	conn, reader := c.conn, c.reader
	c.mu.Unlock()

	if conn == nil {
		return
	}

	_ = conn.SetReadDeadline(time.Now().Add(timeout))
	opcode, err := reader.ReadByte()
	if err != nil {
		if errors.Is(err, os.ErrDeadlineExceeded) {
			return
		}
		c.disconnectConn(conn, fmt.Errorf("reading: %w", err))
		return
	}

	// The rest of the packet must follow within the keepalive interval.
	_ = conn.SetReadDeadline(time.Now().Add(c.cfg.Keepalive))
	packet, _, err := DecodePacket(opcode, reader)
	if err != nil {
		c.disconnectConn(conn, NewProtocolError(PacketType(opcode>>4), err))
		return
	}

	c.timeoutTask.Enable(false)
	c.metrics.packetReceived(packet.Type())

	if err := c.dispatch(packet); err != nil {
		switch {
		case errors.Is(err, ErrProtocolError):
			c.disconnectConn(conn, err)
		case errors.Is(err, ErrOffline):
		default:
			c.logger.Error("handling packet failed", LogFields{
				LogFieldPacketType: packet.Type().String(),
				LogFieldError:      err.Error(),
			})
		}
	}
}

// Handle returns the handle for topic, creating it on first use. Asking for
// an existing topic with a different QoS, retain flag or serializer format
// fails with ErrHandleConflict.
func (c *Connector) Handle(topic string, ser Serializer, qos byte, retain bool) (*Handle, error) {
	if err := ValidateTopicFilter(topic); err != nil {
		return nil, err
	}
	if qos > 2 {
		return nil, ErrInvalidQoS
	}
	if ser == nil {
		return nil, errors.New("serializer is required")
	}

	c.handlesMu.Lock()
	defer c.handlesMu.Unlock()

	if h, ok := c.handles[topic]; ok {
		if h.qos != qos || h.retain != retain || !SameFormat(h.Serializer(), ser) {
			return nil, fmt.Errorf("%w: %s", ErrHandleConflict, topic)
		}
		return h, nil
	}

	h := newHandle(c, topic, ser, qos, retain)
	c.handles[topic] = h
	return h, nil
}

// Release drops h from the registry if it has no callbacks left and reports
// whether it did. A later Handle call for the topic creates a fresh handle.
func (c *Connector) Release(h *Handle) bool {
	c.handlesMu.Lock()
	defer c.handlesMu.Unlock()

	if c.handles[h.topic] != h || h.active() {
		return false
	}
	delete(c.handles, h.topic)
	return true
}

func (c *Connector) handleList() []*Handle {
	c.handlesMu.Lock()
	defer c.handlesMu.Unlock()

	handles := make([]*Handle, 0, len(c.handles))
	for _, h := range c.handles {
		handles = append(handles, h)
	}
	return handles
}
