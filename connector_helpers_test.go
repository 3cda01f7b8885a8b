package mauzr

import (
	"bufio"
	"context"
	"errors"
	"net"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// manualTask is a Task that only fires when a test says so.
type manualTask struct {
	mu      sync.Mutex
	fn      func()
	delay   time.Duration
	repeat  bool
	enabled bool
	instant bool
}

func (t *manualTask) Enable(instant bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.enabled, t.instant = true, instant
}

func (t *manualTask) Disable() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.enabled = false
}

func (t *manualTask) Enabled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.enabled
}

// fire runs the task if it is enabled, as if it had become due.
func (t *manualTask) fire() bool {
	t.mu.Lock()
	if !t.enabled {
		t.mu.Unlock()
		return false
	}
	if !t.repeat {
		t.enabled = false
	}
	t.mu.Unlock()

	t.fn()
	return true
}

// manualScheduler records tasks and the idle activity without running anything.
type manualScheduler struct {
	mu    sync.Mutex
	tasks []*manualTask
	idle  func(time.Duration)
}

func newManualScheduler() *manualScheduler {
	return &manualScheduler{}
}

func (s *manualScheduler) Every(d time.Duration, fn func()) Task {
	return s.add(d, fn, true)
}

func (s *manualScheduler) After(d time.Duration, fn func()) Task {
	return s.add(d, fn, false)
}

func (s *manualScheduler) add(d time.Duration, fn func(), repeat bool) *manualTask {
	s.mu.Lock()
	defer s.mu.Unlock()

	task := &manualTask{fn: fn, delay: d, repeat: repeat}
	s.tasks = append(s.tasks, task)
	return task
}

func (s *manualScheduler) Idle(fn func(time.Duration)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.idle = fn
}

func (s *manualScheduler) idleInstalled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.idle != nil
}

// fakeBroker is a TCP listener the tests drive packet by packet.
type fakeBroker struct {
	ln net.Listener
}

func newFakeBroker(t *testing.T) *fakeBroker {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	return &fakeBroker{ln: ln}
}

func (b *fakeBroker) url() string {
	return "tcp://" + b.ln.Addr().String()
}

type handshakeResult struct {
	bc      *brokerConn
	connect *ConnectPacket
	err     error
}

// accept answers the next CONNECT with a CONNACK.
func (b *fakeBroker) accept(code ConnectReturnCode, sessionPresent bool) <-chan handshakeResult {
	results := make(chan handshakeResult, 1)

	go func() {
		conn, err := b.ln.Accept()
		if err != nil {
			results <- handshakeResult{err: err}
			return
		}
		bc := &brokerConn{conn: conn, r: bufio.NewReader(conn)}

		_ = conn.SetDeadline(time.Now().Add(5 * time.Second))
		packet, _, err := ReadPacket(bc.r)
		if err != nil {
			results <- handshakeResult{err: err}
			return
		}
		connect, ok := packet.(*ConnectPacket)
		if !ok {
			results <- handshakeResult{err: errors.New("expected CONNECT, got " + packet.Type().String())}
			return
		}

		_, err = WritePacket(conn, &ConnackPacket{SessionPresent: sessionPresent, ReturnCode: code})
		_ = conn.SetDeadline(time.Time{})
		results <- handshakeResult{bc: bc, connect: connect, err: err}
	}()

	return results
}

// brokerConn is the broker side of one connection.
type brokerConn struct {
	conn net.Conn
	r    *bufio.Reader
}

func (bc *brokerConn) next(t *testing.T) Packet {
	t.Helper()

	_ = bc.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	packet, _, err := ReadPacket(bc.r)
	require.NoError(t, err)
	return packet
}

func (bc *brokerConn) expectPublish(t *testing.T) *PublishPacket {
	t.Helper()

	packet := bc.next(t)
	publish, ok := packet.(*PublishPacket)
	require.True(t, ok, "expected PUBLISH, got %s", packet.Type())
	return publish
}

// expectNothing asserts that the connector sends nothing for a while.
func (bc *brokerConn) expectNothing(t *testing.T) {
	t.Helper()

	_ = bc.conn.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	_, err := bc.r.Peek(1)
	require.Error(t, err, "unexpected data from connector")
	assert.ErrorIs(t, err, os.ErrDeadlineExceeded)
}

func (bc *brokerConn) send(t *testing.T, p Packet) {
	t.Helper()

	_ = bc.conn.SetWriteDeadline(time.Now().Add(2 * time.Second))
	_, err := WritePacket(bc.conn, p)
	require.NoError(t, err)
}

type testEnv struct {
	conn    *Connector
	sched   *manualScheduler
	broker  *fakeBroker
	store   *MemoryStore
	logger  *recordingLogger
	metrics *MemoryMetrics
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Name = "agent"
	cfg.StoreBackend = StoreBackendMemory
	cfg.DrainTimeout = 0
	return cfg
}

// newTestEnv starts a connector on a manual scheduler against a fake broker.
// opts are applied after the defaults of the environment.
func newTestEnv(t *testing.T, cfg Config, opts ...Option) *testEnv {
	t.Helper()

	env := &testEnv{
		sched:   newManualScheduler(),
		broker:  newFakeBroker(t),
		store:   NewMemoryStore(),
		logger:  newRecordingLogger(),
		metrics: NewMemoryMetrics(),
	}

	all := append([]Option{
		WithServers(env.broker.url()),
		WithScheduler(env.sched),
		WithStore(env.store),
		WithLogger(env.logger),
		WithMetrics(env.metrics),
	}, opts...)

	conn, err := NewConnector(cfg, all...)
	require.NoError(t, err)
	require.NoError(t, conn.Start())
	t.Cleanup(func() { _ = conn.Shutdown(context.Background()) })

	env.conn = conn
	return env
}

// connect runs the connect task against an accepting broker and consumes
// the presence announcement.
func (env *testEnv) connect(t *testing.T, sessionPresent bool) (*brokerConn, *ConnectPacket) {
	t.Helper()

	results := env.broker.accept(ConnectAccepted, sessionPresent)
	env.conn.connect()

	var res handshakeResult
	select {
	case res = <-results:
	case <-time.After(5 * time.Second):
		t.Fatal("broker saw no handshake")
	}
	require.NoError(t, res.err)
	t.Cleanup(func() { _ = res.bc.conn.Close() })
	require.Equal(t, StateConnected, env.conn.State())

	presence := res.bc.expectPublish(t)
	assert.Equal(t, "status/agent", presence.Topic)
	assert.Equal(t, []byte{0x01}, presence.Payload)
	assert.True(t, presence.Retain)

	return res.bc, res.connect
}

// read lets the connector process one packet from the broker.
func (env *testEnv) read() {
	env.conn.read(time.Second)
}

type listenerRecorder struct {
	mu     sync.Mutex
	events []bool
}

func (l *listenerRecorder) record(connected bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, connected)
}

func (l *listenerRecorder) get() []bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]bool(nil), l.events...)
}

// collector gathers deliveries of a callback.
type collector struct {
	mu         sync.Mutex
	deliveries []Delivery
	err        error
}

func (c *collector) callback(d Delivery) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deliveries = append(c.deliveries, d)
	return c.err
}

func (c *collector) get() []Delivery {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Delivery(nil), c.deliveries...)
}
