package mauzr

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
)

const (
	// DefaultPacketID is where packet id allocation starts and wraps to.
	DefaultPacketID uint16 = 2

	packetIDKey   = "pkg_id"
	inboundPrefix = "in/"
)

// LedgerEntry is a pending message as returned by Ledger.Replay.
type LedgerEntry struct {
	PacketID uint16
	Data     []byte
}

// Ledger keeps the wire form of every QoS > 0 exchange that is not finished
// yet, plus the packet id counter, in a durable Store.
//
// Outbound entries are keyed by the decimal packet id. Inbound QoS 2
// publishes waiting for PUBREL live under "in/<id>" since broker assigned ids
// are independent of ours.
type Ledger struct {
	mu        sync.Mutex
	store     Store
	logger    Logger
	defaultID uint16
	open      bool
	pending   map[string]struct{}
	drained   chan struct{}
}

// NewLedger creates a ledger on top of store. It must be opened before use.
func NewLedger(store Store, logger Logger) *Ledger {
	if logger == nil {
		logger = NewNoOpLogger()
	}

	drained := make(chan struct{})
	close(drained)

	return &Ledger{
		store:     store,
		logger:    logger,
		defaultID: DefaultPacketID,
		pending:   make(map[string]struct{}),
		drained:   drained,
	}
}

// Open loads the pending entries and makes sure the id counter is valid.
func (l *Ledger) Open() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.open {
		return nil
	}

	items, err := l.store.Items()
	if err != nil {
		return fmt.Errorf("loading ledger: %w", err)
	}

	l.pending = make(map[string]struct{}, len(items))
	for key := range items {
		if key != packetIDKey {
			l.pending[key] = struct{}{}
		}
	}

	if _, err := parsePacketID(string(items[packetIDKey])); err != nil {
		if err := l.store.Set(packetIDKey, formatPacketID(l.defaultID)); err != nil {
			return fmt.Errorf("initializing packet id: %w", err)
		}
	}

	l.open = true
	l.updateDrainedLocked()
	return nil
}

// Close syncs and closes the underlying store.
func (l *Ledger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.open {
		return nil
	}
	l.open = false

	if err := l.store.Sync(); err != nil {
		l.logger.Warn("ledger sync on close failed", LogFields{LogFieldError: err.Error()})
	}
	return l.store.Close()
}

// Allocate returns the next packet id. The counter is persisted immediately,
// wraps from 65535 back to the default id and never yields 0.
func (l *Ledger) Allocate() (uint16, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.open {
		return 0, ErrLedgerClosed
	}

	raw, _, err := l.store.Get(packetIDKey)
	if err != nil {
		return 0, err
	}

	current, err := parsePacketID(string(raw))
	if err != nil {
		current = uint32(l.defaultID)
	}

	next := current + 1
	if next > maxUint16 {
		next = uint32(l.defaultID)
	}

	if err := l.store.Set(packetIDKey, formatPacketID(uint16(next))); err != nil {
		return 0, err
	}

	return uint16(next), nil
}

// Store records data for an outbound exchange, replacing an existing entry.
func (l *Ledger) Store(id uint16, data []byte) error {
	return l.set(outboundKey(id), data)
}

// Fetch returns the outbound entry for id.
func (l *Ledger) Fetch(id uint16) ([]byte, bool, error) {
	return l.get(outboundKey(id))
}

// Delete removes the outbound entry for id. An unknown id is logged and
// otherwise ignored.
func (l *Ledger) Delete(id uint16) error {
	return l.remove(outboundKey(id), id)
}

// StoreInbound records an inbound QoS 2 publish until its PUBREL arrives.
func (l *Ledger) StoreInbound(id uint16, data []byte) error {
	return l.set(inboundKey(id), data)
}

// FetchInbound returns the inbound publish stored for id.
func (l *Ledger) FetchInbound(id uint16) ([]byte, bool, error) {
	return l.get(inboundKey(id))
}

// DeleteInbound removes the inbound publish for id.
func (l *Ledger) DeleteInbound(id uint16) error {
	return l.remove(inboundKey(id), id)
}

// Replay returns every outbound entry ordered by packet id. PUBLISH entries
// come back with the DUP flag set.
func (l *Ledger) Replay() ([]LedgerEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.open {
		return nil, ErrLedgerClosed
	}

	items, err := l.store.Items()
	if err != nil {
		return nil, err
	}

	entries := make([]LedgerEntry, 0, len(items))
	for key, data := range items {
		if key == packetIDKey || strings.HasPrefix(key, inboundPrefix) || len(data) == 0 {
			continue
		}

		id, err := parsePacketID(key)
		if err != nil {
			l.logger.Warn("skipping foreign ledger key", LogFields{"key": key})
			continue
		}

		data = cloneBytes(data)
		if PacketType(data[0]>>4) == PacketPUBLISH {
			data[0] |= dupFlag
		}

		entries = append(entries, LedgerEntry{PacketID: uint16(id), Data: data})
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].PacketID < entries[j].PacketID
	})

	return entries, nil
}

// Clear removes every entry but keeps the packet id counter.
func (l *Ledger) Clear() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.open {
		return ErrLedgerClosed
	}

	for key := range l.pending {
		if err := l.store.Delete(key); err != nil {
			return err
		}
		delete(l.pending, key)
	}

	l.updateDrainedLocked()
	return nil
}

// Len returns the number of pending entries, inbound and outbound.
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.pending)
}

// Drained returns a channel that is closed while the ledger is empty.
// Adding an entry to an empty ledger replaces the channel.
func (l *Ledger) Drained() <-chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.drained
}

// WaitDrained blocks until the ledger is empty or ctx is done.
func (l *Ledger) WaitDrained(ctx context.Context) error {
	for {
		drained := l.Drained()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-drained:
			if l.Len() == 0 {
				return nil
			}
		}
	}
}

// Sync flushes the store.
func (l *Ledger) Sync() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.open {
		return ErrLedgerClosed
	}
	return l.store.Sync()
}

func (l *Ledger) set(key string, data []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.open {
		return ErrLedgerClosed
	}

	if err := l.store.Set(key, data); err != nil {
		return err
	}

	l.pending[key] = struct{}{}
	l.updateDrainedLocked()
	return nil
}

func (l *Ledger) get(key string) ([]byte, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.open {
		return nil, false, ErrLedgerClosed
	}
	return l.store.Get(key)
}

func (l *Ledger) remove(key string, id uint16) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.open {
		return ErrLedgerClosed
	}

	if _, ok := l.pending[key]; !ok {
		l.logger.Warn("deleting unknown ledger entry", LogFields{LogFieldPacketID: id})
		return nil
	}

	if err := l.store.Delete(key); err != nil {
		return err
	}

	delete(l.pending, key)
	l.updateDrainedLocked()
	return nil
}

// updateDrainedLocked keeps the drained channel in line with the pending set.
func (l *Ledger) updateDrainedLocked() {
	select {
	case <-l.drained:
		if len(l.pending) > 0 {
			l.drained = make(chan struct{})
		}
	default:
		if len(l.pending) == 0 {
			close(l.drained)
		}
	}
}

func outboundKey(id uint16) string {
	return strconv.FormatUint(uint64(id), 10)
}

func inboundKey(id uint16) string {
	return inboundPrefix + strconv.FormatUint(uint64(id), 10)
}

func formatPacketID(id uint16) []byte {
	return []byte(strconv.FormatUint(uint64(id), 10))
}

func parsePacketID(s string) (uint32, error) {
	v, err := strconv.ParseUint(s, 10, 16)
	if err != nil {
		return 0, err
	}
	if v == 0 {
		return 0, fmt.Errorf("packet id 0 is reserved")
	}
	return uint32(v), nil
}
