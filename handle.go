package mauzr

import (
	"errors"
	"maps"
	"runtime"
	"slices"
	"sync"
)

// Callback receives the values published to a handle's topic.
type Callback func(Delivery) error

// Delivery is one value passed to a Callback.
type Delivery struct {
	// Value is the unpacked payload.
	Value any

	// Handle is the handle of the concrete publish topic. It is only set
	// for callbacks subscribed WithHandle.
	Handle *Handle

	// Retained and Duplicate are only set for callbacks subscribed
	// WithDeliveryInfo.
	Retained  bool
	Duplicate bool
}

// SubscribeOption configures a callback registration.
type SubscribeOption func(*callbackEntry)

// WithHandle makes deliveries carry the handle of the publish topic. For a
// wildcard handle that is the handle of the concrete topic, created with
// the settings of the wildcard handle.
func WithHandle() SubscribeOption {
	return func(e *callbackEntry) {
		e.wantsHandle = true
	}
}

// WithDeliveryInfo makes deliveries carry the retained and duplicate flags.
func WithDeliveryInfo() SubscribeOption {
	return func(e *callbackEntry) {
		e.wantsDelivery = true
	}
}

type callbackEntry struct {
	fn            Callback
	wantsHandle   bool
	wantsDelivery bool
}

// Handle is the single point of contact for one topic. It publishes values
// through its serializer and fans incoming messages out to callbacks.
// Handles are created and owned by Connector.Handle.
type Handle struct {
	conn   *Connector
	topic  string
	levels []string
	qos    byte
	retain bool
	logger Logger

	mu           sync.Mutex
	ser          Serializer
	callbacks    map[uint64]callbackEntry
	nextID       uint64
	lastReceived any
	hasReceived  bool
	lastSent     []byte
	subID        uint16
	unsubID      uint16
	subscribed   bool
}

func newHandle(conn *Connector, topic string, ser Serializer, qos byte, retain bool) *Handle {
	return &Handle{
		conn:      conn,
		topic:     topic,
		levels:    splitTopic(topic),
		qos:       qos,
		retain:    retain,
		logger:    conn.logger.WithFields(LogFields{LogFieldTopic: topic}),
		ser:       ser,
		callbacks: make(map[uint64]callbackEntry),
	}
}

// Topic returns the topic of the handle.
func (h *Handle) Topic() string { return h.topic }

// QoS returns the QoS used to publish and subscribe.
func (h *Handle) QoS() byte { return h.qos }

// Retain returns the retain flag used to publish.
func (h *Handle) Retain() bool { return h.retain }

// Serializer returns the current serializer.
func (h *Handle) Serializer() Serializer {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.ser
}

// SetSerializer replaces the serializer for future publishes and deliveries.
func (h *Handle) SetSerializer(ser Serializer) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.ser = ser
}

// Subscribed reports whether the broker acknowledged the subscription.
func (h *Handle) Subscribed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.subscribed
}

// Contains reports whether the handle is responsible for a topic given as
// levels. The topic may be a filter itself.
func (h *Handle) Contains(levels []string) bool {
	return topicContains(h.levels, levels)
}

func (h *Handle) active() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.callbacks) > 0
}

// Publish packs value and publishes it with the QoS and retain flag of the
// handle. Retained payloads are remembered and published again after every
// connect.
func (h *Handle) Publish(value any) error {
	h.mu.Lock()
	ser := h.ser
	h.mu.Unlock()

	payload, err := ser.Pack(value)
	if err != nil {
		return err
	}

	if h.retain {
		h.mu.Lock()
		h.lastSent = payload
		h.mu.Unlock()
	}
	return h.conn.Publish(h.topic, payload, h.qos, h.retain)
}

// PublishMeta publishes the serializer format to fmt/<topic> and its
// description to desc/<topic>, both retained with QoS 1. '+' levels are
// written as '*'.
func (h *Handle) PublishMeta() error {
	if slices.Contains(h.levels, multiLevelWildcard) {
		return ErrWildcardMeta
	}
	ser := h.Serializer()

	return errors.Join(
		h.conn.Publish(metaTopic("fmt", h.levels), []byte(ser.Format()), 1, true),
		h.conn.Publish(metaTopic("desc", h.levels), []byte(ser.Description()), 1, true),
	)
}

// Child returns the handle for a topic below this one.
func (h *Handle) Child(suffix string, ser Serializer, qos byte, retain bool) (*Handle, error) {
	return h.conn.Handle(h.topic+topicSeparator+suffix, ser, qos, retain)
}

// Subscribe registers cb for values on the topic. The first callback
// subscribes the topic at the broker; while offline that happens on the
// next connect. A value received retained before is delivered to cb right
// away, flagged retained and duplicate. If that delivery fails, the error is
// returned together with the live Subscription.
//
// The callback stays registered until Subscription.Close is called.
func (h *Handle) Subscribe(cb Callback, opts ...SubscribeOption) (*Subscription, error) {
	if cb == nil {
		return nil, errors.New("callback is required")
	}

	entry := callbackEntry{fn: cb}
	for _, opt := range opts {
		opt(&entry)
	}

	h.mu.Lock()
	id := h.nextID
	h.nextID++
	first := len(h.callbacks) == 0
	h.callbacks[id] = entry
	if first {
		h.requestSubscribeLocked()
	}
	value, hasValue := h.lastReceived, h.hasReceived
	h.mu.Unlock()

	sub := &Subscription{handle: h, id: id}
	sub.cleanup = runtime.AddCleanup(sub, func(ref subscriptionRef) {
		ref.handle.unsubscribe(ref.id)
	}, subscriptionRef{handle: h, id: id})

	if hasValue {
		if err := h.call(entry, value, true, true, h); err != nil {
			return sub, err
		}
	}
	return sub, nil
}

// unsubscribe drops a callback. Dropping the last one unsubscribes the topic.
func (h *Handle) unsubscribe(id uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.callbacks[id]; !ok {
		return
	}
	delete(h.callbacks, id)
	if len(h.callbacks) == 0 {
		h.requestUnsubscribeLocked()
	}
}

func (h *Handle) requestSubscribeLocked() {
	id, err := h.conn.Subscribe(h)
	if err != nil {
		if !errors.Is(err, ErrOffline) {
			h.logger.Warn("subscribe failed", LogFields{LogFieldError: err.Error()})
		}
		return
	}
	h.subID = id
}

func (h *Handle) requestUnsubscribeLocked() {
	id, err := h.conn.Unsubscribe(h)
	if err != nil {
		if !errors.Is(err, ErrOffline) {
			h.logger.Warn("unsubscribe failed", LogFields{LogFieldError: err.Error()})
		}
		return
	}
	h.unsubID = id
}

// onConnect restores the broker side state of the handle after a connect.
func (h *Handle) onConnect(sessionPresent bool) {
	h.mu.Lock()
	switch {
	case len(h.callbacks) > 0 && (!sessionPresent || !h.subscribed):
		h.subscribed = false
		h.requestSubscribeLocked()
	case len(h.callbacks) == 0 && sessionPresent && h.subscribed:
		h.requestUnsubscribeLocked()
	}
	last := h.lastSent
	h.mu.Unlock()

	if last == nil {
		return
	}
	if err := h.conn.Publish(h.topic, last, h.qos, h.retain); err != nil && !errors.Is(err, ErrOffline) {
		h.logger.Warn("republishing failed", LogFields{LogFieldError: err.Error()})
	}
}

func (h *Handle) onSuback(id uint16) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if id != 0 && id == h.subID {
		h.subID = 0
		h.subscribed = true
	}
}

func (h *Handle) onUnsuback(id uint16) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if id != 0 && id == h.unsubID {
		h.unsubID = 0
		h.subscribed = false
	}
}

// deliver unpacks a payload and passes it to every callback. Payloads the
// serializer rejects are logged and dropped.
func (h *Handle) deliver(topic string, payload []byte, retained, duplicate bool) error {
	h.mu.Lock()
	ser := h.ser
	wantsHandle := false
	for _, e := range h.callbacks {
		wantsHandle = wantsHandle || e.wantsHandle
	}
	h.mu.Unlock()

	value, err := ser.Unpack(payload)
	if err != nil {
		h.logger.Error("deserialization failed", LogFields{LogFieldError: err.Error()})
		return nil
	}

	origin := h
	if wantsHandle && containsWildcard(h.topic) && topic != h.topic {
		concrete, err := h.conn.Handle(topic, ser, h.qos, h.retain)
		if err != nil {
			h.logger.Warn("no handle for publish topic", LogFields{
				"publish_topic": topic,
				LogFieldError:   err.Error(),
			})
		} else {
			origin = concrete
		}
	}

	h.mu.Lock()
	if retained {
		h.lastReceived, h.hasReceived = value, true
	}
	entries := make([]callbackEntry, 0, len(h.callbacks))
	for _, id := range slices.Sorted(maps.Keys(h.callbacks)) {
		entries = append(entries, h.callbacks[id])
	}
	h.mu.Unlock()

	var errs []error
	for _, e := range entries {
		if err := h.call(e, value, retained, duplicate, origin); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (h *Handle) call(e callbackEntry, value any, retained, duplicate bool, origin *Handle) error {
	d := Delivery{Value: value}
	if e.wantsHandle {
		d.Handle = origin
	}
	if e.wantsDelivery {
		d.Retained, d.Duplicate = retained, duplicate
	}
	return e.fn(d)
}

// Subscription is a registered callback.
type Subscription struct {
	handle  *Handle
	id      uint64
	once    sync.Once
	cleanup runtime.Cleanup
}

type subscriptionRef struct {
	handle *Handle
	id     uint64
}

// Handle returns the handle the callback is registered with.
func (s *Subscription) Handle() *Handle { return s.handle }

// Close unregisters the callback. Closing the last callback of a handle
// sends exactly one UNSUBSCRIBE. Close may be called more than once.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.cleanup.Stop()
		s.handle.unsubscribe(s.id)
	})
}
