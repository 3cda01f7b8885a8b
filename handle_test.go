package mauzr

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandleContains(t *testing.T) {
	env := newTestEnv(t, testConfig())
	str := NewStringSerializer("")

	tests := []struct {
		handle   string
		incoming []string
		want     bool
	}{
		{"a/+/c", []string{"a", "b", "c"}, true},
		{"a/b/d", []string{"a", "b", "c"}, false},
		{"a/b/#", []string{"a", "b", "c", "d"}, true},
		{"a/b/c", []string{"a", "b", "c", "d"}, false},
		{"a/+/c", []string{"a", "b", "c", "d"}, false},
		{"a/#", []string{"a", "x"}, true},
		{"a/b/c", []string{"a", "#"}, true},
		{"a/b/c", []string{"a", "b"}, false},
		{"a/b", []string{"a", "+"}, true},
		// A longer incoming topic is accepted on the trailing '#' alone.
		{"x/#", []string{"a", "b", "c"}, true},
		// A shorter incoming topic must end in '#' itself, so a handle on
		// "a/#" does not contain plain "a".
		{"a/#", []string{"a"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.handle, func(t *testing.T) {
			h, err := env.conn.Handle(tt.handle, str, 0, false)
			require.NoError(t, err)
			assert.Equal(t, tt.want, h.Contains(tt.incoming), "incoming %v", tt.incoming)
		})
	}
}

func TestHandleAccessors(t *testing.T) {
	env := newTestEnv(t, testConfig())
	h, err := env.conn.Handle("room/light", NewStringSerializer("state"), 1, true)
	require.NoError(t, err)

	assert.Equal(t, "room/light", h.Topic())
	assert.Equal(t, byte(1), h.QoS())
	assert.True(t, h.Retain())
	assert.Equal(t, "str", h.Serializer().Format())
	assert.False(t, h.Subscribed())

	h.SetSerializer(NewJSONSerializer("state"))
	assert.Equal(t, "json", h.Serializer().Format())

	_, err = env.conn.Handle("room/light", NewStringSerializer(""), 1, true)
	assert.ErrorIs(t, err, ErrHandleConflict)
}

func TestHandleSubscriptionLifecycle(t *testing.T) {
	env := newTestEnv(t, testConfig())
	bc, _ := env.connect(t, false)

	h, err := env.conn.Handle("lamp", NewStringSerializer(""), 1, false)
	require.NoError(t, err)

	first, err := h.Subscribe(func(Delivery) error { return nil })
	require.NoError(t, err)
	subscribe, ok := bc.next(t).(*SubscribePacket)
	require.True(t, ok)
	assert.Equal(t, "lamp", subscribe.Topic)
	assert.Equal(t, byte(1), subscribe.QoS)

	bc.send(t, &SubackPacket{PacketID: subscribe.PacketID, GrantedQoS: 1})
	env.read()
	assert.True(t, h.Subscribed())

	second, err := h.Subscribe(func(Delivery) error { return nil })
	require.NoError(t, err)
	bc.expectNothing(t)

	first.Close()
	bc.expectNothing(t)

	second.Close()
	unsubscribe, ok := bc.next(t).(*UnsubscribePacket)
	require.True(t, ok)
	assert.Equal(t, "lamp", unsubscribe.Topic)

	second.Close()
	first.Close()
	bc.expectNothing(t)

	bc.send(t, &UnsubackPacket{PacketID: unsubscribe.PacketID})
	env.read()
	assert.False(t, h.Subscribed())

	third, err := h.Subscribe(func(Delivery) error { return nil })
	require.NoError(t, err)
	defer third.Close()
	_, ok = bc.next(t).(*SubscribePacket)
	assert.True(t, ok)
	bc.expectNothing(t)
}

func TestHandleStaleAcks(t *testing.T) {
	env := newTestEnv(t, testConfig())
	bc, _ := env.connect(t, false)

	h, err := env.conn.Handle("lamp", NewStringSerializer(""), 0, false)
	require.NoError(t, err)
	sub, err := h.Subscribe(func(Delivery) error { return nil })
	require.NoError(t, err)
	defer sub.Close()
	subscribe := bc.next(t).(*SubscribePacket)

	bc.send(t, &SubackPacket{PacketID: subscribe.PacketID + 100})
	env.read()
	assert.False(t, h.Subscribed())

	bc.send(t, &SubackPacket{PacketID: subscribe.PacketID})
	env.read()
	assert.True(t, h.Subscribed())

	bc.send(t, &UnsubackPacket{PacketID: subscribe.PacketID})
	env.read()
	assert.True(t, h.Subscribed())
}

func TestHandleRetainedDelivery(t *testing.T) {
	env := newTestEnv(t, testConfig())
	bc, _ := env.connect(t, false)

	h, err := env.conn.Handle("door", NewStringSerializer(""), 0, false)
	require.NoError(t, err)

	first := &collector{}
	sub, err := h.Subscribe(first.callback, WithDeliveryInfo())
	require.NoError(t, err)
	defer sub.Close()
	bc.next(t)

	bc.send(t, &PublishPacket{Topic: "door", Payload: []byte("closed"), Retain: true})
	env.read()
	require.Len(t, first.get(), 1)
	assert.True(t, first.get()[0].Retained)
	assert.False(t, first.get()[0].Duplicate)

	bc.send(t, &PublishPacket{Topic: "door", Payload: []byte("open")})
	env.read()
	require.Len(t, first.get(), 2)
	assert.False(t, first.get()[1].Retained)

	t.Run("cached value for new callbacks", func(t *testing.T) {
		late := &collector{}
		lateSub, err := h.Subscribe(late.callback, WithDeliveryInfo())
		require.NoError(t, err)
		defer lateSub.Close()

		got := late.get()
		require.Len(t, got, 1)
		assert.Equal(t, "closed", got[0].Value)
		assert.True(t, got[0].Retained)
		assert.True(t, got[0].Duplicate)
		assert.Nil(t, got[0].Handle)
	})

	t.Run("flags only when asked", func(t *testing.T) {
		plain := &collector{}
		plainSub, err := h.Subscribe(plain.callback)
		require.NoError(t, err)
		defer plainSub.Close()

		got := plain.get()
		require.Len(t, got, 1)
		assert.False(t, got[0].Retained)
		assert.False(t, got[0].Duplicate)
	})

	t.Run("failing cached delivery", func(t *testing.T) {
		failing := &collector{err: errors.New("nope")}
		failingSub, err := h.Subscribe(failing.callback)
		require.Error(t, err)
		require.NotNil(t, failingSub)
		failingSub.Close()
	})
}

func TestHandleWildcardDelivery(t *testing.T) {
	env := newTestEnv(t, testConfig())
	bc, _ := env.connect(t, false)

	h, err := env.conn.Handle("room/+/temp", NewStringSerializer(""), 0, false)
	require.NoError(t, err)

	withHandle := &collector{}
	sub, err := h.Subscribe(withHandle.callback, WithHandle())
	require.NoError(t, err)
	defer sub.Close()
	without := &collector{}
	sub2, err := h.Subscribe(without.callback)
	require.NoError(t, err)
	defer sub2.Close()
	bc.next(t)

	bc.send(t, &PublishPacket{Topic: "room/kitchen/temp", Payload: []byte("20")})
	env.read()

	got := withHandle.get()
	require.Len(t, got, 1)
	require.NotNil(t, got[0].Handle)
	assert.Equal(t, "room/kitchen/temp", got[0].Handle.Topic())

	concrete, err := env.conn.Handle("room/kitchen/temp", NewStringSerializer(""), 0, false)
	require.NoError(t, err)
	assert.Same(t, concrete, got[0].Handle)

	require.Len(t, without.get(), 1)
	assert.Nil(t, without.get()[0].Handle)

	t.Run("concrete handle is itself", func(t *testing.T) {
		c := &collector{}
		csub, err := concrete.Subscribe(c.callback, WithHandle())
		require.NoError(t, err)
		defer csub.Close()
		bc.next(t)

		bc.send(t, &PublishPacket{Topic: "room/kitchen/temp", Payload: []byte("21")})
		env.read()

		require.Len(t, c.get(), 1)
		assert.Same(t, concrete, c.get()[0].Handle)
		assert.Len(t, withHandle.get(), 2)
	})

	t.Run("other topics are ignored", func(t *testing.T) {
		bc.send(t, &PublishPacket{Topic: "room/kitchen/humidity", Payload: []byte("40")})
		env.read()
		assert.Len(t, withHandle.get(), 2)
	})
}

func TestHandlePublish(t *testing.T) {
	env := newTestEnv(t, testConfig())

	h, err := env.conn.Handle("light", NewStringSerializer(""), 0, true)
	require.NoError(t, err)

	err = h.Publish("on")
	assert.ErrorIs(t, err, ErrOffline)

	assert.ErrorIs(t, h.Publish(42), ErrSerialization)

	bc, _ := env.connect(t, false)

	republished := bc.expectPublish(t)
	assert.Equal(t, "light", republished.Topic)
	assert.Equal(t, []byte("on"), republished.Payload)
	assert.True(t, republished.Retain)

	require.NoError(t, h.Publish("off"))
	published := bc.expectPublish(t)
	assert.Equal(t, []byte("off"), published.Payload)

	t.Run("not retained is not remembered", func(t *testing.T) {
		plain, err := env.conn.Handle("button", NewStringSerializer(""), 0, false)
		require.NoError(t, err)
		require.NoError(t, plain.Publish("pressed"))
		bc.expectPublish(t)

		plain.onConnect(true)
		bc.expectNothing(t)
	})
}

func TestHandleOnConnect(t *testing.T) {
	env := newTestEnv(t, testConfig())
	bc, _ := env.connect(t, false)

	h, err := env.conn.Handle("switch", NewStringSerializer(""), 0, false)
	require.NoError(t, err)
	sub, err := h.Subscribe(func(Delivery) error { return nil })
	require.NoError(t, err)
	subscribe := bc.next(t).(*SubscribePacket)
	bc.send(t, &SubackPacket{PacketID: subscribe.PacketID})
	env.read()
	require.True(t, h.Subscribed())

	t.Run("resumed session keeps subscription", func(t *testing.T) {
		h.onConnect(true)
		bc.expectNothing(t)
		assert.True(t, h.Subscribed())
	})

	t.Run("new session subscribes again", func(t *testing.T) {
		h.onConnect(false)
		_, ok := bc.next(t).(*SubscribePacket)
		assert.True(t, ok)
		assert.False(t, h.Subscribed())
	})

	t.Run("resumed session drops unused subscription", func(t *testing.T) {
		sub.Close()
		unsubscribe := bc.next(t).(*UnsubscribePacket)

		h.mu.Lock()
		h.subscribed = true
		h.unsubID = 0
		h.mu.Unlock()

		h.onConnect(true)
		again, ok := bc.next(t).(*UnsubscribePacket)
		require.True(t, ok)
		assert.NotEqual(t, unsubscribe.PacketID, again.PacketID)
	})
}

func TestHandlePublishMeta(t *testing.T) {
	env := newTestEnv(t, testConfig())
	bc, _ := env.connect(t, false)

	ser, err := NewStructSerializer("!f", "outside temperature")
	require.NoError(t, err)
	h, err := env.conn.Handle("sensor/+/temp", ser, 0, false)
	require.NoError(t, err)

	require.NoError(t, h.PublishMeta())

	format := bc.expectPublish(t)
	assert.Equal(t, "fmt/sensor/*/temp", format.Topic)
	assert.Equal(t, []byte("struct/!f"), format.Payload)
	assert.Equal(t, byte(1), format.QoS)
	assert.True(t, format.Retain)

	desc := bc.expectPublish(t)
	assert.Equal(t, "desc/sensor/*/temp", desc.Topic)
	assert.Equal(t, []byte("outside temperature"), desc.Payload)

	all, err := env.conn.Handle("sensor/#", ser, 0, false)
	require.NoError(t, err)
	assert.ErrorIs(t, all.PublishMeta(), ErrWildcardMeta)
}

func TestHandleChild(t *testing.T) {
	env := newTestEnv(t, testConfig())
	str := NewStringSerializer("")

	parent, err := env.conn.Handle("home", str, 0, false)
	require.NoError(t, err)

	child, err := parent.Child("kitchen", str, 1, true)
	require.NoError(t, err)
	assert.Equal(t, "home/kitchen", child.Topic())

	same, err := env.conn.Handle("home/kitchen", str, 1, true)
	require.NoError(t, err)
	assert.Same(t, child, same)

	_, err = parent.Child("kitchen", str, 0, true)
	assert.ErrorIs(t, err, ErrHandleConflict)
}
