package mauzr

import (
	"bytes"
	"errors"
)

// dispatch handles one packet read after the handshake.
func (c *Connector) dispatch(packet Packet) error {
	switch p := packet.(type) {
	case *PubackPacket:
		return c.complete(p.PacketID)
	case *PubcompPacket:
		return c.complete(p.PacketID)
	case *PubrecPacket:
		return c.handlePubrec(p)
	case *PubrelPacket:
		return c.handlePubrel(p)
	case *PublishPacket:
		return c.handlePublish(p)
	case *SubackPacket:
		for _, h := range c.handleList() {
			h.onSuback(p.PacketID)
		}
		return nil
	case *UnsubackPacket:
		for _, h := range c.handleList() {
			h.onUnsuback(p.PacketID)
		}
		return nil
	case *PingrespPacket:
		return nil
	default:
		return NewProtocolError(packet.Type(), nil)
	}
}

// complete forgets an outbound exchange the broker finished.
func (c *Connector) complete(id uint16) error {
	err := c.ledger.Delete(id)
	c.metrics.pending(c.ledger.Len())
	return err
}

// handlePubrec replaces the stored PUBLISH with the PUBREL that follows it,
// so a replay after reconnect continues the exchange where it stopped.
func (c *Connector) handlePubrec(p *PubrecPacket) error {
	data, err := EncodePacket(&PubrelPacket{PacketID: p.PacketID})
	if err != nil {
		return err
	}
	if err := c.ledger.Store(p.PacketID, data); err != nil {
		return err
	}
	return c.sendRaw(PacketPUBREL, data)
}

// handlePubrel delivers a held QoS 2 publish. Unknown ids are completed
// anyway since the PUBCOMP of an earlier attempt may have been lost.
func (c *Connector) handlePubrel(p *PubrelPacket) error {
	data, ok, err := c.ledger.FetchInbound(p.PacketID)
	if err != nil {
		return err
	}

	if ok {
		stored, _, err := ReadPacket(bytes.NewReader(data))
		if pub, isPublish := stored.(*PublishPacket); err == nil && isPublish {
			c.deliver(pub)
		} else {
			c.logger.Warn("dropping unreadable held publish", LogFields{LogFieldPacketID: p.PacketID})
		}

		if err := c.ledger.DeleteInbound(p.PacketID); err != nil {
			return err
		}
	} else {
		c.logger.Debug("release for unknown publish", LogFields{LogFieldPacketID: p.PacketID})
	}

	return c.send(&PubcompPacket{PacketID: p.PacketID})
}

func (c *Connector) handlePublish(p *PublishPacket) error {
	switch p.QoS {
	case 2:
		data, err := EncodePacket(p)
		if err != nil {
			return err
		}
		if err := c.ledger.StoreInbound(p.PacketID, data); err != nil {
			return err
		}
		return c.send(&PubrecPacket{PacketID: p.PacketID})
	case 1:
		c.deliver(p)
		return c.send(&PubackPacket{PacketID: p.PacketID})
	default:
		c.deliver(p)
		return nil
	}
}

// deliver fans a publish out to every handle with callbacks whose topic
// contains the publish topic. Callback errors are logged.
func (c *Connector) deliver(p *PublishPacket) {
	c.metrics.messageReceived(p.QoS)

	levels := splitTopic(p.Topic)
	var errs []error
	for _, h := range c.handleList() {
		if !h.active() || !topicContains(h.levels, levels) {
			continue
		}
		if err := h.deliver(p.Topic, p.Payload, p.Retain, p.DUP); err != nil {
			errs = append(errs, err)
		}
	}

	if len(errs) > 0 {
		c.metrics.callbackFailed()
		c.logger.Error("callback failed", LogFields{
			LogFieldTopic: p.Topic,
			LogFieldError: errors.Join(errs...).Error(),
		})
	}
}
