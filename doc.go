// Package mauzr provides the messaging core of mauzr agents: an MQTT 3.1.1
// client that keeps one session with a broker alive and routes values
// between typed topic handles.
//
// This package implements the subset of the MQTT Version 3.1.1 OASIS
// Standard an agent needs:
// https://docs.oasis-open.org/mqtt/mqtt/v3.1.1/mqtt-v3.1.1.html
//
// # Features
//
//   - All 14 MQTT 3.1.1 control packet types, single topic SUBSCRIBE
//   - QoS 0, 1 and 2 in both directions, with in-flight state kept in a
//     durable Ledger and replayed after reconnects and restarts
//   - Presence on status/<name>, announced on connect and by the will
//   - Broker discovery by DNS SRV, TLS with PEM or PKCS#12 identities
//   - Transport: TCP, TLS, WebSocket, WSS, QUIC, Unix sockets, proxies
//   - Pluggable Store, Logger, Metrics and Scheduler
//
// # Packets
//
// Use ReadPacket and WritePacket to read/write packets from/to connections:
//
//	// Read a packet
//	pkt, n, err := mauzr.ReadPacket(conn)
//
//	// Write a packet
//	n, err := mauzr.WritePacket(conn, &mauzr.PubackPacket{PacketID: 3})
//
// Malformed input is reported as *ProtocolError.
//
// # Connector
//
// A Connector is driven by a Scheduler. Without WithScheduler it creates a
// LoopScheduler that Run serves:
//
//	cfg := mauzr.DefaultConfig()
//	cfg.Name = "kitchen"
//	cfg.Server = "example.org"
//
//	conn, err := mauzr.NewConnector(cfg, mauzr.WithStore(store))
//	if err != nil {
//	    return err
//	}
//	if err := conn.Start(); err != nil {
//	    return err
//	}
//	go conn.Run(ctx)
//	defer conn.Shutdown(context.Background())
//
// # Handles
//
// Every topic is used through a Handle that carries its serializer, QoS and
// retain flag:
//
//	temp, err := conn.Handle("kitchen/temperature", mustStruct("!f"), 1, true)
//
//	err = temp.Publish(21.5)
//
//	sub, err := temp.Subscribe(func(d mauzr.Delivery) error {
//	    fmt.Println(d.Value)
//	    return nil
//	})
//	defer sub.Close()
//
// The first callback subscribes the topic at the broker and closing the last
// one unsubscribes it. Subscriptions are restored after every reconnect.
//
// # Errors
//
// Errors wrap sentinels for errors.Is, such as ErrOffline, ErrProtocolError
// and ErrSerialization, and typed errors for errors.As:
//
//	var offline *mauzr.OfflineError
//	if errors.As(err, &offline) && offline.PacketID != 0 {
//	    // kept in the ledger, sent after the next connect
//	}
package mauzr
