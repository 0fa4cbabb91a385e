// Package phxsocket implements a client-side connection manager for
// Phoenix-style channels: topic-based pub/sub multiplexed over one
// persistent socket.
//
// A Socket owns the connection lifecycle (connect, heartbeat, reconnect),
// an outbound FIFO queue with monotonic message refs, and a registry of
// topic subscriptions. All state lives on a single event loop; the public
// API (Push, Join, Leave, IsConnected) communicates with that loop and
// returns immediately, while network I/O happens asynchronously through a
// pluggable Transport.
//
// Basic usage:
//
//	sock, err := phxsocket.NewSocket(phxsocket.Config{
//		URL: "wss://example.com/socket/websocket",
//	})
//	if err != nil {
//		log.Fatal(err)
//	}
//	if err := sock.Start(context.Background()); err != nil {
//		log.Fatal(err)
//	}
//	defer sock.Stop()
//
//	sub := phxsocket.NewFuncSubscriber(func(msg *phxsocket.Message) {
//		fmt.Println(msg.Topic, msg.Event)
//	})
//	if _, err := sock.Join(sub, "room:lobby", nil); err != nil {
//		log.Fatal(err)
//	}
package phxsocket
