package topics

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"

	"github.com/dforsythe/phxsocket"
	"github.com/dforsythe/phxsocket/internal/config"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }

type fakeHandle struct{ id uuid.UUID }

func (h *fakeHandle) ID() uuid.UUID { return h.id }
func (h *fakeHandle) Close() error  { return nil }

type fakeTransport struct {
	mu     sync.Mutex
	opens  int
	handle *fakeHandle
	sink   phxsocket.TransportEvents

	sent chan []byte
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{sent: make(chan []byte, 64)}
}

func (t *fakeTransport) Open(url string, opts phxsocket.TransportOptions, events phxsocket.TransportEvents) (phxsocket.TransportHandle, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.opens++
	t.handle = &fakeHandle{id: uuid.New()}
	t.sink = events
	return t.handle, nil
}

func (t *fakeTransport) Send(handle phxsocket.TransportHandle, frame []byte) {
	t.sent <- frame
}

func (t *fakeTransport) openCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.opens
}

func (t *fakeTransport) events() phxsocket.TransportEvents {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sink
}

// connect reports the latest opened session connected.
func (t *fakeTransport) connect(tt *testing.T, s *phxsocket.Socket) phxsocket.TransportHandle {
	tt.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		t.mu.Lock()
		h, sink := t.handle, t.sink
		t.mu.Unlock()
		if h != nil {
			sink.Connected(h)
			for time.Now().Before(deadline) {
				if s.IsConnected() {
					return h
				}
				time.Sleep(2 * time.Millisecond)
			}
			break
		}
		time.Sleep(2 * time.Millisecond)
	}
	tt.Fatal("socket never connected")
	return nil
}

func decodeFrame(t *testing.T, frame []byte) *phxsocket.Message {
	t.Helper()
	msg, err := phxsocket.JSONSerializer{}.Decode(phxsocket.VersionV2, frame, jsonCodec{})
	if err != nil {
		t.Fatalf("decode outbound frame: %v", err)
	}
	return msg
}

// collectJoins drives the flush cycle until a join frame has been observed
// for every topic in want.
func collectJoins(t *testing.T, ft *fakeTransport, mock *clock.Mock, want []string) {
	t.Helper()
	joined := make(map[string]bool)
	deadline := time.Now().Add(2 * time.Second)
	for len(joined) < len(want) && time.Now().Before(deadline) {
		mock.Add(100 * time.Millisecond)
		select {
		case frame := <-ft.sent:
			msg := decodeFrame(t, frame)
			if msg.Event == phxsocket.EventJoin {
				joined[msg.Topic] = true
			}
		case <-time.After(10 * time.Millisecond):
		}
	}
	for _, topic := range want {
		if !joined[topic] {
			t.Fatalf("no join frame observed for %q", topic)
		}
	}
}

func TestKeeperRejoinsAfterConnectionLoss(t *testing.T) {
	ft := newFakeTransport()
	mock := clock.NewMock()
	sock, err := phxsocket.NewSocket(phxsocket.Config{
		URL:               "ws://example.test/socket",
		Transport:         ft,
		Clock:             mock,
		Logger:            testLogger(),
		ReconnectInterval: time.Second,
	})
	if err != nil {
		t.Fatalf("NewSocket failed: %v", err)
	}
	if err := sock.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer sock.Stop()

	received := make(chan *phxsocket.Message, 16)
	inner := phxsocket.NewFuncSubscriber(func(msg *phxsocket.Message) { received <- msg })

	names := []string{"room:1", "room:2"}
	keeper := NewKeeper(sock, []config.TopicConfig{{Name: "room:1"}, {Name: "room:2"}}, inner, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	runDone := make(chan error, 1)
	go func() { runDone <- keeper.Run(ctx) }()

	h1 := ft.connect(t, sock)
	collectJoins(t, ft, mock, names)

	// Connection loss: both topics get their terminal message and are
	// forwarded to the real subscriber.
	ft.events().Disconnected(errors.New("reset"), h1)
	for i := 0; i < len(names); i++ {
		select {
		case msg := <-received:
			if msg.Event != phxsocket.EventError {
				t.Fatalf("terminal event = %q, want %q", msg.Event, phxsocket.EventError)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("missing terminal message")
		}
	}

	// The fixed reconnect delay elapses and a second session opens.
	deadline := time.Now().Add(2 * time.Second)
	for ft.openCount() < 2 && time.Now().Before(deadline) {
		mock.Add(100 * time.Millisecond)
		time.Sleep(2 * time.Millisecond)
	}
	if ft.openCount() < 2 {
		t.Fatal("socket never attempted a reconnect")
	}
	ft.connect(t, sock)

	// The keeper rejoined both topics and routing resumes.
	collectJoins(t, ft, mock, names)

	frame, err := phxsocket.JSONSerializer{}.Encode(phxsocket.VersionV2, &phxsocket.Message{
		Topic:   "room:1",
		Event:   "new_msg",
		Payload: map[string]any{"body": "hi"},
	}, jsonCodec{})
	if err != nil {
		t.Fatalf("encode frame: %v", err)
	}
	ft.events().Received(frame)
	select {
	case msg := <-received:
		if msg.Topic != "room:1" || msg.Event != "new_msg" {
			t.Errorf("routed %q/%q, want room:1/new_msg", msg.Topic, msg.Event)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("routing did not resume after reconnect")
	}

	// Run exits cleanly on cancellation.
	cancel()
	select {
	case err := <-runDone:
		if err != nil {
			t.Errorf("Run = %v, want nil", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestKeeperStopsWithSubscriber(t *testing.T) {
	ft := newFakeTransport()
	sock, err := phxsocket.NewSocket(phxsocket.Config{
		URL:       "ws://example.test/socket",
		Transport: ft,
		Clock:     clock.NewMock(),
		Logger:    testLogger(),
	})
	if err != nil {
		t.Fatalf("NewSocket failed: %v", err)
	}
	if err := sock.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer sock.Stop()

	sub := phxsocket.NewFuncSubscriber(nil)
	keeper := NewKeeper(sock, []config.TopicConfig{{Name: "room:1"}}, sub, testLogger())

	runDone := make(chan error, 1)
	go func() { runDone <- keeper.Run(context.Background()) }()

	sub.Close()
	select {
	case err := <-runDone:
		if err != nil {
			t.Errorf("Run = %v, want nil", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after subscriber terminated")
	}
}