package phxsocket

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/benbjohnson/clock"
)

// eventBuffer sizes the event channel feeding the run loop.
const eventBuffer = 128

// event is anything the run loop reacts to: timer ticks, transport
// notifications, API calls, and subscriber-death notifications. All state
// mutation happens while handling one of these, on the loop goroutine.
type event interface{}

type (
	// evConnect starts a connection attempt (initial and reconnect).
	evConnect struct{}

	evConnected struct{ handle TransportHandle }

	evDisconnected struct {
		reason error
		handle TransportHandle
	}

	evClosed struct {
		reason string
		handle TransportHandle
	}

	evFrame struct{ frame []byte }

	evHeartbeat struct{}
	evFlush     struct{}

	evPush struct {
		msg   *Message
		reply chan *Message
	}

	evJoin struct {
		subscriber Subscriber
		topic      string
		params     any
		reply      chan joinResult
	}

	evLeave struct {
		topic string
		reply chan leaveResult
	}

	evSubscriberDown struct {
		topic string
		watch *livenessWatch
	}

	// evSync is a no-op used to fence the loop.
	evSync struct{ reply chan struct{} }
)

type joinResult struct {
	msg *Message
	err error
}

type leaveResult struct {
	msg *Message
	err error
}

// closeReason describes why a connection ended. A clean reason produces the
// synthetic "close" event for subscribers; anything else produces "error".
type closeReason struct {
	err    error
	detail string
	clean  bool
}

func (r closeReason) payload() any {
	if r.err != nil {
		return r.err.Error()
	}
	return r.detail
}

// Socket is a client-side connection manager for Phoenix-style channels.
// One Socket maintains one persistent connection; multiple independent
// instances may coexist.
//
// API calls are safe from any goroutine: they post into the socket's event
// stream and return once the loop has applied them. Inbound messages are
// routed to subscribers in arrival order, and pushed messages are
// transmitted in push order once connected.
type Socket struct {
	cfg    Config
	url    string
	logger *slog.Logger
	clock  clock.Clock

	events chan event
	quit   chan struct{}
	done   chan struct{}

	started   atomic.Bool
	connected atomic.Bool
	stopOnce  sync.Once

	// State below is owned by the run loop.
	queue          *outbox
	channels       *registry
	refCounter     uint64
	handle         TransportHandle
	reconnectTimer *clock.Timer
	heartbeatTimer *clock.Timer
	flushTimer     *clock.Timer
	flushScheduled bool
	err            error
}

// NewSocket validates and defaults cfg and builds the connection URL. The
// socket does nothing until Start is called.
func NewSocket(cfg Config) (*Socket, error) {
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("socket config: %w", err)
	}
	endpoint, err := buildURL(cfg.URL, cfg.ProtocolVersion, cfg.Params)
	if err != nil {
		return nil, fmt.Errorf("socket config: %w", err)
	}
	return &Socket{
		cfg:      cfg,
		url:      endpoint,
		logger:   cfg.Logger,
		clock:    cfg.Clock,
		events:   make(chan event, eventBuffer),
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
		queue:    &outbox{},
		channels: newRegistry(),
	}, nil
}

// Start launches the run loop and schedules an immediate connect attempt.
// Cancelling ctx terminates the socket like Stop does.
func (s *Socket) Start(ctx context.Context) error {
	if !s.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}
	go s.run(ctx)
	s.post(evConnect{})
	return nil
}

// Stop terminates the socket, releasing timers, the transport session, and
// the registry. It blocks until the run loop has exited. Stop before Start
// terminates the socket outright; a later Start fails with
// ErrAlreadyStarted. Idempotent.
func (s *Socket) Stop() error {
	s.stopOnce.Do(func() { close(s.quit) })
	if s.started.CompareAndSwap(false, true) {
		// Never started; there is no loop to wait for.
		close(s.done)
		return nil
	}
	<-s.done
	return nil
}

// Done is closed when the socket has terminated, either by Stop, context
// cancellation, or a fatal protocol fault (see Err).
func (s *Socket) Done() <-chan struct{} { return s.done }

// Err reports the fault that terminated the socket. It is meaningful once
// Done is closed; a clean Stop leaves it nil. A non-nil fault means the
// instance hit an unrecoverable protocol error (undecodable inbound frame or
// unencodable outbound message) and expects its supervisor to restart it.
func (s *Socket) Err() error {
	select {
	case <-s.done:
		return s.err
	default:
		return nil
	}
}

// IsConnected reports whether the transport is currently connected.
func (s *Socket) IsConnected() bool { return s.connected.Load() }

// Push assigns the next ref to msg, appends it to the outbound queue, and
// schedules a flush pass. It returns the message as stored. Transmission is
// deferred: the flush cycle delivers queued messages, one per period, once
// connected.
func (s *Socket) Push(msg Message) (Message, error) {
	stored, err := roundTrip(s, func(reply chan *Message) event {
		return evPush{msg: &msg, reply: reply}
	})
	if err != nil {
		return Message{}, err
	}
	return *stored, nil
}

// Join registers subscriber for topic and enqueues the join control message,
// returning it as stored. It fails with *AlreadyJoinedError when the topic
// already has an active subscription.
func (s *Socket) Join(subscriber Subscriber, topic string, params any) (Message, error) {
	res, err := roundTrip(s, func(reply chan joinResult) event {
		return evJoin{subscriber: subscriber, topic: topic, params: params, reply: reply}
	})
	if err != nil {
		return Message{}, err
	}
	if res.err != nil {
		return Message{}, res.err
	}
	return *res.msg, nil
}

// Leave cancels the topic's subscription and enqueues the leave control
// message, returning it as stored. It fails with ErrNotJoined when the topic
// has no active subscription.
func (s *Socket) Leave(topic string) (Message, error) {
	res, err := roundTrip(s, func(reply chan leaveResult) event {
		return evLeave{topic: topic, reply: reply}
	})
	if err != nil {
		return Message{}, err
	}
	if res.err != nil {
		return Message{}, res.err
	}
	return *res.msg, nil
}

// roundTrip posts an API event into the loop and waits for its reply.
// It returns ErrNotStarted before Start and ErrSocketClosed once the socket
// has terminated.
func roundTrip[R any](s *Socket, build func(reply chan R) event) (R, error) {
	var zero R
	if !s.started.Load() {
		return zero, ErrNotStarted
	}
	reply := make(chan R, 1)
	select {
	case s.events <- build(reply):
	case <-s.done:
		return zero, ErrSocketClosed
	}
	select {
	case res := <-reply:
		return res, nil
	case <-s.done:
		// The loop may have replied just before terminating.
		select {
		case res := <-reply:
			return res, nil
		default:
		}
		return zero, ErrSocketClosed
	}
}

// post delivers an event to the run loop, giving up once the socket has
// terminated. Timer callbacks, transport notifications, and liveness watches
// all enter through here, keeping state mutation on the single consumer.
func (s *Socket) post(ev event) {
	select {
	case s.events <- ev:
	case <-s.done:
	}
}

func (s *Socket) run(ctx context.Context) {
	defer s.teardown()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.quit:
			return
		case ev := <-s.events:
			s.handleEvent(ev)
			if s.err != nil {
				return
			}
		}
	}
}

func (s *Socket) handleEvent(ev event) {
	switch ev := ev.(type) {
	case evConnect:
		s.onConnect()
	case evConnected:
		s.onConnected(ev.handle)
	case evDisconnected:
		s.onTransportDown(ev.handle, closeReason{err: ev.reason})
	case evClosed:
		s.onTransportDown(ev.handle, closeReason{detail: ev.reason, clean: true})
	case evFrame:
		s.onFrame(ev.frame)
	case evHeartbeat:
		s.onHeartbeat()
	case evFlush:
		s.onFlush()
	case evPush:
		ev.reply <- s.enqueue(ev.msg)
	case evJoin:
		ev.reply <- s.onJoin(ev.subscriber, ev.topic, ev.params)
	case evLeave:
		ev.reply <- s.onLeave(ev.topic)
	case evSubscriberDown:
		s.onSubscriberDown(ev.topic, ev.watch)
	case evSync:
		close(ev.reply)
	}
}

// teardown releases every resource the loop owns and marks the socket
// terminated.
func (s *Socket) teardown() {
	s.connected.Store(false)
	s.stopTimer(&s.reconnectTimer)
	s.stopTimer(&s.heartbeatTimer)
	s.stopTimer(&s.flushTimer)
	if s.handle != nil {
		s.handle.Close()
		s.handle = nil
	}
	for _, entry := range s.channels.drain() {
		entry.watch.stop()
	}
	close(s.done)
}

func (s *Socket) stopTimer(t **clock.Timer) {
	if *t != nil {
		(*t).Stop()
		*t = nil
	}
}

// onConnect starts a transport session. The pending reconnect timer, if any,
// is cleared the instant the attempt starts.
func (s *Socket) onConnect() {
	s.stopTimer(&s.reconnectTimer)
	s.logger.Debug("opening transport", "url", s.cfg.URL)
	handle, err := s.cfg.Transport.Open(s.url, s.cfg.TransportOptions, &transportSink{s: s})
	if err != nil {
		s.logger.Warn("transport open failed", "error", err)
		s.closeWith(closeReason{err: err})
		return
	}
	s.handle = handle
}

func (s *Socket) onConnected(handle TransportHandle) {
	if !s.isCurrent(handle) {
		return
	}
	s.connected.Store(true)
	s.stopTimer(&s.reconnectTimer)
	s.logger.Info("connected", "session", handle.ID())
	s.scheduleHeartbeat()
}

func (s *Socket) onTransportDown(handle TransportHandle, reason closeReason) {
	if !s.isCurrent(handle) {
		return
	}
	s.closeWith(reason)
}

// isCurrent reports whether a notification belongs to the active session.
// Events from abandoned sessions are ignored.
func (s *Socket) isCurrent(handle TransportHandle) bool {
	return s.handle != nil && handle != nil && s.handle.ID() == handle.ID()
}

// closeWith tears connection state down, notifies every registered
// subscriber with a synthetic terminal message, and schedules a reconnect.
// It is a no-op while a reconnect timer is already pending, so repeated
// failure notifications cannot schedule duplicates.
func (s *Socket) closeWith(reason closeReason) {
	if s.reconnectTimer != nil {
		return
	}
	s.connected.Store(false)
	s.handle = nil

	terminal := EventError
	if reason.clean {
		terminal = EventClose
	}
	entries := s.channels.drain()
	for topic, entry := range entries {
		entry.watch.stop()
		entry.subscriber.Deliver(&Message{Topic: topic, Event: terminal, Payload: reason.payload()})
	}
	if len(entries) > 0 {
		s.logger.Info("connection lost, notified subscribers",
			"topics", len(entries),
			"event", terminal,
		)
	} else {
		s.logger.Debug("connection lost", "event", terminal)
	}

	if !s.cfg.DisableReconnect {
		s.reconnectTimer = s.clock.AfterFunc(s.cfg.ReconnectInterval, func() {
			s.post(evConnect{})
		})
	}
}

func (s *Socket) scheduleHeartbeat() {
	s.stopTimer(&s.heartbeatTimer)
	s.heartbeatTimer = s.clock.AfterFunc(s.cfg.HeartbeatInterval, func() {
		s.post(evHeartbeat{})
	})
}

// onHeartbeat sends a keep-alive directly through the transport, outside the
// queue. A tick that fires while disconnected dies without rescheduling; the
// cycle restarts on the next successful connection.
func (s *Socket) onHeartbeat() {
	if !s.connected.Load() || s.handle == nil {
		return
	}
	s.scheduleHeartbeat()
	msg := &Message{
		Topic:   heartbeatTopic,
		Event:   EventHeartbeat,
		Payload: map[string]any{},
		Ref:     s.nextRef(),
	}
	frame, err := s.cfg.Serializer.Encode(s.cfg.ProtocolVersion, msg, s.cfg.JSONCodec)
	if err != nil {
		s.fatal(fmt.Errorf("encode heartbeat: %w", err))
		return
	}
	s.cfg.Transport.Send(s.handle, frame)
	s.logger.Debug("heartbeat sent", "ref", msg.Ref)
}

func (s *Socket) scheduleFlush() {
	if s.flushScheduled {
		return
	}
	s.flushScheduled = true
	s.flushTimer = s.clock.AfterFunc(flushInterval, func() {
		s.post(evFlush{})
	})
}

// onFlush transmits at most one queued message per period. While
// disconnected the cycle keeps ticking so queued messages survive until a
// connection exists; once connected and drained it stops until the next
// Push.
func (s *Socket) onFlush() {
	s.flushScheduled = false
	s.flushTimer = nil
	if !s.connected.Load() {
		s.scheduleFlush()
		return
	}
	msg := s.queue.pop()
	if msg == nil {
		return
	}
	s.scheduleFlush()
	frame, err := s.cfg.Serializer.Encode(s.cfg.ProtocolVersion, msg, s.cfg.JSONCodec)
	if err != nil {
		s.fatal(fmt.Errorf("encode message (topic %q, event %q): %w", msg.Topic, msg.Event, err))
		return
	}
	s.cfg.Transport.Send(s.handle, frame)
	s.logger.Debug("flushed message",
		"topic", msg.Topic,
		"event", msg.Event,
		"ref", msg.Ref,
	)
}

// enqueue assigns the next ref, appends the message to the queue, and
// schedules a flush pass.
func (s *Socket) enqueue(msg *Message) *Message {
	msg.Ref = s.nextRef()
	if msg.Event == EventJoin {
		msg.JoinRef = msg.Ref
	}
	s.queue.push(msg)
	s.scheduleFlush()
	return msg
}

func (s *Socket) nextRef() string {
	s.refCounter++
	return strconv.FormatUint(s.refCounter, 10)
}

func (s *Socket) onJoin(subscriber Subscriber, topic string, params any) joinResult {
	if entry, ok := s.channels.get(topic); ok {
		return joinResult{err: &AlreadyJoinedError{Topic: topic, Owner: entry.subscriber}}
	}
	watch := watchLiveness(subscriber, topic, s.notifySubscriberDown)
	msg := s.enqueue(s.cfg.Serializer.BuildJoin(topic, params))
	s.channels.put(topic, &channelEntry{subscriber: subscriber, watch: watch})
	s.logger.Debug("joined topic", "topic", topic, "ref", msg.Ref)
	return joinResult{msg: msg}
}

func (s *Socket) onLeave(topic string) leaveResult {
	entry, ok := s.channels.get(topic)
	if !ok {
		return leaveResult{err: ErrNotJoined}
	}
	entry.watch.stop()
	msg := s.enqueue(s.cfg.Serializer.BuildLeave(topic))
	s.channels.remove(topic)
	s.logger.Debug("left topic", "topic", topic, "ref", msg.Ref)
	return leaveResult{msg: msg}
}

func (s *Socket) notifySubscriberDown(topic string, w *livenessWatch) {
	s.post(evSubscriberDown{topic: topic, watch: w})
}

// onSubscriberDown handles a subscriber that terminated without leaving: the
// leave is enqueued on its behalf so the server-side subscription is not
// leaked. The watch token filters notifications for registrations that were
// already replaced or removed.
func (s *Socket) onSubscriberDown(topic string, watch *livenessWatch) {
	entry, ok := s.channels.get(topic)
	if !ok || entry.watch != watch {
		return
	}
	msg := s.enqueue(s.cfg.Serializer.BuildLeave(topic))
	s.channels.remove(topic)
	s.logger.Info("subscriber terminated, left topic", "topic", topic, "ref", msg.Ref)
}

// onFrame decodes and routes one inbound frame. Frames for unjoined topics
// are dropped; an undecodable frame is a protocol fault that terminates the
// socket (restarting is the supervisor's job, not this layer's).
func (s *Socket) onFrame(frame []byte) {
	msg, err := s.cfg.Serializer.Decode(s.cfg.ProtocolVersion, frame, s.cfg.JSONCodec)
	if err != nil {
		s.fatal(fmt.Errorf("decode inbound frame: %w", err))
		return
	}
	entry, ok := s.channels.get(msg.Topic)
	if !ok {
		s.logger.Debug("dropping frame for unjoined topic", "topic", msg.Topic, "event", msg.Event)
		return
	}
	entry.subscriber.Deliver(msg)
}

// fatal records an unrecoverable fault; the run loop exits after the current
// event and Err reports it.
func (s *Socket) fatal(err error) {
	s.logger.Error("fatal socket fault", "error", err)
	s.err = err
}

// transportSink funnels transport notifications into the event loop so all
// state mutation stays on the single consumer.
type transportSink struct{ s *Socket }

func (t *transportSink) Connected(handle TransportHandle) {
	t.s.post(evConnected{handle: handle})
}

func (t *transportSink) Disconnected(reason error, handle TransportHandle) {
	t.s.post(evDisconnected{reason: reason, handle: handle})
}

func (t *transportSink) Closed(reason string, handle TransportHandle) {
	t.s.post(evClosed{reason: reason, handle: handle})
}

func (t *transportSink) Received(frame []byte) {
	t.s.post(evFrame{frame: frame})
}
