package phxsocket

import "sync"

// Subscriber receives messages routed for a joined topic.
//
// Deliver is called from the Socket's event loop and must not block. Done
// reports subscriber termination: when the returned channel closes while the
// topic is still registered, the Socket enqueues a leave for the topic and
// drops the registration, exactly as Leave would. This explicit teardown
// channel is the stand-in for process-death notification; a subscriber that
// can terminate must close it.
type Subscriber interface {
	Deliver(msg *Message)
	Done() <-chan struct{}
}

// FuncSubscriber adapts a callback to the Subscriber interface.
type FuncSubscriber struct {
	fn   func(*Message)
	done chan struct{}
	once sync.Once
}

// NewFuncSubscriber returns a subscriber that invokes fn for every routed
// message. fn must not block.
func NewFuncSubscriber(fn func(*Message)) *FuncSubscriber {
	return &FuncSubscriber{fn: fn, done: make(chan struct{})}
}

func (s *FuncSubscriber) Deliver(msg *Message) {
	if s.fn != nil {
		s.fn(msg)
	}
}

func (s *FuncSubscriber) Done() <-chan struct{} { return s.done }

// Close terminates the subscriber. A Socket holding a registration for it
// reacts by leaving the topic on its behalf.
func (s *FuncSubscriber) Close() {
	s.once.Do(func() { close(s.done) })
}

// channelEntry is one active subscription.
type channelEntry struct {
	subscriber Subscriber
	watch      *livenessWatch
}

// registry maps topics to their single active subscription. Owned by the
// Socket's event loop; a topic appears at most once.
type registry struct {
	entries map[string]*channelEntry
}

func newRegistry() *registry {
	return &registry{entries: make(map[string]*channelEntry)}
}

func (r *registry) get(topic string) (*channelEntry, bool) {
	e, ok := r.entries[topic]
	return e, ok
}

func (r *registry) put(topic string, e *channelEntry) {
	r.entries[topic] = e
}

func (r *registry) remove(topic string) {
	delete(r.entries, topic)
}

func (r *registry) len() int {
	return len(r.entries)
}

// drain returns all entries and resets the registry.
func (r *registry) drain() map[string]*channelEntry {
	entries := r.entries
	r.entries = make(map[string]*channelEntry)
	return entries
}

// livenessWatch observes one subscriber's Done channel for the lifetime of
// its registration.
type livenessWatch struct {
	cancel chan struct{}
	once   sync.Once
}

// watchLiveness watches sub until it terminates or the watch is stopped.
// notify is called (from the watch goroutine) only when the subscriber
// terminates first; the watch token is passed along so stale notifications
// can be told apart from the current registration.
func watchLiveness(sub Subscriber, topic string, notify func(topic string, w *livenessWatch)) *livenessWatch {
	w := &livenessWatch{cancel: make(chan struct{})}
	go func() {
		select {
		case <-sub.Done():
			// A stop that raced the termination wins.
			select {
			case <-w.cancel:
				return
			default:
			}
			notify(topic, w)
		case <-w.cancel:
		}
	}()
	return w
}

// stop cancels the watch. Idempotent.
func (w *livenessWatch) stop() {
	w.once.Do(func() { close(w.cancel) })
}
