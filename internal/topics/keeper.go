// Package topics keeps configured channel subscriptions alive across
// reconnects.
//
// The socket clears its registry on every connection loss and delivers one
// terminal message per joined topic; subscribers that want to survive a
// reconnect must join again. A Keeper watches for those terminal messages
// and turns them into fresh joins so routing resumes once the socket is
// back.
package topics

import (
	"context"
	"errors"
	"log/slog"

	"github.com/dforsythe/phxsocket"
	"github.com/dforsythe/phxsocket/internal/config"
)

// Keeper joins a fixed set of topics on behalf of one subscriber and
// rejoins them after every connection loss.
type Keeper struct {
	sock   *phxsocket.Socket
	topics []config.TopicConfig
	logger *slog.Logger
	sub    *relaySubscriber
}

// NewKeeper wraps sub so connection-loss messages trigger rejoins. The
// wrapped subscriber still sees every delivered message, terminal ones
// included.
func NewKeeper(sock *phxsocket.Socket, topics []config.TopicConfig, sub phxsocket.Subscriber, logger *slog.Logger) *Keeper {
	if logger == nil {
		logger = slog.Default()
	}
	return &Keeper{
		sock:   sock,
		topics: topics,
		logger: logger,
		sub:    &relaySubscriber{inner: sub, lost: make(chan struct{}, 1)},
	}
}

// Run joins every configured topic and keeps them joined until ctx is
// cancelled, the subscriber terminates, or the socket does. Joins are
// accepted while disconnected; the join frames queue until the transport is
// back, so Run never waits for a connection.
func (k *Keeper) Run(ctx context.Context) error {
	if err := k.joinAll(); err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-k.sock.Done():
			return nil
		case <-k.sub.Done():
			return nil
		case <-k.sub.lost:
			k.logger.Info("connection lost, rejoining topics", "topics", len(k.topics))
			if err := k.joinAll(); err != nil {
				return err
			}
		}
	}
}

// joinAll joins every configured topic, skipping ones still held. Loss
// signals can coalesce, so a topic may already have been rejoined by an
// earlier pass.
func (k *Keeper) joinAll() error {
	for _, topic := range k.topics {
		_, err := k.sock.Join(k.sub, topic.Name, topic.Params)
		if err != nil {
			var already *phxsocket.AlreadyJoinedError
			if errors.As(err, &already) {
				continue
			}
			if errors.Is(err, phxsocket.ErrSocketClosed) {
				// Run's next select observes the terminated socket.
				return nil
			}
			return err
		}
		k.logger.Info("joined topic", "topic", topic.Name)
	}
	return nil
}

// relaySubscriber forwards deliveries to the real subscriber and flags
// connection-loss messages for the Keeper. The flag channel holds one
// pending signal; a rejoin pass covers every topic, so coalescing is safe.
type relaySubscriber struct {
	inner phxsocket.Subscriber
	lost  chan struct{}
}

func (s *relaySubscriber) Deliver(msg *phxsocket.Message) {
	s.inner.Deliver(msg)
	if msg.Event == phxsocket.EventClose || msg.Event == phxsocket.EventError {
		select {
		case s.lost <- struct{}{}:
		default:
		}
	}
}

func (s *relaySubscriber) Done() <-chan struct{} { return s.inner.Done() }
