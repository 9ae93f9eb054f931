package redis

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/mcoot/typerace/internal/model"
	"github.com/mcoot/typerace/internal/storage"
)

const (
	// Buffer size for pending events per subscription
	eventBufferSize = 256

	// Buffer size for pending status notifications per subscription
	statusBufferSize = 4
)

// Subscribe opens a pub/sub subscription on the session's feed channel.
// The returned subscription reports model.FeedSubscribed once Redis has
// confirmed the subscription.
func (s *Storage) Subscribe(ctx context.Context, sessionID model.SessionID) (storage.Subscription, error) {
	ps := s.client.Subscribe(ctx, feedChannel(sessionID))

	// Wait for the subscription confirmation so that no change published
	// after this call returns can be missed
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, unavailable(err)
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	sub := &subscription{
		ps:     ps,
		events: make(chan model.ChangeEvent, eventBufferSize),
		status: make(chan model.FeedStatus, statusBufferSize),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	sub.status <- model.FeedSubscribed

	go sub.run(loopCtx)
	return sub, nil
}

// subscription adapts a go-redis PubSub to storage.Subscription
type subscription struct {
	ps        *redis.PubSub
	events    chan model.ChangeEvent
	status    chan model.FeedStatus
	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
}

func (s *subscription) Events() <-chan model.ChangeEvent {
	return s.events
}

func (s *subscription) Status() <-chan model.FeedStatus {
	return s.status
}

func (s *subscription) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.cancel()
		err = s.ps.Close()
		<-s.done
	})
	return err
}

// run owns the event and status channels and closes them on exit
func (s *subscription) run(ctx context.Context) {
	defer close(s.done)
	defer close(s.status)
	defer close(s.events)

	for {
		msg, err := s.ps.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.report(failureStatus(err))
			return
		}

		m, ok := msg.(*redis.Message)
		if !ok {
			continue // Subscription confirmations and pongs
		}

		var event model.ChangeEvent
		if err := json.Unmarshal([]byte(m.Payload), &event); err != nil {
			continue
		}

		select {
		case s.events <- event:
		case <-ctx.Done():
			return
		default:
			// Consumer fell behind; fail so it resubscribes and reloads
			s.report(model.FeedChannelError)
			return
		}
	}
}

func (s *subscription) report(status model.FeedStatus) {
	select {
	case s.status <- status:
	default:
	}
}

// failureStatus classifies a receive error
func failureStatus(err error) model.FeedStatus {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return model.FeedTimedOut
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return model.FeedTimedOut
	}
	return model.FeedChannelError
}
