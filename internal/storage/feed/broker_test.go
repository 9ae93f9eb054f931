package feed

import (
	"context"
	"testing"
	"time"

	"github.com/mcoot/typerace/internal/model"
	"github.com/mcoot/typerace/internal/testutil"
	"github.com/stretchr/testify/suite"
)

type BrokerSuite struct {
	suite.Suite
	broker *Broker
	ctx    context.Context
}

func TestBrokerSuite(t *testing.T) {
	suite.Run(t, new(BrokerSuite))
}

func (s *BrokerSuite) SetupTest() {
	s.broker = NewBroker(testutil.NopLogger())
	s.ctx = context.Background()
}

func (s *BrokerSuite) TestSubscribeReportsSubscribed() {
	sub, err := s.broker.Subscribe(s.ctx, "session-1")
	s.Require().NoError(err)
	defer sub.Close()

	s.Equal(model.FeedSubscribed, <-sub.Status())
	s.Equal(1, s.broker.SubscriberCount("session-1"))
}

func (s *BrokerSuite) TestPublishDeliversOnlyToSession() {
	sub1, _ := s.broker.Subscribe(s.ctx, "session-1")
	sub2, _ := s.broker.Subscribe(s.ctx, "session-2")
	defer sub1.Close()
	defer sub2.Close()

	s.broker.Publish(model.ChangeEvent{
		Table:     model.TableParticipants,
		Op:        model.ChangeInsert,
		SessionID: "session-1",
		At:        time.Now(),
	})

	select {
	case event := <-sub1.Events():
		s.Equal(model.SessionID("session-1"), event.SessionID)
	default:
		s.Fail("expected event for session-1")
	}

	select {
	case <-sub2.Events():
		s.Fail("session-2 should not receive session-1 events")
	default:
	}
}

func (s *BrokerSuite) TestUnhealthyFailsSubscriptions() {
	sub, _ := s.broker.Subscribe(s.ctx, "session-1")
	s.Equal(model.FeedSubscribed, <-sub.Status())

	s.broker.SetHealthy(false)

	s.Equal(model.FeedChannelError, <-sub.Status())
	_, open := <-sub.Status()
	s.False(open)
	s.Equal(0, s.broker.SubscriberCount("session-1"))
}

func (s *BrokerSuite) TestSubscribeWhileUnhealthy() {
	s.broker.SetHealthy(false)

	sub, err := s.broker.Subscribe(s.ctx, "session-1")
	s.Require().NoError(err)

	s.Equal(model.FeedChannelError, <-sub.Status())
	s.Equal(0, s.broker.SubscriberCount("session-1"))

	s.broker.SetHealthy(true)
	sub, err = s.broker.Subscribe(s.ctx, "session-1")
	s.Require().NoError(err)
	s.Equal(model.FeedSubscribed, <-sub.Status())
}

func (s *BrokerSuite) TestFailWithStatus() {
	sub, _ := s.broker.Subscribe(s.ctx, "session-1")
	<-sub.Status()

	s.broker.Fail("session-1", model.FeedTimedOut)

	s.Equal(model.FeedTimedOut, <-sub.Status())
}

func (s *BrokerSuite) TestCloseIsIdempotent() {
	sub, _ := s.broker.Subscribe(s.ctx, "session-1")

	s.NoError(sub.Close())
	s.NoError(sub.Close())
	s.Equal(0, s.broker.SubscriberCount("session-1"))

	// Publishing after close must not panic
	s.broker.Publish(model.ChangeEvent{SessionID: "session-1"})
}

func (s *BrokerSuite) TestFullBufferFailsSubscriber() {
	sub, _ := s.broker.Subscribe(s.ctx, "session-1")
	<-sub.Status()

	for i := 0; i < eventBufferSize+1; i++ {
		s.broker.Publish(model.ChangeEvent{SessionID: "session-1"})
	}

	s.Equal(model.FeedChannelError, <-sub.Status())
	s.Equal(0, s.broker.SubscriberCount("session-1"))
}

func (s *BrokerSuite) TestCanceledContext() {
	ctx, cancel := context.WithCancel(s.ctx)
	cancel()

	_, err := s.broker.Subscribe(ctx, "session-1")
	s.ErrorIs(err, context.Canceled)
}
