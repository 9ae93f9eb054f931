package auth

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/suite"

	"github.com/mcoot/typerace/internal/dependencies/mocks"
	"github.com/mcoot/typerace/internal/model"
	"github.com/mcoot/typerace/internal/storage/memory"
	"github.com/mcoot/typerace/internal/testutil"
)

type ServiceSuite struct {
	suite.Suite
	storage *memory.Storage
	clock   *clockwork.FakeClock
	random  *mocks.MockRandom
	service *Service
	ctx     context.Context
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

func (s *ServiceSuite) SetupTest() {
	s.storage = memory.New()
	s.clock = mocks.NewMockClock(time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC))
	s.random = mocks.NewMockRandom()
	s.random.QueueToken("t1", "t2", "t3", "t4")
	s.service = New(s.storage, s.clock, s.random, testutil.NopLogger(), Config{
		BootstrapAdmins: []string{" Root@Example.com "},
	})
	s.ctx = context.Background()
}

func (s *ServiceSuite) root() model.Identity {
	return model.Identity{Email: "root@example.com", IsAdmin: true}
}

// SignIn tests

func (s *ServiceSuite) TestSignInSucceeds() {
	session, err := s.service.SignIn(s.ctx, "Alice@Example.com", "")
	s.Require().NoError(err)

	s.Equal("sess_t1", session.Token)
	s.Equal("alice@example.com", session.Identity.Email)
	s.Equal("alice", session.Identity.DisplayName)
	s.False(session.Identity.IsAdmin)
	s.Equal(s.clock.Now().Add(24*time.Hour), session.ExpiresAt)
}

func (s *ServiceSuite) TestSignInKeepsDisplayName() {
	session, err := s.service.SignIn(s.ctx, "alice@example.com", "Captain Alice")
	s.Require().NoError(err)
	s.Equal("Captain Alice", session.Identity.DisplayName)
}

func (s *ServiceSuite) TestSignInRejectsBadEmail() {
	for _, email := range []string{"", "alice", "Alice <alice@example.com>"} {
		_, err := s.service.SignIn(s.ctx, email, "")
		s.ErrorIs(err, ErrInvalidIdentity, email)
	}
}

func (s *ServiceSuite) TestSignInBootstrapAdmin() {
	session, err := s.service.SignIn(s.ctx, "root@example.com", "")
	s.Require().NoError(err)
	s.True(session.Identity.IsAdmin)
}

func (s *ServiceSuite) TestSignInStoredAdmin() {
	s.Require().NoError(s.storage.SaveAdmin(s.ctx, &model.Admin{Email: "bob@example.com"}))

	session, err := s.service.SignIn(s.ctx, "bob@example.com", "")
	s.Require().NoError(err)
	s.True(session.Identity.IsAdmin)
}

func (s *ServiceSuite) TestSignInStoreUnavailable() {
	s.storage.SetUnavailable(true)

	_, err := s.service.SignIn(s.ctx, "bob@example.com", "")
	s.ErrorIs(err, model.ErrStoreUnavailable)
}

// Session tests

func (s *ServiceSuite) TestValidateSession() {
	session, _ := s.service.SignIn(s.ctx, "alice@example.com", "")

	validated, err := s.service.ValidateSession(session.Token)
	s.Require().NoError(err)
	s.Equal(session.Identity, validated.Identity)
}

func (s *ServiceSuite) TestValidateSessionFailsWithInvalidToken() {
	_, err := s.service.ValidateSession("invalid_token")
	s.ErrorIs(err, ErrInvalidSession)
}

func (s *ServiceSuite) TestValidateSessionFailsWhenExpired() {
	session, _ := s.service.SignIn(s.ctx, "alice@example.com", "")

	s.clock.Advance(25 * time.Hour)

	_, err := s.service.ValidateSession(session.Token)
	s.ErrorIs(err, ErrInvalidSession)
}

func (s *ServiceSuite) TestInvalidateSession() {
	session, _ := s.service.SignIn(s.ctx, "alice@example.com", "")

	s.service.InvalidateSession(session.Token)
	s.service.InvalidateSession("unknown_token")

	_, err := s.service.ValidateSession(session.Token)
	s.ErrorIs(err, ErrInvalidSession)
}

func (s *ServiceSuite) TestIdentityRereadsAdminRole() {
	session, _ := s.service.SignIn(s.ctx, "bob@example.com", "")
	s.False(session.Identity.IsAdmin)

	_, err := s.service.AddAdmin(s.ctx, s.root(), "bob@example.com")
	s.Require().NoError(err)

	identity, err := s.service.Identity(s.ctx, session.Token)
	s.Require().NoError(err)
	s.True(identity.IsAdmin)

	s.Require().NoError(s.service.RemoveAdmin(s.ctx, s.root(), "bob@example.com"))
	identity, err = s.service.Identity(s.ctx, session.Token)
	s.Require().NoError(err)
	s.False(identity.IsAdmin)
}

func (s *ServiceSuite) TestCleanExpiredSessions() {
	expired, _ := s.service.SignIn(s.ctx, "alice@example.com", "")
	s.clock.Advance(25 * time.Hour)
	fresh, _ := s.service.SignIn(s.ctx, "bob@example.com", "")

	s.service.CleanExpiredSessions()

	_, err := s.service.ValidateSession(expired.Token)
	s.ErrorIs(err, ErrInvalidSession)
	_, err = s.service.ValidateSession(fresh.Token)
	s.NoError(err)
}

func (s *ServiceSuite) sessionCount() int {
	s.service.mu.Lock()
	defer s.service.mu.Unlock()
	return len(s.service.sessions)
}

func (s *ServiceSuite) TestRunSweepsOnTicker() {
	_, err := s.service.SignIn(s.ctx, "alice@example.com", "")
	s.Require().NoError(err)

	ctx, cancel := context.WithCancel(s.ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.service.Run(ctx, 10*time.Minute)
	}()

	s.Require().NoError(s.clock.BlockUntilContext(ctx, 1))
	s.clock.Advance(10 * time.Minute)
	s.Equal(1, s.sessionCount())

	s.clock.Advance(25 * time.Hour)
	s.Eventually(func() bool {
		return s.sessionCount() == 0
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		s.Fail("session sweeper did not stop")
	}
}

// Admin management tests

func (s *ServiceSuite) TestBootstrapSavesAdmins() {
	s.Require().NoError(s.service.Bootstrap(s.ctx))
	s.Require().NoError(s.service.Bootstrap(s.ctx))

	admins, err := s.service.ListAdmins(s.ctx, s.root())
	s.Require().NoError(err)
	s.Require().Len(admins, 1)
	s.Equal("root@example.com", admins[0].Email)
}

func (s *ServiceSuite) TestAddAndListAdmins() {
	_, err := s.service.AddAdmin(s.ctx, s.root(), " Bob@Example.com")
	s.Require().NoError(err)
	s.clock.Advance(time.Minute)
	_, err = s.service.AddAdmin(s.ctx, s.root(), "carol@example.com")
	s.Require().NoError(err)

	admins, err := s.service.ListAdmins(s.ctx, s.root())
	s.Require().NoError(err)
	s.Require().Len(admins, 2)
	s.Equal("bob@example.com", admins[0].Email)
	s.Equal("carol@example.com", admins[1].Email)
}

func (s *ServiceSuite) TestAdminManagementRequiresAdmin() {
	racer := model.Identity{Email: "racer@example.com"}

	_, err := s.service.AddAdmin(s.ctx, racer, "bob@example.com")
	s.ErrorIs(err, model.ErrNotAdmin)
	_, err = s.service.ListAdmins(s.ctx, racer)
	s.ErrorIs(err, model.ErrNotAdmin)
	s.ErrorIs(s.service.RemoveAdmin(s.ctx, racer, "bob@example.com"), model.ErrNotAdmin)
}

func (s *ServiceSuite) TestAddAdminRejectsBadEmail() {
	_, err := s.service.AddAdmin(s.ctx, s.root(), "not an email")
	s.ErrorIs(err, ErrInvalidIdentity)
}

func (s *ServiceSuite) TestRemoveAdmin() {
	_, _ = s.service.AddAdmin(s.ctx, s.root(), "bob@example.com")

	s.Require().NoError(s.service.RemoveAdmin(s.ctx, s.root(), "bob@example.com"))
	ok, err := s.storage.IsAdmin(s.ctx, "bob@example.com")
	s.Require().NoError(err)
	s.False(ok)

	s.ErrorIs(s.service.RemoveAdmin(s.ctx, s.root(), "bob@example.com"), model.ErrAdminNotFound)
}

func (s *ServiceSuite) TestBootstrapAdminIsProtected() {
	s.Require().NoError(s.service.Bootstrap(s.ctx))

	err := s.service.RemoveAdmin(s.ctx, s.root(), "ROOT@example.com")
	s.ErrorIs(err, ErrProtectedAdmin)
}
