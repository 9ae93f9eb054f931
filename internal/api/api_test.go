package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/mcoot/typerace/internal/api/apierr"
	"github.com/mcoot/typerace/internal/api/response"
	"github.com/mcoot/typerace/internal/config"
	"github.com/mcoot/typerace/internal/factory"
	"github.com/mcoot/typerace/internal/model"
)

const (
	identityHeader = "X-Auth-Request-Email"
	adminEmail     = "admin@example.com"
)

type APISuite struct {
	suite.Suite
	app     *factory.TestApp
	handler http.Handler
	ctx     context.Context
	tokens  int
}

func TestAPISuite(t *testing.T) {
	suite.Run(t, new(APISuite))
}

func (s *APISuite) SetupTest() {
	s.setup(factory.TestConfig(), 0)
}

func (s *APISuite) setup(cfg factory.Config, attemptsPerMinute int) {
	s.ctx = context.Background()
	s.tokens = 0
	cfg.AuthConfig.BootstrapAdmins = []string{adminEmail}

	app, err := factory.NewTestApp(s.ctx, cfg)
	s.Require().NoError(err)
	s.app = app
	s.handler = app.Handler(factory.HandlerConfig{
		IdentityHeader:         identityHeader,
		CORSOrigins:            []string{"https://race.example.com"},
		EntryAttemptsPerMinute: attemptsPerMinute,
	})
}

func (s *APISuite) request(method, path string, body any, token string) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		s.Require().NoError(json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	s.handler.ServeHTTP(rr, req)
	return rr
}

func (s *APISuite) decode(rr *httptest.ResponseRecorder, v any) {
	s.Require().NoError(json.NewDecoder(rr.Body).Decode(v), rr.Body.String())
}

func (s *APISuite) requireError(rr *httptest.ResponseRecorder, status int, code string) {
	s.Require().Equal(status, rr.Code, rr.Body.String())
	var body apierr.ErrorResponse
	s.decode(rr, &body)
	s.Equal(code, body.Error.Code)
}

// signIn signs an email in through the identity header and returns the
// session token
func (s *APISuite) signIn(email string) string {
	s.tokens++
	s.app.MockRandom.QueueToken(fmt.Sprintf("token%d", s.tokens))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/players/signin", nil)
	req.Header.Set(identityHeader, email)
	rr := httptest.NewRecorder()
	s.handler.ServeHTTP(rr, req)
	s.Require().Equal(http.StatusOK, rr.Code, rr.Body.String())

	var auth response.AuthResponse
	s.decode(rr, &auth)
	return auth.SessionToken
}

func (s *APISuite) enter(token, userID string) response.Entry {
	rr := s.request(http.MethodPost, "/api/v1/arena/enter", map[string]string{
		"user_id": userID,
		"token":   "anything",
		"ship_id": "pinisi",
	}, token)
	s.Require().Equal(http.StatusOK, rr.Code, rr.Body.String())
	var entry response.Entry
	s.decode(rr, &entry)
	return entry
}

// fillArena seats a full race and returns the racers' tokens and the race
func (s *APISuite) fillArena() ([]string, response.Entry) {
	var tokens []string
	var entry response.Entry
	for i := 1; i <= model.LanePoolSize; i++ {
		token := s.signIn(fmt.Sprintf("racer%d@example.com", i))
		entry = s.enter(token, fmt.Sprintf("racer%d", i))
		s.Equal(i, entry.Participant.Lane)
		tokens = append(tokens, token)
	}
	return tokens, entry
}

func (s *APISuite) TestHealth() {
	rr := s.request(http.MethodGet, "/api/v1/health", nil, "")
	s.Equal(http.StatusOK, rr.Code)
	s.JSONEq(`{"status":"ok"}`, rr.Body.String())
}

func (s *APISuite) TestSignInRequiresIdentityHeader() {
	rr := s.request(http.MethodPost, "/api/v1/players/signin", nil, "")
	s.requireError(rr, http.StatusUnauthorized, apierr.CodeUnauthorized)
}

func (s *APISuite) TestSignInRejectsMalformedIdentity() {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/players/signin", nil)
	req.Header.Set(identityHeader, "not-an-email")
	rr := httptest.NewRecorder()
	s.handler.ServeHTTP(rr, req)
	s.requireError(rr, http.StatusUnauthorized, apierr.CodeUnauthorized)
}

func (s *APISuite) TestSignInAndMe() {
	s.app.MockRandom.QueueToken("abc")
	req := httptest.NewRequest(http.MethodPost, "/api/v1/players/signin",
		strings.NewReader(`{"display_name":"Speedy"}`))
	req.Header.Set(identityHeader, "Racer@Example.com")
	rr := httptest.NewRecorder()
	s.handler.ServeHTTP(rr, req)
	s.Require().Equal(http.StatusOK, rr.Code, rr.Body.String())

	var auth response.AuthResponse
	s.decode(rr, &auth)
	s.Equal("sess_abc", auth.SessionToken)
	s.Equal("racer@example.com", auth.Identity.Email)
	s.Equal("Speedy", auth.Identity.DisplayName)
	s.False(auth.Identity.IsAdmin)

	cookies := rr.Result().Cookies()
	s.Require().Len(cookies, 1)
	s.Equal("session", cookies[0].Name)
	s.True(cookies[0].HttpOnly)

	// The cookie authenticates as well as the bearer header
	me := httptest.NewRequest(http.MethodGet, "/api/v1/players/me", nil)
	me.AddCookie(cookies[0])
	rr = httptest.NewRecorder()
	s.handler.ServeHTTP(rr, me)
	s.Require().Equal(http.StatusOK, rr.Code)
	var identity response.Identity
	s.decode(rr, &identity)
	s.Equal("racer@example.com", identity.Email)
}

func (s *APISuite) TestMeRequiresSession() {
	s.requireError(s.request(http.MethodGet, "/api/v1/players/me", nil, ""), http.StatusUnauthorized, apierr.CodeUnauthorized)
	s.requireError(s.request(http.MethodGet, "/api/v1/players/me", nil, "bogus"), http.StatusUnauthorized, apierr.CodeUnauthorized)
}

func (s *APISuite) TestSignOut() {
	token := s.signIn("racer@example.com")

	rr := s.request(http.MethodPost, "/api/v1/players/signout", nil, token)
	s.Equal(http.StatusNoContent, rr.Code)

	s.requireError(s.request(http.MethodGet, "/api/v1/players/me", nil, token), http.StatusUnauthorized, apierr.CodeUnauthorized)
}

func (s *APISuite) TestListShips() {
	rr := s.request(http.MethodGet, "/api/v1/ships", nil, "")
	s.Require().Equal(http.StatusOK, rr.Code)

	var ships []response.Ship
	s.decode(rr, &ships)
	s.NotEmpty(ships)
	ids := make([]string, len(ships))
	for i, ship := range ships {
		ids[i] = ship.ID
	}
	s.Contains(ids, "pinisi")
}

func (s *APISuite) TestEnterValidatesBody() {
	token := s.signIn("racer@example.com")

	rr := s.request(http.MethodPost, "/api/v1/arena/enter", map[string]string{"ship_id": "pinisi"}, token)
	s.requireError(rr, http.StatusBadRequest, apierr.CodeInvalidRequest)

	rr = s.request(http.MethodPost, "/api/v1/arena/enter", map[string]string{"user_id": "racer"}, token)
	s.requireError(rr, http.StatusBadRequest, apierr.CodeInvalidRequest)

	rr = s.request(http.MethodPost, "/api/v1/arena/enter", map[string]string{"user_id": "racer", "ship_id": "ghost"}, token)
	s.requireError(rr, http.StatusNotFound, apierr.CodeShipNotFound)
}

func (s *APISuite) TestEnterIsIdempotent() {
	token := s.signIn("racer@example.com")

	first := s.enter(token, "racer")
	second := s.enter(token, "racer")

	s.Equal(first.Participant.ID, second.Participant.ID)
	s.Equal(1, second.Participant.Lane)
	s.Equal(string(model.SessionStatusWaiting), second.Session.Status)
}

func (s *APISuite) TestArenaFull() {
	s.fillArena()

	token := s.signIn("late@example.com")
	rr := s.request(http.MethodPost, "/api/v1/arena/enter", map[string]string{
		"user_id": "late", "token": "x", "ship_id": "pinisi",
	}, token)

	// The full race is still waiting, so the late racer finds no seat
	s.requireError(rr, http.StatusConflict, apierr.CodeArenaFull)
}

func (s *APISuite) TestStartRequiresAdmin() {
	tokens, entry := s.fillArena()

	rr := s.request(http.MethodPost, "/api/v1/races/"+entry.Session.ID+"/start", nil, tokens[0])
	s.requireError(rr, http.StatusForbidden, apierr.CodeNotAdmin)
}

func (s *APISuite) TestStartRequiresFullArena() {
	token := s.signIn("racer@example.com")
	entry := s.enter(token, "racer")

	admin := s.signIn(adminEmail)
	rr := s.request(http.MethodPost, "/api/v1/races/"+entry.Session.ID+"/start", nil, admin)
	s.requireError(rr, http.StatusConflict, apierr.CodeNotEnoughRacers)
}

func (s *APISuite) TestKeystrokesBeforeStart() {
	token := s.signIn("racer@example.com")
	entry := s.enter(token, "racer")

	rr := s.request(http.MethodPost, "/api/v1/races/"+entry.Session.ID+"/keystrokes", map[string]string{"keys": "T"}, token)
	s.requireError(rr, http.StatusConflict, apierr.CodeRaceNotInProgress)
}

func (s *APISuite) TestFullRace() {
	tokens, entry := s.fillArena()
	raceID := entry.Session.ID
	text := entry.Session.RaceText

	admin := s.signIn(adminEmail)
	rr := s.request(http.MethodPost, "/api/v1/races/"+raceID+"/start", nil, admin)
	s.Require().Equal(http.StatusOK, rr.Code, rr.Body.String())
	var session response.Session
	s.decode(rr, &session)
	s.Equal(string(model.SessionStatusInProgress), session.Status)
	s.Equal(adminEmail, session.StartedBy)

	// Starting twice is an invalid transition
	rr = s.request(http.MethodPost, "/api/v1/races/"+raceID+"/start", nil, admin)
	s.requireError(rr, http.StatusConflict, apierr.CodeInvalidTransition)

	// Outsiders cannot type in the race
	rr = s.request(http.MethodPost, "/api/v1/races/"+raceID+"/keystrokes", map[string]string{"keys": "T"}, admin)
	s.requireError(rr, http.StatusForbidden, apierr.CodeNotParticipant)

	// A wrong key is counted but does not advance
	rr = s.request(http.MethodPost, "/api/v1/races/"+raceID+"/keystrokes", map[string]string{"keys": "x"}, tokens[0])
	s.Require().Equal(http.StatusOK, rr.Code, rr.Body.String())
	var progress response.Progress
	s.decode(rr, &progress)
	s.Equal(0, progress.Index)
	s.Equal(1, progress.Errors)

	// Racers finish in reverse lane order
	for i := len(tokens) - 1; i >= 0; i-- {
		rr = s.request(http.MethodPost, "/api/v1/races/"+raceID+"/keystrokes", map[string]string{"keys": text}, tokens[i])
		s.Require().Equal(http.StatusOK, rr.Code, rr.Body.String())
		progress = response.Progress{}
		s.decode(rr, &progress)
		s.True(progress.Finished)
		s.Equal(100, progress.Progress)
		s.app.MockClock.Advance(1)
	}
	// One miss in the whole passage
	s.Equal(99, progress.Accuracy)

	rr = s.request(http.MethodGet, "/api/v1/races/"+raceID, nil, tokens[0])
	s.Require().Equal(http.StatusOK, rr.Code)
	var race response.Race
	s.decode(rr, &race)
	s.Equal(string(model.SessionStatusCompleted), race.Session.Status)
	s.NotNil(race.Session.CompletedAt)
	s.Require().Len(race.Standings, model.LanePoolSize)
	for i, standing := range race.Standings {
		s.Equal(i+1, standing.Position)
		s.Equal(model.LanePoolSize-i, standing.Lane)
		s.Require().NotNil(standing.Ship)
		s.Equal("Pinisi", standing.Ship.Name)
	}

	// The race is over
	rr = s.request(http.MethodPost, "/api/v1/races/"+raceID+"/keystrokes", map[string]string{"keys": "T"}, tokens[0])
	s.requireError(rr, http.StatusConflict, apierr.CodeRaceNotInProgress)
}

func (s *APISuite) TestKeystrokesAfterTimeout() {
	tokens, entry := s.fillArena()
	raceID := entry.Session.ID
	text := entry.Session.RaceText

	rr := s.request(http.MethodPost, "/api/v1/races/"+raceID+"/start", nil, s.signIn(adminEmail))
	s.Require().Equal(http.StatusOK, rr.Code, rr.Body.String())

	rr = s.request(http.MethodPost, "/api/v1/races/"+raceID+"/keystrokes", map[string]string{"keys": text[:1]}, tokens[0])
	s.Require().Equal(http.StatusOK, rr.Code, rr.Body.String())

	s.app.MockClock.Advance(11 * time.Minute)
	completed, err := s.app.Arena.Director().SweepExpired(s.ctx)
	s.Require().NoError(err)
	s.Equal(1, completed)

	rr = s.request(http.MethodPost, "/api/v1/races/"+raceID+"/keystrokes", map[string]string{"keys": text[1:]}, tokens[0])
	s.requireError(rr, http.StatusConflict, apierr.CodeRaceNotInProgress)

	rr = s.request(http.MethodGet, "/api/v1/races/"+raceID, nil, tokens[0])
	s.Require().Equal(http.StatusOK, rr.Code)
	var race response.Race
	s.decode(rr, &race)
	s.Equal(string(model.SessionStatusCompleted), race.Session.Status)
	for _, standing := range race.Standings {
		s.Nil(standing.FinishedAt)
		s.Less(standing.Progress, 100)
	}
}

func (s *APISuite) TestGetUnknownRace() {
	token := s.signIn("racer@example.com")
	rr := s.request(http.MethodGet, "/api/v1/races/missing", nil, token)
	s.requireError(rr, http.StatusNotFound, apierr.CodeSessionNotFound)
}

func (s *APISuite) TestStoreUnavailable() {
	token := s.signIn("racer@example.com")
	s.app.MemoryStorage.SetUnavailable(true)

	rr := s.request(http.MethodPost, "/api/v1/arena/enter", map[string]string{
		"user_id": "racer", "token": "x", "ship_id": "pinisi",
	}, token)
	s.requireError(rr, http.StatusServiceUnavailable, apierr.CodeStoreUnavailable)
}

func (s *APISuite) TestAdminManagement() {
	admin := s.signIn(adminEmail)
	racer := s.signIn("racer@example.com")

	rr := s.request(http.MethodGet, "/api/v1/admin/admins", nil, racer)
	s.requireError(rr, http.StatusForbidden, apierr.CodeNotAdmin)

	rr = s.request(http.MethodPost, "/api/v1/admin/admins", map[string]string{"email": "racer@example.com"}, admin)
	s.Require().Equal(http.StatusCreated, rr.Code, rr.Body.String())

	// The role applies to the existing session straight away
	rr = s.request(http.MethodGet, "/api/v1/admin/admins", nil, racer)
	s.Require().Equal(http.StatusOK, rr.Code)
	var admins []response.Admin
	s.decode(rr, &admins)
	s.Len(admins, 2)

	rr = s.request(http.MethodDelete, "/api/v1/admin/admins/"+adminEmail, nil, racer)
	s.requireError(rr, http.StatusForbidden, apierr.CodeProtectedAdmin)

	rr = s.request(http.MethodDelete, "/api/v1/admin/admins/racer@example.com", nil, admin)
	s.Equal(http.StatusNoContent, rr.Code)

	rr = s.request(http.MethodGet, "/api/v1/admin/admins", nil, racer)
	s.requireError(rr, http.StatusForbidden, apierr.CodeNotAdmin)
}

func (s *APISuite) TestTokensNeedRegistryGate() {
	admin := s.signIn(adminEmail)
	rr := s.request(http.MethodGet, "/api/v1/admin/tokens", nil, admin)
	s.requireError(rr, http.StatusNotFound, apierr.CodeNotFound)
}

func (s *APISuite) TestRegistryGate() {
	cfg := factory.TestConfig()
	cfg.EntryGate = config.GateRegistry
	s.setup(cfg, 0)

	admin := s.signIn(adminEmail)
	racer := s.signIn("racer@example.com")

	rr := s.request(http.MethodPost, "/api/v1/admin/tokens", map[string]string{"user_id": "racer", "token": "s3cret"}, racer)
	s.requireError(rr, http.StatusForbidden, apierr.CodeNotAdmin)

	rr = s.request(http.MethodPost, "/api/v1/admin/tokens", map[string]string{"user_id": "racer", "token": "s3cret"}, admin)
	s.Require().Equal(http.StatusCreated, rr.Code, rr.Body.String())
	var issued response.EntryToken
	s.decode(rr, &issued)
	s.Equal("s3cret", issued.Token)
	s.True(issued.IsActive)

	rr = s.request(http.MethodGet, "/api/v1/admin/tokens", nil, admin)
	s.Require().Equal(http.StatusOK, rr.Code)
	var listed []response.EntryToken
	s.decode(rr, &listed)
	s.Require().Len(listed, 1)
	s.Empty(listed[0].Token)

	enter := func(token string) *httptest.ResponseRecorder {
		return s.request(http.MethodPost, "/api/v1/arena/enter", map[string]string{
			"user_id": "racer", "token": token, "ship_id": "pinisi",
		}, racer)
	}
	s.requireError(enter("wrong"), http.StatusForbidden, apierr.CodeInvalidToken)

	rr = s.request(http.MethodPost, "/api/v1/admin/tokens/"+issued.ID+"/toggle", nil, admin)
	s.Require().Equal(http.StatusOK, rr.Code)
	s.requireError(enter("s3cret"), http.StatusForbidden, apierr.CodeInvalidToken)

	rr = s.request(http.MethodPost, "/api/v1/admin/tokens/"+issued.ID+"/toggle", nil, admin)
	s.Require().Equal(http.StatusOK, rr.Code)
	s.Equal(http.StatusOK, enter("s3cret").Code)

	rr = s.request(http.MethodDelete, "/api/v1/admin/tokens/"+issued.ID, nil, admin)
	s.Equal(http.StatusNoContent, rr.Code)
	rr = s.request(http.MethodDelete, "/api/v1/admin/tokens/"+issued.ID, nil, admin)
	s.requireError(rr, http.StatusNotFound, apierr.CodeTokenNotFound)
}

func (s *APISuite) TestEntryRateLimit() {
	s.setup(factory.TestConfig(), 2)
	token := s.signIn("racer@example.com")

	s.enter(token, "racer")
	s.enter(token, "racer")

	rr := s.request(http.MethodPost, "/api/v1/arena/enter", map[string]string{
		"user_id": "racer", "token": "x", "ship_id": "pinisi",
	}, token)
	s.requireError(rr, http.StatusTooManyRequests, apierr.CodeRateLimited)

	// Other players have their own allowance
	other := s.signIn("other@example.com")
	s.enter(other, "other")
}

func (s *APISuite) TestMetricsEndpoint() {
	s.request(http.MethodGet, "/api/v1/health", nil, "")

	rr := s.request(http.MethodGet, "/metrics", nil, "")
	s.Require().Equal(http.StatusOK, rr.Code)
	s.Contains(rr.Body.String(), "typerace_http_requests_total")
}

func (s *APISuite) TestCORSPreflight() {
	req := httptest.NewRequest(http.MethodOptions, "/api/v1/arena/enter", nil)
	req.Header.Set("Origin", "https://race.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	req.Header.Set("Access-Control-Request-Headers", "Authorization")
	rr := httptest.NewRecorder()
	s.handler.ServeHTTP(rr, req)

	s.Equal("https://race.example.com", rr.Header().Get("Access-Control-Allow-Origin"))
	s.Equal("true", rr.Header().Get("Access-Control-Allow-Credentials"))
}

func (s *APISuite) TestRequestIDHeader() {
	rr := s.request(http.MethodGet, "/api/v1/health", nil, "")
	s.NotEmpty(rr.Header().Get("X-Request-ID"))
}
