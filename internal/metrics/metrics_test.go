package metrics

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcoot/typerace/internal/model"
	"github.com/mcoot/typerace/internal/storage/memory"
)

func TestInstrumentCountsRequests(t *testing.T) {
	m := New()
	handler := m.Instrument(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	for i := 0; i < 3; i++ {
		handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	}

	assert.Equal(t, 3.0, testutil.ToFloat64(m.httpRequests.WithLabelValues("418", "get")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.httpInFlight))
}

func TestHandlerExposesMetrics(t *testing.T) {
	m := New()
	done := m.ViewOpened()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, "typerace_live_views_open 1"), body)
	assert.Contains(t, body, "go_goroutines")

	done()
	assert.Equal(t, 0.0, testutil.ToFloat64(m.liveViews))
}

func TestInstrumentStorage(t *testing.T) {
	m := New()
	store := m.InstrumentStorage(memory.New())
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	session := &model.Session{ID: "s1", Status: model.SessionStatusWaiting, RaceText: "go", CreatedAt: now}
	require.NoError(t, store.CreateSession(ctx, session))
	_, err := store.GetSession(ctx, "missing")
	require.Error(t, err)

	_, err = store.TransitionSession(ctx, "s1", model.Transition{
		From: model.SessionStatusWaiting, To: model.SessionStatusInProgress, StartedAt: &now,
	})
	require.NoError(t, err)

	require.NoError(t, store.InsertParticipant(ctx, &model.Participant{
		ID: "p1", SessionID: "s1", UserEmail: "a@example.com", LaneNumber: 1,
	}))
	_, err = store.UpdateProgress(ctx, "p1", model.ProgressUpdate{Progress: 50, UpdatedAt: now})
	require.NoError(t, err)
	_, err = store.UpdateProgress(ctx, "p1", model.ProgressUpdate{Progress: 100, FinishedAt: &now, UpdatedAt: now})
	require.NoError(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.storeOps.WithLabelValues("create_session", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.storeOps.WithLabelValues("get_session", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.transitions.WithLabelValues("in_progress")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.progressWrites.WithLabelValues("false")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.progressWrites.WithLabelValues("true")))
}

func TestInstrumentStorageSubscriptions(t *testing.T) {
	m := New()
	backend := memory.New()
	store := m.InstrumentStorage(backend)
	ctx := context.Background()
	require.NoError(t, backend.CreateSession(ctx, &model.Session{ID: "s1", Status: model.SessionStatusWaiting}))

	sub, err := store.Subscribe(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.subscriptionsNow))

	require.NoError(t, sub.Close())
	require.NoError(t, sub.Close())
	assert.Equal(t, 0.0, testutil.ToFloat64(m.subscriptionsNow))

	backend.SetUnavailable(true)
	_, err = store.Subscribe(ctx, "s1")
	require.Error(t, err)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.subscriptions.WithLabelValues("error")))
}
