package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/lib/pq"

	"github.com/mcoot/typerace/internal/model"
	"github.com/mcoot/typerace/internal/storage"
)

// notifyChannel is the NOTIFY channel written by typerace_notify_change()
const notifyChannel = "typerace_changes"

// changeNotification is the payload built by the notify trigger
type changeNotification struct {
	Table model.Table     `json:"table"`
	Op    model.ChangeOp  `json:"op"`
	Row   json.RawMessage `json:"row"`
}

// sessionRow mirrors a race_sessions row as sent by the notify trigger,
// which leaves out race_text
type sessionRow struct {
	ID          string     `json:"id"`
	Status      string     `json:"status"`
	StartedBy   string     `json:"started_by"`
	StartedAt   *time.Time `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at"`
	RaceText    string     `json:"race_text"`
	CreatedAt   time.Time  `json:"created_at"`
}

func (r sessionRow) toModel() *model.Session {
	return &model.Session{
		ID:          model.SessionID(r.ID),
		Status:      model.SessionStatus(r.Status),
		StartedBy:   r.StartedBy,
		StartedAt:   r.StartedAt,
		CompletedAt: r.CompletedAt,
		RaceText:    r.RaceText,
		CreatedAt:   r.CreatedAt,
	}
}

// participantRow mirrors a race_participants row as sent by the notify trigger
type participantRow struct {
	ID         string     `json:"id"`
	SessionID  string     `json:"session_id"`
	UserEmail  string     `json:"user_email"`
	UserID     string     `json:"user_id"`
	ShipID     string     `json:"ship_id"`
	LaneNumber int        `json:"lane_number"`
	Progress   int        `json:"progress"`
	WPM        int        `json:"wpm"`
	Accuracy   int        `json:"accuracy"`
	FinishedAt *time.Time `json:"finished_at"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

func (r participantRow) toModel() *model.Participant {
	return &model.Participant{
		ID:         model.ParticipantID(r.ID),
		SessionID:  model.SessionID(r.SessionID),
		UserEmail:  r.UserEmail,
		UserID:     r.UserID,
		ShipID:     model.ShipID(r.ShipID),
		LaneNumber: r.LaneNumber,
		Progress:   r.Progress,
		WPM:        r.WPM,
		Accuracy:   r.Accuracy,
		FinishedAt: r.FinishedAt,
		CreatedAt:  r.CreatedAt,
		UpdatedAt:  r.UpdatedAt,
	}
}

// decodeNotification turns a NOTIFY payload into a change event
func decodeNotification(payload string, at time.Time) (model.ChangeEvent, error) {
	var n changeNotification
	if err := json.Unmarshal([]byte(payload), &n); err != nil {
		return model.ChangeEvent{}, fmt.Errorf("invalid notification: %w", err)
	}

	event := model.ChangeEvent{Table: n.Table, Op: n.Op, At: at}
	switch n.Table {
	case model.TableSessions:
		var row sessionRow
		if err := json.Unmarshal(n.Row, &row); err != nil {
			return model.ChangeEvent{}, fmt.Errorf("invalid session row: %w", err)
		}
		event.Session = row.toModel()
		event.SessionID = event.Session.ID
	case model.TableParticipants:
		var row participantRow
		if err := json.Unmarshal(n.Row, &row); err != nil {
			return model.ChangeEvent{}, fmt.Errorf("invalid participant row: %w", err)
		}
		event.Participant = row.toModel()
		event.SessionID = event.Participant.SessionID
	default:
		return model.ChangeEvent{}, fmt.Errorf("unexpected table %q", n.Table)
	}
	return event, nil
}

// Subscribe registers a session subscription on the shared listener
func (s *Storage) Subscribe(ctx context.Context, sessionID model.SessionID) (storage.Subscription, error) {
	return s.broker.Subscribe(ctx, sessionID)
}

func (s *Storage) startListener() error {
	s.listener = pq.NewListener(
		s.cfg.URL,
		s.cfg.MinReconnectInterval,
		s.cfg.MaxReconnectInterval,
		s.onListenerEvent,
	)
	if err := s.listener.Listen(notifyChannel); err != nil {
		_ = s.listener.Close()
		return fmt.Errorf("failed to listen to channel: %w", err)
	}

	s.logger.Info("listening for changes", slog.String("channel", notifyChannel))

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.listen(ctx)
	return nil
}

// onListenerEvent tracks the LISTEN connection's health. Changes made while
// it is down are never delivered, so subscribers are failed and must
// resubscribe and reload once it is back.
func (s *Storage) onListenerEvent(ev pq.ListenerEventType, err error) {
	switch ev {
	case pq.ListenerEventDisconnected:
		s.logger.Warn("change listener disconnected", slog.Any("error", err))
		s.broker.SetHealthy(false)
	case pq.ListenerEventReconnected:
		s.logger.Info("change listener reconnected")
		s.broker.SetHealthy(true)
	case pq.ListenerEventConnectionAttemptFailed:
		s.logger.Error("change listener connection attempt failed", slog.Any("error", err))
	}
}

func (s *Storage) listen(ctx context.Context) {
	defer close(s.done)

	pingTicker := s.clock.NewTicker(s.cfg.PingInterval)
	defer pingTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case note, ok := <-s.listener.Notify:
			if !ok {
				return
			}
			if note == nil {
				// nil notification means the connection was re-established
				continue
			}
			event, err := decodeNotification(note.Extra, s.clock.Now())
			if err != nil {
				s.logger.Error("failed to decode change notification", slog.Any("error", err))
				continue
			}
			s.broker.Publish(event)
		case <-pingTicker.Chan():
			if err := s.listener.Ping(); err != nil {
				s.logger.Error("failed to ping listener", slog.Any("error", err))
			}
		}
	}
}
