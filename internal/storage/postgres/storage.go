package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/mcoot/typerace/internal/dependencies/clock"
	"github.com/mcoot/typerace/internal/model"
	"github.com/mcoot/typerace/internal/storage"
	"github.com/mcoot/typerace/internal/storage/feed"
)

//go:embed schema.sql
var schemaSQL string

// Constraint names from schema.sql that identify seat conflicts
const (
	laneConstraint = "race_participants_lane_key"
	seatConstraint = "race_participants_seat_key"
)

// Storage is a Postgres-backed implementation of the storage interface.
// Row changes are announced by triggers through NOTIFY and fanned out to
// subscribers by a single LISTEN connection.
type Storage struct {
	db       *sql.DB
	cfg      Config
	listener *pq.Listener
	broker   *feed.Broker
	clock    clock.Clock
	logger   *slog.Logger

	cancel context.CancelFunc
	done   chan struct{}
}

// New connects to Postgres, applies the schema and starts the change listener
func New(ctx context.Context, cfg Config, clk clock.Clock, logger *slog.Logger) (*Storage, error) {
	db, err := sql.Open("postgres", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, unavailable(err)
	}

	s := &Storage{
		db:     db,
		cfg:    cfg,
		clock:  clk,
		logger: logger.With(slog.String("component", "postgres")),
		broker: feed.NewBroker(logger),
	}

	if err := s.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := s.startListener(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Migrate applies the schema. It is safe to run repeatedly.
func (s *Storage) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// Close stops the change listener and closes the connection pool
func (s *Storage) Close() error {
	if s.cancel != nil {
		s.cancel()
		<-s.done
	}
	var errs []error
	if s.listener != nil {
		errs = append(errs, s.listener.Close())
	}
	s.broker.Close()
	errs = append(errs, s.db.Close())
	return errors.Join(errs...)
}

// Ensure Storage implements the interface
var _ storage.Storage = (*Storage)(nil)

// unavailable marks a transport or server failure
func unavailable(err error) error {
	return fmt.Errorf("%w: %w", model.ErrStoreUnavailable, err)
}

// translateError maps driver errors onto domain errors
func translateError(err error) error {
	if err == nil {
		return nil
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code.Name() {
		case "unique_violation":
			switch pqErr.Constraint {
			case laneConstraint:
				return model.ErrLaneTaken
			case seatConstraint:
				return model.ErrAlreadyJoined
			}
		case "foreign_key_violation":
			return model.ErrSessionNotFound
		}
		return fmt.Errorf("query failed: %w", err)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return unavailable(err)
}

// qualified prefixes each column in a comma separated list with alias
func qualified(alias, columns string) string {
	parts := strings.Split(columns, ",")
	for i, part := range parts {
		parts[i] = alias + "." + strings.TrimSpace(part)
	}
	return strings.Join(parts, ", ")
}

type scanner interface {
	Scan(dest ...any) error
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	u := t.Time.UTC()
	return &u
}

// Session operations

const sessionColumns = `id, status, started_by, started_at, completed_at, race_text, created_at`

func scanSession(row scanner) (*model.Session, error) {
	var (
		session     model.Session
		id, status  string
		startedAt   sql.NullTime
		completedAt sql.NullTime
	)
	if err := row.Scan(&id, &status, &session.StartedBy, &startedAt, &completedAt, &session.RaceText, &session.CreatedAt); err != nil {
		return nil, err
	}
	session.ID = model.SessionID(id)
	session.Status = model.SessionStatus(status)
	session.StartedAt = timePtr(startedAt)
	session.CompletedAt = timePtr(completedAt)
	session.CreatedAt = session.CreatedAt.UTC()
	return &session, nil
}

func (s *Storage) CreateSession(ctx context.Context, session *model.Session) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO race_sessions (`+sessionColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		string(session.ID), string(session.Status), session.StartedBy,
		nullTime(session.StartedAt), nullTime(session.CompletedAt),
		session.RaceText, session.CreatedAt.UTC(),
	)
	return translateError(err)
}

func (s *Storage) GetSession(ctx context.Context, id model.SessionID) (*model.Session, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM race_sessions WHERE id = $1`, string(id))
	session, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrSessionNotFound
	}
	if err != nil {
		return nil, translateError(err)
	}
	return session, nil
}

func (s *Storage) ListSessionsByStatus(ctx context.Context, status model.SessionStatus) ([]*model.Session, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sessionColumns+` FROM race_sessions WHERE status = $1 ORDER BY created_at, id`,
		string(status))
	if err != nil {
		return nil, translateError(err)
	}
	defer rows.Close()

	sessions := []*model.Session{}
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, translateError(err)
		}
		sessions = append(sessions, session)
	}
	return sessions, translateError(rows.Err())
}

func (s *Storage) TransitionSession(ctx context.Context, id model.SessionID, t model.Transition) (*model.Session, error) {
	if err := t.Validate(); err != nil {
		return nil, err
	}

	row := s.db.QueryRowContext(ctx, `
		UPDATE race_sessions SET
			status = $3,
			started_by = COALESCE(NULLIF($4, ''), started_by),
			started_at = COALESCE($5, started_at),
			completed_at = COALESCE($6, completed_at)
		WHERE id = $1 AND status = $2
		RETURNING `+sessionColumns,
		string(id), string(t.From), string(t.To), t.StartedBy,
		nullTime(t.StartedAt), nullTime(t.CompletedAt),
	)
	session, err := scanSession(row)
	if err == nil {
		return session, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, translateError(err)
	}

	// Nothing matched: either the session is missing or its status moved on
	if _, err := s.GetSession(ctx, id); err != nil {
		return nil, err
	}
	return nil, model.ErrInvalidTransition
}

// Participant operations

const participantColumns = `id, session_id, user_email, user_id, ship_id, lane_number,
	progress, wpm, accuracy, finished_at, created_at, updated_at`

func scanParticipant(row scanner) (*model.Participant, error) {
	var (
		p                   model.Participant
		id, sessionID, ship string
		finishedAt          sql.NullTime
	)
	err := row.Scan(&id, &sessionID, &p.UserEmail, &p.UserID, &ship, &p.LaneNumber,
		&p.Progress, &p.WPM, &p.Accuracy, &finishedAt, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	p.ID = model.ParticipantID(id)
	p.SessionID = model.SessionID(sessionID)
	p.ShipID = model.ShipID(ship)
	p.FinishedAt = timePtr(finishedAt)
	p.CreatedAt = p.CreatedAt.UTC()
	p.UpdatedAt = p.UpdatedAt.UTC()
	return &p, nil
}

func (s *Storage) InsertParticipant(ctx context.Context, p *model.Participant) error {
	if !model.IsValidLane(p.LaneNumber) {
		return model.ErrInvalidLane
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO race_participants (`+participantColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		string(p.ID), string(p.SessionID), p.UserEmail, p.UserID, string(p.ShipID), p.LaneNumber,
		p.Progress, p.WPM, p.Accuracy, nullTime(p.FinishedAt), p.CreatedAt.UTC(), p.UpdatedAt.UTC(),
	)
	return translateError(err)
}

func (s *Storage) GetParticipant(ctx context.Context, id model.ParticipantID) (*model.Participant, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+participantColumns+` FROM race_participants WHERE id = $1`, string(id))
	p, err := scanParticipant(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrParticipantNotFound
	}
	if err != nil {
		return nil, translateError(err)
	}
	return p, nil
}

func (s *Storage) FindParticipant(ctx context.Context, sessionID model.SessionID, email string) (*model.Participant, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+participantColumns+` FROM race_participants WHERE session_id = $1 AND user_email = $2`,
		string(sessionID), email)
	p, err := scanParticipant(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrParticipantNotFound
	}
	if err != nil {
		return nil, translateError(err)
	}
	return p, nil
}

func (s *Storage) ListParticipants(ctx context.Context, sessionID model.SessionID) ([]*model.Participant, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+participantColumns+` FROM race_participants WHERE session_id = $1 ORDER BY lane_number`,
		string(sessionID))
	if err != nil {
		return nil, translateError(err)
	}
	defer rows.Close()

	participants := []*model.Participant{}
	for rows.Next() {
		p, err := scanParticipant(rows)
		if err != nil {
			return nil, translateError(err)
		}
		participants = append(participants, p)
	}
	return participants, translateError(rows.Err())
}

func (s *Storage) UpdateProgress(ctx context.Context, id model.ParticipantID, update model.ProgressUpdate) (*model.Participant, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE race_participants p SET
			progress = GREATEST(p.progress, $2),
			wpm = $3,
			accuracy = $4,
			finished_at = COALESCE(p.finished_at, $5),
			updated_at = $6
		FROM race_sessions s
		WHERE p.id = $1 AND s.id = p.session_id AND s.status = 'in_progress'
		RETURNING `+qualified("p", participantColumns),
		string(id), update.Progress, update.WPM, update.Accuracy,
		nullTime(update.FinishedAt), update.UpdatedAt.UTC(),
	)
	p, err := scanParticipant(row)
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, translateError(err)
	}

	// Nothing matched: either the participant is missing or the race is not running
	if _, err := s.GetParticipant(ctx, id); err != nil {
		return nil, err
	}
	return nil, model.ErrRaceNotInProgress
}

// Ship operations

func (s *Storage) SaveShip(ctx context.Context, ship *model.Ship) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO ships (id, name, image_url, description) VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, image_url = EXCLUDED.image_url,
			description = EXCLUDED.description`,
		string(ship.ID), ship.Name, ship.ImageURL, ship.Description)
	return translateError(err)
}

func scanShip(row scanner) (*model.Ship, error) {
	var ship model.Ship
	var id string
	if err := row.Scan(&id, &ship.Name, &ship.ImageURL, &ship.Description); err != nil {
		return nil, err
	}
	ship.ID = model.ShipID(id)
	return &ship, nil
}

func (s *Storage) GetShip(ctx context.Context, id model.ShipID) (*model.Ship, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, image_url, description FROM ships WHERE id = $1`, string(id))
	ship, err := scanShip(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrShipNotFound
	}
	if err != nil {
		return nil, translateError(err)
	}
	return ship, nil
}

func (s *Storage) ListShips(ctx context.Context) ([]*model.Ship, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, image_url, description FROM ships ORDER BY name`)
	if err != nil {
		return nil, translateError(err)
	}
	defer rows.Close()

	ships := []*model.Ship{}
	for rows.Next() {
		ship, err := scanShip(rows)
		if err != nil {
			return nil, translateError(err)
		}
		ships = append(ships, ship)
	}
	return ships, translateError(rows.Err())
}

// Admin operations

func (s *Storage) SaveAdmin(ctx context.Context, admin *model.Admin) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO admins (email, created_at) VALUES ($1, $2) ON CONFLICT (email) DO NOTHING`,
		admin.Email, admin.CreatedAt.UTC())
	return translateError(err)
}

func (s *Storage) IsAdmin(ctx context.Context, email string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM admins WHERE email = $1)`, email).Scan(&exists)
	if err != nil {
		return false, translateError(err)
	}
	return exists, nil
}

func (s *Storage) ListAdmins(ctx context.Context) ([]*model.Admin, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT email, created_at FROM admins ORDER BY created_at`)
	if err != nil {
		return nil, translateError(err)
	}
	defer rows.Close()

	admins := []*model.Admin{}
	for rows.Next() {
		var admin model.Admin
		if err := rows.Scan(&admin.Email, &admin.CreatedAt); err != nil {
			return nil, translateError(err)
		}
		admin.CreatedAt = admin.CreatedAt.UTC()
		admins = append(admins, &admin)
	}
	return admins, translateError(rows.Err())
}

func (s *Storage) DeleteAdmin(ctx context.Context, email string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM admins WHERE email = $1`, email)
	if err != nil {
		return translateError(err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return model.ErrAdminNotFound
	}
	return nil
}

// Entry token operations

const entryTokenColumns = `id, user_id, token_hash, is_active, created_at`

func scanEntryToken(row scanner) (*model.EntryToken, error) {
	var token model.EntryToken
	var id string
	if err := row.Scan(&id, &token.UserID, &token.TokenHash, &token.IsActive, &token.CreatedAt); err != nil {
		return nil, err
	}
	token.ID = model.EntryTokenID(id)
	token.CreatedAt = token.CreatedAt.UTC()
	return &token, nil
}

func (s *Storage) SaveEntryToken(ctx context.Context, token *model.EntryToken) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO entry_tokens (`+entryTokenColumns+`) VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET user_id = EXCLUDED.user_id, token_hash = EXCLUDED.token_hash,
			is_active = EXCLUDED.is_active`,
		string(token.ID), token.UserID, token.TokenHash, token.IsActive, token.CreatedAt.UTC())
	return translateError(err)
}

func (s *Storage) GetEntryToken(ctx context.Context, id model.EntryTokenID) (*model.EntryToken, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+entryTokenColumns+` FROM entry_tokens WHERE id = $1`, string(id))
	token, err := scanEntryToken(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrEntryTokenNotFound
	}
	if err != nil {
		return nil, translateError(err)
	}
	return token, nil
}

func (s *Storage) ListEntryTokens(ctx context.Context) ([]*model.EntryToken, error) {
	return s.queryEntryTokens(ctx,
		`SELECT `+entryTokenColumns+` FROM entry_tokens ORDER BY created_at`)
}

func (s *Storage) ListEntryTokensForUser(ctx context.Context, userID string) ([]*model.EntryToken, error) {
	return s.queryEntryTokens(ctx,
		`SELECT `+entryTokenColumns+` FROM entry_tokens WHERE user_id = $1 ORDER BY created_at`, userID)
}

func (s *Storage) queryEntryTokens(ctx context.Context, query string, args ...any) ([]*model.EntryToken, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, translateError(err)
	}
	defer rows.Close()

	tokens := []*model.EntryToken{}
	for rows.Next() {
		token, err := scanEntryToken(rows)
		if err != nil {
			return nil, translateError(err)
		}
		tokens = append(tokens, token)
	}
	return tokens, translateError(rows.Err())
}

func (s *Storage) DeleteEntryToken(ctx context.Context, id model.EntryTokenID) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM entry_tokens WHERE id = $1`, string(id))
	if err != nil {
		return translateError(err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return model.ErrEntryTokenNotFound
	}
	return nil
}
