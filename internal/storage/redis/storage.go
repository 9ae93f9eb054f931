package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mcoot/typerace/internal/model"
	"github.com/mcoot/typerace/internal/storage"
)

// Storage is a Redis-backed implementation of the storage interface
type Storage struct {
	client *redis.Client
	cfg    Config
}

// New creates a new Redis storage instance
func New(cfg Config) (*Storage, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, err
	}

	opts.PoolSize = cfg.PoolSize
	opts.MinIdleConns = cfg.MinIdleConns

	client := redis.NewClient(opts)

	// Verify connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, unavailable(err)
	}

	return NewWithClient(client, cfg), nil
}

// NewWithClient creates a Redis storage with an existing client (for testing)
func NewWithClient(client *redis.Client, cfg Config) *Storage {
	if cfg.MaxTxRetries <= 0 {
		cfg.MaxTxRetries = DefaultConfig().MaxTxRetries
	}
	return &Storage{
		client: client,
		cfg:    cfg,
	}
}

// Close closes the Redis connection
func (s *Storage) Close() error {
	return s.client.Close()
}

// Ensure Storage implements the interface
var _ storage.Storage = (*Storage)(nil)

// unavailable marks a transport or server failure
func unavailable(err error) error {
	return fmt.Errorf("%w: %w", model.ErrStoreUnavailable, err)
}

func getJSON[T any](ctx context.Context, c redis.Cmdable, key string, notFound error) (*T, error) {
	data, err := c.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, notFound
		}
		return nil, unavailable(err)
	}

	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	return &v, nil
}

// mgetJSON fetches and decodes every key, skipping missing or invalid entries
func mgetJSON[T any](ctx context.Context, c redis.Cmdable, keys []string) ([]*T, error) {
	if len(keys) == 0 {
		return []*T{}, nil
	}

	values, err := c.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, unavailable(err)
	}

	out := make([]*T, 0, len(values))
	for _, val := range values {
		str, ok := val.(string)
		if !ok {
			continue // Expired or deleted since the index was read
		}
		var v T
		if err := json.Unmarshal([]byte(str), &v); err != nil {
			continue // Skip invalid data
		}
		out = append(out, &v)
	}
	return out, nil
}

// watch runs an optimistic transaction, retrying when a watched key changes
func (s *Storage) watch(ctx context.Context, fn func(tx *redis.Tx) error, keys ...string) error {
	for i := 0; i < s.cfg.MaxTxRetries; i++ {
		err := s.client.Watch(ctx, fn, keys...)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return unavailable(redis.TxFailedErr)
}

// publish announces a change on the session's feed channel. The write has
// already been committed, so a publish failure only delays subscribers
// until their next reload.
func (s *Storage) publish(ctx context.Context, event model.ChangeEvent) {
	data, err := json.Marshal(event)
	if err != nil {
		return
	}
	_ = s.client.Publish(ctx, feedChannel(event.SessionID), data).Err()
}

// Session operations

func (s *Storage) CreateSession(ctx context.Context, session *model.Session) error {
	data, err := json.Marshal(session)
	if err != nil {
		return err
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, sessionKey(session.ID), data, 0)
	pipe.ZAdd(ctx, sessionsByStatusKey(session.Status), redis.Z{
		Score:  float64(session.CreatedAt.UnixMilli()),
		Member: string(session.ID),
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return unavailable(err)
	}

	s.publish(ctx, model.ChangeEvent{
		Table:     model.TableSessions,
		Op:        model.ChangeInsert,
		SessionID: session.ID,
		Session:   session.Clone(),
		At:        time.Now().UTC(),
	})
	return nil
}

func (s *Storage) GetSession(ctx context.Context, id model.SessionID) (*model.Session, error) {
	return getJSON[model.Session](ctx, s.client, sessionKey(id), model.ErrSessionNotFound)
}

func (s *Storage) ListSessionsByStatus(ctx context.Context, status model.SessionStatus) ([]*model.Session, error) {
	ids, err := s.client.ZRange(ctx, sessionsByStatusKey(status), 0, -1).Result()
	if err != nil {
		return nil, unavailable(err)
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = sessionKey(model.SessionID(id))
	}

	sessions, err := mgetJSON[model.Session](ctx, s.client, keys)
	if err != nil {
		return nil, err
	}

	// The index may briefly disagree with the record during a transition
	filtered := sessions[:0]
	for _, session := range sessions {
		if session.Status == status {
			filtered = append(filtered, session)
		}
	}
	sort.SliceStable(filtered, func(i, j int) bool {
		return filtered[i].CreatedAt.Before(filtered[j].CreatedAt)
	})
	return filtered, nil
}

func (s *Storage) TransitionSession(ctx context.Context, id model.SessionID, t model.Transition) (*model.Session, error) {
	if err := t.Validate(); err != nil {
		return nil, err
	}

	key := sessionKey(id)
	var updated *model.Session

	err := s.watch(ctx, func(tx *redis.Tx) error {
		session, err := getJSON[model.Session](ctx, tx, key, model.ErrSessionNotFound)
		if err != nil {
			return err
		}
		if session.Status != t.From {
			return model.ErrInvalidTransition
		}
		t.Apply(session)

		data, err := json.Marshal(session)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			pipe.ZRem(ctx, sessionsByStatusKey(t.From), string(id))
			pipe.ZAdd(ctx, sessionsByStatusKey(session.Status), redis.Z{
				Score:  float64(session.CreatedAt.UnixMilli()),
				Member: string(id),
			})
			return nil
		})
		if err != nil {
			return err
		}

		updated = session
		return nil
	}, key)
	if err != nil {
		if isDomainError(err) {
			return nil, err
		}
		return nil, unavailable(err)
	}

	s.publish(ctx, model.ChangeEvent{
		Table:     model.TableSessions,
		Op:        model.ChangeUpdate,
		SessionID: id,
		Session:   updated.Clone(),
		At:        time.Now().UTC(),
	})
	return updated, nil
}

// isDomainError reports errors that already carry their meaning and must
// not be rewrapped as an outage
func isDomainError(err error) bool {
	return errors.Is(err, model.ErrStoreUnavailable) ||
		errors.Is(err, model.ErrSessionNotFound) ||
		errors.Is(err, model.ErrParticipantNotFound) ||
		errors.Is(err, model.ErrInvalidTransition) ||
		errors.Is(err, model.ErrRaceNotInProgress)
}

// Participant operations

// insertParticipantScript claims the seat and lane and writes the participant
// atomically. Returns 0 on success, 1 if the player already has a seat, 2 if
// the lane is taken and 3 if the session does not exist.
var insertParticipantScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[5]) == 0 then return 3 end
if redis.call('EXISTS', KEYS[1]) == 1 then return 1 end
if redis.call('EXISTS', KEYS[2]) == 1 then return 2 end
redis.call('SET', KEYS[1], ARGV[1])
redis.call('SET', KEYS[2], ARGV[1])
redis.call('SET', KEYS[3], ARGV[2])
redis.call('SADD', KEYS[4], ARGV[1])
return 0
`)

func (s *Storage) InsertParticipant(ctx context.Context, p *model.Participant) error {
	if !model.IsValidLane(p.LaneNumber) {
		return model.ErrInvalidLane
	}
	data, err := json.Marshal(p)
	if err != nil {
		return err
	}

	keys := []string{
		seatClaimKey(p.SessionID, p.UserEmail),
		laneClaimKey(p.SessionID, p.LaneNumber),
		participantKey(p.ID),
		participantsForSessionKey(p.SessionID),
		sessionKey(p.SessionID),
	}
	result, err := insertParticipantScript.Run(ctx, s.client, keys, string(p.ID), data).Int()
	if err != nil {
		return unavailable(err)
	}

	switch result {
	case 1:
		return model.ErrAlreadyJoined
	case 2:
		return model.ErrLaneTaken
	case 3:
		return model.ErrSessionNotFound
	}

	s.publish(ctx, model.ChangeEvent{
		Table:       model.TableParticipants,
		Op:          model.ChangeInsert,
		SessionID:   p.SessionID,
		Participant: p.Clone(),
		At:          time.Now().UTC(),
	})
	return nil
}

func (s *Storage) GetParticipant(ctx context.Context, id model.ParticipantID) (*model.Participant, error) {
	return getJSON[model.Participant](ctx, s.client, participantKey(id), model.ErrParticipantNotFound)
}

func (s *Storage) FindParticipant(ctx context.Context, sessionID model.SessionID, email string) (*model.Participant, error) {
	id, err := s.client.Get(ctx, seatClaimKey(sessionID, email)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, model.ErrParticipantNotFound
		}
		return nil, unavailable(err)
	}
	return s.GetParticipant(ctx, model.ParticipantID(id))
}

func (s *Storage) ListParticipants(ctx context.Context, sessionID model.SessionID) ([]*model.Participant, error) {
	ids, err := s.client.SMembers(ctx, participantsForSessionKey(sessionID)).Result()
	if err != nil {
		return nil, unavailable(err)
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = participantKey(model.ParticipantID(id))
	}

	participants, err := mgetJSON[model.Participant](ctx, s.client, keys)
	if err != nil {
		return nil, err
	}
	sort.Slice(participants, func(i, j int) bool {
		return participants[i].LaneNumber < participants[j].LaneNumber
	})
	return participants, nil
}

func (s *Storage) UpdateProgress(ctx context.Context, id model.ParticipantID, update model.ProgressUpdate) (*model.Participant, error) {
	key := participantKey(id)
	var updated *model.Participant

	err := s.watch(ctx, func(tx *redis.Tx) error {
		p, err := getJSON[model.Participant](ctx, tx, key, model.ErrParticipantNotFound)
		if err != nil {
			return err
		}

		// A completion between this read and EXEC aborts the write
		sessKey := sessionKey(p.SessionID)
		if err := tx.Watch(ctx, sessKey).Err(); err != nil {
			return err
		}
		session, err := getJSON[model.Session](ctx, tx, sessKey, model.ErrRaceNotInProgress)
		if err != nil {
			return err
		}
		if session.Status != model.SessionStatusInProgress {
			return model.ErrRaceNotInProgress
		}

		update.Apply(p)
		data, err := json.Marshal(p)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			return nil
		})
		if err != nil {
			return err
		}

		updated = p
		return nil
	}, key)
	if err != nil {
		if isDomainError(err) {
			return nil, err
		}
		return nil, unavailable(err)
	}

	s.publish(ctx, model.ChangeEvent{
		Table:       model.TableParticipants,
		Op:          model.ChangeUpdate,
		SessionID:   updated.SessionID,
		Participant: updated.Clone(),
		At:          time.Now().UTC(),
	})
	return updated, nil
}

// Ship operations

func (s *Storage) SaveShip(ctx context.Context, ship *model.Ship) error {
	data, err := json.Marshal(ship)
	if err != nil {
		return err
	}

	pipe := s.client.Pipeline()
	pipe.Set(ctx, shipKey(ship.ID), data, 0)
	pipe.SAdd(ctx, shipsIndexKey(), shipKey(ship.ID))
	if _, err := pipe.Exec(ctx); err != nil {
		return unavailable(err)
	}
	return nil
}

func (s *Storage) GetShip(ctx context.Context, id model.ShipID) (*model.Ship, error) {
	return getJSON[model.Ship](ctx, s.client, shipKey(id), model.ErrShipNotFound)
}

func (s *Storage) ListShips(ctx context.Context) ([]*model.Ship, error) {
	keys, err := s.client.SMembers(ctx, shipsIndexKey()).Result()
	if err != nil {
		return nil, unavailable(err)
	}

	ships, err := mgetJSON[model.Ship](ctx, s.client, keys)
	if err != nil {
		return nil, err
	}
	sort.Slice(ships, func(i, j int) bool {
		return ships[i].Name < ships[j].Name
	})
	return ships, nil
}

// Admin operations

func (s *Storage) SaveAdmin(ctx context.Context, admin *model.Admin) error {
	data, err := json.Marshal(admin)
	if err != nil {
		return err
	}

	pipe := s.client.Pipeline()
	pipe.Set(ctx, adminKey(admin.Email), data, 0)
	pipe.SAdd(ctx, adminsIndexKey(), adminKey(admin.Email))
	if _, err := pipe.Exec(ctx); err != nil {
		return unavailable(err)
	}
	return nil
}

func (s *Storage) IsAdmin(ctx context.Context, email string) (bool, error) {
	exists, err := s.client.Exists(ctx, adminKey(email)).Result()
	if err != nil {
		return false, unavailable(err)
	}
	return exists == 1, nil
}

func (s *Storage) ListAdmins(ctx context.Context) ([]*model.Admin, error) {
	keys, err := s.client.SMembers(ctx, adminsIndexKey()).Result()
	if err != nil {
		return nil, unavailable(err)
	}

	admins, err := mgetJSON[model.Admin](ctx, s.client, keys)
	if err != nil {
		return nil, err
	}
	sort.Slice(admins, func(i, j int) bool {
		return admins[i].CreatedAt.Before(admins[j].CreatedAt)
	})
	return admins, nil
}

func (s *Storage) DeleteAdmin(ctx context.Context, email string) error {
	pipe := s.client.TxPipeline()
	del := pipe.Del(ctx, adminKey(email))
	pipe.SRem(ctx, adminsIndexKey(), adminKey(email))
	if _, err := pipe.Exec(ctx); err != nil {
		return unavailable(err)
	}
	if del.Val() == 0 {
		return model.ErrAdminNotFound
	}
	return nil
}

// Entry token operations

func (s *Storage) SaveEntryToken(ctx context.Context, token *model.EntryToken) error {
	data, err := json.Marshal(token)
	if err != nil {
		return err
	}

	pipe := s.client.Pipeline()
	pipe.Set(ctx, entryTokenKey(token.ID), data, 0)
	pipe.SAdd(ctx, entryTokensIndexKey(), entryTokenKey(token.ID))
	if _, err := pipe.Exec(ctx); err != nil {
		return unavailable(err)
	}
	return nil
}

func (s *Storage) GetEntryToken(ctx context.Context, id model.EntryTokenID) (*model.EntryToken, error) {
	return getJSON[model.EntryToken](ctx, s.client, entryTokenKey(id), model.ErrEntryTokenNotFound)
}

func (s *Storage) ListEntryTokens(ctx context.Context) ([]*model.EntryToken, error) {
	keys, err := s.client.SMembers(ctx, entryTokensIndexKey()).Result()
	if err != nil {
		return nil, unavailable(err)
	}

	tokens, err := mgetJSON[model.EntryToken](ctx, s.client, keys)
	if err != nil {
		return nil, err
	}
	sort.Slice(tokens, func(i, j int) bool {
		return tokens[i].CreatedAt.Before(tokens[j].CreatedAt)
	})
	return tokens, nil
}

func (s *Storage) ListEntryTokensForUser(ctx context.Context, userID string) ([]*model.EntryToken, error) {
	tokens, err := s.ListEntryTokens(ctx)
	if err != nil {
		return nil, err
	}

	filtered := tokens[:0]
	for _, token := range tokens {
		if token.UserID == userID {
			filtered = append(filtered, token)
		}
	}
	return filtered, nil
}

func (s *Storage) DeleteEntryToken(ctx context.Context, id model.EntryTokenID) error {
	pipe := s.client.TxPipeline()
	del := pipe.Del(ctx, entryTokenKey(id))
	pipe.SRem(ctx, entryTokensIndexKey(), entryTokenKey(id))
	if _, err := pipe.Exec(ctx); err != nil {
		return unavailable(err)
	}
	if del.Val() == 0 {
		return model.ErrEntryTokenNotFound
	}
	return nil
}
