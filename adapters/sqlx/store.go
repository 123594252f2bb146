// Package sqlx is the Postgres-backed implementation of the narrow
// relational-store interfaces: member identity lookup, room and
// participant persistence, and push-token storage.
package sqlx

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"campusride/core"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

// Driver identifies the SQL driver in use.
type Driver string

const DriverPostgres Driver = "postgres"

// Config holds SQL connection configuration.
type Config struct {
	Driver          Driver        `json:"driver" env:"CAMPUSRIDE_SQL_DRIVER"`
	DSN             string        `json:"dsn" env:"CAMPUSRIDE_SQL_DSN"`
	MaxOpenConns    int           `json:"max_open_conns" env:"CAMPUSRIDE_SQL_MAX_OPEN_CONNS"`
	MaxIdleConns    int           `json:"max_idle_conns" env:"CAMPUSRIDE_SQL_MAX_IDLE_CONNS"`
	ConnMaxLifetime time.Duration `json:"conn_max_lifetime" env:"CAMPUSRIDE_SQL_CONN_MAX_LIFETIME"`
}

// DefaultConfig returns sensible defaults for the given driver.
func DefaultConfig(driver Driver) Config {
	return Config{
		Driver:          driver,
		DSN:             "postgres://localhost:5432/campusride?sslmode=disable",
		MaxOpenConns:    10,
		MaxIdleConns:    2,
		ConnMaxLifetime: 30 * time.Minute,
	}
}

// Store implements the coordinator.RoomStore and notify.TokenStore
// interfaces over a relational database.
type Store struct {
	db *sqlx.DB
}

// New opens a connection pool and verifies connectivity.
func New(config Config) (*Store, error) {
	db, err := sqlx.Open(string(config.Driver), config.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(config.MaxOpenConns)
	db.SetMaxIdleConns(config.MaxIdleConns)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return &Store{db: db}, nil
}

// NewWithDB creates a Store using an existing database handle (useful
// for testing with sqlmock).
func NewWithDB(db *sqlx.DB) *Store {
	return &Store{db: db}
}

// Close closes the connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) Room(ctx context.Context, id core.RoomID) (core.Room, error) {
	var room core.Room
	err := s.db.GetContext(ctx, &room,
		`SELECT id, title, capacity, status, host_id, matched_at, created_at FROM rooms WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Room{}, core.ErrRoomNotFound
	}
	if err != nil {
		return core.Room{}, fmt.Errorf("failed to load room %d: %w", id, err)
	}
	return room, nil
}

func (s *Store) SaveRoom(ctx context.Context, room core.Room) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE rooms SET status = $2, matched_at = $3 WHERE id = $1`,
		room.ID, room.Status, room.MatchedAt)
	if err != nil {
		return fmt.Errorf("failed to save room %d: %w", room.ID, err)
	}
	return nil
}

func (s *Store) Participants(ctx context.Context, roomID core.RoomID) ([]core.Participant, error) {
	var out []core.Participant
	err := s.db.SelectContext(ctx, &out,
		`SELECT room_id, member_id, email, nickname, is_host, is_ready, joined_at
		 FROM participants WHERE room_id = $1 ORDER BY joined_at`, roomID)
	if err != nil {
		return nil, fmt.Errorf("failed to load participants of room %d: %w", roomID, err)
	}
	return out, nil
}

func (s *Store) Participant(ctx context.Context, roomID core.RoomID, email core.Email) (core.Participant, error) {
	var p core.Participant
	err := s.db.GetContext(ctx, &p,
		`SELECT room_id, member_id, email, nickname, is_host, is_ready, joined_at
		 FROM participants WHERE room_id = $1 AND email = $2`, roomID, email)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Participant{}, core.ErrParticipantNotFound
	}
	if err != nil {
		return core.Participant{}, fmt.Errorf("failed to load participant: %w", err)
	}
	return p, nil
}

func (s *Store) SaveParticipant(ctx context.Context, p core.Participant) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO participants (room_id, member_id, email, nickname, is_host, is_ready, joined_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (room_id, member_id) DO UPDATE SET is_ready = EXCLUDED.is_ready`,
		p.RoomID, p.MemberID, p.Email, p.Nickname, p.IsHost, p.IsReady, p.JoinedAt)
	if err != nil {
		return fmt.Errorf("failed to save participant: %w", err)
	}
	return nil
}

func (s *Store) RemoveParticipant(ctx context.Context, roomID core.RoomID, memberID core.MemberID) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM participants WHERE room_id = $1 AND member_id = $2`, roomID, memberID)
	if err != nil {
		return fmt.Errorf("failed to remove participant: %w", err)
	}
	return nil
}

func (s *Store) MemberByEmail(ctx context.Context, email core.Email) (core.Member, error) {
	var m core.Member
	err := s.db.GetContext(ctx, &m,
		`SELECT id, email, nickname FROM members WHERE email = $1`, email)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Member{}, core.ErrMemberNotFound
	}
	if err != nil {
		return core.Member{}, fmt.Errorf("failed to load member: %w", err)
	}
	return m, nil
}

func (s *Store) TokensForMembers(ctx context.Context, ids []core.MemberID) ([]string, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query, args, err := sqlx.In(
		`SELECT token FROM push_tokens WHERE member_id IN (?)`, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to build token query: %w", err)
	}
	var tokens []string
	err = s.db.SelectContext(ctx, &tokens, s.db.Rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to load push tokens: %w", err)
	}
	return tokens, nil
}

func (s *Store) SaveToken(ctx context.Context, id core.MemberID, token string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO push_tokens (member_id, token, created_at)
		 VALUES ($1, $2, $3) ON CONFLICT (token) DO NOTHING`,
		id, token, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to save push token: %w", err)
	}
	return nil
}

func (s *Store) PurgeToken(ctx context.Context, token string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM push_tokens WHERE token = $1`, token)
	if err != nil {
		return fmt.Errorf("failed to purge push token: %w", err)
	}
	return nil
}
