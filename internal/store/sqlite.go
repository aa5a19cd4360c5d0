package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"secretsanta/internal/matching"
	"secretsanta/internal/santa"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS events (
	guild_id   TEXT PRIMARY KEY,
	channel_id TEXT NOT NULL,
	state      INTEGER NOT NULL,
	run_id     TEXT NOT NULL DEFAULT '',
	opened_at  INTEGER NOT NULL,
	closes_at  INTEGER NOT NULL DEFAULT 0,
	matched_at INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS participants (
	guild_id  TEXT NOT NULL,
	user_id   TEXT NOT NULL,
	name      TEXT NOT NULL,
	country   TEXT NOT NULL,
	wishlist  TEXT NOT NULL,
	joined_at INTEGER NOT NULL,
	PRIMARY KEY (guild_id, user_id)
);

CREATE TABLE IF NOT EXISTS assignments (
	guild_id     TEXT NOT NULL,
	giver_id     TEXT NOT NULL,
	recipient_id TEXT NOT NULL,
	run_id       TEXT NOT NULL,
	sent         INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (guild_id, giver_id)
);
`

type SQLite struct {
	db   *sql.DB
	path string
}

// Open or create the database file and its schema
func NewSQLite(path string) (*SQLite, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// A single connection keeps writers from tripping over each other
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	log.Debug().Msg(fmt.Sprintf("Opened sqlite database %s", path))
	return &SQLite{db: db, path: path}, nil
}

func (s *SQLite) Close() error {
	return s.db.Close()
}

func (s *SQLite) Path() string {
	return s.path
}

func (s *SQLite) GetEvent(ctx context.Context, guildId string) (santa.Event, error) {
	row := s.db.QueryRowContext(ctx, `SELECT guild_id, channel_id, state, run_id, opened_at, closes_at, matched_at FROM events WHERE guild_id = ?`, guildId)
	event, err := scanEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return santa.Event{}, santa.ErrNotFound
	}
	return event, err
}

func (s *SQLite) SaveEvent(ctx context.Context, event santa.Event) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO events (guild_id, channel_id, state, run_id, opened_at, closes_at, matched_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(guild_id) DO UPDATE SET
			channel_id = excluded.channel_id,
			state = excluded.state,
			run_id = excluded.run_id,
			opened_at = excluded.opened_at,
			closes_at = excluded.closes_at,
			matched_at = excluded.matched_at`,
		event.GuildId, event.ChannelId, int(event.State), runIdString(event.RunId),
		toUnix(event.OpenedAt), toUnix(event.ClosesAt), toUnix(event.MatchedAt))
	return err
}

func (s *SQLite) DeleteEvent(ctx context.Context, guildId string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, query := range []string{
		`DELETE FROM assignments WHERE guild_id = ?`,
		`DELETE FROM participants WHERE guild_id = ?`,
		`DELETE FROM events WHERE guild_id = ?`,
	} {
		if _, err := tx.ExecContext(ctx, query, guildId); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *SQLite) ListEvents(ctx context.Context) ([]santa.Event, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT guild_id, channel_id, state, run_id, opened_at, closes_at, matched_at FROM events ORDER BY opened_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	events := make([]santa.Event, 0)
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	return events, rows.Err()
}

func (s *SQLite) UpsertParticipant(ctx context.Context, p santa.Participant) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO participants (guild_id, user_id, name, country, wishlist, joined_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(guild_id, user_id) DO UPDATE SET
			name = excluded.name,
			country = excluded.country,
			wishlist = excluded.wishlist,
			joined_at = excluded.joined_at`,
		p.GuildId, p.UserId, p.Name, p.Country, p.Wishlist, toUnix(p.JoinedAt))
	return err
}

func (s *SQLite) RemoveParticipant(ctx context.Context, guildId string, userId string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM participants WHERE guild_id = ? AND user_id = ?`, guildId, userId)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return santa.ErrNotFound
	}
	return nil
}

func (s *SQLite) GetParticipant(ctx context.Context, guildId string, userId string) (santa.Participant, error) {
	row := s.db.QueryRowContext(ctx, `SELECT guild_id, user_id, name, country, wishlist, joined_at FROM participants WHERE guild_id = ? AND user_id = ?`, guildId, userId)
	participant, err := scanParticipant(row)
	if errors.Is(err, sql.ErrNoRows) {
		return santa.Participant{}, santa.ErrNotFound
	}
	return participant, err
}

func (s *SQLite) ListParticipants(ctx context.Context, guildId string) ([]santa.Participant, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT guild_id, user_id, name, country, wishlist, joined_at FROM participants WHERE guild_id = ? ORDER BY joined_at, user_id`, guildId)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	participants := make([]santa.Participant, 0)
	for rows.Next() {
		participant, err := scanParticipant(rows)
		if err != nil {
			return nil, err
		}
		participants = append(participants, participant)
	}
	return participants, rows.Err()
}

func (s *SQLite) SaveAssignment(ctx context.Context, guildId string, runId uuid.UUID, assignment matching.Assignment) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM assignments WHERE guild_id = ?`, guildId); err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO assignments (guild_id, giver_id, recipient_id, run_id, sent) VALUES (?, ?, ?, ?, 0)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for giver, recipient := range assignment {
		if _, err := stmt.ExecContext(ctx, guildId, giver, recipient, runId.String()); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *SQLite) GetAssignment(ctx context.Context, guildId string) (santa.AssignmentRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT giver_id, recipient_id, run_id, sent FROM assignments WHERE guild_id = ?`, guildId)
	if err != nil {
		return santa.AssignmentRecord{}, err
	}
	defer rows.Close()

	record := santa.AssignmentRecord{Pairs: matching.Assignment{}, Sent: map[string]bool{}}
	for rows.Next() {
		var giver, recipient, runId string
		var sent bool
		if err := rows.Scan(&giver, &recipient, &runId, &sent); err != nil {
			return santa.AssignmentRecord{}, err
		}
		record.Pairs[giver] = recipient
		record.Sent[giver] = sent
		if record.RunId, err = uuid.Parse(runId); err != nil {
			return santa.AssignmentRecord{}, fmt.Errorf("bad run id %q: %w", runId, err)
		}
	}
	if err := rows.Err(); err != nil {
		return santa.AssignmentRecord{}, err
	}
	if len(record.Pairs) == 0 {
		return santa.AssignmentRecord{}, santa.ErrNotFound
	}
	return record, nil
}

func (s *SQLite) MarkSent(ctx context.Context, guildId string, giverId string) error {
	result, err := s.db.ExecContext(ctx, `UPDATE assignments SET sent = 1 WHERE guild_id = ? AND giver_id = ?`, guildId, giverId)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return santa.ErrNotFound
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEvent(row scanner) (santa.Event, error) {
	var event santa.Event
	var state int
	var runId string
	var openedAt, closesAt, matchedAt int64
	if err := row.Scan(&event.GuildId, &event.ChannelId, &state, &runId, &openedAt, &closesAt, &matchedAt); err != nil {
		return santa.Event{}, err
	}
	event.State = santa.State(state)
	if runId != "" {
		parsed, err := uuid.Parse(runId)
		if err != nil {
			return santa.Event{}, fmt.Errorf("bad run id %q: %w", runId, err)
		}
		event.RunId = parsed
	}
	event.OpenedAt = fromUnix(openedAt)
	event.ClosesAt = fromUnix(closesAt)
	event.MatchedAt = fromUnix(matchedAt)
	return event, nil
}

func scanParticipant(row scanner) (santa.Participant, error) {
	var p santa.Participant
	var joinedAt int64
	if err := row.Scan(&p.GuildId, &p.UserId, &p.Name, &p.Country, &p.Wishlist, &joinedAt); err != nil {
		return santa.Participant{}, err
	}
	p.JoinedAt = fromUnix(joinedAt)
	return p, nil
}

// Zero times are stored as 0
func toUnix(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromUnix(nanos int64) time.Time {
	if nanos == 0 {
		return time.Time{}
	}
	return time.Unix(0, nanos).UTC()
}

func runIdString(runId uuid.UUID) string {
	if runId == uuid.Nil {
		return ""
	}
	return runId.String()
}
