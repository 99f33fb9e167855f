// Package store provides SQLite persistence for recorded episodes: one row per
// reset and one row per update with the action sent and what the engine
// reported back.
package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when an episode does not exist.
var ErrNotFound = errors.New("store: not found")

// Episode is one reset-to-reset run of an environment.
type Episode struct {
	ID        string     `json:"id"`
	EnvID     string     `json:"envId"`
	Kind      string     `json:"kind"`
	Config    string     `json:"config"`
	Seed      int64      `json:"seed"`
	CreatedAt time.Time  `json:"createdAt"`
	EndedAt   *time.Time `json:"endedAt,omitempty"`
	Steps     int        `json:"steps"`
}

// Step is one update within an episode. The payloads are stored as JSON.
type Step struct {
	EpisodeID   string          `json:"episodeId"`
	Step        int             `json:"step"`
	Action      json.RawMessage `json:"action"`
	Observation json.RawMessage `json:"observation"`
	Result      json.RawMessage `json:"result"`
}

// StepsPage is a paginated steps response.
type StepsPage struct {
	Steps      []Step `json:"steps"`
	TotalCount int    `json:"totalCount"`
	Page       int    `json:"page"`
	PerPage    int    `json:"perPage"`
	TotalPages int    `json:"totalPages"`
}

// Store provides SQLite persistence for episodes.
type Store struct {
	db *sql.DB
}

// New opens the SQLite database at dbPath. Call Migrate before use.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("store: open db: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: enable WAL: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: enable foreign keys: %w", err)
	}
	db.SetMaxOpenConns(1)
	return &Store{db: db}, nil
}

// Migrate creates the episode tables.
func (s *Store) Migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS episodes (
			id TEXT PRIMARY KEY,
			env_id TEXT NOT NULL,
			kind TEXT NOT NULL,
			config TEXT NOT NULL DEFAULT '',
			seed INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME NOT NULL,
			ended_at DATETIME,
			steps INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_episodes_env ON episodes(env_id)`,
		`CREATE TABLE IF NOT EXISTS steps (
			episode_id TEXT NOT NULL,
			step INTEGER NOT NULL,
			action_json TEXT NOT NULL,
			observation_json TEXT NOT NULL,
			result_json TEXT NOT NULL,
			PRIMARY KEY (episode_id, step),
			FOREIGN KEY (episode_id) REFERENCES episodes(id) ON DELETE CASCADE
		)`,
	}
	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("store: migrate: %w", err)
		}
	}
	return nil
}

// Ping checks the database connection.
func (s *Store) Ping() error {
	return s.db.Ping()
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// CreateEpisode inserts ep and returns its ID, generating one when empty.
func (s *Store) CreateEpisode(ep *Episode) (string, error) {
	if ep.ID == "" {
		ep.ID = uuid.NewString()
	}
	if ep.CreatedAt.IsZero() {
		ep.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.Exec(
		`INSERT INTO episodes (id, env_id, kind, config, seed, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		ep.ID, ep.EnvID, ep.Kind, ep.Config, ep.Seed, ep.CreatedAt,
	)
	if err != nil {
		return "", fmt.Errorf("store: create episode: %w", err)
	}
	return ep.ID, nil
}

// EndEpisode stamps the episode's end time.
func (s *Store) EndEpisode(id string) error {
	res, err := s.db.Exec(`UPDATE episodes SET ended_at = ? WHERE id = ? AND ended_at IS NULL`, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("store: end episode: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if _, err := s.GetEpisode(id); err != nil {
			return err
		}
	}
	return nil
}

// InsertSteps records steps in a single transaction and bumps the episode's
// step count.
func (s *Store) InsertSteps(episodeID string, steps []Step) error {
	if len(steps) == 0 {
		return nil
	}
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("store: begin tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(
		`INSERT INTO steps (episode_id, step, action_json, observation_json, result_json) VALUES (?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return fmt.Errorf("store: prepare: %w", err)
	}
	defer stmt.Close()

	for _, st := range steps {
		if _, err := stmt.Exec(episodeID, st.Step, string(st.Action), string(st.Observation), string(st.Result)); err != nil {
			return fmt.Errorf("store: insert step #%d: %w", st.Step, err)
		}
	}
	if _, err := tx.Exec(`UPDATE episodes SET steps = steps + ? WHERE id = ?`, len(steps), episodeID); err != nil {
		return fmt.Errorf("store: count steps: %w", err)
	}
	return tx.Commit()
}

const episodeColumns = `id, env_id, kind, config, seed, created_at, ended_at, steps`

func scanEpisode(row interface{ Scan(...any) error }) (*Episode, error) {
	ep := &Episode{}
	err := row.Scan(&ep.ID, &ep.EnvID, &ep.Kind, &ep.Config, &ep.Seed, &ep.CreatedAt, &ep.EndedAt, &ep.Steps)
	return ep, err
}

// GetEpisode fetches an episode by ID.
func (s *Store) GetEpisode(id string) (*Episode, error) {
	ep, err := scanEpisode(s.db.QueryRow(`SELECT `+episodeColumns+` FROM episodes WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: episode %q", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("store: get episode: %w", err)
	}
	return ep, nil
}

// ListEpisodes returns episodes newest first, plus the total count.
func (s *Store) ListEpisodes(limit, offset int) ([]Episode, int, error) {
	if limit <= 0 {
		limit = 20
	}

	var total int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM episodes").Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("store: count episodes: %w", err)
	}

	rows, err := s.db.Query(
		`SELECT `+episodeColumns+` FROM episodes ORDER BY created_at DESC, rowid DESC LIMIT ? OFFSET ?`,
		limit, offset,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("store: list episodes: %w", err)
	}
	defer rows.Close()

	episodes := []Episode{}
	for rows.Next() {
		ep, err := scanEpisode(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("store: scan episode: %w", err)
		}
		episodes = append(episodes, *ep)
	}
	return episodes, total, rows.Err()
}

// GetSteps returns a page of an episode's steps in step order.
func (s *Store) GetSteps(episodeID string, page, perPage int) (*StepsPage, error) {
	if page < 1 {
		page = 1
	}
	if perPage <= 0 {
		perPage = 50
	}
	offset := (page - 1) * perPage

	var total int
	if err := s.db.QueryRow(
		"SELECT COUNT(*) FROM steps WHERE episode_id = ?", episodeID,
	).Scan(&total); err != nil {
		return nil, fmt.Errorf("store: count steps: %w", err)
	}

	rows, err := s.db.Query(
		`SELECT episode_id, step, action_json, observation_json, result_json
		 FROM steps WHERE episode_id = ? ORDER BY step LIMIT ? OFFSET ?`,
		episodeID, perPage, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("store: get steps: %w", err)
	}
	defer rows.Close()

	steps := []Step{}
	for rows.Next() {
		var st Step
		var action, obs, result string
		if err := rows.Scan(&st.EpisodeID, &st.Step, &action, &obs, &result); err != nil {
			return nil, fmt.Errorf("store: scan step: %w", err)
		}
		st.Action = json.RawMessage(action)
		st.Observation = json.RawMessage(obs)
		st.Result = json.RawMessage(result)
		steps = append(steps, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: get steps: %w", err)
	}

	totalPages := total / perPage
	if total%perPage > 0 {
		totalPages++
	}

	return &StepsPage{
		Steps:      steps,
		TotalCount: total,
		Page:       page,
		PerPage:    perPage,
		TotalPages: totalPages,
	}, nil
}

// DeleteEpisode removes an episode and its steps.
func (s *Store) DeleteEpisode(id string) error {
	if _, err := s.db.Exec("DELETE FROM episodes WHERE id = ?", id); err != nil {
		return fmt.Errorf("store: delete episode: %w", err)
	}
	return nil
}
