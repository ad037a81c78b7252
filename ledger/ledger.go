// Package ledger provides the SQLite-backed guild ledger: persona lines,
// knowledge rendered into seed turns, item values and market rates, and a
// log of user actions. Rows carry an enabled flag so operators can stage
// entries without deleting them.
package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/ksaito/noelbot/config"
	"github.com/ksaito/noelbot/history"
)

const migrationSQL = `
CREATE TABLE IF NOT EXISTS persona_lines (
    id       INTEGER PRIMARY KEY AUTOINCREMENT,
    enabled  INTEGER NOT NULL DEFAULT 1,
    line     TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS knowledge (
    id       INTEGER PRIMARY KEY AUTOINCREMENT,
    enabled  INTEGER NOT NULL DEFAULT 1,
    topic    TEXT NOT NULL,
    speaker  TEXT NOT NULL DEFAULT 'Guild Master',
    preamble TEXT NOT NULL DEFAULT '',
    fact     TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS master_data (
    name       TEXT PRIMARY KEY,
    enabled    INTEGER NOT NULL DEFAULT 1,
    base_value REAL NOT NULL DEFAULT 0,
    remarks    TEXT
);

CREATE TABLE IF NOT EXISTS market_rates (
    city      TEXT NOT NULL,
    item_name TEXT NOT NULL,
    enabled   INTEGER NOT NULL DEFAULT 1,
    rate      REAL NOT NULL DEFAULT 1.0,
    demand    TEXT,
    PRIMARY KEY (city, item_name)
);

CREATE TABLE IF NOT EXISTS user_actions (
    id        INTEGER PRIMARY KEY AUTOINCREMENT,
    ts        DATETIME NOT NULL,
    user_id   TEXT NOT NULL,
    user_name TEXT,
    action    TEXT NOT NULL,
    response  TEXT
);

CREATE INDEX IF NOT EXISTS idx_user_actions_user ON user_actions(user_id);
`

var (
	// ErrUnknownItem means the item has no master_data row.
	ErrUnknownItem = errors.New("item not in ledger")
	// ErrNoMarketRate means the item exists but the city has no rate for it.
	ErrNoMarketRate = errors.New("no market rate for item in city")
)

// Quote is the priced answer to a market query.
type Quote struct {
	BaseValue float64
	Rate      float64
	Demand    string
	Price     int // round(BaseValue * Rate)
}

// Store is the guild ledger. Persona text and the knowledge seed are cached
// in memory for the configured TTL; price lookups always hit the database.
type Store struct {
	db          *sql.DB
	ttl         time.Duration
	personaName string

	mu            sync.Mutex
	cachedPersona string
	cachedSeed    []history.Turn
	loadedAt      time.Time
}

func expandPath(path string) string {
	path = os.ExpandEnv(path)
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err == nil {
			path = filepath.Join(home, path[2:])
		}
	}
	return path
}

func Open(cfg *config.LedgerConfig, personaName string) (*Store, error) {
	path := expandPath(cfg.DBPath)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create ledger dir: %w", err)
	}
	dsn := path + "?_foreign_keys=on&_journal_mode=WAL"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}
	if _, err := db.ExecContext(context.Background(), migrationSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migration: %w", err)
	}
	return &Store{
		db:          db,
		ttl:         time.Duration(cfg.CacheTTLSeconds) * time.Second,
		personaName: personaName,
	}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// PersonaText returns the enabled persona lines joined into one prompt
// block, or "" when none are enabled (callers fall back to a built-in
// persona).
func (s *Store) PersonaText(ctx context.Context) (string, error) {
	if err := s.refresh(ctx); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cachedPersona, nil
}

// KnowledgeSeed renders the enabled knowledge rows into transcript turns:
// per topic, one user turn from the topic's speaker carrying the preamble
// and fact lines, answered by a canned acknowledgment from the persona.
// Returns a fresh slice on every call; callers may hand it to
// history.Store.GetOrCreate without copying.
func (s *Store) KnowledgeSeed(ctx context.Context) ([]history.Turn, error) {
	if err := s.refresh(ctx); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]history.Turn(nil), s.cachedSeed...), nil
}

// refresh reloads the persona and seed caches when the TTL has lapsed.
func (s *Store) refresh(ctx context.Context) error {
	s.mu.Lock()
	fresh := !s.loadedAt.IsZero() && time.Since(s.loadedAt) < s.ttl
	s.mu.Unlock()
	if fresh {
		return nil
	}

	persona, err := s.loadPersona(ctx)
	if err != nil {
		return err
	}
	seed, err := s.loadSeed(ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.cachedPersona = persona
	s.cachedSeed = seed
	s.loadedAt = time.Now()
	s.mu.Unlock()
	return nil
}

func (s *Store) loadPersona(ctx context.Context) (string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT line FROM persona_lines WHERE enabled = 1 ORDER BY id`)
	if err != nil {
		return "", fmt.Errorf("load persona lines: %w", err)
	}
	defer rows.Close()

	var lines []string
	for rows.Next() {
		var line string
		if err := rows.Scan(&line); err != nil {
			return "", fmt.Errorf("scan persona line: %w", err)
		}
		lines = append(lines, line)
	}
	if err := rows.Err(); err != nil {
		return "", err
	}
	return strings.Join(lines, "\n"), nil
}

func (s *Store) loadSeed(ctx context.Context) ([]history.Turn, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT topic, speaker, preamble, fact FROM knowledge WHERE enabled = 1 ORDER BY topic, id`)
	if err != nil {
		return nil, fmt.Errorf("load knowledge: %w", err)
	}
	defer rows.Close()

	type group struct {
		speaker  string
		preamble string
		facts    []string
	}
	var order []string
	groups := make(map[string]*group)
	for rows.Next() {
		var topic, speaker, preamble, fact string
		if err := rows.Scan(&topic, &speaker, &preamble, &fact); err != nil {
			return nil, fmt.Errorf("scan knowledge row: %w", err)
		}
		g, ok := groups[topic]
		if !ok {
			g = &group{speaker: speaker, preamble: preamble}
			groups[topic] = g
			order = append(order, topic)
		}
		g.facts = append(g.facts, fact)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var seed []history.Turn
	for _, topic := range order {
		g := groups[topic]
		text := g.preamble
		if text != "" {
			text += "\n"
		}
		text += strings.Join(g.facts, "\n")
		seed = append(seed,
			history.Turn{Role: history.RoleUser, Speaker: g.speaker, Text: text},
			history.Turn{
				Role:    history.RoleAgent,
				Speaker: s.personaName,
				Text:    fmt.Sprintf("Understood, %s! I have all of that memorized.", g.speaker),
			},
		)
	}
	return seed, nil
}

// ItemPrice answers a market query for item in city.
func (s *Store) ItemPrice(ctx context.Context, item, city string) (Quote, error) {
	var base float64
	err := s.db.QueryRowContext(ctx,
		`SELECT base_value FROM master_data WHERE name = ? AND enabled = 1`, item,
	).Scan(&base)
	if errors.Is(err, sql.ErrNoRows) {
		return Quote{}, fmt.Errorf("%w: %s", ErrUnknownItem, item)
	}
	if err != nil {
		return Quote{}, fmt.Errorf("lookup item: %w", err)
	}

	var rate float64
	var demand sql.NullString
	err = s.db.QueryRowContext(ctx,
		`SELECT rate, demand FROM market_rates WHERE city = ? AND item_name = ? AND enabled = 1`,
		city, item,
	).Scan(&rate, &demand)
	if errors.Is(err, sql.ErrNoRows) {
		return Quote{}, fmt.Errorf("%w: %s in %s", ErrNoMarketRate, item, city)
	}
	if err != nil {
		return Quote{}, fmt.Errorf("lookup market rate: %w", err)
	}

	return Quote{
		BaseValue: base,
		Rate:      rate,
		Demand:    demand.String,
		Price:     int(math.Round(base * rate)),
	}, nil
}

// LogAction records a user interaction and the bot's response.
func (s *Store) LogAction(ctx context.Context, userID, userName, action, response string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO user_actions (ts, user_id, user_name, action, response) VALUES (?, ?, ?, ?, ?)`,
		time.Now().UTC(), userID, userName, action, response,
	)
	if err != nil {
		return fmt.Errorf("log action: %w", err)
	}
	return nil
}
