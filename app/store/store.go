package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/mkorzh/listing-sieve/app/rules"
)

// ErrUnavailable is returned when the store cannot be reached after the
// configured number of attempts. A pass that hits this error aborts whole.
var ErrUnavailable = errors.New("preference store unavailable")

var commaSplit = regexp.MustCompile(`\s*,\s*`)

// Options tunes retry behavior and snapshot defaults.
type Options struct {
	Retries              int
	RetryDelay           time.Duration
	DefaultStrataCeiling int
}

// Store is the persisted preference store: filter settings plus the
// blacklist, with change notifications for interested watchers.
type Store struct {
	db   *DB
	opts Options

	mu   sync.RWMutex
	subs map[int]func(Change)
	next int
}

func NewStore(db *DB, opts Options) *Store {
	if opts.Retries <= 0 {
		opts.Retries = 5
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = time.Second
	}
	return &Store{db: db, opts: opts, subs: make(map[int]func(Change))}
}

// Subscribe registers a listener for committed changes. The returned
// function removes the subscription.
func (s *Store) Subscribe(fn func(Change)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.next
	s.next++
	s.subs[id] = fn

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.subs, id)
	}
}

func (s *Store) notify(change Change) {
	s.mu.RLock()
	listeners := make([]func(Change), 0, len(s.subs))
	for _, fn := range s.subs {
		listeners = append(listeners, fn)
	}
	s.mu.RUnlock()

	for _, fn := range listeners {
		fn(change)
	}
}

// withRetry runs op, retrying transient failures with a fixed delay. After
// the last attempt the underlying error is wrapped in ErrUnavailable.
func (s *Store) withRetry(ctx context.Context, op func() error) error {
	var err error
	for attempt := 0; attempt < s.opts.Retries; attempt++ {
		if err = op(); err == nil {
			return nil
		}
		if attempt == s.opts.Retries-1 {
			break
		}
		slog.Warn("Preference store access failed, retrying",
			"attempt", attempt+1, "delay", s.opts.RetryDelay.String(), "error", err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.opts.RetryDelay):
		}
	}
	return fmt.Errorf("%w: %w", ErrUnavailable, err)
}

// Snapshot reads all settings and the blacklist in one pass. Every
// classification batch takes a fresh snapshot; nothing is cached between
// batches since the store may change concurrently.
func (s *Store) Snapshot(ctx context.Context) (Settings, error) {
	var settings Settings

	err := s.withRetry(ctx, func() error {
		raw, err := s.readSettings(ctx)
		if err != nil {
			return err
		}
		blacklist, err := s.readBlacklist(ctx)
		if err != nil {
			return err
		}

		settings = Settings{
			ExcludeKeywords:  splitList(raw[KeyExcludeKeywords]),
			StrataCeiling:    s.opts.DefaultStrataCeiling,
			Preferences:      splitLines(raw[KeyPreferences]),
			OtherPreferences: splitList(raw[KeyOtherPreference]),
			Blacklist:        blacklist,
		}
		if v, ok := raw[KeyStrataCeiling]; ok {
			if ceiling, err := strconv.Atoi(v); err == nil {
				settings.StrataCeiling = ceiling
			}
		}
		return nil
	})

	return settings, err
}

func (s *Store) readSettings(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key, value FROM settings`)
	if err != nil {
		return nil, fmt.Errorf("failed to read settings: %w", err)
	}
	defer rows.Close()

	raw := make(map[string]string)
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("failed to scan setting row: %w", err)
		}
		raw[key] = value
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating setting rows: %w", err)
	}

	return raw, nil
}

func (s *Store) readBlacklist(ctx context.Context) (map[string]struct{}, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT url FROM blacklist`)
	if err != nil {
		return nil, fmt.Errorf("failed to read blacklist: %w", err)
	}
	defer rows.Close()

	blacklist := make(map[string]struct{})
	for rows.Next() {
		var url string
		if err := rows.Scan(&url); err != nil {
			return nil, fmt.Errorf("failed to scan blacklist row: %w", err)
		}
		blacklist[url] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating blacklist rows: %w", err)
	}

	return blacklist, nil
}

// SetExcludeKeywords stores the raw comma-separated exclude keyword text.
func (s *Store) SetExcludeKeywords(ctx context.Context, text string) error {
	return s.setSetting(ctx, KeyExcludeKeywords, text)
}

// SetStrataCeiling stores the quarterly strata fee ceiling.
func (s *Store) SetStrataCeiling(ctx context.Context, ceiling int) error {
	if ceiling < 0 {
		return fmt.Errorf("strata ceiling must not be negative")
	}
	return s.setSetting(ctx, KeyStrataCeiling, strconv.Itoa(ceiling))
}

// SetPreferences stores the selected rule patterns. Every pattern is
// validated before the write so a corrupt pattern cannot later crash a
// classification pass.
func (s *Store) SetPreferences(ctx context.Context, patterns []string) error {
	for _, pattern := range patterns {
		if err := rules.Validate(pattern); err != nil {
			return err
		}
	}
	return s.setSetting(ctx, KeyPreferences, strings.Join(patterns, "\n"))
}

// SetOtherPreference stores the free-text "other preferences" input. Each
// comma-separated part must be a valid pattern.
func (s *Store) SetOtherPreference(ctx context.Context, text string) error {
	for _, part := range splitList(text) {
		if err := rules.Validate(part); err != nil {
			return err
		}
	}
	return s.setSetting(ctx, KeyOtherPreference, text)
}

func (s *Store) setSetting(ctx context.Context, key, value string) error {
	err := s.withRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO settings (key, value, updated_at)
			VALUES (?, ?, CURRENT_TIMESTAMP)
			ON CONFLICT (key) DO UPDATE SET
				value = excluded.value,
				updated_at = CURRENT_TIMESTAMP
		`, key, value)
		if err != nil {
			return fmt.Errorf("failed to store setting %s: %w", key, err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.notify(Change{Key: key})
	return nil
}

// ToggleBlacklist flips blacklist membership for a URL in a single
// transaction and reports the resulting membership. Concurrent toggles
// cannot lose updates the way read-modify-write of a whole list could.
func (s *Store) ToggleBlacklist(ctx context.Context, url string) (bool, error) {
	url = NormalizeURL(url)
	var nowListed bool

	err := s.withRetry(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin toggle transaction: %w", err)
		}
		defer tx.Rollback()

		res, err := tx.ExecContext(ctx,
			`INSERT INTO blacklist (url) VALUES (?) ON CONFLICT (url) DO NOTHING`, url)
		if err != nil {
			return fmt.Errorf("failed to insert blacklist entry: %w", err)
		}

		inserted, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to read toggle result: %w", err)
		}

		if inserted == 0 {
			if _, err := tx.ExecContext(ctx, `DELETE FROM blacklist WHERE url = ?`, url); err != nil {
				return fmt.Errorf("failed to delete blacklist entry: %w", err)
			}
		}
		nowListed = inserted > 0

		return tx.Commit()
	})
	if err != nil {
		return false, err
	}

	s.notify(Change{Key: ChangeBlacklist})
	return nowListed, nil
}

// Blacklist returns all entries in insertion order.
func (s *Store) Blacklist(ctx context.Context) ([]Entry, error) {
	var entries []Entry

	err := s.withRetry(ctx, func() error {
		rows, err := s.db.QueryContext(ctx,
			`SELECT url, added_at FROM blacklist ORDER BY added_at, url`)
		if err != nil {
			return fmt.Errorf("failed to list blacklist: %w", err)
		}
		defer rows.Close()

		entries = entries[:0]
		for rows.Next() {
			var entry Entry
			if err := rows.Scan(&entry.URL, &entry.AddedAt); err != nil {
				return fmt.Errorf("failed to scan blacklist entry: %w", err)
			}
			entries = append(entries, entry)
		}
		return rows.Err()
	})

	return entries, err
}

// BlacklistCount returns the number of blacklisted listings.
func (s *Store) BlacklistCount(ctx context.Context) (int, error) {
	var count int
	err := s.withRetry(ctx, func() error {
		return s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM blacklist`).Scan(&count)
	})
	if err != nil {
		return 0, fmt.Errorf("failed to count blacklist: %w", err)
	}
	return count, nil
}

// ClearBlacklist removes every entry.
func (s *Store) ClearBlacklist(ctx context.Context) error {
	err := s.withRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `DELETE FROM blacklist`)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to clear blacklist: %w", err)
	}

	s.notify(Change{Key: ChangeBlacklist})
	return nil
}

// splitList splits comma-separated user input into trimmed lower-cased
// parts. Empty input yields no parts.
func splitList(text string) []string {
	text = strings.TrimSpace(strings.ToLower(text))
	if text == "" {
		return nil
	}
	return commaSplit.Split(text, -1)
}

// splitLines splits the newline-joined stored pattern list.
func splitLines(text string) []string {
	if text == "" {
		return nil
	}
	return strings.Split(text, "\n")
}
