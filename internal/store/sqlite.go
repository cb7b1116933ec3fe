// Signalmap - Crowd-sourced Signal Source Location Estimation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/signalmap

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite" // registers the "sqlite" database/sql driver

	"github.com/tomtom215/signalmap/internal/logging"
	"github.com/tomtom215/signalmap/internal/models"
)

// positionFactor is the fixed decimal scale for persisted coordinates.
const positionFactor = 1e7

// SQLiteConfig configures the sqlite backend.
type SQLiteConfig struct {
	// Path is the database file. Empty or ":memory:" opens a private
	// in-memory database.
	Path string
}

// SQLiteStore persists sources, observations and the blacklist in sqlite.
// Coordinates are stored as integers scaled by 1e7 and decoded to degrees
// at the boundary. A single connection is used, so sqlite never reports
// SQLITE_BUSY between writers of different keys.
type SQLiteStore struct {
	db     *sql.DB
	opts   Options
	locks  *keyLocks
	closed atomic.Bool
}

var _ Store = (*SQLiteStore)(nil)

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// OpenSQLite opens the database and applies pending migrations.
func OpenSQLite(cfg SQLiteConfig, opts Options) (*SQLiteStore, error) {
	opts = opts.withDefaults()

	dsn := "file::memory:?_pragma=foreign_keys(1)"
	if cfg.Path != "" && cfg.Path != ":memory:" {
		dsn = fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", cfg.Path)
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	if err := migrateUp(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	version, _, err := schemaVersion(db)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("read schema version: %w", err)
	}
	logging.Info().Str("path", cfg.Path).Uint("schema_version", version).Msg("SQLite source store opened")

	return &SQLiteStore{db: db, opts: opts, locks: newKeyLocks(opts.LockStripes)}, nil
}

// Backend implements Store.
func (s *SQLiteStore) Backend() string { return BackendSQLite }

func (s *SQLiteStore) check(ctx context.Context) error {
	if s.closed.Load() {
		return ErrClosed
	}
	return ctx.Err()
}

func encodeCoord(deg float64) int64 {
	return int64(math.Round(deg * positionFactor))
}

func decodeCoord(v int64) float64 {
	return float64(v) / positionFactor
}

func nullInt(p *int) sql.NullInt64 {
	if p == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*p), Valid: true}
}

func intPtr(n sql.NullInt64) *int {
	if !n.Valid {
		return nil
	}
	v := int(n.Int64)
	return &v
}

func nullFloat(p *float64) sql.NullFloat64 {
	if p == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *p, Valid: true}
}

func floatPtr(n sql.NullFloat64) *float64 {
	if !n.Valid {
		return nil
	}
	v := n.Float64
	return &v
}

func nanos(t time.Time) int64 {
	return t.UnixNano()
}

func fromNanos(ns int64) time.Time {
	return time.Unix(0, ns).UTC()
}

// loadRecord reads a full record, or returns nil when absent.
func (s *SQLiteStore) loadRecord(ctx context.Context, q querier, key models.SourceKey) (*models.SourceRecord, error) {
	var (
		lat, lon, minSig, maxSig, maxFT, clusterSize sql.NullInt64
		radius                                       sql.NullFloat64
		samples, createdNS, updatedNS                int64
	)
	err := q.QueryRowContext(ctx, `
		SELECT lat, lon, radius, min_signal, max_signal, max_flight_time, cluster_size,
		       samples, created_ns, last_updated_ns
		FROM sources WHERE key = ?`, key.String()).
		Scan(&lat, &lon, &radius, &minSig, &maxSig, &maxFT, &clusterSize, &samples, &createdNS, &updatedNS)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	rec := &models.SourceRecord{
		Key:         key,
		Samples:     samples,
		Created:     fromNanos(createdNS),
		LastUpdated: fromNanos(updatedNS),
	}
	if lat.Valid && lon.Valid {
		rec.Estimate = &models.EstimatedLocation{
			Lat:           decodeCoord(lat.Int64),
			Lon:           decodeCoord(lon.Int64),
			Radius:        radius.Float64,
			MinSignal:     intPtr(minSig),
			MaxSignal:     intPtr(maxSig),
			MaxFlightTime: intPtr(maxFT),
			ClusterSize:   int(clusterSize.Int64),
		}
	}

	rows, err := q.QueryContext(ctx, `
		SELECT lat, lon, accuracy, altitude, altitude_accuracy, signal, flight_time, observed_ns
		FROM observations WHERE source_key = ? ORDER BY observed_ns, id`, key.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			oLat, oLon, observedNS int64
			accuracy               float64
			alt, altAcc            sql.NullFloat64
			signal, flightTime     sql.NullInt64
		)
		if err := rows.Scan(&oLat, &oLon, &accuracy, &alt, &altAcc, &signal, &flightTime, &observedNS); err != nil {
			return nil, err
		}
		rec.Observations = append(rec.Observations, models.Observation{
			Lat:              decodeCoord(oLat),
			Lon:              decodeCoord(oLon),
			Accuracy:         accuracy,
			Altitude:         floatPtr(alt),
			AltitudeAccuracy: floatPtr(altAcc),
			Signal:           intPtr(signal),
			FlightTime:       intPtr(flightTime),
			Time:             fromNanos(observedNS),
		})
	}
	return rec, rows.Err()
}

// saveRecord writes the source row and replaces its observations.
func (s *SQLiteStore) saveRecord(ctx context.Context, tx *sql.Tx, rec *models.SourceRecord) error {
	k := rec.Key
	var radio, mcc, mnc, lac, cid sql.NullInt64
	var mac sql.NullString
	if k.IsCell() {
		radio = sql.NullInt64{Int64: int64(k.Radio.Code()), Valid: true}
		mcc = sql.NullInt64{Int64: int64(k.MCC), Valid: true}
		mnc = sql.NullInt64{Int64: int64(k.MNC), Valid: true}
		lac = sql.NullInt64{Int64: int64(k.LAC), Valid: true}
		cid = sql.NullInt64{Int64: int64(k.CID), Valid: true}
	} else {
		mac = sql.NullString{String: k.MAC, Valid: true}
	}

	var lat, lon, minSig, maxSig, maxFT, clusterSize sql.NullInt64
	var radius sql.NullFloat64
	if e := rec.Estimate; e != nil {
		lat = sql.NullInt64{Int64: encodeCoord(e.Lat), Valid: true}
		lon = sql.NullInt64{Int64: encodeCoord(e.Lon), Valid: true}
		radius = sql.NullFloat64{Float64: e.Radius, Valid: true}
		minSig, maxSig, maxFT = nullInt(e.MinSignal), nullInt(e.MaxSignal), nullInt(e.MaxFlightTime)
		clusterSize = sql.NullInt64{Int64: int64(e.ClusterSize), Valid: true}
	}

	_, err := tx.ExecContext(ctx, `
		INSERT INTO sources (key, kind, radio, mcc, mnc, lac, cid, mac,
		                     lat, lon, radius, min_signal, max_signal, max_flight_time, cluster_size,
		                     samples, created_ns, last_updated_ns)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (key) DO UPDATE SET
			lat = excluded.lat, lon = excluded.lon, radius = excluded.radius,
			min_signal = excluded.min_signal, max_signal = excluded.max_signal,
			max_flight_time = excluded.max_flight_time, cluster_size = excluded.cluster_size,
			samples = excluded.samples, last_updated_ns = excluded.last_updated_ns`,
		k.String(), string(k.Kind), radio, mcc, mnc, lac, cid, mac,
		lat, lon, radius, minSig, maxSig, maxFT, clusterSize,
		rec.Samples, nanos(rec.Created), nanos(rec.LastUpdated))
	if err != nil {
		return fmt.Errorf("write source row: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM observations WHERE source_key = ?`, k.String()); err != nil {
		return fmt.Errorf("clear observations: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO observations (source_key, lat, lon, accuracy, altitude, altitude_accuracy, signal, flight_time, observed_ns)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare observation insert: %w", err)
	}
	defer stmt.Close()

	for _, o := range rec.Observations {
		_, err := stmt.ExecContext(ctx, k.String(), encodeCoord(o.Lat), encodeCoord(o.Lon), o.Accuracy,
			nullFloat(o.Altitude), nullFloat(o.AltitudeAccuracy), nullInt(o.Signal), nullInt(o.FlightTime), nanos(o.Time))
		if err != nil {
			return fmt.Errorf("insert observation: %w", err)
		}
	}
	return nil
}

func (s *SQLiteStore) loadBlacklist(ctx context.Context, q querier, key models.SourceKey) (*models.BlacklistEntry, error) {
	var (
		reason         string
		createdNS, obs int64
		lastSeenNS     sql.NullInt64
	)
	err := q.QueryRowContext(ctx, `SELECT reason, created_ns, observations, last_seen_ns FROM blacklist WHERE key = ?`, key.String()).
		Scan(&reason, &createdNS, &obs, &lastSeenNS)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	entry := &models.BlacklistEntry{Key: key, Reason: reason, Created: fromNanos(createdNS), Observations: obs}
	if lastSeenNS.Valid {
		entry.LastSeen = fromNanos(lastSeenNS.Int64)
	}
	return entry, nil
}

func (s *SQLiteStore) saveBlacklist(ctx context.Context, q querier, e *models.BlacklistEntry) error {
	var lastSeen sql.NullInt64
	if !e.LastSeen.IsZero() {
		lastSeen = sql.NullInt64{Int64: nanos(e.LastSeen), Valid: true}
	}
	_, err := q.ExecContext(ctx, `
		INSERT INTO blacklist (key, reason, created_ns, observations, last_seen_ns) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (key) DO UPDATE SET reason = excluded.reason, observations = excluded.observations,
			last_seen_ns = excluded.last_seen_ns`,
		e.Key.String(), e.Reason, nanos(e.Created), e.Observations, lastSeen)
	return err
}

// withTx runs fn in a transaction, committing on success.
func (s *SQLiteStore) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// Get implements Store.
func (s *SQLiteStore) Get(ctx context.Context, key models.SourceKey) (*models.SourceRecord, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	unlock := s.locks.rlock(key.String())
	defer unlock()

	rec, err := s.loadRecord(ctx, s.db, key)
	if err != nil {
		return nil, unavailable("get", key, err)
	}
	if rec == nil {
		return nil, models.ErrUnknownSource
	}
	return rec, nil
}

// Upsert implements Store.
func (s *SQLiteStore) Upsert(ctx context.Context, key models.SourceKey, obs models.Observation, recompute RecomputeFunc) (*models.SourceRecord, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	unlock := s.locks.lock(key.String())
	defer unlock()

	now := s.opts.now()
	var result *models.SourceRecord
	blacklisted := false

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		entry, err := s.loadBlacklist(ctx, tx, key)
		if err != nil {
			return err
		}
		if entry != nil {
			blacklisted = true
			recordBlacklistHit(entry, now)
			return s.saveBlacklist(ctx, tx, entry)
		}

		current, err := s.loadRecord(ctx, tx, key)
		if err != nil {
			return err
		}
		result = applyUpsert(current, key, obs, now, recompute)
		return s.saveRecord(ctx, tx, result)
	})
	if err != nil {
		return nil, unavailable("upsert", key, err)
	}
	if blacklisted {
		return nil, models.ErrBlacklisted
	}
	return result, nil
}

func (s *SQLiteStore) deleteRecord(ctx context.Context, q querier, key models.SourceKey) error {
	if _, err := q.ExecContext(ctx, `DELETE FROM observations WHERE source_key = ?`, key.String()); err != nil {
		return err
	}
	_, err := q.ExecContext(ctx, `DELETE FROM sources WHERE key = ?`, key.String())
	return err
}

// Delete implements Store.
func (s *SQLiteStore) Delete(ctx context.Context, key models.SourceKey) error {
	if err := s.check(ctx); err != nil {
		return err
	}
	unlock := s.locks.lock(key.String())
	defer unlock()

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		return s.deleteRecord(ctx, tx, key)
	})
	return unavailable("delete", key, err)
}

// PurgeIfStale implements Store.
func (s *SQLiteStore) PurgeIfStale(ctx context.Context, key models.SourceKey, cutoff time.Time) (bool, error) {
	if err := s.check(ctx); err != nil {
		return false, err
	}
	unlock := s.locks.lock(key.String())
	defer unlock()

	removed := false
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var updatedNS int64
		err := tx.QueryRowContext(ctx, `SELECT last_updated_ns FROM sources WHERE key = ?`, key.String()).Scan(&updatedNS)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return err
		}
		if !fromNanos(updatedNS).Before(cutoff) {
			return nil
		}
		removed = true
		return s.deleteRecord(ctx, tx, key)
	})
	if err != nil {
		return false, unavailable("purge", key, err)
	}
	return removed, nil
}

// ForEachKey implements Store.
func (s *SQLiteStore) ForEachKey(ctx context.Context, fn func(models.SourceKey) error) error {
	if err := s.check(ctx); err != nil {
		return err
	}

	rows, err := s.db.QueryContext(ctx, `SELECT key FROM sources ORDER BY key`)
	if err != nil {
		return fmt.Errorf("scan source keys: %w: %w", models.ErrStoreUnavailable, err)
	}
	var keys []models.SourceKey
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			rows.Close()
			return fmt.Errorf("scan source keys: %w: %w", models.ErrStoreUnavailable, err)
		}
		k, err := models.ParseSourceKey(raw)
		if err != nil {
			logging.Warn().Str("key", raw).Msg("Skipping unparseable source key")
			continue
		}
		keys = append(keys, k)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return fmt.Errorf("scan source keys: %w: %w", models.ErrStoreUnavailable, err)
	}
	rows.Close()

	for _, k := range keys {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(k); err != nil {
			return err
		}
	}
	return nil
}

// Blacklist implements Store.
func (s *SQLiteStore) Blacklist(ctx context.Context, key models.SourceKey, reason string) error {
	if err := s.check(ctx); err != nil {
		return err
	}
	unlock := s.locks.lock(key.String())
	defer unlock()

	now := s.opts.now()
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		existing, err := s.loadBlacklist(ctx, tx, key)
		if err != nil {
			return err
		}
		if err := s.saveBlacklist(ctx, tx, newBlacklistEntry(existing, key, reason, now)); err != nil {
			return err
		}
		return s.deleteRecord(ctx, tx, key)
	})
	return unavailable("blacklist", key, err)
}

// IsBlacklisted implements Store.
func (s *SQLiteStore) IsBlacklisted(ctx context.Context, key models.SourceKey) (bool, error) {
	if err := s.check(ctx); err != nil {
		return false, err
	}
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM blacklist WHERE key = ?`, key.String()).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, unavailable("is blacklisted", key, err)
	}
	return true, nil
}

// BlacklistEntry implements Store.
func (s *SQLiteStore) BlacklistEntry(ctx context.Context, key models.SourceKey) (*models.BlacklistEntry, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	unlock := s.locks.rlock(key.String())
	defer unlock()

	entry, err := s.loadBlacklist(ctx, s.db, key)
	if err != nil {
		return nil, unavailable("blacklist entry", key, err)
	}
	if entry == nil {
		return nil, models.ErrUnknownSource
	}
	return entry, nil
}

// Ping implements Store.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	if err := s.check(ctx); err != nil {
		return err
	}
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping sqlite: %w: %w", models.ErrStoreUnavailable, err)
	}
	return nil
}

// Close implements Store.
func (s *SQLiteStore) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close sqlite: %w", err)
	}
	logging.Info().Msg("SQLite source store closed")
	return nil
}
