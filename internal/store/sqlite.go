package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/i474232898/pws-ingest/internal/weather"
)

// tsLayout is fixed width so stored timestamps sort lexicographically.
const tsLayout = "2006-01-02T15:04:05.000000000Z07:00"

const readingColumns = `id, response_id, station_id, data_datetime,
	air_temp, dew_point, precip, relative_humidity, solar_radiation, leaf_wetness,
	soil_moisture, soil_temp, wind_direction, wind_speed, wind_gust`

// SQLiteStore is the durable weather.Store backed by SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the database at path and applies pending migrations.
// An empty path or ":memory:" opens a private in-memory database.
func OpenSQLite(path string) (*SQLiteStore, error) {
	dsn, memory, err := buildDSN(path)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("db open: %w", err)
	}
	if memory {
		// Each connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("db ping: %w", err)
	}
	if err := Migrate(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("db migrate: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func buildDSN(path string) (string, bool, error) {
	params := []string{
		"_foreign_keys=on",
		"_busy_timeout=5000",
	}
	if path == "" || path == ":memory:" {
		return "file::memory:?" + strings.Join(params, "&"), true, nil
	}

	params = append(params, "_journal_mode=WAL")
	if strings.HasPrefix(path, "file:") {
		sep := "?"
		if strings.Contains(path, "?") {
			sep = "&"
		}
		return path + sep + strings.Join(params, "&"), false, nil
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", false, fmt.Errorf("mkdir %s: %w", dir, err)
		}
	}
	return fmt.Sprintf("file:%s?%s", path, strings.Join(params, "&")), false, nil
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Append inserts resp and its readings in one transaction.
func (s *SQLiteStore) Append(ctx context.Context, resp weather.RawResponse, readings []weather.Reading) (string, []int64, error) {
	if resp.ID == "" {
		return "", nil, &weather.IntegrityError{Op: "append response", Err: errors.New("empty response id")}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", nil, fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO raw_responses (id, station_id, station_type, data_start, data_end, request_time, status_code, status, body)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		resp.ID, resp.StationID, string(resp.StationType),
		formatTS(resp.DataStart), formatTS(resp.DataEnd), formatTS(resp.RequestTime),
		resp.StatusCode, resp.Status, resp.Body,
	)
	if err != nil {
		return "", nil, wrapWriteErr("append response", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO readings (response_id, station_id, data_datetime,
			air_temp, dew_point, precip, relative_humidity, solar_radiation, leaf_wetness,
			soil_moisture, soil_temp, wind_direction, wind_speed, wind_gust)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return "", nil, fmt.Errorf("prepare reading insert: %w", err)
	}
	defer stmt.Close()

	ids := make([]int64, 0, len(readings))
	for _, r := range readings {
		if r.StationID != "" && r.StationID != resp.StationID {
			return "", nil, &weather.IntegrityError{
				Op:  "append reading",
				Err: fmt.Errorf("reading for station %s under response of %s", r.StationID, resp.StationID),
			}
		}
		res, err := stmt.ExecContext(ctx,
			resp.ID, resp.StationID, formatTS(r.DataDatetime),
			r.AirTemp, r.DewPoint, r.Precip, r.RelativeHumidity, r.SolarRadiation, r.LeafWetness,
			r.SoilMoisture, r.SoilTemp, r.WindDirection, r.WindSpeed, r.WindGust,
		)
		if err != nil {
			return "", nil, wrapWriteErr("append reading", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return "", nil, fmt.Errorf("reading id: %w", err)
		}
		ids = append(ids, id)
	}

	if err := tx.Commit(); err != nil {
		return "", nil, fmt.Errorf("commit: %w", err)
	}
	return resp.ID, ids, nil
}

// LatestReadingTimestamp returns MAX(data_datetime) for the station.
func (s *SQLiteStore) LatestReadingTimestamp(ctx context.Context, stationID string) (time.Time, bool, error) {
	var latest sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT MAX(data_datetime) FROM readings WHERE station_id = ?`, stationID,
	).Scan(&latest)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("latest reading: %w", err)
	}
	if !latest.Valid {
		return time.Time{}, false, nil
	}
	ts, err := parseTS(latest.String)
	if err != nil {
		return time.Time{}, false, err
	}
	return ts, true, nil
}

func (s *SQLiteStore) HasAnyReadings(ctx context.Context, stationID string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM readings WHERE station_id = ? LIMIT 1`, stationID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("has readings: %w", err)
	}
	return true, nil
}

func (s *SQLiteStore) Response(ctx context.Context, id string) (weather.RawResponse, error) {
	var (
		resp                        weather.RawResponse
		stationType                 string
		dataStart, dataEnd, reqTime string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, station_id, station_type, data_start, data_end, request_time, status_code, status, body
		FROM raw_responses WHERE id = ?`, id,
	).Scan(&resp.ID, &resp.StationID, &stationType, &dataStart, &dataEnd, &reqTime, &resp.StatusCode, &resp.Status, &resp.Body)
	if errors.Is(err, sql.ErrNoRows) {
		return weather.RawResponse{}, ErrNotFound
	}
	if err != nil {
		return weather.RawResponse{}, fmt.Errorf("response %s: %w", id, err)
	}
	resp.StationType = weather.StationType(stationType)
	if resp.DataStart, err = parseTS(dataStart); err != nil {
		return weather.RawResponse{}, err
	}
	if resp.DataEnd, err = parseTS(dataEnd); err != nil {
		return weather.RawResponse{}, err
	}
	if resp.RequestTime, err = parseTS(reqTime); err != nil {
		return weather.RawResponse{}, err
	}
	return resp, nil
}

func (s *SQLiteStore) ReadingsByResponse(ctx context.Context, responseID string) ([]weather.Reading, error) {
	var exists int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM raw_responses WHERE id = ?`, responseID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("response %s: %w", responseID, err)
	}
	return s.queryReadings(ctx,
		`SELECT `+readingColumns+` FROM readings WHERE response_id = ? ORDER BY id`, responseID)
}

func (s *SQLiteStore) ReadingsBetween(ctx context.Context, stationID string, from, to time.Time) ([]weather.Reading, error) {
	return s.queryReadings(ctx,
		`SELECT `+readingColumns+` FROM readings
		 WHERE station_id = ? AND data_datetime >= ? AND data_datetime <= ?
		 ORDER BY data_datetime, id`,
		stationID, formatTS(from), formatTS(to))
}

func (s *SQLiteStore) queryReadings(ctx context.Context, query string, args ...any) ([]weather.Reading, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query readings: %w", err)
	}
	defer rows.Close()

	var out []weather.Reading
	for rows.Next() {
		var (
			r  weather.Reading
			ts string
		)
		if err := rows.Scan(&r.ID, &r.ResponseID, &r.StationID, &ts,
			&r.AirTemp, &r.DewPoint, &r.Precip, &r.RelativeHumidity, &r.SolarRadiation, &r.LeafWetness,
			&r.SoilMoisture, &r.SoilTemp, &r.WindDirection, &r.WindSpeed, &r.WindGust,
		); err != nil {
			return nil, fmt.Errorf("scan reading: %w", err)
		}
		if r.DataDatetime, err = parseTS(ts); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func formatTS(t time.Time) string {
	return t.UTC().Format(tsLayout)
}

func parseTS(s string) (time.Time, error) {
	t, err := time.Parse(tsLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse stored timestamp %q: %w", s, err)
	}
	return t.UTC(), nil
}

// wrapWriteErr reports constraint violations as integrity errors.
func wrapWriteErr(op string, err error) error {
	var se sqlite3.Error
	if errors.As(err, &se) && se.Code == sqlite3.ErrConstraint {
		return &weather.IntegrityError{Op: op, Err: err}
	}
	return fmt.Errorf("%s: %w", op, err)
}

var _ weather.Store = (*SQLiteStore)(nil)
