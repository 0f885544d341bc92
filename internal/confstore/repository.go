// Package confstore persists camera configuration records and the last
// known status snapshot per camera. The fleet reads records to build
// sessions and writes back online/active flags as connections come and go.
package confstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Repository defines the camera configuration persistence operations.
type Repository interface {
	Create(ctx context.Context, cam *Camera) error
	Get(ctx context.Context, id string) (*Camera, error)
	List(ctx context.Context) ([]Camera, error)
	Update(ctx context.Context, cam *Camera) error
	Delete(ctx context.Context, id string) error

	SetOnline(ctx context.Context, id string, online bool) error
	SetActive(ctx context.Context, id string, active bool) error

	SaveSnapshot(ctx context.Context, id string, snapshot map[string]any) error
	GetSnapshot(ctx context.Context, id string) (map[string]any, error)
}

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite-backed camera repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

const cameraColumns = `id, name, model, serial, host, port, username, password,
	device_index, online, active, auto_added, created_at, updated_at`

// Create inserts a new camera record. The ID must already be set.
func (r *SQLiteRepository) Create(ctx context.Context, cam *Camera) error {
	now := time.Now().UTC()
	cam.CreatedAt = now
	cam.UpdatedAt = now

	const query = `INSERT INTO cameras (` + cameraColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := r.db.ExecContext(ctx, query,
		cam.ID, cam.Name, cam.Model, cam.Serial, cam.Host, cam.Port,
		cam.Username, cam.Password, cam.Index,
		cam.Online, cam.Active, cam.AutoAdded,
		cam.CreatedAt.Format(time.RFC3339), cam.UpdatedAt.Format(time.RFC3339))
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return fmt.Errorf("%w: %s", ErrDuplicateID, cam.ID)
		}
		return fmt.Errorf("inserting camera %s: %w", cam.ID, err)
	}
	return nil
}

// Get returns a single camera record by identity key.
func (r *SQLiteRepository) Get(ctx context.Context, id string) (*Camera, error) {
	const query = `SELECT ` + cameraColumns + ` FROM cameras WHERE id = ?`
	cam, err := scanCamera(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, fmt.Errorf("querying camera %s: %w", id, err)
	}
	return cam, nil
}

// List returns all camera records ordered by device index then name.
func (r *SQLiteRepository) List(ctx context.Context) ([]Camera, error) {
	const query = `SELECT ` + cameraColumns + ` FROM cameras
		ORDER BY device_index, name`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("querying cameras: %w", err)
	}
	defer rows.Close()

	var cams []Camera
	for rows.Next() {
		cam, err := scanCamera(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning camera row: %w", err)
		}
		cams = append(cams, *cam)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating camera rows: %w", err)
	}
	return cams, nil
}

// Update rewrites a camera record in full.
func (r *SQLiteRepository) Update(ctx context.Context, cam *Camera) error {
	cam.UpdatedAt = time.Now().UTC()

	const query = `UPDATE cameras SET name = ?, model = ?, serial = ?,
		host = ?, port = ?, username = ?, password = ?, device_index = ?,
		online = ?, active = ?, auto_added = ?, updated_at = ?
		WHERE id = ?`
	res, err := r.db.ExecContext(ctx, query,
		cam.Name, cam.Model, cam.Serial, cam.Host, cam.Port,
		cam.Username, cam.Password, cam.Index,
		cam.Online, cam.Active, cam.AutoAdded,
		cam.UpdatedAt.Format(time.RFC3339), cam.ID)
	if err != nil {
		return fmt.Errorf("updating camera %s: %w", cam.ID, err)
	}
	return requireRow(res, cam.ID)
}

// Delete removes a camera record and its status snapshot.
func (r *SQLiteRepository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM cameras WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting camera %s: %w", id, err)
	}
	return requireRow(res, id)
}

// SetOnline records whether discovery currently sees the camera.
func (r *SQLiteRepository) SetOnline(ctx context.Context, id string, online bool) error {
	return r.setFlag(ctx, id, "online", online)
}

// SetActive records whether a live session is established.
func (r *SQLiteRepository) SetActive(ctx context.Context, id string, active bool) error {
	return r.setFlag(ctx, id, "active", active)
}

func (r *SQLiteRepository) setFlag(ctx context.Context, id, column string, value bool) error {
	// column is one of two compile-time constants, never user input.
	query := `UPDATE cameras SET ` + column + ` = ?, updated_at = ? WHERE id = ?`
	res, err := r.db.ExecContext(ctx, query,
		value, time.Now().UTC().Format(time.RFC3339), id)
	if err != nil {
		return fmt.Errorf("updating camera %s %s flag: %w", id, column, err)
	}
	return requireRow(res, id)
}

// SaveSnapshot upserts the last decoded status document for a camera.
func (r *SQLiteRepository) SaveSnapshot(ctx context.Context, id string, snapshot map[string]any) error {
	doc, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("encoding snapshot for %s: %w", id, err)
	}

	const query = `INSERT INTO camera_status (camera_id, snapshot, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(camera_id) DO UPDATE SET
			snapshot = excluded.snapshot, updated_at = excluded.updated_at`
	if _, err := r.db.ExecContext(ctx, query,
		id, string(doc), time.Now().UTC().Format(time.RFC3339)); err != nil {
		return fmt.Errorf("saving snapshot for %s: %w", id, err)
	}
	return nil
}

// GetSnapshot returns the last saved status document, or ErrNotFound.
func (r *SQLiteRepository) GetSnapshot(ctx context.Context, id string) (map[string]any, error) {
	var doc string
	err := r.db.QueryRowContext(ctx,
		`SELECT snapshot FROM camera_status WHERE camera_id = ?`, id).Scan(&doc)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: snapshot for %s", ErrNotFound, id)
		}
		return nil, fmt.Errorf("querying snapshot for %s: %w", id, err)
	}

	var snapshot map[string]any
	if err := json.Unmarshal([]byte(doc), &snapshot); err != nil {
		return nil, fmt.Errorf("decoding snapshot for %s: %w", id, err)
	}
	return snapshot, nil
}

// scanner covers both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanCamera(s scanner) (*Camera, error) {
	var cam Camera
	var createdAt, updatedAt string

	err := s.Scan(&cam.ID, &cam.Name, &cam.Model, &cam.Serial,
		&cam.Host, &cam.Port, &cam.Username, &cam.Password, &cam.Index,
		&cam.Online, &cam.Active, &cam.AutoAdded, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	cam.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	cam.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return &cam, nil
}

// requireRow converts a zero-row update/delete into ErrNotFound.
func requireRow(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking affected rows for %s: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}
