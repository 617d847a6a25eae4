package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

const unitColumns = "id, created_at, updated_at, stage, file_location, format, annotation, annotated_unit_id, error_message"

func scanUnit(scanner rowScanner) (*Unit, error) {
	var (
		unit            Unit
		createdRaw      string
		updatedRaw      string
		stage           string
		annotation      sql.NullString
		annotatedUnitID sql.NullInt64
		errorMessage    sql.NullString
	)
	if err := scanner.Scan(
		&unit.ID,
		&createdRaw,
		&updatedRaw,
		&stage,
		&unit.FileLocation,
		&unit.Format,
		&annotation,
		&annotatedUnitID,
		&errorMessage,
	); err != nil {
		return nil, err
	}
	unit.Stage = UnitStage(stage)
	unit.Annotation = annotation.String
	unit.AnnotatedUnitID = annotatedUnitID.Int64
	unit.ErrorMessage = errorMessage.String
	if created, err := parseTimeString(createdRaw); err == nil {
		unit.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw); err == nil {
		unit.UpdatedAt = updated
	}
	return &unit, nil
}

// CreateUnit records a freshly uploaded capture.
func (s *Store) CreateUnit(ctx context.Context, fileLocation, format, annotation string) (*Unit, error) {
	now := nowString()
	res, err := s.execWithRetry(ctx,
		`INSERT INTO units (created_at, updated_at, stage, file_location, format, annotation)
         VALUES (?, ?, ?, ?, ?, ?)`,
		now, now, UnitStageUploaded, fileLocation, format, nullableString(annotation),
	)
	if err != nil {
		return nil, fmt.Errorf("insert unit: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetUnit(ctx, id)
}

// GetUnit fetches a unit by identifier.
func (s *Store) GetUnit(ctx context.Context, id int64) (*Unit, error) {
	row := s.db.QueryRowContext(ensureContext(ctx), `SELECT `+unitColumns+` FROM units WHERE id = ?`, id)
	unit, err := scanUnit(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get unit: %w", err)
	}
	return unit, nil
}

// MarkUnitProcessed links a unit to the annotated unit created from it.
func (s *Store) MarkUnitProcessed(ctx context.Context, id, annotatedUnitID int64) error {
	return s.updateUnitStage(ctx, id, UnitStageProcessed, annotatedUnitID, "")
}

// MarkUnitFailed records why a unit could not be annotated.
func (s *Store) MarkUnitFailed(ctx context.Context, id int64, reason string) error {
	return s.updateUnitStage(ctx, id, UnitStageFailed, 0, reason)
}

func (s *Store) updateUnitStage(ctx context.Context, id int64, stage UnitStage, annotatedUnitID int64, reason string) error {
	res, err := s.execWithRetry(ctx,
		`UPDATE units SET stage = ?, annotated_unit_id = ?, error_message = ?, updated_at = ? WHERE id = ?`,
		stage, nullableID(annotatedUnitID), nullableString(reason), nowString(), id,
	)
	if err != nil {
		return fmt.Errorf("update unit stage: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %d", ErrUnitNotFound, id)
	}
	return nil
}
