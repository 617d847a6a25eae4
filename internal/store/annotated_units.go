package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

const annotatedUnitColumns = "id, name, description, created_at, stats_json, ip_details_json, file_location"

func scanAnnotatedUnit(scanner rowScanner) (*AnnotatedUnit, error) {
	var (
		au         AnnotatedUnit
		createdRaw string
		stats      sql.NullString
		ipDetails  sql.NullString
	)
	if err := scanner.Scan(&au.ID, &au.Name, &au.Description, &createdRaw, &stats, &ipDetails, &au.FileLocation); err != nil {
		return nil, err
	}
	if stats.Valid {
		au.Stats = []byte(stats.String)
	}
	if ipDetails.Valid {
		au.IPDetails = []byte(ipDetails.String)
	}
	if created, err := parseTimeString(createdRaw); err == nil {
		au.CreatedAt = created
	}
	return &au, nil
}

// CreateAnnotatedUnit inserts the unit and its labels in one transaction.
func (s *Store) CreateAnnotatedUnit(ctx context.Context, au *AnnotatedUnit) (*AnnotatedUnit, error) {
	if au == nil {
		return nil, errors.New("annotated unit is nil")
	}
	var id int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`INSERT INTO annotated_units (name, description, created_at, stats_json, ip_details_json, file_location)
             VALUES (?, ?, ?, ?, ?, ?)`,
			au.Name, au.Description, nowString(), nullableJSON(au.Stats), nullableJSON(au.IPDetails), au.FileLocation,
		)
		if err != nil {
			return fmt.Errorf("insert annotated unit: %w", err)
		}
		if id, err = res.LastInsertId(); err != nil {
			return fmt.Errorf("last insert id: %w", err)
		}
		for i, label := range au.Labels {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO annotated_unit_labels (annotated_unit_id, position, label) VALUES (?, ?, ?)`,
				id, i, label,
			); err != nil {
				return fmt.Errorf("insert annotated unit label: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.GetAnnotatedUnit(ctx, id)
}

// GetAnnotatedUnit fetches an annotated unit with its labels.
func (s *Store) GetAnnotatedUnit(ctx context.Context, id int64) (*AnnotatedUnit, error) {
	return getAnnotatedUnit(ensureContext(ctx), s.db, id)
}

func getAnnotatedUnit(ctx context.Context, q queryer, id int64) (*AnnotatedUnit, error) {
	row := q.QueryRowContext(ctx, `SELECT `+annotatedUnitColumns+` FROM annotated_units WHERE id = ?`, id)
	au, err := scanAnnotatedUnit(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get annotated unit: %w", err)
	}
	if au.Labels, err = loadLabels(ctx, q, "annotated_unit_labels", "annotated_unit_id", au.ID); err != nil {
		return nil, err
	}
	return au, nil
}

// ListAnnotatedUnits returns annotated units newest first.
func (s *Store) ListAnnotatedUnits(ctx context.Context, page, limit int) ([]*AnnotatedUnit, error) {
	ctx = ensureContext(ctx)
	limit, offset, ok := pageWindow(page, limit)
	if !ok {
		return []*AnnotatedUnit{}, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+annotatedUnitColumns+` FROM annotated_units ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`,
		limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("list annotated units: %w", err)
	}
	var units []*AnnotatedUnit
	for rows.Next() {
		au, err := scanAnnotatedUnit(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan annotated unit: %w", err)
		}
		units = append(units, au)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("iterate annotated units: %w", err)
	}
	rows.Close()
	for _, au := range units {
		if au.Labels, err = loadLabels(ctx, s.db, "annotated_unit_labels", "annotated_unit_id", au.ID); err != nil {
			return nil, err
		}
	}
	return units, nil
}

// OriginReferencesAnnotatedUnit reports whether any mix origin uses the unit.
func (s *Store) OriginReferencesAnnotatedUnit(ctx context.Context, id int64) (bool, error) {
	return originReferences(ensureContext(ctx), s.db, id)
}

func originReferences(ctx context.Context, q queryer, id int64) (bool, error) {
	var exists int
	if err := q.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM mix_origins WHERE annotated_unit_id = ?)`, id,
	).Scan(&exists); err != nil {
		return false, fmt.Errorf("check origin references: %w", err)
	}
	return exists != 0, nil
}

// DeleteAnnotatedUnit removes an unreferenced annotated unit. The reference
// check and the delete share one transaction. The deleted record is returned
// so the caller can release its blob.
func (s *Store) DeleteAnnotatedUnit(ctx context.Context, id int64) (*AnnotatedUnit, error) {
	var deleted *AnnotatedUnit
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		au, err := getAnnotatedUnit(ctx, tx, id)
		if err != nil {
			return err
		}
		if au == nil {
			return fmt.Errorf("%w: %d", ErrAnnotatedUnitNotFound, id)
		}
		referenced, err := originReferences(ctx, tx, id)
		if err != nil {
			return err
		}
		if referenced {
			return fmt.Errorf("%w: %d", ErrReferenced, id)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM annotated_units WHERE id = ?`, id); err != nil {
			return fmt.Errorf("delete annotated unit: %w", err)
		}
		deleted = au
		return nil
	})
	if err != nil {
		return nil, err
	}
	return deleted, nil
}

func loadLabels(ctx context.Context, q queryer, table, ownerColumn string, ownerID int64) ([]string, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT label FROM `+table+` WHERE `+ownerColumn+` = ? ORDER BY position`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("load labels: %w", err)
	}
	defer rows.Close()
	labels := []string{}
	for rows.Next() {
		var label string
		if err := rows.Scan(&label); err != nil {
			return nil, fmt.Errorf("scan label: %w", err)
		}
		labels = append(labels, label)
	}
	return labels, rows.Err()
}
