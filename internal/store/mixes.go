package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

const mixColumns = "id, name, description, created_at"

func scanMix(scanner rowScanner) (*Mix, error) {
	var (
		mix        Mix
		createdRaw string
	)
	if err := scanner.Scan(&mix.ID, &mix.Name, &mix.Description, &createdRaw); err != nil {
		return nil, err
	}
	if created, err := parseTimeString(createdRaw); err == nil {
		mix.CreatedAt = created
	}
	return &mix, nil
}

// CreateMix inserts a mix with its labels and origins in one transaction.
// Every origin must reference an existing annotated unit; the check runs
// inside the insert transaction so a concurrent delete cannot slip between.
func (s *Store) CreateMix(ctx context.Context, mix *Mix) (*Mix, error) {
	if mix == nil {
		return nil, errors.New("mix is nil")
	}
	var id int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		for _, origin := range mix.Origins {
			var exists int
			if err := tx.QueryRowContext(ctx,
				`SELECT EXISTS (SELECT 1 FROM annotated_units WHERE id = ?)`, origin.AnnotatedUnitID,
			).Scan(&exists); err != nil {
				return fmt.Errorf("check annotated unit: %w", err)
			}
			if exists == 0 {
				return fmt.Errorf("%w: %d", ErrAnnotatedUnitNotFound, origin.AnnotatedUnitID)
			}
		}

		res, err := tx.ExecContext(ctx,
			`INSERT INTO mixes (name, description, created_at) VALUES (?, ?, ?)`,
			mix.Name, mix.Description, nowString(),
		)
		if err != nil {
			return fmt.Errorf("insert mix: %w", err)
		}
		if id, err = res.LastInsertId(); err != nil {
			return fmt.Errorf("last insert id: %w", err)
		}
		for i, label := range mix.Labels {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO mix_labels (mix_id, position, label) VALUES (?, ?, ?)`, id, i, label,
			); err != nil {
				return fmt.Errorf("insert mix label: %w", err)
			}
		}
		for i, origin := range mix.Origins {
			ipMapping, err := encodePairs(origin.IPMapping)
			if err != nil {
				return err
			}
			macMapping, err := encodePairs(origin.MACMapping)
			if err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO mix_origins (mix_id, position, annotated_unit_id, ip_mapping_json, mac_mapping_json, timestamp)
                 VALUES (?, ?, ?, ?, ?, ?)`,
				id, i, origin.AnnotatedUnitID, ipMapping, macMapping, origin.Timestamp,
			); err != nil {
				return fmt.Errorf("insert mix origin: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.GetMix(ctx, id)
}

// GetMix fetches a mix with labels and origins.
func (s *Store) GetMix(ctx context.Context, id int64) (*Mix, error) {
	ctx = ensureContext(ctx)
	row := s.db.QueryRowContext(ctx, `SELECT `+mixColumns+` FROM mixes WHERE id = ?`, id)
	mix, err := scanMix(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get mix: %w", err)
	}
	if err := s.loadMixChildren(ctx, mix); err != nil {
		return nil, err
	}
	return mix, nil
}

func (s *Store) loadMixChildren(ctx context.Context, mix *Mix) error {
	var err error
	if mix.Labels, err = loadLabels(ctx, s.db, "mix_labels", "mix_id", mix.ID); err != nil {
		return err
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT annotated_unit_id, ip_mapping_json, mac_mapping_json, timestamp
         FROM mix_origins WHERE mix_id = ? ORDER BY position`, mix.ID)
	if err != nil {
		return fmt.Errorf("load mix origins: %w", err)
	}
	defer rows.Close()
	mix.Origins = []Origin{}
	for rows.Next() {
		var (
			origin     Origin
			ipMapping  string
			macMapping string
		)
		if err := rows.Scan(&origin.AnnotatedUnitID, &ipMapping, &macMapping, &origin.Timestamp); err != nil {
			return fmt.Errorf("scan mix origin: %w", err)
		}
		if origin.IPMapping, err = decodePairs(ipMapping); err != nil {
			return err
		}
		if origin.MACMapping, err = decodePairs(macMapping); err != nil {
			return err
		}
		mix.Origins = append(mix.Origins, origin)
	}
	return rows.Err()
}

// FindMixes returns mixes matching q, newest first.
func (s *Store) FindMixes(ctx context.Context, q MixQuery) ([]*Mix, error) {
	ctx = ensureContext(ctx)
	var (
		predicates []string
		args       []any
	)
	if q.Name != "" {
		predicates = append(predicates, `m.name LIKE ? ESCAPE '\'`)
		args = append(args, escapeLike(q.Name))
	}
	if q.Description != "" {
		predicates = append(predicates, `m.description LIKE ? ESCAPE '\'`)
		args = append(args, escapeLike(q.Description))
	}
	for _, label := range q.Labels {
		predicates = append(predicates, `EXISTS (SELECT 1 FROM mix_labels l WHERE l.mix_id = m.id AND l.label = ?)`)
		args = append(args, label)
	}

	query := `SELECT m.id, m.name, m.description, m.created_at FROM mixes m`
	if len(predicates) > 0 {
		joiner := " AND "
		if q.Operator == OperatorOr {
			joiner = " OR "
		}
		query += " WHERE " + strings.Join(predicates, joiner)
	}
	limit, offset, ok := pageWindow(q.Page, q.Limit)
	if !ok {
		return []*Mix{}, nil
	}
	query += ` ORDER BY m.created_at DESC, m.id DESC LIMIT ? OFFSET ?`
	args = append(args, limit, offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("find mixes: %w", err)
	}
	var mixes []*Mix
	for rows.Next() {
		mix, err := scanMix(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan mix: %w", err)
		}
		mixes = append(mixes, mix)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("iterate mixes: %w", err)
	}
	rows.Close()

	for _, mix := range mixes {
		if err := s.loadMixChildren(ctx, mix); err != nil {
			return nil, err
		}
	}
	return mixes, nil
}

// DeleteMix removes a mix together with its labels, origins and generation
// records. The file locations of the removed generations are returned so the
// caller can release their blobs.
func (s *Store) DeleteMix(ctx context.Context, id int64) ([]string, error) {
	var locations []string
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		locations = nil
		var exists int
		if err := tx.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM mixes WHERE id = ?)`, id).Scan(&exists); err != nil {
			return fmt.Errorf("check mix: %w", err)
		}
		if exists == 0 {
			return fmt.Errorf("%w: %d", ErrMixNotFound, id)
		}
		rows, err := tx.QueryContext(ctx,
			`SELECT file_location FROM generations WHERE mix_id = ? AND file_location IS NOT NULL`, id)
		if err != nil {
			return fmt.Errorf("list generation files: %w", err)
		}
		for rows.Next() {
			var location string
			if err := rows.Scan(&location); err != nil {
				rows.Close()
				return fmt.Errorf("scan generation file: %w", err)
			}
			locations = append(locations, location)
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return err
		}
		rows.Close()
		if _, err := tx.ExecContext(ctx, `DELETE FROM mixes WHERE id = ?`, id); err != nil {
			return fmt.Errorf("delete mix: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return locations, nil
}
