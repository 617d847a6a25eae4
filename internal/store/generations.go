package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

const generationColumns = "id, mix_id, created_at, updated_at, state, progress, expired, file_location, error_message, last_heartbeat"

func scanGeneration(scanner rowScanner) (*Generation, error) {
	var (
		gen          Generation
		createdRaw   string
		updatedRaw   string
		state        string
		expired      int
		fileLocation sql.NullString
		errorMessage sql.NullString
		heartbeatRaw sql.NullString
	)
	if err := scanner.Scan(
		&gen.ID,
		&gen.MixID,
		&createdRaw,
		&updatedRaw,
		&state,
		&gen.Progress,
		&expired,
		&fileLocation,
		&errorMessage,
		&heartbeatRaw,
	); err != nil {
		return nil, err
	}
	gen.State = GenerationState(state)
	gen.Expired = expired != 0
	gen.FileLocation = fileLocation.String
	gen.ErrorMessage = errorMessage.String
	if created, err := parseTimeString(createdRaw); err == nil {
		gen.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw); err == nil {
		gen.UpdatedAt = updated
	}
	if heartbeatRaw.Valid {
		if heartbeat, err := parseTimeString(heartbeatRaw.String); err == nil {
			gen.LastHeartbeat = &heartbeat
		}
	}
	return &gen, nil
}

// CreateGeneration inserts a new generation record for mixID and expires
// every previous record of that mix in the same transaction.
func (s *Store) CreateGeneration(ctx context.Context, mixID int64) (*Generation, error) {
	var id int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var exists int
		if err := tx.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM mixes WHERE id = ?)`, mixID).Scan(&exists); err != nil {
			return fmt.Errorf("check mix: %w", err)
		}
		if exists == 0 {
			return fmt.Errorf("%w: %d", ErrMixNotFound, mixID)
		}
		now := nowString()
		if _, err := tx.ExecContext(ctx,
			`UPDATE generations SET expired = 1, updated_at = ? WHERE mix_id = ? AND expired = 0`, now, mixID,
		); err != nil {
			return fmt.Errorf("expire previous generations: %w", err)
		}
		res, err := tx.ExecContext(ctx,
			`INSERT INTO generations (mix_id, created_at, updated_at, state, progress, expired)
             VALUES (?, ?, ?, ?, 0, 0)`,
			mixID, now, now, GenerationCreated,
		)
		if err != nil {
			return fmt.Errorf("insert generation: %w", err)
		}
		id, err = res.LastInsertId()
		return err
	})
	if err != nil {
		return nil, err
	}
	return s.GetGeneration(ctx, id)
}

// GetGeneration fetches a generation record by identifier.
func (s *Store) GetGeneration(ctx context.Context, id int64) (*Generation, error) {
	row := s.db.QueryRowContext(ensureContext(ctx), `SELECT `+generationColumns+` FROM generations WHERE id = ?`, id)
	gen, err := scanGeneration(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get generation: %w", err)
	}
	return gen, nil
}

// CurrentGeneration returns the newest non-expired generation of a mix.
func (s *Store) CurrentGeneration(ctx context.Context, mixID int64) (*Generation, error) {
	row := s.db.QueryRowContext(ensureContext(ctx),
		`SELECT `+generationColumns+` FROM generations
         WHERE mix_id = ? AND expired = 0
         ORDER BY created_at DESC, id DESC LIMIT 1`, mixID)
	gen, err := scanGeneration(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("current generation: %w", err)
	}
	return gen, nil
}

// ListGenerations returns every generation of a mix, newest first.
func (s *Store) ListGenerations(ctx context.Context, mixID int64) ([]*Generation, error) {
	rows, err := s.db.QueryContext(ensureContext(ctx),
		`SELECT `+generationColumns+` FROM generations WHERE mix_id = ? ORDER BY created_at DESC, id DESC`, mixID)
	if err != nil {
		return nil, fmt.Errorf("list generations: %w", err)
	}
	defer rows.Close()
	var gens []*Generation
	for rows.Next() {
		gen, err := scanGeneration(rows)
		if err != nil {
			return nil, fmt.Errorf("scan generation: %w", err)
		}
		gens = append(gens, gen)
	}
	return gens, rows.Err()
}

// UpdateGenerationProgress moves a running record to state/progress. The
// update never lowers progress and never touches a terminal record; it
// reports whether a row changed.
func (s *Store) UpdateGenerationProgress(ctx context.Context, id int64, state GenerationState, progress int) (bool, error) {
	if state.IsTerminal() {
		return false, fmt.Errorf("state %q is terminal; use CompleteGeneration or FailGeneration", state)
	}
	if progress < 0 || progress > 99 {
		return false, fmt.Errorf("progress %d out of range for a running generation", progress)
	}
	now := nowString()
	res, err := s.execWithRetry(ctx,
		`UPDATE generations SET state = ?, progress = ?, updated_at = ?, last_heartbeat = ?
         WHERE id = ? AND progress <= ? AND state NOT IN (?, ?)`,
		state, progress, now, now, id, progress, GenerationComplete, GenerationFailed,
	)
	if err != nil {
		return false, fmt.Errorf("update generation progress: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// CompleteGeneration marks the record complete with progress 100 and its
// output location in a single statement.
func (s *Store) CompleteGeneration(ctx context.Context, id int64, fileLocation string) error {
	if strings.TrimSpace(fileLocation) == "" {
		return errors.New("complete generation: file location is required")
	}
	res, err := s.execWithRetry(ctx,
		`UPDATE generations SET state = ?, progress = 100, file_location = ?, error_message = NULL, updated_at = ?
         WHERE id = ? AND state NOT IN (?, ?)`,
		GenerationComplete, fileLocation, nowString(), id, GenerationComplete, GenerationFailed,
	)
	if err != nil {
		return fmt.Errorf("complete generation: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %d", ErrGenerationClosed, id)
	}
	return nil
}

// FailGeneration marks a non-terminal record failed, keeping its progress.
func (s *Store) FailGeneration(ctx context.Context, id int64, reason string) (bool, error) {
	if strings.TrimSpace(reason) == "" {
		reason = "generation failed"
	}
	res, err := s.execWithRetry(ctx,
		`UPDATE generations SET state = ?, error_message = ?, updated_at = ?
         WHERE id = ? AND state NOT IN (?, ?)`,
		GenerationFailed, reason, nowString(), id, GenerationComplete, GenerationFailed,
	)
	if err != nil {
		return false, fmt.Errorf("fail generation: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// TouchGeneration refreshes the heartbeat of a running record.
func (s *Store) TouchGeneration(ctx context.Context, id int64) error {
	now := nowString()
	if _, err := s.execWithRetry(ctx,
		`UPDATE generations SET last_heartbeat = ? WHERE id = ? AND state NOT IN (?, ?)`,
		now, id, GenerationComplete, GenerationFailed,
	); err != nil {
		return fmt.Errorf("update generation heartbeat: %w", err)
	}
	return nil
}

// FailInFlightGenerations fails every non-terminal record except the ids in
// exclude. Used at startup for records no live worker owns.
func (s *Store) FailInFlightGenerations(ctx context.Context, reason string, exclude ...int64) (int64, error) {
	query := `UPDATE generations SET state = ?, error_message = ?, updated_at = ? WHERE state NOT IN (?, ?)`
	args := []any{GenerationFailed, reason, nowString(), GenerationComplete, GenerationFailed}
	query, args = excludeIDs(query, args, exclude)
	res, err := s.execWithRetry(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("fail in-flight generations: %w", err)
	}
	return res.RowsAffected()
}

// FailStaleGenerations fails running records whose heartbeat is older than
// cutoff, skipping the ids in exclude.
func (s *Store) FailStaleGenerations(ctx context.Context, cutoff time.Time, reason string, exclude ...int64) (int64, error) {
	query := `UPDATE generations SET state = ?, error_message = ?, updated_at = ?
         WHERE state NOT IN (?, ?) AND COALESCE(last_heartbeat, updated_at) < ?`
	args := []any{GenerationFailed, reason, nowString(), GenerationComplete, GenerationFailed, formatTime(cutoff)}
	query, args = excludeIDs(query, args, exclude)
	res, err := s.execWithRetry(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("fail stale generations: %w", err)
	}
	return res.RowsAffected()
}

func excludeIDs(query string, args []any, exclude []int64) (string, []any) {
	if len(exclude) == 0 {
		return query, args
	}
	query += ` AND id NOT IN (` + makePlaceholders(len(exclude)) + `)`
	for _, id := range exclude {
		args = append(args, id)
	}
	return query, args
}

// GenerationStats counts non-expired generation records by state.
func (s *Store) GenerationStats(ctx context.Context) (map[GenerationState]int, error) {
	rows, err := s.db.QueryContext(ensureContext(ctx),
		`SELECT state, COUNT(*) FROM generations WHERE expired = 0 GROUP BY state`)
	if err != nil {
		return nil, fmt.Errorf("generation stats: %w", err)
	}
	defer rows.Close()
	stats := make(map[GenerationState]int, len(allGenerationStates))
	for rows.Next() {
		var (
			state string
			count int
		)
		if err := rows.Scan(&state, &count); err != nil {
			return nil, fmt.Errorf("scan generation stats: %w", err)
		}
		stats[GenerationState(state)] = count
	}
	return stats, rows.Err()
}
