package repository

import (
	"context"
	"database/sql"
	"fmt"

	"newroi/ledger-service/internal/models"
)

type RunRepository interface {
	Create(ctx context.Context, run *models.DistributionRun) error
	ListRecent(ctx context.Context, limit int) ([]*models.DistributionRun, error)
}

type runRepository struct {
	db DBTX
}

// NewRunRepository creates a distribution run repository
func NewRunRepository(db DBTX) RunRepository {
	return &runRepository{db: db}
}

func (r *runRepository) Create(ctx context.Context, run *models.DistributionRun) error {
	query := `
		INSERT INTO distribution_runs (run_id, run_date, is_manual, force_rerun, triggered_by, credited, skipped, missed, failed,
			total_roi, total_commission, total_missed, stopped, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	result, err := r.db.ExecContext(ctx, query,
		run.RunID, run.RunDate.Format("2006-01-02"), run.IsManual, run.ForceRerun, run.TriggeredBy,
		run.Credited, run.Skipped, run.Missed, run.Failed,
		run.TotalROI, run.TotalCommission, run.TotalMissed, run.Stopped,
		run.StartedAt, run.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record distribution run: %w", err)
	}

	id, err := result.LastInsertId()
	if err == nil {
		run.ID = uint64(id)
	}
	return nil
}

func (r *runRepository) ListRecent(ctx context.Context, limit int) ([]*models.DistributionRun, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, run_id, run_date, is_manual, force_rerun, triggered_by, credited, skipped, missed, failed,
		       total_roi, total_commission, total_missed, stopped, started_at, finished_at
		FROM distribution_runs
		ORDER BY started_at DESC, id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list distribution runs: %w", err)
	}
	defer rows.Close()

	var runs []*models.DistributionRun
	for rows.Next() {
		run := &models.DistributionRun{}
		var triggeredBy sql.NullInt64
		if err := rows.Scan(
			&run.ID, &run.RunID, &run.RunDate, &run.IsManual, &run.ForceRerun, &triggeredBy,
			&run.Credited, &run.Skipped, &run.Missed, &run.Failed,
			&run.TotalROI, &run.TotalCommission, &run.TotalMissed, &run.Stopped,
			&run.StartedAt, &run.FinishedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan distribution run: %w", err)
		}
		if triggeredBy.Valid {
			id := uint64(triggeredBy.Int64)
			run.TriggeredBy = &id
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate distribution runs: %w", err)
	}
	return runs, nil
}
