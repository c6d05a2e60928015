package store

import (
	"context"
	"database/sql"

	sq "github.com/Masterminds/squirrel"

	"github.com/ibeckermayer/notedraft/internal/types"
)

var outcomeColumns = []string{"schedule_id", "account_id", "fired_at", "success", "error_kind", "error_message", "result_url", "article_id"}

// RecordOutcome appends an execution outcome and returns its row id.
func (s *Store) RecordOutcome(ctx context.Context, o types.PostOutcome) (int64, error) {
	res, err := s.exec(ctx, sq.Insert("outcomes").Columns(outcomeColumns...).
		Values(o.ScheduleID, o.AccountID, formatTime(o.FiredAt), o.Success,
			o.ErrorKind, o.ErrorMessage, o.ResultURL, o.ArticleID))
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// ListOutcomes returns up to limit outcomes for accountID, newest first.
// An empty accountID lists every account; limit <= 0 means no limit.
func (s *Store) ListOutcomes(ctx context.Context, accountID string, limit int) ([]types.PostOutcome, error) {
	b := sq.Select(append([]string{"id"}, outcomeColumns...)...).From("outcomes").OrderBy("fired_at DESC", "id DESC")
	if accountID != "" {
		b = b.Where(sq.Eq{"account_id": accountID})
	}
	if limit > 0 {
		b = b.Limit(uint64(limit))
	}
	rows, err := s.query(ctx, b)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanOutcomes(rows)
}

func scanOutcomes(rows *sql.Rows) ([]types.PostOutcome, error) {
	var out []types.PostOutcome
	for rows.Next() {
		var (
			o       types.PostOutcome
			firedAt string
		)
		err := rows.Scan(&o.ID, &o.ScheduleID, &o.AccountID, &firedAt, &o.Success,
			&o.ErrorKind, &o.ErrorMessage, &o.ResultURL, &o.ArticleID)
		if err != nil {
			return nil, err
		}
		if o.FiredAt, err = parseTime(firedAt); err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}
