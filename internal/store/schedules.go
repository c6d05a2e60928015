package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/ibeckermayer/notedraft/internal/types"
)

var scheduleColumns = []string{"id", "account_id", "cadence", "day_of_week", "fire_time", "job", "status", "last_fired_at", "created_at"}

// AddSchedule persists a new schedule.
func (s *Store) AddSchedule(ctx context.Context, sch types.Schedule) error {
	job, err := json.Marshal(sch.Job)
	if err != nil {
		return fmt.Errorf("encode job: %w", err)
	}
	var dow any
	if sch.DayOfWeek != nil {
		dow = int(*sch.DayOfWeek)
	}
	if sch.CreatedAt.IsZero() {
		sch.CreatedAt = s.now()
	}
	_, err = s.exec(ctx, sq.Insert("schedules").Columns(scheduleColumns...).
		Values(sch.ID, sch.AccountID, string(sch.Cadence), dow, sch.FireTime.String(), string(job),
			string(sch.Status), formatTimePtr(sch.LastFiredAt), formatTime(sch.CreatedAt)))
	return err
}

// ListSchedules returns one account's schedules in creation order.
func (s *Store) ListSchedules(ctx context.Context, accountID string) ([]types.Schedule, error) {
	return s.listSchedules(ctx, sq.Eq{"account_id": accountID})
}

// ListAllSchedules returns every account's schedules in creation order.
func (s *Store) ListAllSchedules(ctx context.Context) ([]types.Schedule, error) {
	return s.listSchedules(ctx, nil)
}

func (s *Store) listSchedules(ctx context.Context, where sq.Sqlizer) ([]types.Schedule, error) {
	b := sq.Select(scheduleColumns...).From("schedules").OrderBy("created_at", "id")
	if where != nil {
		b = b.Where(where)
	}
	rows, err := s.query(ctx, b)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanSchedules(rows)
}

// RemoveSchedule deletes a schedule owned by accountID.
func (s *Store) RemoveSchedule(ctx context.Context, accountID, id string) error {
	res, err := s.exec(ctx, sq.Delete("schedules").Where(sq.Eq{"account_id": accountID, "id": id}))
	if err != nil {
		return err
	}
	return mustAffect(res, "schedule "+id)
}

// UpdateScheduleStatus pauses or resumes a schedule.
func (s *Store) UpdateScheduleStatus(ctx context.Context, accountID, id string, status types.Status) error {
	res, err := s.exec(ctx, sq.Update("schedules").
		Set("status", string(status)).
		Where(sq.Eq{"account_id": accountID, "id": id}))
	if err != nil {
		return err
	}
	return mustAffect(res, "schedule "+id)
}

// UpdateLastFired records the minute a schedule last fired.
func (s *Store) UpdateLastFired(ctx context.Context, accountID, id string, at time.Time) error {
	res, err := s.exec(ctx, sq.Update("schedules").
		Set("last_fired_at", formatTime(at)).
		Where(sq.Eq{"account_id": accountID, "id": id}))
	if err != nil {
		return err
	}
	return mustAffect(res, "schedule "+id)
}

func scanSchedules(rows *sql.Rows) ([]types.Schedule, error) {
	var out []types.Schedule
	for rows.Next() {
		var (
			sch                          types.Schedule
			cadence, fireTime, job, stat string
			dow                          sql.NullInt64
			lastFired                    sql.NullString
			createdAt                    string
		)
		err := rows.Scan(&sch.ID, &sch.AccountID, &cadence, &dow, &fireTime, &job, &stat, &lastFired, &createdAt)
		if err != nil {
			return nil, err
		}
		sch.Cadence = types.Cadence(cadence)
		sch.Status = types.Status(stat)
		if dow.Valid {
			d := types.Weekday(dow.Int64)
			sch.DayOfWeek = &d
		}
		if sch.FireTime, err = parseClock(fireTime); err != nil {
			return nil, fmt.Errorf("schedule %s: %w", sch.ID, err)
		}
		if err := json.Unmarshal([]byte(job), &sch.Job); err != nil {
			return nil, fmt.Errorf("schedule %s job: %w", sch.ID, err)
		}
		if sch.LastFiredAt, err = parseNullTime(lastFired); err != nil {
			return nil, err
		}
		if sch.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		out = append(out, sch)
	}
	return out, rows.Err()
}

func parseClock(s string) (types.ClockTime, error) {
	hh, mm, ok := strings.Cut(s, ":")
	if !ok {
		return types.ClockTime{}, fmt.Errorf("bad fire time %q", s)
	}
	h, err := strconv.Atoi(hh)
	if err != nil {
		return types.ClockTime{}, fmt.Errorf("bad fire time %q", s)
	}
	m, err := strconv.Atoi(mm)
	if err != nil {
		return types.ClockTime{}, fmt.Errorf("bad fire time %q", s)
	}
	return types.ClockTime{Hour: h, Minute: m}, nil
}
