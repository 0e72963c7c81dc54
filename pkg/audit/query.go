package audit

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/flotilla-dev/flotilla/pkg/sink"
)

// DeliveryFilter narrows a delivery record query. Zero values match
// everything.
type DeliveryFilter struct {
	Source string
	Target string
	Status string
	RunID  string
	Since  time.Time
	Until  time.Time
}

// QueryDeliveries returns delivery records matching the filter, newest
// first.
func (s *Store) QueryDeliveries(ctx context.Context, filter DeliveryFilter) ([]sink.DeliveryRecord, error) {
	var conditions []string
	var args []any

	add := func(cond string, arg any) {
		conditions = append(conditions, cond)
		args = append(args, arg)
	}

	if filter.Source != "" {
		add("source = ?", filter.Source)
	}
	if filter.Target != "" {
		add("target = ?", filter.Target)
	}
	if filter.Status != "" {
		add("status = ?", filter.Status)
	}
	if filter.RunID != "" {
		add("run_id = ?", filter.RunID)
	}
	if !filter.Since.IsZero() {
		add("created_at >= ?", filter.Since.UTC().Format(timeLayout))
	}
	if !filter.Until.IsZero() {
		add("created_at <= ?", filter.Until.UTC().Format(timeLayout))
	}

	query := "SELECT run_id, source, target, status, created_at FROM deliveries"
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY created_at DESC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query deliveries: %w", err)
	}
	defer rows.Close()

	var records []sink.DeliveryRecord
	for rows.Next() {
		var record sink.DeliveryRecord
		var status, createdAt string
		if err := rows.Scan(&record.RunID, &record.Source, &record.Target, &status, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan delivery row: %w", err)
		}
		record.Status = sink.Status(status)
		record.Time, err = time.Parse(time.RFC3339Nano, createdAt)
		if err != nil {
			return nil, fmt.Errorf("failed to parse delivery timestamp: %w", err)
		}
		records = append(records, record)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating delivery rows: %w", err)
	}

	return records, nil
}
