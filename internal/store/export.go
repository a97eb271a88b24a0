package store

import (
	"context"
	"fmt"
	"time"

	"github.com/pavelanni/leaveportal/internal/model"
)

// ExportResults builds export-ready records for every submitted result.
func (q *Queries) ExportResults(ctx context.Context) ([]model.ExportResult, error) {
	rows, err := q.q.QueryContext(ctx,
		`SELECT u.username, u.display_name, l.id, l.start_date, l.end_date, l.status,
		        t.title, r.total_score, r.max_score, r.percentage, r.passed, r.tab_switch_count,
		        r.submitted_at, l.reevaluation_used, l.retest_used
		 FROM test_results r
		 JOIN tests t ON t.id = r.test_id
		 JOIN leaves l ON l.id = r.leave_id
		 JOIN users u ON u.id = r.student_id
		 ORDER BY u.username, r.submitted_at`)
	if err != nil {
		return nil, fmt.Errorf("query results: %w", err)
	}
	defer rows.Close()

	var results []model.ExportResult
	for rows.Next() {
		var er model.ExportResult
		var start, end time.Time
		if err := rows.Scan(&er.Username, &er.DisplayName, &er.LeaveID, &start, &end, &er.LeaveStatus,
			&er.TestTitle, &er.TotalScore, &er.MaxScore, &er.Percentage, &er.Passed, &er.TabSwitchCount,
			&er.SubmittedAt, &er.Reevaluated, &er.RetestUsed); err != nil {
			return nil, fmt.Errorf("scan result: %w", err)
		}
		er.LeaveStart = start.Format(model.DateLayout)
		er.LeaveEnd = end.Format(model.DateLayout)
		results = append(results, er)
	}
	return results, rows.Err()
}
