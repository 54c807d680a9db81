package storage

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/dougsko/mm3d/pkg/qsolog"
)

// QSOQuery filters stored QSOs
type QSOQuery struct {
	Limit    int
	Offset   int
	Since    *time.Time
	Until    *time.Time
	Callsign string
}

// LogStats summarizes the stored log
type LogStats struct {
	TotalQSOs     int       `json:"total_qsos"`
	UniqueCalls   int       `json:"unique_calls"`
	NextSerial    int       `json:"next_serial"`
	FirstQSO      time.Time `json:"first_qso,omitempty"`
	LastQSO       time.Time `json:"last_qso,omitempty"`
	LastUpdatedAt time.Time `json:"last_updated_at"`
}

// GetQSOs returns stored QSOs in display order
func (ls *LogStore) GetQSOs(query QSOQuery) ([]qsolog.Entry, error) {
	var args []interface{}
	var conditions []string

	sqlQuery := `
		SELECT id, serial, timestamp, callsign, rst_sent, rst_received,
			   exchange_sent, exchange_received, frequency, mode
		FROM qsos
		WHERE 1=1
	`

	if query.Since != nil {
		conditions = append(conditions, "timestamp >= ?")
		args = append(args, query.Since.UTC())
	}

	if query.Until != nil {
		conditions = append(conditions, "timestamp <= ?")
		args = append(args, query.Until.UTC())
	}

	if query.Callsign != "" {
		conditions = append(conditions, "callsign = ?")
		args = append(args, strings.ToUpper(query.Callsign))
	}

	for _, condition := range conditions {
		sqlQuery += " AND " + condition
	}

	sqlQuery += " ORDER BY position ASC"

	// sqlite needs a LIMIT before OFFSET; -1 means no limit
	if query.Limit > 0 || query.Offset > 0 {
		limit := query.Limit
		if limit <= 0 {
			limit = -1
		}
		sqlQuery += " LIMIT ?"
		args = append(args, limit)

		if query.Offset > 0 {
			sqlQuery += " OFFSET ?"
			args = append(args, query.Offset)
		}
	}

	rows, err := ls.db.Query(sqlQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query qsos: %w", err)
	}
	defer rows.Close()

	var entries []qsolog.Entry
	for rows.Next() {
		var e qsolog.Entry
		err := rows.Scan(&e.ID, &e.Serial, &e.Timestamp, &e.Callsign,
			&e.RSTSent, &e.RSTReceived, &e.ExchangeSent, &e.ExchangeReceived,
			&e.Frequency, &e.Mode)
		if err != nil {
			return nil, fmt.Errorf("failed to scan qso: %w", err)
		}
		e.Timestamp = e.Timestamp.UTC()
		entries = append(entries, e)
	}

	return entries, rows.Err()
}

// GetStats returns counts over the stored log
func (ls *LogStore) GetStats() (LogStats, error) {
	var stats LogStats

	err := ls.db.QueryRow("SELECT COUNT(*), COUNT(DISTINCT callsign) FROM qsos").
		Scan(&stats.TotalQSOs, &stats.UniqueCalls)
	if err != nil {
		return stats, fmt.Errorf("failed to count qsos: %w", err)
	}

	if stats.TotalQSOs > 0 {
		var first, last sql.NullString
		err = ls.db.QueryRow("SELECT MIN(timestamp), MAX(timestamp) FROM qsos").Scan(&first, &last)
		if err != nil {
			return stats, fmt.Errorf("failed to read qso times: %w", err)
		}
		stats.FirstQSO = parseTime(first)
		stats.LastQSO = parseTime(last)
	}

	err = ls.db.QueryRow("SELECT next_serial, updated_at FROM log_state WHERE id = 1").
		Scan(&stats.NextSerial, &stats.LastUpdatedAt)
	if err != nil {
		return stats, fmt.Errorf("failed to read log state: %w", err)
	}

	return stats, nil
}

// aggregates come back as text, not DATETIME
func parseTime(s sql.NullString) time.Time {
	if !s.Valid {
		return time.Time{}
	}
	layouts := []string{
		"2006-01-02 15:04:05.999999999-07:00",
		"2006-01-02T15:04:05.999999999-07:00",
		"2006-01-02 15:04:05",
		time.RFC3339Nano,
	}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, s.String); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}
