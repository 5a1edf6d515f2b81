// ABOUTME: Journal entries describing one reconciliation each
// ABOUTME: Append and filtered listing, newest first

package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Entry is one reconciled (or aborted) uplink.
type Entry struct {
	ID              string
	DevEUI          string
	DeduplicationID string
	Branch          string   // which reconciliation path was taken
	State           string   // final tracker state
	Actions         []string // e.g. "device:update", "keys:create"
	Error           string
	Timestamp       time.Time
}

// Filter narrows List results.
type Filter struct {
	DevEUI *string
	Since  *time.Time
	Limit  int // default 50, max 1000
}

// Append stores e. ID and Timestamp are generated when unset.
func (j *Journal) Append(ctx context.Context, e *Entry) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	actions := e.Actions
	if actions == nil {
		actions = []string{}
	}
	actionsJSON, err := json.Marshal(actions)
	if err != nil {
		return fmt.Errorf("marshaling actions: %w", err)
	}

	_, err = j.db.ExecContext(ctx, `
		INSERT INTO reconciliations (entry_id, dev_eui, deduplication_id, branch, state, actions_json, error, ts)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		e.ID,
		e.DevEUI,
		nullString(e.DeduplicationID),
		e.Branch,
		e.State,
		string(actionsJSON),
		nullString(e.Error),
		e.Timestamp.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("inserting journal entry: %w", err)
	}

	j.logger.Debug("journal entry appended", "id", e.ID, "dev_eui", e.DevEUI, "state", e.State)
	return nil
}

func normalizeLimit(limit int) int {
	switch {
	case limit <= 0:
		return 50
	case limit > 1000:
		return 1000
	default:
		return limit
	}
}

// List returns entries matching f, newest first.
func (j *Journal) List(ctx context.Context, f Filter) ([]Entry, error) {
	var since *string
	if f.Since != nil {
		s := f.Since.UTC().Format(time.RFC3339)
		since = &s
	}

	rows, err := j.db.QueryContext(ctx, `
		SELECT entry_id, dev_eui, deduplication_id, branch, state, actions_json, error, ts
		FROM reconciliations
		WHERE (? IS NULL OR dev_eui = ?)
		  AND (? IS NULL OR ts >= ?)
		ORDER BY ts DESC, rowid DESC
		LIMIT ?
	`,
		f.DevEUI, f.DevEUI,
		since, since,
		normalizeLimit(f.Limit),
	)
	if err != nil {
		return nil, fmt.Errorf("querying journal: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating journal: %w", err)
	}
	return entries, nil
}

func scanEntry(scanner interface{ Scan(dest ...any) error }) (Entry, error) {
	var (
		e           Entry
		dedupID     sql.NullString
		errText     sql.NullString
		actionsJSON string
		ts          string
	)
	if err := scanner.Scan(&e.ID, &e.DevEUI, &dedupID, &e.Branch, &e.State, &actionsJSON, &errText, &ts); err != nil {
		return e, fmt.Errorf("scanning journal entry: %w", err)
	}
	e.DeduplicationID = dedupID.String
	e.Error = errText.String

	if err := json.Unmarshal([]byte(actionsJSON), &e.Actions); err != nil {
		return e, fmt.Errorf("unmarshaling actions: %w", err)
	}
	var err error
	e.Timestamp, err = time.Parse(time.RFC3339, ts)
	if err != nil {
		return e, fmt.Errorf("parsing timestamp: %w", err)
	}
	return e, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
