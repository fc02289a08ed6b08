package syncx

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/mind-engage/mindengage-exams/internal/db"
)

// Attempt lifecycle event types.
const (
	AttemptCreated  = "AttemptCreated"
	AttemptFinished = "AttemptFinished"
	AttemptDeleted  = "AttemptDeleted"
)

type Event struct {
	Seq       int64           `json:"seq"`
	SiteID    string          `json:"site_id"`
	Type      string          `json:"type"`
	Key       string          `json:"key"` // attempt id
	DataJSON  json.RawMessage `json:"data"`
	CreatedAt int64           `json:"created_at"` // unix ms
}

type EventRepo struct {
	siteID string
	now    func() time.Time
}

func NewEventRepo(siteID string) *EventRepo {
	if siteID == "" {
		siteID = "local"
	}
	return &EventRepo{siteID: siteID, now: time.Now}
}

// Append writes an event through q, so callers can bind it to their transaction.
func (r *EventRepo) Append(ctx context.Context, q db.Querier, typ string, attemptID int64, data any) error {
	buf, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("event %s: %w", typ, err)
	}
	_, err = q.ExecContext(ctx,
		`INSERT INTO event_log (site_id, typ, key, data, created_at)
		 VALUES ($1,$2,$3,$4,$5)`,
		r.siteID, typ, strconv.FormatInt(attemptID, 10), string(buf), r.now().UnixMilli())
	if err != nil {
		return fmt.Errorf("event %s: %w", typ, err)
	}
	return nil
}

// Since returns events with seq greater than after, oldest first.
func (r *EventRepo) Since(ctx context.Context, q db.Querier, after int64, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := q.QueryContext(ctx,
		`SELECT seq, site_id, typ, key, data, created_at FROM event_log
		 WHERE seq > $1 ORDER BY seq ASC LIMIT $2`, after, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Event
	for rows.Next() {
		var (
			e    Event
			data string
		)
		if err := rows.Scan(&e.Seq, &e.SiteID, &e.Type, &e.Key, &data, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.DataJSON = json.RawMessage(data)
		out = append(out, e)
	}
	return out, rows.Err()
}
