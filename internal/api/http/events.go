package http

import (
	"context"
	"net/http"

	syncx "github.com/mind-engage/mindengage-exams/internal/sync"
)

// EventFeed reads the attempt lifecycle log after a sequence number.
type EventFeed func(ctx context.Context, after int64, limit int) ([]syncx.Event, error)

// GET /events?after=0&limit=100
// Lets an offline site replay attempt transitions to an upstream server.
func EventsHandler(feed EventFeed) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		after := int64(parseIntDefault(r.URL.Query().Get("after"), 0))
		limit := parseIntDefault(r.URL.Query().Get("limit"), 100)
		if limit > 1000 {
			limit = 1000
		}
		evs, err := feed(r.Context(), after, limit)
		if err != nil {
			writeError(w, r, err)
			return
		}
		if evs == nil {
			evs = []syncx.Event{}
		}
		next := after
		if n := len(evs); n > 0 {
			next = evs[n-1].Seq
		}
		writeJSON(w, http.StatusOK, map[string]any{"events": evs, "next": next})
	}
}
