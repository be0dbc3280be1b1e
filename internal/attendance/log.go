package attendance

import (
	"context"
	"sort"
	"time"

	"github.com/kottokmotors/clockin.click/internal/store"
	"github.com/kottokmotors/clockin.click/internal/user"
)

// Log is the append-only clock event log, partitioned by
// {userType}#{yearMonth} buckets.
type Log struct {
	kv       store.KV
	pageSize int
}

// NewLog creates an event log over the store.
func NewLog(kv store.KV) *Log {
	return &Log{kv: kv, pageSize: 100}
}

// Append records one clock transition. A zero timestamp means now.
// There is no deduplication: concurrent double-submission simply
// produces two events.
func (l *Log) Append(ctx context.Context, userID, userType, state, clockedBy string, at time.Time) (Event, error) {
	if at.IsZero() {
		at = time.Now()
	}
	at = at.UTC()
	evt := Event{
		UserTypeYearMonth: BucketTag(userType, at),
		DateTimeStamp:     at.Format(user.TimeFormat),
		UserID:            userID,
		State:             state,
		ClockedBy:         clockedBy,
	}
	k := store.Key{Partition: evt.UserTypeYearMonth, Sort: evt.DateTimeStamp}
	if err := l.kv.PutItem(ctx, Table, k, Encode(evt)); err != nil {
		return Event{}, err
	}
	return evt, nil
}

// QueryRange returns all events of one user type with timestamps in
// [start, end], ascending. A range spanning a month boundary issues
// one bucket query per calendar month touched; within each bucket the
// pagination cursor is followed to exhaustion. Buckets are disjoint,
// so the concatenation has no duplicates and no gap at the boundary.
func (l *Log) QueryRange(ctx context.Context, userType string, start, end time.Time) ([]Event, error) {
	start, end = start.UTC(), end.UTC()
	startStamp := start.Format(user.TimeFormat)
	endStamp := end.Format(user.TimeFormat)

	var events []Event
	for _, month := range monthsBetween(start, end) {
		partition := userType + "#" + month
		cursor := ""
		for {
			items, next, err := l.kv.QueryRange(ctx, Table, partition, startStamp, endStamp, cursor, l.pageSize)
			if err != nil {
				return nil, err
			}
			for _, item := range items {
				events = append(events, Decode(item))
			}
			if next == "" {
				break
			}
			cursor = next
		}
	}
	sort.Slice(events, func(i, j int) bool {
		return events[i].DateTimeStamp < events[j].DateTimeStamp
	})
	return events, nil
}

// monthsBetween lists the year-month tags a range touches, in order.
func monthsBetween(start, end time.Time) []string {
	var months []string
	cur := time.Date(start.Year(), start.Month(), 1, 0, 0, 0, 0, time.UTC)
	last := time.Date(end.Year(), end.Month(), 1, 0, 0, 0, 0, time.UTC)
	for !cur.After(last) {
		months = append(months, cur.Format("2006-01"))
		cur = cur.AddDate(0, 1, 0)
	}
	return months
}
