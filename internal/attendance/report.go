package attendance

import (
	"context"
	"time"

	"github.com/kottokmotors/clockin.click/internal/user"
)

// Identity is the slice of a user a report row exposes. Reports never
// carry PINs or admin levels.
type Identity struct {
	UserID    string `json:"userId"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
}

// Row is one hydrated report line: the raw event joined to the
// subject's and actor's display identity.
type Row struct {
	Event
	User          *Identity `json:"user"`
	ClockedByUser *Identity `json:"clockedByUser"`
	UserName      string    `json:"userName"`
	ClockedByName string    `json:"clockedByName"`
}

// Resolver hydrates user identities for report rows. Satisfied by
// *user.Repository.
type Resolver interface {
	BatchGet(ctx context.Context, ids []string) (map[string]user.User, error)
}

// Reporter joins the event log with user identity.
type Reporter struct {
	log   *Log
	users Resolver
}

// NewReporter builds a reporter over a log and a user resolver.
func NewReporter(log *Log, users Resolver) *Reporter {
	return &Reporter{log: log, users: users}
}

// Range returns the hydrated events of one user type in [start, end].
// Referenced users that no longer exist render as "Unknown" subjects
// or "System" actors; a missing user never fails the report.
func (r *Reporter) Range(ctx context.Context, userType string, start, end time.Time) ([]Row, error) {
	events, err := r.log.QueryRange(ctx, userType, start, end)
	if err != nil {
		return nil, err
	}
	names, err := r.lookupNames(ctx, events)
	if err != nil {
		return nil, err
	}
	rows := make([]Row, 0, len(events))
	for _, e := range events {
		row := Row{Event: e, UserName: "Unknown", ClockedByName: "System"}
		if u, ok := names[e.UserID]; ok {
			row.User = identityOf(u)
			row.UserName = u.FirstName + " " + u.LastName
		}
		if u, ok := names[e.ClockedBy]; ok {
			row.ClockedByUser = identityOf(u)
			row.ClockedByName = u.FirstName + " " + u.LastName
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// Daily aggregates one calendar day (UTC) of one user type.
func (r *Reporter) Daily(ctx context.Context, userType string, day time.Time) (DailySummary, error) {
	start, end := DayBounds(day)
	events, err := r.log.QueryRange(ctx, userType, start, end)
	if err != nil {
		return DailySummary{}, err
	}
	names, err := r.lookupNames(ctx, events)
	if err != nil {
		return DailySummary{}, err
	}
	minutes := MinutesByUser(events)
	return DailySummary{
		Date:         start.Format("2006-01-02"),
		UserType:     userType,
		Transactions: len(events),
		TotalHours:   SumHours(minutes),
		Users:        Totals(minutes, names),
	}, nil
}

// Weekly aggregates the Sunday-to-Saturday week containing day.
func (r *Reporter) Weekly(ctx context.Context, userType string, day time.Time) (WeeklySummary, error) {
	weekStart := StartOfWeek(day)
	weekEnd := weekStart.AddDate(0, 0, 7).Add(-time.Millisecond)
	events, err := r.log.QueryRange(ctx, userType, weekStart, weekEnd)
	if err != nil {
		return WeeklySummary{}, err
	}
	names, err := r.lookupNames(ctx, events)
	if err != nil {
		return WeeklySummary{}, err
	}
	minutes := MinutesByUser(events)
	return WeeklySummary{
		WeekStart: weekStart.Format("2006-01-02"),
		WeekEnd:   weekStart.AddDate(0, 0, 6).Format("2006-01-02"),
		UserType:  userType,
		Users:     Totals(minutes, names),
	}, nil
}

func (r *Reporter) lookupNames(ctx context.Context, events []Event) (map[string]user.User, error) {
	ids := make([]string, 0, len(events)*2)
	for _, e := range events {
		ids = append(ids, e.UserID, e.ClockedBy)
	}
	return r.users.BatchGet(ctx, ids)
}

func identityOf(u user.User) *Identity {
	return &Identity{UserID: u.UserID, FirstName: u.FirstName, LastName: u.LastName}
}

// DayBounds returns the inclusive UTC bounds of a calendar day.
func DayBounds(day time.Time) (time.Time, time.Time) {
	day = day.UTC()
	start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 0, 1).Add(-time.Millisecond)
	return start, end
}

// StartOfWeek returns midnight UTC of the Sunday on or before day.
func StartOfWeek(day time.Time) time.Time {
	day = day.UTC()
	start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
	return start.AddDate(0, 0, -int(start.Weekday()))
}
