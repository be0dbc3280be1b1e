package attendance

import (
	"math"
	"sort"

	"github.com/kottokmotors/clockin.click/internal/user"
)

// UserTotal is one user's worked time over a reporting window.
type UserTotal struct {
	UserID  string  `json:"userId"`
	Name    string  `json:"name"`
	Minutes float64 `json:"minutes"`
	Hours   float64 `json:"hours"`
}

// DailySummary aggregates one day of one user type's events.
type DailySummary struct {
	Date         string      `json:"date"`
	UserType     string      `json:"userType"`
	Transactions int         `json:"transactions"`
	TotalHours   float64     `json:"totalHours"`
	Users        []UserTotal `json:"users"`
}

// WeeklySummary aggregates a 7-day window per user.
type WeeklySummary struct {
	WeekStart string      `json:"weekStart"`
	WeekEnd   string      `json:"weekEnd"`
	UserType  string      `json:"userType"`
	Users     []UserTotal `json:"users"`
}

// PairMinutes turns one user's chronologically sorted events into
// worked minutes by strict lockstep pairing: events are examined two
// at a time, a well-formed In followed by Out contributes its
// duration, and any other adjacent pairing is consumed without
// contributing. No reordering, no recovery for malformed sequences,
// an odd trailing event is ignored. Changing this consumes-in-pairs
// walk changes reported totals; see the aggregation tests before
// touching it.
func PairMinutes(events []Event) float64 {
	total := 0.0
	for i := 0; i+1 < len(events); i += 2 {
		if events[i].State != user.StatusIn || events[i+1].State != user.StatusOut {
			continue
		}
		in, err := events[i].Time()
		if err != nil {
			continue
		}
		out, err := events[i+1].Time()
		if err != nil {
			continue
		}
		total += out.Sub(in).Minutes()
	}
	return total
}

// MinutesByUser groups events by subject, preserving the overall
// chronological order inside each group, and pairs each group.
func MinutesByUser(events []Event) map[string]float64 {
	grouped := make(map[string][]Event)
	for _, e := range events {
		grouped[e.UserID] = append(grouped[e.UserID], e)
	}
	totals := make(map[string]float64, len(grouped))
	for id, evts := range grouped {
		totals[id] = PairMinutes(evts)
	}
	return totals
}

// Totals converts per-user minutes into a stable, name-annotated
// list. Names come from the provided lookup; unknown IDs render as
// "Unknown".
func Totals(minutes map[string]float64, names map[string]user.User) []UserTotal {
	out := make([]UserTotal, 0, len(minutes))
	for id, mins := range minutes {
		name := "Unknown"
		if u, ok := names[id]; ok {
			name = u.FirstName + " " + u.LastName
		}
		out = append(out, UserTotal{
			UserID:  id,
			Name:    name,
			Minutes: round2(mins),
			Hours:   round2(mins / 60),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}

func round2(x float64) float64 {
	return math.Round(x*100) / 100
}

// SumHours totals a minutes map as hours with two-decimal rounding.
func SumHours(minutes map[string]float64) float64 {
	total := 0.0
	for _, mins := range minutes {
		total += mins
	}
	return round2(total / 60)
}
