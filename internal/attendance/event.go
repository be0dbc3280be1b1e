package attendance

import (
	"time"

	"github.com/kottokmotors/clockin.click/internal/store"
	"github.com/kottokmotors/clockin.click/internal/user"
)

// Table is the logical attendance table. Events are write-once facts
// keyed by (bucket tag, timestamp); no secondary indexes are needed.
const Table = "Attendance"

// TableSpec for the attendance table.
var TableSpec = store.TableSpec{Name: Table}

// Stored attribute names.
const (
	AttrBucket    = "UserTypeYearMonth"
	AttrTimestamp = "DateTimeStamp"
	AttrUserID    = "UserId"
	AttrState     = "State"
	AttrClockedBy = "ClockedBy"
)

// Event is one immutable clock fact: subject transitioned to State at
// DateTimeStamp, recorded by ClockedBy (who may equal the subject).
type Event struct {
	UserTypeYearMonth string `json:"userTypeYearMonth"`
	DateTimeStamp     string `json:"dateTimeStamp"`
	UserID            string `json:"userId"`
	State             string `json:"state"`
	ClockedBy         string `json:"clockedBy"`
}

// Time parses the event's timestamp.
func (e Event) Time() (time.Time, error) {
	return time.Parse(user.TimeFormat, e.DateTimeStamp)
}

// BucketTag builds the composite partition tag that bounds any single
// range scan to one month of one user type's events.
func BucketTag(userType string, t time.Time) string {
	return userType + "#" + t.UTC().Format("2006-01")
}

// Encode converts an event to its stored form. Every attribute is
// required on write; there is no partial form.
func Encode(e Event) store.Item {
	return store.Item{
		AttrBucket:    store.String(e.UserTypeYearMonth),
		AttrTimestamp: store.String(e.DateTimeStamp),
		AttrUserID:    store.String(e.UserID),
		AttrState:     store.String(e.State),
		AttrClockedBy: store.String(e.ClockedBy),
	}
}

// Decode converts a stored item back to an event.
func Decode(item store.Item) Event {
	return Event{
		UserTypeYearMonth: item.Scalar(AttrBucket),
		DateTimeStamp:     item.Scalar(AttrTimestamp),
		UserID:            item.Scalar(AttrUserID),
		State:             item.Scalar(AttrState),
		ClockedBy:         item.Scalar(AttrClockedBy),
	}
}
