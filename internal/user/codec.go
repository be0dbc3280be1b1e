package user

import "github.com/kottokmotors/clockin.click/internal/store"

// Stored attribute names for the users table.
const (
	AttrUserID               = "UserId"
	AttrFirstName            = "FirstName"
	AttrLastName             = "LastName"
	AttrRoles                = "Roles"
	AttrPin                  = "Pin"
	AttrEmail                = "Email"
	AttrStatus               = "Status"
	AttrLastClockTransaction = "LastClockTransaction"
	AttrLearners             = "Learners"
	AttrAdminLevel           = "AdminLevel"
)

// Encode converts a user to its stored attribute form. Roles are
// always written; optional scalars are omitted when empty rather than
// written as empty values; learner IDs are written only for guardians
// with a non-empty list.
func Encode(u User) store.Item {
	item := store.Item{
		AttrUserID:    store.String(u.UserID),
		AttrFirstName: store.String(u.FirstName),
		AttrLastName:  store.String(u.LastName),
		AttrRoles:     store.StringList(u.Roles),
	}
	if u.Email != "" {
		item[AttrEmail] = store.String(u.Email)
	}
	if u.Pin != "" {
		item[AttrPin] = store.String(u.Pin)
	}
	if u.Status != "" {
		item[AttrStatus] = store.String(u.Status)
	}
	if u.LastClockTransaction != "" {
		item[AttrLastClockTransaction] = store.String(u.LastClockTransaction)
	}
	if u.IsGuardian() && len(u.LearnerIDs) > 0 {
		item[AttrLearners] = store.StringList(u.LearnerIDs)
	}
	if u.AdminLevel != "" {
		item[AttrAdminLevel] = store.String(u.AdminLevel)
	}
	return item
}

// Decode converts a stored item back to a plain user. Absent optional
// attributes decode to empty values; a numeric admin level stored by
// an older writer is carried through verbatim as its decimal string.
// Guardian hydration is not the codec's job: LearnerIDs holds the
// bare stored IDs and Learners stays nil.
func Decode(item store.Item) User {
	u := User{
		UserID:               item.Scalar(AttrUserID),
		FirstName:            item.Scalar(AttrFirstName),
		LastName:             item.Scalar(AttrLastName),
		Roles:                item.StringList(AttrRoles),
		Pin:                  item.Scalar(AttrPin),
		Email:                item.Scalar(AttrEmail),
		Status:               item.Scalar(AttrStatus),
		LastClockTransaction: item.Scalar(AttrLastClockTransaction),
		AdminLevel:           item.Scalar(AttrAdminLevel),
		LearnerIDs:           item.StringList(AttrLearners),
	}
	if u.Roles == nil {
		u.Roles = []string{}
	}
	return u
}

// EncodeUpdate translates a partial edit into the store's set/remove
// form. Only provided fields appear in set; Remove names pass through
// as attribute removals.
func EncodeUpdate(upd Update) (set store.Item, remove []string) {
	set = store.Item{}
	scalar := func(attr string, v *string) {
		if v != nil {
			set[attr] = store.String(*v)
		}
	}
	scalar(AttrFirstName, upd.FirstName)
	scalar(AttrLastName, upd.LastName)
	scalar(AttrPin, upd.Pin)
	scalar(AttrEmail, upd.Email)
	scalar(AttrAdminLevel, upd.AdminLevel)
	scalar(AttrStatus, upd.Status)
	scalar(AttrLastClockTransaction, upd.LastClockTransaction)
	if upd.Roles != nil {
		set[AttrRoles] = store.StringList(*upd.Roles)
	}
	if upd.Learners != nil {
		set[AttrLearners] = store.StringList(*upd.Learners)
	}
	return set, upd.Remove
}
