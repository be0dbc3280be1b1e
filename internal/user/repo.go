package user

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kottokmotors/clockin.click/internal/store"
)

// Table is the logical users table.
const Table = "Users"

// TableSpec declares the secondary lookups the store must serve.
var TableSpec = store.TableSpec{Name: Table, Indexes: []string{AttrPin, AttrEmail}}

var (
	// ErrNotFound is returned when no user matches a lookup.
	ErrNotFound = errors.New("user: not found")

	// ErrLearnersWithoutGuardian rejects an update that provides a
	// learner list while the resulting role set lacks guardian.
	ErrLearnersWithoutGuardian = errors.New("user: learners provided but roles do not include guardian")

	// ErrSweepIncomplete signals a partially applied guardian
	// reference sweep; the sweep is idempotent and safe to re-run.
	ErrSweepIncomplete = errors.New("user: guardian reference sweep incomplete")
)

// Repository is the single seam over the users table. All guardian
// fan-out hydration happens here, bounded by fanout so one guardian
// with many learners cannot flood the store.
type Repository struct {
	kv       store.KV
	fanout   int
	pageSize int
}

// NewRepository creates a repository with default fan-out and page
// size bounds.
func NewRepository(kv store.KV) *Repository {
	return &Repository{kv: kv, fanout: 8, pageSize: 100}
}

func key(id string) store.Key {
	return store.Key{Partition: id}
}

// GetByID returns one hydrated user or ErrNotFound.
func (r *Repository) GetByID(ctx context.Context, id string) (User, error) {
	item, err := r.kv.GetItem(ctx, Table, key(id))
	if errors.Is(err, store.ErrNotFound) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, err
	}
	u := Decode(item)
	if err := r.hydrate(ctx, &u); err != nil {
		return User{}, err
	}
	return u, nil
}

// GetByPin returns the first user carrying the PIN. Duplicate PINs
// are a data-quality concern, not an enforced constraint: the first
// index match wins and the tie-break order is backend-defined.
func (r *Repository) GetByPin(ctx context.Context, pin string) (User, error) {
	return r.getByIndex(ctx, AttrPin, pin)
}

// GetByEmail returns the single user with the email, used only by the
// admin sign-in gate.
func (r *Repository) GetByEmail(ctx context.Context, email string) (User, error) {
	return r.getByIndex(ctx, AttrEmail, email)
}

func (r *Repository) getByIndex(ctx context.Context, attribute, value string) (User, error) {
	items, err := r.kv.QueryIndex(ctx, Table, attribute, value, 1)
	if err != nil {
		return User{}, err
	}
	if len(items) == 0 {
		return User{}, ErrNotFound
	}
	u := Decode(items[0])
	if err := r.hydrate(ctx, &u); err != nil {
		return User{}, err
	}
	return u, nil
}

// GetAll returns every user, following scan pagination to exhaustion
// and hydrating each guardian's learner list.
func (r *Repository) GetAll(ctx context.Context) ([]User, error) {
	var users []User
	cursor := ""
	for {
		items, next, err := r.kv.Scan(ctx, Table, cursor, r.pageSize)
		if err != nil {
			return nil, err
		}
		for _, item := range items {
			users = append(users, Decode(item))
		}
		if next == "" {
			break
		}
		cursor = next
	}
	for i := range users {
		if err := r.hydrate(ctx, &users[i]); err != nil {
			return nil, err
		}
	}
	return users, nil
}

// GetByRoles filters the full roster by role-set intersection. There
// is no role index; a full scan is acceptable at roster scale.
func (r *Repository) GetByRoles(ctx context.Context, roles []string) ([]User, error) {
	all, err := r.GetAll(ctx)
	if err != nil {
		return nil, err
	}
	want := make(map[string]bool, len(roles))
	for _, role := range roles {
		want[role] = true
	}
	var out []User
	for _, u := range all {
		for _, role := range u.Roles {
			if want[role] {
				out = append(out, u)
				break
			}
		}
	}
	return out, nil
}

// Create stores a user, overwriting any record with the same ID.
// Required-field validation is the caller's job.
func (r *Repository) Create(ctx context.Context, u User) (User, error) {
	if err := r.kv.PutItem(ctx, Table, key(u.UserID), Encode(u)); err != nil {
		return User{}, err
	}
	return u, nil
}

// Update applies a partial edit. Learner lists are only honored when
// the resulting role set includes guardian: providing learners while
// dropping the role is rejected, and dropping the role alone clears
// the stored list.
func (r *Repository) Update(ctx context.Context, id string, upd Update) (User, error) {
	item, err := r.kv.GetItem(ctx, Table, key(id))
	if errors.Is(err, store.ErrNotFound) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, err
	}
	current := Decode(item)

	resulting := current.Roles
	if upd.Roles != nil {
		resulting = *upd.Roles
	}
	resultingGuardian := false
	for _, role := range resulting {
		if role == RoleGuardian {
			resultingGuardian = true
		}
	}
	if upd.Learners != nil && !resultingGuardian {
		return User{}, ErrLearnersWithoutGuardian
	}

	set, remove := EncodeUpdate(upd)
	if upd.Learners != nil && len(*upd.Learners) == 0 {
		delete(set, AttrLearners)
		remove = append(remove, AttrLearners)
	}
	if current.IsGuardian() && !resultingGuardian {
		remove = append(remove, AttrLearners)
	}

	updated, err := r.kv.UpdateItem(ctx, Table, key(id), set, remove)
	if errors.Is(err, store.ErrNotFound) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, err
	}
	u := Decode(updated)
	if err := r.hydrate(ctx, &u); err != nil {
		return User{}, err
	}
	return u, nil
}

// SetStatus records a clock transition on the user record and returns
// the hydrated result. No alternation check: any In/Out value is
// accepted regardless of the current state.
func (r *Repository) SetStatus(ctx context.Context, id, status string) (User, error) {
	now := time.Now().UTC().Format(TimeFormat)
	return r.Update(ctx, id, Update{
		Status:               &status,
		LastClockTransaction: &now,
	})
}

// Delete removes the user. When the deleted user held the learner
// role, every guardian referencing it is swept and patched; the sweep
// is not atomic with the delete, so a partial failure is surfaced as
// ErrSweepIncomplete and retried out of band.
func (r *Repository) Delete(ctx context.Context, id string) error {
	var wasLearner bool
	item, err := r.kv.GetItem(ctx, Table, key(id))
	switch {
	case errors.Is(err, store.ErrNotFound):
		// Deleting an absent user stays a success.
	case err != nil:
		return err
	default:
		wasLearner = Decode(item).HasRole(RoleLearner)
	}
	if err := r.kv.DeleteItem(ctx, Table, key(id)); err != nil {
		return err
	}
	if !wasLearner {
		return nil
	}
	return r.PruneLearnerRefs(ctx, id)
}

// PruneLearnerRefs removes a deleted learner's ID from every guardian
// record that still references it. Scan plus per-guardian patch, not
// a transaction: progress is logged per guardian and the whole sweep
// can be re-run safely after a partial failure.
func (r *Repository) PruneLearnerRefs(ctx context.Context, learnerID string) error {
	var failures []error
	pruned := 0
	cursor := ""
	for {
		items, next, err := r.kv.Scan(ctx, Table, cursor, r.pageSize)
		if err != nil {
			failures = append(failures, fmt.Errorf("scan: %w", err))
			break
		}
		for _, item := range items {
			g := Decode(item)
			if !g.IsGuardian() {
				continue
			}
			kept := make([]string, 0, len(g.LearnerIDs))
			for _, lid := range g.LearnerIDs {
				if lid != learnerID {
					kept = append(kept, lid)
				}
			}
			if len(kept) == len(g.LearnerIDs) {
				continue
			}
			set := store.Item{}
			var remove []string
			if len(kept) == 0 {
				remove = []string{AttrLearners}
			} else {
				set[AttrLearners] = store.StringList(kept)
			}
			if _, err := r.kv.UpdateItem(ctx, Table, key(g.UserID), set, remove); err != nil {
				failures = append(failures, fmt.Errorf("guardian %s: %w", g.UserID, err))
				continue
			}
			pruned++
			log.Printf("pruned learner %s from guardian %s", learnerID, g.UserID)
		}
		if next == "" {
			break
		}
		cursor = next
	}
	if len(failures) > 0 {
		log.Printf("learner %s sweep incomplete: %d guardians patched, %d failed", learnerID, pruned, len(failures))
		return fmt.Errorf("%w: %w", ErrSweepIncomplete, errors.Join(failures...))
	}
	return nil
}

// BatchGet fetches the given IDs with bounded parallelism and maps
// the ones that still exist. Missing IDs are simply absent from the
// result; report rendering tolerates them.
func (r *Repository) BatchGet(ctx context.Context, ids []string) (map[string]User, error) {
	unique := make([]string, 0, len(ids))
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		unique = append(unique, id)
	}

	results := make([]*User, len(unique))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.fanout)
	for i, id := range unique {
		i, id := i, id
		g.Go(func() error {
			item, err := r.kv.GetItem(gctx, Table, key(id))
			if errors.Is(err, store.ErrNotFound) {
				return nil
			}
			if err != nil {
				return err
			}
			u := Decode(item)
			results[i] = &u
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	out := make(map[string]User, len(unique))
	for _, u := range results {
		if u != nil {
			out[u.UserID] = *u
		}
	}
	return out, nil
}

// hydrate resolves a guardian's stored learner IDs into identity
// summaries, in stored order, with bounded parallel lookups. IDs that
// no longer resolve are dropped silently; the stored reference stays
// until an explicit sweep removes it.
func (r *Repository) hydrate(ctx context.Context, u *User) error {
	if !u.IsGuardian() || len(u.LearnerIDs) == 0 {
		return nil
	}
	found := make([]*LearnerSummary, len(u.LearnerIDs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.fanout)
	for i, id := range u.LearnerIDs {
		i, id := i, id
		g.Go(func() error {
			item, err := r.kv.GetItem(gctx, Table, key(id))
			if errors.Is(err, store.ErrNotFound) {
				return nil
			}
			if err != nil {
				return err
			}
			s := Decode(item).Summary()
			found[i] = &s
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	u.Learners = make([]LearnerSummary, 0, len(found))
	for _, s := range found {
		if s != nil {
			u.Learners = append(u.Learners, *s)
		}
	}
	return nil
}
