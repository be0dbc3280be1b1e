package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	qt "github.com/frankban/quicktest"
	"github.com/gin-gonic/gin"

	"github.com/kottokmotors/clockin.click/internal/attendance"
	"github.com/kottokmotors/clockin.click/internal/auth"
	"github.com/kottokmotors/clockin.click/internal/config"
	"github.com/kottokmotors/clockin.click/internal/handler"
	"github.com/kottokmotors/clockin.click/internal/queue"
	"github.com/kottokmotors/clockin.click/internal/store"
	"github.com/kottokmotors/clockin.click/internal/user"
)

type fixture struct {
	router *gin.Engine
	users  *user.Repository
	log    *attendance.Log
	cfg    config.App
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := config.App{
		JWTIssuer:     "clockin-test",
		JWTSigningKey: "test-signing-secret",
		AccessTTL:     time.Hour,
		RefreshTTL:    24 * time.Hour,
	}
	kv := store.NewMemory()
	users := user.NewRepository(kv)
	events := attendance.NewLog(kv)
	reporter := attendance.NewReporter(events, users)
	h := handler.New(users, events, reporter, queue.NewInMemory(8), cfg)

	r := gin.New()
	h.Register(r)
	return &fixture{router: r, users: users, log: events, cfg: cfg}
}

func (f *fixture) token(t *testing.T, level string) string {
	t.Helper()
	pair, err := auth.Issue("admin-1", level, f.cfg.JWTIssuer, f.cfg.JWTSigningKey, f.cfg.AccessTTL, f.cfg.RefreshTTL)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	return pair.AccessToken
}

func (f *fixture) do(method, path, token string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func decodeBody(c *qt.C, w *httptest.ResponseRecorder) map[string]any {
	var out map[string]any
	c.Assert(json.Unmarshal(w.Body.Bytes(), &out), qt.IsNil)
	return out
}

func TestCreateUserRequiresEditToken(t *testing.T) {
	c := qt.New(t)
	f := newFixture(t)

	body := gin.H{
		"userId": "u-1", "firstName": "Ada", "lastName": "Lovelace",
		"roles": []string{user.RoleStaff},
	}

	w := f.do(http.MethodPost, "/users", "", body)
	c.Assert(w.Code, qt.Equals, http.StatusUnauthorized)

	w = f.do(http.MethodPost, "/users", f.token(t, user.AdminReadOnly), body)
	c.Assert(w.Code, qt.Equals, http.StatusForbidden)

	w = f.do(http.MethodPost, "/users", f.token(t, user.AdminEdit), body)
	c.Assert(w.Code, qt.Equals, http.StatusCreated)

	w = f.do(http.MethodGet, "/users/u-1", "", nil)
	c.Assert(w.Code, qt.Equals, http.StatusOK)
	c.Assert(decodeBody(c, w)["userId"], qt.Equals, "u-1")
}

func TestCreateUserValidation(t *testing.T) {
	c := qt.New(t)
	f := newFixture(t)
	token := f.token(t, user.AdminEdit)

	// Unknown role.
	w := f.do(http.MethodPost, "/users", token, gin.H{
		"userId": "u-1", "firstName": "A", "lastName": "B",
		"roles": []string{"wizard"},
	})
	c.Assert(w.Code, qt.Equals, http.StatusBadRequest)

	// Malformed PIN.
	w = f.do(http.MethodPost, "/users", token, gin.H{
		"userId": "u-1", "firstName": "A", "lastName": "B",
		"roles": []string{user.RoleStaff}, "pin": "12345",
	})
	c.Assert(w.Code, qt.Equals, http.StatusBadRequest)

	// Missing required fields.
	w = f.do(http.MethodPost, "/users", token, gin.H{"userId": "u-1"})
	c.Assert(w.Code, qt.Equals, http.StatusBadRequest)
}

func TestGetUserByPin(t *testing.T) {
	c := qt.New(t)
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.users.Create(ctx, user.User{
		UserID: "u-1", FirstName: "Ada", LastName: "Lovelace",
		Roles: []string{user.RoleStaff}, Pin: "1234",
	})
	c.Assert(err, qt.IsNil)

	w := f.do(http.MethodGet, "/users/by-pin?pin=1234", "", nil)
	c.Assert(w.Code, qt.Equals, http.StatusOK)
	c.Assert(decodeBody(c, w)["userId"], qt.Equals, "u-1")

	w = f.do(http.MethodGet, "/users/by-pin?pin=12ab", "", nil)
	c.Assert(w.Code, qt.Equals, http.StatusBadRequest)

	w = f.do(http.MethodGet, "/users/by-pin?pin=9999", "", nil)
	c.Assert(w.Code, qt.Equals, http.StatusNotFound)
}

func TestClockUserAppendsEvent(t *testing.T) {
	c := qt.New(t)
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.users.Create(ctx, user.User{
		UserID: "u-1", FirstName: "Lea", LastName: "Learner",
		Roles: []string{user.RoleLearner},
	})
	c.Assert(err, qt.IsNil)

	w := f.do(http.MethodPatch, "/users/u-1/status", "", gin.H{"status": user.StatusIn})
	c.Assert(w.Code, qt.Equals, http.StatusOK)
	body := decodeBody(c, w)
	c.Assert(body["user"].(map[string]any)["status"], qt.Equals, user.StatusIn)
	evt := body["event"].(map[string]any)
	c.Assert(evt["state"], qt.Equals, user.StatusIn)
	c.Assert(evt["clockedBy"], qt.Equals, "u-1")

	// Garbage status is rejected before any write.
	w = f.do(http.MethodPatch, "/users/u-1/status", "", gin.H{"status": "Sideways"})
	c.Assert(w.Code, qt.Equals, http.StatusBadRequest)

	// Clocking an unknown user is a 404.
	w = f.do(http.MethodPatch, "/users/nope/status", "", gin.H{"status": user.StatusIn})
	c.Assert(w.Code, qt.Equals, http.StatusNotFound)
}

func TestClockBatchPartialFailure(t *testing.T) {
	c := qt.New(t)
	f := newFixture(t)
	ctx := context.Background()

	for _, id := range []string{"l-1", "l-2"} {
		_, err := f.users.Create(ctx, user.User{
			UserID: id, FirstName: "Kid", LastName: id,
			Roles: []string{user.RoleLearner},
		})
		c.Assert(err, qt.IsNil)
	}

	w := f.do(http.MethodPost, "/clock/batch", "", gin.H{
		"clockedBy": "g-1",
		"actions": []gin.H{
			{"userId": "l-1", "status": user.StatusIn},
			{"userId": "l-2", "status": user.StatusIn},
			{"userId": "l-missing", "status": user.StatusIn},
		},
	})
	c.Assert(w.Code, qt.Equals, http.StatusMultiStatus)

	results := decodeBody(c, w)["results"].([]any)
	c.Assert(results, qt.HasLen, 3)
	byID := make(map[string]bool)
	for _, raw := range results {
		res := raw.(map[string]any)
		byID[res["userId"].(string)] = res["ok"].(bool)
	}
	c.Assert(byID, qt.DeepEquals, map[string]bool{
		"l-1": true, "l-2": true, "l-missing": false,
	})

	// The successful writes landed despite the failed sibling.
	u, err := f.users.GetByID(ctx, "l-1")
	c.Assert(err, qt.IsNil)
	c.Assert(u.Status, qt.Equals, user.StatusIn)
}

func TestClockBatchRejectsBadStatusUpfront(t *testing.T) {
	c := qt.New(t)
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.users.Create(ctx, user.User{
		UserID: "l-1", FirstName: "Kid", LastName: "One",
		Roles: []string{user.RoleLearner},
	})
	c.Assert(err, qt.IsNil)

	w := f.do(http.MethodPost, "/clock/batch", "", gin.H{
		"clockedBy": "g-1",
		"actions": []gin.H{
			{"userId": "l-1", "status": user.StatusIn},
			{"userId": "l-1", "status": "Nope"},
		},
	})
	c.Assert(w.Code, qt.Equals, http.StatusBadRequest)

	// Nothing was written.
	u, err := f.users.GetByID(ctx, "l-1")
	c.Assert(err, qt.IsNil)
	c.Assert(u.Status, qt.Equals, "")
}

func TestUpdateUserNullRemovesField(t *testing.T) {
	c := qt.New(t)
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.users.Create(ctx, user.User{
		UserID: "u-1", FirstName: "Grace", LastName: "Hopper",
		Roles: []string{user.RoleAdministrator}, Email: "grace@example.org",
		AdminLevel: user.AdminEdit,
	})
	c.Assert(err, qt.IsNil)
	token := f.token(t, user.AdminEdit)

	w := f.do(http.MethodPatch, "/users/u-1", token, map[string]any{
		"firstName": "Gracie",
		"email":     nil,
	})
	c.Assert(w.Code, qt.Equals, http.StatusOK)

	u, err := f.users.GetByID(ctx, "u-1")
	c.Assert(err, qt.IsNil)
	c.Assert(u.FirstName, qt.Equals, "Gracie")
	c.Assert(u.Email, qt.Equals, "")
	c.Assert(u.LastName, qt.Equals, "Hopper")
}

func TestUpdateUserLearnersWithoutGuardian(t *testing.T) {
	c := qt.New(t)
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.users.Create(ctx, user.User{
		UserID: "u-1", FirstName: "Sal", LastName: "Staff",
		Roles: []string{user.RoleStaff},
	})
	c.Assert(err, qt.IsNil)

	w := f.do(http.MethodPatch, "/users/u-1", f.token(t, user.AdminEdit), map[string]any{
		"learners": []string{"l-1"},
	})
	c.Assert(w.Code, qt.Equals, http.StatusBadRequest)
}

func TestDeleteUser(t *testing.T) {
	c := qt.New(t)
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.users.Create(ctx, user.User{
		UserID: "u-1", FirstName: "Sal", LastName: "Staff",
		Roles: []string{user.RoleStaff},
	})
	c.Assert(err, qt.IsNil)

	w := f.do(http.MethodDelete, "/users/u-1", f.token(t, user.AdminEdit), nil)
	c.Assert(w.Code, qt.Equals, http.StatusOK)
	c.Assert(decodeBody(c, w)["success"], qt.Equals, true)

	_, err = f.users.GetByID(ctx, "u-1")
	c.Assert(err, qt.ErrorIs, user.ErrNotFound)
}

func TestLogin(t *testing.T) {
	c := qt.New(t)
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.users.Create(ctx, user.User{
		UserID: "a-1", FirstName: "Grace", LastName: "Hopper",
		Roles: []string{user.RoleAdministrator}, Email: "grace@example.org",
		AdminLevel: user.AdminEdit,
	})
	c.Assert(err, qt.IsNil)
	_, err = f.users.Create(ctx, user.User{
		UserID: "s-1", FirstName: "Sal", LastName: "Staff",
		Roles: []string{user.RoleStaff}, Email: "sal@example.org",
	})
	c.Assert(err, qt.IsNil)

	w := f.do(http.MethodPost, "/auth/login", "", gin.H{"email": "grace@example.org"})
	c.Assert(w.Code, qt.Equals, http.StatusOK)
	body := decodeBody(c, w)
	c.Assert(body["admin_level"], qt.Equals, user.AdminEdit)
	token := body["access_token"].(string)

	// The issued token opens the view surface.
	w = f.do(http.MethodGet, "/users", token, nil)
	c.Assert(w.Code, qt.Equals, http.StatusOK)

	// An email without an admin level gets nothing.
	w = f.do(http.MethodPost, "/auth/login", "", gin.H{"email": "sal@example.org"})
	c.Assert(w.Code, qt.Equals, http.StatusForbidden)

	w = f.do(http.MethodPost, "/auth/login", "", gin.H{"email": "nobody@example.org"})
	c.Assert(w.Code, qt.Equals, http.StatusForbidden)
}

func TestDailyReportEndpoint(t *testing.T) {
	c := qt.New(t)
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.users.Create(ctx, user.User{
		UserID: "u-1", FirstName: "Ada", LastName: "Lovelace",
		Roles: []string{user.RoleStaff},
	})
	c.Assert(err, qt.IsNil)

	day := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	_, err = f.log.Append(ctx, "u-1", "staff", user.StatusIn, "u-1", day.Add(9*time.Hour))
	c.Assert(err, qt.IsNil)
	_, err = f.log.Append(ctx, "u-1", "staff", user.StatusOut, "u-1", day.Add(17*time.Hour))
	c.Assert(err, qt.IsNil)

	token := f.token(t, user.AdminReadOnly)

	w := f.do(http.MethodGet, "/reports/attendance/daily?date=2026-03-10&userType=staff", token, nil)
	c.Assert(w.Code, qt.Equals, http.StatusOK)
	body := decodeBody(c, w)
	c.Assert(body["transactions"], qt.Equals, 2.0)
	c.Assert(body["totalHours"], qt.Equals, 8.0)

	// Reports are gated: no token, no data.
	w = f.do(http.MethodGet, "/reports/attendance/daily?date=2026-03-10", "", nil)
	c.Assert(w.Code, qt.Equals, http.StatusUnauthorized)

	// Missing date parameter.
	w = f.do(http.MethodGet, "/reports/attendance/daily", token, nil)
	c.Assert(w.Code, qt.Equals, http.StatusBadRequest)
}

func TestAttendanceRangeEndpoint(t *testing.T) {
	c := qt.New(t)
	f := newFixture(t)
	ctx := context.Background()

	day := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	_, err := f.log.Append(ctx, "gone", "staff", user.StatusIn, "gone", day.Add(9*time.Hour))
	c.Assert(err, qt.IsNil)

	token := f.token(t, user.AdminReadOnly)

	w := f.do(http.MethodGet, "/reports/attendance?date=2026-03-10&userType=staff", token, nil)
	c.Assert(w.Code, qt.Equals, http.StatusOK)
	var rows []map[string]any
	c.Assert(json.Unmarshal(w.Body.Bytes(), &rows), qt.IsNil)
	c.Assert(rows, qt.HasLen, 1)
	c.Assert(rows[0]["userName"], qt.Equals, "Unknown")

	// Explicit start/end covering the same day.
	w = f.do(http.MethodGet, "/reports/attendance?start=2026-03-09&end=2026-03-11&userType=staff", token, nil)
	c.Assert(w.Code, qt.Equals, http.StatusOK)
	c.Assert(json.Unmarshal(w.Body.Bytes(), &rows), qt.IsNil)
	c.Assert(rows, qt.HasLen, 1)

	w = f.do(http.MethodGet, "/reports/attendance", token, nil)
	c.Assert(w.Code, qt.Equals, http.StatusBadRequest)
}
