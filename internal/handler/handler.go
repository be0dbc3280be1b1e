package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/kottokmotors/clockin.click/internal/attendance"
	"github.com/kottokmotors/clockin.click/internal/auth"
	"github.com/kottokmotors/clockin.click/internal/config"
	"github.com/kottokmotors/clockin.click/internal/queue"
	"github.com/kottokmotors/clockin.click/internal/user"
)

var pinPattern = regexp.MustCompile(`^\d{4}$`)

var (
	clockEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "clockin_clock_events_total",
		Help: "Clock transitions recorded, by state and user type.",
	}, []string{"state", "user_type"})

	repairJobsQueued = promauto.NewCounter(prometheus.CounterOpts{
		Name: "clockin_repair_jobs_queued_total",
		Help: "Guardian reference repair jobs handed to the worker.",
	})
)

// Handler carries the portal's HTTP surface.
type Handler struct {
	users    *user.Repository
	events   *attendance.Log
	reporter *attendance.Reporter
	jobs     queue.Queue
	cfg      config.App
}

// New wires a handler.
func New(users *user.Repository, events *attendance.Log, reporter *attendance.Reporter, jobs queue.Queue, cfg config.App) *Handler {
	return &Handler{users: users, events: events, reporter: reporter, jobs: jobs, cfg: cfg}
}

// Register mounts all routes. Self-service routes (PIN lookup, clock
// actions) stay open for the kiosk; admin routes require a token, and
// mutations require the "edit" level.
func (h *Handler) Register(r *gin.Engine) {
	r.POST("/auth/login", h.Login)

	r.GET("/users/:id", h.GetUser)
	r.GET("/users/by-pin", h.GetUserByPin)
	r.GET("/users/by-email", h.GetUserByEmail)
	r.PATCH("/users/:id/status", h.ClockUser)
	r.POST("/clock/batch", h.ClockBatch)

	view := r.Group("/", auth.AdminAuth(h.cfg.JWTSigningKey, h.cfg.JWTIssuer, false))
	view.GET("/users", h.ListUsers)
	view.GET("/reports/attendance", h.AttendanceRange)
	view.GET("/reports/attendance/daily", h.DailyReport)
	view.GET("/reports/attendance/weekly", h.WeeklyReport)

	edit := r.Group("/", auth.AdminAuth(h.cfg.JWTSigningKey, h.cfg.JWTIssuer, true))
	edit.POST("/users", h.CreateUser)
	edit.PATCH("/users/:id", h.UpdateUser)
	edit.DELETE("/users/:id", h.DeleteUser)
}

// ---------- Auth ----------

type loginRequest struct {
	Email string `json:"email" binding:"required,email"`
}

// Login exchanges an identity-provider-verified email for portal
// tokens. Only users with an admin level get tokens; the level rides
// in the claims.
func (h *Handler) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	u, err := h.users.GetByEmail(c.Request.Context(), req.Email)
	if errors.Is(err, user.ErrNotFound) {
		c.JSON(http.StatusForbidden, gin.H{"error": "not an administrator"})
		return
	}
	if err != nil {
		h.storageError(c, err)
		return
	}
	if !u.IsAdmin() {
		c.JSON(http.StatusForbidden, gin.H{"error": "not an administrator"})
		return
	}
	tokens, err := auth.Issue(u.UserID, u.AdminLevel, h.cfg.JWTIssuer, h.cfg.JWTSigningKey, h.cfg.AccessTTL, h.cfg.RefreshTTL)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token issue failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"access_token":  tokens.AccessToken,
		"refresh_token": tokens.RefreshToken,
		"expires_at":    tokens.AccessExp.Unix(),
		"admin_level":   u.AdminLevel,
	})
}

// ---------- Users ----------

func (h *Handler) GetUser(c *gin.Context) {
	u, err := h.users.GetByID(c.Request.Context(), c.Param("id"))
	if errors.Is(err, user.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
		return
	}
	if err != nil {
		h.storageError(c, err)
		return
	}
	c.JSON(http.StatusOK, u)
}

func (h *Handler) GetUserByPin(c *gin.Context) {
	pin := c.Query("pin")
	if pin == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "pin is required"})
		return
	}
	if !pinPattern.MatchString(pin) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "pin must be 4 digits"})
		return
	}
	u, err := h.users.GetByPin(c.Request.Context(), pin)
	if errors.Is(err, user.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
		return
	}
	if err != nil {
		h.storageError(c, err)
		return
	}
	c.JSON(http.StatusOK, u)
}

func (h *Handler) GetUserByEmail(c *gin.Context) {
	email := c.Query("email")
	if email == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "email is required"})
		return
	}
	u, err := h.users.GetByEmail(c.Request.Context(), email)
	if errors.Is(err, user.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
		return
	}
	if err != nil {
		h.storageError(c, err)
		return
	}
	c.JSON(http.StatusOK, u)
}

// ListUsers returns the roster, optionally filtered by
// ?roles=a,b (role-set intersection).
func (h *Handler) ListUsers(c *gin.Context) {
	var (
		users []user.User
		err   error
	)
	if roles := c.QueryArray("roles"); len(roles) > 0 {
		users, err = h.users.GetByRoles(c.Request.Context(), splitCSV(roles))
	} else {
		users, err = h.users.GetAll(c.Request.Context())
	}
	if err != nil {
		h.storageError(c, err)
		return
	}
	if users == nil {
		users = []user.User{}
	}
	c.JSON(http.StatusOK, users)
}

type createUserRequest struct {
	UserID     string   `json:"userId" binding:"required"`
	FirstName  string   `json:"firstName" binding:"required"`
	LastName   string   `json:"lastName" binding:"required"`
	Roles      []string `json:"roles" binding:"required,min=1"`
	Pin        string   `json:"pin"`
	Email      string   `json:"email"`
	Status     string   `json:"status"`
	AdminLevel string   `json:"adminLevel"`
	Learners   []string `json:"learners"`
}

func (h *Handler) CreateUser(c *gin.Context) {
	var req createUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	for _, role := range req.Roles {
		if !user.ValidRole(role) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown role: " + role})
			return
		}
	}
	if req.Pin != "" && !pinPattern.MatchString(req.Pin) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "pin must be 4 digits"})
		return
	}
	u := user.User{
		UserID:     req.UserID,
		FirstName:  req.FirstName,
		LastName:   req.LastName,
		Roles:      req.Roles,
		Pin:        req.Pin,
		Email:      req.Email,
		Status:     req.Status,
		AdminLevel: req.AdminLevel,
	}
	if u.IsGuardian() {
		u.LearnerIDs = req.Learners
	}
	created, err := h.users.Create(c.Request.Context(), u)
	if err != nil {
		h.storageError(c, err)
		return
	}
	c.JSON(http.StatusCreated, created)
}

// UpdateUser applies a partial edit. A field set to JSON null is
// removed from the stored record; an omitted field is untouched.
func (h *Handler) UpdateUser(c *gin.Context) {
	var body map[string]json.RawMessage
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	upd, err := buildUpdate(body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	u, err := h.users.Update(c.Request.Context(), c.Param("id"), upd)
	if errors.Is(err, user.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
		return
	}
	if errors.Is(err, user.ErrLearnersWithoutGuardian) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		h.storageError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "user": u})
}

// DeleteUser removes a user. The guardian-reference sweep that
// follows a learner deletion is not atomic: if it only partially
// completes, the deletion still succeeds and a repair job is queued
// so the worker re-runs the sweep.
func (h *Handler) DeleteUser(c *gin.Context) {
	id := c.Param("id")
	err := h.users.Delete(c.Request.Context(), id)
	if errors.Is(err, user.ErrSweepIncomplete) {
		log.Printf("delete %s: %v", id, err)
		h.queueRepair(c.Request.Context(), id)
		c.JSON(http.StatusOK, gin.H{"success": true, "repair_queued": true})
		return
	}
	if err != nil {
		h.storageError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h *Handler) queueRepair(ctx context.Context, learnerID string) {
	msg, err := queue.NewRepairMessage(queue.RepairJob{
		ID:        uuid.NewString(),
		LearnerID: learnerID,
		Requested: time.Now().UTC(),
	})
	if err == nil {
		err = h.jobs.Publish(ctx, msg)
	}
	if err != nil {
		log.Printf("repair job for learner %s not queued: %v", learnerID, err)
		return
	}
	repairJobsQueued.Inc()
}

// ---------- Clocking ----------

type clockRequest struct {
	Status      string `json:"status" binding:"required"`
	UserType    string `json:"userType"`
	ClockedByID string `json:"clockedById"`
}

// ClockUser records one clock transition: the user record's cached
// status flips and an event is appended to the log. Any In/Out value
// is accepted; alternation is the UI's concern, not the API's.
func (h *Handler) ClockUser(c *gin.Context) {
	var req clockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Status != user.StatusIn && req.Status != user.StatusOut {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid status"})
		return
	}
	id := c.Param("id")
	updated, evt, err := h.clock(c.Request.Context(), id, req.UserType, req.Status, req.ClockedByID)
	if errors.Is(err, user.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
		return
	}
	if err != nil {
		h.storageError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": updated, "event": evt})
}

func (h *Handler) clock(ctx context.Context, id, userType, status, clockedBy string) (user.User, attendance.Event, error) {
	if userType == "" {
		userType = user.RoleLearner
	}
	if clockedBy == "" {
		clockedBy = id
	}
	updated, err := h.users.SetStatus(ctx, id, status)
	if err != nil {
		return user.User{}, attendance.Event{}, err
	}
	evt, err := h.events.Append(ctx, id, userType, status, clockedBy, time.Time{})
	if err != nil {
		return user.User{}, attendance.Event{}, err
	}
	clockEvents.WithLabelValues(status, userType).Inc()
	return updated, evt, nil
}

type batchClockAction struct {
	UserID   string `json:"userId" binding:"required"`
	UserType string `json:"userType"`
	Status   string `json:"status" binding:"required"`
}

type batchClockRequest struct {
	ClockedBy string             `json:"clockedBy" binding:"required"`
	Actions   []batchClockAction `json:"actions" binding:"required,min=1"`
}

type batchClockResult struct {
	UserID string `json:"userId"`
	OK     bool   `json:"ok"`
	Error  string `json:"error,omitempty"`
}

// ClockBatch runs a guardian's multi-learner submission as
// independent concurrent writes. There is no cross-write atomicity;
// the per-item result list tells the caller exactly which actions to
// retry.
func (h *Handler) ClockBatch(c *gin.Context) {
	var req batchClockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	for _, a := range req.Actions {
		if a.Status != user.StatusIn && a.Status != user.StatusOut {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid status for " + a.UserID})
			return
		}
	}

	results := make([]batchClockResult, len(req.Actions))
	var wg sync.WaitGroup
	sem := make(chan struct{}, 8)
	for i, a := range req.Actions {
		i, a := i, a
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			_, _, err := h.clock(c.Request.Context(), a.UserID, a.UserType, a.Status, req.ClockedBy)
			res := batchClockResult{UserID: a.UserID, OK: err == nil}
			if err != nil {
				log.Printf("batch clock %s: %v", a.UserID, err)
				res.Error = publicError(err)
			}
			results[i] = res
		}()
	}
	wg.Wait()

	status := http.StatusOK
	for _, res := range results {
		if !res.OK {
			status = http.StatusMultiStatus
			break
		}
	}
	c.JSON(status, gin.H{"results": results})
}

// ---------- Reports ----------

// AttendanceRange serves the hydrated raw event list for a day or an
// explicit start/end range.
func (h *Handler) AttendanceRange(c *gin.Context) {
	userType := c.DefaultQuery("userType", user.RoleStaff)
	start, end, err := rangeParams(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	rows, err := h.reporter.Range(c.Request.Context(), userType, start, end)
	if err != nil {
		h.storageError(c, err)
		return
	}
	if rows == nil {
		rows = []attendance.Row{}
	}
	c.JSON(http.StatusOK, rows)
}

func (h *Handler) DailyReport(c *gin.Context) {
	userType := c.DefaultQuery("userType", user.RoleStaff)
	day, err := time.Parse("2006-01-02", c.Query("date"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing or invalid ?date=YYYY-MM-DD"})
		return
	}
	summary, err := h.reporter.Daily(c.Request.Context(), userType, day)
	if err != nil {
		h.storageError(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

func (h *Handler) WeeklyReport(c *gin.Context) {
	userType := c.DefaultQuery("userType", user.RoleStaff)
	day, err := time.Parse("2006-01-02", c.Query("date"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing or invalid ?date=YYYY-MM-DD"})
		return
	}
	summary, err := h.reporter.Weekly(c.Request.Context(), userType, day)
	if err != nil {
		h.storageError(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

// ---------- Helpers ----------

func (h *Handler) storageError(c *gin.Context, err error) {
	log.Printf("%s %s: %v", c.Request.Method, c.Request.URL.Path, err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
}

func publicError(err error) string {
	if errors.Is(err, user.ErrNotFound) {
		return "user not found"
	}
	return "internal error"
}

// splitCSV flattens repeated query values and comma-joined lists.
func splitCSV(values []string) []string {
	var out []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

// rangeParams accepts either ?date=YYYY-MM-DD or ?start=&end=.
func rangeParams(c *gin.Context) (time.Time, time.Time, error) {
	if date := c.Query("date"); date != "" {
		day, err := time.Parse("2006-01-02", date)
		if err != nil {
			return time.Time{}, time.Time{}, errors.New("invalid ?date=YYYY-MM-DD")
		}
		start, end := attendance.DayBounds(day)
		return start, end, nil
	}
	startStr, endStr := c.Query("start"), c.Query("end")
	if startStr == "" || endStr == "" {
		return time.Time{}, time.Time{}, errors.New("provide ?date= or ?start=&end=")
	}
	start, err := time.Parse("2006-01-02", startStr)
	if err != nil {
		return time.Time{}, time.Time{}, errors.New("invalid ?start=YYYY-MM-DD")
	}
	endDay, err := time.Parse("2006-01-02", endStr)
	if err != nil {
		return time.Time{}, time.Time{}, errors.New("invalid ?end=YYYY-MM-DD")
	}
	_, end := attendance.DayBounds(endDay)
	return start, end, nil
}

// buildUpdate maps the allowed PATCH fields onto a partial edit,
// distinguishing explicit nulls (remove) from omitted fields.
func buildUpdate(body map[string]json.RawMessage) (user.Update, error) {
	var upd user.Update

	scalar := func(field, attr string, dst **string) error {
		raw, ok := body[field]
		if !ok {
			return nil
		}
		if string(raw) == "null" {
			upd.Remove = append(upd.Remove, attr)
			return nil
		}
		var v string
		if err := json.Unmarshal(raw, &v); err != nil {
			return errors.New(field + " must be a string")
		}
		*dst = &v
		return nil
	}
	list := func(field string, dst **[]string) error {
		raw, ok := body[field]
		if !ok {
			return nil
		}
		var v []string
		if string(raw) != "null" {
			if err := json.Unmarshal(raw, &v); err != nil {
				return errors.New(field + " must be a list of strings")
			}
		}
		*dst = &v
		return nil
	}

	if err := scalar("firstName", user.AttrFirstName, &upd.FirstName); err != nil {
		return upd, err
	}
	if err := scalar("lastName", user.AttrLastName, &upd.LastName); err != nil {
		return upd, err
	}
	if err := scalar("pin", user.AttrPin, &upd.Pin); err != nil {
		return upd, err
	}
	if err := scalar("email", user.AttrEmail, &upd.Email); err != nil {
		return upd, err
	}
	if err := scalar("adminLevel", user.AttrAdminLevel, &upd.AdminLevel); err != nil {
		return upd, err
	}
	if err := list("roles", &upd.Roles); err != nil {
		return upd, err
	}
	if err := list("learners", &upd.Learners); err != nil {
		return upd, err
	}

	if upd.Pin != nil && !pinPattern.MatchString(*upd.Pin) {
		return upd, errors.New("pin must be 4 digits")
	}
	if upd.AdminLevel != nil && *upd.AdminLevel != user.AdminReadOnly && *upd.AdminLevel != user.AdminEdit {
		return upd, errors.New("adminLevel must be read-only or edit")
	}
	if upd.Roles != nil {
		if len(*upd.Roles) == 0 {
			return upd, errors.New("roles must keep at least one role")
		}
		for _, role := range *upd.Roles {
			if !user.ValidRole(role) {
				return upd, errors.New("unknown role: " + role)
			}
		}
	}
	return upd, nil
}
