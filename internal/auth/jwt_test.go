package auth_test

import (
	"testing"
	"time"

	qt "github.com/frankban/quicktest"

	"github.com/kottokmotors/clockin.click/internal/auth"
)

func TestIssueParseRoundTrip(t *testing.T) {
	c := qt.New(t)

	pair, err := auth.Issue("admin-1", "edit", "clockin-test", "secret", time.Hour, 24*time.Hour)
	c.Assert(err, qt.IsNil)
	c.Assert(pair.AccessToken, qt.Not(qt.Equals), "")
	c.Assert(pair.RefreshToken, qt.Not(qt.Equals), "")

	claims, err := auth.Parse(pair.AccessToken, "secret", "clockin-test")
	c.Assert(err, qt.IsNil)
	c.Assert(claims.Subject, qt.Equals, "admin-1")
	c.Assert(claims.AdminLevel, qt.Equals, "edit")
}

func TestParseRejectsWrongKey(t *testing.T) {
	c := qt.New(t)

	pair, err := auth.Issue("admin-1", "edit", "clockin-test", "secret", time.Hour, 24*time.Hour)
	c.Assert(err, qt.IsNil)

	_, err = auth.Parse(pair.AccessToken, "other-secret", "clockin-test")
	c.Assert(err, qt.IsNotNil)
}

func TestParseRejectsIssuerMismatch(t *testing.T) {
	c := qt.New(t)

	pair, err := auth.Issue("admin-1", "edit", "someone-else", "secret", time.Hour, 24*time.Hour)
	c.Assert(err, qt.IsNil)

	_, err = auth.Parse(pair.AccessToken, "secret", "clockin-test")
	c.Assert(err, qt.IsNotNil)
}

func TestParseRejectsExpired(t *testing.T) {
	c := qt.New(t)

	pair, err := auth.Issue("admin-1", "edit", "clockin-test", "secret", -time.Minute, time.Hour)
	c.Assert(err, qt.IsNil)

	_, err = auth.Parse(pair.AccessToken, "secret", "clockin-test")
	c.Assert(err, qt.IsNotNil)
}
