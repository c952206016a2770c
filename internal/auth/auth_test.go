package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() { gin.SetMode(gin.TestMode) }

func testSigner() *Signer {
	return NewSigner("smartattendance", "test-key", time.Hour, 24*time.Hour)
}

func TestIssueAndParse(t *testing.T) {
	s := testSigner()
	pair, err := s.Issue("user-1", RoleLecturer)
	require.NoError(t, err)

	claims, err := s.Parse(pair.AccessToken, TypeAccess)
	require.NoError(t, err)
	assert.Equal(t, Identity{ID: "user-1", Role: RoleLecturer}, claims.Identity())

	_, err = s.Parse(pair.AccessToken, TypeRefresh)
	assert.Error(t, err, "access token must not refresh")

	_, err = s.Parse(pair.RefreshToken, TypeRefresh)
	assert.NoError(t, err)
}

func TestParseRejectsForeignTokens(t *testing.T) {
	s := testSigner()
	pair, err := s.Issue("user-1", RoleStudent)
	require.NoError(t, err)

	other := NewSigner("smartattendance", "other-key", time.Hour, time.Hour)
	_, err = other.Parse(pair.AccessToken, TypeAccess)
	assert.Error(t, err)

	wrongIssuer := NewSigner("elsewhere", "test-key", time.Hour, time.Hour)
	_, err = wrongIssuer.Parse(pair.AccessToken, TypeAccess)
	assert.Error(t, err)
}

func TestParseRejectsExpired(t *testing.T) {
	s := testSigner()
	s.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	pair, err := s.Issue("user-1", RoleStudent)
	require.NoError(t, err)

	s.now = time.Now
	_, err = s.Parse(pair.AccessToken, TypeAccess)
	assert.Error(t, err)
}

func TestPasswordHashing(t *testing.T) {
	_, err := HashPassword("short")
	assert.Error(t, err)

	hash, err := HashPassword("correct horse")
	require.NoError(t, err)
	assert.True(t, CheckPassword(hash, "correct horse"))
	assert.False(t, CheckPassword(hash, "wrong horse"))
}

func newRouter(s *Signer, roles ...Role) *gin.Engine {
	r := gin.New()
	r.GET("/x", Authenticate(s), RequireRole(roles...), func(c *gin.Context) {
		id, _ := IdentityFrom(c)
		c.String(http.StatusOK, id.ID)
	})
	return r
}

func TestMiddleware(t *testing.T) {
	s := testSigner()
	r := newRouter(s, RoleLecturer, RoleAdmin)
	lect, err := s.Issue("lect-1", RoleLecturer)
	require.NoError(t, err)
	stud, err := s.Issue("stud-1", RoleStudent)
	require.NoError(t, err)

	cases := []struct {
		name   string
		header string
		query  string
		want   int
	}{
		{"missing", "", "", http.StatusUnauthorized},
		{"garbage", "Bearer nope", "", http.StatusUnauthorized},
		{"refresh token", "Bearer " + lect.RefreshToken, "", http.StatusUnauthorized},
		{"wrong role", "Bearer " + stud.AccessToken, "", http.StatusForbidden},
		{"ok header", "bearer " + lect.AccessToken, "", http.StatusOK},
		{"ok query", "", "?access_token=" + lect.AccessToken, http.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/x"+tc.query, nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			assert.Equal(t, tc.want, w.Code)
		})
	}
}
