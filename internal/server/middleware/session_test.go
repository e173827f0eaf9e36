package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testSessionConfig = SessionConfig{
	SessionCookie: "cart_sid",
	TokenCookie:   "ecommerce_token",
	MaxAge:        24 * time.Hour,
}

func runSession(t *testing.T, req *http.Request) (echo.Context, *httptest.ResponseRecorder) {
	t.Helper()
	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	err := Session(testSessionConfig)(func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	})(c)
	require.NoError(t, err)
	return c, rec
}

func TestSessionIssuesCookie(t *testing.T) {
	c, rec := runSession(t, httptest.NewRequest(http.MethodGet, "/", nil))

	sid, _ := c.Get(SessionIDKey).(string)
	_, err := uuid.Parse(sid)
	require.NoError(t, err)

	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, "cart_sid", cookies[0].Name)
	assert.Equal(t, sid, cookies[0].Value)
	assert.True(t, cookies[0].HttpOnly)
	assert.Nil(t, c.Get(TokenKey))
}

func TestSessionReusesCookie(t *testing.T) {
	sid := uuid.NewString()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: "cart_sid", Value: sid})
	req.AddCookie(&http.Cookie{Name: "ecommerce_token", Value: "opaque"})

	c, rec := runSession(t, req)
	assert.Equal(t, sid, c.Get(SessionIDKey))
	assert.Empty(t, rec.Result().Cookies())
	assert.Equal(t, "opaque", c.Get(TokenKey))
	assert.Empty(t, GetUserID(c))
}

func TestSessionRejectsForgedSessionID(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: "cart_sid", Value: "../../etc"})

	c, _ := runSession(t, req)
	assert.NotEqual(t, "../../etc", c.Get(SessionIDKey))
}

func TestSessionBearerTokenWins(t *testing.T) {
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{Subject: "42"}).
		SignedString([]byte("secret"))
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(echo.HeaderAuthorization, "Bearer "+token)
	req.AddCookie(&http.Cookie{Name: "ecommerce_token", Value: "cookie-token"})

	c, _ := runSession(t, req)
	assert.Equal(t, token, c.Get(TokenKey))
	assert.Equal(t, "42", GetUserID(c))
	assert.Equal(t, "42", c.Get(UserIDKey))
}

func TestClearCredential(t *testing.T) {
	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)

	ClearCredential(c, testSessionConfig)
	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, "ecommerce_token", cookies[0].Name)
	assert.Equal(t, -1, cookies[0].MaxAge)
}
