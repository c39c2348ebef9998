package server

import (
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func queryContext(t *testing.T, rawQuery string) *gin.Context {
	t.Helper()
	gin.SetMode(gin.TestMode)
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Request = httptest.NewRequest("GET", "/?"+rawQuery, nil)
	return c
}

func TestIntQuery(t *testing.T) {
	assert.Equal(t, 25, intQuery(queryContext(t, "limit=25"), "limit", 50))
	assert.Equal(t, 50, intQuery(queryContext(t, ""), "limit", 50))
	assert.Equal(t, 50, intQuery(queryContext(t, "limit=abc"), "limit", 50))
	assert.Equal(t, 50, intQuery(queryContext(t, "limit=-5"), "limit", 50))
	// Out-of-range input falls back instead of overflowing.
	assert.Equal(t, 50, intQuery(queryContext(t, "limit=99999999999999999999999"), "limit", 50))
}
