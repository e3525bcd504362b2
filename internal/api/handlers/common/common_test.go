package common

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type bindTestRequest struct {
	Name string `json:"name" binding:"required" validate:"required,safe_string"`
}

func newTestContext(body string) (*gin.Context, *httptest.ResponseRecorder) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	c.Request.Header.Set("Content-Type", "application/json")
	return c, w
}

func TestBindJSON_SucceedsOnValidBody(t *testing.T) {
	c, w := newTestContext(`{"name":"widgets"}`)
	var req bindTestRequest
	ok := BindJSON(c, &req)
	assert.True(t, ok)
	assert.Equal(t, "widgets", req.Name)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestBindJSON_RejectsMalformedBody(t *testing.T) {
	c, w := newTestContext(`not json`)
	var req bindTestRequest
	ok := BindJSON(c, &req)
	assert.False(t, ok)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestBindJSON_RejectsFailedStructValidation(t *testing.T) {
	c, w := newTestContext(`{"name":"<script>alert(1)</script>"}`)
	var req bindTestRequest
	ok := BindJSON(c, &req)
	assert.False(t, ok)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func TestExtractPagination_DefaultsToPageForm(t *testing.T) {
	c, _ := newTestContext("")
	c.Request = httptest.NewRequest(http.MethodGet, "/?page=2&per_page=10", nil)
	p := ExtractPagination(c)
	assert.Equal(t, 10, p.Limit)
	assert.Equal(t, 10, p.Offset)
	assert.Equal(t, 2, p.Page)
}

func TestExtractPagination_LimitOffsetForm(t *testing.T) {
	c, _ := newTestContext("")
	c.Request = httptest.NewRequest(http.MethodGet, "/?limit=5&offset=15", nil)
	p := ExtractPagination(c)
	assert.Equal(t, 5, p.Limit)
	assert.Equal(t, 15, p.Offset)
	assert.Equal(t, 4, p.Page)
}
