// Package common holds the response-envelope and pagination helpers
// shared by every HTTP handler package, grounded on the shape of the
// teacher's internal/api/handlers/common/common.go (Respond* helpers,
// ParsePathUUID, ExtractPagination) but built around the envelope
// contracts: {data, ...} / {data, total, page, per_page} on
// success, {message, violations?} on failure.
package common

import (
	"net/http"

	"github.com/gin-gonic/gin"

	rerrors "github.com/bentbr/r_data_core_go/pkg/errors"
	"github.com/bentbr/r_data_core_go/pkg/validation"
)

// RespondOK sends a bare-data success envelope.
func RespondOK(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, gin.H{"data": data})
}

// RespondCreated sends a 201 success envelope.
func RespondCreated(c *gin.Context, data interface{}) {
	c.JSON(http.StatusCreated, gin.H{"data": data})
}

// RespondNoContent sends an empty 204.
func RespondNoContent(c *gin.Context) {
	c.Status(http.StatusNoContent)
}

// RespondPage sends the paginated success envelope:
// {data, total, page, per_page}.
func RespondPage(c *gin.Context, data interface{}, total, page, perPage int) {
	c.JSON(http.StatusOK, gin.H{
		"data":     data,
		"total":    total,
		"page":     page,
		"per_page": perPage,
	})
}

// RespondError maps a domain error to the HTTP status and envelope of
//: any *errors.Error carries its own Kind->status mapping
// and optional field Violations; anything else is an opaque 500.
func RespondError(c *gin.Context, err error) {
	if rerr, ok := rerrors.As(err); ok {
		body := gin.H{"message": rerr.Message}
		if len(rerr.Violations) > 0 {
			body["violations"] = rerr.Violations
		}
		c.JSON(rerr.HTTPStatus(), body)
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"message": "internal error"})
}

// RespondBadRequest sends the 400 "missing body" shape
func RespondBadRequest(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, gin.H{"message": message})
}

// BindJSON binds the request body into req and runs its "validate"
// struct tags, responding 400 on a malformed body or 422 with field
// violations on a validation failure. Returns true only if both
// succeeded.
func BindJSON(c *gin.Context, req interface{}) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		RespondBadRequest(c, "request body is missing or malformed: "+err.Error())
		return false
	}
	if err := validation.Struct(req); err != nil {
		RespondError(c, err)
		return false
	}
	return true
}

// ParsePathParam reads a required path parameter, responding 400 if
// absent.
func ParsePathParam(c *gin.Context, name string) (string, bool) {
	v := c.Param(name)
	if v == "" {
		RespondBadRequest(c, "missing path parameter: "+name)
		return "", false
	}
	return v, true
}

const (
	defaultPerPage = 20
	maxPerPage     = 100
)

// Pagination is the resolved page/per_page or limit/offset pair,
// normalized to the single limit/offset form repositories consume.
type Pagination struct {
	Limit  int
	Offset int
	Page   int
}

// ExtractPagination resolves its two accepted pagination forms:
// page/per_page (1-based) OR limit/offset directly.
func ExtractPagination(c *gin.Context) Pagination {
	if limitStr := c.Query("limit"); limitStr != "" {
		limit := clamp(parseIntDefault(limitStr, defaultPerPage), 1, maxPerPage)
		offset := parseIntDefault(c.Query("offset"), 0)
		if offset < 0 {
			offset = 0
		}
		return Pagination{Limit: limit, Offset: offset, Page: offset/limit + 1}
	}

	page := parseIntDefault(c.Query("page"), 1)
	if page < 1 {
		page = 1
	}
	perPage := clamp(parseIntDefault(c.Query("per_page"), defaultPerPage), 1, maxPerPage)

	return Pagination{Limit: perPage, Offset: (page - 1) * perPage, Page: page}
}

// SortParams is the validated sort_by/sort_order pair
type SortParams struct {
	Field string
	Desc  bool
}

// ExtractSort resolves sort_by/sort_order against a per-resource field
// whitelist, falling back to defaultField/ascending for anything not
// on the whitelist.
func ExtractSort(c *gin.Context, whitelist []string, defaultField string) SortParams {
	field := c.Query("sort_by")
	valid := false
	for _, f := range whitelist {
		if f == field {
			valid = true
			break
		}
	}
	if !valid {
		field = defaultField
	}
	return SortParams{Field: field, Desc: c.Query("sort_order") == "desc"}
}

func parseIntDefault(s string, def int) int {
	if s == "" {
		return def
	}
	n := 0
	for _, r := range s {
		if r < '0' || r > '9' {
			return def
		}
		n = n*10 + int(r-'0')
	}
	return n
}

func clamp(v, min, max int) int {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}
