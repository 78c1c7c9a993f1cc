package handlers

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/georgemgichuru/Makau-Rentals---Backend/internal/http/middleware"
	"github.com/georgemgichuru/Makau-Rentals---Backend/internal/http/validation"
	"github.com/georgemgichuru/Makau-Rentals---Backend/internal/modules/payments"
	"github.com/georgemgichuru/Makau-Rentals---Backend/internal/shared/apperr"
)

func actor(c *gin.Context) (middleware.Actor, bool) {
	a, ok := middleware.CurrentActor(c)
	if !ok {
		middleware.Fail(c, apperr.UnauthorizedErr("Authentication required."))
	}
	return a, ok
}

// bindJSON decodes the body into dst and fails the request on error.
func bindJSON(c *gin.Context, dst any) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		middleware.Fail(c, apperr.InvalidErr("Invalid request.", validation.FromBindError(err, dst)).WithCause(err))
		return false
	}
	return true
}

func listFilter(c *gin.Context) payments.ListFilter {
	limit, _ := strconv.Atoi(c.Query("limit"))
	offset, _ := strconv.Atoi(c.Query("offset"))
	return payments.ListFilter{
		Status: c.Query("status"),
		Kind:   c.Query("kind"),
		Limit:  limit,
		Offset: offset,
	}
}
