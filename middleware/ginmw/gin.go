// Package ginmw provides Gin middleware running the admission check.
//
//	r := gin.New()
//	r.Use(ginmw.RateLimit(ev))
package ginmw

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/gatekit/redislimit/middleware"
)

// RateLimit creates Gin middleware from an admission evaluator.
func RateLimit(ev *middleware.Evaluator) gin.HandlerFunc {
	if ev == nil {
		panic("ginmw: Evaluator is required")
	}
	return func(c *gin.Context) {
		decision := ev.Evaluate(c.Request.Context(), c.Request.URL.Path, c.Request.RemoteAddr, c.Request.Header.Get)
		if decision.Action == middleware.Done {
			c.Header(middleware.HeaderLimit, strconv.Itoa(decision.Limit))
			c.Header(middleware.HeaderRemaining, "0")
			c.Header(middleware.HeaderAlgorithm, decision.Algorithm)
			c.Data(http.StatusForbidden, middleware.RejectionContentType, []byte(middleware.RejectionBody))
			c.Abort()
			return
		}
		c.Next()
	}
}
