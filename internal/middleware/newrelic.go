package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/newrelic/go-agent/v3/integrations/nrgin"
	"github.com/newrelic/go-agent/v3/newrelic"
)

// NewRelicMiddleware starts a transaction per request and tags it with the
// authenticated caller. With a nil app it is a pass-through.
func NewRelicMiddleware(app *newrelic.Application) gin.HandlerFunc {
	if app == nil {
		return func(c *gin.Context) { c.Next() }
	}
	return nrgin.Middleware(app)
}

// NewRelicCaller annotates the current transaction with the caller. It runs
// after AuthMiddleware.
func NewRelicCaller() gin.HandlerFunc {
	return func(c *gin.Context) {
		if txn := nrgin.Transaction(c); txn != nil {
			if caller, ok := CallerFrom(c); ok {
				txn.AddAttribute("caller.id", caller.UserID)
				txn.AddAttribute("caller.role", string(caller.Role))
			}
		}
		c.Next()

		if txn := nrgin.Transaction(c); txn != nil {
			for _, e := range c.Errors {
				txn.NoticeError(e.Err)
			}
		}
	}
}
