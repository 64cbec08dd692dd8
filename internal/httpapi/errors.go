package httpapi

import (
	"github.com/gin-gonic/gin"

	"github.com/Yurzs/ollama-x/internal/gwerrors"
)

// fail writes err as the {"detail": {...}} envelope spec §7 describes,
// mapping any non-taxonomy error to CodeInternal so a bare error never
// leaks to the client.
func fail(c *gin.Context, err error) {
	ge, ok := gwerrors.As(err)
	if !ok {
		ge = gwerrors.Internal(err)
	}
	c.AbortWithStatusJSON(ge.Status(), ge.Body())
}
