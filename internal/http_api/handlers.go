package http_api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// health is the liveness probe. It reports nothing beyond the process being
// up; there is deliberately no readiness logic behind it.
func (s *HTTPServer) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
