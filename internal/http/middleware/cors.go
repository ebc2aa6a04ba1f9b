package middleware

import (
	"strings"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/yungbote/stackrun/internal/platform/envutil"
	"github.com/yungbote/stackrun/internal/platform/logger"
)

// CORS reads HTTP_CORS_ORIGINS (comma-separated) with a localhost
// default, grounded on the teacher's middleware.CORS but made
// configurable since this engine has no fixed set of known frontends.
func CORS(log *logger.Logger) gin.HandlerFunc {
	raw := envutil.GetEnv("HTTP_CORS_ORIGINS", "http://localhost:3000,http://127.0.0.1:3000", log)
	var origins []string
	for _, o := range strings.Split(raw, ",") {
		o = strings.TrimSpace(o)
		if o != "" {
			origins = append(origins, o)
		}
	}

	return cors.New(cors.Config{
		AllowOrigins:     origins,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "PATCH", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type", "X-Requested-With"},
		AllowCredentials: true,
	})
}
