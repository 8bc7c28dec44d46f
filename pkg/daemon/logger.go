package daemon

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// streamPaths hold long-lived connections; their latency is the session
// length and is not worth a warning.
var streamPaths = map[string]bool{
	"/events": true,
	"/ws":     true,
}

// ginLogger logs each request through logger. Failed requests are logged
// with the error attached by the handler.
func ginLogger(logger logrus.FieldLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		// Handlers may rewrite the path.
		path := c.Request.URL.Path
		start := time.Now()
		c.Next()
		latency := time.Since(start)

		size := c.Writer.Size()
		if size < 0 {
			size = 0
		}
		code := c.Writer.Status()
		entry := logger.WithFields(logrus.Fields{
			"statusCode": code,
			"latency":    latency.Round(time.Millisecond).String(),
			"method":     c.Request.Method,
			"path":       path,
			"dataLength": size,
		})

		switch {
		case len(c.Errors) > 0:
			entry.Error(c.Errors.ByType(gin.ErrorTypePrivate).String())
		case code >= http.StatusInternalServerError:
			entry.Error("request failed")
		case code >= http.StatusBadRequest:
			entry.Warn("request rejected")
		case streamPaths[path]:
			entry.Debug("stream closed")
		default:
			entry.Debug("request served")
		}
	}
}
