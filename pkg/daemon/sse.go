package daemon

import (
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

var sseKeepAlive = 15 * time.Second

// getEvents streams hub events as server-sent events. A new subscriber
// first receives the latest status and phase change.
func (s *server) getEvents(c *gin.Context) {
	ch := s.hub.Subscribe()
	defer s.hub.Unsubscribe(ch)

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	logrus.WithField("subscribers", s.hub.Subscribers()).Debug("event stream opened")
	defer logrus.Debug("event stream closed")

	// Send the headers before the first event.
	c.Writer.WriteHeader(http.StatusOK)
	c.Writer.Flush()

	ping := time.NewTicker(sseKeepAlive)
	defer ping.Stop()
	ctx := c.Request.Context()
	c.Stream(func(w io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case ev, ok := <-ch:
			if !ok {
				return false
			}
			c.SSEvent(ev.Name, string(ev.Data))
			return true
		case <-ping.C:
			_, err := io.WriteString(w, ": keepalive\n\n")
			return err == nil
		}
	})
}
