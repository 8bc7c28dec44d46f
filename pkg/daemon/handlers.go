package daemon

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/freegie/freegie/pkg/config"
	"github.com/freegie/freegie/pkg/engine"
	"github.com/freegie/freegie/pkg/link"
	"github.com/freegie/freegie/pkg/types"
	"github.com/freegie/freegie/pkg/version"
)

// LimitsRequest is the body of PUT /limits.
type LimitsRequest struct {
	Min int `json:"min"`
	Max int `json:"max"`
}

// statusCode maps engine, link and config errors to HTTP status codes.
func statusCode(err error) int {
	switch {
	case errors.Is(err, config.ErrInvalidRange), errors.Is(err, engine.ErrInvalidOverride):
		return http.StatusBadRequest
	case errors.Is(err, engine.ErrAlreadyRunning), errors.Is(err, engine.ErrNotControlling):
		return http.StatusConflict
	case errors.Is(err, link.ErrCommandTimeout):
		return http.StatusGatewayTimeout
	case link.IsLinkDown(err), errors.Is(err, engine.ErrLinkInconsistency):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func abort(c *gin.Context, code int, err error) {
	c.IndentedJSON(code, err.Error())
	_ = c.AbortWithError(code, err)
}

func (s *server) getStatus(c *gin.Context) {
	c.IndentedJSON(http.StatusOK, s.engine.Status())
}

func (s *server) getConfig(c *gin.Context) {
	fc, err := config.NewRawFileConfigFromConfig(s.conf)
	if err != nil {
		_ = c.AbortWithError(http.StatusInternalServerError, err)
		return
	}
	c.IndentedJSON(http.StatusOK, fc)
}

func (s *server) setLimits(c *gin.Context) {
	var req LimitsRequest
	if err := c.BindJSON(&req); err != nil {
		abort(c, http.StatusBadRequest, err)
		return
	}

	if err := s.engine.SetLimits(req.Min, req.Max); err != nil {
		abort(c, statusCode(err), err)
		return
	}

	msg := fmt.Sprintf("set charge limits to %d%%/%d%%", req.Min, req.Max)
	if st := s.engine.Status(); st.BatteryPercent != nil {
		msg += fmt.Sprintf(", current charge: %d%%", *st.BatteryPercent)
	}
	c.IndentedJSON(http.StatusCreated, msg)
}

func (s *server) setOverride(c *gin.Context) {
	var v string
	if err := c.BindJSON(&v); err != nil {
		abort(c, http.StatusBadRequest, err)
		return
	}

	o, err := engine.ParseOverride(v)
	if err != nil {
		abort(c, http.StatusBadRequest, err)
		return
	}
	if err := s.engine.SetOverride(o); err != nil {
		abort(c, statusCode(err), err)
		return
	}

	c.IndentedJSON(http.StatusCreated, fmt.Sprintf("override set to %s", o))
}

func (s *server) setPDMode(c *gin.Context) {
	var mode int
	if err := c.BindJSON(&mode); err != nil {
		abort(c, http.StatusBadRequest, err)
		return
	}

	if err := s.engine.SetPDMode(mode); err != nil {
		abort(c, statusCode(err), err)
		return
	}

	c.IndentedJSON(http.StatusCreated, fmt.Sprintf("PD mode set to %d", mode))
}

func (s *server) setTelemetryInterval(c *gin.Context) {
	var seconds int
	if err := c.BindJSON(&seconds); err != nil {
		abort(c, http.StatusBadRequest, err)
		return
	}

	if err := s.engine.SetTelemetryInterval(seconds); err != nil {
		abort(c, statusCode(err), err)
		return
	}

	c.IndentedJSON(http.StatusCreated, fmt.Sprintf("telemetry interval set to %ds", seconds))
}

// postScan starts the engine if it is idle. It is not an error to scan
// while already running.
func (s *server) postScan(c *gin.Context) {
	err := s.engine.Scan()
	if errors.Is(err, engine.ErrAlreadyRunning) {
		c.IndentedJSON(http.StatusOK, "already running, phase "+s.engine.Phase().String())
		return
	}
	if err != nil {
		abort(c, statusCode(err), err)
		return
	}
	c.IndentedJSON(http.StatusAccepted, "scanning")
}

func (s *server) postStart(c *gin.Context) {
	if err := s.engine.Start(); err != nil {
		abort(c, statusCode(err), err)
		return
	}
	c.IndentedJSON(http.StatusAccepted, "started")
}

func (s *server) postStop(c *gin.Context) {
	if err := s.engine.Stop(); err != nil {
		abort(c, statusCode(err), err)
		return
	}
	c.IndentedJSON(http.StatusOK, "stopped")
}

func (s *server) postDisconnect(c *gin.Context) {
	if err := s.engine.Disconnect(); err != nil {
		abort(c, statusCode(err), err)
		return
	}
	logrus.Info("disconnected on request")
	c.IndentedJSON(http.StatusOK, "disconnected")
}

func (s *server) postPoll(c *gin.Context) {
	t, err := s.engine.PollTelemetry()
	if err != nil {
		abort(c, statusCode(err), err)
		return
	}
	c.IndentedJSON(http.StatusOK, types.Telemetry{
		Volts:     t.Volts,
		Amps:      t.Amps,
		Watts:     t.Watts(),
		SampledAt: t.SampledAt,
	})
}

// getHistory returns the telemetry history, optionally limited to the last
// ?since=<duration>.
func (s *server) getHistory(c *gin.Context) {
	h := s.engine.History()
	since := strings.TrimSpace(c.Query("since"))
	if since == "" {
		c.IndentedJSON(http.StatusOK, h.Records())
		return
	}
	d, err := time.ParseDuration(since)
	if err != nil || d <= 0 {
		abort(c, http.StatusBadRequest, fmt.Errorf("invalid since %q", since))
		return
	}
	c.IndentedJSON(http.StatusOK, h.Since(d))
}

func getVersion(c *gin.Context) {
	c.IndentedJSON(http.StatusOK, version.Version)
}
