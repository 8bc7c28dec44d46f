package daemon

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	pkgerrors "github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/freegie/freegie/pkg/battery"
	"github.com/freegie/freegie/pkg/config"
	"github.com/freegie/freegie/pkg/engine"
	"github.com/freegie/freegie/pkg/events"
	"github.com/freegie/freegie/pkg/link"
	"github.com/freegie/freegie/pkg/link/bluez"
	"github.com/freegie/freegie/pkg/metrics"
)

const shutdownTimeout = 5 * time.Second

// server holds everything the API handlers need. There is one per daemon.
type server struct {
	engine   *engine.Engine
	conf     config.Config
	hub      *events.EventHub
	registry *prometheus.Registry
}

func (s *server) setupRoutes() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(ginLogger(logrus.StandardLogger()))
	router.GET("/status", s.getStatus)
	router.GET("/config", s.getConfig)
	router.PUT("/limits", s.setLimits)
	router.PUT("/override", s.setOverride)
	router.PUT("/pd-mode", s.setPDMode)
	router.PUT("/telemetry-interval", s.setTelemetryInterval)
	router.POST("/scan", s.postScan)
	router.POST("/start", s.postStart)
	router.POST("/stop", s.postStop)
	router.POST("/disconnect", s.postDisconnect)
	router.POST("/poll", s.postPoll)
	router.GET("/telemetry/history", s.getHistory)
	router.GET("/events", s.getEvents)
	router.GET("/ws", s.getWS)
	router.GET("/metrics", gin.WrapH(metrics.Handler(s.registry)))
	router.GET("/version", getVersion)

	return router
}

// newServer wires the engine to its collaborators.
func newServer(conf config.Config, transport link.Transport, reader battery.Reader, timings *engine.Timings) *server {
	reg := metrics.NewRegistry()
	m := metrics.New(reg)
	hub := events.NewEventHub()
	eng := engine.New(engine.Options{
		Link:     link.New(transport, link.WithMetrics(m)),
		Battery:  reader,
		Config:   conf,
		Notifier: hub,
		Metrics:  m,
		Timings:  timings,
	})
	return &server{engine: eng, conf: conf, hub: hub, registry: reg}
}

// Options are the daemon settings given on the command line. Empty or unset
// fields leave the config file in charge.
type Options struct {
	ConfigPath   string
	SocketPath   string
	AllowNonRoot bool
	// Listen adds a TCP listener for the API, e.g. 127.0.0.1:7380.
	Listen string
	// Adapter is the BlueZ adapter, e.g. hci1.
	Adapter     string
	NoAutoStart bool
}

func (o Options) listen(conf config.Config) string {
	if o.Listen != "" {
		return o.Listen
	}
	return conf.Listen()
}

func (o Options) adapter(conf config.Config) string {
	if o.Adapter != "" {
		return o.Adapter
	}
	return conf.Adapter()
}

func (o Options) autoStart(conf config.Config) bool {
	return !o.NoAutoStart && conf.AutoStart()
}

// Run serves the API until SIGINT or SIGTERM, then stops the engine.
func Run(opts Options) error {
	unixSocketPath := opts.SocketPath
	conf, err := config.NewFile(opts.ConfigPath)
	if err != nil {
		return pkgerrors.Wrapf(err, "failed to parse config during startup")
	}
	logrus.WithFields(conf.LogrusFields()).Infof("config loaded")

	reader, err := battery.New(conf.BatterySource())
	if err != nil {
		return err
	}
	s := newServer(conf, bluez.New(opts.adapter(conf)), reader, nil)
	router := s.setupRoutes()

	// Receive SIGHUP to reload config
	go func() {
		sigc := make(chan os.Signal, 1)
		signal.Notify(sigc, syscall.SIGHUP)
		for range sigc {
			err := conf.Load()
			if err != nil {
				logrus.Errorf("failed to reload config: %v", err)
				continue
			}
			logrus.WithFields(conf.LogrusFields()).Infof("config reloaded")
		}
	}()

	// Streams end when their request context is cancelled.
	baseCtx, cancelBase := context.WithCancel(context.Background())
	defer cancelBase()
	srv := &http.Server{
		Handler:     router,
		BaseContext: func(net.Listener) context.Context { return baseCtx },
	}

	// A stale socket from a crashed daemon blocks Listen.
	_ = os.Remove(unixSocketPath)
	l, err := net.Listen("unix", unixSocketPath)
	if err != nil {
		return pkgerrors.Wrapf(err, "failed to listen on %s", unixSocketPath)
	}
	defer os.Remove(unixSocketPath)

	if conf.AllowNonRootAccess() || opts.AllowNonRoot {
		logrus.Infof("non-root access is allowed, changing permissions of %s to 0777", unixSocketPath)
		err = os.Chmod(unixSocketPath, 0777)
		if err != nil {
			return pkgerrors.Wrapf(err, "failed to chmod %s", unixSocketPath)
		}
	}

	listeners := []net.Listener{l}
	if addr := opts.listen(conf); addr != "" {
		tl, err := net.Listen("tcp", addr)
		if err != nil {
			return pkgerrors.Wrapf(err, "failed to listen on %s", addr)
		}
		listeners = append(listeners, tl)
	}

	for _, l := range listeners {
		go func(l net.Listener) {
			logrus.Infof("http server listening on %s", l.Addr().String())
			if err := srv.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logrus.Fatal(err)
			}
		}(l)
	}

	if opts.autoStart(conf) {
		if err := s.engine.Start(); err != nil {
			logrus.WithError(err).Error("failed to start engine")
		}
	} else {
		logrus.Info("auto start disabled, waiting for a scan request")
	}

	// Handle common process-killing signals, so we can gracefully shut down:
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	// Wait for a SIGINT or SIGTERM:
	sig := <-sigc
	logrus.Infof("caught signal \"%s\": shutting down.", sig)

	logrus.Info("shutting down http server")
	cancelBase()
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	err = srv.Shutdown(ctx)
	if err != nil {
		logrus.Errorf("failed to shutdown http server: %v", err)
	}
	cancel()

	logrus.Info("stopping engine")
	if err := s.engine.Stop(); err != nil {
		logrus.Errorf("failed to stop engine: %v", err)
	}

	logrus.Info("exiting")
	return nil
}
