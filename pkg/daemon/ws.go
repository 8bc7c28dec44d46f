package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/gin-gonic/gin"
	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/freegie/freegie/pkg/engine"
	"github.com/freegie/freegie/pkg/types"
)

const (
	wsSendBuffer   = 64
	wsWriteTimeout = 5 * time.Second
)

// WSRequest is a command sent by a dashboard over the WebSocket.
//
//	{"id":1,"command":"override","value":"on"}
//	{"id":2,"command":"limits","value":{"min":70,"max":80}}
type WSRequest struct {
	ID      uint64          `json:"id"`
	Command string          `json:"command"`
	Value   json.RawMessage `json:"value,omitempty"`
}

// WSMessage is sent to dashboards: either a hub event or the response to a
// request.
type WSMessage struct {
	Type  string          `json:"type"` // "event" or "response"
	Event string          `json:"event,omitempty"`
	ID    uint64          `json:"id,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
	Error string          `json:"error,omitempty"`
}

var errUnknownCommand = errors.New("unknown command")

// getWS upgrades to a WebSocket that carries hub events out and commands in.
func (s *server) getWS(c *gin.Context) {
	conn, err := websocket.Accept(c.Writer, c.Request, &websocket.AcceptOptions{
		OriginPatterns: []string{"localhost", "localhost:*", "127.0.0.1", "127.0.0.1:*", "[::1]", "[::1]:*"},
	})
	if err != nil {
		logrus.WithError(err).Warn("websocket accept failed")
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	sub := s.hub.Subscribe()
	defer s.hub.Unsubscribe(sub)
	send := make(chan WSMessage, wsSendBuffer)

	go s.wsReadLoop(ctx, cancel, conn, send)
	logrus.Debug("websocket client connected")
	defer logrus.Debug("websocket client disconnected")

	for {
		var msg WSMessage
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub:
			if !ok {
				return
			}
			msg = WSMessage{Type: "event", Event: ev.Name, Data: ev.Data}
		case msg = <-send:
		}
		wctx, wcancel := context.WithTimeout(ctx, wsWriteTimeout)
		err := wsjson.Write(wctx, conn, msg)
		wcancel()
		if err != nil {
			return
		}
	}
}

func (s *server) wsReadLoop(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn, send chan<- WSMessage) {
	defer cancel()
	for {
		var req WSRequest
		if err := wsjson.Read(ctx, conn, &req); err != nil {
			return
		}
		resp := WSMessage{Type: "response", ID: req.ID}
		data, err := s.execute(req)
		if err != nil {
			resp.Error = err.Error()
		} else if data != nil {
			if resp.Data, err = json.Marshal(data); err != nil {
				resp.Error = err.Error()
			}
		}
		select {
		case send <- resp:
		case <-ctx.Done():
			return
		}
	}
}

// execute runs one dashboard command against the engine.
func (s *server) execute(req WSRequest) (any, error) {
	switch req.Command {
	case "status":
		return s.engine.Status(), nil
	case "scan":
		err := s.engine.Scan()
		if errors.Is(err, engine.ErrAlreadyRunning) {
			return nil, nil
		}
		return nil, err
	case "start":
		return nil, s.engine.Start()
	case "stop":
		return nil, s.engine.Stop()
	case "disconnect":
		return nil, s.engine.Disconnect()
	case "poll":
		t, err := s.engine.PollTelemetry()
		if err != nil {
			return nil, err
		}
		return types.Telemetry{Volts: t.Volts, Amps: t.Amps, Watts: t.Watts(), SampledAt: t.SampledAt}, nil
	case "history":
		return s.engine.History().Records(), nil
	case "override":
		var v string
		if err := json.Unmarshal(req.Value, &v); err != nil {
			return nil, err
		}
		o, err := engine.ParseOverride(v)
		if err != nil {
			return nil, err
		}
		return nil, s.engine.SetOverride(o)
	case "limits":
		var l LimitsRequest
		if err := json.Unmarshal(req.Value, &l); err != nil {
			return nil, err
		}
		return nil, s.engine.SetLimits(l.Min, l.Max)
	case "pdMode":
		var mode int
		if err := json.Unmarshal(req.Value, &mode); err != nil {
			return nil, err
		}
		return nil, s.engine.SetPDMode(mode)
	case "telemetryInterval":
		var seconds int
		if err := json.Unmarshal(req.Value, &seconds); err != nil {
			return nil, err
		}
		return nil, s.engine.SetTelemetryInterval(seconds)
	}
	return nil, pkgerrors.Wrapf(errUnknownCommand, "%q", req.Command)
}
