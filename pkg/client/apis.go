package client

import (
	"encoding/json"
	"net/url"
	"strconv"
	"time"

	pkgerrors "github.com/pkg/errors"

	"github.com/freegie/freegie/pkg/config"
	"github.com/freegie/freegie/pkg/types"
)

// unquote strips the JSON string encoding of daemon messages.
func unquote(body string) string {
	var s string
	if err := json.Unmarshal([]byte(body), &s); err != nil {
		return body
	}
	return s
}

func (c *Client) message(method, path, data string) (string, error) {
	ret, err := c.Send(method, path, data)
	if err != nil {
		return "", err
	}
	return unquote(ret), nil
}

func (c *Client) GetStatus() (*types.Status, error) {
	ret, err := c.Get("/status")
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to get status")
	}

	var st types.Status
	if err := json.Unmarshal([]byte(ret), &st); err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to unmarshal status")
	}
	return &st, nil
}

func (c *Client) GetConfig() (*config.RawFileConfig, error) {
	ret, err := c.Get("/config")
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to get config")
	}

	var conf config.RawFileConfig
	if err := json.Unmarshal([]byte(ret), &conf); err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to unmarshal config")
	}

	return &conf, nil
}

func (c *Client) SetLimits(min, max int) (string, error) {
	payload, err := json.Marshal(map[string]int{"min": min, "max": max})
	if err != nil {
		return "", err
	}
	return c.message("PUT", "/limits", string(payload))
}

// SetOverride sends "auto", "on" or "off".
func (c *Client) SetOverride(mode string) (string, error) {
	payload, err := json.Marshal(mode)
	if err != nil {
		return "", err
	}
	return c.message("PUT", "/override", string(payload))
}

func (c *Client) SetPDMode(mode int) (string, error) {
	return c.message("PUT", "/pd-mode", strconv.Itoa(mode))
}

func (c *Client) SetTelemetryInterval(seconds int) (string, error) {
	return c.message("PUT", "/telemetry-interval", strconv.Itoa(seconds))
}

func (c *Client) Scan() (string, error)       { return c.message("POST", "/scan", "") }
func (c *Client) Start() (string, error)      { return c.message("POST", "/start", "") }
func (c *Client) Stop() (string, error)       { return c.message("POST", "/stop", "") }
func (c *Client) Disconnect() (string, error) { return c.message("POST", "/disconnect", "") }

// Poll asks the daemon for a telemetry reading right now.
func (c *Client) Poll() (*types.Telemetry, error) {
	ret, err := c.Post("/poll")
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to poll telemetry")
	}

	var t types.Telemetry
	if err := json.Unmarshal([]byte(ret), &t); err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to unmarshal telemetry")
	}
	return &t, nil
}

// GetHistory returns the recorded telemetry. A zero since returns all of it.
func (c *Client) GetHistory(since time.Duration) ([]types.Telemetry, error) {
	path := "/telemetry/history"
	if since > 0 {
		path += "?since=" + url.QueryEscape(since.String())
	}
	ret, err := c.Get(path)
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to get telemetry history")
	}

	var records []types.Telemetry
	if err := json.Unmarshal([]byte(ret), &records); err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to unmarshal telemetry history")
	}
	return records, nil
}

func (c *Client) GetVersion() (string, error) {
	ret, err := c.Get("/version")
	if err != nil {
		return "", pkgerrors.Wrapf(err, "failed to get version")
	}
	return unquote(ret), nil
}
