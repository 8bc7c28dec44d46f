package config

import (
	"encoding/json"
	"time"

	pkgerrors "github.com/pkg/errors"
)

// Duration is a time.Duration that reads and writes as "2s" in JSON. A bare
// number is taken as seconds.
type Duration struct {
	time.Duration
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	switch val := v.(type) {
	case float64:
		d.Duration = time.Duration(val * float64(time.Second))
	case string:
		parsed, err := time.ParseDuration(val)
		if err != nil {
			return pkgerrors.Wrapf(err, "parse duration %q", val)
		}
		d.Duration = parsed
	default:
		return pkgerrors.Errorf("invalid duration %s", string(b))
	}
	return nil
}
