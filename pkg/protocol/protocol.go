// Package protocol encodes commands for, and decodes responses from, the
// Chargie accessory firmware. Commands are ASCII lines of the form
// AT+<CMD>[<arg>]; responses are notifications of the form OK+<KEY>[:<value>].
package protocol

import (
	"strings"
)

const (
	commandPrefix  = "AT+"
	responsePrefix = "OK+"
)

// Advertised GATT services of the accessory, and the characteristic that
// carries both writes and notifications.
const (
	ServiceUUIDPrimary = "0000ffd6-0000-1000-8000-00805f9b34fb"
	ServiceUUIDAlt     = "0000ffaa-0000-1000-8000-00805f9b34fb"
	CharacteristicUUID = "0000ffe1-0000-1000-8000-00805f9b34fb"
)

// ScanServiceUUIDs are the service identifiers used by the primary scan pass.
var ScanServiceUUIDs = []string{ServiceUUIDPrimary, ServiceUUIDAlt}

// Command is a single firmware command. Name selects the response key,
// Arg is appended verbatim (e.g. "?" for queries, "0"/"1" for toggles).
type Command struct {
	Name string
	Arg  string
}

// String returns the encoded frame as text.
func (c Command) String() string {
	return commandPrefix + c.Name + c.Arg
}

var (
	Stat     = Command{Name: "STAT", Arg: "?"}
	Capa     = Command{Name: "CAPA", Arg: "?"}
	Firmware = Command{Name: "FWVR", Arg: "?"}
	Hardware = Command{Name: "HWVR", Arg: "?"}
	PDStatus = Command{Name: "ISPD", Arg: "?"}
	PowerOff = Command{Name: "PIO2", Arg: "0"} // cut USB-C power
	PowerOn  = Command{Name: "PIO2", Arg: "1"} // restore USB-C power
	PDHalf   = Command{Name: "PDMO", Arg: "1"} // reduced voltage/wattage
	PDFull   = Command{Name: "PDMO", Arg: "2"} // maximum negotiated voltage/wattage
)

// responseKeys maps a command name to the key of the response that
// confirms it. Commands missing from this table are fire-and-forget.
var responseKeys = map[string]string{
	Stat.Name:     "STAT",
	Capa.Name:     "CAPA",
	Firmware.Name: "FWVR",
	Hardware.Name: "HWVR",
	PDStatus.Name: "ISPD",
	PowerOff.Name: "PIO2",
}

// PDMode returns the command that selects PD mode 1 (half) or 2 (full).
// Any other value selects full PD.
func PDMode(mode int) Command {
	if mode == 1 {
		return PDHalf
	}
	return PDFull
}

// Encode returns the wire frame for cmd.
func Encode(cmd Command) []byte {
	return []byte(cmd.String())
}

// ExpectedKey returns the response key that confirms cmd. ok is false when
// the firmware sends nothing back for it.
func ExpectedKey(cmd Command) (key string, ok bool) {
	key, ok = responseKeys[cmd.Name]
	return key, ok
}

// Response is a decoded OK+ notification.
type Response struct {
	Key   string
	Value string
	Raw   string
}

// Decode parses a received frame. Leading and trailing whitespace is ignored.
// The value is everything after the first colon, so "OK+TEST:a:b" yields
// key TEST and value "a:b".
func Decode(frame string) (Response, error) {
	raw := strings.TrimSpace(frame)
	if !strings.HasPrefix(raw, responsePrefix) {
		return Response{}, malformed(raw, "not an OK+ response")
	}

	body := raw[len(responsePrefix):]
	key, value, _ := strings.Cut(body, ":")
	if key == "" {
		return Response{}, malformed(raw, "empty response key")
	}

	return Response{Key: key, Value: value, Raw: raw}, nil
}

// KeyOf returns the response key of frame without validating its value.
func KeyOf(frame string) (string, error) {
	r, err := Decode(frame)
	if err != nil {
		return "", err
	}
	return r.Key, nil
}
