package protocol

import (
	"errors"
	"math"
	"testing"
)

func TestEncode(t *testing.T) {
	tests := []struct {
		cmd  Command
		want string
	}{
		{Stat, "AT+STAT?"},
		{Capa, "AT+CAPA?"},
		{Firmware, "AT+FWVR?"},
		{Hardware, "AT+HWVR?"},
		{PDStatus, "AT+ISPD?"},
		{PowerOff, "AT+PIO20"},
		{PowerOn, "AT+PIO21"},
		{PDMode(1), "AT+PDMO1"},
		{PDMode(2), "AT+PDMO2"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := string(Encode(tt.cmd)); got != tt.want {
				t.Errorf("Encode() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestExpectedKeyMatchesResponse(t *testing.T) {
	tests := []struct {
		cmd      Command
		response string
	}{
		{Stat, "OK+STAT:1.81/15.00"},
		{Capa, "OK+CAPA:7"},
		{Firmware, "OK+FWVR:10"},
		{Hardware, "OK+HWVR:3"},
		{PDStatus, "OK+ISPD:1"},
		{PowerOff, "OK+PIO2:0"},
		{PowerOn, "OK+PIO2:1"},
	}
	for _, tt := range tests {
		t.Run(tt.cmd.String(), func(t *testing.T) {
			key, ok := ExpectedKey(tt.cmd)
			if !ok {
				t.Fatalf("ExpectedKey(%s) reported no response", tt.cmd)
			}
			r, err := Decode(tt.response)
			if err != nil {
				t.Fatalf("Decode(%q) error: %v", tt.response, err)
			}
			if r.Key != key {
				t.Errorf("decoded key %q, want %q", r.Key, key)
			}
		})
	}
}

func TestExpectedKeyFireAndForget(t *testing.T) {
	for _, cmd := range []Command{PDHalf, PDFull} {
		if key, ok := ExpectedKey(cmd); ok {
			t.Errorf("ExpectedKey(%s) = %q, want no response", cmd, key)
		}
	}
}

func TestDecode(t *testing.T) {
	tests := []struct {
		name      string
		frame     string
		wantKey   string
		wantValue string
		wantErr   bool
	}{
		{name: "stat", frame: "OK+STAT:1.81/15.00", wantKey: "STAT", wantValue: "1.81/15.00"},
		{name: "no value", frame: "OK+Set", wantKey: "Set"},
		{name: "whitespace", frame: "  OK+FWVR:10\r\n", wantKey: "FWVR", wantValue: "10"},
		{name: "colon in value", frame: "OK+TEST:a:b:c", wantKey: "TEST", wantValue: "a:b:c"},
		{name: "not ok", frame: "ERROR", wantErr: true},
		{name: "empty", frame: "", wantErr: true},
		{name: "empty key", frame: "OK+:1", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := Decode(tt.frame)
			if tt.wantErr {
				if !errors.Is(err, ErrMalformedResponse) {
					t.Fatalf("Decode(%q) error = %v, want ErrMalformedResponse", tt.frame, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Decode(%q) unexpected error: %v", tt.frame, err)
			}
			if r.Key != tt.wantKey || r.Value != tt.wantValue {
				t.Errorf("Decode(%q) = %q/%q, want %q/%q", tt.frame, r.Key, r.Value, tt.wantKey, tt.wantValue)
			}
		})
	}
}

func mustDecode(t *testing.T, frame string) Response {
	t.Helper()
	r, err := Decode(frame)
	if err != nil {
		t.Fatalf("Decode(%q): %v", frame, err)
	}
	return r
}

func TestParseTelemetry(t *testing.T) {
	tests := []struct {
		frame     string
		volts     float64
		amps      float64
		watts     float64
		wantErrIs error
	}{
		{frame: "OK+STAT:4.24/15.00", volts: 4.24, amps: 15, watts: 63.6},
		{frame: "OK+STAT:0.00/0.00"},
		{frame: "OK+STAT:20.1/2.5", volts: 20.1, amps: 2.5, watts: 50.25},
		{frame: "OK+STAT:abc/1.0", wantErrIs: ErrMalformedResponse},
		{frame: "OK+STAT:1.0", wantErrIs: ErrMalformedResponse},
		{frame: "OK+STAT:", wantErrIs: ErrMalformedResponse},
		{frame: "OK+STAT:NaN/1", wantErrIs: ErrMalformedResponse},
		{frame: "OK+CAPA:7", wantErrIs: ErrUnexpectedKey},
	}
	for _, tt := range tests {
		t.Run(tt.frame, func(t *testing.T) {
			got, err := ParseTelemetry(mustDecode(t, tt.frame))
			if tt.wantErrIs != nil {
				if !errors.Is(err, tt.wantErrIs) {
					t.Fatalf("ParseTelemetry error = %v, want %v", err, tt.wantErrIs)
				}
				var perr *ProtocolError
				if !errors.As(err, &perr) {
					t.Fatalf("error %T is not a *ProtocolError", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseTelemetry unexpected error: %v", err)
			}
			if math.Abs(got.Volts-tt.volts) > 1e-9 || math.Abs(got.Amps-tt.amps) > 1e-9 {
				t.Errorf("ParseTelemetry = %v/%v, want %v/%v", got.Volts, got.Amps, tt.volts, tt.amps)
			}
			if got.Watts() != tt.watts {
				t.Errorf("Watts() = %v, want %v", got.Watts(), tt.watts)
			}
		})
	}
}

func TestParseCapabilities(t *testing.T) {
	tests := []struct {
		frame   string
		want    Capabilities
		wantErr bool
	}{
		{frame: "OK+CAPA:0", want: Capabilities{}},
		{frame: "OK+CAPA:1", want: Capabilities{Raw: 1, PD: true}},
		{frame: "OK+CAPA:6", want: Capabilities{Raw: 6, FET2: true, Auto: true}},
		{frame: "OK+CAPA:7", want: Capabilities{Raw: 7, PD: true, FET2: true, Auto: true}},
		// Unknown high bits are ignored.
		{frame: "OK+CAPA:12345", want: Capabilities{Raw: 12345, PD: true, Auto: false, FET2: false}},
		{frame: "OK+CAPA:abc", wantErr: true},
		{frame: "OK+CAPA:-1", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.frame, func(t *testing.T) {
			got, err := ParseCapabilities(mustDecode(t, tt.frame))
			if tt.wantErr {
				if !errors.Is(err, ErrMalformedResponse) {
					t.Fatalf("ParseCapabilities error = %v, want ErrMalformedResponse", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseCapabilities unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("ParseCapabilities = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestParsePowerState(t *testing.T) {
	on, err := ParsePowerState(mustDecode(t, "OK+PIO2:1"))
	if err != nil || !on {
		t.Fatalf("ParsePowerState(1) = %v, %v", on, err)
	}
	on, err = ParsePowerState(mustDecode(t, "OK+PIO2:0"))
	if err != nil || on {
		t.Fatalf("ParsePowerState(0) = %v, %v", on, err)
	}
	if _, err := ParsePowerState(mustDecode(t, "OK+PIO2:x")); !errors.Is(err, ErrMalformedResponse) {
		t.Fatalf("ParsePowerState(x) error = %v", err)
	}
	if _, err := ParsePowerState(mustDecode(t, "OK+STAT:1/1")); !errors.Is(err, ErrUnexpectedKey) {
		t.Fatalf("ParsePowerState(STAT) error = %v", err)
	}
}

func TestParseVersions(t *testing.T) {
	fw, err := ParseFirmware(mustDecode(t, "OK+FWVR:10"))
	if err != nil || fw != "10" {
		t.Fatalf("ParseFirmware = %q, %v", fw, err)
	}
	hw, err := ParseHardware(mustDecode(t, "OK+HWVR:3"))
	if err != nil || hw != "3" {
		t.Fatalf("ParseHardware = %q, %v", hw, err)
	}
	if _, err := ParseFirmware(mustDecode(t, "OK+HWVR:3")); !errors.Is(err, ErrUnexpectedKey) {
		t.Fatalf("ParseFirmware(HWVR) error = %v", err)
	}
}
