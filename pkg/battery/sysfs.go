package battery

import (
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// SysfsRoot is where Linux exposes power supplies.
const SysfsRoot = "/sys/class/power_supply"

var (
	batteryNames = []string{"BAT0", "BAT1", "BATT", "battery"}
	acNames      = []string{"AC", "AC0", "ADP0", "ADP1", "ACAD", "ac"}
)

// Sysfs reads the first battery found under a power_supply directory.
// Detection is retried on every read until a battery shows up.
type Sysfs struct {
	root string

	mu      sync.Mutex
	battery string
	ac      string
}

func NewSysfs(root string) *Sysfs {
	s := &Sysfs{root: root}
	s.detect()
	return s
}

func findSupply(root string, names []string, supplyType string) string {
	for _, name := range names {
		p := filepath.Join(root, name)
		if fi, err := os.Stat(p); err == nil && fi.IsDir() {
			return p
		}
	}
	entries, err := os.ReadDir(root)
	if err != nil {
		return ""
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })
	for _, e := range entries {
		p := filepath.Join(root, e.Name())
		t, err := readTrimmed(filepath.Join(p, "type"))
		if err == nil && t == supplyType {
			return p
		}
	}
	return ""
}

func readTrimmed(path string) (string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(b)), nil
}

func (s *Sysfs) detect() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.battery != "" {
		return s.battery
	}
	s.battery = findSupply(s.root, batteryNames, "Battery")
	s.ac = findSupply(s.root, acNames, "Mains")
	if s.battery == "" {
		logrus.WithField("root", s.root).Warn("no battery found")
	} else {
		logrus.WithFields(logrus.Fields{
			"battery": s.battery,
			"ac":      s.ac,
		}).Debug("found power supplies")
	}
	return s.battery
}

func (s *Sysfs) ReadPercent() (int, error) {
	dir := s.detect()
	if dir == "" {
		return 0, ErrUnknown
	}
	v, err := readTrimmed(filepath.Join(dir, "capacity"))
	if err != nil {
		return 0, pkgerrors.Wrapf(ErrUnknown, "read capacity: %v", err)
	}
	p, err := strconv.Atoi(v)
	if err != nil || p < 0 || p > 100 {
		return 0, pkgerrors.Wrapf(ErrUnknown, "bad capacity %q", v)
	}
	return p, nil
}

func (s *Sysfs) ReadStatus() Status {
	dir := s.detect()
	if dir == "" {
		return StatusUnknown
	}
	v, err := readTrimmed(filepath.Join(dir, "status"))
	if err != nil {
		return StatusUnknown
	}
	return parseStatus(v)
}

// ACOnline reports whether the mains adapter is online. ok is false when
// no adapter is exposed.
func (s *Sysfs) ACOnline() (online, ok bool) {
	s.detect()
	s.mu.Lock()
	ac := s.ac
	s.mu.Unlock()
	if ac == "" {
		return false, false
	}
	v, err := readTrimmed(filepath.Join(ac, "online"))
	if err != nil {
		return false, false
	}
	return v == "1", true
}
