package main

import (
	"fmt"
	"strconv"

	"github.com/sirupsen/logrus"
)

func parseIntArg(args []string, valueName string) (int, error) {
	if len(args) != 1 {
		return 0, fmt.Errorf("invalid number of arguments")
	}

	value, err := strconv.Atoi(args[0])
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %v", valueName, err)
	}

	return value, nil
}

// report logs the daemon's answer to a command.
func report(ret string, err error, action string) error {
	if err != nil {
		return fmt.Errorf("failed to %s: %w", action, err)
	}
	if ret != "" {
		logrus.Infof("daemon responded: %s", ret)
	}
	return nil
}
