package battery

import (
	"bufio"
	"bytes"
	"context"
	"os/exec"
	"strings"

	"github.com/pkg/errors"
)

// controllerBatteryTag marks the UPower entries created by the hid-playstation
// driver.
const controllerBatteryTag = "ps_controller_battery"

// RunFunc executes a command and returns its stdout.
type RunFunc func(ctx context.Context, name string, args ...string) ([]byte, error)

func execRun(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).Output()
}

// CLIQuerier shells out to the upower binary. It is the fallback for hosts
// where the system bus is not reachable from the daemon.
type CLIQuerier struct {
	Run RunFunc
}

func NewCLIQuerier() *CLIQuerier {
	return &CLIQuerier{Run: execRun}
}

func (q *CLIQuerier) Query(ctx context.Context, mac string) (Info, error) {
	out, err := q.Run(ctx, "upower", "-e")
	if err != nil {
		return Info{}, errors.Wrap(err, "upower -e")
	}
	for _, dev := range strings.Split(string(out), "\n") {
		dev = strings.TrimSpace(dev)
		if !strings.Contains(dev, controllerBatteryTag) {
			continue
		}
		details, err := q.Run(ctx, "upower", "-i", dev)
		if err != nil {
			return Info{}, errors.Wrapf(err, "upower -i %s", dev)
		}
		serial, info := parseDetails(details)
		if strings.EqualFold(serial, mac) {
			return info, nil
		}
	}
	return Info{}, ErrNotFound
}

// parseDetails extracts serial, percentage and state from `upower -i`.
func parseDetails(out []byte) (string, Info) {
	var serial string
	info := Info{Percentage: Unknown}
	sc := bufio.NewScanner(bytes.NewReader(out))
	for sc.Scan() {
		key, value, ok := strings.Cut(strings.TrimSpace(sc.Text()), ":")
		if !ok {
			continue
		}
		value = strings.TrimSpace(value)
		switch key {
		case "serial":
			serial = strings.ToLower(value)
		case "percentage":
			info.Percentage = value
		case "state":
			switch value {
			case "charging", "fully-charged", "pending-charge":
				info.Charging = true
			}
		}
	}
	return serial, info
}
