package bluez

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// RunFunc executes a command and returns its combined output.
type RunFunc func(ctx context.Context, name string, args ...string) ([]byte, error)

func execRun(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

// CLIController shells out to bluetoothctl.
type CLIController struct {
	Run RunFunc
}

func NewCLIController() *CLIController {
	return &CLIController{Run: execRun}
}

func (c *CLIController) Disconnect(ctx context.Context, mac string) error {
	return c.do(ctx, "disconnect", mac, "Successful disconnected")
}

func (c *CLIController) Trust(ctx context.Context, mac string) error {
	return c.do(ctx, "trust", mac, "trust succeeded")
}

// do runs one bluetoothctl subcommand. bluetoothctl exits 0 on many
// failures, so the output is checked as well.
func (c *CLIController) do(ctx context.Context, verb, mac, okMarker string) error {
	out, err := c.Run(ctx, "bluetoothctl", verb, mac)
	if err != nil {
		return fmt.Errorf("bluetoothctl %s %s: %w: %s", verb, mac, err, firstLine(out))
	}
	if bytes.Contains(out, []byte("not available")) {
		return fmt.Errorf("bluetoothctl %s %s: %w", verb, mac, ErrDeviceNotFound)
	}
	if bytes.Contains(out, []byte("Failed")) && !bytes.Contains(out, []byte(okMarker)) {
		return fmt.Errorf("bluetoothctl %s %s: %s", verb, mac, firstLine(out))
	}
	return nil
}

func firstLine(out []byte) string {
	s := strings.TrimSpace(string(out))
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
