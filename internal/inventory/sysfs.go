package inventory

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// SysfsLister walks /sys/class/input/event* directly. It is the fallback
// when libudev is unavailable and the lister used in tests.
type SysfsLister struct {
	// Root defaults to /sys.
	Root string
	// DevDir defaults to /dev/input.
	DevDir string
}

func (s *SysfsLister) root() string {
	if s.Root == "" {
		return "/sys"
	}
	return s.Root
}

func (s *SysfsLister) devDir() string {
	if s.DevDir == "" {
		return "/dev/input"
	}
	return s.DevDir
}

func (s *SysfsLister) List(ctx context.Context) ([]Candidate, error) {
	classDir := filepath.Join(s.root(), "class", "input")
	entries, err := os.ReadDir(classDir)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", classDir, err)
	}

	var out []Candidate
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !strings.HasPrefix(e.Name(), "event") {
			continue
		}
		devDir := filepath.Join(classDir, e.Name(), "device")
		name, err := readAttr(filepath.Join(devDir, "name"))
		if err != nil {
			// Node vanished between ReadDir and here.
			continue
		}
		uniq, _ := readAttr(filepath.Join(devDir, "uniq"))
		out = append(out, Candidate{
			Path:       filepath.Join(s.devDir(), e.Name()),
			Name:       name,
			HardwareID: uniq,
		})
	}
	return out, nil
}

// HardwareID resolves the address for a single event node path, or "" when
// none is recorded.
func (s *SysfsLister) HardwareID(devPath string) string {
	uniq, err := readAttr(filepath.Join(s.root(), "class", "input", filepath.Base(devPath), "device", "uniq"))
	if err != nil {
		return ""
	}
	return NormalizeMAC(uniq)
}

func readAttr(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}
