//go:build linux && cgo

package inventory

import (
	"context"
	"strings"

	udev "github.com/jochenvg/go-udev"
)

// UdevLister enumerates the input subsystem through libudev.
type UdevLister struct {
	u udev.Udev
}

func (l *UdevLister) List(ctx context.Context) ([]Candidate, error) {
	e := l.u.NewEnumerate()
	if err := e.AddMatchSubsystem("input"); err != nil {
		return nil, err
	}
	if err := e.AddMatchIsInitialized(); err != nil {
		return nil, err
	}
	devices, err := e.Devices()
	if err != nil {
		return nil, err
	}

	var out []Candidate
	for _, d := range devices {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		node := d.Devnode()
		if !strings.HasPrefix(node, "/dev/input/event") {
			continue
		}
		// name and uniq live on the parent inputN device.
		parent := d.Parent()
		if parent == nil {
			continue
		}
		out = append(out, Candidate{
			Path:       node,
			Name:       strings.Trim(parent.SysattrValue("name"), "\" \n"),
			HardwareID: strings.TrimSpace(parent.SysattrValue("uniq")),
		})
	}
	return out, nil
}

// DefaultLister prefers libudev when the binary was built with cgo.
func DefaultLister() Lister {
	return &UdevLister{}
}
