// Package inventory finds attached DualSense input devices and their
// Bluetooth addresses.
package inventory

import (
	"context"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/padwatch/padwatch/internal/logging"
)

var log = logging.L("inventory")

// Product-name fragments that identify a DualSense event node. Matching is
// case-insensitive.
var namePatterns = []string{"dualsense", "wireless controller"}

// Candidate is one matching input device.
type Candidate struct {
	Path       string `json:"path"`
	Name       string `json:"name"`
	HardwareID string `json:"mac,omitempty"` // empty when the address is unknown
}

// Lister enumerates every input event device on the host. Implementations
// do not filter by name.
type Lister interface {
	List(ctx context.Context) ([]Candidate, error)
}

// ListerFunc adapts a function to Lister.
type ListerFunc func(ctx context.Context) ([]Candidate, error)

func (f ListerFunc) List(ctx context.Context) ([]Candidate, error) { return f(ctx) }

// Matches reports whether name belongs to a supported controller.
func Matches(name string) bool {
	lower := strings.ToLower(name)
	for _, p := range namePatterns {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}

// NormalizeMAC lower-cases a link-layer address and uses ':' separators.
func NormalizeMAC(mac string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(mac)), "-", ":")
}

// Inventory filters a Lister down to controllers.
type Inventory struct {
	lister  Lister
	onError func(error)
}

func New(l Lister) *Inventory {
	return &Inventory{lister: l}
}

// OnError registers a callback invoked whenever the underlying listing
// fails. The monitor uses it for health accounting.
func (inv *Inventory) OnError(fn func(error)) {
	inv.onError = fn
}

// Candidates returns the matching devices sorted by path. A failed listing
// is logged and yields an empty result.
func (inv *Inventory) Candidates(ctx context.Context) []Candidate {
	all, err := inv.lister.List(ctx)
	if err != nil {
		log.Warn("device listing failed", zap.Error(err))
		if inv.onError != nil {
			inv.onError(err)
		}
		return nil
	}
	var out []Candidate
	for _, c := range all {
		if !Matches(c.Name) {
			continue
		}
		c.HardwareID = NormalizeMAC(c.HardwareID)
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}
