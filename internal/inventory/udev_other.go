//go:build !linux || !cgo

package inventory

// DefaultLister falls back to reading sysfs when libudev is not linked in.
func DefaultLister() Lister {
	return &SysfsLister{}
}
