package evdev

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"unsafe"

	"golang.org/x/sys/unix"
)

// ErrClosed is returned by ReadEvent after Close.
var ErrClosed = errors.New("evdev: device closed")

const nameBufLen = 256

// eviocgname builds EVIOCGNAME(len): _IOC(_IOC_READ, 'E', 0x06, len).
func eviocgname(n uintptr) uintptr {
	const (
		iocRead      = 2
		iocNRShift   = 0
		iocTypeShift = 8
		iocSizeShift = 16
		iocDirShift  = 30
	)
	return iocRead<<iocDirShift | n<<iocSizeShift | uintptr('E')<<iocTypeShift | 0x06<<iocNRShift
}

// Device is an open input event node.
type Device struct {
	path string
	f    *os.File
	r    *bufio.Reader
}

// Open opens path read-only. Opening most event nodes requires membership
// in the input group.
func Open(path string) (*Device, error) {
	f, err := os.OpenFile(path, os.O_RDONLY|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	return &Device{
		path: path,
		f:    f,
		r:    bufio.NewReaderSize(f, EventSize*64),
	}, nil
}

func (d *Device) Path() string {
	return d.path
}

// Name asks the kernel for the device's product name.
func (d *Device) Name() (string, error) {
	raw, err := d.f.SyscallConn()
	if err != nil {
		return "", err
	}
	buf := make([]byte, nameBufLen)
	var errno unix.Errno
	ctlErr := raw.Control(func(fd uintptr) {
		_, _, errno = unix.Syscall(unix.SYS_IOCTL, fd, eviocgname(nameBufLen), uintptr(unsafe.Pointer(&buf[0])))
	})
	if ctlErr != nil {
		return "", ctlErr
	}
	if errno != 0 {
		return "", fmt.Errorf("EVIOCGNAME %s: %w", d.path, errno)
	}
	return strings.TrimRight(string(buf), "\x00"), nil
}

// ReadEvent blocks until the next event arrives. It returns ErrClosed once
// Close has been called from another goroutine.
func (d *Device) ReadEvent() (Event, error) {
	ev, err := Decode(d.r)
	if err != nil {
		if errors.Is(err, os.ErrClosed) {
			return Event{}, ErrClosed
		}
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return Event{}, fmt.Errorf("short read on %s: %w", d.path, err)
		}
		return Event{}, err
	}
	return ev, nil
}

func (d *Device) Close() error {
	return d.f.Close()
}
