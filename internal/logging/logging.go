package logging

import (
	"io"
	"os"
	"strings"
	"sync/atomic"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Key constants for structured log fields.
const (
	KeyComponent = "component"
	KeyDevice    = "device"
	KeyMAC       = "mac"
	KeySession   = "session"
	KeyPlayer    = "player"
)

// switchableCore lets package-level loggers created before Init()
// pick up the configured core once Init runs.
type switchableCore struct {
	state  *switchableState
	fields []zapcore.Field
}

type switchableState struct {
	current atomic.Value // stores zapcore.Core
}

func newSwitchableCore(c zapcore.Core) *switchableCore {
	state := &switchableState{}
	state.current.Store(c)
	return &switchableCore{state: state}
}

func (c *switchableCore) set(core zapcore.Core) {
	c.state.current.Store(core)
}

func (c *switchableCore) materialize() zapcore.Core {
	core := c.state.current.Load().(zapcore.Core)
	if len(c.fields) > 0 {
		core = core.With(c.fields)
	}
	return core
}

func (c *switchableCore) Enabled(level zapcore.Level) bool {
	return c.materialize().Enabled(level)
}

func (c *switchableCore) With(fields []zapcore.Field) zapcore.Core {
	merged := make([]zapcore.Field, 0, len(c.fields)+len(fields))
	merged = append(merged, c.fields...)
	merged = append(merged, fields...)
	return &switchableCore{state: c.state, fields: merged}
}

func (c *switchableCore) Check(entry zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	return c.materialize().Check(entry, ce)
}

func (c *switchableCore) Write(entry zapcore.Entry, fields []zapcore.Field) error {
	return c.materialize().Write(entry, fields)
}

func (c *switchableCore) Sync() error {
	return c.materialize().Sync()
}

var (
	rootCore   = newSwitchableCore(newCore("console", zapcore.InfoLevel, os.Stderr))
	rootLogger = zap.New(rootCore)
)

// Init configures the global logger. Call once after config is loaded.
// format: "json" or "console" (default "console")
// level: "debug", "info", "warn", "error" (default "info")
// output: writer to log to (nil = os.Stderr)
func Init(format, level string, output io.Writer) {
	if output == nil {
		output = os.Stderr
	}
	rootCore.set(newCore(format, parseLevel(level), output))
	zap.ReplaceGlobals(rootLogger)
}

func newCore(format string, level zapcore.Level, output io.Writer) zapcore.Core {
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "time"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	var enc zapcore.Encoder
	if strings.EqualFold(format, "json") {
		enc = zapcore.NewJSONEncoder(encCfg)
	} else {
		encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
		enc = zapcore.NewConsoleEncoder(encCfg)
	}
	return zapcore.NewCore(enc, zapcore.AddSync(output), level)
}

// L returns a logger tagged with the given component name.
func L(component string) *zap.Logger {
	return rootLogger.With(zap.String(KeyComponent, component))
}

// Sync flushes buffered log entries.
func Sync() {
	_ = rootLogger.Sync()
}

func parseLevel(s string) zapcore.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}
