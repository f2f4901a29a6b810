package debug

import (
	"fmt"
	"io"
	"os"
	"sync/atomic"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Debug levels
const (
	LevelOff     = 0 // No output
	LevelInfo    = 1 // Important info (plans accepted/rejected, scan summary)
	LevelLive    = 2 // Live info (moves executed, triggers fired)
	LevelVerbose = 3 // Verbose (planner orderings, waypoints)
	LevelTrace   = 4 // Trace (GPIO, collision samples)
)

// Options configures where log lines go.
type Options struct {
	Level      int
	Console    io.Writer // defaults to stdout
	File       string    // optional rotating JSON log file
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

var (
	level  atomic.Int32
	logger atomic.Pointer[zap.SugaredLogger]
)

func init() {
	logger.Store(zap.NewNop().Sugar())
}

// Init initializes the debug system with a level (0-4), logging to stdout.
// 0 = no output
// 1 = important info (plans, scan summary)
// 2 = live info (moves, triggers)
// 3 = verbose (planner orderings, waypoints)
// 4 = trace (GPIO, collision samples)
func Init(debugLevel int) {
	_ = Setup(Options{Level: debugLevel})
}

// Setup initializes the debug system. Console output goes to opts.Console
// (stdout when nil); when File is set a rotating JSON copy is written too.
func Setup(opts Options) error {
	level.Store(int32(opts.Level))
	if opts.Level <= LevelOff {
		logger.Store(zap.NewNop().Sugar())
		return nil
	}

	console := opts.Console
	if console == nil {
		console = os.Stdout
	}
	cores := []zapcore.Core{consoleCore(console)}
	if opts.File != "" {
		f, err := os.OpenFile(opts.File, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return fmt.Errorf("open log file: %w", err)
		}
		f.Close()

		rotate := &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    orDefault(opts.MaxSizeMB, 10),
			MaxBackups: orDefault(opts.MaxBackups, 3),
			MaxAge:     opts.MaxAgeDays,
		}
		enc := zap.NewProductionEncoderConfig()
		enc.EncodeTime = zapcore.ISO8601TimeEncoder
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(enc), zapcore.AddSync(rotate), zapcore.DebugLevel))
	}
	logger.Store(zap.New(zapcore.NewTee(cores...)).Named("ptfmove").Sugar())
	return nil
}

// SetOutput redirects console output to w at the given level. Used by tests.
func SetOutput(w io.Writer, debugLevel int) {
	level.Store(int32(debugLevel))
	logger.Store(zap.New(consoleCore(w)).Named("ptfmove").Sugar())
}

// Sync flushes buffered log entries.
func Sync() {
	_ = logger.Load().Sync()
}

func consoleCore(w io.Writer) zapcore.Core {
	enc := zap.NewDevelopmentEncoderConfig()
	enc.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05.000000")
	enc.EncodeCaller = nil
	enc.CallerKey = ""
	return zapcore.NewCore(zapcore.NewConsoleEncoder(enc), zapcore.AddSync(w), zapcore.DebugLevel)
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

// Level returns the current debug level.
func Level() int {
	return int(level.Load())
}

// IsEnabled returns true if debug level is >= the requested level.
func IsEnabled(minLevel int) bool {
	return Level() >= minLevel
}

// --- Level 1 functions (Info): important info ---

// Info prints a level 1 message (important info).
func Info(format string, args ...interface{}) {
	if IsEnabled(LevelInfo) {
		logger.Load().Infof(format, args...)
	}
}

// Summary prints an important summary (level 1).
func Summary(title string) {
	if IsEnabled(LevelInfo) {
		logger.Load().Info("═══════════════════════════════════════")
		logger.Load().Infof("  %s", title)
		logger.Load().Info("═══════════════════════════════════════")
	}
}

// --- Level 2 functions (Live): real-time info ---

// Live prints a level 2 message (live info).
func Live(format string, args ...interface{}) {
	if IsEnabled(LevelLive) {
		logger.Load().Named("live").Infof(format, args...)
	}
}

// Move prints an executed waypoint row (level 2).
func Move(row, total int, counts interface{}) {
	if IsEnabled(LevelLive) {
		logger.Load().Named("live").Infow("waypoint reached", "row", row, "of", total, "counts", counts)
	}
}

// --- Level 3 functions (Verbose): everything ---

// Verbose prints a level 3 message (verbose).
func Verbose(format string, args ...interface{}) {
	if IsEnabled(LevelVerbose) {
		logger.Load().Debugf(format, args...)
	}
}

// PrintStruct prints a struct in formatted form (level 3).
func PrintStruct(name string, v interface{}) {
	if IsEnabled(LevelVerbose) {
		logger.Load().Debugf("%s: %+v", name, v)
	}
}

// Section prints a section separator (level 3).
func Section(name string) {
	if IsEnabled(LevelVerbose) {
		logger.Load().Debug("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
		logger.Load().Debugf("  %s", name)
		logger.Load().Debug("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	}
}

// Step prints a numbered step (level 3).
func Step(num int, description string) {
	if IsEnabled(LevelVerbose) {
		logger.Load().Debugf("Step %d: %s", num, description)
	}
}

// Value prints a named value in formatted form (level 1).
func Value(name string, value interface{}) {
	if IsEnabled(LevelInfo) {
		logger.Load().Infof("  %s = %v", name, value)
	}
}

// --- Level 4 functions (Trace): very low level ---

// Trace prints a level 4 message (trace).
func Trace(format string, args ...interface{}) {
	if IsEnabled(LevelTrace) {
		logger.Load().Named("trace").Debugf(format, args...)
	}
}

// GPIO prints a GPIO operation (level 4).
func GPIO(operation string, pin int, value interface{}) {
	if IsEnabled(LevelTrace) {
		logger.Load().Named("gpio").Debugw(operation, "pin", pin, "value", value)
	}
}

// --- General functions ---

// Error prints a debug error (level 1+).
func Error(err error) {
	if IsEnabled(LevelInfo) {
		logger.Load().Errorf("%v", err)
	}
}

// Fmt is a helper function that returns a formatted string
// only if debug is enabled (to avoid unnecessary allocations).
func Fmt(format string, args ...interface{}) string {
	if Level() > 0 {
		return fmt.Sprintf(format, args...)
	}
	return ""
}
