// Package observability holds the process-wide CLI logger.
package observability

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logging profiles.
const (
	ProfileStructured = "structured"
	ProfileConsole    = "console"
)

var (
	mu sync.Mutex

	// CLILogger is the logger commands write to. It discards everything until
	// InitCLILogger runs.
	CLILogger = zap.NewNop()
)

// NewLogger builds a logger writing to w. Level is a zap level name
// (debug, info, warn, error); profile is structured (JSON lines) or console.
func NewLogger(w io.Writer, level, profile string) (*zap.Logger, error) {
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(strings.ToLower(strings.TrimSpace(level)))); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	var enc zapcore.Encoder
	switch strings.ToLower(strings.TrimSpace(profile)) {
	case "", ProfileStructured:
		enc = zapcore.NewJSONEncoder(encCfg)
	case ProfileConsole:
		encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
		enc = zapcore.NewConsoleEncoder(encCfg)
	default:
		return nil, fmt.Errorf("invalid log profile %q (want %s or %s)", profile, ProfileStructured, ProfileConsole)
	}

	core := zapcore.NewCore(enc, zapcore.Lock(zapcore.AddSync(w)), lvl)
	return zap.New(core), nil
}

// InitCLILogger replaces CLILogger with a stderr logger.
func InitCLILogger(level, profile string) error {
	l, err := NewLogger(os.Stderr, level, profile)
	if err != nil {
		return err
	}
	SetCLILogger(l)
	return nil
}

// SetCLILogger swaps the process logger, flushing the previous one.
func SetCLILogger(l *zap.Logger) {
	if l == nil {
		l = zap.NewNop()
	}
	mu.Lock()
	defer mu.Unlock()
	_ = CLILogger.Sync()
	CLILogger = l
}
