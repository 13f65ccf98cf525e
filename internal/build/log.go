package build

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/btcsuite/btclog"
	btclogv2 "github.com/btcsuite/btclog/v2"
)

// Subsystem tags used by the daemon.
const (
	SubsystemScan      = "SCAN"
	SubsystemScheduler = "SCHD"
	SubsystemLedger    = "LDGR"
	SubsystemMailbox   = "MBOX"
	SubsystemClassify  = "CLSF"
	SubsystemHTTP      = "HTTP"
	SubsystemDB        = "DB"
	SubsystemDaemon    = "LBLD"
)

// LogConfig configures SetupLogging.
type LogConfig struct {
	// Level is one of trace, debug, info, warn, error, critical, off.
	Level string

	// Console receives the console stream. Nil means stderr.
	Console io.Writer

	// File enables the rotating log file when set.
	File *RotatorConfig
}

// Logging owns the root handler and the log file.
type Logging struct {
	root *HandlerSet
	file *RotatingLogWriter
}

// SetupLogging builds the console and file handlers.
func SetupLogging(cfg LogConfig) (*Logging, error) {
	level, ok := btclog.LevelFromString(strings.ToLower(cfg.Level))
	if !ok {
		return nil, fmt.Errorf("unknown log level %q", cfg.Level)
	}

	console := cfg.Console
	if console == nil {
		console = os.Stderr
	}

	handlers := []btclogv2.Handler{btclogv2.NewDefaultHandler(console)}

	l := &Logging{}
	if cfg.File != nil {
		w, err := NewRotatingLogWriter(*cfg.File)
		if err != nil {
			return nil, err
		}
		l.file = w
		handlers = append(handlers, btclogv2.NewDefaultHandler(w))
	}

	l.root = NewHandlerSet(handlers...)
	l.root.SetLevel(level)

	return l, nil
}

// Logger returns a logger tagged with the subsystem.
func (l *Logging) Logger(subsystem string) *slog.Logger {
	return slog.New(l.root.SubSystem(subsystem))
}

// Close flushes the log file.
func (l *Logging) Close() error {
	if l.file == nil {
		return nil
	}

	return l.file.Close()
}
