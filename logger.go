package compassone

import (
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/google/uuid"
)

// Logger is the structured logging interface used for debug output.
// Implementations receive a message plus alternating key/value pairs.
// Credential values are never passed through this interface; callers log
// only redacted placeholders.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// SimpleLogger writes key=value formatted lines to stderr. Intended for
// development; production users should adapt their own Logger.
type SimpleLogger struct {
	logger *log.Logger
}

// NewSimpleLogger creates a console logger writing to stderr.
func NewSimpleLogger() *SimpleLogger {
	return &SimpleLogger{
		logger: log.New(os.Stderr, "", log.LstdFlags|log.Lmicroseconds),
	}
}

func (l *SimpleLogger) Debug(msg string, keysAndValues ...any) { l.log("DEBUG", msg, keysAndValues) }
func (l *SimpleLogger) Info(msg string, keysAndValues ...any)  { l.log("INFO", msg, keysAndValues) }
func (l *SimpleLogger) Warn(msg string, keysAndValues ...any)  { l.log("WARN", msg, keysAndValues) }
func (l *SimpleLogger) Error(msg string, keysAndValues ...any) { l.log("ERROR", msg, keysAndValues) }

func (l *SimpleLogger) log(level, msg string, keysAndValues []any) {
	var b strings.Builder
	b.WriteString(level)
	b.WriteByte(' ')
	b.WriteString(msg)
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		fmt.Fprintf(&b, " %v=%v", keysAndValues[i], keysAndValues[i+1])
	}
	if len(keysAndValues)%2 != 0 {
		fmt.Fprintf(&b, " %v=<missing>", keysAndValues[len(keysAndValues)-1])
	}
	l.logger.Print(b.String())
}

// NoopLogger silently discards all log messages. It is the default when no
// logger is configured.
type NoopLogger struct{}

func (NoopLogger) Debug(string, ...any) {}
func (NoopLogger) Info(string, ...any)  {}
func (NoopLogger) Warn(string, ...any)  {}
func (NoopLogger) Error(string, ...any) {}

// DebugConfig gates per-concern debug logging so individual layers can be
// inspected without drowning in noise.
type DebugConfig struct {
	Enabled        bool
	LogRequests    bool
	LogRetries     bool
	LogRateLimit   bool
	LogCircuit     bool
	LogCredentials bool
	RequestIDGen   func() string
}

// DefaultDebugConfig returns a DebugConfig with every concern enabled and a
// UUID request-ID generator. Debugging itself stays off until WithDebug.
func DefaultDebugConfig() *DebugConfig {
	return &DebugConfig{
		Enabled:        false,
		LogRequests:    true,
		LogRetries:     true,
		LogRateLimit:   true,
		LogCircuit:     true,
		LogCredentials: true,
		RequestIDGen:   uuid.NewString,
	}
}
