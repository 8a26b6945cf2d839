// Package logging provides leveled console output for the coordination core.
// Lines are written as: LEVEL TIMESTAMP [component] message key=value ...
package logging

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"
)

// Level represents log severity.
type Level string

const (
	LevelDebug Level = "DEBUG"
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
)

// levelPriority maps levels to numeric priority for filtering.
var levelPriority = map[Level]int{
	LevelDebug: 0,
	LevelInfo:  1,
	LevelWarn:  2,
	LevelError: 3,
}

// ParseLevel converts a case-insensitive level name into a Level.
func ParseLevel(s string) (Level, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return LevelDebug, nil
	case "", "INFO":
		return LevelInfo, nil
	case "WARN", "WARNING":
		return LevelWarn, nil
	case "ERROR":
		return LevelError, nil
	default:
		return LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
}

// sink is shared between a logger and every logger derived from it so
// that concurrent components never interleave partial lines.
type sink struct {
	mu  sync.Mutex
	out io.Writer
}

// Logger writes leveled lines for one component.
type Logger struct {
	sink      *sink
	minLevel  Level
	component string
}

// New creates a Logger writing to stdout at INFO.
func New() *Logger {
	return &Logger{
		sink:     &sink{out: os.Stdout},
		minLevel: LevelInfo,
	}
}

// Discard returns a logger that drops everything.
func Discard() *Logger {
	return &Logger{
		sink:     &sink{out: io.Discard},
		minLevel: LevelError,
	}
}

// OrDiscard returns l, or a discarding logger when l is nil.
func OrDiscard(l *Logger) *Logger {
	if l == nil {
		return Discard()
	}
	return l
}

// WithComponent returns a logger sharing the output but tagged with component.
func (l *Logger) WithComponent(component string) *Logger {
	return &Logger{
		sink:      l.sink,
		minLevel:  l.minLevel,
		component: component,
	}
}

// Component returns the component tag.
func (l *Logger) Component() string {
	return l.component
}

// SetLevel sets the minimum log level. Call before handing the logger out.
func (l *Logger) SetLevel(level Level) {
	l.minLevel = level
}

// SetOutput replaces the writer for this logger and all loggers derived from it.
func (l *Logger) SetOutput(w io.Writer) {
	l.sink.mu.Lock()
	l.sink.out = w
	l.sink.mu.Unlock()
}

// Enabled reports whether level would be written.
func (l *Logger) Enabled(level Level) bool {
	return levelPriority[level] >= levelPriority[l.minLevel]
}

// Debug logs a debug message.
func (l *Logger) Debug(msg string, fields ...map[string]interface{}) {
	l.log(LevelDebug, msg, fields...)
}

// Info logs an info message.
func (l *Logger) Info(msg string, fields ...map[string]interface{}) {
	l.log(LevelInfo, msg, fields...)
}

// Warn logs a warning message.
func (l *Logger) Warn(msg string, fields ...map[string]interface{}) {
	l.log(LevelWarn, msg, fields...)
}

// Error logs an error message.
func (l *Logger) Error(msg string, fields ...map[string]interface{}) {
	l.log(LevelError, msg, fields...)
}

// formatFields renders fields as key=value pairs in key order.
func formatFields(fields map[string]interface{}) string {
	if len(fields) == 0 {
		return ""
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&b, " %s=%v", k, fields[k])
	}
	return b.String()
}

func (l *Logger) log(level Level, msg string, fields ...map[string]interface{}) {
	if !l.Enabled(level) {
		return
	}

	timestamp := time.Now().UTC().Format("2006-01-02T15:04:05.000Z")

	var fieldStr string
	if len(fields) > 0 && fields[0] != nil {
		fieldStr = formatFields(fields[0])
	}

	var line string
	if l.component != "" {
		line = fmt.Sprintf("%-5s %s [%s] %s%s\n", level, timestamp, l.component, msg, fieldStr)
	} else {
		line = fmt.Sprintf("%-5s %s %s%s\n", level, timestamp, msg, fieldStr)
	}

	l.sink.mu.Lock()
	defer l.sink.mu.Unlock()
	l.sink.out.Write([]byte(line))
}

// --- Coordination events ---

// DeliveryFailure records a subscriber handler that panicked or failed.
func (l *Logger) DeliveryFailure(channel, subscriber, messageID string, cause interface{}) {
	l.Error("delivery_failure", map[string]interface{}{
		"channel":    channel,
		"subscriber": subscriber,
		"message_id": messageID,
		"cause":      cause,
	})
}

// UnknownRecipient records a publish on a channel with no live subscriber.
func (l *Logger) UnknownRecipient(channel, messageID string) {
	l.Warn("no_subscribers", map[string]interface{}{
		"channel":    channel,
		"message_id": messageID,
	})
}

// RegistryMiss records an operation against an unregistered agent id.
func (l *Logger) RegistryMiss(op, agentID string) {
	l.Debug("registry_miss", map[string]interface{}{
		"op":       op,
		"agent_id": agentID,
	})
}

// SweepError records a failed liveness sweep iteration.
func (l *Logger) SweepError(sweep string, cause interface{}) {
	l.Error("sweep_error", map[string]interface{}{
		"sweep": sweep,
		"cause": cause,
	})
}

// StateChange records a lifecycle transition.
func (l *Logger) StateChange(from, to string) {
	l.Info("state_change", map[string]interface{}{
		"from": from,
		"to":   to,
	})
}

// Elapsed records the duration of a named operation.
func (l *Logger) Elapsed(op string, d time.Duration) {
	l.Debug(op, map[string]interface{}{
		"duration": d.String(),
	})
}
