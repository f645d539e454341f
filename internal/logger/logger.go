package logger

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"
	"sync"
	"time"
)

// Level represents the severity level of a log message
type Level int

const (
	DebugLevel Level = iota
	InfoLevel
	WarnLevel
	ErrorLevel
	FatalLevel
)

// String returns the string representation of a log level
func (l Level) String() string {
	switch l {
	case DebugLevel:
		return "DEBUG"
	case InfoLevel:
		return "INFO"
	case WarnLevel:
		return "WARN"
	case ErrorLevel:
		return "ERROR"
	case FatalLevel:
		return "FATAL"
	default:
		return "UNKNOWN"
	}
}

// Field represents a structured logging field
type Field struct {
	Key   string
	Value interface{}
}

// String creates a string field
func String(key, value string) Field {
	return Field{Key: key, Value: value}
}

// Int creates an integer field
func Int(key string, value int) Field {
	return Field{Key: key, Value: value}
}

// Bool creates a boolean field
func Bool(key string, value bool) Field {
	return Field{Key: key, Value: value}
}

// Error creates an error field
func Error(err error) Field {
	if err == nil {
		return Field{Key: "error", Value: nil}
	}
	return Field{Key: "error", Value: err.Error()}
}

// Duration creates a duration field
func Duration(key string, value time.Duration) Field {
	return Field{Key: key, Value: value.String()}
}

// Any creates a field with any value
func Any(key string, value interface{}) Field {
	return Field{Key: key, Value: value}
}

// Domain field constructors. Unlike the generic constructors above, these
// pin down the field key so every subsystem logs the same pairing-core
// concepts (spec §3 "Recipient address", §3 "Room") under one name instead
// of each call site inventing its own ("room_id" vs "roomID" vs "room").

// Recipient tags a log entry with a "@<hash>:<relay>" address (spec §3).
func Recipient(addr string) Field { return Field{Key: "recipient", Value: addr} }

// RoomID tags a log entry with a chat-room identifier.
func RoomID(id string) Field { return Field{Key: "room_id", Value: id} }

// RelayServer tags a log entry with the relay hostname a client is (or
// was) talking to.
func RelayServer(server string) Field { return Field{Key: "relay_server", Value: server} }

// PeerHash tags a log entry with a peer's publicKeyHash (spec §3).
func PeerHash(hash string) Field { return Field{Key: "peer_hash", Value: hash} }

// Attempt tags a log entry with a bounded retry loop's current attempt
// number (spec §4.4.2 tryJoinRooms, §4.4.5 waitForRoomMembers).
func Attempt(n int) Field { return Field{Key: "attempt", Value: n} }

// ctxKey is a private type for context values this package owns, so its
// keys never collide with another package's context values, even ones
// keyed by the same string.
type ctxKey string

const (
	ctxKeyRequestID ctxKey = "request_id"
	ctxKeyTraceID   ctxKey = "trace_id"
	ctxKeyRecipient ctxKey = "recipient"
	ctxKeyRoomID    ctxKey = "room_id"
	ctxKeyPeerHash  ctxKey = "peer_hash"
)

// ContextWithRecipient attaches a recipient address to ctx so every log
// line emitted by a logger built with WithContext(ctx) carries it without
// every call site threading the field through explicitly — useful across
// the several suspension points a single SendMessage/SendPairingResponse
// call crosses (spec §5 "every chat operation... is a suspension point").
func ContextWithRecipient(ctx context.Context, recipient string) context.Context {
	return context.WithValue(ctx, ctxKeyRecipient, recipient)
}

// ContextWithRoomID attaches a room ID to ctx, mirroring ContextWithRecipient.
func ContextWithRoomID(ctx context.Context, roomID string) context.Context {
	return context.WithValue(ctx, ctxKeyRoomID, roomID)
}

// ContextWithPeerHash attaches a peer's publicKeyHash to ctx, mirroring
// ContextWithRecipient.
func ContextWithPeerHash(ctx context.Context, peerHash string) context.Context {
	return context.WithValue(ctx, ctxKeyPeerHash, peerHash)
}

// Logger defines the interface for structured logging
type Logger interface {
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, fields ...Field)
	Fatal(msg string, fields ...Field)

	WithContext(ctx context.Context) Logger
	WithFields(fields ...Field) Logger
	SetLevel(level Level)
	GetLevel() Level
}

// StructuredLogger implements the Logger interface with JSON output
type StructuredLogger struct {
	mu          sync.RWMutex
	level       Level
	output      io.Writer
	context     context.Context
	baseFields  []Field
	timeFormat  string
	prettyPrint bool
}

// NewLogger creates a new structured logger
func NewLogger(output io.Writer, level Level) *StructuredLogger {
	return &StructuredLogger{
		level:      level,
		output:     output,
		timeFormat: time.RFC3339,
	}
}

// NewDefaultLogger creates a logger with default settings, honoring
// BEACON_LOG_LEVEL the way config.GetEnvironment honors BEACON_ENV
// (see config/env.go).
func NewDefaultLogger() *StructuredLogger {
	level := InfoLevel
	if envLevel := os.Getenv("BEACON_LOG_LEVEL"); envLevel != "" {
		switch strings.ToUpper(envLevel) {
		case "DEBUG":
			level = DebugLevel
		case "INFO":
			level = InfoLevel
		case "WARN":
			level = WarnLevel
		case "ERROR":
			level = ErrorLevel
		}
	}

	return NewLogger(os.Stdout, level)
}

// SetPrettyPrint enables or disables pretty printing of JSON logs
func (l *StructuredLogger) SetPrettyPrint(pretty bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.prettyPrint = pretty
}

// SetTimeFormat sets the time format for log entries
func (l *StructuredLogger) SetTimeFormat(format string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.timeFormat = format
}

// Debug logs a debug level message
func (l *StructuredLogger) Debug(msg string, fields ...Field) {
	l.log(DebugLevel, msg, fields...)
}

// Info logs an info level message
func (l *StructuredLogger) Info(msg string, fields ...Field) {
	l.log(InfoLevel, msg, fields...)
}

// Warn logs a warning level message
func (l *StructuredLogger) Warn(msg string, fields ...Field) {
	l.log(WarnLevel, msg, fields...)
}

// Error logs an error level message
func (l *StructuredLogger) Error(msg string, fields ...Field) {
	l.log(ErrorLevel, msg, fields...)
}

// Fatal logs a fatal level message and exits
func (l *StructuredLogger) Fatal(msg string, fields ...Field) {
	l.log(FatalLevel, msg, fields...)
	os.Exit(1)
}

// WithContext returns a new logger with the given context
func (l *StructuredLogger) WithContext(ctx context.Context) Logger {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return &StructuredLogger{
		level:       l.level,
		output:      l.output,
		context:     ctx,
		baseFields:  l.baseFields,
		timeFormat:  l.timeFormat,
		prettyPrint: l.prettyPrint,
	}
}

// WithFields returns a new logger with additional fields
func (l *StructuredLogger) WithFields(fields ...Field) Logger {
	l.mu.RLock()
	defer l.mu.RUnlock()

	newFields := make([]Field, len(l.baseFields)+len(fields))
	copy(newFields, l.baseFields)
	copy(newFields[len(l.baseFields):], fields)

	return &StructuredLogger{
		level:       l.level,
		output:      l.output,
		context:     l.context,
		baseFields:  newFields,
		timeFormat:  l.timeFormat,
		prettyPrint: l.prettyPrint,
	}
}

// WithPeer is a convenience over WithFields for the pairing core's most
// common logging shape: a message about one peer, identified by its
// recipient address and/or publicKeyHash (spec §3).
func (l *StructuredLogger) WithPeer(recipient, peerHash string) Logger {
	var fields []Field
	if recipient != "" {
		fields = append(fields, Recipient(recipient))
	}
	if peerHash != "" {
		fields = append(fields, PeerHash(peerHash))
	}
	return l.WithFields(fields...)
}

// SetLevel sets the minimum log level
func (l *StructuredLogger) SetLevel(level Level) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.level = level
}

// GetLevel returns the current log level
func (l *StructuredLogger) GetLevel() Level {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.level
}

// log is the internal logging method
func (l *StructuredLogger) log(level Level, msg string, fields ...Field) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if level < l.level {
		return
	}

	entry := make(map[string]interface{})
	entry["timestamp"] = time.Now().Format(l.timeFormat)
	entry["level"] = level.String()
	entry["message"] = msg

	// Add caller information
	if pc, file, line, ok := runtime.Caller(2); ok {
		entry["caller"] = fmt.Sprintf("%s:%d", file, line)
		if fn := runtime.FuncForPC(pc); fn != nil {
			entry["function"] = fn.Name()
		}
	}

	// Add context fields if available. request_id/trace_id are generic
	// ambient tracing fields; recipient/room_id/peer_hash are the pairing
	// core's own context values (ContextWithRecipient and friends above),
	// carried so a logger built from a ctx that crossed a SendMessage or
	// SendPairingResponse call (spec §4.4.5, §4.4.8) doesn't need every
	// log call at every suspension point to repeat the field.
	if l.context != nil {
		if requestID := l.context.Value(ctxKeyRequestID); requestID != nil {
			entry["request_id"] = requestID
		}
		if traceID := l.context.Value(ctxKeyTraceID); traceID != nil {
			entry["trace_id"] = traceID
		}
		if recipient := l.context.Value(ctxKeyRecipient); recipient != nil {
			entry["recipient"] = recipient
		}
		if roomID := l.context.Value(ctxKeyRoomID); roomID != nil {
			entry["room_id"] = roomID
		}
		if peerHash := l.context.Value(ctxKeyPeerHash); peerHash != nil {
			entry["peer_hash"] = peerHash
		}
	}

	// Add base fields
	for _, field := range l.baseFields {
		entry[field.Key] = field.Value
	}

	// Add provided fields
	for _, field := range fields {
		entry[field.Key] = field.Value
	}

	// Marshal to JSON
	var data []byte
	var err error
	if l.prettyPrint {
		data, err = json.MarshalIndent(entry, "", "  ")
	} else {
		data, err = json.Marshal(entry)
	}

	if err != nil {
		fmt.Fprintf(l.output, `{"level":"ERROR","message":"Failed to marshal log entry","error":"%v"}`+"\n", err)
		return
	}

	// Write to output
	fmt.Fprintf(l.output, "%s\n", data)
}

// CoreError represents a structured error with additional context,
// carrying the spec §7 error taxonomy's stable code in Code.
type CoreError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
	Cause   error                  `json:"-"`
}

// Error implements the error interface
func (e *CoreError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *CoreError) Unwrap() error {
	return e.Cause
}

// WithDetails adds details to the error
func (e *CoreError) WithDetails(key string, value interface{}) *CoreError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// WithRecipient is a WithDetails shorthand for the pairing core's most
// common error-context field.
func (e *CoreError) WithRecipient(recipient string) *CoreError {
	return e.WithDetails("recipient", recipient)
}

// NewCoreError creates a new structured core error
func NewCoreError(code, message string, cause error) *CoreError {
	return &CoreError{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// Common error codes
const (
	ErrCodeInternal           = "INTERNAL_ERROR"
	ErrCodeInvalidInput       = "INVALID_INPUT"
	ErrCodeNotFound           = "NOT_FOUND"
	ErrCodeUnauthorized       = "UNAUTHORIZED"
	ErrCodeForbidden          = "FORBIDDEN"
	ErrCodeConflict           = "CONFLICT"
	ErrCodeTimeout            = "TIMEOUT"
	ErrCodeNetworkError       = "NETWORK_ERROR"
	ErrCodeCryptoError        = "CRYPTO_ERROR"
	ErrCodeValidationError    = "VALIDATION_ERROR"
	ErrCodeConfigurationError = "CONFIGURATION_ERROR"

	// Pairing-core taxonomy, spec §7.
	ErrCodeNotReady           = "NOT_READY"
	ErrCodeTransient          = "TRANSIENT"
	ErrCodeDecryptionMismatch = "DECRYPTION_MISMATCH"
)

// Global logger instance
var defaultLogger = NewDefaultLogger()

// SetDefaultLogger sets the global default logger
func SetDefaultLogger(logger Logger) {
	if l, ok := logger.(*StructuredLogger); ok {
		defaultLogger = l
	}
}

// GetDefaultLogger returns the global default logger
func GetDefaultLogger() *StructuredLogger {
	return defaultLogger
}

// Package-level logging functions using the default logger

// Debug logs a debug message using the default logger
func Debug(msg string, fields ...Field) {
	defaultLogger.Debug(msg, fields...)
}

// Info logs an info message using the default logger
func Info(msg string, fields ...Field) {
	defaultLogger.Info(msg, fields...)
}

// Warn logs a warning message using the default logger
func Warn(msg string, fields ...Field) {
	defaultLogger.Warn(msg, fields...)
}

// ErrorMsg logs an error message using the default logger
func ErrorMsg(msg string, fields ...Field) {
	defaultLogger.Error(msg, fields...)
}

// Fatal logs a fatal message using the default logger and exits
func Fatal(msg string, fields ...Field) {
	defaultLogger.Fatal(msg, fields...)
}
