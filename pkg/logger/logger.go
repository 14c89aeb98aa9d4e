// Package logger carries a logrus entry through context.Context so every
// stage of validate, build and install logs with the fields of the caller
// (primitive, provider, target) without threading a logger argument.
package logger

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/sirupsen/logrus"
)

// Field names shared across packages
const (
	FieldPrimitive = "primitive"
	FieldProvider  = "provider"
	FieldVersion   = "version"
	FieldPath      = "path"
	FieldBuildID   = "build_id"
)

var (
	// G returns the logger stored in a context
	G = GetLogger
	// L is the process-wide entry used when a context has none
	L = logrus.NewEntry(newLogger())
)

type loggerKey struct{}

// WithLogger stores entry in ctx
func WithLogger(ctx context.Context, entry *logrus.Entry) context.Context {
	return context.WithValue(ctx, loggerKey{}, entry.WithContext(ctx))
}

// WithFields derives a context whose logger carries the given fields on top
// of whatever the context already had
func WithFields(ctx context.Context, fields logrus.Fields) context.Context {
	return WithLogger(ctx, G(ctx).WithFields(fields))
}

// WithPrimitive tags the context logger with a primitive reference
func WithPrimitive(ctx context.Context, ref string) context.Context {
	return WithFields(ctx, logrus.Fields{FieldPrimitive: ref})
}

// WithProvider tags the context logger with a provider name
func WithProvider(ctx context.Context, provider string) context.Context {
	return WithFields(ctx, logrus.Fields{FieldProvider: provider})
}

// GetLogger returns the entry stored in ctx, or L bound to ctx
func GetLogger(ctx context.Context) *logrus.Entry {
	if entry, ok := ctx.Value(loggerKey{}).(*logrus.Entry); ok {
		return entry
	}
	return L.WithContext(ctx)
}

func newLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	applyFormat(l, "fmt")
	return l
}

func applyFormat(l *logrus.Logger, format string) {
	if format == "json" {
		l.Formatter = &logrus.JSONFormatter{
			TimestampFormat: time.RFC3339Nano,
			FieldMap: logrus.FieldMap{
				logrus.FieldKeyTime:  "timestamp",
				logrus.FieldKeyLevel: "level",
				logrus.FieldKeyMsg:   "message",
			},
		}
		return
	}
	l.Formatter = &logrus.TextFormatter{
		TimestampFormat: time.RFC3339,
		FullTimestamp:   true,
	}
}

// Configure sets the level and format ("fmt" or "json") of the global logger
func Configure(level, format string) error {
	if err := SetLogLevel(level); err != nil {
		return err
	}
	SetLogFormat(format)
	return nil
}

// SetLogLevel sets the level of the global logger
func SetLogLevel(level string) error {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return err
	}
	L.Logger.SetLevel(lvl)
	return nil
}

// SetLogFormat sets the format of the global logger
func SetLogFormat(format string) {
	applyFormat(L.Logger, format)
}

// SetLogOutput redirects the global logger
func SetLogOutput(w io.Writer) {
	L.Logger.SetOutput(w)
}
