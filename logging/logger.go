// Package logging provides the structured logger used across the motion
// core. It wraps zap rather than reimplementing level filtering, field
// encoding, or rotation, and adds the context-aware calling convention
// (`CDebugf(ctx, ...)`) used throughout this codebase so call sites can
// carry a request/job context without threading it through every argument.
package logging

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is the interface every component in this module takes instead of
// a bare *zap.SugaredLogger, so call sites never need to know the backing
// implementation (real zap, a test logger, or a no-op).
type Logger interface {
	Debug(args ...interface{})
	Debugf(template string, args ...interface{})
	Info(args ...interface{})
	Infof(template string, args ...interface{})
	Warn(args ...interface{})
	Warnf(template string, args ...interface{})
	Error(args ...interface{})
	Errorf(template string, args ...interface{})

	CDebugf(ctx context.Context, template string, args ...interface{})
	CInfof(ctx context.Context, template string, args ...interface{})
	CWarnf(ctx context.Context, template string, args ...interface{})
	CWarn(ctx context.Context, args ...interface{})
	CErrorf(ctx context.Context, template string, args ...interface{})
	CError(ctx context.Context, args ...interface{})

	With(args ...interface{}) Logger
	Named(name string) Logger
}

type impl struct {
	sugar *zap.SugaredLogger
}

// New builds a Logger that writes through the given Appenders. With no
// appenders, it defaults to a single ConsoleAppender over stdout.
func New(name string, level zapcore.Level, appenders ...Appender) Logger {
	if len(appenders) == 0 {
		appenders = []Appender{NewStdoutAppender()}
	}
	cores := make([]zapcore.Core, 0, len(appenders))
	for _, a := range appenders {
		cores = append(cores, &appenderCore{appender: a, enabler: level})
	}
	core := zapcore.NewTee(cores...)
	base := zap.New(core, zap.AddCaller())
	return &impl{sugar: base.Named(name).Sugar()}
}

// NewTestLogger constructs a Logger suitable for unit tests: debug level,
// writing to the test's own stdout capture rather than a rotated file.
func NewTestLogger() Logger {
	return New("test", zapcore.DebugLevel)
}

func (l *impl) Debug(args ...interface{})                  { l.sugar.Debug(args...) }
func (l *impl) Debugf(t string, args ...interface{})        { l.sugar.Debugf(t, args...) }
func (l *impl) Info(args ...interface{})                    { l.sugar.Info(args...) }
func (l *impl) Infof(t string, args ...interface{})         { l.sugar.Infof(t, args...) }
func (l *impl) Warn(args ...interface{})                    { l.sugar.Warn(args...) }
func (l *impl) Warnf(t string, args ...interface{})         { l.sugar.Warnf(t, args...) }
func (l *impl) Error(args ...interface{})                   { l.sugar.Error(args...) }
func (l *impl) Errorf(t string, args ...interface{})        { l.sugar.Errorf(t, args...) }

func (l *impl) CDebugf(ctx context.Context, t string, args ...interface{}) {
	l.sugar.Debugf(withJobID(ctx, t), args...)
}

func (l *impl) CInfof(ctx context.Context, t string, args ...interface{}) {
	l.sugar.Infof(withJobID(ctx, t), args...)
}

func (l *impl) CWarnf(ctx context.Context, t string, args ...interface{}) {
	l.sugar.Warnf(withJobID(ctx, t), args...)
}

func (l *impl) CWarn(ctx context.Context, args ...interface{}) {
	l.sugar.Warn(append([]interface{}{jobIDPrefix(ctx)}, args...)...)
}

func (l *impl) CErrorf(ctx context.Context, t string, args ...interface{}) {
	l.sugar.Errorf(withJobID(ctx, t), args...)
}

func (l *impl) CError(ctx context.Context, args ...interface{}) {
	l.sugar.Error(append([]interface{}{jobIDPrefix(ctx)}, args...)...)
}

func (l *impl) With(args ...interface{}) Logger {
	return &impl{sugar: l.sugar.With(args...)}
}

func (l *impl) Named(name string) Logger {
	return &impl{sugar: l.sugar.Named(name)}
}

type jobIDKey struct{}

// WithJobID attaches a job/run identifier to a context so that every log
// line emitted through a C*-prefixed call during that run can be
// correlated, without every call site having to pass the ID explicitly.
func WithJobID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, jobIDKey{}, id)
}

func jobIDPrefix(ctx context.Context) string {
	id, _ := ctx.Value(jobIDKey{}).(string)
	if id == "" {
		return "[-]"
	}
	return fmt.Sprintf("[%s]", id)
}

func withJobID(ctx context.Context, template string) string {
	return jobIDPrefix(ctx) + " " + template
}
