package logging

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// DefaultTimeFormatStr is the time format used by ConsoleAppender lines.
const DefaultTimeFormatStr = "2006-01-02T15:04:05.000Z0700"

// Appender is an output for log entries. It mirrors the subset of
// zapcore.Core that a destination (console, file, in-memory ring buffer)
// needs to implement.
type Appender interface {
	Write(zapcore.Entry, []zapcore.Field) error
	Sync() error
}

// ConsoleAppender renders human-readable tab-separated lines and writes
// them to an io.Writer (stdout, or a rotated file).
type ConsoleAppender struct {
	io.Writer
}

// NewStdoutAppender creates an appender that prints to stdout.
func NewStdoutAppender() ConsoleAppender {
	return ConsoleAppender{os.Stdout}
}

// NewWriterAppender creates an appender over an arbitrary writer.
func NewWriterAppender(w io.Writer) ConsoleAppender {
	return ConsoleAppender{w}
}

// NewFileAppender creates an Appender that writes to a rotating log file.
// The controller runs unattended for long stretches between command-file
// jobs, so rotation happens on restart (rather than on size) without ever
// truncating an in-flight log. No MaxBackups or MaxAge is set, so rotated
// files are never pruned and accumulate across restarts. Unlike a logger that
// already exists to report its own setup failures, nothing is listening
// yet at this point in startup, so a rotation failure is returned to the
// caller (cmd/vplottercore decides whether to fall back to console-only
// logging or fail fast) rather than swallowed to stderr.
func NewFileAppender(filename string) (Appender, io.Closer, error) {
	logger := &lumberjack.Logger{
		Filename: filename,
		MaxSize:  1024 * 1024, // effectively unbounded; rotation is restart-driven
	}
	err := logger.Rotate()
	return NewWriterAppender(logger), logger, err
}

// ZapcoreFieldsToJSON serializes fields into a JSON object, preserving the
// order zap encoded them in (a plain map would iterate randomly).
func ZapcoreFieldsToJSON(fields []zapcore.Field) (result string, err error) {
	defer func() {
		if r := recover(); r != nil {
			if perr, ok := r.(error); ok {
				err = fmt.Errorf("panic serializing log fields: %w", perr)
				return
			}
			err = fmt.Errorf("panic serializing log fields: %v", r)
		}
	}()
	enc := zapcore.NewJSONEncoder(zapcore.EncoderConfig{SkipLineEnding: true})
	buf, err := enc.EncodeEntry(zapcore.Entry{}, fields)
	if err != nil {
		return "", err
	}
	return buf.String(), nil
}

// Write renders one line: timestamp, level, logger name, caller, message,
// then a JSON blob of structured fields if there are any.
func (a ConsoleAppender) Write(entry zapcore.Entry, fields []zapcore.Field) error {
	toPrint := make([]string, 0, 6)
	toPrint = append(toPrint, entry.Time.UTC().Format(DefaultTimeFormatStr))
	toPrint = append(toPrint, strings.ToUpper(entry.Level.String()))
	toPrint = append(toPrint, entry.LoggerName)
	if entry.Caller.Defined {
		toPrint = append(toPrint, callerToString(&entry.Caller))
	}
	toPrint = append(toPrint, entry.Message)

	if len(fields) == 0 {
		fmt.Fprintln(a.Writer, strings.Join(toPrint, "\t")) //nolint:errcheck
		return nil
	}

	fieldsJSON, err := ZapcoreFieldsToJSON(fields)
	if err != nil {
		if errJSON, merr := json.Marshal(map[string]string{"logging_err": err.Error()}); merr == nil {
			toPrint = append(toPrint, string(errJSON))
		} else {
			toPrint = append(toPrint, err.Error())
		}
	} else {
		toPrint = append(toPrint, fieldsJSON)
	}

	fmt.Fprintln(a.Writer, strings.Join(toPrint, "\t")) //nolint:errcheck
	return nil
}

// Sync is a no-op for ConsoleAppender; the underlying writer (stdout, or
// lumberjack) owns its own flushing.
func (a ConsoleAppender) Sync() error {
	return nil
}

func callerToString(caller *zapcore.EntryCaller) string {
	cnt := 0
	idx := strings.LastIndexFunc(caller.File, func(rn rune) bool {
		if rn == '/' {
			cnt++
		}
		return cnt == 2
	})
	return fmt.Sprintf("%s:%d", caller.File[idx+1:], caller.Line)
}

// appenderCore bridges an Appender to zapcore.Core so it can be combined
// with other cores via zapcore.NewTee.
type appenderCore struct {
	appender Appender
	enabler  zapcore.LevelEnabler
}

func (c *appenderCore) Enabled(lvl zapcore.Level) bool {
	return c.enabler.Enabled(lvl)
}

func (c *appenderCore) With(fields []zapcore.Field) zapcore.Core {
	return &withFieldsCore{appenderCore: c, fields: fields}
}

func (c *appenderCore) Check(entry zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.Enabled(entry.Level) {
		return ce.AddCore(entry, c)
	}
	return ce
}

func (c *appenderCore) Write(entry zapcore.Entry, fields []zapcore.Field) error {
	return c.appender.Write(entry, fields)
}

func (c *appenderCore) Sync() error {
	return c.appender.Sync()
}

// withFieldsCore carries fields attached via logger.With(...) so they are
// included on every subsequent Write.
type withFieldsCore struct {
	*appenderCore
	fields []zapcore.Field
}

func (c *withFieldsCore) With(fields []zapcore.Field) zapcore.Core {
	return &withFieldsCore{appenderCore: c.appenderCore, fields: append(append([]zapcore.Field{}, c.fields...), fields...)}
}

func (c *withFieldsCore) Check(entry zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.Enabled(entry.Level) {
		return ce.AddCore(entry, c)
	}
	return ce
}

func (c *withFieldsCore) Write(entry zapcore.Entry, fields []zapcore.Field) error {
	return c.appender.Write(entry, append(append([]zapcore.Field{}, c.fields...), fields...))
}
