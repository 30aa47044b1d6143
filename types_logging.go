package identity

import (
	"context"
	"fmt"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-logger/glog"
)

// Logger is the structured logging contract used across the package,
// aliased so callers can hand us loggers built with go-logger directly.
type Logger = glog.Logger

// LoggerProvider hands out loggers scoped by component name.
type LoggerProvider = glog.LoggerProvider

func defaultLogger() Logger {
	return glog.NewLogger(
		glog.WithName("identity"),
		glog.WithAddSource(false),
		glog.WithRichErrorHandler(goerrors.ToSlogAttributes),
	)
}

// ResolveLogger picks the logger for a named component. A provider wins when
// it returns a usable logger; otherwise the fallback is promoted and the
// provider wrapped so later GetLogger calls stay consistent with it.
func ResolveLogger(name string, provider LoggerProvider, fallback Logger) (LoggerProvider, Logger) {
	if fallback == nil {
		fallback = defaultLogger()
	}

	if provider == nil {
		return glog.ProviderFromLogger(fallback), fallback
	}

	if logger := provider.GetLogger(name); logger != nil {
		return provider, logger
	}

	return &fallbackLoggerProvider{provider: provider, fallback: fallback}, fallback
}

type fallbackLoggerProvider struct {
	provider LoggerProvider
	fallback Logger
}

func (p *fallbackLoggerProvider) GetLogger(name string) Logger {
	if logger := p.provider.GetLogger(name); logger != nil {
		return logger
	}
	return p.fallback
}

// LegacyLogger is the printf style contract earlier releases exposed.
type LegacyLogger interface {
	Debug(format string, args ...any)
	Info(format string, args ...any)
	Warn(format string, args ...any)
	Error(format string, args ...any)
}

// FormattedLogger matches loggers in the Printf family, e.g. sugared zap.
type FormattedLogger interface {
	Debugf(format string, args ...any)
	Infof(format string, args ...any)
	Warnf(format string, args ...any)
	Errorf(format string, args ...any)
}

// FromLegacyLogger adapts a printf style logger to the structured contract.
// A nil logger resolves to a no-op implementation.
func FromLegacyLogger(legacy LegacyLogger) Logger {
	if legacy == nil {
		return noopLogger{}
	}
	return legacyLoggerAdapter{legacy: legacy}
}

// FromFormattedLogger adapts a Printf family logger to the structured
// contract. A nil logger resolves to a no-op implementation.
func FromFormattedLogger(formatted FormattedLogger) Logger {
	if formatted == nil {
		return noopLogger{}
	}
	return formattedLoggerAdapter{formatted: formatted}
}

// ToFormattedLogger exposes a structured logger through the Printf family
// contract, formatting eagerly.
func ToFormattedLogger(logger Logger) FormattedLogger {
	if logger == nil {
		logger = noopLogger{}
	}
	return loggerFormatter{logger: logger}
}

type noopLogger struct{}

func (noopLogger) Trace(string, ...any)                    {}
func (noopLogger) Debug(string, ...any)                    {}
func (noopLogger) Info(string, ...any)                     {}
func (noopLogger) Warn(string, ...any)                     {}
func (noopLogger) Error(string, ...any)                    {}
func (noopLogger) Fatal(string, ...any)                    {}
func (n noopLogger) WithContext(context.Context) Logger    { return n }

type legacyLoggerAdapter struct {
	legacy LegacyLogger
}

func (l legacyLoggerAdapter) Trace(message string, args ...any) { l.legacy.Debug(message, args...) }
func (l legacyLoggerAdapter) Debug(message string, args ...any) { l.legacy.Debug(message, args...) }
func (l legacyLoggerAdapter) Info(message string, args ...any)  { l.legacy.Info(message, args...) }
func (l legacyLoggerAdapter) Warn(message string, args ...any)  { l.legacy.Warn(message, args...) }
func (l legacyLoggerAdapter) Error(message string, args ...any) { l.legacy.Error(message, args...) }
func (l legacyLoggerAdapter) Fatal(message string, args ...any) { l.legacy.Error(message, args...) }
func (l legacyLoggerAdapter) WithContext(context.Context) Logger {
	return l
}

type formattedLoggerAdapter struct {
	formatted FormattedLogger
}

func (l formattedLoggerAdapter) Trace(message string, args ...any) {
	l.formatted.Debugf(message, args...)
}

func (l formattedLoggerAdapter) Debug(message string, args ...any) {
	l.formatted.Debugf(message, args...)
}

func (l formattedLoggerAdapter) Info(message string, args ...any) {
	l.formatted.Infof(message, args...)
}

func (l formattedLoggerAdapter) Warn(message string, args ...any) {
	l.formatted.Warnf(message, args...)
}

func (l formattedLoggerAdapter) Error(message string, args ...any) {
	l.formatted.Errorf(message, args...)
}

func (l formattedLoggerAdapter) Fatal(message string, args ...any) {
	l.formatted.Errorf(message, args...)
}

func (l formattedLoggerAdapter) WithContext(context.Context) Logger {
	return l
}

type loggerFormatter struct {
	logger Logger
}

func (f loggerFormatter) Debugf(format string, args ...any) {
	f.logger.Debug(fmt.Sprintf(format, args...))
}

func (f loggerFormatter) Infof(format string, args ...any) {
	f.logger.Info(fmt.Sprintf(format, args...))
}

func (f loggerFormatter) Warnf(format string, args ...any) {
	f.logger.Warn(fmt.Sprintf(format, args...))
}

func (f loggerFormatter) Errorf(format string, args ...any) {
	f.logger.Error(fmt.Sprintf(format, args...))
}
