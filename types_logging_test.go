package identity

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/goliatone/go-logger/glog"
	"github.com/stretchr/testify/require"
)

type logCall struct {
	level   string
	message string
	args    []any
}

type captureLogger struct {
	calls []logCall
}

func (l *captureLogger) record(level, message string, args ...any) {
	l.calls = append(l.calls, logCall{level: level, message: message, args: args})
}

func (l *captureLogger) Trace(message string, args ...any) { l.record("trace", message, args...) }
func (l *captureLogger) Debug(message string, args ...any) { l.record("debug", message, args...) }
func (l *captureLogger) Info(message string, args ...any)  { l.record("info", message, args...) }
func (l *captureLogger) Warn(message string, args ...any)  { l.record("warn", message, args...) }
func (l *captureLogger) Error(message string, args ...any) { l.record("error", message, args...) }
func (l *captureLogger) Fatal(message string, args ...any) { l.record("fatal", message, args...) }
func (l *captureLogger) WithContext(context.Context) Logger {
	return l
}

type legacyLoggerSpy struct {
	calls []logCall
}

func (l *legacyLoggerSpy) Debug(format string, args ...any) {
	l.calls = append(l.calls, logCall{level: "debug", message: format, args: args})
}
func (l *legacyLoggerSpy) Info(format string, args ...any) {
	l.calls = append(l.calls, logCall{level: "info", message: format, args: args})
}
func (l *legacyLoggerSpy) Warn(format string, args ...any) {
	l.calls = append(l.calls, logCall{level: "warn", message: format, args: args})
}
func (l *legacyLoggerSpy) Error(format string, args ...any) {
	l.calls = append(l.calls, logCall{level: "error", message: format, args: args})
}

type formattedLoggerSpy struct {
	calls []logCall
}

func (l *formattedLoggerSpy) Debugf(format string, args ...any) {
	l.calls = append(l.calls, logCall{level: "debug", message: format, args: args})
}
func (l *formattedLoggerSpy) Infof(format string, args ...any) {
	l.calls = append(l.calls, logCall{level: "info", message: format, args: args})
}
func (l *formattedLoggerSpy) Warnf(format string, args ...any) {
	l.calls = append(l.calls, logCall{level: "warn", message: format, args: args})
}
func (l *formattedLoggerSpy) Errorf(format string, args ...any) {
	l.calls = append(l.calls, logCall{level: "error", message: format, args: args})
}

type loggerProviderSpy struct {
	logger Logger
	byName map[string]Logger
	names  []string
}

func (p *loggerProviderSpy) GetLogger(name string) Logger {
	p.names = append(p.names, name)
	if p.byName != nil {
		if logger, ok := p.byName[name]; ok {
			return logger
		}
	}
	return p.logger
}

func TestLoggerContractAliasesAndResolve(t *testing.T) {
	base := defaultLogger()
	require.NotNil(t, base)

	var logger Logger = base
	var provider LoggerProvider = glog.ProviderFromLogger(base)

	resolvedProvider, resolvedLogger := ResolveLogger("identity.test", provider, logger)
	require.NotNil(t, resolvedProvider)
	require.NotNil(t, resolvedLogger)
	require.NotNil(t, resolvedProvider.GetLogger("identity.test"))

	fallback := &captureLogger{}
	providerWithNilLogger := &loggerProviderSpy{byName: map[string]Logger{"identity.test": nil}}
	fallbackProvider, fallbackLogger := ResolveLogger("identity.test", providerWithNilLogger, fallback)
	require.Same(t, fallback, fallbackLogger)
	require.Same(t, fallback, fallbackProvider.GetLogger("identity.test"))
}

func TestFromLegacyLoggerAdapter(t *testing.T) {
	legacy := &legacyLoggerSpy{}
	logger := FromLegacyLogger(legacy)

	logger.Debug("debug %s", "value")
	logger.Info("info %s", "value")
	logger.Warn("warn %s", "value")
	logger.Error("error %s", "value")

	require.Len(t, legacy.calls, 4)
	require.Equal(t, "debug", legacy.calls[0].level)
	require.Equal(t, "debug %s", legacy.calls[0].message)
	require.Equal(t, []any{"value"}, legacy.calls[0].args)
	require.Equal(t, "error", legacy.calls[3].level)

	// Nil legacy logger should resolve to a safe no-op logger.
	FromLegacyLogger(nil).Info("noop")
}

func TestFormattedAdapters(t *testing.T) {
	formatted := &formattedLoggerSpy{}
	logger := FromFormattedLogger(formatted)
	logger.Warn("warn %s", "value")

	require.Len(t, formatted.calls, 1)
	require.Equal(t, "warn", formatted.calls[0].level)
	require.Equal(t, "warn %s", formatted.calls[0].message)
	require.Equal(t, []any{"value"}, formatted.calls[0].args)

	captured := &captureLogger{}
	asFormatted := ToFormattedLogger(captured)
	asFormatted.Errorf("error %d", 42)

	require.Len(t, captured.calls, 1)
	require.Equal(t, "error", captured.calls[0].level)
	require.Equal(t, "error 42", captured.calls[0].message)
}

func TestDefaultLoggerIsAlignedAndSafe(t *testing.T) {
	logger := defaultLogger()
	require.NotNil(t, logger)

	logger.Trace("trace")
	logger.Debug("debug")
	logger.Info("info")
	logger.Warn("warn")
	logger.Error("error")
	logger.Fatal("fatal")

	contextual := logger.WithContext(context.Background())
	require.NotNil(t, contextual)
}

func TestAccountManagerWithLoggerProviderResolvesScopedLogger(t *testing.T) {
	resolved := &captureLogger{}
	provider := &loggerProviderSpy{logger: resolved}

	manager := NewAccountManager(NewOptions("test-signing-key"), nil, nil, nil).
		WithLoggerProvider(provider)

	require.Same(t, resolved, manager.logger)
	require.Contains(t, provider.names, "identity.accounts")
}

func TestTokenIssuerWithLoggerProviderResolvesScopedLoggers(t *testing.T) {
	resolved := &captureLogger{}
	provider := &loggerProviderSpy{logger: resolved}

	issuer := NewTokenIssuer(NewOptions("test-signing-key"), nil).
		WithLoggerProvider(provider)

	require.Same(t, resolved, issuer.logger)
	require.Contains(t, provider.names, "identity.token_issuer")
	require.Contains(t, provider.names, "identity.token_service")
}

func TestSessionIssuerWithLoggerProviderResolvesScopedLogger(t *testing.T) {
	resolved := &captureLogger{}
	provider := &loggerProviderSpy{logger: resolved}

	issuer := NewSessionIssuer(NewOptions("test-signing-key"), NewMemorySessionStore(), nil).
		WithLoggerProvider(provider)

	require.Same(t, resolved, issuer.logger)
	require.Contains(t, provider.names, "identity.session_issuer")
}

func TestPrincipalBuilderWithLoggerProviderResolvesScopedLogger(t *testing.T) {
	resolved := &captureLogger{}
	provider := &loggerProviderSpy{logger: resolved}

	builder := NewPrincipalBuilder(nil).
		WithLoggerProvider(provider)

	require.Same(t, resolved, builder.logger)
	require.Contains(t, provider.names, "identity.principal_builder")
}

func TestStateMachineWithLoggerProviderResolvesScopedLogger(t *testing.T) {
	resolved := &captureLogger{}
	provider := &loggerProviderSpy{logger: resolved}

	stateMachine := NewUserStateMachine(nil, WithStateMachineLoggerProvider(provider))
	impl, ok := stateMachine.(*userStateMachine)
	require.True(t, ok)
	require.Same(t, resolved, impl.logger)
	require.Contains(t, provider.names, "identity.state_machine")
}

func TestStateMachineActivitySinkLogsStructuredError(t *testing.T) {
	expectedErr := errors.New("sink unavailable")
	logger := &captureLogger{}

	sm := &userStateMachine{
		logger: logger,
		now:    time.Now,
		activitySink: ActivitySinkFunc(func(context.Context, ActivityEvent) error {
			return expectedErr
		}),
	}

	sm.recordActivity(context.Background(), ActivityEvent{
		EventType: ActivityEventUserStatusChanged,
	})

	require.Len(t, logger.calls, 1)
	require.Equal(t, "warn", logger.calls[0].level)
	require.Equal(t, "state machine activity sink error", logger.calls[0].message)
	require.Equal(t, []any{"error", expectedErr}, logger.calls[0].args)
}

func TestAccountManagerActivitySinkLogsStructuredError(t *testing.T) {
	expectedErr := errors.New("sink unavailable")
	logger := &captureLogger{}

	manager := &AccountManager{
		logger: logger,
		now:    time.Now,
		activity: ActivitySinkFunc(func(context.Context, ActivityEvent) error {
			return expectedErr
		}),
	}

	manager.emit(context.Background(), ActivityEvent{
		EventType: ActivityEventLoginSuccess,
	})

	require.Len(t, logger.calls, 1)
	require.Equal(t, "warn", logger.calls[0].level)
	require.Equal(t, "activity sink record error", logger.calls[0].message)
	require.Equal(t, []any{"error", expectedErr}, logger.calls[0].args)
}
