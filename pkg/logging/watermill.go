// Package logging adapts the global zerolog logger for watermill.
package logging

import (
	"github.com/ThreeDotsLabs/watermill"
	"github.com/rs/zerolog"
)

// WatermillLogger forwards watermill logs to zerolog. Watermill debug is verbose, so
// Debug maps to trace level and Trace is dropped below it.
type WatermillLogger struct {
	l zerolog.Logger
}

var _ watermill.LoggerAdapter = WatermillLogger{}

func NewWatermill(l zerolog.Logger) WatermillLogger {
	return WatermillLogger{l: l.With().Str("component", "watermill").Logger()}
}

func (w WatermillLogger) Error(msg string, err error, fields watermill.LogFields) {
	w.l.Error().Err(err).Fields(map[string]interface{}(fields)).Msg(msg)
}

func (w WatermillLogger) Info(msg string, fields watermill.LogFields) {
	w.l.Debug().Fields(map[string]interface{}(fields)).Msg(msg)
}

func (w WatermillLogger) Debug(msg string, fields watermill.LogFields) {
	w.l.Trace().Fields(map[string]interface{}(fields)).Msg(msg)
}

func (w WatermillLogger) Trace(msg string, fields watermill.LogFields) {
	if w.l.GetLevel() > zerolog.TraceLevel {
		return
	}
	w.l.Trace().Fields(map[string]interface{}(fields)).Msg(msg)
}

func (w WatermillLogger) With(fields watermill.LogFields) watermill.LoggerAdapter {
	return WatermillLogger{l: w.l.With().Fields(map[string]interface{}(fields)).Logger()}
}
