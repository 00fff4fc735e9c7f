// Package logging wires the process-wide structured logger and provides a
// Redact helper for values that must never be logged; the logger itself
// does not inspect or filter the fields it is given.
package logging

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds a zap.SugaredLogger; production mode uses JSON encoding,
// development mode uses the console encoder.
func New(environment string) (*zap.SugaredLogger, error) {
	var cfg zap.Config
	if environment == "production" {
		cfg = zap.NewProductionConfig()
	} else {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	logger, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	return logger.Sugar(), nil
}

// Redact returns a fixed placeholder for values that must never reach a log
// sink: passwords, export keys, DRKs, KEKs, session tokens, client secrets.
func Redact(string) string {
	return "[redacted]"
}
