// Package logger provides the process-wide structured logger.
package logger

import (
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Log is the global logger instance.
var Log zerolog.Logger

// Initialize sets up the global logger with configuration.
func Initialize(level string, pretty bool) {
	logLevel, err := zerolog.ParseLevel(level)
	if err != nil {
		logLevel = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(logLevel)

	if pretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
		})
	} else {
		zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	}

	Log = log.With().
		Str("service", "fanout-gateway").
		Logger()

	Log.Info().
		Str("level", logLevel.String()).
		Bool("pretty", pretty).
		Msg("logger initialized")
}

// GetLogger returns the global logger instance.
func GetLogger() *zerolog.Logger {
	return &Log
}

func component(name string) *zerolog.Logger {
	l := Log.With().Str("component", name).Logger()
	return &l
}

// Auth creates a logger for credential verification events.
func Auth() *zerolog.Logger { return component("auth") }

// Channels creates a logger for channel authorization events.
func Channels() *zerolog.Logger { return component("channels") }

// Registry creates a logger for channel registry events.
func Registry() *zerolog.Logger { return component("registry") }

// ConnManager creates a logger for connection manager events.
func ConnManager() *zerolog.Logger { return component("connmgr") }

// Gateway creates a logger for socket gateway events.
func Gateway() *zerolog.Logger { return component("gateway") }

// Dispatch creates a logger for broadcast dispatcher events.
func Dispatch() *zerolog.Logger { return component("dispatch") }

// Metrics creates a logger for metrics/health events.
func Metrics() *zerolog.Logger { return component("metrics") }

// RPC creates a logger for RPC surface events.
func RPC() *zerolog.Logger { return component("rpc") }

// Events creates a logger for the optional NATS event bus.
func Events() *zerolog.Logger { return component("events") }
