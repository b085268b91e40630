/*
Package log provides structured logging for Relay using zerolog.

The log package wraps the zerolog library to provide JSON-structured logging
with component-specific loggers, configurable log levels, and helper functions
for common logging patterns. All logs include timestamps and support filtering
by severity for production debugging.

# Core Components

Global Logger:
  - Package-level zerolog.Logger instance
  - Initialized once via log.Init()
  - Thread-safe concurrent writes

Log Levels:
  - Debug: detailed debugging information
  - Info: general informational messages (production default)
  - Warn: potential issues that may need attention
  - Error: failed operations that need investigation
  - Fatal: unrecoverable errors (process exits)

Context Loggers:
  - WithComponent: tag all logs with a subsystem name
  - WithNodeID: tag with the emitting cluster node
  - WithUserID / WithSessionID: tag with the affected principal
  - WithChannel: tag with the channel being routed

# Usage

Initializing the logger:

	// JSON output (production)
	log.Init(log.Config{
		Level:      log.InfoLevel,
		JSONOutput: true,
		Output:     os.Stdout,
	})

	// Console output (development)
	log.Init(log.Config{
		Level:      log.DebugLevel,
		JSONOutput: false,
		Output:     os.Stdout,
	})

Simple logging:

	log.Info("Relay node started")
	log.Errorf("failed to open audit store: %v", err)

Structured logging:

	log.Logger.Info().
		Str("channel", "user.u-123").
		Uint64("sequence", event.Sequence).
		Msg("event delivered")

Component loggers:

	bridgeLog := log.WithComponent("bridge")
	bridgeLog.Warn().Err(err).Msg("cross-node forward failed")

# Log Output Examples

JSON format (production):

	{"level":"info","component":"presence","user_id":"u-123","time":"2026-03-01T10:30:00Z","message":"presence record expired"}
	{"level":"warn","component":"transport","time":"2026-03-01T10:30:02Z","message":"broker connection lost, entering degraded mode"}

Console format (development):

	10:30:00 INF presence record expired component=presence user_id=u-123
	10:30:02 WRN broker connection lost, entering degraded mode component=transport

# Best Practices

Do:
  - Use Info level in production
  - Use typed fields (.Str, .Int, .Err) for queryable data
  - Create component-specific loggers per subsystem
  - Include identifiers (node, user, session, channel) as fields

Don't:
  - Log payload bodies (they belong to producers, may hold user data)
  - Use Debug level in production
  - Log per-event in hot delivery paths without sampling

# See Also

  - Zerolog documentation: https://github.com/rs/zerolog
  - 12-Factor App Logs: https://12factor.net/logs
*/
package log
