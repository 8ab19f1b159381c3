// Package logging provides structured logging for pulsemeter.
//
// This package wraps a global zap logger with convenience functions. Core
// packages never log through it directly; they accept a *zap.Logger, and the
// commands hand them a child of the global logger:
//
//	sup := session.New(cfg, store, session.WithLogger(logging.Named(name)))
//
// # Log Levels
//
//   - Debug: hex dumps, every published snapshot
//   - Info: connections and state changes
//   - Warn: dropped frames, connection loss and backoff
//   - Error: failures that need attention, such as an unwritable capture file
//
// # Specialized Logging
//
//	logging.LogConnection("house", "ws://admin:xxxxx@10.0.0.5/ws", "connected")
//	logging.LogSnapshot("house", snap)
//	logging.LogRawBytes("Inbound message", data)
//
// # Configuration
//
// Logging is silent unless a level is given via --log-level or the
// PULSEMETER_LOG_LEVEL environment variable:
//
//	if err := logging.Initialize(level); err != nil {
//	    return err
//	}
//	defer logging.Sync()
//
// Output goes to stderr in console format. The watch view redirects it to a
// file with InitializeTo.
package logging
