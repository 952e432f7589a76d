// Package logging builds the structured loggers used across mockctl.
//
// Every component takes a *slog.Logger through its options. A component
// that is given nil falls back to Nop(), so library users never see output
// they did not ask for.
//
//	logger, closer, err := logging.Open(logging.Config{
//	    Level:  logging.LevelDebug,
//	    Format: logging.FormatJSON,
//	    File:   "/var/log/mockctl.log",
//	})
//	defer closer.Close()
//
//	logger.Info("engine started", "addr", "127.0.0.1:4280")
//
// When File is set, records are written to both Output and the file.
// Text is meant for terminals, JSON for log shippers.
package logging
