// Package logging configures the process-wide logrus logger: level, text
// formatting, and an optional plain-text file sink alongside stdout.
package logging

import (
	"io"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
)

// Options controls logger construction.
type Options struct {
	Verbose bool   // Debug level instead of Info.
	LogFile string // Optional file to append logs to.
}

// New builds a configured logger. The returned closer releases the file sink
// when LogFile was set and must be called at shutdown; it is a no-op
// otherwise.
func New(opts Options) (*logrus.Logger, func() error, error) {
	log := logrus.New()
	log.SetOutput(os.Stdout)
	log.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
	})
	if opts.Verbose {
		log.SetLevel(logrus.DebugLevel)
	}

	noop := func() error { return nil }
	if opts.LogFile == "" {
		return log, noop, nil
	}

	if err := os.MkdirAll(filepath.Dir(opts.LogFile), 0o755); err != nil {
		return nil, nil, err
	}
	f, err := os.OpenFile(opts.LogFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, nil, err
	}
	log.SetOutput(io.MultiWriter(os.Stdout, f))
	return log, f.Close, nil
}
