// Package riverlog builds the shared *log.Logger every component logs
// through, fanning output out to a rotating file and an optional GELF
// UDP sink.
package riverlog

import (
	"io"
	"log"
	"os"

	gelf "gopkg.in/Graylog2/go-gelf.v2/gelf"
	lumberjack "gopkg.in/natefinch/lumberjack.v2"
)

// Config names the optional log destinations. Either field may be
// left empty; stderr is always included.
type Config struct {
	// LogFilePath, if set, rotates through gopkg.in/natefinch/
	// lumberjack.v2 (100MB per file, 3 backups, 28 days retention).
	LogFilePath string
	// GelfAddr, if set, additionally ships every line to a Graylog
	// GELF UDP endpoint at host:port.
	GelfAddr string
}

// New builds a *log.Logger writing to stderr plus whichever of
// Config's optional destinations are configured.
func New(cfg Config) (*log.Logger, error) {
	writers := []io.Writer{os.Stderr}

	if cfg.LogFilePath != "" {
		writers = append(writers, &lumberjack.Logger{
			Filename:   cfg.LogFilePath,
			MaxSize:    100,
			MaxBackups: 3,
			MaxAge:     28,
		})
	}

	if cfg.GelfAddr != "" {
		gw, err := gelf.NewUDPWriter(cfg.GelfAddr)
		if err != nil {
			return nil, err
		}
		writers = append(writers, gw)
	}

	out := writers[0]
	if len(writers) > 1 {
		out = io.MultiWriter(writers...)
	}
	return log.New(out, "river: ", log.LstdFlags|log.Lmicroseconds), nil
}
