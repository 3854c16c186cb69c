package config

import (
	"io"

	log "github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// NewLogger builds the service logger. When LogFile is set, output is
// rotated by lumberjack and the returned closer releases the file.
func NewLogger(cfg Config) (*log.Logger, io.Closer) {
	logger := log.New()
	if cfg.LogFormat == "json" {
		logger.SetFormatter(&log.JSONFormatter{})
	} else {
		logger.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}
	if cfg.Debug {
		logger.SetLevel(log.DebugLevel)
	}
	if cfg.LogFile == "" {
		return logger, nopCloser{}
	}
	rotator := &lumberjack.Logger{
		Filename:   cfg.LogFile,
		MaxSize:    cfg.LogMaxSizeMB,
		MaxBackups: cfg.LogMaxBackups,
		MaxAge:     cfg.LogMaxAgeDays,
	}
	logger.SetOutput(rotator)
	return logger, rotator
}
