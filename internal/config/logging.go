package config

import (
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// LogConfig configures handling of application log events.
type LogConfig struct {
	Level  string `long:"level" env:"LEVEL" default:"info" choice:"trace" choice:"debug" choice:"info" choice:"warn" choice:"error" choice:"fatal" description:"Logging level"`
	Format string `long:"format" env:"FORMAT" default:"text" choice:"json" choice:"text" choice:"color" description:"Logging output format"`
}

// InitLog configures the process logger. Output stays on stderr, which
// keeps stdout free for the stdio MCP transport.
func InitLog(cfg LogConfig) error {
	switch cfg.Format {
	case "json":
		log.SetFormatter(&log.JSONFormatter{})
	case "color":
		log.SetFormatter(&log.TextFormatter{ForceColors: true})
	default:
		log.SetFormatter(&log.TextFormatter{})
	}

	lvl, err := log.ParseLevel(cfg.Level)
	if err != nil {
		return errors.WithMessage(err, "unrecognized log level")
	}
	log.SetLevel(lvl)
	return nil
}
