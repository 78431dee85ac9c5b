package config

import (
	"fmt"

	nested "github.com/antonfisher/nested-logrus-formatter"
	log "github.com/sirupsen/logrus"
)

type Log struct {
	Level        string `yaml:"level"`
	NoColors     bool   `yaml:"no_colors"`
	ReportCaller bool   `yaml:"report_caller"`
}

func (l Log) level() (log.Level, error) {
	lvl, err := log.ParseLevel(l.Level)
	if err != nil {
		return 0, fmt.Errorf("invalid log level %q: %w", l.Level, err)
	}
	return lvl, nil
}

// Apply configures logger with the nested formatter, which adds the
// timestamp to every entry.
func (l Log) Apply(logger *log.Logger) error {
	lvl, err := l.level()
	if err != nil {
		return err
	}
	logger.SetFormatter(&nested.Formatter{
		NoColors:        l.NoColors,
		TimestampFormat: "2006-01-02T15:04:05.000Z07:00",
		FieldsOrder:     []string{"session", "client", "target"},
	})
	logger.SetReportCaller(l.ReportCaller)
	logger.SetLevel(lvl)
	return nil
}
