package logger

import (
	"fmt"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

var Log = logrus.New()

type Entry = logrus.Entry

type Fields = logrus.Fields

const timestampFormat = "2006-01-02 15:04:05"

// Init настраивает формат и уровень. Уровень берётся по убыванию приоритета:
// аргумент level (флаг --loglevel), EPG_LOG_LEVEL, DEBUG=true, иначе info.
// LOG_FORMAT=text переключает вывод на текстовый формат.
func Init(level string) error {
	Log.SetFormatter(newFormatter(os.Getenv("LOG_FORMAT")))
	Log.SetOutput(os.Stdout)

	if os.Getenv("DEBUG") == "true" {
		Log.SetLevel(logrus.DebugLevel)
	} else {
		Log.SetLevel(logrus.InfoLevel)
	}
	if err := SetLevel(os.Getenv("EPG_LOG_LEVEL")); err != nil {
		return fmt.Errorf("EPG_LOG_LEVEL: %w", err)
	}
	return SetLevel(level)
}

func newFormatter(format string) logrus.Formatter {
	if strings.EqualFold(format, "text") {
		return &logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: timestampFormat,
		}
	}
	return &logrus.JSONFormatter{
		TimestampFormat: timestampFormat,
		FieldMap: logrus.FieldMap{
			logrus.FieldKeyTime:  "timestamp",
			logrus.FieldKeyLevel: "level",
			logrus.FieldKeyMsg:   "message",
		},
	}
}

// SetLevel переключает уровень логирования по имени из флага --loglevel.
// Пустая строка оставляет текущий уровень.
func SetLevel(level string) error {
	if strings.TrimSpace(level) == "" {
		return nil
	}
	lvl, err := logrus.ParseLevel(strings.ToLower(level))
	if err != nil {
		return err
	}
	Log.SetLevel(lvl)
	return nil
}

// Component возвращает запись лога с полем component.
func Component(name string) *Entry {
	return Log.WithField("component", name)
}
