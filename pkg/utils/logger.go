package utils

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// ParseLevel переводит строковый уровень в zerolog.Level (info по умолчанию)
func ParseLevel(levelStr string) zerolog.Level {
	switch levelStr {
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// NewLogger создает структурированный логгер.
// pretty включает человекочитаемый вывод для консоли.
func NewLogger(levelStr string, pretty bool) zerolog.Logger {
	return NewLoggerTo(os.Stdout, levelStr, pretty)
}

// NewLoggerTo то же, что NewLogger, но с явным writer
func NewLoggerTo(out io.Writer, levelStr string, pretty bool) zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339

	if pretty {
		out = zerolog.ConsoleWriter{
			Out:        out,
			TimeFormat: "15:04:05",
		}
	}

	return zerolog.New(out).
		Level(ParseLevel(levelStr)).
		With().
		Timestamp().
		Logger()
}

// Nop логгер для тестов
func Nop() zerolog.Logger {
	return zerolog.Nop()
}

// SetGlobalLogger устанавливает логгер пакета zerolog/log
func SetGlobalLogger(l zerolog.Logger) {
	log.Logger = l
}
