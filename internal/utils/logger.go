package utils

import (
	"os"
	"strings"

	"doubao-api/internal/config"

	"github.com/sirupsen/logrus"
)

// SetupLogger configures the global logrus logger from the configuration.
func SetupLogger(cfg *config.Config) {
	level, err := logrus.ParseLevel(cfg.Log.Level)
	if err != nil {
		logrus.Warnf("Invalid log level %q, using info", cfg.Log.Level)
		level = logrus.InfoLevel
	}
	logrus.SetLevel(level)
	logrus.SetOutput(os.Stdout)

	if strings.EqualFold(cfg.Log.Format, "json") {
		logrus.SetFormatter(&logrus.JSONFormatter{})
		return
	}
	logrus.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
	})
}

// MaskAPIKey keeps the last four characters of a secret for logging.
func MaskAPIKey(key string) string {
	if len(key) <= 4 {
		return "****"
	}
	return "***" + key[len(key)-4:]
}

// TruncateString limits s to maxLength bytes.
func TruncateString(s string, maxLength int) string {
	if len(s) <= maxLength {
		return s
	}
	return s[:maxLength]
}
