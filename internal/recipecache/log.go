package recipecache

import (
	"path/filepath"
	"time"

	"github.com/lflare/recipecache-golang/pkg/feedstore"
	"github.com/lflare/recipecache-golang/pkg/imagecache"
	colorable "github.com/mattn/go-colorable"
	"github.com/sirupsen/logrus"
	"github.com/snowzach/rotatefilehook"
	"github.com/spf13/viper"
)

var log = logrus.New()

func initLogger(logLevelString string, maxLogSizeInMb int, maxLogBackups int, maxLogAgeInDays int) {
	logLevel, err := logrus.ParseLevel(logLevelString)
	if err != nil {
		logLevel = logrus.InfoLevel
	}

	rotateFileHook, err := rotatefilehook.NewRotateFileHook(rotatefilehook.RotateFileConfig{
		Filename:   filepath.Join(viper.GetString(KeyLogDirectory), "recipecache.log"),
		MaxSize:    maxLogSizeInMb,
		MaxBackups: maxLogBackups,
		MaxAge:     maxLogAgeInDays,
		Level:      logrus.TraceLevel,
		Formatter: &logrus.JSONFormatter{
			TimestampFormat: time.RFC822,
		},
	})
	if err != nil {
		log.Fatalf("Failed to initialize file rotate hook: %v", err)
	}

	log.SetLevel(logLevel)
	log.SetOutput(colorable.NewColorableStdout())
	log.SetFormatter(&logrus.TextFormatter{
		ForceColors:     true,
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})
	log.AddHook(rotateFileHook)

	// Share the logger with the libraries
	imagecache.SetLogger(log)
	feedstore.SetLogger(log)
}
