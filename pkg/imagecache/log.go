package imagecache

import "github.com/sirupsen/logrus"

var log = logrus.New()

// SetLogger replaces the logger used by the package
func SetLogger(logger *logrus.Logger) {
	if logger != nil {
		log = logger
	}
}
