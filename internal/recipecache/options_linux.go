package recipecache

import (
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

func prepareConfigurationReload(s *Server) {
	viper.OnConfigChange(func(e fsnotify.Event) {
		log.WithField("file", e.Name).Infof("Configuration updated: %v", viper.AllSettings())
		s.applyConfiguration()
	})
	viper.WatchConfig()
}
