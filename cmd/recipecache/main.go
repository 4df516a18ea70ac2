package main

import (
	"flag"
	"time"

	"github.com/lflare/recipecache-golang/internal/recipecache"
	"github.com/sirupsen/logrus"
)

var log = logrus.New()

func main() {
	// Define arguments
	configFile := flag.String("config", "config", "Location of config.toml file, without extension")
	printVersion := flag.Bool("version", false, "Prints version of client")
	shrinkDatabase := flag.Bool("shrink-database", false, "Shrink the feed database (may take a long time)")
	clearCache := flag.Bool("clear-cache", false, "Delete every image cached on disk")
	warmCache := flag.Bool("warm", false, "Download the feed and prefetch every thumbnail")
	tokenURL := flag.String("token", "", "Print an access token for the given image url")
	tokenValidity := flag.Duration("token-validity", 24*time.Hour, "Validity of tokens printed by -token")

	// Parse arguments
	flag.Parse()

	// Set configuration file path
	recipecache.ConfigFilePath = *configFile

	switch {
	case *printVersion:
		log.Infof("Recipe cache client %s written in Golang", recipecache.ClientVersion)
	case *shrinkDatabase:
		recipecache.ShrinkDatabase()
	case *clearCache:
		recipecache.ClearCache()
	case *warmCache:
		recipecache.WarmCache()
	case *tokenURL != "":
		recipecache.IssueToken(*tokenURL, *tokenValidity)
	default:
		recipecache.StartServer()
	}
}
