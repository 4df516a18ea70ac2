package recipecache

////
// Client settings
///

// ClientVersion is the description of the version of the working branch when compiled
var ClientVersion string

// ConfigFilePath is the location of the configuration file, without the .toml extension
var ConfigFilePath = "config"

// Repository owner and name used for the version check
const (
	RepositoryOwner = "lflare"
	RepositoryName  = "recipecache-golang"
)
