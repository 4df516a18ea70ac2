//go:build !linux
// +build !linux

package recipecache

func prepareConfigurationReload(s *Server) {
	// Do absolutely nothing because file watching is only relied upon on linux
}
