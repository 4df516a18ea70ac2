package recipecache

import (
	"archive/tar"
	"compress/gzip"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"strings"

	"github.com/oschwald/geoip2-golang"
)

const maxMindDatabaseFilename = "GeoLite2-Country.mmdb"

func downloadGeoIPDatabase(licenseKey string, path string) error {
	log.Warnf("Downloading geolocation data...")

	// Prepare URL
	databaseURL := fmt.Sprintf("https://download.maxmind.com/app/geoip_download?edition_id=GeoLite2-Country&license_key=%s&suffix=tar.gz", licenseKey)

	// Download database
	resp, err := http.Get(databaseURL)
	if err != nil {
		return fmt.Errorf("failed to download MaxMind database: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("failed to download MaxMind database: received status code %d", resp.StatusCode)
	}

	// Uncompress archive
	uncompressedArchive, err := gzip.NewReader(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to uncompress MaxMind database: %v", err)
	}
	defer uncompressedArchive.Close()

	// Loop through tar archive entries
	tarReader := tar.NewReader(uncompressedArchive)
	for {
		header, err := tarReader.Next()
		if err == io.EOF {
			return fmt.Errorf("unable to find MaxMind database file in archive")
		}
		if err != nil {
			return fmt.Errorf("failed to extract MaxMind database file: %v", err)
		}

		// If tar archive entry matches our requirements, save to file
		if header.Typeflag == tar.TypeReg && strings.HasSuffix(header.Name, path) {
			outFile, err := os.Create(path)
			if err != nil {
				return fmt.Errorf("failed to create MaxMind database file: %v", err)
			}
			defer outFile.Close()

			if _, err := io.Copy(outFile, tarReader); err != nil {
				return fmt.Errorf("failed to write to MaxMind database file: %v", err)
			}

			log.Warnf("Downloaded MaxMind database")
			return nil
		}
	}
}

// prepareGeoIPDatabase opens the country database, downloading it first when missing
func prepareGeoIPDatabase(licenseKey string) (*geoip2.Reader, error) {
	// Check if database already downloaded
	if _, err := os.Stat(maxMindDatabaseFilename); os.IsNotExist(err) {
		if err := downloadGeoIPDatabase(licenseKey, maxMindDatabaseFilename); err != nil {
			return nil, err
		}
	}

	geodb, err := geoip2.Open(maxMindDatabaseFilename)
	if err != nil {
		return nil, fmt.Errorf("unable to open database %s for geolocation: %v", maxMindDatabaseFilename, err)
	}
	log.Warnf("Loaded geolocation database")
	return geodb, nil
}

// lookupCountry returns the ISO country code of remoteAddr, empty when unknown
func lookupCountry(geodb *geoip2.Reader, remoteAddr string) string {
	if geodb == nil {
		return ""
	}

	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		host = remoteAddr
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return ""
	}

	record, err := geodb.Country(ip)
	if err != nil {
		return ""
	}
	return record.Country.IsoCode
}
