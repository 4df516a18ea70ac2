package recipecache

import (
	"crypto/tls"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/spacemonkeygo/tlshowdy"
)

type tcpKeepAliveListener struct {
	*net.TCPListener

	// Expected SNI hostname, empty to accept every hostname
	hostname string
}

func (ln tcpKeepAliveListener) Accept() (c net.Conn, err error) {
	// Accept TCP connection
	tc, err := ln.AcceptTCP()
	if err != nil {
		return
	}

	// Configure connection
	if err = tc.SetKeepAlive(true); err != nil {
		return
	}
	if err = tc.SetKeepAlivePeriod(1 * time.Minute); err != nil {
		return
	}

	// Check SNI value if configured
	if ln.hostname != "" {
		// Peek into the ClientHello message
		clientHello, conn, errs := tlshowdy.Peek(tc)
		if clientHello == nil || errs != nil {
			// Close connection and return for fast fail
			err := conn.Close()
			return conn, err
		}

		// Allow both the configured hostname and localhost
		if clientHello.ServerName != ln.hostname && clientHello.ServerName != "localhost" {
			log.Warnf("blocked unauthorised SNI request: %s", clientHello.ServerName)

			// Close connection and return for fast fail
			err := conn.Close()
			return conn, err
		}

		return conn, nil
	}

	// Return connection
	return tc, nil
}

// listenAndServe serves handler on addr, over TLS when certificates are given
func listenAndServe(server *http.Server, allowHTTP2 bool, certificates *certificateHandler, sniHostname string) error {
	if server.Addr == "" {
		return errors.New("invalid address string")
	}

	// Listen to only IPv4 interfaces
	ln, err := net.Listen("tcp4", server.Addr)
	if err != nil {
		return err
	}

	// Serve plain HTTP without certificates
	if certificates == nil {
		return server.Serve(tcpKeepAliveListener{TCPListener: ln.(*net.TCPListener)})
	}

	config := &tls.Config{
		MinVersion: tls.VersionTLS12,
		CurvePreferences: []tls.CurveID{
			tls.CurveP256,
			tls.X25519,
		},
		GetCertificate: certificates.GetCertificate(),
	}

	// If allowing http2
	if allowHTTP2 {
		config.NextProtos = []string{"h2", "http/1.1"}
	} else {
		config.NextProtos = []string{"http/1.1"}
	}

	// Start TLS listeners
	tlsListener := tls.NewListener(tcpKeepAliveListener{TCPListener: ln.(*net.TCPListener), hostname: sniHostname}, config)
	return server.Serve(tlsListener)
}
