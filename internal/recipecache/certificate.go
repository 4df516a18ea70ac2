package recipecache

import (
	"crypto/tls"
	"sync"
)

type certificateHandler struct {
	certMu sync.RWMutex
	cert   *tls.Certificate
}

func loadCertificateHandler(certFile, keyFile string) (*certificateHandler, error) {
	result := &certificateHandler{}
	if err := result.reload(certFile, keyFile); err != nil {
		return nil, err
	}
	return result, nil
}

func (ch *certificateHandler) reload(certFile, keyFile string) error {
	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return err
	}
	ch.updateCertificate(cert)
	return nil
}

func (ch *certificateHandler) updateCertificate(cert tls.Certificate) {
	ch.certMu.Lock()
	defer ch.certMu.Unlock()
	ch.cert = &cert
}

func (ch *certificateHandler) GetCertificate() func(*tls.ClientHelloInfo) (*tls.Certificate, error) {
	return func(clientHello *tls.ClientHelloInfo) (*tls.Certificate, error) {
		ch.certMu.RLock()
		defer ch.certMu.RUnlock()
		return ch.cert, nil
	}
}
