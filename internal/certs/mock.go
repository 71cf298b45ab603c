package certs

import "crypto/tls"

// MockManager is a configurable Manager implementation for tests. The zero
// value hands out a dummy certificate and reports it as existing.
type MockManager struct {
	GetOrCreateFn func() (tls.Certificate, error)
	ExistsFn      func() (bool, error)

	GetCalls    int
	ExistsCalls int
}

// GetOrCreateCertificate implements Manager.
func (m *MockManager) GetOrCreateCertificate() (tls.Certificate, error) {
	m.GetCalls++
	if m.GetOrCreateFn != nil {
		return m.GetOrCreateFn()
	}
	return tls.Certificate{Certificate: [][]byte{{1, 2, 3}}}, nil
}

// CertificateExists implements Manager.
func (m *MockManager) CertificateExists() (bool, error) {
	m.ExistsCalls++
	if m.ExistsFn != nil {
		return m.ExistsFn()
	}
	return true, nil
}

var _ Manager = (*MockManager)(nil)
