package httpserver

import (
	"crypto/tls"
	"fmt"
	"os"

	"golang.org/x/crypto/pkcs12"
)

// LoadIdentity reads a PKCS#12 bundle from disk and decodes the certificate
// and private key used to terminate TLS. The identity is decoded eagerly,
// once, at startup; any failure (unreadable file, wrong passphrase) must
// abort startup rather than degrade to plaintext.
//
// The decoded key material is held in memory for the process lifetime and is
// never logged or persisted.
func LoadIdentity(path, passphrase string) (*tls.Certificate, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot open pkcs12 identity file: %w", err)
	}

	key, cert, err := pkcs12.Decode(data, passphrase)
	if err != nil {
		return nil, fmt.Errorf("cannot decode pkcs12 identity: %w", err)
	}

	return &tls.Certificate{
		Certificate: [][]byte{cert.Raw},
		PrivateKey:  key,
		Leaf:        cert,
	}, nil
}
