// Package certs extracts metadata from PEM certificate material so the
// store can index certificates by domain and expiry without re-parsing
// on every read.
package certs

import (
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"sort"
	"time"
)

// Metadata is the indexed summary of a leaf certificate.
type Metadata struct {
	Domains   []string
	Issuer    string
	NotBefore time.Time
	NotAfter  time.Time
}

// Parse decodes the first CERTIFICATE block in pemData and returns its
// metadata. Extra blocks (chain material) are ignored.
func Parse(pemData []byte) (*Metadata, error) {
	block := firstCertBlock(pemData)
	if block == nil {
		return nil, fmt.Errorf("no certificate block found in PEM data")
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse certificate: %w", err)
	}

	domains := make(map[string]struct{})
	if cert.Subject.CommonName != "" {
		domains[cert.Subject.CommonName] = struct{}{}
	}
	for _, d := range cert.DNSNames {
		domains[d] = struct{}{}
	}
	list := make([]string, 0, len(domains))
	for d := range domains {
		list = append(list, d)
	}
	sort.Strings(list)

	return &Metadata{
		Domains:   list,
		Issuer:    cert.Issuer.CommonName,
		NotBefore: cert.NotBefore,
		NotAfter:  cert.NotAfter,
	}, nil
}

// ValidateKeyPair checks that certPEM and keyPEM form a usable pair.
func ValidateKeyPair(certPEM, keyPEM []byte) error {
	if firstCertBlock(certPEM) == nil {
		return fmt.Errorf("no certificate block found")
	}
	keyBlock, _ := pem.Decode(keyPEM)
	if keyBlock == nil {
		return fmt.Errorf("no key block found")
	}
	switch keyBlock.Type {
	case "PRIVATE KEY":
		if _, err := x509.ParsePKCS8PrivateKey(keyBlock.Bytes); err != nil {
			return fmt.Errorf("parse private key: %w", err)
		}
	case "RSA PRIVATE KEY":
		if _, err := x509.ParsePKCS1PrivateKey(keyBlock.Bytes); err != nil {
			return fmt.Errorf("parse RSA private key: %w", err)
		}
	case "EC PRIVATE KEY":
		if _, err := x509.ParseECPrivateKey(keyBlock.Bytes); err != nil {
			return fmt.Errorf("parse EC private key: %w", err)
		}
	default:
		return fmt.Errorf("unsupported key block type %q", keyBlock.Type)
	}
	return nil
}

func firstCertBlock(pemData []byte) *pem.Block {
	rest := pemData
	for {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			return nil
		}
		if block.Type == "CERTIFICATE" {
			return block
		}
	}
}
