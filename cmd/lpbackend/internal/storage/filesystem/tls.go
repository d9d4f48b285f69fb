// Package filesystem loads and stores the server's TLS material on disk.
package filesystem

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"

	"github.com/laptisdev/lpbackend/cmd/lpbackend/internal/logger"
)

// FileTLSProvider reads the certificate chain and private key from PEM
// files. Encrypted private keys are decrypted with a password obtained
// through PasswordPrompt.
type FileTLSProvider struct {
	CertFile string
	KeyFile  string
	DHFile   string

	// PasswordPrompt is consulted when the private key is encrypted.
	// The argument names the purpose; GetCertificate passes "reading".
	PasswordPrompt func(purpose string) (string, error)
}

func NewFileTLSProvider(certFile, keyFile, dhFile string) *FileTLSProvider {
	return &FileTLSProvider{
		CertFile: certFile,
		KeyFile:  keyFile,
		DHFile:   dhFile,
	}
}

// GetCertificate loads the key pair, decrypting the key if needed and
// validating the DH parameter file when one is configured.
func (p *FileTLSProvider) GetCertificate(ctx context.Context) (*tls.Certificate, error) {
	certPEM, err := os.ReadFile(p.CertFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read certificate chain %s: %w", p.CertFile, err)
	}
	keyPEM, err := os.ReadFile(p.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read private key %s: %w", p.KeyFile, err)
	}

	keyPEM, err = p.decryptIfNeeded(keyPEM)
	if err != nil {
		return nil, err
	}

	cert, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		return nil, fmt.Errorf("failed to load key pair from %s, %s: %w", p.CertFile, p.KeyFile, err)
	}

	if err := p.checkDHParams(); err != nil {
		return nil, err
	}
	return &cert, nil
}

// Store writes a key pair to the configured paths.
func (p *FileTLSProvider) Store(ctx context.Context, certPEM, keyPEM []byte) error {
	if err := os.WriteFile(p.CertFile, certPEM, 0o644); err != nil {
		return fmt.Errorf("failed to write cert file: %w", err)
	}
	if err := os.WriteFile(p.KeyFile, keyPEM, 0o600); err != nil {
		return fmt.Errorf("failed to write key file: %w", err)
	}
	return nil
}

// decryptIfNeeded returns keyPEM with legacy PEM encryption removed.
func (p *FileTLSProvider) decryptIfNeeded(keyPEM []byte) ([]byte, error) {
	block, _ := pem.Decode(keyPEM)
	if block == nil {
		return nil, fmt.Errorf("no PEM block found in %s", p.KeyFile)
	}
	if !x509.IsEncryptedPEMBlock(block) {
		return keyPEM, nil
	}
	if p.PasswordPrompt == nil {
		return nil, fmt.Errorf("private key %s is encrypted and no password prompt is available", p.KeyFile)
	}

	password, err := p.PasswordPrompt("reading")
	if err != nil {
		return nil, fmt.Errorf("failed to read private key password: %w", err)
	}
	der, err := x509.DecryptPEMBlock(block, []byte(password))
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt private key %s: %w", p.KeyFile, err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: block.Type, Bytes: der}), nil
}

// checkDHParams validates the configured DH parameter file. The TLS stack
// negotiates ECDHE and never consumes these parameters; the option is
// honoured for configuration compatibility.
func (p *FileTLSProvider) checkDHParams() error {
	if p.DHFile == "" {
		return nil
	}
	data, err := os.ReadFile(p.DHFile)
	if err != nil {
		return fmt.Errorf("failed to read DH parameters %s: %w", p.DHFile, err)
	}
	block, _ := pem.Decode(data)
	if block == nil || block.Type != "DH PARAMETERS" {
		return fmt.Errorf("%s does not contain DH parameters", p.DHFile)
	}
	logger.Debug("DH parameters present but unused, key exchange is ECDHE", "path", p.DHFile)
	return nil
}
