package filesystem

import (
	"context"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/laptisdev/lpbackend/cmd/lpbackend/internal/testutil"
)

func TestGetCertificate_LoadsKeyPair(t *testing.T) {
	certFile, keyFile, dhFile := testutil.WriteTLSMaterial(t, t.TempDir())
	p := NewFileTLSProvider(certFile, keyFile, dhFile)

	cert, err := p.GetCertificate(context.Background())
	require.NoError(t, err)
	assert.NotEmpty(t, cert.Certificate)
}

func TestGetCertificate_MissingFiles(t *testing.T) {
	dir := t.TempDir()
	p := NewFileTLSProvider(filepath.Join(dir, "cert.pem"), filepath.Join(dir, "key.pem"), "")

	_, err := p.GetCertificate(context.Background())
	require.Error(t, err)
}

func TestGetCertificate_MissingDHParams(t *testing.T) {
	dir := t.TempDir()
	certFile, keyFile, _ := testutil.WriteTLSMaterial(t, dir)
	p := NewFileTLSProvider(certFile, keyFile, filepath.Join(dir, "nope.pem"))

	_, err := p.GetCertificate(context.Background())
	require.Error(t, err)
}

func TestGetCertificate_EncryptedKeyPrompt(t *testing.T) {
	dir := t.TempDir()
	certFile, keyFile, dhFile := testutil.WriteTLSMaterial(t, dir)

	// Re-encrypt the key with legacy PEM encryption.
	keyPEM, err := os.ReadFile(keyFile)
	require.NoError(t, err)
	block, _ := pem.Decode(keyPEM)
	require.NotNil(t, block)
	encrypted, err := x509.EncryptPEMBlock(rand.Reader, block.Type, block.Bytes, []byte("hunter2"), x509.PEMCipherAES256)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(keyFile, pem.EncodeToMemory(encrypted), 0o600))

	p := NewFileTLSProvider(certFile, keyFile, dhFile)

	// Without a prompt the provider must refuse.
	_, err = p.GetCertificate(context.Background())
	require.Error(t, err)

	var prompted string
	p.PasswordPrompt = func(purpose string) (string, error) {
		prompted = purpose
		return "hunter2", nil
	}
	cert, err := p.GetCertificate(context.Background())
	require.NoError(t, err)
	assert.NotEmpty(t, cert.Certificate)
	assert.Equal(t, "reading", prompted)

	// A wrong password surfaces as an error.
	p.PasswordPrompt = func(string) (string, error) { return "wrong", nil }
	_, err = p.GetCertificate(context.Background())
	require.Error(t, err)
}

func TestStore_RoundTrips(t *testing.T) {
	dir := t.TempDir()
	certPEM, keyPEM := testutil.GenerateSelfSignedCert(t)

	p := NewFileTLSProvider(filepath.Join(dir, "cert.pem"), filepath.Join(dir, "key.pem"), "")
	require.NoError(t, p.Store(context.Background(), certPEM, keyPEM))

	cert, err := p.GetCertificate(context.Background())
	require.NoError(t, err)
	assert.NotEmpty(t, cert.Certificate)
}
