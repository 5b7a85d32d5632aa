package infra

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"

	"github.com/focusshield/shieldd/internal/domain"
)

const (
	tokenFileName = ".token"
	tokenSize     = 32 // 256 bits, base64-encoded into the bearer token
)

// FileKeyProvider implements domain.KeyProvider using a local file holding
// the bearer token the Control Server's remote tool surface requires on
// every POST /tool request.
type FileKeyProvider struct {
	keyPath string
}

// NewFileKeyProvider creates a FileKeyProvider rooted at dataDir.
func NewFileKeyProvider(dataDir string) *FileKeyProvider {
	return &FileKeyProvider{
		keyPath: filepath.Join(dataDir, tokenFileName),
	}
}

// GetKey reads the bearer token from the token file.
func (p *FileKeyProvider) GetKey() ([]byte, error) {
	encoded, err := os.ReadFile(p.keyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read token file: %w", err)
	}
	key, err := base64.StdEncoding.DecodeString(string(encoded))
	if err != nil {
		return nil, fmt.Errorf("failed to decode token: %w", err)
	}
	if len(key) != tokenSize {
		return nil, fmt.Errorf("invalid token size: got %d, want %d", len(key), tokenSize)
	}
	return key, nil
}

// StoreKey writes the bearer token to the token file with 0600 permissions.
func (p *FileKeyProvider) StoreKey(key []byte) error {
	if len(key) != tokenSize {
		return fmt.Errorf("invalid token size: got %d, want %d", len(key), tokenSize)
	}
	dir := filepath.Dir(p.keyPath)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create token directory: %w", err)
	}
	encoded := base64.StdEncoding.EncodeToString(key)
	if err := os.WriteFile(p.keyPath, []byte(encoded), 0600); err != nil {
		return fmt.Errorf("failed to write token file: %w", err)
	}
	return nil
}

// KeyExists checks if the token file exists.
func (p *FileKeyProvider) KeyExists() bool {
	_, err := os.Stat(p.keyPath)
	return err == nil
}

// GenerateToken creates a new random bearer token.
func GenerateToken() ([]byte, error) {
	key := make([]byte, tokenSize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("failed to generate random token: %w", err)
	}
	return key, nil
}

// EnsureKey returns the provider's token, generating and storing one first
// if none exists yet.
func EnsureKey(provider domain.KeyProvider) ([]byte, error) {
	if provider.KeyExists() {
		return provider.GetKey()
	}
	key, err := GenerateToken()
	if err != nil {
		return nil, err
	}
	if err := provider.StoreKey(key); err != nil {
		return nil, err
	}
	return key, nil
}

var _ domain.KeyProvider = (*FileKeyProvider)(nil)
