package infra

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileKeyProvider(t *testing.T) {
	tests := []struct {
		name   string
		testFn func(t *testing.T, provider *FileKeyProvider)
	}{
		{
			name: "KeyExists returns false when no token file",
			testFn: func(t *testing.T, provider *FileKeyProvider) {
				assert.False(t, provider.KeyExists())
			},
		},
		{
			name: "StoreKey creates token file with correct permissions",
			testFn: func(t *testing.T, provider *FileKeyProvider) {
				key, err := GenerateToken()
				require.NoError(t, err)

				require.NoError(t, provider.StoreKey(key))
				assert.True(t, provider.KeyExists())

				info, err := os.Stat(provider.keyPath)
				require.NoError(t, err)
				assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
			},
		},
		{
			name: "GetKey returns stored token",
			testFn: func(t *testing.T, provider *FileKeyProvider) {
				key, err := GenerateToken()
				require.NoError(t, err)
				require.NoError(t, provider.StoreKey(key))

				retrieved, err := provider.GetKey()
				require.NoError(t, err)
				assert.Equal(t, key, retrieved)
			},
		},
		{
			name: "GetKey returns error when no token file",
			testFn: func(t *testing.T, provider *FileKeyProvider) {
				_, err := provider.GetKey()
				assert.Error(t, err)
			},
		},
		{
			name: "StoreKey rejects wrong token size",
			testFn: func(t *testing.T, provider *FileKeyProvider) {
				err := provider.StoreKey([]byte("tooshort"))
				assert.Error(t, err)
				assert.Contains(t, err.Error(), "invalid token size")
			},
		},
		{
			name: "StoreKey creates directory if missing",
			testFn: func(t *testing.T, provider *FileKeyProvider) {
				nestedDir := filepath.Join(provider.keyPath+"_nested", "sub", "dir")
				provider.keyPath = filepath.Join(nestedDir, tokenFileName)

				key, err := GenerateToken()
				require.NoError(t, err)
				require.NoError(t, provider.StoreKey(key))
				assert.True(t, provider.KeyExists())
			},
		},
		{
			name: "KeyExists returns true after StoreKey",
			testFn: func(t *testing.T, provider *FileKeyProvider) {
				assert.False(t, provider.KeyExists())
				key, err := GenerateToken()
				require.NoError(t, err)
				require.NoError(t, provider.StoreKey(key))
				assert.True(t, provider.KeyExists())
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dataDir := t.TempDir()
			provider := NewFileKeyProvider(dataDir)
			tt.testFn(t, provider)
		})
	}
}

func TestGenerateToken(t *testing.T) {
	t.Run("returns 32-byte token", func(t *testing.T) {
		key, err := GenerateToken()
		require.NoError(t, err)
		assert.Len(t, key, tokenSize)
	})

	t.Run("generates unique tokens", func(t *testing.T) {
		seen := make(map[string]bool)
		for i := 0; i < 100; i++ {
			key, err := GenerateToken()
			require.NoError(t, err)
			assert.False(t, seen[string(key)], "duplicate token generated")
			seen[string(key)] = true
		}
	})
}

func TestEnsureKey(t *testing.T) {
	t.Run("generates new token when none exists", func(t *testing.T) {
		dataDir := t.TempDir()
		provider := NewFileKeyProvider(dataDir)

		key, err := EnsureKey(provider)
		require.NoError(t, err)
		assert.Len(t, key, tokenSize)
		assert.True(t, provider.KeyExists())
	})

	t.Run("returns existing token when already present", func(t *testing.T) {
		dataDir := t.TempDir()
		provider := NewFileKeyProvider(dataDir)

		original, err := GenerateToken()
		require.NoError(t, err)
		require.NoError(t, provider.StoreKey(original))

		key, err := EnsureKey(provider)
		require.NoError(t, err)
		assert.Equal(t, original, key)
	})
}
