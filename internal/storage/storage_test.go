package storage

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr bool
	}{
		{name: "default is memory", config: Config{}},
		{name: "memory", config: Config{Type: TypeMemory}},
		{name: "valkey with address", config: Config{Type: TypeValkey, Valkey: ValkeyConfig{URL: "localhost:6379"}}},
		{name: "valkey without address", config: Config{Type: TypeValkey}, wantErr: true},
		{name: "unknown type", config: Config{Type: "etcd"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValkeyConfig_Prefix(t *testing.T) {
	assert.Equal(t, DefaultKeyPrefix, ValkeyConfig{}.Prefix())
	assert.Equal(t, "staging:", ValkeyConfig{KeyPrefix: "staging:"}.Prefix())
}

func TestNewValkeyClient_InvalidInput(t *testing.T) {
	_, err := NewValkeyClient(ValkeyConfig{URL: " , "})
	assert.Error(t, err)

	_, err = NewValkeyClient(ValkeyConfig{URL: "localhost:6379", TLSEnabled: true, TLSCAFile: filepath.Join(t.TempDir(), "missing.pem")})
	assert.ErrorContains(t, err, "CA file")

	bad := filepath.Join(t.TempDir(), "bad.pem")
	require.NoError(t, os.WriteFile(bad, []byte("not a certificate"), 0600))
	_, err = NewValkeyClient(ValkeyConfig{URL: "localhost:6379", TLSEnabled: true, TLSCAFile: bad})
	assert.ErrorContains(t, err, "no certificates")
}
