package ingest

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadRegistry_Embedded(t *testing.T) {
	reg, err := LoadRegistry("")
	require.NoError(t, err)

	for _, field := range canonicalFields {
		assert.NotEmpty(t, reg.Columns(field), field)
	}
	assert.Equal(t, []string{"First Name", "firstName"}, reg.Columns("firstName"))
	assert.Equal(t, "Assets Under Management", reg.Label("aum"))
	assert.Equal(t, "unknown", reg.Label("unknown"))
}

func TestParseRegistry_Rejects(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"unknown field", "fields:\n  - field: shoeSize\n    columns: [Shoe]\n  - field: email\n    columns: [Email]\n"},
		{"no columns", "fields:\n  - field: email\n    columns: []\n"},
		{"duplicate", "fields:\n  - field: email\n    columns: [Email]\n  - field: email\n    columns: [Mail]\n"},
		{"missing email", "fields:\n  - field: firstName\n    columns: [First]\n"},
		{"not yaml", "fields: [\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseRegistry([]byte(tt.yaml))
			assert.Error(t, err)
		})
	}
}

func TestLoadRegistry_FromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "columns.yaml")
	require.NoError(t, os.WriteFile(path, []byte("fields:\n  - field: email\n    columns: [\"Correo\", \"email\"]\n"), 0o600))

	reg, err := LoadRegistry(path)
	require.NoError(t, err)
	assert.Equal(t, "Correo", reg.Label("email"))
	assert.Empty(t, reg.Columns("firstName"))

	rec := NewMapper(reg, nil).Map(RawRow{"Correo": "es@x.com"})
	assert.Equal(t, "es@x.com", rec.Email)
}
