package fields

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	set, err := Defaults()
	require.NoError(t, err)
	require.NotEmpty(t, set.Fields)

	name := set.Get(KeyEntityName)
	require.NotNil(t, name)
	assert.True(t, name.Required)
	assert.Equal(t, "Contributor Name", name.Label)

	amount := set.Get(KeyAmount)
	require.NotNil(t, amount)
	assert.Contains(t, amount.Aliases, "tranamt1")

	assert.Nil(t, set.Get("no_such_field"))
}

func TestDefaults_RequiredFields(t *testing.T) {
	set, err := Defaults()
	require.NoError(t, err)

	var keys []string
	for _, def := range set.Required() {
		keys = append(keys, def.Key)
	}
	assert.Equal(t, []string{KeyEntityName, KeyAmount, KeyDate}, keys)
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "fields.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
fields:
  - key: entity_name
    label: Name
    required: true
    aliases: [name]
  - key: amount
    label: Amount
    required: true
    aliases: [amt]
`), 0o644))

	set, err := Load(path)
	require.NoError(t, err)
	assert.Len(t, set.Fields, 2)
	assert.NotNil(t, set.Get("amount"))
}

func TestLoad_Invalid(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name string
		yaml string
	}{
		{"empty", `fields: []`},
		{"missing key", "fields:\n  - label: Name"},
		{"missing label", "fields:\n  - key: entity_name"},
		{"duplicate key", "fields:\n  - key: a\n    label: A\n  - key: a\n    label: B"},
		{"malformed", `{{not yaml`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(dir, tt.name+".yaml")
			require.NoError(t, os.WriteFile(path, []byte(tt.yaml), 0o644))

			_, err := Load(path)
			assert.Error(t, err)
		})
	}
}

func TestLoad_FileMissing(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
