package jurisdiction

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify_TokenRules(t *testing.T) {
	c, err := Default()
	require.NoError(t, err)

	tests := []struct {
		name     string
		expected string
		matched  bool
	}{
		{"Committee to Re-Elect Smith, Desert Hot Springs", "Desert Hot Springs", true},
		{"Friends of DHS Schools", "Desert Hot Springs", true},
		{"CATHEDRAL CITY Firefighters PAC", "Cathedral City", true},
		{"Smith for Riverside County Supervisor", "Riverside County", true},
		{"Citizens for Good Government", "", false},
		{"", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			label, ok := c.Classify(tt.name)
			assert.Equal(t, tt.matched, ok)
			assert.Equal(t, tt.expected, label)
		})
	}
}

func TestClassify_CityCouncilFallback(t *testing.T) {
	c := NewClassifier(nil)

	label, ok := c.Classify("Friends of Jane Doe for Mayberry City Council 2024")
	require.True(t, ok)
	assert.Equal(t, "Mayberry", label)

	label, ok = c.Classify("JANE DOE FOR TWENTYNINE PALMS CITY COUNCIL")
	require.True(t, ok)
	assert.Equal(t, "Twentynine Palms", label)

	_, ok = c.Classify("Jane Doe for State Assembly")
	assert.False(t, ok)
}

func TestClassify_RuleOrderWins(t *testing.T) {
	c := NewClassifier([]Rule{
		{Token: "north lake", Label: "North Lake"},
		{Token: "lake", Label: "Lake"},
	})

	label, ok := c.Classify("Vote North Lake Now")
	require.True(t, ok)
	assert.Equal(t, "North Lake", label)
}

func TestClassify_TokenBeatsFallback(t *testing.T) {
	c := NewClassifier([]Rule{{Token: "mayberry", Label: "Mayberry Township"}})

	label, ok := c.Classify("Jane Doe for Mayberry City Council")
	require.True(t, ok)
	assert.Equal(t, "Mayberry Township", label)
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte("rules:\n  - token: springfield\n    label: Springfield\n"), 0o644))

	c, err := Load(path)
	require.NoError(t, err)
	label, ok := c.Classify("Springfield Citizens United")
	require.True(t, ok)
	assert.Equal(t, "Springfield", label)
}

func TestLoad_Invalid(t *testing.T) {
	dir := t.TempDir()

	for name, content := range map[string]string{
		"empty":         "rules: []",
		"missing token": "rules:\n  - label: Springfield",
		"malformed":     "{{nope",
	} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(dir, name+".yaml")
			require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
			_, err := Load(path)
			assert.Error(t, err)
		})
	}
}
