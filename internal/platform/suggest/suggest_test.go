package suggest

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultTable(t *testing.T) {
	s, err := NewDefault()
	require.NoError(t, err)

	got := s.Suggest("Viral FEVER with mild cough")
	assert.InDelta(t, 0.85, got.Confidence, 1e-9)
	assert.ElementsMatch(t, []string{"fever", "cough"}, got.Matched)

	var names []string
	for _, m := range got.Medicines {
		names = append(names, m.Name)
	}
	assert.Contains(t, names, "Paracetamol")
	assert.Contains(t, names, "Cetirizine")
}

func TestSuggest_NoMatch(t *testing.T) {
	s, err := NewDefault()
	require.NoError(t, err)

	got := s.Suggest("routine checkup")
	assert.Zero(t, got.Confidence)
	assert.Empty(t, got.Medicines)
	assert.NotNil(t, got.Medicines)
}

func TestSuggest_DedupesByName(t *testing.T) {
	s, err := Parse([]byte(`
treatments:
  - keywords: [sprain]
    confidence: 0.5
    medicines:
      - {name: Ibuprofen, dosage: 400mg}
  - keywords: [Back Pain]
    confidence: 0.9
    medicines:
      - {name: ibuprofen, dosage: 200mg}
      - {name: Diclofenac gel, dosage: thin layer}
`))
	require.NoError(t, err)

	got := s.Suggest("ankle sprain and back pain")
	assert.InDelta(t, 0.9, got.Confidence, 1e-9)
	require.Len(t, got.Medicines, 2)
	assert.Equal(t, "400mg", got.Medicines[0].Dosage)
	assert.Equal(t, "Diclofenac gel", got.Medicines[1].Name)
}

func TestParse_Rejects(t *testing.T) {
	_, err := Parse([]byte("treatments: [{confidence: 0.5}]"))
	assert.Error(t, err)
	_, err = Parse([]byte("treatments: [{keywords: [x], confidence: 1.5}]"))
	assert.Error(t, err)
	_, err = Parse([]byte("treatments: ["))
	assert.Error(t, err)
}

func TestLoad_FromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "table.yaml")
	require.NoError(t, os.WriteFile(path, []byte("treatments:\n  - keywords: [migraine]\n    confidence: 0.4\n    medicines: [{name: Sumatriptan}]\n"), 0o644))

	s, err := Load(path)
	require.NoError(t, err)
	assert.Len(t, s.Suggest("Migraine").Medicines, 1)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
