package keyphrase

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractEmptyInputReturnsMisc(t *testing.T) {
	e := New()
	label, err := e.Extract(nil)
	require.NoError(t, err)
	assert.Equal(t, "Misc", label)

	label, err = e.Extract([]string{"   ", ""})
	require.NoError(t, err)
	assert.Equal(t, "Misc", label)
}

func TestExtractFavorsRepeatedBigram(t *testing.T) {
	e := New()
	texts := []string{
		"quantum tunneling describes particles crossing barriers",
		"quantum tunneling is observed in semiconductor devices",
		"researchers study quantum tunneling in superconductors",
	}
	label, err := e.Extract(texts)
	require.NoError(t, err)
	assert.Equal(t, "Quantum_Tunneling", label)
}

func TestExtractSkipsWeakWordToRunnerUp(t *testing.T) {
	e := New()
	// "known" repeats more than any other bigram/unigram and is a weak
	// word, so extraction should fall back to the next candidate rather
	// than returning a label built from it.
	texts := []string{
		"known known known photosynthesis converts light energy",
		"known known known photosynthesis converts light energy",
	}
	label, err := e.Extract(texts)
	require.NoError(t, err)
	assert.NotContains(t, label, "Known")
}

func TestToLabelFormatting(t *testing.T) {
	assert.Equal(t, "Neural_Network", toLabel("neural network"))
	assert.Equal(t, "Photosynthesis", toLabel("photosynthesis"))
}
