package pipeline

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/MeKo-Tech/ctcbeam/internal/beamsearch"
)

func sampleResults() []*Result {
	r1 := &Result{
		Source: "a.json",
		Method: "beam",
		Shape:  []int64{1, 2, 3},
		Sequences: []SequenceResult{{
			Index:     0,
			Timesteps: 2,
			Predictions: []beamsearch.Prediction{
				{Text: "A", Probability: 0.52, Label: []int{0}},
				{Text: "", Probability: 0.48, Label: []int{}},
			},
		}},
	}
	r2 := &Result{Source: "b.json", Error: "invalid tensor shape"}
	return []*Result{r1, r2}
}

func TestFormat_Text(t *testing.T) {
	out, err := Format(sampleResults()[:1], FormatText, 3)
	require.NoError(t, err)
	assert.Equal(t, "1\t0.520\tA\n2\t0.480\t\n", out)

	out, err = Format(sampleResults(), FormatText, 2)
	require.NoError(t, err)
	assert.Contains(t, out, "# a.json\n1\t0.52\tA\n")
	assert.Contains(t, out, "# b.json\nerror: invalid tensor shape\n")
}

func TestFormat_TextMultipleSequences(t *testing.T) {
	r := &Result{Sequences: []SequenceResult{
		{Index: 0, Predictions: []beamsearch.Prediction{{Text: "x", Probability: 1}}},
		{Index: 1, Predictions: []beamsearch.Prediction{{Text: "y", Probability: 1}}},
	}}
	out := ToPlainText([]*Result{r}, 1)
	assert.Equal(t, "## sequence 0\n1\t1.0\tx\n## sequence 1\n1\t1.0\ty\n", out)
}

func TestFormat_JSON(t *testing.T) {
	out, err := Format(sampleResults()[:1], FormatJSON, 4)
	require.NoError(t, err)
	var single Result
	require.NoError(t, json.Unmarshal([]byte(out), &single))
	assert.Equal(t, "A", single.Sequences[0].Predictions[0].Text)

	out, err = Format(sampleResults(), FormatJSON, 4)
	require.NoError(t, err)
	var many resultList
	require.NoError(t, json.Unmarshal([]byte(out), &many))
	require.Len(t, many.Results, 2)
	assert.Equal(t, "invalid tensor shape", many.Results[1].Error)
}

func TestFormat_YAML(t *testing.T) {
	out, err := Format(sampleResults(), FormatYAML, 4)
	require.NoError(t, err)
	var many resultList
	require.NoError(t, yaml.Unmarshal([]byte(out), &many))
	require.Len(t, many.Results, 2)
	assert.InDelta(t, 0.52, many.Results[0].Sequences[0].Predictions[0].Probability, 1e-12)
}

func TestFormat_CSV(t *testing.T) {
	out, err := Format(sampleResults(), FormatCSV, 2)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, "source,sequence,rank,text,probability,label,error", lines[0])
	assert.Equal(t, "a.json,0,1,A,0.52,0,", lines[1])
	assert.Equal(t, "a.json,0,2,,0.48,,", lines[2])
	assert.Equal(t, "b.json,,,,,,invalid tensor shape", lines[3])
}

func TestFormat_Unknown(t *testing.T) {
	_, err := Format(sampleResults(), "xml", 4)
	assert.Error(t, err)
}
