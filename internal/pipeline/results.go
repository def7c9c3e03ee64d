package pipeline

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Output formats understood by Format.
const (
	FormatText = "text"
	FormatJSON = "json"
	FormatCSV  = "csv"
	FormatYAML = "yaml"
)

// DefaultPrecision is the number of decimals used for probabilities in text and CSV.
const DefaultPrecision = 4

type resultList struct {
	Results []*Result `json:"results" yaml:"results"`
}

// Format renders results in the given format. A single result is rendered as
// an object in JSON and YAML, several as {"results": [...]}.
func Format(results []*Result, format string, precision int) (string, error) {
	switch format {
	case FormatJSON:
		return ToJSON(results)
	case FormatYAML:
		return ToYAML(results)
	case FormatCSV:
		return ToCSV(results, precision)
	case FormatText, "":
		return ToPlainText(results, precision), nil
	default:
		return "", fmt.Errorf("unsupported output format: %s", format)
	}
}

func document(results []*Result) any {
	if len(results) == 1 {
		return results[0]
	}
	return resultList{Results: results}
}

// ToJSON serializes results to pretty JSON.
func ToJSON(results []*Result) (string, error) {
	b, err := json.MarshalIndent(document(results), "", "  ")
	if err != nil {
		return "", err
	}
	return string(b) + "\n", nil
}

// ToYAML serializes results to YAML.
func ToYAML(results []*Result) (string, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(document(results)); err != nil {
		return "", err
	}
	if err := enc.Close(); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// ToCSV writes one row per prediction with a header.
func ToCSV(results []*Result, precision int) (string, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write([]string{"source", "sequence", "rank", "text", "probability", "label", "error"}); err != nil {
		return "", err
	}
	for _, r := range results {
		if r == nil {
			continue
		}
		if r.Error != "" {
			if err := w.Write([]string{r.Source, "", "", "", "", "", r.Error}); err != nil {
				return "", err
			}
			continue
		}
		for _, seq := range r.Sequences {
			for rank, pred := range seq.Predictions {
				row := []string{
					r.Source,
					strconv.Itoa(seq.Index),
					strconv.Itoa(rank + 1),
					pred.Text,
					formatProb(pred.Probability, precision),
					formatLabel(pred.Label),
					"",
				}
				if err := w.Write(row); err != nil {
					return "", err
				}
			}
		}
	}
	w.Flush()
	return buf.String(), w.Error()
}

// ToPlainText lists predictions as "rank<TAB>probability<TAB>text" lines.
// Sources and sequence numbers become "#" header lines when there is more
// than one of them.
func ToPlainText(results []*Result, precision int) string {
	var sb strings.Builder
	for i, r := range results {
		if r == nil {
			continue
		}
		if i > 0 {
			sb.WriteString("\n")
		}
		if r.Source != "" && len(results) > 1 {
			fmt.Fprintf(&sb, "# %s\n", r.Source)
		}
		if r.Error != "" {
			fmt.Fprintf(&sb, "error: %s\n", r.Error)
			continue
		}
		for _, seq := range r.Sequences {
			if len(r.Sequences) > 1 {
				fmt.Fprintf(&sb, "## sequence %d\n", seq.Index)
			}
			for rank, pred := range seq.Predictions {
				fmt.Fprintf(&sb, "%d\t%s\t%s\n", rank+1, formatProb(pred.Probability, precision), pred.Text)
			}
		}
	}
	return sb.String()
}

func formatProb(p float64, precision int) string {
	if precision < 0 {
		precision = DefaultPrecision
	}
	return strconv.FormatFloat(p, 'f', precision, 64)
}

func formatLabel(label []int) string {
	parts := make([]string, len(label))
	for i, v := range label {
		parts[i] = strconv.Itoa(v)
	}
	return strings.Join(parts, " ")
}
