package benchmark

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
)

// Item is one entry of a benchmark dataset: paraphrases of a question and the
// gold SQL answering it. Placeholders in both are filled from Variables.
type Item struct {
	Sentences []Sentence `json:"sentences"`
	SQL       []string   `json:"sql"`
}

type Sentence struct {
	Text      string            `json:"text"`
	Variables map[string]string `json:"variables"`
}

type Case struct {
	Index       int    `json:"index"`
	Text        string `json:"text"`
	ExpectedSQL string `json:"expected_sql"`
}

func LoadDataset(r io.Reader) ([]Item, error) {
	var items []Item
	if err := json.NewDecoder(r).Decode(&items); err != nil {
		return nil, fmt.Errorf("decode dataset: %w", err)
	}
	return items, nil
}

func LoadDatasetFile(path string) ([]Item, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open dataset: %w", err)
	}
	defer func() { _ = file.Close() }()
	return LoadDataset(file)
}

// Cases takes the first sentence and first gold query of every usable item,
// up to limit cases when limit > 0.
func Cases(items []Item, limit int) []Case {
	var out []Case
	for _, item := range items {
		if limit > 0 && len(out) >= limit {
			break
		}
		if len(item.Sentences) == 0 || len(item.SQL) == 0 {
			continue
		}
		sentence := item.Sentences[0]
		out = append(out, Case{
			Index:       len(out) + 1,
			Text:        SubstituteVariables(sentence.Text, sentence.Variables),
			ExpectedSQL: SubstituteVariables(item.SQL[0], sentence.Variables),
		})
	}
	return out
}

// SubstituteVariables replaces every variable name with its value. Longer
// names go first so a name that prefixes another is not replaced inside it.
func SubstituteVariables(text string, variables map[string]string) string {
	names := make([]string, 0, len(variables))
	for name := range variables {
		if name != "" {
			names = append(names, name)
		}
	}
	sort.Slice(names, func(i, j int) bool {
		if len(names[i]) != len(names[j]) {
			return len(names[i]) > len(names[j])
		}
		return names[i] < names[j]
	})

	pairs := make([]string, 0, len(names)*2)
	for _, name := range names {
		pairs = append(pairs, name, variables[name])
	}
	return strings.NewReplacer(pairs...).Replace(text)
}
