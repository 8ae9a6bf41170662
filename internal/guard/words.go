package guard

import (
	"os"

	"gopkg.in/yaml.v3"
)

// WordLists holds the three keyword tiers. Block words reject content
// outright, stale words force a rewrite, review words flag content for
// secondary scrutiny without blocking it.
type WordLists struct {
	Block  []string `yaml:"block"`
	Stale  []string `yaml:"stale"`
	Review []string `yaml:"review"`
}

// DefaultWordLists returns the built-in lists written to a fresh home
// directory on first run.
func DefaultWordLists() WordLists {
	return WordLists{
		Block:  []string{"政治", "赌博", "毒品", "色情", "暴力", "造谣"},
		Stale:  []string{"绝绝子", "yyds", "家人们谁懂", "尊嘟假嘟"},
		Review: []string{"医疗", "投资", "理财", "减肥"},
	}
}

// LoadWordLists reads a YAML word list file.
func LoadWordLists(path string) (WordLists, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return WordLists{}, err
	}
	var w WordLists
	if err := yaml.Unmarshal(raw, &w); err != nil {
		return WordLists{}, err
	}
	return w, nil
}

// SaveWordLists writes the lists out as YAML, used to seed a new home
// directory with the defaults.
func SaveWordLists(path string, w WordLists) error {
	raw, err := yaml.Marshal(w)
	if err != nil {
		return err
	}
	return os.WriteFile(path, raw, 0o644)
}
