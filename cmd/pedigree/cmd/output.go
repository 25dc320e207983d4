package cmd

import (
	"encoding/json"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/MeKo-Tech/pedigree/internal/pipeline"
)

const (
	outputFormatJSON = "json"
	outputFormatYAML = "yaml"
	outputFormatText = "text"
)

// fileResult is the per-image document printed by the image command.
type fileResult struct {
	File string `json:"file"`
	*pipeline.Result
}

func formatResult(format, path string, res *pipeline.Result) (string, error) {
	if res.Warnings == nil {
		res.Warnings = []pipeline.NodeWarning{}
	}
	switch format {
	case outputFormatJSON:
		b, err := json.MarshalIndent(fileResult{File: path, Result: res}, "", "  ")
		if err != nil {
			return "", fmt.Errorf("failed to marshal JSON: %w", err)
		}
		return string(b), nil
	case outputFormatYAML:
		return toYAML(fileResult{File: path, Result: res})
	case outputFormatText:
		return formatText(path, res), nil
	default:
		return "", fmt.Errorf("invalid output format: %s (must be one of: json, yaml, text)", format)
	}
}

// toYAML renders v with its JSON field names. The JSON document is parsed as
// YAML and re-emitted in block style so key order is kept.
func toYAML(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to marshal result: %w", err)
	}
	var doc yaml.Node
	if err := yaml.Unmarshal(b, &doc); err != nil {
		return "", fmt.Errorf("failed to convert result to YAML: %w", err)
	}
	blockStyle(&doc)
	out, err := yaml.Marshal(&doc)
	if err != nil {
		return "", fmt.Errorf("failed to marshal YAML: %w", err)
	}
	return strings.TrimRight(string(out), "\n"), nil
}

func blockStyle(n *yaml.Node) {
	if n.Kind != yaml.ScalarNode || n.Style != yaml.DoubleQuotedStyle || !needsQuotes(n.Value) {
		n.Style = 0
	}
	for _, c := range n.Content {
		blockStyle(c)
	}
}

// needsQuotes reports whether a JSON string would change type if unquoted.
func needsQuotes(s string) bool {
	var v any
	if err := yaml.Unmarshal([]byte(s), &v); err != nil {
		return true
	}
	_, isString := v.(string)
	return !isString || s == ""
}

func formatText(path string, res *pipeline.Result) string {
	var sb strings.Builder
	tree := res.Tree
	fmt.Fprintf(&sb, "%s: %d members, %d labels, %d warnings\n", path, len(tree.Nodes), len(tree.Texts), len(res.Warnings))
	for _, n := range tree.Nodes {
		fmt.Fprintf(&sb, "  [%d] %-11s", n.Index, n.Class)
		if n.DisplayName != nil && *n.DisplayName != "" {
			fmt.Fprintf(&sb, " name=%q", *n.DisplayName)
		}
		if n.Age != nil && *n.Age != "" {
			fmt.Fprintf(&sb, " age=%s", *n.Age)
		}
		if n.DOB != nil && *n.DOB != "" {
			fmt.Fprintf(&sb, " dob=%s", *n.DOB)
		}
		if len(n.Diseases) > 0 {
			fmt.Fprintf(&sb, " diseases=%s", strings.Join(n.Diseases, ","))
		}
		sb.WriteString("\n")
	}
	for _, w := range res.Warnings {
		fmt.Fprintf(&sb, "  warning: node=%d stage=%s: %s\n", w.NodeIndex, w.Stage, w.Message)
	}
	return strings.TrimRight(sb.String(), "\n")
}
