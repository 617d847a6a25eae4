package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"gopkg.in/yaml.v3"
)

const (
	outputText = "text"
	outputJSON = "json"
	outputYAML = "yaml"
)

func validateOutputFormat(format string) error {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", outputText, outputJSON, outputYAML:
		return nil
	default:
		return fmt.Errorf("unsupported output format %q (use text, json, or yaml)", format)
	}
}

// writeOutput renders v in the selected structured format, or calls text.
func writeOutput(cmd *cobra.Command, format string, v any, text func() error) error {
	switch format {
	case outputJSON:
		return writeJSON(cmd, v)
	case outputYAML:
		return writeYAML(cmd, v)
	default:
		return text()
	}
}

// writeJSON encodes v as indented JSON to the command's stdout.
func writeJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// writeYAML renders v as block-style YAML keyed by its JSON field names.
func writeYAML(cmd *cobra.Command, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	var node yaml.Node
	if err := yaml.Unmarshal(raw, &node); err != nil {
		return err
	}
	blockStyle(&node)
	enc := yaml.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent(2)
	if err := enc.Encode(&node); err != nil {
		return err
	}
	return enc.Close()
}

func blockStyle(node *yaml.Node) {
	if node.Kind == yaml.MappingNode || node.Kind == yaml.SequenceNode {
		node.Style = 0
	}
	if node.Kind == yaml.ScalarNode && node.Tag == "!!str" {
		node.Style = 0
	}
	for _, child := range node.Content {
		blockStyle(child)
	}
}

var stateCaser = cases.Title(language.English)

func displayState(state string) string {
	if state == "" {
		return "-"
	}
	return stateCaser.String(state)
}
