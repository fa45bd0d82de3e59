package job

import (
	"fmt"
	"path"
	"strings"

	"gopkg.in/yaml.v3"
)

// DefaultImporters maps source-file extensions to the annotation tool's
// importer modules that handle them.
var DefaultImporters = map[string]string{
	".xml":  "xml_import",
	".txt":  "text_import",
	".docx": "docx_import",
	".odt":  "odt_import",
}

type corpusConfig struct {
	Import struct {
		Importer string `yaml:"importer"`
	} `yaml:"import"`
}

// ConfigCompatible checks that the importer named in the corpus config can
// handle the given source file. An unset importer defaults to XML. It
// returns the configured and expected importer names for error reporting.
func ConfigCompatible(configYAML, sourceName string, importers map[string]string) (bool, string, string, error) {
	if len(importers) == 0 {
		importers = DefaultImporters
	}
	var cfg corpusConfig
	if err := yaml.Unmarshal([]byte(configYAML), &cfg); err != nil {
		return false, "", "", fmt.Errorf("parse corpus config: %w", err)
	}

	ext := path.Ext(sourceName)
	current, _, _ := strings.Cut(cfg.Import.Importer, ":")
	expected := importers[ext]

	if current == "" && ext == ".xml" {
		return true, current, expected, nil
	}
	return current == expected, current, expected, nil
}

// StandardizeConfig pins the corpus id in the config metadata and strips the
// compression override so the tool's default applies.
func StandardizeConfig(configYAML, corpusID string) (string, error) {
	var cfg map[string]any
	if err := yaml.Unmarshal([]byte(configYAML), &cfg); err != nil {
		return "", fmt.Errorf("parse corpus config: %w", err)
	}
	if cfg == nil {
		cfg = map[string]any{}
	}

	meta, _ := cfg["metadata"].(map[string]any)
	if meta == nil {
		meta = map[string]any{}
	}
	if meta["id"] != corpusID {
		meta["id"] = corpusID
	}
	cfg["metadata"] = meta

	if sparv, ok := cfg["sparv"].(map[string]any); ok {
		delete(sparv, "compression")
		if len(sparv) == 0 {
			delete(cfg, "sparv")
		}
	}

	out, err := yaml.Marshal(cfg)
	if err != nil {
		return "", fmt.Errorf("serialize corpus config: %w", err)
	}
	return string(out), nil
}
