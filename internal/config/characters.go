package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/capitalize-ai/character-chat/internal/model"
)

// CharacterRecord is one persona as written in the characters file.
type CharacterRecord struct {
	Name         string `yaml:"name" toml:"name"`
	Avatar       string `yaml:"avatar" toml:"avatar"`
	Model        string `yaml:"model" toml:"model"`
	SystemPrompt string `yaml:"system_prompt" toml:"system_prompt"`
}

// CharactersFile is the document layout of the characters file.
type CharactersFile struct {
	Characters []CharacterRecord `yaml:"characters" toml:"characters"`
}

// LoadCharacters reads the ordered character list from a YAML (.yaml, .yml)
// or TOML (.toml) file. ${VAR} references are expanded from the environment
// before parsing.
func LoadCharacters(path string) ([]*model.Character, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read characters file: %w", err)
	}

	return ParseCharacters(filepath.Ext(path), data)
}

// ParseCharacters decodes a characters document. ext selects the format.
func ParseCharacters(ext string, data []byte) ([]*model.Character, error) {
	expanded := expandEnv(data)

	var doc CharactersFile
	switch strings.ToLower(ext) {
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(expanded))
		dec.KnownFields(true)
		if err := dec.Decode(&doc); err != nil {
			return nil, fmt.Errorf("failed to parse characters YAML: %w", err)
		}
	case ".toml":
		if _, err := toml.Decode(string(expanded), &doc); err != nil {
			return nil, fmt.Errorf("failed to parse characters TOML: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported characters file format %q", ext)
	}

	out := make([]*model.Character, 0, len(doc.Characters))
	seen := make(map[string]bool, len(doc.Characters))
	for i, rec := range doc.Characters {
		name := strings.TrimSpace(rec.Name)
		if name == "" {
			return nil, fmt.Errorf("character %d: name is required", i+1)
		}
		if seen[name] {
			return nil, fmt.Errorf("character %d: duplicate name %q", i+1, name)
		}
		seen[name] = true

		out = append(out, model.NewCharacter(name, rec.Avatar, strings.TrimSpace(rec.Model), rec.SystemPrompt))
	}

	return out, nil
}

var envRef = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// expandEnv replaces ${VAR} references only. Bare $ text, common in prompts,
// is left alone.
func expandEnv(data []byte) []byte {
	return envRef.ReplaceAllFunc(data, func(ref []byte) []byte {
		return []byte(os.Getenv(string(ref[2 : len(ref)-1])))
	})
}
