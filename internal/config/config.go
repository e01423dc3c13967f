package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/menta2k/figure-editor/pkg/annotate"
)

// Config holds the application configuration
type Config struct {
	Backend    BackendConfig    `json:"backend" yaml:"backend"`
	Extraction ExtractionConfig `json:"extraction" yaml:"extraction"`
	Editor     EditorConfig     `json:"editor" yaml:"editor"`
	Output     OutputConfig     `json:"output" yaml:"output"`
	Batch      BatchConfig      `json:"batch" yaml:"batch"`
}

// BackendConfig selects the vision model server
type BackendConfig struct {
	Kind          string `json:"kind" yaml:"kind"` // ollama or llamacpp
	URL           string `json:"url" yaml:"url"`
	Model         string `json:"model" yaml:"model"`
	RecreateModel string `json:"recreate_model" yaml:"recreate_model"`
}

// ExtractionConfig holds configuration for page transcription and figure
// extraction
type ExtractionConfig struct {
	Padding       float64 `json:"padding" yaml:"padding"`
	MaxPageDim    int     `json:"max_page_dim" yaml:"max_page_dim"`
	SendFormat    string  `json:"send_format" yaml:"send_format"`
	SendMaxDim    int     `json:"send_max_dim" yaml:"send_max_dim"`
	SendQuality   int     `json:"send_quality" yaml:"send_quality"`
	LanguageLevel string  `json:"language_level" yaml:"language_level"`
}

// EditorConfig holds editing defaults
type EditorConfig struct {
	DrawColor       string  `json:"draw_color" yaml:"draw_color"`
	AnnotationColor string  `json:"annotation_color" yaml:"annotation_color"`
	AnnotationSize  float64 `json:"annotation_size" yaml:"annotation_size"`
	HistoryLimit    int     `json:"history_limit" yaml:"history_limit"`
	GraphWidth      int     `json:"graph_width" yaml:"graph_width"`
	GraphHeight     int     `json:"graph_height" yaml:"graph_height"`
	InkThreshold    float64 `json:"ink_threshold" yaml:"ink_threshold"`
}

// OutputConfig holds configuration for output generation
type OutputConfig struct {
	Format    string `json:"format" yaml:"format"`
	Quality   int    `json:"quality" yaml:"quality"`
	Lossless  bool   `json:"lossless" yaml:"lossless"`
	OutputDir string `json:"output_dir" yaml:"output_dir"`
	Prefix    string `json:"prefix" yaml:"prefix"`
}

// BatchConfig controls batch AI requests
type BatchConfig struct {
	Concurrency int `json:"concurrency" yaml:"concurrency"`
	Attempts    int `json:"attempts" yaml:"attempts"`
}

// Default returns a configuration with default values
func Default() *Config {
	return &Config{
		Backend: BackendConfig{
			Kind:  "ollama",
			URL:   "http://localhost:11434",
			Model: "qwen2.5vl:7b",
		},
		Extraction: ExtractionConfig{
			Padding:       15,
			MaxPageDim:    2000,
			SendFormat:    "jpg",
			SendMaxDim:    1600,
			SendQuality:   85,
			LanguageLevel: "clean",
		},
		Editor: EditorConfig{
			DrawColor:       "#000000",
			AnnotationColor: "#000000",
			AnnotationSize:  24,
			HistoryLimit:    50,
			GraphWidth:      800,
			GraphHeight:     600,
			InkThreshold:    0.15,
		},
		Output: OutputConfig{
			Format:    "png",
			Quality:   90,
			OutputDir: "./output",
		},
		Batch: BatchConfig{
			Concurrency: 1,
			Attempts:    2,
		},
	}
}

func isYAML(filename string) bool {
	ext := strings.ToLower(filepath.Ext(filename))
	return ext == ".yaml" || ext == ".yml"
}

// LoadFromFile loads configuration from a JSON or YAML file, chosen by
// extension. Missing fields keep their defaults.
func LoadFromFile(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Default()
	if isYAML(filename) {
		err = yaml.Unmarshal(data, config)
	} else {
		err = json.Unmarshal(data, config)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
}

// SaveToFile saves configuration to a JSON or YAML file
func (c *Config) SaveToFile(filename string) error {
	// Create directory if it doesn't exist
	dir := filepath.Dir(filename)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	var (
		data []byte
		err  error
	)
	if isYAML(filename) {
		data, err = yaml.Marshal(c)
	} else {
		data, err = json.MarshalIndent(c, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	switch c.Backend.Kind {
	case "ollama", "llamacpp":
	default:
		return fmt.Errorf("backend.kind must be ollama or llamacpp, got %q", c.Backend.Kind)
	}

	if c.Backend.Model == "" {
		return fmt.Errorf("backend.model cannot be empty")
	}

	if c.Extraction.Padding < 0 {
		return fmt.Errorf("extraction.padding must not be negative")
	}

	if c.Extraction.SendQuality < 1 || c.Extraction.SendQuality > 100 {
		return fmt.Errorf("extraction.send_quality must be between 1 and 100")
	}

	switch c.Extraction.LanguageLevel {
	case "verbatim", "clean", "expanded":
	default:
		return fmt.Errorf("extraction.language_level must be verbatim, clean or expanded")
	}

	if _, err := annotate.ParseColor(c.Editor.DrawColor); err != nil {
		return fmt.Errorf("editor.draw_color: %w", err)
	}

	if _, err := annotate.ParseColor(c.Editor.AnnotationColor); err != nil {
		return fmt.Errorf("editor.annotation_color: %w", err)
	}

	if c.Editor.AnnotationSize < annotate.MinSize || c.Editor.AnnotationSize > annotate.MaxSize {
		return fmt.Errorf("editor.annotation_size must be between %d and %d", annotate.MinSize, annotate.MaxSize)
	}

	if c.Editor.InkThreshold <= 0 || c.Editor.InkThreshold > 1 {
		return fmt.Errorf("editor.ink_threshold must be between 0 and 1")
	}

	if c.Output.Quality < 1 || c.Output.Quality > 100 {
		return fmt.Errorf("output.quality must be between 1 and 100")
	}

	switch strings.ToLower(c.Output.Format) {
	case "png", "jpg", "jpeg", "webp", "gif", "bmp", "tif", "tiff":
	default:
		return fmt.Errorf("output.format %q is not supported", c.Output.Format)
	}

	if c.Batch.Concurrency < 1 {
		return fmt.Errorf("batch.concurrency must be positive")
	}

	return nil
}

// GetConfigPath returns the default configuration file path
func GetConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "./config.yaml"
	}
	return filepath.Join(home, ".config", "figure-editor", "config.yaml")
}
