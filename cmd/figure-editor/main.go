package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	figureeditor "github.com/menta2k/figure-editor"
	"github.com/menta2k/figure-editor/internal/config"
	"github.com/menta2k/figure-editor/internal/logging"
	"github.com/menta2k/figure-editor/internal/utils"
	"github.com/menta2k/figure-editor/pkg/processing"
	"github.com/menta2k/figure-editor/pkg/types"
)

// manifestEntry describes one written figure
type manifestEntry struct {
	types.FigureUpdate
	File  string `json:"file"`
	Bytes int    `json:"bytes"`
}

func main() {
	var cfgPath, outDir, model, url, ext, backend, level, script, prefix string
	var quality, concurrency int
	var lossless, debug, verbose bool
	var padding float64

	var dbgext string
	var dbgquality int

	flag.StringVar(&cfgPath, "config", "", "config file (yaml or json), defaults to "+config.GetConfigPath()+" when present")
	flag.StringVar(&outDir, "out", "", "output directory")
	flag.StringVar(&model, "model", "", "vision model name")
	flag.StringVar(&backend, "backend", "", "backend to use: ollama or llamacpp")
	flag.StringVar(&url, "url", "", "server URL (defaults: ollama=http://localhost:11434, llamacpp=http://localhost:8080)")
	flag.StringVar(&level, "level", "", "transcription language level: verbatim|clean|expanded")
	flag.Float64Var(&padding, "padding", -1, "margin around figure boxes in page pixels")

	flag.StringVar(&script, "script", "", "edit script to replay before saving (yaml or json)")
	flag.IntVar(&concurrency, "concurrency", 0, "parallel requests for recreate-all")

	flag.StringVar(&ext, "ext", "", "output format for figures: png|jpg|webp")
	flag.IntVar(&quality, "quality", 0, "JPEG/WebP output quality for figures (1-100)")
	flag.BoolVar(&lossless, "lossless", false, "WebP output lossless mode for figures")
	flag.StringVar(&prefix, "prefix", "", "file name prefix for written figures")

	flag.BoolVar(&debug, "debug", false, "write figure box overlays for every page")
	flag.StringVar(&dbgext, "dbgext", "png", "debug overlay format: png|jpg|webp")
	flag.IntVar(&dbgquality, "dbgquality", 92, "debug overlay quality (for jpg/webp)")
	flag.BoolVar(&verbose, "v", false, "verbose logging")

	flag.Parse()
	inputs := flag.Args()
	if len(inputs) == 0 {
		log.Fatalf("usage: %s [-config file] [-backend ollama|llamacpp] [-url server_url] [-script edits.yaml] [-out outdir] [-ext png|jpg|webp] page.jpg|dir|URL ...", filepath.Base(os.Args[0]))
	}

	if verbose {
		logging.SetLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug})))
	}

	cfg, err := loadConfig(cfgPath)
	if err != nil {
		log.Fatal(err)
	}

	// Flags override the config file
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "out":
			cfg.Output.OutputDir = outDir
		case "model":
			cfg.Backend.Model = model
		case "backend":
			cfg.Backend.Kind = backend
			if url == "" && backend == "llamacpp" {
				cfg.Backend.URL = "http://localhost:8080"
			}
		case "url":
			cfg.Backend.URL = url
		case "level":
			cfg.Extraction.LanguageLevel = level
		case "padding":
			cfg.Extraction.Padding = padding
		case "concurrency":
			cfg.Batch.Concurrency = concurrency
		case "ext":
			cfg.Output.Format = ext
		case "quality":
			cfg.Output.Quality = quality
		case "lossless":
			cfg.Output.Lossless = lossless
		case "prefix":
			cfg.Output.Prefix = prefix
		}
	})

	ed, err := figureeditor.NewFromConfig(cfg)
	if err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}
	if err := utils.EnsureDir(cfg.Output.OutputDir); err != nil {
		log.Fatal(err)
	}

	var ops []Op
	if script != "" {
		if ops, err = LoadScript(script); err != nil {
			log.Fatal(err)
		}
	}

	ctx := context.Background()
	doc, err := ed.LoadDocument(ctx, inputs)
	if err != nil {
		log.Fatal(err)
	}
	log.Printf("transcribed %d pages, %d figures", len(doc.Pages), len(doc.Figures))

	if debug {
		processor := processing.NewProcessor()
		for i, overlay := range ed.DebugOverlays(doc) {
			path := filepath.Join(cfg.Output.OutputDir, fmt.Sprintf("%03d_page_boxes.%s", i+1, strings.ToLower(dbgext)))
			if err := processor.SaveImage(overlay, path, dbgext, dbgquality, false); err != nil {
				log.Printf("debug overlay save failed: %v", err)
			} else {
				log.Printf("wrote %s", path)
			}
		}
	}

	name := utils.DocumentName(inputs[0])
	htmlPath := filepath.Join(cfg.Output.OutputDir, name+".html")
	if len(doc.Figures) == 0 {
		writeFile(htmlPath, []byte(doc.HTML()))
		log.Printf("no figures to edit")
		return
	}

	s, err := ed.NewSession(doc)
	if err != nil {
		log.Fatal(err)
	}
	if len(ops) > 0 {
		err := Replay(ctx, s, ops, Defaults{
			AnnotationColor: cfg.Editor.AnnotationColor,
			AnnotationSize:  cfg.Editor.AnnotationSize,
			DrawColor:       cfg.Editor.DrawColor,
			Concurrency:     cfg.Batch.Concurrency,
		})
		if err != nil {
			log.Fatalf("edit script failed: %v", err)
		}
		log.Printf("replayed %d edit steps", len(ops))
	}

	updates, err := ed.Save(doc, s)
	if err != nil {
		log.Fatalf("save failed: %v", err)
	}

	manifest := make([]manifestEntry, 0, len(updates))
	for _, u := range updates {
		path := utils.FigureFilename(cfg.Output.OutputDir, cfg.Output.Prefix, u.FigureID, u.Format)
		writeFile(path, u.Data)
		manifest = append(manifest, manifestEntry{FigureUpdate: u, File: filepath.Base(path), Bytes: len(u.Data)})
	}

	js, _ := json.MarshalIndent(manifest, "", "  ")
	writeFile(filepath.Join(cfg.Output.OutputDir, name+"_figures.json"), js)
	writeFile(htmlPath, []byte(doc.HTML()))
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		if def := config.GetConfigPath(); utils.FileExists(def) {
			path = def
		}
	}
	if path == "" {
		return config.Default(), nil
	}
	return config.LoadFromFile(path)
}

func writeFile(path string, data []byte) {
	if err := os.WriteFile(path, data, 0o644); err != nil {
		log.Fatalf("write %s: %v", path, err)
	}
	log.Printf("wrote %s (%s)", path, utils.FormatFileSize(int64(len(data))))
}
