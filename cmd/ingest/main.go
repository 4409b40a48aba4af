// Command ingest loads signage reference passages into the knowledge
// table so chat replies can be grounded on them. Input is a plain text
// file with passages separated by blank lines.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"signchat/internal/config"
	"signchat/internal/util"
	"signchat/pkg/ai"
	"signchat/pkg/knowledge"
	"signchat/pkg/sink"
)

func main() {
	inputPath := flag.String("input", "", "text file with blank-line separated passages")
	flag.Parse()

	cfg, err := config.Load("")
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger := util.InitLogger(cfg.LogLevel, "signchat-ingest")

	if *inputPath == "" {
		util.Fatal("missing -input flag")
	}
	if !cfg.Knowledge.Enabled || cfg.Database.URL == "" {
		util.Fatal("knowledge retrieval is not configured")
	}

	docs, err := sink.NewDocStore(cfg.Database.URL)
	if err != nil {
		util.Fatal("failed to init document store", "err", err)
	}
	ollama := ai.NewOllamaClient(cfg.Knowledge.OllamaURL)
	embedder := ai.NewOllamaEmbedder(ollama, cfg.Knowledge.EmbeddingModel, cfg.Knowledge.EmbeddingDim)
	retriever, err := knowledge.NewGormRetriever(docs.DB(), embedder, cfg.Knowledge.EmbeddingDim)
	if err != nil {
		util.Fatal("failed to init knowledge retriever", "err", err)
	}

	data, err := os.ReadFile(*inputPath)
	if err != nil {
		util.Fatal("failed to read input", "path", *inputPath, "err", err)
	}

	ctx := context.Background()
	stored := 0
	for _, block := range strings.Split(string(data), "\n\n") {
		passage := strings.TrimSpace(block)
		if passage == "" {
			continue
		}
		if err := retriever.AddChunk(ctx, passage, nil); err != nil {
			util.Fatal("failed to store passage", "err", err)
		}
		stored++
	}
	logger.Info("ingest complete", "passages", stored, "input", *inputPath)
}
