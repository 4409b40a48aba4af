package main

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"signchat/internal/app"
	"signchat/internal/config"
	"signchat/internal/ratelimit"
	"signchat/internal/server"
	"signchat/internal/util"
	"signchat/pkg/ai"
	"signchat/pkg/knowledge"
	"signchat/pkg/rules"
	"signchat/pkg/sink"
	"signchat/pkg/storage"
)

func main() {
	cfg, err := config.Load("")
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := util.InitLogger(cfg.LogLevel, "signchat")

	ruleSet := rules.Default()
	if cfg.RulesPath != "" {
		ruleSet, err = rules.Load(cfg.RulesPath)
		if err != nil {
			util.Fatal("failed to load rules", "err", err)
		}
		logger.Info("loaded policy rules", "path", cfg.RulesPath, "version", ruleSet.Version)
	}

	var generator ai.TextGenerator
	switch cfg.Oracle.Provider {
	case "gemini":
		client, err := ai.NewGeminiClient(cfg.Oracle.APIKey)
		if err != nil {
			util.Fatal("failed to init gemini client", "err", err)
		}
		generator = ai.NewGeminiGenerator(client, cfg.Oracle.Model, cfg.Oracle.MaxTokens)
	default:
		generator = ai.NewOpenAICompatGenerator(cfg.Oracle.BaseURL, cfg.Oracle.APIKey, cfg.Oracle.Model, cfg.Oracle.MaxTokens)
	}

	var docs *sink.DocStore
	if cfg.Database.URL != "" {
		docs, err = sink.NewDocStore(cfg.Database.URL)
		if err != nil {
			logger.Warn("document store disabled", "err", err)
			docs = nil
		}
	}

	var retriever knowledge.Retriever
	if cfg.Knowledge.Enabled && docs != nil {
		ollama := ai.NewOllamaClient(cfg.Knowledge.OllamaURL)
		embedder := ai.NewOllamaEmbedder(ollama, cfg.Knowledge.EmbeddingModel, cfg.Knowledge.EmbeddingDim)
		retriever, err = knowledge.NewGormRetriever(docs.DB(), embedder, cfg.Knowledge.EmbeddingDim)
		if err != nil {
			logger.Warn("knowledge retrieval disabled", "err", err)
			retriever = nil
		}
	}

	var sheet *sink.SheetSink
	if cfg.Sheet.SpreadsheetID != "" {
		rows := sink.NewGoogleSheetsClient(cfg.Sheet.SpreadsheetID, cfg.Sheet.SheetName, cfg.Sheet.Token)
		sheet = sink.NewSheetSink(rows)
	}

	var crm *sink.CRMSink
	if cfg.CRM.Token != "" {
		client := sink.NewCRMClient(cfg.CRM.BaseURL, cfg.CRM.Token)
		crm = sink.NewCRMSink(client, time.Duration(cfg.CRM.CooldownSeconds)*time.Second)
	}

	var notifier sink.Notifier
	if cfg.Webhook.URL != "" {
		notifier, err = sink.NewWebhookNotifier(sink.WebhookOptions{
			URL:           cfg.Webhook.URL,
			Username:      cfg.Webhook.Username,
			Password:      cfg.Webhook.Password,
			SigningSecret: cfg.Webhook.SigningSecret,
		})
		if err != nil {
			logger.Warn("webhook notifier disabled", "err", err)
			notifier = nil
		}
	}

	var uploader storage.AssetUploader
	if cfg.Storage.Endpoint != "" {
		uploader, err = storage.NewMinioAssetStore(
			cfg.Storage.Endpoint, cfg.Storage.AccessKey, cfg.Storage.SecretKey,
			cfg.Storage.Bucket, cfg.Storage.UseSSL)
		if err != nil {
			logger.Warn("logo uploads disabled", "err", err)
			uploader = nil
		}
	}

	var limiter *ratelimit.FixedWindowLimiter
	if cfg.RateLimit.RedisAddr != "" {
		window := time.Duration(cfg.RateLimit.WindowSeconds) * time.Second
		if window <= 0 {
			window = time.Minute
		}
		limiter, err = ratelimit.NewRedisFixedWindowLimiter(
			cfg.RateLimit.RedisAddr, cfg.RateLimit.RedisPassword, "",
			cfg.RateLimit.Limit, window)
		if err != nil {
			logger.Warn("rate limiting disabled", "err", err)
			limiter = nil
		}
	}

	appCore, err := app.New(app.Config{
		Logger:       logger,
		Generator:    generator,
		Retriever:    retriever,
		Rules:        &ruleSet,
		Docs:         docs,
		Sheet:        sheet,
		CRM:          crm,
		Notifier:     notifier,
		Uploader:     uploader,
		HistoryLimit: cfg.Oracle.HistoryLimit,
		TopK:         cfg.Knowledge.TopK,
	})
	if err != nil {
		util.Fatal("failed to init app", "err", err)
	}

	httpServer := server.New(server.Config{
		App:     appCore,
		Limiter: limiter,
	})

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      httpServer.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	slog.Info("chat server listening", "addr", addr,
		"docstore", docs != nil,
		"sheet", sheet != nil,
		"crm", crm != nil,
		"webhook", notifier != nil,
		"storage", uploader != nil,
		"ratelimit", limiter != nil,
	)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server error", "err", err)
	}
}
