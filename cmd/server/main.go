package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/ismadtech/invoice-service/internal/ai"
	"github.com/ismadtech/invoice-service/internal/config"
	"github.com/ismadtech/invoice-service/internal/docprep"
	"github.com/ismadtech/invoice-service/internal/export"
	"github.com/ismadtech/invoice-service/internal/extraction"
	"github.com/ismadtech/invoice-service/internal/render"
	"github.com/ismadtech/invoice-service/internal/repository"
	"github.com/ismadtech/invoice-service/internal/server"
	"github.com/ismadtech/invoice-service/internal/storage"
	"github.com/ismadtech/invoice-service/pkg/database"
	"github.com/ismadtech/invoice-service/pkg/utils"
)

func main() {
	// Optional .env for local development; the environment always wins
	_ = godotenv.Load()

	cfg, err := config.Load("configs/config.yaml")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := utils.NewLogger(utils.LoggerConfig{
		Level:      cfg.Logger.Level,
		OutputPath: cfg.Logger.OutputPath,
		Format:     cfg.Logger.Format,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("Starting invoice service",
		zap.String("version", "1.0.0"),
		zap.Int("port", cfg.Server.Port))

	// Initialize database
	db, err := database.New(database.Config{
		Path:            cfg.Database.Path,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	}, logger)
	if err != nil {
		logger.Fatal("Failed to initialize database", zap.Error(err))
	}
	defer db.Close()

	migrator := database.NewMigrator(db, logger)
	if err := migrator.RunMigrations(cfg.Database.MigrationsDir); err != nil {
		logger.Fatal("Failed to run database migrations", zap.Error(err))
	}

	if err := os.MkdirAll(cfg.Storage.UploadDir, 0755); err != nil {
		logger.Fatal("Failed to create upload directory", zap.Error(err))
	}

	// Repositories
	itemRepo := repository.NewItemRepository(db.DB, logger)
	invoiceRepo := repository.NewInvoiceRepository(db, itemRepo, logger)

	// Document analysis pipeline
	analyzer, err := extraction.NewTextractAnalyzer(extraction.AnalyzerConfig{
		Region:          cfg.AWS.Region,
		AccessKeyID:     cfg.AWS.AccessKeyID,
		SecretAccessKey: cfg.AWS.SecretAccessKey,
		Timeout:         cfg.AWS.APITimeout,
	}, logger)
	if err != nil {
		logger.Fatal("Failed to initialize document analyzer", zap.Error(err))
	}

	extractor := extraction.NewExtractor(logger)
	preparer := docprep.NewPreparer(cfg.Storage.EnhanceScans, logger)

	// a typed nil in the interface field would dodge the handler's nil
	// check, so the variable is declared as the interface
	var completer server.DraftCompleter
	if cfg.OpenAI.APIKey != "" {
		completer = ai.NewCompleter(cfg.OpenAI.APIKey, cfg.OpenAI.Model, cfg.OpenAI.Temperature, logger)
	} else {
		logger.Info("AI field completion disabled, no API key configured")
	}

	// Rendering
	canvasRenderer := render.NewCanvasRenderer(cfg.Render.TemplateImage, logger)
	htmlRenderer, err := render.NewHTMLRenderer(
		cfg.Render.HTMLTemplate,
		cfg.Render.TemplateImage,
		cfg.Render.CompanyTIN,
		render.WkhtmltopdfConverter{},
		logger,
	)
	if err != nil {
		logger.Fatal("Failed to initialize HTML renderer", zap.Error(err))
	}

	store := storage.NewLocalFileStorage(cfg.Storage.UploadDir, cfg.Storage.PublicPrefix, logger)
	exporter := export.NewExcelExporter(logger)

	handlers := server.NewHandlers(server.HandlersConfig{
		Invoices:      invoiceRepo,
		Analyzer:      analyzer,
		Extractor:     extractor,
		Completer:     completer,
		Preparer:      preparer,
		Store:         store,
		Canvas:        canvasRenderer,
		HTML:          htmlRenderer,
		Exporter:      exporter,
		InvoicePrefix: cfg.Render.InvoicePrefix,
		TemplateImage: cfg.Render.TemplateImage,
		Logger:        logger,
	})

	srv := server.New(server.Config{
		Host:         cfg.Server.Host,
		Port:         cfg.Server.Port,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}, handlers, logger)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil {
			logger.Fatal("Server failed", zap.Error(err))
		}
	case sig := <-quit:
		logger.Info("Shutting down", zap.String("signal", sig.String()))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("Graceful shutdown failed", zap.Error(err))
	}
	logger.Info("Server stopped")
}
