package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/vanshika/flashback/internal/config"
	"github.com/vanshika/flashback/internal/domain"
	"github.com/vanshika/flashback/internal/generator"
	"github.com/vanshika/flashback/internal/logging"
	"github.com/vanshika/flashback/internal/service"
	"github.com/vanshika/flashback/internal/store"
)

var errMissingDataset = errors.New("dataset not found")

func main() {
	var (
		datasetDir = flag.String("dataset-dir", "./data", "Directory containing the files written by datagen")
		workers    = flag.Int("workers", 4, "Number of concurrent workers for loading")
	)
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.Logging).With().Str("component", "seed").Logger()

	var (
		users    []map[string]any
		products []map[string]any
		ads      []map[string]any
		reports  []map[string]any
	)
	sources := []struct {
		file   string
		target *[]map[string]any
	}{
		{generator.UsersFile, &users},
		{generator.ProductsFile, &products},
		{generator.AdvertisedItemsFile, &ads},
		{generator.ReportedItemsFile, &reports},
	}
	for _, src := range sources {
		path := filepath.Join(*datasetDir, src.file)
		if err := loadJSON(path, src.target); err != nil {
			logger.Error().Err(err).Str("path", path).Msg("failed to load dataset file")
			os.Exit(1)
		}
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	st, err := store.Open(ctx, store.Options{
		Driver:         cfg.Store.Driver,
		URI:            cfg.Store.URI,
		Database:       cfg.Store.Database,
		Username:       cfg.Store.Username,
		Password:       cfg.Store.Password,
		MaxConnections: cfg.Store.MaxConnections,
		ConnectTimeout: cfg.Store.ConnectTimeout,
	})
	if err != nil {
		logger.Error().Err(err).Str("driver", cfg.Store.Driver).Msg("failed to open store")
		os.Exit(1)
	}
	defer func() {
		if err := st.Close(context.Background()); err != nil {
			logger.Warn().Err(err).Msg("closing store failed")
		}
	}()

	loader := service.NewBulkLoader(service.NewResourceService(st), *workers)
	start := time.Now()

	if err := load(ctx, logger, loader, domain.User, users); err != nil {
		os.Exit(1)
	}

	productIDs, err := loader.Load(ctx, domain.Product, products)
	if err != nil {
		logger.Error().Err(err).Msg("product loading failed")
		os.Exit(1)
	}
	logger.Info().Int("count", len(products)).Msg("loaded products")

	skuToID := make(map[string]string, len(products))
	for i, p := range products {
		if sku, ok := p["sku"].(string); ok {
			skuToID[sku] = productIDs[i]
		}
	}
	relink(ads, "productId", skuToID)
	relink(reports, "reportedProductId", skuToID)

	if err := load(ctx, logger, loader, domain.AdvertisedItem, ads); err != nil {
		os.Exit(1)
	}
	if err := load(ctx, logger, loader, domain.ReportedItem, reports); err != nil {
		os.Exit(1)
	}

	logger.Info().
		Dur("duration", time.Since(start)).
		Int("users", len(users)).
		Int("products", len(products)).
		Int("advertisedItems", len(ads)).
		Int("reportedItems", len(reports)).
		Msg("seeding complete")
}

func load(ctx context.Context, logger zerolog.Logger, loader *service.BulkLoader, entity domain.Entity, payloads []map[string]any) error {
	logger.Info().Str("collection", entity.Collection).Int("count", len(payloads)).Msg("loading")
	if _, err := loader.Load(ctx, entity, payloads); err != nil {
		logger.Error().Err(err).Str("collection", entity.Collection).Msg("loading failed")
		return err
	}
	return nil
}

// relink replaces dataset SKUs in field with the identifiers the store assigned.
func relink(records []map[string]any, field string, skuToID map[string]string) {
	for _, rec := range records {
		sku, _ := rec[field].(string)
		if id, ok := skuToID[sku]; ok {
			rec[field] = id
		}
	}
}

func loadJSON(path string, target any) error {
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: %s", errMissingDataset, path)
		}
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer file.Close()

	if err := json.NewDecoder(file).Decode(target); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}
