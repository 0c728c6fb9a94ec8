// Binary seed-catalog loads gzipped JSON-lines catalog dumps into the
// products table and provisions an API key for storefront access.
package main

import (
	"bufio"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	pgzip "github.com/klauspost/pgzip"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/freshcart/internal/domain/auth"
	"github.com/xenking/freshcart/internal/domain/product"
	"github.com/xenking/freshcart/internal/repository"
)

// productLine is one JSON-lines record in a catalog dump.
type productLine struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Price decimal.Decimal `json:"price"`
	Stock int             `json:"stock"`
}

func main() {
	var (
		databaseURL  string
		catalogDir   string
		apiKey       string
		apiKeyPepper string
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&catalogDir, "catalog-dir", "data", "directory containing catalog *.jsonl.gz dumps")
	flag.StringVar(&apiKey, "api-key", "", "API key to seed (or FRESHCART_SEED_API_KEY env)")
	flag.StringVar(&apiKeyPepper, "api-key-pepper", "", "HMAC pepper for API key hashing (or FRESHCART_API_KEY_PEPPER env)")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}
	if apiKey == "" {
		apiKey = os.Getenv("FRESHCART_SEED_API_KEY")
	}
	if apiKeyPepper == "" {
		apiKeyPepper = os.Getenv("FRESHCART_API_KEY_PEPPER")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, databaseURL, catalogDir, apiKey, apiKeyPepper); err != nil {
		slog.Error("seed failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("seed completed successfully")
}

func run(ctx context.Context, databaseURL, catalogDir, apiKey, pepper string) error {
	slog.Info("connecting to database")

	pool, err := repository.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	slog.Info("running migrations")

	if err := repository.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	products := repository.NewProductRepository(pool)

	if err := seedCatalog(ctx, products, catalogDir); err != nil {
		return errors.Wrap(err, "seed catalog")
	}

	if apiKey != "" {
		apikeys := repository.NewAPIKeyRepository(pool)
		if err := seedAPIKey(ctx, apikeys, apiKey, pepper); err != nil {
			return errors.Wrap(err, "seed api key")
		}
	}

	return nil
}

// seedCatalog upserts every product found in the dump files, one goroutine
// per file. Upserts are idempotent, so re-running the seeder refreshes
// prices and stock without duplicating rows.
func seedCatalog(ctx context.Context, products *repository.ProductRepository, dir string) error {
	files, err := filepath.Glob(filepath.Join(dir, "*.jsonl.gz"))
	if err != nil {
		return errors.Wrap(err, "glob catalog dir")
	}
	if len(files) == 0 {
		return errors.Errorf("no *.jsonl.gz files in %s", dir)
	}

	g, ctx := errgroup.WithContext(ctx)
	for _, path := range files {
		g.Go(func() error {
			n, err := seedFile(ctx, products, path)
			if err != nil {
				return errors.Wrapf(err, "seed %s", path)
			}
			slog.Info("seeded catalog file",
				slog.String("path", path),
				slog.Int("products", n),
			)
			return nil
		})
	}
	return g.Wait()
}

func seedFile(ctx context.Context, products *repository.ProductRepository, path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, errors.Wrap(err, "open")
	}
	defer f.Close()

	gz, err := pgzip.NewReader(f)
	if err != nil {
		return 0, errors.Wrap(err, "gzip reader")
	}
	defer gz.Close()

	count := 0
	sc := bufio.NewScanner(gz)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}

		var p productLine
		if err := json.Unmarshal(line, &p); err != nil {
			return count, errors.Wrapf(err, "parse line %d", count+1)
		}
		if p.ID == "" || p.Name == "" {
			return count, errors.Errorf("line %d: id and name are required", count+1)
		}

		if err := products.Upsert(ctx, product.Product{
			ID:    p.ID,
			Name:  p.Name,
			Price: p.Price,
			Stock: p.Stock,
		}); err != nil {
			return count, err
		}
		count++
	}
	if err := sc.Err(); err != nil {
		return count, errors.Wrap(err, "scan")
	}
	return count, nil
}

func seedAPIKey(ctx context.Context, apikeys *repository.APIKeyRepository, key, pepper string) error {
	mac := hmac.New(sha256.New, []byte(pepper))
	mac.Write([]byte(key))
	hash := hex.EncodeToString(mac.Sum(nil))

	info := auth.APIKeyInfo{
		ID:      uuid.NewString(),
		KeyHash: hash,
		Name:    "seed",
		Scopes:  []string{"storefront"},
	}
	if err := apikeys.InsertAPIKey(ctx, info); err != nil {
		return err
	}

	slog.Info("seeded api key", slog.String("name", info.Name))
	return nil
}
