package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fjod/go_cart/cart-service/internal/cache"
	"github.com/fjod/go_cart/cart-service/internal/catalog"
	"github.com/fjod/go_cart/cart-service/internal/config"
	"github.com/fjod/go_cart/cart-service/internal/events"
	"github.com/fjod/go_cart/cart-service/internal/poller"
	"github.com/fjod/go_cart/cart-service/internal/repository"
	"github.com/fjod/go_cart/cart-service/internal/service"
	"github.com/fjod/go_cart/pkg/circuitbreaker"
	"github.com/fjod/go_cart/pkg/logger"
	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker/v2"
	"golang.org/x/sync/errgroup"
)

const startupTimeout = 30 * time.Second

func main() {
	configPath := os.Getenv("CART_CONFIG")
	if configPath == "" {
		configPath = "config.yaml"
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(logger.Options{Service: cfg.Service, Env: cfg.Env, Level: cfg.LogLevel})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	if err := run(cfg, log); err != nil {
		log.Fatal("cart service stopped with error", "error", err)
	}
	log.Info("cart service stopped")
}

func run(cfg *config.Config, log *logger.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	startCtx, cancel := context.WithTimeout(ctx, startupTimeout)
	defer cancel()

	repo, catalogDB, err := openStore(startCtx, cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := repo.Close(); err != nil {
			log.Warn("failed to close cart store", "error", err)
		}
		// the sql stores share the catalog connection and have closed it already
		_ = catalogDB.Close()
	}()

	breakerCfg := circuitbreaker.DefaultConfig("product-catalog")
	breakerCfg.ConsecutiveFailures = cfg.Breaker.ConsecutiveFailures
	breakerCfg.Timeout = cfg.Breaker.Timeout
	breakerCfg.Interval = cfg.Breaker.Interval
	breakerCfg.OnStateChange = func(name string, from, to gobreaker.State) {
		log.Warn("circuit breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
	}
	products := catalog.NewBreakerCatalog(catalog.NewSQLCatalog(catalogDB), breakerCfg)

	opts := []service.Option{service.WithLogger(log)}

	if cfg.Redis.Addr != "" {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()
		if err := redisClient.Ping(startCtx).Err(); err != nil {
			return fmt.Errorf("redis connection failed: %w", err)
		}
		opts = append(opts, service.WithCache(cache.NewRedisCache(redisClient, cfg.Redis.TTL)))
		log.Info("redis cache enabled", "addr", cfg.Redis.Addr)
	}

	var checkoutPoller *poller.Poller
	if len(cfg.Kafka.Brokers) > 0 {
		publisher := events.NewKafkaPublisher(cfg.Kafka.ExpiryTopic, cfg.Kafka.Brokers...)
		defer func() {
			if err := publisher.Close(); err != nil {
				log.Warn("failed to close kafka publisher", "error", err)
			}
		}()
		opts = append(opts, service.WithExpiryNotifier(publisher))
		log.Info("kafka enabled", "brokers", cfg.Kafka.Brokers, "expiry_topic", cfg.Kafka.ExpiryTopic)
	}

	carts := service.NewCartService(repo, products, opts...)

	if len(cfg.Kafka.Brokers) > 0 {
		checkoutPoller = poller.NewPoller(carts, log.With("component", "checkout-poller"),
			cfg.Kafka.CheckoutTopic, cfg.Kafka.ConsumerGroup, cfg.Kafka.Brokers...)
		defer func() {
			if err := checkoutPoller.Close(); err != nil {
				log.Warn("error closing reader", "error", err)
			}
		}()
	}

	g, gctx := errgroup.WithContext(ctx)
	if checkoutPoller != nil {
		g.Go(func() error {
			return checkoutPoller.Run(gctx)
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down cart service")
		return nil
	})

	log.Info("cart service started", "store", string(cfg.Store.Driver))
	return g.Wait()
}

// openStore returns the configured cart store and the database holding the product catalog.
func openStore(ctx context.Context, cfg *config.Config, log *logger.Logger) (repository.CartRepository, *sql.DB, error) {
	switch cfg.Store.Driver {
	case config.StorePostgres:
		pg := cfg.Store.Postgres
		db, err := repository.OpenPostgres(&repository.Credentials{
			Host:     pg.Host,
			Port:     pg.Port,
			User:     pg.User,
			Password: pg.Password,
			DBName:   pg.DBName,
			SSLMode:  pg.SSLMode,
		})
		if err != nil {
			return nil, nil, err
		}
		if err := repository.RunMigrations(db, repository.DialectPostgres); err != nil {
			_ = db.Close()
			return nil, nil, err
		}
		log.Info("connected to postgres", "host", pg.Host, "db", pg.DBName)
		return repository.NewSQLRepository(db, repository.DialectPostgres), db, nil

	case config.StoreSQLite:
		db, err := openSQLite(cfg.Store.SQLite.Path)
		if err != nil {
			return nil, nil, err
		}
		log.Info("opened sqlite database", "path", cfg.Store.SQLite.Path)
		return repository.NewSQLRepository(db, repository.DialectSQLite), db, nil

	case config.StoreMongo:
		mongoDB, err := repository.ConnectMongoDB(ctx, cfg.Store.Mongo.URI, cfg.Store.Mongo.Database)
		if err != nil {
			return nil, nil, err
		}
		repo := repository.NewMongoRepository(mongoDB, cfg.Store.Mongo.MaxAttempts)
		if err := repo.CreateIndexes(ctx); err != nil {
			_ = repo.Close()
			return nil, nil, err
		}
		catalogDB, err := openSQLite(cfg.Store.SQLite.Path)
		if err != nil {
			_ = repo.Close()
			return nil, nil, err
		}
		log.Info("connected to mongodb", "uri", cfg.Store.Mongo.URI, "catalog", cfg.Store.SQLite.Path)
		return repo, catalogDB, nil

	default:
		catalogDB, err := openSQLite(cfg.Store.SQLite.Path)
		if err != nil {
			return nil, nil, err
		}
		log.Warn("using in-memory cart store; carts are lost on restart")
		return repository.NewMemoryRepository(), catalogDB, nil
	}
}

func openSQLite(path string) (*sql.DB, error) {
	db, err := repository.OpenSQLite(path)
	if err != nil {
		return nil, err
	}
	if err := repository.RunMigrations(db, repository.DialectSQLite); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}
