package di

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/developerjeremylive-git/my-chat-agent-sub001/internal/assistant"
	"github.com/developerjeremylive-git/my-chat-agent-sub001/internal/chatroom"
	"github.com/developerjeremylive-git/my-chat-agent-sub001/internal/search"
	"github.com/developerjeremylive-git/my-chat-agent-sub001/internal/settings"
	"github.com/developerjeremylive-git/my-chat-agent-sub001/internal/store"
	"github.com/developerjeremylive-git/my-chat-agent-sub001/pkg/config"
	"github.com/developerjeremylive-git/my-chat-agent-sub001/pkg/health"
	"github.com/developerjeremylive-git/my-chat-agent-sub001/pkg/jwt"
	"github.com/developerjeremylive-git/my-chat-agent-sub001/pkg/logger"
	"github.com/developerjeremylive-git/my-chat-agent-sub001/pkg/observability"
	"github.com/developerjeremylive-git/my-chat-agent-sub001/pkg/resilience"
	"github.com/developerjeremylive-git/my-chat-agent-sub001/pkg/secrets"
	"github.com/developerjeremylive-git/my-chat-agent-sub001/pkg/validator"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// searchAPIKeySecret is the secret holding the upstream API key
const searchAPIKeySecret = "SEARCH_API_KEY"

// Container holds all the dependencies for the application
type Container struct {
	Config        *config.Config
	Logger        *logger.Logger
	DB            *gorm.DB
	Store         *store.Store
	Redis         *redis.Client
	Settings      *settings.Service
	Secrets       secrets.Manager
	Breaker       *resilience.CircuitBreaker
	Search        *search.Client
	Assistant     assistant.Assistant
	Hub           *chatroom.Hub
	Health        *health.Checker
	Observability *observability.Provider
	Validator     *validator.OpenAPIValidator
	Verifier      *jwt.Verifier

	closers []func(context.Context) error
}

// New wires every component from cfg. db must already be open.
func New(cfg *config.Config, db *gorm.DB, log *logger.Logger) (*Container, error) {
	c := &Container{Config: cfg, Logger: log, DB: db}

	obs, err := observability.Setup(observability.Config{
		ServiceName:    cfg.Observability.ServiceName,
		TracingEnabled: cfg.Observability.TracingEnabled,
		MetricsEnabled: cfg.Observability.MetricsEnabled,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to set up observability: %w", err)
	}
	c.Observability = obs
	c.closers = append(c.closers, obs.Shutdown)

	c.Store = store.New(db)
	if err := c.Store.AutoMigrate(); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	c.Health = health.NewChecker(log, 30*time.Second)
	c.Health.RegisterPingCheck("database", true, c.Store.Ping)

	kv, err := c.newKV()
	if err != nil {
		return nil, err
	}
	c.Settings = settings.NewService(kv, settings.ChatSettings{Model: cfg.Assistant.DefaultModel})

	c.Secrets, err = c.newSecrets()
	if err != nil {
		return nil, err
	}

	apiKey := cfg.Search.APIKey
	if cfg.Search.URL != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		apiKey = c.Secrets.GetSecretWithDefault(ctx, searchAPIKeySecret, cfg.Search.APIKey)
		cancel()
	}

	c.Breaker = resilience.NewCircuitBreaker(resilience.DefaultConfig("search"), log)
	c.Search = search.NewClient(search.Config{
		URL:            cfg.Search.URL,
		APIKey:         apiKey,
		Timeout:        cfg.Search.Timeout,
		MaxAttempts:    cfg.Search.MaxAttempts,
		InitialBackoff: cfg.Search.InitialBackoff,
		MaxBackoff:     cfg.Search.MaxBackoff,
	}, c.Breaker, log)

	if cfg.Assistant.Enabled {
		c.Assistant = assistant.NewSearchAssistant(c.Search, c.Settings, cfg.Assistant.Timeout, log)
	}

	metrics, err := chatroom.NewMetrics(obs.Meter("chatroom"))
	if err != nil {
		return nil, fmt.Errorf("failed to register room metrics: %w", err)
	}

	// rooms stay relay-only while the assistant is off
	c.Hub = chatroom.NewHub(chatroom.HubConfig{
		Room: chatroom.RoomConfig{
			IdleTimeout:  cfg.Room.IdleTimeout,
			StoreTimeout: cfg.Room.StoreTimeout,
		},
		Socket: chatroom.SocketOptions{
			WriteWait:      cfg.Room.WriteWait,
			PongWait:       cfg.Room.PongWait,
			PingPeriod:     cfg.Room.PingPeriod,
			MaxMessageSize: cfg.Room.MaxMessageSize,
			SendQueueSize:  cfg.Room.SendQueueSize,
		},
		AllowedOrigins: cfg.Security.AllowedOrigins,
	}, c.Store, c.Assistant, metrics, log)
	c.closers = append(c.closers, c.Hub.Shutdown)

	if cfg.OpenAPI.Enabled {
		c.Validator, err = validator.NewOpenAPIValidator()
		if err != nil {
			return nil, fmt.Errorf("failed to load OpenAPI schema: %w", err)
		}
	}

	if cfg.Security.JWTSecret != "" {
		c.Verifier = jwt.NewVerifier(cfg.Security.JWTSecret, 0)
	}

	return c, nil
}

func (c *Container) newKV() (settings.KV, error) {
	if !c.Config.Redis.Enabled {
		c.Logger.Info("Redis disabled, keeping chat settings in memory")
		return settings.NewMemoryKV(), nil
	}

	client := settings.NewRedisClient(settings.RedisOptions{
		Addr:     c.Config.Redis.Addr,
		Password: c.Config.Redis.Password,
		DB:       c.Config.Redis.DB,
	})
	kv := settings.NewRedisKV(client, c.Config.Redis.KeyPrefix)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := kv.Ping(ctx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", c.Config.Redis.Addr, err)
	}

	c.Redis = client
	c.Health.RegisterPingCheck("redis", false, kv.Ping)
	c.closers = append(c.closers, func(context.Context) error { return client.Close() })
	return kv, nil
}

func (c *Container) newSecrets() (secrets.Manager, error) {
	if !c.Config.Vault.Enabled {
		return secrets.EnvManager{}, nil
	}

	vm, err := secrets.NewVaultManager(secrets.VaultConfig{
		Address:     c.Config.Vault.Address,
		Token:       c.Config.Vault.Token,
		Namespace:   c.Config.Vault.Namespace,
		Mount:       c.Config.Vault.Mount,
		SecretsPath: c.Config.Vault.SecretsPath,
	}, c.Logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create vault manager: %w", err)
	}
	c.closers = append(c.closers, func(context.Context) error {
		vm.Close()
		return nil
	})
	return vm, nil
}

// Close releases everything New opened, newest first
func (c *Container) Close(ctx context.Context) error {
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
