package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/lingomate/backend/internal/accounts"
	"github.com/lingomate/backend/internal/auth"
	"github.com/lingomate/backend/internal/chat"
	"github.com/lingomate/backend/internal/chat/stream"
	"github.com/lingomate/backend/internal/config"
	"github.com/lingomate/backend/internal/db"
	"github.com/lingomate/backend/internal/friends"
	"github.com/lingomate/backend/internal/handlers"
	"github.com/lingomate/backend/internal/middleware"
	"github.com/lingomate/backend/internal/repositories"
	"github.com/lingomate/backend/internal/storage"
)

const authLimiterTTL = 10 * time.Minute

// openStore connects the repositories selected by cfg.Store.
func openStore(ctx context.Context, cfg config.Config, logger *slog.Logger) (repositories.Store, error) {
	switch cfg.Store {
	case config.StorePostgres:
		pool, err := db.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		return repositories.NewPostgresStore(pool), nil
	case config.StoreMongo:
		store, err := repositories.NewMongoStore(ctx, cfg.MongoURL, cfg.MongoDatabase)
		if err != nil {
			return nil, err
		}
		if err := store.EnsureIndexes(ctx); err != nil {
			_ = store.Close(ctx)
			return nil, err
		}
		return store, nil
	case config.StoreMemory:
		logger.Warn("using in-memory store, data will not survive a restart")
		return repositories.NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unsupported store %q", cfg.Store)
	}
}

// newChatProvider returns the Stream adapter, or an unavailable provider when
// credentials are missing so the rest of the API keeps working.
func newChatProvider(cfg config.StreamConfig, logger *slog.Logger) chat.Provider {
	if !cfg.Configured() {
		logger.Warn("stream credentials missing, chat features are disabled")
		return chat.Unavailable{}
	}
	provider, err := stream.New(cfg.APIKey, cfg.APISecret)
	if err != nil {
		logger.Warn("stream client unavailable, chat features are disabled", "error", err)
		return chat.Unavailable{}
	}
	return provider
}

// buildDependencies wires together concrete implementations used by the HTTP handlers.
func buildDependencies(ctx context.Context, store repositories.Store, cfg config.Config, logger *slog.Logger) (handlers.Dependencies, error) {
	issuer, err := auth.NewIssuer(cfg.JWTSecret, cfg.SessionTTL)
	if err != nil {
		return handlers.Dependencies{}, fmt.Errorf("configure sessions: %w", err)
	}

	bridge := chat.NewBridge(newChatProvider(cfg.Stream, logger))

	var opts []accounts.Option
	if cfg.Avatars.Enabled() {
		avatars, err := storage.NewAvatarStorage(ctx, cfg.Avatars)
		if err != nil {
			return handlers.Dependencies{}, fmt.Errorf("configure avatar storage: %w", err)
		}
		opts = append(opts, accounts.WithAvatarStore(avatars))
	}

	var limiter middleware.RateLimiter
	if cfg.AuthRateLimit > 0 {
		limiter = middleware.NewIPRateLimiter(cfg.AuthRateLimit, time.Minute, cfg.AuthRateLimit, authLimiterTTL)
	}

	return handlers.Dependencies{
		Accounts:      accounts.NewService(store.Users(), bridge, opts...),
		Sessions:      issuer,
		Tokens:        issuer,
		Friends:       friends.NewService(store.Users(), store.Friends()),
		Chat:          bridge,
		Users:         store.Users(),
		AuthLimiter:   limiter,
		SecureCookies: cfg.IsProduction(),
	}, nil
}
