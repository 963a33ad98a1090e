package main

import (
	"context"
	"fmt"
	"time"

	"github.com/joho/godotenv"

	"kite-trading-bot/internal/broker/zerodha"
	"kite-trading-bot/internal/exchange"
	"kite-trading-bot/internal/health"
	"kite-trading-bot/internal/interfaces"
	"kite-trading-bot/internal/logger"
	"kite-trading-bot/internal/login"
	"kite-trading-bot/internal/secrets"
	"kite-trading-bot/internal/session"
	"kite-trading-bot/internal/session/sessionobs"
	"kite-trading-bot/internal/store"
	"kite-trading-bot/internal/trace"
	"kite-trading-bot/internal/types"
	"kite-trading-bot/internal/webdriver"
)

// initializeSystem initializes environment, logger, and tracer.
func initializeSystem() error {
	_ = godotenv.Load()

	if err := logger.Init(); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	if err := trace.Init(); err != nil {
		return fmt.Errorf("failed to initialize tracer: %w", err)
	}
	return nil
}

// loadConfig loads and returns the configuration
func loadConfig(ctx context.Context) (*store.Config, error) {
	cfg, err := store.LoadConfig("config.yaml")
	if err != nil {
		logger.ErrorWithErr(ctx, "Failed to load config", err)
		return nil, err
	}
	return cfg, nil
}

// loadCredentials loads the credential bundle, logging only its redacted form.
func loadCredentials(ctx context.Context) (*secrets.CredentialBundle, error) {
	bundle, err := secrets.Load()
	if err != nil {
		logger.ErrorWithErr(ctx, "Failed to load credentials", err)
		return nil, err
	}
	logger.Info(ctx, "Credentials loaded", "bundle", bundle.Redacted())
	return bundle, nil
}

// initializeAuthenticator wires the driver provisioner, the browser factory,
// the token exchanger, and the login pipeline together.
func initializeAuthenticator(ctx context.Context, cfg *store.Config, bundle *secrets.CredentialBundle) interfaces.Authenticator {
	prov := webdriver.NewProvisioner(cfg.Driver.CacheDir, cfg.Driver.SHA256)
	factory := webdriver.NewFactory(prov, webdriver.FactoryConfig{
		BrowserBinary: cfg.Driver.BrowserBinary,
		Headless:      cfg.Driver.Headless,
		MaxAttempts:   cfg.Driver.MaxAttempts,
	})

	exchanger := exchange.New(bundle)

	return login.NewPipeline(factory, exchanger, bundle, login.Config{
		LoginURL:            cfg.Auth.LoginURL,
		TokenParam:          cfg.Auth.TokenParam,
		MaxAttempts:         cfg.Auth.MaxAttempts,
		StageTimeout:        cfg.StageTimeout(),
		BackoffInitial:      time.Duration(cfg.Auth.BackoffInitialMs) * time.Millisecond,
		BackoffMax:          time.Duration(cfg.Auth.BackoffMaxMs) * time.Millisecond,
		LockoutPatterns:     cfg.Auth.LockoutPatterns,
		InvalidCodePatterns: cfg.Auth.InvalidCodePatterns,
	})
}

// initializeSession builds the session manager, adopting a cached token from
// the environment when it is still inside its validity window.
func initializeSession(ctx context.Context, cfg *store.Config, bundle *secrets.CredentialBundle, auth interfaces.Authenticator) (*session.Manager, interfaces.TokenProvider) {
	var seed *types.Session
	if bundle.HasCachedToken(time.Now()) {
		logger.Info(ctx, "Adopting cached access token", "expires_at", bundle.CachedTokenExpiry)
		seed = &types.Session{
			AccessToken: bundle.CachedToken,
			IssuedAt:    time.Now(),
			ExpiresAt:   bundle.CachedTokenExpiry,
			State:       types.StateValid,
		}
	}

	mgr := session.NewManager(auth, session.Config{
		SafetyMargin: cfg.SafetyMargin(),
		Seed:         seed,
	})

	// Wrap with observability middleware
	return mgr, sessionobs.Wrap(mgr)
}

// initializeBroker initializes the downstream trading client.
func initializeBroker(ctx context.Context, cfg *store.Config, bundle *secrets.CredentialBundle, tokens interfaces.TokenProvider) interfaces.Broker {
	if cfg.Mode == "DRY_RUN" {
		logger.Warn(ctx, "Running in DRY_RUN mode - orders will be simulated")
	}
	return zerodha.NewZerodha(zerodha.Params{
		Mode:     cfg.Mode,
		APIKey:   bundle.APIKey,
		Exchange: cfg.Exchange,
	}, tokens)
}

// initializeHealth builds the periodic session-validity probe.
func initializeHealth(cfg *store.Config, brk interfaces.Broker, tokens interfaces.TokenProvider) *health.Checker {
	return health.NewChecker(brk, tokens, time.Duration(cfg.Health.IntervalSeconds)*time.Second)
}

// watchSessionEvents forwards session state transitions to the log stream,
// where an external notification channel can pick them up.
func watchSessionEvents(ctx context.Context, mgr *session.Manager) {
	events := mgr.Events()
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case ev := <-events:
				logger.SessionStatus(ctx, string(ev.State), ev.Reason, "at", ev.At)
			}
		}
	}()
}
