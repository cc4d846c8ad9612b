package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/parishlabs/steeple/internal/auth"
	"github.com/parishlabs/steeple/internal/cache"
	"github.com/parishlabs/steeple/internal/campuses"
	"github.com/parishlabs/steeple/internal/config"
	"github.com/parishlabs/steeple/internal/content"
	"github.com/parishlabs/steeple/internal/database"
	"github.com/parishlabs/steeple/internal/events"
	"github.com/parishlabs/steeple/internal/feeds"
	"github.com/parishlabs/steeple/internal/follows"
	"github.com/parishlabs/steeple/internal/globalid"
	"github.com/parishlabs/steeple/internal/interactions"
	"github.com/parishlabs/steeple/internal/logging"
	"github.com/parishlabs/steeple/internal/node"
	"github.com/parishlabs/steeple/internal/prayer"
	"github.com/parishlabs/steeple/internal/rock"
	"github.com/parishlabs/steeple/internal/server"
)

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "steeple-api",
		Short: "Steeple church community backend service",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}

	setupFlags(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	cmd.PersistentFlags().String("rock-base-url", defaults.GetString("rock.base_url"), "Upstream API base URL")
	cmd.PersistentFlags().String("rock-token", "", "Upstream API token (overrides env)")
	cmd.PersistentFlags().Bool("rock-use-plugin", defaults.GetBool("rock.use_plugin"), "Use the upstream helper plugin endpoints")
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "SQLite database path")
	cmd.PersistentFlags().Int("token-ttl-minutes", defaults.GetInt("auth.token_ttl_minutes"), "Session token TTL in minutes")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("environment", defaults.GetString("environment"), "Deployment environment (development, production)")
	cmd.PersistentFlags().String("signing-secret", "", "Session signing secret (overrides env)")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "rock.base_url", "rock-base-url")
	bindFlag(cmd, "rock.token", "rock-token")
	bindFlag(cmd, "rock.use_plugin", "rock-use-plugin")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "auth.token_ttl_minutes", "token-ttl-minutes")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "environment", "environment")
	bindFlag(cmd, "auth.signing_secret", "signing-secret")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}

	if err := viper.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if cfgFile != "" && errors.As(err, &configNotFound) {
			return err
		}
	}

	return nil
}

func runServer(ctx context.Context) error {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(appConfig.Environment, appConfig.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	db, err := database.Open(appConfig.DatabasePath, logger)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	store := cache.NewStore()

	rockClient, err := rock.NewClient(rock.ClientConfig{
		BaseURL: appConfig.Rock.BaseURL,
		Token:   appConfig.Rock.Token,
		Cache:   store,
		Logger:  logger,
	})
	if err != nil {
		return err
	}

	constants, err := rock.NewConstants(rock.ConstantsConfig{
		Client:     rockClient,
		ModelNames: appConfig.ModelNames,
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	tokenIssuer := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte(appConfig.Auth.SigningSecret),
		Issuer:        appConfig.Auth.Issuer,
		TokenTTL:      appConfig.Auth.TokenTTL,
	})

	authService, err := auth.NewService(auth.ServiceConfig{
		Rock:   rockClient,
		Tokens: tokenIssuer,
		Cache:  store,
		Logger: logger,
	})
	if err != nil {
		return err
	}

	contentSource, err := content.NewSource(content.SourceConfig{
		Rock:      rockClient,
		Content:   appConfig.Content,
		UsePlugin: appConfig.Rock.UsePlugin,
		Logger:    logger,
	})
	if err != nil {
		return err
	}

	eventSource, err := events.NewSource(events.SourceConfig{
		Rock:   rockClient,
		Logger: logger,
	})
	if err != nil {
		return err
	}

	campusSource, err := campuses.NewSource(campuses.SourceConfig{
		Rock:   rockClient,
		Logger: logger,
	})
	if err != nil {
		return err
	}

	prayerService, err := prayer.NewService(prayer.ServiceConfig{
		Database: db,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	followsService, err := follows.NewService(follows.ServiceConfig{
		Database:   db,
		Cache:      store,
		Constants:  constants,
		IDProvider: follows.NewUUIDProvider(),
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	tracker, err := interactions.NewTracker(interactions.TrackerConfig{
		Rock:      rockClient,
		Constants: constants,
		Parents:   contentSource,
		Prayers:   prayerService,
		ContentTypeNames: []string{
			"ContentItem",
			content.TypeUniversal,
			content.TypeDevotional,
			content.TypeWeekend,
			content.TypeMedia,
			content.TypeSeries,
		},
		UsePlugin: appConfig.Rock.UsePlugin,
		Logger:    logger,
	})
	if err != nil {
		return err
	}
	contentSource.BindInteractions(tracker)

	registry, err := feeds.NewRegistry(feeds.RegistryConfig{
		Content: contentSource,
		Events:  eventSource,
		Prayers: prayerService,
		Config:  appConfig.Content,
		Logger:  logger,
	})
	if err != nil {
		return err
	}

	builder, err := feeds.NewBuilder(feeds.BuilderConfig{
		Registry: registry,
		Prayers:  prayerService,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	feedService, err := feeds.NewService(feeds.ServiceConfig{
		Builder: builder,
		Content: contentSource,
		Feeds:   appConfig.Feeds,
		Tabs:    appConfig.AppTabs,
		Logger:  logger,
	})
	if err != nil {
		return err
	}

	nodes := newNodeRegistry(contentSource, prayerService, campusSource, authService, feedService)

	handler, err := server.NewHTTPHandler(server.Dependencies{
		Auth:         authService,
		Feeds:        feedService,
		Follows:      followsService,
		Prayers:      prayerService,
		Interactions: tracker,
		Campuses:     campusSource,
		Nodes:        nodes,
		Logger:       logger,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:    appConfig.HTTPAddress,
		Handler: handler,
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.String("address", appConfig.HTTPAddress))
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-signalCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// newNodeRegistry binds a fetcher for every node type the API hands out ids
// for.
func newNodeRegistry(
	contentSource *content.Source,
	prayerService *prayer.Service,
	campusSource *campuses.Source,
	authService *auth.Service,
	feedService *feeds.Service,
) *node.Registry {
	registry := node.NewRegistry()

	contentFetcher := func(ctx context.Context, localID string) (any, error) {
		itemID, err := strconv.Atoi(localID)
		if err != nil {
			return nil, err
		}
		item, err := contentSource.GetFromID(ctx, itemID)
		if err != nil || item == nil {
			return nil, err
		}
		return item, nil
	}
	for _, typeName := range []string{
		"ContentItem",
		content.TypeUniversal,
		content.TypeDevotional,
		content.TypeWeekend,
		content.TypeMedia,
		content.TypeSeries,
	} {
		registry.Register(typeName, contentFetcher)
	}

	registry.Register("PrayerRequest", func(ctx context.Context, localID string) (any, error) {
		request, err := prayerService.GetFromID(ctx, localID)
		if errors.Is(err, prayer.ErrNotFound) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		return request, nil
	})

	registry.Register("Campus", func(ctx context.Context, localID string) (any, error) {
		campusID, err := strconv.Atoi(localID)
		if err != nil {
			return nil, err
		}
		campus, err := campusSource.GetFromID(ctx, campusID)
		if err != nil || campus == nil {
			return nil, err
		}
		return campus, nil
	})

	registry.Register("Person", func(ctx context.Context, localID string) (any, error) {
		personID, err := strconv.Atoi(localID)
		if err != nil {
			return nil, err
		}
		person, err := authService.PersonByID(ctx, personID)
		if err != nil {
			return nil, err
		}
		return person, nil
	})

	registry.Register("FeatureFeed", func(ctx context.Context, localID string) (any, error) {
		feed, err := feedService.GetFromID(globalid.Encode(localID, "FeatureFeed"))
		if err != nil {
			return nil, err
		}
		return map[string]string{"id": feed.ID()}, nil
	})

	return registry
}
