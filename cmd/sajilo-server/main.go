package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kingpin/v2"

	server "github.com/sajilotask/sajilo/internal"
	"github.com/sajilotask/sajilo/internal/category"
	categoryrepo "github.com/sajilotask/sajilo/internal/category/repositoryimpl"
	"github.com/sajilotask/sajilo/internal/config"
	"github.com/sajilotask/sajilo/internal/escrow"
	"github.com/sajilotask/sajilo/internal/eventbus"
	"github.com/sajilotask/sajilo/internal/geoindex"
	"github.com/sajilotask/sajilo/internal/notification"
	pushsubrepo "github.com/sajilotask/sajilo/internal/pushsubscription/repositoryimpl"
	"github.com/sajilotask/sajilo/internal/scheduler"
	"github.com/sajilotask/sajilo/internal/settings"
	"github.com/sajilotask/sajilo/internal/task"
	taskrepo "github.com/sajilotask/sajilo/internal/task/repositoryimpl"
	transactionrepo "github.com/sajilotask/sajilo/internal/transaction/repositoryimpl"
	"github.com/sajilotask/sajilo/internal/user"
	userrepo "github.com/sajilotask/sajilo/internal/user/repositoryimpl"
	"github.com/sajilotask/sajilo/pkg/clog"
	"github.com/sajilotask/sajilo/pkg/storage"
)

var (
	app = kingpin.New("sajilo-server", "Task marketplace server")

	serveCmd = app.Command("serve", "Run the API server and background scheduler").Default()

	seedCmd       = app.Command("seed", "Seed default categories and a demo user set")
	seedAdminID   = seedCmd.Flag("admin-id", "ID of the admin user to create").Default("admin").String()
	seedAdminName = seedCmd.Flag("admin-name", "Display name of the admin user").Default("Administrator").String()
)

func main() {
	command := kingpin.MustParse(app.Parse(os.Args[1:]))

	env, err := config.LoadEnv()
	if err != nil {
		slog.Error("failed to load env", "error", err)
		os.Exit(1)
	}

	// Setup logger
	level := env.SlogLevel()
	var handler slog.Handler
	if env.Env == "local" {
		handler = clog.NewTextHandler(os.Stderr, clog.WithLevel(level))
	} else {
		handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	}
	slog.SetDefault(slog.New(clog.NewAttributesHandler(handler)))

	// Setup storage
	var store storage.Storage
	var localBaseDir string
	switch env.StorageEnv.Type {
	case "s3":
		store, err = storage.NewS3Storage(context.Background(), env.StorageEnv.S3Bucket, env.StorageEnv.S3Prefix, env.StorageEnv.S3Region)
		if err != nil {
			slog.Error("failed to create S3 storage", "error", err)
			os.Exit(1)
		}
	default:
		local, err := storage.NewLocalStorage(env.StorageEnv.BaseDir)
		if err != nil {
			slog.Error("failed to create local storage", "error", err)
			os.Exit(1)
		}
		store = local
		localBaseDir = local.BaseDir()
	}

	switch command {
	case seedCmd.FullCommand():
		if err := seed(context.Background(), store, *seedAdminID, *seedAdminName); err != nil {
			slog.Error("seed failed", "error", err)
			os.Exit(1)
		}
		return
	case serveCmd.FullCommand():
	}

	serve(env, store, localBaseDir)
}

func serve(env *config.Env, store storage.Storage, localBaseDir string) {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	// Setup event bus
	bus := eventbus.New()

	// Setup repositories
	taskRepo := taskrepo.NewYAMLRepository(store)
	userRepo := userrepo.NewYAMLRepository(store)
	categoryRepo := categoryrepo.NewYAMLRepository(store)
	transactionRepo := transactionrepo.NewYAMLRepository(store)
	pushSubRepo := pushsubrepo.NewYAMLRepository(store)

	if err := categoryrepo.Seed(ctx, categoryRepo); err != nil {
		slog.Error("failed to seed categories", "error", err)
		os.Exit(1)
	}

	// Setup settings store
	settingsStore, err := settings.NewStore(ctx, store, settings.Settings{
		PlatformFeePct:  env.MarketEnv.PlatformFeePct,
		DefaultRadiusKm: env.MarketEnv.DefaultRadiusKm,
	})
	if err != nil {
		slog.Error("failed to load settings", "error", err)
		os.Exit(1)
	}
	if localBaseDir != "" {
		go func() {
			if err := settingsStore.Watch(ctx, localBaseDir); err != nil {
				slog.Warn("settings watcher stopped", "error", err)
			}
		}()
	}

	// Setup escrow gateway
	gateway := escrow.NewMockGateway(env.MarketEnv.EscrowIntentTTL)
	go gateway.Start(ctx)

	// Setup geo index, rebuilt from posted tasks
	geo, err := geoindex.New()
	if err != nil {
		slog.Error("failed to create geo index", "error", err)
		os.Exit(1)
	}
	defer geo.Close()
	if err := reindex(ctx, taskRepo, geo); err != nil {
		slog.Error("failed to rebuild geo index", "error", err)
		os.Exit(1)
	}

	// Setup engine
	engine := task.NewEngine(task.EngineConfig{
		Logger:       slog.Default(),
		Tasks:        taskRepo,
		Users:        userRepo,
		Categories:   categoryRepo,
		Transactions: transactionRepo,
		Gateway:      gateway,
		Geo:          geo,
		Settings:     settingsStore,
		Bus:          bus,
		StaleAfter:   env.MarketEnv.StaleAfter,
	})

	// Setup push notification
	vapidEnv := config.VAPIDEnvFromEnv(env)
	pushSender := notification.NewSender(vapidEnv, pushSubRepo)
	pushDispatcher := notification.NewDispatcher(bus, taskRepo, pushSender)
	go pushDispatcher.Start(ctx)

	// Setup scheduler
	sched := scheduler.New(slog.Default(), engine, env.MarketEnv.SchedulerInterval)
	go sched.Start(ctx)

	// Setup servers
	srv := server.NewServer(
		env,
		userRepo,
		task.NewServer(engine),
		category.NewServer(categoryRepo),
		settings.NewServer(settingsStore),
		notification.NewServer(vapidEnv, pushSubRepo),
	)

	go func() {
		if err := srv.ListenAndServe(ctx); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			cancel()
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "error", err)
	}
}

// reindex rebuilds the in-memory geo index from persisted posted tasks.
func reindex(ctx context.Context, repo task.Repository, geo *geoindex.Index) error {
	posted, err := repo.List(ctx, task.Filter{Statuses: []task.Status{task.StatusPosted}})
	if err != nil {
		return err
	}
	for _, t := range posted {
		if err := geo.Add(t); err != nil {
			return err
		}
	}
	slog.Info("geo index rebuilt", "tasks", len(posted))
	return nil
}

// seed installs default categories and a small user set so a fresh install
// has identities to authenticate as.
func seed(ctx context.Context, store storage.Storage, adminID, adminName string) error {
	categoryRepo := categoryrepo.NewYAMLRepository(store)
	if err := categoryrepo.Seed(ctx, categoryRepo); err != nil {
		return err
	}

	userRepo := userrepo.NewYAMLRepository(store)
	users := []*user.User{
		{ID: adminID, Name: adminName, Role: user.RoleAdmin, Tier: user.TierStandard},
		{ID: "demo-requester", Name: "Demo Requester", Role: user.RoleUser, Tier: user.TierStandard},
		{ID: "demo-tasker", Name: "Demo Tasker", Role: user.RoleUser, Tier: user.TierPro},
	}
	for _, u := range users {
		u.RewardsLevel = user.LevelBronze
		u.CreatedAt = time.Now()
		if err := userRepo.Create(ctx, u); err != nil {
			return err
		}
	}
	slog.Info("seeded defaults", "users", len(users))
	return nil
}
