package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/appleboy/graceful"

	"github.com/go-pulsedash/pulsedash/internal/api"
	"github.com/go-pulsedash/pulsedash/internal/browser"
	"github.com/go-pulsedash/pulsedash/internal/cache"
	"github.com/go-pulsedash/pulsedash/internal/callback"
	"github.com/go-pulsedash/pulsedash/internal/config"
	"github.com/go-pulsedash/pulsedash/internal/handshake"
	"github.com/go-pulsedash/pulsedash/internal/metrics"
	"github.com/go-pulsedash/pulsedash/internal/models"
	"github.com/go-pulsedash/pulsedash/internal/registry"
	"github.com/go-pulsedash/pulsedash/internal/scheduler"
	"github.com/go-pulsedash/pulsedash/internal/session"
	"github.com/go-pulsedash/pulsedash/internal/version"
)

func main() {
	showVersion := flag.Bool("version", false, "Show version information")
	flag.BoolVar(showVersion, "v", false, "Show version information (shorthand)")
	flag.Usage = printUsage
	flag.Parse()

	if *showVersion {
		version.PrintVersion()
		os.Exit(0)
	}

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	switch args[0] {
	case "agent":
		runAgent()
	case "connect":
		if len(args) < 2 {
			fmt.Println("connect requires a provider key, e.g. `pulsedash connect youtube`")
			os.Exit(1)
		}
		runConnect(args[1])
	case "status":
		runStatus()
	default:
		fmt.Printf("Unknown command: %s\n\n", args[0])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Printf("Usage: %s [OPTIONS] COMMAND\n\n", os.Args[0])
	fmt.Println("Social media dashboard agent")
	fmt.Println("\nCommands:")
	fmt.Println("  agent              Run the refresh daemon with the callback server")
	fmt.Println("  connect PROVIDER   Link a social media account")
	fmt.Println("  status             Show connections and their latest stats")
	fmt.Println("\nOptions:")
	fmt.Println("  -v, --version    Show version information")
	fmt.Println("  -h, --help       Show this help message")
}

// app holds the wired components shared by every subcommand.
type app struct {
	cfg         *config.Config
	metrics     metrics.Recorder
	client      *api.Client
	session     *session.Store
	registry    *registry.Registry
	bridge      *handshake.Bridge
	coordinator *handshake.Coordinator
	server      *callback.Server
	snapshots   cache.Cache[models.WidgetSnapshot]
	scheduler   *scheduler.Scheduler
}

func newApp() *app {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	rec := metrics.Init(cfg.MetricsEnabled)
	if cfg.MetricsEnabled {
		log.Println("Prometheus metrics initialized")
	} else {
		log.Println("Metrics disabled (using noop implementation)")
	}

	client, err := api.New(cfg.APIBaseURL,
		api.WithTimeout(cfg.APITimeout),
		api.WithRetry(cfg.APIMaxRetries, cfg.APIRetryDelay, cfg.APIMaxRetryDelay),
		api.WithInsecureSkipVerify(cfg.InsecureSkipVerify),
		api.WithMetrics(rec),
	)
	if err != nil {
		log.Fatalf("Failed to create API client: %v", err)
	}

	sess := session.New(client,
		session.WithMetrics(rec),
		session.WithForcedLogoutHook(func() {
			log.Println("Session invalidated by backend, re-authentication required")
		}),
	)

	reg := registry.New(client, terminalConfirmer())

	var snapshots cache.Cache[models.WidgetSnapshot]
	switch cfg.CacheType {
	case config.CacheTypeRedis:
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		snapshots, err = cache.NewRueidisCache[models.WidgetSnapshot](
			ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, "pulsedash")
		if err != nil {
			log.Fatalf("Failed to connect snapshot cache: %v", err)
		}
		log.Printf("Snapshot cache: redis (%s)", cfg.RedisAddr)
	default:
		snapshots = cache.NewMemoryCache[models.WidgetSnapshot]()
		log.Println("Snapshot cache: memory")
	}

	bridge := handshake.NewBridge(cfg.AllowedOrigins, rec)
	coordinator := handshake.NewCoordinator(client, bridge, browser.New(), reg,
		handshake.WithMetrics(rec))

	server, err := callback.New(cfg, client, bridge, rec)
	if err != nil {
		log.Fatalf("Failed to create callback server: %v", err)
	}

	sched := scheduler.New(reg.FetchSnapshot,
		scheduler.WithCache(snapshots, cfg.SnapshotTTL),
		scheduler.WithMetrics(rec),
	)

	return &app{
		cfg:         cfg,
		metrics:     rec,
		client:      client,
		session:     sess,
		registry:    reg,
		bridge:      bridge,
		coordinator: coordinator,
		server:      server,
		snapshots:   snapshots,
		scheduler:   sched,
	}
}

// authenticate establishes a session from a pre-issued token or the
// configured credentials.
func (a *app) authenticate(ctx context.Context) error {
	if a.cfg.AccessToken != "" {
		a.session.SetToken(a.cfg.AccessToken)
		return a.session.FetchProfile(ctx)
	}
	if a.cfg.Email != "" && a.cfg.Password != "" {
		return a.session.Login(ctx, a.cfg.Email, a.cfg.Password)
	}
	return fmt.Errorf("no credentials configured: set ACCESS_TOKEN or EMAIL and PASSWORD")
}

// terminalConfirmer asks on stdin before destructive operations.
func terminalConfirmer() registry.Confirmer {
	reader := bufio.NewReader(os.Stdin)
	return registry.ConfirmFunc(func(prompt string) bool {
		fmt.Printf("%s [y/N]: ", prompt)
		line, err := reader.ReadString('\n')
		if err != nil {
			return false
		}
		answer := strings.ToLower(strings.TrimSpace(line))
		return answer == "y" || answer == "yes"
	})
}

func runAgent() {
	a := newApp()
	m := graceful.NewManager()

	// Callback server
	m.AddRunningJob(func(ctx context.Context) error {
		return a.server.Run(ctx)
	})

	// Refresh loops
	m.AddRunningJob(func(ctx context.Context) error {
		if err := a.authenticate(ctx); err != nil {
			return err
		}
		if user := a.session.Current().User; user != nil {
			log.Printf("Authenticated as %s", user.Email)
		}

		if _, err := a.registry.FetchConnections(ctx); err != nil {
			return err
		}
		if err := a.registry.FetchWidgetPreferences(ctx); err != nil {
			log.Printf("Widget preferences unavailable, using defaults: %v", err)
		}

		widgets := a.registry.EnabledWidgets()
		log.Printf("Scheduling %d widget(s)", len(widgets))
		for _, w := range widgets {
			interval := time.Duration(w.Preference.RefreshInterval) * time.Minute
			if interval <= 0 {
				interval = a.cfg.DefaultRefreshInterval
			}
			a.scheduler.Start(w.Connection.ID, w.Connection.Provider, interval, nil)
		}

		<-ctx.Done()
		return nil
	})

	m.AddShutdownJob(func() error {
		log.Println("Stopping refresh loops...")
		a.scheduler.StopAll()
		return nil
	})

	m.AddShutdownJob(func() error {
		if err := a.snapshots.Close(); err != nil {
			log.Printf("Error closing snapshot cache: %v", err)
			return err
		}
		return nil
	})

	<-m.Done()
}

func runConnect(provider string) {
	a := newApp()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := a.authenticate(ctx); err != nil {
		log.Fatalf("Authentication failed: %v", err)
	}

	// The callback server must be up before the browser round-trip starts.
	serverCtx, cancelServer := context.WithCancel(context.Background())
	defer cancelServer()
	serverErr := make(chan error, 1)
	go func() { serverErr <- a.server.Run(serverCtx) }()

	fmt.Printf("Connecting %s, complete the consent flow in your browser...\n", provider)
	conn, err := a.coordinator.Connect(ctx, provider)
	if err != nil {
		log.Fatalf("Connect failed: %v", err)
	}

	if conn != nil {
		fmt.Printf("Connected %s account %q (connection %s)\n",
			conn.ProviderName, conn.Username, conn.ID)
	} else {
		fmt.Println("Handshake completed; connection list refreshed")
	}

	cancelServer()
	if err := <-serverErr; err != nil {
		log.Printf("Callback server error: %v", err)
	}
}

func runStatus() {
	a := newApp()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := a.authenticate(ctx); err != nil {
		log.Fatalf("Authentication failed: %v", err)
	}

	conns, err := a.registry.FetchConnections(ctx)
	if err != nil {
		log.Fatalf("Failed to fetch connections: %v", err)
	}
	if err := a.registry.FetchWidgetPreferences(ctx); err != nil {
		log.Printf("Widget preferences unavailable, using defaults: %v", err)
	}

	if len(conns) == 0 {
		fmt.Println("No connected accounts. Use `pulsedash connect PROVIDER` to link one.")
		return
	}

	for _, w := range a.registry.Widgets() {
		state := "enabled"
		if !w.Preference.IsEnabled {
			state = "disabled"
		}
		fmt.Printf("%s  %s (%s, %s, every %dm)\n",
			w.Connection.ID, w.Preference.CustomLabel,
			w.Connection.Provider, state, w.Preference.RefreshInterval)

		if !w.Preference.IsEnabled {
			continue
		}
		snap, err := a.scheduler.Snapshot(ctx, w.Connection.ID)
		if err != nil {
			fmt.Printf("    stats unavailable: %v\n", err)
			continue
		}
		for _, metric := range snap.Metrics {
			fmt.Printf("    %-16s %s\n", metric.Name, metric.FormattedValue)
		}
	}
}
