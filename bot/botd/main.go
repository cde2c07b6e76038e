package main

import (
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/joho/godotenv/autoload"

	"github.com/presbrey/ircbot/bot"
	"github.com/presbrey/ircbot/bot/admind"
	"github.com/presbrey/ircbot/bot/config"
	"github.com/presbrey/ircbot/stats"
	"github.com/presbrey/ircbot/tunnel"
)

func main() {
	// Define command-line flags
	configPath := flag.String("config", "", "configuration file or URL (yaml/toml/json)")
	adminAddr := flag.String("admin", "", "admin API bind address (overrides config)")
	connect := flag.Bool("connect", false, "connect to all servers after startup")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	// Pull in .env files from the working directory and its parents
	config.LoadEnvFiles()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	settings := cfg.Settings()
	if *debug {
		settings.Debug = true
	}

	serverConfigs, err := cfg.ServerConfigs()
	if err != nil {
		log.Fatalf("Invalid server configuration: %v", err)
	}

	// Log startup configuration
	log.Printf("Starting %s with the following configuration:", settings.Nick)
	log.Printf("Servers: %d", len(serverConfigs))
	log.Printf("Auto-connect: %v", settings.AutoConnect || *connect)
	log.Printf("Admin API: %v", cfg.Admin.Enabled)
	log.Printf("Word stats: %v", cfg.Stats.Enabled)
	log.Printf("Debug logging: %v", settings.Debug)

	manager := bot.NewManager(settings)
	manager.LoadConfigurations(serverConfigs...)

	// Route SSH-tunneled servers through their jump hosts
	dialers := wireTunnels(manager, cfg, serverConfigs)
	defer func() {
		for _, d := range dialers {
			d.Close()
		}
	}()

	if cfg.Stats.Enabled {
		if err := wireStats(manager, cfg); err != nil {
			log.Fatalf("Failed to start word stats: %v", err)
		}
	}

	var admin *admind.Server
	if cfg.Admin.Enabled {
		addr := cfg.AdminAddr()
		if *adminAddr != "" {
			addr = *adminAddr
		}
		admin = admind.New(manager, admind.Config{
			Addr:           addr,
			BearerTokens:   cfg.Admin.BearerTokens,
			MetricsAddr:    cfg.MetricsAddr(),
			AnnounceServer: cfg.Admin.AnnounceServer,
			AnnounceTarget: cfg.Admin.AnnounceTarget,
		})
		go func() {
			if err := admin.Start(); err != nil && err != http.ErrServerClosed {
				log.Printf("Admin API error: %v", err)
			}
		}()
	}

	if !manager.Start() {
		log.Fatal("No servers to manage, exiting")
	}
	if *connect && !settings.AutoConnect {
		manager.Connect()
	}

	// Wait for termination signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	log.Println("Bot is running. Press Ctrl+C to stop.")
	<-sigChan
	log.Println("Shutdown signal received, stopping...")

	manager.Stop("")
	if admin != nil {
		if err := admin.Stop(); err != nil {
			log.Printf("Error stopping admin API: %v", err)
		}
	}
	stats.CloseAll()

	log.Println("Bot stopped. Goodbye!")
}

// wireTunnels installs an SSH dialer on every server configured with a
// jump host. Returns the dialers so they can be closed at shutdown.
func wireTunnels(manager *bot.Manager, cfg *config.Config, serverConfigs []bot.ServerConfig) []*tunnel.Dialer {
	var dialers []*tunnel.Dialer
	for i, server := range cfg.Servers {
		if server.SSH == nil || i >= len(serverConfigs) {
			continue
		}
		name := serverConfigs[i].Name
		conn, ok := manager.GetConn(name)
		if !ok {
			continue
		}

		tcfg := tunnel.Config{
			User:           server.SSH.User,
			Password:       server.SSH.Password,
			PrivateKey:     server.SSH.PrivateKey,
			PrivateKeyPath: server.SSH.PrivateKeyPath,
			Host:           server.SSH.Host,
			Port:           server.SSH.Port,
		}
		d := tunnel.New(tcfg)
		conn.SetDialFunc(d.Dial)
		dialers = append(dialers, d)
		log.Printf("Routing %s through SSH jump host %s", name, tcfg.Addr())
	}
	return dialers
}

// wireStats opens the statistics database and hooks the word tracker
// into the manager as a message handler plus a flush task.
func wireStats(manager *bot.Manager, cfg *config.Config) error {
	db, err := stats.Open(cfg.Stats.DSN)
	if err != nil {
		return err
	}

	tracker, err := stats.New(db, stats.Options{
		FlushInterval: cfg.StatsFlushInterval(),
		IgnorePrefix:  cfg.Stats.IgnorePrefix,
		TrackedWords:  cfg.Stats.TrackedWords,
	})
	if err != nil {
		return err
	}

	manager.RegisterCallbacks(bot.HandlerSet{Message: tracker.HandleMessage})
	manager.AddTask("stats-flush", tracker.Run)
	return nil
}
