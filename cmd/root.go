package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/sunbk201/rulegate/internal/api"
	"github.com/sunbk201/rulegate/internal/config"
	"github.com/sunbk201/rulegate/internal/daemon"
	"github.com/sunbk201/rulegate/internal/log"
	"github.com/sunbk201/rulegate/internal/metrics"
	"github.com/sunbk201/rulegate/internal/plugin"
	"github.com/sunbk201/rulegate/internal/rule"
	"github.com/sunbk201/rulegate/internal/server"
	"github.com/sunbk201/rulegate/internal/statistics"
)

var (
	AppVersion    = "Development"
	shutdownChain []func() error
)

var rootCmd = &cobra.Command{
	Use:   "rulegate",
	Short: "rulegate is a rule driven HTTP proxy",
	Long:  "rulegate is an HTTP forward proxy that rewrites URLs, headers and bodies of the requests passing through it according to configured rules and plugins.",
	RunE:  runRoot,
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringP("config", "c", "", "Config file path")
	rootCmd.PersistentFlags().String("rules-dir", "", "Directory anchoring rulesFile directives")
	rootCmd.PersistentFlags().String("rules", "", "Rules as a JSON or YAML list")

	rootCmd.Flags().StringP("bind", "b", "", "Bind address")
	rootCmd.Flags().IntP("port", "p", 0, "Port")
	rootCmd.Flags().StringP("log-level", "l", "", "Log level")
	rootCmd.Flags().String("api-server", "", "API server address")
	rootCmd.Flags().String("api-secret", "", "API server secret")
	rootCmd.Flags().Bool("statistics", false, "Dump statistics files")
	rootCmd.Flags().BoolP("version", "v", false, "Show version")
	rootCmd.Flags().BoolP("generate-config", "g", false, "Generate template config file")

	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
	_ = viper.BindPFlag("rules-dir", rootCmd.PersistentFlags().Lookup("rules-dir"))
	_ = viper.BindPFlag("rules-json", rootCmd.PersistentFlags().Lookup("rules"))
	_ = viper.BindPFlag("bind-address", rootCmd.Flags().Lookup("bind"))
	_ = viper.BindPFlag("port", rootCmd.Flags().Lookup("port"))
	_ = viper.BindPFlag("log-level", rootCmd.Flags().Lookup("log-level"))
	_ = viper.BindPFlag("api-server", rootCmd.Flags().Lookup("api-server"))
	_ = viper.BindPFlag("api-server-secret", rootCmd.Flags().Lookup("api-secret"))
	_ = viper.BindPFlag("statistics", rootCmd.Flags().Lookup("statistics"))

	viper.SetEnvPrefix("RULEGATE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	viper.AutomaticEnv()

	_ = viper.BindEnv("rules-json", "RULEGATE_RULES")

	rootCmd.AddCommand(checkCmd)
}

func initConfig() {
	config.SetDefaults()
	configFile := viper.GetString("config")
	if configFile == "" {
		return
	}
	viper.SetConfigFile(configFile)
	if err := viper.MergeInConfig(); err != nil {
		slog.Error("Failed to read config file", slog.Any("error", err))
		os.Exit(1)
	}
}

func runRoot(cmd *cobra.Command, args []string) error {
	if showVer, _ := cmd.Flags().GetBool("version"); showVer {
		fmt.Printf("rulegate version %s\n", AppVersion)
		return nil
	}

	if genConfig, _ := cmd.Flags().GetBool("generate-config"); genConfig {
		if _, err := config.GenerateTemplateConfig(true); err != nil {
			return fmt.Errorf("failed to generate template config: %w", err)
		}
		fmt.Printf("Template config file '%s' generated successfully.\n", config.TemplateFile)
		return nil
	}

	cfg, err := config.BuildConfigFromViper()
	if err != nil {
		return fmt.Errorf("config error: %w", err)
	}

	lb := log.NewBroadcaster()
	log.Setup(cfg.LogLevel, lb)
	log.LogHeader(AppVersion, cfg)
	daemon.Setup()

	ctx, cancel := context.WithCancel(context.Background())
	addShutdown("cancel", func() error { cancel(); return nil })

	store := rule.NewStore(cfg)
	plugins, err := plugin.FromConfig(cfg.Plugins)
	if err != nil {
		slog.Error("plugin.FromConfig", slog.Any("error", err))
		shutdown()
		return err
	}
	mgr := plugin.NewManager(store)
	mgr.Replace(plugins)

	m := metrics.New()
	m.RulesLoaded.Set(float64(store.Engine().Len()))

	var recorder *statistics.Recorder
	if cfg.Statistics {
		recorder = statistics.NewRecorder(log.StatsFilePath)
		recorder.Start(ctx)
	}

	srv := server.New(cfg, store, mgr, recorder, m)
	addShutdown("srv.Close", srv.Close)
	errc := make(chan error, 1)
	go func() { errc <- srv.Start() }()

	var apiSrv *api.APIServer
	if cfg.APIServer != "" {
		apiSrv = api.New(cfg.APIServer, AppVersion, cfg, srv, lb)
		addShutdown("apiSrv.Close", apiSrv.Close)
		if err := apiSrv.Start(); err != nil {
			slog.Error("apiSrv.Start", slog.Any("error", err))
			shutdown()
			return err
		}
	}

	if viper.ConfigFileUsed() != "" {
		viper.OnConfigChange(func(e fsnotify.Event) {
			slog.Info("Config file changed", slog.String("file", e.Name), slog.String("op", e.Op.String()))
			reload(store, mgr, m, apiSrv)
		})
		viper.WatchConfig()
	}

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGHUP, syscall.SIGQUIT, syscall.SIGINT, syscall.SIGTERM)
	for {
		select {
		case err := <-errc:
			if err != nil {
				slog.Error("srv.Start", slog.Any("error", err))
			}
			shutdown()
			return err
		case s := <-signals:
			slog.Info("Received signal", slog.String("signal", s.String()))
			if s == syscall.SIGHUP {
				reload(store, mgr, m, apiSrv)
				continue
			}
			shutdown()
			return nil
		}
	}
}

// reload applies the rules, plugins and log level of the current config.
// Listener and timeout settings need a restart.
func reload(store *rule.Store, mgr *plugin.Manager, m *metrics.Metrics, apiSrv *api.APIServer) {
	cfg, err := config.BuildConfigFromViper()
	if err != nil {
		slog.Error("Config reload rejected", slog.Any("error", err))
		return
	}
	plugins, err := plugin.FromConfig(cfg.Plugins)
	if err != nil {
		slog.Error("Config reload rejected", slog.Any("error", err))
		return
	}
	store.Reload(cfg.Rules)
	mgr.Replace(plugins)
	log.Level.Set(log.ParseLevel(cfg.LogLevel))
	m.RulesLoaded.Set(float64(store.Engine().Len()))
	if apiSrv != nil {
		apiSrv.SetConfig(cfg)
	}
	slog.Info("Config reloaded", slog.Int("rules", store.Engine().Len()), slog.Int("plugins", len(plugins)))
}

func addShutdown(name string, fn func() error) {
	shutdownChain = append(shutdownChain, func() error {
		if err := fn(); err != nil {
			slog.Error(name, slog.Any("error", err))
			return err
		}
		return nil
	})
}

func shutdown() {
	for i := len(shutdownChain) - 1; i >= 0; i-- {
		_ = shutdownChain[i]()
	}
	slog.Info("rulegate exit")
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
