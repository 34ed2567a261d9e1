package cmd

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sunbk201/rulegate/internal/config"
	"github.com/sunbk201/rulegate/internal/inspect"
	"github.com/sunbk201/rulegate/internal/log"
	"github.com/sunbk201/rulegate/internal/plugin"
	"github.com/sunbk201/rulegate/internal/rule"
	"github.com/sunbk201/rulegate/internal/server"
)

var checkCmd = &cobra.Command{
	Use:   "check URL",
	Short: "Show the rules and plugins a request would get",
	Args:  cobra.ExactArgs(1),
	RunE:  runCheck,
}

func init() {
	checkCmd.Flags().StringP("method", "X", http.MethodGet, "Request method")
	checkCmd.Flags().StringArrayP("header", "H", nil, "Request header as 'Name: value'")
}

func runCheck(cmd *cobra.Command, args []string) error {
	cfg, err := config.BuildConfigFromViper()
	if err != nil {
		return fmt.Errorf("config error: %w", err)
	}
	slog.SetDefault(slog.New(log.NewHandler(os.Stderr, log.ParseLevel(cfg.LogLevel))))

	method, _ := cmd.Flags().GetString("method")
	lines, _ := cmd.Flags().GetStringArray("header")
	header := http.Header{}
	for _, line := range lines {
		name, value, ok := strings.Cut(line, ":")
		if !ok || strings.TrimSpace(name) == "" {
			return fmt.Errorf("bad header %q", line)
		}
		header.Add(strings.TrimSpace(name), strings.TrimSpace(value))
	}

	store := rule.NewStore(cfg)
	plugins, err := plugin.FromConfig(cfg.Plugins)
	if err != nil {
		return err
	}
	mgr := plugin.NewManager(store)
	mgr.Replace(plugins)

	e, err := server.Explain(cmd.Context(), inspect.New(store, mgr), strings.ToUpper(method), args[0], header)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(e)
}
