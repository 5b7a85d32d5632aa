// Package main is the CLI entry point for shieldd.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/focusshield/shieldd/internal/agent"
	"github.com/focusshield/shieldd/internal/config"
	"github.com/focusshield/shieldd/internal/infra"
	"github.com/focusshield/shieldd/internal/policyshield"
	"github.com/focusshield/shieldd/internal/server"
)

var (
	// Version info (set via ldflags)
	Version   = "0.1.0"
	Commit    = "dev"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "shieldd",
	Short: "Focus Shield - host-local, multi-layer distraction blocker",
	Long: `shieldd runs the two processes that make up Focus Shield: a privileged
Enforcement Agent that owns the hosts file and packet filter, and an
unprivileged Control Server that exposes the REST and remote tool
surfaces a user drives blocking policy through.`,
	Version: Version,
}

var agentCmd = &cobra.Command{
	Use:   "agent",
	Short: "Run the Enforcement Agent (requires root)",
	Long:  `Owns the hosts-file and packet-filter surfaces and serves the local IPC socket the Control Server talks to.`,
	RunE:  runAgent,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the Control Server",
	Long:  `Serves the REST API and the bearer-token remote tool surface, relaying mutations to the Enforcement Agent.`,
	RunE:  runServe,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show shield status",
	RunE:  runStatus,
}

var blockCmd = &cobra.Command{
	Use:   "block <domain>",
	Short: "Add a domain to the blocklist",
	Args:  cobra.ExactArgs(1),
	RunE:  runBlock,
}

var unblockCmd = &cobra.Command{
	Use:   "unblock <domain>",
	Short: "Remove a domain from the blocklist",
	Args:  cobra.ExactArgs(1),
	RunE:  runUnblock,
}

var grantCmd = &cobra.Command{
	Use:   "grant <domain>",
	Short: "Grant a temporary allowance for a domain",
	Args:  cobra.ExactArgs(1),
	RunE:  runGrant,
}

var revokeCmd = &cobra.Command{
	Use:   "revoke <domain>",
	Short: "Revoke an active allowance",
	Args:  cobra.ExactArgs(1),
	RunE:  runRevoke,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run:   runVersion,
}

var (
	grantMinutes int
	grantReason  string
	jsonOutput   bool
	controlAddr  string
	configPath   string
)

func init() {
	grantCmd.Flags().IntVar(&grantMinutes, "minutes", 15, "allowance duration in minutes (1-30)")
	grantCmd.Flags().StringVar(&grantReason, "reason", "", "free-text reason recorded with the allowance")
	versionCmd.Flags().BoolVar(&jsonOutput, "json", false, "output version info as JSON")

	rootCmd.PersistentFlags().StringVar(&controlAddr, "control-addr", "http://127.0.0.1:8734", "Control Server base URL")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to a YAML config file")

	rootCmd.AddCommand(agentCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(blockCmd)
	rootCmd.AddCommand(unblockCmd)
	rootCmd.AddCommand(grantCmd)
	rootCmd.AddCommand(revokeCmd)
	rootCmd.AddCommand(versionCmd)
}

func runAgent(cmd *cobra.Command, args []string) error {
	mode := infra.DetectAgentMode()
	if !mode.IsRoot {
		return fmt.Errorf("the enforcement agent must run as root (rewrites /etc/hosts and the packet filter)")
	}

	cfg, err := config.LoadAgentConfig(configPath)
	if err != nil {
		return fmt.Errorf("failed to load agent config: %w", err)
	}

	logger := createLogger("agent")
	defer func() { _ = logger.Sync() }()

	store, err := policyshield.Open(cfg.PolicyPath)
	if err != nil {
		return fmt.Errorf("failed to open policy store: %w", err)
	}

	hosts := infra.NewHostsFileWriter(cfg.HostsPath)
	pf, err := infra.SelectPacketFilterBackend()
	if err != nil {
		return fmt.Errorf("failed to select packet filter backend: %w", err)
	}
	killer := infra.SelectConnectionKiller()
	mirror := infra.NewMirrorStore(cfg.MirrorPath)
	resolver := infra.NewTrustedResolver(cfg.TrustedResolver)
	processManager := infra.NewProcessManager()
	tabs := infra.NewBrowserTabCloser(processManager, logger)

	enricher := infra.NewRangeEnricher(cfg.DataDir)
	infra.EnrichStaticRanges(enricher, logger)
	defer enricher.Close()

	// A distinct key file from the Control Server's bearer token (infra.EnsureKey
	// is idempotent per-file, not per-purpose) — the delay store's SQLCipher key
	// and the REST bearer token must never be the same secret.
	delayKeys := infra.NewFileKeyProvider(filepath.Join(cfg.DataDir, "delay"))
	delayKey, err := infra.EnsureKey(delayKeys)
	if err != nil {
		return fmt.Errorf("failed to provision delay-session encryption key: %w", err)
	}
	delayStore, err := infra.NewEncryptedDelayStore(cfg.DataDir, delayKey)
	if err != nil {
		return fmt.Errorf("failed to open delay-session store: %w", err)
	}
	defer delayStore.Close()

	agentCfg := agent.Config{
		ExpirySweepInterval: cfg.ExpirySweepInterval,
		MirrorSaveInterval:  cfg.MirrorSaveInterval,
	}
	a := agent.New(agentCfg, store, hosts, pf, killer, resolver, tabs, mirror, logger)

	ipcServer := agent.NewServer(cfg.SocketPath, a, store, logger)
	if err := ipcServer.Listen(); err != nil {
		return fmt.Errorf("failed to listen on agent socket: %w", err)
	}
	defer ipcServer.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Info("received shutdown signal")
		cancel()
	}()

	go func() {
		if err := ipcServer.Serve(); err != nil {
			logger.Warn("ipc server stopped", zap.Error(err))
		}
	}()

	return a.Run(ctx)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadServerConfig(configPath)
	if err != nil {
		return fmt.Errorf("failed to load server config: %w", err)
	}

	logger := createLogger("server")
	defer func() { _ = logger.Sync() }()

	agentCfg := config.DefaultAgentConfig()
	store, err := policyshield.Open(agentCfg.PolicyPath)
	if err != nil {
		return fmt.Errorf("failed to open policy store: %w", err)
	}

	agentClient := server.NewAgentClient(cfg.AgentSocket)
	keys := infra.NewFileKeyProvider(agentCfg.DataDir)
	token, err := infra.EnsureKey(keys)
	if err != nil {
		return fmt.Errorf("failed to load or generate bearer token: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Info("received shutdown signal")
		cancel()
	}()

	if err := verifyAgentReachableAndRestore(ctx, agentClient, store); err != nil {
		logger.Warn("agent startup verification failed, continuing anyway", zap.Error(err))
	}

	srv := server.New(store, agentClient, keys, token, logger)
	go server.RunExpirySweep(ctx, srv, cfg.ExpiryInterval)

	httpServer := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: srv.Router(),
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	logger.Info("control server listening", zap.String("addr", cfg.ListenAddr))
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("control server failed: %w", err)
	}
	return nil
}

// verifyAgentReachableAndRestore pings the agent and, if its persisted
// shield flag is on, re-issues blocklist then enable so a server restart
// converges with whatever the agent is already enforcing (spec §4.3
// startup sequence).
func verifyAgentReachableAndRestore(ctx context.Context, client *server.AgentClient, store interface{ Shield() bool }) error {
	if _, err := client.Status(ctx); err != nil {
		return err
	}
	if err := client.Blocklist(ctx, nil); err != nil {
		return err
	}
	if store.Shield() {
		return client.Enable(ctx)
	}
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	var status map[string]any
	if err := controlGet(cmd.Context(), "/status", &status); err != nil {
		return err
	}
	data, _ := json.MarshalIndent(status, "", "  ")
	fmt.Println(string(data))
	return nil
}

func runBlock(cmd *cobra.Command, args []string) error {
	body, _ := json.Marshal(map[string]string{"domain": args[0]})
	return controlPost(cmd.Context(), "/api/block", body, nil)
}

func runUnblock(cmd *cobra.Command, args []string) error {
	return controlDelete(cmd.Context(), "/api/block/"+args[0])
}

func runGrant(cmd *cobra.Command, args []string) error {
	body, _ := json.Marshal(map[string]any{
		"domain":  args[0],
		"minutes": grantMinutes,
		"reason":  grantReason,
	})
	var allowance map[string]any
	if err := controlPost(cmd.Context(), "/api/grant", body, &allowance); err != nil {
		return err
	}
	fmt.Printf("granted %s until %v\n", args[0], allowance["expires_at"])
	return nil
}

func runRevoke(cmd *cobra.Command, args []string) error {
	return controlDelete(cmd.Context(), "/api/grant/"+args[0])
}

func controlGet(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, controlAddr+path, nil)
	if err != nil {
		return err
	}
	return doControlRequest(req, out)
}

func controlPost(ctx context.Context, path string, body []byte, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, controlAddr+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return doControlRequest(req, out)
}

func controlDelete(ctx context.Context, path string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, controlAddr+path, nil)
	if err != nil {
		return err
	}
	return doControlRequest(req, nil)
}

func doControlRequest(req *http.Request, out any) error {
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to reach control server: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("control server returned %d: %s", resp.StatusCode, string(data))
	}
	if out != nil {
		return json.Unmarshal(data, out)
	}
	return nil
}

func createLogger(role string) *zap.Logger {
	cfg := zap.NewProductionConfig()
	cfg.OutputPaths = []string{fmt.Sprintf("/var/tmp/focusshield-%s.log", role)}
	cfg.ErrorOutputPaths = []string{fmt.Sprintf("/var/tmp/focusshield-%s.error.log", role)}
	cfg.EncoderConfig.TimeKey = "time"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := cfg.Build()
	if err != nil {
		logger, _ = zap.NewProduction()
	}
	return logger
}

func runVersion(cmd *cobra.Command, args []string) {
	if jsonOutput {
		fmt.Printf(`{"version":"%s","commit":"%s","build_time":"%s"}`+"\n",
			Version, Commit, BuildTime)
	} else {
		fmt.Printf("shieldd %s (commit: %s, built: %s)\n", Version, Commit, BuildTime)
	}
}
