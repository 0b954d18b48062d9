// Package main is the CLI entry point for Aspy — an in-process observability
// proxy that sits between a coding-assistant client and an Anthropic/OpenAI
// compatible upstream model API.
//
// Architecture overview:
//
//	Client (agent SDK) --> Aspy (:8080) --> Upstream provider
//	                         |                  |
//	                         +-- tee SSE stream -+
//	                         |-- incremental parse (tool calls, usage, thinking)
//	                         |-- redact free-text content
//	                         |-- append-only log + memory store
//	                         |-- context-window augmentation (synthesized frames)
//	                         +-- forward bytes to client, unmodified otherwise
//
// CLI commands (cobra):
//
//	aspy start [-d]      - start the proxy (foreground or daemon)
//	aspy stop            - stop a running proxy
//	aspy status          - show proxy health and aggregate stats
//	aspy sessions        - list known sessions
//	aspy redact test     - test a JSON event against the active redaction rules
//	aspy redact list     - list active redaction rules
//	aspy reindex         - force re-embedding after a model change
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/aspy-proxy/aspy/internal/config"
	"github.com/aspy-proxy/aspy/internal/control"
	"github.com/aspy-proxy/aspy/internal/embedding"
	"github.com/aspy-proxy/aspy/internal/event"
	"github.com/aspy-proxy/aspy/internal/logwriter"
	"github.com/aspy-proxy/aspy/internal/memstore"
	"github.com/aspy-proxy/aspy/internal/memwriter"
	"github.com/aspy-proxy/aspy/internal/pipeline"
	"github.com/aspy-proxy/aspy/internal/pipeline/redact"
	"github.com/aspy-proxy/aspy/internal/pricing"
	"github.com/aspy-proxy/aspy/internal/proxy"
	"github.com/aspy-proxy/aspy/internal/retrieval"
	"github.com/aspy-proxy/aspy/internal/session"
)

// Build-time variables injected via ldflags:
//
//	go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123 -X main.buildDate=2026-02-10"
var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

// defaultConfigDir returns <user-config-dir>/aspy, where config.toml,
// redaction.yaml, the memory database, and the log directory live.
func defaultConfigDir() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ".aspy"
	}
	return filepath.Join(dir, "aspy")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// ============================================================================
// Root command
// ============================================================================

// configDir is the global flag for Aspy's config/state directory.
var configDir string

var rootCmd = &cobra.Command{
	Use:   "aspy",
	Short: "Aspy — observability proxy for coding-assistant model traffic",
	Long: `Aspy sits between a coding-assistant client and an Anthropic/OpenAI
compatible upstream API. It tees every request and response, parses tool
calls and usage out of the stream without buffering it, redacts sensitive
content, and stores a searchable record for later retrieval — all while
passing bytes through to the client unmodified.

Run 'aspy start' to start the proxy.`,
	Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
}

func init() {
	rootCmd.PersistentFlags().StringVar(
		&configDir,
		"config-dir",
		defaultConfigDir(),
		"Path to Aspy's config and state directory",
	)

	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(sessionsCmd)
	rootCmd.AddCommand(redactCmd)
	rootCmd.AddCommand(reindexCmd)
}

func configPath() string    { return filepath.Join(configDir, "config.toml") }
func redactionPath() string { return filepath.Join(configDir, "redaction.yaml") }
func pidFilePath() string   { return filepath.Join(configDir, "aspy.pid") }
func logFilePath() string   { return filepath.Join(configDir, "aspy.log") }

// loadConfig loads config.toml, writing built-in defaults first if the file
// doesn't exist yet — mirrors the teacher's lazy-bootstrap load path.
func loadConfig() (*config.Config, error) {
	if _, err := os.Stat(configPath()); os.IsNotExist(err) {
		if mkErr := os.MkdirAll(configDir, 0o755); mkErr != nil {
			return nil, fmt.Errorf("failed to create config directory %s: %w", configDir, mkErr)
		}
		if writeErr := config.WriteDefault(configPath()); writeErr != nil {
			return nil, fmt.Errorf("failed to write default config: %w", writeErr)
		}
	}
	return config.Load(configPath())
}

// ============================================================================
// aspy start — start the proxy server
// ============================================================================

var daemonMode bool

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the Aspy proxy",
	Long: `Start the Aspy proxy. By default runs in the foreground; use -d to run
detached in the background.

Binds to the address configured in config.toml (default 127.0.0.1:8080).
Proxy traffic and the control API share the same port:
  - Proxy:       http://127.0.0.1:8080/{client}/v1/...
  - Control API: http://127.0.0.1:8080/api/...`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runStart(cmd, args)
	},
}

func init() {
	startCmd.Flags().BoolVarP(&daemonMode, "daemon", "d", false, "Run in daemon/background mode")
}

// runStart wires every subsystem together and serves until a shutdown
// signal arrives. Mirrors the teacher's runStart ordering: daemonize check,
// config load, pipeline construction, storage, the optional indexer, the
// control server, the HTTP mux, the PID file, the config watcher, then
// block on signal/HTTP-shutdown/listener-error.
func runStart(cmd *cobra.Command, args []string) error {
	if daemonMode && os.Getenv("ASPY_DAEMONIZED") != "1" {
		return spawnDaemon()
	}

	if err := os.MkdirAll(configDir, 0o755); err != nil {
		return fmt.Errorf("failed to create config directory %s: %w", configDir, err)
	}

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	redactProcessor, err := redact.NewProcessor(redactionPath())
	if err != nil {
		return fmt.Errorf("failed to initialize redaction processor: %w", err)
	}
	fmt.Printf("[aspy] loaded %d redaction rules\n", redactProcessor.TotalRules())
	stages := pipeline.New(redactProcessor)

	var logw *logwriter.Writer
	if cfg.LogDir != "" {
		logw, err = logwriter.New(cfg.LogDir, 1000)
		if err != nil {
			return fmt.Errorf("failed to initialize log writer: %w", err)
		}
		defer logw.Close()
	}

	var store *memstore.Store
	var memw *memwriter.Writer
	var retrievalEngine *retrieval.Engine
	if cfg.Features.Storage && cfg.Lifestats.Enabled {
		store, err = memstore.Open(cfg.Lifestats.DBPath)
		if err != nil {
			return fmt.Errorf("failed to open memory store: %w", err)
		}
		defer store.Close()

		memw = memwriter.New(store, pricing.DefaultTable(), cfg.Lifestats.ChannelBuffer,
			cfg.Lifestats.BatchSize, time.Duration(cfg.Lifestats.FlushIntervalMs)*time.Millisecond,
			cfg.Lifestats.RetentionDays)
		defer memw.Close()

		retrievalEngine, err = retrieval.Open(cfg.Lifestats.DBPath, 4)
		if err != nil {
			return fmt.Errorf("failed to open retrieval engine: %w", err)
		}
		defer retrievalEngine.Close()
	}

	sessions := session.NewRegistry(500, 30*time.Minute, 4*time.Hour)

	if store != nil {
		stopEmbedding, embedErr := startEmbeddingIndexer(configDir, cfg, store)
		if embedErr != nil {
			return fmt.Errorf("failed to start embedding indexer: %w", embedErr)
		}
		defer stopEmbedding()
	}

	var controlServer *control.Server
	if retrievalEngine != nil {
		controlServer = control.New(control.Options{
			Config:    cfg,
			Sessions:  sessions,
			Retrieval: retrievalEngine,
			MemWriter: memw,
		})
	}

	proxyOpts := proxy.Options{
		Config:    cfg,
		Pipeline:  stages,
		LogWriter: logw,
		MemWriter: memw,
		Sessions:  sessions,
		Pricing:   pricing.DefaultTable(),
		Augmenter: proxy.NewAugmenter(cfg.Augmentation),
	}
	if controlServer != nil {
		proxyOpts.Notify = controlServer.Notify
	}
	proxyServer := proxy.New(proxyOpts)
	if controlServer != nil {
		controlServer.SetProxy(proxyServer)
	}

	sweepCtx, stopSweep := context.WithCancel(context.Background())
	defer stopSweep()
	go runSessionSweep(sweepCtx, sessions, memw, proxyServer)

	mux := http.NewServeMux()
	if controlServer != nil {
		mux.Handle("/api/", controlServer.Handler())
	}
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, `{"status":"ok","version":"%s"}`, version)
	})

	shutdownCh := make(chan struct{}, 1)
	mux.HandleFunc("/shutdown", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "POST only", http.StatusMethodNotAllowed)
			return
		}
		if !isLoopback(r.RemoteAddr) {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, `{"status":"shutting_down"}`)
		select {
		case shutdownCh <- struct{}{}:
		default:
		}
	})
	mux.Handle("/", proxyServer)

	server := &http.Server{
		Addr:              cfg.BindAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		// No ReadTimeout/WriteTimeout — streaming responses from the
		// upstream model can run for minutes on long tool-use turns.
	}

	if err := writePIDFile(pidFilePath()); err != nil {
		return fmt.Errorf("failed to write PID file: %w", err)
	}
	defer removePIDFile(pidFilePath())

	watcher, err := config.NewWatcher(configDir, config.WatchTargets{
		OnRedactionRulesChange: func() {
			if reloadErr := redactProcessor.Reload(); reloadErr != nil {
				fmt.Fprintf(os.Stderr, "[aspy] warning: failed to reload redaction rules: %v\n", reloadErr)
			} else {
				fmt.Println("[aspy] redaction rules reloaded")
			}
		},
	})
	if err != nil {
		return fmt.Errorf("failed to start config watcher: %w", err)
	}
	defer watcher.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		fmt.Printf("[aspy] listening on http://%s\n", cfg.BindAddr)
		if !daemonMode {
			fmt.Println("[aspy] press Ctrl+C to stop")
		}
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		fmt.Println("\n[aspy] shutting down (signal received)...")
	case <-shutdownCh:
		fmt.Println("[aspy] shutting down (stop command received)...")
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if shutdownErr := server.Shutdown(shutdownCtx); shutdownErr != nil {
		fmt.Fprintf(os.Stderr, "[aspy] shutdown error: %v\n", shutdownErr)
	}

	fmt.Println("[aspy] stopped")
	return nil
}

// runSessionSweep periodically ages sessions from active to idle to ended,
// driving the status transitions the control API and memwriter rely on.
// Sessions that transition to ended are persisted with their closing
// aggregates and an ended_at stamp — §3's "session records are persisted
// on close".
func runSessionSweep(ctx context.Context, sessions *session.Registry, memw *memwriter.Writer, proxyServer *proxy.Proxy) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			_, ended := sessions.Sweep(now)
			for _, key := range ended {
				if proxyServer != nil {
					proxyServer.ForgetSession(key)
				}
				if memw == nil {
					continue
				}
				s, ok := sessions.Get(key)
				if !ok {
					continue
				}
				memw.EndSession(s.Key, s.Fingerprint, string(s.Source),
					s.Aggregates.InputTokens+s.Aggregates.OutputTokens, s.Aggregates.CostUSD,
					int64(s.Aggregates.ToolCallCount), int64(s.Aggregates.ThinkingBlockCount))
			}
		}
	}
}

// startEmbeddingIndexer selects the configured embedding provider, runs a
// one-time reindex if the model/dimensions changed since the last run, and
// starts the background indexer loop. Returns a stop function.
func startEmbeddingIndexer(configDir string, cfg *config.Config, store *memstore.Store) (func(), error) {
	statePath := filepath.Join(configDir, "embedding_state.json")

	var provider embedding.Provider
	switch cfg.Embeddings.Provider {
	case "local":
		provider = embedding.LocalProvider{ModelName: cfg.Embeddings.Model, Dims: 0}
	case "remote":
		provider = embedding.NewRemoteProvider(cfg.Embeddings.APIBase, cfg.Embeddings.Model, 0,
			cfg.Embeddings.AuthMethod, cfg.Embeddings.APIKey)
	default:
		provider = embedding.NoopProvider{}
	}

	if cfg.Embeddings.Provider != "disabled" {
		reindexRequired, err := embedding.CheckModel(statePath, provider.Name(), provider.Dimensions())
		if err != nil {
			return nil, fmt.Errorf("failed to check embedding model state: %w", err)
		}
		if reindexRequired {
			fmt.Println("[aspy] embedding model changed, reindexing...")
			if err := embedding.Reindex(store, statePath, provider.Name(), provider.Dimensions()); err != nil {
				return nil, fmt.Errorf("failed to reindex: %w", err)
			}
		}
	}

	pollInterval := time.Duration(cfg.Embeddings.PollIntervalS) * time.Second
	if pollInterval <= 0 {
		pollInterval = 30 * time.Second
	}
	idx := embedding.New(store, provider, provider.Name(), cfg.Embeddings.BatchSize, pollInterval)

	ctx, cancel := context.WithCancel(context.Background())
	go idx.Run(ctx)
	return cancel, nil
}

// spawnDaemon re-executes the aspy binary as a detached background process,
// the standard Go daemonization pattern: the runtime is multi-threaded so a
// raw fork() is unsafe, so the parent instead re-execs itself with
// ASPY_DAEMONIZED=1 and exits.
func spawnDaemon() error {
	if err := os.MkdirAll(configDir, 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	exePath, err := os.Executable()
	if err != nil {
		return fmt.Errorf("failed to find executable path: %w", err)
	}

	logFile, err := os.OpenFile(logFilePath(), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open log file %s: %w", logFilePath(), err)
	}

	daemonArgs := []string{"start"}
	if configDir != defaultConfigDir() {
		daemonArgs = append(daemonArgs, "--config-dir", configDir)
	}

	child := exec.Command(exePath, daemonArgs...)
	child.Stdout = logFile
	child.Stderr = logFile
	child.Env = append(os.Environ(), "ASPY_DAEMONIZED=1")

	if err := child.Start(); err != nil {
		logFile.Close()
		return fmt.Errorf("failed to start daemon: %w", err)
	}

	fmt.Printf("[aspy] started in background (PID %d)\n", child.Process.Pid)
	fmt.Printf("[aspy] log file: %s\n", logFilePath())
	fmt.Println("[aspy] use 'aspy stop' to stop it")

	if err := child.Process.Release(); err != nil {
		fmt.Fprintf(os.Stderr, "[aspy] warning: failed to release child process: %v\n", err)
	}

	logFile.Close()
	return nil
}

func writePIDFile(path string) error {
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644)
}

func removePIDFile(path string) {
	os.Remove(path)
}

// isLoopback restricts the /shutdown endpoint to local callers.
func isLoopback(remoteAddr string) bool {
	host := remoteAddr
	if idx := strings.LastIndex(remoteAddr, ":"); idx != -1 {
		host = remoteAddr[:idx]
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	return host == "127.0.0.1" || host == "::1" || strings.HasPrefix(host, "127.")
}

// ============================================================================
// aspy stop — stop the proxy server
// ============================================================================

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop a running Aspy proxy",
	Long: `Stop a running Aspy proxy. Tries HTTP shutdown first (cross-platform),
then falls back to PID file + SIGTERM on Unix systems.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runStop(cmd, args)
	},
}

func runStop(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	addr := "http://" + cfg.BindAddr

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Post(addr+"/shutdown", "application/json", nil)
	if err == nil {
		defer resp.Body.Close()
		if resp.StatusCode == http.StatusOK {
			fmt.Println("[aspy] stop signal sent")
			os.Remove(pidFilePath())
			return nil
		}
	}

	if runtime.GOOS == "windows" {
		return fmt.Errorf("proxy is not responding at %s — cannot stop", addr)
	}

	pidBytes, err := os.ReadFile(pidFilePath())
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("proxy is not running (no PID file and HTTP unreachable)")
		}
		return fmt.Errorf("failed to read PID file: %w", err)
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(pidBytes)))
	if err != nil {
		return fmt.Errorf("invalid PID in %s: %w", pidFilePath(), err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("failed to find process %d: %w", pid, err)
	}
	if err := process.Signal(syscall.SIGTERM); err != nil {
		os.Remove(pidFilePath())
		return fmt.Errorf("failed to stop proxy (PID %d): %w", pid, err)
	}

	os.Remove(pidFilePath())
	fmt.Printf("[aspy] sent stop signal (PID %d)\n", pid)
	return nil
}

// ============================================================================
// aspy status — show proxy status
// ============================================================================

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show proxy status and aggregate stats",
	Long: `Display whether the Aspy proxy is running and a summary of aggregate
request/token/cost stats across all sessions, queried live from the
running process.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runStatus(cmd, args)
	},
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	addr := "http://" + cfg.BindAddr
	client := &http.Client{Timeout: 2 * time.Second}

	resp, err := client.Get(addr + "/health")
	if err != nil {
		fmt.Println("[aspy] status: NOT RUNNING")
		fmt.Printf("[aspy] expected at: %s\n", addr)
		return nil
	}
	resp.Body.Close()

	fmt.Println("[aspy] status: RUNNING")
	fmt.Printf("[aspy] listening on: %s\n", addr)

	statsResp, err := client.Get(addr + "/api/stats")
	if err != nil {
		fmt.Println("[aspy] could not query stats (control API may be disabled)")
		return nil
	}
	defer statsResp.Body.Close()

	body, err := io.ReadAll(statsResp.Body)
	if err != nil {
		fmt.Println("[aspy] could not read stats")
		return nil
	}
	var stats map[string]any
	if err := json.Unmarshal(body, &stats); err != nil {
		fmt.Println("[aspy] could not parse stats")
		return nil
	}
	fmt.Printf("[aspy] sessions: %v\n", stats["sessions"])
	fmt.Printf("[aspy] totals: %v\n", stats["totals"])
	return nil
}

// ============================================================================
// aspy sessions — list known sessions
// ============================================================================

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List sessions known to a running proxy",
	Long: `List every session the running proxy currently tracks, with its status,
request count, and token/cost totals. Queries the live control API —
requires the proxy to be running.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSessions(cmd, args)
	},
}

func runSessions(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	addr := "http://" + cfg.BindAddr
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(addr + "/api/sessions")
	if err != nil {
		return fmt.Errorf("proxy is not running at %s: %w", addr, err)
	}
	defer resp.Body.Close()

	var sessions []session.Session
	if err := json.NewDecoder(resp.Body).Decode(&sessions); err != nil {
		return fmt.Errorf("failed to decode sessions response: %w", err)
	}

	if len(sessions) == 0 {
		fmt.Println("[aspy] no sessions yet")
		return nil
	}

	fmt.Printf("  %-30s %-10s %-8s %-10s %-10s %-10s\n",
		"SESSION", "STATUS", "REQS", "IN TOK", "OUT TOK", "COST USD")
	for _, s := range sessions {
		fmt.Printf("  %-30s %-10s %-8d %-10d %-10d %-10.4f\n",
			s.Key, s.Status, s.Aggregates.RequestCount,
			s.Aggregates.InputTokens, s.Aggregates.OutputTokens, s.Aggregates.CostUSD)
	}
	return nil
}

// ============================================================================
// aspy redact — inspect and test redaction rules
// ============================================================================

var redactCmd = &cobra.Command{
	Use:   "redact",
	Short: "Inspect and test redaction rules",
}

var redactListCmd = &cobra.Command{
	Use:   "list",
	Short: "List active redaction rules",
	RunE: func(cmd *cobra.Command, args []string) error {
		processor, err := redact.NewProcessor(redactionPath())
		if err != nil {
			return fmt.Errorf("failed to load redaction rules: %w", err)
		}
		rules := processor.ListRules()
		fmt.Printf("[aspy] %d active rules\n", len(rules))
		for _, r := range rules {
			origin := "builtin"
			if r.Custom {
				origin = "custom"
			}
			fmt.Printf("  %-30s %-8s %s\n", r.Name, r.Action, origin)
		}
		return nil
	},
}

var redactTestCmd = &cobra.Command{
	Use:   "test <json>",
	Short: "Test a tool call against the active redaction rules",
	Long: `Test a tool call JSON object against the current redaction rule set and
print the result with any matching rule's rewrite applied.

Example:
  aspy redact test '{"tool_name":"bash","input":{"command":"cat ~/.ssh/id_rsa"}}'`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var call struct {
			ToolID   string         `json:"tool_id"`
			ToolName string         `json:"tool_name"`
			Input    map[string]any `json:"input"`
		}
		if err := json.Unmarshal([]byte(args[0]), &call); err != nil {
			return fmt.Errorf("failed to parse tool call JSON: %w", err)
		}

		processor, err := redact.NewProcessor(redactionPath())
		if err != nil {
			return fmt.Errorf("failed to load redaction rules: %w", err)
		}

		in := event.Event{
			Kind: event.KindToolCall,
			Payload: event.ToolCall{
				ToolID:   call.ToolID,
				ToolName: call.ToolName,
				Input:    call.Input,
			},
		}
		result, err := processor.Process(context.Background(), event.Context{}, in)
		if err != nil {
			return fmt.Errorf("failed to evaluate redaction rules: %w", err)
		}

		out, err := json.MarshalIndent(result.Event.Payload, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to encode result: %w", err)
		}
		fmt.Println(string(out))
		return nil
	},
}

func init() {
	redactCmd.AddCommand(redactListCmd)
	redactCmd.AddCommand(redactTestCmd)
}

// ============================================================================
// aspy reindex — force a full re-embedding pass
// ============================================================================

var reindexCmd = &cobra.Command{
	Use:   "reindex",
	Short: "Force re-embedding of stored content",
	Long: `Mark every stored message, thinking block, and tool I/O record as needing
re-embedding. Use this after changing embeddings.model or embeddings.provider
in config.toml — the background indexer picks the backlog up on its next
poll once the proxy is restarted.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		store, err := memstore.Open(cfg.Lifestats.DBPath)
		if err != nil {
			return fmt.Errorf("failed to open memory store: %w", err)
		}
		defer store.Close()

		statePath := filepath.Join(configDir, "embedding_state.json")
		if err := embedding.Reindex(store, statePath, cfg.Embeddings.Model, 0); err != nil {
			return fmt.Errorf("failed to reindex: %w", err)
		}
		fmt.Println("[aspy] reindex requested — restart the proxy to process the backlog")
		return nil
	},
}
