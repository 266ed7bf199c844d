package cli

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/Intelligent-Internet/ii-agent/internal/config"
	"github.com/Intelligent-Internet/ii-agent/internal/logger"
	"github.com/Intelligent-Internet/ii-agent/internal/tracing"
	"github.com/Intelligent-Internet/ii-agent/pkg/agent"
	"github.com/Intelligent-Internet/ii-agent/pkg/gateway"
	"github.com/Intelligent-Internet/ii-agent/pkg/plan"
	"github.com/Intelligent-Internet/ii-agent/pkg/session"
	"github.com/Intelligent-Internet/ii-agent/pkg/tools"
	"github.com/Intelligent-Internet/ii-agent/pkg/workspace"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

const defaultSystemPrompt = `You are II Agent, a capable software assistant working inside a
sandboxed workspace. Use the available tools to inspect and modify files,
run commands and track multi-step plans. Think before acting, invoke one
tool at a time and give a clear final answer when the task is done.`

var (
	serveWorkspace       string
	serveLogsPath        string
	serveNeedsPermission bool
	serveContainerID     string
	serveHost            string
	servePort            int
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the agent WebSocket server",
	Long: `Start the agent server. Clients connect over WebSocket, submit queries
and receive the streamed event envelopes. Sessions survive disconnects and
can be resumed by reconnecting with the same session id.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveWorkspace, "workspace", "", "workspace directory the agent operates in")
	serveCmd.Flags().StringVar(&serveLogsPath, "logs-path", "", "log file path")
	serveCmd.Flags().BoolVarP(&serveNeedsPermission, "needs-permission", "p", false, "prompt before running shell commands")
	serveCmd.Flags().StringVar(&serveContainerID, "docker-container-id", "", "route shell commands into this docker container")
	serveCmd.Flags().StringVar(&serveHost, "host", "", "host to bind")
	serveCmd.Flags().IntVar(&servePort, "port", 0, "port to listen on")

	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}

	if cmd.Flags().Changed("workspace") {
		cfg.WorkspacePath = serveWorkspace
	}
	if cmd.Flags().Changed("logs-path") {
		cfg.Logging.File = serveLogsPath
	}
	if cmd.Flags().Changed("needs-permission") {
		cfg.Tools.NeedsPermission = serveNeedsPermission
	}
	if cmd.Flags().Changed("docker-container-id") {
		cfg.Tools.DockerContainerID = serveContainerID
	}
	if cmd.Flags().Changed("host") {
		cfg.Gateway.Host = serveHost
	}
	if cmd.Flags().Changed("port") {
		cfg.Gateway.Port = servePort
	}

	if err := cfg.Validate(); err != nil {
		return err
	}

	appLogger, err := logger.New(logger.Config{
		Level:   cfg.Logging.Level,
		File:    cfg.Logging.File,
		Console: cfg.Logging.Console,
		Pretty:  cfg.Logging.Pretty,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer appLogger.Close()
	log := appLogger.Zerolog()

	if err := tracing.InitOpenTelemetry("ii-agent"); err != nil {
		log.Warn().Err(err).Msg("Failed to initialize tracing")
	}
	defer func() {
		ctx, cancel := shutdownContext()
		defer cancel()
		_ = tracing.ShutdownOpenTelemetry(ctx)
	}()

	ws, err := workspace.NewManager(cfg.WorkspacePath, log)
	if err != nil {
		return err
	}
	if err := ws.Watch(); err != nil {
		log.Warn().Err(err).Msg("Workspace watcher unavailable, snapshots will rescan")
	}
	defer ws.Stop()

	planStore, err := plan.Open(cfg.Plans.DBPath, log)
	if err != nil {
		return err
	}
	defer planStore.Close()

	toolRegistry, err := buildToolRegistry(cfg, ws, planStore, log)
	if err != nil {
		return err
	}

	provider, err := (&agent.ProviderFactory{}).NewProvider(cfg.AI.Provider, cfg.AI.APIKey)
	if err != nil {
		return err
	}

	history, err := session.NewHistoryStore(cfg.Sessions.Dir, log)
	if err != nil {
		return err
	}

	registry := session.NewRegistry(session.Config{
		Provider:       provider,
		Tools:          toolRegistry,
		History:        history,
		Logger:         log,
		Model:          cfg.AI.Model,
		SystemPrompt:   defaultSystemPrompt,
		Temperature:    cfg.AI.Temperature,
		MaxTokens:      cfg.AI.MaxTokens,
		MaxTurns:       cfg.AI.MaxTurns,
		MaxRetries:     cfg.AI.MaxRetries,
		ReplayCapacity: cfg.Sessions.ReplayBuffer,
	})

	janitor := session.NewJanitor(
		history,
		registry,
		time.Duration(cfg.Sessions.CleanupAgeDays)*24*time.Hour,
		cfg.Sessions.CleanupSchedule,
		log,
	)
	if err := janitor.Start(); err != nil {
		return err
	}
	defer janitor.Stop()

	server, err := gateway.NewServer(gateway.Config{
		Host:      cfg.Gateway.Host,
		Port:      cfg.Gateway.Port,
		Registry:  registry,
		Workspace: ws,
		Logger:    log,
	})
	if err != nil {
		return err
	}
	if err := server.Start(); err != nil {
		return err
	}

	log.Info().
		Str("workspace", ws.Root()).
		Str("provider", cfg.AI.Provider).
		Str("model", cfg.AI.Model).
		Msg("Agent is ready")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Info().Str("signal", sig.String()).Msg("Shutting down")

	return server.Stop()
}

func buildToolRegistry(cfg *config.Config, ws *workspace.Manager, planStore *plan.Store, log zerolog.Logger) (*tools.Registry, error) {
	registry := tools.NewRegistry(log)

	var approver tools.Approver
	if cfg.Tools.NeedsPermission {
		approver = promptApproval
	}

	shell := &tools.ShellTool{
		WorkingDir:  ws.Root(),
		ContainerID: cfg.Tools.DockerContainerID,
		Timeout:     time.Duration(cfg.Tools.ShellTimeoutSecs) * time.Second,
		Approve:     approver,
	}

	for _, tool := range []tools.Tool{
		shell,
		&tools.WriteFileTool{Root: ws.Root()},
		&tools.ThinkTool{},
		plan.NewPlannerTool(planStore),
	} {
		if err := registry.Register(tool); err != nil {
			return nil, err
		}
	}

	return registry, nil
}

// promptApproval asks the operator on stdin before a shell command runs.
func promptApproval(command string) bool {
	fmt.Printf("Allow command %q? [y/N]: ", command)
	reader := bufio.NewReader(os.Stdin)
	answer, err := reader.ReadString('\n')
	if err != nil {
		return false
	}
	answer = strings.ToLower(strings.TrimSpace(answer))
	return answer == "y" || answer == "yes"
}

func shutdownContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 5*time.Second)
}
