// Command agentnode runs one family agent node: the policy-gated tool
// runtime, the embedded memory store, the signed interop bridge, and the HTTP
// control surface, supervised as a single process.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/famlabs/agentnode/pkg/api"
	"github.com/famlabs/agentnode/pkg/approval"
	"github.com/famlabs/agentnode/pkg/backup"
	"github.com/famlabs/agentnode/pkg/config"
	"github.com/famlabs/agentnode/pkg/crypto"
	"github.com/famlabs/agentnode/pkg/fleet"
	"github.com/famlabs/agentnode/pkg/interop"
	"github.com/famlabs/agentnode/pkg/llm"
	"github.com/famlabs/agentnode/pkg/memory"
	"github.com/famlabs/agentnode/pkg/observability"
	"github.com/famlabs/agentnode/pkg/policy"
	"github.com/famlabs/agentnode/pkg/sandbox"
	"github.com/famlabs/agentnode/pkg/scheduler"
	"github.com/famlabs/agentnode/pkg/skills"
	"github.com/famlabs/agentnode/pkg/tools"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "agentnode:", err)
		os.Exit(1)
	}
}

func run() error {
	profileName := flag.String("profile", "", "node profile name (required)")
	repoRoot := flag.String("repo-root", ".", "repository root holding config/ and scripts/")
	dataRoot := flag.String("data-root", "", "data directory root (default $HOME/agentdata)")
	otlpEndpoint := flag.String("otlp-endpoint", os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		"OTLP gRPC endpoint for metrics export")
	checkinTick := flag.Duration("checkin-tick", time.Hour, "how often the check-in loop wakes")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	if *profileName == "" {
		return errors.New("--profile is required")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("resolve home dir: %w", err)
	}
	if *dataRoot == "" {
		*dataRoot = filepath.Join(home, "agentdata")
	}

	profile, err := config.LoadProfile(*repoRoot, *dataRoot, *profileName)
	if err != nil {
		return err
	}
	if err := config.EnsureDirectories(profile.Paths); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	obs, err := observability.New(ctx, observability.Config{
		ServiceName:  "agentnode",
		ProfileName:  profile.Name,
		LogsDir:      profile.Paths.LogsDir,
		OTLPEndpoint: *otlpEndpoint,
		Debug:        *debug,
	})
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = obs.Shutdown(shutdownCtx)
	}()
	log := obs.Logger

	store, err := memory.Open(profile.Paths.DBPath)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	episodic := memory.NewEpisodicStore(store)
	facts := memory.NewFactStore(store)
	messages := memory.NewMessageLog(store)
	usage := memory.NewUsageStore(store)
	vectors := memory.NewVectorStore(store)
	queue := approval.NewQueue(store.DB())

	if err := facts.Set(ctx, "runtime_profile", profile.Name); err != nil {
		return err
	}
	if err := facts.Set(ctx, "policy_tier", profile.PolicyTier); err != nil {
		return err
	}

	engine := policy.NewEngine(profile.AllowedToolTiers)
	sb, err := sandbox.New(profile.Paths.SandboxDir, profile.Paths.BaseDataDir)
	if err != nil {
		return err
	}
	if err := sb.Ensure(); err != nil {
		return err
	}

	registry := tools.NewRegistry(engine, queue, episodic, profile.Name)
	registry.Register(tools.MathTool{})
	registry.Register(tools.NewGetTimeTool(time.Now))
	registry.Register(tools.RequestEmailTool{})
	registry.Register(tools.NewRuntimeDiagnosticsTool(profile.Name))
	registry.Register(tools.NewSandboxListTool(sb))
	registry.Register(tools.NewSandboxReadTextTool(sb))

	sharedKey, err := config.SharedKey(profile.Paths.SecretsDir)
	if err != nil {
		return err
	}
	identityMode, err := config.LoadIdentityMode(profile.Paths.SecretsDir)
	if err != nil {
		return err
	}
	identity, err := crypto.LoadOrGenerateIdentity(profile.Paths.SecretsDir)
	if err != nil {
		return err
	}

	skillsManager, err := skills.NewManager(skills.DefaultPath(home))
	if err != nil {
		return err
	}

	directory := interop.NewDirectory(filepath.Join(*repoRoot, "config", "nodes.yaml"), profile.Name)
	codec := interop.NewCodec(sharedKey, identity, directory)
	bridge := interop.NewBridge(interop.BridgeConfig{
		ProfileName:    profile.Name,
		HealthPort:     profile.HealthPort,
		Directory:      directory,
		Codec:          codec,
		IdentityMode:   identityMode,
		Messages:       messages,
		Logger:         log,
		Metrics:        obs.Metrics,
		SkillsManifest: skillsManager.AsPayload,
	})
	registry.Register(tools.NewDelegateNodeTaskTool(bridge))

	client := llm.NewClientFromSecrets(profile.Paths.SecretsDir, profile.LLMDefaultModel)
	if client != nil {
		registry.Register(tools.NewIdeaSearchTool(client, vectors))
	} else {
		log.Warn("no LLM API key configured, LLM-backed features degraded")
	}
	replier := llm.NewCheckinReplier(client, profile.Name, registry, messages, usage)

	server := api.NewServer(api.ServerConfig{
		Profile:  profile,
		Registry: registry,
		Queue:    queue,
		Episodic: episodic,
		Messages: messages,
		Usage:    usage,
		Bridge:   bridge,
		Replier:  replier,
		Backups:  backup.NewStatusProvider(profile.Paths.LogsDir),
		Fleet:    fleet.NewControlPlane(*repoRoot, profile.HealthPort),
		Logger:   log,
		Metrics:  obs.Metrics,
	})
	httpSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", profile.HealthPort),
		Handler:           server.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	if _, err := episodic.Record(ctx, "agent_boot", map[string]any{
		"profile":       profile.Name,
		"health_port":   profile.HealthPort,
		"identity_mode": string(identityMode),
		"tools":         registry.Names(),
	}, "", "allow"); err != nil {
		return err
	}

	sup := scheduler.NewSupervisor(log)
	sup.AddServer("control-surface", httpSrv)
	loop := scheduler.NewCheckinLoop(bridge, episodic, log, *checkinTick, 24*time.Hour)
	sup.Add("daily-checkin", loop.Run)

	log.Info("node started", "port", profile.HealthPort, "identity_mode", string(identityMode))
	runErr := sup.Run(ctx)

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancelShutdown()
	if _, err := episodic.Record(shutdownCtx, "agent_shutdown",
		map[string]any{"profile": profile.Name}, "", "allow"); err != nil {
		log.Error("record shutdown event", "error", err)
	}
	return runErr
}
