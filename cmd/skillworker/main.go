// Package main implements the skill worker: the process that runs goal
// cycles against hired agent instances, dispatching Act-phase calls to
// registered skill-executor agents over A2A. It shares the governor's
// audit/approval/budget databases but owns no HTTP surface of its own.
package main

import (
	"context"
	"database/sql"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"govcore/internal/approval"
	"govcore/internal/audit"
	"govcore/internal/budget"
	"govcore/internal/certification"
	"govcore/internal/execution"
	"govcore/internal/logging"
	"govcore/internal/notify"
	"govcore/internal/policy"
	"govcore/internal/precedent"
	"govcore/internal/subscription"
	"govcore/internal/toolregistry"

	_ "modernc.org/sqlite"
)

type config struct {
	auditDBPath    string
	budgetDBPath   string
	certDBPath     string
	precedentDBPath string
	subscriptionDB string
	platformPolicy string
	tenantPolicy   string
	anthropicModel string
	anthropicKey   string
	agentEndpoints string // comma-separated skill_key=base_url pairs, used when toolRegistryPath is unset
	toolRegistryPath string
	dispatchSocket string
	budgetWebhookURL string
}

func main() {
	var cfg config
	flag.StringVar(&cfg.auditDBPath, "audit-db", envOrDefault("GOVCORE_AUDIT_DB", "audit.db"), "path to the shared audit database")
	flag.StringVar(&cfg.budgetDBPath, "budget-db", envOrDefault("GOVCORE_BUDGET_DB", "budget.db"), "path to the shared budget database")
	flag.StringVar(&cfg.certDBPath, "cert-db", envOrDefault("GOVCORE_CERT_DB", "certification.db"), "path to the shared certification registry database")
	flag.StringVar(&cfg.precedentDBPath, "precedent-db", envOrDefault("GOVCORE_PRECEDENT_DB", "precedent.db"), "path to the precedent seed database")
	flag.StringVar(&cfg.subscriptionDB, "subscription-db", envOrDefault("GOVCORE_SUBSCRIPTION_DB", "subscription.db"), "path to the shared instance subscription database")
	flag.StringVar(&cfg.platformPolicy, "platform-policy", envOrDefault("GOVCORE_PLATFORM_POLICY", ""), "path to the L0 platform policy YAML bundle")
	flag.StringVar(&cfg.tenantPolicy, "tenant-policy", envOrDefault("GOVCORE_TENANT_POLICY", ""), "path to the L1 tenant policy YAML bundle")
	flag.StringVar(&cfg.anthropicModel, "think-model", envOrDefault("GOVCORE_THINK_MODEL", "claude-sonnet-4-5"), "model used for the Think phase")
	flag.StringVar(&cfg.anthropicKey, "anthropic-key", os.Getenv("ANTHROPIC_API_KEY"), "Anthropic API key for the Think phase")
	flag.StringVar(&cfg.agentEndpoints, "agent-endpoints", envOrDefault("GOVCORE_AGENT_ENDPOINTS", ""), "comma-separated skill_key=base_url pairs for tool dispatch, used when -tool-registry is unset")
	flag.StringVar(&cfg.toolRegistryPath, "tool-registry", envOrDefault("GOVCORE_TOOL_REGISTRY", ""), "path to a JSON skill-executor inventory (skill_key, base_url, tags)")
	flag.StringVar(&cfg.dispatchSocket, "dispatch-socket", envOrDefault("GOVCORE_DISPATCH_SOCKET", "/tmp/govcore-dispatch.sock"), "unix socket this worker reads goal dispatch requests from")
	flag.StringVar(&cfg.budgetWebhookURL, "budget-webhook", envOrDefault("GOVCORE_BUDGET_WEBHOOK", ""), "webhook URL notified at the 95% budget gate")

	remaining := logging.InitLogging(os.Args[1:])
	flag.CommandLine.Parse(remaining) //nolint:errcheck

	auditStore, err := audit.NewStore(audit.StoreConfig{DBPath: cfg.auditDBPath})
	if err != nil {
		slog.Error("failed to open audit store", "err", err)
		os.Exit(1)
	}
	defer auditStore.Close()

	approvalStore, err := approval.NewStore(auditStore.DB(), auditStore)
	if err != nil {
		slog.Error("failed to open approval store", "err", err)
		os.Exit(1)
	}

	budgetDB, err := sql.Open("sqlite", cfg.budgetDBPath)
	if err != nil {
		slog.Error("failed to open budget database", "err", err)
		os.Exit(1)
	}
	defer budgetDB.Close()
	budgetNotifier := notify.NewWebhookNotifier(cfg.budgetWebhookURL)
	accountant, err := budget.NewAccountant(budgetDB, false, auditStore, budgetNotifier)
	if err != nil {
		slog.Error("failed to create budget accountant", "err", err)
		os.Exit(1)
	}

	layers := map[policy.Layer]*policy.Config{
		policy.LayerPlatform: loadOrDefault(cfg.platformPolicy, policy.LayerPlatform, policy.DefaultPlatformConfig),
		policy.LayerTenant:   loadOrDefault(cfg.tenantPolicy, policy.LayerTenant, policy.DefaultTenantConfig),
	}
	policyEngine := policy.NewEngine(policy.EngineConfig{Layers: layers, DefaultEffect: policy.EffectDeny})

	certDB, err := sql.Open("sqlite", cfg.certDBPath)
	if err != nil {
		slog.Error("failed to open certification database", "err", err)
		os.Exit(1)
	}
	defer certDB.Close()
	certRegistry, err := certification.NewRegistry(certDB, false)
	if err != nil {
		slog.Error("failed to create certification registry", "err", err)
		os.Exit(1)
	}

	precedentDB, err := sql.Open("sqlite", cfg.precedentDBPath)
	if err != nil {
		slog.Error("failed to open precedent database", "err", err)
		os.Exit(1)
	}
	defer precedentDB.Close()
	precedentStore, err := precedent.NewStore(precedentDB, false)
	if err != nil {
		slog.Error("failed to create precedent store", "err", err)
		os.Exit(1)
	}

	subDB, err := sql.Open("sqlite", cfg.subscriptionDB)
	if err != nil {
		slog.Error("failed to open subscription database", "err", err)
		os.Exit(1)
	}
	defer subDB.Close()
	subStore, err := subscription.NewStore(subDB, false)
	if err != nil {
		slog.Error("failed to create subscription store", "err", err)
		os.Exit(1)
	}

	endpoints, err := loadEndpoints(cfg)
	if err != nil {
		slog.Error("failed to load skill-executor endpoints", "err", err)
		os.Exit(1)
	}
	tools := execution.NewA2AToolAdapter(endpoints)

	var thinker *execution.Thinker
	var knowledge execution.KnowledgeLookup
	if cfg.anthropicKey != "" {
		thinker = execution.NewThinker(cfg.anthropicModel, cfg.anthropicKey)
		knowledge = &execution.PrecedentKnowledge{Seeds: precedentStore, Domain: &execution.ThinkerKnowledge{Thinker: thinker}}
	} else {
		slog.Warn("no Anthropic API key configured, Think phase and domain knowledge lookups will be skipped for every step")
		knowledge = &execution.PrecedentKnowledge{Seeds: precedentStore}
	}

	planner := &execution.CertificationPlanner{Registry: certRegistry, DefaultEstimatedCost: 0.01}

	engine := execution.NewEngine(execution.Config{
		Policy:        policyEngine,
		Budget:        accountant,
		Approval:      approvalStore,
		Audit:         auditStore,
		Thinker:       thinker,
		Tools:         tools,
		Knowledge:     knowledge,
		Subscriptions: subStore,
		Precedents:    precedentStore,
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		slog.Info("shutting down skill worker...")
		cancel()
	}()

	scanSource := &precedent.AuditScanSource{Audit: auditStore, Subscriptions: subStore}
	go precedent.RunDailyLearner(ctx, precedentStore, scanSource, 7*24*time.Hour, 24*time.Hour)

	slog.Info("skill worker started", "agent_endpoints", len(endpoints))
	runDispatchLoop(ctx, cfg.dispatchSocket, planner, engine)
	<-ctx.Done()
	slog.Info("skill worker stopped")
}

func loadOrDefault(path string, layer policy.Layer, fallback func() *policy.Config) *policy.Config {
	if path == "" {
		return fallback()
	}
	cfg, err := policy.LoadFile(path, layer)
	if err != nil {
		slog.Error("failed to load policy bundle, falling back to built-in default", "layer", layer, "err", err)
		return fallback()
	}
	return cfg
}

// loadEndpoints prefers a JSON tool registry (which carries per-skill tags
// for routing) and falls back to the flat comma-separated flag.
func loadEndpoints(cfg config) (map[string]string, error) {
	if cfg.toolRegistryPath == "" {
		return parseEndpoints(cfg.agentEndpoints), nil
	}
	registry, err := toolregistry.Load(cfg.toolRegistryPath)
	if err != nil {
		return nil, err
	}
	slog.Info(registry.Summary())
	return registry.BaseURLs(), nil
}

func parseEndpoints(raw string) map[string]string {
	out := map[string]string{}
	if raw == "" {
		return out
	}
	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		kv := strings.SplitN(pair, "=", 2)
		if len(kv) != 2 {
			continue
		}
		out[strings.TrimSpace(kv[0])] = strings.TrimSpace(kv[1])
	}
	return out
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
