// Package main implements the Governor: the governance core's single
// gateway process. It owns the audit, approval, certification,
// subscription, and budget stores and serves the HTTP surface that
// fronts them.
package main

import (
	"context"
	"database/sql"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"govcore/internal/approval"
	"govcore/internal/audit"
	"govcore/internal/budget"
	"govcore/internal/certification"
	"govcore/internal/execution"
	"govcore/internal/httpapi"
	"govcore/internal/logging"
	"govcore/internal/policy"
	"govcore/internal/precedent"
	"govcore/internal/subscription"
	"govcore/internal/toolregistry"

	_ "modernc.org/sqlite"
)

type config struct {
	listenAddr      string
	auditDBPath     string
	socketPath      string
	certDBPath      string
	subscriptionDB  string
	budgetDBPath    string
	platformPolicy  string
	tenantPolicy    string
	certBundlePath  string
	dispatchSocket  string
	precedentDBPath string
	toolRegistryPath string
}

func main() {
	var cfg config
	flag.StringVar(&cfg.listenAddr, "listen", envOrDefault("GOVCORE_ADDR", ":8090"), "HTTP listen address")
	flag.StringVar(&cfg.auditDBPath, "audit-db", envOrDefault("GOVCORE_AUDIT_DB", "audit.db"), "path to the audit database")
	flag.StringVar(&cfg.socketPath, "socket", envOrDefault("GOVCORE_AUDIT_SOCKET", "/tmp/govcore-audit.sock"), "unix socket for real-time audit notifications")
	flag.StringVar(&cfg.certDBPath, "cert-db", envOrDefault("GOVCORE_CERT_DB", "certification.db"), "path to the certification registry database")
	flag.StringVar(&cfg.subscriptionDB, "subscription-db", envOrDefault("GOVCORE_SUBSCRIPTION_DB", "subscription.db"), "path to the instance subscription database")
	flag.StringVar(&cfg.budgetDBPath, "budget-db", envOrDefault("GOVCORE_BUDGET_DB", "budget.db"), "path to the budget ledger database")
	flag.StringVar(&cfg.platformPolicy, "platform-policy", envOrDefault("GOVCORE_PLATFORM_POLICY", ""), "path to the L0 platform policy YAML bundle")
	flag.StringVar(&cfg.tenantPolicy, "tenant-policy", envOrDefault("GOVCORE_TENANT_POLICY", ""), "path to the L1 tenant policy YAML bundle")
	flag.StringVar(&cfg.certBundlePath, "cert-bundle", envOrDefault("GOVCORE_CERT_BUNDLE", ""), "path to a certification seed bundle YAML")
	flag.StringVar(&cfg.dispatchSocket, "dispatch-socket", envOrDefault("GOVCORE_DISPATCH_SOCKET", "/tmp/govcore-dispatch.sock"), "unix socket the skill worker accepts goal dispatches on")
	flag.StringVar(&cfg.precedentDBPath, "precedent-db", envOrDefault("GOVCORE_PRECEDENT_DB", "precedent.db"), "path to the precedent seed database")
	flag.StringVar(&cfg.toolRegistryPath, "tool-registry", envOrDefault("GOVCORE_TOOL_REGISTRY", ""), "path to a JSON skill-executor inventory, used to compensate vetoed effects")

	remaining := logging.InitLogging(os.Args[1:])
	flag.CommandLine.Parse(remaining) //nolint:errcheck

	auditStore, err := audit.NewStore(audit.StoreConfig{DBPath: cfg.auditDBPath, SocketPath: cfg.socketPath})
	if err != nil {
		slog.Error("failed to create audit store", "err", err)
		os.Exit(1)
	}
	defer auditStore.Close()

	approvalStore, err := approval.NewStore(auditStore.DB(), auditStore)
	if err != nil {
		slog.Error("failed to create approval store", "err", err)
		os.Exit(1)
	}

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

	if cfg.certBundlePath != "" {
		bundle, err := certification.LoadBundleFile(cfg.certBundlePath)
		if err != nil {
			slog.Error("failed to load certification bundle", "err", err)
			os.Exit(1)
		}
		if err := certRegistry.Seed(context.Background(), bundle); err != nil {
			slog.Error("failed to seed certification registry", "err", err)
			os.Exit(1)
		}
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

	budgetDB, err := sql.Open("sqlite", cfg.budgetDBPath)
	if err != nil {
		slog.Error("failed to open budget database", "err", err)
		os.Exit(1)
	}
	defer budgetDB.Close()
	// The governor itself never debits (only the skill worker's Engine does);
	// it opens the same accountant to serve GET /v1/usage/... reads.
	budgetAccountant, err := budget.NewAccountant(budgetDB, false, auditStore, nil)
	if err != nil {
		slog.Error("failed to create budget accountant", "err", err)
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

	// With a tool registry the governor can reach the same skill-executor
	// agents the worker dispatches to, so a veto can compensate the effect
	// instead of suspending the instance.
	var compensator httpapi.Compensator
	if cfg.toolRegistryPath != "" {
		registry, err := toolregistry.Load(cfg.toolRegistryPath)
		if err != nil {
			slog.Error("failed to load tool registry", "err", err)
			os.Exit(1)
		}
		compensator = execution.NewA2AToolAdapter(registry.BaseURLs())
	}

	// The policy engine itself is only consulted by the execution package
	// inside cmd/skillworker; the governor builds it here only so a policy
	// bundle that fails to load is logged at startup. Such a bundle is
	// replaced by the built-in default and the governor keeps starting.
	policy.NewEngine(buildEngineConfig(cfg))

	mux := httpapi.NewMux(httpapi.Deps{
		Audit:         auditStore,
		AuditServer:   &httpapi.AuditServer{Store: auditStore},
		Approvals:     &httpapi.ApprovalServer{Store: approvalStore},
		Certification: &httpapi.CertificationServer{Registry: certRegistry},
		Subscriptions: &httpapi.SubscriptionServer{Store: subStore, Registry: certRegistry},
		Goals:         &httpapi.GoalServer{DispatchSocket: cfg.dispatchSocket},
		Deliverables:  &httpapi.DeliverablesServer{Audit: auditStore},
		PolicyDenials: &httpapi.PolicyDenialsServer{Audit: auditStore},
		Usage:         &httpapi.UsageServer{Budget: budgetAccountant},
		Precedents: &httpapi.PrecedentServer{
			Store:         precedentStore,
			Subscriptions: subStore,
			Audit:         auditStore,
			Compensator:   compensator,
			ApprovalSkill: approvalCoordinates(approvalStore),
		},
	})

	httpServer := &http.Server{
		Addr:         cfg.listenAddr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go startApprovalExpiryWorker(ctx, approvalStore)

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		slog.Info("shutting down governor...")
		cancel()
		httpServer.Shutdown(context.Background())
	}()

	slog.Info("governor starting", "listen", cfg.listenAddr, "audit_db", cfg.auditDBPath)

	if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
		slog.Error("server error", "err", err)
		os.Exit(1)
	}

	slog.Info("governor stopped")
}

func buildEngineConfig(cfg config) policy.EngineConfig {
	layers := map[policy.Layer]*policy.Config{}

	if cfg.platformPolicy != "" {
		platformCfg, err := policy.LoadFile(cfg.platformPolicy, policy.LayerPlatform)
		if err != nil {
			slog.Error("failed to load platform policy, falling back to the built-in default", "err", err)
			layers[policy.LayerPlatform] = policy.DefaultPlatformConfig()
		} else {
			layers[policy.LayerPlatform] = platformCfg
		}
	} else {
		layers[policy.LayerPlatform] = policy.DefaultPlatformConfig()
	}

	if cfg.tenantPolicy != "" {
		tenantCfg, err := policy.LoadFile(cfg.tenantPolicy, policy.LayerTenant)
		if err != nil {
			slog.Error("failed to load tenant policy, falling back to the built-in default", "err", err)
			layers[policy.LayerTenant] = policy.DefaultTenantConfig()
		} else {
			layers[policy.LayerTenant] = tenantCfg
		}
	} else {
		layers[policy.LayerTenant] = policy.DefaultTenantConfig()
	}

	return policy.EngineConfig{Layers: layers, DefaultEffect: policy.EffectDeny}
}

// startApprovalExpiryWorker periodically sweeps pending/escalated approval
// requests past their deadline into EXPIRED, mirroring lazy-expiry-on-read
// for any request nobody has happened to Get/List recently.
func startApprovalExpiryWorker(ctx context.Context, store *approval.Store) {
	ticker := time.NewTicker(1 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := store.ExpireDue(context.Background())
			if err != nil {
				slog.Error("failed to expire approvals", "err", err)
			} else if n > 0 {
				slog.Info("expired approval requests", "count", n)
			}
		}
	}
}

// approvalCoordinates resolves an approval ID back to the (skill_key,
// trace_id, step_id) its effect ran under, so the veto path can ask the
// compensator to reverse exactly that invocation.
func approvalCoordinates(store *approval.Store) func(ctx context.Context, approvalID string) (string, string, string, error) {
	return func(ctx context.Context, approvalID string) (string, string, string, error) {
		req, err := store.GetRequest(ctx, approvalID)
		if err != nil {
			return "", "", "", err
		}
		stepID := ""
		if v, ok := req.RequestContext["step_id"].(string); ok {
			stepID = v
		}
		return req.ToolName, req.TraceID, stepID, nil
	}
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
