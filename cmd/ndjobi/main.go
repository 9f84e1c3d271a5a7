package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"ndjobi/internal/app"
	"ndjobi/internal/config"
	"ndjobi/internal/db"
	"ndjobi/internal/domain"
	"ndjobi/internal/engine"
	"ndjobi/internal/logging"
	"ndjobi/internal/repo"
	"ndjobi/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "ndjobi",
	Short: "Ndjobi report triage service",
	Long: `Ndjobi routes citizen corruption reports to specialized agent queues and
tracks them from intake to closure.
- Catalog: the fixed type→role routing table, validated at load.
- Reports: signalements created at pending, moved through assigned/investigation/
  in_progress to resolved or closed. Citizens follow them by reference.
- Decisions: the append-only approve/investigate/reject ledger; each decision
  drives the implied status change atomically.
- Stats: per-queue counters recomputed from the current report set.
- Event log: the audit diary of every mutation, view with 'ndjobi log tail'.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("NDJOBI")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "actor identifier")
	rootCmd.PersistentFlags().String("config", "", "path to catalog YAML (defaults to the built-in catalog)")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
}

func registerCommands() {
	rootCmd.AddCommand(reportCmd())
	rootCmd.AddCommand(decisionCmd())
	rootCmd.AddCommand(statsCmd())
	rootCmd.AddCommand(catalogCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(apikeyCmd())
	rootCmd.AddCommand(serveCmd())
}

func reportCmd() *cobra.Command {
	rep := &cobra.Command{Use: "report", Short: "Manage reports"}
	rep.AddCommand(reportCreateCmd())
	rep.AddCommand(reportListCmd())
	rep.AddCommand(reportShowCmd())
	rep.AddCommand(reportTrackCmd())
	rep.AddCommand(reportStatusCmd())
	rep.AddCommand(reportAssessCmd())
	return rep
}

func reportCreateCmd() *cobra.Command {
	var title, typ, description, location, priority string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Submit a report",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				rep, err := a.Engine.CreateReport(ctx, engine.CreateReportOptions{
					Title:       title,
					Type:        typ,
					Description: description,
					Location:    location,
					Priority:    domain.Priority(priority),
					SubmittedBy: viper.GetString("actor-id"),
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(rep)
			})
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "report title")
	cmd.Flags().StringVar(&typ, "type", "", "report type (see 'ndjobi catalog show')")
	cmd.Flags().StringVar(&description, "description", "", "what happened")
	cmd.Flags().StringVar(&location, "location", "", "where it happened")
	cmd.Flags().StringVar(&priority, "priority", "", "critical, high, medium or low")
	_ = cmd.MarkFlagRequired("title")
	_ = cmd.MarkFlagRequired("type")
	_ = cmd.MarkFlagRequired("description")
	return cmd
}

func reportListCmd() *cobra.Command {
	var role, status, typ, priority string
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List reports",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				reports, err := a.Engine.Repo.ListReports(ctx, repo.ReportFilters{
					Role:     role,
					Status:   status,
					Type:     typ,
					Priority: priority,
					Limit:    limit,
				})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(reports)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Reference", "Title", "Type", "Status", "Priority", "Queue"})
				for _, r := range reports {
					tw.AppendRow(table.Row{r.Reference, r.Title, r.Type, r.Status, r.Priority, r.AssignedRole})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&role, "role", "", "filter by assigned queue")
	cmd.Flags().StringVar(&status, "status", "", "filter by status")
	cmd.Flags().StringVar(&typ, "type", "", "filter by type")
	cmd.Flags().StringVar(&priority, "priority", "", "filter by priority")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum rows")
	return cmd
}

func reportShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a report",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				rep, err := a.Engine.Repo.GetReport(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(rep)
			})
		},
	}
	return cmd
}

func reportTrackCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "track <reference>",
		Short: "Follow a report by its public reference",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				rep, err := a.Engine.Repo.GetReportByReference(ctx, strings.ToUpper(strings.TrimSpace(args[0])))
				if err != nil {
					return err
				}
				resolved := ""
				if rep.ResolvedAt != nil {
					resolved = *rep.ResolvedAt
				}
				fmt.Printf("%s  %s  [%s]  created %s", rep.Reference, a.Catalog.TypeLabel(rep.Type), rep.Status, rep.CreatedAt)
				if resolved != "" {
					fmt.Printf("  closed %s", resolved)
				}
				fmt.Println()
				return nil
			})
		},
	}
	return cmd
}

func reportStatusCmd() *cobra.Command {
	var ifVersion int64
	cmd := &cobra.Command{
		Use:   "status <id> <target>",
		Short: "Move a report to a new status",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				opts := engine.TransitionOptions{
					ReportID: args[0],
					Target:   domain.Status(args[1]),
					ActorID:  viper.GetString("actor-id"),
				}
				if cmd.Flags().Changed("if-version") {
					opts.IfVersion = &ifVersion
				}
				rep, err := a.Engine.Transition(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(rep)
			})
		},
	}
	cmd.Flags().Int64Var(&ifVersion, "if-version", 0, "fail if the report version has moved past this")
	return cmd
}

func reportAssessCmd() *cobra.Command {
	var priorityScore, credibilityScore float64
	var summary, category string
	cmd := &cobra.Command{
		Use:   "assess <id>",
		Short: "Attach AI assessment scores to a report",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				rep, err := a.Engine.AttachAssessment(ctx, args[0], domain.AIAssessment{
					PriorityScore:    priorityScore,
					CredibilityScore: credibilityScore,
					Summary:          summary,
					Category:         category,
				}, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(rep)
			})
		},
	}
	cmd.Flags().Float64Var(&priorityScore, "priority-score", 0, "priority score 0-100")
	cmd.Flags().Float64Var(&credibilityScore, "credibility-score", 0, "credibility score 0-100")
	cmd.Flags().StringVar(&summary, "summary", "", "assessment summary")
	cmd.Flags().StringVar(&category, "category", "", "suggested category")
	return cmd
}

func decisionCmd() *cobra.Command {
	dec := &cobra.Command{Use: "decision", Short: "Authoritative decisions"}
	dec.AddCommand(decisionRecordCmd())
	dec.AddCommand(decisionListCmd())
	return dec
}

func decisionRecordCmd() *cobra.Command {
	var kind, rationale, token string
	cmd := &cobra.Command{
		Use:   "record <report-id>",
		Short: "Record a decision and apply its implied status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if token == "" {
				token = uuid.NewString()
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				d, err := a.Engine.RecordDecision(ctx, engine.RecordDecisionOptions{
					ReportID:   args[0],
					Kind:       domain.DecisionKind(kind),
					ActorID:    viper.GetString("actor-id"),
					Rationale:  rationale,
					DedupToken: token,
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(d)
			})
		},
	}
	cmd.Flags().StringVar(&kind, "kind", "", "approve, investigate or reject")
	cmd.Flags().StringVar(&rationale, "rationale", "", "why")
	cmd.Flags().StringVar(&token, "dedup-token", "", "idempotency token (generated when omitted)")
	_ = cmd.MarkFlagRequired("kind")
	return cmd
}

func decisionListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list <report-id>",
		Short: "Show the decision trail for a report",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				decisions, err := a.Engine.ListDecisions(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(decisions)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Kind", "Decided By", "Decided At", "Rationale"})
				for _, d := range decisions {
					tw.AppendRow(table.Row{d.Kind, d.DecidedBy, d.DecidedAt, d.Rationale})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func statsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stats <role>",
		Short: "Per-queue statistics snapshot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				snap, err := a.Engine.Snapshot(ctx, args[0], time.Now())
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(snap)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Total", "Pending", "In Progress", "Resolved", "Success", "This Month", "Last Month"})
				tw.AppendRow(table.Row{
					snap.Total, snap.Pending, snap.InProgress, snap.Resolved,
					fmt.Sprintf("%.0f%%", snap.SuccessRate*100), snap.ThisMonth, snap.LastMonth,
				})
				tw.Render()
				for typ, n := range snap.ByType {
					fmt.Printf("  %s: %d\n", typ, n)
				}
				return nil
			})
		},
	}
	return cmd
}

func catalogCmd() *cobra.Command {
	cat := &cobra.Command{Use: "catalog", Short: "Routing catalog"}
	cat.AddCommand(catalogShowCmd())
	cat.AddCommand(catalogValidateCmd())
	return cat
}

func catalogShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show the active type→role routing table",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				if viper.GetBool("json") {
					return printJSON(a.Catalog.Roles())
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Rank", "Role", "Label", "Types"})
				for _, r := range a.Catalog.Roles() {
					tw.AppendRow(table.Row{r.Rank, r.ID, r.Label, strings.Join(r.Types, ", ")})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func catalogValidateCmd() *cobra.Command {
	var filePath string
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate a catalog YAML file",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := config.Load(filePath); err != nil {
				return err
			}
			fmt.Printf("%s: catalog is consistent\n", filePath)
			return nil
		},
	}
	cmd.Flags().StringVar(&filePath, "file", "", "path to YAML config")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func logCmd() *cobra.Command {
	log := &cobra.Command{
		Use:   "log",
		Short: "Event log",
		Long:  "The audit diary: report creations, status changes and decisions.",
	}
	log.AddCommand(logTailCmd())
	return log
}

func logTailCmd() *cobra.Command {
	var n int
	var evtType, reportID, role string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				events, err := a.Engine.Repo.LatestEvents(ctx, n, evtType, reportID, role)
				if err != nil {
					return err
				}
				return printJSONOrTable(events)
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&evtType, "type", "", "event type filter")
	cmd.Flags().StringVar(&reportID, "report-id", "", "report id filter")
	cmd.Flags().StringVar(&role, "role", "", "queue filter")
	return cmd
}

func apikeyCmd() *cobra.Command {
	key := &cobra.Command{Use: "apikey", Short: "API keys"}
	key.AddCommand(apikeyCreateCmd())
	return key
}

func apikeyCreateCmd() *cobra.Command {
	var actor, role, name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an API key (the secret is printed once)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if actor == "" || role == "" {
				return fmt.Errorf("--actor and --role required")
			}
			raw := make([]byte, 24)
			if _, err := rand.Read(raw); err != nil {
				return err
			}
			secret := "ndk_" + hex.EncodeToString(raw)
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				if err := a.Engine.Repo.InsertAPIKey(ctx, domain.APIKey{
					ID:      uuid.NewString(),
					ActorID: actor,
					Role:    role,
					Name:    name,
					KeyHash: repo.HashAPIKey(secret),
				}); err != nil {
					return err
				}
				fmt.Println(secret)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&actor, "actor", "", "actor id the key authenticates as")
	cmd.Flags().StringVar(&role, "role", "", "role granted to the key")
	cmd.Flags().StringVar(&name, "name", "", "display name")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	var dev, insecureHeaders bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := logging.New(dev)
			if err != nil {
				return err
			}
			defer logger.Sync()

			a, err := app.New(app.Options{
				Workspace:  viper.GetString("workspace"),
				ConfigPath: viper.GetString("config"),
				Logger:     logger,
			})
			if err != nil {
				return err
			}
			defer a.Close()

			authCfg := server.AuthConfig{
				JWTSecret:            os.Getenv("NDJOBI_JWT_SECRET"),
				AllowInsecureHeaders: insecureHeaders,
				Logger:               logger,
			}
			if authCfg.JWTSecret == "" && !insecureHeaders {
				return fmt.Errorf("NDJOBI_JWT_SECRET is required for bearer auth (or pass --insecure-headers for local use)")
			}
			if basePath == "" {
				basePath = a.Config.Service.BasePath
			}
			handler, err := server.New(server.Config{
				Engine:   a.Engine,
				Authz:    a.Auth,
				Hub:      a.Hub,
				BasePath: basePath,
				Auth:     authCfg,
				Logger:   logger,
			})
			if err != nil {
				return err
			}

			dispatchCtx, stopDispatch := context.WithCancel(cmd.Context())
			defer stopDispatch()
			server.StartWebhookDispatcher(dispatchCtx, a.Engine, a.Config.Webhooks, logger)

			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			logger.Info("serving ndjobi API",
				zap.String("addr", addr),
				zap.String("base_path", basePath))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "", "API base path (defaults to config)")
	cmd.Flags().BoolVar(&dev, "dev", false, "development logging")
	cmd.Flags().BoolVar(&insecureHeaders, "insecure-headers", false, "accept X-Actor-Id/X-Actor-Role without credentials (local only)")
	return cmd
}

// --- helpers ---

func withApp(ctx context.Context, fn func(context.Context, *app.App) error) error {
	a, err := app.New(app.Options{
		Workspace:  viper.GetString("workspace"),
		ConfigPath: viper.GetString("config"),
	})
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
