package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"upkeep/internal/config"
	upkeepcron "upkeep/internal/cron"
	"upkeep/internal/db"
	"upkeep/internal/engine"
	"upkeep/internal/migrate"
	"upkeep/internal/repo"
	"upkeep/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "upkeep",
	Short: "Upkeep CLI",
	Long: `Upkeep schedules recurring property maintenance.
A recurring work order holds a client, a location, a job template, and a list
of service dates. Each date becomes a pending execution exactly once, and each
pending execution can be materialized into exactly one work order, either on
demand or by the daily cron sweep.`,
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
	viper.SetEnvPrefix("UPKEEP")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "actor identifier")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
}

func registerCommands() {
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(recurringCmd())
	rootCmd.AddCommand(executionCmd())
	rootCmd.AddCommand(workOrderCmd())
	rootCmd.AddCommand(cronCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(serveCmd())
}

func initCmd() *cobra.Command {
	var serviceID string
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize workspace config and database",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			cfgPath := config.Path(workspace)
			if _, err := os.Stat(cfgPath); err == nil {
				return fmt.Errorf("%s already exists", cfgPath)
			}
			if err := os.WriteFile(cfgPath, []byte(config.GenerateDefault(serviceID)), 0o644); err != nil {
				return err
			}
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			fmt.Printf("Initialized workspace: %s, database: %s\n", cfgPath, db.Path(workspace))
			return nil
		},
	}
	cmd.Flags().StringVar(&serviceID, "service-id", "upkeep", "service identifier")
	return cmd
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, err := db.Open(db.Config{Workspace: viper.GetString("workspace")})
			if err != nil {
				return err
			}
			defer conn.Close()
			return migrate.Migrate(conn)
		},
	}
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show recurring and work order counts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				active, err := e.Repo.ListRecurringWorkOrders(ctx, repo.RecurringFilters{Status: "active"})
				if err != nil {
					return err
				}
				counts, err := e.Repo.CountWorkOrdersByStatus(ctx)
				if err != nil {
					return err
				}
				out := map[string]any{
					"service_id":        e.Config.Service.ID,
					"active_recurring":  len(active),
					"work_order_counts": counts,
				}
				if viper.GetBool("json") {
					return printJSON(out)
				}
				fmt.Printf("Service: %s\n", e.Config.Service.ID)
				fmt.Printf("Active recurring work orders: %d\n", len(active))
				fmt.Println("Work orders:")
				for status, c := range counts {
					fmt.Printf("  %s: %d\n", status, c)
				}
				return nil
			})
		},
	}
}

func recurringCmd() *cobra.Command {
	rec := &cobra.Command{
		Use:   "recurring",
		Short: "Manage recurring work orders",
		Long:  "Recurring work orders are the schedule source: a job template plus the list of service dates it should run on.",
	}
	rec.AddCommand(recurringCreateCmd())
	rec.AddCommand(recurringListCmd())
	rec.AddCommand(recurringShowCmd())
	rec.AddCommand(recurringStatusCmd("pause", "paused", "Pause a recurring work order"))
	rec.AddCommand(recurringStatusCmd("resume", "active", "Resume a paused recurring work order"))
	rec.AddCommand(recurringStatusCmd("archive", "archived", "Archive a recurring work order"))
	rec.AddCommand(recurringAddDatesCmd())
	return rec
}

func recurringCreateCmd() *cobra.Command {
	var opts engine.RecurringCreateOptions
	var dates []string
	var budget float64
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a recurring work order",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.ActorID = viper.GetString("actor-id")
			opts.ServiceDates = dates
			if cmd.Flags().Changed("budget") {
				opts.Budget = &budget
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				rwo, err := e.CreateRecurringWorkOrder(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(rwo)
			})
		},
	}
	cmd.Flags().StringVar(&opts.ID, "id", "", "id (optional, random UUID if omitted)")
	cmd.Flags().StringVar(&opts.ClientID, "client-id", "", "client id")
	cmd.Flags().StringVar(&opts.ClientName, "client-name", "", "client name")
	cmd.Flags().StringVar(&opts.LocationID, "location-id", "", "location id")
	cmd.Flags().StringVar(&opts.LocationName, "location-name", "", "location name")
	cmd.Flags().StringVar(&opts.Title, "title", "", "title")
	cmd.Flags().StringVar(&opts.Description, "description", "", "description")
	cmd.Flags().StringVar(&opts.Category, "category", "", "category")
	cmd.Flags().StringVar(&opts.Priority, "priority", "medium", "priority (low, medium, high, urgent)")
	cmd.Flags().Float64Var(&budget, "budget", 0, "budget")
	cmd.Flags().StringVar(&opts.SubcontractorID, "subcontractor-id", "", "pre-assigned subcontractor id")
	cmd.Flags().StringVar(&opts.SubcontractorName, "subcontractor-name", "", "pre-assigned subcontractor name")
	cmd.Flags().StringArrayVar(&dates, "date", []string{}, "service date, YYYY-MM-DD or RFC3339 (repeatable)")
	_ = cmd.MarkFlagRequired("title")
	_ = cmd.MarkFlagRequired("client-id")
	_ = cmd.MarkFlagRequired("location-id")
	_ = cmd.MarkFlagRequired("category")
	return cmd
}

func recurringListCmd() *cobra.Command {
	var f repo.RecurringFilters
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recurring work orders",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListRecurringWorkOrders(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Number", "Title", "Client", "Status", "Next Service"})
				for _, r := range items {
					next := ""
					if r.NextServiceAt != nil {
						next = *r.NextServiceAt
					}
					tw.AppendRow(table.Row{r.ID, r.Number, r.Title, r.ClientName, r.Status, next})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.Status, "status", "", "status filter (active, paused, archived)")
	cmd.Flags().StringVar(&f.ClientID, "client-id", "", "client filter")
	cmd.Flags().IntVar(&f.Limit, "limit", 0, "max rows")
	return cmd
}

func recurringShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show a recurring work order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				rwo, err := e.Repo.GetRecurringWorkOrder(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(rwo)
			})
		},
	}
}

func recurringStatusCmd(use, status, short string) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				rwo, err := e.SetRecurringStatus(ctx, args[0], status, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(rwo)
			})
		},
	}
}

func recurringAddDatesCmd() *cobra.Command {
	var dates []string
	cmd := &cobra.Command{
		Use:   "add-dates <id>",
		Short: "Append service dates",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				rwo, err := e.AppendServiceDates(ctx, args[0], dates, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(rwo)
			})
		},
	}
	cmd.Flags().StringArrayVar(&dates, "date", []string{}, "service date, YYYY-MM-DD or RFC3339 (repeatable)")
	_ = cmd.MarkFlagRequired("date")
	return cmd
}

func executionCmd() *cobra.Command {
	exec := &cobra.Command{
		Use:   "execution",
		Short: "Manage executions",
		Long:  "Executions are the per-date schedule slots of a recurring work order. Each service date gets exactly one.",
	}
	exec.AddCommand(executionCreateCmd())
	exec.AddCommand(executionListCmd())
	return exec
}

func executionCreateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "create <recurring-id>",
		Short: "Create pending executions for every uncovered service date",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				result, err := e.CreateExecutions(ctx, args[0], viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(result)
			})
		},
	}
}

func executionListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list <recurring-id>",
		Short: "List executions of a recurring work order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListExecutionsByRecurring(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "#", "Scheduled Day", "Status", "Work Order"})
				for _, ex := range items {
					wo := ""
					if ex.WorkOrderNumber != nil {
						wo = *ex.WorkOrderNumber
					}
					tw.AppendRow(table.Row{ex.ID, ex.ExecutionNumber, ex.ScheduledDay, ex.Status, wo})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func workOrderCmd() *cobra.Command {
	wo := &cobra.Command{
		Use:   "workorder",
		Short: "Manage work orders",
	}
	wo.AddCommand(workOrderGenerateCmd())
	wo.AddCommand(workOrderListCmd())
	wo.AddCommand(workOrderShowCmd())
	return wo
}

func workOrderGenerateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "generate <execution-id>",
		Short: "Materialize a pending execution into a work order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				w, err := e.GenerateExecutionWorkOrder(ctx, args[0], viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(w)
			})
		},
	}
}

func workOrderListCmd() *cobra.Command {
	var f repo.WorkOrderFilters
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List work orders",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListWorkOrders(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Number", "Title", "Status", "Assigned To"})
				for _, w := range items {
					assignee := ""
					if w.AssignedToName != nil {
						assignee = *w.AssignedToName
					}
					tw.AppendRow(table.Row{w.ID, w.Number, w.Title, w.Status, assignee})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.RecurringID, "recurring-id", "", "recurring work order filter")
	cmd.Flags().StringVar(&f.Status, "status", "", "status filter (approved, assigned)")
	cmd.Flags().IntVar(&f.Limit, "limit", 0, "max rows")
	return cmd
}

func workOrderShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show a work order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				w, err := e.Repo.GetWorkOrder(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(w)
			})
		},
	}
}

func cronCmd() *cobra.Command {
	cron := &cobra.Command{
		Use:   "cron",
		Short: "Due-recurrence sweep",
	}
	cron.AddCommand(&cobra.Command{
		Use:   "run",
		Short: "Run the sweep once: create today's executions and materialize them",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				results, err := e.RunDueRecurrences(ctx, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(results)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Recurring", "Status", "Message"})
				for _, r := range results {
					tw.AppendRow(table.Row{r.RecurringWorkOrderID, r.Status, r.Message})
				}
				tw.Render()
				return nil
			})
		},
	})
	return cron
}

func logCmd() *cobra.Command {
	logRoot := &cobra.Command{
		Use:   "log",
		Short: "Event log",
	}
	var n int
	var evtType, entityKind, entityID string
	tail := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				events, err := e.Repo.LatestEvents(ctx, n, evtType, entityKind, entityID)
				if err != nil {
					return err
				}
				return printJSONOrTable(events)
			})
		},
	}
	tail.Flags().IntVar(&n, "n", 20, "number of events")
	tail.Flags().StringVar(&evtType, "type", "", "event type filter")
	tail.Flags().StringVar(&entityKind, "entity-kind", "", "entity kind")
	tail.Flags().StringVar(&entityID, "entity-id", "", "entity id")
	logRoot.AddCommand(tail)
	return logRoot
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	var noCron bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server and scheduled cron sweep",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			cfg, err := config.LoadOptional(workspace)
			if err != nil {
				return err
			}
			e := engine.New(conn, cfg)
			handler, err := server.New(server.Config{
				Engine:   e,
				BasePath: basePath,
				Auth:     server.AuthConfig{JWTSecret: os.Getenv("UPKEEP_JWT_SECRET")},
			})
			if err != nil {
				return err
			}

			if !noCron && cfg.Cron.Schedule != "" {
				runner, err := upkeepcron.NewRunner(e, cfg.Cron.Schedule, log.Default())
				if err != nil {
					return err
				}
				runner.Start()
				defer func() { <-runner.Stop().Done() }()
				fmt.Printf("Cron sweep scheduled: %q (%s)\n", cfg.Cron.Schedule, cfg.Location())
			}

			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving Upkeep API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs)\n", addr, basePath, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v1", "API base path")
	cmd.Flags().BoolVar(&noCron, "no-cron", false, "disable the scheduled sweep")
	return cmd
}

// --- helpers ---

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		return err
	}
	e := engine.New(conn, cfg)
	return fn(ctx, e)
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
