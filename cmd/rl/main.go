package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"reportline/internal/app"
	"reportline/internal/config"
	"reportline/internal/db"
	"reportline/internal/engine"
	"reportline/internal/repo"
	"reportline/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "rl",
	Short: "Reportline CLI",
	Long: `Reportline collects store reports through templates you design.
- Templates: an ordered list of questions (text, number, choice, date), some required.
- Stores: the places that report; assigning a template gives a store a pending report.
- Reports: filled in one question at a time, reviewed, then submitted in one step.
- Summaries: an LLM reads the stored reports and writes up trends (rl summary).
- Event log: every change is recorded, view it with 'rl log tail'.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if viper.GetString("driver") == string(db.DriverPostgres) {
			return nil
		}
		_, err := db.EnsureWorkspace(viper.GetString("workspace"))
		return err
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		stop()
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("REPORTLINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	flags := rootCmd.PersistentFlags()
	flags.StringP("workspace", "w", ".", "workspace directory")
	flags.String("config", "", "config file (default <workspace>/reportline.yml)")
	flags.Bool("json", false, "output JSON")
	flags.String("user-id", "local-user", "acting user id")
	flags.String("driver", "", "database driver override (sqlite|postgres)")
	flags.String("dsn", "", "database DSN override")
	flags.String("log-level", "", "log level override")
	for _, name := range []string{"workspace", "config", "json", "user-id", "driver", "dsn", "log-level"} {
		_ = viper.BindPFlag(name, flags.Lookup(name))
	}
}

func registerCommands() {
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(templateCmd())
	rootCmd.AddCommand(storeCmd())
	rootCmd.AddCommand(reportCmd())
	rootCmd.AddCommand(summaryCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(userCmd())
	rootCmd.AddCommand(tokenCmd())
	rootCmd.AddCommand(serveCmd())
}

func options(userID string) app.Options {
	return app.Options{
		Workspace:  viper.GetString("workspace"),
		ConfigPath: viper.GetString("config"),
		Driver:     viper.GetString("driver"),
		DSN:        viper.GetString("dsn"),
		LogLevel:   viper.GetString("log-level"),
		UserID:     userID,
	}
}

// withEngine opens the workspace acting as --user-id.
func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	return withRuntime(ctx, viper.GetString("user-id"), func(ctx context.Context, rt *app.Runtime) error {
		return fn(ctx, rt.Engine)
	})
}

func withRuntime(ctx context.Context, userID string, fn func(context.Context, *app.Runtime) error) error {
	rt, err := app.Open(ctx, options(userID))
	if err != nil {
		return err
	}
	defer rt.Close()
	return fn(ctx, rt)
}

func initCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create reportline.yml and the database",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			path := config.Path(workspace)
			if _, err := os.Stat(path); err == nil && !force {
				fmt.Printf("Config %s already exists (use --force to overwrite)\n", path)
			} else {
				if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
					return err
				}
				fmt.Printf("Wrote %s\n", path)
			}
			return withRuntime(cmd.Context(), "", func(ctx context.Context, rt *app.Runtime) error {
				if rt.Config.Database.Driver == string(db.DriverSQLite) && rt.Config.Database.DSN == "" {
					fmt.Printf("Database ready at %s\n", db.Path(workspace))
				} else {
					fmt.Printf("Database ready (%s)\n", rt.Config.Database.Driver)
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), "", func(ctx context.Context, rt *app.Runtime) error {
				cfg := rt.Config
				if addr == "" {
					addr = cfg.Server.Addr
				}
				if basePath == "" {
					basePath = cfg.Server.BasePath
				}
				authCfg := server.AuthConfig{
					JWTSecret:             cfg.JWTSecret(),
					AllowLegacyUserHeader: cfg.Auth.AllowLegacyUserHeader,
				}
				if authCfg.JWTSecret == "" && !authCfg.AllowLegacyUserHeader {
					return fmt.Errorf("%s is required for bearer auth", cfg.Auth.JWTSecretEnv)
				}
				svc, err := rt.SummaryService()
				if err != nil {
					rt.Log.Warn("summary endpoint disabled", "error", err)
				}
				handler, err := server.New(server.Config{
					Engine:      rt.Engine,
					BasePath:    basePath,
					Auth:        authCfg,
					Summary:     svc,
					CORSOrigins: cfg.Server.CORSOrigins,
					Log:         rt.Log,
				})
				if err != nil {
					return err
				}
				if d := server.NewWebhookDispatcher(rt.Engine, rt.Log); d != nil {
					go d.Run(ctx)
				}
				srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
				go func() {
					<-ctx.Done()
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					srv.Shutdown(shutdownCtx)
				}()
				rt.Log.Info("serving reportline api", "addr", addr, "base_path", basePath)
				fmt.Printf("Serving Reportline API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs)\n", addr, basePath, basePath)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from config)")
	cmd.Flags().StringVar(&basePath, "base-path", "", "API base path (default from config)")
	return cmd
}

func logCmd() *cobra.Command {
	log := &cobra.Command{Use: "log", Short: "Event log"}
	log.AddCommand(logTailCmd())
	return log
}

func logTailCmd() *cobra.Command {
	var n int
	var evtType, entityKind, entityID string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				events, err := e.ListEvents(ctx, repo.EventFilters{Type: evtType, EntityKind: entityKind, EntityID: entityID, Limit: n})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(events)
				}
				tw := newTable("ID", "TS", "Type", "Entity", "Actor")
				for _, evt := range events {
					tw.AppendRow(table.Row{evt.ID, evt.TS, evt.Type, evt.EntityKind + ":" + evt.EntityID, evt.ActorID})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&evtType, "type", "", "event type filter")
	cmd.Flags().StringVar(&entityKind, "entity-kind", "", "entity kind")
	cmd.Flags().StringVar(&entityID, "entity-id", "", "entity id")
	return cmd
}

func userCmd() *cobra.Command {
	user := &cobra.Command{Use: "user", Short: "Users and credentials"}
	key := &cobra.Command{Use: "key", Short: "Manage API keys"}
	key.AddCommand(userKeyCreateCmd())
	key.AddCommand(userKeyListCmd())
	key.AddCommand(userKeyRevokeCmd())
	user.AddCommand(key)
	return user
}

func userKeyCreateCmd() *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an API key for --user-id",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				userID := viper.GetString("user-id")
				key, raw, err := e.CreateAPIKey(ctx, userID, name)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"id": key.ID, "user_id": key.UserID, "name": key.Name, "key": raw})
				}
				fmt.Printf("API key %s for %s (shown once):\n%s\n", key.ID, key.UserID, raw)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "key label")
	return cmd
}

func userKeyListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List API keys of --user-id",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				keys, err := e.ListAPIKeys(ctx, viper.GetString("user-id"))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(keys)
				}
				tw := newTable("ID", "Name", "Created")
				for _, k := range keys {
					tw.AppendRow(table.Row{k.ID, k.Name, k.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func userKeyRevokeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "revoke <id>",
		Short: "Revoke an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if err := e.RevokeAPIKey(ctx, args[0]); err != nil {
					return err
				}
				fmt.Printf("Revoked %s\n", args[0])
				return nil
			})
		},
	}
}

func tokenCmd() *cobra.Command {
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Sign a bearer token for --user-id",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := app.LoadConfig(options(""))
			if err != nil {
				return err
			}
			secret := cfg.JWTSecret()
			if secret == "" {
				return fmt.Errorf("%s is not set", cfg.Auth.JWTSecretEnv)
			}
			token, err := server.SignToken(secret, viper.GetString("user-id"), ttl, time.Now())
			if err != nil {
				return err
			}
			fmt.Println(token)
			return nil
		},
	}
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime (0 for no expiry)")
	return cmd
}

// --- helpers ---

func newTable(header ...any) table.Writer {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row(header))
	return tw
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
