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
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"mossgov/internal/app"
	"mossgov/internal/config"
	"mossgov/internal/db"
	"mossgov/internal/domain"
	"mossgov/internal/logging"
	"mossgov/internal/migrate"
	"mossgov/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "mg",
	Short: "Mossgov governance CLI",
	Long: `Mossgov runs governance decisions from signal to execution.
- Houses: MossCoin members vote with token balance, OpenSource members with contribution score.
- Votings: MID and HIGH risk proposals need both houses to reach quorum and pass.
- Approvals: HIGH risk actions stay locked until both houses and Director 3 approve.
- Pipelines: nine stages from signal intake to outcome verification, resumable after a lock or failure.
- Event log: every state change, view with 'mg log tail'.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if _, err := db.EnsureWorkspace(viper.GetString("workspace")); err != nil {
			return err
		}
		return nil
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
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("MOSSGOV")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().StringP("config", "c", "", "config file (defaults to <workspace>/mossgov.yml)")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("log-level", "", "log level override")
	for _, name := range []string{"workspace", "config", "json", "log-level"} {
		_ = viper.BindPFlag(name, rootCmd.PersistentFlags().Lookup(name))
	}
}

func registerCommands() {
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(tokenCmd())
	rootCmd.AddCommand(memberCmd())
	rootCmd.AddCommand(votingCmd())
	rootCmd.AddCommand(delegationCmd())
	rootCmd.AddCommand(approvalCmd())
	rootCmd.AddCommand(pipelineCmd())
	rootCmd.AddCommand(logCmd())
}

func serveCmd() *cobra.Command {
	var addr, basePath, secret string
	var sweep time.Duration
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				if addr == "" {
					addr = a.Config.Server.Addr
				}
				if basePath == "" {
					basePath = a.Config.Server.BasePath
				}
				if secret == "" {
					secret = firstNonEmpty(viper.GetString("jwt-secret"), a.Config.Server.JWTSecret)
				}
				if secret == "" {
					a.Log.Warn().Msg("no JWT secret configured, bearer auth disabled")
				}
				handler, err := server.New(server.Config{
					App:      a,
					BasePath: basePath,
					Auth:     server.AuthConfig{JWTSecret: secret, JWTIssuer: a.Config.Server.JWTIssuer, Log: a.Log},
				})
				if err != nil {
					return err
				}
				srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
				hooks := server.NewWebhookDispatcher(a.Repo, a.Config.Webhooks, a.Log)

				g, gctx := errgroup.WithContext(ctx)
				g.Go(func() error {
					a.Log.Info().Str("addr", addr).Str("base_path", basePath).Msg("serving mossgov API")
					if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						return err
					}
					return nil
				})
				g.Go(func() error {
					<-gctx.Done()
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					return srv.Shutdown(shutdownCtx)
				})
				g.Go(func() error {
					hooks.Run(gctx)
					return nil
				})
				if sweep > 0 {
					g.Go(func() error {
						maintain(gctx, a, sweep)
						return nil
					})
				}
				return g.Wait()
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (defaults to server.addr)")
	cmd.Flags().StringVar(&basePath, "base-path", "", "API base path (defaults to server.base_path)")
	cmd.Flags().StringVar(&secret, "jwt-secret", "", "HS256 secret for bearer auth (env MOSSGOV_JWT_SECRET)")
	cmd.Flags().DurationVar(&sweep, "sweep-interval", time.Minute, "interval for finalizing expired votings and sweeping inactive members, 0 disables")
	_ = viper.BindPFlag("jwt-secret", cmd.Flags().Lookup("jwt-secret"))
	return cmd
}

// maintain finalizes expired votings and marks idle members inactive until ctx ends.
func maintain(ctx context.Context, a *app.App, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if ids, err := a.Voting.FinalizeExpiredVotings(ctx); err != nil {
			a.Log.Error().Err(err).Msg("finalize expired votings")
		} else if len(ids) > 0 {
			a.Log.Info().Strs("voting_ids", ids).Msg("finalized expired votings")
		}
		if ids, err := a.Houses.SweepInactive(ctx); err != nil {
			a.Log.Error().Err(err).Msg("sweep inactive members")
		} else if len(ids) > 0 {
			a.Log.Info().Strs("member_ids", ids).Msg("members marked inactive")
		}
	}
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, err := db.Open(db.Config{Workspace: viper.GetString("workspace")})
			if err != nil {
				return err
			}
			defer conn.Close()
			applied, err := migrate.Migrate(cmd.Context(), conn)
			if err != nil {
				return err
			}
			version, err := migrate.Version(cmd.Context(), conn)
			if err != nil {
				return err
			}
			return printJSONOrTable(map[string]any{"applied": applied, "version": version})
		},
	}
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{Use: "config", Short: "Manage configuration"}
	cfg.AddCommand(&cobra.Command{
		Use:   "init",
		Short: "Write the default config into the workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Println("wrote", path)
			return nil
		},
	})
	cfg.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show the effective config",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := app.LoadConfig(viper.GetString("workspace"), viper.GetString("config"))
			if err != nil {
				return err
			}
			if c.Server.JWTSecret != "" {
				c.Server.JWTSecret = "***"
			}
			if viper.GetBool("json") {
				return printJSON(c)
			}
			out, err := yaml.Marshal(c)
			if err != nil {
				return err
			}
			fmt.Print(string(out))
			return nil
		},
	})
	cfg.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Validate the config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := app.LoadConfig(viper.GetString("workspace"), viper.GetString("config")); err != nil {
				return err
			}
			fmt.Println("config ok")
			return nil
		},
	})
	return cfg
}

func tokenCmd() *cobra.Command {
	var subject, secret string
	var roles []string
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a bearer token for the API",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := app.LoadConfig(viper.GetString("workspace"), viper.GetString("config"))
			if err != nil {
				return err
			}
			secret = firstNonEmpty(secret, viper.GetString("jwt-secret"), c.Server.JWTSecret)
			if secret == "" {
				return fmt.Errorf("a JWT secret is required (--secret, MOSSGOV_JWT_SECRET or server.jwt_secret)")
			}
			token, err := server.SignToken(secret, c.Server.JWTIssuer, subject, roles, ttl)
			if err != nil {
				return err
			}
			fmt.Println(token)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "", "token subject, the signer identity for Director 3 approvals")
	cmd.Flags().StringVar(&secret, "secret", "", "HS256 secret")
	cmd.Flags().StringSliceVar(&roles, "role", nil, "role claim (repeatable)")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "token lifetime")
	_ = cmd.MarkFlagRequired("subject")
	return cmd
}

func logCmd() *cobra.Command {
	lg := &cobra.Command{Use: "log", Short: "Inspect the event log"}
	var n int
	var evtType string
	tail := &cobra.Command{
		Use:   "tail",
		Short: "Show the latest events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				latest, err := a.Repo.LatestEventID(ctx)
				if err != nil {
					return err
				}
				after := latest - int64(n)
				if after < 0 {
					after = 0
				}
				items, err := a.Repo.ListEvents(ctx, eventFilter(evtType, after, n))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				t := newTable("ID", "TS", "TYPE", "ENTITY", "PAYLOAD")
				for _, e := range items {
					payload, _ := json.Marshal(e.Payload)
					t.AppendRow(table.Row{e.ID, e.TS.Format(time.RFC3339), e.Type, e.EntityKind + "/" + e.EntityID, string(payload)})
				}
				t.Render()
				return nil
			})
		},
	}
	tail.Flags().IntVarP(&n, "n", "n", 20, "number of events")
	tail.Flags().StringVar(&evtType, "type", "", "event type filter")
	lg.AddCommand(tail)
	return lg
}

// --- helpers ---

func withApp(ctx context.Context, fn func(context.Context, *app.App) error) error {
	workspace := viper.GetString("workspace")
	cfg, err := app.LoadConfig(workspace, viper.GetString("config"))
	if err != nil {
		return err
	}
	if lvl := viper.GetString("log-level"); lvl != "" {
		cfg.Logging.Level = lvl
	}
	log := logging.Setup(cfg.Logging, os.Stderr)
	a, err := app.Open(ctx, app.Options{Workspace: workspace, Config: cfg, Log: log})
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

func newTable(header ...any) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row(header))
	return t
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

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func eventFilter(typ string, after int64, limit int) domain.EventFilter {
	return domain.EventFilter{Type: typ, AfterID: after, Limit: limit}
}

func readJSONFile(path string, v any) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(b, v); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}
