package main

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pavelanni/leaveportal/internal/assessment"
	"github.com/pavelanni/leaveportal/internal/evaluation"
	"github.com/pavelanni/leaveportal/internal/events"
	"github.com/pavelanni/leaveportal/internal/generator"
	"github.com/pavelanni/leaveportal/internal/handler"
	appI18n "github.com/pavelanni/leaveportal/internal/i18n"
	"github.com/pavelanni/leaveportal/internal/identity"
	"github.com/pavelanni/leaveportal/internal/leave"
	"github.com/pavelanni/leaveportal/internal/llm"
	"github.com/pavelanni/leaveportal/internal/llm/prompts"
	"github.com/pavelanni/leaveportal/internal/metrics"
	"github.com/pavelanni/leaveportal/internal/model"
	"github.com/pavelanni/leaveportal/internal/ratelimit"
	"github.com/pavelanni/leaveportal/internal/remediation"
	"github.com/pavelanni/leaveportal/internal/store"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "leaveportal",
		Short: "Academic leave portal with test-based approval",
	}

	serve := serveCmd()
	root.AddCommand(serve, exportCmd(), importBankCmd(), createUserCmd())

	// Make "serve" the default when no subcommand is given.
	root.RunE = serve.RunE

	// Register serve flags on root so bare `leaveportal --addr ...` still works.
	root.Flags().AddFlagSet(serve.Flags())

	return root
}

func addLogFlags(cmd *cobra.Command) {
	cmd.Flags().String("log-level", "info", "Log level (debug, info, warn, error)")
	cmd.Flags().String("log-format", "text", "Log format (text, json)")
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server",
		RunE:  runServe,
	}
	f := cmd.Flags()
	f.StringP("addr", "a", ":8080", "HTTP listen address")
	f.String("db", "leaveportal.db", "SQLite database path")
	f.String("jwt-secret", "", "Secret used to sign access tokens (or set LEAVEPORTAL_JWT_SECRET)")
	f.String("jwt-issuer", "leaveportal", "Issuer claim of access tokens")
	f.Duration("token-ttl", 24*time.Hour, "Access token lifetime")
	f.String("admin-password", "", "Initial admin password (or set LEAVEPORTAL_ADMIN_PASSWORD)")
	f.StringP("lang", "l", "en", "Default language for messages (en, ru)")
	f.String("question-source", generator.SourceBank, "Question source for generated tests (bank, llm)")
	f.String("llm-url", "http://localhost:11434/v1", "OpenAI-compatible API base URL")
	f.String("llm-key", "ollama", "API key for LLM")
	f.String("llm-model", "llama3.2", "LLM model name")
	f.StringSlice("cors-origins", nil, "Allowed CORS origins (default any)")
	f.String("amqp-url", "", "RabbitMQ URL for leave decision events (empty disables publishing)")
	f.String("amqp-exchange", "leaveportal.events", "RabbitMQ exchange for leave decision events")
	f.String("redis-addr", "", "Redis address for shared rate limiting (empty uses in-memory limits)")
	f.Int("rate-limit", 10, "Login and generate requests allowed per minute per client")
	addLogFlags(cmd)
	return cmd
}

func exportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export test results as JSON",
		RunE:  runExport,
	}
	f := cmd.Flags()
	f.String("db", "leaveportal.db", "SQLite database path")
	f.StringP("output", "o", "-", "Output file path (- for stdout)")
	addLogFlags(cmd)
	return cmd
}

func importBankCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import-bank",
		Short: "Import question bank JSON files",
		RunE:  runImportBank,
	}
	f := cmd.Flags()
	f.String("db", "leaveportal.db", "SQLite database path")
	f.StringSliceP("file", "f", nil, "Paths to question bank JSON files (repeatable)")
	addLogFlags(cmd)
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func createUserCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "create-user",
		Short: "Create a student or admin account",
		RunE:  runCreateUser,
	}
	f := cmd.Flags()
	f.String("db", "leaveportal.db", "SQLite database path")
	f.StringP("username", "u", "", "Login name (required)")
	f.String("name", "", "Display name (defaults to username)")
	f.StringP("password", "p", "", "Password (required)")
	f.String("role", string(model.UserRoleStudent), "Role (student, admin)")
	f.Int("balance", model.DefaultLeaveBalance, "Leave balance in days")
	addLogFlags(cmd)
	_ = cmd.MarkFlagRequired("username")
	_ = cmd.MarkFlagRequired("password")
	return cmd
}

func setupLogging(cmd *cobra.Command) {
	v := viperForCmd(cmd)

	var logLevel slog.Level
	switch strings.ToLower(v.GetString("log-level")) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	handlerOpts := &slog.HandlerOptions{Level: logLevel}
	var logHandler slog.Handler
	switch strings.ToLower(v.GetString("log-format")) {
	case "json":
		logHandler = slog.NewJSONHandler(os.Stderr, handlerOpts)
	default:
		logHandler = slog.NewTextHandler(os.Stderr, handlerOpts)
	}
	slog.SetDefault(slog.New(logHandler))
}

// viperForCmd binds a command's flags and environment to a fresh viper instance.
func viperForCmd(cmd *cobra.Command) *viper.Viper {
	v := viper.New()
	_ = v.BindPFlags(cmd.Flags())

	v.SetEnvPrefix("LEAVEPORTAL")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetConfigName("leaveportal")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.config/leaveportal")
	v.AddConfigPath("/etc/leaveportal")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			slog.Warn("error reading config file", "error", err)
		}
	} else {
		slog.Debug("loaded config file", "path", v.ConfigFileUsed())
	}

	return v
}

func runServe(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := store.New(v.GetString("db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	if err := seedAdmin(ctx, db, v.GetString("admin-password")); err != nil {
		return fmt.Errorf("seed admin: %w", err)
	}

	lang := v.GetString("lang")
	if err := appI18n.Init(lang); err != nil {
		return fmt.Errorf("init i18n: %w", err)
	}

	gate, err := identity.New(db, identity.Config{
		SigningKey: v.GetString("jwt-secret"),
		Issuer:     v.GetString("jwt-issuer"),
		TokenTTL:   v.GetDuration("token-ttl"),
	})
	if err != nil {
		return fmt.Errorf("create identity gate: %w", err)
	}

	source, err := questionSource(v, db)
	if err != nil {
		return err
	}

	publisher, err := eventPublisher(v)
	if err != nil {
		return err
	}
	defer publisher.Close()

	limiter, err := rateLimiter(ctx, v)
	if err != nil {
		return err
	}

	m := metrics.New()
	tests := assessment.New(db)
	h := handler.New(handler.Deps{
		Gate:        gate,
		Leaves:      leave.New(db, publisher, m),
		Tests:       tests,
		Engine:      evaluation.New(db, publisher, m),
		Remediation: remediation.New(db, publisher, m),
		Generator:   generator.New(source, generator.NewBankSource(db), tests, db, m),
		Metrics:     m,
		Limiter:     limiter,
		DB:          db,
		Lang:        lang,
		CORSOrigins: v.GetStringSlice("cors-origins"),
	})

	go cleanupSessions(ctx, db)

	addr := v.GetString("addr")
	srv := &http.Server{
		Addr:              addr,
		Handler:           h.Router(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		slog.Info("starting server",
			"addr", addr,
			"lang", lang,
			"question_source", source.Name(),
			"events", v.GetString("amqp-url") != "",
			"redis", v.GetString("redis-addr") != "",
		)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}
	slog.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func questionSource(v *viper.Viper, db *store.Store) (generator.QuestionSource, error) {
	name := strings.ToLower(strings.TrimSpace(v.GetString("question-source")))
	var client *llm.Client
	if name == generator.SourceLLM {
		if err := prompts.Load(prompts.Templates); err != nil {
			return nil, fmt.Errorf("load prompts: %w", err)
		}
		client = llm.New(v.GetString("llm-url"), v.GetString("llm-key"), v.GetString("llm-model"))
		slog.Info("using LLM question source", "url", v.GetString("llm-url"), "model", client.Model())
	}
	src, err := generator.NewSource(name, db, client)
	if err != nil {
		return nil, fmt.Errorf("question source: %w", err)
	}
	return src, nil
}

func eventPublisher(v *viper.Viper) (events.Publisher, error) {
	url := v.GetString("amqp-url")
	if url == "" {
		return events.Noop{}, nil
	}
	p, err := events.NewRabbitMQ(url, v.GetString("amqp-exchange"))
	if err != nil {
		return nil, fmt.Errorf("connect event broker: %w", err)
	}
	return p, nil
}

func rateLimiter(ctx context.Context, v *viper.Viper) (ratelimit.Limiter, error) {
	perMinute := v.GetInt("rate-limit")
	if perMinute <= 0 {
		return nil, nil
	}
	addr := v.GetString("redis-addr")
	if addr == "" {
		return ratelimit.NewTokenBucket(perMinute, perMinute), nil
	}
	l := ratelimit.NewRedisWindow(ratelimit.NewRedisClient(addr), perMinute)
	if !l.Healthy(ctx) {
		return nil, fmt.Errorf("redis at %s is not reachable", addr)
	}
	return l, nil
}

func cleanupSessions(ctx context.Context, db *store.Store) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		n, err := db.CleanupExpiredSessions(ctx)
		if err != nil && ctx.Err() == nil {
			slog.Warn("failed to clean up expired sessions", "error", err)
		} else if n > 0 {
			slog.Debug("removed expired sessions", "count", n)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func runExport(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	db, err := store.New(v.GetString("db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	results, err := db.ExportResults(cmd.Context())
	if err != nil {
		return fmt.Errorf("export results: %w", err)
	}

	export := model.ResultsExport{
		ExportedAt: time.Now().UTC(),
		Results:    results,
	}
	data, err := json.MarshalIndent(export, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal JSON: %w", err)
	}

	outPath := v.GetString("output")
	var w io.Writer
	if outPath == "" || outPath == "-" {
		w = os.Stdout
	} else {
		f, err := os.Create(outPath)
		if err != nil {
			return fmt.Errorf("create output file: %w", err)
		}
		defer f.Close()
		w = f
	}

	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	_, _ = fmt.Fprintln(w)

	slog.Info("exported results", "count", len(results), "output", outPath)
	return nil
}

func runImportBank(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	db, err := store.New(v.GetString("db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	return importBank(cmd.Context(), db, v.GetStringSlice("file"))
}

// importBank loads each bank file once. A file whose content changed since
// its last import is imported again; questions already in the bank are
// skipped by the store.
func importBank(ctx context.Context, db *store.Store, paths []string) error {
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}

		hash := sha256sum(data)
		storedHash, err := db.GetImportedFileHash(ctx, path)
		if err != nil {
			return fmt.Errorf("check import status for %s: %w", path, err)
		}
		if storedHash == hash {
			slog.Info("bank file unchanged, skipping", "path", path)
			continue
		}
		if storedHash != "" {
			slog.Warn("bank file changed since last import, importing new questions", "path", path)
		}

		var questions []model.BankQuestion
		if err := json.Unmarshal(data, &questions); err != nil {
			return fmt.Errorf("parse %s: %w", path, err)
		}
		if err := generator.ValidateBank(questions); err != nil {
			return fmt.Errorf("validate %s: %w", path, err)
		}

		n, err := db.ImportBank(ctx, path, hash, questions)
		if err != nil {
			return fmt.Errorf("import %s: %w", path, err)
		}
		slog.Info("imported question bank", "path", path, "questions", len(questions), "inserted", n)
	}
	return nil
}

func sha256sum(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

func runCreateUser(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	db, err := store.New(v.GetString("db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	balance := v.GetInt("balance")
	u, err := identity.CreateUser(cmd.Context(), db, identity.NewUser{
		Username:     v.GetString("username"),
		DisplayName:  v.GetString("name"),
		Password:     v.GetString("password"),
		Role:         model.UserRole(v.GetString("role")),
		LeaveBalance: &balance,
	})
	if err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "created %s %s (%s)\n", u.Role, u.Username, u.ID)
	return nil
}

func seedAdmin(ctx context.Context, db *store.Store, password string) error {
	count, err := db.UserCount(ctx)
	if err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	if password == "" {
		return fmt.Errorf("admin password is required: set --admin-password flag or LEAVEPORTAL_ADMIN_PASSWORD env var")
	}

	_, err = identity.CreateUser(ctx, db, identity.NewUser{
		Username:    "admin",
		DisplayName: "Administrator",
		Password:    password,
		Role:        model.UserRoleAdmin,
	})
	if err != nil {
		return fmt.Errorf("create admin user: %w", err)
	}

	slog.Info("seeded default admin user", "username", "admin")
	return nil
}
