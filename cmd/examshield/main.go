package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pavelanni/examshield/internal/catalog"
	"github.com/pavelanni/examshield/internal/grading"
	"github.com/pavelanni/examshield/internal/handler"
	appI18n "github.com/pavelanni/examshield/internal/i18n"
	"github.com/pavelanni/examshield/internal/llm"
	"github.com/pavelanni/examshield/internal/model"
	"github.com/pavelanni/examshield/internal/store"
	"github.com/pavelanni/examshield/internal/submission"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "examshield",
		Short: "Proctored online exams with automatic grading",
	}

	serve := serveCmd()
	root.AddCommand(serve, importCmd(), gradeCmd(), exportCmd(), extractCmd())

	// Make "serve" the default when no subcommand is given.
	root.RunE = serve.RunE

	// Register serve flags on root so bare `examshield --addr ...` still works.
	root.Flags().AddFlagSet(serve.Flags())

	return root
}

func addLogFlags(cmd *cobra.Command) {
	cmd.Flags().String("log-level", "info", "Log level (debug, info, warn, error)")
	cmd.Flags().String("log-format", "text", "Log format (text, json)")
}

func addLLMFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("llm-url", "http://localhost:11434/v1", "OpenAI-compatible API base URL")
	f.String("llm-key", "ollama", "API key for LLM")
	f.String("llm-model", "llama3.2", "LLM model name")
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP exam server",
		RunE:  runServe,
	}
	f := cmd.Flags()
	f.StringP("addr", "a", ":8080", "HTTP listen address")
	f.String("db", "examshield.db", "SQLite database path")
	f.StringSliceP("exams", "e", nil, "Exam files to import at startup (repeatable)")
	f.StringP("lang", "l", "en", "Fallback language for API messages (en, ar)")
	f.String("base-path", "", "URL prefix for sub-path deployments (e.g. /exams)")
	f.StringSlice("allowed-origins", nil, "Origins allowed by CORS (empty allows all)")
	f.Bool("suggestions", false, "Enable LLM score suggestions for manually reviewed answers")
	addLLMFlags(cmd)
	addLogFlags(cmd)
	return cmd
}

func importCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import FILE...",
		Short: "Import exams from JSON exam files",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runImport,
	}
	cmd.Flags().String("db", "examshield.db", "SQLite database path")
	addLogFlags(cmd)
	return cmd
}

func gradeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "grade",
		Short: "Grade an answers file against an exam file without storing anything",
		RunE:  runGrade,
	}
	f := cmd.Flags()
	f.String("exam", "", "Exam file in the import format, one definition or an array (required)")
	f.Int("exam-index", 0, "Which definition to grade when the exam file holds several")
	f.String("answers", "", "Student answers JSON file (required)")
	addLogFlags(cmd)

	_ = cmd.MarkFlagRequired("exam")
	_ = cmd.MarkFlagRequired("answers")
	return cmd
}

func exportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export exam results as JSON",
		RunE:  runExport,
	}
	f := cmd.Flags()
	f.String("db", "examshield.db", "SQLite database path")
	f.String("exam-id", "", "Exam to export (required)")
	f.StringP("output", "o", "-", "Output file path (- for stdout)")
	addLogFlags(cmd)

	_ = cmd.MarkFlagRequired("exam-id")
	return cmd
}

func extractCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "extract",
		Short: "Draft exam questions from a text file with an LLM",
		RunE:  runExtract,
	}
	f := cmd.Flags()
	f.StringP("input", "i", "", "Source text file (required)")
	f.StringP("title", "t", "", "Exam title (defaults to the input file name)")
	f.IntP("max-questions", "n", 10, "Maximum number of questions to extract")
	f.Bool("import", false, "Store the drafted exam instead of printing it")
	f.String("db", "examshield.db", "SQLite database path")
	f.StringP("output", "o", "-", "Output file path (- for stdout)")
	addLLMFlags(cmd)
	addLogFlags(cmd)

	_ = cmd.MarkFlagRequired("input")
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

// viperForCmd binds a command's flags, a .env file and the environment to a
// fresh viper instance.
func viperForCmd(cmd *cobra.Command) *viper.Viper {
	_ = godotenv.Load()

	v := viper.New()
	_ = v.BindPFlags(cmd.Flags())

	v.SetEnvPrefix("EXAMSHIELD")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetConfigName("examshield")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.config/examshield")
	v.AddConfigPath("/etc/examshield")
	v.AddConfigPath("/data")
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			slog.Warn("error reading config file", "error", err)
		}
	} else {
		slog.Info("loaded config file", "path", v.ConfigFileUsed())
	}

	return v
}

func normalizeBasePath(p string) string {
	p = strings.TrimRight(strings.TrimSpace(p), "/")
	if p != "" && !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return p
}

func runServe(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	db, err := store.New(v.GetString("db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	lang := v.GetString("lang")
	if err := appI18n.Init(lang); err != nil {
		return fmt.Errorf("init i18n: %w", err)
	}

	engine := grading.New()
	cat := catalog.New(db, engine)
	if err := importFiles(cmd.Context(), cat, v.GetStringSlice("exams")); err != nil {
		return fmt.Errorf("import exams: %w", err)
	}

	var reviewer handler.Reviewer
	if v.GetBool("suggestions") {
		reviewer = llm.New(v.GetString("llm-url"), v.GetString("llm-key"), v.GetString("llm-model"))
		slog.Info("score suggestions enabled", "url", v.GetString("llm-url"), "model", v.GetString("llm-model"))
	}

	cfg := model.ServerConfig{
		AllowedOrigins: v.GetStringSlice("allowed-origins"),
		Lang:           lang,
		BasePath:       normalizeBasePath(v.GetString("base-path")),
	}
	h := handler.New(db, cat, submission.NewService(db, engine), reviewer, cfg)

	srv := &http.Server{
		Addr:              v.GetString("addr"),
		Handler:           h.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		slog.Info("starting server",
			"addr", srv.Addr,
			"lang", lang,
			"base_path", cfg.BasePath,
			"allowed_origins", cfg.AllowedOrigins,
			"suggestions", reviewer != nil,
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

	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func importFiles(ctx context.Context, cat *catalog.Catalog, paths []string) error {
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}
		if _, err := cat.ImportFile(ctx, path, data); err != nil {
			return err
		}
	}
	return nil
}

func runImport(cmd *cobra.Command, args []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	db, err := store.New(v.GetString("db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	return importFiles(cmd.Context(), catalog.New(db, grading.New()), args)
}

// runGrade grades offline: the exam file uses the import format, the answers
// file holds a submission envelope or a bare list of answers.
func runGrade(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	engine := grading.New()
	exam, err := loadExamFile(engine, v.GetString("exam"), v.GetInt("exam-index"))
	if err != nil {
		return err
	}
	answers, err := readAnswers(v.GetString("answers"))
	if err != nil {
		return err
	}

	res, err := engine.Grade(exam.Questions, answers)
	if err != nil {
		return fmt.Errorf("grade: %w", err)
	}
	return writeJSON("-", res)
}

// loadExamFile validates one definition of an exam file the way import does.
// Questions without an id are numbered q1, q2, ... by position so answers
// can refer to them.
func loadExamFile(engine *grading.Engine, path string, index int) (model.Exam, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return model.Exam{}, fmt.Errorf("read %s: %w", path, err)
	}
	defs, err := catalog.DecodeDefinitions(data)
	if err != nil {
		return model.Exam{}, fmt.Errorf("parse %s: %w", path, err)
	}
	if index < 0 || index >= len(defs) {
		return model.Exam{}, fmt.Errorf("%s holds %d exams, no exam at index %d", path, len(defs), index)
	}
	def := defs[index]
	for i := range def.Questions {
		if def.Questions[i].ID == "" {
			def.Questions[i].ID = "q" + strconv.Itoa(i+1)
		}
	}
	// Build only validates; it never touches the store.
	return catalog.New(nil, engine).Build(def)
}

func readAnswers(path string) ([]model.StudentAnswer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	trimmed := strings.TrimSpace(string(data))
	if strings.HasPrefix(trimmed, "[") {
		var answers []model.StudentAnswer
		if err := json.Unmarshal(data, &answers); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
		return answers, nil
	}
	var req submission.Request
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return req.Answers, nil
}

func runExport(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	db, err := store.New(v.GetString("db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	export, err := db.ExportSubmissions(cmd.Context(), v.GetString("exam-id"))
	if err != nil {
		return fmt.Errorf("export submissions: %w", err)
	}
	slog.Info("exported results", "exam_id", export.ExamID, "results", len(export.Results))
	return writeJSON(v.GetString("output"), export)
}

func runExtract(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	input := v.GetString("input")
	text, err := os.ReadFile(input)
	if err != nil {
		return fmt.Errorf("read %s: %w", input, err)
	}

	client := llm.New(v.GetString("llm-url"), v.GetString("llm-key"), v.GetString("llm-model"))
	extracted, err := client.ExtractQuestions(cmd.Context(), string(text), v.GetInt("max-questions"))
	if err != nil {
		return fmt.Errorf("extract questions: %w", err)
	}

	title := v.GetString("title")
	if title == "" {
		title = strings.TrimSuffix(filepath.Base(input), filepath.Ext(input))
	}
	def := catalog.Definition{Title: title, Questions: make([]model.Question, len(extracted))}
	for i, q := range extracted {
		def.Questions[i] = q.Question
	}

	if !v.GetBool("import") {
		return writeJSON(v.GetString("output"), def)
	}

	db, err := store.New(v.GetString("db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	exam, err := catalog.New(db, grading.New()).Create(cmd.Context(), def)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), exam.ID)
	return nil
}

func writeJSON(outPath string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal JSON: %w", err)
	}

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
	// Ensure trailing newline.
	_, _ = fmt.Fprintln(w)
	return nil
}
