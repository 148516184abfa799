// Command taskctl creates, queries and mutates tasks in the configured store
// and prints the results as JSON.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"

	"taskengine/internal/core"
	"taskengine/internal/query"
	"taskengine/pkg/domain"
)

const (
	exitOK       = 0
	exitFailed   = 1 // not found, validation or malformed input
	exitUsage    = 2
	exitInternal = 3 // persistence or backend failure
)

var exitFunc = os.Exit

func main() {
	exitFunc(cli(context.Background(), os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

type usageError struct{ msg string }

func (e usageError) Error() string { return e.msg }

func usagef(format string, args ...any) error {
	return usageError{msg: fmt.Sprintf(format, args...)}
}

type inputError struct{ err error }

func (e inputError) Error() string { return e.err.Error() }
func (e inputError) Unwrap() error { return e.err }

type env struct {
	svc   *core.Service
	body  string
	stdin io.Reader
}

type command struct {
	usage string
	run   func(ctx context.Context, e env, args []string) (any, error)
}

var commands = map[string]command{
	"create":      {"create", runCreate},
	"get":         {"get <id>", runGet},
	"update":      {"update <id>", runUpdate},
	"patch":       {"patch <id>", runPatch},
	"delete":      {"delete <id>", runDelete},
	"list":        {"list [query flags]", runList},
	"bulk-patch":  {"bulk-patch <id,id,...>", runBulkPatch},
	"bulk-delete": {"bulk-delete <id,id,...>", runBulkDelete},
	"report":      {"report", runReport},
}

func printUsage(w io.Writer, fs *flag.FlagSet) {
	_, _ = fmt.Fprintln(w, "usage: taskctl [flags] <command> [args]")
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)
	_, _ = fmt.Fprintln(w, "commands:")
	for _, name := range names {
		_, _ = fmt.Fprintf(w, "  %s\n", commands[name].usage)
	}
	_, _ = fmt.Fprintln(w, "flags:")
	fs.PrintDefaults()
}

func cli(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("taskctl", flag.ContinueOnError)
	fs.SetOutput(stderr)
	storage := fs.String("storage", "", "storage driver: memory|file|sqlite|postgres|blob (default from TASKENGINE_STORAGE_DRIVER)")
	data := fs.String("data", "", "data path for the file or sqlite driver")
	body := fs.String("body", "", "JSON request body; read from stdin when empty")
	metrics := fs.Bool("metrics", false, "print Prometheus metrics for this run to stderr")
	fs.Usage = func() { printUsage(stderr, fs) }
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}
	rest := fs.Args()
	if len(rest) == 0 {
		fs.Usage()
		return exitUsage
	}
	name := rest[0]
	cmd, ok := commands[name]
	if !ok {
		_, _ = fmt.Fprintf(stderr, "taskctl: unknown command %q\n", name)
		fs.Usage()
		return exitUsage
	}

	cfg, err := core.StorageConfigFromEnv()
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "taskctl: %v\n", err)
		return exitUsage
	}
	applyFlags(&cfg, *storage, *data)

	logger := newLogger(stderr, os.Getenv("TASKENGINE_LOG_LEVEL"))
	reg := prometheus.NewRegistry()
	recorder, err := core.NewPrometheusMetricsRecorder(reg)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "taskctl: %v\n", err)
		return exitInternal
	}
	svc, closer, err := core.OpenService(ctx, cfg, core.WithLogger(logger), core.WithMetricsRecorder(recorder))
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "taskctl: %v\n", err)
		return exitInternal
	}
	defer func() {
		if err := closer.Close(); err != nil {
			logger.Warn("close storage", "error", err)
		}
	}()

	out, runErr := cmd.run(ctx, env{svc: svc, body: *body, stdin: stdin}, rest[1:])
	if out != nil {
		if err := writeJSON(stdout, out); err != nil {
			_, _ = fmt.Fprintf(stderr, "taskctl: write output: %v\n", err)
			return exitInternal
		}
	}
	if runErr != nil {
		_, _ = fmt.Fprintf(stderr, "taskctl %s: %v\n", name, runErr)
		var usage usageError
		if errors.As(runErr, &usage) {
			_, _ = fmt.Fprintf(stderr, "usage: taskctl %s\n", cmd.usage)
		}
	}
	if *metrics {
		if err := writeMetrics(stderr, reg); err != nil {
			_, _ = fmt.Fprintf(stderr, "taskctl: write metrics: %v\n", err)
		}
	}
	return exitCode(runErr)
}

func applyFlags(cfg *core.StorageConfig, storage, data string) {
	if storage != "" {
		cfg.Driver = core.StorageDriver(storage)
	}
	if data == "" {
		return
	}
	switch cfg.Driver {
	case core.StorageSQLite:
		cfg.SQLitePath = data
	default:
		cfg.DataPath = data
	}
}

func exitCode(err error) int {
	var usage usageError
	var input inputError
	switch {
	case err == nil:
		return exitOK
	case errors.As(err, &usage):
		return exitUsage
	case domain.IsPersistence(err):
		return exitInternal
	case domain.IsNotFound(err), domain.IsValidation(err), errors.As(err, &input):
		return exitFailed
	default:
		return exitInternal
	}
}

func newLogger(w io.Writer, level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.TrimSpace(level))); err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: lvl}))
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func writeMetrics(w io.Writer, g prometheus.Gatherer) error {
	families, err := g.Gather()
	if err != nil {
		return err
	}
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return err
		}
	}
	return nil
}

func readBody(e env) ([]byte, error) {
	if e.body != "" {
		return []byte(e.body), nil
	}
	if e.stdin == nil {
		return nil, usagef("request body required")
	}
	data, err := io.ReadAll(e.stdin)
	if err != nil {
		return nil, fmt.Errorf("read stdin: %w", err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, usagef("request body required")
	}
	return data, nil
}

func decodeInput(e env) (domain.TaskInput, error) {
	data, err := readBody(e)
	if err != nil {
		return domain.TaskInput{}, err
	}
	var in domain.TaskInput
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&in); err != nil {
		return domain.TaskInput{}, inputError{fmt.Errorf("decode task: %w", err)}
	}
	return in, nil
}

func decodePatch(e env) (domain.TaskPatch, error) {
	data, err := readBody(e)
	if err != nil {
		return domain.TaskPatch{}, err
	}
	patch, err := domain.DecodePatch(data)
	if err != nil {
		return domain.TaskPatch{}, inputError{err}
	}
	return patch, nil
}

func singleID(args []string) (int64, error) {
	if len(args) != 1 {
		return 0, usagef("expected exactly one id")
	}
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil || id < 1 {
		return 0, usagef("invalid id %q", args[0])
	}
	return id, nil
}

// parseIDs accepts ids as separate arguments, comma-separated, or both.
func parseIDs(args []string) ([]int64, error) {
	var ids []int64
	for _, arg := range args {
		for _, part := range strings.Split(arg, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			id, err := strconv.ParseInt(part, 10, 64)
			if err != nil {
				return nil, usagef("invalid id %q", part)
			}
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return nil, usagef("at least one id required")
	}
	return ids, nil
}

func runCreate(ctx context.Context, e env, args []string) (any, error) {
	if len(args) != 0 {
		return nil, usagef("create takes no arguments")
	}
	in, err := decodeInput(e)
	if err != nil {
		return nil, err
	}
	task, err := e.svc.CreateTask(ctx, in)
	return committedOutput(task, err)
}

func runGet(ctx context.Context, e env, args []string) (any, error) {
	id, err := singleID(args)
	if err != nil {
		return nil, err
	}
	task, err := e.svc.GetTask(ctx, id)
	if err != nil {
		return nil, err
	}
	return task, nil
}

func runUpdate(ctx context.Context, e env, args []string) (any, error) {
	id, err := singleID(args)
	if err != nil {
		return nil, err
	}
	in, err := decodeInput(e)
	if err != nil {
		return nil, err
	}
	task, err := e.svc.UpdateTask(ctx, id, in)
	return committedOutput(task, err)
}

func runPatch(ctx context.Context, e env, args []string) (any, error) {
	id, err := singleID(args)
	if err != nil {
		return nil, err
	}
	patch, err := decodePatch(e)
	if err != nil {
		return nil, err
	}
	task, err := e.svc.PatchTask(ctx, id, patch)
	return committedOutput(task, err)
}

func runDelete(ctx context.Context, e env, args []string) (any, error) {
	id, err := singleID(args)
	if err != nil {
		return nil, err
	}
	task, err := e.svc.DeleteTask(ctx, id)
	return committedOutput(task, err)
}

// committedOutput still prints the task when the change is applied in memory
// but could not be persisted.
func committedOutput(task domain.Task, err error) (any, error) {
	if err != nil && !domain.IsPersistence(err) {
		return nil, err
	}
	return task, err
}

func runList(ctx context.Context, e env, args []string) (any, error) {
	fs := flag.NewFlagSet("list", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	params := query.MapParams{}
	for _, name := range []struct{ flag, key string }{
		{"page", "page"},
		{"limit", "limit"},
		{"sort-by", "sortBy"},
		{"sort-order", "sortOrder"},
		{"status", "status"},
		{"priority", "priority"},
		{"assigned-to", "assignedTo"},
		{"search", "search"},
		{"tags", "tags"},
		{"due-from", "dueDateFrom"},
		{"due-to", "dueDateTo"},
	} {
		key := name.key
		fs.Func(name.flag, "query "+key, func(v string) error {
			params[key] = v
			return nil
		})
	}
	overdue := fs.Bool("overdue", false, "only overdue tasks")
	if err := fs.Parse(args); err != nil {
		return nil, usagef("%v", err)
	}
	if fs.NArg() > 0 {
		return nil, usagef("unexpected argument %q", fs.Arg(0))
	}
	if *overdue {
		params["overdue"] = "true"
	}
	res, err := e.svc.ListTasks(ctx, query.ParseOptions(params))
	if err != nil {
		return nil, err
	}
	return res, nil
}

func runBulkPatch(ctx context.Context, e env, args []string) (any, error) {
	ids, err := parseIDs(args)
	if err != nil {
		return nil, err
	}
	patch, err := decodePatch(e)
	if err != nil {
		return nil, err
	}
	return e.svc.BulkPatch(ctx, ids, patch), nil
}

func runBulkDelete(ctx context.Context, e env, args []string) (any, error) {
	ids, err := parseIDs(args)
	if err != nil {
		return nil, err
	}
	return e.svc.BulkDelete(ctx, ids), nil
}

func runReport(ctx context.Context, e env, args []string) (any, error) {
	if len(args) != 0 {
		return nil, usagef("report takes no arguments")
	}
	rep, err := e.svc.Report(ctx)
	if err != nil {
		return nil, err
	}
	return rep, nil
}
