package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"github.com/spf13/pflag"

	"github.com/shhac/grpcsim/internal/domain"
	apperrors "github.com/shhac/grpcsim/internal/errors"
	"github.com/shhac/grpcsim/internal/grpc"
	"github.com/shhac/grpcsim/internal/logging"
	"github.com/shhac/grpcsim/internal/schema"
	"github.com/shhac/grpcsim/internal/storage"
)

const appName = "grpcsim"

const usageHeader = `gRPC JSON Simulator

Usage:
  grpcsim --method dnd5e.Dnd5eService.HealthCheck [--target localhost:50051]
  grpcsim --method dnd5e.Dnd5eService.GetList --data '{"endpoint":"classes","page_size":5}'
  grpcsim --method dnd5e.Dnd5eService.GetItem --data-file request.json
  grpcsim --list

Flags:
`

// cliFlags holds the flags that select what Run does; connection and
// schema settings are bound into Config.
type cliFlags struct {
	method     string
	data       string
	dataFile   string
	list       bool
	help       bool
	template   bool
	describe   bool
	history    int
	configFile string
}

func newFlagSet(f *cliFlags) *pflag.FlagSet {
	d := DefaultConfig()
	fs := pflag.NewFlagSet(appName, pflag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.SortFlags = false

	fs.StringP("target", "t", d.Target, "gRPC server address (host:port)")
	fs.StringVarP(&f.method, "method", "m", "", "fully-qualified method (package.Service.Method)")
	fs.StringVarP(&f.data, "data", "d", "{}", "JSON request payload")
	fs.StringVarP(&f.dataFile, "data-file", "f", "", "read the JSON request payload from a file (overrides --data)")
	fs.BoolVar(&f.list, "list", false, "list services and methods as JSON")
	fs.BoolVarP(&f.help, "help", "h", false, "show this help")
	fs.StringP("schema", "s", d.Schema, "schema to load (.proto or compiled descriptor set)")
	fs.StringSliceP("import-path", "I", nil, "additional import path for .proto files (repeatable)")
	fs.Bool("reflect", false, "load the schema from the target's reflection service")
	fs.Duration("wait", 0, "wait up to this long for the target to become ready before invoking")
	fs.Duration("timeout", d.Timeout, "call timeout")
	fs.Bool("tls", false, "use TLS")
	fs.Bool("insecure-skip-verify", false, "skip TLS certificate verification")
	fs.String("ca-file", "", "CA certificate for TLS")
	fs.String("server-name", "", "override the TLS server name")
	fs.StringArrayP("header", "H", nil, `request metadata as "key: value" (repeatable)`)
	fs.BoolVar(&f.template, "template", false, "print a JSON request template for --method")
	fs.BoolVar(&f.describe, "describe", false, "print the protobuf source of the service declaring --method")
	fs.IntVar(&f.history, "history", 0, "print the N most recent invocations (0 for all)")
	fs.StringVar(&f.configFile, "config", "", "config file (default ./grpcsim.yaml or ./config/grpcsim.yaml)")
	fs.Bool("debug", false, "enable debug logging")
	return fs
}

// App runs simulator commands against one configuration.
type App struct {
	cfg     *Config
	logger  *slog.Logger
	stdout  io.Writer
	stderr  io.Writer
	history storage.Repository
	catalog *schema.Catalog
}

// Option configures an App
type Option func(*App)

// WithHistory records invocations into repo.
func WithHistory(repo storage.Repository) Option {
	return func(a *App) {
		a.history = repo
	}
}

// WithCatalog uses an already loaded catalog instead of loading the
// configured schema.
func WithCatalog(c *schema.Catalog) Option {
	return func(a *App) {
		a.catalog = c
	}
}

// New creates an App writing results to stdout and diagnostics to stderr.
func New(cfg *Config, logger *slog.Logger, stdout, stderr io.Writer, opts ...Option) *App {
	a := &App{
		cfg:    cfg,
		logger: logger,
		stdout: stdout,
		stderr: stderr,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Run parses args, executes the selected command and returns the process
// exit code.
func Run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	var flags cliFlags
	fs := newFlagSet(&flags)
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	if flags.help {
		fmt.Fprint(stdout, usageHeader+fs.FlagUsages())
		return 0
	}

	cfg, err := LoadConfig(fs, flags.configFile)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	logger, err := logging.InitLogger(appName, cfg.Debug, cfg.LogFile, stderr)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	var opts []Option
	if cfg.History.Enabled || fs.Changed("history") {
		repo, err := openHistory(cfg, logger)
		if err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		opts = append(opts, WithHistory(repo))
	}
	a := New(cfg, logger, stdout, stderr, opts...)

	switch {
	case fs.Changed("history"):
		err = a.PrintHistory(flags.history)
	case flags.list:
		err = a.List(ctx)
	case flags.method == "":
		err = errors.New("--method dnd5e.Dnd5eService.MethodName is required")
	case flags.template:
		err = a.Template(ctx, flags.method)
	case flags.describe:
		err = a.Describe(ctx, flags.method)
	default:
		var raw []byte
		raw, err = readPayload(flags)
		if err == nil {
			err = a.Call(ctx, flags.method, raw)
		}
	}

	if err != nil {
		a.report(err)
		return 1
	}
	return 0
}

func openHistory(cfg *Config, logger *slog.Logger) (*storage.JSONRepository, error) {
	dir := cfg.History.Path
	if dir == "" {
		p, err := storage.DefaultStoragePath()
		if err != nil {
			return nil, fmt.Errorf("resolve history path: %w", err)
		}
		dir = p
	}
	return storage.NewJSONRepository(dir, logger), nil
}

// readPayload returns the request body; --data-file overrides --data.
func readPayload(f cliFlags) ([]byte, error) {
	if f.dataFile != "" {
		data, err := os.ReadFile(f.dataFile)
		if err != nil {
			return nil, &apperrors.Failure{
				Kind:    apperrors.KindInvalidPayload,
				Message: fmt.Sprintf("read data file: %v", err),
				Err:     err,
			}
		}
		return data, nil
	}
	return []byte(f.data), nil
}

// loadCatalog loads the schema from the target's reflection service, from
// etcd when a key is configured, or else from the local schema path.
func (a *App) loadCatalog(ctx context.Context) (*schema.Catalog, error) {
	if a.catalog != nil {
		return a.catalog, nil
	}

	opts := []schema.Option{
		schema.WithImportPaths(a.cfg.ImportPaths...),
		schema.WithNormalization(a.cfg.Normalization),
		schema.WithLogger(a.logger),
	}

	var (
		c   *schema.Catalog
		err error
	)
	switch {
	case a.cfg.Reflect:
		c, err = a.reflectCatalog(ctx, opts)
	case a.cfg.Etcd.Key != "" && len(a.cfg.Etcd.Endpoints) > 0:
		cli, dialErr := schema.DialEtcd(a.cfg.Etcd.Endpoints, a.cfg.Etcd.DialTimeout)
		if dialErr != nil {
			return nil, apperrors.NewFailure(apperrors.KindSchemaLoad, "connect to etcd: %v", dialErr)
		}
		defer cli.Close()
		c, err = schema.LoadFromEtcd(ctx, cli, a.cfg.Etcd.Key, opts...)
	default:
		c, err = schema.Load(a.cfg.Schema, opts...)
	}
	if err != nil {
		return nil, err
	}
	a.catalog = c
	return c, nil
}

func (a *App) reflectCatalog(ctx context.Context, opts []schema.Option) (*schema.Catalog, error) {
	ch, err := grpc.OpenChannel(a.cfg.Connection(), a.logger)
	if err != nil {
		return nil, &apperrors.Failure{
			Kind:    apperrors.KindTransport,
			Message: err.Error(),
			Err:     err,
		}
	}
	defer ch.Close()

	ctx, cancel := context.WithTimeout(ctx, a.cfg.Timeout)
	defer cancel()
	return schema.LoadFromReflection(ctx, ch.Conn(), a.cfg.Target, opts...)
}

type listEntry struct {
	Package string   `json:"package"`
	Service string   `json:"service"`
	Methods []string `json:"methods"`
}

// List prints every service of the schema with its methods.
func (a *App) List(ctx context.Context) error {
	c, err := a.loadCatalog(ctx)
	if err != nil {
		return err
	}

	services := c.Enumerate()
	out := make([]listEntry, 0, len(services))
	for _, svc := range services {
		out = append(out, listEntry{
			Package: svc.Package,
			Service: svc.Name,
			Methods: svc.MethodNames(),
		})
	}
	return a.printJSON(out)
}

// Template prints an example request payload for method.
func (a *App) Template(ctx context.Context, method string) error {
	c, err := a.loadCatalog(ctx)
	if err != nil {
		return err
	}
	tmpl, err := c.Template(method)
	if err != nil {
		return err
	}
	return a.printJSON(tmpl)
}

// Describe prints the protobuf source of the service declaring method.
func (a *App) Describe(ctx context.Context, method string) error {
	c, err := a.loadCatalog(ctx)
	if err != nil {
		return err
	}
	txt, err := c.Describe(method)
	if err != nil {
		return err
	}
	fmt.Fprintln(a.stdout, strings.TrimRight(txt, "\n"))
	return nil
}

// Call performs one unary invocation of method with the raw JSON payload
// and prints the decoded response.
func (a *App) Call(ctx context.Context, method string, raw []byte) error {
	c, err := a.loadCatalog(ctx)
	if err != nil {
		return err
	}

	payload, err := schema.UnmarshalJSON(raw)
	if err != nil {
		return &apperrors.Failure{
			Kind:    apperrors.KindInvalidPayload,
			Message: fmt.Sprintf("request is not valid JSON: %v", err),
			Err:     err,
		}
	}
	md, err := a.cfg.Metadata()
	if err != nil {
		return apperrors.NewFailure(apperrors.KindInvalidPayload, "%v", err)
	}

	// Resolve before probing so name errors never touch the network.
	if _, err := c.Lookup(method); err != nil {
		return err
	}

	conn := a.cfg.Connection()
	if a.cfg.Wait > 0 {
		if err := a.waitReady(ctx, conn); err != nil {
			return err
		}
	}

	inv := grpc.NewInvoker(c, a.logger, grpc.WithCallTimeout(a.cfg.Timeout))
	res := inv.Invoke(ctx, domain.InvocationRequest{
		Connection: conn,
		Method:     method,
		Payload:    payload,
		Metadata:   md,
	})
	a.record(method, raw, md, res)

	if !res.OK() {
		return res.Failure
	}
	return a.printJSON(res.Payload)
}

func (a *App) waitReady(ctx context.Context, conn domain.Connection) error {
	p := grpc.NewProber(a.logger, grpc.WithProbeSlice(a.cfg.ProbeSlice))
	ready, err := p.WaitUntilReady(ctx, conn.Address, conn, a.cfg.Wait)
	if err != nil {
		return err
	}
	if !ready {
		return apperrors.NewFailure(apperrors.KindNotReady,
			"%s not ready after %s", conn.Address, a.cfg.Wait)
	}
	return nil
}

// record appends the invocation to the history log. A history write
// failure is logged and never fails the call.
func (a *App) record(method string, raw []byte, md map[string]string, res domain.InvocationResult) {
	if a.history == nil {
		return
	}

	entry := domain.HistoryEntry{
		ID:        uuid.NewString(),
		Timestamp: time.Now(),
		Target:    a.cfg.Target,
		Method:    method,
		Request:   string(raw),
		Duration:  res.Duration,
		Status:    "success",
		Metadata:  md,
	}
	if res.OK() {
		if body, err := sonic.MarshalString(res.Payload); err == nil {
			entry.Response = body
		}
	} else {
		entry.Status = "error"
		entry.ErrorKind = res.Failure.Kind.String()
		entry.Error = res.Failure.Message
		if res.Failure.HasCode {
			entry.Code = res.Failure.Code.String()
		}
	}

	if err := a.history.AddHistoryEntry(entry); err != nil {
		a.logger.Info("failed to record history", slog.Any("error", err))
	}
}

// PrintHistory prints up to limit recent invocations, newest first.
func (a *App) PrintHistory(limit int) error {
	if a.history == nil {
		return a.printJSON([]domain.HistoryEntry{})
	}
	entries, err := a.history.GetHistory(limit)
	if err != nil {
		return err
	}
	return a.printJSON(entries)
}

func (a *App) printJSON(v any) error {
	out, err := schema.MarshalIndent(v)
	if err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	fmt.Fprintln(a.stdout, string(out))
	return nil
}

// report writes err to stderr as a single line.
func (a *App) report(err error) {
	var f *apperrors.Failure
	if errors.As(err, &f) {
		fmt.Fprintln(a.stderr, f.Diagnostic())
		return
	}
	fmt.Fprintln(a.stderr, "Error: "+strings.ReplaceAll(err.Error(), "\n", " "))
}
