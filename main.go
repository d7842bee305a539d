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

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/WiredGeist/CEM/pkg/config"
	"github.com/WiredGeist/CEM/pkg/project"
	"github.com/WiredGeist/CEM/pkg/scheduler"
	"github.com/WiredGeist/CEM/pkg/telemetry"
)

// EnvLogLevel selects the log level: debug, info, warn or error.
const EnvLogLevel = "CEM_LOG_LEVEL"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := newRootCommand(os.Stdout).ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

// globals are the flags shared by every command.
type globals struct {
	configPath   string
	otelEndpoint string
	out          io.Writer
}

func (g *globals) logger() *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(os.Getenv(EnvLogLevel))); err != nil {
		level = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// app builds an App and starts its geometry goroutine. The returned func
// stops it.
func (g *globals) app(ctx context.Context, opts Options) (*App, func()) {
	opts.ConfigPath = g.configPath
	if opts.Logger == nil {
		opts.Logger = g.logger()
	}
	a := NewApp(opts)
	a.startup(ctx)
	return a, a.shutdown
}

func newRootCommand(out io.Writer) *cobra.Command {
	g := &globals{out: out}
	root := &cobra.Command{
		Use:           "cem",
		Short:         "Computational engineering model: generative turbojet and lattice parts",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.SetOut(out)
	root.PersistentFlags().StringVar(&g.configPath, "config", "", "settings file (default $"+config.EnvPath+" or the user config dir)")
	root.PersistentFlags().StringVar(&g.otelEndpoint, "otel-endpoint", os.Getenv("CEM_OTEL_ENDPOINT"), "OTLP gRPC collector endpoint")

	root.AddCommand(
		newRunCommand(g),
		newExportCommand(g),
		newKindsCommand(g),
		newParamsCommand(g),
		newConfigCommand(g),
	)
	return root
}

// ---------------------------------------------------------------------------
// run
// ---------------------------------------------------------------------------

func newRunCommand(g *globals) *cobra.Command {
	var (
		projectPath string
		scriptPath  string
		root        string
		watchScript bool
		metricsAddr string
		asJSON      bool
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Build a project or scene script and report the pass",
		Long: `Build a project or scene script and report the pass.

With --watch the script is rebuilt every time it is saved, until interrupted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if projectPath != "" && scriptPath != "" {
				return errors.New("--project and --script are mutually exclusive")
			}
			if watchScript && scriptPath == "" {
				return errors.New("--watch needs --script")
			}
			ctx := cmd.Context()
			shutdownTracing, err := telemetry.Setup(ctx, g.otelEndpoint, "cem")
			if err != nil {
				return fmt.Errorf("telemetry: %w", err)
			}
			defer shutdownTracing(context.Background())

			reg := prometheus.NewRegistry()
			if metricsAddr != "" {
				srv := &http.Server{Addr: metricsAddr, Handler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{})}
				go func() {
					if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						g.logger().Error("metrics server", "error", err)
					}
				}()
				defer srv.Close()
			}

			passes := make(chan *scheduler.Result, 1)
			a, shutdown := g.app(ctx, Options{
				Registerer: reg,
				Renderer: scheduler.RendererFunc(func(r *scheduler.Result) {
					select {
					case passes <- r:
					default:
					}
				}),
			})
			defer shutdown()

			switch {
			case scriptPath != "" && watchScript:
				go printPasses(ctx, cmd.OutOrStdout(), passes)
				err := a.WatchScript(ctx, scriptPath)
				if errors.Is(err, context.Canceled) {
					return nil
				}
				return err
			case scriptPath != "":
				res, err := a.LoadScriptFile(ctx, scriptPath)
				if err != nil {
					return err
				}
				if err := scriptErrors(res); err != nil {
					return err
				}
			case projectPath != "":
				if err := loadProject(ctx, a, projectPath); err != nil {
					return err
				}
			default:
				if err := a.SetRoot(ctx, root); err != nil {
					return err
				}
			}

			select {
			case r := <-passes:
				if asJSON {
					in, err := a.Inspect(ctx)
					if err != nil {
						return err
					}
					enc := json.NewEncoder(cmd.OutOrStdout())
					enc.SetIndent("", "  ")
					return enc.Encode(in)
				}
				printPass(cmd.OutOrStdout(), r)
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		},
	}
	f := cmd.Flags()
	f.StringVar(&projectPath, "project", "", "project file (.json or .yaml)")
	f.StringVar(&scriptPath, "script", "", "scene script")
	f.StringVar(&root, "root", "turbojet", "root component when no project or script is given")
	f.BoolVar(&watchScript, "watch", false, "rebuild the script whenever it changes")
	f.StringVar(&metricsAddr, "metrics", "", "serve Prometheus metrics on this address")
	f.BoolVar(&asJSON, "json", false, "print the tree and read-outs as JSON")
	return cmd
}

func loadProject(ctx context.Context, a *App, path string) error {
	unknown, err := a.Load(ctx, path)
	if errors.Is(err, project.ErrResolutionMismatch) {
		a.log.Warn("project resolution differs from the running one", "error", err)
		err = nil
	}
	if err != nil {
		return err
	}
	if len(unknown) > 0 {
		a.log.Warn("ignored unknown parameters", "keys", strings.Join(unknown, ", "))
	}
	return nil
}

func scriptErrors(res ScriptResult) error {
	if len(res.Errors) == 0 {
		return nil
	}
	msgs := make([]string, 0, len(res.Errors))
	for _, e := range res.Errors {
		if e.Line > 0 {
			msgs = append(msgs, fmt.Sprintf("line %d: %s", e.Line, e.Message))
			continue
		}
		msgs = append(msgs, e.Message)
	}
	return errors.New(strings.Join(msgs, "\n"))
}

func printPasses(ctx context.Context, w io.Writer, passes <-chan *scheduler.Result) {
	for {
		select {
		case <-ctx.Done():
			return
		case r := <-passes:
			printPass(w, r)
		}
	}
}

func printPass(w io.Writer, r *scheduler.Result) {
	rep := r.Report
	fmt.Fprintf(w, "pass %d (%s): built %d, reused %d, suppressed %d, disabled %d, failed %d\n",
		r.Pass, r.Duration.Round(time.Millisecond),
		len(rep.Built), len(rep.Reused), len(rep.Suppressed), len(rep.Disabled), len(rep.Failures))
	for _, f := range rep.Failures {
		fmt.Fprintf(w, "  failed: %v\n", f)
	}
	if r.Mesh != nil {
		fmt.Fprintf(w, "  mesh: %d vertices, %d triangles\n", r.Mesh.VertexCount(), r.Mesh.TriangleCount())
	}
	for name, results := range r.Results {
		for _, res := range results {
			mark := ""
			if res.Warning {
				mark = " (!)"
			}
			fmt.Fprintf(w, "  %s: %s = %g %s%s\n", name, res.Label, res.Value, res.Unit, mark)
		}
	}
}

// ---------------------------------------------------------------------------
// export
// ---------------------------------------------------------------------------

func newExportCommand(g *globals) *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "export <project|script>",
		Short: "Build a project or scene script and write the assembly as STL or 3MF",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			in := args[0]
			if out == "" {
				out = strings.TrimSuffix(in, filepath.Ext(in)) + ".stl"
			}
			a, shutdown := g.app(ctx, Options{})
			defer shutdown()

			switch strings.ToLower(filepath.Ext(in)) {
			case ".json", ".yaml", ".yml":
				if err := loadProject(ctx, a, in); err != nil {
					return err
				}
			default:
				res, err := a.LoadScriptFile(ctx, in)
				if err != nil {
					return err
				}
				if err := scriptErrors(res); err != nil {
					return err
				}
			}
			if err := a.Export(ctx, out); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", out)
			return nil
		},
	}
	cmd.Flags().StringVarP(&out, "output", "o", "", "output file (.stl or .3mf)")
	return cmd
}

// ---------------------------------------------------------------------------
// kinds, params
// ---------------------------------------------------------------------------

func newKindsCommand(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "kinds",
		Short: "List the component kinds",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c := NewCatalog()
			for _, k := range c.Kinds() {
				fmt.Fprintf(cmd.OutOrStdout(), "%-12s %s\n", k, c.Title(k))
			}
			return nil
		},
	}
}

func newParamsCommand(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "params <kind>",
		Short: "List the parameter keys of a component and its declared stages",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := NewApp(Options{ConfigPath: g.configPath, Logger: g.logger()})
			params, err := a.Keys(args[0])
			if err != nil {
				return err
			}
			for _, p := range params {
				fmt.Fprintf(cmd.OutOrStdout(), "%-40q %g [%g..%g]\n", p.Key, p.Value, p.Min, p.Max)
			}
			return nil
		},
	}
}

// ---------------------------------------------------------------------------
// config
// ---------------------------------------------------------------------------

func newConfigCommand(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show or change persisted settings",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "resolution [mm]",
		Short: "Show or set the voxel resolution",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := NewApp(Options{ConfigPath: g.configPath, Logger: g.logger()})
			if len(args) == 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "%g\n", a.Config().VoxelResolution)
				return nil
			}
			v, err := strconv.ParseFloat(args[0], 32)
			if err != nil {
				return fmt.Errorf("resolution: %w", err)
			}
			err = a.ApplyResolution(float32(v))
			if errors.Is(err, config.ErrRestartRequired) {
				fmt.Fprintf(cmd.OutOrStdout(), "saved %g mm; restart to apply\n", v)
				return nil
			}
			return err
		},
	})
	return cmd
}
