// internal/example/cli.go
package example

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/dalemusser/nural/app"
	"github.com/dalemusser/nural/config"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
)

// Run dispatches a subcommand and returns the process exit code.
func Run(binName string, args []string) int {
	return run(context.Background(), binName, args, os.Stdout, os.Stderr)
}

func run(ctx context.Context, binName string, args []string, stdout, stderr io.Writer) int {
	if len(args) < 1 {
		usage(binName, stderr)
		return 1
	}

	var err error
	switch args[0] {
	case "serve":
		err = serveCmd(ctx, binName, args[1:])
	case "routes":
		err = routesCmd(ctx, args[1:], stdout)
	case "openapi":
		err = openapiCmd(ctx, args[1:], stdout)
	case "help", "-h", "--help":
		usage(binName, stdout)
		return 0
	default:
		fmt.Fprintf(stderr, "unknown command: %q\n\n", args[0])
		usage(binName, stderr)
		return 1
	}
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return 0
		}
		fmt.Fprintf(stderr, "%s %s: %v\n", binName, args[0], err)
		return 1
	}
	return 0
}

func usage(binName string, w io.Writer) {
	fmt.Fprintf(w, `Usage:
  %[1]s serve   [flags]                     start the HTTP and WebSocket server
  %[1]s routes  [flags]                     list registered routes
  %[1]s openapi [--format json|yaml] [--out file]  print the OpenAPI document

Every command accepts the core flags (--http_port, --framework, --log_level,
...) and the application flags (--jwt_secret, --token_ttl, --redis_url).
`, binName)
}

func serveCmd(ctx context.Context, binName string, args []string) error {
	fs := pflag.NewFlagSet("serve", pflag.ContinueOnError)
	return app.Run(ctx, app.Hooks[Settings]{
		Name: binName,
		LoadConfig: func(logger *zap.Logger) (*config.CoreConfig, Settings, error) {
			cfg, vals, err := config.LoadFlags(logger, fs, args, EnvPrefix, AppKeys)
			if err != nil {
				return nil, Settings{}, err
			}
			return cfg, SettingsFrom(vals), nil
		},
		Configure: Configure,
		Setup:     Setup,
	})
}

// offline builds the application without listening, for commands that
// only inspect it. Redis and cron are left out.
func offline(ctx context.Context, fs *pflag.FlagSet, args []string) (*app.App, error) {
	cfg, vals, err := config.LoadFlags(zap.NewNop(), fs, args, EnvPrefix, AppKeys)
	if err != nil {
		return nil, err
	}
	cfg.Docs.DocsEnabled = true
	cfg.Timeouts.FlushDelay = 0

	a, err := app.New(cfg, append(Options(),
		app.WithLogger(zap.NewNop()),
		app.WithoutSignals(),
		app.WithoutRequestLog(),
		app.WithExitFunc(func(int) {}),
	)...)
	if err != nil {
		return nil, err
	}
	s := SettingsFrom(vals)
	s.RedisURL = ""
	s.CronEnabled = false
	if err := Setup(ctx, a, s); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func routesCmd(ctx context.Context, args []string, stdout io.Writer) error {
	fs := pflag.NewFlagSet("routes", pflag.ContinueOnError)
	a, err := offline(ctx, fs, args)
	if err != nil {
		return err
	}
	defer a.Close()

	tw := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "METHOD\tPATH\tSUMMARY")
	for _, r := range a.Routes() {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", r.Method, r.Path, r.Summary)
	}
	return tw.Flush()
}

func openapiCmd(ctx context.Context, args []string, stdout io.Writer) error {
	fs := pflag.NewFlagSet("openapi", pflag.ContinueOnError)
	format := fs.String("format", "json", "output format: json or yaml")
	out := fs.String("out", "", "write to this file instead of stdout")

	a, err := offline(ctx, fs, args)
	if err != nil {
		return err
	}
	defer a.Close()

	doc, err := a.OpenAPISpec()
	if err != nil {
		return err
	}
	var b []byte
	switch *format {
	case "json":
		b, err = doc.JSON()
	case "yaml", "yml":
		b, err = doc.YAML()
	default:
		return fmt.Errorf("unknown format %q", *format)
	}
	if err != nil {
		return err
	}
	if *out == "" {
		_, err = stdout.Write(b)
		return err
	}
	return os.WriteFile(*out, b, 0o644)
}
