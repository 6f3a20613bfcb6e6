// Command tsxkit runs TypeScript and JavaScript inside the sandboxed
// engine from the command line.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"tsxkit/pkg/engine"
	"tsxkit/pkg/errors"
	"tsxkit/pkg/host"
	"tsxkit/pkg/source"
	"tsxkit/pkg/transpiler"
)

type cliOptions struct {
	root    string
	cdn     string
	offline bool
	verbose bool
	env     []string
}

func main() {
	opts := &cliOptions{}

	root := &cobra.Command{
		Use:           "tsxkit",
		Short:         "Sandboxed TypeScript/JavaScript runner",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.root, "root", ".", "sandbox root directory")
	root.PersistentFlags().StringVar(&opts.cdn, "cdn", "", "override the module CDN origin")
	root.PersistentFlags().BoolVar(&opts.offline, "offline", false, "disable outbound HTTP and remote modules")
	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "enable debug logging")
	root.PersistentFlags().StringArrayVar(&opts.env, "env", nil, "script environment entries (KEY=VALUE)")

	root.AddCommand(newRunCmd(opts), newEvalCmd(opts), newEmitCmd(opts))

	if err := root.Execute(); err != nil {
		if ee, ok := err.(errors.EngineError); ok {
			errors.Display(os.Stderr, []errors.EngineError{ee})
		} else {
			fmt.Fprintln(os.Stderr, "error:", err)
		}
		os.Exit(1)
	}
}

func newRunCmd(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run <file> [args...]",
		Short: "Execute a script file; '-' reads from stdin",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			src, err := readScript(opts, args[0])
			if err != nil {
				return err
			}
			eng, err := buildEngine(opts, args)
			if err != nil {
				return err
			}
			defer eng.Close()
			out, err := eng.ExecuteScript(context.Background(), src)
			printConsole(cmd.OutOrStdout(), out)
			if err != nil {
				return err
			}
			printValue(cmd.OutOrStdout(), out.Value)
			return nil
		},
	}
}

func newEvalCmd(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "eval <code>",
		Short: "Execute inline script text",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, err := buildEngine(opts, nil)
			if err != nil {
				return err
			}
			defer eng.Close()
			out, err := eng.ExecuteScript(context.Background(), source.NewEvalSource(args[0]))
			printConsole(cmd.OutOrStdout(), out)
			if err != nil {
				return err
			}
			printValue(cmd.OutOrStdout(), out.Value)
			return nil
		},
	}
}

func newEmitCmd(opts *cliOptions) *cobra.Command {
	var withMap bool
	cmd := &cobra.Command{
		Use:   "emit <file>",
		Short: "Transpile a file and print the JavaScript",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			src, err := readScript(opts, args[0])
			if err != nil {
				return err
			}
			result, err := transpiler.New(buildLogger(opts)).Module(src)
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), result.Code)
			if withMap {
				fmt.Fprintln(cmd.OutOrStdout())
				cmd.OutOrStdout().Write(result.SourceMap)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&withMap, "sourcemap", false, "also print the source map")
	return cmd
}

func buildEngine(opts *cliOptions, args []string) (*engine.Engine, error) {
	fs, err := host.NewOSFileStore(opts.root)
	if err != nil {
		return nil, err
	}

	env := map[string]string{}
	for _, kv := range opts.env {
		k, v, _ := strings.Cut(kv, "=")
		env[k] = v
	}

	eopts := []engine.Option{
		engine.WithFileStore(fs),
		engine.WithArgv(append([]string{"tsxkit"}, args...)),
		engine.WithEnv(env),
		engine.WithCwd("/"),
		engine.WithLogger(buildLogger(opts)),
	}
	if !opts.offline {
		eopts = append(eopts, engine.WithTransport(host.NewNetTransport()))
	}
	if opts.cdn != "" {
		eopts = append(eopts, engine.WithCDNOrigin(opts.cdn))
	}
	return engine.New(eopts...), nil
}

func buildLogger(opts *cliOptions) zerolog.Logger {
	level := zerolog.WarnLevel
	if opts.verbose {
		level = zerolog.DebugLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).Level(level).With().Timestamp().Logger()
}

// readScript loads a script argument as a sandbox-relative source file.
// "-" reads stdin.
func readScript(opts *cliOptions, arg string) (*source.SourceFile, error) {
	if arg == "-" {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return nil, err
		}
		return source.NewStdinSource(string(data)), nil
	}
	sandboxPath := "/" + strings.TrimPrefix(path.Clean(arg), "/")
	data, err := os.ReadFile(path.Join(opts.root, strings.TrimPrefix(sandboxPath, "/")))
	if err != nil {
		return nil, err
	}
	return source.NewSourceFile(path.Base(sandboxPath), sandboxPath, string(data)), nil
}

func printConsole(w io.Writer, out *engine.Outcome) {
	if out == nil {
		return
	}
	for _, line := range out.Console {
		fmt.Fprintln(w, line.Text)
	}
}

func printValue(w io.Writer, value interface{}) {
	if value == nil {
		return
	}
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		fmt.Fprintln(w, value)
		return
	}
	fmt.Fprintln(w, string(data))
}
