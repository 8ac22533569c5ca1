// Package ctl implements zippyctl, the operator CLI for the admin console.
package ctl

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/urfave/cli/v2"

	"zippytrip.org/internal/config"
)

// Build information, set via ldflags.
var (
	Version = "dev"
	Commit  = "unknown"
)

// EnvFunc builds the runtime for one invocation.
type EnvFunc func(c *cli.Context) (*Env, error)

// App creates the CLI application backed by configuration and local storage.
func App() *cli.App {
	return NewApp(func(c *cli.Context) (*Env, error) {
		cfg, err := config.Load(c.String("config"))
		if err != nil {
			return nil, err
		}
		return buildEnv(c.Context, cfg, c.App.Writer)
	})
}

// NewApp creates the CLI application with a custom runtime builder.
func NewApp(build EnvFunc) *cli.App {
	var env *Env
	get := func() (*Env, error) {
		if env == nil {
			return nil, errors.New("runtime not initialized")
		}
		return env, nil
	}
	app := &cli.App{
		Name:    "zippyctl",
		Usage:   "ZippyTrip admin console operator tool",
		Version: fmt.Sprintf("%s (commit: %s)", Version, Commit),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to YAML config",
				EnvVars: []string{"ZIPPY_CONFIG"},
			},
		},
		Commands: []*cli.Command{
			LoginCommand(get),
			LogoutCommand(get),
			WhoamiCommand(get),
			RecoverCommand(get),
			AdminCommand(get),
			StatusCommand(get),
		},
		Before: func(c *cli.Context) error {
			e, err := build(c)
			if err != nil {
				return err
			}
			if e.Out == nil {
				e.Out = c.App.Writer
			}
			e.Start(context.Background())
			env = e
			return nil
		},
		After: func(c *cli.Context) error {
			if env == nil {
				return nil
			}
			err := env.Close()
			env = nil
			return err
		},
	}
	return app
}

// Main runs the application and returns the process exit code.
func Main(args []string, stderr io.Writer) int {
	if err := App().Run(args); err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return 1
	}
	return 0
}

func stdoutOr(w io.Writer) io.Writer {
	if w == nil {
		return os.Stdout
	}
	return w
}
