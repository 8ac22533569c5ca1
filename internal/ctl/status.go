package ctl

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"zippytrip.org/internal/remote"
)

// StatusCommand checks the console API's gRPC health service.
func StatusCommand(get envGetter) *cli.Command {
	return &cli.Command{
		Name:  "status",
		Usage: "Check that the console API is serving",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "grpc", Usage: "Console API gRPC address", Value: "localhost:9090", EnvVars: []string{"ZIPPY_GRPC_ADDR"}},
		},
		Action: func(c *cli.Context) error {
			env, err := get()
			if err != nil {
				return err
			}
			ctx, cancel := remote.WithTimeout(c.Context, env.Config.Provider.Timeout)
			defer cancel()
			client, err := remote.Dial(ctx, c.String("grpc"))
			if err != nil {
				return err
			}
			defer client.Close()
			if err := client.Check(ctx, remote.ServiceName); err != nil {
				return err
			}
			fmt.Fprintf(stdoutOr(env.Out), "%s: SERVING\n", c.String("grpc"))
			return nil
		},
	}
}
