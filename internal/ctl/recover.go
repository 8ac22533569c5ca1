package ctl

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/urfave/cli/v2"

	"zippytrip.org/internal/nav"
	"zippytrip.org/internal/recovery"
	"zippytrip.org/internal/session"
)

type heldTimer struct{}

func (heldTimer) Stop() bool { return true }

func (e *Env) recovery(n nav.Navigator, hold *func()) *recovery.Controller {
	return recovery.New(e.Provider, e.Store, recovery.Config{
		Origin:        e.Config.Console.Origin,
		ResetPath:     e.Config.Console.ResetPath,
		RedirectDelay: e.Config.Console.RedirectDelay,
		AutoSignIn:    e.Config.Console.AutoSignIn,
		CallTimeout:   e.Config.Provider.Timeout,
	},
		recovery.WithNavigator(n),
		recovery.WithRoles(session.NewRolePolicy(e.Config.Console.AdminRoles...)),
		// редирект выполняем сами после Submit, без ожидания
		recovery.WithAfterFunc(func(_ time.Duration, f func()) recovery.Timer {
			*hold = f
			return heldTimer{}
		}),
	)
}

// RecoverCommand groups the password recovery sequences.
func RecoverCommand(get envGetter) *cli.Command {
	return &cli.Command{
		Name:  "recover",
		Usage: "Password recovery",
		Subcommands: []*cli.Command{
			{
				Name:  "request",
				Usage: "Send a password reset link",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "email", Aliases: []string{"e"}, Usage: "Account e-mail", Required: true},
				},
				Action: func(c *cli.Context) error {
					env, err := get()
					if err != nil {
						return err
					}
					var hold func()
					ctrl := env.recovery(nav.Discard, &hold)
					defer ctrl.Close()
					if err := ctrl.RequestReset(c.Context, c.String("email")); err != nil {
						return err
					}
					out := stdoutOr(env.Out)
					fmt.Fprintln(out, "If the address is registered, a reset link has been sent.")
					if env.Directory != nil {
						if link, ok := env.Directory.LastLink(c.String("email")); ok {
							fmt.Fprintf(out, "link: %s\n", link)
						}
					}
					return nil
				},
			},
			{
				Name:  "redeem",
				Usage: "Set a new password from a reset link",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "link", Usage: "Reset link from the e-mail", Required: true},
					&cli.StringFlag{Name: "password", Aliases: []string{"p"}, Usage: "New password", EnvVars: []string{"ZIPPY_NEW_PASSWORD"}},
					&cli.StringFlag{Name: "confirm", Usage: "New password again", EnvVars: []string{"ZIPPY_CONFIRM_PASSWORD"}},
				},
				Action: func(c *cli.Context) error {
					env, err := get()
					if err != nil {
						return err
					}
					out := stdoutOr(env.Out)
					var next string
					navigator := nav.NavigatorFunc(func(_ context.Context, in nav.Intent) { next = in.Path })
					var hold func()
					ctrl := env.recovery(navigator, &hold)
					defer ctrl.Close()

					u, err := url.Parse(c.String("link"))
					if err != nil {
						return fmt.Errorf("parse link: %w", err)
					}
					loc := &recovery.URLLocation{URL: u}
					if err := ctrl.Load(c.Context, loc); err != nil {
						return err
					}
					fmt.Fprintf(out, "Resetting password for %s\n", ctrl.Email())
					if err := ctrl.Submit(c.Context, c.String("password"), c.String("confirm")); err != nil {
						return err
					}
					if hold != nil {
						hold()
					}
					fmt.Fprintln(out, "Password updated.")
					if next == nav.PathHome {
						fmt.Fprintln(out, "Signed in with the new password.")
					} else {
						fmt.Fprintln(out, "Sign in with the new password: zippyctl login")
					}
					return nil
				},
			},
		},
	}
}
