package ctl

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/urfave/cli/v2"

	"zippytrip.org/internal/session"
	"zippytrip.org/internal/signin"
)

var ErrNotSignedIn = errors.New("not signed in")

type envGetter func() (*Env, error)

func (e *Env) signin() *signin.Controller {
	return signin.New(e.Provider, e.Store, signin.WithRoles(session.NewRolePolicy(e.Config.Console.AdminRoles...)))
}

// LoginCommand signs in with e-mail and password.
func LoginCommand(get envGetter) *cli.Command {
	return &cli.Command{
		Name:  "login",
		Usage: "Sign in to the admin console",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "email", Aliases: []string{"e"}, Usage: "Account e-mail", EnvVars: []string{"ZIPPY_EMAIL"}},
			&cli.StringFlag{Name: "password", Aliases: []string{"p"}, Usage: "Account password", EnvVars: []string{"ZIPPY_PASSWORD"}},
		},
		Action: func(c *cli.Context) error {
			env, err := get()
			if err != nil {
				return err
			}
			sess, err := env.signin().SignIn(c.Context, c.String("email"), c.String("password"))
			if err != nil {
				return err
			}
			if ps, ok := env.Provider.Current(); ok {
				if err := env.saveTokens(c.Context, ps); err != nil {
					return err
				}
			}
			fmt.Fprintf(stdoutOr(env.Out), "Signed in as %s <%s> (%s)\n", sess.DisplayName, sess.Email, sess.Role)
			return nil
		},
	}
}

// LogoutCommand ends the local session.
func LogoutCommand(get envGetter) *cli.Command {
	return &cli.Command{
		Name:  "logout",
		Usage: "Sign out and forget the stored session",
		Action: func(c *cli.Context) error {
			env, err := get()
			if err != nil {
				return err
			}
			if err := env.signin().SignOut(c.Context); err != nil {
				return err
			}
			if err := env.forgetTokens(c.Context); err != nil {
				return err
			}
			fmt.Fprintln(stdoutOr(env.Out), "Signed out")
			return nil
		},
	}
}

// WhoamiCommand prints the stored session.
func WhoamiCommand(get envGetter) *cli.Command {
	return &cli.Command{
		Name:  "whoami",
		Usage: "Show the signed-in user",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "json", Usage: "Print the stored user record as JSON"},
		},
		Action: func(c *cli.Context) error {
			env, err := get()
			if err != nil {
				return err
			}
			sess, ok := env.Store.Restore(c.Context)
			if !ok {
				return ErrNotSignedIn
			}
			out := stdoutOr(env.Out)
			if c.Bool("json") {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(sess)
			}
			fmt.Fprintf(out, "%s <%s>\nrole: %s\nid: %s\nsince: %s\n",
				sess.DisplayName, sess.Email, sess.Role, sess.UserID, sess.EstablishedAt.Format("2006-01-02 15:04:05 MST"))
			return nil
		},
	}
}
