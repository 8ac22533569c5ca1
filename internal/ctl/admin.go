package ctl

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/urfave/cli/v2"

	"zippytrip.org/internal/credential"
)

const resetPath = "/v1/admin/reset-password"

// ResetError is a non-200 answer from the admin reset endpoint.
type ResetError struct {
	Status  int
	Message string
}

func (e *ResetError) Error() string {
	return fmt.Sprintf("admin reset failed (%d): %s", e.Status, e.Message)
}

// AdminCommand groups administrator operations.
func AdminCommand(get envGetter) *cli.Command {
	return &cli.Command{
		Name:  "admin",
		Usage: "Administrator operations",
		Subcommands: []*cli.Command{
			{
				Name:  "reset-password",
				Usage: "Set another user's password",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "api", Usage: "Console API base URL", Value: "http://localhost:8080", EnvVars: []string{"ZIPPY_API_URL"}},
					&cli.StringFlag{Name: "user-id", Aliases: []string{"u"}, Usage: "Target user ID", Required: true},
					&cli.StringFlag{Name: "password", Aliases: []string{"p"}, Usage: "New password", EnvVars: []string{"ZIPPY_NEW_PASSWORD"}},
					&cli.StringFlag{Name: "confirm", Usage: "New password again", EnvVars: []string{"ZIPPY_CONFIRM_PASSWORD"}},
					&cli.StringFlag{Name: "token", Usage: "Bearer token; defaults to the token stored by login, refreshed when expired", EnvVars: []string{"ZIPPY_TOKEN"}},
				},
				Action: func(c *cli.Context) error {
					env, err := get()
					if err != nil {
						return err
					}
					if err := credential.ValidateNewPassword(c.String("password"), c.String("confirm")); err != nil {
						return err
					}
					token := c.String("token")
					if token == "" {
						if token, err = env.bearer(c.Context); err != nil {
							return err
						}
					}
					msg, err := adminReset(c.Context, env.HTTPClient, c.String("api"), token, c.String("user-id"), c.String("password"))
					if err != nil {
						return err
					}
					fmt.Fprintln(stdoutOr(env.Out), msg)
					return nil
				},
			},
		},
	}
}

func adminReset(ctx context.Context, hc *http.Client, api, token, userID, password string) (string, error) {
	if hc == nil {
		hc = http.DefaultClient
	}
	body, err := json.Marshal(map[string]string{"userId": userID, "newPassword": password})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(api, "/")+resetPath, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := hc.Do(req)
	if err != nil {
		return "", fmt.Errorf("admin reset request: %w", err)
	}
	defer resp.Body.Close()

	var out struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		return "", err
	}
	_ = json.Unmarshal(raw, &out)
	if resp.StatusCode != http.StatusOK {
		msg := out.Error
		if msg == "" {
			msg = strings.TrimSpace(string(raw))
		}
		return "", &ResetError{Status: resp.StatusCode, Message: msg}
	}
	return out.Message, nil
}
