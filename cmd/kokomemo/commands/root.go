package commands

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/urfave/cli/v3"
	"golang.org/x/term"

	"github.com/florianilch/kokomemo/internal/app"
	"github.com/florianilch/kokomemo/internal/observability"
)

// Execute runs the root command with the given context and arguments.
func Execute(ctx context.Context, args []string) error {
	return newRootCommand(os.Stdin, os.Stdout).Run(ctx, args)
}

func newRootCommand(stdin io.Reader, stdout io.Writer) *cli.Command {
	return &cli.Command{
		Name:      "kokomemo",
		Usage:     "KokoMemo session client and local API gateway",
		Reader:    stdin,
		Writer:    stdout,
		ErrWriter: os.Stderr,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "path to config file",
			},
			&cli.StringFlag{
				Name:  "env-file",
				Usage: "dotenv file loaded beneath the environment",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "log level (debug|info|warn|error)",
				Value: slog.LevelInfo.String(),
			},
			&cli.StringFlag{
				Name:  "log-format",
				Usage: "log format (text|json|otel|otlp)",
				Value: string(app.DefaultConfigLogFormat),
			},
			&cli.StringFlag{
				Name:  "api--base-url",
				Usage: "API base URL",
				Value: app.DefaultConfigAPIBaseURL,
			},
			&cli.StringFlag{
				Name:  "credentials--storage",
				Usage: "credential storage (file|keyring|redis|memory)",
				Value: string(app.DefaultConfigCredentialsStorage),
			},
			&cli.StringFlag{
				Name:  "credentials--file",
				Usage: "credentials file for file storage",
			},
		},
		Commands: []*cli.Command{
			loginCommand(),
			logoutCommand(),
			whoamiCommand(),
			requestCommand(),
			serveCommand(),
		},
	}
}

// withApp loads the configuration, installs logging and hands a ready App to fn.
func withApp(ctx context.Context, cmd *cli.Command, fn func(*app.App) error) (err error) {
	cfg, err := configFromCommand(cmd)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Set up observability before creating app
	shutdown, err := observability.Instrument(ctx, observability.Options{
		Level:    cfg.LogLevel,
		Format:   string(cfg.LogFormat),
		Endpoint: cfg.Telemetry.Endpoint,
		Protocol: cfg.Telemetry.Protocol,
	})
	if err != nil {
		return fmt.Errorf("failed to set up observability layer: %w", err)
	}
	defer func() {
		err = errors.Join(err, shutdown(context.WithoutCancel(ctx)))
	}()

	application, err := app.New(cfg)
	if err != nil {
		return fmt.Errorf("failed to create app: %w", err)
	}
	defer func() {
		err = errors.Join(err, application.Close())
	}()

	return fn(application)
}

func loginCommand() *cli.Command {
	return &cli.Command{
		Name:  "login",
		Usage: "log in with an identity-provider assertion",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "service",
				Usage: "identity provider",
				Value: "google",
			},
			&cli.StringFlag{
				Name:  "token",
				Usage: "identity-provider assertion (prompted for when omitted)",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			assertion := cmd.String("token")
			if assertion == "" {
				var err error
				if assertion, err = promptSecret(cmd, "Assertion: "); err != nil {
					return fmt.Errorf("reading assertion: %w", err)
				}
			}

			return withApp(ctx, cmd, func(a *app.App) error {
				identity, err := a.Sessions().Login(ctx, cmd.String("service"), assertion)
				if err != nil {
					return err
				}
				_, err = fmt.Fprintf(cmd.Root().Writer, "Hello, %s!\n", identity.Name)
				return err
			})
		},
	}
}

func logoutCommand() *cli.Command {
	return &cli.Command{
		Name:  "logout",
		Usage: "end the session and forget stored credentials",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return withApp(ctx, cmd, func(a *app.App) error {
				if err := a.Sessions().Logout(ctx); err != nil {
					return err
				}
				_, err := fmt.Fprintln(cmd.Root().Writer, "Logged out.")
				return err
			})
		},
	}
}

func whoamiCommand() *cli.Command {
	return &cli.Command{
		Name:  "whoami",
		Usage: "show the current session",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return withApp(ctx, cmd, func(a *app.App) error {
				state := a.Sessions().Bootstrap(ctx)
				if !state.Authenticated() {
					_, err := fmt.Fprintln(cmd.Root().Writer, "Not logged in.")
					return err
				}
				_, err := fmt.Fprintf(cmd.Root().Writer, "%s <%s>\n", state.Identity.Name, state.Identity.Email)
				return err
			})
		},
	}
}

func requestCommand() *cli.Command {
	return &cli.Command{
		Name:      "request",
		Usage:     "send an authenticated API request and print its data",
		ArgsUsage: "METHOD PATH",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "data",
				Usage: "JSON request body",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if cmd.Args().Len() != 2 {
				return fmt.Errorf("expected METHOD and PATH, got %d arguments", cmd.Args().Len())
			}
			method := strings.ToUpper(cmd.Args().Get(0))
			path := cmd.Args().Get(1)

			var body any
			if data := cmd.String("data"); data != "" {
				if !json.Valid([]byte(data)) {
					return fmt.Errorf("--data is not valid JSON")
				}
				body = json.RawMessage(data)
			}

			return withApp(ctx, cmd, func(a *app.App) error {
				resp, err := a.Sessions().Client().Send(ctx, method, path, body)
				if err != nil {
					return err
				}
				data, err := resp.Data()
				if err != nil {
					return err
				}
				_, err = fmt.Fprintln(cmd.Root().Writer, string(data))
				return err
			})
		},
	}
}

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "serve the local gateway",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "server--host",
				Usage: "gateway host",
				Value: app.DefaultConfigServerHost,
			},
			&cli.IntFlag{
				Name:  "server--port",
				Usage: "gateway port",
				Value: int(app.DefaultConfigServerPort),
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return withApp(ctx, cmd, func(a *app.App) error {
				slog.InfoContext(ctx, "starting")

				if err := a.Start(ctx); err != nil {
					return fmt.Errorf("app failed to start: %w", err)
				}

				slog.InfoContext(ctx, "stopped gracefully")
				return nil
			})
		},
	}
}

// promptSecret reads a single line, without echo when stdin is a terminal.
func promptSecret(cmd *cli.Command, prompt string) (string, error) {
	root := cmd.Root()
	if f, ok := root.Reader.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		fmt.Fprint(root.ErrWriter, prompt)
		secret, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(root.ErrWriter)
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(string(secret)), nil
	}

	line, err := bufio.NewReader(root.Reader).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	return strings.TrimSpace(line), nil
}
