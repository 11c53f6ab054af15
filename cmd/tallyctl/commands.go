package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/tallyhq/tally/internal/auth"
	"github.com/tallyhq/tally/internal/repository"
	"github.com/tallyhq/tally/internal/service"
)

// env holds what every command needs once Before has run.
type env struct {
	store  repository.Store
	stdin  io.Reader
	stdout io.Writer
	logger *slog.Logger

	driver     string
	url        string
	algorithm  string
	iterations int
	keyEnv     string
	verbose    bool
}

func newApp(stdin io.Reader, stdout io.Writer) *cli.App {
	e := &env{stdin: stdin, stdout: stdout}

	return &cli.App{
		Name:      "tallyctl",
		Usage:     "Administer a Tally database",
		Writer:    stdout,
		ErrWriter: stdout,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "driver",
				Usage:       "database driver: postgres or sqlite",
				EnvVars:     []string{"DATABASE_DRIVER"},
				Value:       repository.DriverPostgres,
				Destination: &e.driver,
			},
			&cli.StringFlag{
				Name:        "database-url",
				Aliases:     []string{"db"},
				Usage:       "database URL, or file path for sqlite",
				EnvVars:     []string{"DATABASE_URL"},
				Required:    true,
				Destination: &e.url,
			},
			&cli.StringFlag{
				Name:        "hash-algorithm",
				EnvVars:     []string{"PASSWORD_HASH_ALGORITHM"},
				Value:       auth.DefaultParams().Algorithm,
				Destination: &e.algorithm,
			},
			&cli.IntFlag{
				Name:        "hash-iterations",
				EnvVars:     []string{"PASSWORD_HASH_ITERATIONS"},
				Value:       auth.DefaultParams().Iterations,
				Destination: &e.iterations,
			},
			&cli.StringFlag{
				Name:        "key-env",
				Usage:       "environment tag of issued keys: live or test",
				EnvVars:     []string{"API_KEY_ENV"},
				Value:       auth.EnvLive,
				Destination: &e.keyEnv,
			},
			&cli.BoolFlag{
				Name:        "verbose",
				Aliases:     []string{"v"},
				Destination: &e.verbose,
			},
		},
		Before: func(c *cli.Context) error {
			level := slog.LevelWarn
			if e.verbose {
				level = slog.LevelDebug
			}
			e.logger = slog.New(slog.NewTextHandler(c.App.ErrWriter, &slog.HandlerOptions{Level: level}))

			// Opening the store applies pending migrations.
			store, err := repository.Open(c.Context, e.driver, e.url)
			if err != nil {
				return fmt.Errorf("open %s database: %w", e.driver, err)
			}
			e.store = store
			return nil
		},
		After: func(c *cli.Context) error {
			if e.store == nil {
				return nil
			}
			return e.store.Close()
		},
		Commands: []*cli.Command{
			migrateCmd(e),
			registerCmd(e),
			recoverKeyCmd(e),
		},
	}
}

func migrateCmd(e *env) *cli.Command {
	return &cli.Command{
		Name:  "migrate",
		Usage: "Apply pending schema migrations and print the schema version",
		Action: func(c *cli.Context) error {
			version, err := e.store.SchemaVersion(c.Context)
			if err != nil {
				return fmt.Errorf("read schema version: %w", err)
			}
			_, err = fmt.Fprintf(e.stdout, "schema version %d\n", version)
			return err
		},
	}
}

func registerCmd(e *env) *cli.Command {
	var email, name string
	return &cli.Command{
		Name:  "register",
		Usage: "Register a user and print their API key (password is read from stdin)",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "email",
				Aliases:     []string{"e"},
				Required:    true,
				Destination: &email,
			},
			&cli.StringFlag{
				Name:        "name",
				Destination: &name,
			},
		},
		Action: func(c *cli.Context) error {
			password, err := readPassword(e.stdin)
			if err != nil {
				return err
			}
			svc, err := e.service()
			if err != nil {
				return err
			}

			reg, err := svc.Register(c.Context, service.RegisterInput{Email: email, Name: name, Password: password})
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(e.stdout, "user_id %s\napi_key %s\n", reg.UserID, reg.APIKey)
			return err
		},
	}
}

func recoverKeyCmd(e *env) *cli.Command {
	var email string
	return &cli.Command{
		Name:  "recover-key",
		Usage: "Replace a user's API key after checking their password (read from stdin)",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "email",
				Aliases:     []string{"e"},
				Required:    true,
				Destination: &email,
			},
		},
		Action: func(c *cli.Context) error {
			password, err := readPassword(e.stdin)
			if err != nil {
				return err
			}
			svc, err := e.service()
			if err != nil {
				return err
			}

			key, err := svc.RecoverAPIKey(c.Context, email, password)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(e.stdout, "api_key %s\n", key)
			return err
		},
	}
}

func (e *env) service() (*service.Service, error) {
	hasher, err := auth.NewHasher(auth.Params{Algorithm: e.algorithm, Iterations: e.iterations}, 1)
	if err != nil {
		return nil, err
	}
	if e.keyEnv != auth.EnvLive && e.keyEnv != auth.EnvTest {
		return nil, fmt.Errorf("key-env must be %q or %q", auth.EnvLive, auth.EnvTest)
	}
	return service.New(e.store, hasher,
		service.WithLogger(e.logger),
		service.WithKeyEnvironment(e.keyEnv),
	), nil
}

// readPassword reads the first line of r.
func readPassword(r io.Reader) (string, error) {
	sc := bufio.NewScanner(r)
	if !sc.Scan() {
		if err := sc.Err(); err != nil {
			return "", err
		}
		return "", errors.New("missing password from stdin")
	}
	password := strings.TrimRight(sc.Text(), "\r")
	if password == "" {
		return "", errors.New("missing password from stdin")
	}
	return password, nil
}
