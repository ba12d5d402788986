// Command token mints development bearer tokens.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"

	"github.com/eldtechnologies/courier/internal/crypto"
	"github.com/eldtechnologies/courier/internal/store"
)

func main() {
	_ = godotenv.Load()

	app := &cli.App{
		Name:  "token",
		Usage: "mint a signed bearer token for a user",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "secret", EnvVars: []string{"JWT_SECRET"}, Required: true, Usage: "HS256 signing secret"},
			&cli.Int64Flag{Name: "user", Usage: "existing user id"},
			&cli.StringFlag{Name: "create", Usage: "create a user with this username in the SQLite store first"},
			&cli.StringFlag{Name: "sqlite", EnvVars: []string{"SQLITE_PATH"}, Value: "./data/courier.db", Usage: "SQLite database for --create"},
			&cli.DurationFlag{Name: "ttl", Value: 24 * time.Hour, Usage: "token lifetime (0 for none)"},
		},
		Action: func(c *cli.Context) error {
			userID := c.Int64("user")

			if name := c.String("create"); name != "" {
				s, err := store.NewSQLiteStore(c.Context, c.String("sqlite"))
				if err != nil {
					return err
				}
				defer s.Close()
				u, err := s.CreateUser(c.Context, name, nil)
				if err != nil {
					return fmt.Errorf("create user: %w", err)
				}
				fmt.Fprintf(os.Stderr, "created user %d (%s)\n", u.ID, u.Username)
				userID = u.ID
			}

			if userID <= 0 {
				return cli.Exit("either --user or --create is required", 1)
			}

			tok, err := crypto.IssueToken(userID, c.String("secret"), c.Duration("ttl"))
			if err != nil {
				return err
			}
			fmt.Println(tok)
			return nil
		},
	}

	if err := app.RunContext(context.Background(), os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
