// Command courier is a command line client for the courier messaging server.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/eldtechnologies/courier/clients/go/courier"
)

func main() {
	app := &cli.App{
		Name:  "courier",
		Usage: "private messaging from the terminal",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "url", Value: "http://localhost:8080", EnvVars: []string{"COURIER_URL"}, Usage: "server URL"},
			&cli.StringFlag{Name: "token", EnvVars: []string{"COURIER_TOKEN"}, Usage: "bearer token (default: saved token)"},
		},
		Commands: []*cli.Command{
			{
				Name:      "login",
				Usage:     "save a token for later commands",
				ArgsUsage: "<token>",
				Action: func(c *cli.Context) error {
					if c.NArg() != 1 {
						return cli.Exit("usage: courier login <token>", 1)
					}
					client := newClient(c)
					client.Token = c.Args().First()
					return client.SaveToken()
				},
			},
			{
				Name:  "health",
				Usage: "check server health",
				Action: func(c *cli.Context) error {
					resp, err := newClient(c).Health(c.Context)
					if err != nil {
						return err
					}
					printJSON(resp)
					return nil
				},
			},
			{
				Name:  "contacts",
				Usage: "list conversation partners",
				Action: func(c *cli.Context) error {
					contacts, err := newClient(c).Contacts(c.Context)
					if err != nil {
						return err
					}
					for _, ct := range contacts {
						last := "-"
						if ct.LastMessageTime != nil {
							last = ct.LastMessageTime.Local().Format("2006-01-02 15:04")
						}
						fmt.Printf("  %-6d %-20s %s\n", ct.UserID, ct.Username, last)
					}
					return nil
				},
			},
			{
				Name:      "history",
				Usage:     "print the conversation with a user",
				ArgsUsage: "<user_id>",
				Action: func(c *cli.Context) error {
					partner, err := partnerArg(c)
					if err != nil {
						return err
					}
					msgs, err := newClient(c).History(c.Context, partner)
					if err != nil {
						return err
					}
					for _, m := range msgs {
						printMessage(m, false)
					}
					return nil
				},
			},
			{
				Name:      "send",
				Usage:     "send a text message",
				ArgsUsage: "<user_id> <message>",
				Action: func(c *cli.Context) error {
					partner, err := partnerArg(c)
					if err != nil {
						return err
					}
					conn, err := newClient(c).Dial(c.Context)
					if err != nil {
						return err
					}
					defer conn.Close()
					return conn.SendText(c.Context, partner, strings.Join(c.Args().Tail(), " "))
				},
			},
			{
				Name:      "send-image",
				Usage:     "upload an image and send it",
				ArgsUsage: "<user_id> <file>",
				Action: func(c *cli.Context) error {
					partner, err := partnerArg(c)
					if err != nil {
						return err
					}
					if c.NArg() < 2 {
						return cli.Exit("usage: courier send-image <user_id> <file>", 1)
					}
					path := c.Args().Get(1)
					f, err := os.Open(path)
					if err != nil {
						return err
					}
					defer f.Close()

					client := newClient(c)
					ref, err := client.Upload(c.Context, path, f)
					if err != nil {
						return err
					}
					conn, err := client.Dial(c.Context)
					if err != nil {
						return err
					}
					defer conn.Close()
					return conn.SendImage(c.Context, partner, ref)
				},
			},
			{
				Name:      "chat",
				Usage:     "open a live conversation; lines on stdin are sent",
				ArgsUsage: "<user_id>",
				Flags: []cli.Flag{
					&cli.Int64Flag{Name: "me", Required: true, EnvVars: []string{"COURIER_USER_ID"}, Usage: "your user id"},
				},
				Action: chat,
			},
		},
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := app.RunContext(ctx, os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newClient(c *cli.Context) *courier.Client {
	return courier.NewClient(c.String("url"), c.String("token"))
}

func partnerArg(c *cli.Context) (int64, error) {
	id, err := strconv.ParseInt(c.Args().First(), 10, 64)
	if err != nil || id <= 0 {
		return 0, cli.Exit("user_id must be a positive integer", 1)
	}
	return id, nil
}

// chat streams live messages for every partner, printing the open
// conversation and flagging others as unread.
func chat(c *cli.Context) error {
	partner, err := partnerArg(c)
	if err != nil {
		return err
	}
	ctx := c.Context
	client := newClient(c)
	me := c.Int64("me")

	session := courier.NewSession(me, client)
	go session.Run(ctx)

	conn, err := client.Dial(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	if err := session.Open(ctx, partner); err != nil {
		fmt.Fprintln(os.Stderr, "history unavailable:", err)
	}
	msgs, _, err := session.Snapshot(ctx, partner)
	if err != nil {
		return err
	}
	for _, m := range msgs {
		printMessage(m, false)
	}

	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" {
				continue
			}
			if err := conn.SendText(ctx, partner, line); err != nil {
				fmt.Fprintln(os.Stderr, "send failed:", err)
				return
			}
		}
	}()

	for {
		m, err := conn.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		if err := session.Live(ctx, m); err != nil {
			return err
		}
		if m.Partner(me) == partner {
			printMessage(m, false)
			continue
		}
		if _, unread, err := session.Snapshot(ctx, m.Partner(me)); err == nil && unread {
			printMessage(m, true)
		}
	}
}

func printMessage(m courier.Message, unread bool) {
	from := strconv.FormatInt(m.FromUserID, 10)
	if m.FromUser != nil {
		from = m.FromUser.Username
	}
	body := m.Text()
	if m.Type == courier.TypeImage && m.MediaURL != nil {
		body = "[image] " + *m.MediaURL
	}
	marker := ""
	if unread {
		marker = " (unread)"
	}
	fmt.Printf("[%s] %s%s: %s\n", m.CreatedAt.Local().Format("15:04:05"), from, marker, body)
}

func printJSON(v interface{}) {
	data, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(data))
}
