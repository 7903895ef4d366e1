package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"

	"github.com/urfave/cli/v2"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "peoplecounter-cli: %v\n", err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:            "peoplecounter-cli",
		Usage:           "query a running peoplecounter",
		HideHelpCommand: true,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "url",
				Value:   "http://localhost:8080",
				Usage:   "API base URL",
				EnvVars: []string{"PEOPLECOUNTER_URL"},
			},
			&cli.StringFlag{
				Name:    "token",
				Usage:   "bearer token returned by login",
				EnvVars: []string{"PEOPLECOUNTER_TOKEN"},
			},
			&cli.IntFlag{
				Name:  "timeout",
				Value: 30,
				Usage: "request timeout in seconds",
			},
			&cli.BoolFlag{
				Name:  "verbose",
				Usage: "print request and response details",
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "occupancy",
				Usage:  "show the current occupancy",
				Action: getAction("/api/v1/occupancy"),
			},
			{
				Name:  "episodes",
				Usage: "list the episodes closed during this run",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "limit", Value: 20, Usage: "maximum number of episodes"},
				},
				Action: func(c *cli.Context) error {
					return getAction(fmt.Sprintf("/api/v1/episodes?limit=%d", c.Int("limit")))(c)
				},
			},
			{
				Name:   "system",
				Usage:  "show the service status",
				Action: getAction("/api/v1/system"),
			},
			{
				Name:   "ready",
				Usage:  "check readiness",
				Action: getAction("/readyz"),
			},
			{
				Name:  "login",
				Usage: "obtain a bearer token",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "username", Value: "admin"},
					&cli.StringFlag{Name: "password", Required: true},
				},
				Action: func(c *cli.Context) error {
					payload := map[string]string{
						"username": c.String("username"),
						"password": c.String("password"),
					}
					var out map[string]any
					if err := clientFrom(c).do(c.Context, http.MethodPost, "/api/v1/auth/login", payload, &out); err != nil {
						return err
					}
					return printJSON(c, out)
				},
			},
		},
	}
}

func clientFrom(c *cli.Context) *client {
	return newClient(c.String("url"), c.String("token"), c.Int("timeout"), c.Bool("verbose"))
}

func getAction(path string) cli.ActionFunc {
	return func(c *cli.Context) error {
		var out any
		if err := clientFrom(c).do(c.Context, http.MethodGet, path, nil, &out); err != nil {
			return err
		}
		return printJSON(c, out)
	}
}

func printJSON(c *cli.Context, v any) error {
	enc := json.NewEncoder(c.App.Writer)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
