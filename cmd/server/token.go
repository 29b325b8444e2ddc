package main

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/ZanzyTHEbar/babblebear/internal/config"
)

var (
	tokenValueFlag = &cli.StringFlag{
		Name:  "value",
		Usage: "Token to store (optional, read from stdin when omitted)",
	}

	// swapped in tests
	newTokenSource = config.NewTokenSource

	tokenCmd = &cli.Command{
		Name:  "token",
		Usage: "Manage the backend API token kept in the OS keychain",
		Subcommands: []*cli.Command{
			{
				Name:   "set",
				Usage:  "Store the backend API token",
				Flags:  []cli.Flag{tokenValueFlag},
				Action: cmdTokenSet,
			},
			{
				Name:   "clear",
				Usage:  "Remove the stored backend API token",
				Action: cmdTokenClear,
			},
			{
				Name:   "status",
				Usage:  "Show where the token comes from and when it expires",
				Action: cmdTokenStatus,
			},
		},
	}
)

func cmdTokenSet(c *cli.Context) error {
	token := c.String(tokenValueFlag.Name)
	if token == "" {
		var err error
		if token, err = readToken(c.App.Reader); err != nil {
			return err
		}
	}

	if err := newTokenSource().StoreToken(token); err != nil {
		return err
	}

	info := config.InspectToken(token, time.Now())
	fmt.Fprintln(c.App.Writer, "Token stored in keychain.")
	if info.Expired {
		fmt.Fprintln(c.App.Writer, "Warning: the token has already expired.")
	}
	return nil
}

func readToken(r io.Reader) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("reading token: %w", err)
	}
	line = strings.TrimSpace(line)
	if line == "" {
		return "", fmt.Errorf("no token given: pass --%s or pipe it on stdin", tokenValueFlag.Name)
	}
	return line, nil
}

func cmdTokenClear(c *cli.Context) error {
	if err := newTokenSource().DeleteToken(); err != nil {
		return err
	}
	fmt.Fprintln(c.App.Writer, "Token removed from keychain.")
	return nil
}

type tokenStatus struct {
	Configured bool              `json:"configured"`
	Info       *config.TokenInfo `json:"info,omitempty"`
}

func cmdTokenStatus(c *cli.Context) error {
	status := tokenStatus{}

	token, err := newTokenSource().Token()
	switch {
	case errors.Is(err, config.ErrNoToken):
	case err != nil:
		return err
	default:
		info := config.InspectToken(token, time.Now())
		status.Configured = true
		status.Info = &info
	}

	enc := json.NewEncoder(c.App.Writer)
	enc.SetIndent("", "  ")
	return enc.Encode(status)
}
