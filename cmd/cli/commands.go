package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	grpcserver "github.com/and161185/agent-keeper/internal/server/grpc"
	"github.com/and161185/agent-keeper/internal/session"
)

func newVersionCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprintf(a.out, "akctl %s (%s)\n", version, buildDate)
			return err
		},
	}
}

func newTokenCmd(a *app) *cobra.Command {
	ttl := time.Hour
	c := cobra.Command{
		Use:   "token",
		Short: "Print a bearer token for the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			tok, exp, err := a.issueToken(ttl)
			if err != nil {
				return err
			}
			return a.printJSON(map[string]any{"token": tok, "expiresAt": exp})
		},
	}
	c.Flags().DurationVar(&ttl, "ttl", ttl, "token lifetime")
	return &c
}

func newDecodeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "decode <base64|->",
		Short: "Decode a session blob locally",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			blob, err := a.readArg(args[0])
			if err != nil {
				return err
			}
			rec, err := session.Decode(blob)
			if err != nil {
				return err
			}
			return a.printJSON(rec.View())
		},
	}
}

func newSimpleCmd(a *app, use, short, method string) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.call(cmd.Context(), method, nil)
		},
	}
}

func newIdentityCmd(a *app, use, short, method string) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <identity>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.call(cmd.Context(), method, map[string]any{"identity": args[0]})
		},
	}
}

func newExportCmd(a *app) *cobra.Command {
	var output string
	c := cobra.Command{
		Use:   "export",
		Short: "Export every stored account, encrypted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			pw, err := a.passwordOrEnv()
			if err != nil {
				return err
			}
			d, closeFn, err := a.dial(a)
			if err != nil {
				return err
			}
			defer func() { _ = closeFn() }()

			ctx, cancel := context.WithTimeout(cmd.Context(), a.timeout)
			defer cancel()

			var res struct {
				Data string `json:"data"`
			}
			if err := d.Call(ctx, grpcserver.NameExportAccounts, map[string]any{"password": pw}, &res); err != nil {
				return err
			}
			if output == "" || output == "-" {
				_, err = fmt.Fprintln(a.out, res.Data)
				return err
			}
			return os.WriteFile(output, []byte(res.Data), 0o600)
		},
	}
	c.Flags().StringVarP(&a.password, "password", "p", "", "export password (or "+passwordEnv+")")
	c.Flags().StringVarP(&output, "output", "o", "-", "output file")
	return &c
}

func newImportCmd(a *app) *cobra.Command {
	c := cobra.Command{
		Use:   "import <file|->",
		Short: "Import accounts from an export",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pw, err := a.passwordOrEnv()
			if err != nil {
				return err
			}
			var data []byte
			if args[0] == "-" {
				s, err := a.readArg("-")
				if err != nil {
					return err
				}
				data = []byte(s)
			} else if data, err = os.ReadFile(args[0]); err != nil {
				return err
			}
			return a.call(cmd.Context(), grpcserver.NameImportAccounts, map[string]any{"data": strings.TrimSpace(string(data)), "password": pw})
		},
	}
	c.Flags().StringVarP(&a.password, "password", "p", "", "export password (or "+passwordEnv+")")
	return &c
}
