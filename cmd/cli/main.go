// Command akctl controls a running agent-keeper daemon over its gRPC API.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/and161185/agent-keeper/internal/authtoken"
	"github.com/and161185/agent-keeper/internal/crypto"
	"github.com/and161185/agent-keeper/internal/platform"
	grpcserver "github.com/and161185/agent-keeper/internal/server/grpc"
)

var (
	version   = "dev"
	buildDate = "unknown"
)

const passwordEnv = "AGENT_KEEPER_PASSWORD"

func main() {
	root := newRootCmd(newApp())
	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// caller invokes one control method.
type caller interface {
	Call(ctx context.Context, name string, req map[string]any, out any) error
}

type app struct {
	addr     string
	dataDir  string
	password string
	timeout  time.Duration
	in       io.Reader
	out      io.Writer

	dial func(a *app) (caller, func() error, error)
}

func newApp() *app {
	dataDir, _ := platform.DefaultDataDir()
	return &app{
		addr:    "127.0.0.1:18889",
		dataDir: dataDir,
		timeout: 2 * time.Minute,
		in:      os.Stdin,
		out:     os.Stdout,
		dial:    dialDaemon,
	}
}

func (a *app) keyPath() string { return filepath.Join(a.dataDir, "control.key") }

// issueToken signs a short-lived control token with the daemon's key.
func (a *app) issueToken(ttl time.Duration) (string, time.Time, error) {
	key, err := os.ReadFile(a.keyPath())
	if err != nil {
		return "", time.Time{}, fmt.Errorf("read control key (is the daemon initialised?): %w", err)
	}
	if len(key) != crypto.ControlKeyLen {
		return "", time.Time{}, fmt.Errorf("control key %s has length %d, want %d", a.keyPath(), len(key), crypto.ControlKeyLen)
	}
	return authtoken.NewIssuer(key, ttl).Issue()
}

func dialDaemon(a *app) (caller, func() error, error) {
	tok, _, err := a.issueToken(time.Minute)
	if err != nil {
		return nil, nil, err
	}
	conn, err := grpcserver.Dial(a.addr)
	if err != nil {
		return nil, nil, err
	}
	return grpcserver.NewClient(conn, tok), conn.Close, nil
}

// call runs one control method and prints its JSON result.
func (a *app) call(ctx context.Context, name string, req map[string]any) error {
	c, closeFn, err := a.dial(a)
	if err != nil {
		return err
	}
	defer func() { _ = closeFn() }()

	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	var out any
	if err := c.Call(ctx, name, req, &out); err != nil {
		return err
	}
	return a.printJSON(out)
}

func (a *app) printJSON(v any) error {
	enc := json.NewEncoder(a.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// readArg returns arg, or stdin when arg is "-".
func (a *app) readArg(arg string) (string, error) {
	if arg != "-" {
		return arg, nil
	}
	b, err := io.ReadAll(a.in)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(b)), nil
}

func (a *app) passwordOrEnv() (string, error) {
	if a.password != "" {
		return a.password, nil
	}
	if v := os.Getenv(passwordEnv); v != "" {
		return v, nil
	}
	return "", errors.New("password required: use --password or " + passwordEnv)
}

func newRootCmd(a *app) *cobra.Command {
	c := cobra.Command{
		Use:           "akctl",
		Short:         "Manage editor accounts through the agent-keeper daemon",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	c.PersistentFlags().StringVar(&a.addr, "addr", a.addr, "daemon gRPC address")
	c.PersistentFlags().StringVar(&a.dataDir, "data-dir", a.dataDir, "daemon data directory holding control.key")
	c.PersistentFlags().DurationVar(&a.timeout, "timeout", a.timeout, "per-call timeout")
	c.AddCommand(
		newVersionCmd(a),
		newTokenCmd(a),
		newDecodeCmd(a),
		newSimpleCmd(a, "status", "Show editor and extension state", grpcserver.NameStatus),
		newSimpleCmd(a, "list", "List stored accounts", grpcserver.NameGetAccounts),
		newSimpleCmd(a, "current", "Show the signed-in account", grpcserver.NameGetCurrentAccount),
		newSimpleCmd(a, "backup", "Save the signed-in account", grpcserver.NameBackupCurrentAccount),
		newSimpleCmd(a, "clear-state", "Sign the editor out", grpcserver.NameClearAllData),
		newSimpleCmd(a, "signin", "Save the current account and restart the editor logged out", grpcserver.NameSignInNew),
		newSimpleCmd(a, "clear-backups", "Delete every stored account", grpcserver.NameClearAllBackups),
		newIdentityCmd(a, "switch", "Switch the editor to a stored account", grpcserver.NameSwitchAccount),
		newIdentityCmd(a, "restore", "Write a stored account into the editor state", grpcserver.NameRestoreAccount),
		newIdentityCmd(a, "delete", "Delete a stored account", grpcserver.NameDeleteBackup),
		newIdentityCmd(a, "refresh-token", "Check a stored account's token and refresh it if rejected", grpcserver.NameRefreshToken),
		newIdentityCmd(a, "quota", "Show a stored account's remaining model quota", grpcserver.NameAccountQuota),
		newIdentityCmd(a, "trigger-quota", "Start the quota window of models that are still full", grpcserver.NameTriggerQuotaRefresh),
		newExportCmd(a),
		newImportCmd(a),
	)
	return &c
}
