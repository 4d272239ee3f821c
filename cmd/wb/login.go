package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/waybill/waybill/internal/config"
)

func newLoginCmd() *cobra.Command {
	var (
		configPath string
		tokenFile  string
	)

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Store a GitHub token for ticket filing",
		Long: `Prompts for a GitHub token and saves it to the token file named in the
config (github.token_file), or to the path given with --token-file. The file
is written with mode 0600 since it contains a credential.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLogin(cmd, configPath, tokenFile)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "waybill.yaml", "path to Waybill config file")
	cmd.Flags().StringVar(&tokenFile, "token-file", "", "where to write the token (overrides config)")
	return cmd
}

func runLogin(cmd *cobra.Command, configPath, tokenFile string) error {
	out := cmd.OutOrStdout()

	if tokenFile == "" {
		cfg, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		tokenFile = cfg.GitHub.TokenFile
	}
	if tokenFile == "" {
		return fmt.Errorf("login: no token file configured (set github.token_file or pass --token-file)")
	}

	token, err := promptToken()
	if err != nil {
		return err
	}
	if token == "" {
		return fmt.Errorf("login: empty token")
	}

	if dir := filepath.Dir(tokenFile); dir != "." {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return fmt.Errorf("login: create %s: %w", dir, err)
		}
	}
	if err := os.WriteFile(tokenFile, []byte(token+"\n"), 0600); err != nil {
		return fmt.Errorf("login: write token file: %w", err)
	}

	fmt.Fprintf(out, "Token saved to %s\n", tokenFile)
	return nil
}

// promptToken reads the token from stdin without echo. Allows test override.
var promptToken = func() (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", fmt.Errorf("login: no terminal available for interactive prompt")
	}

	fmt.Fprint(os.Stderr, "GitHub token: ")
	tokenBytes, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("login: read token: %w", err)
	}
	return strings.TrimSpace(string(tokenBytes)), nil
}
