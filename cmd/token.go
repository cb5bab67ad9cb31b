package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/ingest-cli/internal/auth"
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Manage the upload service bearer token",
}

var tokenSetCmd = &cobra.Command{
	Use:   "set [token]",
	Short: "Store a bearer token (reads stdin when no argument is given)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var value string
		if len(args) == 1 {
			value = args[0]
		} else {
			v, err := readToken(cmd.InOrStdin())
			if err != nil {
				return err
			}
			value = v
		}

		ttl, _ := cmd.Flags().GetDuration("ttl")
		tok := auth.Token{Value: value}
		if ttl > 0 {
			tok.ExpiresAt = time.Now().Add(ttl).UTC()
		}
		if err := tokenStore().Save(tok); err != nil {
			return err
		}
		fmt.Fprintln(os.Stderr, "Token saved.")
		return nil
	},
}

var tokenShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show whether a token is stored and when it expires",
	RunE: func(cmd *cobra.Command, _ []string) error {
		tok, err := tokenStore().Load()
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "Token:   %s\n", maskToken(tok.Value))
		if tok.ExpiresAt.IsZero() {
			fmt.Fprintln(os.Stdout, "Expires: never")
			return nil
		}
		status := "valid"
		if tok.Expired(time.Now()) {
			status = "expired"
		}
		fmt.Fprintf(os.Stdout, "Expires: %s (%s)\n", tok.ExpiresAt.Format(time.RFC3339), status)
		return nil
	},
}

var tokenClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove the stored token",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if err := tokenStore().Clear(); err != nil {
			return err
		}
		fmt.Fprintln(os.Stderr, "Token cleared.")
		return nil
	},
}

func readToken(r io.Reader) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && err != io.EOF {
		return "", eris.Wrap(err, "token: read stdin")
	}
	line = strings.TrimSpace(line)
	if line == "" {
		return "", eris.New("token: no token given")
	}
	return line, nil
}

// maskToken keeps the first and last four characters.
func maskToken(v string) string {
	if len(v) <= 12 {
		return strings.Repeat("*", len(v))
	}
	return v[:4] + strings.Repeat("*", 8) + v[len(v)-4:]
}

func init() {
	tokenSetCmd.Flags().Duration("ttl", 0, "expire the token after this long (default: JWT exp claim or never)")
	tokenCmd.AddCommand(tokenSetCmd, tokenShowCmd, tokenClearCmd)
	rootCmd.AddCommand(tokenCmd)
}
