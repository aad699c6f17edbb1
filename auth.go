package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/oauth2"

	"github.com/tonimelisma/stitchkeep/internal/identity"
)

func newLoginCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Save a sign-in token",
		Long: `Save the access token issued by the sync service's sign-in page.

Pass the token with --token, or "--token -" to read it from stdin. Until a
token is saved, or when the account is unverified or read-only, edits are
kept in the local backup only.`,
		RunE: runLogin,
	}

	cmd.Flags().String("token", "", "access token (\"-\" reads it from stdin)")

	return cmd
}

func newLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Remove the saved sign-in token",
		RunE:  runLogout,
	}
}

func newWhoamiCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Display the signed-in user and where edits are stored",
		RunE:  runWhoami,
	}
}

func runLogin(cmd *cobra.Command, _ []string) error {
	logger := buildLogger()

	raw, err := cmd.Flags().GetString("token")
	if err != nil {
		return err
	}

	if raw == "-" {
		raw, err = readTokenLine(cmd.InOrStdin())
		if err != nil {
			return err
		}
	}

	raw = strings.TrimSpace(raw)
	if raw == "" {
		return errors.New("a token is required (--token)")
	}

	tok := &oauth2.Token{AccessToken: raw, TokenType: "Bearer"}

	id, err := identity.FromToken(tok)
	if err != nil {
		return err
	}

	tok.Expiry = id.ExpiresAt

	if id.Expired(time.Now()) {
		return fmt.Errorf("token expired at %s", id.ExpiresAt.Format(time.RFC3339))
	}

	if err := identity.Save(resolvedCfg.IdentityPath, tok); err != nil {
		return err
	}

	logger.Info("login saved", "user", id.UserID, "path", resolvedCfg.IdentityPath)
	statusf("Signed in as %s.\n", id.Email)

	if !id.CanWriteRemote() {
		statusf("This account cannot write to the sync service yet; edits stay in the local backup.\n")
	}

	return nil
}

func readTokenLine(r io.Reader) (string, error) {
	sc := bufio.NewScanner(r)
	if sc.Scan() {
		return sc.Text(), nil
	}

	if err := sc.Err(); err != nil {
		return "", fmt.Errorf("reading token: %w", err)
	}

	return "", nil
}

func runLogout(_ *cobra.Command, _ []string) error {
	logger := buildLogger()

	if err := identity.Remove(resolvedCfg.IdentityPath); err != nil {
		return err
	}

	logger.Info("logout", "path", resolvedCfg.IdentityPath)
	statusf("Signed out. Edits are kept in the local backup until you log in again.\n")

	return nil
}

// whoamiOutput is the JSON shape of `whoami --json`.
type whoamiOutput struct {
	Guest       bool       `json:"guest"`
	UserID      string     `json:"user_id,omitempty"`
	Email       string     `json:"email,omitempty"`
	Verified    bool       `json:"verified"`
	Role        string     `json:"role,omitempty"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
	Expired     bool       `json:"expired"`
	RemoteWrite bool       `json:"remote_write"`
	BackupKey   string     `json:"backup_key"`
}

func runWhoami(cmd *cobra.Command, _ []string) error {
	id, err := identity.Load(resolvedCfg.IdentityPath)
	if err != nil {
		return err
	}

	out := whoamiFor(id, time.Now())

	if flagJSON {
		return printJSON(cmd.OutOrStdout(), out)
	}

	printWhoamiText(cmd.OutOrStdout(), out)

	return nil
}

func whoamiFor(id *identity.Identity, now time.Time) whoamiOutput {
	out := whoamiOutput{
		Guest:       id.IsGuest(),
		UserID:      id.UserID,
		Email:       id.Email,
		Verified:    id.Verified,
		Role:        id.Role,
		Expired:     id.Expired(now),
		RemoteWrite: id.CanWriteRemote() && !id.Expired(now),
		BackupKey:   id.Key(),
	}

	if !id.ExpiresAt.IsZero() {
		exp := id.ExpiresAt
		out.ExpiresAt = &exp
	}

	return out
}

func printWhoamiText(w io.Writer, out whoamiOutput) {
	if out.Guest {
		fmt.Fprintln(w, "Not signed in. Edits are kept in the local backup.")
		return
	}

	fmt.Fprintf(w, "User:      %s (%s)\n", out.Email, out.UserID)
	fmt.Fprintf(w, "Verified:  %t\n", out.Verified)

	if out.Role != "" {
		fmt.Fprintf(w, "Role:      %s\n", out.Role)
	}

	if out.ExpiresAt != nil {
		state := "valid until"
		if out.Expired {
			state = "expired"
		}

		fmt.Fprintf(w, "Token:     %s %s\n", state, out.ExpiresAt.Local().Format(time.RFC1123))
	}

	if out.RemoteWrite {
		fmt.Fprintln(w, "Storage:   sync service")
	} else {
		fmt.Fprintln(w, "Storage:   local backup only")
	}
}
