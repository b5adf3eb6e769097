package main

import (
	"errors"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"tiktokads/pkg/auth"
	"tiktokads/pkg/ui"
)

var tokenFromStdin bool

// tokenCmd represents the token command
var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Manage ad library access tokens",
	Long: `Manage stored ad library access tokens.

Tokens are stored using:
  - System keychain (when available)
  - Encrypted file with PBKDF2 key derivation
  - TTADS_ACCESS_TOKEN environment variable (read only)

Use --profile to keep tokens for several accounts.`,
}

// setCmd represents the token set command
var setCmd = &cobra.Command{
	Use:   "set",
	Short: "Store an access token securely",
	Long: `Store an access token in the system keychain or the encrypted file.

The token is read without echo when stdin is a terminal.`,
	Example: `  # Interactive
  tiktokads token set

  # Under a named profile, token piped in
  echo "$TOKEN" | tiktokads token set --profile agency --stdin`,
	Args: cobra.NoArgs,
	RunE: runTokenSet,
}

// deleteCmd represents the token delete command
var deleteCmd = &cobra.Command{
	Use:     "delete",
	Aliases: []string{"rm"},
	Short:   "Remove a stored access token",
	Args:    cobra.NoArgs,
	RunE:    runTokenDelete,
}

// listCmd represents the token list command
var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored access tokens",
	Args:  cobra.NoArgs,
	RunE:  runTokenList,
}

func init() {
	rootCmd.AddCommand(tokenCmd)
	tokenCmd.AddCommand(setCmd)
	tokenCmd.AddCommand(deleteCmd)
	tokenCmd.AddCommand(listCmd)

	setCmd.Flags().BoolVar(&tokenFromStdin, "stdin", false, "read the token from stdin without showing the guide")
}

func profileName() string {
	if profile == "" {
		return auth.DefaultProfile
	}
	return profile
}

func runTokenSet(cmd *cobra.Command, args []string) error {
	manager, err := auth.NewManager()
	if err != nil {
		return fmt.Errorf("failed to initialize token manager: %w", err)
	}

	if !tokenFromStdin {
		auth.ShowTokenGuide(ui.Output)
	}

	value, err := auth.PromptToken(os.Stdin, ui.Output)
	if err != nil {
		return err
	}
	if value == "" {
		return &exitError{code: 1, err: errors.New("access token is required")}
	}

	name := profileName()
	if existing, _ := manager.Retrieve(name); existing != nil {
		ui.PrintWarning("Replacing stored token", name)
	}

	storeName, err := manager.Store(&auth.Token{Profile: name, AccessToken: value})
	if err != nil {
		return fmt.Errorf("failed to store token: %w", err)
	}

	ui.PrintSuccess(fmt.Sprintf("Token for profile %s stored in %s", name, storeName))
	ui.PrintInfo("Token", auth.MaskToken(value))
	return nil
}

func runTokenDelete(cmd *cobra.Command, args []string) error {
	manager, err := auth.NewManager()
	if err != nil {
		return fmt.Errorf("failed to initialize token manager: %w", err)
	}

	name := profileName()
	if err := manager.Delete(name); err != nil {
		if errors.Is(err, auth.ErrTokenNotFound) {
			return &exitError{code: 1, err: fmt.Errorf("no stored token for profile %s", name)}
		}
		return err
	}

	ui.PrintSuccess("Token removed for profile " + name)
	if os.Getenv(auth.AccessTokenEnv) != "" {
		ui.PrintWarning(auth.AccessTokenEnv + " is still set in the environment")
	}
	return nil
}

func runTokenList(cmd *cobra.Command, args []string) error {
	manager, err := auth.NewManager()
	if err != nil {
		return fmt.Errorf("failed to initialize token manager: %w", err)
	}

	tokens, err := manager.List()
	if err != nil {
		return err
	}
	if len(tokens) == 0 {
		ui.PrintInfo("Stored tokens", "none")
		fmt.Fprintln(ui.Output, "\nStore one with 'tiktokads token set'")
		return nil
	}

	w := tabwriter.NewWriter(ui.Output, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "PROFILE\tTOKEN\tLAST MODIFIED")
	for _, t := range tokens {
		modified := "-"
		if !t.LastModified.IsZero() {
			modified = t.LastModified.Local().Format("2006-01-02 15:04")
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", t.Profile, auth.MaskToken(t.AccessToken), modified)
	}
	return w.Flush()
}
