package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pbsnet/gateway/pkg/client"
)

// version is overridden via -ldflags "-X main.version=...".
var version = "dev"

const defaultGateway = "http://localhost:8080"

var (
	cfgFile     string
	gatewayURL  string
	token       string
	adminSecret string
	timeout     time.Duration
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "pbsctl",
	Short: "pbsnet gateway CLI",
	Long: `pbsctl talks to a pbsnet gateway.

Users log in and inspect their profile; integrations holding the admin
secret read and write per-user app data.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if cfgFile != "" {
			viper.SetConfigFile(cfgFile)
		} else {
			viper.AddConfigPath(configDir())
			viper.SetConfigName("config")
			viper.SetConfigType("yaml")
		}
		viper.SetEnvPrefix("PBSCTL")
		viper.AutomaticEnv()
		_ = viper.ReadInConfig()

		if gatewayURL == "" {
			gatewayURL = viper.GetString("gateway")
		}
		if adminSecret == "" {
			adminSecret = viper.GetString("admin_secret")
		}
		if token == "" {
			token = viper.GetString("token")
		}

		saved, _ := client.LoadSession(sessionPath())
		if gatewayURL == "" {
			gatewayURL = saved.Gateway
		}
		if gatewayURL == "" {
			gatewayURL = defaultGateway
		}
		if token == "" && saved.Gateway == gatewayURL {
			token = saved.Token
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ~/.pbsctl/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&gatewayURL, "gateway", "", "gateway base URL (default "+defaultGateway+")")
	rootCmd.PersistentFlags().StringVar(&token, "token", "", "session token (default: saved by login)")
	rootCmd.PersistentFlags().StringVar(&adminSecret, "admin-secret", "", "admin secret for app-data commands")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 15*time.Second, "request timeout")

	rootCmd.AddCommand(loginCmd, meCmd, searchCmd, appDataCmd, versionCmd)
}

func configDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".pbsctl"
	}
	return filepath.Join(home, ".pbsctl")
}

func sessionPath() string { return filepath.Join(configDir(), "session.json") }

func newClient() (*client.Client, error) {
	var opts []client.Option
	if token != "" {
		opts = append(opts, client.WithBearerToken(token))
	}
	if adminSecret != "" {
		opts = append(opts, client.WithAdminSecret(adminSecret))
	}
	return client.New(gatewayURL, opts...)
}

func withTimeout(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return context.WithTimeout(cmd.Context(), timeout)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// ── login ────────────────────────────────────────────────────────────────────

var loginPrint bool

var loginCmd = &cobra.Command{
	Use:   "login <email-or-mobile>",
	Short: "Log in and save the session token",
	Long: `Log in with an email address or mobile number. The password is read
from stdin. The token is saved to ~/.pbsctl/session.json unless --print is set.`,
	Args: cobra.ExactArgs(1),
	RunE: runLogin,
}

func init() {
	loginCmd.Flags().BoolVar(&loginPrint, "print", false, "print the token instead of saving it")
}

func runLogin(cmd *cobra.Command, args []string) error {
	fmt.Fprint(cmd.ErrOrStderr(), "Password: ")
	password, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("read password: %w", err)
	}
	password = strings.TrimRight(password, "\r\n")
	fmt.Fprintln(cmd.ErrOrStderr())

	c, err := newClient()
	if err != nil {
		return err
	}
	ctx, cancel := withTimeout(cmd)
	defer cancel()

	s, err := c.Login(ctx, args[0], password)
	if err != nil {
		return err
	}
	if loginPrint {
		fmt.Fprintln(cmd.OutOrStdout(), s.Token)
		return nil
	}
	if err := client.SaveSession(sessionPath(), client.SavedSession{
		Gateway: gatewayURL,
		UserID:  s.UserID,
		Token:   s.Token,
	}); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Logged in as %s\n", s.UserID)
	return nil
}

// ── me ───────────────────────────────────────────────────────────────────────

var meCmd = &cobra.Command{
	Use:   "me",
	Short: "Show your profile",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		ctx, cancel := withTimeout(cmd)
		defer cancel()

		p, err := c.Me(ctx)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), p)
	},
}

// ── search ───────────────────────────────────────────────────────────────────

var searchParams client.SearchParams

var searchCmd = &cobra.Command{
	Use:   "search",
	Short: "Search the user directory",
	Args:  cobra.NoArgs,
	RunE:  runSearch,
}

func init() {
	f := searchCmd.Flags()
	f.StringVar(&searchParams.Pbs, "pbs", "", "PBS name")
	f.StringVar(&searchParams.Office, "office", "", "office name")
	f.StringVar(&searchParams.Mobile, "mobile", "", "mobile number")
	f.StringVar(&searchParams.Designation, "designation", "", "designation")
	f.StringVar(&searchParams.Username, "username", "", "username")
	f.StringVar(&searchParams.Name, "name", "", "full-text name search")
}

func runSearch(cmd *cobra.Command, args []string) error {
	c, err := newClient()
	if err != nil {
		return err
	}
	ctx, cancel := withTimeout(cmd)
	defer cancel()

	users, err := c.Search(ctx, searchParams)
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "USERNAME\tNAME\tDESIGNATION\tOFFICE\tPBS")
	for _, u := range users {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", u.Username, u.Name, u.Designation, u.Office, u.Pbs)
	}
	return w.Flush()
}

// ── app-data ─────────────────────────────────────────────────────────────────

var appDataSubclass string

var appDataCmd = &cobra.Command{
	Use:   "app-data",
	Short: "Read or write per-user app data (requires --admin-secret)",
}

var appDataViewCmd = &cobra.Command{
	Use:   "view <user-api-key>",
	Short: "Show a user's app data, or one subclass with --subclass",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		ctx, cancel := withTimeout(cmd)
		defer cancel()

		if appDataSubclass != "" {
			data, err := c.AppDataSubclass(ctx, args[0], appDataSubclass)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), data)
		}
		view, err := c.AppDataView(ctx, args[0])
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), view)
	},
}

var appDataSetCmd = &cobra.Command{
	Use:   "set <user-api-key> <subclass> <json-object>",
	Short: "Merge a JSON object into one subclass of a user's app data",
	Long: `Merge a JSON object into one subclass. Pass - as the object to read it
from stdin:

  echo '{"plan":"pro"}' | pbsctl app-data set pbs_abc billing -`,
	Args: cobra.ExactArgs(3),
	RunE: runAppDataSet,
}

func init() {
	appDataViewCmd.Flags().StringVar(&appDataSubclass, "subclass", "", "show only this subclass")
	appDataCmd.AddCommand(appDataViewCmd, appDataSetCmd)
}

func runAppDataSet(cmd *cobra.Command, args []string) error {
	raw := []byte(args[2])
	if args[2] == "-" {
		b, err := io.ReadAll(io.LimitReader(cmd.InOrStdin(), 1<<20))
		if err != nil {
			return fmt.Errorf("read stdin: %w", err)
		}
		raw = b
	}
	var data map[string]any
	if err := json.Unmarshal(raw, &data); err != nil || data == nil {
		return fmt.Errorf("data must be a JSON object")
	}

	c, err := newClient()
	if err != nil {
		return err
	}
	ctx, cancel := withTimeout(cmd)
	defer cancel()

	merged, err := c.AppDataSet(ctx, args[0], args[1], data)
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), merged)
}

// ── version ──────────────────────────────────────────────────────────────────

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the pbsctl version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "pbsctl %s\n", version)
	},
}
