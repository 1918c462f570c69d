package main

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/pkg/browser"
	"github.com/spf13/cobra"

	"github.com/ibeckermayer/post4me/internal/auth"
	"github.com/ibeckermayer/post4me/internal/config"
	"github.com/ibeckermayer/post4me/internal/envfile"
	"github.com/ibeckermayer/post4me/internal/lifecycle"
	"github.com/ibeckermayer/post4me/internal/scheduler"
)

var (
	logsFollow bool

	loginUser          string
	loginPasswordStdin bool
	loginWait          time.Duration

	envWithSecrets bool
	envOutput      string

	digestSend bool
)

var statusCmd = &cobra.Command{
	Use:     "status",
	GroupID: "account",
	Short:   "Show the connection, the linked account and the daily jobs",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, done, err := openApp()
		if err != nil {
			return err
		}
		defer done()

		ctx := cmd.Context()
		s := a.Session()
		checkErr := s.Check(ctx)
		if err := s.RecheckGoogle(ctx); err != nil {
			checkErr = errors.Join(checkErr, err)
		}
		st := s.State()

		cfg := a.Config()
		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintf(tw, "Server:\t%s\n", cfg.Server.BaseURL)
		fmt.Fprintf(tw, "Credentials saved:\t%s\n", st.Configured)
		fmt.Fprintf(tw, "Linked:\t%s\n", st.Connected)
		if st.Profile.Username != "" {
			fmt.Fprintf(tw, "Account:\t@%s (%s followers)\n", st.Profile.Username, humanize.Comma(int64(st.Profile.FollowersCount)))
		}
		fmt.Fprintf(tw, "Character limit:\t%d\n", st.CharLimit())
		fmt.Fprintf(tw, "Google:\t%s\n", st.Google)
		fmt.Fprintf(tw, "Profile refresh:\tdaily at %s (%s)\n", cfg.Profile.RefreshTime, a.Scheduler().Location())
		if cfg.Digest.Enabled {
			fmt.Fprintf(tw, "Digest:\tdaily at %s to %s\n", cfg.Digest.SendTime, cfg.Email.ToAddr)
		} else {
			fmt.Fprintf(tw, "Digest:\toff\n")
		}
		tw.Flush()
		if checkErr != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "Warning: %v\n", checkErr)
		}
		return nil
	},
}

var profileCmd = &cobra.Command{
	Use:     "profile",
	GroupID: "account",
	Short:   "Re-read the X profile and show follower history",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, done, err := openApp()
		if err != nil {
			return err
		}
		defer done()

		ctx := cmd.Context()
		if err := a.Scheduler().RunNow(ctx, scheduler.JobProfileRefresh, a.RefreshProfile); err != nil {
			return errors.New(lifecycle.Describe(err))
		}
		stats, err := a.Client().ProfileStats(ctx)
		if err != nil {
			return err
		}
		p := stats.Profile
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "%s (@%s)\n", p.DisplayName, p.Username)
		if p.Bio != "" {
			fmt.Fprintln(out, p.Bio)
		}
		fmt.Fprintf(out, "%s followers, %s following\n", humanize.Comma(int64(p.FollowersCount)), humanize.Comma(int64(p.FollowingCount)))
		if trend, ok := stats.Trend(); ok {
			fmt.Fprintf(out, "Since last snapshot: %+d followers, %+d following\n", trend.Followers, trend.Following)
		}
		return nil
	},
}

var logsCmd = &cobra.Command{
	Use:     "logs",
	GroupID: "account",
	Short:   "Print the backend log tail",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, done, err := openApp()
		if err != nil {
			return err
		}
		defer done()

		ctx := cmd.Context()
		out := cmd.OutOrStdout()
		if !logsFollow {
			logs, err := a.Client().Logs(ctx)
			if err != nil {
				return err
			}
			fmt.Fprint(out, logs)
			return nil
		}

		if err := a.FollowLogs(ctx, true); err != nil {
			return err
		}
		defer a.FollowLogs(ctx, false)
		ticker := time.NewTicker(a.Config().Polling.Logs())
		defer ticker.Stop()
		var last string
		for {
			if cur := a.Logs(); cur != last {
				if strings.HasPrefix(cur, last) {
					fmt.Fprint(out, cur[len(last):])
				} else {
					fmt.Fprint(out, cur)
				}
				last = cur
			}
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
			}
		}
	},
}

var loginCmd = &cobra.Command{
	Use:     "login",
	GroupID: "account",
	Short:   "Store X credentials on the backend and wait for the account to link",
	RunE: func(cmd *cobra.Command, args []string) error {
		in := bufio.NewReader(cmd.InOrStdin())
		user := loginUser
		if user == "" {
			fmt.Fprint(cmd.ErrOrStderr(), "X username: ")
			line, err := in.ReadString('\n')
			if err != nil {
				return err
			}
			user = strings.TrimSpace(line)
		}
		if !loginPasswordStdin {
			fmt.Fprint(cmd.ErrOrStderr(), "X password: ")
		}
		pass, err := in.ReadString('\n')
		if err != nil && pass == "" {
			return err
		}
		pass = strings.TrimRight(pass, "\r\n")

		a, done, err := openApp()
		if err != nil {
			return err
		}
		defer done()

		ctx := cmd.Context()
		check, err := a.Auth().Login(ctx, user, pass)
		if err != nil {
			return err
		}
		if !check.Success {
			msg := check.Error
			if check.NeedsManualIntervention {
				msg += " (finish the login in the web interface)"
			}
			return fmt.Errorf("connection test failed: %s", msg)
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Credentials saved, waiting for the account to link...")
		p, err := a.Auth().WaitForLink(ctx, 0, loginWait)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Linked as @%s\n", p.Username)
		return nil
	},
}

var logoutCmd = &cobra.Command{
	Use:     "logout",
	GroupID: "account",
	Short:   "Clear the X credentials stored on the backend",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, done, err := openApp()
		if err != nil {
			return err
		}
		defer done()

		err = a.Logout(cmd.Context())
		if errors.Is(err, auth.ErrCancelled) {
			fmt.Fprintln(cmd.OutOrStdout(), "Cancelled")
			return nil
		}
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Logged out")
		return nil
	},
}

var envCmd = &cobra.Command{
	Use:     "env",
	GroupID: "account",
	Short:   "Back up or restore the backend's env settings",
}

var envExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write the env settings as YAML",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, done, err := openApp()
		if err != nil {
			return err
		}
		defer done()

		values, err := a.Client().EnvSettings(cmd.Context())
		if err != nil {
			return err
		}
		if envOutput == "" || envOutput == "-" {
			return envfile.Export(cmd.OutOrStdout(), values, envWithSecrets)
		}
		f, err := os.OpenFile(envOutput, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
		if err != nil {
			return err
		}
		if err := envfile.Export(f, values, envWithSecrets); err != nil {
			f.Close()
			return err
		}
		return f.Close()
	},
}

var envImportCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Merge env settings from a YAML file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer f.Close()

		a, done, err := openApp()
		if err != nil {
			return err
		}
		defer done()

		changed, err := envfile.Import(cmd.Context(), a.Client(), f)
		if err != nil {
			return err
		}
		if len(changed) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "Nothing to change")
			return nil
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Updated %s\n", strings.Join(changed, ", "))
		return nil
	},
}

var digestCmd = &cobra.Command{
	Use:     "digest",
	GroupID: "account",
	Short:   "Preview the activity digest, or mail it with --send",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, done, err := openApp()
		if err != nil {
			return err
		}
		defer done()

		ctx := cmd.Context()
		if digestSend {
			return a.Scheduler().RunNow(ctx, scheduler.JobDigest, a.SendDigest)
		}
		d, err := a.BuildDigest(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Subject: %s\n\n%s", d.Subject, d.PlainBody)
		return nil
	},
}

var exportCmd = &cobra.Command{
	Use:       "export <posts|logs>",
	GroupID:   "account",
	Short:     "Save posts or the backend log in the cache directory",
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{"posts", "logs"},
	RunE: func(cmd *cobra.Command, args []string) error {
		a, done, err := openApp()
		if err != nil {
			return err
		}
		defer done()

		var path string
		switch args[0] {
		case "posts":
			path, err = a.ExportPosts(cmd.Context())
		case "logs":
			path, err = a.ExportLogs(cmd.Context())
		default:
			return fmt.Errorf("unknown export %q", args[0])
		}
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), path)
		return nil
	},
}

var openCmd = &cobra.Command{
	Use:       "open <config|cache|web|tweet> [id]",
	GroupID:   "account",
	Short:     "Open the config file, cache directory, web interface or a tweet",
	Args:      cobra.RangeArgs(1, 2),
	ValidArgs: []string{"config", "cache", "web", "tweet"},
	RunE: func(cmd *cobra.Command, args []string) error {
		switch args[0] {
		case "config":
			path, err := config.ConfigPath()
			if err != nil {
				return err
			}
			if _, err := os.Stat(path); os.IsNotExist(err) {
				if err := config.Default().SaveTo(path); err != nil {
					return err
				}
			}
			return browser.OpenFile(path)
		case "cache":
			path, err := config.CacheDir()
			if err != nil {
				return err
			}
			if err := os.MkdirAll(path, 0755); err != nil {
				return err
			}
			return browser.OpenFile(path)
		case "web":
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			return browser.OpenURL(cfg.Server.WebURL)
		case "tweet":
			if len(args) != 2 {
				return errors.New("usage: p4m open tweet <id>")
			}
			id, err := parseID(args[1])
			if err != nil {
				return err
			}
			a, done, err := openApp()
			if err != nil {
				return err
			}
			defer done()
			return a.OpenTweet(cmd.Context(), id)
		}
		return fmt.Errorf("unknown target: %s", args[0])
	},
}

var prefsCmd = &cobra.Command{
	Use:     "prefs [locale|theme] [value]",
	GroupID: "account",
	Short:   "Show or change the interface preferences",
	Args:    cobra.MaximumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, done, err := openApp()
		if err != nil {
			return err
		}
		defer done()

		ctx := cmd.Context()
		s := a.Session()
		if err := s.LoadPreferences(ctx); err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "Warning: %v\n", err)
		}
		if len(args) == 2 {
			switch args[0] {
			case "locale":
				err = s.SetLocale(ctx, args[1])
			case "theme":
				err = s.SetTheme(ctx, args[1])
			default:
				err = fmt.Errorf("unknown preference %q", args[0])
			}
			if err != nil {
				return err
			}
		}
		st := s.State()
		switch {
		case len(args) >= 1 && args[0] == "locale":
			fmt.Fprintln(cmd.OutOrStdout(), st.Locale)
		case len(args) >= 1 && args[0] == "theme":
			fmt.Fprintln(cmd.OutOrStdout(), st.Theme)
		default:
			fmt.Fprintf(cmd.OutOrStdout(), "locale: %s\ntheme: %s\n", st.Locale, st.Theme)
		}
		return nil
	},
}

func init() {
	logsCmd.Flags().BoolVarP(&logsFollow, "follow", "f", false, "Keep printing new log lines")

	loginCmd.Flags().StringVar(&loginUser, "username", "", "X username or @handle")
	loginCmd.Flags().BoolVar(&loginPasswordStdin, "password-stdin", false, "Read the password from stdin without prompting")
	loginCmd.Flags().DurationVar(&loginWait, "wait", 5*time.Minute, "How long to wait for the account to link")

	envExportCmd.Flags().BoolVar(&envWithSecrets, "with-secrets", false, "Include passwords and tokens")
	envExportCmd.Flags().StringVarP(&envOutput, "output", "o", "", "Write to a file instead of stdout")
	envCmd.AddCommand(envExportCmd, envImportCmd)

	digestCmd.Flags().BoolVar(&digestSend, "send", false, "Mail the digest instead of printing it")

	rootCmd.AddCommand(statusCmd, profileCmd, logsCmd, loginCmd, logoutCmd, envCmd, digestCmd, exportCmd, openCmd, prefsCmd)
}
