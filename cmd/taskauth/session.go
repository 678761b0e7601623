package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	auth "github.com/goliatone/go-taskauth"
	"github.com/goliatone/go-taskauth/client"
)

type sessionOptions struct {
	root        *rootOptions
	server      string
	storagePath string
	timeout     time.Duration
}

func newSessionCmd(root *rootOptions) *cobra.Command {
	opts := &sessionOptions{root: root}

	cmd := &cobra.Command{
		Use:   "session",
		Short: "Manage the local session against a taskauth server",
	}

	cmd.PersistentFlags().StringVar(&opts.server, "server", envOr("TASKAUTH_SERVER", "http://localhost:8080"), "taskauth server base URL")
	cmd.PersistentFlags().StringVar(&opts.storagePath, "storage", "", "session file (default is the user config dir)")
	cmd.PersistentFlags().DurationVar(&opts.timeout, "timeout", client.DefaultTimeout, "request timeout")

	cmd.AddCommand(newSessionLoginCmd(opts))
	cmd.AddCommand(newSessionRefreshCmd(opts))
	cmd.AddCommand(newSessionLogoutCmd(opts))
	cmd.AddCommand(newSessionStatusCmd(opts))

	return cmd
}

func newSessionLoginCmd(opts *sessionOptions) *cobra.Command {
	var email, password string

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in and store the session",
		RunE: func(cmd *cobra.Command, args []string) error {
			if password == "" {
				password = os.Getenv("TASKAUTH_PASSWORD")
			}

			session, err := opts.open()
			if err != nil {
				return err
			}
			defer session.Close()

			user, err := session.Login(cmd.Context(), email, password)
			if err != nil {
				return describeError(err)
			}

			color.New(color.FgGreen).Fprintf(cmd.OutOrStdout(), "Signed in as %s (%s)\n", user.Email, user.Role)
			return nil
		},
	}

	cmd.Flags().StringVarP(&email, "email", "e", "", "account email")
	cmd.Flags().StringVarP(&password, "password", "p", "", "account password, defaults to $TASKAUTH_PASSWORD")
	_ = cmd.MarkFlagRequired("email")

	return cmd
}

func newSessionRefreshCmd(opts *sessionOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "refresh",
		Short: "Rotate the stored credentials",
		RunE: func(cmd *cobra.Command, args []string) error {
			session, err := opts.restore(cmd.Context())
			if err != nil {
				return err
			}
			defer session.Close()

			if err := session.Refresh(cmd.Context()); err != nil {
				return describeError(err)
			}

			color.New(color.FgGreen).Fprintf(cmd.OutOrStdout(), "Session refreshed, expires %s\n",
				session.ExpiresAt().Local().Format(time.RFC1123))
			return nil
		},
	}
}

func newSessionLogoutCmd(opts *sessionOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Revoke the session and clear local state",
		RunE: func(cmd *cobra.Command, args []string) error {
			session, err := opts.restore(cmd.Context())
			if err != nil {
				return err
			}
			defer session.Close()

			if err := session.Logout(cmd.Context()); err != nil {
				return describeError(err)
			}

			fmt.Fprintln(cmd.OutOrStdout(), "Logged out")
			return nil
		},
	}
}

func newSessionStatusCmd(opts *sessionOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the stored session",
		RunE: func(cmd *cobra.Command, args []string) error {
			session, err := opts.open()
			if err != nil {
				return err
			}
			defer session.Close()

			if _, err := session.Restore(cmd.Context()); err != nil {
				return describeError(err)
			}

			printStatus(cmd.OutOrStdout(), session, time.Now())
			return nil
		},
	}
}

func (o *sessionOptions) open() (*client.Session, error) {
	path := o.storagePath
	if path == "" {
		var err error
		if path, err = client.DefaultFileStoragePath(); err != nil {
			return nil, err
		}
	}

	transport := client.NewHTTPTransport(o.server, client.WithTimeout(o.timeout))

	return client.NewSession(transport,
		client.WithStorage(client.NewFileStorage(path)),
		client.WithLogger(newLogger("warn", "text", o.root.verbose)),
	), nil
}

func (o *sessionOptions) restore(ctx context.Context) (*client.Session, error) {
	session, err := o.open()
	if err != nil {
		return nil, err
	}

	ok, err := session.Restore(ctx)
	if err != nil {
		session.Close()
		return nil, describeError(err)
	}
	if !ok {
		session.Close()
		return nil, fmt.Errorf("no stored session, run: taskauth session login")
	}
	return session, nil
}

func printStatus(w io.Writer, session *client.Session, now time.Time) {
	bold := color.New(color.Bold)
	if !session.IsAuthenticated() {
		bold.Fprint(w, "State: ")
		color.New(color.FgYellow).Fprintln(w, session.State())
		return
	}

	user, _ := session.User()
	bold.Fprint(w, "State: ")
	color.New(color.FgGreen).Fprintln(w, session.State())
	bold.Fprint(w, "User:  ")
	fmt.Fprintf(w, "%s (%s)\n", user.Email, user.Role)

	bold.Fprint(w, "Token: ")
	remaining := session.ExpiresAt().Sub(now).Truncate(time.Second)
	if session.NeedsRefresh() {
		color.New(color.FgYellow).Fprintf(w, "expires in %s, refresh due\n", remaining)
	} else {
		fmt.Fprintf(w, "expires in %s\n", remaining)
	}

	if last := session.LastLoginAt(); !last.IsZero() {
		bold.Fprint(w, "Login: ")
		fmt.Fprintln(w, last.Local().Format(time.RFC1123))
	}

	bold.Fprint(w, "Can manage users: ")
	fmt.Fprintln(w, session.Can(auth.CapabilityManageUsers))
}

func describeError(err error) error {
	authErr := client.NormalizeError(err)
	if authErr == nil {
		return nil
	}
	msg := authErr.Message
	if authErr.Code != "" {
		msg = authErr.Code + ": " + msg
	}
	return fmt.Errorf("%s %s", color.RedString("[%s]", authErr.Kind), msg)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
