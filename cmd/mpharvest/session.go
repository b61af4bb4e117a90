package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jonathan/mp-harvester/internal/observability"
	"github.com/jonathan/mp-harvester/internal/session"
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Log in to the MP console by scanning a QR code",
	Long: `Opens a Chrome window on the MP console login page and waits until the QR code
has been confirmed. A stored credential that is still valid is reused unless
--force is given.`,
	Args: cobra.NoArgs,
	RunE: runLogin,
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Forget the stored credential",
	Args:  cobra.NoArgs,
	RunE:  runLogout,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the login state",
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

var credentialCmd = &cobra.Command{
	Use:   "credential",
	Short: "Move a credential between machines as a share code",
}

var credentialExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Print the current credential as a share code",
	Args:  cobra.NoArgs,
	RunE:  runCredentialExport,
}

var credentialImportCmd = &cobra.Command{
	Use:   "import <code>",
	Short: "Install a credential from a share code",
	Args:  cobra.ExactArgs(1),
	RunE:  runCredentialImport,
}

var (
	loginForce     bool
	importNoVerify bool
)

func init() {
	loginCmd.Flags().BoolVar(&loginForce, "force", false, "Log in again even if a valid credential is stored")
	credentialImportCmd.Flags().BoolVar(&importNoVerify, "no-verify", false, "Skip checking the credential against the platform")

	credentialCmd.AddCommand(credentialExportCmd, credentialImportCmd)
	rootCmd.AddCommand(loginCmd, logoutCmd, statusCmd, credentialCmd)
}

// withApp loads the configuration, wires the app and runs fn under a context
// canceled by SIGINT.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx, stop := signalContext(cmd.Context())
	defer stop()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := a.Close(); cerr != nil {
			a.logger.Warn("failed to close resources", zap.Error(cerr))
		}
	}()
	return fn(ctx, a)
}

func runLogin(cmd *cobra.Command, _ []string) error {
	return withApp(cmd, func(ctx context.Context, a *app) error {
		_, _ = fmt.Fprintln(cmd.ErrOrStderr(), "Waiting for QR code confirmation in the browser window...")
		var err error
		if loginForce {
			_, err = a.sessions.Refresh(ctx)
		} else {
			_, err = a.sessions.Acquire(ctx)
		}
		if err != nil {
			return fmt.Errorf("login failed: %w", err)
		}
		printStatus(cmd, a.sessions.Status())
		return nil
	})
}

func runLogout(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := session.NewFileStore(cfg.CredentialFile).Clear(); err != nil {
		return err
	}
	_, _ = fmt.Fprintln(cmd.OutOrStdout(), "Logged out.")
	return nil
}

func runStatus(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	m := session.NewManager(nil, session.NewFileStore(cfg.CredentialFile), session.Options{})
	printStatus(cmd, m.Status())
	return nil
}

func printStatus(cmd *cobra.Command, st session.Status) {
	p := observability.NewPrinter(cmd.OutOrStdout())
	fields := [][2]string{{"Logged in", yesNo(st.LoggedIn)}}
	if !st.LoginTime.IsZero() {
		fields = append(fields,
			[2]string{"Login time", st.LoginTime.Local().Format(time.DateTime)},
			[2]string{"Expires", st.ExpireTime.Local().Format(time.DateTime)},
		)
	}
	if st.LoggedIn {
		fields = append(fields, [2]string{"Hours left", fmt.Sprintf("%.1f", st.HoursUntilExpire)})
	}
	if len(st.MissingCookies) > 0 {
		fields = append(fields, [2]string{"Missing cookies", strings.Join(st.MissingCookies, ", ")})
	}
	p.PrintFields("Session", fields)
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func runCredentialExport(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	m := session.NewManager(nil, session.NewFileStore(cfg.CredentialFile), session.Options{})
	c, err := m.Export()
	if err != nil {
		return err
	}
	code, err := session.EncodeShareCode(c)
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintln(cmd.OutOrStdout(), code)
	return nil
}

func runCredentialImport(cmd *cobra.Command, args []string) error {
	c, err := session.DecodeShareCode(strings.TrimSpace(args[0]))
	if err != nil {
		return fmt.Errorf("invalid share code: %w", err)
	}

	return withApp(cmd, func(ctx context.Context, a *app) error {
		if !importNoVerify {
			if err := a.verifier.Verify(ctx, c); err != nil {
				return fmt.Errorf("credential not accepted: %w", err)
			}
		}
		if _, err := a.sessions.Import(c); err != nil {
			return err
		}
		printStatus(cmd, a.sessions.Status())
		return nil
	})
}
