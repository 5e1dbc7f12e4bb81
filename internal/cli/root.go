// Package cli assembles the root command and global flag handling.
package cli

import (
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/timewarp/quickbooks-cli/internal/appctx"
	"github.com/timewarp/quickbooks-cli/internal/commands"
	"github.com/timewarp/quickbooks-cli/internal/completion"
	"github.com/timewarp/quickbooks-cli/internal/config"
	"github.com/timewarp/quickbooks-cli/internal/output"
	qberrors "github.com/timewarp/quickbooks-cli/internal/sdk/errors"
	"github.com/timewarp/quickbooks-cli/internal/version"
)

// NewRootCmd creates the root cobra command.
func NewRootCmd() *cobra.Command {
	var flags appctx.GlobalFlags

	cmd := &cobra.Command{
		Use:           "qb",
		Short:         "Command-line interface for QuickBooks Online",
		Long:          "qb manages QuickBooks Online OAuth2 tokens and makes authenticated API requests with automatic refresh.",
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "help" {
				return nil
			}

			cfg, err := config.Load(config.FlagOverrides{
				Environment: flags.Env,
				RealmID:     flags.Realm,
				Timeout:     flags.Timeout,
				Verbose:     flags.Verbose > 0,
			})
			if err != nil {
				return qberrors.ErrUsage(err.Error())
			}

			app, err := appctx.NewApp(cfg)
			if err != nil {
				return err
			}
			app.Flags = flags
			if app.Flags.Verbose == 0 && cfg.Verbose {
				app.Flags.Verbose = 1
			}
			if err := app.ApplyFlags(); err != nil {
				return err
			}

			cmd.SetContext(appctx.WithApp(cmd.Context(), app))
			return nil
		},
	}

	cmd.Flags().SetInterspersed(true)
	cmd.PersistentFlags().SetInterspersed(true)

	// Context flags
	cmd.PersistentFlags().StringVarP(&flags.Realm, "realm", "r", "", "Company (realm) ID")
	cmd.PersistentFlags().StringVarP(&flags.Env, "env", "e", "", "Environment: sandbox or production")
	cmd.PersistentFlags().IntVar(&flags.Timeout, "timeout", 0, "Request timeout in seconds")

	// Output format flags
	cmd.PersistentFlags().BoolVarP(&flags.JSON, "json", "j", false, "Output as JSON (the default)")
	cmd.PersistentFlags().BoolVarP(&flags.Quiet, "quiet", "q", false, "Output data only, no envelope")
	cmd.PersistentFlags().BoolVar(&flags.YAML, "yaml", false, "Output as YAML")
	cmd.PersistentFlags().StringVar(&flags.JQ, "jq", "", "Apply a jq expression to the data payload")

	// Behavior flags
	cmd.PersistentFlags().CountVarP(&flags.Verbose, "verbose", "v", "Verbose output (-v for request traces, -vv for debug logging)")

	_ = cmd.RegisterFlagCompletionFunc("realm", completion.RealmCompletion())
	_ = cmd.RegisterFlagCompletionFunc("env", completion.EnvironmentCompletion())

	return cmd
}

// Execute runs the root command and terminates the process with the
// exit code mapped from the error classification.
func Execute() {
	cmd := NewRootCmd()

	cmd.AddCommand(commands.NewAuthCmd())
	cmd.AddCommand(commands.NewAPICmd())
	cmd.AddCommand(commands.NewQueryCmd())
	cmd.AddCommand(commands.NewCompanyCmd())
	cmd.AddCommand(commands.NewConfigCmd())
	cmd.AddCommand(commands.NewVersionCmd())

	executedCmd, err := cmd.ExecuteC()
	if err == nil {
		return
	}

	err = transformCobraError(err)

	// Use the app's writer when available so --yaml and --quiet shape
	// errors too; during early setup fall back to a plain JSON writer.
	if app := appctx.FromContext(executedCmd.Context()); app != nil && app.Output != nil {
		os.Exit(app.Output.Err(err))
	}

	writer, werr := output.New(output.Options{Writer: os.Stdout, ErrOut: os.Stderr})
	if werr != nil {
		os.Exit(qberrors.ExitInternal)
	}
	os.Exit(writer.Err(err))
}

// transformCobraError converts cobra's flag and argument errors into
// usage-classified errors so they exit with the usage code.
func transformCobraError(err error) error {
	msg := err.Error()

	switch {
	case strings.HasPrefix(msg, "flag needs an argument: "),
		strings.HasPrefix(msg, "unknown flag: "),
		strings.HasPrefix(msg, "unknown shorthand flag: "),
		strings.HasPrefix(msg, "unknown command "),
		strings.Contains(msg, "invalid argument"),
		strings.Contains(msg, "arg(s), received"),
		strings.HasPrefix(msg, "required flag(s) "),
		strings.Contains(msg, "requires at least"):
		return qberrors.ErrUsage(msg)
	}

	return err
}
