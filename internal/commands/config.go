package commands

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/timewarp/quickbooks-cli/internal/appctx"
	"github.com/timewarp/quickbooks-cli/internal/completion"
	"github.com/timewarp/quickbooks-cli/internal/config"
	"github.com/timewarp/quickbooks-cli/internal/output"
	qberrors "github.com/timewarp/quickbooks-cli/internal/sdk/errors"
)

// settableKeys are the keys accepted by config get/set.
var settableKeys = []string{
	"environment",
	"minor_version",
	"timeout_seconds",
	"client_id",
	"redirect_uri",
	"realm_id",
	"scopes",
	"verbose",
}

// NewConfigCmd creates the config command for managing configuration.
func NewConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration",
		Long: `Manage qb configuration.

Configuration is loaded with the following precedence:
  flags > QB_* env vars > ~/.config/qb/config.json > defaults

client_secret is never written to the config file; supply it via the
QB_CLIENT_SECRET environment variable.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigList(cmd)
		},
	}

	cmd.AddCommand(
		newConfigListCmd(),
		newConfigGetCmd(),
		newConfigSetCmd(),
	)

	return cmd
}

func newConfigListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "Show effective configuration",
		Long:  "Display the current effective configuration with source information.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigList(cmd)
		},
	}
}

func runConfigList(cmd *cobra.Command) error {
	app := appctx.FromContext(cmd.Context())

	values := configValues(app.Config)
	data := make(map[string]any, len(values))
	for key, value := range values {
		source := app.Config.Sources[key]
		if source == "" {
			source = string(config.SourceDefault)
		}
		data[key] = map[string]string{
			"value":  value,
			"source": source,
		}
	}

	return app.OK(data, output.WithSummary("Effective configuration"))
}

func newConfigGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:               "get <key>",
		Short:             "Get a config value",
		Args:              cobra.ExactArgs(1),
		ValidArgsFunction: completion.KeyCompletion(settableKeys),
		RunE: func(cmd *cobra.Command, args []string) error {
			app := appctx.FromContext(cmd.Context())

			key := args[0]
			values := configValues(app.Config)
			value, ok := values[key]
			if !ok {
				return qberrors.ErrUsage(fmt.Sprintf("unknown config key %q (keys: %s)", key, strings.Join(settableKeys, ", ")))
			}

			return app.OK(map[string]string{key: value})
		},
	}
}

func newConfigSetCmd() *cobra.Command {
	return &cobra.Command{
		Use:               "set <key> <value>",
		Short:             "Set a config value",
		Long:              "Set a value in the global config file at ~/.config/qb/config.json.",
		Args:              cobra.ExactArgs(2),
		ValidArgsFunction: completion.KeyCompletion(settableKeys),
		RunE: func(cmd *cobra.Command, args []string) error {
			app := appctx.FromContext(cmd.Context())
			key, value := args[0], args[1]

			// Re-load the file layer only so a flag or env override in
			// this invocation is not accidentally persisted.
			cfg, err := config.LoadGlobalFile()
			if err != nil {
				return err
			}

			switch key {
			case "environment":
				if value != config.EnvSandbox && value != config.EnvProduction {
					return qberrors.ErrUsage(fmt.Sprintf("environment must be %q or %q", config.EnvSandbox, config.EnvProduction))
				}
				cfg.Environment = value
			case "minor_version":
				cfg.MinorVersion = value
			case "timeout_seconds":
				n, err := strconv.Atoi(value)
				if err != nil || n <= 0 {
					return qberrors.ErrUsage("timeout_seconds must be a positive integer")
				}
				cfg.TimeoutSeconds = n
			case "client_id":
				cfg.ClientID = value
			case "client_secret":
				return qberrors.ErrUsage("client_secret is not persisted; set QB_CLIENT_SECRET instead")
			case "redirect_uri":
				cfg.RedirectURI = value
			case "realm_id":
				cfg.RealmID = value
			case "scopes":
				cfg.Scopes = strings.Fields(value)
			case "verbose":
				b, err := strconv.ParseBool(value)
				if err != nil {
					return qberrors.ErrUsage("verbose must be true or false")
				}
				cfg.Verbose = b
			default:
				return qberrors.ErrUsage(fmt.Sprintf("unknown config key %q (keys: %s)", key, strings.Join(settableKeys, ", ")))
			}

			if err := config.Save(cfg); err != nil {
				return err
			}

			return app.OK(map[string]string{
				"status": "saved",
				key:      value,
			}, output.WithSummary("Set %s = %s", key, value))
		},
	}
}

func configValues(cfg *config.Config) map[string]string {
	return map[string]string{
		"environment":     cfg.Environment,
		"minor_version":   cfg.MinorVersion,
		"timeout_seconds": strconv.Itoa(cfg.TimeoutSeconds),
		"client_id":       cfg.ClientID,
		"redirect_uri":    cfg.RedirectURI,
		"realm_id":        cfg.RealmID,
		"scopes":          strings.Join(cfg.Scopes, " "),
		"verbose":         strconv.FormatBool(cfg.Verbose),
	}
}
