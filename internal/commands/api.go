package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/timewarp/quickbooks-cli/internal/appctx"
	"github.com/timewarp/quickbooks-cli/internal/output"
	qberrors "github.com/timewarp/quickbooks-cli/internal/sdk/errors"
)

// NewAPICmd creates the api command for raw API access.
func NewAPICmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "api <verb> <path>",
		Short: "Raw API access",
		Long: `Make raw requests against the company endpoint of the QuickBooks API.

Paths are relative to /v3/company/<realm>/, e.g. "customer/42" or
"reports/ProfitAndLoss". The minorversion parameter is appended
automatically unless the path already carries one.`,
	}

	cmd.AddCommand(
		newAPIGetCmd(),
		newAPIPostCmd(),
		newAPIPutCmd(),
		newAPIDeleteCmd(),
	)

	return cmd
}

func newAPIGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <path>",
		Short: "GET request to API",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app := appctx.FromContext(cmd.Context())
			realmID, err := app.RealmID()
			if err != nil {
				return err
			}

			resp, err := app.Client.Get(cmd.Context(), realmID, args[0])
			if err != nil {
				return err
			}

			return app.OK(resp.Data, output.WithSummary("GET %s", args[0]))
		},
	}
}

func newAPIPostCmd() *cobra.Command {
	var data string

	cmd := &cobra.Command{
		Use:   "post <path>",
		Short: "POST request to API",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app := appctx.FromContext(cmd.Context())
			realmID, err := app.RealmID()
			if err != nil {
				return err
			}

			body, err := readBody(data, cmd.InOrStdin())
			if err != nil {
				return err
			}

			resp, err := app.Client.Post(cmd.Context(), realmID, args[0], body)
			if err != nil {
				return err
			}

			return app.OK(resp.Data, output.WithSummary("POST %s", args[0]))
		},
	}

	cmd.Flags().StringVarP(&data, "data", "d", "", "JSON request body, @file, or - for stdin (required)")
	_ = cmd.MarkFlagRequired("data")

	return cmd
}

func newAPIPutCmd() *cobra.Command {
	var data string

	cmd := &cobra.Command{
		Use:   "put <path>",
		Short: "PUT request to API",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app := appctx.FromContext(cmd.Context())
			realmID, err := app.RealmID()
			if err != nil {
				return err
			}

			body, err := readBody(data, cmd.InOrStdin())
			if err != nil {
				return err
			}

			resp, err := app.Client.Put(cmd.Context(), realmID, args[0], body)
			if err != nil {
				return err
			}

			return app.OK(resp.Data, output.WithSummary("PUT %s", args[0]))
		},
	}

	cmd.Flags().StringVarP(&data, "data", "d", "", "JSON request body, @file, or - for stdin (required)")
	_ = cmd.MarkFlagRequired("data")

	return cmd
}

func newAPIDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <path>",
		Short: "DELETE request to API",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app := appctx.FromContext(cmd.Context())
			realmID, err := app.RealmID()
			if err != nil {
				return err
			}

			resp, err := app.Client.Delete(cmd.Context(), realmID, args[0])
			if err != nil {
				return err
			}

			data := resp.Data
			if resp.NoContent() {
				data = json.RawMessage(`{}`)
			}

			return app.OK(data, output.WithSummary("DELETE %s", args[0]))
		},
	}
}

// readBody parses the --data value: inline JSON, @file, or - for stdin.
func readBody(data string, stdin io.Reader) (any, error) {
	if data == "" {
		return nil, qberrors.ErrUsage("--data is required")
	}

	raw := []byte(data)
	switch {
	case data == "-":
		b, err := io.ReadAll(stdin)
		if err != nil {
			return nil, err
		}
		raw = b
	case strings.HasPrefix(data, "@"):
		b, err := os.ReadFile(strings.TrimPrefix(data, "@"))
		if err != nil {
			return nil, qberrors.ErrUsage(fmt.Sprintf("cannot read body file: %v", err))
		}
		raw = b
	}

	var body any
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil, qberrors.ErrUsage(fmt.Sprintf("invalid JSON body: %v", err))
	}
	return body, nil
}
