package commands

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/timewarp/quickbooks-cli/internal/appctx"
	"github.com/timewarp/quickbooks-cli/internal/output"
)

// NewQueryCmd creates the query command.
func NewQueryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "query <statement>",
		Short: "Run a QuickBooks query",
		Long: `Run a statement against the query endpoint.

Examples:
  qb query "SELECT * FROM Customer WHERE Active = true"
  qb query "SELECT Id, DisplayName FROM Customer" --jq '.QueryResponse.Customer[].DisplayName'

Multiple arguments are joined with spaces, so quoting the whole
statement is optional.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app := appctx.FromContext(cmd.Context())
			realmID, err := app.RealmID()
			if err != nil {
				return err
			}

			statement := strings.Join(args, " ")
			resp, err := app.Client.Query(cmd.Context(), realmID, statement)
			if err != nil {
				return err
			}

			return app.OK(resp.Data, output.WithSummary("query: %s", statement))
		},
	}
}
