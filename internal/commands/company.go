package commands

import (
	"github.com/spf13/cobra"

	"github.com/timewarp/quickbooks-cli/internal/appctx"
	"github.com/timewarp/quickbooks-cli/internal/output"
)

// NewCompanyCmd creates the company command.
func NewCompanyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "company",
		Short: "Show company information",
		Long:  "Fetch the CompanyInfo record for the selected realm. Handy as a connectivity and credential check.",
		RunE: func(cmd *cobra.Command, args []string) error {
			app := appctx.FromContext(cmd.Context())
			realmID, err := app.RealmID()
			if err != nil {
				return err
			}

			resp, err := app.Client.Get(cmd.Context(), realmID, "companyinfo/"+realmID)
			if err != nil {
				return err
			}

			var payload struct {
				CompanyInfo struct {
					CompanyName string `json:"CompanyName"`
					Country     string `json:"Country"`
				} `json:"CompanyInfo"`
			}
			summary := "Company " + realmID
			if err := resp.UnmarshalData(&payload); err == nil && payload.CompanyInfo.CompanyName != "" {
				summary = payload.CompanyInfo.CompanyName
			}

			return app.OK(resp.Data, output.WithSummary("%s", summary))
		},
	}
}
