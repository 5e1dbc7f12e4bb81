// Package completion provides tab completion for the qb CLI.
//
// Completions read the file credential fallback directly and never
// touch the OS keyring: completion must stay fast and prompt-free, and
// PersistentPreRunE does not run during __complete.
package completion

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/timewarp/quickbooks-cli/internal/config"
)

// RealmCompletion completes realm IDs from stored credentials.
func RealmCompletion() cobra.CompletionFunc {
	return func(cmd *cobra.Command, args []string, toComplete string) ([]cobra.Completion, cobra.ShellCompDirective) {
		realms := storedRealms()
		if len(realms) == 0 {
			return nil, cobra.ShellCompDirectiveNoFileComp
		}

		var completions []cobra.Completion
		for _, realm := range realms {
			if strings.HasPrefix(realm, toComplete) {
				completions = append(completions, realm)
			}
		}
		return completions, cobra.ShellCompDirectiveNoFileComp
	}
}

// EnvironmentCompletion completes the --env flag.
func EnvironmentCompletion() cobra.CompletionFunc {
	return cobra.FixedCompletions(
		[]cobra.Completion{config.EnvSandbox, config.EnvProduction},
		cobra.ShellCompDirectiveNoFileComp,
	)
}

// KeyCompletion completes from a fixed key list, for config get/set.
func KeyCompletion(keys []string) cobra.CompletionFunc {
	return func(cmd *cobra.Command, args []string, toComplete string) ([]cobra.Completion, cobra.ShellCompDirective) {
		if len(args) > 0 {
			return nil, cobra.ShellCompDirectiveNoFileComp
		}
		var completions []cobra.Completion
		for _, key := range keys {
			if strings.HasPrefix(key, toComplete) {
				completions = append(completions, key)
			}
		}
		return completions, cobra.ShellCompDirectiveNoFileComp
	}
}

// storedRealms lists realm IDs from the file credential fallback,
// sorted for stable completion order.
func storedRealms() []string {
	path := filepath.Join(config.GlobalConfigDir(), "credentials", "credentials.json")
	data, err := os.ReadFile(path) //nolint:gosec // G304: Path is from trusted config locations
	if err != nil {
		return nil
	}

	var all map[string]json.RawMessage
	if err := json.Unmarshal(data, &all); err != nil {
		return nil
	}

	realms := make([]string, 0, len(all))
	for realm := range all {
		realms = append(realms, realm)
	}
	sort.Strings(realms)
	return realms
}
