package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

func newMatchCommand(flags *GlobalFlags) *cobra.Command {
	var (
		account string
		all     bool
	)

	cmd := &cobra.Command{
		Use:   "match",
		Short: "Run one matching pass",
		Example: `  reconciler match --account acct-1
  reconciler match --all`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if (account == "") == !all {
				return errors.New("exactly one of --account or --all is required")
			}

			a, err := openApp(cmd.Context(), flags, "match")
			if err != nil {
				return err
			}
			defer a.close()

			out := cmd.OutOrStdout()
			if !all {
				result, err := a.svc.RunMatchingPass(cmd.Context(), account)
				if err != nil {
					return err
				}
				PrintPassResult(out, result)
				return nil
			}

			outcomes, err := a.svc.RunAll(cmd.Context())
			PrintOutcomes(out, outcomes)
			if err != nil {
				return fmt.Errorf("%d of %d accounts failed: %w", countFailed(outcomes), len(outcomes), err)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&account, "account", "", "Account to match")
	cmd.Flags().BoolVar(&all, "all", false, "Match every account with pending items")
	return cmd
}
