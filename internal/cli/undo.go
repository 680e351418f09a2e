package cli

import (
	"github.com/spf13/cobra"
)

func newUndoCommand(flags *GlobalFlags) *cobra.Command {
	var (
		account string
		count   int
	)

	cmd := &cobra.Command{
		Use:   "undo",
		Short: "Undo the most recent automatic matches for an account",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := openApp(cmd.Context(), flags, "undo")
			if err != nil {
				return err
			}
			defer a.close()

			undone, err := a.svc.UndoLastMatches(cmd.Context(), account, count)
			if err != nil {
				return err
			}
			PrintUndone(cmd.OutOrStdout(), undone)
			return nil
		},
	}
	cmd.Flags().StringVar(&account, "account", "", "Account to undo matches for")
	cmd.Flags().IntVarP(&count, "count", "n", 1, "Number of automatic matches to undo")
	_ = cmd.MarkFlagRequired("account")
	return cmd
}
