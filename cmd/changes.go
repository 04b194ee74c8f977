package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/AndrewDeWitt/GrimLog-sub006/internal/utils"
	"github.com/AndrewDeWitt/GrimLog-sub006/pkg/storage"
)

// changesCmd implements: grimlog changes
var changesCmd = &cobra.Command{
	Use:   "changes",
	Short: "Print recent datasheet changes from the database",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		dbPath, _ := cmd.Flags().GetString("db")

		absDB, err := utils.GetAbsDBPath(dbPath)
		if err != nil {
			return err
		}
		db, err := storage.Open(absDB)
		if err != nil {
			return err
		}
		defer db.Close()

		changes, err := db.ListRecentChanges(cmd.Context(), limit)
		if err != nil {
			return err
		}
		if len(changes) == 0 {
			fmt.Println("No changes recorded yet.")
			return nil
		}
		for _, c := range changes {
			fmt.Printf("%s  %-8s %s (%s)\n", c.OccurredAt.Format("2006-01-02 15:04"), c.ChangeType, c.Name, c.Faction)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(changesCmd)
	changesCmd.Flags().Int("limit", 50, "Maximum number of changes to print")
}
