package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/AndrewDeWitt/GrimLog-sub006/internal/utils"
	"github.com/AndrewDeWitt/GrimLog-sub006/pkg/storage"
)

// statsCmd implements: grimlog stats
var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show per-faction datasheet counts and quality",
	RunE: func(cmd *cobra.Command, args []string) error {
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

		stats, err := db.GetStats(cmd.Context())
		if err != nil {
			return err
		}
		if len(stats) == 0 {
			fmt.Println("Database is empty. Run 'grimlog scrape' first.")
			return nil
		}
		fmt.Printf("%-30s %10s %12s\n", "FACTION", "SHEETS", "AVG QUALITY")
		for _, s := range stats {
			fmt.Printf("%-30s %10d %12.1f\n", s.Faction, s.SheetCount, s.AvgQuality)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statsCmd)
}
