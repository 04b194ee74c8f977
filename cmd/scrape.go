package cmd

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/AndrewDeWitt/GrimLog-sub006/internal/utils"
	"github.com/AndrewDeWitt/GrimLog-sub006/pkg/ai"
	"github.com/AndrewDeWitt/GrimLog-sub006/pkg/cache"
	"github.com/AndrewDeWitt/GrimLog-sub006/pkg/fetch"
	"github.com/AndrewDeWitt/GrimLog-sub006/pkg/pipeline"
	"github.com/AndrewDeWitt/GrimLog-sub006/pkg/storage"
)

// scrapeCmd implements: grimlog scrape --faction <name>
var scrapeCmd = &cobra.Command{
	Use:   "scrape",
	Short: "Scrape one faction's datasheets into the database",
	RunE: func(cmd *cobra.Command, args []string) error {
		faction, _ := cmd.Flags().GetString("faction")
		if faction == "" {
			return fmt.Errorf("--faction is required (e.g. --faction \"Adeptus Custodes\")")
		}
		force, _ := cmd.Flags().GetBool("force")
		noAI, _ := cmd.Flags().GetBool("no-ai")
		excludeFlagged, _ := cmd.Flags().GetBool("exclude-flagged")
		limit, _ := cmd.Flags().GetInt("limit")
		proxy, _ := cmd.Flags().GetString("proxy")
		dbPath, _ := cmd.Flags().GetString("db")

		baseURL := viper.GetString("source.base_url")
		pathRoot := viper.GetString("source.path_root")
		indexURL := baseURL + pathRoot + factionSlug(faction)

		cacheDir := viper.GetString("cache.dir")
		if cacheDir == "" {
			home, err := os.UserHomeDir()
			if err != nil {
				return err
			}
			cacheDir = filepath.Join(home, ".config", "grimlog", "cache")
		}
		store, err := cache.NewStore(cacheDir)
		if err != nil {
			return err
		}

		fetcher := fetch.NewClient(fetch.Options{
			MaxRetries:  viper.GetInt("source.max_retries"),
			MinInterval: time.Duration(viper.GetInt("source.min_delay_ms")) * time.Millisecond,
			Proxy:       proxy,
		})

		var extractor ai.Extractor
		if !noAI {
			apiKey := viper.GetString("ai.api_key")
			if apiKey == "" {
				apiKey = os.Getenv("OPENAI_API_KEY")
			}
			if apiKey == "" {
				utils.Log.Info("No AI API key configured, skipping semantic extraction (use --no-ai to silence this).")
			} else {
				extractor, err = ai.NewExtractor(ai.Config{
					APIKey:   apiKey,
					Model:    viper.GetString("ai.model"),
					Endpoint: viper.GetString("ai.endpoint"),
				})
				if err != nil {
					return err
				}
			}
		}

		absDB, err := utils.GetAbsDBPath(dbPath)
		if err != nil {
			return err
		}
		if err := os.MkdirAll(filepath.Dir(absDB), 0o755); err != nil {
			return err
		}
		dbLock, err := utils.NewDBLock(dbPath)
		if err != nil {
			return err
		}
		if err := dbLock.Lock(); err != nil {
			return err
		}
		defer dbLock.Unlock()

		db, err := storage.Open(absDB)
		if err != nil {
			return err
		}
		defer db.Close()

		result, err := pipeline.Run(cmd.Context(), pipeline.Config{
			IndexURL:       indexURL,
			PathRoot:       pathRoot,
			Faction:        faction,
			MinLinks:       viper.GetInt("source.min_nav_links"),
			Force:          force,
			ExcludeFlagged: excludeFlagged,
			Limit:          limit,
			Fetcher:        fetcher,
			Cache:          store,
			DB:             db,
			Extractor:      extractor,
			Log:            utils.Log,
		})
		if result != nil {
			printRunReport(result)
		}
		return err
	},
}

func printRunReport(r *pipeline.Result) {
	fmt.Printf("\nRun finished in %s: %d processed, %d failed, %d skipped, %d changed\n",
		r.FinishedAt.Sub(r.StartedAt).Round(time.Second), r.Processed, r.Failed, r.Skipped, r.Changed)
	if len(r.QualityHistogram) > 0 {
		fmt.Println("Quality:")
		for _, bucket := range []string{"90-100", "70-89", "50-69", "0-49"} {
			if n := r.QualityHistogram[bucket]; n > 0 {
				fmt.Printf("  %-7s %d\n", bucket, n)
			}
		}
	}
	for name, issues := range r.Issues {
		for _, iss := range issues {
			fmt.Printf("  [%s] %s: %s\n", iss.Severity, name, iss.Message)
		}
	}
	if len(r.Errors) > 0 {
		fmt.Println("Failures:")
		for _, e := range r.Errors {
			fmt.Printf("  %s: %v\n", e.Name, e.Err)
		}
	}
}

// factionSlug converts a display name into the source's URL segment.
func factionSlug(name string) string {
	return url.PathEscape(strings.ReplaceAll(strings.TrimSpace(name), " ", "-"))
}

func init() {
	rootCmd.AddCommand(scrapeCmd)
	scrapeCmd.Flags().String("faction", "", "Faction to scrape (required)")
	scrapeCmd.Flags().Bool("force", false, "Refetch pages even when cached")
	scrapeCmd.Flags().Bool("no-ai", false, "Skip the AI extraction pass")
	scrapeCmd.Flags().Bool("exclude-flagged", false, "Skip Legends and Forge World datasheets")
	scrapeCmd.Flags().Int("limit", 0, "Stop after N datasheets (0 = all)")
}
