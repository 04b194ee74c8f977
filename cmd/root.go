package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/AndrewDeWitt/GrimLog-sub006/internal/utils"

	homedir "github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

var cfgFile string

const (
	LOGO = `	            _           _
	  __ _ _ __(_)_ __ ___ | | ___   __ _
	 / _` + "`" + ` | '__| | '_ ` + "`" + ` _ \| |/ _ \ / _` + "`" + ` |
	| (_| | |  | | | | | | | | (_) | (_| |
	 \__, |_|  |_|_| |_| |_|_|\___/ \__, |
	 |___/                          |___/

`
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "grimlog",
	Short: "A resilient Warhammer 40k datasheet scraper.",
	Long: LOGO + `grimlog scrapes unit datasheets from the reference site, survives its
markup drift with tiered fallback selectors, cross-validates the AI
extraction against a deterministic pass, and keeps everything in a
local SQLite database.`,
	CompletionOptions: cobra.CompletionOptions{
		DisableDefaultCmd: true,
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.grimlog.yaml)")

	// Global flags
	rootCmd.PersistentFlags().StringP("proxy", "", "", "HTTP Proxy (Useful for debugging. Example: http://127.0.0.1:8080)")
	rootCmd.PersistentFlags().StringP("loglevel", "l", "info", "Set log level. Available: debug, info, warn, error, fatal")
	rootCmd.PersistentFlags().StringP("db", "", "", "Path to the SQLite database (default is $HOME/.config/grimlog/grimlog.sqlite)")
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := homedir.Dir()
		if err != nil {
			fmt.Println(err)
			os.Exit(1)
		}
		viper.AddConfigPath(home)
		viper.SetConfigName(".grimlog")
		viper.SetConfigType("yaml")
	}

	viper.AutomaticEnv()

	// If a config file is found, read it in.
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			// Config file not found; create it with defaults.
			home, _ := homedir.Dir()
			configPath := home + "/.grimlog.yaml"
			if err := viper.SafeWriteConfigAs(configPath); err != nil {
				fmt.Printf("Error creating config file: %s", err)
			}
		}
	}

	// Set default empty values for all keys
	viper.SetDefault("source.base_url", "https://wahapedia.ru")
	viper.SetDefault("source.path_root", "/wh40k10ed/factions/")
	viper.SetDefault("source.min_delay_ms", 1500)
	viper.SetDefault("source.max_retries", 3)
	viper.SetDefault("source.min_nav_links", 5)
	viper.SetDefault("cache.dir", "")
	viper.SetDefault("ai.api_key", "")
	viper.SetDefault("ai.model", "")
	viper.SetDefault("ai.endpoint", "")

	// Init log library
	levelString, _ := rootCmd.PersistentFlags().GetString("loglevel")
	utils.SetLogLevel(levelString)
}
