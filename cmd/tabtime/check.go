package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/goodtune/tabtime/internal/api"
	"github.com/goodtune/tabtime/internal/blocklist"
	"github.com/goodtune/tabtime/internal/config"
	"github.com/goodtune/tabtime/internal/siteurl"
)

var checkRemote bool

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Check tracking and blocking decisions interactively",
	Long:  `Check how TabTime would classify a given URL: its tracking identity and whether it is blocked.`,
}

var checkURLCmd = &cobra.Command{
	Use:   "url [flags] URL",
	Short: "Check URL classification",
	Long:  `Check how a URL is normalized for tracking and whether the blocklist would discard its time.`,
	Example: `  tabtime -c config.yaml check url https://www.facebook.com/groups/123
  tabtime check url --remote news.ycombinator.com`,
	Args: cobra.ExactArgs(1),
	RunE: runCheckURL,
}

func init() {
	checkURLCmd.Flags().BoolVar(&checkRemote, "remote", false, "Fetch the blocklist from the backend instead of using configured defaults")

	checkCmd.AddCommand(checkURLCmd)
	rootCmd.AddCommand(checkCmd)
}

func runCheckURL(cmd *cobra.Command, args []string) error {
	rawURL := args[0]

	// Load configuration
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	// Create a quiet logger for check mode
	logger := zerolog.New(os.Stderr).Level(zerolog.ErrorLevel).With().Timestamp().Logger()

	// Build the blocklist the daemon would be running with. No rule sinks
	// here, the check only answers the membership question.
	cache := blocklist.New(nil, nil, cfg.Blocklist.Defaults, logger)
	source := "defaults"

	if checkRemote {
		apiClient := api.NewClient(api.Config{
			BaseURL:   cfg.Backend.BaseURL,
			AuthToken: cfg.Backend.AuthToken,
			Timeout:   parseDuration(cfg.Backend.Timeout, api.DefaultTimeout),
		}, logger)

		remoteCache := blocklist.New(apiClient, nil, cfg.Blocklist.Defaults, logger)

		ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
		err := remoteCache.Refresh(ctx)
		cancel()
		if err != nil {
			return fmt.Errorf("failed to fetch blocklist: %w", err)
		}

		cache = remoteCache
		source = "remote"
	}

	identity := siteurl.Normalize(rawURL)
	blocked := cache.IsBlocked(rawURL)

	printURLResult(rawURL, identity, source, blocked, cache.Snapshot())

	return nil
}

// printURLResult prints the URL check result with colors
func printURLResult(rawURL, identity, source string, blocked bool, blockedSites []string) {
	cyan := color.New(color.FgCyan, color.Bold)
	green := color.New(color.FgGreen, color.Bold)
	red := color.New(color.FgRed, color.Bold)

	fmt.Println()
	cyan.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	cyan.Println("URL CLASSIFICATION CHECK")
	cyan.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Println()

	fmt.Printf("URL:        %s\n", rawURL)
	if identity == "" {
		fmt.Printf("Identity:   (unparseable - time would be discarded)\n")
	} else {
		fmt.Printf("Identity:   %s\n", identity)
		fmt.Printf("Site name:  %s\n", siteurl.DisplayName(identity))
	}
	fmt.Printf("Blocklist:  %s (%d sites)\n", source, len(blockedSites))
	fmt.Println()

	cyan.Print("Decision:   ")
	if blocked {
		red.Println("BLOCKED")
		fmt.Println("            → Active time on this site is discarded")
		fmt.Println("            → DNS queries for it answer 0.0.0.0 when the sinkhole is enabled")
	} else {
		green.Println("TRACKED")
		fmt.Println("            → Active time is attributed to the identity above")
		fmt.Println("            → Pushed to the backend on the next login sync")
	}

	fmt.Println()
	cyan.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Println()
}
