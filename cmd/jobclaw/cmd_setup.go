package main

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"github.com/user/jobclaw/internal/config"
)

func init() {
	rootCmd.AddCommand(setupCmd)
}

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Interactive setup wizard",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		scanner := bufio.NewScanner(os.Stdin)

		fmt.Println("JobClaw Setup Wizard")
		fmt.Println("Press Enter to accept the default value shown in brackets.")
		fmt.Println()

		// 1. Job server base URL
		cfg.Server.BaseURL = prompt(scanner, "Job server base URL", cfg.Server.BaseURL)

		// 2. API token
		cfg.Server.Token = prompt(scanner, "API token", cfg.Server.Token)

		// 3. Request timeout
		timeoutStr := prompt(scanner, "Request timeout (seconds)", strconv.Itoa(cfg.Server.TimeoutSeconds))
		if n, err := strconv.Atoi(timeoutStr); err == nil {
			cfg.Server.TimeoutSeconds = n
		}

		// 4. Data directory
		cfg.DataDir = prompt(scanner, "Data directory", cfg.DataDir)

		// 5. Max concurrent jobs
		concurrentStr := prompt(scanner, "Max concurrent jobs", strconv.Itoa(cfg.MaxConcurrent))
		if n, err := strconv.Atoi(concurrentStr); err == nil {
			cfg.MaxConcurrent = n
		}

		// 6. Telegram bot token (optional)
		cfg.Telegram.Token = prompt(scanner, "Telegram bot token (optional)", cfg.Telegram.Token)

		if err := config.Save(cfgPath, cfg); err != nil {
			return fmt.Errorf("save config: %w", err)
		}

		fmt.Println()
		fmt.Println("Configuration saved to", cfgPath)
		return nil
	},
}

// prompt displays a labeled prompt with a default value and reads user input.
// If the user enters nothing, the default is returned.
func prompt(scanner *bufio.Scanner, label, defaultVal string) string {
	if defaultVal != "" {
		fmt.Printf("%s [%s]: ", label, defaultVal)
	} else {
		fmt.Printf("%s: ", label)
	}
	if scanner.Scan() {
		input := strings.TrimSpace(scanner.Text())
		if input != "" {
			return input
		}
	}
	return defaultVal
}
