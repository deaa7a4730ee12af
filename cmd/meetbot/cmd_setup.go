package main

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/user/meetbot/internal/config"
)

func init() {
	rootCmd.AddCommand(setupCmd, doctorCmd)
}

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Interactive setup wizard",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		scanner := bufio.NewScanner(os.Stdin)

		fmt.Println("Meetbot Setup Wizard")
		fmt.Println("Press Enter to accept the default value shown in brackets.")
		fmt.Println()

		cfg.LLM.BaseURL = prompt(scanner, "LLM base URL", cfg.LLM.BaseURL)
		cfg.LLM.APIKey = prompt(scanner, "LLM API key", cfg.LLM.APIKey)
		cfg.LLM.Model = prompt(scanner, "Analysis model", cfg.LLM.Model)
		cfg.Transcription.Model = prompt(scanner, "Transcription model", cfg.Transcription.Model)
		cfg.Transcription.Language = prompt(scanner, "Transcription language", cfg.Transcription.Language)

		cfg.Telegram.Token = prompt(scanner, "Telegram bot token (optional)", cfg.Telegram.Token)
		if cfg.Telegram.Token != "" {
			cfg.Telegram.AdminChatID = prompt(scanner, "Telegram admin chat id", cfg.Telegram.AdminChatID)
		}
		cfg.Bitrix.WebhookURL = prompt(scanner, "Bitrix24 webhook URL (optional)", cfg.Bitrix.WebhookURL)

		cfg.Browser.ExecPath = prompt(scanner, "Chrome executable (empty to autodetect)", cfg.Browser.ExecPath)
		cfg.Recording.Input = prompt(scanner, "Audio input", cfg.Recording.Input)
		maxSec := prompt(scanner, "Max session seconds", strconv.Itoa(cfg.MaxSessionSeconds))
		if n, err := strconv.Atoi(maxSec); err == nil && n > 0 {
			cfg.MaxSessionSeconds = n
		}

		if err := config.Save(cfgPath, cfg); err != nil {
			return fmt.Errorf("save config: %w", err)
		}
		fmt.Println()
		fmt.Println("Configuration saved to", cfgPath)
		fmt.Println()
		printChecks(checkPrerequisites(cmd.Context(), cfg))
		return nil
	},
}

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check that ffmpeg, the browser and the audio source are available",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		checks := checkPrerequisites(cmd.Context(), cfg)
		printChecks(checks)
		return failedChecks(checks)
	},
}

func printChecks(checks []check) {
	rows := make([][]string, 0, len(checks))
	for _, c := range checks {
		status := "ok"
		if !c.OK {
			status = "FAIL"
		}
		rows = append(rows, []string{c.Name, status, c.Detail})
	}
	fmt.Fprintln(os.Stdout, renderTable([]string{"Check", "Status", "Detail"}, rows, nil))
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
