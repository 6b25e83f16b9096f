package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/goodtune/focusguard/internal/policy"
	"github.com/spf13/cobra"
)

var checkCmd = &cobra.Command{
	Use:   "check URL",
	Short: "Show the access decision for a URL",
	Long:  `Evaluate a URL against the stored rules, today's usage and the password session window without changing any state.`,
	Example: `  focusguard check https://www.youtube.com/watch?v=abc
  focusguard -c ~/.config/focusguard/config.yaml check example.com`,
	Args: cobra.ExactArgs(1),
	RunE: runCheck,
}

func init() {
	rootCmd.AddCommand(checkCmd)
}

func runCheck(cmd *cobra.Command, args []string) error {
	rawURL := args[0]
	if !strings.Contains(rawURL, "://") {
		rawURL = "https://" + rawURL
	}

	a, err := newApp(quietLogger())
	if err != nil {
		return err
	}
	defer a.close()

	decision, err := a.engine.Evaluate(context.Background(), rawURL)
	if err != nil {
		return fmt.Errorf("evaluate %s: %w", rawURL, err)
	}

	printDecision(rawURL, decision)
	return nil
}

// printDecision prints the check result with colors
func printDecision(rawURL string, d policy.Decision) {
	cyan := color.New(color.FgCyan, color.Bold)
	green := color.New(color.FgGreen, color.Bold)
	yellow := color.New(color.FgYellow, color.Bold)
	red := color.New(color.FgRed, color.Bold)

	fmt.Println()
	cyan.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	cyan.Println("SITE CHECK")
	cyan.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Println()

	fmt.Printf("URL:        %s\n", rawURL)
	fmt.Printf("Domain:     %s\n", d.Domain)
	if d.RuleID != "" {
		fmt.Printf("Rule:       %s\n", d.RuleID)
	} else {
		fmt.Printf("Rule:       (none)\n")
	}
	if d.Reason != "" {
		fmt.Printf("Reason:     %s\n", d.Reason)
	}
	fmt.Println()

	cyan.Print("Decision:   ")
	switch d.State {
	case policy.StateUnprotected:
		green.Println(string(d.State))
		fmt.Println("            → No rule applies")
	case policy.StateGranted:
		green.Println(string(d.State))
		if d.Remaining > 0 {
			fmt.Printf("            → %s left today\n", d.Remaining)
		} else {
			fmt.Println("            → No daily limit")
		}
	case policy.StatePasswordLocked:
		yellow.Println(string(d.State))
		fmt.Println("            → Password interstitial will be shown")
	case policy.StateTimeExceeded:
		red.Println(string(d.State))
		fmt.Println("            → Daily limit reached, blocked until tomorrow")
	default:
		fmt.Printf("UNKNOWN (%s)\n", d.State)
	}

	fmt.Println()
	cyan.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Println()
}
