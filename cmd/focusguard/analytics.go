package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/goodtune/focusguard/internal/analytics"
	"github.com/spf13/cobra"
)

var analyticsPeriod int

var analyticsCmd = &cobra.Command{
	Use:   "analytics",
	Short: "Show usage analytics",
	Args:  cobra.NoArgs,
	RunE:  runAnalytics,
}

func init() {
	analyticsCmd.Flags().IntVarP(&analyticsPeriod, "period", "p", analytics.DefaultPeriod, "Number of days to include")
	rootCmd.AddCommand(analyticsCmd)
}

func runAnalytics(cmd *cobra.Command, args []string) error {
	if analyticsPeriod < 1 || analyticsPeriod > analytics.MaxPeriod {
		return fmt.Errorf("period must be between 1 and %d", analytics.MaxPeriod)
	}

	a, err := newApp(quietLogger())
	if err != nil {
		return err
	}
	defer a.close()

	report, err := a.engine.GetAnalytics(context.Background(), analyticsPeriod)
	if err != nil {
		return err
	}

	printReport(report)
	return nil
}

func printReport(r analytics.Report) {
	cyan := color.New(color.FgCyan, color.Bold)

	fmt.Println()
	cyan.Printf("USAGE %s → %s (%d days)\n", r.Start, r.End, r.Period)
	fmt.Println()
	fmt.Printf("Total:      %s\n", millis(r.Summary.TotalTime))
	fmt.Printf("Active:     %d day(s)\n", r.Summary.ActiveDays)
	fmt.Printf("Average:    %s per active day\n", millis(r.Summary.AverageDaily))
	if r.Summary.TopDomain != "" {
		fmt.Printf("Top:        %s\n", r.Summary.TopDomain)
	}
	fmt.Println()

	if len(r.Domains) == 0 {
		fmt.Println("No usage recorded in this period.")
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "DOMAIN\tTOTAL\tAVG/DAY\tWEEKDAY\tWEEKEND\tFOCUS\tTREND")
	for _, d := range r.Domains {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d\t%s\n",
			d.Domain,
			millis(d.TotalTime),
			millis(d.AverageDaily),
			millis(d.WeekdayTotal),
			millis(d.WeekendTotal),
			d.FocusScore,
			trend(d.Trend),
		)
	}
	_ = w.Flush()
	fmt.Println()
}

func millis(ms int64) string {
	return (time.Duration(ms) * time.Millisecond).Round(time.Second).String()
}

func trend(ratio float64) string {
	pct := ratio * 100
	switch {
	case pct > 0:
		return color.RedString("+%.0f%%", pct)
	case pct < 0:
		return color.GreenString("%.0f%%", pct)
	default:
		return "0%"
	}
}
