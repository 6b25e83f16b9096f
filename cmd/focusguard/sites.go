package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/goodtune/focusguard/internal/site"
	"github.com/goodtune/focusguard/internal/storage"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var (
	sitesPassword string
	sitesLimit    int
	sitesInstant  bool
	sitesOutput   string
)

// sitesFile is the YAML layout used by export and import.
type sitesFile struct {
	Sites []site.Rule `yaml:"sites"`
}

var sitesCmd = &cobra.Command{
	Use:   "sites",
	Short: "Manage protected sites",
}

var sitesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List protected sites",
	Args:  cobra.NoArgs,
	RunE:  runSitesList,
}

var sitesAddCmd = &cobra.Command{
	Use:   "add DOMAIN",
	Short: "Protect a site",
	Long: `Add or replace the rule for a domain. The domain may be given as a URL;
it is normalized before it is stored.`,
	Example: `  focusguard sites add youtube.com --limit 30
  focusguard sites add reddit.com --password hunter2 --instant`,
	Args: cobra.ExactArgs(1),
	RunE: runSitesAdd,
}

var sitesRemoveCmd = &cobra.Command{
	Use:   "remove DOMAIN",
	Short: "Stop protecting a site",
	Args:  cobra.ExactArgs(1),
	RunE:  runSitesRemove,
}

var sitesExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write protected sites as YAML",
	Args:  cobra.NoArgs,
	RunE:  runSitesExport,
}

var sitesImportCmd = &cobra.Command{
	Use:   "import FILE",
	Short: "Import protected sites",
	Long: `Import rules from a YAML file written by "sites export", or from a JSON
browser storage dump. A browser dump also carries the usage history, which is
merged into the local ledger.`,
	Args: cobra.ExactArgs(1),
	RunE: runSitesImport,
}

func init() {
	sitesAddCmd.Flags().StringVar(&sitesPassword, "password", "", "Password required to unlock the site")
	sitesAddCmd.Flags().IntVar(&sitesLimit, "limit", 0, "Daily limit in minutes (0 for no limit)")
	sitesAddCmd.Flags().BoolVar(&sitesInstant, "instant", false, "Always require the password, ignoring the daily limit")
	sitesExportCmd.Flags().StringVarP(&sitesOutput, "output", "o", "", "Write to file instead of stdout")

	sitesCmd.AddCommand(sitesListCmd, sitesAddCmd, sitesRemoveCmd, sitesExportCmd, sitesImportCmd)
	rootCmd.AddCommand(sitesCmd)
}

func runSitesList(cmd *cobra.Command, args []string) error {
	a, err := newApp(quietLogger())
	if err != nil {
		return err
	}
	defer a.close()

	rules, err := a.engine.ListProtectedSites(context.Background())
	if err != nil {
		return err
	}
	if len(rules) == 0 {
		fmt.Println("No protected sites.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "DOMAIN\tLIMIT\tPASSWORD\tINSTANT\tLAST ACCESS")
	for _, r := range rules {
		limit := "-"
		if r.DailyLimitMinutes > 0 {
			limit = fmt.Sprintf("%dm", r.DailyLimitMinutes)
		}
		last := "-"
		if r.LastAccess != nil {
			last = r.LastAccess.Local().Format("2006-01-02 15:04")
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", r.Domain, limit, yesNo(r.PasswordProtected()), yesNo(r.InstantProtect), last)
	}
	return w.Flush()
}

func runSitesAdd(cmd *cobra.Command, args []string) error {
	a, err := newApp(quietLogger())
	if err != nil {
		return err
	}
	defer a.close()

	rule, err := a.engine.AddProtectedSite(context.Background(), site.RuleInput{
		Domain:            args[0],
		Password:          sitesPassword,
		DailyLimitMinutes: sitesLimit,
		InstantProtect:    sitesInstant,
	})
	if err != nil {
		return err
	}

	color.New(color.FgGreen, color.Bold).Printf("✅ Protected %s\n", rule.Domain)
	return nil
}

func runSitesRemove(cmd *cobra.Command, args []string) error {
	a, err := newApp(quietLogger())
	if err != nil {
		return err
	}
	defer a.close()

	if err := a.engine.RemoveProtectedSite(context.Background(), args[0]); err != nil {
		return err
	}
	fmt.Printf("Removed %s\n", args[0])
	return nil
}

func runSitesExport(cmd *cobra.Command, args []string) error {
	a, err := newApp(quietLogger())
	if err != nil {
		return err
	}
	defer a.close()

	rules, err := a.engine.ListProtectedSites(context.Background())
	if err != nil {
		return err
	}

	data, err := yaml.Marshal(sitesFile{Sites: rules})
	if err != nil {
		return fmt.Errorf("failed to encode sites: %w", err)
	}

	if sitesOutput == "" {
		_, err = os.Stdout.Write(data)
		return err
	}
	if err := os.WriteFile(sitesOutput, data, 0600); err != nil {
		return fmt.Errorf("failed to write %s: %w", sitesOutput, err)
	}
	fmt.Fprintf(os.Stderr, "Exported %d site(s) to %s\n", len(rules), sitesOutput)
	return nil
}

func runSitesImport(cmd *cobra.Command, args []string) error {
	path := args[0]
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}

	var (
		rules  []site.Rule
		ledger storage.Ledger
	)
	if strings.EqualFold(filepath.Ext(path), ".json") {
		export, err := site.ParseExport(data)
		if err != nil {
			return err
		}
		rules = export.Rules
		ledger = storage.Ledger(export.Ledger)
	} else {
		var file sitesFile
		if err := yaml.Unmarshal(data, &file); err != nil {
			return fmt.Errorf("failed to parse %s: %w", path, err)
		}
		rules = file.Sites
	}

	a, err := newApp(quietLogger())
	if err != nil {
		return err
	}
	defer a.close()

	result, err := a.engine.Import(context.Background(), rules, ledger)
	if err != nil {
		return err
	}

	fmt.Printf("Imported %d site(s), %d usage entries\n", result.Rules, result.Entries)
	if result.Skipped > 0 {
		color.New(color.FgYellow).Printf("Skipped %d invalid site(s)\n", result.Skipped)
	}
	return nil
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
