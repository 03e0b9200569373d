package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/solwatch/mintwatch/pkg/history"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recorded snapshot summaries",
	RunE:  runHistory,
}

func init() {
	rootCmd.AddCommand(historyCmd)
	historyCmd.Flags().IntP("limit", "n", 20, "maximum summaries to show (0 = all)")
	historyCmd.Flags().Bool("json", false, "print summaries as JSON")
}

func runHistory(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	store, err := history.Open(historyPath(cfg))
	if err != nil {
		return err
	}
	defer store.Close()

	limit, _ := cmd.Flags().GetInt("limit")
	summaries, err := store.List(limit)
	if err != nil {
		return err
	}

	if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(summaries)
	}

	if len(summaries) == 0 {
		fmt.Println("no snapshots recorded")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TIMESTAMP\tTRIGGER\tHOLDERS\tPROGRESS\tNEW\tEXITED\tFILE")
	for _, s := range summaries {
		fmt.Fprintf(w, "%s\t%s\t%d\t%.1f%%\t%d\t%d\t%s\n",
			s.Timestamp.Format(time.RFC3339),
			s.Trigger,
			s.TotalHolders,
			s.Progress,
			s.NewHolders,
			s.ExitedHolders,
			s.File)
	}
	return w.Flush()
}
