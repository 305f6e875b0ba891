package main

import (
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/MrSnakeDoc/discoveryd/internal/discovery"
	"github.com/MrSnakeDoc/discoveryd/internal/domain"
)

var listFlags struct {
	JSON   bool
	Backup bool
}

var listCmd = &cobra.Command{
	Use:   "list [file]",
	Short: "Print the services stored in a registry data file",
	Long: `Decode a registry data file without starting the registry. Without an
argument the primary file of the data dir is read.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var path string
		switch {
		case len(args) == 1:
			path = args[0]
		case listFlags.Backup:
			path = filepath.Join(loadConfig().DataDir, discovery.BackupFile)
		default:
			path = filepath.Join(loadConfig().DataDir, discovery.PrimaryFile)
		}

		services, err := discovery.ReadFile(path)
		if err != nil {
			return err
		}
		if listFlags.JSON {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(services)
		}
		return printServices(cmd.OutOrStdout(), services)
	},
}

func init() {
	listCmd.Flags().BoolVar(&listFlags.JSON, "json", false, "print JSON instead of a table")
	listCmd.Flags().BoolVar(&listFlags.Backup, "backup", false, "read the backup file of the data dir")
}

func printServices(out io.Writer, services []domain.Service) error {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTYPE\tNETWORK\tRATING\tBANNED\tFAILURES\tHOSTS\tLAST QUERIED\tURL")
	for _, s := range services {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%d\t%t\t%d\t%d\t%s\t%s\n",
			s.ID, s.Type, s.Network, s.Rating, s.Banned, s.Failures, s.Hosts, formatTime(s.LastQueried), s.URL)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	_, err := fmt.Fprintf(out, "%d services\n", len(services))
	return err
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return t.UTC().Format(time.RFC3339)
}
