package main

import (
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/MrSnakeDoc/discoveryd/internal/discovery"
	"github.com/MrSnakeDoc/discoveryd/internal/domain"
	"github.com/MrSnakeDoc/discoveryd/internal/sources/catalog"
	"github.com/MrSnakeDoc/discoveryd/internal/sources/seedfile"
)

var seedsCatalog bool

var seedsCmd = &cobra.Command{
	Use:   "seeds <file>",
	Short: "Validate a seed file or catalog and print the normalized services",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		maxRating := loadConfig().MaxRating

		var (
			seeds []domain.Seed
			err   error
		)
		if seedsCatalog {
			seeds, err = catalog.NewLoader(args[0]).Load(maxRating)
		} else {
			seeds, err = seedfile.NewLoader(args[0], maxRating).Load()
		}
		if err != nil && len(seeds) == 0 {
			return err
		}

		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "STATUS\tTYPE\tNETWORK\tRATING\tURL")
		invalid := 0
		for _, s := range seeds {
			norm, nerr := discovery.Normalize(s.URL, s.Type)
			status := "ok"
			if nerr != nil {
				status, norm = "invalid", s.URL
				invalid++
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n", status, s.Type, s.Network, s.Rating, norm)
		}
		if ferr := tw.Flush(); ferr != nil {
			return ferr
		}

		if invalid > 0 {
			err = errors.Join(err, fmt.Errorf("%d of %d services are invalid", invalid, len(seeds)))
		}
		return err
	},
}

func init() {
	seedsCmd.Flags().BoolVar(&seedsCatalog, "catalog", false, "read a YAML catalog instead of a seed file")
}
