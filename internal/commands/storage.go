package commands

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"evalgo.org/kiwi/internal/mappings"
)

var storageCmd = &cobra.Command{
	Use:   "storage",
	Short: "Manage external storages and their links to infrastructures",
}

var storageListCmd = &cobra.Command{
	Use:   "list",
	Short: "List external storages",
	RunE: func(cmd *cobra.Command, args []string) error {
		return session(cmd, func(ctx context.Context, a *app, _ *waiter) error {
			list, err := a.orch.Registry().ListExternalStorages(ctx)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tNAME\tTYPE\tENDPOINT\tBUCKET\tUSABLE")
			for _, s := range list {
				fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%v\n", s.ID, s.Name, s.Type, s.NormalizedEndpoint(), s.Bucket, s.Usable())
			}
			return tw.Flush()
		})
	},
}

var storageMappingsCmd = &cobra.Command{
	Use:   "mappings INFRA_ID...",
	Short: "Show the storages linked to infrastructures",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ids, err := parseIDs(args)
		if err != nil {
			return err
		}
		return session(cmd, func(ctx context.Context, a *app, _ *waiter) error {
			byInfra, err := a.orch.Registry().BatchListForInfras(ctx, ids)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "INFRA\tSTORAGE\tBSL\tDEFAULT")
			for _, id := range ids {
				ms := byInfra[id]
				if len(ms) == 0 {
					fmt.Fprintf(tw, "%d\t-\t-\t-\n", id)
					continue
				}
				for _, m := range ms {
					// unnamed mappings fall back to the backend's default BSL
				bsl := "-"
					if m.BSLName != nil {
						bsl = *m.BSLName
					}
					fmt.Fprintf(tw, "%d\t%d\t%s\t%v\n", m.InfraID, m.ExternalStorageID, bsl, m.IsDefault)
				}
			}
			return tw.Flush()
		})
	},
}

var (
	linkBSLName   string
	linkIsDefault bool
)

var storageLinkCmd = &cobra.Command{
	Use:   "link INFRA_ID STORAGE_ID",
	Short: "Link an external storage to an infrastructure",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ids, err := parseIDs(args)
		if err != nil {
			return err
		}
		opts := mappings.LinkOptions{IsDefault: linkIsDefault}
		if linkBSLName != "" {
			opts.BSLName = &linkBSLName
		}
		return session(cmd, func(ctx context.Context, a *app, _ *waiter) error {
			m, err := a.orch.Registry().Link(ctx, ids[0], ids[1], opts)
			if err != nil {
				return err
			}
			fmt.Printf("✓ infra %d linked to storage %d\n", m.InfraID, m.ExternalStorageID)
			return nil
		})
	},
}

var storageUnlinkCmd = &cobra.Command{
	Use:   "unlink INFRA_ID STORAGE_ID",
	Short: "Remove the link between an infrastructure and a storage",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ids, err := parseIDs(args)
		if err != nil {
			return err
		}
		return session(cmd, func(ctx context.Context, a *app, _ *waiter) error {
			if err := a.orch.Registry().Unlink(ctx, ids[0], ids[1]); err != nil {
				return err
			}
			fmt.Printf("✓ infra %d unlinked from storage %d\n", ids[0], ids[1])
			return nil
		})
	},
}

func parseIDs(args []string) ([]int, error) {
	ids := make([]int, len(args))
	for i, a := range args {
		id, err := strconv.Atoi(a)
		if err != nil || id <= 0 {
			return nil, fmt.Errorf("invalid id %q: must be a positive integer", a)
		}
		ids[i] = id
	}
	return ids, nil
}

func init() {
	storageLinkCmd.Flags().StringVar(&linkBSLName, "bsl-name", "", "backup storage location name")
	storageLinkCmd.Flags().BoolVar(&linkIsDefault, "default", false, "make this the default storage")

	storageCmd.AddCommand(storageListCmd, storageMappingsCmd, storageLinkCmd, storageUnlinkCmd)
}
