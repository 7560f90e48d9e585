package commands

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"evalgo.org/kiwi/internal/config"
	"evalgo.org/kiwi/internal/sshprobe"
	"evalgo.org/kiwi/models"
)

var hopsCmd = &cobra.Command{
	Use:   "hops",
	Short: "Check hop chains and manage cached hop credentials",
}

var hopsSave bool

var hopsCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Connect through every hop of a chain over SSH",
	Long: `Dial the first hop of the chain and tunnel to each following hop,
reporting reachability and authentication per hop. Cached credentials are
used; missing ones are asked for.

Host keys are verified against ssh.known_hosts_file unless
ssh.insecure_ignore_host_key is set.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		chain, err := config.LoadHopChain(hopsFile)
		if err != nil {
			return err
		}

		return session(cmd, func(ctx context.Context, a *app, _ *waiter) error {
			creds := a.orch.Credentials()
			res, err := creds.Resolver().Resolve(ctx, chain.Hops)
			if err != nil {
				return err
			}

			// Ask only for the hops the store could not fill
			hops := res.Hops
			if !res.AllFilled {
				rows, err := newTerminalPrompter().ask(models.AuthSessionView{
					Purpose: models.PurposeSetup,
					Hops:    hops,
					Prefill: res.Prefill,
				})
				if err != nil {
					return err
				}
				for i := range hops {
					hops[i].Username, hops[i].Password = rows[i].Username, rows[i].Password
				}
			}

			report, err := sshprobe.Probe(ctx, hops, sshprobe.OptionsFromConfig(cfg.SSH))
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "HOP\tADDRESS\tUSER\tREACHABLE\tAUTHENTICATED\tERROR")
			for _, r := range report.Hops {
				fmt.Fprintf(tw, "%d\t%s\t%s\t%v\t%v\t%s\n", r.Index, r.Address, r.Username, r.Reachable, r.Authenticated, r.Error)
			}
			if err := tw.Flush(); err != nil {
				return err
			}

			// Nothing is stored unless the whole chain authenticated
			if failed, ok := report.Failed(); ok {
				return fmt.Errorf("hop %d (%s) failed: %s", failed.Index, failed.Address, failed.Error)
			}
			if hopsSave {
				n, err := creds.Policy().Save(ctx, creds.Store(), hops)
				if err != nil {
					return err
				}
				fmt.Printf("✓ %d credentials stored\n", n)
			}
			fmt.Println("✓ every hop is reachable")
			return nil
		})
	},
}

var hopsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List hosts with cached credentials",
	RunE: func(cmd *cobra.Command, args []string) error {
		return session(cmd, func(ctx context.Context, a *app, _ *waiter) error {
			keys, err := a.orch.Credentials().Store().Keys(ctx)
			if err != nil {
				return err
			}
			for _, k := range keys {
				fmt.Println(k.String())
			}
			if len(keys) == 0 {
				fmt.Printf("no cached credentials (%s store)\n", cfg.Credentials.Store)
			}
			return nil
		})
	},
}

var forgetPort int

var hopsForgetCmd = &cobra.Command{
	Use:   "forget HOST",
	Short: "Remove the cached credential of a host",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		key := models.NewHopKey(args[0], forgetPort)
		return session(cmd, func(ctx context.Context, a *app, _ *waiter) error {
			if err := a.orch.Credentials().Store().Delete(ctx, key); err != nil {
				return err
			}
			fmt.Printf("✓ forgot %s\n", key)
			return nil
		})
	},
}

func init() {
	addHopFlags(hopsCheckCmd, false)
	hopsCheckCmd.Flags().BoolVar(&hopsSave, "save", false, "store the credentials when every hop authenticates")
	hopsForgetCmd.Flags().IntVar(&forgetPort, "port", models.DefaultSSHPort, "SSH port of the host")

	hopsCmd.AddCommand(hopsCheckCmd, hopsListCmd, hopsForgetCmd)
}
