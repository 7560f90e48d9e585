package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"github.com/spf13/cobra"

	"evalgo.org/kiwi/internal/config"
	"evalgo.org/kiwi/internal/orchestration"
	"evalgo.org/kiwi/models"
)

var (
	hopsFile string
	waitFlag bool
)

// addHopFlags registers the hop-chain file flag shared by remote operations.
func addHopFlags(cmd *cobra.Command, withWait bool) {
	cmd.Flags().StringVar(&hopsFile, "hops", "", "hop chain file (YAML with infra and hops)")
	_ = cmd.MarkFlagRequired("hops")
	if withWait {
		cmd.Flags().BoolVar(&waitFlag, "wait", false, "block until the remote operation settles")
	}
}

// session runs fn with a wired orchestrator that is shut down afterwards.
func session(cmd *cobra.Command, fn func(ctx context.Context, a *app, w *waiter) error) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	w := newWaiter()
	a, err := newApp(ctx, w)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close(context.Background()) }()

	return fn(ctx, a, w)
}

// interactive runs a remote operation on the chain from --hops, prompting
// for missing credentials.
func interactive(cmd *cobra.Command, op func(ctx context.Context, o *orchestration.Orchestrator, chain *config.HopChain) (*orchestration.Result, error), after func(ctx context.Context, w *waiter, chain *config.HopChain, res *orchestration.Result) error) error {
	chain, err := config.LoadHopChain(hopsFile)
	if err != nil {
		return err
	}

	return session(cmd, func(ctx context.Context, a *app, w *waiter) error {
		res, err := runInteractive(ctx, a.orch, newTerminalPrompter(), func(ctx context.Context) (*orchestration.Result, error) {
			return op(ctx, a.orch, chain)
		})
		if err != nil {
			return explain(err)
		}
		printResult(res)
		if after != nil {
			return after(ctx, w, chain, res)
		}
		return nil
	})
}

// explain turns a precondition into a plain message.
func explain(err error) error {
	var pe *orchestration.PreconditionError
	if errors.As(err, &pe) {
		return fmt.Errorf("%s refused: %s", pe.Op, pe.Reason)
	}
	return err
}

func printResult(res *orchestration.Result) {
	if res.Accepted != nil {
		fmt.Printf("✓ %s %q accepted\n", res.Accepted.Kind, res.Accepted.Name)
		fmt.Printf("  Job ID:    %s\n", res.Accepted.JobID)
		fmt.Printf("  Remote ID: %s\n", res.Accepted.RemoteID)
	}
	if res.Status != nil {
		printStatus(*res.Status)
	}
	for _, ns := range res.Namespaces {
		fmt.Println(ns)
	}
	if res.Message != "" && res.Accepted == nil {
		fmt.Printf("✓ %s\n", res.Message)
	}
}

func printStatus(st models.InstallationStatus) {
	fmt.Printf("Infrastructure %d\n", st.InfraID)
	fmt.Printf("  Engine:            %s\n", st.EngineState)
	fmt.Printf("  Storage connected: %v\n", st.StorageConnected)
	fmt.Printf("  Can create backup: %v\n", st.CanCreateBackup())
	if st.LastError != "" {
		fmt.Printf("  Last error:        %s\n", st.LastError)
	}
}

// waitForJob blocks on the outcome of an accepted job when --wait is set.
func waitForJob(ctx context.Context, w *waiter, _ *config.HopChain, res *orchestration.Result) error {
	if !waitFlag || res.Accepted == nil {
		return nil
	}
	fmt.Printf("Waiting for %s...\n", res.Accepted.JobID)
	out, err := w.waitJob(ctx, res.Accepted.JobID)
	if err != nil {
		return err
	}
	if !out.Succeeded {
		if out.Err != nil {
			return out.Err
		}
		return fmt.Errorf("job %s ended %s (%s)", out.JobID, out.Status, out.Reason)
	}
	fmt.Printf("✓ %s completed\n", out.JobID)
	return nil
}

// waitForInstall blocks until the installation settles when --wait is set.
func waitForInstall(ctx context.Context, w *waiter, chain *config.HopChain, _ *orchestration.Result) error {
	if !waitFlag {
		return nil
	}
	fmt.Println("Waiting for the installation to settle...")
	st, err := w.waitInstall(ctx, chain.Infra.ID)
	if err != nil {
		return err
	}
	printStatus(st)
	if st.EngineState != models.EngineActive {
		return fmt.Errorf("installation ended %s", st.EngineState)
	}
	return nil
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Check the backup engine installation of an infrastructure",
	RunE: func(cmd *cobra.Command, args []string) error {
		return interactive(cmd, func(ctx context.Context, o *orchestration.Orchestrator, chain *config.HopChain) (*orchestration.Result, error) {
			return o.CheckInstallation(ctx, orchestration.CheckRequest{Infra: chain.Infra, Hops: chain.Hops})
		}, nil)
	},
}

var (
	installStorageID int
	minioBucket      string
	minioAccessKey   string
	minioSecretKey   string
	minioNamespace   string
)

var installCmd = &cobra.Command{
	Use:   "install",
	Short: "Install the backup engine wired to an external storage",
	RunE: func(cmd *cobra.Command, args []string) error {
		return interactive(cmd, func(ctx context.Context, o *orchestration.Orchestrator, chain *config.HopChain) (*orchestration.Result, error) {
			return o.Install(ctx, orchestration.InstallRequest{Infra: chain.Infra, Hops: chain.Hops, StorageID: installStorageID})
		}, waitForInstall)
	},
}

var installMinioCmd = &cobra.Command{
	Use:   "minio",
	Short: "Deploy an object store inside the cluster",
	RunE: func(cmd *cobra.Command, args []string) error {
		return interactive(cmd, func(ctx context.Context, o *orchestration.Orchestrator, chain *config.HopChain) (*orchestration.Result, error) {
			return o.InstallMinio(ctx, orchestration.MinioInstallRequest{
				Infra:     chain.Infra,
				Hops:      chain.Hops,
				Bucket:    minioBucket,
				AccessKey: minioAccessKey,
				SecretKey: minioSecretKey,
				Namespace: minioNamespace,
			})
		}, nil)
	},
}

var uninstallCmd = &cobra.Command{
	Use:   "uninstall",
	Short: "Remove the backup engine",
	RunE: func(cmd *cobra.Command, args []string) error {
		return interactive(cmd, func(ctx context.Context, o *orchestration.Orchestrator, chain *config.HopChain) (*orchestration.Result, error) {
			return o.Uninstall(ctx, orchestration.UninstallRequest{Infra: chain.Infra, Hops: chain.Hops})
		}, nil)
	},
}

var backup orchestration.BackupRequest

var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Create and delete backups",
}

var backupCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Start a backup",
	Long: `Start a backup of a namespace (Kubernetes) or a container host.

The --storage flag selects the target: "ext-<id>" for an external storage,
"infra-<id>" for an in-cluster one. Without it the backend default is used.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if storageFlag, _ := cmd.Flags().GetString("storage"); storageFlag != "" {
			ref, err := orchestration.ParseStorageRef(storageFlag)
			if err != nil {
				return err
			}
			backup.Storage = ref
		}

		return interactive(cmd, func(ctx context.Context, o *orchestration.Orchestrator, chain *config.HopChain) (*orchestration.Result, error) {
			req := backup
			req.Infra, req.Hops = chain.Infra, chain.Hops
			return o.CreateBackup(ctx, req)
		}, waitForJob)
	},
}

var backupDeleteCmd = &cobra.Command{
	Use:   "delete BACKUP",
	Short: "Delete a backup",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return interactive(cmd, func(ctx context.Context, o *orchestration.Orchestrator, chain *config.HopChain) (*orchestration.Result, error) {
			return o.DeleteBackup(ctx, orchestration.DeleteBackupRequest{Infra: chain.Infra, Hops: chain.Hops, BackupName: args[0]})
		}, nil)
	},
}

var (
	restore     orchestration.RestoreRequest
	restoreMaps []string
)

var restoreCmd = &cobra.Command{
	Use:   "restore BACKUP",
	Short: "Restore a backup",
	Long: `Restore a backup. Without --map every namespace of a Kubernetes backup
is restored onto itself.

Examples:
  kiwi restore nightly-5 --hops prod.yaml --map shop=shop-restored --wait
  kiwi restore compose-bk --hops host.yaml --restore-volumes --stop-existing`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		mapping, err := parseMappings(restoreMaps)
		if err != nil {
			return err
		}

		return interactive(cmd, func(ctx context.Context, o *orchestration.Orchestrator, chain *config.HopChain) (*orchestration.Result, error) {
			req := restore
			req.Infra, req.Hops = chain.Infra, chain.Hops
			req.BackupName = args[0]
			req.NamespaceMapping = mapping
			return o.Restore(ctx, req)
		}, waitForJob)
	},
}

// parseMappings reads source=target pairs.
func parseMappings(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	out := make(map[string]string, len(pairs))
	for _, p := range pairs {
		src, dst, ok := strings.Cut(p, "=")
		if !ok || src == "" || dst == "" {
			return nil, fmt.Errorf("invalid namespace mapping %q, want source=target", p)
		}
		out[src] = dst
	}
	return out, nil
}

var namespacesCmd = &cobra.Command{
	Use:   "namespaces",
	Short: "List the namespaces of a cluster",
	RunE: func(cmd *cobra.Command, args []string) error {
		return interactive(cmd, func(ctx context.Context, o *orchestration.Orchestrator, chain *config.HopChain) (*orchestration.Result, error) {
			return o.FetchNamespaces(ctx, orchestration.NamespacesRequest{Infra: chain.Infra, Hops: chain.Hops})
		}, nil)
	},
}

func init() {
	addHopFlags(statusCmd, false)

	addHopFlags(installCmd, true)
	installCmd.Flags().IntVar(&installStorageID, "storage-id", 0, "external storage id the engine writes to")
	_ = installCmd.MarkFlagRequired("storage-id")

	addHopFlags(installMinioCmd, false)
	installMinioCmd.Flags().StringVar(&minioBucket, "bucket", "backups", "bucket to create")
	installMinioCmd.Flags().StringVar(&minioAccessKey, "access-key", "", "object store access key")
	installMinioCmd.Flags().StringVar(&minioSecretKey, "secret-key", "", "object store secret key")
	installMinioCmd.Flags().StringVar(&minioNamespace, "namespace", "", "namespace to deploy into")
	installCmd.AddCommand(installMinioCmd)

	addHopFlags(uninstallCmd, false)

	addHopFlags(backupCreateCmd, true)
	f := backupCreateCmd.Flags()
	f.StringVar(&backup.Name, "name", "", "backup name (generated when empty)")
	f.String("storage", "", "storage target: ext-<id> or infra-<id>")
	f.StringVar((*string)(&backup.StorageType), "storage-type", "", "storage type: minio, s3 or other")
	f.StringVar(&backup.Namespace, "namespace", "", "namespace to back up (kubernetes)")
	f.StringVar(&backup.Selector, "selector", "", "label selector (kubernetes)")
	f.StringVar(&backup.Schedule, "schedule", "", "cron schedule (kubernetes)")
	f.StringVar(&backup.Retention, "retention", "", "retention, e.g. 720h (kubernetes)")
	f.StringVar(&backup.BackupType, "backup-type", "", "full, volumes or config (containers)")
	f.StringVar(&backup.ComposeProject, "compose-project", "", "compose project (containers)")

	addHopFlags(backupDeleteCmd, false)
	backupCmd.AddCommand(backupCreateCmd, backupDeleteCmd)

	addHopFlags(restoreCmd, true)
	rf := restoreCmd.Flags()
	rf.StringVar(&restore.Name, "name", "", "restore name (generated when empty)")
	rf.StringArrayVar(&restoreMaps, "map", nil, "namespace mapping source=target (repeatable)")
	rf.StringSliceVar(&restore.Namespaces, "namespace", nil, "namespaces to restore")
	rf.BoolVar(&restore.RestoreVolumes, "restore-volumes", true, "restore volumes (containers)")
	rf.BoolVar(&restore.RestoreConfig, "restore-config", true, "restore configuration (containers)")
	rf.BoolVar(&restore.RedeployCompose, "redeploy-compose", false, "redeploy the compose project (containers)")
	rf.BoolVar(&restore.StopExisting, "stop-existing", false, "stop running containers first (containers)")
	rf.StringSliceVar(&restore.Containers, "container", nil, "containers to restore (containers)")

	addHopFlags(namespacesCmd, false)
}
