package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ski11z/autoboom/pkg/batch"
	"github.com/ski11z/autoboom/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/superfly/fsm"
)

var (
	batchResume string
	batchList   bool
)

var batchCmd = &cobra.Command{
	Use:   "batch [project-id...]",
	Short: "Run several projects one after another",
	Long: `Creates a batch of the given projects and runs them in order, one at a time.
Projects that fail their preconditions are skipped. An interrupt stops the
current project and leaves the rest pending; --resume <batch-id> picks the
batch up again at its first unfinished entry. --list shows the known batches.`,
	RunE: runBatch,
}

func init() {
	rootCmd.AddCommand(batchCmd)
	batchCmd.Flags().StringVar(&batchResume, "resume", "", "Continue an existing batch")
	batchCmd.Flags().BoolVar(&batchList, "list", false, "List batches and exit")
}

func runBatch(cmd *cobra.Command, args []string) error {
	if batchList {
		return listBatches()
	}
	if batchResume == "" && len(args) == 0 {
		return fmt.Errorf("must give project ids or --resume <batch-id>")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	rt, err := newRuntime(ctx, cfg)
	if err != nil {
		return err
	}
	defer rt.Close()

	manager, err := fsm.New(fsm.Config{DBPath: cfg.FSMDBPath})
	if err != nil {
		return errors.Wrap(err, "FSM manager failed")
	}
	defer manager.Shutdown(10 * time.Second)

	queue, err := batch.New(ctx, manager, rt.repo, rt.orch, cfg.BatchMaxRetries)
	if err != nil {
		return err
	}

	batchID := batchResume
	if batchID == "" {
		b, err := queue.Create(ctx, args)
		if err != nil {
			return errors.Wrap(err, "batch create failed")
		}
		batchID = b.ID
		fmt.Printf("Batch %s created with %d projects\n", b.ID, len(b.Entries))
	}

	b, err := queue.Run(ctx, batchID)
	if err != nil {
		return errors.Wrap(err, "batch run failed")
	}

	fmt.Printf("\nBatch %s: %s\n", b.ID, b.Status)
	fmt.Printf("%-4s %-24s %-22s %s\n", "#", "PROJECT", "STATUS", "ERROR")
	for _, e := range b.Entries {
		fmt.Printf("%-4d %-24s %-22s %s\n", e.Position+1, e.ProjectID, e.Status, orDash(truncate(e.Error, 60)))
	}
	return nil
}

func listBatches() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	repo, err := openRepository(cfg)
	if err != nil {
		return err
	}
	defer repo.Close()

	batches, err := repo.ListBatches(context.Background())
	if err != nil {
		return errors.Wrap(err, "failed to list batches")
	}
	if len(batches) == 0 {
		fmt.Println("No batches found")
		return nil
	}

	fmt.Printf("%-38s %-10s %s\n", "BATCH", "STATUS", "CREATED")
	for _, b := range batches {
		fmt.Printf("%-38s %-10s %s\n", b.ID, b.Status, b.CreatedAt.Format(time.RFC3339))
	}
	return nil
}
