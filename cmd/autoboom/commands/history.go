package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/ski11z/autoboom/pkg/errors"
	"github.com/spf13/cobra"
)

var historyLimit int

var historyCmd = &cobra.Command{
	Use:   "history <project-id>",
	Short: "List the run history of a project",
	Args:  cobra.ExactArgs(1),
	RunE:  runHistory,
}

func init() {
	rootCmd.AddCommand(historyCmd)
	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "Number of runs to show (0 for all)")
}

func runHistory(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	repo, err := openRepository(cfg)
	if err != nil {
		return err
	}
	defer repo.Close()

	records, err := repo.ListRunRecords(context.Background(), args[0], historyLimit)
	if err != nil {
		return errors.Wrap(err, "history lookup failed")
	}

	if len(records) == 0 {
		fmt.Println("No runs recorded")
		return nil
	}

	fmt.Printf("%-20s %-22s %-10s %-10s %-10s %s\n", "FINISHED", "OUTCOME", "DURATION", "IMAGES", "VIDEOS", "ERROR")
	for _, r := range records {
		fmt.Printf("%-20s %-22s %-10s %-10s %-10s %s\n",
			r.FinishedAt.Local().Format("2006-01-02 15:04:05"),
			r.Outcome,
			r.FinishedAt.Sub(r.StartedAt).Round(time.Second),
			fmt.Sprintf("%d/%d", r.ImagesReady, r.ImagesReady+r.ImagesFailed),
			fmt.Sprintf("%d/%d", r.VideosReady, r.VideosReady+r.VideosFailed),
			orDash(truncate(r.Error, 60)))
	}
	return nil
}
