package commands

import (
	"context"
	"fmt"

	"github.com/ski11z/autoboom/pkg/errors"
	"github.com/ski11z/autoboom/pkg/model"
	"github.com/ski11z/autoboom/pkg/storage"
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status <project-id>",
	Short: "Show the persisted progress of a project",
	Args:  cobra.ExactArgs(1),
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	repo, err := openRepository(cfg)
	if err != nil {
		return err
	}
	defer repo.Close()

	p, err := repo.GetProject(ctx, args[0])
	if err != nil {
		return errors.Wrap(err, "project lookup failed")
	}
	prog, err := repo.GetJobProgress(ctx, p.ID)
	if err != nil {
		return errors.Wrap(err, "progress lookup failed")
	}

	fmt.Printf("Project:  %s (%s)\n", p.Name, p.ID)
	fmt.Printf("Mode:     %s\n", p.Mode)
	fmt.Printf("Status:   %s\n", p.Status)
	if prog == nil {
		fmt.Println("No progress recorded")
		return nil
	}

	st := model.StatusOf(prog, false, false)
	fmt.Printf("State:    %s (phase %s, index %d)\n", st.State, orDash(string(st.Phase)), st.CurrentIndex)
	if st.LastError != "" {
		fmt.Printf("Error:    %s\n", st.LastError)
	}
	printItems("IMAGE", st.Images)
	printItems("VIDEO", st.Videos)

	if cfg.S3Bucket != "" {
		printArchived(ctx, cfg.S3Bucket, cfg.S3Region, cfg.S3Prefix, p.Name)
	}
	return nil
}

// printArchived lists the objects archived for a project; failures are reported, not returned
func printArchived(ctx context.Context, bucket, region, prefix, projectName string) {
	client, err := storage.NewClient(ctx, bucket, region, prefix)
	if err != nil {
		fmt.Printf("\nArchive unavailable: %v\n", err)
		return
	}
	keys, err := client.ProjectObjects(ctx, projectName)
	if err != nil {
		fmt.Printf("\nArchive unavailable: %v\n", err)
		return
	}
	fmt.Printf("\nArchived objects (s3://%s): %d\n", bucket, len(keys))
	for _, k := range keys {
		fmt.Printf("  %s\n", k)
	}
}

func printItems(kind string, items []model.ItemResult) {
	if len(items) == 0 {
		return
	}
	fmt.Printf("\n%-6s %-12s %-9s %s\n", kind, "STATUS", "ATTEMPTS", "PROMPT")
	for _, it := range items {
		fmt.Printf("%-6d %-12s %-9d %s\n", it.Index, it.Status, it.Attempts, truncate(it.Prompt, 60))
	}
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
