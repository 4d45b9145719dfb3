package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/ski11z/autoboom/pkg/errors"
	"github.com/ski11z/autoboom/pkg/model"
	"github.com/ski11z/autoboom/pkg/security"
	"github.com/spf13/cobra"
)

var deleteFiles bool

var deleteCmd = &cobra.Command{
	Use:   "delete <project-id>",
	Short: "Delete a project with its progress and run history",
	Long: `Deletes a project definition, its job progress and its run history.
  --files   Also remove the project's downloaded files from the work directory`,
	Args: cobra.ExactArgs(1),
	RunE: runDelete,
}

func init() {
	rootCmd.AddCommand(deleteCmd)
	deleteCmd.Flags().BoolVar(&deleteFiles, "files", false, "Remove downloaded files")
}

func runDelete(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	id := args[0]

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	repo, err := openRepository(cfg)
	if err != nil {
		return err
	}
	defer repo.Close()

	// Collect downloads before the progress record goes away
	var paths []string
	if deleteFiles {
		prog, err := repo.GetJobProgress(ctx, id)
		if err != nil {
			return errors.Wrap(err, "progress lookup failed")
		}
		paths = downloadedPaths(prog)
	}

	if err := repo.DeleteProject(ctx, id); err != nil {
		return errors.Wrap(err, "delete failed")
	}
	fmt.Printf("Deleted project %s\n", id)

	if len(paths) == 0 {
		return nil
	}

	validator := security.NewValidator(cfg.WorkDir, cfg.MaxDownloadSize, 0)
	removed := 0
	for _, p := range paths {
		// Only touch files inside the work directory
		resolved, err := validator.Resolve(p)
		if err != nil {
			fmt.Printf("Skipped %s: %v\n", p, err)
			continue
		}
		if err := os.Remove(resolved); err != nil && !os.IsNotExist(err) {
			fmt.Printf("Failed to remove %s: %v\n", resolved, err)
			continue
		}
		removed++
	}
	fmt.Printf("Removed %d downloaded files\n", removed)
	return nil
}

func downloadedPaths(prog *model.JobProgress) []string {
	if prog == nil {
		return nil
	}
	var paths []string
	for _, items := range [][]model.ItemResult{prog.Images, prog.Videos} {
		for _, it := range items {
			if it.LocalPath != "" {
				paths = append(paths, it.LocalPath)
			}
		}
	}
	return paths
}
