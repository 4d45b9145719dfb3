package commands

import (
	"context"
	"fmt"

	"github.com/ski11z/autoboom/pkg/errors"
	"github.com/spf13/cobra"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List all projects and their status",
	RunE:  runList,
}

func init() {
	rootCmd.AddCommand(listCmd)
}

func runList(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	repo, err := openRepository(cfg)
	if err != nil {
		return err
	}
	defer repo.Close()

	projects, err := repo.ListProjects(context.Background())
	if err != nil {
		return errors.Wrap(err, "list failed")
	}

	if len(projects) == 0 {
		fmt.Println("No projects found")
		return nil
	}

	fmt.Printf("%-24s %-30s %-16s %-22s %s\n", "ID", "NAME", "MODE", "STATUS", "PROMPTS")
	fmt.Println("------------------------------------------------------------------------------------------------------")

	for _, p := range projects {
		fmt.Printf("%-24s %-30s %-16s %-22s %d/%d\n",
			p.ID, truncate(p.Name, 30), p.Mode, p.Status, len(p.ImagePrompts), len(p.AnimationPrompts))
	}

	return nil
}
