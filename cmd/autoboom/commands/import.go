package commands

import (
	"context"
	"fmt"

	"github.com/ski11z/autoboom/pkg/errors"
	"github.com/ski11z/autoboom/pkg/projectfile"
	"github.com/spf13/cobra"
)

var importCmd = &cobra.Command{
	Use:   "import <file.yaml>",
	Short: "Import a project definition as a draft",
	Args:  cobra.ExactArgs(1),
	RunE:  runImport,
}

func init() {
	rootCmd.AddCommand(importCmd)
}

func runImport(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	repo, err := openRepository(cfg)
	if err != nil {
		return err
	}
	defer repo.Close()

	p, err := projectfile.Import(context.Background(), repo, args[0])
	if err != nil {
		return errors.Wrap(err, "import failed")
	}

	fmt.Printf("Imported %s (%s): %d image prompts, %d animation prompts\n",
		p.ID, p.Mode, len(p.ImagePrompts), len(p.AnimationPrompts))
	return nil
}
