package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/ski11z/autoboom/pkg/api"
	"github.com/ski11z/autoboom/pkg/errors"
	"github.com/ski11z/autoboom/pkg/orchestrator"
	"github.com/spf13/cobra"
)

var runListen string

var runCmd = &cobra.Command{
	Use:   "run <project-id>",
	Short: "Run a project in the foreground",
	Long: `Runs a project until it finishes. An interrupt stops the run and keeps its
progress, so the next run resumes at the first unfinished item.
With --listen the control surface is served alongside so the run can be
paused and resumed over HTTP.`,
	Args: cobra.ExactArgs(1),
	RunE: runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().StringVar(&runListen, "listen", "", "Serve the HTTP control surface on this address")
}

func runRun(cmd *cobra.Command, args []string) error {
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

	if runListen != "" {
		app := api.New(rt.orch, rt.repo)
		go func() {
			if err := app.Listen(runListen); err != nil {
				fmt.Fprintf(os.Stderr, "control surface stopped: %v\n", err)
			}
		}()
		defer app.Shutdown()
	}

	res, err := rt.orch.Run(ctx, args[0])
	if err != nil {
		return errors.Wrap(err, "start failed")
	}
	printResult(res)
	if res.Err != nil {
		return res.Err
	}
	return nil
}

func printResult(res orchestrator.Result) {
	if res.Aborted {
		fmt.Printf("Stopped %s; progress kept for resume\n", res.ProjectID)
		return
	}
	fmt.Printf("Project %s finished: %s\n", res.ProjectID, res.Outcome)
	if rec := res.Record; rec != nil {
		fmt.Printf("  images: %d ready, %d failed\n", rec.ImagesReady, rec.ImagesFailed)
		fmt.Printf("  videos: %d ready, %d failed\n", rec.VideosReady, rec.VideosFailed)
		if rec.Error != "" {
			fmt.Printf("  error:  %s\n", rec.Error)
		}
	}
}
