package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/researchd/researchd/internals/schemas"
	"github.com/researchd/researchd/internals/timeouts"
	"github.com/researchd/researchd/researchd/server"
	"github.com/researchd/researchd/sdk"
	"github.com/researchd/researchd/tui"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "researchd",
		Short:         "Background research agent daemon and client",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(
		serveCmd(),
		newCmd(),
		statusCmd(),
		cancelCmd(),
		sessionsCmd(),
		outputsCmd(),
		versionCmd(),
		stopCmd(),
	)
	return root
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the researchd daemon in the foreground",
		RunE: func(cmd *cobra.Command, args []string) error {
			s := server.New()

			signals := make(chan os.Signal, 1)
			signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
			go func() {
				<-signals
				s.Base.Logger.Info("shutting down")
				s.Shutdown()
			}()

			err := s.Start()
			s.Base.Close()
			return err
		},
	}
}

func newCmd() *cobra.Command {
	var sessionID string
	var live bool
	var watch bool

	cmd := &cobra.Command{
		Use:   "new [prompt...]",
		Short: "Start a research task",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := sdk.NewClient()
			if err := ensureDaemonRunning(client); err != nil {
				return err
			}

			prompt := strings.TrimSpace(strings.Join(args, " "))
			if prompt == "" {
				if !isatty.IsTerminal(os.Stdin.Fd()) {
					return errors.New("prompt is required when not running interactively")
				}
				return tui.Run(client)
			}

			mode := schemas.TaskModeBackground
			if live {
				mode = schemas.TaskModeLive
			}
			if sessionID == "" {
				sessionID = uuid.NewString()
			}
			ctx, cancel := context.WithTimeout(context.Background(), timeouts.SecondShort)
			defer cancel()
			response, err := client.CreateTask(ctx, schemas.TaskCreateRequest{
				SessionID: sessionID,
				Prompt:    prompt,
				Mode:      mode,
			})
			if err != nil {
				return err
			}

			fmt.Printf("task %s %s\n", response.TaskID, response.Status)
			if watch && isatty.IsTerminal(os.Stdout.Fd()) {
				return tui.WatchTask(client, response.TaskID)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&sessionID, "session", "", "session to attach the task to (default: a new session)")
	cmd.Flags().BoolVar(&live, "live", false, "do not start until a stream observer connects")
	cmd.Flags().BoolVar(&watch, "watch", false, "follow the task's progress")
	return cmd
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <task-id>",
		Short: "Show a task's status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := sdk.NewClient()
			ctx, cancel := context.WithTimeout(context.Background(), timeouts.SecondShort)
			defer cancel()
			task, err := client.TaskStatus(ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Printf("%s %s %.0f%%", task.ID, task.Status, task.Progress*100)
			if task.ProgressMessage != "" {
				fmt.Printf(" %s", task.ProgressMessage)
			}
			if task.ErrorMessage != "" {
				fmt.Printf(" (%s)", task.ErrorMessage)
			}
			fmt.Println()
			return nil
		},
	}
}

func cancelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <task-id>",
		Short: "Cancel a pending or running task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := sdk.NewClient()
			ctx, cancel := context.WithTimeout(context.Background(), timeouts.SecondShort)
			defer cancel()
			response, err := client.CancelTask(ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Println(response.Status)
			return nil
		},
	}
}

func sessionsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sessions",
		Short: "List research sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := sdk.NewClient()
			ctx, cancel := context.WithTimeout(context.Background(), timeouts.SecondShort)
			defer cancel()
			response, err := client.ListSessions(ctx)
			if err != nil {
				return err
			}
			for _, session := range response.Sessions {
				title := session.Title
				if title == "" {
					title = "(untitled)"
				}
				fmt.Printf("%s  %s\n", session.ID, title)
			}
			return nil
		},
	}
}

func outputsCmd() *cobra.Command {
	var sessionID string

	cmd := &cobra.Command{
		Use:   "outputs",
		Short: "List research output files",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := sdk.NewClient()
			ctx, cancel := context.WithTimeout(context.Background(), timeouts.SecondShort)
			defer cancel()
			response, err := client.ListOutputs(ctx, sessionID)
			if err != nil {
				return err
			}
			for _, file := range response.Files {
				fmt.Printf("%s  %-8s  %8d  %s\n", file.ID, file.FileType, file.FileSize, file.Filepath)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&sessionID, "session", "", "only this session's files")
	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show the daemon version",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := sdk.NewClient()
			ctx, cancel := context.WithTimeout(context.Background(), timeouts.SecondShort)
			defer cancel()
			version, err := client.Version(ctx)
			if err != nil {
				return err
			}
			fmt.Println(version)
			return nil
		},
	}
}

func stopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Ask a running daemon to shut down",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := sdk.NewClient()
			ctx, cancel := context.WithTimeout(context.Background(), timeouts.SecondShort)
			defer cancel()
			return client.Shutdown(ctx)
		},
	}
}

// ensureDaemonRunning pings the daemon and, if absent, spawns this
// binary's serve command and waits for it to answer.
func ensureDaemonRunning(client *sdk.Client) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeouts.Probe)
	defer cancel()
	if _, err := client.Version(ctx); err == nil {
		return nil
	}

	executable, err := os.Executable()
	if err != nil {
		return err
	}
	daemon := exec.Command(executable, "serve")
	daemon.Stdout = os.Stdout
	daemon.Stderr = os.Stderr
	if err := daemon.Start(); err != nil {
		return err
	}

	var lastErr error
	for i := 0; i < 8; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), timeouts.Probe)
		_, err := client.Version(ctx)
		cancel()
		if err == nil {
			return nil
		}
		lastErr = err
		time.Sleep(time.Duration(i+1) * 150 * time.Millisecond)
	}
	if lastErr != nil {
		return fmt.Errorf("failed to reach researchd: %w", lastErr)
	}
	return errors.New("failed to reach researchd")
}
