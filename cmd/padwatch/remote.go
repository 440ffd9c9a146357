package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/padwatch/padwatch/internal/battery"
	"github.com/padwatch/padwatch/internal/client"
	"github.com/padwatch/padwatch/internal/config"
	"github.com/padwatch/padwatch/internal/console"
	"github.com/padwatch/padwatch/internal/inventory"
	"github.com/padwatch/padwatch/internal/logging"
	"github.com/padwatch/padwatch/internal/status"
	"github.com/padwatch/padwatch/internal/tui"
)

const requestTimeout = 15 * time.Second

var statusJSON bool

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show connected controllers, battery and idle countdown",
	RunE: func(cmd *cobra.Command, args []string) error {
		sock, err := socketPath()
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()

		snap, err := client.NewHTTPClient(sock).Status(ctx)
		if client.IsUnavailable(err) {
			return localScan(ctx, os.Stdout)
		}
		if err != nil {
			return err
		}
		if statusJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(snap)
		}
		fmt.Println(status.Toast(snap))
		return nil
	},
}

var timeoutCmd = &cobra.Command{
	Use:   "timeout <seconds>",
	Short: "Set the idle timeout on the running daemon",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		n, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("not a number: %q", args[0])
		}
		return remoteAction(func(ctx context.Context, c *client.HTTPClient) (string, error) {
			return c.SetTimeout(ctx, n)
		})
	},
}

var disconnectCmd = &cobra.Command{
	Use:   "disconnect <player>",
	Short: "Disconnect a controller by player number",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		n, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("not a number: %q", args[0])
		}
		return remoteAction(func(ctx context.Context, c *client.HTTPClient) (string, error) {
			return c.Disconnect(ctx, n)
		})
	},
}

var consoleCmd = &cobra.Command{
	Use:   "console",
	Short: "Interactive console for the running daemon",
	RunE: func(cmd *cobra.Command, args []string) error {
		sock, err := socketPath()
		if err != nil {
			return err
		}
		return console.New(client.NewHTTPClient(sock), os.Stdout).Run(cmd.Context())
	},
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Live terminal view of the running daemon",
	RunE: func(cmd *cobra.Command, args []string) error {
		sock, err := socketPath()
		if err != nil {
			return err
		}
		// Keep client logs off the alternate screen.
		logging.Init("console", "error", io.Discard)
		m := tui.New(client.NewWSClient(sock), client.NewHTTPClient(sock))
		_, err = tea.NewProgram(m, tea.WithAltScreen()).Run()
		return err
	},
}

func init() {
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "Print the daemon's status as JSON")
	rootCmd.AddCommand(statusCmd, timeoutCmd, disconnectCmd, consoleCmd, watchCmd)
}

func remoteAction(do func(ctx context.Context, c *client.HTTPClient) (string, error)) error {
	sock, err := socketPath()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	msg, err := do(ctx, client.NewHTTPClient(sock))
	if client.IsUnavailable(err) {
		return fmt.Errorf("padwatch daemon is not running (no socket at %s)", sock)
	}
	if err != nil {
		return err
	}
	fmt.Println(msg)
	return nil
}

// localScan lists controllers straight from the system when no daemon
// answers.
func localScan(ctx context.Context, w io.Writer) error {
	cfg, err := config.LoadOrDefault(configPath())
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	logging.Init("console", "error", os.Stderr)

	cands := inventory.New(inventory.DefaultLister()).Candidates(ctx)
	batt := battery.NewCache(newQuerier(cfg, logging.L("main")), cfg.Battery.CacheTTL)
	printScan(ctx, w, cands, batt)
	return nil
}

type batteryGetter interface {
	Get(ctx context.Context, mac string) battery.Info
}

func printScan(ctx context.Context, w io.Writer, cands []inventory.Candidate, batt batteryGetter) {
	fmt.Fprintln(w, "Controller Status (daemon not running)")
	fmt.Fprintln(w)
	if len(cands) == 0 {
		fmt.Fprintln(w, "No controllers connected.")
		return
	}
	for _, c := range cands {
		level := battery.Unknown
		mac := "no MAC"
		if c.HardwareID != "" {
			mac = c.HardwareID
			level = batt.Get(ctx, c.HardwareID).Percentage
		}
		fmt.Fprintf(w, "• %s (%s) | Battery: %s\n", c.Name, mac, level)
	}
}
