// Command taskcastctl is Taskcast's operator CLI: create tasks, inspect
// status, publish events, and tail a task's live stream from a
// terminal, grounded on the teacher's cobra_cli.go (cobra root command,
// viper config file, fatih/color styled output).
package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/term"
)

// isTTY reports whether stdout is an interactive terminal, so output
// piped to a file or another process never carries ANSI color codes.
func isTTY() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}

var (
	green = color.New(color.FgGreen).SprintFunc()
	red   = color.New(color.FgRed).SprintFunc()
	cyan  = color.New(color.FgCyan).SprintFunc()
	gray  = color.New(color.FgHiBlack).SprintFunc()
)

// cli holds the flags shared by every subcommand.
type cli struct {
	serverURL string
	token     string
	client    *http.Client
}

func main() {
	if !isTTY() {
		color.NoColor = true
	}
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "%s %v\n", red("error:"), err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	c := &cli{client: &http.Client{Timeout: 30 * time.Second}}

	root := &cobra.Command{
		Use:   "taskcastctl",
		Short: "Operate a Taskcast server from the command line",
		Long: `taskcastctl talks to a running Taskcast server over its HTTP API:
create tasks, check status, publish events, and tail a task's live
stream without writing a client.`,
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVar(&c.serverURL, "server", "http://localhost:8080", "Taskcast server base URL")
	root.PersistentFlags().StringVar(&c.token, "token", "", "bearer token for authenticated requests")

	root.AddCommand(newCreateCommand(c))
	root.AddCommand(newStatusCommand(c))
	root.AddCommand(newPublishCommand(c))
	root.AddCommand(newHistoryCommand(c))
	root.AddCommand(newStreamCommand(c))
	root.AddCommand(newVersionCommand())

	viper.SetConfigName("taskcastctl")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("$HOME")
	viper.AddConfigPath(".")
	if err := viper.ReadInConfig(); err == nil {
		if v := viper.GetString("server"); v != "" && !root.PersistentFlags().Changed("server") {
			c.serverURL = v
		}
		if v := viper.GetString("token"); v != "" && !root.PersistentFlags().Changed("token") {
			c.token = v
		}
	}

	return root
}

func (c *cli) newRequest(method, path string, body any) (*http.Request, error) {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, strings.TrimRight(c.serverURL, "/")+path, reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return req, nil
}

// do issues req and decodes a successful JSON response into out (which
// may be nil to discard the body). Non-2xx responses are returned as an
// error carrying the server's {"error": ...} message when present.
func (c *cli) do(req *http.Request, out any) error {
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		var errBody struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(body, &errBody) == nil && errBody.Error != "" {
			return fmt.Errorf("%s: %s", resp.Status, errBody.Error)
		}
		return fmt.Errorf("%s", resp.Status)
	}

	if out == nil || len(body) == 0 {
		return nil
	}
	return json.Unmarshal(body, out)
}

func printJSON(v any) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Println(v)
		return
	}
	fmt.Println(string(b))
}

func newCreateCommand(c *cli) *cobra.Command {
	var taskType, id, paramsJSON string

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a new task",
		RunE: func(cmd *cobra.Command, args []string) error {
			req := map[string]any{"type": taskType}
			if id != "" {
				req["id"] = id
			}
			if paramsJSON != "" {
				var params any
				if err := json.Unmarshal([]byte(paramsJSON), &params); err != nil {
					return fmt.Errorf("invalid --params JSON: %w", err)
				}
				req["params"] = params
			}

			httpReq, err := c.newRequest(http.MethodPost, "/tasks", req)
			if err != nil {
				return err
			}
			var created map[string]any
			if err := c.do(httpReq, &created); err != nil {
				return err
			}
			fmt.Println(green("task created"))
			printJSON(created)
			return nil
		},
	}
	cmd.Flags().StringVar(&taskType, "type", "", "task type (required)")
	cmd.Flags().StringVar(&id, "id", "", "client-supplied task id")
	cmd.Flags().StringVar(&paramsJSON, "params", "", "task params as a JSON object")
	cmd.MarkFlagRequired("type")
	return cmd
}

func newStatusCommand(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "status <task-id>",
		Short: "Show a task's current state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := c.newRequest(http.MethodGet, "/tasks/"+args[0], nil)
			if err != nil {
				return err
			}
			var t map[string]any
			if err := c.do(req, &t); err != nil {
				return err
			}
			printJSON(t)
			return nil
		},
	}
}

func newPublishCommand(c *cli) *cobra.Command {
	var eventType, level, dataJSON string

	cmd := &cobra.Command{
		Use:   "publish <task-id>",
		Short: "Publish an event onto a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body := map[string]any{"type": eventType, "level": level}
			if dataJSON != "" {
				var data any
				if err := json.Unmarshal([]byte(dataJSON), &data); err != nil {
					return fmt.Errorf("invalid --data JSON: %w", err)
				}
				body["data"] = data
			}

			req, err := c.newRequest(http.MethodPost, "/tasks/"+args[0]+"/events", body)
			if err != nil {
				return err
			}
			var evt map[string]any
			if err := c.do(req, &evt); err != nil {
				return err
			}
			printJSON(evt)
			return nil
		},
	}
	cmd.Flags().StringVar(&eventType, "event-type", "log", "event type")
	cmd.Flags().StringVar(&level, "level", "info", "event level")
	cmd.Flags().StringVar(&dataJSON, "data", "", "event payload as a JSON value")
	return cmd
}

func newHistoryCommand(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "history <task-id>",
		Short: "Replay a task's recorded event history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := c.newRequest(http.MethodGet, "/tasks/"+args[0]+"/events/history", nil)
			if err != nil {
				return err
			}
			var events []any
			if err := c.do(req, &events); err != nil {
				return err
			}
			printJSON(events)
			return nil
		},
	}
}

// newStreamCommand tails a task's live SSE stream, printing each "data:"
// line as it arrives. It does not use net/http's higher-level JSON
// decoding since the response body never closes on its own.
func newStreamCommand(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "stream <task-id>",
		Short: "Tail a task's live event stream",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := c.newRequest(http.MethodGet, "/tasks/"+args[0]+"/events", nil)
			if err != nil {
				return err
			}
			req.Header.Set("Accept", "text/event-stream")

			// The shared client's Timeout also bounds body reads, which
			// would cut the tail short; the stream uses a copy without it.
			streamClient := *c.client
			streamClient.Timeout = 0
			resp, err := streamClient.Do(req)
			if err != nil {
				return err
			}
			defer resp.Body.Close()

			if resp.StatusCode >= 400 {
				body, _ := io.ReadAll(resp.Body)
				return fmt.Errorf("%s: %s", resp.Status, string(body))
			}

			fmt.Println(gray(fmt.Sprintf("streaming %s (ctrl-c to stop)", args[0])))
			scanner := bufio.NewScanner(resp.Body)
			scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
			for scanner.Scan() {
				line := scanner.Text()
				switch {
				case strings.HasPrefix(line, "event:"):
					fmt.Print(cyan(strings.TrimSpace(strings.TrimPrefix(line, "event:"))) + " ")
				case strings.HasPrefix(line, "data:"):
					fmt.Println(strings.TrimSpace(strings.TrimPrefix(line, "data:")))
				}
			}
			return scanner.Err()
		},
	}
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show taskcastctl's version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("taskcastctl %s\n", version)
		},
	}
}

const version = "dev"
