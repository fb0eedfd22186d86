package cli

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/0MATRIX0/agent-connect/api/handlers"
	"github.com/0MATRIX0/agent-connect/internal/model"
)

func newNotifyCmd(opts *rootOptions) *cobra.Command {
	var (
		server  string
		title   string
		kind    string
		session string
		data    string
	)
	cmd := &cobra.Command{
		Use:   "notify <message>",
		Short: "Send a notification through a running server",
		Long: `Send a notification to the inbox and every subscribed browser.

Agents can call this from hooks to report that they finished or need input.
The session id defaults to $AGENT_CONNECT_SESSION_ID when it is set.`,
		Example: `  agent-connect notify "Build finished"
  agent-connect notify --type input_needed "Waiting for approval"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			if !model.ValidNotificationType(model.NotificationType(kind)) {
				return fmt.Errorf("unknown notification type %q", kind)
			}

			req := handlers.NotifyRequest{
				Title:     title,
				Body:      strings.Join(args, " "),
				Type:      kind,
				SessionID: session,
			}
			if req.SessionID == "" {
				req.SessionID = os.Getenv("AGENT_CONNECT_SESSION_ID")
			}
			if data != "" {
				if !json.Valid([]byte(data)) {
					return fmt.Errorf("--data is not valid JSON")
				}
				req.Data = json.RawMessage(data)
			}

			var res handlers.NotifyResponse
			client := newAPIClient(serverURL(server, cfg))
			if err := client.do(cmd.Context(), http.MethodPost, "/api/notify", req, &res); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), res.Message)
			return nil
		},
	}
	cmd.Flags().StringVarP(&server, "server", "s", "", "server URL (default $AGENT_CONNECT_URL or the configured address)")
	cmd.Flags().StringVarP(&title, "title", "t", "", "notification title")
	cmd.Flags().StringVar(&kind, "type", string(model.NotificationCompleted), "completed, planning_complete, approval_needed, input_needed, command_execution or error")
	cmd.Flags().StringVar(&session, "session", "", "session the notification is about")
	cmd.Flags().StringVar(&data, "data", "", "extra JSON payload")
	return cmd
}

func newSessionsCmd(opts *rootOptions) *cobra.Command {
	var (
		server  string
		project string
	)
	cmd := &cobra.Command{
		Use:     "sessions",
		Aliases: []string{"ls"},
		Short:   "List the sessions of a running server",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}

			path := "/api/sessions"
			if project != "" {
				path += "?projectId=" + project
			}
			var list []handlers.SessionResponse
			if err := newAPIClient(serverURL(server, cfg)).do(cmd.Context(), http.MethodGet, path, nil, &list); err != nil {
				return err
			}
			sort.SliceStable(list, func(i, j int) bool {
				return list[i].StartedAt.Before(list[j].StartedAt)
			})

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tPROJECT\tSTATUS\tVIEWERS\tDURATION")
			for _, s := range list {
				status := string(s.Status)
				if s.ExitCode != nil {
					status = fmt.Sprintf("%s (%d)", status, *s.ExitCode)
				} else if s.Signal != nil {
					status = fmt.Sprintf("%s (%s)", status, *s.Signal)
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n", s.ID, s.ProjectName, status, s.Viewers, s.Duration)
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringVarP(&server, "server", "s", "", "server URL (default $AGENT_CONNECT_URL or the configured address)")
	cmd.Flags().StringVar(&project, "project", "", "only sessions of this project id")
	return cmd
}
