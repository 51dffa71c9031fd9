// deskchat CLI - command line client for the deskchat support chat
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/eldtechnologies/deskchat/clients/go/deskchat"
)

func main() {
	if err := newRootCommand(nil).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// newRootCommand builds the command tree. A nil client is created from
// DESKCHAT_URL when a command runs.
func newRootCommand(client *deskchat.Client) *cobra.Command {
	getClient := func() *deskchat.Client {
		if client == nil {
			client = deskchat.NewClient(os.Getenv("DESKCHAT_URL"))
		}
		return client
	}

	root := &cobra.Command{
		Use:   "deskchat",
		Short: "deskchat CLI - talk to a support analyst from the terminal",
		Long: `deskchat CLI - talk to a support analyst from the terminal

Environment:
  DESKCHAT_URL      Server URL (default: http://localhost:8080)
  DESKCHAT_CONFIG   Config directory (default: ~/.deskchat)`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(
		&cobra.Command{
			Use:       "login client|analyst <nickname>",
			Short:     "Log in; clients are assigned an analyst",
			Args:      cobra.ExactArgs(2),
			ValidArgs: []string{deskchat.RoleClient, deskchat.RoleAnalyst},
			RunE: func(cmd *cobra.Command, args []string) error {
				role := args[0]
				if role != deskchat.RoleClient && role != deskchat.RoleAnalyst {
					return fmt.Errorf("role must be %q or %q", deskchat.RoleClient, deskchat.RoleAnalyst)
				}
				resp, err := getClient().Login(role, args[1])
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), resp.Message)
				return nil
			},
		},
		&cobra.Command{
			Use:   "logout",
			Short: "Log out and end the current chat",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				resp, err := getClient().Logout()
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), resp.Message)
				return nil
			},
		},
		newSendCommand(getClient),
		&cobra.Command{
			Use:   "read",
			Short: "Show the history of your rooms",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				rooms, err := getClient().Messages()
				if err != nil {
					return err
				}
				printRooms(cmd.OutOrStdout(), rooms)
				return nil
			},
		},
		&cobra.Command{
			Use:   "pop",
			Short: "Show the history of your rooms and clear it",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				rooms, err := getClient().Pop()
				if err != nil {
					return err
				}
				printRooms(cmd.OutOrStdout(), rooms)
				return nil
			},
		},
		&cobra.Command{
			Use:   "me",
			Short: "Show who the server thinks you are",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				me, err := getClient().Me()
				if err != nil {
					return err
				}
				if me == nil {
					fmt.Fprintln(cmd.OutOrStdout(), "not logged in")
					return nil
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s (%s)\n", me.Nickname, me.Role)
				return nil
			},
		},
		&cobra.Command{
			Use:   "health",
			Short: "Check server health",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				resp, err := getClient().Health()
				if err != nil {
					return err
				}
				printJSON(cmd.OutOrStdout(), resp)
				return nil
			},
		},
		newTranscriptsCommand(getClient),
	)

	return root
}

func newSendCommand(getClient func() *deskchat.Client) *cobra.Command {
	var to string
	cmd := &cobra.Command{
		Use:   "send <message>",
		Short: "Send a message into your room",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := getClient().Send(args[0], to)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), resp.Message)
			return nil
		},
	}
	cmd.Flags().StringVar(&to, "to", "", "client to write to (analysts only)")
	return cmd
}

func newTranscriptsCommand(getClient func() *deskchat.Client) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "transcripts",
		Short: "List your archived chats (analysts only)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			list, err := getClient().Transcripts(limit)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, t := range list {
				fmt.Fprintf(out, "%s  %s  %s  (%d msgs)\n",
					t.ClosedAt.Local().Format("2006-01-02 15:04:05"), t.ID, t.Client, len(t.Messages))
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of transcripts")
	return cmd
}

func printRooms(w io.Writer, rooms map[string][]deskchat.Message) {
	ids := make([]string, 0, len(rooms))
	for id := range rooms {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		fmt.Fprintf(w, "%s\n", id)
		for _, msg := range rooms[id] {
			ts := time.Unix(msg.Timestamp, 0).Format("2006-01-02 15:04:05")
			fmt.Fprintf(w, "  [%s] %s: %s\n", ts, msg.From, msg.Body)
		}
	}
}

func printJSON(w io.Writer, v interface{}) {
	data, _ := json.MarshalIndent(v, "", "  ")
	fmt.Fprintln(w, string(data))
}
