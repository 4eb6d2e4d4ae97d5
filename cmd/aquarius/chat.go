package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/oklog/ulid/v2"
	"github.com/spf13/cobra"

	"github.com/ivan-digital/aquarius/internal/facade"
	"github.com/ivan-digital/aquarius/internal/session"
)

func newChatCmd() *cobra.Command {
	var sessionID string

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Chat with the agent in the terminal",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			rt, err := buildRuntime(ctx)
			if err != nil {
				return err
			}
			defer rt.Close()

			if err := rt.facade.Initialize(ctx); err != nil {
				return err
			}
			defer rt.facade.Shutdown()

			if sessionID == "" {
				sessionID = ulid.Make().String()
			}
			fmt.Printf("Session %s. Ask about a GitHub repository; type 'exit' to quit.\n", sessionID)

			scanner := bufio.NewScanner(os.Stdin)
			scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
			for {
				fmt.Print("> ")
				if !scanner.Scan() {
					fmt.Println()
					return scanner.Err()
				}
				line := strings.TrimSpace(scanner.Text())
				if line == "" {
					continue
				}
				if line == "exit" || line == "quit" {
					return nil
				}

				reply, err := rt.facade.HandleQuery(ctx, sessionID, line)
				if err != nil {
					if ctx.Err() != nil {
						return nil
					}
					if errors.Is(err, session.ErrBusy) {
						fmt.Println("(previous query still running)")
						continue
					}
					fmt.Printf("error (%s): %v\n", facade.KindOf(err), err)
					continue
				}
				fmt.Println(reply.Answer)
			}
		},
	}

	cmd.Flags().StringVar(&sessionID, "session", "", "Session ID to resume (default: new session)")
	return cmd
}
