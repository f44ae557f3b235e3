package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/briandowns/spinner"
	"github.com/chzyer/readline"
	"github.com/m-mizutani/comanager/pkg/model"
	"github.com/m-mizutani/comanager/pkg/usecase/agent"
	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"
)

func chatCommand(cfg *config) *cli.Command {
	var (
		personaName string
		userID      string
		historyFile string
	)
	storeTools := newStoreTools()

	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "persona",
			Aliases:     []string{"a"},
			Usage:       "Agent to chat with (marketing, technical)",
			Value:       agent.PersonaMarketing,
			Destination: &personaName,
		},
		&cli.StringFlag{
			Name:        "user",
			Aliases:     []string{"u"},
			Usage:       "User ID used for memories",
			Value:       "local",
			Sources:     cli.EnvVars("COMANAGER_USER"),
			Destination: &userID,
		},
		&cli.StringFlag{
			Name:        "history-file",
			Usage:       "File of readline history",
			Sources:     cli.EnvVars("COMANAGER_HISTORY_FILE"),
			Destination: &historyFile,
		},
	}
	flags = append(flags, agentFlags(cfg)...)
	flags = append(flags, toolFlags(storeTools)...)

	return &cli.Command{
		Name:  "chat",
		Usage: "Chat with an agent in the terminal",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			ctx = cfg.setupLogger(ctx)

			rt, err := cfg.build(ctx, storeTools, nil)
			if err != nil {
				return err
			}
			defer rt.Close()

			persona, err := rt.persona(personaName)
			if err != nil {
				return err
			}

			if historyFile == "" {
				if home, err := os.UserHomeDir(); err == nil {
					historyFile = filepath.Join(home, ".comanager_history")
				}
			}

			rl, err := readline.NewEx(&readline.Config{
				Prompt:          "> ",
				HistoryFile:     historyFile,
				InterruptPrompt: "^C",
				EOFPrompt:       "exit",
			})
			if err != nil {
				return goerr.Wrap(err, "failed to initialize readline")
			}
			defer rl.Close()

			w := c.Root().Writer
			fmt.Fprintf(w, "Chat session with %s agent started. Type 'exit' to quit.\n", persona.Name)

			var history []model.Message
			for {
				line, err := rl.Readline()
				if errors.Is(err, readline.ErrInterrupt) {
					if line == "" {
						break
					}
					continue
				}
				if errors.Is(err, io.EOF) {
					break
				}
				if err != nil {
					return goerr.Wrap(err, "failed to read input")
				}

				message := strings.TrimSpace(line)
				if message == "exit" {
					break
				}
				if message == "" {
					continue
				}

				history = append(history, model.NewUserMessage(message))

				out := newSpinnerWriter(w)
				result, err := rt.controller.Run(ctx, out, agent.Input{
					Persona: persona,
					UserID:  model.UserID(userID),
					History: history,
				})
				out.stop()
				fmt.Fprintln(w)

				if err != nil {
					fmt.Fprintf(w, "Error: %v\n", err)
					history = history[:len(history)-1]
					continue
				}
				history = append(history, model.Message{Role: model.RoleAssistant, Content: result.Text})
			}

			fmt.Fprintf(w, "\nChat session completed\n")
			return nil
		},
	}
}

// spinnerWriter shows a spinner until the first write
type spinnerWriter struct {
	w       io.Writer
	spinner *spinner.Spinner
	once    sync.Once
}

func newSpinnerWriter(w io.Writer) *spinnerWriter {
	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriter(os.Stderr))
	s.Suffix = " thinking..."
	s.Start()
	return &spinnerWriter{w: w, spinner: s}
}

func (s *spinnerWriter) stop() {
	s.once.Do(s.spinner.Stop)
}

func (s *spinnerWriter) Write(p []byte) (int, error) {
	s.stop()
	return s.w.Write(p)
}
