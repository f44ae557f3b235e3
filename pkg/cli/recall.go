package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/m-mizutani/comanager/pkg/model"
	"github.com/m-mizutani/comanager/pkg/usecase/memory"
	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"
)

func recallCommand(cfg *config) *cli.Command {
	var userID string

	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "user",
			Aliases:     []string{"u"},
			Usage:       "User whose memories are searched",
			Sources:     cli.EnvVars("COMANAGER_USER"),
			Destination: &userID,
			Required:    true,
		},
	}
	flags = append(flags, llmFlags(cfg)...)
	flags = append(flags, repositoryFlags(cfg)...)

	return &cli.Command{
		Name:      "recall",
		Usage:     "Show memories an agent would recall for a query",
		ArgsUsage: "<query>",
		Flags:     flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			ctx = cfg.setupLogger(ctx)

			query := strings.TrimSpace(strings.Join(c.Args().Slice(), " "))
			if query == "" {
				return goerr.New("query is required")
			}

			llm, err := cfg.newLLM(ctx)
			if err != nil {
				return err
			}
			repo, closeRepo, err := cfg.newRepository(ctx)
			if err != nil {
				return err
			}
			defer closeRepo()

			hits, err := memory.New(llm, repo).Search(ctx, model.UserID(userID), query)
			if err != nil {
				return err
			}

			w := c.Root().Writer
			if len(hits) == 0 {
				fmt.Fprintln(w, "No relevant memory.")
				return nil
			}
			for _, hit := range hits {
				fmt.Fprintf(w, "%s  similarity=%.3f\n", hit.Memory.ID, hit.Similarity)
			}
			fmt.Fprint(w, memory.FormatRecall(hits))
			return nil
		},
	}
}
