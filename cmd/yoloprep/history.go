package main

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/starford/yoloprep/internal/prepservice"
)

func historyCommand() *cli.Command {
	return &cli.Command{
		Name:  "history",
		Usage: "Inspect and edit the training history",
		Commands: []*cli.Command{
			{
				Name:  "stats",
				Usage: "Summarize recorded sessions",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return withService(cmd, func(svc *prepservice.Service) error {
						return printJSON(svc.HistoryStats(ctx))
					})
				},
			},
			{
				Name:  "sessions",
				Usage: "List recorded sessions",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return withService(cmd, func(svc *prepservice.Service) error {
						for _, s := range svc.Sessions(ctx) {
							fmt.Printf("%s\t%s\t%d images\t%s\n", s.ID, s.Timestamp, s.ImageCount, s.Name)
						}
						return nil
					})
				},
			},
			{
				Name:      "record",
				Usage:     "Record a training session",
				ArgsUsage: "<image>...",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "name", Aliases: []string{"n"}, Required: true},
					&cli.StringFlag{Name: "dataset", Usage: "Dataset the session trained on"},
					&cli.StringFlag{Name: "model", Usage: "Path of the trained model"},
				},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return withService(cmd, func(svc *prepservice.Service) error {
						id, err := svc.RecordSession(ctx, prepservice.SessionInput{
							Name:        cmd.String("name"),
							DatasetPath: cmd.String("dataset"),
							ImageFiles:  cmd.Args().Slice(),
							ModelPath:   cmd.String("model"),
						})
						if err != nil {
							return err
						}
						fmt.Println(id)
						return nil
					})
				},
			},
			{
				Name:      "check",
				Usage:     "Report whether images were used for training",
				ArgsUsage: "<image>...",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "strict", Usage: "Exact path matching only"},
				},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return withService(cmd, func(svc *prepservice.Service) error {
						for _, p := range cmd.Args().Slice() {
							state := "untrained"
							if svc.IsTrained(ctx, p, cmd.Bool("strict")) {
								state = "trained"
							}
							fmt.Printf("%s\t%s\n", state, p)
						}
						return nil
					})
				},
			},
			{
				Name:  "clear",
				Usage: "Erase every recorded session",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "yes", Usage: "Confirm erasing the history"},
				},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					if !cmd.Bool("yes") {
						return fmt.Errorf("history clear: pass --yes to erase every session")
					}
					return withService(cmd, func(svc *prepservice.Service) error {
						return svc.ClearHistory(ctx)
					})
				},
			},
		},
	}
}

func runsCommand() *cli.Command {
	return &cli.Command{
		Name:      "runs",
		Usage:     "List conversion runs, or show one with its items",
		ArgsUsage: "[run-id]",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "limit", Value: 20},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return withService(cmd, func(svc *prepservice.Service) error {
				if id := cmd.Args().First(); id != "" {
					run, err := svc.GetRun(ctx, id)
					if err != nil {
						return err
					}
					return printJSON(run)
				}
				runs, err := svc.ListRuns(ctx, int(cmd.Int("limit")))
				if err != nil {
					return err
				}
				for _, r := range runs {
					fmt.Printf("%s\t%s\t%s\t%d pairs\t%d/%d\n", r.ID, r.StartedAt.Format("2006-01-02 15:04:05"),
						r.DatasetName, r.PairsConverted, r.TrainCount, r.ValCount)
				}
				return nil
			})
		},
	}
}
