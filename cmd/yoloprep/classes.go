package main

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/starford/yoloprep/internal/apperr"
	"github.com/starford/yoloprep/internal/prepservice"
)

func classesCommand() *cli.Command {
	return &cli.Command{
		Name:  "classes",
		Usage: "Manage the class registry",
		Commands: []*cli.Command{
			{
				Name:  "list",
				Usage: "Print classes with their IDs",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return withService(cmd, func(svc *prepservice.Service) error {
						for id, name := range svc.Classes(ctx).Classes {
							fmt.Printf("%d\t%s\n", id, name)
						}
						return nil
					})
				},
			},
			{
				Name:      "add",
				Usage:     "Add a class",
				ArgsUsage: "<name>",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "description", Aliases: []string{"d"}},
					&cli.IntFlag{Name: "position", Value: -1, Usage: "Insertion index; -1 appends"},
				},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					name := cmd.Args().First()
					return withService(cmd, func(svc *prepservice.Service) error {
						list, err := svc.AddClass(ctx, name, cmd.String("description"), int(cmd.Int("position")))
						if err != nil {
							return err
						}
						return printJSON(list)
					})
				},
			},
			{
				Name:      "remove",
				Usage:     "Remove a class; later IDs shift down",
				ArgsUsage: "<name>",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return withService(cmd, func(svc *prepservice.Service) error {
						list, err := svc.RemoveClass(ctx, cmd.Args().First())
						if err != nil {
							return err
						}
						return printJSON(list)
					})
				},
			},
			{
				Name:      "reorder",
				Usage:     "Replace the class order",
				ArgsUsage: "<name>...",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return withService(cmd, func(svc *prepservice.Service) error {
						list, err := svc.ReorderClasses(ctx, cmd.Args().Slice())
						if err != nil {
							return err
						}
						return printJSON(list)
					})
				},
			},
			{
				Name:      "validate",
				Usage:     "Compare a class list with the registry order",
				ArgsUsage: "<name>...",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return withService(cmd, func(svc *prepservice.Service) error {
						v := svc.ValidateClasses(ctx, cmd.Args().Slice())
						if err := printJSON(v); err != nil {
							return err
						}
						if !v.Equal {
							return &apperr.ClassMismatchError{Missing: v.Missing, Extra: v.Extra}
						}
						return nil
					})
				},
			},
			{
				Name:      "sync-from",
				Usage:     "Replace the registry order with a plain-text class file",
				ArgsUsage: "[file]",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return withService(cmd, func(svc *prepservice.Service) error {
						res, err := svc.SyncFromFile(ctx, cmd.Args().First())
						if err != nil {
							return err
						}
						return printJSON(res)
					})
				},
			},
			{
				Name:      "sync-to",
				Usage:     "Write the registry order to a plain-text class file",
				ArgsUsage: "[file]",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return withService(cmd, func(svc *prepservice.Service) error {
						res, err := svc.SyncToFile(ctx, cmd.Args().First())
						if err != nil {
							return err
						}
						return printJSON(res)
					})
				},
			},
			{
				Name:      "analyze",
				Usage:     "Check a YOLO dataset for class inconsistencies",
				ArgsUsage: "<dataset-dir>",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return withService(cmd, func(svc *prepservice.Service) error {
						rep, err := svc.AnalyzeDataset(ctx, cmd.Args().First())
						if err != nil {
							return err
						}
						return printJSON(rep)
					})
				},
			},
		},
	}
}
