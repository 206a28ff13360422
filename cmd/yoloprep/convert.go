package main

import (
	"context"
	"fmt"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/starford/yoloprep/internal/prepservice"
)

func convertCommand() *cli.Command {
	return &cli.Command{
		Name:      "convert",
		Usage:     "Convert a directory of VOC-annotated images into a YOLO dataset",
		ArgsUsage: "<source-dir> <target-dir>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "name", Aliases: []string{"n"}, Usage: "Dataset directory name (default from config)"},
			&cli.FloatFlag{Name: "ratio", Aliases: []string{"r"}, Usage: "Train split ratio in (0, 1) (default from config)"},
			&cli.IntFlag{Name: "seed", Usage: "Shuffle seed (default from config)"},
			&cli.BoolFlag{Name: "no-class-config", Usage: "Derive classes from the annotations without touching the registry"},
			&cli.BoolFlag{Name: "no-auto-add", Usage: "Report unknown classes instead of adding them to the registry"},
			&cli.BoolFlag{Name: "clean", Usage: "Empty an existing dataset before writing"},
			&cli.BoolFlag{Name: "backup", Usage: "Copy an existing dataset aside before writing"},
			&cli.BoolFlag{Name: "exclude-trained", Usage: "Skip images used by recorded training sessions"},
			&cli.BoolFlag{Name: "strict", Usage: "Exact path matching for --exclude-trained"},
			&cli.BoolFlag{Name: "record-session", Usage: "Record the converted images as a training session"},
			&cli.StringFlag{Name: "session-name", Usage: "Name of the recorded session"},
			&cli.BoolFlag{Name: "quiet", Aliases: []string{"q"}, Usage: "Do not print progress"},
			&cli.BoolFlag{Name: "json", Usage: "Print the full report as JSON"},
		},
		Action: runConvert,
	}
}

func runConvert(ctx context.Context, cmd *cli.Command) error {
	if cmd.Args().Len() != 2 {
		return fmt.Errorf("convert: expected <source-dir> <target-dir>")
	}
	return withService(cmd, func(svc *prepservice.Service) error {
		req := prepservice.ConvertRequest{
			Config: svc.ConvertConfig(cmd.Args().Get(0), cmd.Args().Get(1)),
		}
		if cmd.IsSet("name") {
			req.DatasetName = cmd.String("name")
		}
		if cmd.IsSet("ratio") {
			req.TrainRatio = cmd.Float("ratio")
		}
		if cmd.IsSet("seed") {
			req.Seed = cmd.Int("seed")
		}
		if cmd.Bool("no-class-config") {
			req.UseClassConfig = false
		}
		if cmd.Bool("no-auto-add") {
			req.AutoAddClasses = false
		}
		req.CleanExisting = cmd.Bool("clean")
		req.BackupExisting = cmd.Bool("backup")
		req.ExcludeTrained = cmd.Bool("exclude-trained")
		req.StrictMode = cmd.Bool("strict")
		req.RecordSession = cmd.Bool("record-session")
		req.SessionName = cmd.String("session-name")
		if !cmd.Bool("quiet") {
			req.Progress = func(current, total int, message string) {
				fmt.Fprintf(os.Stderr, "[%d/%d] %s\n", current, total, message)
			}
		}

		res, err := svc.Convert(ctx, req)
		if err != nil {
			return err
		}
		if cmd.Bool("json") {
			return printJSON(res)
		}

		rep := res.Report
		fmt.Printf("dataset:     %s\n", rep.DatasetDir)
		if rep.BackupDir != "" {
			fmt.Printf("backup:      %s\n", rep.BackupDir)
		}
		fmt.Printf("run:         %s\n", res.RunID)
		fmt.Printf("pairs:       %d found, %d converted (%d train, %d val)\n",
			rep.PairsFound, rep.PairsConverted, rep.TrainCount, rep.ValCount)
		fmt.Printf("boxes:       %d written, %d degenerate\n", rep.BoxesWritten, rep.BoxesDroppedDegenerate)
		fmt.Printf("classes:     %v\n", rep.Classes)
		printList("auto-added", rep.AutoAddedClasses)
		printList("unknown", rep.UnknownClasses)
		printList("excluded", rep.ExcludedTrained)
		printList("collisions", rep.Collisions)
		for _, s := range rep.SkippedPairs {
			fmt.Printf("skipped:     %s (%s)\n", s.Path, s.Reason)
		}
		if res.SessionID != "" {
			fmt.Printf("session:     %s\n", res.SessionID)
		}
		if rep.Cancelled {
			fmt.Println("cancelled:   manifests not written")
		}
		return nil
	})
}

func printList(label string, items []string) {
	if len(items) == 0 {
		return
	}
	fmt.Printf("%-12s %d %v\n", label+":", len(items), items)
}
