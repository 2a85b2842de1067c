package main

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/strato-ml/quantrace/internal/autoquant"
)

func inspectCmd() *cli.Command {
	var (
		artifactPath string
		showAll      bool
		showOps      bool
		showTensors  bool
		showQParams  bool
		limit        int64
	)

	return &cli.Command{
		Name:  "inspect",
		Usage: "Inspect a calibration artifact",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "artifact",
				Aliases:     []string{"a"},
				Usage:       "path to the calibration artifact",
				Value:       "calibration.json",
				Destination: &artifactPath,
			},
			&cli.BoolFlag{Name: "all", Usage: "show everything", Destination: &showAll},
			&cli.BoolFlag{Name: "ops", Usage: "show the recorded operation trace", Destination: &showOps},
			&cli.BoolFlag{Name: "tensors", Usage: "show per-tensor statistics", Destination: &showTensors},
			&cli.BoolFlag{Name: "qparams", Usage: "show derived activation quantization parameters", Destination: &showQParams},
			&cli.Int64Flag{Name: "limit", Usage: "limit listings (0 = no limit)", Destination: &limit},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			a, err := autoquant.LoadArtifact(artifactPath)
			if err != nil {
				return err
			}
			fmt.Printf("artifact:         %s\n", artifactPath)
			fmt.Printf("activation dtype: %s\n", a.ActivationDType)
			fmt.Printf("summary:          %s\n", a.Summary())

			if showOps || showAll {
				fmt.Println("\ntrace:")
				for i, op := range a.Ops {
					if limit > 0 && int64(i) >= limit {
						fmt.Printf("  ... %d more\n", len(a.Ops)-i)
						break
					}
					fmt.Printf("  %s\n", op.String())
				}
			}
			if showTensors || showAll {
				fmt.Println("\ntensors:")
				for i, t := range a.Tensors {
					if limit > 0 && int64(i) >= limit {
						fmt.Printf("  ... %d more\n", len(a.Tensors)-i)
						break
					}
					if t.Calibrated {
						fmt.Printf("  %3d %-6s range=[%g, %g]\n", t.ID, t.InfDType, t.Min, t.Max)
					} else {
						fmt.Printf("  %3d %-6s uncalibrated\n", t.ID, t.InfDType)
					}
				}
			}
			if showQParams || showAll {
				fmt.Println("\nactivation qparams:")
				for _, t := range a.Tensors {
					if !t.Calibrated {
						continue
					}
					fmt.Printf("  %3d scale=%g zero_point=%d\n", t.ID, t.Scale, t.ZeroPoint)
				}
			}
			return nil
		},
	}
}
