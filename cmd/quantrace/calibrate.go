package main

import (
	"context"
	"errors"

	"github.com/urfave/cli/v3"

	"github.com/strato-ml/quantrace/internal/autoquant"
	"github.com/strato-ml/quantrace/internal/logger"
	"github.com/strato-ml/quantrace/internal/nn"
	"github.com/strato-ml/quantrace/internal/toy"
	"github.com/strato-ml/quantrace/internal/trace"
)

func calibrateCmd() *cli.Command {
	var (
		out       string
		saveModel string
		state     string
	)

	return &cli.Command{
		Name:  "calibrate",
		Usage: "Record the demo model's trace, run calibration passes and write the artifact",
		Flags: append(append(modelFlags(), loggingFlags()...),
			&cli.StringFlag{
				Name:        "out",
				Aliases:     []string{"o"},
				Usage:       "artifact output path",
				Value:       "calibration.json",
				Destination: &out,
			},
			&cli.StringFlag{
				Name:        "save-model",
				Usage:       "also write the float model's state dict to this path",
				Destination: &saveModel,
			},
			&cli.StringFlag{
				Name:        "state",
				Usage:       "load model weights from a state dict instead of seeding them",
				Destination: &state,
			},
		),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			applyCalibrateConfig(cmd, LoadConfig(), &out)
			log := buildLog()

			obs, model, err := calibrate(log, state)
			if err != nil {
				return err
			}
			a, err := obs.Artifact()
			if err != nil {
				return err
			}
			if err := autoquant.SaveArtifact(out, a); err != nil {
				return err
			}
			log.Info("artifact written", "path", out, "summary", a.Summary())

			if saveModel != "" {
				if err := nn.SaveFile(saveModel, nn.Save(model)); err != nil {
					return err
				}
				log.Info("model state written", "path", saveModel)
			}
			return nil
		},
	}
}

// demoModel builds the model the calibrate and convert commands operate on,
// optionally restoring weights from a saved state dict.
func demoModel(state string) (nn.Module, error) {
	cfg := demoConfig()
	var model nn.Module
	if gated {
		model = toy.NewGatedNet(cfg, seed, float32(threshold))
	} else {
		model = toy.NewConvNet(cfg, seed)
	}
	if state != "" {
		sd, err := nn.LoadFile(state)
		if err != nil {
			return nil, err
		}
		if _, err := nn.Load(model, sd, true); err != nil {
			return nil, err
		}
	}
	return model, nil
}

// calibrate records the demo model's trace and feeds it calibration batches.
// With the gated model and an unlucky threshold the trace diverges between
// passes; the resulting error is reported as-is so the failure mode is
// visible from the command line.
func calibrate(log logger.Logger, state string) (*autoquant.Observed, nn.Module, error) {
	cfg := demoConfig()
	model, err := demoModel(state)
	if err != nil {
		return nil, nil, err
	}

	obs, err := autoquant.AddAutoObservation(model, toy.Input(cfg, int(batch), seed), autoquant.Options{Log: log})
	if err != nil {
		return nil, nil, err
	}
	log.Info("trace recorded", "ops", obs.Ledger().Len(), "tensors", obs.Ledger().NumTensors())

	for i := int64(0); i < passes; i++ {
		if _, err := obs.Forward(toy.Input(cfg, int(batch), seed+1+i)); err != nil {
			var exhausted *trace.TraceExhaustedError
			var mismatch *trace.TraceMismatchError
			if errors.As(err, &exhausted) || errors.As(err, &mismatch) {
				log.Error("trace diverged during calibration", "pass", i, "error", err)
			}
			return nil, nil, err
		}
	}
	log.Info("calibration complete", "passes", passes)
	return obs, model, nil
}
