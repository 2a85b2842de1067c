package main

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/strato-ml/quantrace/internal/autoquant"
	"github.com/strato-ml/quantrace/internal/nn"
	"github.com/strato-ml/quantrace/internal/toy"
	"github.com/strato-ml/quantrace/pkg/quant"
)

func convertCmd() *cli.Command {
	var (
		scheme   string
		dtype    string
		axis     int64
		out      string
		artifact string
		state    string
	)

	return &cli.Command{
		Name:  "convert",
		Usage: "Calibrate the demo model, swap in reference quantized layers and save the result",
		Flags: append(append(modelFlags(), loggingFlags()...),
			&cli.StringFlag{
				Name:        "scheme",
				Usage:       "weight scheme (per_tensor_affine, per_channel_affine)",
				Value:       "per_tensor_affine",
				Destination: &scheme,
			},
			&cli.StringFlag{
				Name:        "dtype",
				Usage:       "weight dtype (qint8, quint8)",
				Value:       "qint8",
				Destination: &dtype,
			},
			&cli.Int64Flag{
				Name:        "axis",
				Usage:       "channel axis for per-channel weight quantization",
				Destination: &axis,
			},
			&cli.StringFlag{
				Name:        "out",
				Aliases:     []string{"o"},
				Usage:       "quantized model state-dict output path",
				Value:       "quantized.json",
				Destination: &out,
			},
			&cli.StringFlag{
				Name:        "artifact",
				Usage:       "also write the calibration artifact to this path",
				Destination: &artifact,
			},
			&cli.StringFlag{
				Name:        "state",
				Usage:       "load model weights from a state dict instead of seeding them",
				Destination: &state,
			},
		),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			applyConvertConfig(cmd, LoadConfig(), &scheme, &dtype)
			log := buildLog()

			wScheme, err := quant.ParseScheme(scheme)
			if err != nil {
				return err
			}
			wDType, err := quant.ParseDType(dtype)
			if err != nil {
				return err
			}

			obs, floatModel, err := calibrate(log, state)
			if err != nil {
				return err
			}
			conv, err := autoquant.Convert(obs, autoquant.WeightOptions{
				Scheme: wScheme,
				DType:  wDType,
				Axis:   int(axis),
			}, autoquant.Options{Log: log})
			if err != nil {
				return err
			}

			// One quantization-aware pass both verifies the swapped model
			// against the recorded trace and measures degradation.
			cfg := demoConfig()
			x := toy.Input(cfg, int(batch), seed+passes+1)
			qy, err := conv.Forward(x)
			if err != nil {
				return fmt.Errorf("quantized verification pass: %w", err)
			}
			fy, err := floatModel.Forward(nil, x)
			if err != nil {
				return err
			}
			log.Info("quantized model verified",
				"scheme", wScheme.String(),
				"dtype", wDType.String(),
				"max_abs_error", maxAbsDiff(qy.Data, fy.Data))

			if err := nn.SaveFile(out, nn.Save(conv.Model())); err != nil {
				return err
			}
			log.Info("quantized state dict written", "path", out)

			if artifact != "" {
				a, err := obs.Artifact()
				if err != nil {
					return err
				}
				if err := autoquant.SaveArtifact(artifact, a); err != nil {
					return err
				}
				log.Info("artifact written", "path", artifact, "summary", a.Summary())
			}
			return nil
		},
	}
}

func maxAbsDiff(a, b []float32) float32 {
	var max float32
	for i := range a {
		if i >= len(b) {
			break
		}
		d := a[i] - b[i]
		if d < 0 {
			d = -d
		}
		if d > max {
			max = d
		}
	}
	return max
}
