package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/willibrandon/tollgate/internal/agent"
	"github.com/willibrandon/tollgate/internal/logger"
	"github.com/willibrandon/tollgate/internal/traffic"
	"github.com/willibrandon/tollgate/internal/ui"
	"github.com/willibrandon/tollgate/internal/ui/components"
)

// commandTimeout bounds one-shot commands against storage.
const commandTimeout = 30 * time.Second

// withCore opens storage and the engines for a one-shot command.
func withCore(cmd *cobra.Command, fn func(ctx context.Context, core *agent.Core) error) error {
	cfg := mustLoadConfig()
	initLogging(cfg, false)
	defer logger.Close()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	core, err := agent.OpenCore(ctx, cfg)
	if err != nil {
		return err
	}
	defer core.Close()

	return fn(ctx, core)
}

// render writes v as JSON or YAML, or calls table for the table format.
func render(w io.Writer, v any, table func() (string, error)) error {
	format, err := outputFormat()
	if err != nil {
		return err
	}
	if format != ui.FormatTable {
		return ui.Encode(w, format, v)
	}
	out, err := table()
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, out)
	return err
}

// ingestFile is the document accepted by ingest: either a bare list of
// samples or an object with a samples key.
type ingestFile struct {
	Samples []traffic.SampleInput `json:"samples" yaml:"samples"`
}

// decodeSamples parses JSON or YAML sample documents.
func decodeSamples(data []byte) ([]traffic.SampleInput, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("no samples in input")
	}

	var (
		list []traffic.SampleInput
		doc  ingestFile
	)
	switch trimmed[0] {
	case '[':
		if err := json.Unmarshal(trimmed, &list); err != nil {
			return nil, fmt.Errorf("invalid JSON samples: %w", err)
		}
		return list, nil
	case '{':
		if err := json.Unmarshal(trimmed, &doc); err != nil {
			return nil, fmt.Errorf("invalid JSON samples: %w", err)
		}
		return doc.Samples, nil
	}

	if err := yaml.Unmarshal(trimmed, &list); err == nil {
		return list, nil
	}
	if err := yaml.Unmarshal(trimmed, &doc); err != nil {
		return nil, fmt.Errorf("invalid YAML samples: %w", err)
	}
	return doc.Samples, nil
}

func newIngestCmd() *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Ingest traffic samples from a JSON or YAML file",
		Long: `Ingest traffic samples. The batch is validated as a whole: one invalid
sample rejects every sample in the file. Use -f - to read from stdin.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				data []byte
				err  error
			)
			if file == "-" {
				data, err = io.ReadAll(cmd.InOrStdin())
			} else {
				data, err = os.ReadFile(file)
			}
			if err != nil {
				return fmt.Errorf("failed to read samples: %w", err)
			}

			inputs, err := decodeSamples(data)
			if err != nil {
				return err
			}
			if len(inputs) == 0 {
				return fmt.Errorf("no samples in input")
			}
			samples, err := traffic.ParseBatch(inputs)
			if err != nil {
				return err
			}

			return withCore(cmd, func(ctx context.Context, core *agent.Core) error {
				if err := core.Stores.Samples.UpsertSamples(ctx, samples); err != nil {
					return err
				}
				result := struct {
					Accepted int `json:"accepted" yaml:"accepted"`
				}{len(samples)}
				return render(cmd.OutOrStdout(), result, func() (string, error) {
					return fmt.Sprintf("ingested %d samples", len(samples)), nil
				})
			})
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "samples file (JSON or YAML), - for stdin")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func newEvaluateCmd() *cobra.Command {
	var asOf string

	cmd := &cobra.Command{
		Use:   "evaluate",
		Short: "Run one evaluation cycle over all managed services",
		RunE: func(cmd *cobra.Command, args []string) error {
			at := time.Now().UTC()
			if asOf != "" {
				t, err := time.Parse(time.RFC3339, asOf)
				if err != nil {
					return fmt.Errorf("--as-of must be RFC3339: %w", err)
				}
				at = t.UTC()
			}

			return withCore(cmd, func(ctx context.Context, core *agent.Core) error {
				report, err := core.Evaluator.EvaluateAt(ctx, at)
				if err != nil && report.Failed == 0 {
					return err
				}
				if rerr := render(cmd.OutOrStdout(), report, func() (string, error) {
					return components.CycleReportTable(report)
				}); rerr != nil {
					return rerr
				}
				if err != nil {
					return fmt.Errorf("evaluation failed for %d service(s): %w", report.Failed, err)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&asOf, "as-of", "", "evaluate as of this RFC3339 instant (default now)")
	return cmd
}
