package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/sourcery-ai-experiments/mulsi/internal/capture"
	"github.com/sourcery-ai-experiments/mulsi/internal/direction"
	"github.com/sourcery-ai-experiments/mulsi/internal/store"
)

// EstimateResult is the JSON payload for the estimate command.
type EstimateResult struct {
	Set        string             `json:"set"`
	Model      string             `json:"model"`
	Pairs      int                `json:"pairs"`
	Directions []DirectionSummary `json:"directions"`
}

// DirectionSummary is one estimated direction without its vector.
type DirectionSummary struct {
	Layer      string `json:"layer"`
	ID         string `json:"id"`
	Method     string `json:"method"`
	Pooling    string `json:"pooling"`
	PairCount  int    `json:"pair_count"`
	Confidence string `json:"confidence"`
	Dim        int    `json:"dim"`
}

// NewEstimateCommand creates the estimate command.
func NewEstimateCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		pairsPath string
		dbPath    string
		setName   string
		method    string
		pooling   string
	)

	cmd := &cobra.Command{
		Use:   "estimate",
		Short: "Estimate steering directions from contrastive pairs",
		Long: `Estimate steering directions from a contrastive pairs manifest.

Runs both framings of every pair through the model, captures activations at
the requested layers, estimates one direction per layer, and saves the
result as a named set in the direction store.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEstimate(rootOpts, cmd, pairsPath, dbPath, setName, method, pooling)
		},
	}

	cmd.Flags().StringVar(&pairsPath, "pairs", "", "pairs manifest YAML (required)")
	cmd.Flags().StringVar(&dbPath, "db", "", "direction store database (required)")
	cmd.Flags().StringVar(&setName, "set", "", "name for the stored direction set (required)")
	cmd.Flags().StringVar(&method, "method", string(direction.MeanDifference), "estimation method (mean-difference|principal-direction)")
	cmd.Flags().StringVar(&pooling, "pooling", string(direction.PoolMean), "token pooling (mean|last-token)")
	cmd.MarkFlagRequired("pairs")
	cmd.MarkFlagRequired("db")
	cmd.MarkFlagRequired("set")

	return cmd
}

func runEstimate(opts *RootOptions, cmd *cobra.Command, pairsPath, dbPath, setName, method, pooling string) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	manifest, err := LoadPairsManifest(pairsPath)
	if err != nil {
		return commandError(formatter, err)
	}
	m, err := buildModel(manifest.Model)
	if err != nil {
		return commandError(formatter, err)
	}
	formatter.VerboseLog("Loaded %d pair(s) targeting %d layer(s)", len(manifest.Pairs), len(manifest.Layers))

	ctx := cmd.Context()
	posIn, negIn := manifest.Batches()

	capturer := capture.New()
	pos, err := capturer.Capture(ctx, m, posIn, manifest.Layers)
	if err != nil {
		return commandError(formatter, err)
	}
	neg, err := capturer.Capture(ctx, m, negIn, manifest.Layers)
	if err != nil {
		return commandError(formatter, err)
	}

	pairs, err := direction.PairsFromResults(pos, neg)
	if err != nil {
		return commandError(formatter, err)
	}
	dirs, err := direction.Estimate(pairs, direction.Params{
		Method:  direction.Method(method),
		Pooling: direction.Pooling(pooling),
	})
	if err != nil {
		return commandError(formatter, err)
	}

	db, err := store.Open(dbPath)
	if err != nil {
		return commandError(formatter, err)
	}
	defer db.Close()

	if err := db.SaveSet(ctx, setName, m.Name(), dirs); err != nil {
		return commandError(formatter, err)
	}

	result := EstimateResult{
		Set:   setName,
		Model: m.Name(),
		Pairs: len(pairs),
	}
	for _, layer := range manifest.Layers {
		d := dirs[layer]
		result.Directions = append(result.Directions, DirectionSummary{
			Layer:      d.Layer,
			ID:         d.ID,
			Method:     string(d.Method),
			Pooling:    string(d.Pooling),
			PairCount:  d.PairCount,
			Confidence: string(d.Confidence),
			Dim:        len(d.Vector),
		})
	}

	if formatter.Format == "json" {
		return formatter.Success(result)
	}

	p := message.NewPrinter(language.English)
	p.Fprintf(formatter.Writer, "Estimated %d direction(s) from %d pair(s), saved as set %q\n",
		len(result.Directions), result.Pairs, setName)
	for _, d := range result.Directions {
		fmt.Fprintf(formatter.Writer, "  %s  id=%s confidence=%s dim=%d\n",
			d.Layer, shortID(d.ID), d.Confidence, d.Dim)
	}
	return nil
}

// shortID abbreviates a content-addressed ID for text output.
func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
