package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/sourcery-ai-experiments/mulsi/internal/direction"
	"github.com/sourcery-ai-experiments/mulsi/internal/eval"
	"github.com/sourcery-ai-experiments/mulsi/internal/policy"
	"github.com/sourcery-ai-experiments/mulsi/internal/store"
)

// CompareResult is the JSON payload for the compare command.
type CompareResult struct {
	Scenario  string  `json:"scenario"`
	Model     string  `json:"model"`
	Inputs    int     `json:"inputs"`
	MeanL2    float64 `json:"mean_l2"`
	MeanKL    float64 `json:"mean_kl"`
	Changed   int     `json:"changed"`
	FlipRate  float64 `json:"flip_rate"`
	TraceHash string  `json:"trace_hash"`
	Expected  bool    `json:"expectation_met"`
}

// NewCompareCommand creates the compare command.
func NewCompareCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		scenarioPath string
		dbPath       string
		policyPath   string
	)

	cmd := &cobra.Command{
		Use:   "compare",
		Short: "Run a scenario and compare steered outputs against baseline",
		Long: `Run a scenario's prompts through the model twice - clean and under the
scenario's steering specs - and report the output divergence.

Directions are resolved from the scenario's direction set in the store, by
direction ID or by layer path. The scenario's expectations, if any, decide
the exit code.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCompare(rootOpts, cmd, scenarioPath, dbPath, policyPath)
		},
	}

	cmd.Flags().StringVar(&scenarioPath, "scenario", "", "scenario YAML (required)")
	cmd.Flags().StringVar(&dbPath, "db", "", "direction store database (required)")
	cmd.Flags().StringVar(&policyPath, "policy", "", "composition policy CUE file (default: built-in policy)")
	cmd.MarkFlagRequired("scenario")
	cmd.MarkFlagRequired("db")

	return cmd
}

func runCompare(opts *RootOptions, cmd *cobra.Command, scenarioPath, dbPath, policyPath string) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	sc, err := eval.LoadScenario(scenarioPath)
	if err != nil {
		return commandError(formatter, err)
	}
	m, err := buildModel(sc.Model)
	if err != nil {
		return commandError(formatter, err)
	}

	pol := policy.Default()
	if policyPath != "" {
		pol, err = policy.Load(policyPath)
		if err != nil {
			return commandError(formatter, err)
		}
	}

	ctx := cmd.Context()
	db, err := store.Open(dbPath)
	if err != nil {
		return commandError(formatter, err)
	}
	defer db.Close()

	set, err := db.LoadSet(ctx, sc.DirectionSet)
	if err != nil {
		return commandError(formatter, err)
	}
	formatter.VerboseLog("Loaded set %q with %d direction(s)", set.Name, len(set.Directions))

	specs, err := sc.ResolveSpecs(directionIndex(set))
	if err != nil {
		return commandError(formatter, err)
	}

	harness := eval.New(eval.WithPolicy(pol), eval.WithScenarioName(sc.Name))
	report, err := harness.Compare(ctx, m, sc.Inputs(), specs)
	if err != nil {
		return commandError(formatter, err)
	}

	traceHash, err := report.TraceHash()
	if err != nil {
		return commandError(formatter, err)
	}

	expectErr := sc.CheckExpectation(report)

	changed := 0
	for _, c := range report.Metrics.Changed {
		if c {
			changed++
		}
	}
	result := CompareResult{
		Scenario:  report.Scenario,
		Model:     report.Model,
		Inputs:    len(report.Baseline),
		MeanL2:    report.Metrics.MeanL2,
		MeanKL:    report.Metrics.MeanKL,
		Changed:   changed,
		FlipRate:  report.Metrics.FlipRate,
		TraceHash: traceHash,
		Expected:  expectErr == nil,
	}

	if formatter.Format == "json" {
		if err := formatter.Success(result); err != nil {
			return err
		}
	} else {
		p := message.NewPrinter(language.English)
		p.Fprintf(formatter.Writer, "Scenario %q on %s: %d input(s)\n", result.Scenario, result.Model, result.Inputs)
		fmt.Fprintf(formatter.Writer, "  mean L2 divergence: %.6f\n", result.MeanL2)
		fmt.Fprintf(formatter.Writer, "  mean KL divergence: %.6f\n", result.MeanKL)
		fmt.Fprintf(formatter.Writer, "  changed inputs:     %d/%d\n", result.Changed, result.Inputs)
		fmt.Fprintf(formatter.Writer, "  label flip rate:    %.3f\n", result.FlipRate)
		fmt.Fprintf(formatter.Writer, "  trace:              %s\n", shortID(result.TraceHash))
	}

	if expectErr != nil {
		_ = formatter.Error(ErrCodeGeneric, expectErr.Error(), nil)
		return WrapExitError(ExitFailure, "scenario expectation not met", expectErr)
	}
	return nil
}

// directionIndex keys a set's directions by both content-addressed ID and
// layer path, so scenario files can use the readable form.
func directionIndex(set *store.Set) map[string]direction.Direction {
	idx := make(map[string]direction.Direction, 2*len(set.Directions))
	for layer, d := range set.Directions {
		idx[layer] = d
		idx[d.ID] = d
	}
	return idx
}
