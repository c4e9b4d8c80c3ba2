package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sourcery-ai-experiments/mulsi/internal/eval"
	"github.com/sourcery-ai-experiments/mulsi/internal/policy"
)

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid  bool     `json:"valid"`
	Checks []string `json:"checks,omitempty"`
	Errors []string `json:"errors,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		policyPath   string
		scenarioPath string
	)

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate policy and scenario files without running anything",
		Long: `Validate a composition policy CUE file and/or a scenario YAML file.

Checks syntax, field names (typos fail loudly), and value constraints.
Faster than a full compare for authoring feedback.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, cmd, policyPath, scenarioPath)
		},
	}

	cmd.Flags().StringVar(&policyPath, "policy", "", "composition policy CUE file")
	cmd.Flags().StringVar(&scenarioPath, "scenario", "", "scenario YAML file")

	return cmd
}

func runValidate(opts *RootOptions, cmd *cobra.Command, policyPath, scenarioPath string) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	if policyPath == "" && scenarioPath == "" {
		return commandError(formatter, fmt.Errorf("nothing to validate: pass --policy and/or --scenario"))
	}

	result := ValidationResult{Valid: true}

	if policyPath != "" {
		formatter.VerboseLog("Validating policy: %s", policyPath)
		if _, err := policy.Load(policyPath); err != nil {
			result.Valid = false
			result.Errors = append(result.Errors, fmt.Sprintf("policy: %v", err))
		} else {
			result.Checks = append(result.Checks, fmt.Sprintf("policy %s", policyPath))
		}
	}

	if scenarioPath != "" {
		formatter.VerboseLog("Validating scenario: %s", scenarioPath)
		if _, err := eval.LoadScenario(scenarioPath); err != nil {
			result.Valid = false
			result.Errors = append(result.Errors, fmt.Sprintf("scenario: %v", err))
		} else {
			result.Checks = append(result.Checks, fmt.Sprintf("scenario %s", scenarioPath))
		}
	}

	if formatter.Format == "json" {
		if err := formatter.Success(result); err != nil {
			return err
		}
	} else if result.Valid {
		for _, check := range result.Checks {
			fmt.Fprintf(formatter.Writer, "✓ %s\n", check)
		}
	} else {
		fmt.Fprintln(formatter.Writer, "✗ Validation failed")
		for _, msg := range result.Errors {
			fmt.Fprintf(formatter.Writer, "  %s\n", msg)
		}
	}

	if !result.Valid {
		return NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(result.Errors)))
	}
	return nil
}
