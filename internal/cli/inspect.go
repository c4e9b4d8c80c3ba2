package cli

import (
	"fmt"
	"slices"

	"github.com/spf13/cobra"

	"github.com/sourcery-ai-experiments/mulsi/internal/store"
)

// InspectResult is the JSON payload for the inspect command.
type InspectResult struct {
	Sets       []SetSummary       `json:"sets,omitempty"`
	Set        string             `json:"set,omitempty"`
	Model      string             `json:"model,omitempty"`
	CreatedAt  string             `json:"created_at,omitempty"`
	Directions []DirectionSummary `json:"directions,omitempty"`
}

// SetSummary is one stored set in a listing.
type SetSummary struct {
	Name       string `json:"name"`
	Model      string `json:"model"`
	CreatedAt  string `json:"created_at"`
	Directions int    `json:"directions"`
}

// NewInspectCommand creates the inspect command.
func NewInspectCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		dbPath  string
		setName string
	)

	cmd := &cobra.Command{
		Use:           "inspect",
		Short:         "List stored direction sets, or show one set in detail",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInspect(rootOpts, cmd, dbPath, setName)
		},
	}

	cmd.Flags().StringVar(&dbPath, "db", "", "direction store database (required)")
	cmd.Flags().StringVar(&setName, "set", "", "show this set's directions instead of listing sets")
	cmd.MarkFlagRequired("db")

	return cmd
}

func runInspect(opts *RootOptions, cmd *cobra.Command, dbPath, setName string) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	db, err := store.Open(dbPath)
	if err != nil {
		return commandError(formatter, err)
	}
	defer db.Close()

	ctx := cmd.Context()
	if setName == "" {
		infos, err := db.ListSets(ctx)
		if err != nil {
			return commandError(formatter, err)
		}

		result := InspectResult{}
		for _, info := range infos {
			result.Sets = append(result.Sets, SetSummary{
				Name:       info.Name,
				Model:      info.Model,
				CreatedAt:  info.CreatedAt,
				Directions: info.Directions,
			})
		}
		if formatter.Format == "json" {
			return formatter.Success(result)
		}

		if len(result.Sets) == 0 {
			fmt.Fprintln(formatter.Writer, "No direction sets stored")
			return nil
		}
		for _, s := range result.Sets {
			fmt.Fprintf(formatter.Writer, "%s  model=%s directions=%d created=%s\n",
				s.Name, s.Model, s.Directions, s.CreatedAt)
		}
		return nil
	}

	set, err := db.LoadSet(ctx, setName)
	if err != nil {
		return commandError(formatter, err)
	}

	result := InspectResult{
		Set:       set.Name,
		Model:     set.Model,
		CreatedAt: set.CreatedAt,
	}
	for _, layer := range sortedLayers(set) {
		d := set.Directions[layer]
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

	fmt.Fprintf(formatter.Writer, "Set %q  model=%s created=%s\n", set.Name, set.Model, set.CreatedAt)
	for _, d := range result.Directions {
		fmt.Fprintf(formatter.Writer, "  %s  id=%s method=%s pairs=%d confidence=%s dim=%d\n",
			d.Layer, shortID(d.ID), d.Method, d.PairCount, d.Confidence, d.Dim)
	}
	return nil
}

func sortedLayers(set *store.Set) []string {
	layers := make([]string, 0, len(set.Directions))
	for layer := range set.Directions {
		layers = append(layers, layer)
	}
	slices.Sort(layers)
	return layers
}
