package main

import (
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/hupe1980/adadisk/agent"
	"github.com/hupe1980/adadisk/config"
)

// pipelineFlags override the generation and search parameters of a run.
type pipelineFlags struct {
	points    int
	dimension int
	k         int
	searchL   int
	beamWidth int
	query     string
}

func (p *pipelineFlags) register(cmd *cobra.Command, search bool) {
	fl := cmd.Flags()
	fl.IntVarP(&p.points, "points", "n", 0, "number of points to generate")
	fl.IntVarP(&p.dimension, "dimension", "d", 0, "vector dimension")
	if search {
		fl.IntVar(&p.k, "k", 0, "number of neighbors to return")
		fl.IntVar(&p.searchL, "search-l", 0, "search list size")
		fl.IntVarP(&p.beamWidth, "beam-width", "w", 0, "beam width")
		fl.StringVarP(&p.query, "query", "q", "", "comma-separated query vector (default: all 0.5)")
	}
}

func (p *pipelineFlags) apply(cmd *cobra.Command, cfg *config.Config) error {
	fl := cmd.Flags()
	if fl.Changed("points") {
		cfg.Generate.Points = p.points
	}
	if fl.Changed("dimension") {
		cfg.Generate.Dimension = p.dimension
	}
	if fl.Changed("k") {
		cfg.Search.K = p.k
	}
	if fl.Changed("search-l") {
		cfg.Search.L = p.searchL
	}
	if fl.Changed("beam-width") {
		cfg.Search.BeamWidth = p.beamWidth
	}
	return cfg.Normalize()
}

func (p *pipelineFlags) queryVector() ([]float32, error) {
	if p.query == "" {
		return nil, nil
	}
	fields := strings.Split(p.query, ",")
	q := make([]float32, len(fields))
	for i, f := range fields {
		v, err := strconv.ParseFloat(strings.TrimSpace(f), 32)
		if err != nil {
			return nil, fmt.Errorf("invalid query component %d: %w", i, err)
		}
		q[i] = float32(v)
	}
	return q, nil
}

// runPipeline loads the configuration, builds the requested agents and runs them.
func runPipeline(cmd *cobra.Command, rf *rootFlags, pf *pipelineFlags, producer, consumer bool) error {
	cfg, err := rf.load(cmd)
	if err != nil {
		return err
	}
	if err := pf.apply(cmd, cfg); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, cmd.ErrOrStderr(), !rf.noProgress)
	if err != nil {
		return err
	}
	defer a.Close()

	var agents []*agent.Agent
	if producer {
		ag, err := a.newAgent(agent.ProducerSpec(cfg), cmd.ErrOrStderr())
		if err != nil {
			return err
		}
		agents = append(agents, ag)
	}
	if consumer {
		spec := agent.ConsumerSpec(cfg)
		if spec.Query, err = pf.queryVector(); err != nil {
			return err
		}
		ag, err := a.newAgent(spec, cmd.ErrOrStderr())
		if err != nil {
			return err
		}
		agents = append(agents, ag)
	}

	return a.run(ctx, cmd.OutOrStdout(), agents...)
}

func newIngestCmd(rf *rootFlags) *cobra.Command {
	pf := &pipelineFlags{}
	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Regenerate the dataset and rebuild the index",
		Long: `Run the ingest role: always write a fresh dataset and rebuild its index,
then publish both to the mirror if one is configured.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runPipeline(cmd, rf, pf, true, false)
		},
	}
	pf.register(cmd, false)
	return cmd
}

func newQueryCmd(rf *rootFlags) *cobra.Command {
	pf := &pipelineFlags{}
	cmd := &cobra.Command{
		Use:   "query",
		Short: "Prepare missing artifacts and search the index",
		Long: `Run the query role: reuse the dataset and index when present, restore them
from the mirror or build them when missing, then load the index and return
the k nearest neighbors of the query vector.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runPipeline(cmd, rf, pf, false, true)
		},
	}
	pf.register(cmd, true)
	return cmd
}

func newRunCmd(rf *rootFlags) *cobra.Command {
	pf := &pipelineFlags{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run ingest and query concurrently",
		Long: `Run both roles concurrently. A failing role does not stop the other;
the command exits non-zero if either failed.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runPipeline(cmd, rf, pf, true, true)
		},
	}
	pf.register(cmd, true)
	return cmd
}
