package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	"vrpdicho/internal/cluster"
	"vrpdicho/internal/config"
	"vrpdicho/internal/dicho"
	"vrpdicho/internal/model"
	"vrpdicho/internal/opt"
)

type solveFlags struct {
	config     string
	out        string
	budget     time.Duration
	iterations int
	seed       int64
	verbose    bool
}

func newSolveCmd() *cobra.Command {
	var f solveFlags
	cmd := &cobra.Command{
		Use:   "solve <instance.json|->",
		Short: "Solve an instance file and print the result as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()
			return runSolve(ctx, cmd, args[0], f)
		},
	}
	cmd.Flags().StringVarP(&f.config, "config", "c", "", "yaml config file (dicho section and solve_budget)")
	cmd.Flags().StringVarP(&f.out, "out", "o", "", "write the result to this file instead of stdout")
	cmd.Flags().DurationVar(&f.budget, "budget", 0, "solver time budget when the instance sets none")
	cmd.Flags().IntVar(&f.iterations, "iterations", 0, "cap solver iterations per call (0 = time budget only)")
	cmd.Flags().Int64Var(&f.seed, "seed", 0, "random seed (0 = time based)")
	cmd.Flags().BoolVarP(&f.verbose, "verbose", "v", false, "log progress to stderr")
	return cmd
}

func runSolve(ctx context.Context, cmd *cobra.Command, path string, f solveFlags) error {
	cfg, err := config.Load(f.config)
	if err != nil {
		return err
	}
	inst, err := readInstance(cmd.InOrStdin(), path)
	if err != nil {
		return err
	}

	stats := opt.NewMetricsStore()
	solver := opt.NewSolver(stats)
	solver.DefaultBudget = cfg.SolveBudget
	if f.budget > 0 {
		solver.DefaultBudget = f.budget
	}
	solver.MaxIterations = f.iterations
	solver.Seed = f.seed
	opts := cfg.Dicho
	if f.seed != 0 {
		opts.Seed = f.seed
	}
	if !f.verbose {
		log.SetOutput(io.Discard)
		defer log.SetOutput(os.Stderr)
	}

	job := &model.Job{ID: "cli"}
	if f.verbose {
		job.OnProgress = func(p model.Progress) {
			if p.Stage == "opt.iteration" {
				return
			}
			log.Printf("[dicho] %s level=%d services=%d unassigned=%d", p.Stage, p.Level, p.Services, p.Unassigned)
		}
	}
	started := time.Now()
	res, err := dicho.New(solver, cluster.NewKMeans(), opts).Run(ctx, inst, job)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "%d services: %d routed on %d routes, %d unassigned, %d solver calls in %v\n",
		len(inst.Problem.Services), len(res.RoutedServiceIDs()), len(res.Routes), len(res.Unassigned),
		len(stats.Get(job.ID)), time.Since(started).Round(time.Millisecond))

	w := cmd.OutOrStdout()
	if f.out != "" {
		file, err := os.Create(f.out)
		if err != nil {
			return err
		}
		defer file.Close()
		w = file
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(res)
}

func readInstance(stdin io.Reader, path string) (*model.Instance, error) {
	var r io.Reader = stdin
	if path != "-" {
		file, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer file.Close()
		r = file
	}
	var inst model.Instance
	if err := json.NewDecoder(r).Decode(&inst); err != nil {
		return nil, fmt.Errorf("invalid instance %s: %w", path, err)
	}
	if inst.Problem == nil {
		return nil, fmt.Errorf("instance %s has no problem", path)
	}
	return &inst, nil
}

func newCandidateCmd() *cobra.Command {
	var cfgPath string
	cmd := &cobra.Command{
		Use:   "candidate <instance.json|->",
		Short: "Report whether an instance would be decomposed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return err
			}
			inst, err := readInstance(cmd.InOrStdin(), args[0])
			if err != nil {
				return err
			}
			ok := dicho.Candidate(inst, cfg.Dicho)
			fmt.Fprintf(cmd.OutOrStdout(), "candidate=%t services=%d vehicles=%d\n", ok, len(inst.Problem.Services), len(inst.Problem.Vehicles))
			return nil
		},
	}
	cmd.Flags().StringVarP(&cfgPath, "config", "c", "", "yaml config file")
	return cmd
}
