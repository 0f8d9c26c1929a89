package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/weihaoqu/pa-bootcamp-web-sub001/internal/observability"
	"github.com/weihaoqu/pa-bootcamp-web-sub001/internal/reporting"
	"github.com/weihaoqu/pa-bootcamp-web-sub001/internal/taint"
	"github.com/weihaoqu/pa-bootcamp-web-sub001/pkg/explorer"
)

// sourceFlags selects where a program comes from: --expr, --file, or a positional file.
type sourceFlags struct {
	file string
	expr string
}

func (f *sourceFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.file, "file", "f", "", "program file to trace (- reads stdin)")
	cmd.Flags().StringVarP(&f.expr, "expr", "e", "", "program text given inline")
}

func (f *sourceFlags) read(cmd *cobra.Command, args []string) (string, error) {
	file := f.file
	if len(args) > 0 {
		if file != "" {
			return "", errors.New("give the program as an argument or with --file, not both")
		}
		file = args[0]
	}
	switch {
	case f.expr != "" && file != "":
		return "", errors.New("--expr cannot be combined with a program file")
	case f.expr != "":
		return f.expr, nil
	case file == "-":
		data, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return "", fmt.Errorf("failed to read program from stdin: %w", err)
		}
		return string(data), nil
	case file != "":
		data, err := os.ReadFile(file)
		if err != nil {
			return "", fmt.Errorf("failed to read program: %w", err)
		}
		return string(data), nil
	default:
		return "", errors.New("no program given; use --expr, --file or a file argument")
	}
}

// outputFlags select the report format and destination.
type outputFlags struct {
	format string
	output string
}

func (f *outputFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.format, "format", "text", "output format (text, json, sarif)")
	cmd.Flags().StringVarP(&f.output, "output", "o", "", "output file (default stdout)")
}

// render writes traces with the selected reporter.
func (f *outputFlags) render(cmd *cobra.Command, traces ...*explorer.Trace) error {
	reporter, err := reporting.New(f.format, f.output, cmd.OutOrStdout(), observability.GetLogger(), Version)
	if err != nil {
		return err
	}
	for _, t := range traces {
		if err := reporter.Write(t); err != nil {
			reporter.Close()
			return err
		}
	}
	return reporter.Close()
}

// engineFlags override the engine section of the configuration for one run.
type engineFlags struct {
	maxSteps   int
	widenAfter int
	rulesFile  string
}

func (f *engineFlags) register(cmd *cobra.Command, withRules bool) {
	cmd.Flags().IntVar(&f.maxSteps, "max-steps", 0, "step ceiling before a build is abandoned (overrides engine.max_steps)")
	cmd.Flags().IntVar(&f.widenAfter, "widen-after", 0, "loop visits before widening (overrides engine.widen_after)")
	if withRules {
		cmd.Flags().StringVar(&f.rulesFile, "rules", "", "taint rules file (overrides taint.rules_file)")
	}
}

// newExplorer applies changed flags to the loaded configuration and builds an explorer from it.
func (c *cli) newExplorer(cmd *cobra.Command, f *engineFlags) (*explorer.Explorer, error) {
	if f != nil {
		if cmd.Flags().Changed("max-steps") {
			c.cfg.SetEngineMaxSteps(f.maxSteps)
		}
		if cmd.Flags().Changed("widen-after") {
			c.cfg.SetEngineWidenAfter(f.widenAfter)
		}
		if cmd.Flags().Changed("rules") {
			c.cfg.SetTaintRulesFile(f.rulesFile)
		}
		if err := c.cfg.Validate(); err != nil {
			return nil, err
		}
	}

	logger := observability.GetLogger()
	engine := c.cfg.Engine()
	opts := []explorer.Option{
		explorer.WithLogger(logger),
		explorer.WithMaxSteps(engine.MaxSteps),
		explorer.WithWidenAfter(engine.WidenAfter),
	}
	if path := c.cfg.Taint().RulesFile; path != "" {
		rules, err := taint.LoadRulesFile(path, c.cfg.Taint().ReplaceDefaults)
		if err != nil {
			return nil, err
		}
		logger.Debug("Loaded taint rules.", zap.String("path", path),
			zap.Int("sources", len(rules.Sources)), zap.Int("sinks", len(rules.Sinks)))
		opts = append(opts, explorer.WithRules(rules))
	}
	return explorer.New(opts...)
}

// buildContext bounds a single build by engine.build_timeout.
func (c *cli) buildContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if d := c.cfg.Engine().BuildTimeout; d > 0 {
		return context.WithTimeout(ctx, d)
	}
	return context.WithCancel(ctx)
}
