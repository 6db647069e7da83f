package main

import (
	"context"
	"os"
	"time"

	"github.com/m-mizutani/agenteval"
	"github.com/m-mizutani/agenteval/llm/openai"
	"github.com/m-mizutani/agenteval/tools/sales"
	"github.com/m-mizutani/ctxlog"
	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"
)

const (
	scorerKeyword = "keyword"
	scorerOpenAI  = "openai"
)

// agentConfig is the YAML file layout. Flags given on the command line win.
type agentConfig struct {
	MaxSteps      int           `yaml:"max_steps"`
	Threshold     *float64      `yaml:"threshold"`
	ToolTimeout   time.Duration `yaml:"tool_timeout"`
	StrictRouting bool          `yaml:"strict_routing"`
	Scorer        string        `yaml:"scorer"`
	OpenAI        openaiConfig  `yaml:"openai"`
}

type openaiConfig struct {
	Model   string `yaml:"model"`
	BaseURL string `yaml:"base_url"`
}

func loadConfig(path string) (*agentConfig, error) {
	cfg := &agentConfig{}
	if path == "" {
		return cfg, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to read config file", goerr.V("path", path))
	}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, goerr.Wrap(err, "failed to parse config file", goerr.V("path", path))
	}
	return cfg, nil
}

func agentFlags() []cli.Flag {
	return []cli.Flag{
		&cli.IntFlag{
			Name:    "max-steps",
			Sources: cli.EnvVars("AGENTEVAL_MAX_STEPS"),
			Usage:   "Maximum tool invocations per run",
		},
		&cli.FloatFlag{
			Name:    "threshold",
			Sources: cli.EnvVars("AGENTEVAL_THRESHOLD"),
			Usage:   "Minimum score for a tool to be chosen",
		},
		&cli.DurationFlag{
			Name:    "tool-timeout",
			Sources: cli.EnvVars("AGENTEVAL_TOOL_TIMEOUT"),
			Usage:   "Per tool execution timeout",
		},
		&cli.BoolFlag{
			Name:    "strict-routing",
			Sources: cli.EnvVars("AGENTEVAL_STRICT_ROUTING"),
			Usage:   "Fail the run when routing fails",
		},
		&cli.StringFlag{
			Name:    "scorer",
			Sources: cli.EnvVars("AGENTEVAL_SCORER"),
			Usage:   "Routing scorer (keyword, openai)",
		},
		&cli.StringFlag{
			Name:    "openai-api-key",
			Sources: cli.EnvVars("AGENTEVAL_OPENAI_API_KEY", "OPENAI_API_KEY"),
			Usage:   "OpenAI API key for the openai scorer",
		},
		&cli.StringFlag{
			Name:    "openai-model",
			Sources: cli.EnvVars("AGENTEVAL_OPENAI_MODEL"),
			Usage:   "OpenAI model for the openai scorer",
		},
	}
}

// resolveConfig merges the config file with flags that were set.
func resolveConfig(cmd *cli.Command) (*agentConfig, error) {
	cfg, err := loadConfig(cmd.String("config"))
	if err != nil {
		return nil, err
	}
	if cmd.IsSet("max-steps") {
		cfg.MaxSteps = int(cmd.Int("max-steps"))
	}
	if cmd.IsSet("threshold") {
		v := cmd.Float("threshold")
		cfg.Threshold = &v
	}
	if cmd.IsSet("tool-timeout") {
		cfg.ToolTimeout = cmd.Duration("tool-timeout")
	}
	if cmd.IsSet("strict-routing") {
		cfg.StrictRouting = cmd.Bool("strict-routing")
	}
	if cmd.IsSet("scorer") {
		cfg.Scorer = cmd.String("scorer")
	}
	if cmd.IsSet("openai-model") {
		cfg.OpenAI.Model = cmd.String("openai-model")
	}
	if cfg.Scorer == "" {
		cfg.Scorer = scorerKeyword
	}
	return cfg, nil
}

func (x *agentConfig) scorer(apiKey string) (agenteval.Scorer, error) {
	switch x.Scorer {
	case scorerKeyword:
		return sales.NewScorer(), nil
	case scorerOpenAI:
		var opts []openai.Option
		if x.OpenAI.Model != "" {
			opts = append(opts, openai.WithModel(x.OpenAI.Model))
		}
		if x.OpenAI.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(x.OpenAI.BaseURL))
		}
		return openai.New(apiKey, opts...)
	default:
		return nil, goerr.New("unknown scorer", goerr.V("scorer", x.Scorer))
	}
}

// options turns the config into agent options.
func (x *agentConfig) options(ctx context.Context, apiKey string) ([]agenteval.Option, error) {
	scorer, err := x.scorer(apiKey)
	if err != nil {
		return nil, err
	}

	opts := []agenteval.Option{
		agenteval.WithScorer(scorer),
		agenteval.WithLogger(ctxlog.From(ctx)),
	}
	if x.MaxSteps > 0 {
		opts = append(opts, agenteval.WithMaxSteps(x.MaxSteps))
	}
	if x.Threshold != nil {
		opts = append(opts, agenteval.WithThreshold(*x.Threshold))
	}
	if x.ToolTimeout > 0 {
		opts = append(opts, agenteval.WithToolTimeout(x.ToolTimeout))
	}
	if x.StrictRouting {
		opts = append(opts, agenteval.WithStrictRouting())
	}
	return opts, nil
}

// newAgent builds an agent over the sales tools.
func newAgent(ctx context.Context, cmd *cli.Command, extra ...agenteval.Option) (*agenteval.Agent, error) {
	cfg, err := resolveConfig(cmd)
	if err != nil {
		return nil, err
	}
	opts, err := cfg.options(ctx, cmd.String("openai-api-key"))
	if err != nil {
		return nil, err
	}

	reg, err := sales.NewRegistry(nil)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to build tool registry")
	}
	return agenteval.New(reg, append(opts, extra...)...), nil
}
