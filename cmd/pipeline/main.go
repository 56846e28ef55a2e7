package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/AlexandreManai/ML-pipeline/pkg/bootstrap"
	cfg_hook "github.com/AlexandreManai/ML-pipeline/pkg/configs/hook"
	"github.com/AlexandreManai/ML-pipeline/pkg/configs/orchestrator"
	"github.com/AlexandreManai/ML-pipeline/pkg/executions"
	"github.com/AlexandreManai/ML-pipeline/pkg/logs"
	"github.com/AlexandreManai/ML-pipeline/pkg/loop/recurring"
	"github.com/AlexandreManai/ML-pipeline/pkg/utils/args"
	"github.com/AlexandreManai/ML-pipeline/pkg/utils/filewatch"
	kos "github.com/AlexandreManai/ML-pipeline/pkg/utils/os"
	kpath "github.com/AlexandreManai/ML-pipeline/pkg/utils/path"
	"github.com/AlexandreManai/ML-pipeline/pkg/utils/try"
)

func main() {
	logger := logs.ByLogger(log.Default(), logs.Copied(), logs.WithTimestamp())
	ctx, cancel := signal.NotifyContext(
		context.Background(), os.Interrupt, syscall.SIGTERM,
	)
	defer cancel()

	pconfig := flag.String(
		"config", kos.GetEnvOr("CD4ML_CONFIG", "orchestrator.yaml"), "path to orchestrator config file",
	)
	phooks := flag.String(
		"hooks", kos.GetEnvOr("CD4ML_HOOKS", ""), "path to hook config file",
	)
	pkubeconfig := flag.String(
		"kubeconfig", "", "(optional) path to kubeconfig file, for lock kind kubernetes",
	)
	policy := args.Parser(recurring.ParsePolicy)
	flag.Var(
		policy, "policy",
		`loop policy (syntax: forever[:INTERVAL]|once).`+
			` "forever[:INTERVAL]" = run the pipeline every INTERVAL until a registry failure.`+
			` "once" = run the pipeline one time.`+
			` default: schedule.policy of the config file.`,
	)
	pdot := flag.Bool("dot", false, "print the pipeline graph in DOT language, and exit")
	flag.Parse()

	*pconfig = try.To(kpath.Resolve(*pconfig)).OrFatal(logger)
	if *phooks != "" {
		*phooks = try.To(kpath.Resolve(*phooks)).OrFatal(logger)
	}

	conf := try.To(orchestrator.LoadOrchestratorConfig(*pconfig)).OrFatal(logger)

	hooks := cfg_hook.Config{}
	if hookPath := *phooks; hookPath != "" {
		hooks = try.To(cfg_hook.Load(hookPath)).OrFatal(logger)
	}

	{
		// watch config & hooks
		wctx, cancel, err := filewatch.UntilModifyContext(ctx, *pconfig, conf.PipelineConfig(), *phooks)
		if err != nil {
			logger.Fatal(err)
		}
		defer cancel()
		ctx = wctx
	}

	sys := try.To(bootstrap.New(ctx, conf, bootstrap.Options{
		Hooks:      hooks,
		Logger:     logger,
		Kubeconfig: *pkubeconfig,
	})).OrFatal(logger)
	defer sys.Close()

	if *pdot {
		if err := sys.Pipeline.DOT(os.Stdout); err != nil {
			logger.Fatal(err)
		}
		return
	}

	p := policy.Value()
	if !policy.IsSet() {
		p = try.To(recurring.ParsePolicy(conf.Schedule().Policy())).OrFatal(logger)
	}
	logger.Printf(`start pipeline schedule /w policy "%s"`, p)

	tally, err := executions.Schedule(ctx, logger, sys.Executions, p, conf.Schedule().Timeout())
	logger.Printf("schedule is over: %s", tally)

	if err == nil {
		return
	} else if errors.Is(err, context.Canceled) {
		// restart by config updates, or shutdown.
		logger.Fatal(err, " (schedule context is cancelled by: ", context.Cause(ctx), ")")
	}
	logger.Fatal(err)
}
