package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/AlexandreManai/ML-pipeline/pkg/bootstrap"
	cfg_hook "github.com/AlexandreManai/ML-pipeline/pkg/configs/hook"
	"github.com/AlexandreManai/ML-pipeline/pkg/configs/orchestrator"
	"github.com/AlexandreManai/ML-pipeline/pkg/echoutil"
	"github.com/AlexandreManai/ML-pipeline/pkg/executions"
	"github.com/AlexandreManai/ML-pipeline/pkg/logs"
	"github.com/AlexandreManai/ML-pipeline/pkg/loop/recurring"
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
	loglevel := flag.String("loglevel", kos.GetEnvOr("CD4ML_LOGLEVEL", "info"), "log level. debug|info|warn|error|off")
	pschedule := flag.Bool(
		"schedule", false, "also run the pipeline on schedule.policy of the config file",
	)
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
		wctx, cancel, err := filewatch.UntilModifyContext(ctx, *pconfig, *phooks)
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

	e := echo.New()
	e.Pre(middleware.AddTrailingSlash())

	echoutil.SetLevel(e, *loglevel)
	e.HTTPErrorHandler = func(err error, ctx echo.Context) {
		e.DefaultHTTPErrorHandler(err, ctx)
		e.Logger.Error(err)
	}
	e.Use(echoutil.LogHandlerFunc)

	if err := routes(ctx, e, sys.Registry, sys.Executions, conf.Server().TokenSecret()); err != nil {
		logger.Fatalf("api routes are invalid: %s", err)
	}
	logger.Println("registred routes:")
	for _, r := range e.Routes() {
		logger.Println(r.Method, r.Path)
	}

	if *pschedule {
		p := try.To(recurring.ParsePolicy(conf.Schedule().Policy())).OrFatal(logger)
		go func() {
			tally, err := executions.Schedule(ctx, logger, sys.Executions, p, conf.Schedule().Timeout())
			logger.Printf("schedule is over: %s (error: %v)", tally, err)
			if executions.IsFatal(err) {
				cancel()
			}
		}()
	}

	context.AfterFunc(ctx, func() {
		logger.Println("shutting down:", context.Cause(ctx))
		graceful, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := e.Shutdown(graceful); err != nil {
			logger.Printf("error on shutdown: %s", err)
		}
	})

	err := e.Start(fmt.Sprintf(":%d", conf.Server().Port()))
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal(err)
	}
}
