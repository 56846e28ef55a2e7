// Package bootstrap builds the pipeline and its collaborators from configuration.
package bootstrap

import (
	"context"
	"fmt"
	"log"
	"os"

	"k8s.io/client-go/kubernetes"

	cfg_hook "github.com/AlexandreManai/ML-pipeline/pkg/configs/hook"
	"github.com/AlexandreManai/ML-pipeline/pkg/configs/orchestrator"
	kpool "github.com/AlexandreManai/ML-pipeline/pkg/conn/db/postgres/pool"
	"github.com/AlexandreManai/ML-pipeline/pkg/domain"
	"github.com/AlexandreManai/ML-pipeline/pkg/domain/registry"
	"github.com/AlexandreManai/ML-pipeline/pkg/domain/registry/artifacts"
	regpg "github.com/AlexandreManai/ML-pipeline/pkg/domain/registry/db/postgres"
	"github.com/AlexandreManai/ML-pipeline/pkg/domain/registry/memory"
	"github.com/AlexandreManai/ML-pipeline/pkg/domain/registry/mlflow"
	xe "github.com/AlexandreManai/ML-pipeline/pkg/errors"
	"github.com/AlexandreManai/ML-pipeline/pkg/executions"
	"github.com/AlexandreManai/ML-pipeline/pkg/hook"
	"github.com/AlexandreManai/ML-pipeline/pkg/kubeutil"
	"github.com/AlexandreManai/ML-pipeline/pkg/logs"
	"github.com/AlexandreManai/ML-pipeline/pkg/pipeline"
	"github.com/AlexandreManai/ML-pipeline/pkg/promotion"
	"github.com/AlexandreManai/ML-pipeline/pkg/runlock"
	"github.com/AlexandreManai/ML-pipeline/pkg/stages"
	kstrings "github.com/AlexandreManai/ML-pipeline/pkg/utils/strings"
	"github.com/AlexandreManai/ML-pipeline/pkg/vcs"
)

type Options struct {
	Hooks  cfg_hook.Config
	Logger *log.Logger

	// KubeClient is used for the kubernetes lock.
	// When nil, it connects with Kubeconfig (or the default search).
	KubeClient kubernetes.Interface
	Kubeconfig string

	// Holder identifies this process in a Lease. "<hostname>-<random>" when empty.
	Holder string
}

// System is a pipeline ready to execute.
type System struct {
	Config     *orchestrator.Config
	Registry   registry.Registry
	Pipeline   *pipeline.Pipeline
	Executions *executions.Manager

	closers []func()
}

// Close releases connections. Call it after executions have finished.
func (s *System) Close() {
	for i := len(s.closers) - 1; 0 <= i; i-- {
		s.closers[i]()
	}
	s.closers = nil
}

// New builds a System from conf.
func New(ctx context.Context, conf *orchestrator.Config, opts Options) (_ *System, err error) {
	logger := opts.Logger
	if logger == nil {
		logger = logs.Discard()
	}

	sys := &System{Config: conf}
	defer func() {
		if err != nil {
			sys.Close()
		}
	}()

	reg, err := Registry(ctx, conf.Registry())
	if err != nil {
		return nil, xe.Wrap(err)
	}
	sys.Registry = reg
	sys.closers = append(sys.closers, reg.Close)

	locker, closeLock, err := Locker(ctx, conf.Lock(), opts)
	if err != nil {
		return nil, xe.Wrap(err)
	}
	sys.closers = append(sys.closers, closeLock)

	runner := vcs.ExecRunner{Logger: logs.Child(logger, "[vcs] ")}
	env := &stages.Env{
		Files:       domain.NewDataFileSet(conf.DataDir()),
		IncomingDir: conf.IncomingDir(),
		SplitOptions: stages.SplitOptions{
			DateColumn: conf.Split().DateColumn(),
			NDaysTest:  conf.Split().NDaysTest(),
		},
		TransformOptions: stages.TransformOptions{
			LabelColumn: conf.Transform().LabelColumn(),
			DropColumns: conf.Transform().DropColumns(),
		},
		DVC: stages.DVCOptions{
			Enabled: conf.DVC().Enabled(),
			Binary:  conf.DVC().Binary(),
			HomeDir: conf.DVC().HomeDir(),
			Remote:  conf.DVC().Remote(),
		},
		Registry: reg,
		Runner:   runner,
		Git: vcs.Git{
			Runner: runner,
			Binary: conf.Git().Binary(),
			Dir:    conf.Git().WorkDir(),
		},
		PromotionHook: hook.Build[promotion.Event](opts.Hooks.Promotion),
		Logger:        logger,
	}

	p := &pipeline.Pipeline{
		Env:        env,
		ConfigPath: conf.PipelineConfig(),
		Retries:    conf.Retry().Count(),
		RetryDelay: conf.Retry().Delay(),
		Logger:     logs.Child(logger, "[pipeline] "),
	}
	m := &executions.Manager{
		Pipeline: p,
		Lock:     locker,
		Logger:   logs.Child(logger, "[executions] "),
	}
	p.Observe = m.Observe

	sys.Pipeline = p
	sys.Executions = m
	return sys, nil
}

// Registry connects to the registry of conf.
func Registry(ctx context.Context, conf *orchestrator.RegistryConfig) (registry.Registry, error) {
	switch kind := conf.Kind(); kind {
	case orchestrator.MemoryRegistry:
		store, err := artifacts.New(conf.ArtifactRoot())
		if err != nil {
			return nil, xe.Wrap(err)
		}
		return memory.New(store), nil
	case orchestrator.PostgresRegistry:
		store, err := artifacts.New(conf.ArtifactRoot())
		if err != nil {
			return nil, xe.Wrap(err)
		}
		reg, err := regpg.Connect(ctx, conf.Database(), store)
		if err != nil {
			return nil, xe.Wrap(err)
		}
		return reg, nil
	case orchestrator.MLflowRegistry:
		reg, err := mlflow.New(conf.TrackingURI())
		if err != nil {
			return nil, xe.Wrap(err)
		}
		return reg, nil
	default:
		return nil, fmt.Errorf("unknown registry kind: %s", kind)
	}
}

// Locker builds the locker of conf, with a function to release its resources.
//
// Executions in a process are always excluded from each other.
// Other kinds of lock are taken after that.
func Locker(ctx context.Context, conf *orchestrator.LockConfig, opts Options) (runlock.Locker, func(), error) {
	local := &runlock.Local{}
	switch kind := conf.Kind(); kind {
	case orchestrator.NoLock:
		return local, func() {}, nil
	case orchestrator.PostgresLock:
		pool, err := kpool.Connect(ctx, conf.Database())
		if err != nil {
			return nil, nil, xe.Wrap(err)
		}
		return runlock.Chain{local, &runlock.Postgres{Pool: pool, Name: conf.Name()}}, pool.Close, nil
	case orchestrator.KubernetesLock:
		client := opts.KubeClient
		if client == nil {
			c, err := kubeutil.ConnectToK8s(opts.Kubeconfig)
			if err != nil {
				return nil, nil, xe.Wrap(err)
			}
			client = c
		}
		holder := opts.Holder
		if holder == "" {
			h, err := Holder()
			if err != nil {
				return nil, nil, xe.Wrap(err)
			}
			holder = h
		}
		lease := &runlock.Lease{
			Client:    client,
			Namespace: conf.Namespace(),
			Name:      conf.Name(),
			Holder:    holder,
			Duration:  conf.LeaseDuration(),
			Logger:    opts.Logger,
		}
		return runlock.Chain{local, lease}, func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unknown lock kind: %s", kind)
	}
}

// Holder makes an identity of this process, unique among replicas.
func Holder() (string, error) {
	host, err := os.Hostname()
	if err != nil {
		return "", xe.Wrap(err)
	}
	suffix, err := kstrings.RandomHex(4)
	if err != nil {
		return "", xe.Wrap(err)
	}
	return host + "-" + suffix, nil
}
