package orchestrator

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Marshalled[S any] interface {
	trySeal(string) S
}

// seal marshalled object.
//
// this function CAN CAUSE PANIC if misconfiguration is found.
func TrySeal[S any](conf Marshalled[S]) S {
	return conf.trySeal("(root)")
}

// ConfigMarshall is the mutable, yaml-facing form of Config.
type ConfigMarshall struct {
	DataDir        string                  `yaml:"dataDir"`
	IncomingDir    string                  `yaml:"incomingDir,omitempty"`
	PipelineConfig string                  `yaml:"pipelineConfig"`
	Registry       *RegistryConfigMarshall `yaml:"registry"`
	Schedule       *ScheduleConfigMarshall `yaml:"schedule,omitempty"`
	Retry          *RetryConfigMarshall    `yaml:"retry,omitempty"`
	Split          *SplitConfigMarshall    `yaml:"split,omitempty"`
	Transform      *TransformMarshall      `yaml:"transform"`
	DVC            *DVCConfigMarshall      `yaml:"dvc,omitempty"`
	Git            *GitConfigMarshall      `yaml:"git,omitempty"`
	Lock           *LockConfigMarshall     `yaml:"lock,omitempty"`
	Server         *ServerConfigMarshall   `yaml:"server,omitempty"`
}

var _ Marshalled[*Config] = &ConfigMarshall{}

func (c *ConfigMarshall) trySeal(path string) *Config {
	dataDir := required(c.DataDir, path+".dataDir")
	registry := nonnil(c.Registry, path+".registry").trySeal(path + ".registry")
	return &Config{
		dataDir:        dataDir,
		incomingDir:    defaultJoin(c.IncomingDir, dataDir, "incoming"),
		pipelineConfig: required(c.PipelineConfig, path+".pipelineConfig"),
		registry:       registry,
		schedule:       orEmpty(c.Schedule).trySeal(path + ".schedule"),
		retry:          orEmpty(c.Retry).trySeal(path + ".retry"),
		split:          orEmpty(c.Split).trySeal(path + ".split"),
		transform:      nonnil(c.Transform, path+".transform").trySeal(path + ".transform"),
		dvc:            orEmpty(c.DVC).seal(path+".dvc", dataDir),
		git:            orEmpty(c.Git).trySeal(path + ".git"),
		lock:           orEmpty(c.Lock).seal(path+".lock", registry),
		server:         orEmpty(c.Server).trySeal(path + ".server"),
	}
}

type RegistryConfigMarshall struct {
	Kind         string                `yaml:"kind"`
	Database     string                `yaml:"database,omitempty"`
	ArtifactRoot string                `yaml:"artifactRoot,omitempty"`
	MLflow       *MLflowConfigMarshall `yaml:"mlflow,omitempty"`
}

type MLflowConfigMarshall struct {
	TrackingURI string `yaml:"trackingURI"`
}

func (r *RegistryConfigMarshall) trySeal(path string) *RegistryConfig {
	kind := RegistryKind(required(r.Kind, path+".kind"))
	ret := &RegistryConfig{kind: kind}
	switch kind {
	case MemoryRegistry:
		ret.artifactRoot = required(r.ArtifactRoot, path+".artifactRoot")
	case PostgresRegistry:
		ret.database = required(r.Database, path+".database")
		ret.artifactRoot = required(r.ArtifactRoot, path+".artifactRoot")
	case MLflowRegistry:
		m := nonnil(r.MLflow, path+".mlflow")
		ret.trackingURI = required(m.TrackingURI, path+".mlflow.trackingURI")
	default:
		panic(fmt.Errorf("%s.kind should be one of memory|postgres|mlflow, but %s", path, kind))
	}
	return ret
}

type ScheduleConfigMarshall struct {
	Policy  string `yaml:"policy"`
	Timeout string `yaml:"timeout,omitempty"`
}

func (s *ScheduleConfigMarshall) trySeal(path string) *ScheduleConfig {
	timeout := mustDuration(defaultString(s.Timeout, "0s"), path+".timeout")
	if timeout < 0 {
		panic(fmt.Errorf("%s.timeout should not be negative, but %s", path, timeout))
	}
	return &ScheduleConfig{policy: defaultString(s.Policy, "forever:24h"), timeout: timeout}
}

type RetryConfigMarshall struct {
	Count *int   `yaml:"count,omitempty"`
	Delay string `yaml:"delay,omitempty"`
}

func (r *RetryConfigMarshall) trySeal(path string) *RetryConfig {
	count := 1
	if r.Count != nil {
		count = *r.Count
	}
	if count < 0 {
		panic(fmt.Errorf("%s.count should not be negative, but %d", path, count))
	}
	delay := mustDuration(defaultString(r.Delay, "5s"), path+".delay")
	return &RetryConfig{count: count, delay: delay}
}

type SplitConfigMarshall struct {
	DateColumn string `yaml:"dateColumn,omitempty"`
	NDaysTest  int    `yaml:"nDaysTest,omitempty"`
}

func (s *SplitConfigMarshall) trySeal(path string) *SplitConfig {
	n := s.NDaysTest
	if n == 0 {
		n = 20
	}
	if n < 0 {
		panic(fmt.Errorf("%s.nDaysTest should be positive, but %d", path, n))
	}
	return &SplitConfig{dateColumn: s.DateColumn, nDaysTest: n}
}

type TransformMarshall struct {
	LabelColumn string   `yaml:"labelColumn"`
	DropColumns []string `yaml:"dropColumns,omitempty"`
}

func (t *TransformMarshall) trySeal(path string) *TransformConfig {
	return &TransformConfig{
		labelColumn: required(t.LabelColumn, path+".labelColumn"),
		dropColumns: append([]string{}, t.DropColumns...),
	}
}

type DVCConfigMarshall struct {
	Enabled *bool  `yaml:"enabled,omitempty"`
	HomeDir string `yaml:"homeDir,omitempty"`
	Remote  string `yaml:"remote,omitempty"`
	Binary  string `yaml:"binary,omitempty"`
}

func (d *DVCConfigMarshall) seal(_ string, dataDir string) *DVCConfig {
	enabled := true
	if d.Enabled != nil {
		enabled = *d.Enabled
	}
	home := defaultString(d.HomeDir, dataDir)
	return &DVCConfig{
		enabled: enabled,
		homeDir: home,
		remote:  defaultJoin(d.Remote, home, "dvc_remote"),
		binary:  defaultString(d.Binary, "dvc"),
	}
}

type GitConfigMarshall struct {
	WorkDir string `yaml:"workDir,omitempty"`
	Binary  string `yaml:"binary,omitempty"`
}

func (g *GitConfigMarshall) trySeal(string) *GitConfig {
	return &GitConfig{
		workDir: defaultString(g.WorkDir, "."),
		binary:  defaultString(g.Binary, "git"),
	}
}

type LockConfigMarshall struct {
	Kind          string `yaml:"kind,omitempty"`
	Name          string `yaml:"name,omitempty"`
	Namespace     string `yaml:"namespace,omitempty"`
	Database      string `yaml:"database,omitempty"`
	LeaseDuration string `yaml:"leaseDuration,omitempty"`
}

func (l *LockConfigMarshall) seal(path string, registry *RegistryConfig) *LockConfig {
	kind := LockKind(defaultString(l.Kind, string(NoLock)))
	ret := &LockConfig{
		kind:          kind,
		name:          defaultString(l.Name, "training-pipeline"),
		leaseDuration: mustDuration(defaultString(l.LeaseDuration, "15m"), path+".leaseDuration"),
	}
	switch kind {
	case NoLock:
	case PostgresLock:
		ret.database = required(defaultString(l.Database, registry.Database()), path+".database")
	case KubernetesLock:
		ret.namespace = required(l.Namespace, path+".namespace")
	default:
		panic(fmt.Errorf("%s.kind should be one of none|postgres|kubernetes, but %s", path, kind))
	}
	return ret
}

type ServerConfigMarshall struct {
	Port        int32  `yaml:"port,omitempty"`
	TokenSecret string `yaml:"tokenSecret,omitempty"`
}

func (s *ServerConfigMarshall) trySeal(string) *ServerConfig {
	port := s.Port
	if port == 0 {
		port = 8080
	}
	return &ServerConfig{port: port, tokenSecret: s.TokenSecret}
}

// LoadOrchestratorConfig reads configuration from a file.
func LoadOrchestratorConfig(filepath string) (*Config, error) {
	content, err := os.ReadFile(filepath)
	if err != nil {
		return nil, err
	}
	return Unmarshal(content)
}

// Unmarshal parses and verifies configuration.
//
// Misconfiguration is reported as error, not panic.
func Unmarshal(conf []byte) (out *Config, err error) {
	var m *ConfigMarshall
	if err := yaml.Unmarshal(conf, &m); err != nil {
		return nil, err
	}
	if m == nil {
		return nil, fmt.Errorf("configuration is empty")
	}

	defer func() {
		if r := recover(); r != nil {
			out = nil
			switch e := r.(type) {
			case error:
				err = e
			default:
				err = fmt.Errorf("%v", e)
			}
		}
	}()
	return TrySeal[*Config](m), nil
}

func orEmpty[T any](v *T) *T {
	if v == nil {
		return new(T)
	}
	return v
}

func nonnil[T any](v *T, path string) *T {
	if v == nil {
		panic(path + " is required")
	}
	return v
}

func required[T comparable](v T, path string) T {
	if v == *new(T) {
		panic(path + " is required")
	}
	return v
}

func mustDuration(s string, path string) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		panic(fmt.Errorf("%s can not be parsed: %w", path, err))
	}
	return d
}
