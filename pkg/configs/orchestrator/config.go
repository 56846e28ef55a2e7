package orchestrator

import (
	"path/filepath"
	"time"
)

// Config is the configuration of the orchestrator process.
//
// To get a Config, use `Unmarshal` or `LoadOrchestratorConfig`.
type Config struct {
	dataDir        string
	incomingDir    string
	pipelineConfig string
	registry       *RegistryConfig
	schedule       *ScheduleConfig
	retry          *RetryConfig
	split          *SplitConfig
	transform      *TransformConfig
	dvc            *DVCConfig
	git            *GitConfig
	lock           *LockConfig
	server         *ServerConfig
}

// Directory where DataFileSet files are laid out.
func (c *Config) DataDir() string {
	return c.dataDir
}

// Directory where new raw CSV files arrive. default = <dataDir>/incoming
func (c *Config) IncomingDir() string {
	return c.incomingDir
}

// Path to the pipeline configuration document.
func (c *Config) PipelineConfig() string {
	return c.pipelineConfig
}

func (c *Config) Registry() *RegistryConfig {
	return c.registry
}

func (c *Config) Schedule() *ScheduleConfig {
	return c.schedule
}

func (c *Config) Retry() *RetryConfig {
	return c.retry
}

func (c *Config) Split() *SplitConfig {
	return c.split
}

func (c *Config) Transform() *TransformConfig {
	return c.transform
}

func (c *Config) DVC() *DVCConfig {
	return c.dvc
}

func (c *Config) Git() *GitConfig {
	return c.git
}

func (c *Config) Lock() *LockConfig {
	return c.lock
}

func (c *Config) Server() *ServerConfig {
	return c.server
}

type RegistryKind string

const (
	MemoryRegistry   RegistryKind = "memory"
	PostgresRegistry RegistryKind = "postgres"
	MLflowRegistry   RegistryKind = "mlflow"
)

// Where runs, metrics and model versions are recorded.
type RegistryConfig struct {
	kind         RegistryKind
	database     string
	artifactRoot string
	trackingURI  string
}

func (r *RegistryConfig) Kind() RegistryKind {
	return r.kind
}

// Connection string for Postgres. Only for kind "postgres".
func (r *RegistryConfig) Database() string {
	return r.database
}

// Directory where model artifacts are stored. Not for kind "mlflow".
func (r *RegistryConfig) ArtifactRoot() string {
	return r.artifactRoot
}

// URI of MLflow tracking server. Only for kind "mlflow".
func (r *RegistryConfig) TrackingURI() string {
	return r.trackingURI
}

type ScheduleConfig struct {
	policy  string
	timeout time.Duration
}

// Loop policy. default = "forever:24h"
func (s *ScheduleConfig) Policy() string {
	return s.policy
}

// Time limit of one scheduled execution. 0 (default) means no limit.
func (s *ScheduleConfig) Timeout() time.Duration {
	return s.timeout
}

type RetryConfig struct {
	count int
	delay time.Duration
}

// How many times a failed stage is retried. default = 1
func (r *RetryConfig) Count() int {
	return r.count
}

// Wait before a retry. default = 5s
func (r *RetryConfig) Delay() time.Duration {
	return r.delay
}

type SplitConfig struct {
	dateColumn string
	nDaysTest  int
}

// Column holding dates (YYYY-MM-DD). If empty, the test split is the last rows.
func (s *SplitConfig) DateColumn() string {
	return s.dateColumn
}

// Size of the test split in days (or rows, without date column). default = 20
func (s *SplitConfig) NDaysTest() int {
	return s.nDaysTest
}

type TransformConfig struct {
	labelColumn string
	dropColumns []string
}

// Column holding labels.
func (t *TransformConfig) LabelColumn() string {
	return t.labelColumn
}

// Columns dropped from features, in addition to the date column.
func (t *TransformConfig) DropColumns() []string {
	return append([]string{}, t.dropColumns...)
}

type DVCConfig struct {
	enabled bool
	homeDir string
	remote  string
	binary  string
}

// default = true
func (d *DVCConfig) Enabled() bool {
	return d.enabled
}

// Directory tracked by DVC. default = dataDir
func (d *DVCConfig) HomeDir() string {
	return d.homeDir
}

// Default DVC remote. default = <homeDir>/dvc_remote
func (d *DVCConfig) Remote() string {
	return d.remote
}

// dvc command. default = "dvc"
func (d *DVCConfig) Binary() string {
	return d.binary
}

type GitConfig struct {
	workDir string
	binary  string
}

// Working tree of the pipeline source. default = "."
func (g *GitConfig) WorkDir() string {
	return g.workDir
}

// git command. default = "git"
func (g *GitConfig) Binary() string {
	return g.binary
}

type LockKind string

const (
	NoLock         LockKind = "none"
	PostgresLock   LockKind = "postgres"
	KubernetesLock LockKind = "kubernetes"
)

// How executions are serialised.
type LockConfig struct {
	kind          LockKind
	name          string
	namespace     string
	database      string
	leaseDuration time.Duration
}

func (l *LockConfig) Kind() LockKind {
	return l.kind
}

// Name of the lock. default = "training-pipeline"
func (l *LockConfig) Name() string {
	return l.name
}

// k8s namespace of the Lease. Only for kind "kubernetes".
func (l *LockConfig) Namespace() string {
	return l.namespace
}

// Connection string for Postgres. Only for kind "postgres". default = registry.database
func (l *LockConfig) Database() string {
	return l.database
}

// Lease duration. Only for kind "kubernetes". default = 15m
func (l *LockConfig) LeaseDuration() time.Duration {
	return l.leaseDuration
}

type ServerConfig struct {
	port        int32
	tokenSecret string
}

// default = 8080
func (s *ServerConfig) Port() int32 {
	return s.port
}

// HS256 secret to verify bearer tokens. Empty disables authentication.
func (s *ServerConfig) TokenSecret() string {
	return s.tokenSecret
}

func defaultString(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func defaultJoin(v, base, name string) string {
	if v == "" {
		return filepath.Join(base, name)
	}
	return v
}
