package domain

// domain package contains the Domain Models of the training pipeline.
//
// `domain/ENTITY.go` has entities and functions on them,
// and `domain/ENTITY` directories have the "physical" representation of them
// (registries backed by memory, Postgres or an MLflow tracking server).
//
// # Entities
//
// - `DataFileSet`: fixed mapping from logical artifact names to CSV file paths.
// Upstream stages write them, downstream stages read them.
//
// - `ExperimentRun`: one record of a training run in the experiment registry.
// It holds logged params, metrics, tags and the location of its artifacts.
//
// - `ModelVersion`: a registered model version and its lifecycle stage
// (None, Staging, Production or Archived).
// At most one version per model name is in Production.
//
// - `TrialResult`: best hyperparameters found by the search stage.
//
// - `TrainingArtifact`: the (run id, model uri) pair the trainer produces.
//
// - `Decision`: the outcome of the model gate, Promote or Keep.
