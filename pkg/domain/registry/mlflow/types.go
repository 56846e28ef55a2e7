package mlflow

// payloads of the MLflow REST API 2.0.

type keyValue struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

type experiment struct {
	ExperimentId string `json:"experiment_id"`
	Name         string `json:"name"`
}

type getExperimentResponse struct {
	Experiment experiment `json:"experiment"`
}

type createExperimentRequest struct {
	Name string `json:"name"`
}

type createExperimentResponse struct {
	ExperimentId string `json:"experiment_id"`
}

type runInfo struct {
	RunId        string `json:"run_id"`
	ExperimentId string `json:"experiment_id"`
	Status       string `json:"status"`
	StartTime    int64  `json:"start_time"`
	EndTime      int64  `json:"end_time,omitempty"`
	ArtifactUri  string `json:"artifact_uri"`
}

type metric struct {
	Key       string  `json:"key"`
	Value     float64 `json:"value"`
	Timestamp int64   `json:"timestamp"`
	Step      int64   `json:"step"`
}

type runData struct {
	Metrics []metric   `json:"metrics,omitempty"`
	Params  []keyValue `json:"params,omitempty"`
	Tags    []keyValue `json:"tags,omitempty"`
}

type run struct {
	Info runInfo `json:"info"`
	Data runData `json:"data"`
}

type runResponse struct {
	Run run `json:"run"`
}

type createRunRequest struct {
	ExperimentId string     `json:"experiment_id"`
	StartTime    int64      `json:"start_time"`
	Tags         []keyValue `json:"tags,omitempty"`
}

type updateRunRequest struct {
	RunId   string `json:"run_id"`
	Status  string `json:"status"`
	EndTime int64  `json:"end_time"`
}

type logParamRequest struct {
	RunId string `json:"run_id"`
	Key   string `json:"key"`
	Value string `json:"value"`
}

type logMetricRequest struct {
	RunId     string  `json:"run_id"`
	Key       string  `json:"key"`
	Value     float64 `json:"value"`
	Timestamp int64   `json:"timestamp"`
	Step      int64   `json:"step"`
}

type setTagRequest struct {
	RunId string `json:"run_id"`
	Key   string `json:"key"`
	Value string `json:"value"`
}

type createRegisteredModelRequest struct {
	Name string `json:"name"`
}

type modelVersion struct {
	Name                 string `json:"name"`
	Version              string `json:"version"`
	CreationTimestamp    int64  `json:"creation_timestamp"`
	LastUpdatedTimestamp int64  `json:"last_updated_timestamp"`
	CurrentStage         string `json:"current_stage"`
	Source               string `json:"source"`
	RunId                string `json:"run_id"`
	Status               string `json:"status,omitempty"`
}

type modelVersionResponse struct {
	ModelVersion modelVersion `json:"model_version"`
}

type createModelVersionRequest struct {
	Name   string `json:"name"`
	Source string `json:"source"`
	RunId  string `json:"run_id"`
}

type transitionStageRequest struct {
	Name                    string `json:"name"`
	Version                 string `json:"version"`
	Stage                   string `json:"stage"`
	ArchiveExistingVersions bool   `json:"archive_existing_versions"`
}

type searchModelVersionsResponse struct {
	ModelVersions []modelVersion `json:"model_versions"`
	NextPageToken string         `json:"next_page_token,omitempty"`
}

// empty responses
type empty struct{}
