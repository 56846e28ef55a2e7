package domain

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
)

// DataFileKey is a logical name of an artifact file passed between stages.
type DataFileKey string

const (
	RawDataFile           DataFileKey = "raw_data_file"
	RawTrainFile          DataFileKey = "raw_train_file"
	RawTestFile           DataFileKey = "raw_test_file"
	TransformedXTrainFile DataFileKey = "transformed_x_train_file"
	TransformedYTrainFile DataFileKey = "transformed_y_train_file"
	TransformedXTestFile  DataFileKey = "transformed_x_test_file"
	TransformedYTestFile  DataFileKey = "transformed_y_test_file"
)

func (k DataFileKey) String() string {
	return string(k)
}

// DataFileKeys returns all keys of a DataFileSet.
func DataFileKeys() []DataFileKey {
	return []DataFileKey{
		RawDataFile, RawTrainFile, RawTestFile,
		TransformedXTrainFile, TransformedYTrainFile,
		TransformedXTestFile, TransformedYTestFile,
	}
}

var fileNames = map[DataFileKey]string{
	RawDataFile:           "data.csv",
	RawTrainFile:          "data_train.csv",
	RawTestFile:           "data_test.csv",
	TransformedXTrainFile: "x_train.csv",
	TransformedYTrainFile: "y_train.csv",
	TransformedXTestFile:  "x_test.csv",
	TransformedYTestFile:  "y_test.csv",
}

// DataFileSet maps logical artifact names to filesystem paths.
//
// Paths are fixed for a data directory, and overwritten on each run.
type DataFileSet struct {
	dir   string
	paths map[DataFileKey]string
}

// NewDataFileSet lays out a DataFileSet in dataDir.
func NewDataFileSet(dataDir string) DataFileSet {
	paths := make(map[DataFileKey]string, len(fileNames))
	for k, name := range fileNames {
		paths[k] = filepath.Join(dataDir, name)
	}
	return DataFileSet{dir: dataDir, paths: paths}
}

func (d DataFileSet) Dir() string {
	return d.dir
}

// Path returns the path for key. It is empty for an unknown key.
func (d DataFileSet) Path(key DataFileKey) string {
	return d.paths[key]
}

// Map returns a copy of the mapping keyed by logical name.
func (d DataFileSet) Map() map[string]string {
	ret := make(map[string]string, len(d.paths))
	for k, v := range d.paths {
		ret[string(k)] = v
	}
	return ret
}

// Keys returns declared keys in a stable order.
func (d DataFileSet) Keys() []DataFileKey {
	keys := make([]DataFileKey, 0, len(d.paths))
	for k := range d.paths {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

// Require checks that files for keys exist before stage reads them.
//
// It returns RequiredArtifactMissing for the first key which is undeclared or not on disk.
func (d DataFileSet) Require(stage string, keys ...DataFileKey) error {
	for _, k := range keys {
		p, ok := d.paths[k]
		if !ok {
			return RequiredArtifactMissing{Stage: stage, Key: k}
		}
		stat, err := os.Stat(p)
		if errors.Is(err, fs.ErrNotExist) || (err == nil && stat.IsDir()) {
			return RequiredArtifactMissing{Stage: stage, Key: k, Path: p}
		} else if err != nil {
			return err
		}
	}
	return nil
}
