// Package publish writes the metrics and flags documents to their
// destinations: local files, an optional HTTP sink and Prometheus gauges.
package publish

import (
	"os"
	"path/filepath"

	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"

	"github.com/defi-org-code/ton-validator-reporter/internal/alert"
	"github.com/defi-org-code/ton-validator-reporter/internal/metrics"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Files publishes both documents as whole-file overwrites.
type Files struct {
	MetricsPath string
	FlagsPath   string
}

// Publish writes the metrics document first, then the flags document.
func (f Files) Publish(m *metrics.Snapshot, flags alert.Flags) error {
	if err := WriteJSON(f.MetricsPath, m); err != nil {
		return errors.Wrap(err, "publish metrics")
	}
	if err := WriteJSON(f.FlagsPath, flags); err != nil {
		return errors.Wrap(err, "publish flags")
	}
	return nil
}

// ReadFlags loads a previously published flags document. A missing file
// yields empty flags.
func ReadFlags(path string) (alert.Flags, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return alert.Flags{}, nil
	}
	if err != nil {
		return alert.Flags{}, errors.Wrapf(err, "read %s", path)
	}
	var f alert.Flags
	if err := json.Unmarshal(data, &f); err != nil {
		return alert.Flags{}, errors.Wrapf(err, "decode %s", path)
	}
	return f, nil
}

// ReadMetrics loads a previously published metrics document.
func ReadMetrics(path string) (*metrics.Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read %s", path)
	}
	var m metrics.Snapshot
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, errors.Wrapf(err, "decode %s", path)
	}
	return &m, nil
}

// WriteJSON replaces path with the indented encoding of v. Readers see
// either the old or the new document.
func WriteJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "    ")
	if err != nil {
		return errors.Wrap(err, "encode")
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrapf(err, "create %s", dir)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return errors.Wrap(err, "create temp file")
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(append(data, '\n')); err != nil {
		_ = tmp.Close()
		return errors.Wrap(err, "write temp file")
	}
	if err := tmp.Chmod(0o644); err != nil {
		_ = tmp.Close()
		return errors.Wrap(err, "chmod temp file")
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrap(err, "close temp file")
	}
	return errors.Wrapf(os.Rename(tmp.Name(), path), "replace %s", path)
}
