// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package score

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/aartikrish/de-novo-antibiotics/internal/container"
)

const (
	// DefaultImage is the predictor image used when none is configured.
	DefaultImage = "chemprop:latest"

	modelMountDir = "/model"
)

// predictCommand runs inside the predictor image. The checkpoint flag is
// appended by the model.
var predictCommand = []string{
	"chemprop_predict",
	"--test_path", "/dev/stdin",
	"--preds_path", "/dev/stdout",
}

// ContainerModel runs a local checkpoint in the predictor image. The
// checkpoint directory is mounted read-only at /model.
type ContainerModel struct {
	runtime container.Runtime
	image   string
	env     map[string]string
	dir     string
	args    []string
	logger  *zap.Logger
}

func newContainerModel(path string, opts Options) (*ContainerModel, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, &ModelLoadError{Path: path, Reason: err.Error()}
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, &ModelLoadError{Path: path, Reason: "no such file or directory"}
	}

	args := append([]string(nil), predictCommand...)
	dir := abs
	if info.IsDir() {
		n, err := countCheckpoints(abs)
		if err != nil {
			return nil, &ModelLoadError{Path: path, Reason: err.Error()}
		}
		if n == 0 {
			return nil, &ModelLoadError{Path: path, Reason: "directory contains no .pt checkpoint"}
		}
		args = append(args, "--checkpoint_dir", modelMountDir)
	} else {
		if filepath.Ext(abs) != ".pt" {
			return nil, &ModelLoadError{Path: path, Reason: "not a .pt checkpoint"}
		}
		dir = filepath.Dir(abs)
		args = append(args, "--checkpoint_path", modelMountDir+"/"+filepath.Base(abs))
	}

	image := opts.Image
	if image == "" {
		image = DefaultImage
	}
	if err := opts.Runtime.ImageExists(image); err != nil {
		return nil, &ModelLoadError{Path: path, Reason: fmt.Sprintf("predictor image %s not available in %s", image, opts.Runtime.Name())}
	}

	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ContainerModel{
		runtime: opts.Runtime,
		image:   image,
		env:     opts.Env,
		dir:     dir,
		args:    args,
		logger:  logger.Named("model"),
	}, nil
}

func countCheckpoints(dir string) (int, error) {
	n := 0
	err := filepath.WalkDir(dir, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.HasSuffix(d.Name(), ".pt") {
			n++
		}
		return nil
	})
	return n, err
}

// Key identifies the checkpoint and image.
func (m *ContainerModel) Key() string {
	return m.image + "@" + m.dir + ":" + m.args[len(m.args)-1]
}

// Predict writes the SMILES as a one-column CSV to the container and reads
// the prediction CSV from its stdout.
func (m *ContainerModel) Predict(ctx context.Context, smiles []string) (Predictions, error) {
	if len(smiles) == 0 {
		return Predictions{}, nil
	}

	var in bytes.Buffer
	w := csv.NewWriter(&in)
	w.Write([]string{"smiles"})
	for _, s := range smiles {
		w.Write([]string{s})
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return Predictions{}, fmt.Errorf("encoding model input: %w", err)
	}

	var out bytes.Buffer
	spec := container.RunSpec{
		Image:  m.image,
		Args:   m.args,
		Env:    m.env,
		Mounts: []container.Mount{{Source: m.dir, Target: modelMountDir, ReadOnly: true}},
	}
	if err := m.runtime.Run(ctx, spec, &in, &out); err != nil {
		return Predictions{}, fmt.Errorf("running predictor: %w", err)
	}

	p, err := parsePredictions(&out)
	if err != nil {
		return Predictions{}, err
	}
	m.logger.Debug("predicted", zap.Int("inputs", len(smiles)), zap.Int("rows", len(p.Values)))
	return p, nil
}

// Close is a no-op; each prediction uses its own container.
func (m *ContainerModel) Close() error { return nil }
