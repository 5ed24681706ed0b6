// Package assemble writes synthesized artifacts to disk as one atomic batch.
package assemble

import (
	"fmt"
	"os"
	"path/filepath"

	pipelineerrors "infra-wizard/internal/common/errors"
	"infra-wizard/internal/common/logger"
	"infra-wizard/internal/common/metrics"
	"infra-wizard/internal/models"
)

// Assembler lays a rendered project out under the output directory. The
// batch is all-or-nothing: collisions are detected before the first write,
// and a failed write rolls back everything written so far.
type Assembler struct {
	outputDir string
	force     bool
	log       logger.Logger
}

// NewAssembler returns an assembler rooted at outputDir. With force set,
// existing files are overwritten instead of raising ARTIFACT_COLLISION.
func NewAssembler(outputDir string, force bool, log logger.Logger) *Assembler {
	if log == nil {
		log = logger.NewNoOpLogger()
	}
	return &Assembler{outputDir: outputDir, force: force, log: log}
}

// Write persists the batch and returns the summary view of every file. On
// any error no artifact of the batch remains on disk.
func (a *Assembler) Write(artifacts []models.SynthesizedArtifact) ([]models.ArtifactInfo, error) {
	if len(artifacts) == 0 {
		return nil, nil
	}

	targets := make([]string, len(artifacts))
	for i, art := range artifacts {
		target := filepath.Join(a.outputDir, filepath.FromSlash(art.Path))
		if !a.force {
			if _, err := os.Stat(target); err == nil {
				return nil, pipelineerrors.NewArtifactCollisionError(art.Path, target)
			}
		}
		targets[i] = target
	}

	var written []string
	rollback := func() {
		for _, p := range written {
			os.Remove(p)
		}
	}

	infos := make([]models.ArtifactInfo, 0, len(artifacts))
	for i, art := range artifacts {
		if err := os.MkdirAll(filepath.Dir(targets[i]), 0o755); err != nil {
			rollback()
			return nil, fmt.Errorf("creating artifact directory: %w", err)
		}
		if err := os.WriteFile(targets[i], art.Content, 0o644); err != nil {
			rollback()
			return nil, fmt.Errorf("writing artifact %s: %w", art.Path, err)
		}
		written = append(written, targets[i])
		metrics.ArtifactsWritten.Inc()
		infos = append(infos, models.ArtifactInfo{
			Path:   art.Path,
			SHA256: art.SHA256,
			Bytes:  len(art.Content),
		})
	}

	a.log.Info("project written", map[string]interface{}{
		"outputDir": a.outputDir,
		"files":     len(infos),
	})
	return infos, nil
}
