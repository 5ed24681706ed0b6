package session

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"infra-wizard/internal/common/config"
	pipelineerrors "infra-wizard/internal/common/errors"
	"infra-wizard/internal/common/logger"
	"infra-wizard/internal/lexicon"
	"infra-wizard/internal/models"
	"infra-wizard/internal/pipeline/assemble"
	"infra-wizard/internal/pipeline/capability"
	"infra-wizard/internal/pipeline/clarify"
	"infra-wizard/internal/pipeline/graph"
	"infra-wizard/internal/pipeline/intent"
	"infra-wizard/internal/pipeline/synth"
)

// scriptedFrontend replays canned answers per attribute and records every
// slot it was asked.
type scriptedFrontend struct {
	answers   map[string][]string
	asked     []*models.AmbiguitySlot
	confirm   bool
	confirmed *models.SessionSummary
}

func (f *scriptedFrontend) AskSlot(_ context.Context, slot *models.AmbiguitySlot) (string, error) {
	f.asked = append(f.asked, slot)
	queue := f.answers[slot.Attribute]
	if len(queue) == 0 {
		return "", context.Canceled
	}
	answer := queue[0]
	f.answers[slot.Attribute] = queue[1:]
	return answer, nil
}

func (f *scriptedFrontend) Confirm(summary *models.SessionSummary, _ []models.SynthesizedArtifact) bool {
	f.confirmed = summary
	return f.confirm
}

type memoryStore struct {
	saved []*models.SessionSummary
}

func (m *memoryStore) Save(_ context.Context, s *models.SessionSummary) error {
	m.saved = append(m.saved, s)
	return nil
}
func (m *memoryStore) Get(_ context.Context, _ string) (*models.SessionSummary, error) {
	return nil, os.ErrNotExist
}
func (m *memoryStore) List(_ context.Context, _ int) ([]*models.SessionSummary, error) {
	return m.saved, nil
}

type captureSink struct {
	summaries []*models.SessionSummary
}

func (c *captureSink) Notify(_ context.Context, s *models.SessionSummary) error {
	c.summaries = append(c.summaries, s)
	return nil
}

func newOrchestrator(t *testing.T, front *scriptedFrontend, outDir string) (*Orchestrator, *memoryStore, *captureSink) {
	t.Helper()
	lex, err := lexicon.Default()
	require.NoError(t, err)
	log := logger.NewTestLogger(t)

	s, err := synth.NewSynthesizer(lex, log)
	require.NoError(t, err)
	st := &memoryStore{}
	sink := &captureSink{}

	o := NewOrchestrator(Deps{
		Lexicon:     lex,
		Extractor:   intent.NewExtractor(lex, nil, log),
		Engine:      clarify.NewEngine(lex, 0.6, 3, log),
		Validator:   capability.NewValidator(lex, nil, nil, config.ProviderConfig{}, log),
		Builder:     graph.NewBuilder(lex, log),
		Synthesizer: s,
		Assembler:   assemble.NewAssembler(outDir, false, log),
		Frontend:    front,
		Store:       st,
		Sink:        sink,
		Environment: "dev",
		Log:         log,
	})
	return o, st, sink
}

// ==========================
// 1. Full Sessions
// ==========================

func TestRun_NetworkSubnetsCompute(t *testing.T) {
	outDir := t.TempDir()
	front := &scriptedFrontend{
		answers: map[string][]string{"region": {"us-east-1"}},
		confirm: true,
	}
	o, st, sink := newOrchestrator(t, front, outDir)

	summary, err := o.Run(context.Background(),
		"deploy a network with two subnets and one small compute instance")
	require.NoError(t, err)

	assert.Equal(t, models.StatusSuccess, summary.Status)
	assert.Equal(t, "aws", summary.Provider)
	assert.Equal(t, "us-east-1", summary.Region)
	assert.Equal(t, 1, summary.Counts[models.KindNetwork])
	assert.Equal(t, 2, summary.Counts[models.KindSubnet])
	assert.Equal(t, 1, summary.Counts[models.KindCompute])
	assert.Len(t, summary.Artifacts, 12)
	assert.NotEmpty(t, summary.SessionID)

	data, err := os.ReadFile(filepath.Join(outDir, "environments", "dev", "main.tf"))
	require.NoError(t, err)
	assert.Contains(t, string(data), `provider "aws"`)

	require.Len(t, st.saved, 1)
	assert.Equal(t, summary.SessionID, st.saved[0].SessionID)
	require.Len(t, sink.summaries, 1)
	assert.Equal(t, models.StatusSuccess, sink.summaries[0].Status)

	// the only clarification needed was the region
	require.Len(t, front.asked, 1)
	assert.Equal(t, "region", front.asked[0].Attribute)
	assert.True(t, front.asked[0].SessionLevel)
}

func TestRun_CapabilityViolationReopensSlot(t *testing.T) {
	front := &scriptedFrontend{
		answers: map[string][]string{"instance_type": {"t9.mega", "t3.small"}},
		confirm: true,
	}
	o, _, _ := newOrchestrator(t, front, t.TempDir())

	summary, err := o.Run(context.Background(), "deploy a server in us-east-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusSuccess, summary.Status)

	// first ask from the open slot, second from the capability re-open
	require.Len(t, front.asked, 2)
	assert.Equal(t, "instance_type", front.asked[0].Attribute)
	assert.Equal(t, "instance_type", front.asked[1].Attribute)
	assert.Contains(t, front.asked[1].Candidates, "t3.small")
}

func TestRun_ExhaustedSlotFallsBackToDefault(t *testing.T) {
	front := &scriptedFrontend{
		answers: map[string][]string{"instance_type": {"", "", ""}},
		confirm: true,
	}
	o, _, _ := newOrchestrator(t, front, t.TempDir())

	summary, err := o.Run(context.Background(), "deploy a server in us-east-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusSuccess, summary.Status)
	require.Len(t, front.asked, 3)

	var defaulted bool
	for _, w := range summary.Warnings {
		if w.Code == string(pipelineerrors.ErrCodeAttributeDefaulted) && w.Attribute == "instance_type" {
			defaulted = true
		}
	}
	assert.True(t, defaulted, "expected ATTRIBUTE_DEFAULTED warning, got %v", summary.Warnings)
}

// ==========================
// 2. Aborts
// ==========================

func TestRun_DeclinedConfirmationWritesNothing(t *testing.T) {
	outDir := t.TempDir()
	front := &scriptedFrontend{
		answers: map[string][]string{"region": {"us-east-1"}},
		confirm: false,
	}
	o, st, _ := newOrchestrator(t, front, outDir)

	summary, err := o.Run(context.Background(), "deploy a network")
	assert.True(t, pipelineerrors.IsCode(err, pipelineerrors.ErrCodeSessionCancelled))
	assert.Equal(t, models.StatusAborted, summary.Status)
	assert.Empty(t, summary.Artifacts)
	require.NotNil(t, front.confirmed)

	entries, readErr := os.ReadDir(outDir)
	require.NoError(t, readErr)
	assert.Empty(t, entries)

	// aborted sessions are still recorded
	require.Len(t, st.saved, 1)
	assert.Equal(t, models.StatusAborted, st.saved[0].Status)
}

func TestRun_FrontendAbortCancelsSession(t *testing.T) {
	front := &scriptedFrontend{answers: map[string][]string{}, confirm: true}
	o, _, _ := newOrchestrator(t, front, t.TempDir())

	summary, err := o.Run(context.Background(), "deploy a network")
	assert.True(t, pipelineerrors.IsCode(err, pipelineerrors.ErrCodeSessionCancelled))
	assert.Equal(t, models.StatusAborted, summary.Status)
}

func TestRun_RejectsNonCreateActions(t *testing.T) {
	front := &scriptedFrontend{confirm: true}
	o, _, _ := newOrchestrator(t, front, t.TempDir())

	summary, err := o.Run(context.Background(), "delete the database server")
	assert.ErrorContains(t, err, "unsupported action")
	assert.Equal(t, models.StatusAborted, summary.Status)
}

func TestRun_NoRecognizedResources(t *testing.T) {
	front := &scriptedFrontend{confirm: true}
	o, _, _ := newOrchestrator(t, front, t.TempDir())

	_, err := o.Run(context.Background(), "make me a sandwich")
	assert.ErrorContains(t, err, "no resources recognized")
}

func TestRun_ArtifactCollisionAborts(t *testing.T) {
	outDir := t.TempDir()
	existing := filepath.Join(outDir, "environments", "dev", "main.tf")
	require.NoError(t, os.MkdirAll(filepath.Dir(existing), 0o755))
	require.NoError(t, os.WriteFile(existing, []byte("# keep\n"), 0o644))

	front := &scriptedFrontend{
		answers: map[string][]string{"region": {"us-east-1"}},
		confirm: true,
	}
	o, _, _ := newOrchestrator(t, front, outDir)

	summary, err := o.Run(context.Background(), "deploy a network")
	assert.True(t, pipelineerrors.IsCode(err, pipelineerrors.ErrCodeArtifactCollision))
	assert.Equal(t, models.StatusAborted, summary.Status)

	data, readErr := os.ReadFile(existing)
	require.NoError(t, readErr)
	assert.Equal(t, "# keep\n", string(data))
}

func TestRun_ContextCancelledAtSlot(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	front := &scriptedFrontend{
		answers: map[string][]string{"region": {"us-east-1"}},
		confirm: true,
	}
	o, _, _ := newOrchestrator(t, front, t.TempDir())

	summary, err := o.Run(ctx, "deploy a network")
	assert.True(t, pipelineerrors.IsCode(err, pipelineerrors.ErrCodeSessionCancelled))
	assert.Equal(t, models.StatusAborted, summary.Status)
	assert.Empty(t, front.asked)
}
