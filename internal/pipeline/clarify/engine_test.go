package clarify

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pipelineerrors "infra-wizard/internal/common/errors"
	"infra-wizard/internal/common/logger"
	"infra-wizard/internal/lexicon"
	"infra-wizard/internal/models"
	"infra-wizard/internal/pipeline/intent"
)

func newTestEngine(t *testing.T) (*Engine, *intent.Extractor) {
	t.Helper()
	lex, err := lexicon.Default()
	require.NoError(t, err)
	log := logger.NewTestLogger(t)
	return NewEngine(lex, 0.6, 3, log), intent.NewExtractor(lex, nil, log)
}

func extract(t *testing.T, e *intent.Extractor, utterance string) *intent.Result {
	t.Helper()
	res, err := e.Extract(utterance, intent.Options{})
	require.NoError(t, err)
	return res
}

// ==========================
// 1. Queue Construction
// ==========================

func TestBuildQueue_SizedRequestAsksOnlyRegion(t *testing.T) {
	engine, extractor := newTestEngine(t)
	res := extract(t, extractor, "deploy a network with two subnets and one small compute instance")

	q := engine.BuildQueue(res)

	require.Equal(t, 1, q.Len())
	slot := q.Next()
	assert.True(t, slot.SessionLevel)
	assert.Equal(t, "region", slot.Attribute)
	assert.Contains(t, slot.Candidates, "us-east-1")
}

func TestBuildQueue_OrderIsSessionThenKindPriority(t *testing.T) {
	engine, extractor := newTestEngine(t)
	// Database is spoken first, but compute outranks it in the fixed
	// kind priority, and session-level region outranks both.
	res := extract(t, extractor, "deploy a database and a server")

	q := engine.BuildQueue(res)

	require.Equal(t, 3, q.Len())
	assert.Equal(t, "region", q.slots[0].Attribute)
	assert.Equal(t, "instance_type", q.slots[1].Attribute)
	assert.Equal(t, models.KindCompute, q.slots[1].Kind)
	assert.Equal(t, "engine", q.slots[2].Attribute)
	assert.Equal(t, models.KindDatabase, q.slots[2].Kind)
}

func TestBuildQueue_SpokenRegionRaisesNoSlot(t *testing.T) {
	engine, extractor := newTestEngine(t)
	res := extract(t, extractor, "deploy a small server in eu-west-1")

	q := engine.BuildQueue(res)

	assert.True(t, q.Empty())
}

// ==========================
// 2. Answer Handling
// ==========================

func TestAnswer_ValidAnswerClosesSlot(t *testing.T) {
	engine, extractor := newTestEngine(t)
	res := extract(t, extractor, "deploy a small server")
	q := engine.BuildQueue(res)
	require.Equal(t, 1, q.Len())

	warning, err := engine.Answer(q, res, q.Next(), "us-east-1")
	require.NoError(t, err)
	assert.Nil(t, warning)
	assert.True(t, q.Empty())
	assert.Equal(t, "us-east-1", res.Session["region"])
}

func TestAnswer_QueueStrictlyDecreases(t *testing.T) {
	engine, extractor := newTestEngine(t)
	res := extract(t, extractor, "deploy a database and a server")
	q := engine.BuildQueue(res)

	answers := map[string]string{
		"region":        "us-west-2",
		"instance_type": "t3.medium",
		"engine":        "postgres",
	}

	steps := 0
	initial := q.Len()
	for !q.Empty() {
		slot := q.Next()
		before := q.Len()
		warning, err := engine.Answer(q, res, slot, answers[slot.Attribute])
		require.NoError(t, err)
		assert.Nil(t, warning)
		assert.Equal(t, before-1, q.Len())
		steps++
	}
	assert.Equal(t, initial, steps)

	db := res.Intents[0]
	require.Equal(t, models.KindDatabase, db.Kind)
	assert.Equal(t, "postgres", db.Attributes["engine"])
	assert.Equal(t, models.ProvenanceUserAnswered, db.Provenance["engine"])
}

func TestAnswer_InvalidAnswerRepromptsSameSlot(t *testing.T) {
	engine, extractor := newTestEngine(t)
	res := extract(t, extractor, "deploy a database in us-east-1")
	q := engine.BuildQueue(res)
	require.Equal(t, 1, q.Len())
	slot := q.Next()
	require.Equal(t, "engine", slot.Attribute)

	warning, err := engine.Answer(q, res, slot, "oracle")
	require.Error(t, err)
	assert.Nil(t, warning)
	assert.True(t, pipelineerrors.IsCode(err, pipelineerrors.ErrCodeInvalidAnswer))

	// The queue did not advance.
	assert.Equal(t, 1, q.Len())
	assert.Same(t, slot, q.Next())
	assert.Equal(t, 1, slot.Attempts)
}

func TestAnswer_ExhaustedSlotDefaultsWithWarning(t *testing.T) {
	engine, extractor := newTestEngine(t)
	res := extract(t, extractor, "deploy a database in us-east-1")
	q := engine.BuildQueue(res)
	slot := q.Next()

	var warning *models.Warning
	for i := 0; i < 3; i++ {
		var err error
		warning, err = engine.Answer(q, res, slot, "oracle")
		if i < 2 {
			require.Error(t, err)
		} else {
			require.NoError(t, err)
		}
	}

	require.NotNil(t, warning)
	assert.Equal(t, string(pipelineerrors.ErrCodeAttributeDefaulted), warning.Code)
	assert.Equal(t, "database", warning.Resource)
	assert.Equal(t, models.SlotDefaulted, slot.State)
	assert.True(t, q.Empty())

	db := res.Intents[0]
	assert.Equal(t, "mysql", db.Attributes["engine"])
	assert.Equal(t, models.ProvenanceDefault, db.Provenance["engine"])
}

func TestAnswer_DefaultNeverOverwritesUserAnswer(t *testing.T) {
	engine, extractor := newTestEngine(t)
	res := extract(t, extractor, "deploy a server in us-east-1")
	q := engine.BuildQueue(res)

	slot := q.Next()
	require.Equal(t, "instance_type", slot.Attribute)
	_, err := engine.Answer(q, res, slot, "m5.large")
	require.NoError(t, err)

	compute := res.Intents[0]
	require.Equal(t, "m5.large", compute.Attributes["instance_type"])
	require.True(t, compute.Locked("instance_type", 0.6))

	// A stray slot for the answered attribute exhausts its attempts; the
	// fallback default must not clobber the user's value.
	stale := &models.AmbiguitySlot{
		Kind:       models.KindCompute,
		IntentName: compute.Name,
		Attribute:  "instance_type",
	}
	q.slots = append(q.slots, stale)
	for i := 0; i < 3; i++ {
		_, err = engine.Answer(q, res, stale, "")
	}
	require.NoError(t, err)
	require.True(t, q.Empty())

	assert.Equal(t, "m5.large", compute.Attributes["instance_type"])
	assert.Equal(t, models.ProvenanceUserAnswered, compute.Provenance["instance_type"])
}

// ==========================
// 3. Reopen & Defaults
// ==========================

func TestReopen_PutsSlotAtHeadWithValidSet(t *testing.T) {
	engine, extractor := newTestEngine(t)
	res := extract(t, extractor, "deploy a small server")
	q := engine.BuildQueue(res)

	_, err := engine.Answer(q, res, q.Next(), "us-east-1")
	require.NoError(t, err)
	require.True(t, q.Empty())

	compute := res.Intents[len(res.Intents)-1]
	require.Equal(t, models.KindCompute, compute.Kind)
	rejected := &models.AmbiguitySlot{
		Kind:       models.KindCompute,
		IntentName: compute.Name,
		Attribute:  "instance_type",
	}
	engine.Reopen(q, res, rejected, []string{"t2.micro", "t3.small"})

	require.Equal(t, 1, q.Len())
	slot := q.Next()
	assert.Equal(t, "instance_type", slot.Attribute)
	assert.Equal(t, []string{"t2.micro", "t3.small"}, slot.Candidates)
	assert.False(t, compute.HasAttribute("instance_type"))
	assert.Equal(t, models.SlotOpen, slot.State)
}

func TestFillDefaults(t *testing.T) {
	engine, extractor := newTestEngine(t)
	res := extract(t, extractor, "deploy a network with a mysql database in us-east-1")

	q := engine.BuildQueue(res)
	require.True(t, q.Empty(), "engine was spoken, region was spoken")

	engine.FillDefaults(res)

	assert.Equal(t, "aws", res.Session["provider"])

	network := res.Intents[0]
	require.Equal(t, models.KindNetwork, network.Kind)
	assert.Equal(t, "10.0.0.0/16", network.Attributes["cidr_block"])
	assert.Equal(t, models.ProvenanceDefault, network.Provenance["cidr_block"])

	db := res.Intents[1]
	require.Equal(t, models.KindDatabase, db.Kind)
	assert.Equal(t, "mysql", db.Attributes["engine"])
	// Engine version resolves per provider and engine.
	assert.Equal(t, "8.0", db.Attributes["engine_version"])
	assert.Equal(t, "20", db.Attributes["allocated_storage"])
	assert.Equal(t, "admin", db.Attributes["username"])
}

// ==========================
// 4. Answer Validation Rules
// ==========================

func TestValidateAnswer(t *testing.T) {
	lex, err := lexicon.Default()
	require.NoError(t, err)

	dbSpec := lex.Kind(models.KindDatabase)
	storage := dbSpec.Attribute("allocated_storage")
	require.NotNil(t, storage)

	netSpec := lex.Kind(models.KindNetwork)
	cidr := netSpec.Attribute("cidr_block")
	require.NotNil(t, cidr)

	assert.NoError(t, validateAnswer(storage, "100"))
	assert.Error(t, validateAnswer(storage, "4"), "below min")
	assert.Error(t, validateAnswer(storage, "5000"), "above max")
	assert.Error(t, validateAnswer(storage, "lots"), "not a number")
	assert.Error(t, validateAnswer(storage, ""))

	assert.NoError(t, validateAnswer(cidr, "192.168.0.0/24"))
	assert.Error(t, validateAnswer(cidr, "not-a-range"))
	assert.Error(t, validateAnswer(cidr, "2001:db8::/32"), "IPv6 rejected")
}
