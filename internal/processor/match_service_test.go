package processor_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devil3515/resume-parser/internal/billing"
	"github.com/devil3515/resume-parser/internal/parser"
	"github.com/devil3515/resume-parser/internal/processor"
	"github.com/devil3515/resume-parser/internal/storage/memory"
	"github.com/devil3515/resume-parser/pkg/agent"
)

const matchResponse = `Here is the analysis:
{"overallMatch": 82, "skillsMatch": 140, "experienceMatch": 70, "educationMatch": -5,
 "missingKeywords": ["Kubernetes"], "recommendedImprovements": ["Quantify impact"]}`

var sampleResume = map[string]any{
	"name":   "Ann Lee",
	"skills": []any{"Go", "SQL"},
}

func newMatchFixture(t *testing.T, llm *agent.MockChatClient) (*processor.MatchService, *billing.Service, *memory.BillingRepository) {
	t.Helper()
	repo := memory.NewBillingRepository()
	svc := billing.NewService(repo)
	_, _, err := svc.SeedDefaultPlans(context.Background())
	require.NoError(t, err)

	ms := processor.NewMatchService(parser.NewJobMatcher(llm),
		processor.WithMatchCache(memory.NewCache(time.Hour), 0),
		processor.WithMatchGate(svc),
	)
	return ms, svc, repo
}

func TestMatchService_MatchAndCache(t *testing.T) {
	llm := agent.NewMockChatClient(matchResponse, nil)
	ms, _, _ := newMatchFixture(t, llm)
	ctx := context.Background()

	result, err := ms.Match(ctx, "", sampleResume, "Senior Go engineer with Kubernetes")
	require.NoError(t, err)
	assert.Equal(t, 82, result.OverallMatch)
	assert.Equal(t, 100, result.SkillsMatch, "分数上限为100")
	assert.Equal(t, 0, result.EducationMatch, "分数下限为0")
	assert.Equal(t, []string{"Kubernetes"}, result.MissingKeywords)

	// 键顺序不同的同一份简历命中缓存
	reordered := map[string]any{"skills": []any{"Go", "SQL"}, "name": "Ann Lee"}
	cached, err := ms.Match(ctx, "", reordered, "Senior Go engineer with Kubernetes  ")
	require.NoError(t, err)
	assert.Equal(t, result, cached)
	assert.Equal(t, 1, llm.Calls())

	_, err = ms.Match(ctx, "", sampleResume, "Data analyst")
	require.NoError(t, err)
	assert.Equal(t, 2, llm.Calls(), "不同岗位描述重新评估")
}

func TestMatchService_FeatureGate(t *testing.T) {
	llm := agent.NewMockChatClient(matchResponse, nil)
	ms, svc, repo := newMatchFixture(t, llm)
	ctx := context.Background()

	free, err := repo.GetPlanByName(ctx, "Free")
	require.NoError(t, err)
	_, err = svc.Upgrade(ctx, "u-free", free.ID)
	require.NoError(t, err)

	_, err = ms.Match(ctx, "u-free", sampleResume, "Go engineer")
	assert.ErrorIs(t, err, billing.ErrFeatureNotAvailable)
	assert.Zero(t, llm.Calls())

	basic, err := repo.GetPlanByName(ctx, "Basic")
	require.NoError(t, err)
	_, err = svc.Upgrade(ctx, "u-basic", basic.ID)
	require.NoError(t, err)
	_, err = ms.Match(ctx, "u-basic", sampleResume, "Go engineer")
	assert.NoError(t, err)

	// 没有订阅的登录用户不受限制
	_, err = ms.Match(ctx, "u-nosub", sampleResume, "Go engineer")
	assert.NoError(t, err)
}

func TestMatchService_InputErrors(t *testing.T) {
	ms, _, _ := newMatchFixture(t, agent.NewMockChatClient(matchResponse, nil))
	ctx := context.Background()

	_, err := ms.Match(ctx, "", nil, "Go engineer")
	assert.ErrorIs(t, err, processor.ErrEmptyResumeData)

	_, err = ms.Match(ctx, "", sampleResume, "  ")
	assert.ErrorIs(t, err, processor.ErrEmptyJobDescription)

	_, err = processor.NewMatchService(nil).Match(ctx, "", sampleResume, "Go")
	assert.ErrorIs(t, err, processor.ErrMatcherNotInit)
}

func TestMatchService_MalformedResponse(t *testing.T) {
	ms, _, _ := newMatchFixture(t, agent.NewMockChatClient(`{"overallMatch": 80,`, nil))

	_, err := ms.Match(context.Background(), "", sampleResume, "Go engineer")
	assert.ErrorIs(t, err, parser.ErrMatchMalformed)
}
