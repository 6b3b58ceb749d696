package deepthink

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunProducesFourStages(t *testing.T) {
	result := Run("如何优化检索质量？", []string{"URL: https://example.com\n标题: 检索调优"}, 3)

	require.Len(t, result.Stages, 4)
	assert.Equal(t, StagePlan, result.Stages[0].Stage)
	assert.Equal(t, StageExecute, result.Stages[1].Stage)
	assert.Equal(t, StageReflect, result.Stages[2].Stage)
	assert.Equal(t, StageVerify, result.Stages[3].Stage)
	for _, stage := range result.Stages {
		assert.Equal(t, "success", stage.Status)
	}
}

func TestRunPlanStage(t *testing.T) {
	question := strings.Repeat("问", 120)
	result := Run(question, nil, 3)

	plan := result.Stages[0]
	items, ok := plan.Payload["planItems"].([]string)
	require.True(t, ok)
	require.Len(t, items, 5)

	// The question echo keeps only the first 80 runes.
	last := items[4]
	assert.True(t, strings.HasPrefix(last, "围绕用户问题落地："))
	assert.Contains(t, last, strings.Repeat("问", 80))
	assert.NotContains(t, last, strings.Repeat("问", 81))
	assert.Equal(t, "question_chars=120", plan.InputSummary)
}

func TestRunExecuteStage(t *testing.T) {
	evidence := []string{
		"  ",
		"first " + strings.Repeat("x", 300),
		"second",
		"third",
		"fourth",
	}
	result := Run("一个足够长的问题用于测试", evidence, 99)

	execute := result.Stages[1]
	assert.Equal(t, "evidence=4", execute.InputSummary)
	assert.Equal(t, "iterations=5", execute.OutputSummary)
	assert.Equal(t, 4, execute.Payload["evidenceCount"])
	assert.Equal(t, 5, execute.Payload["iterations"])

	preview, ok := execute.Payload["evidencePreview"].([]string)
	require.True(t, ok)
	require.Len(t, preview, 3)
	assert.Len(t, []rune(preview[0]), 200)
	assert.Equal(t, "second", preview[1])
}

func TestRunReflectStage(t *testing.T) {
	tests := []struct {
		name      string
		question  string
		evidence  []string
		wantRisks []string
	}{
		{
			name:     "no evidence and short question",
			question: "为什么",
			evidence: nil,
			wantRisks: []string{
				"当前缺少外部证据，回答可能偏泛化",
				"用户问题较短，目标可能不够明确",
			},
		},
		{
			name:      "evidence and clear question",
			question:  "这个问题写得足够具体了吗",
			evidence:  []string{"some evidence"},
			wantRisks: []string{"证据基本充分，主要风险是时效性变化"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := Run(tt.question, tt.evidence, 1)
			reflect := result.Stages[2]
			risks, ok := reflect.Payload["risks"].([]string)
			require.True(t, ok)
			assert.Equal(t, tt.wantRisks, risks)
		})
	}
}

func TestRunIterationFloor(t *testing.T) {
	result := Run("足够长的问题文本", nil, 0)
	assert.Equal(t, "iterations=1", result.Stages[1].OutputSummary)
}

func TestRunSummary(t *testing.T) {
	result := Run("列举系统的已知风险", []string{"e1", "e2"}, 2)

	assert.True(t, strings.HasPrefix(result.Summary, "深度思考摘要："))
	assert.Contains(t, result.Summary, "- 计划项: 5")
	assert.Contains(t, result.Summary, "- 证据条数: 2")
	assert.Contains(t, result.Summary, "- 风险条数: 1")
	assert.Contains(t, result.Summary, "结论 -> 证据 -> 风险 -> 下一步")

	verify := result.Stages[3]
	assert.Equal(t, "verification=passed", verify.OutputSummary)
	conclusion, ok := verify.Payload["conclusion"].(string)
	require.True(t, ok)
	assert.Contains(t, conclusion, "计划 5 项、证据 2 条、风险 1 条")
}
