// Package deepthink runs a fixed plan/execute/reflect/verify reasoning
// pipeline over a question and its collected evidence. The pipeline does
// not call a model; it produces structured guidance that is attached to
// the generation prompt.
package deepthink

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

// Stage names, in execution order.
const (
	StagePlan    = "plan"
	StageExecute = "execute"
	StageReflect = "reflect"
	StageVerify  = "verify"
)

const (
	minIterations = 1
	maxIterations = 5

	// questionPreviewRunes bounds how much of the question is echoed
	// into the plan.
	questionPreviewRunes = 80

	evidencePreviewItems = 3
	evidencePreviewRunes = 200
)

// StageResult records the outcome of a single pipeline stage.
type StageResult struct {
	Stage         string         `json:"stage"`
	Status        string         `json:"status"`
	LatencyMS     int64          `json:"latencyMs"`
	InputSummary  string         `json:"inputSummary"`
	OutputSummary string         `json:"outputSummary"`
	Payload       map[string]any `json:"payload"`
	ErrorMessage  string         `json:"errorMessage,omitempty"`
}

// Result is the outcome of a full pipeline run.
type Result struct {
	Summary string        `json:"summary"`
	Stages  []StageResult `json:"stages"`
}

// Run executes the four pipeline stages for the given question and
// evidence. Blank evidence entries are discarded and iterations is
// clamped to [1, 5].
func Run(question string, evidence []string, iterations int) *Result {
	stages := make([]StageResult, 0, 4)

	planStart := time.Now()
	planItems := buildPlan(question)
	stages = append(stages, StageResult{
		Stage:         StagePlan,
		Status:        "success",
		LatencyMS:     time.Since(planStart).Milliseconds(),
		InputSummary:  fmt.Sprintf("question_chars=%d", utf8.RuneCountInString(question)),
		OutputSummary: fmt.Sprintf("items=%d", len(planItems)),
		Payload:       map[string]any{"planItems": planItems},
	})

	executeStart := time.Now()
	evidenceItems := nonBlank(evidence)
	if iterations < minIterations {
		iterations = minIterations
	}
	if iterations > maxIterations {
		iterations = maxIterations
	}
	stages = append(stages, StageResult{
		Stage:         StageExecute,
		Status:        "success",
		LatencyMS:     time.Since(executeStart).Milliseconds(),
		InputSummary:  fmt.Sprintf("evidence=%d", len(evidenceItems)),
		OutputSummary: fmt.Sprintf("iterations=%d", iterations),
		Payload: map[string]any{
			"evidenceCount":   len(evidenceItems),
			"evidencePreview": previewEvidence(evidenceItems),
			"iterations":      iterations,
		},
	})

	reflectStart := time.Now()
	risks := assessRisks(question, evidenceItems)
	riskCandidates := len(evidenceItems)
	if riskCandidates < 1 {
		riskCandidates = 1
	}
	stages = append(stages, StageResult{
		Stage:         StageReflect,
		Status:        "success",
		LatencyMS:     time.Since(reflectStart).Milliseconds(),
		InputSummary:  fmt.Sprintf("risk_candidates=%d", riskCandidates),
		OutputSummary: fmt.Sprintf("risks=%d", len(risks)),
		Payload:       map[string]any{"risks": risks},
	})

	verifyStart := time.Now()
	conclusion := fmt.Sprintf(
		"已完成深度思考四阶段：计划 %d 项、证据 %d 条、风险 %d 条。回答时优先采用证据优先 + 风险提示 + 可执行建议结构。",
		len(planItems), len(evidenceItems), len(risks),
	)
	stages = append(stages, StageResult{
		Stage:         StageVerify,
		Status:        "success",
		LatencyMS:     time.Since(verifyStart).Milliseconds(),
		InputSummary:  fmt.Sprintf("plan=%d,evidence=%d", len(planItems), len(evidenceItems)),
		OutputSummary: "verification=passed",
		Payload:       map[string]any{"conclusion": conclusion},
	})

	summary := strings.Join([]string{
		"深度思考摘要：",
		fmt.Sprintf("- 计划项: %d", len(planItems)),
		fmt.Sprintf("- 证据条数: %d", len(evidenceItems)),
		fmt.Sprintf("- 风险条数: %d", len(risks)),
		"- 建议回答结构: 结论 -> 证据 -> 风险 -> 下一步",
	}, "\n")

	return &Result{Summary: summary, Stages: stages}
}

func buildPlan(question string) []string {
	return []string{
		"先明确问题目标和约束",
		"抽取现有证据并标注可信度",
		"识别信息缺口与潜在风险",
		"给出可执行结论与下一步建议",
		"围绕用户问题落地：" + truncateRunes(question, questionPreviewRunes),
	}
}

func assessRisks(question string, evidenceItems []string) []string {
	var risks []string
	if len(evidenceItems) == 0 {
		risks = append(risks, "当前缺少外部证据，回答可能偏泛化")
	}
	if utf8.RuneCountInString(question) < 8 {
		risks = append(risks, "用户问题较短，目标可能不够明确")
	}
	if len(risks) == 0 {
		risks = append(risks, "证据基本充分，主要风险是时效性变化")
	}
	return risks
}

func nonBlank(items []string) []string {
	kept := make([]string, 0, len(items))
	for _, item := range items {
		if strings.TrimSpace(item) != "" {
			kept = append(kept, item)
		}
	}
	return kept
}

func previewEvidence(items []string) []string {
	preview := make([]string, 0, evidencePreviewItems)
	for _, item := range items {
		if len(preview) == evidencePreviewItems {
			break
		}
		preview = append(preview, truncateRunes(item, evidencePreviewRunes))
	}
	return preview
}

func truncateRunes(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}
