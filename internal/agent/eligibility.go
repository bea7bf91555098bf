package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/nuridam/policy-agent-backend/internal/platform/envutil"
	"github.com/nuridam/policy-agent-backend/internal/platform/logger"
	"github.com/nuridam/policy-agent-backend/internal/platform/openai"
)

const (
	outcomeAsk    Outcome = "ask"
	outcomeDecide Outcome = "decide"
)

type EligibilityConfig struct {
	// Interviews stop asking after this many questions; remaining
	// conditions stay UNKNOWN.
	QuestionBudget int
}

func EligibilityConfigFromEnv() EligibilityConfig {
	return EligibilityConfig{
		QuestionBudget: envutil.Int("ELIGIBILITY_QUESTION_BUDGET", 10),
	}
}

type eligibilityGraph struct {
	log *logger.Logger
	ai  openai.Client
	cfg EligibilityConfig
}

// NewEligibilityStartGraph parses conditions from the policy text, pre-fills
// what known slots already settle, and produces the first question (or jumps
// straight to the decision when nothing needs asking).
func NewEligibilityStartGraph(log *logger.Logger, ai openai.Client, cfg EligibilityConfig) (*Graph[EligibilityState], error) {
	e := &eligibilityGraph{log: log.With("graph", "eligibility"), ai: ai, cfg: cfg}

	nodes := []Node[EligibilityState]{
		{Name: "parse_conditions", Run: e.parseConditions},
		{Name: "prefill_slots", Run: e.prefillSlots},
		{Name: "generate_question", Run: e.generateQuestion},
		{Name: "final_decision", Run: e.finalDecision},
	}
	edges := map[string]map[Outcome]string{
		"parse_conditions": {OutcomeNext: "prefill_slots"},
		"prefill_slots":    {OutcomeNext: "generate_question"},
		"generate_question": {
			outcomeAsk:    End,
			outcomeDecide: "final_decision",
		},
		"final_decision": {OutcomeNext: End},
	}
	return NewGraph("eligibility_start", "parse_conditions", nodes, edges)
}

// NewEligibilityAnswerGraph evaluates one user answer and either asks the
// next question or reaches the final decision.
func NewEligibilityAnswerGraph(log *logger.Logger, ai openai.Client, cfg EligibilityConfig) (*Graph[EligibilityState], error) {
	e := &eligibilityGraph{log: log.With("graph", "eligibility"), ai: ai, cfg: cfg}

	nodes := []Node[EligibilityState]{
		{Name: "record_answer", Run: e.recordAnswer},
		{Name: "generate_question", Run: e.generateQuestion},
		{Name: "final_decision", Run: e.finalDecision},
	}
	edges := map[string]map[Outcome]string{
		"record_answer": {OutcomeNext: "generate_question"},
		"generate_question": {
			outcomeAsk:    End,
			outcomeDecide: "final_decision",
		},
		"final_decision": {OutcomeNext: End},
	}
	return NewGraph("eligibility_answer", "record_answer", nodes, edges)
}

var conditionsSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"conditions": map[string]any{
			"type": "array",
			"items": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"name":        map[string]any{"type": "string"},
					"description": map[string]any{"type": "string"},
					"type": map[string]any{
						"type": "string",
						"enum": []string{"region", "age", "business_status", "income", "other"},
					},
					"value": map[string]any{"type": "string"},
				},
				"required":             []string{"name", "description", "type", "value"},
				"additionalProperties": false,
			},
		},
	},
	"required":             []string{"conditions"},
	"additionalProperties": false,
}

func (e *eligibilityGraph) parseConditions(ctx context.Context, s *EligibilityState) (Outcome, error) {
	if strings.TrimSpace(s.ApplyTarget) == "" {
		return OutcomeNext, ErrNoConditions
	}

	prompt := fmt.Sprintf(
		"다음 정책의 신청 대상 설명에서 확인 가능한 자격 조건을 모두 추출하세요.\n\n정책명: %s\n신청 대상: %s",
		s.ProgramName, s.ApplyTarget,
	)
	out, err := e.ai.GenerateJSON(ctx, "당신은 정책 자격 조건 분석 전문가입니다.", prompt, "eligibility_conditions", conditionsSchema)
	if err != nil {
		return OutcomeNext, fmt.Errorf("parse conditions: %w", err)
	}

	raw, err := json.Marshal(out["conditions"])
	if err != nil {
		return OutcomeNext, fmt.Errorf("parse conditions: %w", err)
	}
	var conditions []Condition
	if err := json.Unmarshal(raw, &conditions); err != nil {
		return OutcomeNext, fmt.Errorf("parse conditions: %w", err)
	}
	if len(conditions) == 0 {
		return OutcomeNext, ErrNoConditions
	}

	for i := range conditions {
		conditions[i].Verdict = VerdictUnknown
	}
	s.Conditions = conditions
	s.Cursor = 0
	s.Phase = PhaseAsking
	if s.Slots == nil {
		s.Slots = map[string]string{}
	}

	e.log.Info("Conditions parsed",
		"session_id", s.SessionID,
		"policy_id", s.PolicyID,
		"conditions_count", len(conditions),
	)
	return OutcomeNext, nil
}

// prefillSlots settles conditions that need no question. Nationwide region
// conditions always pass; known slots from earlier answers carry over.
func (e *eligibilityGraph) prefillSlots(ctx context.Context, s *EligibilityState) (Outcome, error) {
	for i := range s.Conditions {
		c := &s.Conditions[i]
		if c.Verdict != VerdictUnknown {
			continue
		}

		if c.Kind == "region" && strings.Contains(c.Value, "전국") {
			c.Verdict = VerdictPass
			c.Reason = "전국 대상 정책입니다."
			continue
		}

		if known, ok := s.Slots[c.Kind]; ok && known != "" {
			lowKnown := strings.ToLower(known)
			lowValue := strings.ToLower(c.Value)
			if strings.Contains(lowKnown, lowValue) || strings.Contains(lowValue, lowKnown) {
				c.Verdict = VerdictPass
				c.Reason = fmt.Sprintf("사용자 정보와 일치: %s", known)
			}
		}
	}
	return OutcomeNext, nil
}

// nextUnasked returns the first condition at or after the cursor that still
// needs a question, or -1.
func nextUnasked(s *EligibilityState) int {
	for i := s.Cursor; i < len(s.Conditions); i++ {
		if s.Conditions[i].Verdict == VerdictUnknown && s.Conditions[i].Reason == "" {
			return i
		}
	}
	return -1
}

func (e *eligibilityGraph) generateQuestion(ctx context.Context, s *EligibilityState) (Outcome, error) {
	idx := nextUnasked(s)
	if idx < 0 {
		s.CurrentQuestion = ""
		s.Cursor = len(s.Conditions)
		return outcomeDecide, nil
	}
	if s.QuestionsAsked >= e.cfg.QuestionBudget {
		e.log.Info("Question budget exhausted", "session_id", s.SessionID, "asked", s.QuestionsAsked)
		s.CurrentQuestion = ""
		return outcomeDecide, nil
	}

	c := s.Conditions[idx]
	prompt := fmt.Sprintf(
		"정책 「%s」의 자격 조건을 확인하는 질문 하나를 한국어로 작성하세요. 한 문장으로, 존댓말로 질문하세요.\n\n조건명: %s\n설명: %s\n유형: %s",
		s.ProgramName, c.Name, c.Description, c.Kind,
	)
	question, err := e.ai.GenerateText(ctx, "당신은 친절한 정책 상담사입니다.", prompt)
	if err != nil {
		e.log.Warn("Question generation failed; using template", "session_id", s.SessionID, "error", err.Error())
		question = fmt.Sprintf("「%s」 조건에 해당하시나요? (%s)", c.Name, c.Description)
	}

	s.CurrentQuestion = strings.TrimSpace(question)
	s.Cursor = idx
	s.QuestionsAsked++
	return outcomeAsk, nil
}

var verdictSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"verdict": map[string]any{
			"type": "string",
			"enum": []string{"PASS", "FAIL", "UNKNOWN"},
		},
		"reason": map[string]any{"type": "string"},
	},
	"required":             []string{"verdict", "reason"},
	"additionalProperties": false,
}

// recordAnswer judges the answer to the condition at the cursor. The verdict
// is written once and the cursor advances; ambiguous or off-topic answers
// stay UNKNOWN rather than triggering a re-ask.
func (e *eligibilityGraph) recordAnswer(ctx context.Context, s *EligibilityState) (Outcome, error) {
	if s.Phase == PhaseDecided {
		return OutcomeNext, ErrSessionDecided
	}
	if s.Cursor >= len(s.Conditions) {
		return OutcomeNext, nil
	}

	c := &s.Conditions[s.Cursor]
	answer := strings.TrimSpace(s.UserAnswer)

	if s.Slots == nil {
		s.Slots = map[string]string{}
	}
	slot := c.Kind
	if slot == "" || slot == "other" {
		slot = c.Name
	}
	s.Slots[slot] = answer

	verdict, reason := e.judgeAnswer(ctx, *c, answer)
	c.Verdict = verdict
	c.Reason = reason

	e.log.Info("Answer processed",
		"session_id", s.SessionID,
		"condition_index", s.Cursor,
		"verdict", string(verdict),
	)

	s.Cursor++
	s.UserAnswer = ""
	return OutcomeNext, nil
}

func (e *eligibilityGraph) judgeAnswer(ctx context.Context, c Condition, answer string) (Verdict, string) {
	if answer == "" {
		return VerdictUnknown, "답변이 없어 확인이 필요합니다."
	}

	prompt := fmt.Sprintf(
		"자격 조건과 사용자 답변을 비교해 판정하세요. 조건을 만족하면 PASS, 만족하지 않으면 FAIL, 답변이 모호하거나 무관하면 UNKNOWN입니다.\n\n조건명: %s\n설명: %s\n기준: %s\n사용자 답변: %s",
		c.Name, c.Description, c.Value, answer,
	)
	out, err := e.ai.GenerateJSON(ctx, "당신은 정책 자격 조건 분석 전문가입니다.", prompt, "condition_verdict", verdictSchema)
	if err != nil {
		e.log.Warn("Answer judgment failed; keeping condition unknown", "error", err.Error())
		return VerdictUnknown, fmt.Sprintf("답변: %s (추가 확인 필요)", answer)
	}

	reason, _ := out["reason"].(string)
	switch out["verdict"] {
	case "PASS":
		return VerdictPass, reason
	case "FAIL":
		return VerdictFail, reason
	default:
		return VerdictUnknown, reason
	}
}

func (e *eligibilityGraph) finalDecision(ctx context.Context, s *EligibilityState) (Outcome, error) {
	var failCount, unknownCount int
	for _, c := range s.Conditions {
		switch c.Verdict {
		case VerdictFail:
			failCount++
		case VerdictUnknown:
			unknownCount++
		}
	}

	switch {
	case len(s.Conditions) == 0:
		s.Decision = DecisionNotEligible
		s.Reason = "확인할 조건이 없습니다."
	case failCount > 0:
		s.Decision = DecisionNotEligible
		s.Reason = fmt.Sprintf("%d개 조건을 만족하지 못합니다.", failCount)
	case unknownCount > 0:
		s.Decision = DecisionPartially
		s.Reason = fmt.Sprintf("%d개 조건은 추가 확인이 필요합니다.", unknownCount)
	default:
		s.Decision = DecisionEligible
		s.Reason = "모든 자격 조건을 충족합니다."
	}
	s.Phase = PhaseDecided

	e.log.Info("Final decision made",
		"session_id", s.SessionID,
		"result", string(s.Decision),
		"fail", failCount,
		"unknown", unknownCount,
	)
	return OutcomeNext, nil
}
