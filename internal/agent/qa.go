package agent

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/nuridam/policy-agent-backend/internal/platform/envutil"
	"github.com/nuridam/policy-agent-backend/internal/platform/logger"
	"github.com/nuridam/policy-agent-backend/internal/platform/openai"
	"github.com/nuridam/policy-agent-backend/internal/platform/tavily"
	"github.com/nuridam/policy-agent-backend/internal/platform/vector"
)

const (
	outcomeRetrieve     Outcome = "retrieve"
	outcomeCached       Outcome = "cached"
	outcomeChitchat     Outcome = "chitchat"
	outcomeSufficient   Outcome = "sufficient"
	outcomeInsufficient Outcome = "insufficient"
)

// Questions containing these need information fresher than the document
// snapshots (links, application procedure, forms).
var webTriggerKeywords = []string{
	"최신", "링크", "홈페이지", "신청 방법", "접수",
	"url", "사이트", "웹사이트", "온라인", "신청서",
	"다운로드", "양식", "공고문",
	"latest", "link", "website", "homepage", "how to apply", "download",
}

var chitchatKeywords = []string{
	"안녕", "반가워", "고마워", "감사합니다", "잘가",
	"hello", "hi ", "thanks", "thank you", "bye",
}

// Follow-up referents that can be answered from the cached document snapshot
// without a new retrieval round.
var cachedAnswerKeywords = []string{
	"방금", "아까", "다시", "요약", "정리해",
	"summarize", "again", "you said",
}

// QAConfig holds the retrieval and sufficiency thresholds for the QA graph.
type QAConfig struct {
	TopK                int
	ScoreThreshold      float64
	SufficiencyMinDocs  int
	SufficiencyAvgScore float64
	WebMaxSources       int
	PromptMaxHistory    int
	PromptMaxDocChars   int
}

func QAConfigFromEnv() QAConfig {
	return QAConfig{
		TopK:                envutil.Int("QA_RETRIEVE_TOP_K", 5),
		ScoreThreshold:      envutil.Float("QA_RETRIEVE_SCORE_THRESHOLD", 0.7),
		SufficiencyMinDocs:  envutil.Int("QA_SUFFICIENCY_MIN_DOCS", 2),
		SufficiencyAvgScore: envutil.Float("QA_SUFFICIENCY_AVG_SCORE", 0.75),
		WebMaxSources:       envutil.Int("QA_WEB_MAX_SOURCES", 2),
		PromptMaxHistory:    envutil.Int("QA_PROMPT_MAX_HISTORY", 25),
		PromptMaxDocChars:   envutil.Int("QA_PROMPT_MAX_DOC_CHARS", 500),
	}
}

type qaGraph struct {
	log     *logger.Logger
	ai      openai.Client
	vectors vector.Store
	web     tavily.Client
	cfg     QAConfig
	now     func() time.Time
}

// NewQAGraph builds the question-answering workflow:
// classify -> retrieve -> check_sufficiency -> (web_search ->) generate_answer.
// vectors and web may be nil; the matching tiers then degrade silently.
func NewQAGraph(log *logger.Logger, ai openai.Client, vectors vector.Store, web tavily.Client, cfg QAConfig) (*Graph[QAState], error) {
	q := &qaGraph{
		log:     log.With("graph", "qa"),
		ai:      ai,
		vectors: vectors,
		web:     web,
		cfg:     cfg,
		now:     time.Now,
	}

	nodes := []Node[QAState]{
		{Name: "classify", Run: q.classify},
		{Name: "retrieve", Run: q.retrieve},
		{Name: "check_sufficiency", Run: q.checkSufficiency},
		{Name: "web_search", Run: q.webSearch},
		{Name: "generate_answer", Run: q.generateAnswer},
	}
	edges := map[string]map[Outcome]string{
		"classify": {
			outcomeRetrieve: "retrieve",
			outcomeCached:   "check_sufficiency",
			outcomeChitchat: "generate_answer",
		},
		"retrieve": {OutcomeNext: "check_sufficiency"},
		"check_sufficiency": {
			outcomeSufficient:   "generate_answer",
			outcomeInsufficient: "web_search",
		},
		"web_search":      {OutcomeNext: "generate_answer"},
		"generate_answer": {OutcomeNext: End},
	}
	return NewGraph("qa", "classify", nodes, edges)
}

func containsAny(s string, keywords []string) bool {
	lower := strings.ToLower(s)
	for _, k := range keywords {
		if strings.Contains(lower, k) {
			return true
		}
	}
	return false
}

func (q *qaGraph) classify(ctx context.Context, s *QAState) (Outcome, error) {
	s.NeedsWeb = containsAny(s.Message, webTriggerKeywords)

	switch {
	case containsAny(s.Message, chitchatKeywords) && len([]rune(s.Message)) < 30 && !s.NeedsWeb:
		s.QueryType = QueryChitchat
	case s.Policy != nil && len(s.Policy.Documents) > 0 && containsAny(s.Message, cachedAnswerKeywords):
		s.QueryType = QueryCached
		for _, d := range s.Policy.Documents {
			s.Documents = append(s.Documents, RetrievedDoc{Content: d.Content, Score: d.Score})
		}
	default:
		s.QueryType = QueryRetrieval
	}

	q.log.Info("Query classified",
		"session_id", s.SessionID,
		"query_type", string(s.QueryType),
		"need_web_search", s.NeedsWeb,
	)

	switch s.QueryType {
	case QueryChitchat:
		return outcomeChitchat, nil
	case QueryCached:
		return outcomeCached, nil
	default:
		return outcomeRetrieve, nil
	}
}

// retrieve embeds the question and pulls the top chunks for the session's
// policy. Failures degrade to an empty document set; sufficiency then routes
// through web search.
func (q *qaGraph) retrieve(ctx context.Context, s *QAState) (Outcome, error) {
	if q.vectors == nil || q.ai == nil {
		return OutcomeNext, nil
	}

	vecs, err := q.ai.Embed(ctx, []string{s.Message})
	if err != nil || len(vecs) == 0 {
		q.log.Warn("Query embedding failed; continuing without documents", "session_id", s.SessionID, "error", fmt.Sprint(err))
		return OutcomeNext, nil
	}

	var filter map[string]any
	if s.PolicyID != 0 {
		filter = map[string]any{"policy_id": s.PolicyID}
	}

	matches, err := q.vectors.Query(ctx, vector.Query{
		Vector:         vecs[0],
		TopK:           q.cfg.TopK,
		ScoreThreshold: q.cfg.ScoreThreshold,
		Filter:         filter,
	})
	if err != nil {
		q.log.Warn("Vector retrieval failed; continuing without documents", "session_id", s.SessionID, "error", err.Error())
		return OutcomeNext, nil
	}

	for _, m := range matches {
		content, _ := m.Payload["content"].(string)
		docType, _ := m.Payload["doc_type"].(string)
		if content == "" {
			continue
		}
		s.Documents = append(s.Documents, RetrievedDoc{
			Content: content,
			Score:   m.Score,
			DocType: docType,
		})
	}

	q.log.Info("Documents retrieved", "session_id", s.SessionID, "results_count", len(s.Documents))
	return OutcomeNext, nil
}

// checkSufficiency gates web search: enough documents with a high enough
// average score answer the question on their own.
func (q *qaGraph) checkSufficiency(ctx context.Context, s *QAState) (Outcome, error) {
	if s.NeedsWeb {
		return outcomeInsufficient, nil
	}
	if len(s.Documents) < q.cfg.SufficiencyMinDocs {
		s.NeedsWeb = true
		return outcomeInsufficient, nil
	}

	var sum float64
	for _, d := range s.Documents {
		sum += d.Score
	}
	avg := sum / float64(len(s.Documents))
	if avg < q.cfg.SufficiencyAvgScore {
		s.NeedsWeb = true
		q.log.Info("Low average retrieval score", "session_id", s.SessionID, "avg_score", avg)
		return outcomeInsufficient, nil
	}
	return outcomeSufficient, nil
}

func (q *qaGraph) webSearch(ctx context.Context, s *QAState) (Outcome, error) {
	if q.web == nil {
		return OutcomeNext, nil
	}

	query := s.Message
	if s.Policy != nil && s.Policy.ProgramName != "" {
		query = s.Policy.ProgramName + " " + query
	}

	hits, err := q.web.Search(ctx, query, q.cfg.WebMaxSources)
	if err != nil {
		q.log.Warn("Web search failed; answering from documents only", "session_id", s.SessionID, "error", err.Error())
		return OutcomeNext, nil
	}

	for i, h := range hits {
		if i >= q.cfg.WebMaxSources {
			break
		}
		s.WebSources = append(s.WebSources, WebSource{
			Ref:         len(s.WebSources) + 1,
			URL:         h.URL,
			Title:       h.Title,
			Snippet:     h.Snippet,
			Score:       h.Score,
			FetchedDate: q.now(),
		})
	}

	q.log.Info("Web search completed", "session_id", s.SessionID, "results_count", len(s.WebSources))
	return OutcomeNext, nil
}

func (q *qaGraph) generateAnswer(ctx context.Context, s *QAState) (Outcome, error) {
	if q.ai == nil {
		return OutcomeNext, fmt.Errorf("llm client not configured")
	}

	switch {
	case len(s.Documents) > 0 && len(s.WebSources) > 0:
		s.Variant = VariantHybrid
	case len(s.WebSources) > 0:
		s.Variant = VariantWebOnly
	default:
		s.Variant = VariantDocsOnly
	}

	system := "당신은 정부 정책 전문 상담사입니다. 제공된 정책 정보와 출처만 근거로 정확하게 답변하세요."
	if s.QueryType == QueryChitchat {
		system = "당신은 정부 정책 상담 서비스의 친절한 상담사입니다. 짧게 인사하고 정책 관련 질문을 권해 주세요."
	}

	answer, err := q.ai.GenerateText(ctx, system, q.buildPrompt(s))
	if err != nil {
		return OutcomeNext, fmt.Errorf("answer generation: %w", err)
	}
	s.Answer = strings.TrimSpace(answer)

	for _, d := range s.Documents {
		label := "정책 문서"
		if d.DocType != "" {
			label = fmt.Sprintf("정책 문서 (섹션: %s)", d.DocType)
		}
		s.Evidence = append(s.Evidence, Evidence{
			Kind:    EvidenceDoc,
			Label:   label,
			Content: truncateRunes(d.Content, 200),
			Score:   d.Score,
		})
	}
	for _, w := range s.WebSources {
		s.Evidence = append(s.Evidence, Evidence{
			Kind:    EvidenceWeb,
			Label:   w.Title,
			Content: truncateRunes(w.Snippet, 200),
			Score:   w.Score,
			URL:     w.URL,
			Ref:     w.Ref,
		})
	}
	return OutcomeNext, nil
}

// buildPrompt keeps the prompt bounded: truncated policy summary, capped
// document excerpts, capped web sources, trailing history window.
func (q *qaGraph) buildPrompt(s *QAState) string {
	var b strings.Builder

	if s.Policy != nil {
		fmt.Fprintf(&b, "## 정책 정보\n정책명: %s\n%s\n\n", s.Policy.ProgramName, truncateRunes(s.Policy.Summary, 1000))
	}

	if len(s.Documents) > 0 {
		b.WriteString("## 관련 문서\n")
		for i, d := range s.Documents {
			fmt.Fprintf(&b, "[%d] %s\n", i+1, truncateRunes(d.Content, q.cfg.PromptMaxDocChars))
		}
		b.WriteString("\n")
	}

	if len(s.WebSources) > 0 {
		b.WriteString("## 웹 검색 결과 (답변에 [W번호]로 인용)\n")
		for _, w := range s.WebSources {
			fmt.Fprintf(&b, "[W%d] %s - %s (%s)\n", w.Ref, w.Title, truncateRunes(w.Snippet, q.cfg.PromptMaxDocChars), w.URL)
		}
		b.WriteString("\n")
	}

	history := s.History
	if len(history) > q.cfg.PromptMaxHistory {
		history = history[len(history)-q.cfg.PromptMaxHistory:]
	}
	if len(history) > 0 {
		b.WriteString("## 이전 대화\n")
		for _, t := range history {
			fmt.Fprintf(&b, "%s: %s\n", t.Role, t.Content)
		}
		b.WriteString("\n")
	}

	fmt.Fprintf(&b, "## 질문\n%s\n", s.Message)
	return b.String()
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
