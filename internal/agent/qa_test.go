package agent

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/nuridam/policy-agent-backend/internal/cache"
	"github.com/nuridam/policy-agent-backend/internal/platform/logger"
	"github.com/nuridam/policy-agent-backend/internal/platform/tavily"
	"github.com/nuridam/policy-agent-backend/internal/platform/vector"
)

type fakeAI struct {
	embedErr error
	text     string
	textErr  error
	jsonOuts []map[string]any
	jsonErr  error

	lastUserPrompt string
	jsonCalls      int
}

func (f *fakeAI) Embed(ctx context.Context, inputs []string) ([][]float32, error) {
	if f.embedErr != nil {
		return nil, f.embedErr
	}
	out := make([][]float32, len(inputs))
	for i := range out {
		out[i] = []float32{0.1, 0.2}
	}
	return out, nil
}

func (f *fakeAI) GenerateText(ctx context.Context, system, user string) (string, error) {
	f.lastUserPrompt = user
	if f.textErr != nil {
		return "", f.textErr
	}
	if f.text == "" {
		return "답변입니다.", nil
	}
	return f.text, nil
}

func (f *fakeAI) GenerateJSON(ctx context.Context, system, user, schemaName string, schema map[string]any) (map[string]any, error) {
	f.lastUserPrompt = user
	if f.jsonErr != nil {
		return nil, f.jsonErr
	}
	if f.jsonCalls >= len(f.jsonOuts) {
		return nil, errors.New("no fake json output left")
	}
	out := f.jsonOuts[f.jsonCalls]
	f.jsonCalls++
	return out, nil
}

type fakeVec struct {
	matches []vector.Match
	err     error
	called  bool
}

func (f *fakeVec) Query(ctx context.Context, q vector.Query) ([]vector.Match, error) {
	f.called = true
	return f.matches, f.err
}

type fakeWebSearch struct {
	results []tavily.Result
	err     error
	called  bool
}

func (f *fakeWebSearch) Search(ctx context.Context, query string, maxResults int) ([]tavily.Result, error) {
	f.called = true
	return f.results, f.err
}

func qaTestConfig() QAConfig {
	return QAConfig{
		TopK:                5,
		ScoreThreshold:      0.7,
		SufficiencyMinDocs:  2,
		SufficiencyAvgScore: 0.75,
		WebMaxSources:       2,
		PromptMaxHistory:    25,
		PromptMaxDocChars:   500,
	}
}

func docMatch(content string, score float64) vector.Match {
	return vector.Match{Score: score, Payload: man{"content": content, "doc_type": "overview"}}
}

type man = map[string]any

func runQA(t *testing.T, ai *fakeAI, vec *fakeVec, web *fakeWebSearch, s *QAState) {
	t.Helper()
	g, err := NewQAGraph(logger.NewNop(), ai, vec, web, qaTestConfig())
	if err != nil {
		t.Fatalf("NewQAGraph: %v", err)
	}
	if err := g.Run(context.Background(), s); err != nil {
		t.Fatalf("Run: %v", err)
	}
}

func TestQASufficientDocsSkipWebSearch(t *testing.T) {
	ai := &fakeAI{}
	vec := &fakeVec{matches: []vector.Match{
		docMatch("지원 대상은 청년입니다.", 0.9),
		docMatch("월 20만원을 지원합니다.", 0.8),
	}}
	web := &fakeWebSearch{}

	s := &QAState{SessionID: "s1", PolicyID: 1, Message: "지원 금액이 얼마인가요?"}
	runQA(t, ai, vec, web, s)

	if web.called {
		t.Fatal("web search must not run when documents are sufficient")
	}
	if s.Variant != VariantDocsOnly {
		t.Fatalf("variant = %q", s.Variant)
	}
	if len(s.Evidence) != 2 {
		t.Fatalf("evidence = %d, want 2", len(s.Evidence))
	}
	for _, e := range s.Evidence {
		if e.Kind != EvidenceDoc {
			t.Fatalf("evidence kind = %q", e.Kind)
		}
	}
}

func TestQAThinDocsTriggerWebSearch(t *testing.T) {
	ai := &fakeAI{}
	vec := &fakeVec{matches: []vector.Match{docMatch("개요", 0.9)}}
	web := &fakeWebSearch{results: []tavily.Result{
		{URL: "https://a.go.kr", Title: "공고 A", Snippet: "안내", Score: 0.6},
		{URL: "https://b.go.kr", Title: "공고 B", Snippet: "안내", Score: 0.5},
		{URL: "https://c.go.kr", Title: "공고 C", Snippet: "안내", Score: 0.4},
	}}

	s := &QAState{SessionID: "s1", PolicyID: 1, Message: "지원 내용이 뭐예요?"}
	runQA(t, ai, vec, web, s)

	if !web.called {
		t.Fatal("web search should run when documents are thin")
	}
	if len(s.WebSources) != 2 {
		t.Fatalf("web sources = %d, want capped at 2", len(s.WebSources))
	}
	if s.WebSources[0].Ref != 1 || s.WebSources[1].Ref != 2 {
		t.Fatalf("refs = %d, %d", s.WebSources[0].Ref, s.WebSources[1].Ref)
	}
	if s.Variant != VariantHybrid {
		t.Fatalf("variant = %q", s.Variant)
	}
}

func TestQALowScoresTriggerWebSearch(t *testing.T) {
	ai := &fakeAI{}
	vec := &fakeVec{matches: []vector.Match{
		docMatch("a", 0.71),
		docMatch("b", 0.72),
	}}
	web := &fakeWebSearch{}

	s := &QAState{SessionID: "s1", Message: "대상 조건은?"}
	runQA(t, ai, vec, web, s)

	if !web.called {
		t.Fatal("web search should run when the average score is low")
	}
}

func TestQAWebKeywordForcesWebSearch(t *testing.T) {
	ai := &fakeAI{}
	vec := &fakeVec{matches: []vector.Match{
		docMatch("a", 0.9),
		docMatch("b", 0.9),
	}}
	web := &fakeWebSearch{results: []tavily.Result{
		{URL: "https://apply.go.kr", Title: "신청 페이지", Snippet: "온라인 접수", Score: 0.7},
	}}

	s := &QAState{SessionID: "s1", Message: "신청 방법과 홈페이지 링크 알려주세요"}
	runQA(t, ai, vec, web, s)

	if !s.NeedsWeb {
		t.Fatal("keyword query should flag web search")
	}
	if !web.called {
		t.Fatal("web search should run for keyword-flagged queries")
	}
}

func TestQAChitchatSkipsRetrieval(t *testing.T) {
	ai := &fakeAI{text: "안녕하세요!"}
	vec := &fakeVec{}
	web := &fakeWebSearch{}

	s := &QAState{SessionID: "s1", Message: "안녕하세요"}
	runQA(t, ai, vec, web, s)

	if vec.called || web.called {
		t.Fatalf("retrieval ran for chitchat: vec=%v web=%v", vec.called, web.called)
	}
	if s.QueryType != QueryChitchat || s.Answer == "" {
		t.Fatalf("state = %+v", s)
	}
	if len(s.Evidence) != 0 {
		t.Fatalf("evidence = %d, want 0", len(s.Evidence))
	}
}

func TestQACachedFollowUpUsesSnapshot(t *testing.T) {
	ai := &fakeAI{}
	vec := &fakeVec{}
	web := &fakeWebSearch{}

	s := &QAState{
		SessionID: "s1",
		PolicyID:  1,
		Message:   "방금 내용 다시 요약해줘",
		Policy: &cache.PolicyContext{
			PolicyID:    1,
			ProgramName: "청년 월세 지원",
			Documents: []cache.DocumentSnapshot{
				{Content: "지원 대상", Score: 0.85},
				{Content: "지원 금액", Score: 0.8},
			},
		},
	}
	runQA(t, ai, vec, web, s)

	if vec.called {
		t.Fatal("cached follow-up must not hit the vector store")
	}
	if s.QueryType != QueryCached || len(s.Documents) != 2 {
		t.Fatalf("query_type=%q docs=%d", s.QueryType, len(s.Documents))
	}
}

func TestQARetrievalFailureDegradesToWeb(t *testing.T) {
	ai := &fakeAI{}
	vec := &fakeVec{err: errors.New("qdrant down")}
	web := &fakeWebSearch{results: []tavily.Result{
		{URL: "https://a.go.kr", Title: "공고", Snippet: "내용", Score: 0.6},
	}}

	s := &QAState{SessionID: "s1", Message: "지원 대상은 누구인가요?"}
	runQA(t, ai, vec, web, s)

	if s.Answer == "" {
		t.Fatal("expected an answer despite retrieval failure")
	}
	if s.Variant != VariantWebOnly {
		t.Fatalf("variant = %q, want web_only", s.Variant)
	}
}

func TestQAWebFailureDegradesToDocs(t *testing.T) {
	ai := &fakeAI{}
	vec := &fakeVec{matches: []vector.Match{docMatch("문서", 0.9)}}
	web := &fakeWebSearch{err: errors.New("tavily down")}

	s := &QAState{SessionID: "s1", Message: "지원 대상은?"}
	runQA(t, ai, vec, web, s)

	if s.Answer == "" {
		t.Fatal("expected an answer despite web failure")
	}
	if s.Variant != VariantDocsOnly || len(s.WebSources) != 0 {
		t.Fatalf("variant=%q web=%d", s.Variant, len(s.WebSources))
	}
}

func TestEvidenceWireShape(t *testing.T) {
	raw, err := json.Marshal(Evidence{
		Kind:    EvidenceWeb,
		Label:   "공고 A",
		Content: "신청 안내",
		Score:   0.8,
		URL:     "https://a.go.kr",
		Ref:     1,
	})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if m["source"] != "web" {
		t.Fatalf("source = %v", m["source"])
	}
	if m["reference_id"] != float64(1) {
		t.Fatalf("reference_id = %v", m["reference_id"])
	}
	if _, ok := m["kind"]; ok {
		t.Fatal("kind must not appear on the wire")
	}
}
