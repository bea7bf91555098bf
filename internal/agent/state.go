package agent

import (
	"errors"
	"time"

	"github.com/nuridam/policy-agent-backend/internal/cache"
)

type QueryType string

const (
	QueryRetrieval QueryType = "retrieval"
	QueryCached    QueryType = "cached"
	QueryChitchat  QueryType = "chitchat"
)

type AnswerVariant string

const (
	VariantDocsOnly AnswerVariant = "docs_only"
	VariantWebOnly  AnswerVariant = "web_only"
	VariantHybrid   AnswerVariant = "hybrid"
)

// RetrievedDoc is a scored document chunk from the vector store.
type RetrievedDoc struct {
	Content string
	Score   float64
	DocType string
}

// WebSource is a web search hit carried into the answer with a citation ref.
type WebSource struct {
	Ref         int
	URL         string
	Title       string
	Snippet     string
	Score       float64
	FetchedDate time.Time
}

type EvidenceKind string

const (
	EvidenceDoc EvidenceKind = "doc"
	EvidenceWeb EvidenceKind = "web"
)

// Evidence is one answer citation, either a document excerpt or a web hit.
// Kind is the wire "source" discriminator; Label is the human-readable
// origin (section name or page title). Ref resolves [W<n>] markers in the
// answer text for web evidence.
type Evidence struct {
	Kind    EvidenceKind `json:"source"`
	Label   string       `json:"label,omitempty"`
	Content string       `json:"content"`
	Score   float64      `json:"score,omitempty"`
	URL     string       `json:"url,omitempty"`
	Ref     int          `json:"reference_id,omitempty"`
}

// QAState is the working state of one question-answering turn. Inputs are
// the snapshot taken at invocation start; everything else is filled in by
// the nodes and committed by the caller afterwards.
type QAState struct {
	SessionID string
	PolicyID  int64
	Message   string
	History   []cache.Turn
	Policy    *cache.PolicyContext

	QueryType  QueryType
	NeedsWeb   bool
	Documents  []RetrievedDoc
	WebSources []WebSource

	Variant  AnswerVariant
	Answer   string
	Evidence []Evidence
}

type Verdict string

const (
	VerdictPass    Verdict = "PASS"
	VerdictFail    Verdict = "FAIL"
	VerdictUnknown Verdict = "UNKNOWN"
)

type Decision string

const (
	DecisionEligible    Decision = "ELIGIBLE"
	DecisionNotEligible Decision = "NOT_ELIGIBLE"
	DecisionPartially   Decision = "PARTIALLY"
)

type Phase string

const (
	PhaseNotStarted Phase = "NOT_STARTED"
	PhaseAsking     Phase = "ASKING"
	PhaseDecided    Phase = "DECIDED"
)

// Condition is one parsed eligibility requirement. The condition list is
// fixed once parsed; only Verdict and Reason change afterwards.
type Condition struct {
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Kind        string  `json:"type"`
	Value       string  `json:"value"`
	Verdict     Verdict `json:"verdict"`
	Reason      string  `json:"reason,omitempty"`
}

// EligibilityState is the full interview state for one eligibility session.
// Cursor only moves forward; a condition is evaluated at most once.
type EligibilityState struct {
	SessionID   string            `json:"session_id"`
	PolicyID    int64             `json:"policy_id"`
	ProgramName string            `json:"program_name"`
	ApplyTarget string            `json:"apply_target"`
	Conditions  []Condition       `json:"conditions"`
	Cursor      int               `json:"cursor"`
	Slots       map[string]string `json:"slots"`

	QuestionsAsked  int    `json:"questions_asked"`
	CurrentQuestion string `json:"current_question,omitempty"`
	UserAnswer      string `json:"-"`

	Phase    Phase    `json:"phase"`
	Decision Decision `json:"decision,omitempty"`
	Reason   string   `json:"reason,omitempty"`
}

var (
	// ErrNoConditions means the policy text yielded nothing checkable.
	ErrNoConditions = errors.New("no eligibility conditions could be parsed")

	// ErrSessionDecided rejects answers after the final decision.
	ErrSessionDecided = errors.New("eligibility session already decided")
)
