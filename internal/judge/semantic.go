package judge

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/signalnine/verdict/internal/result"
)

const (
	UnavailableReason = "semantic judge service unavailable: no judgment provided"
	missingReason     = "no judgment provided"
)

// Generator is the text-generation service the semantic judge consults.
type Generator interface {
	Health(ctx context.Context, timeout time.Duration) error
	Generate(ctx context.Context, prompt string) (string, error)
	Unload(ctx context.Context) error
}

type SemanticOpts struct {
	BatchSize      int
	MaxLogChars    int
	HealthTimeout  time.Duration
	DefaultTimeout time.Duration
}

// Semantic asks a language model whether each test's logs satisfy its
// natural-language criteria.
type Semantic struct {
	gen  Generator
	opts SemanticOpts
	log  zerolog.Logger
}

func NewSemantic(gen Generator, opts SemanticOpts, log zerolog.Logger) *Semantic {
	if opts.BatchSize < 1 {
		opts.BatchSize = 1
	}
	if opts.HealthTimeout <= 0 {
		opts.HealthTimeout = 3 * time.Second
	}
	return &Semantic{gen: gen, opts: opts, log: log.With().Str("component", "semantic-judge").Logger()}
}

func (s *Semantic) Name() string {
	return result.JudgeSemantic
}

// Available probes the service.
func (s *Semantic) Available(ctx context.Context) error {
	return s.gen.Health(ctx, s.opts.HealthTimeout)
}

func (s *Semantic) Judge(ctx context.Context, results []*result.TestResult) []result.Judgment {
	if len(results) == 0 {
		return nil
	}
	if err := s.Available(ctx); err != nil {
		s.log.Warn().Err(err).Msg("semantic judge service unavailable")
		return failAll(results, UnavailableReason)
	}

	out := make([]result.Judgment, 0, len(results))
	for start := 0; start < len(results); start += s.opts.BatchSize {
		end := min(start+s.opts.BatchSize, len(results))
		out = append(out, s.judgeBatch(ctx, results[start:end])...)
	}

	if err := s.gen.Unload(context.WithoutCancel(ctx)); err != nil {
		s.log.Warn().Err(err).Msg("unloading judge model failed")
	}
	return out
}

func (s *Semantic) judgeBatch(ctx context.Context, batch []*result.TestResult) []result.Judgment {
	ids := make([]string, len(batch))
	for i, r := range batch {
		ids[i] = r.Case.ID
	}
	log := s.log.With().Strs("tests", ids).Logger()

	started := time.Now()
	resp, err := s.gen.Generate(ctx, BuildPrompt(batch, s.opts.MaxLogChars, s.opts.DefaultTimeout))
	if err != nil {
		log.Warn().Err(err).Msg("semantic judge request failed")
		return failAll(batch, "semantic judge request failed: "+err.Error())
	}
	verdicts, err := ParseResponse(resp)
	if err != nil {
		log.Warn().Err(err).Msg("semantic judge response unusable")
		return failAll(batch, "semantic judge response unusable: "+err.Error())
	}
	log.Debug().Dur("duration", time.Since(started)).Int("verdicts", len(verdicts)).Msg("batch judged")

	byID := make(map[string]Verdict, len(verdicts))
	for _, v := range verdicts {
		if _, dup := byID[v.TestID]; !dup {
			byID[v.TestID] = v
		}
	}
	out := make([]result.Judgment, len(batch))
	for i, r := range batch {
		v, ok := byID[r.Case.ID]
		if !ok {
			out[i] = fail(r.Case.ID, missingReason)
			continue
		}
		reason := strings.TrimSpace(v.Reason)
		if reason == "" && v.Pass {
			reason = "criteria satisfied"
		} else if reason == "" {
			reason = "criteria not satisfied"
		}
		out[i] = result.Judgment{
			TestID:   r.Case.ID,
			Judge:    result.JudgeSemantic,
			Pass:     v.Pass,
			Reason:   reason,
			Evidence: strings.TrimSpace(v.Evidence),
		}
	}
	return out
}

func fail(id, reason string) result.Judgment {
	return result.Judgment{TestID: id, Judge: result.JudgeSemantic, Reason: reason}
}

func failAll(results []*result.TestResult, reason string) []result.Judgment {
	out := make([]result.Judgment, len(results))
	for i, r := range results {
		out[i] = fail(r.Case.ID, reason)
	}
	return out
}

// Verdict is one entry of the model's response.
type Verdict struct {
	TestID   string `json:"testId"`
	Pass     bool   `json:"pass"`
	Reason   string `json:"reason"`
	Evidence string `json:"evidence"`
}

// ParseResponse extracts the verdict array from a model response. Markdown
// fences, surrounding prose and a wrapping object are tolerated.
func ParseResponse(content string) ([]Verdict, error) {
	content = strings.TrimSpace(content)
	if i := strings.Index(content, "```"); i >= 0 {
		inner := content[i+3:]
		inner = strings.TrimPrefix(inner, "json")
		if j := strings.Index(inner, "```"); j >= 0 {
			inner = inner[:j]
		}
		content = strings.TrimSpace(inner)
	}

	if v, err := decodeVerdicts([]byte(content)); err == nil {
		return v, nil
	}
	// Scan for the first embedded JSON value that decodes to verdicts; the
	// decoder finds where each candidate ends.
	for i := 0; i < len(content); i++ {
		if content[i] != '[' && content[i] != '{' {
			continue
		}
		var raw json.RawMessage
		if err := json.NewDecoder(strings.NewReader(content[i:])).Decode(&raw); err != nil {
			continue
		}
		if v, err := decodeVerdicts(raw); err == nil && len(v) > 0 {
			return v, nil
		}
	}
	return nil, errors.New("no JSON verdict array in response")
}

// decodeVerdicts accepts a verdict array, an object wrapping one such as
// {"results": [...]}, or a single verdict object.
func decodeVerdicts(raw []byte) ([]Verdict, error) {
	var list []Verdict
	if err := json.Unmarshal(raw, &list); err == nil {
		return list, nil
	}
	var single Verdict
	if err := json.Unmarshal(raw, &single); err == nil && single.TestID != "" {
		return []Verdict{single}, nil
	}
	var wrapper map[string]json.RawMessage
	if err := json.Unmarshal(raw, &wrapper); err != nil {
		return nil, err
	}
	for _, v := range wrapper {
		if json.Unmarshal(v, &list) == nil {
			return list, nil
		}
	}
	return nil, errors.New("object has no verdict array")
}
