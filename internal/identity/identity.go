// Package identity resolves a candidate from a loosely formatted phone number.
//
// Resolution is an ordered cascade of pure match steps run over the
// candidates already attached to one job. The first step that matches wins.
package identity

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/fairyhunter13/ai-interview-orchestrator/internal/domain"
	"github.com/fairyhunter13/ai-interview-orchestrator/internal/observability"
	"github.com/fairyhunter13/ai-interview-orchestrator/pkg/textx"
)

// SuffixLen is the number of trailing digits compared by the suffix steps.
const SuffixLen = 8

// MinDigits is the fewest digits a phone may carry to be resolved. Shorter
// inputs would let the contains steps match unrelated candidates.
const MinDigits = SuffixLen

// Input is a phone number as received plus its digits-only form.
type Input struct {
	Raw    string
	Digits string
}

// Normalize strips every non-digit from raw.
func Normalize(raw string) Input {
	return Input{Raw: strings.TrimSpace(raw), Digits: textx.DigitsOnly(raw)}
}

// Usable reports whether in carries enough digits to identify a candidate.
func (in Input) Usable() bool { return len(in.Digits) >= MinDigits }

// Suffix returns the trailing SuffixLen digits, or "" when the input is not
// longer than that.
func (in Input) Suffix() string {
	if len(in.Digits) <= SuffixLen {
		return ""
	}
	return textx.LastN(in.Digits, SuffixLen)
}

// Step is one stage of the cascade.
type Step struct {
	Name  string
	Match func(in Input, candidates []domain.Candidate) (domain.Candidate, bool)
}

// Cascade is the resolution order.
var Cascade = []Step{
	{Name: "exact_digits", Match: ExactDigits},
	{Name: "contains_digits", Match: ContainsDigits},
	{Name: "exact_raw", Match: ExactRaw},
	{Name: "contains_raw", Match: ContainsRaw},
	{Name: "suffix", Match: SuffixMatch},
	{Name: "contains_suffix", Match: ContainsSuffix},
}

func first(candidates []domain.Candidate, pred func(domain.Candidate) bool) (domain.Candidate, bool) {
	for _, c := range candidates {
		if pred(c) {
			return c, true
		}
	}
	return domain.Candidate{}, false
}

// rawValues are the stored phone strings of c as they were written.
func rawValues(c domain.Candidate) []string {
	out := make([]string, 0, len(c.PhoneVariants)+1)
	if c.Phone != "" {
		out = append(out, c.Phone)
	}
	return append(out, c.PhoneVariants...)
}

// ExactDigits matches the stored normalized phone exactly.
func ExactDigits(in Input, candidates []domain.Candidate) (domain.Candidate, bool) {
	if in.Digits == "" {
		return domain.Candidate{}, false
	}
	return first(candidates, func(c domain.Candidate) bool { return c.Phone == in.Digits })
}

// ContainsDigits matches a stored phone carrying extra prefix digits.
func ContainsDigits(in Input, candidates []domain.Candidate) (domain.Candidate, bool) {
	if in.Digits == "" {
		return domain.Candidate{}, false
	}
	return first(candidates, func(c domain.Candidate) bool { return strings.Contains(c.Phone, in.Digits) })
}

// ExactRaw matches legacy unnormalized values verbatim.
func ExactRaw(in Input, candidates []domain.Candidate) (domain.Candidate, bool) {
	if in.Raw == "" {
		return domain.Candidate{}, false
	}
	return first(candidates, func(c domain.Candidate) bool {
		for _, v := range rawValues(c) {
			if v == in.Raw {
				return true
			}
		}
		return false
	})
}

// ContainsRaw matches a stored value that embeds the raw input.
func ContainsRaw(in Input, candidates []domain.Candidate) (domain.Candidate, bool) {
	if in.Raw == "" {
		return domain.Candidate{}, false
	}
	return first(candidates, func(c domain.Candidate) bool {
		for _, v := range rawValues(c) {
			if strings.Contains(v, in.Raw) {
				return true
			}
		}
		return false
	})
}

// SuffixMatch bridges local and international forms of the same number.
func SuffixMatch(in Input, candidates []domain.Candidate) (domain.Candidate, bool) {
	sfx := in.Suffix()
	if sfx == "" {
		return domain.Candidate{}, false
	}
	return first(candidates, func(c domain.Candidate) bool { return strings.HasSuffix(c.Phone, sfx) })
}

// ContainsSuffix matches a stored phone holding the suffix anywhere.
func ContainsSuffix(in Input, candidates []domain.Candidate) (domain.Candidate, bool) {
	sfx := in.Suffix()
	if sfx == "" {
		return domain.Candidate{}, false
	}
	return first(candidates, func(c domain.Candidate) bool { return strings.Contains(c.Phone, sfx) })
}

// Resolve runs the cascade over candidates. Within a step the earliest
// created candidate wins, then the lowest id. It returns the matching step
// name.
func Resolve(in Input, candidates []domain.Candidate) (domain.Candidate, string, bool) {
	ordered := make([]domain.Candidate, len(candidates))
	copy(ordered, candidates)
	sort.SliceStable(ordered, func(i, j int) bool {
		if !ordered[i].CreatedAt.Equal(ordered[j].CreatedAt) {
			return ordered[i].CreatedAt.Before(ordered[j].CreatedAt)
		}
		return ordered[i].ID < ordered[j].ID
	})
	for _, st := range Cascade {
		if c, ok := st.Match(in, ordered); ok {
			return c, st.Name, true
		}
	}
	return domain.Candidate{}, "", false
}

// Resolver loads the job-scoped candidate set and runs the cascade.
type Resolver struct {
	candidates domain.CandidateRepository
}

// NewResolver constructs a Resolver.
func NewResolver(candidates domain.CandidateRepository) *Resolver {
	return &Resolver{candidates: candidates}
}

// Resolve returns the candidate matching rawPhone among those applied to
// jobID, or domain.ErrNotFound. It never writes.
func (r *Resolver) Resolve(ctx domain.Context, jobID, rawPhone string) (domain.Candidate, error) {
	tracer := otel.Tracer("identity.resolver")
	ctx, span := tracer.Start(ctx, "Resolver.Resolve")
	defer span.End()
	span.SetAttributes(attribute.String("job.id", jobID))

	in := Normalize(rawPhone)
	if !in.Usable() {
		return domain.Candidate{}, fmt.Errorf("%w: phone needs at least %d digits", domain.ErrInvalidArgument, MinDigits)
	}
	cs, err := r.candidates.ListByJob(ctx, jobID)
	if err != nil {
		span.RecordError(err)
		return domain.Candidate{}, fmt.Errorf("op=identity.resolve: %w", err)
	}
	c, step, ok := Resolve(in, cs)
	if !ok {
		span.SetAttributes(attribute.Bool("identity.matched", false))
		return domain.Candidate{}, fmt.Errorf("op=identity.resolve: %w", domain.ErrNotFound)
	}
	span.SetAttributes(attribute.Bool("identity.matched", true), attribute.String("identity.step", step))
	observability.LoggerFromContext(ctx).Debug("candidate resolved",
		slog.String("job_id", jobID),
		slog.String("candidate_id", c.ID),
		slog.String("step", step),
		slog.Int("scope_size", len(cs)))
	return c, nil
}
