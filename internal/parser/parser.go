// Package parser splits generated analysis text into its three report sections.
package parser

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	apperrors "swot-insights/internal/common/errors"
	"swot-insights/internal/common/logger"
	"swot-insights/internal/models"
)

// DelimiterVersion names the heading contract below. Any wording change on
// the generator side requires a new version.
const DelimiterVersion = "v1"

// Section headings, matched case- and wording-exact, in this order.
const (
	MatrixDelimiter     = "### MATRIZ SWOT"
	DiagnosticDelimiter = "### DIAGNÓSTICO CONSULTIVO"
	ActionPlanDelimiter = "### PLANO DE AÇÃO A/B/C"
)

// Delimiters lists the section headings in required order.
var Delimiters = []string{MatrixDelimiter, DiagnosticDelimiter, ActionPlanDelimiter}

// Placeholder texts used by the fallback record.
const (
	MatrixPlaceholder     = "Matriz SWOT indisponível. Gere a análise novamente."
	DiagnosticPlaceholder = "Diagnóstico indisponível. Gere a análise novamente."
	ActionPlanPlaceholder = "Plano de ação indisponível. Gere a análise novamente."
)

const DefaultMinSectionLength = 50

type Options struct {
	MinSectionLength int
	SourceTag        string
	Logger           logger.Logger
	Now              func() time.Time
}

type Parser struct {
	minSectionLength int
	sourceTag        string
	logger           logger.Logger
	now              func() time.Time
}

func New(opts Options) *Parser {
	p := &Parser{
		minSectionLength: opts.MinSectionLength,
		sourceTag:        opts.SourceTag,
		logger:           opts.Logger,
		now:              opts.Now,
	}
	if p.minSectionLength <= 0 {
		p.minSectionLength = DefaultMinSectionLength
	}
	if p.logger == nil {
		p.logger = logger.NewNoOpLogger()
	}
	if p.now == nil {
		p.now = func() time.Time { return time.Now().UTC() }
	}
	return p
}

// ParseStrict requires every delimiter, in order, each followed by content.
// Violations return a malformed-response error.
func (p *Parser) ParseStrict(text string) (models.FinalResult, error) {
	spans, err := split(text)
	if err != nil {
		return models.FinalResult{}, err
	}

	for i, span := range spans {
		if span == "" {
			return models.FinalResult{}, apperrors.NewMalformedResponseError(
				fmt.Sprintf("section %q is empty", Delimiters[i]))
		}
		if n := utf8.RuneCountInString(span); n < p.minSectionLength {
			p.logger.Warn("Analysis section shorter than expected", map[string]interface{}{
				"section":   Delimiters[i],
				"length":    n,
				"minLength": p.minSectionLength,
			})
		}
	}

	return models.FinalResult{
		MatrixText:     spans[0],
		DiagnosticText: spans[1],
		ActionPlanText: spans[2],
		Ready:          true,
		SourceTag:      p.sourceTag,
		CreatedAt:      p.now(),
	}, nil
}

// Parse never fails. Rejected input yields the fallback record; callers must
// check Ready.
func (p *Parser) Parse(text string) models.FinalResult {
	fr, err := p.ParseStrict(text)
	if err != nil {
		p.logger.Warn("Analysis response rejected, using fallback", map[string]interface{}{
			"error":  err.Error(),
			"length": len(text),
		})
		return Fallback(p.sourceTag, p.now())
	}
	return fr
}

// Fallback is the deterministic not-ready record.
func Fallback(sourceTag string, createdAt time.Time) models.FinalResult {
	return models.FinalResult{
		MatrixText:     MatrixPlaceholder,
		DiagnosticText: DiagnosticPlaceholder,
		ActionPlanText: ActionPlanPlaceholder,
		Ready:          false,
		SourceTag:      sourceTag,
		CreatedAt:      createdAt,
	}
}

// Compose renders a result back into the delimited form it was parsed from.
func Compose(fr models.FinalResult) string {
	var b strings.Builder
	sections := []string{fr.MatrixText, fr.DiagnosticText, fr.ActionPlanText}
	for i, d := range Delimiters {
		if i > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(d)
		b.WriteString("\n")
		b.WriteString(sections[i])
	}
	return b.String()
}

func split(text string) ([]string, error) {
	bounds := make([][2]int, len(Delimiters))
	offset := 0
	for i, d := range Delimiters {
		idx := strings.Index(text[offset:], d)
		if idx < 0 {
			if strings.Contains(text, d) {
				return nil, apperrors.NewMalformedResponseError(fmt.Sprintf("section %q is out of order", d))
			}
			return nil, apperrors.NewMalformedResponseError(fmt.Sprintf("missing section %q", d))
		}
		start := offset + idx
		bounds[i] = [2]int{start, start + len(d)}
		offset = start + len(d)
	}

	spans := make([]string, len(Delimiters))
	for i := range bounds {
		end := len(text)
		if i+1 < len(bounds) {
			end = bounds[i+1][0]
		}
		spans[i] = strings.TrimSpace(text[bounds[i][1]:end])
	}
	return spans, nil
}
