package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jinzhu/inflection"
	"go.uber.org/zap"

	"github.com/ekaya-inc/paygap-engine/pkg/jsonutil"
	"github.com/ekaya-inc/paygap-engine/pkg/llm"
	"github.com/ekaya-inc/paygap-engine/pkg/logging"
	"github.com/ekaya-inc/paygap-engine/pkg/metrics"
	"github.com/ekaya-inc/paygap-engine/pkg/models"
	"github.com/ekaya-inc/paygap-engine/pkg/normalize"
)

// Heuristic scoring.
const (
	scoreExact            = 1.0
	scoreHeaderContains   = 0.8
	scoreSynonymContains  = 0.6
	mappingThreshold      = 0.6
	heuristicConfidence   = 0.7
	minContainmentLength  = 3
	defaultAssistTimeout  = 60 * time.Second
	mappingAssistCallName = "mapping"
)

// fieldSynonyms lists, per canonical field, the header spellings the heuristic
// recognizes. Entries are normalized the same way headers are, so "emp id",
// "Emp-ID" and "EmpIDs" all compare equal.
var fieldSynonyms = map[string][]string{
	models.FieldEmployeeID: {
		"employee id", "emp id", "empid", "employee number", "employee no", "emp no", "emp num",
		"staff id", "staff number", "worker id", "person id", "personnel number", "employee code",
		"id", "id number", "badge",
	},
	models.FieldRoleTitle: {
		"role title", "title", "job title", "role", "position", "position title", "job name", "designation",
	},
	models.FieldJobFamily: {
		"job family", "family", "job function", "function", "department", "dept", "discipline",
	},
	models.FieldLevel: {
		"level", "lvl", "grade", "band", "job level", "career level", "seniority", "pay grade",
	},
	models.FieldCountry: {
		"country", "ctry", "cntry", "nation", "country code", "work country", "country of employment",
	},
	models.FieldLocation: {
		"location", "office", "city", "site", "work location",
	},
	models.FieldCurrency: {
		"currency", "ccy", "curr", "currency code",
	},
	models.FieldBaseSalary: {
		"base salary", "base", "salary", "base pay", "annual salary", "annual base", "wage",
		"gross salary", "compensation",
	},
	models.FieldPayPeriod: {
		"pay period", "period", "frequency", "pay frequency", "pay freq", "pay cycle", "pay basis", "rate type",
	},
	models.FieldBonusTarget: {
		"bonus target", "bonus", "target bonus", "bonus pct", "bonus percent", "sti", "stip",
	},
	models.FieldLTITarget: {
		"lti target", "lti", "long term incentive", "equity", "equity target", "rsu", "ltip",
	},
	models.FieldHireDate: {
		"hire date", "start date", "date of hire", "date hired", "hired", "joining date", "join date",
		"doj", "service date",
	},
	models.FieldEmploymentType: {
		"employment type", "emp type", "contract type", "worker type", "employment status", "fte",
	},
	models.FieldGender: {
		"gender", "sex", "gender identity",
	},
	models.FieldPerformanceRating: {
		"performance rating", "performance", "rating", "perf rating", "perf", "review rating",
	},
}

// normalizedSynonyms is fieldSynonyms folded through normalizeHeader once.
var normalizedSynonyms = func() map[string][]string {
	out := make(map[string][]string, len(fieldSynonyms))
	for field, syns := range fieldSynonyms {
		for _, s := range syns {
			out[field] = append(out[field], normalizeHeader(s))
		}
	}
	return out
}()

// normalizeHeader lowercases, strips diacritics and punctuation, singularizes
// each word and joins the words without separators.
func normalizeHeader(h string) string {
	words := normalize.Words(h)
	for i, w := range words {
		// short words are usually abbreviations ("ccy", "lvl") and must not be mangled
		if len(w) > 3 {
			words[i] = inflection.Singular(w)
		}
	}
	return strings.Join(words, "")
}

// scoreColumn returns how well a source column matches a canonical field.
// Containment in either direction only counts when the contained side has at
// least three characters.
func scoreColumn(field, column string) float64 {
	h := normalizeHeader(column)
	if h == "" {
		return 0
	}
	best := 0.0
	for _, syn := range normalizedSynonyms[field] {
		var s float64
		switch {
		case h == syn:
			s = scoreExact
		case len(syn) >= minContainmentLength && strings.Contains(h, syn):
			s = scoreHeaderContains
		case len(h) >= minContainmentLength && strings.Contains(syn, h):
			s = scoreSynonymContains
		}
		if s > best {
			best = s
		}
	}
	return best
}

// HeuristicMapping maps every canonical field to its best-scoring column at or
// above the threshold. Ties keep the column seen first.
func HeuristicMapping(headers []string) *models.MappingResult {
	result := &models.MappingResult{
		Source:     models.MappingSourceDeterministic,
		Mapping:    make(models.ColumnMapping),
		Confidence: make(models.Confidence, len(models.CanonicalFields)),
	}

	for _, field := range models.CanonicalFields {
		bestCol, bestScore := "", 0.0
		for _, col := range headers {
			if s := scoreColumn(field, col); s > bestScore {
				bestCol, bestScore = col, s
			}
		}
		if bestScore >= mappingThreshold {
			result.Mapping[field] = bestCol
			result.Confidence[field] = heuristicConfidence
		} else {
			result.Confidence[field] = 0
		}
	}

	return result
}

// recomputeConfidence scores a mapping with the heuristic's method regardless of
// where the mapping came from.
func recomputeConfidence(mapping models.ColumnMapping) models.Confidence {
	conf := make(models.Confidence, len(models.CanonicalFields))
	for _, field := range models.CanonicalFields {
		col, ok := mapping.Column(field)
		if ok && scoreColumn(field, col) >= mappingThreshold {
			conf[field] = heuristicConfidence
		} else {
			conf[field] = 0
		}
	}
	return conf
}

// ResolveOptions tunes one resolution.
type ResolveOptions struct {
	// AssistTimeout bounds the text-generation call. Zero uses the configured default.
	AssistTimeout time.Duration
	// DisableAssist skips the text-generation call and returns the heuristic result.
	DisableAssist bool
}

// MappingResolver maps source columns onto canonical employee fields.
type MappingResolver interface {
	// Resolve returns an assisted mapping when the text-generation call succeeds
	// and the heuristic mapping otherwise. It never returns an error: every
	// assist failure falls back to the heuristic in full.
	Resolve(ctx context.Context, headers []string, sample []map[string]string, opts ResolveOptions) *models.MappingResult
}

type mappingResolver struct {
	client         llm.LLMClient
	defaultTimeout time.Duration
	metrics        *metrics.Metrics
	logger         *zap.Logger
}

// NewMappingResolver creates a resolver. client may be nil, in which case only
// the heuristic is used.
func NewMappingResolver(client llm.LLMClient, defaultTimeout time.Duration, m *metrics.Metrics, logger *zap.Logger) MappingResolver {
	if defaultTimeout <= 0 {
		defaultTimeout = defaultAssistTimeout
	}
	return &mappingResolver{
		client:         client,
		defaultTimeout: defaultTimeout,
		metrics:        m,
		logger:         logger.Named("mapping-resolver"),
	}
}

var _ MappingResolver = (*mappingResolver)(nil)

func (r *mappingResolver) Resolve(ctx context.Context, headers []string, sample []map[string]string, opts ResolveOptions) *models.MappingResult {
	if r.client == nil || opts.DisableAssist || len(headers) == 0 {
		return r.finish(HeuristicMapping(headers))
	}

	timeout := opts.AssistTimeout
	if timeout <= 0 {
		timeout = r.defaultTimeout
	}

	assisted, err := r.assist(ctx, headers, sample, timeout)
	if err != nil {
		r.logger.Warn("Assisted mapping failed, using heuristic",
			zap.Int("column_count", len(headers)),
			zap.Duration("timeout", timeout),
			zap.String("error_type", string(llm.GetErrorType(err))),
			logging.ErrorField(err))
		r.metrics.AssistFailed(mappingAssistCallName, string(llm.GetErrorType(err)))
		return r.finish(HeuristicMapping(headers))
	}

	return r.finish(assisted)
}

func (r *mappingResolver) finish(result *models.MappingResult) *models.MappingResult {
	r.metrics.MappingResolved(string(result.Source))
	return result
}

// assistResponse is the JSON object the model is asked to return.
type assistResponse struct {
	Mapping map[string]json.RawMessage `json:"mapping"`
}

func (r *mappingResolver) assist(ctx context.Context, headers []string, sample []map[string]string, timeout time.Duration) (*models.MappingResult, error) {
	var firstRow map[string]string
	if len(sample) > 0 {
		firstRow = sample[0]
	}

	result, err := llm.GenerateWithTimeout(ctx, r.client, timeout,
		buildMappingPrompt(headers, firstRow), mappingSystemMessage, 0.0)
	if err != nil {
		return nil, err
	}

	resp, err := llm.ParseJSONResponse[assistResponse](result.Content)
	if err != nil {
		return nil, llm.NewError(llm.ErrorTypeResponse, "unparseable mapping response", false, err)
	}
	if resp.Mapping == nil {
		return nil, llm.NewError(llm.ErrorTypeResponse, "response has no mapping object", false, nil)
	}

	mapping := make(models.ColumnMapping)
	for _, field := range models.CanonicalFields {
		raw, ok := resp.Mapping[field]
		if !ok {
			continue
		}
		col, known := matchHeader(headers, jsonutil.FlexibleStringValue(raw))
		if !known {
			if col != "" {
				r.logger.Debug("Dropping assisted column not present in header",
					zap.String("field", field),
					zap.String("column", col))
			}
			continue
		}
		mapping[field] = col
	}

	return &models.MappingResult{
		Source:     models.MappingSourceAI,
		Mapping:    mapping,
		Confidence: recomputeConfidence(mapping),
	}, nil
}

// matchHeader resolves a column name proposed by the model against the real
// header list. Exact matches win; otherwise a single case-insensitive match is
// accepted and the header's own spelling returned.
func matchHeader(headers []string, proposed string) (string, bool) {
	proposed = strings.TrimSpace(proposed)
	if proposed == "" {
		return "", false
	}
	for _, h := range headers {
		if h == proposed {
			return h, true
		}
	}
	match, count := "", 0
	for _, h := range headers {
		if strings.EqualFold(strings.TrimSpace(h), proposed) {
			match = h
			count++
		}
	}
	if count == 1 {
		return match, true
	}
	return proposed, false
}

const mappingSystemMessage = `You map spreadsheet columns from HR compensation exports onto a fixed set of employee fields.
Only use column names that appear in the provided column list, spelled exactly as given. Use null when no column fits.`

func buildMappingPrompt(headers []string, sampleRow map[string]string) string {
	var sb strings.Builder

	sb.WriteString("## Columns\n")
	sb.WriteString("| Column | Sample Value |\n")
	sb.WriteString("|--------|--------------|\n")
	for _, h := range headers {
		v := "-"
		if sampleRow != nil && sampleRow[h] != "" {
			v = sampleRow[h]
		}
		sb.WriteString(fmt.Sprintf("| %s | %s |\n", h, v))
	}

	sb.WriteString("\n## Fields\n")
	for _, field := range models.CanonicalFields {
		req := ""
		if models.IsRequiredField(field) {
			req = " (required)"
		}
		sb.WriteString(fmt.Sprintf("- **%s**%s: %s\n", field, req, models.FieldDescriptions[field]))
	}

	sb.WriteString("\n## Response Format (JSON object)\n")
	sb.WriteString("```json\n")
	sb.WriteString("{\n  \"mapping\": {\n")
	for i, field := range models.CanonicalFields {
		sep := ","
		if i == len(models.CanonicalFields)-1 {
			sep = ""
		}
		sb.WriteString(fmt.Sprintf("    %q: \"column name or null\"%s\n", field, sep))
	}
	sb.WriteString("  }\n}\n")
	sb.WriteString("```\n")

	return sb.String()
}
