package prompt

import (
	"regexp"
	"strings"

	"github.com/zerorag/zerorag/pkg/domain"
)

var dangerousPatterns = []*regexp.Regexp{
	regexp.MustCompile(`how to (harm|hurt|kill|injure)`),
	regexp.MustCompile(`illegal (activities|methods|procedures)`),
	regexp.MustCompile(`dangerous (chemicals|substances|methods)`),
	regexp.MustCompile(`hack(ing|er)`),
	regexp.MustCompile(`exploit(ing|s)`),
	regexp.MustCompile(`bypass(ing)? (security|protection)`),
}

var genericPhrases = []string{
	"i don't have enough information",
	"i cannot answer",
	"i don't know",
	"no information available",
}

var stopwords = map[string]struct{}{}

func init() {
	for _, w := range strings.Fields("the a an and or but in on at to for of with by is are was were be been " +
		"have has had do does did will would could should may might can this that these those " +
		"i you he she it we they me him her us them") {
		stopwords[w] = struct{}{}
	}
}

var wordRe = regexp.MustCompile(`[\p{L}\p{N}_]+`)

// ValidateResponse scores a generated response for safety and quality.
// The score starts at 1.0; safety pattern hits subtract 0.1 each (floor
// 0.5), missing context adherence subtracts 0.2 (floor 0.7), and quality
// issues subtract 0.1 each (floor 0.6). Any deduction downgrades the
// status to warning.
func (s *Service) ValidateResponse(response, query string, ragCtx *domain.RAGContext) (domain.ValidationStatus, float64) {
	status := domain.ValidationValid
	score := 1.0

	if hits := countSafetyIssues(response); hits > 0 {
		status = domain.ValidationWarning
		score = max(0.5, score-float64(hits)*0.1)
	}

	if ragCtx != nil && ragCtx.AssembledText != "" && !adheresToContext(response, ragCtx.AssembledText) {
		status = domain.ValidationWarning
		score = max(0.7, score-0.2)
	}

	if issues := countQualityIssues(response); issues > 0 {
		status = domain.ValidationWarning
		score = max(0.6, score-float64(issues)*0.1)
	}

	return status, score
}

func countSafetyIssues(response string) int {
	lower := strings.ToLower(response)
	hits := 0
	for _, pattern := range dangerousPatterns {
		if pattern.MatchString(lower) {
			hits++
		}
	}
	return hits
}

// adheresToContext reports whether the response shares at least one
// non-stopword token with the context.
func adheresToContext(response, context string) bool {
	contextWords := tokenSet(context)
	for _, word := range wordRe.FindAllString(strings.ToLower(response), -1) {
		if _, stop := stopwords[word]; stop {
			continue
		}
		if _, ok := contextWords[word]; ok {
			return true
		}
	}
	return false
}

func tokenSet(text string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, word := range wordRe.FindAllString(strings.ToLower(text), -1) {
		if _, stop := stopwords[word]; !stop {
			set[word] = struct{}{}
		}
	}
	return set
}

func countQualityIssues(response string) int {
	issues := 0
	trimmed := strings.TrimSpace(response)
	if len(trimmed) < 20 {
		issues++
	}

	lower := strings.ToLower(response)
	for _, phrase := range genericPhrases {
		if strings.Contains(lower, phrase) {
			// Generic phrasing is only a defect in an otherwise short answer.
			if len(trimmed) < 100 {
				issues++
			}
			break
		}
	}
	return issues
}
