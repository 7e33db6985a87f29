package prompt

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/zerorag/zerorag/pkg/config"
	"github.com/zerorag/zerorag/pkg/domain"
	"github.com/zerorag/zerorag/pkg/log"
)

// classificationRules are checked in order; the first class with a keyword
// hit wins.
var classificationRules = []struct {
	queryType domain.QueryType
	keywords  []string
}{
	{domain.QueryFactual, []string{"what is", "when", "where", "who", "how many", "how much", "facts", "data"}},
	{domain.QueryAnalytical, []string{"analyze", "explain", "why", "how does", "what causes", "implications", "trends", "analysis"}},
	{domain.QueryComparative, []string{"compare", "difference", "similar", "versus", "vs", "contrast", "better", "worse"}},
	{domain.QuerySummarization, []string{"summarize", "summary", "overview", "brief", "key points", "main points"}},
	{domain.QueryCreative, []string{"creative", "innovative", "ideas", "suggestions", "brainstorm", "imagine"}},
}

// Service selects and renders prompt templates and validates generated
// responses.
type Service struct {
	mu        sync.RWMutex
	templates map[string]string
	safety    map[domain.SafetyLevel][]string
	formats   map[domain.ResponseFormat]string
	logger    *slog.Logger
}

// NewService builds the engine with the built-in template set, then applies
// overrides from cfg.RAG.TemplatesFile when configured.
func NewService(cfg *config.Config) (*Service, error) {
	s := &Service{
		templates: defaultTemplates(),
		safety:    defaultSafetyGuidelines(),
		formats:   defaultResponseFormats(),
		logger:    log.WithModule("prompt"),
	}

	if cfg != nil && cfg.RAG.TemplatesFile != "" {
		if err := s.LoadTemplatesFile(cfg.RAG.TemplatesFile); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// LoadTemplatesFile overrides templates from a YAML file mapping template
// keys to template texts. Unknown keys are rejected so typos surface at
// startup instead of silently falling back to the built-in text.
func (s *Service) LoadTemplatesFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("%w: reading templates file: %v", domain.ErrInvalidInput, err)
	}

	overrides := make(map[string]string)
	if err := yaml.Unmarshal(data, &overrides); err != nil {
		return fmt.Errorf("%w: parsing templates file: %v", domain.ErrInvalidInput, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for key, text := range overrides {
		if _, ok := s.templates[key]; !ok {
			return fmt.Errorf("%w: unknown template key %q", domain.ErrInvalidInput, key)
		}
		s.templates[key] = text
	}
	s.logger.Info("loaded prompt template overrides", "path", path, "count", len(overrides))
	return nil
}

// Template returns the effective text for a template key.
func (s *Service) Template(key string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.templates[key]
}

// ClassifyQuery picks a query type by keyword heuristics over the lowercased
// query. Classes are checked in a fixed precedence order.
func (s *Service) ClassifyQuery(query string) domain.QueryType {
	lower := strings.ToLower(query)
	for _, rule := range classificationRules {
		for _, keyword := range rule.keywords {
			if strings.Contains(lower, keyword) {
				return rule.queryType
			}
		}
	}
	return domain.QueryGeneral
}

// CreatePrompt renders the template for the query's type with the formatted
// context, then appends the safety guideline block and, when requested, a
// response format instruction. An unset query type is classified in place.
func (s *Service) CreatePrompt(query *domain.RAGQuery, ragCtx *domain.RAGContext) string {
	if query.QueryType == "" {
		query.QueryType = s.ClassifyQuery(query.Query)
	}

	key := string(query.QueryType)
	s.mu.RLock()
	template, ok := s.templates[key]
	if !ok {
		template = s.templates[TemplateBase]
	}
	s.mu.RUnlock()

	prompt := strings.NewReplacer(
		"{context}", s.FormatContext(ragCtx),
		"{query}", query.Query,
	).Replace(template)

	if guidelines := s.safetyGuidelines(query.SafetyLevel); guidelines != "" {
		prompt += "\n\nSafety Guidelines:\n" + guidelines
	}
	if instruction := s.formats[query.ResponseFormat]; instruction != "" {
		prompt += "\n\nResponse Format: " + instruction
	}
	return prompt
}

// FallbackPrompt renders the no-context template for a query.
func (s *Service) FallbackPrompt(query string) string {
	s.mu.RLock()
	template := s.templates[TemplateFallback]
	s.mu.RUnlock()
	return strings.Replace(template, "{query}", query, 1)
}

// FormatContext restructures the assembled context into numbered document
// sections with source, relevance, and chunk index headers. The assembled
// text uses "Source: <file>\n<chunkIndex>\n<content>" blocks.
func (s *Service) FormatContext(ragCtx *domain.RAGContext) string {
	if ragCtx == nil || ragCtx.AssembledText == "" {
		return "No relevant context available."
	}

	sections := strings.Split(ragCtx.AssembledText, "Source:")
	var formatted []string
	for i, section := range sections[1:] {
		lines := strings.Split(strings.TrimSpace(section), "\n")
		if len(lines) < 3 {
			continue
		}
		sourceFile := strings.TrimSpace(lines[0])
		chunkIndex := strings.TrimSpace(lines[1])
		content := strings.TrimSpace(strings.Join(lines[2:], "\n"))

		relevance := ""
		if i < len(ragCtx.RelevanceScores) {
			relevance = fmt.Sprintf(" (Relevance: %.3f)", ragCtx.RelevanceScores[i])
		}

		formatted = append(formatted, fmt.Sprintf("Document %d: %s%s\nChunk: %s\nContent: %s\n",
			i+1, sourceFile, relevance, chunkIndex, content))
	}
	if len(formatted) == 0 {
		return "No relevant context available."
	}
	return strings.Join(formatted, "\n")
}

// safetyGuidelines renders the bullet list for a level, defaulting to
// standard for unknown levels.
func (s *Service) safetyGuidelines(level domain.SafetyLevel) string {
	guidelines, ok := s.safety[level]
	if !ok {
		guidelines = s.safety[domain.SafetyStandard]
	}
	bullets := make([]string, len(guidelines))
	for i, guideline := range guidelines {
		bullets[i] = "- " + guideline
	}
	return strings.Join(bullets, "\n")
}
