package resume

import (
	"log/slog"

	"github.com/jllopis/resumeflow/pkg/compose"
	"github.com/jllopis/resumeflow/pkg/mcp"
	"github.com/jllopis/resumeflow/pkg/memory"
)

// DefaultToolEndpoint is the endpoint name the tool-backed stages call.
const DefaultToolEndpoint = "resume_tools"

// Retrieval defaults for the profile retriever.
const (
	DefaultRetrievalLimit    = 15
	DefaultRetrievalMinScore = 0.3
)

// Deps are the collaborators shared by the pipeline stages. Every field is
// optional: without tools the tool-backed stages run degraded, without a
// profile index the retriever returns no sections.
type Deps struct {
	Tools    mcp.ToolCaller
	Endpoint string
	Profiles *memory.ProfileIndex
	Logger   *slog.Logger

	RetrievalLimit    int
	RetrievalMinScore float32
}

func (d Deps) logger() *slog.Logger {
	if d.Logger == nil {
		return slog.Default()
	}
	return d.Logger
}

func (d Deps) endpoint() string {
	if d.Endpoint == "" {
		return DefaultToolEndpoint
	}
	return d.Endpoint
}

// Pipeline builds the optimization tree:
//
//	Sequence resume_optimizer_workflow
//	  Parallel profile_analysis_stage   profile_retriever, skills_matcher, experience_relevance
//	  content_alignment
//	  Parallel ats_optimization_stage   ats_optimizer, keyword_enhancer
//	  markdown_formatter
//	  Parallel quality_assurance_stage  quality_validator, formatting_checker
func Pipeline(deps Deps) compose.Node {
	return compose.Sequence(WorkflowName,
		compose.Parallel(ProfileAnalysisStage,
			compose.Stage(ProfileRetriever(deps)),
			compose.Stage(SkillsMatcher()),
			compose.Stage(ExperienceRelevance()),
		),
		compose.Stage(ContentAlignment()),
		compose.Parallel(ATSOptimizationStage,
			compose.Stage(ATSOptimizer(deps)),
			compose.Stage(KeywordEnhancer(deps)),
		),
		compose.Stage(MarkdownFormatter()),
		compose.Parallel(QualityAssuranceStage,
			compose.Stage(QualityValidator(deps)),
			compose.Stage(FormattingChecker()),
		),
	)
}
