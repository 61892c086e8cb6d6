package resume

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	mcpgo "github.com/mark3labs/mcp-go/mcp"

	"github.com/jllopis/resumeflow/pkg/mcp"
)

// TemplateURIPrefix prefixes the resume template resources.
const TemplateURIPrefix = "template://resume/"

var templates = map[string]string{
	"professional": `# FIRST NAME LAST NAME

email@example.com | +1 555 000 0000 | City, Country

## Professional Summary

Two or three sentences on the role you target and the value you bring.

## Technical Skills

- **Core:** ...
- **Additional:** ...

## Work Experience

### Role, Company Name (MM/YYYY - MM/YYYY)

- Achievement with a measurable result

## Education

Degree, Institution, Year
`,
	"modern": `# FIRST NAME LAST NAME
> Role headline

## Summary
## Skills
## Experience
## Projects
## Education
`,
	"minimal": `# FIRST NAME LAST NAME

## Experience
## Skills
## Education
`,
}

var experienceGuidance = map[string]string{
	"entry":  "Focus on education, projects, internships, and transferable skills.",
	"mid":    "Emphasize 3-7 years of experience with quantified achievements and technical depth.",
	"senior": "Highlight 7+ years, leadership, strategic impact, and mentorship.",
	"lead":   "Showcase technical leadership, architecture decisions, and team or org-level impact.",
}

// RegisterTools exposes the scoring, keyword and markdown tools, the resume
// templates and the optimization prompts on srv.
func RegisterTools(srv *mcp.Server) {
	srv.RegisterTool(mcpgo.NewTool(ToolCalculateATSScore,
		mcpgo.WithDescription("Calculate the ATS compatibility score of a resume against a job description"),
		mcpgo.WithString("resume_text", mcpgo.Required(), mcpgo.Description("Full text of the resume")),
		mcpgo.WithString("job_description", mcpgo.Required(), mcpgo.Description("Job posting text")),
	), func(_ context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
		resume := req.GetString("resume_text", "")
		job := req.GetString("job_description", "")
		if strings.TrimSpace(resume) == "" || strings.TrimSpace(job) == "" {
			return mcpgo.NewToolResultError("resume_text and job_description are required"), nil
		}
		return jsonResult(ScoreATS(resume, job))
	})

	srv.RegisterTool(mcpgo.NewTool(ToolExtractKeywords,
		mcpgo.WithDescription("Extract technical skills, soft skills and action verbs from text"),
		mcpgo.WithString("text", mcpgo.Required(), mcpgo.Description("Text to analyze")),
	), func(_ context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
		return jsonResult(ExtractKeywords(req.GetString("text", "")))
	})

	srv.RegisterTool(mcpgo.NewTool(ToolValidateMarkdown,
		mcpgo.WithDescription("Validate markdown syntax and structure of a resume"),
		mcpgo.WithString("markdown_content", mcpgo.Required(), mcpgo.Description("Markdown document")),
	), func(_ context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
		return jsonResult(ValidateMarkdown(req.GetString("markdown_content", "")))
	})

	srv.RegisterResourceTemplate(mcpgo.NewResourceTemplate(TemplateURIPrefix+"{template_name}", "resume_template",
		mcpgo.WithTemplateDescription("Markdown resume template: professional, modern or minimal"),
		mcpgo.WithTemplateMIMEType("text/markdown"),
	), func(_ context.Context, req mcpgo.ReadResourceRequest) ([]mcpgo.ResourceContents, error) {
		name := strings.TrimPrefix(req.Params.URI, TemplateURIPrefix)
		body, ok := templates[name]
		if !ok {
			body = templates["professional"]
		}
		return []mcpgo.ResourceContents{mcpgo.TextResourceContents{
			URI:      req.Params.URI,
			MIMEType: "text/markdown",
			Text:     body,
		}}, nil
	})

	srv.RegisterPrompt(mcpgo.NewPrompt("optimize_resume_prompt",
		mcpgo.WithPromptDescription("Step by step resume optimization plan for a target role"),
		mcpgo.WithArgument("job_title", mcpgo.RequiredArgument(), mcpgo.ArgumentDescription("Target job title")),
		mcpgo.WithArgument("company", mcpgo.RequiredArgument(), mcpgo.ArgumentDescription("Target company")),
		mcpgo.WithArgument("experience_level", mcpgo.ArgumentDescription("entry, mid, senior or lead")),
	), func(_ context.Context, req mcpgo.GetPromptRequest) (*mcpgo.GetPromptResult, error) {
		args := req.Params.Arguments
		return promptResult("Resume optimization plan", OptimizePrompt(args["job_title"], args["company"], args["experience_level"])), nil
	})

	srv.RegisterPrompt(mcpgo.NewPrompt("ats_keyword_strategy",
		mcpgo.WithPromptDescription("Keyword placement strategy to raise the ATS score"),
		mcpgo.WithArgument("job_description", mcpgo.RequiredArgument(), mcpgo.ArgumentDescription("Job posting text")),
		mcpgo.WithArgument("current_score", mcpgo.ArgumentDescription("Current ATS score, 0-100")),
	), func(_ context.Context, req mcpgo.GetPromptRequest) (*mcpgo.GetPromptResult, error) {
		args := req.Params.Arguments
		return promptResult("ATS keyword strategy", KeywordStrategyPrompt(args["job_description"], args["current_score"])), nil
	})
}

// NewToolServer returns a server with the resume tools registered.
func NewToolServer(version string) *mcp.Server {
	srv := mcp.NewServer("resume-optimizer-tools", version)
	RegisterTools(srv)
	return srv
}

func jsonResult(v any) (*mcpgo.CallToolResult, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return mcpgo.NewToolResultError(err.Error()), nil
	}
	return mcpgo.NewToolResultText(string(raw)), nil
}

func promptResult(description, text string) *mcpgo.GetPromptResult {
	return mcpgo.NewGetPromptResult(description, []mcpgo.PromptMessage{
		mcpgo.NewPromptMessage(mcpgo.RoleUser, mcpgo.NewTextContent(text)),
	})
}

// OptimizePrompt renders the optimization plan prompt.
func OptimizePrompt(jobTitle, company, level string) string {
	guidance, ok := experienceGuidance[level]
	if !ok {
		level = "mid"
		guidance = experienceGuidance[level]
	}
	return fmt.Sprintf(`You are a resume optimization specialist with deep knowledge of ATS systems.

TARGET POSITION
- Job Title: %s
- Company: %s
- Experience Level: %s

%s

PROCESS
1. Keyword analysis with the %s tool: technical skills, soft skills, action verbs.
2. ATS scoring with the %s tool: keyword gaps and format issues.
3. Content optimization: quantified achievements and strong action verbs.
4. Format optimization: standard section headers, no tables, MM/YYYY dates.
5. Markdown validation with the %s tool.

SUCCESS CRITERIA
- ATS score of 85 or more
- Every critical keyword appears in context
- Quantified achievements in most bullet points`,
		jobTitle, company, level, guidance, ToolExtractKeywords, ToolCalculateATSScore, ToolValidateMarkdown)
}

// KeywordStrategyPrompt renders the keyword strategy prompt.
func KeywordStrategyPrompt(jobDescription, currentScore string) string {
	if currentScore == "" {
		currentScore = "0"
	}
	return fmt.Sprintf(`You are an ATS optimization expert specializing in keyword strategy.

CURRENT ATS SCORE: %s
TARGET SCORE: 90+

JOB DESCRIPTION
%s

STRATEGY
1. Extract and categorize keywords with the %s tool.
2. Place the top five keywords in the summary, every technical keyword in skills,
   and domain terms in experience bullets.
3. Critical keywords 3-5 mentions, secondary 2-3, long-tail 1-2. Keep context natural.
4. Include acronyms and full terms, singular and plural forms.

Return a prioritized list of keywords to add with placement recommendations.`,
		currentScore, jobDescription, ToolExtractKeywords)
}
