// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

// Package resume holds the resume optimization stages and the tree that
// composes them.
//
// Stages are deterministic heuristics over the shared run state. Three of
// them delegate to tools on the resume tool endpoint (ATS scoring, keyword
// extraction and markdown validation) and compute the same result locally,
// flagged as degraded, when the endpoint is unavailable. The same local
// algorithms back the companion tool server registered by RegisterTools.
package resume

// Seed keys written by the orchestrator before the tree runs.
const (
	KeyResumeText         = "resume_text"
	KeyJobDescriptionText = "job_description_text"
	KeyProfileID          = "profile_id"
	KeyJobURL             = "job_url"
	KeyJobDescription     = "job_description"
)

// Output keys written by the pipeline stages.
const (
	KeyProfileData         = "profile_data"
	KeySkillsAnalysis      = "skills_analysis"
	KeyExperienceScores    = "experience_scores"
	KeyAlignedData         = "aligned_data"
	KeyATSAnalysis         = "ats_analysis"
	KeyKeywordEnhancements = "keyword_enhancements"
	KeyResumeContent       = "resume_content"
	KeyQualityReport       = "quality_report"
	KeyFormattingReport    = "formatting_report"
)

// Stage and group names of the pipeline tree.
const (
	WorkflowName          = "resume_optimizer_workflow"
	ProfileAnalysisStage  = "profile_analysis_stage"
	ATSOptimizationStage  = "ats_optimization_stage"
	QualityAssuranceStage = "quality_assurance_stage"

	StageJobExtractor       = "job_description_extractor"
	StageProfileRetriever   = "profile_retriever"
	StageSkillsMatcher      = "skills_matcher"
	StageExperienceRelevant = "experience_relevance"
	StageContentAlignment   = "content_alignment"
	StageATSOptimizer       = "ats_optimizer"
	StageKeywordEnhancer    = "keyword_enhancer"
	StageMarkdownFormatter  = "markdown_formatter"
	StageQualityValidator   = "quality_validator"
	StageFormattingChecker  = "formatting_checker"
)

// Tool names on the resume tool endpoint.
const (
	ToolCalculateATSScore = "calculate_ats_score"
	ToolExtractKeywords   = "extract_keywords"
	ToolValidateMarkdown  = "validate_markdown"
)

// OutputKeys lists every key a completed run documents, in pipeline order.
var OutputKeys = []string{
	KeyJobDescription,
	KeyProfileData,
	KeySkillsAnalysis,
	KeyExperienceScores,
	KeyAlignedData,
	KeyATSAnalysis,
	KeyKeywordEnhancements,
	KeyResumeContent,
	KeyQualityReport,
	KeyFormattingReport,
}
