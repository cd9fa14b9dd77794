package memory

import (
	"fmt"
	"strings"
)

const (
	maxObservationChars = 300

	// MaxContrastiveItems caps the entries kept from contrastive extraction.
	MaxContrastiveItems = 5

	extractSystemPrompt     = "You are an expert at analyzing science experiment execution and extracting reusable strategies."
	contrastiveSystemPrompt = "You are an expert at analyzing science experiment execution and extracting patterns from multiple attempts."
)

const successTemplate = `You are an expert at analyzing science experiment trajectories and extracting reusable reasoning strategies.

## Task Context
- Task Type: %s
- Task Goal: %s
- Result: SUCCESS

## Trajectory
%s
## Instructions
Analyze this SUCCESSFUL trajectory and extract 1-3 reusable strategies that contributed to success.
For each strategy, provide:
1. **title**: A short, descriptive name (e.g., "Heat Source Selection", "Systematic Object Search")
2. **description**: A one-sentence summary of when this strategy applies
3. **content**: Detailed actionable insight on the technique or logic

Focus on:
- Key decision points that led to success
- Efficient patterns or shortcuts discovered
- Scientific reasoning that could apply to similar tasks

` + outputFormat

const failureTemplate = `You are an expert at analyzing science experiment trajectories and extracting lessons from failures.

## Task Context
- Task Type: %s
- Task Goal: %s
- Result: FAILED

## Trajectory
%s
## Instructions
Analyze this FAILED trajectory and extract 1-3 preventive lessons that could help avoid similar failures.
For each lesson, provide:
1. **title**: A short, descriptive name (e.g., "Avoid Skipping Focus Step", "Check Container First")
2. **description**: A one-sentence summary of the pitfall to avoid
3. **content**: Detailed explanation of what went wrong and how to prevent it

Focus on:
- Critical mistakes or wrong assumptions
- Inefficient patterns that wasted steps
- Missing scientific knowledge that caused the failure

` + outputFormat

const contrastiveTemplate = `You are an expert at analyzing multiple science experiment trajectories and extracting consistent patterns.

## Task Context
- Task Type: %s
- Task Goal: %s
- Number of Trajectories: %d (%d succeeded, %d failed)

## Trajectories
%s
## Instructions
Compare these %d trajectories for the SAME task and extract insights:
1. If some succeeded and some failed, identify what distinguishes successful from failed attempts
2. If all succeeded, identify consistent winning strategies
3. If all failed, identify common pitfalls to avoid

Extract at most %d high-quality strategies/lessons that:
- Are consistent across multiple attempts (not coincidental)
- Represent general scientific reasoning patterns
- Could help with similar future tasks

` + outputFormat

const outputFormat = "## Output Format\n" +
	"Return a JSON array of objects:\n" +
	"```json\n" +
	"[\n" +
	"  {\n" +
	"    \"title\": \"Name\",\n" +
	"    \"description\": \"One-sentence summary\",\n" +
	"    \"content\": \"Detailed explanation\"\n" +
	"  }\n" +
	"]\n" +
	"```\n\n" +
	"Output ONLY the JSON array, no additional text."

// FormatTrajectory renders steps as numbered action/observation blocks.
// Observations longer than 300 characters are truncated.
func FormatTrajectory(steps []Step) string {
	var b strings.Builder
	for i, s := range steps {
		obs := s.Observation
		if r := []rune(obs); len(r) > maxObservationChars {
			obs = string(r[:maxObservationChars]) + "..."
		}
		fmt.Fprintf(&b, "Step %d:\n  Action: %s\n  Observation: %s\n\n", i+1, s.Action, obs)
	}
	return b.String()
}

func buildExtractionPrompt(taskType, goal string, steps []Step, success bool) string {
	tmpl := failureTemplate
	if success {
		tmpl = successTemplate
	}
	return fmt.Sprintf(tmpl, taskType, goal, FormatTrajectory(steps))
}

func buildContrastivePrompt(taskType, goal string, bundles []TrajectoryBundle) string {
	var wins, losses []TrajectoryBundle
	for _, tb := range bundles {
		if tb.IsSuccess {
			wins = append(wins, tb)
		} else {
			losses = append(losses, tb)
		}
	}

	var b strings.Builder
	n := 0
	for _, group := range []struct {
		label   string
		bundles []TrajectoryBundle
	}{{"SUCCESS", wins}, {"FAILED", losses}} {
		for _, tb := range group.bundles {
			n++
			fmt.Fprintf(&b, "=== Trajectory %d (%s, score %.0f, %d steps) ===\n", n, group.label, tb.Score, tb.Steps)
			b.WriteString(FormatTrajectory(tb.Trajectory))
			b.WriteString("\n")
		}
	}
	return fmt.Sprintf(contrastiveTemplate, taskType, goal,
		len(bundles), len(wins), len(losses), b.String(), len(bundles), MaxContrastiveItems)
}
