package agent

import "fmt"

// ResearchPrompt wraps the user's request with the research role
// instructions. Output files written by the agent land in its working
// directory, which the reconciler scans afterwards.
func ResearchPrompt(request string) string {
	return fmt.Sprintf(`You are a research assistant conducting background research.

Research the following topic thoroughly. Use your tools to gather
information, then write your findings as files in the current working
directory (markdown for reports, csv/json for data).

Topic: %s`, request)
}

// PlannerPrompt asks the agent to propose a research plan without
// executing it, used by the interactive chat surface.
func PlannerPrompt(request string) string {
	return fmt.Sprintf(`You are a research planner. Given the request below, reply with a short
plan describing what you would research and which outputs you would
produce. Do not start the research yet.

Request: %s`, request)
}
