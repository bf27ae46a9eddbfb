package usecase

import (
	"fmt"
	"strings"

	"github.com/satriahrh/bidstream/domain/entities"
)

func outlinePrompt(project *entities.Project) string {
	descriptions := make([]string, 0, len(project.Sections))
	for _, section := range project.Sections {
		descriptions = append(descriptions, section.Description)
	}

	return fmt.Sprintf(`You are a construction proposal request assistant.
Generate a short, polite proposal request message that can be sent to a contractor.
The tone should be professional but casual and easy to read.
Do not include long instructions or formal sections, just a simple project request summarizing what's needed, the timeframe, and the main tasks.
Don't ask any follow up questions, just generate the proposal request message.

Project:
%s
%s - %s
%d%% complete
%s value

Sections:
%s`,
		project.Name,
		project.StartDate, project.EndDate,
		project.Progress,
		project.Value,
		strings.Join(descriptions, "\n"))
}

func editPrompt(existing, instruction string) string {
	return fmt.Sprintf(`You are a construction proposal request assistant.
The user has provided an instruction to update the existing proposal request description.
Apply only the requested changes from the instruction while keeping the rest of the description coherent.
Output ONLY the revised proposal request message text. Do not include headings or meta commentary.

Existing description:
%s

User Instruction:
%s`, existing, instruction)
}

func proposalPrompt(request *entities.ProposalRequest) string {
	return fmt.Sprintf(`You are a construction proposal assistant for contractors.
Generate a short, polite proposal message in response to the below request that can be sent to a client.
The tone should be professional but casual and easy to read.
Do not include long instructions or formal sections, just a simple summary of what's offered, the timeframe, and the main tasks.
Don't ask any follow up questions.
Skip any introductions and goodbyes, just generate the proposal message.

Proposal Request:
%s`, request.Description)
}

func intentSystemPrompt(allowed []entities.Intent) string {
	labels := make([]string, 0, len(allowed))
	for _, i := range allowed {
		labels = append(labels, string(i))
	}

	return fmt.Sprintf(`You are an intent classifier. Analyze the user's text and determine if it matches one of these actions: %s.
Only return an action if the user's intent clearly matches one of these specific actions.
Reply with exactly one action name and nothing else. If the text does not relate to any of these actions, reply with null.`,
		strings.Join(labels, ", "))
}

func classificationPrompt(request *entities.ProposalRequest, project *entities.Project, specialties []string) string {
	description := request.Description
	if description == "" {
		description = "No description provided"
	}

	projectInfo := "No project information provided"
	if project != nil {
		sections := make([]string, 0, len(project.Sections))
		for _, s := range project.Sections {
			sections = append(sections, fmt.Sprintf("- %s: %s", s.Name, s.Description))
		}
		projectInfo = fmt.Sprintf(`Project Name: %s
Project Status: %s
Project Timeline: %s to %s
Project Sections:
%s`, project.Name, project.Status, project.StartDate, project.EndDate, strings.Join(sections, "\n"))
	}

	catalogue := make([]string, 0, len(specialties))
	for _, s := range specialties {
		catalogue = append(catalogue, "- "+s)
	}

	return fmt.Sprintf(`You are a construction industry expert specializing in matching contractor specialties to project requirements.

Analyze the following proposal request and determine which contractor specialties are needed.

PROPOSAL REQUEST:
%s

PROJECT INFORMATION:
%s

AVAILABLE SPECIALTIES:
%s

For each specialty, determine:
1. Whether it matches the proposal request requirements (true/false)
2. Confidence score (0.0 to 1.0), how confident you are in this match

Be conservative with matches: only mark as matching if there's clear evidence the specialty is needed.
Use confidence scores to indicate strength of the match (e.g., 0.9+ for explicit mentions, 0.6-0.8 for implicit needs).

Respond with a JSON array only, one object per specialty:
[{"specialty": "<name>", "matches": true, "confidence": 0.9}]`,
		description, projectInfo, strings.Join(catalogue, "\n"))
}
