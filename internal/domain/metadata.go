package domain

import (
	"encoding/json"
	"fmt"
)

// RoomTypeInterview tags the metadata of rooms opened for an interview.
const RoomTypeInterview = "interview"

// SessionMetadata is the bundle handed to the agent joining the room. It is
// serialized once and never read back by this service.
type SessionMetadata struct {
	RoomType          string `json:"roomType"`
	ApplicationID     string `json:"applicationId"`
	CandidateName     string `json:"candidateName"`
	CandidatePhone    string `json:"candidatePhone"`
	JobTitle          string `json:"jobTitle"`
	Company           string `json:"company"`
	Requirements      string `json:"requirements"`
	AgentInstructions string `json:"agentInstructions"`
}

// NewSessionMetadata assembles the bundle for one provisioning call.
func NewSessionMetadata(c Candidate, j JobPosting, applicationID string) SessionMetadata {
	return SessionMetadata{
		RoomType:          RoomTypeInterview,
		ApplicationID:     applicationID,
		CandidateName:     c.Name,
		CandidatePhone:    c.Phone,
		JobTitle:          j.Title,
		Company:           j.Company,
		Requirements:      j.Requirements,
		AgentInstructions: j.AgentInstructions,
	}
}

// Encode returns the JSON form sent to the provider.
func (m SessionMetadata) Encode() (string, error) {
	b, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("op=metadata.encode: %w", err)
	}
	return string(b), nil
}
