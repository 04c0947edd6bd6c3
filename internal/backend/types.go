// Package backend is the HTTP client for the QA agent backend.
// This file holds the wire types shared with the server.
package backend

import (
	"fmt"

	"github.com/qascout/qascout/internal/metrics"
)

// Health is the response of GET /api/health.
type Health struct {
	Status        string  `json:"status"`
	GroqAvailable bool    `json:"groq_available"`
	Model         string  `json:"model"`
	Timestamp     float64 `json:"timestamp"`
}

// Element is one interactive element found during exploration.
type Element struct {
	Type         string   `json:"type"`
	Locator      string   `json:"locator"`
	Description  string   `json:"description"`
	Interactions []string `json:"interactions"`
	Testable     bool     `json:"testable"`
}

// UserFlow is a suggested multi-step flow through the page.
type UserFlow struct {
	Name     string   `json:"name"`
	Steps    []string `json:"steps"`
	Priority string   `json:"priority"`
}

// PageMetadata describes the explored page as a whole.
type PageMetadata struct {
	Title      string `json:"title"`
	Type       string `json:"type"`
	Complexity string `json:"complexity"`
}

// PageStructure is the exploration artifact: the structured result of
// walking a URL. Its presence gates the design action.
type PageStructure struct {
	URL       string       `json:"url"`
	Elements  []Element    `json:"elements"`
	UserFlows []UserFlow   `json:"userFlows"`
	Metadata  PageMetadata `json:"pageMetadata"`
}

// TestCase is one designed test case. A non-empty list gates implement.
type TestCase struct {
	ID             string   `json:"id"`
	Title          string   `json:"title"`
	Description    string   `json:"description"`
	Type           string   `json:"type"`
	Priority       string   `json:"priority"`
	Steps          []string `json:"steps"`
	ExpectedResult string   `json:"expectedResult"`
}

// ExploreResult is the response of POST /api/explore.
type ExploreResult struct {
	PageData      *PageStructure    `json:"page_data"`
	PageModelPath string            `json:"page_model_path"`
	Metrics       *metrics.Snapshot `json:"metrics"`
}

// DesignResult is the response of POST /api/design.
type DesignResult struct {
	TestCases     []TestCase        `json:"test_cases"`
	TestCasesPath string            `json:"test_cases_path"`
	Metrics       *metrics.Snapshot `json:"metrics"`
}

// ImplementResult is the response of POST /api/implement.
type ImplementResult struct {
	Code     string            `json:"code"`
	FilePath string            `json:"file_path"`
	Metrics  *metrics.Snapshot `json:"metrics"`
}

// ChatResult is the response of POST /api/chat. A non-empty TestCases slice
// is the refinement signal: the backend revised the suite as a side effect
// of the conversation, and the caller must apply it.
type ChatResult struct {
	Response    string            `json:"response"`
	TestCases   []TestCase        `json:"test_cases"`
	ActionTaken string            `json:"action_taken"`
	Metrics     *metrics.Snapshot `json:"metrics"`
}

// APIError is a reachable backend's non-success response.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("backend returned status %d", e.StatusCode)
}
