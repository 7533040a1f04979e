package domain

import (
	"fmt"
)

// Feature identifies one feature module of the console.
// The set is closed: new features are added here and in the capability
// and route tables, which are checked for exhaustiveness by tests.
type Feature uint8

const (
	FeatureUnknown Feature = iota
	FeatureConnections
	FeatureTemplates
	FeatureReports
	FeatureJobs
	FeatureEnrichment
	FeatureVisualization
	FeatureSpreadsheets
	FeatureDocQA
	FeatureSummary
	FeatureSynthesis
	FeatureSearch

	featureCount
)

var featureNames = [featureCount]string{
	FeatureUnknown:       "unknown",
	FeatureConnections:   "connections",
	FeatureTemplates:     "templates",
	FeatureReports:       "reports",
	FeatureJobs:          "jobs",
	FeatureEnrichment:    "enrichment",
	FeatureVisualization: "visualization",
	FeatureSpreadsheets:  "spreadsheets",
	FeatureDocQA:         "docqa",
	FeatureSummary:       "summary",
	FeatureSynthesis:     "synthesis",
	FeatureSearch:        "search",
}

// Features returns every known feature in declaration order.
func Features() []Feature {
	out := make([]Feature, 0, featureCount-1)
	for f := FeatureConnections; f < featureCount; f++ {
		out = append(out, f)
	}
	return out
}

func (f Feature) String() string {
	if f >= featureCount {
		return fmt.Sprintf("feature(%d)", uint8(f))
	}
	return featureNames[f]
}

// Valid reports whether f is a declared feature other than FeatureUnknown.
func (f Feature) Valid() bool {
	return f > FeatureUnknown && f < featureCount
}

// ParseFeature resolves a feature key received at a boundary (HTTP, MCP, config).
func ParseFeature(s string) (Feature, error) {
	for f := FeatureConnections; f < featureCount; f++ {
		if featureNames[f] == s {
			return f, nil
		}
	}
	return FeatureUnknown, fmt.Errorf("%w: %q", ErrUnknownFeature, s)
}

func (f Feature) MarshalText() ([]byte, error) {
	if !f.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownFeature, uint8(f))
	}
	return []byte(f.String()), nil
}

func (f *Feature) UnmarshalText(text []byte) error {
	parsed, err := ParseFeature(string(text))
	if err != nil {
		return err
	}
	*f = parsed
	return nil
}

// OutputType is the kind of artifact a feature produces.
type OutputType uint8

const (
	OutputUnknown OutputType = iota
	OutputTable
	OutputDataset
	OutputChart
	OutputDocument
	OutputText
	OutputReport

	outputTypeCount
)

var outputTypeNames = [outputTypeCount]string{
	OutputUnknown:  "UNKNOWN",
	OutputTable:    "TABLE",
	OutputDataset:  "DATASET",
	OutputChart:    "CHART",
	OutputDocument: "DOCUMENT",
	OutputText:     "TEXT",
	OutputReport:   "REPORT",
}

func (t OutputType) String() string {
	if t >= outputTypeCount {
		return fmt.Sprintf("output(%d)", uint8(t))
	}
	return outputTypeNames[t]
}

func (t OutputType) Valid() bool {
	return t > OutputUnknown && t < outputTypeCount
}

// ParseOutputType resolves an output type name such as "TABLE".
func ParseOutputType(s string) (OutputType, error) {
	for t := OutputTable; t < outputTypeCount; t++ {
		if outputTypeNames[t] == s {
			return t, nil
		}
	}
	return OutputUnknown, fmt.Errorf("%w: %q", ErrUnknownOutputType, s)
}

func (t OutputType) MarshalText() ([]byte, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownOutputType, uint8(t))
	}
	return []byte(t.String()), nil
}

func (t *OutputType) UnmarshalText(text []byte) error {
	parsed, err := ParseOutputType(string(text))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// TransferAction is the verb a receiving feature applies to a delivered artifact.
type TransferAction uint8

const (
	ActionNone TransferAction = iota
	ActionOpenIn
	ActionAddTo
	ActionChatWith
	ActionVisualize
	ActionEnrich
	ActionSummarize

	transferActionCount
)

var transferActionNames = [transferActionCount]string{
	ActionNone:      "none",
	ActionOpenIn:    "open-in",
	ActionAddTo:     "add-to",
	ActionChatWith:  "chat-with",
	ActionVisualize: "visualize",
	ActionEnrich:    "enrich",
	ActionSummarize: "summarize",
}

func (a TransferAction) String() string {
	if a >= transferActionCount {
		return fmt.Sprintf("action(%d)", uint8(a))
	}
	return transferActionNames[a]
}

// TransferActions returns every transfer verb in declaration order.
func TransferActions() []TransferAction {
	out := make([]TransferAction, 0, transferActionCount-1)
	for a := ActionOpenIn; a < transferActionCount; a++ {
		out = append(out, a)
	}
	return out
}

func (a TransferAction) Valid() bool {
	return a > ActionNone && a < transferActionCount
}

// ParseTransferAction resolves a verb such as "open-in". The empty string
// and "none" map to ActionNone.
func ParseTransferAction(s string) (TransferAction, error) {
	if s == "" || s == transferActionNames[ActionNone] {
		return ActionNone, nil
	}
	for a := ActionOpenIn; a < transferActionCount; a++ {
		if transferActionNames[a] == s {
			return a, nil
		}
	}
	return ActionNone, fmt.Errorf("%w: unknown transfer action %q", ErrValidation, s)
}

func (a TransferAction) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

func (a *TransferAction) UnmarshalText(text []byte) error {
	parsed, err := ParseTransferAction(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}
