package capability

import "github.com/aretw0/tendril/pkg/domain"

// Default returns the console's capability map. Every feature is declared;
// features that consume nothing have an empty accept set.
func Default() *Map {
	return MustNew(
		Entry{
			Feature:       domain.FeatureSpreadsheets,
			Accepts:       []domain.OutputType{domain.OutputTable, domain.OutputDataset},
			DefaultAction: domain.ActionOpenIn,
			Label:         "Open in Spreadsheets",
		},
		Entry{
			Feature:       domain.FeatureVisualization,
			Accepts:       []domain.OutputType{domain.OutputTable, domain.OutputDataset},
			DefaultAction: domain.ActionVisualize,
			Label:         "Visualize",
		},
		Entry{
			Feature:       domain.FeatureEnrichment,
			Accepts:       []domain.OutputType{domain.OutputTable, domain.OutputDataset},
			DefaultAction: domain.ActionEnrich,
			Label:         "Enrich rows",
		},
		Entry{
			Feature:       domain.FeatureDocQA,
			Accepts:       []domain.OutputType{domain.OutputText},
			DefaultAction: domain.ActionChatWith,
			Label:         "Ask questions",
		},
		Entry{
			Feature:       domain.FeatureSummary,
			Accepts:       []domain.OutputType{domain.OutputText, domain.OutputDocument, domain.OutputReport},
			DefaultAction: domain.ActionSummarize,
			Label:         "Summarize",
		},
		Entry{
			Feature:       domain.FeatureReports,
			Accepts:       []domain.OutputType{domain.OutputChart, domain.OutputTable, domain.OutputText},
			DefaultAction: domain.ActionAddTo,
			Label:         "Add to report",
		},
		Entry{
			Feature:       domain.FeatureSynthesis,
			Accepts:       []domain.OutputType{domain.OutputDocument, domain.OutputText, domain.OutputReport},
			DefaultAction: domain.ActionAddTo,
			Label:         "Add to synthesis",
		},
		Entry{
			Feature:       domain.FeatureTemplates,
			Accepts:       []domain.OutputType{domain.OutputDocument},
			DefaultAction: domain.ActionOpenIn,
			Label:         "Use as template",
		},
		Entry{Feature: domain.FeatureConnections},
		Entry{Feature: domain.FeatureJobs},
		Entry{Feature: domain.FeatureSearch},
	)
}
