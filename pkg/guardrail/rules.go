package guardrail

import "regexp"

// DefaultRules returns the built-in rule table. Rules are matched against
// normalized (lower-cased) text.
func DefaultRules() []Rule {
	return []Rule{
		// Bulk or raw data extraction
		{
			Category:    CategoryDataExtraction,
			Pattern:     regexp.MustCompile(`(?i)\b(all|full|entire|complete|whole)\s+(the\s+)?(data|dataset|database|time.?series)\b`),
			Description: "complete dataset",
		},
		{
			Category:    CategoryDataExtraction,
			Pattern:     regexp.MustCompile(`(?i)\b(download|export|dump|extract|get)\s+(all|everything|full|complete|the\s+entire)\b`),
			Description: "export everything",
		},
		{
			Category:    CategoryDataExtraction,
			Pattern:     regexp.MustCompile(`(?i)\b(download|export|dump)\s+(a\s+|the\s+|as\s+)?(csv|json|excel|xlsx|spreadsheet|file)s?\b`),
			Description: "download file",
		},
		{
			Category:    CategoryDataExtraction,
			Pattern:     regexp.MustCompile(`(?i)\b(csv|json|excel|spreadsheet)\s+(of|with|containing|export|dump|download|file)\b`),
			Description: "file export",
		},
		{
			Category:    CategoryDataExtraction,
			Pattern:     regexp.MustCompile(`(?i)\b(raw|source|underlying|original)\s+(data|values|numbers|rows|records|csv|table)`),
			Description: "raw data",
		},
		{
			Category:    CategoryDataExtraction,
			Pattern:     regexp.MustCompile(`(?i)\b(all|every)\s+(country|countries|nation|nations)\b`),
			Description: "every country",
		},
		{
			Category:    CategoryDataExtraction,
			Pattern:     regexp.MustCompile(`(?i)\b(bulk|mass|batch)\s+(data|extract|extraction|download|export)`),
			Description: "bulk download",
		},
		{
			Category:    CategoryDataExtraction,
			Pattern:     regexp.MustCompile(`(?i)\b(replicate|copy|clone|mirror)\s+(the\s+|your\s+)?(data|database|dataset)`),
			Description: "replicate database",
		},
		{
			Category:    CategoryDataExtraction,
			Pattern:     regexp.MustCompile(`(?i)\ball\s+(time|history|years)\b`),
			Description: "all time",
		},
		{
			Category:    CategoryDataExtraction,
			Pattern:     regexp.MustCompile(`(?i)\b(entire|full|complete)\s+(history|period|range)\b`),
			Description: "entire history",
		},
		{
			Category:    CategoryDataExtraction,
			Pattern:     regexp.MustCompile(`(?i)\bevery\s+(data\s*point|row|value|record)s?\b`),
			Description: "every data point",
		},

		// Methodology probing
		{
			Category:    CategoryReverseEngineering,
			Pattern:     regexp.MustCompile(`(?i)\b(how|what|which|where)\s+(is|are|was|were)\s+(?:the|this|your|our|all)?\s*(data|sentiment)\s+(collected|gathered|obtained|sourced|generated|calculated|computed)`),
			Description: "how is the data collected",
		},
		{
			Category:    CategoryReverseEngineering,
			Pattern:     regexp.MustCompile(`(?i)\bhow\s+(do|does|did)\s+(you|they|it|sentichat)\s+(collect|gather|obtain|source|calculate|compute|generate|build|get)\b`),
			Description: "how do you collect",
		},
		{
			Category:    CategoryReverseEngineering,
			Pattern:     regexp.MustCompile(`(?i)\bwhat\s+(is|are)\s+(your|the|its)\s+(algorithm|methodology|method|formula|model|scoring)s?\b`),
			Description: "what is your algorithm",
		},
		{
			Category:    CategoryReverseEngineering,
			Pattern:     regexp.MustCompile(`(?i)\b(method|methodology|algorithm|formula|calculation|computation)\s+(for|of|used|to|behind)\b`),
			Description: "methodology",
		},
		{
			Category:    CategoryReverseEngineering,
			Pattern:     regexp.MustCompile(`(?i)\b(data|sentiment)\s+(source|provider|origin|collection|pipeline|vendor)`),
			Description: "data sources",
		},
		{
			Category:    CategoryReverseEngineering,
			Pattern:     regexp.MustCompile(`(?i)\b(api|endpoint|service)\s+(that|which|used|for)\b`),
			Description: "upstream api",
		},
		{
			Category:    CategoryReverseEngineering,
			Pattern:     regexp.MustCompile(`(?i)\b(underlying|proprietary|internal|secret)\s+(method|algorithm|formula|process|model)`),
			Description: "proprietary method",
		},
		{
			Category:    CategoryReverseEngineering,
			Pattern:     regexp.MustCompile(`(?i)\b(back.?engineer|reverse.?engineer|figure.?out)\s+(how|what|the)\b`),
			Description: "reverse engineer",
		},
		{
			Category:    CategoryReverseEngineering,
			Pattern:     regexp.MustCompile(`(?i)\b(derive|calculate|compute)\s+(from|using|with)\s+(source|raw|original)\b`),
			Description: "derive from source",
		},

		// Unethical use
		{
			Category:    CategoryUnethicalUse,
			Pattern:     regexp.MustCompile(`(?i)\b(manipulate|exploit|target|sway|rig)\s+(the\s+)?(market|markets|election|elections|public|opinion|voters)\b`),
			Description: "manipulation",
		},
		{
			Category:    CategoryUnethicalUse,
			Pattern:     regexp.MustCompile(`(?i)\b(compare|rank)\s+(countries|nations|people)\s+(by|based\s+on)\s+(race|religion|ethnicity|ethnic\s+group)`),
			Description: "discriminatory ranking",
		},
		{
			Category:    CategoryUnethicalUse,
			Pattern:     regexp.MustCompile(`(?i)\b(vulnerable|weak|poor)\s+(populations?|countries|groups?|minorities)\b`),
			Description: "vulnerable groups",
		},
		{
			Category:    CategoryUnethicalUse,
			Pattern:     regexp.MustCompile(`(?i)\b(identify|find|locate)\s+(vulnerable|weak|target)\b`),
			Description: "find targets",
		},
		{
			Category:    CategoryUnethicalUse,
			Pattern:     regexp.MustCompile(`(?i)\b(incite|promote|encourage)\s+(violence|hatred|discrimination|unrest)\b`),
			Description: "incitement",
		},
		{
			Category:    CategoryUnethicalUse,
			Pattern:     regexp.MustCompile(`(?i)\b(discriminatory|harmful|offensive)\s+(comparison|analysis|chart)\b`),
			Description: "harmful analysis",
		},
		{
			Category:    CategoryUnethicalUse,
			Pattern:     regexp.MustCompile(`(?i)\b(fabricate|invent|fake)\s+(a\s+)?(misleading\s+)?(narrative|story|stories|news|report|data)\b`),
			Description: "fabricated narrative",
		},
		{
			Category:    CategoryUnethicalUse,
			Pattern:     regexp.MustCompile(`(?i)\bmisleading\s+(narrative|story|headline|propaganda|chart)s?\b`),
			Description: "misleading narrative",
		},
	}
}
