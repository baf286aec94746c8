package extraction

import "github.com/jonathan/courseware-agent/internal/ingestion"

var decodedFixture = ingestion.Decoded{
	DocumentID: "tsc",
	Text:       "Duration: 16 hours\nIndustry | Infocomm\nCodes ICT-DIT-3002-1.1 and ICT-DIT-3003-1.1",
	Pairs: []ingestion.Pair{
		{Key: "Duration", Value: "16 hours", Location: "line 1"},
		{Key: "Industry", Value: "Infocomm", Location: "TSC!3", Cell: true},
	},
}
