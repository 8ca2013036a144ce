package news

import (
	"sort"
	"strings"

	"github.com/krxwatch/krxwatch/internal/domain"
)

// Analysis is the aggregated view over a news window.
type Analysis struct {
	Total          int            `json:"total"`
	SentimentCount map[string]int `json:"sentiment_count"`
	AvgRelevance   float64        `json:"avg_relevance"`
	TopKeywords    []KeywordCount `json:"top_keywords"`
	BySource       map[string]int `json:"by_source"`
}

// KeywordCount is one entry of the keyword frequency table.
type KeywordCount struct {
	Keyword string `json:"keyword"`
	Count   int    `json:"count"`
}

const topKeywordLimit = 10

// Analyze aggregates sentiment, relevance and keyword frequency over items.
func Analyze(items []domain.NewsItem) Analysis {
	a := Analysis{
		Total:          len(items),
		SentimentCount: map[string]int{"positive": 0, "neutral": 0, "negative": 0},
		BySource:       make(map[string]int),
	}
	if len(items) == 0 {
		return a
	}

	keywords := make(map[string]int)
	var relevanceSum float64
	for _, item := range items {
		relevanceSum += item.RelevanceScore
		if item.Sentiment != "" {
			a.SentimentCount[string(item.Sentiment)]++
		} else {
			a.SentimentCount["neutral"]++
		}
		if item.Source != "" {
			a.BySource[item.Source]++
		}
		for _, tag := range item.Tags {
			keywords[strings.TrimSpace(tag)]++
		}
	}
	a.AvgRelevance = relevanceSum / float64(len(items))

	for kw, n := range keywords {
		if kw == "" {
			continue
		}
		a.TopKeywords = append(a.TopKeywords, KeywordCount{Keyword: kw, Count: n})
	}
	sort.Slice(a.TopKeywords, func(i, j int) bool {
		if a.TopKeywords[i].Count != a.TopKeywords[j].Count {
			return a.TopKeywords[i].Count > a.TopKeywords[j].Count
		}
		return a.TopKeywords[i].Keyword < a.TopKeywords[j].Keyword
	})
	if len(a.TopKeywords) > topKeywordLimit {
		a.TopKeywords = a.TopKeywords[:topKeywordLimit]
	}

	return a
}
