package analysis

import (
	"context"
	"strings"

	"thirdcoast.systems/reelwatch/internal/pipeline"
)

const sentimentSystemPrompt = `You are an expert comment classifier for social media relating to possible crime videos.
You will analyze a batch of comments and classify their intent as one of exactly these three:
- CRIME_REPORT: The comments refer to a real crime or credible suspicion of a crime.
- SPAM_SARCASM: The comments are spam, sarcasm, a meme, or otherwise clearly not a genuine report.
- AMBIGUOUS: The comments could not be confidently placed in either category or are unclear.

Respond ONLY with a valid JSON object exactly in this format:
{"label": "CRIME_REPORT"|"SPAM_SARCASM"|"AMBIGUOUS", "explanation": "A SHORT explanation for your choice."}`

// SentimentClassifier labels the comment corpus of a reel.
type SentimentClassifier struct {
	client *Client
	model  string
}

func NewSentimentClassifier(client *Client, model string) *SentimentClassifier {
	return &SentimentClassifier{client: client, model: model}
}

func (s *SentimentClassifier) ClassifySentiment(ctx context.Context, text string) (*pipeline.Sentiment, error) {
	var out pipeline.Sentiment
	err := s.client.chatJSON(ctx, chatRequest{
		Model: s.model,
		Messages: []chatMessage{
			{Role: "system", Content: sentimentSystemPrompt},
			{Role: "user", Content: text},
		},
		Temperature: 0.2,
		MaxTokens:   150,
	}, &out)
	if err != nil {
		return nil, err
	}

	out.Label = normalizeLabel(out.Label)
	out.Explanation = strings.TrimSpace(out.Explanation)
	return &out, nil
}

// normalizeLabel maps anything outside the three known labels to AMBIGUOUS.
func normalizeLabel(label string) string {
	l := strings.ToUpper(strings.TrimSpace(label))
	l = strings.ReplaceAll(l, "-", "_")
	l = strings.ReplaceAll(l, " ", "_")
	switch l {
	case pipeline.LabelCrimeReport, pipeline.LabelSpamSarcasm, pipeline.LabelAmbiguous:
		return l
	}
	return pipeline.LabelAmbiguous
}
