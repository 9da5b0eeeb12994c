package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/selene-assistant/selene/pkg/models"
)

// extractionResult は抽出プロンプトの期待する応答形式です
type extractionResult struct {
	Facts []models.CandidateFact `json:"facts"`
}

// ExtractMemories は直近のやり取りから記憶候補となる事実を抽出します
// 応答がJSONとして解釈できない場合は空のスライスを返します
// （パイプライン全体を落とさない）。生成プロバイダの失敗のみエラーになります
func (s *Service) ExtractMemories(ctx context.Context, userMessage, assistantResponse string, recentMessages []models.ConversationMessage) ([]models.CandidateFact, error) {
	var recentContext strings.Builder
	for i, msg := range recentMessages {
		if i > 0 {
			recentContext.WriteString("\n")
		}
		recentContext.WriteString(msg.Role)
		recentContext.WriteString(": ")
		recentContext.WriteString(msg.Content)
	}

	prompt := fmt.Sprintf(`You are a memory extraction system for a personal assistant.

Given this conversation context and the latest exchange, extract any facts
worth remembering about the user - their preferences, patterns, projects,
or important context.

RECENT MESSAGES:
%s

CURRENT EXCHANGE:
User: %s
Assistant: %s

Return ONLY valid JSON matching this exact format (no other text):
{
  "facts": [
    {"fact": "description of fact", "type": "preference|fact|pattern|context", "confidence": 0.8}
  ]
}

Only extract facts that are genuinely useful for future conversations.
Be selective, not exhaustive. If nothing worth remembering, return {"facts": []}.`,
		recentContext.String(), userMessage, assistantResponse)

	response, err := s.generator.Generate(ctx, prompt)
	if err != nil {
		return nil, fmt.Errorf("memory extraction failed: %w", err)
	}

	var result extractionResult
	if err := unmarshalLenient(response, &result); err != nil {
		s.logger.Warn("memory extraction returned unparsable JSON, dropping", "error", err)
		return nil, nil
	}

	s.logger.Debug("memory extraction completed", "facts", len(result.Facts))
	return result.Facts, nil
}

// unmarshalLenient はLLM応答からJSONオブジェクトを取り出してデコードします
// まずそのままパースを試み、失敗した場合のみ最初の '{' から最後の '}' までを
// 切り出して再試行します（会話的な前置き・後置きへの耐性）
func unmarshalLenient(response string, v any) error {
	trimmed := strings.TrimSpace(response)
	if err := json.Unmarshal([]byte(trimmed), v); err == nil {
		return nil
	}

	start := strings.Index(trimmed, "{")
	end := strings.LastIndex(trimmed, "}")
	if start < 0 || end <= start {
		return fmt.Errorf("no JSON object found in response")
	}

	if err := json.Unmarshal([]byte(trimmed[start:end+1]), v); err != nil {
		return fmt.Errorf("failed to parse salvaged JSON: %w", err)
	}
	return nil
}
