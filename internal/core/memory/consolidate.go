package memory

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/selene-assistant/selene/pkg/models"
)

// Action は裁定が選ぶ統合アクションです
type Action string

const (
	ActionAdd    Action = "ADD"
	ActionUpdate Action = "UPDATE"
	ActionDelete Action = "DELETE"
	ActionNoop   Action = "NOOP"
)

// Decision は裁定の結果です
type Decision struct {
	Action   Action `json:"action"`
	MemoryID int64  `json:"memoryId"`
	Merged   string `json:"merged"`
	Reason   string `json:"reason"`
}

// consolidation は1件の候補事実に対する統合処理の状態です
// 4つのステップ（埋め込み → 近傍検索 → 裁定 → 反映）を順に進み、
// 反映ステップまで記憶ストアには一切触れません
type consolidation struct {
	fact      models.CandidateFact
	sessionID uuid.UUID

	// stepEmbed の結果。失敗時は nil のまま先へ進む
	factEmbedding []float32

	// stepNeighborSearch の結果
	neighbors []Similar

	// stepArbitrate の結果
	decision Decision
}

// Consolidate は候補事実を既存の記憶と突き合わせて反映します
// 近傍が見つからなければ裁定なしで ADD、裁定応答が解釈できなければ
// ADD にフォールバックします（忘れるより覚えすぎる方を選ぶ）
// ストアへの書き込み失敗のみエラーとして返します
func (s *Service) Consolidate(ctx context.Context, fact models.CandidateFact, sessionID uuid.UUID) error {
	c := &consolidation{fact: fact, sessionID: sessionID}

	s.stepEmbed(ctx, c)

	if err := s.stepNeighborSearch(ctx, c); err != nil {
		return err
	}

	if len(c.neighbors) == 0 {
		c.decision = Decision{Action: ActionAdd}
		s.logger.Debug("consolidation: ADD (no similar memories)")
		return s.stepMutate(ctx, c)
	}

	s.stepArbitrate(ctx, c)
	return s.stepMutate(ctx, c)
}

// stepEmbed は候補事実を埋め込みます。失敗しても処理は続行します
func (s *Service) stepEmbed(ctx context.Context, c *consolidation) {
	vector, err := s.embedder.Embed(ctx, c.fact.Fact)
	if err != nil {
		s.logger.Warn("consolidation: fact embedding failed, continuing without", "error", err)
		return
	}
	c.factEmbedding = vector
}

// stepNeighborSearch は候補事実に類似する既存記憶を探します
// 埋め込みがない場合は近傍なしとして扱います
func (s *Service) stepNeighborSearch(ctx context.Context, c *consolidation) error {
	if c.factEmbedding == nil {
		return nil
	}

	memories, err := s.repo.ListMemoriesWithEmbeddings(ctx)
	if err != nil {
		return fmt.Errorf("consolidation: neighbor search failed: %w", err)
	}

	c.neighbors = FindSimilar(c.factEmbedding, memories, NeighborThreshold, NeighborLimit)
	return nil
}

// stepArbitrate は生成モデルに統合アクションを選ばせます
// 応答が解釈できない場合は ADD にフォールバックします
func (s *Service) stepArbitrate(ctx context.Context, c *consolidation) {
	var neighborList strings.Builder
	for i, n := range c.neighbors {
		if i > 0 {
			neighborList.WriteString("\n")
		}
		fmt.Fprintf(&neighborList, "%d. [id=%d] %s", i+1, n.Memory.ID, n.Memory.Content)
	}

	prompt := fmt.Sprintf(`You are managing a memory system. Given a new fact and existing similar
memories, decide what to do.

NEW FACT: %q

EXISTING SIMILAR MEMORIES:
%s

Return ONLY valid JSON matching one of these formats (no other text):
- {"action": "ADD"} - New information, nothing equivalent exists
- {"action": "UPDATE", "memoryId": N, "merged": "combined fact text"} - Augment existing
- {"action": "DELETE", "memoryId": N, "reason": "why"} - New fact contradicts this
- {"action": "NOOP", "reason": "why"} - Already known or not worth storing

Consider: Is this genuinely new? Does it contradict something? Is it worth remembering?`,
		c.fact.Fact, neighborList.String())

	response, err := s.generator.Generate(ctx, prompt)
	if err != nil {
		s.logger.Warn("consolidation: arbitration call failed, defaulting to ADD", "error", err)
		c.decision = Decision{Action: ActionAdd}
		return
	}

	var decision Decision
	if err := unmarshalLenient(response, &decision); err != nil {
		s.logger.Warn("consolidation: unparsable arbitration response, defaulting to ADD", "error", err)
		c.decision = Decision{Action: ActionAdd}
		return
	}

	switch decision.Action {
	case ActionAdd, ActionUpdate, ActionDelete, ActionNoop:
		c.decision = decision
	default:
		s.logger.Warn("consolidation: unknown arbitration action, defaulting to ADD", "action", decision.Action)
		c.decision = Decision{Action: ActionAdd}
	}
}

// stepMutate は裁定結果を記憶ストアへ反映する唯一のステップです
func (s *Service) stepMutate(ctx context.Context, c *consolidation) error {
	switch c.decision.Action {
	case ActionAdd:
		sessionID := c.sessionID.String()
		memory := models.Memory{
			Content:         c.fact.Fact,
			MemoryType:      models.ParseMemoryType(c.fact.Type),
			Confidence:      c.fact.Confidence,
			SourceSessionID: &sessionID,
		}
		if _, err := s.repo.InsertMemory(ctx, memory, c.factEmbedding); err != nil {
			return fmt.Errorf("consolidation: insert failed: %w", err)
		}
		s.logger.Debug("consolidation: ADD")

	case ActionUpdate:
		if c.decision.MemoryID == 0 || c.decision.Merged == "" {
			s.logger.Warn("consolidation: UPDATE missing memoryId or merged text, skipping")
			return nil
		}
		// マージ後のテキストで再埋め込み（ベストエフォート）
		mergedEmbedding, err := s.embedder.Embed(ctx, c.decision.Merged)
		if err != nil {
			s.logger.Warn("consolidation: re-embed failed for UPDATE", "error", err)
			mergedEmbedding = nil
		}
		if err := s.repo.UpdateMemory(ctx, c.decision.MemoryID, c.decision.Merged, mergedEmbedding); err != nil {
			return fmt.Errorf("consolidation: update failed: %w", err)
		}
		s.logger.Debug("consolidation: UPDATE", "memoryID", c.decision.MemoryID)

	case ActionDelete:
		if c.decision.MemoryID == 0 {
			s.logger.Warn("consolidation: DELETE missing memoryId, skipping")
			return nil
		}
		if err := s.repo.DeleteMemory(ctx, c.decision.MemoryID); err != nil {
			return fmt.Errorf("consolidation: delete failed: %w", err)
		}
		s.logger.Debug("consolidation: DELETE", "memoryID", c.decision.MemoryID)

	case ActionNoop:
		s.logger.Debug("consolidation: NOOP", "reason", c.decision.Reason)
	}

	return nil
}
