package orchestrator

// 摘要分层调度参数
// Tier-1 覆盖第 1–20 条消息：第 19 条首发，此后每 5 条重建（19, 24, 29, …）
// Tier-2 覆盖第 21–60 条消息：第 59 条首发，此后每 20 条重建（59, 79, 99, …）
// 提前一条触发，保证跨过边界时摘要已经就绪
const (
	tier1First    = 19
	tier1Interval = 5
	tier1Start    = 1
	tier1Cap      = 20

	tier2First    = 59
	tier2Interval = 20
	tier2Start    = 21
	tier2Cap      = 60
)

// SummaryTrigger 到期的摘要重建描述
type SummaryTrigger struct {
	Tier     int `json:"tier"`
	StartIdx int `json:"start_idx"`
	EndIdx   int `json:"end_idx"`
}

// CheckSummaryTriggers 判断当前消息数是否到期重建（纯函数，无副作用）
// 返回零、一或两个触发描述，由调用方转为 DispatchSummaryRebuild 调用
func CheckSummaryTriggers(conversationID string, messageCount int) []SummaryTrigger {
	_ = conversationID // 调度只看消息数，会话 ID 仅用于调用方关联

	triggers := make([]SummaryTrigger, 0, 2)

	if messageCount >= tier1First && (messageCount-tier1First)%tier1Interval == 0 {
		triggers = append(triggers, SummaryTrigger{
			Tier:     1,
			StartIdx: tier1Start,
			EndIdx:   min(tier1Cap, messageCount+1),
		})
	}

	if messageCount >= tier2First && (messageCount-tier2First)%tier2Interval == 0 {
		// Tier-2 终点落后当前消息数 19 条（提前量 1 + Tier-1 窗口 20）
		triggers = append(triggers, SummaryTrigger{
			Tier:     2,
			StartIdx: tier2Start,
			EndIdx:   min(tier2Cap, messageCount+1-tier1Cap),
		})
	}

	return triggers
}
