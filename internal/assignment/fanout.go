package assignment

// EventKind 会话事件类型（生产侧扇出的输入）
type EventKind string

const (
	// EventMessage 普通文本消息（无条件扇出到文本类任务）
	EventMessage EventKind = "message"
	// EventPhoto 消息附带的图片（每张图片一条任务）
	EventPhoto EventKind = "photo"
	// EventEntities 实体归一事件
	EventEntities EventKind = "entities"
	// EventSummary 会话摘要重建事件
	EventSummary EventKind = "summary"
)

// FanOut 扇出表：事件类型 → 任务类型列表
// 声明式配置，新增 JobType 时只改这里，不改派发逻辑
var FanOut = map[EventKind][]JobType{
	EventMessage:  {TypeGrid, TypeEmbedding, TypeTemporal},
	EventPhoto:    {TypeVision},
	EventEntities: {TypeEntity},
	EventSummary:  {TypeSummary},
}
