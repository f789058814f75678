package models

import "time"

// AnchorMessage anchors/{anchor_id}/rssi 主题的 MQTT 消息格式
//
// Timestamp 为毫秒时间戳，缺省时使用接收时间。
type AnchorMessage struct {
	AnchorID  string                `json:"anchor_id"`
	X         float64               `json:"x"`
	Y         float64               `json:"y"`
	Timestamp int64                 `json:"timestamp"`
	Readings  []AnchorMessageReading `json:"readings"`
}

// AnchorMessageReading 基站扫描到的单个工牌读数
type AnchorMessageReading struct {
	BadgeID string `json:"badge_id"`
	RSSI    int32  `json:"rssi"`
}

// SubjectReading 已解析出 subject 的读数
type SubjectReading struct {
	SubjectID string
	RSSI      int32
}

// AnchorBatch 一次基站广播事件（一个批次）
type AnchorBatch struct {
	AnchorID   string
	AnchorX    float64
	AnchorY    float64
	ObservedAt time.Time
	Readings   []SubjectReading
}

// PositionUpdate 推送给实时观察者的位置更新（原 rssi_update）
type PositionUpdate struct {
	SubjectID string      `json:"subject_id"`
	X         float64     `json:"x"`
	Y         float64     `json:"y"`
	Tier      string      `json:"tier"`
	Method    SolveMethod `json:"method"`
	Zone      string      `json:"zone,omitempty"`
	Timestamp int64       `json:"timestamp"`
}

// SubjectEvent subject:events 流中的事件
type SubjectEvent struct {
	EventType string `json:"event_type"`
	SubjectID string `json:"subject_id"`
	BadgeID   string `json:"badge_id,omitempty"`
	Timestamp int64  `json:"timestamp"`
}
