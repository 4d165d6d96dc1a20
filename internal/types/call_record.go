package types

// CallSessionRecord is a finished console session for DynamoDB persistence
type CallSessionRecord struct {
	DateKey      string  `json:"dateKey" dynamodbav:"DateKey"`     // YYYY-MM-DD (partition key)
	SessionID    string  `json:"sessionId" dynamodbav:"SessionID"` // sort key
	AgentID      string  `json:"agentId" dynamodbav:"AgentID"`
	AdminID      int64   `json:"adminId" dynamodbav:"AdminID"`
	TicketID     string  `json:"ticketId,omitempty" dynamodbav:"TicketID"`
	OrderID      string  `json:"orderId,omitempty" dynamodbav:"OrderID"`
	Path         string  `json:"path" dynamodbav:"Path"`
	Outcome      string  `json:"outcome" dynamodbav:"Outcome"`     // dispatched, scheduled, abandoned
	StartTime    string  `json:"startTime" dynamodbav:"StartTime"` // RFC3339
	EndTime      string  `json:"endTime" dynamodbav:"EndTime"`     // RFC3339
	DurationSecs float64 `json:"durationSecs" dynamodbav:"DurationSecs"`
}

// PresenceRecord is one presence transition for DynamoDB persistence
type PresenceRecord struct {
	AgentID   string `json:"agentId" dynamodbav:"AgentID"`     // partition key
	Timestamp string `json:"timestamp" dynamodbav:"Timestamp"` // RFC3339Nano (sort key)
	Previous  string `json:"previous" dynamodbav:"Previous"`
	Status    string `json:"status" dynamodbav:"Status"`
}
