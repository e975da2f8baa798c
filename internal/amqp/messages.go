package amqp

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"gastos/internal/analyzer"
	"gastos/internal/core"
)

// AnalysisRequestMessage asks the worker to analyze the records selected by
// a query. The worker fetches the records itself.
type AnalysisRequestMessage struct {
	RequestID  string    `json:"requestId"`
	DatasetID  string    `json:"datasetId,omitempty"`
	Year       int       `json:"ano,omitempty"`
	Month      int       `json:"mes,omitempty"`
	State      string    `json:"uf,omitempty"`
	Party      string    `json:"partido,omitempty"`
	Legislator string    `json:"deputado,omitempty"`
	Export     bool      `json:"exportar,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

func NewAnalysisRequestMessage(q core.RecordQuery, export bool) *AnalysisRequestMessage {
	return &AnalysisRequestMessage{
		RequestID:  uuid.NewString(),
		DatasetID:  q.DatasetID,
		Year:       q.Year,
		Month:      q.Month,
		State:      q.State,
		Party:      q.Party,
		Legislator: q.Legislator,
		Export:     export,
		Timestamp:  time.Now().UTC(),
	}
}

// Query returns the record selection carried by the message.
func (m *AnalysisRequestMessage) Query() core.RecordQuery {
	return core.RecordQuery{
		DatasetID:  m.DatasetID,
		Year:       m.Year,
		Month:      m.Month,
		State:      m.State,
		Party:      m.Party,
		Legislator: m.Legislator,
	}
}

func (m *AnalysisRequestMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// AnalysisRequestMessageFromJSON decodes and validates a request.
func AnalysisRequestMessageFromJSON(data []byte) (*AnalysisRequestMessage, error) {
	var msg AnalysisRequestMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	if msg.RequestID == "" {
		return nil, fmt.Errorf("analysis request without requestId")
	}
	if err := msg.Query().Validate(); err != nil {
		return nil, fmt.Errorf("analysis request %s: %w", msg.RequestID, err)
	}
	return &msg, nil
}

// AlertSummaryMessage reports the outcome of one analysis run.
type AlertSummaryMessage struct {
	RequestID      string              `json:"requestId"`
	DatasetID      string              `json:"datasetId,omitempty"`
	SnapshotID     int64               `json:"snapshotId,omitempty"`
	Records        int                 `json:"numRegistros"`
	TotalSpent     float64             `json:"totalGasto"`
	Alerts         int                 `json:"numAlertas"`
	High           int                 `json:"alta"`
	Medium         int                 `json:"media"`
	Low            int                 `json:"baixa"`
	TopLegislators []LegislatorSummary `json:"principaisDeputados"`
	ReportRef      string              `json:"relatorio,omitempty"`
	Timestamp      time.Time           `json:"timestamp"`
}

type LegislatorSummary struct {
	Name  string  `json:"nome"`
	Score int     `json:"scoreSuspeicao"`
	Total float64 `json:"totalGasto"`
}

// NewAlertSummaryMessage condenses a result, keeping the topN legislators in
// result order with a non-zero score.
func NewAlertSummaryMessage(requestID, datasetID string, result *analyzer.AnalysisResult, topN int) *AlertSummaryMessage {
	counts := result.CountBySeverity()
	msg := &AlertSummaryMessage{
		RequestID:      requestID,
		DatasetID:      datasetID,
		Records:        result.Statistics.Records,
		TotalSpent:     result.Statistics.TotalSpent,
		Alerts:         len(result.Alerts),
		High:           counts[analyzer.SeverityHigh],
		Medium:         counts[analyzer.SeverityMedium],
		Low:            counts[analyzer.SeverityLow],
		TopLegislators: []LegislatorSummary{},
		Timestamp:      time.Now().UTC(),
	}
	for _, l := range result.Legislators {
		if len(msg.TopLegislators) >= topN || l.Score == 0 {
			break
		}
		msg.TopLegislators = append(msg.TopLegislators, LegislatorSummary{Name: l.Name, Score: l.Score, Total: l.Total})
	}
	return msg
}

func (m *AlertSummaryMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

func AlertSummaryMessageFromJSON(data []byte) (*AlertSummaryMessage, error) {
	var msg AlertSummaryMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}
