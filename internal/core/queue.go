package core

import (
	"fmt"
	"slices"
)

// Queue is a named review bucket. An invoice can sit in several queues at once.
type Queue string

const (
	QueueNeedsOCR       Queue = "needs-ocr"
	QueueManualReview   Queue = "manual-review"
	QueueHighConfidence Queue = "high-confidence"
	QueueReadyToMatch   Queue = "ready-to-match"
	QueueAll            Queue = "all"
)

// AllQueues lists queues in display order.
var AllQueues = []Queue{QueueNeedsOCR, QueueManualReview, QueueHighConfidence, QueueReadyToMatch, QueueAll}

func ParseQueue(s string) (Queue, error) {
	if s == "" {
		return QueueAll, nil
	}
	q := Queue(s)
	if !slices.Contains(AllQueues, q) {
		return "", Errorf(KindInvalidRequest, "unknown queue %q", s)
	}
	return q, nil
}

// QueueInput is the subset of stored invoice fields that queue membership depends on.
type QueueInput struct {
	Status            InvoiceStatus
	Analysis          TextAnalysis
	ParsingConfidence *float64
}

func (in QueueInput) flagged(th Thresholds) bool {
	if in.Analysis.NeedsManualReview {
		return true
	}
	return in.ParsingConfidence != nil && *in.ParsingConfidence < th.ParseConfidenceFloor
}

// Classify returns every queue the invoice belongs to. It is a pure function of
// stored fields; QueueCondition expresses the same rules in SQL.
func Classify(in QueueInput, th Thresholds) []Queue {
	var queues []Queue
	flagged := in.flagged(th)

	if in.Analysis.NeedsOCR {
		queues = append(queues, QueueNeedsOCR)
	}
	if flagged {
		queues = append(queues, QueueManualReview)
	}
	if !in.Analysis.NeedsOCR && !flagged && in.Analysis.ValidationConfidence >= th.HighConfidence {
		queues = append(queues, QueueHighConfidence)
	}
	if !in.Analysis.NeedsOCR && !flagged && in.Status == InvoiceStatusParsed && in.Analysis.LineItemCandidates >= 1 {
		queues = append(queues, QueueReadyToMatch)
	}
	return append(queues, QueueAll)
}

const (
	sqlNeedsOCR = `COALESCE((i.text_analysis->>'needs_ocr')::boolean, false)`
	sqlManual   = `COALESCE((i.text_analysis->>'needs_manual_review')::boolean, false)`
	sqlValConf  = `COALESCE((i.text_analysis->>'validation_confidence')::numeric, 0)`
	sqlLineCand = `COALESCE((i.text_analysis->>'line_item_candidates')::int, 0)`
)

// QueueCondition renders the storage-level filter for q against the invoices table
// aliased as i. Placeholders start at $argPos; the returned args fill them in order.
func QueueCondition(q Queue, th Thresholds, argPos int) (string, []any) {
	flagged := fmt.Sprintf(`(%s OR (i.parsing_confidence IS NOT NULL AND i.parsing_confidence < $%d))`, sqlManual, argPos)
	switch q {
	case QueueNeedsOCR:
		return sqlNeedsOCR, nil
	case QueueManualReview:
		return flagged, []any{th.ParseConfidenceFloor}
	case QueueHighConfidence:
		return fmt.Sprintf(`(NOT %s AND NOT %s AND %s >= $%d)`, sqlNeedsOCR, flagged, sqlValConf, argPos+1),
			[]any{th.ParseConfidenceFloor, th.HighConfidence}
	case QueueReadyToMatch:
		return fmt.Sprintf(`(NOT %s AND NOT %s AND i.status = 'parsed' AND %s >= 1)`, sqlNeedsOCR, flagged, sqlLineCand),
			[]any{th.ParseConfidenceFloor}
	default:
		return "TRUE", nil
	}
}
