package core

import (
	"slices"
	"strings"
	"testing"
)

func ptrFloat(f float64) *float64 { return &f }

func TestClassify(t *testing.T) {
	th := DefaultThresholds
	tests := []struct {
		name string
		in   QueueInput
		want []Queue
	}{
		{
			name: "garbled text needs ocr",
			in: QueueInput{
				Status:   InvoiceStatusUploaded,
				Analysis: TextAnalysis{ValidationConfidence: 0.3, NeedsOCR: true},
			},
			want: []Queue{QueueNeedsOCR, QueueAll},
		},
		{
			name: "validator flagged for manual review",
			in: QueueInput{
				Status:   InvoiceStatusParsed,
				Analysis: TextAnalysis{ValidationConfidence: 0.6, NeedsManualReview: true, LineItemCandidates: 3},
			},
			want: []Queue{QueueManualReview, QueueAll},
		},
		{
			name: "low parse confidence is manual review even with clean text",
			in: QueueInput{
				Status:            InvoiceStatusParsed,
				Analysis:          TextAnalysis{ValidationConfidence: 0.9, LineItemCandidates: 2},
				ParsingConfidence: ptrFloat(0.4),
			},
			want: []Queue{QueueManualReview, QueueAll},
		},
		{
			name: "parsed high confidence with lines is ready to match",
			in: QueueInput{
				Status:            InvoiceStatusParsed,
				Analysis:          TextAnalysis{ValidationConfidence: 0.85, LineItemCandidates: 4},
				ParsingConfidence: ptrFloat(0.92),
			},
			want: []Queue{QueueHighConfidence, QueueReadyToMatch, QueueAll},
		},
		{
			name: "moderate confidence without flags is ready to match but not high confidence",
			in: QueueInput{
				Status:   InvoiceStatusParsed,
				Analysis: TextAnalysis{ValidationConfidence: 0.6, LineItemCandidates: 1},
			},
			want: []Queue{QueueReadyToMatch, QueueAll},
		},
		{
			name: "no line candidates is not ready to match",
			in: QueueInput{
				Status:   InvoiceStatusParsed,
				Analysis: TextAnalysis{ValidationConfidence: 0.8},
			},
			want: []Queue{QueueHighConfidence, QueueAll},
		},
		{
			name: "reviewing invoice leaves ready to match",
			in: QueueInput{
				Status:   InvoiceStatusReviewing,
				Analysis: TextAnalysis{ValidationConfidence: 0.8, LineItemCandidates: 2},
			},
			want: []Queue{QueueHighConfidence, QueueAll},
		},
		{
			name: "boundary 0.75 counts as high confidence",
			in: QueueInput{
				Status:   InvoiceStatusUploaded,
				Analysis: TextAnalysis{ValidationConfidence: 0.75},
			},
			want: []Queue{QueueHighConfidence, QueueAll},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.in, th)
			if !slices.Equal(got, tt.want) {
				t.Errorf("Classify = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestClassify_NeedsOCRToReadyToMatch(t *testing.T) {
	th := DefaultThresholds
	inv := &Invoice{
		Status:       InvoiceStatusUploaded,
		TextAnalysis: TextAnalysis{ValidationConfidence: 0.3, NeedsOCR: true},
	}
	if q := inv.Queues(th); !slices.Contains(q, QueueNeedsOCR) {
		t.Fatalf("expected needs-ocr, got %v", q)
	}

	inv.Status = InvoiceStatusParsed
	inv.TextAnalysis = TextAnalysis{ValidationConfidence: 0.85, LineItemCandidates: 3}
	inv.ParsingConfidence = ptrFloat(0.9)
	q := inv.Queues(th)
	if slices.Contains(q, QueueNeedsOCR) || !slices.Contains(q, QueueReadyToMatch) {
		t.Fatalf("expected ready-to-match without needs-ocr, got %v", q)
	}
}

func TestQueueCondition_Placeholders(t *testing.T) {
	for _, q := range AllQueues {
		cond, args := QueueCondition(q, DefaultThresholds, 3)
		for i := range args {
			ph := "$" + string(rune('3'+i))
			if !strings.Contains(cond, ph) {
				t.Errorf("%s: condition %q missing placeholder %s", q, cond, ph)
			}
		}
		if strings.Contains(cond, "$"+string(rune('3'+len(args)))) {
			t.Errorf("%s: condition %q references an unbound placeholder", q, cond)
		}
	}
}

func TestParseQueue(t *testing.T) {
	if q, err := ParseQueue(""); err != nil || q != QueueAll {
		t.Errorf("empty queue = %v, %v", q, err)
	}
	if _, err := ParseQueue("urgent"); KindOf(err) != KindInvalidRequest {
		t.Errorf("expected invalid request, got %v", err)
	}
}
