package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"invoice-recon/internal/core"
	"invoice-recon/internal/extract"
	"invoice-recon/internal/matching"
)

// SubmitInvoice stores the document and creates the invoice. A supplier hint that names
// a known supplier is resolved up front; otherwise the printed name is tried after parsing.
func (s *appService) SubmitInvoice(ctx context.Context, req SubmitInvoiceRequest) (*SubmitResult, error) {
	if err := s.check(req); err != nil {
		return nil, err
	}
	mime := extract.NormalizeMIME(req.MimeType)
	if !extract.SupportedMIME(mime) {
		return nil, core.Errorf(core.KindInvalidRequest, "unsupported document type %q", req.MimeType)
	}
	if int64(len(req.Data)) > s.maxBytes {
		return nil, core.Errorf(core.KindInvalidRequest, "document is %d bytes, limit is %d", len(req.Data), s.maxBytes)
	}

	supplierID, err := s.submittedSupplier(ctx, req)
	if err != nil {
		return nil, err
	}

	fileURL, err := s.store.Put(ctx, req.FileName, mime, req.Data)
	if err != nil {
		return nil, fmt.Errorf("store document: %w", err)
	}
	inv, err := s.invoices.CreateInvoice(ctx, core.NewInvoiceInput{
		SupplierID: supplierID,
		FilePath:   fileURL,
		MimeType:   mime,
		UploadedBy: req.Actor,
	})
	if err != nil {
		return nil, err
	}
	s.log.Info().Int("invoice_id", inv.ID).Str("mime", mime).Int("bytes", len(req.Data)).
		Str("actor", req.Actor).Msg("invoice submitted")

	if s.queue != nil {
		if err := s.queue.Enqueue(inv.ID); err != nil {
			// The invoice stays uploaded and can be processed explicitly later.
			s.log.Warn().Err(err).Int("invoice_id", inv.ID).Msg("invoice not queued")
			return &SubmitResult{Invoice: inv}, nil
		}
		return &SubmitResult{Invoice: inv, Queued: true}, nil
	}

	res, err := s.ProcessInvoice(ctx, inv.ID)
	if err != nil {
		return nil, fmt.Errorf("process invoice %d: %w", inv.ID, err)
	}
	return &SubmitResult{Invoice: res.Invoice, Process: res}, nil
}

func (s *appService) submittedSupplier(ctx context.Context, req SubmitInvoiceRequest) (*int, error) {
	if req.SupplierID != nil {
		if _, err := s.catalog.GetSupplier(ctx, *req.SupplierID); err != nil {
			return nil, err
		}
		return req.SupplierID, nil
	}
	hint := strings.TrimSpace(req.SupplierHint)
	if hint == "" {
		return nil, nil
	}
	sup, err := s.catalog.FindSupplierByName(ctx, hint)
	switch {
	case err == nil:
		return &sup.ID, nil
	case errors.Is(err, core.ErrNotFound):
		s.log.Debug().Str("hint", hint).Msg("supplier hint did not resolve")
		return nil, nil
	default:
		return nil, err
	}
}

// ProcessInvoice runs the pipeline for an uploaded invoice.
func (s *appService) ProcessInvoice(ctx context.Context, invoiceID int) (*ProcessResult, error) {
	return s.run(ctx, invoiceID, extract.Options{})
}

// ReextractInvoice forces OCR and reruns parsing and matching.
func (s *appService) ReextractInvoice(ctx context.Context, req ReextractRequest) (*ProcessResult, error) {
	if err := s.check(req); err != nil {
		return nil, err
	}
	s.log.Info().Int("invoice_id", req.InvoiceID).Str("actor", req.Actor).Str("language", req.Language).
		Msg("re-extraction requested")
	return s.run(ctx, req.InvoiceID, extract.Options{ForceOCR: true, Language: req.Language})
}

// run is extract -> validate -> parse -> match. Stages persist as they go, so a failure
// leaves the invoice at the last completed stage.
func (s *appService) run(ctx context.Context, invoiceID int, opts extract.Options) (*ProcessResult, error) {
	log := s.log.With().Int("invoice_id", invoiceID).Logger()
	started := time.Now()

	inv, err := s.invoices.GetInvoice(ctx, invoiceID)
	if err != nil {
		return nil, err
	}
	switch inv.Status {
	case core.InvoiceStatusUploaded, core.InvoiceStatusParsing, core.InvoiceStatusParsed:
	default:
		return nil, core.Errorf(core.KindInvalidTransition, "invoice %d is %s and cannot be processed", invoiceID, inv.Status)
	}

	text, out, err := s.extractStage(ctx, inv, opts)
	if err != nil {
		s.recordExtractionFailure(ctx, log, inv, err)
		return nil, err
	}
	if out.Stage == StageNeedsOCR {
		log.Info().Float64("confidence", out.Confidence).Str("method", out.Method).Msg("text too weak; left for OCR review")
		return s.finish(ctx, invoiceID, out)
	}

	parsed, printed, err := s.parseStage(ctx, log, inv, text)
	if err != nil {
		return nil, err
	}

	supplierID, err := s.resolveSupplier(ctx, log, parsed, printed)
	if err != nil {
		return nil, err
	}
	matched, err := s.matchStage(ctx, parsed, supplierID)
	if err != nil {
		return nil, fmt.Errorf("match invoice %d: %w", invoiceID, err)
	}
	out.Matched = matched
	out.Stage = StageParsed
	if matched > 0 {
		out.Stage = StageMatched
	}
	log.Info().Str("stage", out.Stage).Int("lines", len(parsed.LineItems)).Int("matched", matched).
		Dur("elapsed", time.Since(started)).Msg("invoice processed")
	return s.finish(ctx, invoiceID, out)
}

func (s *appService) extractStage(ctx context.Context, inv *core.Invoice, opts extract.Options) (string, *ProcessResult, error) {
	signed, err := s.store.SignedURL(ctx, inv.FilePath, s.signedURLTTL)
	if err != nil {
		return "", nil, core.Errorf(core.KindExtractionFailed, "sign document for invoice %d: %w", inv.ID, err)
	}
	data, err := s.fetch(ctx, signed)
	if err != nil {
		return "", nil, core.Errorf(core.KindExtractionFailed, "fetch document for invoice %d: %w", inv.ID, err)
	}

	res, err := s.extractor.Extract(ctx, data, inv.MimeType, opts)
	if err != nil {
		return "", nil, err
	}
	if err := s.invoices.RecordExtraction(ctx, inv.ID, core.ExtractionRecord{
		Method:     res.Method,
		Text:       res.Text,
		Confidence: res.Confidence,
		Analysis:   res.Analysis,
		Failure:    res.Warning,
	}); err != nil {
		return "", nil, err
	}

	out := &ProcessResult{Method: res.Method, Confidence: res.Confidence, Warning: res.Warning}
	if res.Analysis.NeedsOCR {
		out.Stage = StageNeedsOCR
	}
	return res.Text, out, nil
}

// recordExtractionFailure keeps a not-yet-parsed invoice in the needs-ocr queue with the
// reason. Parsed invoices keep their state; the caller still gets the error.
func (s *appService) recordExtractionFailure(ctx context.Context, log zerolog.Logger, inv *core.Invoice, cause error) {
	if inv.Status == core.InvoiceStatusParsed {
		return
	}
	kind := core.KindOf(cause)
	if kind != core.KindExtractionFailed && kind != core.KindExtractionTimeout && kind != core.KindAssetUnavailable {
		return
	}
	err := s.invoices.RecordExtraction(ctx, inv.ID, core.ExtractionRecord{
		Analysis: core.TextAnalysis{NeedsOCR: true},
		Failure:  cause.Error(),
	})
	if err != nil {
		log.Error().Err(err).Msg("failed to record extraction failure")
	}
	log.Warn().Err(cause).Str("kind", string(kind)).Msg("extraction failed")
}

// parseStage returns the invoice as persisted after parsing and the printed supplier
// name. A parse failure is stored on the invoice (status error) and returned as
// PARSING_FAILED.
func (s *appService) parseStage(ctx context.Context, log zerolog.Logger, inv *core.Invoice, text string) (*core.Invoice, string, error) {
	if err := s.invoices.MarkParsing(ctx, inv.ID); err != nil {
		return nil, "", err
	}
	hint := ""
	if inv.SupplierName != nil {
		hint = *inv.SupplierName
	}
	res := s.parser.Parse(ctx, text, hint)

	updated, err := s.invoices.RecordParseResult(ctx, inv.ID, res)
	if err != nil {
		if errors.Is(err, core.ErrInvariantViolation) {
			s.markError(ctx, log, inv.ID, err)
		}
		return nil, "", err
	}
	if !res.Success {
		reason := strings.Join(res.Errors, "; ")
		if updated.ParsingError != nil {
			reason = *updated.ParsingError
		}
		return nil, "", core.Errorf(core.KindParsingFailed, "invoice %d: %s", inv.ID, reason)
	}
	return updated, strings.TrimSpace(res.Invoice.SupplierName), nil
}

// markError parks the invoice in error; the unique (supplier, number) index is the usual cause.
func (s *appService) markError(ctx context.Context, log zerolog.Logger, invoiceID int, cause error) {
	if err := s.invoices.MarkError(ctx, invoiceID, cause.Error()); err != nil {
		log.Error().Err(err).Msg("failed to mark invoice error")
	}
}

// resolveSupplier attaches a supplier from the printed name when the upload carried none.
// Unknown names leave the invoice without a supplier.
func (s *appService) resolveSupplier(ctx context.Context, log zerolog.Logger, inv *core.Invoice, printed string) (*int, error) {
	if inv.SupplierID != nil {
		return inv.SupplierID, nil
	}
	if printed == "" {
		return nil, nil
	}
	sup, err := s.catalog.FindSupplierByName(ctx, printed)
	if err != nil {
		if !errors.Is(err, core.ErrNotFound) {
			log.Warn().Err(err).Str("supplier", printed).Msg("supplier resolution failed")
		}
		return nil, nil
	}
	if err := s.invoices.SetSupplier(ctx, inv.ID, sup.ID); err != nil {
		if errors.Is(err, core.ErrInvariantViolation) {
			s.markError(ctx, log, inv.ID, err)
			return nil, err
		}
		log.Warn().Err(err).Int("supplier_id", sup.ID).Msg("failed to attach supplier")
		return nil, nil
	}
	return &sup.ID, nil
}

// matchStage stores an automatic suggestion for every open line with a candidate above
// the floor and returns how many lines got one.
func (s *appService) matchStage(ctx context.Context, inv *core.Invoice, supplierID *int) (int, error) {
	engine, recency, err := s.matcher(ctx, supplierID)
	if err != nil {
		return 0, err
	}
	var suggestions []core.LineMatchSuggestion
	for i := range inv.LineItems {
		l := &inv.LineItems[i]
		if l.Reviewed || l.Skipped() {
			continue
		}
		r := engine.Match(lineInput(l), recency)
		if r.Best == nil {
			continue
		}
		suggestions = append(suggestions, core.LineMatchSuggestion{
			LineItemID:        l.ID,
			ItemID:            r.Best.ItemID,
			Confidence:        r.Best.Score,
			UnitMultiplier:    r.Best.Multiplier,
			EffectiveQuantity: r.EffectiveQuantity,
		})
	}
	if err := s.invoices.ApplySuggestions(ctx, inv.ID, suggestions); err != nil {
		return 0, err
	}
	return len(suggestions), nil
}

// matcher builds an engine over the supplier's items, or the whole catalog when the
// supplier is unknown or has none yet.
func (s *appService) matcher(ctx context.Context, supplierID *int) (*matching.Engine, map[int]time.Time, error) {
	items, err := s.inventory.ListItems(ctx, supplierID)
	if err != nil {
		return nil, nil, err
	}
	if supplierID != nil && len(items) == 0 {
		if items, err = s.inventory.ListItems(ctx, nil); err != nil {
			return nil, nil, err
		}
	}
	var recency map[int]time.Time
	if supplierID != nil {
		if recency, err = s.invoices.SupplierItemRecency(ctx, *supplierID); err != nil {
			return nil, nil, err
		}
	}
	catalog := make([]matching.CatalogItem, len(items))
	for i, it := range items {
		catalog[i] = matching.CatalogItem{
			ID:         it.ID,
			Name:       it.Name,
			UnitType:   it.UnitType,
			PackSize:   it.PackSize,
			SupplierID: it.SupplierID,
		}
	}
	return matching.NewEngine(catalog, s.units, s.th.MatchScoreFloor), recency, nil
}

func lineInput(l *core.InvoiceLineItem) matching.LineInput {
	in := matching.LineInput{Description: l.Description, Quantity: l.Quantity}
	if l.Unit != nil {
		in.Unit = *l.Unit
	}
	return in
}

func (s *appService) finish(ctx context.Context, invoiceID int, out *ProcessResult) (*ProcessResult, error) {
	inv, err := s.invoices.GetInvoice(ctx, invoiceID)
	if err != nil {
		return nil, err
	}
	out.Invoice = inv
	out.Queues = inv.Queues(s.th)
	return out, nil
}
