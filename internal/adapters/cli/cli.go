package cli

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"invoice-recon/internal/app"
	"invoice-recon/internal/core"
)

const usage = `Usage: reconcile <command> [flags] [args]

Commands:
  submit [-supplier-id N] [-supplier NAME] <file>   upload and process an invoice
  process <invoice-id>                              rerun the pipeline
  reextract [-lang L] <invoice-id>                  force OCR and rerun the pipeline
  list [-queue Q] [-status S] [-page N]             list invoices
  show [-json] <invoice-id>                         show an invoice and its lines
  candidates <line-item-id>                         rank inventory items for a line
  export <invoice-id> <out.xlsx>                    write the reconciliation workbook`

// ErrUsage is returned for unknown commands or missing arguments.
var ErrUsage = errors.New(usage)

// Run executes a one-shot CLI command. args is os.Args[1:]; the first element is the
// subcommand name. Output goes to out.
func Run(ctx context.Context, svc app.ApplicationService, actor string, args []string, out io.Writer) error {
	if len(args) == 0 {
		return ErrUsage
	}
	cmd, rest := args[0], args[1:]
	switch cmd {
	case "submit", "s":
		return submit(ctx, svc, actor, rest, out)
	case "process", "p":
		id, err := intArg(rest, 0, "invoice-id")
		if err != nil {
			return err
		}
		res, err := svc.ProcessInvoice(ctx, id)
		if err != nil {
			return err
		}
		printProcess(out, res)
	case "reextract":
		fs := flag.NewFlagSet("reextract", flag.ContinueOnError)
		fs.SetOutput(io.Discard)
		lang := fs.String("lang", "", "OCR language")
		if err := fs.Parse(rest); err != nil {
			return fmt.Errorf("%w\n\n%s", err, usage)
		}
		id, err := intArg(fs.Args(), 0, "invoice-id")
		if err != nil {
			return err
		}
		res, err := svc.ReextractInvoice(ctx, app.ReextractRequest{InvoiceID: id, Language: *lang, Actor: actor})
		if err != nil {
			return err
		}
		printProcess(out, res)
	case "list", "ls":
		return list(ctx, svc, rest, out)
	case "show":
		fs := flag.NewFlagSet("show", flag.ContinueOnError)
		fs.SetOutput(io.Discard)
		asJSON := fs.Bool("json", false, "print JSON")
		if err := fs.Parse(rest); err != nil {
			return fmt.Errorf("%w\n\n%s", err, usage)
		}
		id, err := intArg(fs.Args(), 0, "invoice-id")
		if err != nil {
			return err
		}
		res, err := svc.GetInvoice(ctx, id)
		if err != nil {
			return err
		}
		if *asJSON {
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(res)
		}
		printInvoice(out, res.Invoice, res.Queues)
	case "candidates", "c":
		id, err := intArg(rest, 0, "line-item-id")
		if err != nil {
			return err
		}
		res, err := svc.MatchCandidates(ctx, id)
		if err != nil {
			return err
		}
		printCandidates(out, res)
	case "export":
		id, err := intArg(rest, 0, "invoice-id")
		if err != nil {
			return err
		}
		if len(rest) < 2 {
			return fmt.Errorf("missing output path\n\n%s", usage)
		}
		return export(ctx, svc, id, rest[1], out)
	default:
		return fmt.Errorf("unknown command %q\n\n%s", cmd, usage)
	}
	return nil
}

func submit(ctx context.Context, svc app.ApplicationService, actor string, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("submit", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	supplierID := fs.Int("supplier-id", 0, "supplier id")
	supplier := fs.String("supplier", "", "supplier name hint")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w\n\n%s", err, usage)
	}
	if fs.NArg() < 1 {
		return fmt.Errorf("missing file\n\n%s", usage)
	}
	path := fs.Arg(0)
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}

	req := app.SubmitInvoiceRequest{
		FileName:     filepath.Base(path),
		MimeType:     fileMIME(path, data),
		Data:         data,
		SupplierHint: *supplier,
		Actor:        actor,
	}
	if *supplierID > 0 {
		req.SupplierID = supplierID
	}
	res, err := svc.SubmitInvoice(ctx, req)
	if err != nil {
		return err
	}
	if res.Process != nil {
		printProcess(out, res.Process)
		return nil
	}
	fmt.Fprintf(out, "Invoice %d uploaded (queued: %v)\n", res.Invoice.ID, res.Queued)
	return nil
}

// fileMIME uses the extension and falls back to content sniffing.
func fileMIME(path string, data []byte) string {
	if t := mime.TypeByExtension(strings.ToLower(filepath.Ext(path))); t != "" {
		return t
	}
	return http.DetectContentType(data)
}

func list(ctx context.Context, svc app.ApplicationService, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("list", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	queue := fs.String("queue", "", "queue filter")
	status := fs.String("status", "", "status filter")
	page := fs.Int("page", 1, "page number")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w\n\n%s", err, usage)
	}
	res, err := svc.ListInvoices(ctx, app.ListInvoicesRequest{Queue: *queue, Status: *status, Page: *page})
	if err != nil {
		return err
	}
	printInvoiceList(out, res)
	return nil
}

func export(ctx context.Context, svc app.ApplicationService, id int, path string, out io.Writer) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if err := svc.ExportInvoice(ctx, id, f); err != nil {
		f.Close()
		_ = os.Remove(path)
		return err
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close %s: %w", path, err)
	}
	fmt.Fprintf(out, "Wrote %s\n", path)
	return nil
}

func intArg(args []string, i int, name string) (int, error) {
	if len(args) <= i {
		return 0, fmt.Errorf("missing %s\n\n%s", name, usage)
	}
	v, err := strconv.Atoi(args[i])
	if err != nil || v <= 0 {
		return 0, core.Errorf(core.KindInvalidRequest, "%s must be a positive integer, got %q", name, args[i])
	}
	return v, nil
}
