package extract

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"

	"invoice-recon/internal/core"
)

const (
	MIMEPDF  = "application/pdf"
	MIMEText = "text/plain"
	MIMECSV  = "text/csv"
)

var imageExt = map[string]string{
	"image/png":  ".png",
	"image/jpeg": ".jpg",
	"image/tiff": ".tif",
	"image/bmp":  ".bmp",
	"image/gif":  ".gif",
	"image/webp": ".webp",
}

// NormalizeMIME lowercases the type and drops parameters such as charset.
func NormalizeMIME(mimeType string) string {
	m, _, _ := strings.Cut(mimeType, ";")
	return strings.ToLower(strings.TrimSpace(m))
}

// SupportedMIME reports whether documents of this type can be extracted.
func SupportedMIME(mimeType string) bool {
	m := NormalizeMIME(mimeType)
	_, isImage := imageExt[m]
	return isImage || m == MIMEPDF || m == MIMEText || m == MIMECSV
}

func isTextMIME(m string) bool { return m == MIMEText || m == MIMECSV }

// nativeText reads embedded text. Images carry none and return "".
func nativeText(data []byte, mimeType string) (string, error) {
	switch m := NormalizeMIME(mimeType); {
	case m == MIMEPDF:
		return pdfText(data)
	case isTextMIME(m):
		return strings.ToValidUTF8(string(data), ""), nil
	case imageExt[m] != "":
		return "", nil
	default:
		return "", core.Errorf(core.KindExtractionFailed, "unsupported document type %q", mimeType)
	}
}

// pdfText joins the words of each text row with spaces and rows with newlines.
func pdfText(data []byte) (text string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = core.Errorf(core.KindExtractionFailed, "decode pdf: %v", r)
		}
	}()

	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", core.Errorf(core.KindExtractionFailed, "decode pdf: %w", err)
	}

	var b strings.Builder
	for i := 1; i <= r.NumPage(); i++ {
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}
		rows, err := page.GetTextByRow()
		if err != nil {
			return "", core.Errorf(core.KindExtractionFailed, "decode pdf page %d: %w", i, err)
		}
		for _, row := range rows {
			words := make([]string, 0, len(row.Content))
			for _, w := range row.Content {
				words = append(words, w.S)
			}
			b.WriteString(strings.Join(words, " "))
			b.WriteByte('\n')
		}
		if i < r.NumPage() {
			b.WriteString("\n")
		}
	}
	return b.String(), nil
}

func ocrInputExt(m string) (string, error) {
	if m == MIMEPDF {
		return ".pdf", nil
	}
	if ext, ok := imageExt[m]; ok {
		return ext, nil
	}
	return "", fmt.Errorf("no OCR input for %q", m)
}
