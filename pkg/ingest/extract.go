package ingest

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/nguyenthenguyen/docx"
	"github.com/xuri/excelize/v2"

	"github.com/lorehq/lore/pkg/canonical"
	"github.com/lorehq/lore/pkg/store"
)

// maxSheetCells caps cells extracted per spreadsheet sheet.
const maxSheetCells = 1000

// SupportedFile reports whether Extract can handle the file.
func SupportedFile(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".pdf", ".docx", ".xlsx", ".md", ".markdown", ".txt":
		return true
	}
	return false
}

// Extract pulls plain text out of an uploaded file. Markdown and
// plaintext pass through untouched; PDF, DOCX, and XLSX go through
// format-specific extractors.
func Extract(ctx context.Context, path string) (string, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".pdf":
		return extractPDF(ctx, path)
	case ".docx":
		return extractDOCX(path)
	case ".xlsx":
		return extractXLSX(ctx, path)
	case ".md", ".markdown", ".txt":
		data, err := os.ReadFile(path)
		if err != nil {
			return "", err
		}
		return string(data), nil
	}
	return "", fmt.Errorf("unsupported file type: %s", filepath.Ext(path))
}

// DocumentFromFile extracts a file and wraps it as a canonical FILE
// document. The absolute path is the stable source id, so re-uploading
// a changed file updates in place.
func DocumentFromFile(ctx context.Context, path string) (*canonical.Document, error) {
	body, err := Extract(ctx, path)
	if err != nil {
		return nil, err
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	return &canonical.Document{
		Title:    filepath.Base(path),
		Type:     store.TypeFile,
		SourceID: abs,
		Metadata: map[string]string{
			canonical.MetaFilePath: abs,
			"FILE_NAME":            filepath.Base(path),
		},
		Body: body,
	}, nil
}

// ExtractBytes extracts text from in-memory file content, dispatching on
// the filename extension. Used by connectors that download rather than
// read from disk.
func ExtractBytes(ctx context.Context, filename string, data []byte) (string, error) {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".pdf":
		return ExtractPDFBytes(ctx, data)
	case ".docx":
		doc, err := docx.ReadDocxFromMemory(bytes.NewReader(data), int64(len(data)))
		if err != nil {
			return "", fmt.Errorf("parse docx: %w", err)
		}
		defer doc.Close()
		return doc.Editable().GetContent(), nil
	case ".xlsx":
		f, err := excelize.OpenReader(bytes.NewReader(data))
		if err != nil {
			return "", fmt.Errorf("parse xlsx: %w", err)
		}
		defer f.Close()
		return sheetsText(ctx, f)
	case ".md", ".markdown", ".txt":
		return string(data), nil
	}
	return "", fmt.Errorf("unsupported file type: %s", filepath.Ext(filename))
}

// ExtractPDFBytes extracts page text from an in-memory PDF.
func ExtractPDFBytes(ctx context.Context, data []byte) (string, error) {
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("parse pdf: %w", err)
	}
	return pdfText(ctx, reader)
}

func extractPDF(ctx context.Context, path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", err
	}
	file, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer file.Close()

	reader, err := pdf.NewReader(file, info.Size())
	if err != nil {
		return "", fmt.Errorf("parse pdf: %w", err)
	}
	return pdfText(ctx, reader)
}

func pdfText(ctx context.Context, reader *pdf.Reader) (string, error) {
	var parts []string
	for pageNum := 1; pageNum <= reader.NumPage(); pageNum++ {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		default:
		}

		page := reader.Page(pageNum)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			parts = append(parts, fmt.Sprintf("--- Page %d (extraction failed: %v) ---", pageNum, err))
			continue
		}
		if strings.TrimSpace(text) != "" {
			parts = append(parts, fmt.Sprintf("--- Page %d ---\n%s", pageNum, text))
		}
	}
	return strings.Join(parts, "\n\n"), nil
}

func extractDOCX(path string) (string, error) {
	doc, err := docx.ReadDocxFile(path)
	if err != nil {
		return "", fmt.Errorf("parse docx: %w", err)
	}
	defer doc.Close()
	return doc.Editable().GetContent(), nil
}

func extractXLSX(ctx context.Context, path string) (string, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return "", fmt.Errorf("parse xlsx: %w", err)
	}
	defer f.Close()
	return sheetsText(ctx, f)
}

func sheetsText(ctx context.Context, f *excelize.File) (string, error) {
	var parts []string
	for _, sheetName := range f.GetSheetList() {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		default:
		}

		var sheet strings.Builder
		sheet.WriteString(fmt.Sprintf("--- Sheet: %s ---\n", sheetName))

		rows, err := f.GetRows(sheetName)
		if err != nil {
			sheet.WriteString(fmt.Sprintf("Error reading sheet: %v\n", err))
			parts = append(parts, strings.TrimSpace(sheet.String()))
			continue
		}

		cellCount := 0
	sheetLoop:
		for rowIndex, row := range rows {
			for colIndex, cell := range row {
				if cellCount >= maxSheetCells {
					sheet.WriteString("... (truncated)\n")
					break sheetLoop
				}
				if text := strings.TrimSpace(cell); text != "" {
					sheet.WriteString(fmt.Sprintf("%s%d: %s\n", columnLetter(colIndex), rowIndex+1, text))
					cellCount++
				}
			}
		}
		if text := strings.TrimSpace(sheet.String()); text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, "\n\n"), nil
}

// columnLetter converts a 0-based column index to its spreadsheet
// letter (A..Z, AA, AB, ...).
func columnLetter(col int) string {
	var letters []byte
	for col >= 0 {
		letters = append([]byte{byte('A' + col%26)}, letters...)
		col = col/26 - 1
	}
	return string(letters)
}
