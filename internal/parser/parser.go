package parser

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/nguyenthenguyen/docx"
	"github.com/rs/zerolog/log"
	"github.com/tealeg/xlsx"
	"github.com/xuri/excelize/v2"

	"math-tutor/internal/models"
)

const defaultPageNumber = 1

// ExtractDir parses every supported file under dir into page documents, each
// stamped with its source filename. Files that fail to parse are logged and
// skipped. An empty or missing directory yields no pages and a warning.
func ExtractDir(dir string, extensions []string) ([]models.PageDocument, error) {
	if _, err := os.Stat(dir); err != nil {
		log.Warn().Str("dir", dir).Msg("Downloads directory not found")
		return nil, nil
	}

	accepted := make(map[string]bool, len(extensions))
	for _, e := range extensions {
		accepted[strings.ToLower(e)] = true
	}
	if len(accepted) == 0 {
		accepted[".pdf"] = true
	}

	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && accepted[strings.ToLower(filepath.Ext(path))] {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk %s: %w", dir, err)
	}
	sort.Strings(files)

	pages := ExtractFiles(dir, files)
	if len(pages) == 0 {
		log.Warn().Str("dir", dir).Msg("No PDFs processed")
	}
	return pages, nil
}

// ExtractFiles parses the given files, recording each page's path relative
// to root. Files that fail to parse are logged and skipped.
func ExtractFiles(root string, files []string) []models.PageDocument {
	var pages []models.PageDocument
	for _, path := range files {
		docs, err := ParseFile(path)
		if err != nil {
			log.Error().Err(err).Str("file", path).Msg("Error extracting text")
			continue
		}
		rel, err := filepath.Rel(root, path)
		if err != nil || strings.HasPrefix(rel, "..") {
			rel = filepath.Base(path)
		}
		for i := range docs {
			docs[i].Path = filepath.ToSlash(rel)
		}
		pages = append(pages, docs...)
	}
	return pages
}

// ParseFile extracts the page documents of a single file.
func ParseFile(filePath string) ([]models.PageDocument, error) {
	ext := strings.ToLower(filepath.Ext(filePath))
	switch ext {
	case ".pdf":
		return parsePDF(filePath)
	case ".docx":
		return parseDOCX(filePath)
	case ".xlsx":
		return parseXLSX(filePath)
	case ".xlsm", ".xltx":
		return parseWorkbook(filePath)
	case ".txt", ".md":
		return parseText(filePath)
	default:
		return nil, fmt.Errorf("unsupported file format: %s", ext)
	}
}

func parsePDF(filePath string) (pages []models.PageDocument, err error) {
	// ledongthuc/pdf panics on some malformed streams
	defer func() {
		if r := recover(); r != nil {
			pages, err = nil, fmt.Errorf("malformed pdf %s: %v", filePath, r)
		}
	}()

	f, err := os.Open(filePath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		return nil, err
	}

	reader, err := pdf.NewReader(f, stat.Size())
	if err != nil {
		return nil, fmt.Errorf("open PDF: %w", err)
	}

	source := filepath.Base(filePath)
	numPages := reader.NumPage()
	for i := 1; i <= numPages; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		pageText, err := page.GetPlainText(nil)
		if err != nil {
			return nil, fmt.Errorf("extract page %d: %w", i, err)
		}
		pageText = strings.TrimSpace(pageText)
		if pageText == "" {
			continue
		}
		pages = append(pages, models.PageDocument{
			Source:  source,
			Page:    i,
			Content: pageText,
		})
	}
	return pages, nil
}

func parseDOCX(filePath string) ([]models.PageDocument, error) {
	r, err := docx.ReadDocxFile(filePath)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	content := extractTextFromXML(r.Editable().GetContent(), "w:t", "w:p")
	if strings.TrimSpace(content) == "" {
		return nil, nil
	}
	return []models.PageDocument{{
		Source:  filepath.Base(filePath),
		Page:    defaultPageNumber, // DOCX has no page numbers
		Content: strings.TrimSpace(content),
	}}, nil
}

func parseText(filePath string) ([]models.PageDocument, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, err
	}
	content := strings.TrimSpace(string(data))
	if content == "" {
		return nil, nil
	}
	return []models.PageDocument{{
		Source:  filepath.Base(filePath),
		Page:    defaultPageNumber,
		Content: content,
	}}, nil
}

// parseXLSX yields one page per non-empty sheet, rows as tab-separated lines.
func parseXLSX(filePath string) ([]models.PageDocument, error) {
	f, err := xlsx.OpenFile(filePath)
	if err != nil {
		return nil, err
	}

	var pages []models.PageDocument
	source := filepath.Base(filePath)
	for sheetNum, sheet := range f.Sheets {
		rows := make([][]string, 0, len(sheet.Rows))
		for _, row := range sheet.Rows {
			if row == nil {
				continue
			}
			cells := make([]string, 0, len(row.Cells))
			for _, cell := range row.Cells {
				cells = append(cells, cell.String())
			}
			rows = append(rows, cells)
		}
		if content := sheetText(sheet.Name, rows); content != "" {
			pages = append(pages, models.PageDocument{Source: source, Page: sheetNum + 1, Content: content})
		}
	}
	return pages, nil
}

// parseWorkbook reads macro-enabled workbooks and templates the same way as
// parseXLSX.
func parseWorkbook(filePath string) ([]models.PageDocument, error) {
	f, err := excelize.OpenFile(filePath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var pages []models.PageDocument
	source := filepath.Base(filePath)
	for sheetNum, sheetName := range f.GetSheetList() {
		rows, err := f.GetRows(sheetName)
		if err != nil {
			log.Warn().Err(err).Str("file", filePath).Str("sheet", sheetName).Msg("Skipping unreadable sheet")
			continue
		}
		if content := sheetText(sheetName, rows); content != "" {
			pages = append(pages, models.PageDocument{Source: source, Page: sheetNum + 1, Content: content})
		}
	}
	return pages, nil
}

// sheetText renders a sheet under a heading, dropping empty rows. A sheet
// without any cell text yields "".
func sheetText(name string, rows [][]string) string {
	var body strings.Builder
	for _, row := range rows {
		line := strings.TrimRight(strings.Join(row, "\t"), "\t ")
		if strings.TrimSpace(line) == "" {
			continue
		}
		body.WriteString(line)
		body.WriteString("\n")
	}
	if body.Len() == 0 {
		return ""
	}
	return fmt.Sprintf("## Sheet: %s\n%s", name, strings.TrimSpace(body.String()))
}

// extractTextFromXML collects the text of every <textTag> element, starting
// a new line at each closing </paraTag>.
func extractTextFromXML(xmlContent, textTag, paraTag string) string {
	var text strings.Builder
	open := "<" + textTag
	closeText := "</" + textTag + ">"
	closePara := "</" + paraTag + ">"

	for len(xmlContent) > 0 {
		ti := strings.Index(xmlContent, open)
		pi := strings.Index(xmlContent, closePara)
		if pi >= 0 && (ti < 0 || pi < ti) {
			text.WriteString("\n")
			xmlContent = xmlContent[pi+len(closePara):]
			continue
		}
		if ti < 0 {
			break
		}
		rest := xmlContent[ti+len(open):]
		// skip <w:tab/>, <w:tbl> and other tags sharing the prefix
		if len(rest) == 0 || (rest[0] != '>' && rest[0] != ' ') {
			xmlContent = rest
			continue
		}
		start := strings.Index(rest, ">")
		end := strings.Index(rest, closeText)
		if start < 0 || end < 0 || end < start {
			break
		}
		text.WriteString(unescapeXML(rest[start+1 : end]))
		xmlContent = rest[end+len(closeText):]
	}
	return text.String()
}

var xmlUnescaper = strings.NewReplacer("&lt;", "<", "&gt;", ">", "&quot;", `"`, "&apos;", "'", "&amp;", "&")

func unescapeXML(s string) string {
	return xmlUnescaper.Replace(s)
}
