package normalize

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"errors"
	"image"
	"io"
	"path"
	"strconv"
	"strings"

	"timetable/internal/table"
)

// Synthetic geometry for native DOCX cells, which have no pixel position.
const (
	docxCellWidth  = 160
	docxCellHeight = 48
)

var docxImageExt = map[string]bool{
	".png": true, ".jpg": true, ".jpeg": true, ".gif": true,
	".bmp": true, ".tif": true, ".tiff": true, ".webp": true,
}

type docxContent struct {
	images []string
	tables []table.Grid
	// text holds the body paragraphs outside any table.
	text   []string
}

func (n *Normalizer) openDOCX(data []byte, mt string) (*Document, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, corrupt(mt, "open zip", err)
	}
	files := make(map[string]*zip.File, len(zr.File))
	for _, f := range zr.File {
		files[f.Name] = f
	}
	doc, ok := files["word/document.xml"]
	if !ok {
		return nil, corrupt(mt, "open document", errors.New("word/document.xml missing"))
	}
	rels, err := readRels(files["word/_rels/document.xml.rels"])
	if err != nil {
		return nil, corrupt(mt, "read relationships", err)
	}
	body, err := readZipFile(doc)
	if err != nil {
		return nil, corrupt(mt, "read document", err)
	}
	content, err := parseDocument(body, rels)
	if err != nil {
		return nil, corrupt(mt, "parse document", err)
	}

	var media []*zip.File
	for _, target := range content.images {
		if f, ok := files[target]; ok && docxImageExt[strings.ToLower(path.Ext(target))] {
			media = append(media, f)
		}
	}
	count := len(media)
	if len(content.tables) > 0 {
		count++
	}

	return &Document{MIME: mt, count: count, load: func(num int) (Page, error) {
		if num <= len(media) {
			raw, err := readZipFile(media[num-1])
			if err != nil {
				return Page{}, corrupt(mt, "read media "+media[num-1].Name, err)
			}
			img, _, err := image.Decode(bytes.NewReader(raw))
			if err != nil {
				return Page{}, corrupt(mt, "decode media "+media[num-1].Name, err)
			}
			canon, _ := n.fit(toNRGBA(img), nil)
			return withText(Page{Number: num, Image: canon}, content.text), nil
		}
		return withText(tablePage(num, content.tables), content.text), nil
	}}, nil
}

// withText hands the document's running text to its first page only.
func withText(p Page, text []string) Page {
	if p.Number == 1 && len(text) > 0 {
		p.Text = append([]string(nil), text...)
	}
	return p
}

// tablePage stacks the native tables vertically on a blank canvas so their
// synthetic bounds keep document order as reading order.
func tablePage(num int, grids []table.Grid) Page {
	out := make([]table.Grid, len(grids))
	width, y := 0, 0
	for i, g := range grids {
		g.Page = num
		g.Bounds = g.Bounds.Add(image.Pt(0, y))
		g.Cells = append([]table.Cell(nil), g.Cells...)
		for j := range g.Cells {
			g.Cells[j].Bounds = g.Cells[j].Bounds.Add(image.Pt(0, y))
		}
		y = g.Bounds.Max.Y + docxCellHeight
		width = max(width, g.Bounds.Max.X)
		out[i] = g
	}
	return Page{Number: num, Image: blankPage(width, y), Tables: out}
}

func readZipFile(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

func readRels(f *zip.File) (map[string]string, error) {
	out := map[string]string{}
	if f == nil {
		return out, nil
	}
	raw, err := readZipFile(f)
	if err != nil {
		return nil, err
	}
	var parsed struct {
		Rels []struct {
			ID     string `xml:"Id,attr"`
			Target string `xml:"Target,attr"`
		} `xml:"Relationship"`
	}
	if err := xml.Unmarshal(raw, &parsed); err != nil {
		return nil, err
	}
	for _, r := range parsed.Rels {
		target := r.Target
		if !strings.HasPrefix(target, "/") {
			target = path.Join("word", target)
		}
		out[r.ID] = strings.TrimPrefix(target, "/")
	}
	return out, nil
}

func attr(se xml.StartElement, local string) (string, bool) {
	for _, a := range se.Attr {
		if a.Name.Local == local {
			return a.Value, true
		}
	}
	return "", false
}

type docxCell struct {
	text    strings.Builder
	span    int
	vMerge  string // "", "restart" or "continue"
	hasText bool
}

type docxTable struct {
	rows [][]*docxCell
}

// parseDocument walks word/document.xml collecting image references, body
// paragraphs and top-level tables in document order. Nested tables fold into the text of the
// enclosing cell.
func parseDocument(doc []byte, rels map[string]string) (docxContent, error) {
	var out docxContent
	dec := xml.NewDecoder(bytes.NewReader(doc))
	var (
		tbl   *docxTable
		cell  *docxCell
		depth int
		inT   bool
		paras int
		body  *strings.Builder
	)
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return docxContent{}, err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "tbl":
				depth++
				if depth == 1 {
					tbl = &docxTable{}
				}
			case "tr":
				if depth == 1 && tbl != nil {
					tbl.rows = append(tbl.rows, nil)
				}
			case "tc":
				if depth == 1 && tbl != nil && len(tbl.rows) > 0 {
					cell = &docxCell{span: 1}
					last := len(tbl.rows) - 1
					tbl.rows[last] = append(tbl.rows[last], cell)
					paras = 0
				}
			case "gridSpan":
				if depth == 1 && cell != nil {
					if v, ok := attr(t, "val"); ok {
						if n, err := strconv.Atoi(v); err == nil && n > 1 {
							cell.span = n
						}
					}
				}
			case "vMerge":
				if depth == 1 && cell != nil {
					cell.vMerge = "continue"
					if v, ok := attr(t, "val"); ok && v == "restart" {
						cell.vMerge = "restart"
					}
				}
			case "p":
				if depth == 0 {
					body = &strings.Builder{}
				}
				if cell != nil {
					if paras > 0 && cell.hasText {
						cell.text.WriteByte('\n')
					}
					paras++
				}
			case "t":
				inT = true
			case "tab":
				if cell != nil {
					cell.text.WriteByte(' ')
				}
				if body != nil {
					body.WriteByte(' ')
				}
			case "blip":
				if id, ok := attr(t, "embed"); ok {
					if target, ok := rels[id]; ok {
						out.images = append(out.images, target)
					}
				}
			case "imagedata":
				if id, ok := attr(t, "id"); ok {
					if target, ok := rels[id]; ok {
						out.images = append(out.images, target)
					}
				}
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "tbl":
				if depth == 1 && tbl != nil {
					if g, ok := tbl.grid(); ok {
						out.tables = append(out.tables, g)
					}
					tbl, cell = nil, nil
				}
				depth--
			case "tc":
				if depth == 1 {
					cell = nil
				}
			case "t":
				inT = false
			case "p":
				if depth == 0 && body != nil {
					if line := strings.TrimSpace(body.String()); line != "" {
						out.text = append(out.text, line)
					}
					body = nil
				}
			}
		case xml.CharData:
			if inT && depth == 0 && body != nil {
				body.Write(t)
			}
			if inT && cell != nil {
				cell.text.Write(t)
				if strings.TrimSpace(string(t)) != "" {
					cell.hasText = true
				}
			}
		}
	}
	return out, nil
}

// grid lays the parsed rows onto grid columns. gridSpan widens a cell and a
// vMerge continuation extends the anchor above it.
func (t *docxTable) grid() (table.Grid, bool) {
	g := table.Grid{Rows: len(t.rows), Native: true}
	owner := map[[2]int]int{}
	for r, row := range t.rows {
		col := 0
		for _, c := range row {
			if c.vMerge == "continue" && r > 0 {
				if idx, ok := owner[[2]int{r - 1, col}]; ok && g.Cells[idx].Col == col && g.Cells[idx].ColSpan == c.span {
					g.Cells[idx].RowSpan++
					for k := 0; k < c.span; k++ {
						owner[[2]int{r, col + k}] = idx
					}
					col += c.span
					continue
				}
			}
			text := strings.TrimSpace(c.text.String())
			state := table.CellEmpty
			if text != "" {
				state = table.CellText
			}
			g.Cells = append(g.Cells, table.Cell{
				Row: r, Col: col, RowSpan: 1, ColSpan: c.span,
				Text: text, Confidence: 1, State: state,
			})
			for k := 0; k < c.span; k++ {
				owner[[2]int{r, col + k}] = len(g.Cells) - 1
			}
			col += c.span
		}
		g.Cols = max(g.Cols, col)
	}
	if !g.Accepted() {
		return table.Grid{}, false
	}
	for i := range g.Cells {
		c := &g.Cells[i]
		c.Bounds = image.Rect(c.Col*docxCellWidth, c.Row*docxCellHeight,
			(c.Col+c.ColSpan)*docxCellWidth, (c.Row+c.RowSpan)*docxCellHeight)
	}
	g.Bounds = image.Rect(0, 0, g.Cols*docxCellWidth, g.Rows*docxCellHeight)
	g.Sort()
	return g, true
}
