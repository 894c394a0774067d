package portal

import (
	"fmt"
	"strings"

	"golang.org/x/net/html"
)

// ParseListTable decodes a rendered list-view table into records.
//
// The first table in the fragment is used. Header cells become field
// names; each data row's first cell is the record id and the remaining
// cells fill the fields. Rows without an id are rejected, because
// without one the delta index cannot track the record.
func ParseListTable(fragment string) ([]Record, error) {
	root, err := html.Parse(strings.NewReader(fragment))
	if err != nil {
		return nil, fmt.Errorf("parsing html: %w", err)
	}

	table := findFirst(root, "table")
	if table == nil {
		return nil, fmt.Errorf("no table in page")
	}

	var headers []string
	var records []Record
	for _, tr := range findAll(table, "tr") {
		cells := cellTexts(tr)
		if len(cells) == 0 {
			continue
		}

		if headers == nil {
			headers = cells
			continue
		}

		if cells[0] == "" {
			return nil, fmt.Errorf("row %d has empty id cell", len(records)+1)
		}
		rec := Record{ID: cells[0], Fields: make(map[string]string)}
		for i := 1; i < len(cells) && i < len(headers); i++ {
			rec.Fields[headers[i]] = cells[i]
		}
		records = append(records, rec)
	}

	if headers == nil {
		return nil, fmt.Errorf("table has no rows")
	}
	return records, nil
}

func findFirst(n *html.Node, tag string) *html.Node {
	if n.Type == html.ElementNode && n.Data == tag {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findFirst(c, tag); found != nil {
			return found
		}
	}
	return nil
}

func findAll(n *html.Node, tag string) []*html.Node {
	var out []*html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == tag {
			out = append(out, n)
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return out
}

// cellTexts returns the trimmed text of each th/td cell in a row.
func cellTexts(tr *html.Node) []string {
	var cells []string
	for c := tr.FirstChild; c != nil; c = c.NextSibling {
		if c.Type != html.ElementNode || (c.Data != "td" && c.Data != "th") {
			continue
		}
		cells = append(cells, strings.TrimSpace(textContent(c)))
	}
	return cells
}

func textContent(n *html.Node) string {
	if n.Type == html.TextNode {
		return n.Data
	}
	var b strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		b.WriteString(textContent(c))
	}
	return b.String()
}
