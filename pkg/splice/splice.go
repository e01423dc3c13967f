// Package splice writes saved figures back into a transcribed page.
//
// A figure is referenced from page HTML by an <img> element whose id or
// data-figure-id attribute equals the figure ID.
package splice

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/menta2k/figure-editor/pkg/types"
)

// FigureAttr is the attribute that ties an <img> to a figure
const FigureAttr = "data-figure-id"

// MIMEType returns the media type for an output format
func MIMEType(format string) string {
	switch strings.ToLower(format) {
	case "jpg", "jpeg":
		return "image/jpeg"
	case "tif", "tiff":
		return "image/tiff"
	case "":
		return "image/png"
	default:
		return "image/" + strings.ToLower(format)
	}
}

// DataURI encodes an update as a data: URI
func DataURI(u types.FigureUpdate) string {
	return "data:" + MIMEType(u.Format) + ";base64," + base64.StdEncoding.EncodeToString(u.Data)
}

// Apply replaces the src of every figure <img> that has an update. It
// returns the rewritten HTML and the number of replaced images.
func Apply(doc string, updates []types.FigureUpdate) (string, int, error) {
	if len(updates) == 0 {
		return doc, 0, nil
	}
	byID := make(map[string]string, len(updates))
	for _, u := range updates {
		byID[u.FigureID] = DataURI(u)
	}

	replaced := 0
	out, err := rewrite(doc, func(n *html.Node) {
		id := figureID(n)
		uri, ok := byID[id]
		if !ok {
			return
		}
		setAttr(n, "src", uri)
		setAttr(n, FigureAttr, id)
		replaced++
	})
	if err != nil {
		return "", 0, err
	}
	return out, replaced, nil
}

// Rename changes the figure reference oldID to newID
func Rename(doc, oldID, newID string) (string, error) {
	return rewrite(doc, func(n *html.Node) {
		for i, a := range n.Attr {
			if a.Namespace == "" && (a.Key == "id" || a.Key == FigureAttr) && a.Val == oldID {
				n.Attr[i].Val = newID
			}
		}
	})
}

// FigureIDs lists the figure references of doc in document order
func FigureIDs(doc string) ([]string, error) {
	var ids []string
	_, err := rewrite(doc, func(n *html.Node) {
		if id := figureID(n); id != "" {
			ids = append(ids, id)
		}
	})
	return ids, err
}

// UpdateFigures returns a copy of figures whose AI source is replaced by the
// decoded update data. Original sources are never touched.
func UpdateFigures(figures []types.Figure, updates []types.FigureUpdate, decode func([]byte) (image.Image, error)) ([]types.Figure, error) {
	byID := make(map[string]types.FigureUpdate, len(updates))
	for _, u := range updates {
		byID[u.FigureID] = u
	}
	out := append([]types.Figure(nil), figures...)
	for i, f := range out {
		u, ok := byID[f.ID]
		if !ok {
			continue
		}
		img, err := decode(u.Data)
		if err != nil {
			return nil, fmt.Errorf("figure %s: %w", f.ID, err)
		}
		out[i].AISrc = img
	}
	return out, nil
}

// rewrite parses doc, calls fn on every <img> element and renders the
// result. Fragments stay fragments; full documents keep their structure.
func rewrite(doc string, fn func(*html.Node)) (string, error) {
	var roots []*html.Node
	if isFullDocument(doc) {
		root, err := html.Parse(strings.NewReader(doc))
		if err != nil {
			return "", fmt.Errorf("failed to parse page html: %w", err)
		}
		roots = []*html.Node{root}
	} else {
		body := &html.Node{Type: html.ElementNode, Data: "body", DataAtom: atom.Body}
		nodes, err := html.ParseFragment(strings.NewReader(doc), body)
		if err != nil {
			return "", fmt.Errorf("failed to parse page html: %w", err)
		}
		roots = nodes
	}

	var buf bytes.Buffer
	for _, root := range roots {
		walk(root, fn)
		if err := html.Render(&buf, root); err != nil {
			return "", err
		}
	}
	return buf.String(), nil
}

func walk(n *html.Node, fn func(*html.Node)) {
	if n.Type == html.ElementNode && n.DataAtom == atom.Img {
		fn(n)
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		walk(c, fn)
	}
}

func isFullDocument(doc string) bool {
	head := strings.ToLower(strings.TrimSpace(doc))
	return strings.HasPrefix(head, "<!doctype") || strings.HasPrefix(head, "<html")
}

// figureID prefers data-figure-id over id
func figureID(n *html.Node) string {
	var id string
	for _, a := range n.Attr {
		if a.Namespace != "" {
			continue
		}
		switch a.Key {
		case FigureAttr:
			return a.Val
		case "id":
			id = a.Val
		}
	}
	return id
}

func setAttr(n *html.Node, key, val string) {
	for i, a := range n.Attr {
		if a.Namespace == "" && a.Key == key {
			n.Attr[i].Val = val
			return
		}
	}
	n.Attr = append(n.Attr, html.Attribute{Key: key, Val: val})
}
