package noaa

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/couchcryptid/storm-events-archive/internal/domain"
)

// Catalog lists the downloadable files on the index page.
type Catalog struct {
	client *Client
	policy domain.NamingPolicy
}

// NewCatalog creates a Catalog that keeps identifiers accepted by policy.
func NewCatalog(client *Client, policy domain.NamingPolicy) *Catalog {
	return &Catalog{client: client, policy: policy}
}

// ListFiles fetches the index page and returns the accepted identifiers in
// page order. Any failure aborts the whole listing.
func (c *Catalog) ListFiles(ctx context.Context, indexURL string) ([]domain.FileIdentifier, error) {
	body, header, err := c.client.Get(ctx, indexURL)
	if err != nil {
		return nil, fmt.Errorf("list catalog: %w", err)
	}

	if ct := header.Get("Content-Type"); ct != "" {
		mediaType, _, err := mime.ParseMediaType(ct)
		if err != nil || (mediaType != "text/html" && mediaType != "application/xhtml+xml") {
			return nil, fmt.Errorf("list catalog: %w: unexpected content type %q", domain.ErrParse, ct)
		}
	}

	ids, err := ExtractIdentifiers(bytes.NewReader(body), c.policy)
	if err != nil {
		return nil, fmt.Errorf("list catalog: %w", err)
	}
	return ids, nil
}

// ExtractIdentifiers reads the first table of an HTML document and returns
// the text of each row's first link that policy accepts. Rows without a link
// are skipped.
func ExtractIdentifiers(r io.Reader, policy domain.NamingPolicy) ([]domain.FileIdentifier, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("%w: parse index html: %w", domain.ErrParse, err)
	}

	table := doc.Find("table").First()
	if table.Length() == 0 {
		return nil, fmt.Errorf("%w: index page has no table", domain.ErrParse)
	}

	ids := []domain.FileIdentifier{}
	table.Find("tr").Each(func(_ int, row *goquery.Selection) {
		link := row.Find("a").First()
		if link.Length() == 0 {
			return
		}
		name := strings.TrimSpace(link.Text())
		if policy.Accepts(name) {
			ids = append(ids, domain.FileIdentifier(name))
		}
	})
	return ids, nil
}
