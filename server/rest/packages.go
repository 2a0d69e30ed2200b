package rest

import (
	"context"
	"net/http"
	"strings"

	"umrah_portal/server/common/jsonx"
)

type Package struct {
	ID           jsonx.ID `json:"id"`
	Title        string   `json:"title"`
	Description  string   `json:"description,omitempty"`
	Price        float64  `json:"price"`
	Currency     string   `json:"currency"`
	DurationDays int      `json:"duration_days"`
	OfficeID     jsonx.ID `json:"umrah_office_id"`
	City         string   `json:"city,omitempty"`
	Image        string   `json:"image,omitempty"`
}

type Office struct {
	ID     jsonx.ID `json:"id"`
	Name   string   `json:"name"`
	City   string   `json:"city"`
	Rating float64  `json:"rating"`
}

type PackageFilter struct {
	Page   int
	City   string
	Search string
}

// PackageClient reads the public catalogue; no token is sent.
type PackageClient struct {
	*Client
}

func NewPackageClient(c *Client) *PackageClient {
	return &PackageClient{Client: c}
}

func (c *PackageClient) ListPackages(ctx context.Context, filter PackageFilter) Result[Page[Package]] {
	q := pageQuery(filter.Page)
	if city := strings.TrimSpace(filter.City); city != "" {
		q.Set("city", city)
	}
	if search := strings.TrimSpace(filter.Search); search != "" {
		q.Set("search", search)
	}
	return result[Page[Package]](ctx, c.Client, call{method: http.MethodGet, path: "/packages", query: q})
}

func (c *PackageClient) GetPackage(ctx context.Context, id string) Result[Package] {
	return result[Package](ctx, c.Client, call{method: http.MethodGet, path: "/packages/" + escape(id)})
}

func (c *PackageClient) ListOffices(ctx context.Context, page int) Result[Page[Office]] {
	return result[Page[Office]](ctx, c.Client, call{method: http.MethodGet, path: "/offices", query: pageQuery(page)})
}
