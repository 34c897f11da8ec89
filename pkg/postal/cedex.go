package postal

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/hazyhaar/french-cities/pkg/httpx"
)

// DefaultCedexURL is the OpenDataSoft Cedex correspondence dataset.
const DefaultCedexURL = "https://public.opendatasoft.com/api/explore/v2.1/catalog/datasets/correspondance-code-cedex-code-insee/records"

// CedexRecord is one candidate city for a Cedex code.
type CedexRecord struct {
	Insee   string `json:"insee"`
	Libelle string `json:"libelle"`
	NomCom  string `json:"nom_com"`
}

// CedexClient queries the Cedex correspondence dataset.
type CedexClient struct {
	base   string
	client *httpx.Client
}

// NewCedexClient returns a client for base (DefaultCedexURL when empty).
func NewCedexClient(base string, client *httpx.Client) *CedexClient {
	if base == "" {
		base = DefaultCedexURL
	}
	return &CedexClient{base: base, client: client}
}

// Lookup returns the candidate cities of a Cedex code. Codes the dataset
// rejects as malformed have no candidates.
func (c *CedexClient) Lookup(ctx context.Context, code string) ([]CedexRecord, error) {
	q := url.Values{
		"select":            {"insee,libelle,nom_com"},
		"where":             {"code=" + quoteODS(code)},
		"limit":             {"10"},
		"offset":            {"0"},
		"timezone":          {"UTC"},
		"include_links":     {"false"},
		"include_app_metas": {"false"},
	}
	var resp struct {
		Results []CedexRecord `json:"results"`
	}
	err := c.client.GetJSON(ctx, c.base+"?"+q.Encode(), nil, &resp)
	if httpx.IsBadRequest(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("cedex %s: %w", code, err)
	}
	return resp.Results, nil
}

// quoteODS quotes non-numeric values for the ODSQL where clause.
func quoteODS(v string) string {
	for _, r := range v {
		if r < '0' || r > '9' {
			return `"` + strings.ReplaceAll(v, `"`, `\"`) + `"`
		}
	}
	return v
}
