// CLAUDE:SUMMARY MCP tools (find_city, find_departements, set_vintage, clear_cache) dispatching to the shared endpoints.
package api

import (
	"fmt"
	"log/slog"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/hazyhaar/french-cities/pkg/cityfinder"
	"github.com/hazyhaar/french-cities/pkg/departement"
	"github.com/hazyhaar/french-cities/pkg/kit"
	"github.com/hazyhaar/french-cities/pkg/table"
)

// RegisterMCPTools registers the french-cities MCP tools on the server.
// transport labels the calls in logs ("mcp_stdio" or "mcp_http").
func RegisterMCPTools(srv *server.MCPServer, svc Service, transport string, logger *slog.Logger) {
	registerFindCity(srv, svc, transport, logger)
	registerFindDepartements(srv, svc, transport, logger)
	registerSetVintage(srv, svc, transport, logger)
	registerClearCache(srv, svc, transport, logger)
}

var rowsOption = mcp.WithArray("rows",
	mcp.Required(),
	mcp.Description("Records to process, one object per row mapping column names to string values"),
	mcp.Items(map[string]any{"type": "object", "additionalProperties": map[string]any{"type": "string"}}),
)

func registerFindCity(srv *server.MCPServer, svc Service, transport string, logger *slog.Logger) {
	tool := mcp.NewTool("find_city",
		mcp.WithDescription("Find the INSEE city code of French records from coordinates, postcodes, city names, addresses and departments."),
		rowsOption,
		mcp.WithString("year", mcp.Description(`Target vintage: "last" (default) or a year such as 2023`)),
		mcp.WithString("postcode", mcp.Description("Postcode column (default postcode)")),
		mcp.WithString("city", mcp.Description("City name column (default city)")),
		mcp.WithString("address", mcp.Description("Address column (default address)")),
		mcp.WithString("dep", mcp.Description("Department column (default dep)")),
		mcp.WithString("x", mcp.Description("X or longitude column (default x)")),
		mcp.WithString("y", mcp.Description("Y or latitude column (default y)")),
		mcp.WithNumber("epsg", mcp.Description("EPSG code of x/y (e.g. 4326, 2154, 27572, 2975); omit to skip geolocation")),
		mcp.WithString("output", mcp.Description("Output column (default insee_com)")),
		mcp.WithBoolean("use_nominatim", mcp.Description("Query OpenStreetMap Nominatim as a last resort (1 request per second)")),
	)

	kit.RegisterMCPTool(srv, tool, transport, kit.Logging(logger, "find_city")(findCityEndpoint(svc)),
		func(req mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
			args := req.GetArguments()
			t, err := tableArg(args)
			if err != nil {
				return nil, err
			}
			cols := cityfinder.DefaultColumns()
			for name, dst := range map[string]*string{
				"postcode": &cols.Postcode, "city": &cols.City, "address": &cols.Address,
				"dep": &cols.Dep, "x": &cols.X, "y": &cols.Y,
			} {
				if v, _ := args[name].(string); v != "" {
					*dst = v
				}
			}
			opts := cityfinder.Options{Columns: cols}
			opts.Year, _ = args["year"].(string)
			opts.Output, _ = args["output"].(string)
			opts.UseNominatim, _ = args["use_nominatim"].(bool)
			if v, ok := args["epsg"].(float64); ok {
				opts.EPSG = int(v)
			}
			return &kit.MCPDecodeResult{Request: &findCityReq{Table: t, Opts: opts}}, nil
		})
}

func registerFindDepartements(srv *server.MCPServer, svc Service, transport string, logger *slog.Logger) {
	tool := mcp.NewTool("find_departements",
		mcp.WithDescription("Add the French department code of each record, derived from postcodes, INSEE city codes or department names."),
		rowsOption,
		mcp.WithString("source", mcp.Required(), mcp.Description("Column holding the values to resolve")),
		mcp.WithString("kind", mcp.Description(`"postcode" (default), "insee" or "label"`)),
		mcp.WithString("alias", mcp.Description("Output column (default DEP)")),
		mcp.WithBoolean("authorize_duplicates", mcp.Description("Duplicate rows whose postcode spans several departments instead of leaving them empty")),
		mcp.WithBoolean("project_vintage", mcp.Description("Project INSEE codes onto the current year before deriving the department")),
	)

	kit.RegisterMCPTool(srv, tool, transport, kit.Logging(logger, "departements")(departementsEndpoint(svc)),
		func(req mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
			args := req.GetArguments()
			t, err := tableArg(args)
			if err != nil {
				return nil, err
			}
			var opts departement.Options
			opts.Source, _ = args["source"].(string)
			opts.Alias, _ = args["alias"].(string)
			opts.AuthorizeDuplicates, _ = args["authorize_duplicates"].(bool)
			opts.ProjectVintage, _ = args["project_vintage"].(bool)
			opts.Kind = departement.KindPostcode
			if v, _ := args["kind"].(string); v != "" {
				opts.Kind = departement.Kind(v)
			}
			return &kit.MCPDecodeResult{Request: &departementsReq{Table: t, Opts: opts}}, nil
		})
}

func registerSetVintage(srv *server.MCPServer, svc Service, transport string, logger *slog.Logger) {
	tool := mcp.NewTool("set_vintage",
		mcp.WithDescription("Project INSEE city codes onto the official geographic code of a given year (merged cities, overseas renumbering)."),
		rowsOption,
		mcp.WithString("field", mcp.Required(), mcp.Description("Column holding INSEE city codes")),
		mcp.WithNumber("year", mcp.Required(), mcp.Description("Target year")),
	)

	kit.RegisterMCPTool(srv, tool, transport, kit.Logging(logger, "vintage")(vintageEndpoint(svc)),
		func(req mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
			args := req.GetArguments()
			t, err := tableArg(args)
			if err != nil {
				return nil, err
			}
			field, _ := args["field"].(string)
			year, ok := args["year"].(float64)
			if !ok {
				return nil, fmt.Errorf("year must be a number")
			}
			return &kit.MCPDecodeResult{Request: &vintageReq{Table: t, Year: int(year), Field: field}}, nil
		})
}

func registerClearCache(srv *server.MCPServer, svc Service, transport string, logger *slog.Logger) {
	tool := mcp.NewTool("clear_cache",
		mcp.WithDescription("Empty every cache namespace (projections, departments, Nominatim, overseas cities, area lists, geometries)."),
	)

	kit.RegisterMCPTool(srv, tool, transport, kit.Logging(logger, "clear_cache")(clearCacheEndpoint(svc)),
		func(_ mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
			return &kit.MCPDecodeResult{Request: nil}, nil
		})
}

// tableArg converts the "rows" argument with the same cell rules as the
// HTTP body.
func tableArg(args map[string]any) (*table.Table, error) {
	raw, ok := args["rows"].([]any)
	if !ok {
		return nil, fmt.Errorf("rows must be an array of objects")
	}
	tj := tableJSON{Rows: make([]map[string]any, 0, len(raw))}
	for i, item := range raw {
		obj, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("row %d is not an object", i)
		}
		tj.Rows = append(tj.Rows, obj)
	}
	return tj.toTable()
}
