package tablesniff

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/tablesniff/kit"
	"github.com/hazyhaar/tablesniff/table"
)

// RegisterMCP registers the tablesniff tools on an MCP server.
func (e *Engine) RegisterMCP(srv *mcp.Server) {
	e.registerOpenTool(srv)
	e.registerListTool(srv)
	e.registerDataTool(srv)
	e.registerHighlightTool(srv)
	e.registerExportTool(srv)
	e.registerAutoTool(srv)
	e.registerOptionsTool(srv)
}

func (e *Engine) registerTool(srv *mcp.Server, tool *mcp.Tool, endpoint kit.Endpoint, decode func(*mcp.CallToolRequest) (*kit.MCPDecodeResult, error)) {
	kit.RegisterMCPTool(srv, tool, kit.Chain(e.logTool(tool.Name))(endpoint), decode)
}

// logTool logs each call of a tool with its duration and outcome.
func (e *Engine) logTool(name string) kit.Middleware {
	return func(next kit.Endpoint) kit.Endpoint {
		return func(ctx context.Context, req any) (any, error) {
			start := time.Now()
			resp, err := next(ctx, req)
			log := e.logger.With("tool", name, "page_id", kit.GetPageID(ctx), "duration", time.Since(start))
			if err != nil {
				log.Warn("tablesniff: mcp tool failed", "error", err)
			} else {
				log.Debug("tablesniff: mcp tool")
			}
			return resp, err
		}
	}
}

func inputSchema(properties map[string]any, required []string) map[string]any {
	s := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}

var (
	pageIDProp  = map[string]any{"type": "string", "description": "Page id returned by tablesniff_open_page"}
	tableIDProp = map[string]any{"type": "integer", "description": "Table id from tablesniff_list_tables"}
)

// decodePage decodes T and tags the context with the page it targets.
func decodePage[T any, PT interface {
	*T
	page() string
}](req *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
	res, err := kit.DecodeJSON[T](req)
	if err != nil {
		return nil, err
	}
	id := PT(res.Request.(*T)).page()
	if id == "" {
		return nil, fmt.Errorf("page_id is required")
	}
	res.EnrichCtx = func(ctx context.Context) context.Context { return kit.WithPageID(ctx, id) }
	return res, nil
}

// --- open page ---

type openPageReq struct {
	URL          string `json:"url"`
	StealthLevel string `json:"stealth_level"`
}

func (e *Engine) registerOpenTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "tablesniff_open_page",
		Description: "Load a web page and scan it for tables. Returns a page_id used by the other tools.",
		InputSchema: inputSchema(map[string]any{
			"url":           map[string]any{"type": "string", "description": "http or https URL"},
			"stealth_level": map[string]any{"type": "string", "enum": []string{"auto", "http", "headless", "headful"}, "description": "How to load the page (default auto)"},
		}, []string{"url"}),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		r := req.(*openPageReq)
		level, err := ParseStealthLevel(r.StealthLevel)
		if err != nil {
			return nil, err
		}
		return e.OpenPage(ctx, r.URL, level)
	}

	e.registerTool(srv, tool, endpoint, kit.DecodeJSON[openPageReq])
}

// --- list tables ---

type listTablesReq struct {
	PageID        string `json:"page_id"`
	IncludeHidden bool   `json:"include_hidden"`
}

func (r *listTablesReq) page() string { return r.PageID }

func (e *Engine) registerListTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "tablesniff_list_tables",
		Description: "Rescan an open page and list its tables with row and column counts and a two-row preview.",
		InputSchema: inputSchema(map[string]any{
			"page_id":        pageIDProp,
			"include_hidden": map[string]any{"type": "boolean", "description": "Include tables that are not visible"},
		}, []string{"page_id"}),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		r := req.(*listTablesReq)
		sums, err := e.ListTables(ctx, r.PageID, r.IncludeHidden)
		if sums == nil && err == nil {
			sums = []table.Summary{}
		}
		return sums, err
	}

	e.registerTool(srv, tool, endpoint, decodePage[listTablesReq])
}

// --- table data ---

type tableReq struct {
	PageID  string `json:"page_id"`
	TableID int    `json:"table_id"`
}

func (r *tableReq) page() string { return r.PageID }

func (e *Engine) registerDataTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "tablesniff_get_table_data",
		Description: "Return every cell of one table as rows of trimmed text.",
		InputSchema: inputSchema(map[string]any{
			"page_id":  pageIDProp,
			"table_id": tableIDProp,
		}, []string{"page_id", "table_id"}),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		r := req.(*tableReq)
		return e.TableData(ctx, r.PageID, r.TableID)
	}

	e.registerTool(srv, tool, endpoint, decodePage[tableReq])
}

// --- highlight ---

func (e *Engine) registerHighlightTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "tablesniff_highlight_table",
		Description: "Outline one table on the page and clear the previous outline.",
		InputSchema: inputSchema(map[string]any{
			"page_id":  pageIDProp,
			"table_id": tableIDProp,
		}, []string{"page_id", "table_id"}),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		r := req.(*tableReq)
		if err := e.Highlight(ctx, r.PageID, r.TableID); err != nil {
			return nil, err
		}
		return map[string]any{"highlighted": r.TableID}, nil
	}

	e.registerTool(srv, tool, endpoint, decodePage[tableReq])
}

// --- export ---

type exportTableReq struct {
	PageID  string `json:"page_id"`
	TableID int    `json:"table_id"`
	Format  string `json:"format"`
	Target  string `json:"target"`
}

func (r *exportTableReq) page() string { return r.PageID }

type exportTableResp struct {
	ID       string       `json:"id"`
	Filename string       `json:"filename"`
	Format   table.Format `json:"format"`
	Rows     int          `json:"rows"`
	Target   Target       `json:"target"`
	Content  string       `json:"content"`
}

func (e *Engine) registerExportTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "tablesniff_export_table",
		Description: "Expand a table's pagination to show all rows, then export it. The text is returned and also delivered to the target (download, clipboard or none).",
		InputSchema: inputSchema(map[string]any{
			"page_id":  pageIDProp,
			"table_id": tableIDProp,
			"format":   map[string]any{"type": "string", "enum": []string{"csv", "tsv", "markdown", "html"}, "description": "Export format (default csv)"},
			"target":   map[string]any{"type": "string", "enum": []string{"download", "clipboard", "none"}, "description": "Delivery target (default none)"},
		}, []string{"page_id", "table_id"}),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		r := req.(*exportTableReq)
		format, ok := table.ParseFormat(r.Format)
		if !ok {
			return nil, fmt.Errorf("%w: format %q", ErrInvalidInput, r.Format)
		}
		if r.Target == "" {
			r.Target = string(TargetNone)
		}
		target, err := ParseTarget(r.Target)
		if err != nil {
			return nil, err
		}
		exp, err := e.Export(ctx, r.PageID, r.TableID, format, target)
		if err != nil {
			return nil, err
		}
		return exportTableResp{
			ID:       exp.ID,
			Filename: exp.Filename,
			Format:   exp.Format,
			Rows:     exp.Rows,
			Target:   target,
			Content:  strings.TrimPrefix(string(exp.Data), "\ufeff"),
		}, nil
	}

	e.registerTool(srv, tool, endpoint, decodePage[exportTableReq])
}

// --- auto download ---

type pageReq struct {
	PageID string `json:"page_id"`
}

func (r *pageReq) page() string { return r.PageID }

func (e *Engine) registerAutoTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "tablesniff_auto_download",
		Description: "Export the largest table of a page as CSV to the download targets.",
		InputSchema: inputSchema(map[string]any{
			"page_id": pageIDProp,
		}, []string{"page_id"}),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		r := req.(*pageReq)
		exp, err := e.AutoDownload(ctx, r.PageID)
		if err != nil {
			return nil, err
		}
		return Download{ExportID: exp.ID, Filename: exp.Filename, Rows: exp.Rows}, nil
	}

	e.registerTool(srv, tool, endpoint, decodePage[pageReq])
}

// --- options ---

func (e *Engine) registerOptionsTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "tablesniff_get_options",
		Description: "Return the export options: delimiter, line ending, detection mode and auto-download domains.",
		InputSchema: inputSchema(map[string]any{}, nil),
	}

	endpoint := func(_ context.Context, _ any) (any, error) {
		return e.Options(), nil
	}

	e.registerTool(srv, tool, endpoint, kit.DecodeJSON[struct{}])
}
