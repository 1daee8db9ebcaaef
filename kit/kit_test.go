package kit

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

func TestChain_Order(t *testing.T) {
	var order []string
	mw := func(name string) Middleware {
		return func(next Endpoint) Endpoint {
			return func(ctx context.Context, req any) (any, error) {
				order = append(order, name+"_before")
				resp, err := next(ctx, req)
				order = append(order, name+"_after")
				return resp, err
			}
		}
	}
	base := func(context.Context, any) (any, error) {
		order = append(order, "endpoint")
		return "ok", nil
	}

	resp, err := Chain(mw("a"), mw("b"))(base)(context.Background(), nil)
	if err != nil || resp != "ok" {
		t.Fatalf("got %v, %v", resp, err)
	}
	want := []string{"a_before", "b_before", "endpoint", "b_after", "a_after"}
	if len(order) != len(want) {
		t.Fatalf("order: %v", order)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Errorf("order[%d]: got %q, want %q", i, order[i], want[i])
		}
	}
}

func TestContext(t *testing.T) {
	ctx := context.Background()
	if GetTransport(ctx) != "http" {
		t.Errorf("default transport: %q", GetTransport(ctx))
	}
	ctx = WithTransport(WithTraceID(WithPageID(ctx, "p1"), "abc"), "mcp")
	if GetTransport(ctx) != "mcp" || GetTraceID(ctx) != "abc" || GetPageID(ctx) != "p1" {
		t.Errorf("got %q %q %q", GetTransport(ctx), GetTraceID(ctx), GetPageID(ctx))
	}
}

type echoReq struct {
	Text string `json:"text"`
}

func mcpSession(t *testing.T) *mcp.ClientSession {
	t.Helper()
	impl := &mcp.Implementation{Name: "kit-test", Version: "0.1.0"}
	srv := mcp.NewServer(impl, nil)
	schema := map[string]any{"type": "object", "properties": map[string]any{"text": map[string]any{"type": "string"}}}

	RegisterMCPTool(srv, &mcp.Tool{Name: "echo", InputSchema: schema},
		func(ctx context.Context, req any) (any, error) {
			r := req.(*echoReq)
			if r.Text == "fail" {
				return nil, errors.New("refused")
			}
			return map[string]string{"text": r.Text, "transport": GetTransport(ctx)}, nil
		},
		DecodeJSON[echoReq],
	)

	serverT, clientT := mcp.NewInMemoryTransports()
	ctx := context.Background()
	go func() { _ = srv.Run(ctx, serverT) }()

	session, err := mcp.NewClient(impl, nil).Connect(ctx, clientT, nil)
	if err != nil {
		t.Fatalf("client connect: %v", err)
	}
	t.Cleanup(func() { session.Close() })
	return session
}

func TestRegisterMCPTool(t *testing.T) {
	session := mcpSession(t)

	res, err := session.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      "echo",
		Arguments: map[string]any{"text": "hi"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.IsError {
		t.Fatalf("tool error: %+v", res.Content)
	}
	var out map[string]string
	if err := json.Unmarshal([]byte(res.Content[0].(*mcp.TextContent).Text), &out); err != nil {
		t.Fatal(err)
	}
	if out["text"] != "hi" || out["transport"] != "mcp" {
		t.Errorf("got %v", out)
	}

	res, err = session.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      "echo",
		Arguments: map[string]any{"text": "fail"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if !res.IsError {
		t.Error("endpoint error not reported as tool error")
	}
}
