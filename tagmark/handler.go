// Package tagmark is the HTTP/websocket transport for the declarative runtime in package
// markup: it serves a document's initial render as HTML, then upgrades to a websocket and runs
// a per-connection render loop pushing virtual-DOM patches and receiving DOM events.
package tagmark

import (
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/tagmark/tagmark/markup"
	"github.com/tagmark/tagmark/vdom"
)

var wsUpgrader = websocket.Upgrader{}

// Handler serves .tagmark documents from a file system. There is no cross-file component
// import mechanism: definitions all live in the document that uses them, via the
// "Name:Template" convention.
type Handler struct {
	FileSystem fs.FS

	// OnError is called when serving a request fails outside the websocket loop.
	OnError func(*http.Request, error)

	Logger *slog.Logger

	init       sync.Once
	globalInit sync.Once
	logger     *slog.Logger
	registry   *markup.Registry
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.init.Do(func() {
		h.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
		if h.Logger != nil {
			h.logger = h.Logger
		}
		h.registry = markup.NewRegistry()
	})

	if err := h.handleRequest(w, r); err != nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		h.logger.Error("serve request", "url", r.URL.Redacted(), "error", err)
		if h.OnError != nil {
			h.OnError(r, err)
		}
	}
}

func (h *Handler) handleRequest(w http.ResponseWriter, r *http.Request) error {
	docPath := r.URL.Path
	if docPath == "" || docPath == "/" {
		docPath = "/index.tagmark"
	}

	f, err := h.FileSystem.Open(trimLeadingSlash(docPath))
	if err != nil {
		http.NotFound(w, r)
		return nil
	}
	defer f.Close()

	parser := markup.NewParser(f, docPath)
	doc, err := parser.Parse()
	if err != nil {
		return fmt.Errorf("parse %s: %w", docPath, err)
	}

	renderer := markup.NewRenderer(h.registry)
	renderer.Logger = h.logger

	// Every fresh parse carries the global-init element and must have it stripped, but the
	// merge into the shared global store runs once per process: re-merging on a reconnect
	// would reset keys an effect has since mutated.
	globalInit, err := ExtractGlobalInit(doc, renderer.Compiler)
	if err != nil {
		return err
	}
	if globalInit != nil {
		h.globalInit.Do(func() {
			h.registry.Global().Merge(globalInit)
		})
	}

	if websocket.IsWebSocketUpgrade(r) {
		ws, err := wsUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return err
		}
		defer ws.Close()
		sess := NewSession(doc, renderer, h.registry)
		return sess.Run(ws)
	}

	scope := markup.NewRootScope()
	bindGlobalAndURL(scope, h.registry)
	out, err := renderer.Render(doc, scope, "root", nil)
	if err != nil {
		return err
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	return writeInitialHTML(w, out)
}

// bindGlobalAndURL binds the two shared namespaces into a root scope in pure mode; effect
// evaluation switches a resolved handle to effect mode itself, so rendering can never write.
func bindGlobalAndURL(scope *markup.Scope, reg *markup.Registry) {
	_ = scope.BindHandle("global", markup.RootHandle(reg.Global(), true))
	_ = scope.BindHandle("url", markup.RootHandle(reg.URL(), true))
}

func writeInitialHTML(w http.ResponseWriter, n *vdom.Node) error {
	return vdom.WriteHTML(w, n)
}

func trimLeadingSlash(p string) string {
	if len(p) > 0 && p[0] == '/' {
		return p[1:]
	}
	return p
}
