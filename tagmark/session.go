package tagmark

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tagmark/tagmark/markup"
	"github.com/tagmark/tagmark/vdom"
)

// clientEvent is the inbound envelope a connected browser sends: either one (sid, attribute,
// event) triple identifying which element's handler fired, or a fragment-change notification.
// Exactly one of (SID, Fragment) is populated.
type clientEvent struct {
	SID      string  `json:"sid,omitempty"`
	Attr     string  `json:"attr,omitempty"`
	Event    any     `json:"event,omitempty"`
	Fragment *string `json:"fragment,omitempty"`
}

// urlPatch is the outbound message that carries a debounced URL-fragment change to the browser,
// distinguished from a vdom patch list by its own top-level shape.
type urlPatch struct {
	Fragment string `json:"fragment"`
}

const urlSyncDebounce = 50 * time.Millisecond

// Session owns one websocket connection's render loop: it reruns the renderer whenever the
// connection's subscribed namespaces change, diffs against the previously sent tree, and
// writes the resulting patch stream. Inbound events resolve one effect expression by (SID,
// attribute) and evaluate it with the event payload bound.
type Session struct {
	doc      *markup.Node
	renderer *markup.Renderer
	registry *markup.Registry

	handlers  map[string]map[string]markup.HandlerBinding // sid -> attr -> bound effect
	lastTree  *vdom.Node
	urlSync   *markup.URLSync
	lastClear map[string]bool // clear-on-unmount SIDs mounted as of the previous pass

	debounce *time.Timer
}

func NewSession(doc *markup.Node, renderer *markup.Renderer, reg *markup.Registry) *Session {
	debounce := time.NewTimer(urlSyncDebounce)
	if !debounce.Stop() {
		<-debounce.C
	}
	return &Session{
		doc:      doc,
		renderer: renderer,
		registry: reg,
		handlers: make(map[string]map[string]markup.HandlerBinding),
		urlSync:  markup.NewURLSync(reg.URL()),
		debounce: debounce,
	}
}

// Run drives the session's render loop until ws closes or a fatal error occurs.
func (s *Session) Run(ws *websocket.Conn) error {
	scope := markup.NewRootScope()
	bindGlobalAndURL(scope, s.registry)

	// One channel covers every namespace - global, url, and each local store the registry
	// hands out - so an effect writing component-local state reruns the render too.
	touch := s.registry.Subscribe()

	events := make(chan clientEvent)
	readErr := make(chan error, 1)
	go func() {
		for {
			var ev clientEvent
			if err := ws.ReadJSON(&ev); err != nil {
				if websocket.IsCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					err = nil
				} else {
					err = fmt.Errorf("read websocket message: %w", err)
				}
				readErr <- err
				return
			}
			events <- ev
		}
	}()

	if err := s.renderAndSend(ws, scope); err != nil {
		return err
	}

	for {
		select {
		case err := <-readErr:
			return err
		case ev := <-events:
			if ev.Fragment != nil {
				if err := s.urlSync.ApplyFragment(*ev.Fragment); err != nil {
					continue // malformed inbound fragment does not tear down the connection
				}
				continue // the url store's own Replace notification drives the rerender
			}
			if err := s.applyEvent(ev); err != nil {
				continue // an effect error does not tear down the connection
			}
			if err := s.renderAndSend(ws, scope); err != nil {
				return err
			}
		case <-touch:
			if err := s.renderAndSend(ws, scope); err != nil {
				return err
			}
		case <-s.debounce.C:
			if err := s.flushURLSync(ws); err != nil {
				return err
			}
		}
	}
}

// applyEvent looks up the effect body registered for (sid, attr) and runs it, with the event
// payload bound to the reserved name "event" in a child scope. Built-in form-field handlers
// (emitted by the renderer's auto-binding, not authored effect expressions) are recognized
// first and applied as a coerced store write.
func (s *Session) applyEvent(ev clientEvent) error {
	byAttr, ok := s.handlers[ev.SID]
	if !ok {
		return nil
	}
	binding, ok := byAttr[ev.Attr]
	if !ok {
		return nil
	}
	if namespace, path, kind, isField := markup.DecodeFieldHandler(binding.Body); isField {
		store := s.registry.StoreFor(namespace, nil)
		return store.Set(path, markup.CoerceFieldValue(kind, ev.Event))
	}
	child := binding.Scope.Spawn()
	_ = child.BindValue("event", ev.Event)
	stmts, err := markup.CompileEffectBody(binding.Body, child, s.renderer.Compiler)
	if err != nil {
		return err
	}
	return markup.Run(stmts, child)
}

func (s *Session) renderAndSend(ws *websocket.Conn, scope *markup.Scope) error {
	tree, info, err := s.renderer.RenderSession(s.doc, scope)
	if err != nil {
		return err
	}
	s.handlers = info.Handlers
	s.urlSync.SetAnnotations(info.URLAnnotations)
	s.armURLSync()

	// clear-on-unmount: any SID that carried the attribute last pass but no longer renders
	// has its local namespace dropped now, before the author can observe stale state.
	for sid := range s.lastClear {
		if !info.ClearOnUnmount[sid] {
			s.registry.Clear(sid)
		}
	}
	s.lastClear = info.ClearOnUnmount

	patches := vdom.Diff(s.lastTree, tree)
	s.lastTree = tree
	if len(patches) == 0 {
		return nil
	}
	w, err := ws.NextWriter(websocket.TextMessage)
	if err != nil {
		return fmt.Errorf("get websocket writer: %w", err)
	}
	defer w.Close()
	return json.NewEncoder(w).Encode(patches)
}

// armURLSync (re)starts the outbound debounce timer so a burst of renders in quick succession
// (e.g. several effect-driven mutations in one batch) coalesces into a single fragment push.
func (s *Session) armURLSync() {
	if !s.debounce.Stop() {
		select {
		case <-s.debounce.C:
		default:
		}
	}
	s.debounce.Reset(urlSyncDebounce)
}

// flushURLSync sends the current outbound fragment to the client if it differs from the last
// one sent, as a distinct message shape from a vdom patch list.
func (s *Session) flushURLSync(ws *websocket.Conn) error {
	fragment, changed := s.urlSync.Sync()
	if !changed {
		return nil
	}
	w, err := ws.NextWriter(websocket.TextMessage)
	if err != nil {
		return fmt.Errorf("get websocket writer: %w", err)
	}
	defer w.Close()
	return json.NewEncoder(w).Encode(urlPatch{Fragment: fragment})
}
