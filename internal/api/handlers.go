// SPDX-License-Identifier: MIT

package api

import (
	"archive/zip"
	"encoding/json"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/trelleck/mediatree/internal/didl"
	"github.com/trelleck/mediatree/internal/dlna"
	"github.com/trelleck/mediatree/internal/log"
	"github.com/trelleck/mediatree/internal/renderer"
	"github.com/trelleck/mediatree/internal/sessions"
	"github.com/trelleck/mediatree/internal/tree"
)

// renderFor identifies the requesting renderer and stamps it into the
// request context for downstream log lines.
func (s *Server) rendererFor(req *http.Request) (*renderer.Renderer, *http.Request) {
	r := s.deps.Detector.Detect(req.UserAgent(), req.RemoteAddr)
	ctx := log.ContextWithRenderer(req.Context(), r.Name)
	return r, req.WithContext(ctx)
}

// compilerFor builds a per-request compiler so emitted resource URLs
// point back at whatever address the renderer reached us on.
func (s *Server) compilerFor(req *http.Request) *didl.Compiler {
	scheme := "http"
	if req.TLS != nil {
		scheme = "https"
	}
	return didl.NewCompiler(scheme + "://" + req.Host)
}

func (s *Server) handleBrowse(w http.ResponseWriter, req *http.Request) {
	r, req := s.rendererFor(req)
	ctx := req.Context()

	node, err := s.deps.Tree.Resolve(ctx, chi.URLParam(req, "id"), r)
	if errors.Is(err, tree.ErrNotFound) {
		http.Error(w, "no such object", http.StatusNotFound)
		return
	}
	if err != nil {
		s.fail(w, req, err, "browse")
		return
	}

	c, ok := node.(tree.Container)
	if !ok {
		// Browsing an item degrades to its own metadata.
		s.writeDIDL(w, req, s.compilerFor(req).CompileNode(node, r))
		return
	}
	if err := s.deps.Tree.Discover(ctx, c, r, false); err != nil {
		s.fail(w, req, err, "browse")
		return
	}

	children := c.Children()
	start, count := pagination(req, len(children))
	doc := s.compilerFor(req).CompileChildren(c, children[start:start+count], r)
	w.Header().Set("X-Total-Matches", strconv.Itoa(len(children)))
	s.writeDIDL(w, req, doc)
}

func (s *Server) handleMeta(w http.ResponseWriter, req *http.Request) {
	r, req := s.rendererFor(req)

	node, err := s.deps.Tree.Resolve(req.Context(), chi.URLParam(req, "id"), r)
	if errors.Is(err, tree.ErrNotFound) {
		http.Error(w, "no such object", http.StatusNotFound)
		return
	}
	if err != nil {
		s.fail(w, req, err, "meta")
		return
	}
	s.writeDIDL(w, req, s.compilerFor(req).CompileNode(node, r))
}

func (s *Server) handleStream(w http.ResponseWriter, req *http.Request) {
	r, req := s.rendererFor(req)

	it, err := s.resolveItem(req, r)
	if err != nil {
		http.Error(w, "no such object", http.StatusNotFound)
		return
	}

	key := sessionKeyFor(r, it)
	s.deps.Sessions.Start(req.Context(), key)
	defer s.deps.Sessions.Stop(req.Context(), key)

	var conv *dlna.Conversion
	if d := it.Decision; d != nil && d.Convert() {
		conv = &dlna.Conversion{EngineName: d.Engine.Name(), OutputContainer: d.Engine.OutputContainer()}
	}
	w.Header().Set("Content-Type", dlna.MimeType(it.Info, conv))
	w.Header().Set("TransferMode.DLNA.ORG", "Streaming")

	if archive, member, ok := splitArchivePath(it.Path); ok {
		s.serveArchiveMember(w, req, archive, member)
		return
	}
	s.serveFile(w, req, it.Path)
}

func (s *Server) handleImage(w http.ResponseWriter, req *http.Request) {
	r, req := s.rendererFor(req)

	it, err := s.resolveItem(req, r)
	if err != nil {
		http.Error(w, "no such object", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", dlna.MimeType(it.Info, nil))
	if archive, member, ok := splitArchivePath(it.Path); ok {
		s.serveArchiveMember(w, req, archive, member)
		return
	}
	s.serveFile(w, req, it.Path)
}

func (s *Server) handleHealthz(w http.ResponseWriter, req *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":    "ok",
		"update_id": s.deps.Clock.Current(),
	})
}

// sessionKeyFor keys the playback session on the device's network
// identity rather than the matched profile name, so two devices sharing
// one profile never alias into a single session.
func sessionKeyFor(r *renderer.Renderer, it *tree.Item) sessions.Key {
	identity := r.Identity
	if host, _, err := net.SplitHostPort(identity); err == nil {
		identity = host
	}
	if identity == "" {
		identity = r.Name
	}
	return sessions.Key{Renderer: identity, Resource: it.Key()}
}

// resolveItem resolves a media path id to the underlying item node.
func (s *Server) resolveItem(req *http.Request, r *renderer.Renderer) (*tree.Item, error) {
	node, err := s.deps.Tree.Resolve(req.Context(), chi.URLParam(req, "id"), r)
	if err != nil {
		return nil, err
	}
	it, ok := node.(*tree.Item)
	if !ok {
		return nil, tree.ErrNotFound
	}
	return it, nil
}

func (s *Server) serveFile(w http.ResponseWriter, req *http.Request, path string) {
	f, err := os.Open(path)
	if err != nil {
		s.fail(w, req, err, "stream")
		return
	}
	defer f.Close()
	fi, err := f.Stat()
	if err != nil {
		s.fail(w, req, err, "stream")
		return
	}
	http.ServeContent(w, req, "", fi.ModTime(), f)
}

// serveArchiveMember streams one compressed member. Members decompress
// sequentially, so range requests are not honoured here.
func (s *Server) serveArchiveMember(w http.ResponseWriter, req *http.Request, archive, member string) {
	zr, err := zip.OpenReader(archive)
	if err != nil {
		s.fail(w, req, err, "stream")
		return
	}
	defer zr.Close()

	for _, zf := range zr.File {
		if zf.Name != member {
			continue
		}
		rc, err := zf.Open()
		if err != nil {
			s.fail(w, req, err, "stream")
			return
		}
		defer rc.Close()
		w.Header().Set("Content-Length", strconv.FormatUint(zf.UncompressedSize64, 10))
		_, _ = io.Copy(w, rc)
		return
	}
	http.Error(w, "no such object", http.StatusNotFound)
}

func (s *Server) writeDIDL(w http.ResponseWriter, req *http.Request, doc *didl.Document) {
	body, err := doc.Marshal()
	if err != nil {
		s.fail(w, req, err, "didl")
		return
	}
	w.Header().Set("Content-Type", `text/xml; charset="utf-8"`)
	w.Header().Set("X-Update-ID", strconv.FormatUint(uint64(s.deps.Clock.Current()), 10))
	fmt.Fprint(w, xml.Header)
	_, _ = w.Write(body)
}

func (s *Server) fail(w http.ResponseWriter, req *http.Request, err error, event string) {
	logger := log.WithContext(req.Context(), s.logger)
	logger.Error().Err(err).Str(log.FieldEvent, event).Msg("request failed")
	http.Error(w, "internal error", http.StatusInternalServerError)
}

// pagination clamps the start/count query parameters to the child
// slice. count=0 means everything from start, as CDS browse does.
func pagination(req *http.Request, total int) (start, count int) {
	start, _ = strconv.Atoi(req.URL.Query().Get("start"))
	if start < 0 || start > total {
		start = 0
	}
	count, _ = strconv.Atoi(req.URL.Query().Get("count"))
	if count <= 0 || start+count > total {
		count = total - start
	}
	return start, count
}

// splitArchivePath recognises the archive#member convention entries of
// zip shares carry in their path.
func splitArchivePath(path string) (archive, member string, ok bool) {
	i := strings.IndexByte(path, '#')
	if i < 0 {
		return "", "", false
	}
	return path[:i], path[i+1:], true
}
