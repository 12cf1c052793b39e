package mcp

import (
	"context"
	"net/url"
	"path/filepath"
	"strings"
	"sync"
	"time"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"
)

// rootsRequestTimeout bounds the round-trip to the client. A client that
// does not answer in time is treated as having no roots.
const rootsRequestTimeout = 3 * time.Second

// rootsCache holds the roots reported by each session. Roots are requested
// once per session.
type rootsCache struct {
	mu    sync.RWMutex
	cache map[string][]mcplib.Root // sessionID -> roots
}

func newRootsCache() *rootsCache {
	return &rootsCache{
		cache: make(map[string][]mcplib.Root),
	}
}

// Get returns cached roots for a session.
func (rc *rootsCache) Get(sessionID string) ([]mcplib.Root, bool) {
	rc.mu.RLock()
	defer rc.mu.RUnlock()
	roots, ok := rc.cache[sessionID]
	return roots, ok
}

// Set caches roots for a session.
func (rc *rootsCache) Set(sessionID string, roots []mcplib.Root) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.cache[sessionID] = roots
}

// requestRoots asks the client for its roots, caching the answer per
// session. Any failure yields nil.
func (s *Server) requestRoots(ctx context.Context) []mcplib.Root {
	session := mcpserver.ClientSessionFromContext(ctx)
	if session == nil {
		return nil
	}
	sessionID := session.SessionID()
	if sessionID == "" {
		return nil
	}
	if roots, ok := s.rootsCache.Get(sessionID); ok {
		return roots
	}

	reqCtx, cancel := context.WithTimeout(ctx, rootsRequestTimeout)
	defer cancel()
	result, err := s.mcpServer.RequestRoots(reqCtx, mcplib.ListRootsRequest{})
	if err != nil {
		s.logger.Debug("mcp: roots request failed", "error", err, "session_id", sessionID)
		s.rootsCache.Set(sessionID, []mcplib.Root{})
		return nil
	}
	s.rootsCache.Set(sessionID, result.Roots)
	return result.Roots
}

// rootDirs returns the local directories named by file:// roots, in order.
func rootDirs(roots []mcplib.Root) []string {
	var dirs []string
	for _, root := range roots {
		if !strings.HasPrefix(root.URI, "file://") {
			continue
		}
		parsed, err := url.Parse(root.URI)
		if err != nil {
			continue
		}
		dir := filepath.Clean(parsed.Path)
		if dir == "" || dir == "." {
			continue
		}
		dirs = append(dirs, dir)
	}
	return dirs
}

// resolveReferencePaths makes relative reference paths absolute against the
// client's first file:// root. Absolute paths and blank entries are kept as
// given; without a usable root nothing changes.
func resolveReferencePaths(paths []string, roots []mcplib.Root) []string {
	dirs := rootDirs(roots)
	if len(dirs) == 0 {
		return paths
	}
	out := make([]string, len(paths))
	for i, p := range paths {
		trimmed := strings.TrimSpace(p)
		if trimmed == "" || filepath.IsAbs(trimmed) {
			out[i] = p
			continue
		}
		out[i] = filepath.Join(dirs[0], trimmed)
	}
	return out
}
