// Package githubtest provides an in-memory fake of the GitHub REST endpoints
// used by the github client, for tests.
package githubtest

import (
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// Server is a fake single-repository GitHub API
type Server struct {
	*httptest.Server

	Owner string
	Repo  string

	mu       sync.Mutex
	branches map[string]string
	files    map[string]map[string]file // branch -> path -> file
	pulls    []Pull
	calls    []string
	seq      int

	// FailOn makes the first request whose "METHOD path-prefix" key matches
	// respond with the given status
	FailOn map[string]int
}

// Pull is a pull request recorded by the fake
type Pull struct {
	Number      int
	Head        string
	Base        string
	Title       string
	Body        string
	Merged      bool
	MergeMethod string
}

type file struct {
	content string
	sha     string
	// large files are served the way the API serves blobs over 1 MB
	large bool
}

// NewServer starts a fake with a default branch containing files
func NewServer(owner, repo, defaultBranch string, files map[string]string) *Server {
	s := &Server{
		Owner:    owner,
		Repo:     repo,
		branches: map[string]string{defaultBranch: "base-sha"},
		files:    map[string]map[string]file{defaultBranch: {}},
		FailOn:   map[string]int{},
	}
	for path, content := range files {
		s.files[defaultBranch][path] = file{content: content, sha: s.nextSHA()}
	}
	s.Server = httptest.NewServer(http.HandlerFunc(s.handle))
	return s
}

// Calls returns "METHOD path" for every request received, in order
func (s *Server) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

// Pulls returns the pull requests opened so far
func (s *Server) Pulls() []Pull {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Pull(nil), s.pulls...)
}

// Branches returns every branch name
func (s *Server) Branches() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.branches))
	for b := range s.branches {
		out = append(out, b)
	}
	return out
}

// File returns the content of path on branch
func (s *Server) File(branch, path string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.files[branch][path]
	return f.content, ok
}

// SetFile overwrites a file on branch, giving it a new sha
func (s *Server) SetFile(branch, path, content string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.files[branch] == nil {
		s.files[branch] = map[string]file{}
	}
	s.files[branch][path] = file{content: content, sha: s.nextSHA()}
}

// SetLargeFile replaces path on branch with a blob too large to inline
func (s *Server) SetLargeFile(branch, path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.files[branch] == nil {
		s.files[branch] = map[string]file{}
	}
	s.files[branch][path] = file{sha: s.nextSHA(), large: true}
}

func (s *Server) nextSHA() string {
	s.seq++
	return fmt.Sprintf("sha-%d", s.seq)
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prefix := fmt.Sprintf("/repos/%s/%s/", s.Owner, s.Repo)
	path := strings.TrimPrefix(r.URL.Path, prefix)
	s.calls = append(s.calls, r.Method+" "+path)

	for key, status := range s.FailOn {
		if strings.HasPrefix(r.Method+" "+path, key) {
			delete(s.FailOn, key)
			writeMessage(w, status, fmt.Sprintf("injected failure %d", status))
			return
		}
	}

	if r.Header.Get("Authorization") == "" {
		writeMessage(w, http.StatusUnauthorized, "Requires authentication")
		return
	}

	body, _ := io.ReadAll(r.Body)

	switch {
	case r.Method == http.MethodGet && strings.HasPrefix(path, "git/ref/heads/"):
		branch := strings.TrimPrefix(path, "git/ref/heads/")
		sha, ok := s.branches[branch]
		if !ok {
			writeMessage(w, http.StatusNotFound, "Not Found")
			return
		}
		writeJSON(w, http.StatusOK, refJSON(branch, sha))

	case r.Method == http.MethodPost && path == "git/refs":
		branch := strings.TrimPrefix(gjson.GetBytes(body, "ref").String(), "refs/heads/")
		if _, exists := s.branches[branch]; exists {
			writeMessage(w, http.StatusUnprocessableEntity, "Reference already exists")
			return
		}
		sha := gjson.GetBytes(body, "sha").String()
		s.branches[branch] = sha
		s.files[branch] = map[string]file{}
		for base, baseSHA := range s.branches {
			if baseSHA == sha && base != branch {
				for p, f := range s.files[base] {
					s.files[branch][p] = f
				}
				break
			}
		}
		writeJSON(w, http.StatusCreated, refJSON(branch, sha))

	case r.Method == http.MethodGet && strings.HasPrefix(path, "contents/"):
		p := strings.TrimPrefix(path, "contents/")
		f, ok := s.files[r.URL.Query().Get("ref")][p]
		if !ok {
			writeMessage(w, http.StatusNotFound, "Not Found")
			return
		}
		out := `{"type":"file"}`
		out, _ = sjson.Set(out, "path", p)
		out, _ = sjson.Set(out, "sha", f.sha)
		if f.large {
			out, _ = sjson.Set(out, "encoding", "none")
			out, _ = sjson.Set(out, "content", "")
			out, _ = sjson.Set(out, "size", 2<<20)
		} else {
			out, _ = sjson.Set(out, "encoding", "base64")
			out, _ = sjson.Set(out, "content", base64.StdEncoding.EncodeToString([]byte(f.content)))
			out, _ = sjson.Set(out, "size", len(f.content))
		}
		writeJSON(w, http.StatusOK, out)

	case r.Method == http.MethodPut && strings.HasPrefix(path, "contents/"):
		p := strings.TrimPrefix(path, "contents/")
		branch := gjson.GetBytes(body, "branch").String()
		current, ok := s.files[branch][p]
		if ok && current.sha != gjson.GetBytes(body, "sha").String() {
			writeMessage(w, http.StatusConflict, current.sha+" does not match")
			return
		}
		decoded, err := base64.StdEncoding.DecodeString(gjson.GetBytes(body, "content").String())
		if err != nil {
			writeMessage(w, http.StatusUnprocessableEntity, "content is not valid Base64")
			return
		}
		if s.files[branch] == nil {
			s.files[branch] = map[string]file{}
		}
		s.files[branch][p] = file{content: string(decoded), sha: s.nextSHA()}
		s.branches[branch] = s.nextSHA()
		writeJSON(w, http.StatusOK, `{"content":{},"commit":{}}`)

	case r.Method == http.MethodPost && path == "pulls":
		pull := Pull{
			Number: len(s.pulls) + 1,
			Head:   gjson.GetBytes(body, "head").String(),
			Base:   gjson.GetBytes(body, "base").String(),
			Title:  gjson.GetBytes(body, "title").String(),
			Body:   gjson.GetBytes(body, "body").String(),
		}
		s.pulls = append(s.pulls, pull)
		out := `{}`
		out, _ = sjson.Set(out, "number", pull.Number)
		out, _ = sjson.Set(out, "html_url", fmt.Sprintf("https://github.com/%s/%s/pull/%d", s.Owner, s.Repo, pull.Number))
		out, _ = sjson.Set(out, "head.ref", pull.Head)
		out, _ = sjson.Set(out, "base.ref", pull.Base)
		writeJSON(w, http.StatusCreated, out)

	case r.Method == http.MethodPut && strings.HasPrefix(path, "pulls/") && strings.HasSuffix(path, "/merge"):
		var number int
		if _, err := fmt.Sscanf(path, "pulls/%d/merge", &number); err != nil || number < 1 || number > len(s.pulls) {
			writeMessage(w, http.StatusNotFound, "Not Found")
			return
		}
		s.pulls[number-1].Merged = true
		s.pulls[number-1].MergeMethod = gjson.GetBytes(body, "merge_method").String()
		writeJSON(w, http.StatusOK, `{"merged":true,"message":"Pull Request successfully merged"}`)

	default:
		writeMessage(w, http.StatusNotFound, "Not Found")
	}
}

func refJSON(branch, sha string) string {
	body, _ := sjson.Set(`{}`, "ref", "refs/heads/"+branch)
	body, _ = sjson.Set(body, "object.sha", sha)
	body, _ = sjson.Set(body, "object.type", "commit")
	return body
}

func writeMessage(w http.ResponseWriter, status int, message string) {
	body, _ := sjson.Set(`{}`, "message", message)
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, body)
}
