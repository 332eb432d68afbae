package connectors

import (
	"context"
	"fmt"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/lorehq/lore/pkg/canonical"
	"github.com/lorehq/lore/pkg/httpclient"
	"github.com/lorehq/lore/pkg/store"
)

const githubAPIBase = "https://api.github.com"

// maxGitHubBlobSize skips files the API would refuse to inline anyway.
const maxGitHubBlobSize = 1 << 20

// githubSource walks the file trees of the configured repos, one
// document per text file. Repos untouched since the window start are
// skipped wholesale. Pages at the repo level.
type githubSource struct {
	cfg    GitHubConfig
	client *httpclient.Client
	// bodies are fetched during FetchWindow; keyed by item id.
	bodies map[string]string
}

func newGitHubSource(_ context.Context, raw map[string]any) (Source, error) {
	var cfg GitHubConfig
	if err := decodeConfig(raw, &cfg); err != nil {
		return nil, err
	}
	if cfg.Token == "" {
		return nil, newError(KindMissingCredentials, store.TypeGitHub, nil, "token missing")
	}
	if len(cfg.Repos) == 0 {
		return nil, newError(KindMissingCredentials, store.TypeGitHub, nil, "repos missing")
	}
	return &githubSource{cfg: cfg, client: newHTTPClient(), bodies: make(map[string]string)}, nil
}

func (g *githubSource) Type() string { return store.TypeGitHub }

type githubRepo struct {
	DefaultBranch string    `json:"default_branch"`
	PushedAt      time.Time `json:"pushed_at"`
}

type githubTree struct {
	Tree []struct {
		Path string `json:"path"`
		Type string `json:"type"`
		Size int64  `json:"size"`
	} `json:"tree"`
	Truncated bool `json:"truncated"`
}

// FetchWindow processes one repo per call; the repo index travels in
// PageToken.
func (g *githubSource) FetchWindow(ctx context.Context, cursor Cursor, window Window) ([]RawItem, Cursor, error) {
	index := 0
	if cursor.PageToken != "" {
		fmt.Sscanf(cursor.PageToken, "%d", &index)
	}
	if index >= len(g.cfg.Repos) {
		return nil, Cursor{}, nil
	}
	repoName := strings.TrimSpace(g.cfg.Repos[index])
	// The repo index only travels within a run; a persisted token would
	// start the next run past the end.
	next := Cursor{}
	if index+1 < len(g.cfg.Repos) {
		next = Cursor{PageToken: fmt.Sprintf("%d", index+1), HasMore: true}
	}

	var repo githubRepo
	if err := g.get(ctx, fmt.Sprintf("/repos/%s", repoName), &repo); err != nil {
		return nil, cursor, err
	}
	// Nothing pushed since the window started: the tree cannot have
	// changed.
	if repo.PushedAt.Before(window.Start) {
		return nil, next, nil
	}

	var tree githubTree
	if err := g.get(ctx, fmt.Sprintf("/repos/%s/git/trees/%s?recursive=1", repoName, repo.DefaultBranch), &tree); err != nil {
		return nil, cursor, err
	}

	var items []RawItem
	for _, entry := range tree.Tree {
		if entry.Type != "blob" || entry.Size > maxGitHubBlobSize || isBinaryPath(entry.Path) {
			continue
		}
		content, err := g.rawFile(ctx, repoName, repo.DefaultBranch, entry.Path)
		if err != nil {
			return nil, cursor, err
		}
		if strings.TrimSpace(content) == "" {
			continue
		}
		id := repoName + "/" + entry.Path
		g.bodies[id] = content
		items = append(items, RawItem{
			ID:    id,
			Title: entry.Path,
			Data:  githubFile{Repo: repoName, Path: entry.Path, Branch: repo.DefaultBranch},
		})
	}
	return items, next, nil
}

type githubFile struct {
	Repo   string
	Path   string
	Branch string
}

func (g *githubSource) ToCanonical(item RawItem) (*canonical.Document, error) {
	file, ok := item.Data.(githubFile)
	if !ok {
		return nil, fmt.Errorf("unexpected github item payload %T", item.Data)
	}
	body, ok := g.bodies[item.ID]
	if !ok {
		return nil, fmt.Errorf("no content fetched for %s", item.ID)
	}
	return &canonical.Document{
		Title:    fmt.Sprintf("%s/%s", file.Repo, file.Path),
		Type:     store.TypeGitHub,
		SourceID: item.ID,
		Metadata: map[string]string{
			"REPOSITORY":           file.Repo,
			"BRANCH":               file.Branch,
			canonical.MetaFilePath: file.Path,
		},
		Body: body,
	}, nil
}

func (g *githubSource) rawFile(ctx context.Context, repo, branch, filePath string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("%s/repos/%s/contents/%s?ref=%s", githubAPIBase, repo, filePath, branch), nil)
	if err != nil {
		return "", err
	}
	g.setHeaders(req)
	req.Header.Set("Accept", "application/vnd.github.raw+json")

	resp, err := g.client.Do(req)
	if resp == nil {
		return "", newError(KindTransientUpstream, store.TypeGitHub, err, "contents fetch failed")
	}
	defer drain(resp)
	if err != nil || resp.StatusCode != http.StatusOK {
		return "", classifyStatus(store.TypeGitHub, resp.StatusCode, "contents fetch")
	}

	var b strings.Builder
	if _, err := copyBounded(&b, resp.Body, maxGitHubBlobSize); err != nil {
		return "", err
	}
	return b.String(), nil
}

func (g *githubSource) get(ctx context.Context, apiPath string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, githubAPIBase+apiPath, nil)
	if err != nil {
		return err
	}
	g.setHeaders(req)
	return doJSON(g.client, req, out, store.TypeGitHub, apiPath)
}

func (g *githubSource) setHeaders(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+g.cfg.Token)
	req.Header.Set("X-GitHub-Api-Version", "2022-11-28")
}

// binaryExtensions cover assets a tree walk should never embed.
var binaryExtensions = map[string]bool{
	".png": true, ".jpg": true, ".jpeg": true, ".gif": true, ".ico": true,
	".webp": true, ".svg": true, ".pdf": true, ".zip": true, ".tar": true,
	".gz": true, ".bz2": true, ".7z": true, ".exe": true, ".dll": true,
	".so": true, ".dylib": true, ".bin": true, ".woff": true, ".woff2": true,
	".ttf": true, ".eot": true, ".mp3": true, ".mp4": true, ".mov": true,
	".avi": true, ".sqlite": true, ".db": true, ".jar": true, ".class": true,
	".pyc": true, ".wasm": true, ".lock": true,
}

func isBinaryPath(p string) bool {
	return binaryExtensions[strings.ToLower(path.Ext(p))]
}
