package connectors

import (
	"context"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"html"
	"net/http"
	"net/url"
	"regexp"
	"strings"

	"github.com/lorehq/lore/pkg/canonical"
	"github.com/lorehq/lore/pkg/httpclient"
	"github.com/lorehq/lore/pkg/store"
)

// youtubeSource turns configured video URLs into transcript documents.
// Videos have no window semantics; every run visits the full list and
// dedupe makes reruns cheap.
type youtubeSource struct {
	cfg    YouTubeConfig
	client *httpclient.Client
}

func newYouTubeSource(_ context.Context, raw map[string]any) (Source, error) {
	var cfg YouTubeConfig
	if err := decodeConfig(raw, &cfg); err != nil {
		return nil, err
	}
	if len(cfg.VideoURLs) == 0 {
		return nil, newError(KindMissingCredentials, store.TypeYouTubeVideo, nil, "video_urls missing")
	}
	return &youtubeSource{cfg: cfg, client: newHTTPClient()}, nil
}

func (y *youtubeSource) Type() string { return store.TypeYouTubeVideo }

func (y *youtubeSource) FetchWindow(ctx context.Context, cursor Cursor, _ Window) ([]RawItem, Cursor, error) {
	index := 0
	if cursor.PageToken != "" {
		fmt.Sscanf(cursor.PageToken, "%d", &index)
	}
	if index >= len(y.cfg.VideoURLs) {
		return nil, Cursor{}, nil
	}

	videoURL := y.cfg.VideoURLs[index]
	next := Cursor{}
	if index+1 < len(y.cfg.VideoURLs) {
		next = Cursor{PageToken: fmt.Sprintf("%d", index+1), HasMore: true}
	}

	// One bad video fails that item alone. The error rides the item so
	// the orchestrator logs it as progress and moves on to the rest of
	// the list.
	videoID, err := ParseVideoID(videoURL)
	if err != nil {
		return []RawItem{{ID: videoURL, Title: videoURL, Data: err}}, next, nil
	}
	title, transcript, err := y.fetchTranscript(ctx, videoID)
	if err != nil {
		return []RawItem{{ID: videoID, Title: videoURL, Data: err}}, next, nil
	}

	item := RawItem{
		ID:    videoID,
		Title: title,
		Data:  youtubeVideoDoc{VideoID: videoID, URL: videoURL, Title: title, Transcript: transcript},
	}
	return []RawItem{item}, next, nil
}

type youtubeVideoDoc struct {
	VideoID    string
	URL        string
	Title      string
	Transcript string
}

func (y *youtubeSource) ToCanonical(item RawItem) (*canonical.Document, error) {
	if err, ok := item.Data.(error); ok {
		return nil, err
	}
	data, ok := item.Data.(youtubeVideoDoc)
	if !ok {
		return nil, fmt.Errorf("unexpected youtube item payload %T", item.Data)
	}
	return &canonical.Document{
		Title:    data.Title,
		Type:     store.TypeYouTubeVideo,
		SourceID: data.VideoID,
		Metadata: map[string]string{
			"VIDEO_ID":  data.VideoID,
			"VIDEO_URL": data.URL,
		},
		Body: data.Transcript,
	}, nil
}

var (
	captionTracksRE = regexp.MustCompile(`"captionTracks":(\[.*?\])`)
	videoTitleRE    = regexp.MustCompile(`<title>(.*?)</title>`)
)

// fetchTranscript scrapes the watch page for caption tracks and pulls
// the first one as timed text.
func (y *youtubeSource) fetchTranscript(ctx context.Context, videoID string) (string, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "https://www.youtube.com/watch?v="+videoID, nil)
	if err != nil {
		return "", "", err
	}
	req.Header.Set("Accept-Language", "en")

	resp, err := y.client.Do(req)
	if resp == nil {
		return "", "", newError(KindTransientUpstream, store.TypeYouTubeVideo, err, "watch page fetch failed")
	}
	if err != nil || resp.StatusCode != http.StatusOK {
		status := resp.StatusCode
		drain(resp)
		return "", "", classifyStatus(store.TypeYouTubeVideo, status, "watch page fetch")
	}
	var page strings.Builder
	if _, err := copyBounded(&page, resp.Body, 4<<20); err != nil {
		drain(resp)
		return "", "", err
	}
	drain(resp)
	body := page.String()

	title := videoID
	if m := videoTitleRE.FindStringSubmatch(body); len(m) == 2 {
		title = strings.TrimSuffix(html.UnescapeString(m[1]), " - YouTube")
	}

	m := captionTracksRE.FindStringSubmatch(body)
	if len(m) != 2 {
		return "", "", newError(KindUnknown, store.TypeYouTubeVideo, nil, "no captions for "+videoID)
	}
	var tracks []struct {
		BaseURL      string `json:"baseUrl"`
		LanguageCode string `json:"languageCode"`
	}
	if err := json.Unmarshal([]byte(m[1]), &tracks); err != nil || len(tracks) == 0 {
		return "", "", newError(KindUnknown, store.TypeYouTubeVideo, err, "no usable caption track for "+videoID)
	}

	// Prefer English, fall back to the first track.
	baseURL := tracks[0].BaseURL
	for _, track := range tracks {
		if strings.HasPrefix(track.LanguageCode, "en") {
			baseURL = track.BaseURL
			break
		}
	}

	transcript, err := y.fetchTimedText(ctx, baseURL)
	if err != nil {
		return "", "", err
	}
	return title, transcript, nil
}

type timedText struct {
	Texts []struct {
		Start float64 `xml:"start,attr"`
		Dur   float64 `xml:"dur,attr"`
		Value string  `xml:",chardata"`
	} `xml:"text"`
}

func (y *youtubeSource) fetchTimedText(ctx context.Context, baseURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, html.UnescapeString(baseURL), nil)
	if err != nil {
		return "", err
	}
	resp, err := y.client.Do(req)
	if resp == nil {
		return "", newError(KindTransientUpstream, store.TypeYouTubeVideo, err, "timedtext fetch failed")
	}
	if err != nil || resp.StatusCode != http.StatusOK {
		status := resp.StatusCode
		drain(resp)
		return "", classifyStatus(store.TypeYouTubeVideo, status, "timedtext fetch")
	}
	var raw strings.Builder
	if _, err := copyBounded(&raw, resp.Body, 4<<20); err != nil {
		drain(resp)
		return "", err
	}
	drain(resp)

	var parsed timedText
	if err := xml.Unmarshal([]byte(raw.String()), &parsed); err != nil {
		return "", fmt.Errorf("parse timedtext: %w", err)
	}

	lines := make([]string, 0, len(parsed.Texts))
	for _, segment := range parsed.Texts {
		text := strings.TrimSpace(html.UnescapeString(segment.Value))
		if text == "" {
			continue
		}
		lines = append(lines, fmt.Sprintf("[%.2f-%.2f] %s", segment.Start, segment.Start+segment.Dur, text))
	}
	return strings.Join(lines, "\n"), nil
}

// ParseVideoID extracts the video id from the URL forms YouTube serves:
// watch?v=, youtu.be/, shorts/, embed/.
func ParseVideoID(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("invalid video url %q: %w", rawURL, err)
	}
	if v := u.Query().Get("v"); v != "" {
		return v, nil
	}

	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	if u.Host == "youtu.be" && len(parts) > 0 && parts[0] != "" {
		return parts[0], nil
	}
	if len(parts) >= 2 && (parts[0] == "shorts" || parts[0] == "embed" || parts[0] == "live") {
		return parts[1], nil
	}
	return "", fmt.Errorf("no video id in url %q", rawURL)
}
