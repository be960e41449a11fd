// Package metadata は動画ソースのタイトルと投稿者を取得する。
// YouTubeはoEmbedを優先し、それ以外や失敗時はページのHTMLとフィードから推定する。
package metadata

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/mmcdole/gofeed"
	"golang.org/x/net/html/charset"
)

const (
	// defaultOEmbedEndpoint はYouTubeのoEmbedエンドポイント。
	defaultOEmbedEndpoint = "https://www.youtube.com/oembed"
	// maxBodySize はページ・フィード本文の読み取り上限（2MB）。
	maxBodySize = 2 << 20
	userAgent   = "ContentForge/1.0 (+metadata)"
)

// ErrNoMetadata はタイトル・投稿者のいずれも取得できなかったことを表す。
var ErrNoMetadata = errors.New("metadata: no title or author found")

// Metadata はソースの表示用情報。
type Metadata struct {
	Title  string
	Author string
}

// Fetcher はソースURLのメタデータ取得を行う。
type Fetcher struct {
	httpClient     *http.Client
	logger         *slog.Logger
	oembedEndpoint string // テスト用にエンドポイントを差し替え可能
}

// NewFetcher はFetcherを生成する。
// httpClientには本番ではSSRF対策済みのクライアントを渡す。
func NewFetcher(httpClient *http.Client, logger *slog.Logger) *Fetcher {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Fetcher{
		httpClient:     httpClient,
		logger:         logger,
		oembedEndpoint: defaultOEmbedEndpoint,
	}
}

// WithOEmbedEndpoint はoEmbedエンドポイントを差し替えたFetcherを返す。
func (f *Fetcher) WithOEmbedEndpoint(endpoint string) *Fetcher {
	cp := *f
	cp.oembedEndpoint = endpoint
	return &cp
}

// Fetch はソースURLのメタデータを取得する。
func (f *Fetcher) Fetch(ctx context.Context, sourceURL string) (Metadata, error) {
	if isYouTubeURL(sourceURL) {
		md, err := f.fetchOEmbed(ctx, sourceURL)
		if err == nil {
			return md, nil
		}
		f.logger.Warn("oEmbedの取得に失敗したためページ解析にフォールバックします",
			slog.String("source_url", sourceURL),
			slog.String("error", err.Error()),
		)
	}
	return f.scrapePage(ctx, sourceURL)
}

type oembedResponse struct {
	Title      string `json:"title"`
	AuthorName string `json:"author_name"`
}

func (f *Fetcher) fetchOEmbed(ctx context.Context, sourceURL string) (Metadata, error) {
	reqURL, err := url.Parse(f.oembedEndpoint)
	if err != nil {
		return Metadata{}, fmt.Errorf("エンドポイントURLのパースに失敗しました: %w", err)
	}
	q := reqURL.Query()
	q.Set("url", sourceURL)
	q.Set("format", "json")
	reqURL.RawQuery = q.Encode()

	body, _, err := f.get(ctx, reqURL.String())
	if err != nil {
		return Metadata{}, err
	}

	var parsed oembedResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return Metadata{}, fmt.Errorf("oEmbedレスポンスのパースに失敗しました: %w", err)
	}
	md := Metadata{
		Title:  strings.TrimSpace(parsed.Title),
		Author: strings.TrimSpace(parsed.AuthorName),
	}
	if md.Title == "" && md.Author == "" {
		return Metadata{}, ErrNoMetadata
	}
	return md, nil
}

func (f *Fetcher) scrapePage(ctx context.Context, sourceURL string) (Metadata, error) {
	body, contentType, err := f.get(ctx, sourceURL)
	if err != nil {
		return Metadata{}, err
	}
	if !isHTML(contentType) {
		return Metadata{}, fmt.Errorf("HTMLではないコンテンツです: %s", contentType)
	}

	reader, err := charset.NewReader(bytes.NewReader(body), contentType)
	if err != nil {
		return Metadata{}, fmt.Errorf("文字コードの判定に失敗しました: %w", err)
	}
	doc, err := goquery.NewDocumentFromReader(reader)
	if err != nil {
		return Metadata{}, fmt.Errorf("HTMLのパースに失敗しました: %w", err)
	}

	md := Metadata{
		Title:  firstNonEmpty(metaContent(doc, `meta[property="og:title"]`), doc.Find("title").First().Text()),
		Author: findAuthor(doc),
	}

	if md.Author == "" {
		if feedURL := findFeedLink(doc, sourceURL); feedURL != "" {
			author, err := f.feedAuthor(ctx, feedURL)
			if err != nil {
				f.logger.Warn("フィードからの投稿者取得に失敗しました",
					slog.String("feed_url", feedURL),
					slog.String("error", err.Error()),
				)
			}
			md.Author = author
		}
	}

	if md.Title == "" && md.Author == "" {
		return Metadata{}, ErrNoMetadata
	}
	return md, nil
}

// feedAuthor はRSS/Atomフィードから投稿者名を取得する。
// 投稿者が無い場合はチャンネル名としてフィードのタイトルを使う。
func (f *Fetcher) feedAuthor(ctx context.Context, feedURL string) (string, error) {
	body, _, err := f.get(ctx, feedURL)
	if err != nil {
		return "", err
	}
	feed, err := gofeed.NewParser().ParseString(string(body))
	if err != nil {
		return "", fmt.Errorf("フィードのパースに失敗しました: %w", err)
	}
	if feed.Author != nil && strings.TrimSpace(feed.Author.Name) != "" {
		return strings.TrimSpace(feed.Author.Name), nil
	}
	for _, p := range feed.Authors {
		if p != nil && strings.TrimSpace(p.Name) != "" {
			return strings.TrimSpace(p.Name), nil
		}
	}
	return strings.TrimSpace(feed.Title), nil
}

func (f *Fetcher) get(ctx context.Context, rawURL string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, "", fmt.Errorf("HTTPリクエストの作成に失敗しました: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("HTTPリクエストに失敗しました: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("ステータス %d が返されました: %s", resp.StatusCode, rawURL)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, "", fmt.Errorf("レスポンスボディの読み取りに失敗しました: %w", err)
	}
	return body, resp.Header.Get("Content-Type"), nil
}

func findAuthor(doc *goquery.Document) string {
	return firstNonEmpty(
		metaContent(doc, `meta[name="author"]`),
		metaContent(doc, `meta[property="article:author"]`),
		// YouTubeの動画ページはitemprop=authorの中にチャンネル名を持つ
		doc.Find(`[itemprop="author"] link[itemprop="name"]`).First().AttrOr("content", ""),
	)
}

func findFeedLink(doc *goquery.Document, base string) string {
	var found string
	doc.Find(`link[rel="alternate"]`).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		t := strings.ToLower(s.AttrOr("type", ""))
		if t != "application/rss+xml" && t != "application/atom+xml" {
			return true
		}
		href := strings.TrimSpace(s.AttrOr("href", ""))
		if href == "" {
			return true
		}
		found = resolveURL(base, href)
		return found == ""
	})
	return found
}

func metaContent(doc *goquery.Document, selector string) string {
	return strings.TrimSpace(doc.Find(selector).First().AttrOr("content", ""))
}

func resolveURL(base, href string) string {
	b, err := url.Parse(base)
	if err != nil {
		return ""
	}
	ref, err := url.Parse(href)
	if err != nil {
		return ""
	}
	return b.ResolveReference(ref).String()
}

func isHTML(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return mediaType == "text/html" || mediaType == "application/xhtml+xml"
}

func isYouTubeURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	host := strings.ToLower(u.Hostname())
	return host == "youtu.be" || host == "youtube.com" || strings.HasSuffix(host, ".youtube.com")
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if t := strings.TrimSpace(v); t != "" {
			return t
		}
	}
	return ""
}
