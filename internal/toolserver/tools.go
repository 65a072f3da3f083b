package toolserver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	readability "github.com/go-shiori/go-readability"
)

const (
	userAgent    = "tagweave/0.1 (+toolserver)"
	maxBodyBytes = 4 << 20
)

type timeArgs struct {
	Zone string `json:"zone,omitempty" description:"IANA zone name, e.g. Europe/Berlin; empty means UTC"`
}

// timeNow reports the current wall clock, optionally converted to a zone.
func (s *Server) timeNow(ctx context.Context, args map[string]any) (any, error) {
	zone := str(args["zone"])
	loc := time.UTC
	if zone != "" {
		var err error
		loc, err = time.LoadLocation(zone)
		if err != nil {
			return nil, fmt.Errorf("unknown zone %q", zone)
		}
	}
	now := time.Now().In(loc)
	return map[string]any{
		"iso":     now.Format(time.RFC3339),
		"unix":    now.Unix(),
		"zone":    loc.String(),
		"weekday": now.Weekday().String(),
	}, nil
}

type pageArgs struct {
	URL      string `json:"url" description:"http(s) page to fetch"`
	MaxChars int    `json:"max_chars,omitempty" description:"truncate extracted text to this many bytes"`
}

// pageRead fetches a URL and extracts the readable article from it.
func (s *Server) pageRead(ctx context.Context, args map[string]any) (any, error) {
	link := strings.TrimSpace(str(args["url"]))
	if link == "" {
		return nil, errors.New("url is required")
	}
	target, err := url.Parse(link)
	if err != nil || (target.Scheme != "http" && target.Scheme != "https") {
		return nil, fmt.Errorf("unsupported url %q", link)
	}
	maxChars := asInt(args["max_chars"])
	if maxChars <= 0 {
		maxChars = s.maxChars
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, link, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", userAgent)
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", link, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("fetch %s: status %d", link, resp.StatusCode)
	}

	article, err := readability.FromReader(io.LimitReader(resp.Body, maxBodyBytes), target)
	if err != nil {
		return nil, fmt.Errorf("extract %s: %w", link, err)
	}
	text := strings.TrimSpace(article.TextContent)
	truncated := false
	if len(text) > maxChars {
		text = text[:maxChars]
		truncated = true
	}
	return map[string]any{
		"url":       link,
		"title":     strings.TrimSpace(article.Title),
		"byline":    strings.TrimSpace(article.Byline),
		"excerpt":   strings.TrimSpace(article.Excerpt),
		"site_name": article.SiteName,
		"text":      text,
		"truncated": truncated,
	}, nil
}

func str(v any) string { s, _ := v.(string); return s }

func asInt(v any) int {
	switch x := v.(type) {
	case float64:
		return int(x)
	case int:
		return x
	default:
		return 0
	}
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
