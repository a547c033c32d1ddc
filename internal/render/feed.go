package render

import (
	"bytes"
	"encoding/xml"
	"time"

	"github.com/davidsbond/blog/internal/content"
	"github.com/davidsbond/blog/internal/site"
)

// RSS 2.0 feed. Posts arrive newest first from the content store, which is
// the order feed readers expect.

type rssFeed struct {
	XMLName xml.Name   `xml:"rss"`
	Version string     `xml:"version,attr"`
	Channel rssChannel `xml:"channel"`
}

type rssChannel struct {
	Title       string    `xml:"title"`
	Link        string    `xml:"link"`
	Description string    `xml:"description"`
	Language    string    `xml:"language,omitempty"`
	Copyright   string    `xml:"copyright,omitempty"`
	Items       []rssItem `xml:"item"`
}

type rssItem struct {
	Title   string `xml:"title"`
	Link    string `xml:"link"`
	GUID    string `xml:"guid"`
	PubDate string `xml:"pubDate,omitempty"`
}

func renderFeed(cfg *site.Config, posts []content.Post) ([]byte, error) {
	description := ""
	if v, ok := cfg.Params["description"].(string); ok {
		description = v
	}

	feed := rssFeed{
		Version: "2.0",
		Channel: rssChannel{
			Title:       cfg.Title,
			Link:        cfg.BaseURL,
			Description: description,
			Language:    cfg.LanguageCode,
			Copyright:   cfg.Copyright,
		},
	}

	for i := range posts {
		p := &posts[i]
		link := PermalinkFor(cfg, p)
		item := rssItem{
			Title: p.Title,
			Link:  link,
			GUID:  link,
		}
		if !p.Date.IsZero() {
			item.PubDate = p.Date.Format(time.RFC1123Z)
		}
		feed.Channel.Items = append(feed.Channel.Items, item)
	}

	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	enc := xml.NewEncoder(&buf)
	enc.Indent("", "  ")
	if err := enc.Encode(feed); err != nil {
		return nil, err
	}
	buf.WriteByte('\n')
	return buf.Bytes(), nil
}
