package catalogapi

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
)

type listResponse struct {
	Code      int       `json:"code"`
	Page      flexInt   `json:"page"`
	PageCount flexInt   `json:"pagecount"`
	List      []vodItem `json:"list"`
}

type vodItem struct {
	ID       flexString `json:"vod_id"`
	Name     string     `json:"vod_name"`
	Pic      string     `json:"vod_pic"`
	PlayURL  string     `json:"vod_play_url"`
	PlayFrom string     `json:"vod_play_from"`
	Year     flexString `json:"vod_year"`
	Content  string     `json:"vod_content"`
	TypeName string     `json:"type_name"`
	Remarks  string     `json:"vod_remarks"`
	DoubanID flexInt    `json:"vod_douban_id"`
}

// flexString accepts both JSON strings and numbers; catalog APIs disagree on ids.
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*f = ""
		return nil
	}
	if data[0] == '"' {
		var value string
		if err := json.Unmarshal(data, &value); err != nil {
			return err
		}
		*f = flexString(strings.TrimSpace(value))
		return nil
	}
	*f = flexString(string(data))
	return nil
}

type flexInt int

func (f *flexInt) UnmarshalJSON(data []byte) error {
	var raw flexString
	if err := raw.UnmarshalJSON(data); err != nil {
		return err
	}
	value, err := strconv.Atoi(string(raw))
	if err != nil {
		*f = 0
		return nil
	}
	*f = flexInt(value)
	return nil
}

const (
	sourceSeparator  = "$$$"
	episodeSeparator = "#"
	titleSeparator   = "$"
)

// parsePlayList picks the play source with the most HLS episodes. When no
// source carries HLS links the first source with any http link is used.
func parsePlayList(raw string) (episodes, titles []string) {
	var fallbackEpisodes, fallbackTitles []string
	for _, source := range strings.Split(raw, sourceSeparator) {
		var hlsEpisodes, hlsTitles, httpEpisodes, httpTitles []string
		for index, item := range strings.Split(source, episodeSeparator) {
			item = strings.TrimSpace(item)
			if item == "" {
				continue
			}
			title, link := splitEpisode(item, index)
			if !strings.HasPrefix(link, "http://") && !strings.HasPrefix(link, "https://") {
				continue
			}
			httpEpisodes = append(httpEpisodes, link)
			httpTitles = append(httpTitles, title)
			if isHLS(link) {
				hlsEpisodes = append(hlsEpisodes, link)
				hlsTitles = append(hlsTitles, title)
			}
		}
		if len(hlsEpisodes) > len(episodes) {
			episodes, titles = hlsEpisodes, hlsTitles
		}
		if fallbackEpisodes == nil && len(httpEpisodes) > 0 {
			fallbackEpisodes, fallbackTitles = httpEpisodes, httpTitles
		}
	}
	if len(episodes) == 0 {
		episodes, titles = fallbackEpisodes, fallbackTitles
	}
	if episodes == nil {
		return []string{}, []string{}
	}
	return episodes, titles
}

func splitEpisode(item string, index int) (title, link string) {
	if before, after, found := strings.Cut(item, titleSeparator); found {
		title = strings.TrimSpace(before)
		link = strings.TrimSpace(after)
	} else {
		link = item
	}
	if title == "" {
		title = strconv.Itoa(index + 1)
	}
	return title, link
}

func isHLS(link string) bool {
	path := strings.ToLower(link)
	if pos := strings.IndexAny(path, "?#"); pos >= 0 {
		path = path[:pos]
	}
	return strings.HasSuffix(path, ".m3u8")
}
