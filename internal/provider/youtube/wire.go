package youtube

import (
	"encoding/json"
	"strconv"
	"time"
)

// count is a statistics counter the platform encodes as a JSON string.
type count string

func (c count) Int() int64 {
	n, _ := strconv.ParseInt(string(c), 10, 64)
	return n
}

// UnmarshalJSON accepts both quoted and bare numbers.
func (c *count) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*c = count(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*c = count(n.String())
	return nil
}

type snippet struct {
	Title        string    `json:"title"`
	Description  string    `json:"description"`
	ChannelID    string    `json:"channelId"`
	ChannelTitle string    `json:"channelTitle"`
	PublishedAt  time.Time `json:"publishedAt"`
}

type searchResponse struct {
	Items []struct {
		ID struct {
			VideoID string `json:"videoId"`
		} `json:"id"`
		Snippet snippet `json:"snippet"`
	} `json:"items"`
}

type videosResponse struct {
	Items []struct {
		ID         string  `json:"id"`
		Snippet    snippet `json:"snippet"`
		Statistics struct {
			ViewCount    count `json:"viewCount"`
			LikeCount    count `json:"likeCount"`
			CommentCount count `json:"commentCount"`
		} `json:"statistics"`
	} `json:"items"`
}

type channelsResponse struct {
	Items []struct {
		ID         string  `json:"id"`
		Snippet    snippet `json:"snippet"`
		Statistics struct {
			SubscriberCount count `json:"subscriberCount"`
			ViewCount       count `json:"viewCount"`
			VideoCount      count `json:"videoCount"`
		} `json:"statistics"`
	} `json:"items"`
}

type commentThreadsResponse struct {
	Items []struct {
		ID      string `json:"id"`
		Snippet struct {
			VideoID         string `json:"videoId"`
			TotalReplyCount int64  `json:"totalReplyCount"`
			TopLevelComment struct {
				ID      string `json:"id"`
				Snippet struct {
					AuthorDisplayName string    `json:"authorDisplayName"`
					TextDisplay       string    `json:"textDisplay"`
					TextOriginal      string    `json:"textOriginal"`
					LikeCount         int64     `json:"likeCount"`
					PublishedAt       time.Time `json:"publishedAt"`
				} `json:"snippet"`
			} `json:"topLevelComment"`
		} `json:"snippet"`
	} `json:"items"`
}

type errorResponse struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Errors  []struct {
			Reason string `json:"reason"`
		} `json:"errors"`
	} `json:"error"`
}
