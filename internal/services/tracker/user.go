package tracker

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/spellyaohui/NicePT-Helper/internal/utils"
)

var (
	uploadedRegex   = regexp.MustCompile(`上[傳传]量\s*[:：]?\s*([\d,.]+\s*[KMGTP]?i?B)`)
	downloadedRegex = regexp.MustCompile(`下[載载]量\s*[:：]?\s*([\d,.]+\s*[KMGTP]?i?B)`)
	ratioRegex      = regexp.MustCompile(`分享率\s*[:：]?\s*([\d,.]+|∞|Inf)`)
	passkeyRegex    = regexp.MustCompile(`[0-9a-f]{32}`)
)

// FetchAccountStats reads the counters from userdetails.php
func (c *Client) FetchAccountStats(ctx context.Context, uid string) (*UserStats, error) {
	if uid == "" {
		return nil, fmt.Errorf("user id is required")
	}
	query := url.Values{}
	query.Set("id", uid)

	doc, err := c.document(ctx, "userdetails.php", query)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch user details: %w", err)
	}
	stats := parseUserDetails(doc)
	stats.UID = uid
	return stats, nil
}

func parseUserDetails(doc *goquery.Document) *UserStats {
	stats := &UserStats{}

	doc.Find("td.rowhead").Each(func(_ int, head *goquery.Selection) {
		label := cellText(head)
		value := head.NextFiltered("td")
		text := cellText(value)

		switch {
		case hasAny(label, "用户名", "用戶名", "Username"):
			stats.Username = text
		case hasAny(label, "等级", "等級", "Class"):
			stats.UserClass = utils.Normalize(value.Find("img").AttrOr("title", text))
		case hasAny(label, "魔力", "Bonus"):
			stats.Bonus = parseFloat(text)
		case hasAny(label, "分享率", "Ratio"):
			stats.Ratio = parseRatio(text)
		case hasAny(label, "传送", "傳送", "Transfers"):
			parseTransfer(text, stats)
		case hasAny(label, "密钥", "密鑰", "Passkey"):
			stats.Passkey = passkeyRegex.FindString(text)
		}
	})

	// Fall back to scanning the whole page when the rows use other labels
	if stats.Uploaded == 0 && stats.Downloaded == 0 {
		parseTransfer(cellText(doc.Selection), stats)
	}
	if stats.Ratio == 0 {
		if m := ratioRegex.FindStringSubmatch(cellText(doc.Selection)); m != nil {
			stats.Ratio = parseRatio(m[1])
		}
	}
	return stats
}

func parseTransfer(text string, stats *UserStats) {
	if m := uploadedRegex.FindStringSubmatch(text); m != nil {
		stats.Uploaded = utils.ParseSize(m[1])
	}
	if m := downloadedRegex.FindStringSubmatch(text); m != nil {
		stats.Downloaded = utils.ParseSize(m[1])
	}
}

func hasAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// FetchPasskey reads the account passkey from usercp.php
func (c *Client) FetchPasskey(ctx context.Context) (string, error) {
	doc, err := c.document(ctx, "usercp.php", nil)
	if err != nil {
		return "", fmt.Errorf("failed to fetch user panel: %w", err)
	}

	passkey := ""
	doc.Find("td.rowhead").EachWithBreak(func(_ int, head *goquery.Selection) bool {
		if !hasAny(strings.ToLower(cellText(head)), "passkey", "密钥", "密鑰") {
			return true
		}
		value := head.NextFiltered("td")
		if v := value.Find("input").AttrOr("value", ""); v != "" {
			passkey = v
		} else {
			passkey = passkeyRegex.FindString(cellText(value))
		}
		return false
	})
	if passkey == "" {
		passkey = passkeyRegex.FindString(cellText(doc.Selection))
	}
	if passkey == "" {
		return "", fmt.Errorf("passkey not found on user panel")
	}
	return passkey, nil
}
