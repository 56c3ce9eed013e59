package tracker

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"

	"github.com/PuerkitoBio/goquery"
	"github.com/spellyaohui/NicePT-Helper/internal/utils"
)

// FetchHRList reads one status page of the account's H&R table
func (c *Client) FetchHRList(ctx context.Context, status HRStatus) ([]HRItem, error) {
	query := url.Values{}
	query.Set("status", strconv.Itoa(int(status)))

	doc, err := c.document(ctx, "myhr.php", query)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s H&R list: %w", status, err)
	}
	return parseHRTable(doc, status), nil
}

func parseHRTable(doc *goquery.Document, status HRStatus) []HRItem {
	table := doc.Find("table#hr-table").First()
	if table.Length() == 0 {
		table = doc.Find("table").FilterFunction(func(_ int, s *goquery.Selection) bool {
			return s.Find("td.colhead").Length() > 0
		}).First()
	}
	if table.Length() == 0 {
		return nil
	}

	var items []HRItem
	table.Find("tr").Each(func(_ int, row *goquery.Selection) {
		tds := row.ChildrenFiltered("td")
		if tds.Length() < 8 || tds.First().HasClass("colhead") {
			return
		}
		hrID := parseInt(cellText(tds.Eq(0)))
		if hrID <= 0 {
			return
		}

		item := HRItem{
			HRID:             hrID,
			TorrentName:      cellText(tds.Eq(1)),
			Uploaded:         utils.ParseSize(cellText(tds.Eq(2))),
			Downloaded:       utils.ParseSize(cellText(tds.Eq(3))),
			ShareRatio:       parseRatio(cellText(tds.Eq(4))),
			SeedTimeRequired: cellText(tds.Eq(5)),
			CompletedAt:      cellText(tds.Eq(6)),
			InspectTimeLeft:  cellText(tds.Eq(7)),
			Status:           status,
		}
		if link := tds.Eq(1).Find(`a[href*="id="]`).First(); link.Length() > 0 {
			if m := torrentIDRegex.FindStringSubmatch(link.AttrOr("href", "")); m != nil {
				item.TorrentID = m[1]
			}
			if title := utils.Normalize(link.AttrOr("title", "")); title != "" {
				item.TorrentName = title
			} else {
				item.TorrentName = cellText(link)
			}
		}
		if tds.Length() > 8 {
			item.Comment = cellText(tds.Eq(8))
		}
		items = append(items, item)
	})
	return items
}

type pardonResponse struct {
	Ret int    `json:"ret"`
	Msg string `json:"msg"`
}

// RequestPardon asks the tracker to remove an H&R, spending bonus points
// A refusal is returned as *PardonRejectedError carrying the tracker's message.
func (c *Client) RequestPardon(ctx context.Context, hrID int) (string, error) {
	form := url.Values{}
	form.Set("action", "removeHitAndRun")
	form.Set("params[id]", strconv.Itoa(hrID))

	resp, err := c.post(ctx, "ajax.php", form)
	if err != nil {
		return "", fmt.Errorf("pardon request failed: %w", err)
	}

	var result pardonResponse
	if err := json.Unmarshal(resp.body, &result); err != nil {
		return "", fmt.Errorf("failed to decode pardon response: %w", err)
	}
	if result.Ret != 0 {
		return "", &PardonRejectedError{HRID: hrID, Message: result.Msg}
	}
	return result.Msg, nil
}
