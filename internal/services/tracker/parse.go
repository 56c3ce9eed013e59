package tracker

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/spellyaohui/NicePT-Helper/internal/utils"
)

// Site times are rendered in China Standard Time
var siteZone = time.FixedZone("CST", 8*60*60)

const siteTimeLayout = "2006-01-02 15:04:05"

var (
	torrentIDRegex = regexp.MustCompile(`id=(\d+)`)
	categoryRegex  = regexp.MustCompile(`[?&]cat=(\d+)`)
	dateTimeRegex  = regexp.MustCompile(`\d{4}-\d{2}-\d{2} \d{2}:\d{2}(:\d{2})?`)
	numberRegex    = regexp.MustCompile(`-?[\d,]+(\.\d+)?`)
)

// Discount classes in priority order; pro_free2up must be checked before pro_free
var discountClasses = []struct {
	selector string
	discount string
}{
	{".pro_free2up", "twoupfree"},
	{".pro_free", "free"},
	{".pro_2up", "twoup"},
	{".pro_50pctdown2up", "twouphalfdown"},
	{".pro_50pctdown", "halfdown"},
	{".pro_30pctdown", "thirtypercent"},
	{".pro_custom", "custom"},
	{"font.free", "free"},
}

func parseSiteTime(s string) (time.Time, bool) {
	m := dateTimeRegex.FindString(utils.Normalize(s))
	if m == "" {
		return time.Time{}, false
	}
	layout := siteTimeLayout
	if len(m) == len("2006-01-02 15:04") {
		layout = "2006-01-02 15:04"
	}
	t, err := time.ParseInLocation(layout, m, siteZone)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

func parseInt(s string) int {
	m := numberRegex.FindString(utils.Normalize(s))
	if m == "" {
		return 0
	}
	n, err := strconv.ParseFloat(strings.ReplaceAll(m, ",", ""), 64)
	if err != nil {
		return 0
	}
	return int(n)
}

func parseFloat(s string) float64 {
	m := numberRegex.FindString(utils.Normalize(s))
	if m == "" {
		return 0
	}
	f, err := strconv.ParseFloat(strings.ReplaceAll(m, ",", ""), 64)
	if err != nil {
		return 0
	}
	return f
}

// parseRatio returns -1 for an infinite ratio
func parseRatio(s string) float64 {
	s = utils.Normalize(s)
	if strings.Contains(s, "∞") || strings.EqualFold(s, "inf") {
		return -1
	}
	return parseFloat(s)
}

func cellText(s *goquery.Selection) string {
	return utils.Normalize(s.Text())
}

// parseTorrentTable reads a NexusPHP torrents listing (torrents.php, bookmarks.php)
func parseTorrentTable(doc *goquery.Document) []Torrent {
	var torrents []Torrent
	doc.Find("table.torrents > tbody > tr, table.torrents > tr").Each(func(_ int, row *goquery.Selection) {
		if t, ok := parseTorrentRow(row); ok {
			torrents = append(torrents, t)
		}
	})
	return torrents
}

func parseTorrentRow(row *goquery.Selection) (Torrent, bool) {
	tds := row.ChildrenFiltered("td")
	if tds.Length() < 9 {
		return Torrent{}, false
	}

	titleCell := tds.Eq(1)
	link := titleCell.Find(`a[href*="details.php?id="]`).First()
	if link.Length() == 0 {
		return Torrent{}, false
	}
	href, _ := link.Attr("href")
	idMatch := torrentIDRegex.FindStringSubmatch(href)
	if idMatch == nil {
		return Torrent{}, false
	}

	t := Torrent{
		ID:    idMatch[1],
		Title: utils.Normalize(link.AttrOr("title", link.Text())),
	}
	if t.Title == "" {
		t.Title = cellText(link)
	}
	t.Subtitle = parseSubtitle(titleCell)

	category := tds.Eq(0).Find(`a[href*="cat="]`).First()
	if m := categoryRegex.FindStringSubmatch(category.AttrOr("href", "")); m != nil {
		t.CategoryID, _ = strconv.Atoi(m[1])
	}
	t.Category = utils.Normalize(category.Find("img").AttrOr("alt", ""))

	t.Discount, t.DiscountEnd = parseDiscount(titleCell)
	t.HasHR = titleCell.Find("img.hitandrun").Length() > 0

	if span := tds.Eq(3).Find("span[title]").First(); span.Length() > 0 {
		t.UploadedAt, _ = parseSiteTime(span.AttrOr("title", ""))
	}
	if t.UploadedAt.IsZero() {
		t.UploadedAt, _ = parseSiteTime(cellText(tds.Eq(3)))
	}

	t.Size = utils.ParseSize(cellText(tds.Eq(4)))
	t.Seeders = parseInt(cellText(tds.Eq(5)))
	t.Leechers = parseInt(cellText(tds.Eq(6)))
	t.Completions = parseInt(cellText(tds.Eq(7)))
	t.Uploader = cellText(tds.Eq(8))

	return t, true
}

// parseSubtitle returns the first text after the title's line break
func parseSubtitle(cell *goquery.Selection) string {
	container := cell.Find("td.embedded").First()
	if container.Length() == 0 {
		container = cell
	}
	afterBreak := false
	subtitle := ""
	container.Contents().EachWithBreak(func(_ int, node *goquery.Selection) bool {
		if goquery.NodeName(node) == "br" {
			afterBreak = true
			return true
		}
		if !afterBreak {
			return true
		}
		if text := utils.Normalize(node.Text()); len([]rune(text)) > 1 {
			subtitle = text
			return false
		}
		return true
	})
	return subtitle
}

func parseDiscount(cell *goquery.Selection) (string, *time.Time) {
	discount := ""
	for _, dc := range discountClasses {
		if cell.Find(dc.selector).Length() > 0 {
			discount = dc.discount
			break
		}
	}
	if discount == "" {
		return "", nil
	}

	var end *time.Time
	cell.Find("span[title]").EachWithBreak(func(_ int, span *goquery.Selection) bool {
		if t, ok := parseSiteTime(span.AttrOr("title", "")); ok {
			end = &t
			return false
		}
		return true
	})
	return discount, end
}
