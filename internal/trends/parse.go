package trends

import (
	"io"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"

	"github.com/ibeckermayer/notedraft/internal/types"
)

const searchLink = `a[href*="twitter.com/search"]`

var tweetCountRE = regexp.MustCompile(`(\d+(?:,\d+)*)\s*件のツイート`)

// Link texts that are navigation chrome rather than trends.
var skipKeywords = map[string]bool{
	"ツイート":   true,
	"Tweet":  true,
	"検索":     true,
	"Search": true,
}

// Parse extracts up to limit trends from a twittrend comparison page. Rows of
// the first (Japan) column come first; bare search links top up the list.
func Parse(r io.Reader, limit int) ([]types.Trend, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, err
	}

	var (
		out  []types.Trend
		seen = make(map[string]bool)
	)
	add := func(t types.Trend) bool {
		if t.Keyword == "" || seen[t.Keyword] {
			return len(out) < limit
		}
		seen[t.Keyword] = true
		out = append(out, t)
		return len(out) < limit
	}

	doc.Find("table tr").EachWithBreak(func(i int, row *goquery.Selection) bool {
		if i == 0 {
			return true
		}
		cell := row.Find("td").First()
		link := cell.Find(searchLink).First()
		if link.Length() == 0 {
			return true
		}
		t := types.Trend{Keyword: cleanKeyword(link.Text())}
		if m := tweetCountRE.FindStringSubmatch(cell.Text()); m != nil {
			if n, err := strconv.Atoi(strings.ReplaceAll(m[1], ",", "")); err == nil {
				t.Weight = &n
			}
		}
		return add(t)
	})

	if len(out) < limit {
		doc.Find(searchLink).EachWithBreak(func(_ int, link *goquery.Selection) bool {
			kw := cleanKeyword(link.Text())
			if utf8.RuneCountInString(kw) > 100 || skipKeywords[kw] {
				return true
			}
			return add(types.Trend{Keyword: kw})
		})
	}
	return out, nil
}

func cleanKeyword(s string) string {
	return strings.TrimSpace(strings.ReplaceAll(strings.TrimSpace(s), "#", ""))
}
