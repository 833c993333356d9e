package crawl

import (
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"

	"github.com/sells-group/agent-pipeline/internal/model"
)

const chunkSeparator = "\n\n"

// AggregateOptions are the character budgets of Aggregate, counted in runes.
type AggregateOptions struct {
	PerPageChars int
	TotalChars   int
}

// DefaultAggregateOptions returns budgets of 15k characters per page and
// 60k in total.
func DefaultAggregateOptions() AggregateOptions {
	return AggregateOptions{PerPageChars: 15000, TotalChars: 60000}
}

// Aggregate merges fetched pages home-first into one bounded text. Each
// page is truncated to the per-page budget and prefixed with a provenance
// header; the whole text is then cut to the total budget. Truncation is
// silent.
func Aggregate(results []model.PageFetchResult, opts AggregateOptions) model.AggregatedContent {
	def := DefaultAggregateOptions()
	if opts.PerPageChars <= 0 {
		opts.PerPageChars = def.PerPageChars
	}
	if opts.TotalChars <= 0 {
		opts.TotalChars = def.TotalChars
	}

	ordered := make([]model.PageFetchResult, len(results))
	copy(ordered, results)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Tier < ordered[j].Tier
	})

	var out model.AggregatedContent
	var b strings.Builder
	remaining := opts.TotalChars

	for _, page := range ordered {
		if remaining <= 0 {
			out.Truncated = true
			break
		}

		body, cut := truncateRunes(pageBody(page), opts.PerPageChars)
		block := header(page) + "\n" + body
		if b.Len() > 0 {
			block = chunkSeparator + block
		}

		blockLen := utf8.RuneCountInString(block)
		chunk := model.ContentChunk{
			URL:       page.URL,
			PageType:  page.PageType,
			Chars:     utf8.RuneCountInString(body),
			Truncated: cut,
		}
		if blockLen > remaining {
			block, _ = truncateRunes(block, remaining)
			bodyKept := remaining - (blockLen - chunk.Chars)
			chunk.Chars = max(bodyKept, 0)
			chunk.Truncated = true
			blockLen = remaining
		}

		b.WriteString(block)
		remaining -= blockLen
		out.Chunks = append(out.Chunks, chunk)
		if chunk.Truncated {
			out.Truncated = true
		}
	}

	out.Text = b.String()
	return out
}

func header(page model.PageFetchResult) string {
	return fmt.Sprintf("=== %s (%s) ===", strings.ToUpper(string(page.PageType)), page.URL)
}

// pageBody is the NFC-normalized page text. Headings and calls to action
// lead the body so a long page cannot push them past its budget.
func pageBody(page model.PageFetchResult) string {
	var b strings.Builder
	if len(page.Headings) > 0 {
		b.WriteString("Headings: ")
		b.WriteString(strings.Join(page.Headings, " | "))
		b.WriteString("\n")
	}
	if len(page.CTAs) > 0 {
		b.WriteString("Calls to action: ")
		b.WriteString(strings.Join(page.CTAs, " | "))
		b.WriteString("\n")
	}
	if b.Len() > 0 {
		b.WriteString("\n")
	}
	b.WriteString(strings.TrimSpace(page.Content))
	return norm.NFC.String(b.String())
}

// truncateRunes cuts s to at most n runes and reports whether it cut.
func truncateRunes(s string, n int) (string, bool) {
	if n <= 0 {
		return "", s != ""
	}
	if utf8.RuneCountInString(s) <= n {
		return s, false
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos], true
		}
		i++
	}
	return s, false
}
