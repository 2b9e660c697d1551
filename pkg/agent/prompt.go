package agent

import (
	"fmt"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"
	"github.com/pkoukk/tiktoken-go"

	"github.com/odvcencio/pilot/pkg/browser"
)

const systemPrompt = `You are a browser automation agent. Each turn you see the current page
and decide the next actions. Reply with a single JSON object, no prose,
using exactly this shape:

{
  "thinking": "your reasoning for this step",
  "evaluation_previous_goal": "how the previous goal went, empty on the first step",
  "memory": "short notes worth carrying forward",
  "next_goal": "what this step should achieve",
  "actions": [{"name": "...", "params": {...}}]
}

Available actions:
- navigate  params: {"url": "https://..."}
- click     params: {"index": N}           click interactive element N
- type      params: {"index": N, "text": "..."}
- scroll    params: {"delta": N}           positive scrolls down
- key       params: {"key": "Enter"}
- extract   params: {"query": "what to look for"}   read the page text
- done      params: {"text": "final answer", "success": true}

Interactive elements are listed as [index] <tag> label. Finish with the
done action as soon as the task is complete.`

// maxPromptTokens bounds the per-step prompt; the page summary is the
// part that gets trimmed when a page is huge.
const maxPromptTokens = 6000

const maxSummaryElements = 120

var (
	encodingOnce sync.Once
	encoding     *tiktoken.Tiktoken
)

// tokenCount measures text against the cl100k vocabulary, falling back
// to a bytes/4 estimate when the encoding is unavailable.
func tokenCount(text string) int {
	encodingOnce.Do(func() {
		enc, err := tiktoken.GetEncoding("cl100k_base")
		if err == nil {
			encoding = enc
		}
	})
	if encoding == nil {
		return len(text) / 4
	}
	return len(encoding.Encode(text, nil, nil))
}

// summarizePage lists the page's interactive elements, indexed in
// document order. The same selector drives input dispatch, so an index
// the model picks here addresses the element it saw.
func summarizePage(html string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "(page summary unavailable)"
	}

	var b strings.Builder
	count := 0
	doc.Find(browser.InteractiveSelector).EachWithBreak(func(i int, sel *goquery.Selection) bool {
		if count >= maxSummaryElements {
			b.WriteString("... more elements omitted\n")
			return false
		}
		count++
		fmt.Fprintf(&b, "[%d] <%s>%s\n", i, goquery.NodeName(sel), elementLabel(sel))
		return true
	})
	if count == 0 {
		return "(no interactive elements found)"
	}
	return b.String()
}

func elementLabel(sel *goquery.Selection) string {
	label := strings.Join(strings.Fields(sel.Text()), " ")
	if label == "" {
		for _, attr := range []string{"aria-label", "placeholder", "value", "title", "alt", "name"} {
			if v, ok := sel.Attr(attr); ok && strings.TrimSpace(v) != "" {
				label = strings.TrimSpace(v)
				break
			}
		}
	}
	if href, ok := sel.Attr("href"); ok && href != "" && len(label) < 60 {
		label = strings.TrimSpace(label + " -> " + href)
	}
	if label == "" {
		return ""
	}
	return " " + clip(label, 80)
}

// pageText extracts the readable text of the page for extract actions.
func pageText(html string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return ""
	}
	doc.Find("script, style, noscript").Remove()
	body := doc.Find("body")
	if body.Length() == 0 {
		return strings.Join(strings.Fields(doc.Text()), " ")
	}
	return strings.Join(strings.Fields(body.Text()), " ")
}

// buildStepPrompt assembles the per-step user prompt, trimming the page
// summary until the whole prompt fits the token budget.
func buildStepPrompt(task string, info browser.PageInfo, summary, digest string, step, maxSteps int) string {
	render := func(sum string) string {
		var b strings.Builder
		fmt.Fprintf(&b, "Task: %s\n\n", task)
		fmt.Fprintf(&b, "Step %d of %d\n", step, maxSteps)
		if info.URL != "" {
			fmt.Fprintf(&b, "Current page: %s", info.URL)
			if info.Title != "" {
				fmt.Fprintf(&b, " (%s)", info.Title)
			}
			b.WriteString("\n")
		}
		if digest != "" {
			fmt.Fprintf(&b, "\nProgress so far:\n%s\n", digest)
		}
		fmt.Fprintf(&b, "\nInteractive elements:\n%s\n", sum)
		b.WriteString("\nRespond with the JSON object for this step.")
		return b.String()
	}

	prompt := render(summary)
	for tokenCount(prompt) > maxPromptTokens && len(summary) > 500 {
		summary = clip(summary, len(summary)/2) + "\n... summary trimmed\n"
		prompt = render(summary)
	}
	return prompt
}
